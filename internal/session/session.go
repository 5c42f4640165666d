// Package session implements the per-slot session manager (C6): opening and
// closing sessions under the read-only/read-write exclusivity matrix, login
// state as a no-op flag toggle, and the one-active-operation-per-category
// rule every operation pipeline enforces through this package.
package session

import (
	"sync"

	"github.com/kenneth/kms-token-provider/internal/handle"
	"github.com/kenneth/kms-token-provider/internal/tokenerr"
)

// Flags mirrors the token API's session-open flags.
type Flags uint32

const (
	// FlagSerial is always set by a conforming caller; kept for fidelity,
	// never checked.
	FlagSerial Flags = 1 << 0
	// FlagReadWrite marks the session read-write; its absence marks it
	// read-only.
	FlagReadWrite Flags = 1 << 1
)

// Category names an operation slot a session can hold at most one of.
type Category int

const (
	CategoryFind Category = iota
	CategorySign
	CategoryVerify
	CategoryEncrypt
	CategoryDecrypt
	CategoryDigest

	categoryCount
)

// Session is the mutable per-session state. Callers obtain it from
// Manager.Get and hold its lock (Lock/Unlock) for the duration of one
// token API call.
type Session struct {
	mu        sync.Mutex
	handle    handle.Handle
	readWrite bool
	loggedIn  bool
	ops       [categoryCount]any
}

// Handle returns the session's own handle.
func (s *Session) Handle() handle.Handle { return s.handle }

// ReadWrite reports whether the session was opened read-write.
func (s *Session) ReadWrite() bool { return s.readWrite }

// LoggedIn reports the no-op login flag's current state.
func (s *Session) LoggedIn() bool { return s.loggedIn }

// Op returns the current operation object for a category, or nil if none
// is active.
func (s *Session) Op(c Category) any { return s.ops[c] }

// BeginOp installs op as the active operation for category c. It fails with
// OperationActive if a different operation is already active in that
// category.
func (s *Session) BeginOp(c Category, op any) error {
	if s.ops[c] != nil {
		return tokenerr.New(tokenerr.OperationActive, "session.BeginOp", nil)
	}
	s.ops[c] = op
	return nil
}

// EndOp clears the active operation for category c, regardless of whether
// one was active.
func (s *Session) EndOp(c Category) { s.ops[c] = nil }

// RequireOp returns the active operation for category c, or
// OperationNotInitialized if none is active.
func (s *Session) RequireOp(c Category) (any, error) {
	op := s.ops[c]
	if op == nil {
		return nil, tokenerr.New(tokenerr.OperationNotInitialized, "session.RequireOp", nil)
	}
	return op, nil
}

// Lock acquires the session's mutual-exclusion lock for the duration of one
// token API call. Two host threads calling into the same session serialise;
// different sessions proceed independently.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session's lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// Manager owns every open session for one slot and enforces the
// read-only/read-write exclusivity matrix across them.
type Manager struct {
	mu       sync.Mutex
	handles  *handle.Allocator
	sessions map[handle.Handle]*Session

	readOnlyCount  int
	readWriteCount int
}

// NewManager builds a session manager that allocates handles from handles.
func NewManager(handles *handle.Allocator) *Manager {
	return &Manager{handles: handles, sessions: make(map[handle.Handle]*Session)}
}

// Open opens a new session under flags. A read-only open fails with
// SessionReadWriteSOExists while any read-write session is open on the
// slot; this provider has no distinct SO role, so the converse
// (SessionReadOnlyExists blocking a read-write open) is not enforced, matching
// the token API's actual exclusivity rule: only an SO-mode session is
// blocked by a concurrent read-only session, and this provider never opens
// SO-mode sessions.
func (m *Manager) Open(flags Flags) (handle.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	readWrite := flags&FlagReadWrite != 0
	if !readWrite && m.readWriteCount > 0 {
		return 0, tokenerr.New(tokenerr.SessionReadWriteSOExists, "session.Open", nil)
	}

	s := &Session{readWrite: readWrite}
	h := m.handles.AssignSession(s)
	s.handle = h
	m.sessions[h] = s
	if readWrite {
		m.readWriteCount++
	} else {
		m.readOnlyCount++
	}
	return h, nil
}

// Close cancels any pending operation on the session (dropping it without
// invoking KMS) and releases its handle.
func (m *Manager) Close(h handle.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[h]
	if !ok {
		return tokenerr.New(tokenerr.SessionHandleInvalid, "session.Close", nil)
	}
	m.closeLocked(h, s)
	return nil
}

// CloseAll closes every open session on the slot atomically: either all
// close or, since the underlying releases cannot themselves fail, none do
// and the inconsistency would indicate a programmer bug rather than a
// recoverable runtime condition.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for h, s := range m.sessions {
		m.closeLocked(h, s)
	}
}

func (m *Manager) closeLocked(h handle.Handle, s *Session) {
	s.Lock()
	for c := Category(0); c < categoryCount; c++ {
		s.ops[c] = nil
	}
	s.Unlock()

	m.handles.ReleaseSession(h)
	delete(m.sessions, h)
	if s.readWrite {
		m.readWriteCount--
	} else {
		m.readOnlyCount--
	}
}

// Get resolves a session handle to its Session, failing with
// SessionHandleInvalid if unknown.
func (m *Manager) Get(h handle.Handle) (*Session, error) {
	v, err := m.handles.Session(h)
	if err != nil {
		return nil, err
	}
	s, ok := v.(*Session)
	if !ok {
		return nil, tokenerr.New(tokenerr.SessionHandleInvalid, "session.Get", nil)
	}
	return s, nil
}

// Login sets the no-op login flag on every open session of the slot. PIN
// verification is accepted unconditionally, per the provider's contract: it
// never stores any secrets locally, so there is nothing a PIN could gate.
func (m *Manager) Login() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		s.Lock()
		s.loggedIn = true
		s.Unlock()
	}
}

// Logout clears the no-op login flag on every open session of the slot.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		s.Lock()
		s.loggedIn = false
		s.Unlock()
	}
}

// Count reports the number of currently open sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
