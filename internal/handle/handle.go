// Package handle implements the process-wide handle allocator (C5): a
// single monotonic 64-bit counter shared across the object and session
// handle spaces, and the two maps that resolve a handle back to whichever
// kind of thing it names. Handles are never reused within a process run.
package handle

import (
	"sync"
	"sync/atomic"

	"github.com/kenneth/kms-token-provider/internal/tokenerr"
)

// Handle is an opaque, nonzero 64-bit identifier. Zero is never allocated.
type Handle uint64

// Allocator assigns handles from a single counter shared by objects and
// sessions, and resolves them back to the value registered under them.
// Writers (Assign, Release) take a lock; reads (Object, Session) use a
// sharded-by-table RWMutex so concurrent lookups never block each other.
type Allocator struct {
	counter uint64

	objMu sync.RWMutex
	objs  map[Handle]any

	sessMu sync.RWMutex
	sess   map[Handle]any
}

// New returns an allocator ready to hand out handles starting at 1.
func New() *Allocator {
	return &Allocator{
		objs: make(map[Handle]any),
		sess: make(map[Handle]any),
	}
}

// next draws the next handle from the shared counter. It never returns zero.
func (a *Allocator) next() Handle {
	return Handle(atomic.AddUint64(&a.counter, 1))
}

// AssignObject allocates a fresh handle bound to obj and registers it in the
// object table.
func (a *Allocator) AssignObject(obj any) Handle {
	h := a.next()
	a.objMu.Lock()
	a.objs[h] = obj
	a.objMu.Unlock()
	return h
}

// AssignSession allocates a fresh handle bound to sess and registers it in
// the session table.
func (a *Allocator) AssignSession(sess any) Handle {
	h := a.next()
	a.sessMu.Lock()
	a.sess[h] = sess
	a.sessMu.Unlock()
	return h
}

// Object resolves an object handle. It fails with ObjectHandleInvalid if the
// handle is zero, unknown, or belongs to the session table.
func (a *Allocator) Object(h Handle) (any, error) {
	if h == 0 {
		return nil, tokenerr.New(tokenerr.ObjectHandleInvalid, "handle.Object", nil)
	}
	a.objMu.RLock()
	v, ok := a.objs[h]
	a.objMu.RUnlock()
	if !ok {
		return nil, tokenerr.New(tokenerr.ObjectHandleInvalid, "handle.Object", nil)
	}
	return v, nil
}

// Session resolves a session handle. It fails with SessionHandleInvalid if
// the handle is zero, unknown, or belongs to the object table.
func (a *Allocator) Session(h Handle) (any, error) {
	if h == 0 {
		return nil, tokenerr.New(tokenerr.SessionHandleInvalid, "handle.Session", nil)
	}
	a.sessMu.RLock()
	v, ok := a.sess[h]
	a.sessMu.RUnlock()
	if !ok {
		return nil, tokenerr.New(tokenerr.SessionHandleInvalid, "handle.Session", nil)
	}
	return v, nil
}

// ReleaseObject drops an object handle. Releasing an unknown handle is a
// no-op: callers release defensively during teardown.
func (a *Allocator) ReleaseObject(h Handle) {
	a.objMu.Lock()
	delete(a.objs, h)
	a.objMu.Unlock()
}

// ReleaseSession drops a session handle.
func (a *Allocator) ReleaseSession(h Handle) {
	a.sessMu.Lock()
	delete(a.sess, h)
	a.sessMu.Unlock()
}

// ReplaceObjects atomically swaps the entire object table, used when a slot
// refresh reassigns handles to a freshly materialised ObjectSet. Existing
// session handles are untouched.
func (a *Allocator) ReplaceObjects(objs map[Handle]any) {
	a.objMu.Lock()
	a.objs = objs
	a.objMu.Unlock()
}
