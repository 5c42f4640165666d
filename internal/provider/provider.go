package provider

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/kms-token-provider/internal/attrs"
	"github.com/kenneth/kms-token-provider/internal/audit"
	"github.com/kenneth/kms-token-provider/internal/config"
	"github.com/kenneth/kms-token-provider/internal/debug"
	"github.com/kenneth/kms-token-provider/internal/handle"
	"github.com/kenneth/kms-token-provider/internal/kmsiface"
	"github.com/kenneth/kms-token-provider/internal/mech"
	"github.com/kenneth/kms-token-provider/internal/metrics"
	"github.com/kenneth/kms-token-provider/internal/object"
	"github.com/kenneth/kms-token-provider/internal/op"
	"github.com/kenneth/kms-token-provider/internal/registry"
	"github.com/kenneth/kms-token-provider/internal/session"
	"github.com/kenneth/kms-token-provider/internal/tokenerr"
)

// Provider is the process-wide singleton: it owns every Slot, the single
// handle allocator shared by all of them (handles are process-wide unique,
// per spec.md 4.5), and enforces the Initialize/Finalize lifecycle. Provider
// itself is immutable after New; the only mutable state is the
// initialized flag and the session→slot index, both guarded by mu.
type Provider struct {
	mu          sync.Mutex
	initialized bool

	slots       []*Slot
	sessionSlot map[handle.Handle]int

	handles *handle.Allocator
	metrics *metrics.Metrics
	logger  *logrus.Logger
	audit   audit.Logger
}

// New builds a Provider from a parsed configuration document and a shared
// KMS client. The client is wrapped once with metrics instrumentation and
// handed to every slot.
func New(cfg *config.ProviderConfig, client kmsiface.Client, m *metrics.Metrics, logger *logrus.Logger) *Provider {
	if logger == nil {
		logger = logrus.New()
	}
	instrumented := newInstrumentedClient(client, m)
	handles := handle.New()

	auditLogger, err := audit.NewLoggerFromConfig(cfg.Audit)
	if err != nil {
		logger.WithError(err).Warn("audit logger configuration invalid, auditing disabled")
		auditLogger = audit.NewLogger(0, nil)
	}

	p := &Provider{
		sessionSlot: make(map[handle.Handle]int),
		handles:     handles,
		metrics:     m,
		logger:      logger,
		audit:       auditLogger,
	}
	for _, sc := range cfg.Slots {
		p.slots = append(p.slots, NewSlot(sc.Label, sc.KeyRing, sc.RefreshOnOpen, instrumented, handles, m, logger))
	}
	return p
}

// Initialize refreshes every slot's ObjectSet and marks the provider ready.
// Calling Initialize twice without an intervening Finalize is a programmer
// error the standard calls out explicitly; this core rejects it rather than
// silently re-refreshing.
func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return tokenerr.New(tokenerr.GeneralError, "provider.Initialize", fmt.Errorf("already initialized"))
	}
	for _, s := range p.slots {
		if err := s.Refresh(ctx); err != nil {
			return err
		}
	}
	p.initialized = true
	if p.logger != nil {
		p.logger.WithField("slots", len(p.slots)).Info("provider initialized")
	}
	return nil
}

// Finalize closes every open session on every slot and marks the provider
// not initialized.
func (p *Provider) Finalize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return tokenerr.New(tokenerr.GeneralError, "provider.Finalize", fmt.Errorf("not initialized"))
	}
	for _, s := range p.slots {
		s.Sessions.CloseAll()
	}
	p.sessionSlot = make(map[handle.Handle]int)
	p.initialized = false
	if p.logger != nil {
		p.logger.Info("provider finalized")
	}
	return nil
}

// GetInfo returns static provider identification.
func (p *Provider) GetInfo() Info {
	return Info{
		Manufacturer: "kms-token-provider",
		Description:  "remote KMS-backed cryptographic token provider",
		Version:      "1.0",
	}
}

// GetSlotList returns every configured slot's ID. tokenPresent is accepted
// for signature fidelity with the standard but never filters anything: every
// configured slot always has its token present, since a slot with no KMS
// key ring to bind is a configuration error caught by config.Load, not a
// runtime slot state.
func (p *Provider) GetSlotList(tokenPresent bool) []int {
	ids := make([]int, len(p.slots))
	for i := range p.slots {
		ids[i] = i
	}
	return ids
}

// GetSlotInfo describes one slot.
func (p *Provider) GetSlotInfo(slotID int) (SlotInfo, error) {
	s, err := p.slot(slotID)
	if err != nil {
		return SlotInfo{}, err
	}
	return SlotInfo{SlotID: slotID, Label: s.Label, TokenPresent: true}, nil
}

// GetTokenInfo describes the token occupying a slot.
func (p *Provider) GetTokenInfo(slotID int) (TokenInfo, error) {
	s, err := p.slot(slotID)
	if err != nil {
		return TokenInfo{}, err
	}
	return TokenInfo{
		Label:        s.Label,
		Manufacturer: "kms-token-provider",
		Model:        "remote-kms",
		SerialNumber: s.KeyRing,
		ObjectCount:  s.Objects().Len(),
		SessionCount: s.Sessions.Count(),
	}, nil
}

// GetMechanismList returns every mechanism the registry supports, regardless
// of slot: the registry is global, read-only state, so this is idempotent
// by construction (the invariant spec.md 8 requires).
func (p *Provider) GetMechanismList(slotID int) ([]registry.Mechanism, error) {
	if _, err := p.slot(slotID); err != nil {
		return nil, err
	}
	return registry.AllMechanisms(), nil
}

// GetMechanismInfo describes one mechanism.
func (p *Provider) GetMechanismInfo(slotID int, m registry.Mechanism) (MechanismInfo, error) {
	if _, err := p.slot(slotID); err != nil {
		return MechanismInfo{}, err
	}
	return MechanismInfo{Mechanism: m, Name: registry.MechanismName(m)}, nil
}

// Refresh re-enumerates slotID's key ring on demand (e.g. operator-driven,
// or OpenSession when the slot's RefreshOnOpen is set).
func (p *Provider) Refresh(ctx context.Context, slotID int) error {
	s, err := p.slot(slotID)
	if err != nil {
		return err
	}
	err = s.Refresh(ctx)
	p.audit.LogSession(audit.EventTypeRefresh, s.Label, 0, err == nil, err)
	return err
}

// HealthCheck reports whether the KMS backing the first slot is reachable,
// by issuing a cheap ListCryptoKeys call. Used by the admin HTTP surface's
// readiness endpoint; the core itself never calls this.
func (p *Provider) HealthCheck(ctx context.Context) error {
	p.mu.Lock()
	slots := p.slots
	p.mu.Unlock()
	if len(slots) == 0 {
		return tokenerr.New(tokenerr.GeneralError, "provider.HealthCheck", fmt.Errorf("no slots configured"))
	}
	if _, err := slots[0].client.ListCryptoKeys(ctx, slots[0].KeyRing); err != nil {
		return tokenerr.New(tokenerr.DeviceError, "provider.HealthCheck", err)
	}
	return nil
}

func (p *Provider) slot(slotID int) (*Slot, error) {
	if slotID < 0 || slotID >= len(p.slots) {
		return nil, tokenerr.New(tokenerr.GeneralError, "provider.slot", fmt.Errorf("slot %d out of range", slotID))
	}
	return p.slots[slotID], nil
}

// OpenSession opens a new session on slotID.
func (p *Provider) OpenSession(ctx context.Context, slotID int, flags session.Flags) (handle.Handle, error) {
	s, err := p.slot(slotID)
	if err != nil {
		return 0, err
	}
	if s.RefreshOnOpen {
		if err := s.Refresh(ctx); err != nil {
			return 0, err
		}
	}
	h, err := s.Sessions.Open(flags)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	p.sessionSlot[h] = slotID
	p.mu.Unlock()
	debug.Trace(p.logger, "session", "session opened", logrus.Fields{"slot": slotID, "session": h, "flags": flags})
	p.audit.LogSession(audit.EventTypeSessionOpen, s.Label, uint64(h), true, nil)
	return h, nil
}

// CloseSession closes a single session.
func (p *Provider) CloseSession(h handle.Handle) error {
	s, _, err := p.resolveSession(h)
	if err != nil {
		return err
	}
	if err := s.Sessions.Close(h); err != nil {
		return err
	}
	debug.Trace(p.logger, "session", "session closed", logrus.Fields{"session": h})
	p.audit.LogSession(audit.EventTypeSessionClose, s.Label, uint64(h), true, nil)
	p.mu.Lock()
	delete(p.sessionSlot, h)
	p.mu.Unlock()
	return nil
}

// CloseAllSessions closes every session on slotID.
func (p *Provider) CloseAllSessions(slotID int) error {
	s, err := p.slot(slotID)
	if err != nil {
		return err
	}
	s.Sessions.CloseAll()
	p.mu.Lock()
	for h, sid := range p.sessionSlot {
		if sid == slotID {
			delete(p.sessionSlot, h)
		}
	}
	p.mu.Unlock()
	return nil
}

// GetSessionInfo describes an open session.
func (p *Provider) GetSessionInfo(h handle.Handle) (SessionInfo, error) {
	_, sess, err := p.resolveSession(h)
	if err != nil {
		return SessionInfo{}, err
	}
	p.mu.Lock()
	slotID := p.sessionSlot[h]
	p.mu.Unlock()
	return SessionInfo{SlotID: slotID, ReadWrite: sess.ReadWrite(), LoggedIn: sess.LoggedIn()}, nil
}

// Login sets the no-op login flag on every session of slotID.
func (p *Provider) Login(slotID int) error {
	s, err := p.slot(slotID)
	if err != nil {
		return err
	}
	s.Sessions.Login()
	p.audit.LogSession(audit.EventTypeLogin, s.Label, 0, true, nil)
	return nil
}

// Logout clears the no-op login flag on every session of slotID.
func (p *Provider) Logout(slotID int) error {
	s, err := p.slot(slotID)
	if err != nil {
		return err
	}
	s.Sessions.Logout()
	p.audit.LogSession(audit.EventTypeLogout, s.Label, 0, true, nil)
	return nil
}

func (p *Provider) resolveSession(h handle.Handle) (*Slot, *session.Session, error) {
	p.mu.Lock()
	slotID, ok := p.sessionSlot[h]
	p.mu.Unlock()
	if !ok {
		return nil, nil, tokenerr.New(tokenerr.SessionHandleInvalid, "provider.resolveSession", nil)
	}
	s := p.slots[slotID]
	sess, err := s.Sessions.Get(h)
	if err != nil {
		return nil, nil, err
	}
	return s, sess, nil
}

// GetAttributeValue reads one attribute off an object.
func (p *Provider) GetAttributeValue(objectHandle handle.Handle, code attrs.Code) (attrs.Value, error) {
	v, err := p.handles.Object(objectHandle)
	if err != nil {
		return attrs.Value{}, err
	}
	obj, ok := v.(*object.Object)
	if !ok {
		return attrs.Value{}, tokenerr.New(tokenerr.ObjectHandleInvalid, "provider.GetAttributeValue", nil)
	}
	return obj.Attributes.Get(code)
}

func (p *Provider) objectFor(h handle.Handle) (*object.Object, error) {
	v, err := p.handles.Object(h)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(*object.Object)
	if !ok {
		return nil, tokenerr.New(tokenerr.ObjectHandleInvalid, "provider.objectFor", nil)
	}
	return obj, nil
}

// shouldEndOp reports whether a Final-shaped call just consumed the
// operation, per the two-call length convention: a length-query call (nil
// out, no error) and a buffer-too-small call never consume; every other
// outcome — success with real output, or any other error — does.
func shouldEndOp(out []byte, err error) bool {
	if err != nil {
		return tokenerr.CodeOf(err) != tokenerr.BufferTooSmall
	}
	return out != nil
}

// --- Find -------------------------------------------------------------

// FindObjectsInit begins a find operation over the slot of session h,
// selecting every object matching template.
func (p *Provider) FindObjectsInit(h handle.Handle, template map[attrs.Code]attrs.Value) error {
	s, sess, err := p.resolveSession(h)
	if err != nil {
		return err
	}
	sess.Lock()
	defer sess.Unlock()

	f := op.NewFind(s.Objects(), template, func(obj *object.Object) handle.Handle {
		hh, _ := s.HandleFor(obj)
		return hh
	})
	return sess.BeginOp(session.CategoryFind, f)
}

// FindObjects returns up to max further matching handles.
func (p *Provider) FindObjects(h handle.Handle, max int) ([]handle.Handle, error) {
	_, sess, err := p.resolveSession(h)
	if err != nil {
		return nil, err
	}
	sess.Lock()
	defer sess.Unlock()

	v, err := sess.RequireOp(session.CategoryFind)
	if err != nil {
		return nil, err
	}
	return v.(*op.Find).Next(max), nil
}

// FindObjectsFinal ends the find operation.
func (p *Provider) FindObjectsFinal(h handle.Handle) error {
	_, sess, err := p.resolveSession(h)
	if err != nil {
		return err
	}
	sess.Lock()
	defer sess.Unlock()

	v, err := sess.RequireOp(session.CategoryFind)
	if err != nil {
		return err
	}
	v.(*op.Find).Final()
	sess.EndOp(session.CategoryFind)
	return nil
}

// --- Sign ---------------------------------------------------------------

// SignInit resolves keyHandle and the mechanism, and begins a sign
// operation.
func (p *Provider) SignInit(h, keyHandle handle.Handle, m registry.Mechanism, params mech.Params) error {
	_, sess, err := p.resolveSession(h)
	if err != nil {
		return err
	}
	key, err := p.objectFor(keyHandle)
	if err != nil {
		return err
	}
	resolved, err := mech.Dispatch(mech.PurposeSign, key, m, params)
	if err != nil {
		return err
	}
	debug.Trace(p.logger, "mech", "sign mechanism dispatched", logrus.Fields{"session": h, "key": keyHandle, "mechanism": registry.MechanismName(m)})
	signer, err := op.NewSigner(resolved)
	if err != nil {
		return err
	}

	sess.Lock()
	defer sess.Unlock()
	return sess.BeginOp(session.CategorySign, signer)
}

// SignUpdate feeds more input to the active sign operation.
func (p *Provider) SignUpdate(h handle.Handle, data []byte) error {
	_, sess, err := p.resolveSession(h)
	if err != nil {
		return err
	}
	sess.Lock()
	defer sess.Unlock()

	v, err := sess.RequireOp(session.CategorySign)
	if err != nil {
		return err
	}
	return v.(op.Signer).Update(data)
}

// SignFinal completes the active sign operation, honoring the two-call
// length convention.
func (p *Provider) SignFinal(ctx context.Context, h handle.Handle, out []byte) (int, error) {
	slot, sess, err := p.resolveSession(h)
	if err != nil {
		return 0, err
	}
	sess.Lock()
	defer sess.Unlock()

	v, err := sess.RequireOp(session.CategorySign)
	if err != nil {
		return 0, err
	}
	signer := v.(op.Signer)

	start := time.Now()
	n, err := signer.Final(ctx, p.client(h), out)
	elapsed := time.Since(start)
	if p.metrics != nil {
		p.metrics.RecordOperation("Sign", "", err, elapsed)
	}
	if shouldEndOp(out, err) {
		sess.EndOp(session.CategorySign)
		p.audit.LogOperation(audit.EventTypeSign, slot.Label, uint64(h), 0, "", err == nil, err, elapsed)
	}
	return n, err
}

// Sign performs a single-part sign, honoring the same two-call length
// convention as SignFinal: a nil out only predicts the signature length and
// does not feed data, since the length depends on the key and mechanism,
// never on the digest state. An out shorter than that length fails with
// BufferTooSmall before any data is fed, leaving the operation active for a
// retry. The real call, with out sized to that length, feeds data and
// consumes the operation. Calling Sign twice in that order digests data
// exactly once; calling it a second time with out set after the first call
// already consumed the op fails with OperationNotInitialized, same as the
// raw Init/Update/Final sequence would.
func (p *Provider) Sign(ctx context.Context, h handle.Handle, data, out []byte) (int, error) {
	if out != nil {
		required, err := p.SignFinal(ctx, h, nil)
		if err != nil {
			return 0, err
		}
		if len(out) < required {
			return 0, tokenerr.New(tokenerr.BufferTooSmall, "provider.Sign", nil)
		}
		if err := p.SignUpdate(h, data); err != nil {
			return 0, err
		}
	}
	return p.SignFinal(ctx, h, out)
}

// client returns the KMS client a session's slot uses. Every slot shares
// the same instrumented client instance, so any slot's reference would do;
// this looks the session's slot up for clarity and forward-compatibility
// with a future per-slot client.
func (p *Provider) client(h handle.Handle) kmsiface.Client {
	s, _, err := p.resolveSession(h)
	if err != nil {
		return nil
	}
	return s.client
}

// --- Verify ---------------------------------------------------------------

// VerifyInit resolves keyHandle and the mechanism, and begins a verify
// operation. digesting selects whether Verify accumulates raw input into a
// local digest (true) or expects a single pre-digested Update (false),
// mirroring the Sign-side shape for the same mechanism.
func (p *Provider) VerifyInit(h, keyHandle handle.Handle, m registry.Mechanism, params mech.Params, digesting bool) error {
	_, sess, err := p.resolveSession(h)
	if err != nil {
		return err
	}
	key, err := p.objectFor(keyHandle)
	if err != nil {
		return err
	}
	resolved, err := mech.Dispatch(mech.PurposeVerify, key, m, params)
	if err != nil {
		return err
	}
	debug.Trace(p.logger, "mech", "verify mechanism dispatched", logrus.Fields{"session": h, "key": keyHandle, "mechanism": registry.MechanismName(m)})
	verifier, err := op.NewVerifier(resolved, digesting)
	if err != nil {
		return err
	}

	sess.Lock()
	defer sess.Unlock()
	return sess.BeginOp(session.CategoryVerify, verifier)
}

// VerifyUpdate feeds more input to the active verify operation.
func (p *Provider) VerifyUpdate(h handle.Handle, data []byte) error {
	_, sess, err := p.resolveSession(h)
	if err != nil {
		return err
	}
	sess.Lock()
	defer sess.Unlock()

	v, err := sess.RequireOp(session.CategoryVerify)
	if err != nil {
		return err
	}
	return v.(*op.Verifier).Update(data)
}

// VerifyFinal checks signature against the accumulated input. Verify has no
// two-call convention — it always terminates the operation.
func (p *Provider) VerifyFinal(h handle.Handle, signature []byte) error {
	slot, sess, err := p.resolveSession(h)
	if err != nil {
		return err
	}
	sess.Lock()
	defer sess.Unlock()

	v, err := sess.RequireOp(session.CategoryVerify)
	if err != nil {
		return err
	}
	start := time.Now()
	err = v.(*op.Verifier).Final(signature)
	elapsed := time.Since(start)
	if p.metrics != nil {
		p.metrics.RecordOperation("Verify", "", err, elapsed)
	}
	sess.EndOp(session.CategoryVerify)
	p.audit.LogOperation(audit.EventTypeVerify, slot.Label, uint64(h), 0, "", err == nil, err, elapsed)
	return err
}

// Verify performs a single-part verify: one Update followed by Final.
func (p *Provider) Verify(h handle.Handle, data, signature []byte) error {
	if err := p.VerifyUpdate(h, data); err != nil {
		return err
	}
	return p.VerifyFinal(h, signature)
}

// --- Encrypt / Decrypt ------------------------------------------------

// EncryptInit resolves keyHandle (a public key) and the mechanism, and
// begins an encrypt operation.
func (p *Provider) EncryptInit(h, keyHandle handle.Handle, m registry.Mechanism, params mech.Params) error {
	_, sess, err := p.resolveSession(h)
	if err != nil {
		return err
	}
	key, err := p.objectFor(keyHandle)
	if err != nil {
		return err
	}
	resolved, err := mech.Dispatch(mech.PurposeEncrypt, key, m, params)
	if err != nil {
		return err
	}
	debug.Trace(p.logger, "mech", "encrypt mechanism dispatched", logrus.Fields{"session": h, "key": keyHandle, "mechanism": registry.MechanismName(m)})
	enc, err := op.NewEncrypter(resolved)
	if err != nil {
		return err
	}

	sess.Lock()
	defer sess.Unlock()
	return sess.BeginOp(session.CategoryEncrypt, enc)
}

// Encrypt runs the active encrypt operation, honoring the two-call length
// convention.
func (p *Provider) Encrypt(h handle.Handle, plaintext, out []byte) (int, error) {
	slot, sess, err := p.resolveSession(h)
	if err != nil {
		return 0, err
	}
	sess.Lock()
	defer sess.Unlock()

	v, err := sess.RequireOp(session.CategoryEncrypt)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := v.(*op.Encrypter).Final(plaintext, out)
	elapsed := time.Since(start)
	if p.metrics != nil {
		p.metrics.RecordOperation("Encrypt", "", err, elapsed)
	}
	if shouldEndOp(out, err) {
		sess.EndOp(session.CategoryEncrypt)
		p.audit.LogOperation(audit.EventTypeEncrypt, slot.Label, uint64(h), 0, "", err == nil, err, elapsed)
	}
	return n, err
}

// DecryptInit resolves keyHandle (a private key) and the mechanism, and
// begins a decrypt operation.
func (p *Provider) DecryptInit(h, keyHandle handle.Handle, m registry.Mechanism, params mech.Params) error {
	_, sess, err := p.resolveSession(h)
	if err != nil {
		return err
	}
	key, err := p.objectFor(keyHandle)
	if err != nil {
		return err
	}
	resolved, err := mech.Dispatch(mech.PurposeDecrypt, key, m, params)
	if err != nil {
		return err
	}
	debug.Trace(p.logger, "mech", "decrypt mechanism dispatched", logrus.Fields{"session": h, "key": keyHandle, "mechanism": registry.MechanismName(m)})
	dec, err := op.NewDecrypter(resolved)
	if err != nil {
		return err
	}

	sess.Lock()
	defer sess.Unlock()
	return sess.BeginOp(session.CategoryDecrypt, dec)
}

// Decrypt runs the active decrypt operation, honoring the two-call length
// convention. It ships ciphertext to KMS exactly once regardless of how many
// times it is called for the length query and the real copy.
func (p *Provider) Decrypt(ctx context.Context, h handle.Handle, ciphertext, out []byte) (int, error) {
	slot, sess, err := p.resolveSession(h)
	if err != nil {
		return 0, err
	}
	sess.Lock()
	defer sess.Unlock()

	v, err := sess.RequireOp(session.CategoryDecrypt)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := v.(*op.Decrypter).Final(ctx, p.client(h), ciphertext, out)
	elapsed := time.Since(start)
	if p.metrics != nil {
		p.metrics.RecordOperation("Decrypt", "", err, elapsed)
	}
	if shouldEndOp(out, err) {
		sess.EndOp(session.CategoryDecrypt)
		p.audit.LogOperation(audit.EventTypeDecrypt, slot.Label, uint64(h), 0, "", err == nil, err, elapsed)
	}
	return n, err
}

// --- Digest ---------------------------------------------------------------

// DigestInit begins a digest operation using digest algorithm d.
func (p *Provider) DigestInit(h handle.Handle, d registry.Digest) error {
	_, sess, err := p.resolveSession(h)
	if err != nil {
		return err
	}
	dg, err := op.NewDigest(d)
	if err != nil {
		return err
	}

	sess.Lock()
	defer sess.Unlock()
	return sess.BeginOp(session.CategoryDigest, dg)
}

// DigestUpdate feeds more input to the active digest operation.
func (p *Provider) DigestUpdate(h handle.Handle, data []byte) error {
	_, sess, err := p.resolveSession(h)
	if err != nil {
		return err
	}
	sess.Lock()
	defer sess.Unlock()

	v, err := sess.RequireOp(session.CategoryDigest)
	if err != nil {
		return err
	}
	return v.(*op.Digest).Update(data)
}

// DigestFinal completes the active digest operation, honoring the two-call
// length convention.
func (p *Provider) DigestFinal(h handle.Handle, out []byte) (int, error) {
	slot, sess, err := p.resolveSession(h)
	if err != nil {
		return 0, err
	}
	sess.Lock()
	defer sess.Unlock()

	v, err := sess.RequireOp(session.CategoryDigest)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := v.(*op.Digest).Final(out)
	if shouldEndOp(out, err) {
		sess.EndOp(session.CategoryDigest)
		p.audit.LogOperation(audit.EventTypeDigest, slot.Label, uint64(h), 0, "", err == nil, err, time.Since(start))
	}
	return n, err
}

// Digest runs a single-part digest: one Update followed by Final.
func (p *Provider) Digest(h handle.Handle, data, out []byte) (int, error) {
	if err := p.DigestUpdate(h, data); err != nil {
		return 0, err
	}
	return p.DigestFinal(h, out)
}

// --- Random -------------------------------------------------------------

// GenerateRandom fills out with cryptographically secure random bytes. The
// session handle only identifies which slot's session table is live; the
// randomness itself never touches KMS or any slot-specific state.
func (p *Provider) GenerateRandom(h handle.Handle, out []byte) error {
	if _, _, err := p.resolveSession(h); err != nil {
		return err
	}
	if _, err := rand.Read(out); err != nil {
		return tokenerr.Internal(tokenerr.FunctionFailed, "provider.GenerateRandom", err)
	}
	return nil
}

// SeedRandom accepts caller-supplied seed material. The core's random source
// is crypto/rand, which cannot be reseeded; this is accepted as a no-op for
// token API conformance, matching Login's unconditional-accept PIN handling.
func (p *Provider) SeedRandom(h handle.Handle, seed []byte) error {
	_, _, err := p.resolveSession(h)
	return err
}
