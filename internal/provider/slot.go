// Package provider implements the token/slot model (C4) and the full token
// API surface (§6): the Provider singleton owning Slots, each Slot owning a
// refreshed, immutable ObjectSet, wired to the session manager, mechanism
// dispatch, and operation pipelines built in internal/session, internal/mech,
// and internal/op.
package provider

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/kms-token-provider/internal/handle"
	"github.com/kenneth/kms-token-provider/internal/kmsiface"
	"github.com/kenneth/kms-token-provider/internal/metrics"
	"github.com/kenneth/kms-token-provider/internal/object"
	"github.com/kenneth/kms-token-provider/internal/session"
	"github.com/kenneth/kms-token-provider/internal/tokenerr"
)

// snapshot bundles an ObjectSet with the object→handle correspondence that
// produced it, so the Find pipeline can report the same handle for the same
// object every call within one refresh generation.
type snapshot struct {
	set     *object.Set
	handles map[*object.Object]handle.Handle
}

// Slot binds to one KMS key ring. Its ObjectSet is swapped by Refresh using
// read-copy-update: readers load the current snapshot once per operation
// entry and never observe a partially built refresh.
type Slot struct {
	Label         string
	KeyRing       string
	RefreshOnOpen bool

	client  kmsiface.Client
	handles *handle.Allocator
	Sessions *session.Manager

	current atomic.Pointer[snapshot]

	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewSlot builds a Slot with an empty ObjectSet; the caller must Refresh
// before the slot reports any objects.
func NewSlot(label, keyRing string, refreshOnOpen bool, client kmsiface.Client, handles *handle.Allocator, m *metrics.Metrics, logger *logrus.Logger) *Slot {
	s := &Slot{
		Label:         label,
		KeyRing:       keyRing,
		RefreshOnOpen: refreshOnOpen,
		client:        client,
		handles:       handles,
		Sessions:      session.NewManager(handles),
		metrics:       m,
		logger:        logger,
	}
	s.current.Store(&snapshot{set: object.Empty})
	return s
}

// Objects returns the slot's current ObjectSet snapshot.
func (s *Slot) Objects() *object.Set {
	return s.current.Load().set
}

// HandleFor returns the handle assigned to obj in the current snapshot, or
// false if obj does not belong to it (e.g. it was dropped by a refresh that
// raced with the caller).
func (s *Slot) HandleFor(obj *object.Object) (handle.Handle, bool) {
	h, ok := s.current.Load().handles[obj]
	return h, ok
}

// Object resolves an object handle to the Object it names, failing with
// ObjectHandleInvalid if h does not name a live object anywhere in the
// process (not just this slot — handles are process-wide unique, so a stale
// or foreign handle is rejected identically either way).
func (s *Slot) Object(h handle.Handle) (*object.Object, error) {
	v, err := s.handles.Object(h)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(*object.Object)
	if !ok {
		return nil, tokenerr.New(tokenerr.ObjectHandleInvalid, "provider.Slot.Object", nil)
	}
	return obj, nil
}

// Refresh enumerates the slot's key ring, materialises the current
// enabled key-versions into Objects, and atomically publishes a new
// snapshot. A fetch or materialisation failure leaves the previous snapshot
// in place and returns a DeviceError, per spec.
func (s *Slot) Refresh(ctx context.Context) error {
	keys, err := s.client.ListCryptoKeys(ctx, s.KeyRing)
	if err != nil {
		return tokenerr.New(tokenerr.DeviceError, "provider.Slot.Refresh", fmt.Errorf("list crypto keys: %w", err))
	}

	var objs []*object.Object
	for _, key := range keys {
		versions, err := s.client.ListCryptoKeyVersions(ctx, key)
		if err != nil {
			return tokenerr.New(tokenerr.DeviceError, "provider.Slot.Refresh", fmt.Errorf("list versions of %s: %w", key, err))
		}
		for _, v := range versions {
			if v.State != kmsiface.StateEnabled {
				continue
			}
			pub, priv, err := s.materialize(ctx, v)
			if err != nil {
				return err
			}
			objs = append(objs, pub, priv)
		}
	}

	newHandles := make(map[*object.Object]handle.Handle, len(objs))
	for _, o := range objs {
		newHandles[o] = s.handles.AssignObject(o)
	}

	set := object.NewSet(objs)
	old := s.current.Swap(&snapshot{set: set, handles: newHandles})
	// Only this slot's previous handles are released; other slots sharing
	// the allocator keep theirs.
	for _, h := range old.handles {
		s.handles.ReleaseObject(h)
	}

	if s.metrics != nil {
		s.metrics.SetObjectsTotal(s.Label, set.Len())
		s.metrics.SetSessionsTotal(s.Label, s.Sessions.Count())
	}
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"slot": s.Label, "objects": set.Len()}).Info("slot refreshed")
	}
	return nil
}

func (s *Slot) materialize(ctx context.Context, v kmsiface.CryptoKeyVersion) (*object.Object, *object.Object, error) {
	pk, err := s.client.GetPublicKey(ctx, v.Name)
	if err != nil {
		return nil, nil, tokenerr.New(tokenerr.DeviceError, "provider.Slot.Refresh", fmt.Errorf("get public key %s: %w", v.Name, err))
	}
	if pk.CRC32C != 0 && kmsiface.CRC32C([]byte(pk.PEM)) != pk.CRC32C {
		return nil, nil, tokenerr.New(tokenerr.DeviceError, "provider.Slot.Refresh", fmt.Errorf("public key %s failed CRC32C integrity check", v.Name))
	}
	return object.Materialize(v, pk.PEM)
}
