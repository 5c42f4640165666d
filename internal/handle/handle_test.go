package handle

import (
	"testing"

	"github.com/kenneth/kms-token-provider/internal/tokenerr"
	"github.com/stretchr/testify/require"
)

func TestAllocator_ZeroNeverAllocated(t *testing.T) {
	a := New()
	h := a.AssignObject("x")
	require.NotEqual(t, Handle(0), h)
}

func TestAllocator_HandlesNeverReused(t *testing.T) {
	a := New()
	seen := make(map[Handle]bool)
	for i := 0; i < 1000; i++ {
		h := a.AssignObject(i)
		require.False(t, seen[h])
		seen[h] = true
	}
}

func TestAllocator_ObjectAndSessionShareCounterSpace(t *testing.T) {
	a := New()
	h1 := a.AssignObject("obj")
	h2 := a.AssignSession("sess")
	require.NotEqual(t, h1, h2)
}

func TestAllocator_UnknownObjectHandle(t *testing.T) {
	a := New()
	_, err := a.Object(Handle(999))
	require.Equal(t, tokenerr.ObjectHandleInvalid, tokenerr.CodeOf(err))
}

func TestAllocator_UnknownSessionHandle(t *testing.T) {
	a := New()
	_, err := a.Session(Handle(999))
	require.Equal(t, tokenerr.SessionHandleInvalid, tokenerr.CodeOf(err))
}

func TestAllocator_ZeroHandleIsInvalid(t *testing.T) {
	a := New()
	_, err := a.Object(Handle(0))
	require.Equal(t, tokenerr.ObjectHandleInvalid, tokenerr.CodeOf(err))
	_, err = a.Session(Handle(0))
	require.Equal(t, tokenerr.SessionHandleInvalid, tokenerr.CodeOf(err))
}

func TestAllocator_ObjectHandleNotFoundInSessionTable(t *testing.T) {
	a := New()
	h := a.AssignObject("obj")
	_, err := a.Session(h)
	require.Equal(t, tokenerr.SessionHandleInvalid, tokenerr.CodeOf(err))
}

func TestAllocator_ReleaseObject(t *testing.T) {
	a := New()
	h := a.AssignObject("obj")
	a.ReleaseObject(h)
	_, err := a.Object(h)
	require.Error(t, err)
}

func TestAllocator_ReleaseUnknownHandleIsNoop(t *testing.T) {
	a := New()
	require.NotPanics(t, func() { a.ReleaseObject(Handle(42)) })
}

func TestAllocator_ReplaceObjects(t *testing.T) {
	a := New()
	old := a.AssignObject("old")
	a.ReplaceObjects(map[Handle]any{Handle(100): "new"})

	_, err := a.Object(old)
	require.Error(t, err)

	v, err := a.Object(Handle(100))
	require.NoError(t, err)
	require.Equal(t, "new", v)
}

func TestAllocator_ConcurrentAssignIsRaceFree(t *testing.T) {
	a := New()
	done := make(chan Handle, 200)
	for i := 0; i < 200; i++ {
		go func(i int) { done <- a.AssignObject(i) }(i)
	}
	seen := make(map[Handle]bool)
	for i := 0; i < 200; i++ {
		h := <-done
		require.False(t, seen[h])
		seen[h] = true
	}
}
