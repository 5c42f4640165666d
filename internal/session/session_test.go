package session

import (
	"testing"

	"github.com/kenneth/kms-token-provider/internal/handle"
	"github.com/kenneth/kms-token-provider/internal/tokenerr"
	"github.com/stretchr/testify/require"
)

func TestManager_OpenAndGet(t *testing.T) {
	m := NewManager(handle.New())
	h, err := m.Open(FlagSerial)
	require.NoError(t, err)

	s, err := m.Get(h)
	require.NoError(t, err)
	require.False(t, s.ReadWrite())
}

func TestManager_OpenReadWrite(t *testing.T) {
	m := NewManager(handle.New())
	h, err := m.Open(FlagSerial | FlagReadWrite)
	require.NoError(t, err)

	s, err := m.Get(h)
	require.NoError(t, err)
	require.True(t, s.ReadWrite())
}

func TestManager_ReadOnlyBlockedByReadWrite(t *testing.T) {
	m := NewManager(handle.New())
	_, err := m.Open(FlagSerial | FlagReadWrite)
	require.NoError(t, err)

	_, err = m.Open(FlagSerial)
	require.Equal(t, tokenerr.SessionReadWriteSOExists, tokenerr.CodeOf(err))
}

func TestManager_CloseReleasesHandle(t *testing.T) {
	m := NewManager(handle.New())
	h, _ := m.Open(FlagSerial)
	require.NoError(t, m.Close(h))

	_, err := m.Get(h)
	require.Equal(t, tokenerr.SessionHandleInvalid, tokenerr.CodeOf(err))
}

func TestManager_CloseUnknownHandle(t *testing.T) {
	m := NewManager(handle.New())
	err := m.Close(handle.Handle(999))
	require.Equal(t, tokenerr.SessionHandleInvalid, tokenerr.CodeOf(err))
}

func TestManager_CloseAll(t *testing.T) {
	m := NewManager(handle.New())
	h1, _ := m.Open(FlagSerial)
	h2, _ := m.Open(FlagSerial)
	m.CloseAll()

	_, err1 := m.Get(h1)
	_, err2 := m.Get(h2)
	require.Error(t, err1)
	require.Error(t, err2)
	require.Equal(t, 0, m.Count())
}

func TestManager_CloseCancelsPendingOperation(t *testing.T) {
	m := NewManager(handle.New())
	h, _ := m.Open(FlagSerial)
	s, _ := m.Get(h)

	require.NoError(t, s.BeginOp(CategorySign, "sign-op"))
	require.NoError(t, m.Close(h))

	require.Nil(t, s.Op(CategorySign))
}

func TestManager_ReadWriteFreedAfterReadOnlyClosesFirst(t *testing.T) {
	m := NewManager(handle.New())
	roHandle, _ := m.Open(FlagSerial)
	require.NoError(t, m.Close(roHandle))

	_, err := m.Open(FlagSerial | FlagReadWrite)
	require.NoError(t, err)
}

func TestSession_BeginOp_RejectsSecondActiveOpInSameCategory(t *testing.T) {
	s := &Session{}
	require.NoError(t, s.BeginOp(CategorySign, "first"))

	err := s.BeginOp(CategorySign, "second")
	require.Equal(t, tokenerr.OperationActive, tokenerr.CodeOf(err))
}

func TestSession_BeginOp_DifferentCategoriesIndependent(t *testing.T) {
	s := &Session{}
	require.NoError(t, s.BeginOp(CategorySign, "sign"))
	require.NoError(t, s.BeginOp(CategoryVerify, "verify"))
}

func TestSession_RequireOp_NotInitialized(t *testing.T) {
	s := &Session{}
	_, err := s.RequireOp(CategoryDigest)
	require.Equal(t, tokenerr.OperationNotInitialized, tokenerr.CodeOf(err))
}

func TestSession_EndOp_AllowsRestart(t *testing.T) {
	s := &Session{}
	require.NoError(t, s.BeginOp(CategoryDigest, "d1"))
	s.EndOp(CategoryDigest)
	require.NoError(t, s.BeginOp(CategoryDigest, "d2"))
}

func TestManager_LoginLogout(t *testing.T) {
	m := NewManager(handle.New())
	h, _ := m.Open(FlagSerial)
	s, _ := m.Get(h)

	require.False(t, s.LoggedIn())
	m.Login()
	require.True(t, s.LoggedIn())
	m.Logout()
	require.False(t, s.LoggedIn())
}
