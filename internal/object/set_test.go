package object

import (
	"testing"

	"github.com/kenneth/kms-token-provider/internal/attrs"
	"github.com/stretchr/testify/require"
)

func newTestObject(class attrs.ObjectClass, label string) *Object {
	a := attrs.New()
	a.PutUlong(attrs.Class, uint64(class))
	a.PutBytes(attrs.Label, []byte(label))
	return &Object{Class: class, Attributes: a}
}

func TestSet_Find_EmptyTemplateMatchesAll(t *testing.T) {
	s := NewSet([]*Object{
		newTestObject(attrs.ClassPublicKey, "a"),
		newTestObject(attrs.ClassPrivateKey, "a"),
	})
	require.Len(t, s.Find(nil), 2)
}

func TestSet_Find_FiltersByClassAndLabel(t *testing.T) {
	s := NewSet([]*Object{
		newTestObject(attrs.ClassPublicKey, "a"),
		newTestObject(attrs.ClassPrivateKey, "a"),
		newTestObject(attrs.ClassPublicKey, "b"),
	})
	got := s.Find(map[attrs.Code]attrs.Value{
		attrs.Class: attrs.UlongValue(uint64(attrs.ClassPublicKey)),
		attrs.Label: attrs.BytesValue([]byte("a")),
	})
	require.Len(t, got, 1)
}

func TestSet_NilSetIsEmpty(t *testing.T) {
	var s *Set
	require.Equal(t, 0, s.Len())
	require.Nil(t, s.All())
	require.Nil(t, s.Find(nil))
}

func TestSet_EmptySentinel(t *testing.T) {
	require.Equal(t, 0, Empty.Len())
}

func TestSet_NewSet_DefensiveCopy(t *testing.T) {
	orig := []*Object{newTestObject(attrs.ClassPublicKey, "a")}
	s := NewSet(orig)
	orig[0] = newTestObject(attrs.ClassPrivateKey, "b")
	require.Equal(t, attrs.ClassPublicKey, s.All()[0].Class)
}
