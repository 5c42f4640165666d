// Package attrs implements the token API's attribute map: an ordered
// association from a 32-bit attribute code to a typed value, with
// sensitive-marker semantics for values the caller is not permitted to read.
package attrs

import (
	"fmt"

	"github.com/kenneth/kms-token-provider/internal/tokenerr"
)

// Code is a token API attribute code (CKA_*-shaped).
type Code uint32

const (
	Class Code = iota + 1
	Token
	Private
	Label
	Modifiable
	Copyable
	Destroyable
	KeyType
	ID
	StartDate
	EndDate
	Derive
	Local
	KeyGenMechanism
	AllowedMechanisms
	Subject
	Encrypt
	Decrypt
	Verify
	VerifyRecover
	Sign
	SignRecover
	Wrap
	Unwrap
	Trusted
	WrapTemplate
	UnwrapTemplate
	WrapWithTrusted
	PublicKeyInfo
	Sensitive
	Extractable
	AlwaysSensitive
	NeverExtractable
	AlwaysAuthenticate

	ECParams
	ECPoint

	Modulus
	ModulusBits
	PublicExponent
	PrivateExponent
	Prime1
	Prime2
	Coefficient

	RawValue
)

// ObjectClass is the value stored under the Class attribute.
type ObjectClass uint64

const (
	ClassPublicKey  ObjectClass = 2
	ClassPrivateKey ObjectClass = 3
	ClassSecretKey  ObjectClass = 4
	ClassCertificate ObjectClass = 1
)

type kind int

const (
	kindBytes kind = iota
	kindBool
	kindUlong
	kindUlongList
	kindBignum
	kindSensitive
)

// Value is a single typed attribute value.
type Value struct {
	kind  kind
	bytes []byte
	ulong uint64
	list  []uint64
}

func (v Value) Bytes() []byte      { return v.bytes }
func (v Value) Bool() bool         { return v.bytes != nil && v.bytes[0] != 0 }
func (v Value) Ulong() uint64      { return v.ulong }
func (v Value) UlongList() []uint64 { return v.list }
func (v Value) IsSensitive() bool  { return v.kind == kindSensitive }

// Map is the token API attribute map for a single object. The zero value
// is an empty map ready to use.
type Map struct {
	values map[Code]Value
}

// New returns an empty attribute map.
func New() *Map {
	return &Map{values: make(map[Code]Value)}
}

func (m *Map) ensure() {
	if m.values == nil {
		m.values = make(map[Code]Value)
	}
}

// PutBytes stores an arbitrary byte-string attribute.
func (m *Map) PutBytes(c Code, b []byte) {
	m.ensure()
	cp := make([]byte, len(b))
	copy(cp, b)
	m.values[c] = Value{kind: kindBytes, bytes: cp}
}

// PutBool stores a one-byte boolean attribute (0x00 or 0x01).
func (m *Map) PutBool(c Code, b bool) {
	m.ensure()
	v := byte(0x00)
	if b {
		v = 0x01
	}
	m.values[c] = Value{kind: kindBool, bytes: []byte{v}}
}

// PutUlong stores a native-width unsigned-long attribute.
func (m *Map) PutUlong(c Code, u uint64) {
	m.ensure()
	m.values[c] = Value{kind: kindUlong, ulong: u}
}

// PutUlongList stores a list of unsigned longs (e.g. CKA_ALLOWED_MECHANISMS).
func (m *Map) PutUlongList(c Code, list []uint64) {
	m.ensure()
	cp := make([]uint64, len(list))
	copy(cp, list)
	m.values[c] = Value{kind: kindUlongList, list: cp}
}

// PutBignum stores a canonical big-endian unsigned integer: the minimum
// number of bytes needed to represent the value, with no leading zero byte.
func (m *Map) PutBignum(c Code, b []byte) {
	m.ensure()
	trimmed := trimLeadingZeros(b)
	cp := make([]byte, len(trimmed))
	copy(cp, trimmed)
	m.values[c] = Value{kind: kindBignum, bytes: cp}
}

// PutSensitive marks an attribute as present but unreadable.
func (m *Map) PutSensitive(c Code) {
	m.ensure()
	m.values[c] = Value{kind: kindSensitive}
}

func trimLeadingZeros(b []byte) []byte {
	i := 0
	for i < len(b)-1 && b[i] == 0 {
		i++
	}
	return b[i:]
}

// Get reads an attribute. It fails with AttributeTypeInvalid if the
// attribute is absent, or AttributeSensitive if the attribute is marked
// sensitive; in the latter case the returned Value is the zero Value and
// no length information is available to the caller.
func (m *Map) Get(c Code) (Value, error) {
	if m.values == nil {
		return Value{}, tokenerr.New(tokenerr.AttributeTypeInvalid, "GetAttributeValue", fmt.Errorf("attribute %#x absent", uint32(c)))
	}
	v, ok := m.values[c]
	if !ok {
		return Value{}, tokenerr.New(tokenerr.AttributeTypeInvalid, "GetAttributeValue", fmt.Errorf("attribute %#x absent", uint32(c)))
	}
	if v.kind == kindSensitive {
		return Value{}, tokenerr.New(tokenerr.AttributeSensitive, "GetAttributeValue", nil)
	}
	return v, nil
}

// Has reports whether the attribute is present, sensitive or not.
func (m *Map) Has(c Code) bool {
	if m.values == nil {
		return false
	}
	_, ok := m.values[c]
	return ok
}

// Matches reports whether this map's value for c byte-exactly equals want.
// A sensitive attribute never matches (it is not readable), regardless of
// want's content.
func (m *Map) Matches(c Code, want Value) bool {
	v, err := m.Get(c)
	if err != nil {
		return false
	}
	if v.kind != want.kind {
		return false
	}
	switch v.kind {
	case kindBytes, kindBool, kindBignum:
		return bytesEqual(v.bytes, want.bytes)
	case kindUlong:
		return v.ulong == want.ulong
	case kindUlongList:
		return ulongListEqual(v.list, want.list)
	default:
		return false
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func ulongListEqual(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// BytesValue, BoolValue, UlongValue, UlongListValue construct Values for use
// as find-template entries (they carry the same kind tags Put* produce, so
// Matches compares like with like).
func BytesValue(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: kindBytes, bytes: cp}
}

func BoolValue(b bool) Value {
	v := byte(0x00)
	if b {
		v = 0x01
	}
	return Value{kind: kindBool, bytes: []byte{v}}
}

func UlongValue(u uint64) Value {
	return Value{kind: kindUlong, ulong: u}
}

func UlongListValue(list []uint64) Value {
	cp := make([]uint64, len(list))
	copy(cp, list)
	return Value{kind: kindUlongList, list: cp}
}

func BignumValue(b []byte) Value {
	trimmed := trimLeadingZeros(b)
	cp := make([]byte, len(trimmed))
	copy(cp, trimmed)
	return Value{kind: kindBignum, bytes: cp}
}
