package attrs

import "testing"

// FuzzBignumRoundTrip fuzzes the canonical big-endian encoding used for
// CKA_MODULUS-shaped attributes: the map must always report a non-empty,
// leading-zero-free value regardless of the input's own padding.
func FuzzBignumRoundTrip(f *testing.F) {
	f.Add([]byte{0x00, 0x01})
	f.Add([]byte{0x00, 0x00, 0x00})
	f.Add([]byte{})
	f.Add([]byte{0xFF})

	f.Fuzz(func(t *testing.T, data []byte) {
		m := New()
		m.PutBignum(Modulus, data)
		if len(data) == 0 {
			return
		}
		v, err := m.Get(Modulus)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := v.Bytes()
		if len(got) == 0 {
			t.Fatalf("bignum encoding produced empty value for input %x", data)
		}
		if len(got) > 1 && got[0] == 0x00 {
			t.Fatalf("bignum encoding kept a leading zero byte: %x", got)
		}
	})
}
