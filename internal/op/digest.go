// Package op implements the operation pipelines (C8) and the find pipeline
// (C9): the concrete Sign/Verify/Encrypt/Decrypt/Digest state machines a
// session drives through Init/Update/Final, and attribute-template matching
// over a slot's object set.
package op

import (
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/kenneth/kms-token-provider/internal/registry"
	"github.com/kenneth/kms-token-provider/internal/tokenerr"
)

// Digest accumulates input into a local hash and produces the digest on
// Final, honoring the two-call length convention.
type Digest struct {
	h    hash.Hash
	done bool
}

// NewDigest builds a Digest accumulator for the given registry digest.
func NewDigest(d registry.Digest) (*Digest, error) {
	h, err := newHash(d)
	if err != nil {
		return nil, err
	}
	return &Digest{h: h}, nil
}

func newHash(d registry.Digest) (hash.Hash, error) {
	switch d {
	case registry.DigestSHA256:
		return sha256.New(), nil
	case registry.DigestSHA384:
		return sha512.New384(), nil
	default:
		return nil, tokenerr.New(tokenerr.MechanismInvalid, "op.newHash", nil)
	}
}

// Update feeds more input into the digest. It fails with
// OperationNotInitialized if called after Final.
func (d *Digest) Update(data []byte) error {
	if d.done {
		return tokenerr.New(tokenerr.OperationNotInitialized, "op.Digest.Update", nil)
	}
	d.h.Write(data)
	return nil
}

// Final implements the two-call length convention: a nil out reports the
// required length without consuming the operation; a too-small out returns
// BufferTooSmall, also without consuming; otherwise the digest is written
// and the operation is terminal.
func (d *Digest) Final(out []byte) (int, error) {
	if d.done {
		return 0, tokenerr.New(tokenerr.OperationNotInitialized, "op.Digest.Final", nil)
	}
	size := d.h.Size()
	if out == nil {
		return size, nil
	}
	if len(out) < size {
		return 0, tokenerr.New(tokenerr.BufferTooSmall, "op.Digest.Final", nil)
	}
	sum := d.h.Sum(nil)
	copy(out, sum)
	d.done = true
	return size, nil
}
