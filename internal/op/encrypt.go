package op

import (
	"crypto/rand"
	"crypto/rsa"

	"github.com/kenneth/kms-token-provider/internal/mech"
	"github.com/kenneth/kms-token-provider/internal/tokenerr"
)

// Encrypter performs RSA-OAEP encryption locally against the cached public
// key; KMS is never consulted for encrypt, which needs no secret material.
// It is single-shot: Final both supplies the plaintext and, on the first
// no-buffer call, reports the required ciphertext length.
type Encrypter struct {
	r    *mech.Resolved
	done bool
}

// NewEncrypter builds an Encrypter for a resolved RSA-OAEP mechanism.
func NewEncrypter(r *mech.Resolved) (*Encrypter, error) {
	if _, ok := r.Key.PublicKey.(*rsa.PublicKey); !ok {
		return nil, tokenerr.New(tokenerr.KeyTypeInconsistent, "op.NewEncrypter", nil)
	}
	return &Encrypter{r: r}, nil
}

// Final encrypts plaintext, honoring the two-call length convention.
func (e *Encrypter) Final(plaintext, out []byte) (int, error) {
	if e.done {
		return 0, tokenerr.New(tokenerr.OperationNotInitialized, "op.Encrypter.Final", nil)
	}
	pub := e.r.Key.PublicKey.(*rsa.PublicKey)
	required := pub.Size()
	if out == nil {
		return required, nil
	}
	if len(out) < required {
		return 0, tokenerr.New(tokenerr.BufferTooSmall, "op.Encrypter.Final", nil)
	}
	h, err := newHash(e.r.Key.Algorithm.Digest)
	if err != nil {
		return 0, err
	}
	ciphertext, err := rsa.EncryptOAEP(h, rand.Reader, pub, plaintext, nil)
	if err != nil {
		return 0, tokenerr.New(tokenerr.DataInvalid, "op.Encrypter.Final", err)
	}
	n := copy(out, ciphertext)
	e.done = true
	return n, nil
}
