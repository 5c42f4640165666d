package op

import (
	"context"

	"github.com/kenneth/kms-token-provider/internal/kmsiface"
	"github.com/kenneth/kms-token-provider/internal/mech"
	"github.com/kenneth/kms-token-provider/internal/tokenerr"
)

// Decrypter ships ciphertext to KMS AsymmetricDecrypt. RSA-OAEP is the only
// supported decrypt algorithm; it is single-shot, matching KMS's own
// unary decrypt RPC — a multi-part decrypt has no remote equivalent.
//
// The plaintext length is not knowable before the remote call completes, so
// the first call (whether or not the caller passed an output buffer)
// performs the decrypt and caches the result; the length-query call, or a
// buffer-too-small response to an undersized real buffer, keeps the
// cached plaintext around for the caller's next Final call rather than
// re-issuing the RPC.
type Decrypter struct {
	r      *mech.Resolved
	cached []byte
	fetched bool
	done   bool
}

// NewDecrypter builds a Decrypter for a resolved RSA-OAEP mechanism.
func NewDecrypter(r *mech.Resolved) (*Decrypter, error) {
	return &Decrypter{r: r}, nil
}

// Final ships ciphertext to KMS (once) and copies the plaintext into out,
// honoring the two-call length convention.
func (d *Decrypter) Final(ctx context.Context, client kmsiface.Client, ciphertext, out []byte) (int, error) {
	if d.done {
		return 0, tokenerr.New(tokenerr.OperationNotInitialized, "op.Decrypter.Final", nil)
	}
	if !d.fetched {
		resp, err := client.AsymmetricDecrypt(ctx, &kmsiface.DecryptRequest{
			Name:             d.r.Key.Name,
			Ciphertext:       ciphertext,
			CiphertextCRC32C: kmsiface.CRC32C(ciphertext),
		})
		if err != nil {
			return 0, tokenerr.New(tokenerr.DeviceError, "op.Decrypter.Final", err)
		}
		if resp.PlaintextCRC32C != 0 && kmsiface.CRC32C(resp.Plaintext) != resp.PlaintextCRC32C {
			return 0, tokenerr.New(tokenerr.DeviceError, "op.Decrypter.Final", nil)
		}
		d.cached = resp.Plaintext
		d.fetched = true
	}
	if out == nil {
		return len(d.cached), nil
	}
	if len(out) < len(d.cached) {
		return 0, tokenerr.New(tokenerr.BufferTooSmall, "op.Decrypter.Final", nil)
	}
	n := copy(out, d.cached)
	d.done = true
	return n, nil
}
