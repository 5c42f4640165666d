package fakekms

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/kenneth/kms-token-provider/internal/registry"
)

// sign performs a real signing operation against the version's private key.
// Exactly one of digest or data is set, mirroring kmsiface.SignRequest: a
// digest-bound request signs with PSS (RSA-PSS algorithms, salt as long as
// the digest), PKCS1v15 (other RSA algorithms) or ASN.1 ECDSA, a raw data
// request is textbook RSA over an already-padded envelope (the
// RSASSA-PKCS1 raw-mode pipeline builds its own PKCS#1 v1.5 block and
// expects the signer to apply no further padding).
func (v *versionRecord) sign(digestAlgo registry.Digest, digest, data []byte) ([]byte, error) {
	if v.ecKey != nil {
		return ecdsa.SignASN1(rand.Reader, v.ecKey, digest)
	}
	if v.rsaKey == nil {
		return nil, fmt.Errorf("fakekms: version %q has no private key material", v.name)
	}
	if data != nil {
		return rawRSASign(v.rsaKey, data), nil
	}
	h, err := cryptoHash(digestAlgo)
	if err != nil {
		return nil, err
	}
	switch {
	case isPSS(v.algorithm):
		return rsa.SignPSS(rand.Reader, v.rsaKey, h, digest, &rsa.PSSOptions{SaltLength: digestAlgo.Size()})
	default:
		return rsa.SignPKCS1v15(rand.Reader, v.rsaKey, h, digest)
	}
}

// decrypt performs real RSA-OAEP decryption. Only RSA decrypt keys ever
// reach this path; EC key-versions never serve AsymmetricDecrypt.
func (v *versionRecord) decrypt(ciphertext []byte) ([]byte, error) {
	if v.rsaKey == nil {
		return nil, fmt.Errorf("fakekms: version %q has no RSA private key", v.name)
	}
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, v.rsaKey, ciphertext, nil)
}

func isPSS(a registry.Algorithm) bool {
	switch a {
	case registry.RSASignPSS2048SHA256, registry.RSASignPSS3072SHA256, registry.RSASignPSS4096SHA256:
		return true
	default:
		return false
	}
}

func cryptoHash(d registry.Digest) (crypto.Hash, error) {
	switch d {
	case registry.DigestSHA256:
		return crypto.SHA256, nil
	case registry.DigestSHA384:
		return crypto.SHA384, nil
	default:
		return 0, fmt.Errorf("fakekms: unsupported digest %v", d)
	}
}

// rawRSASign performs textbook RSA (c = m^d mod n) over an already-padded
// block, standing in for an HSM willing to sign a caller-built PKCS#1
// envelope verbatim rather than padding it itself.
func rawRSASign(key *rsa.PrivateKey, block []byte) []byte {
	m := new(big.Int).SetBytes(block)
	c := new(big.Int).Exp(m, key.D, key.N)
	sig := c.Bytes()
	out := make([]byte, key.Size())
	copy(out[len(out)-len(sig):], sig)
	return out
}
