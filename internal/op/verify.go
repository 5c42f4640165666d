package op

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"hash"

	"github.com/kenneth/kms-token-provider/internal/mech"
	"github.com/kenneth/kms-token-provider/internal/registry"
	"github.com/kenneth/kms-token-provider/internal/tokenerr"
)

// Verifier checks a signature locally against the cached public key. It
// never calls KMS: verification of a signature already produced needs no
// remote round trip, and performing it locally keeps prior signatures
// verifiable even if the KMS key-version is later disabled.
type Verifier struct {
	r           *mech.Resolved
	digesting   bool
	h           hash.Hash
	preDigested []byte
	set         bool
	done        bool
}

// NewVerifier builds a Verifier for a resolved mechanism. digesting selects
// whether input is accumulated locally (the digest-binding mechanisms) or
// supplied pre-digested in one Update call.
func NewVerifier(r *mech.Resolved, digesting bool) (*Verifier, error) {
	v := &Verifier{r: r, digesting: digesting}
	if digesting {
		h, err := newHash(r.Key.Algorithm.Digest)
		if err != nil {
			return nil, err
		}
		v.h = h
	}
	return v, nil
}

// Update feeds more input. Non-digesting verifiers accept exactly one call.
func (v *Verifier) Update(data []byte) error {
	if v.done {
		return tokenerr.New(tokenerr.OperationNotInitialized, "op.Verifier.Update", nil)
	}
	if v.digesting {
		v.h.Write(data)
		return nil
	}
	if v.set {
		return tokenerr.New(tokenerr.OperationTypeInvalid, "op.Verifier.Update", nil)
	}
	v.preDigested = data
	v.set = true
	return nil
}

// Final checks signature against the accumulated input and the cached
// public key. It never produces output, so it has no two-call convention:
// either it succeeds or it fails with SignatureInvalid (mismatch),
// SignatureLenRange (malformed length), or DataInvalid.
func (v *Verifier) Final(signature []byte) error {
	if v.done {
		return tokenerr.New(tokenerr.OperationNotInitialized, "op.Verifier.Final", nil)
	}
	defer func() { v.done = true }()

	var digest []byte
	if v.digesting {
		digest = v.h.Sum(nil)
	} else {
		if !v.set {
			return tokenerr.New(tokenerr.DataInvalid, "op.Verifier.Final", nil)
		}
		digest = v.preDigested
	}

	switch pub := v.r.Key.PublicKey.(type) {
	case *rsa.PublicKey:
		return verifyRSA(pub, v.r, digest, signature)
	case *ecdsa.PublicKey:
		return verifyEC(pub, digest, signature)
	default:
		return tokenerr.New(tokenerr.Unimplemented, "op.Verifier.Final", nil)
	}
}

func verifyRSA(pub *rsa.PublicKey, r *mech.Resolved, digest, signature []byte) error {
	cryptoHash, err := cryptoHashFor(r.Key.Algorithm.Digest)
	if err != nil {
		return err
	}
	if len(signature) != pub.Size() {
		return tokenerr.New(tokenerr.SignatureLenRange, "op.verifyRSA", nil)
	}

	switch r.Mechanism {
	case registry.RSAPKCSPSS, registry.SHA256RSAPKCSPSS:
		opts := &rsa.PSSOptions{SaltLength: r.Key.Algorithm.Digest.Size(), Hash: cryptoHash}
		if err := rsa.VerifyPSS(pub, cryptoHash, digest, signature, opts); err != nil {
			return tokenerr.New(tokenerr.SignatureInvalid, "op.verifyRSA", err)
		}
		return nil
	default:
		if err := rsa.VerifyPKCS1v15(pub, cryptoHash, digest, signature); err != nil {
			return tokenerr.New(tokenerr.SignatureInvalid, "op.verifyRSA", err)
		}
		return nil
	}
}

func verifyEC(pub *ecdsa.PublicKey, digest, signature []byte) error {
	if !ecdsa.VerifyASN1(pub, digest, signature) {
		return tokenerr.New(tokenerr.SignatureInvalid, "op.verifyEC", nil)
	}
	return nil
}

func cryptoHashFor(d registry.Digest) (crypto.Hash, error) {
	switch d {
	case registry.DigestSHA256:
		return crypto.SHA256, nil
	case registry.DigestSHA384:
		return crypto.SHA384, nil
	default:
		return 0, tokenerr.New(tokenerr.MechanismInvalid, "op.cryptoHashFor", nil)
	}
}
