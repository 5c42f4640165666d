package op

import (
	"context"
	"encoding/asn1"
	"hash"

	"github.com/kenneth/kms-token-provider/internal/kmsiface"
	"github.com/kenneth/kms-token-provider/internal/mech"
	"github.com/kenneth/kms-token-provider/internal/registry"
	"github.com/kenneth/kms-token-provider/internal/tokenerr"
)

// digestInfoOID maps a registry digest to the DigestInfo algorithm OID used
// when the raw PKCS#1 signer builds its padded envelope by hand.
var digestInfoOID = map[registry.Digest]asn1.ObjectIdentifier{
	registry.DigestSHA256: {2, 16, 840, 1, 101, 3, 4, 2, 1},
	registry.DigestSHA384: {2, 16, 840, 1, 101, 3, 4, 2, 2},
}

// Signer drives one Sign operation from Init through Final. Exactly one of
// the three concrete shapes spec.md 4.8 describes is in play at a time,
// selected by NewSigner.
type Signer interface {
	// Update feeds more input. Only the digesting shape accepts more than
	// one call; the others fail with OperationTypeInvalid on a second call.
	Update(data []byte) error
	// Final runs the two-call length convention: a nil out reports the
	// required length without consuming the operation.
	Final(ctx context.Context, client kmsiface.Client, out []byte) (int, error)
}

// NewSigner builds the correct Signer shape for a resolved mechanism: the
// digest-binding codes get a digesting signer, ECDSA/RSA-PSS pre-digested
// codes get a pre-digested signer that trusts KMS to apply the right
// padding remotely, and plain RSAPKCS1 gets the raw envelope signer that
// builds the PKCS#1 v1.5 block locally before shipping it unpadded.
func NewSigner(r *mech.Resolved) (Signer, error) {
	switch r.Mechanism {
	case registry.SHA256RSAPKCSPSS, registry.SHA256RSAPKCS1, registry.ECDSASHA256, registry.ECDSASHA384:
		return newDigestingSigner(r)
	case registry.RSAPKCSPSS, registry.ECDSA:
		return newPreDigestedSigner(r)
	case registry.RSAPKCS1:
		return newRawSigner(r)
	default:
		return nil, tokenerr.New(tokenerr.MechanismInvalid, "op.NewSigner", nil)
	}
}

// digestingSigner accumulates raw input into a local hash and ships the
// finished digest to KMS on Final.
type digestingSigner struct {
	r    *mech.Resolved
	h    hash.Hash
	done bool
}

func newDigestingSigner(r *mech.Resolved) (Signer, error) {
	h, err := newHash(r.Key.Algorithm.Digest)
	if err != nil {
		return nil, err
	}
	return &digestingSigner{r: r, h: h}, nil
}

func (s *digestingSigner) Update(data []byte) error {
	if s.done {
		return tokenerr.New(tokenerr.OperationNotInitialized, "op.digestingSigner.Update", nil)
	}
	s.h.Write(data)
	return nil
}

func (s *digestingSigner) Final(ctx context.Context, client kmsiface.Client, out []byte) (int, error) {
	if s.done {
		return 0, tokenerr.New(tokenerr.OperationNotInitialized, "op.digestingSigner.Final", nil)
	}
	required := s.r.Key.Algorithm.SignatureLength
	if out == nil {
		return required, nil
	}
	if len(out) < required {
		return 0, tokenerr.New(tokenerr.BufferTooSmall, "op.digestingSigner.Final", nil)
	}
	sum := s.h.Sum(nil)
	resp, err := client.AsymmetricSign(ctx, &kmsiface.SignRequest{
		Name:         s.r.Key.Name,
		Digest:       &kmsiface.Digest{Algorithm: s.r.Key.Algorithm.Digest, Bytes: sum},
		DigestCRC32C: kmsiface.CRC32C(sum),
	})
	if err != nil {
		return 0, tokenerr.New(tokenerr.DeviceError, "op.digestingSigner.Final", err)
	}
	if resp.SignatureCRC32C != 0 && kmsiface.CRC32C(resp.Signature) != resp.SignatureCRC32C {
		return 0, tokenerr.New(tokenerr.DeviceError, "op.digestingSigner.Final", nil)
	}
	n := copy(out, resp.Signature)
	s.done = true
	return n, nil
}

// preDigestedSigner ships a caller-supplied digest verbatim, single-shot.
type preDigestedSigner struct {
	r      *mech.Resolved
	digest []byte
	set    bool
	done   bool
}

func newPreDigestedSigner(r *mech.Resolved) (Signer, error) {
	return &preDigestedSigner{r: r}, nil
}

func (s *preDigestedSigner) Update(data []byte) error {
	if s.set {
		return tokenerr.New(tokenerr.OperationTypeInvalid, "op.preDigestedSigner.Update", nil)
	}
	want := s.r.Key.Algorithm.Digest.Size()
	if want != 0 && len(data) != want {
		return tokenerr.New(tokenerr.DataLenRange, "op.preDigestedSigner.Update", nil)
	}
	s.digest = data
	s.set = true
	return nil
}

func (s *preDigestedSigner) Final(ctx context.Context, client kmsiface.Client, out []byte) (int, error) {
	if s.done {
		return 0, tokenerr.New(tokenerr.OperationNotInitialized, "op.preDigestedSigner.Final", nil)
	}
	required := s.r.Key.Algorithm.SignatureLength
	if out == nil {
		return required, nil
	}
	if !s.set {
		return 0, tokenerr.New(tokenerr.DataInvalid, "op.preDigestedSigner.Final", nil)
	}
	if len(out) < required {
		return 0, tokenerr.New(tokenerr.BufferTooSmall, "op.preDigestedSigner.Final", nil)
	}
	resp, err := client.AsymmetricSign(ctx, &kmsiface.SignRequest{
		Name:         s.r.Key.Name,
		Digest:       &kmsiface.Digest{Algorithm: s.r.Key.Algorithm.Digest, Bytes: s.digest},
		DigestCRC32C: kmsiface.CRC32C(s.digest),
	})
	if err != nil {
		return 0, tokenerr.New(tokenerr.DeviceError, "op.preDigestedSigner.Final", err)
	}
	if resp.SignatureCRC32C != 0 && kmsiface.CRC32C(resp.Signature) != resp.SignatureCRC32C {
		return 0, tokenerr.New(tokenerr.DeviceError, "op.preDigestedSigner.Final", nil)
	}
	n := copy(out, resp.Signature)
	s.done = true
	return n, nil
}

// rawSigner builds a PKCS#1 v1.5 DigestInfo envelope locally, sized to the
// modulus, and ships it as raw unpadded data rather than letting KMS pad.
type rawSigner struct {
	r       *mech.Resolved
	payload []byte
	set     bool
	done    bool
}

func newRawSigner(r *mech.Resolved) (Signer, error) {
	return &rawSigner{r: r}, nil
}

func (s *rawSigner) Update(data []byte) error {
	if s.set {
		return tokenerr.New(tokenerr.OperationTypeInvalid, "op.rawSigner.Update", nil)
	}
	want := s.r.Key.Algorithm.Digest.Size()
	if want != 0 && len(data) != want {
		return tokenerr.New(tokenerr.DataLenRange, "op.rawSigner.Update", nil)
	}
	s.payload = data
	s.set = true
	return nil
}

func (s *rawSigner) Final(ctx context.Context, client kmsiface.Client, out []byte) (int, error) {
	if s.done {
		return 0, tokenerr.New(tokenerr.OperationNotInitialized, "op.rawSigner.Final", nil)
	}
	modLen := s.r.Key.Algorithm.SignatureLength
	if out == nil {
		return modLen, nil
	}
	if !s.set {
		return 0, tokenerr.New(tokenerr.DataInvalid, "op.rawSigner.Final", nil)
	}
	if len(out) < modLen {
		return 0, tokenerr.New(tokenerr.BufferTooSmall, "op.rawSigner.Final", nil)
	}
	block, err := buildPKCS1Envelope(modLen, s.r.Key.Algorithm.Digest, s.payload)
	if err != nil {
		return 0, err
	}
	resp, err := client.AsymmetricSign(ctx, &kmsiface.SignRequest{
		Name:       s.r.Key.Name,
		Data:       block,
		DataCRC32C: kmsiface.CRC32C(block),
	})
	if err != nil {
		return 0, tokenerr.New(tokenerr.DeviceError, "op.rawSigner.Final", err)
	}
	if resp.SignatureCRC32C != 0 && kmsiface.CRC32C(resp.Signature) != resp.SignatureCRC32C {
		return 0, tokenerr.New(tokenerr.DeviceError, "op.rawSigner.Final", nil)
	}
	n := copy(out, resp.Signature)
	s.done = true
	return n, nil
}

// buildPKCS1Envelope builds the EMSA-PKCS1-v1_5 encoded message
// (0x00 0x01 PS 0x00 DigestInfo) sized to exactly modLen bytes.
func buildPKCS1Envelope(modLen int, d registry.Digest, digest []byte) ([]byte, error) {
	oid, ok := digestInfoOID[d]
	if !ok {
		return nil, tokenerr.New(tokenerr.MechanismInvalid, "op.buildPKCS1Envelope", nil)
	}
	type digestInfo struct {
		Algorithm struct {
			Algorithm asn1.ObjectIdentifier
			Null      asn1.RawValue
		}
		Digest []byte
	}
	var info digestInfo
	info.Algorithm.Algorithm = oid
	info.Algorithm.Null = asn1.RawValue{Tag: asn1.TagNull}
	info.Digest = digest
	der, err := asn1.Marshal(info)
	if err != nil {
		return nil, tokenerr.Internal(tokenerr.GeneralError, "op.buildPKCS1Envelope", err)
	}
	// EM = 0x00 || 0x01 || PS || 0x00 || T, total length modLen
	if len(der)+11 > modLen {
		return nil, tokenerr.New(tokenerr.DataLenRange, "op.buildPKCS1Envelope", nil)
	}
	em := make([]byte, modLen)
	em[0] = 0x00
	em[1] = 0x01
	psLen := modLen - len(der) - 3
	for i := 0; i < psLen; i++ {
		em[2+i] = 0xFF
	}
	em[2+psLen] = 0x00
	copy(em[3+psLen:], der)
	return em, nil
}
