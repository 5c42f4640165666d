// Package kmsiface defines the narrow interface the core depends on to talk
// to a remote key-management service. It is deliberately small: the core
// never needs anything beyond listing key-versions, fetching public keys,
// and performing asymmetric sign/decrypt. The RPC transport itself, its
// deadline/retry behaviour, and the TLS handshake are the implementation's
// concern, not the core's.
package kmsiface

import (
	"context"
	"hash/crc32"

	"github.com/kenneth/kms-token-provider/internal/registry"
)

// VersionState mirrors the KMS CryptoKeyVersion lifecycle state relevant to
// object materialisation: only Enabled versions are exposed as token objects.
type VersionState int

const (
	StateUnspecified VersionState = iota
	StateEnabled
	StateDisabled
	StateDestroyed
	StatePendingGeneration
)

// CryptoKeyVersion describes one remote key-version as returned by List.
type CryptoKeyVersion struct {
	// Name is the full ten-segment resource path:
	// projects/*/locations/*/keyRings/*/cryptoKeys/{keyId}/cryptoKeyVersions/*
	Name       string
	Algorithm  registry.Algorithm
	State      VersionState
	ImportJob  string // empty unless the version was imported rather than generated
}

// PublicKey is the response to GetPublicKey.
type PublicKey struct {
	PEM       string
	Algorithm registry.Algorithm
	CRC32C    uint32
}

// Digest carries a pre-computed digest for AsymmetricSign.
type Digest struct {
	Algorithm registry.Digest
	Bytes     []byte
}

// SignRequest is the input to AsymmetricSign. Exactly one of Digest or Data
// is set: Digest for the normal digest-binding sign path, Data for the raw
// unpadded sign used by the RSASSA-PKCS1 raw mode pipeline.
type SignRequest struct {
	Name         string
	Digest       *Digest
	Data         []byte
	DigestCRC32C uint32
	DataCRC32C   uint32
}

// SignResponse is the output of AsymmetricSign.
type SignResponse struct {
	Signature       []byte
	SignatureCRC32C uint32
}

// DecryptRequest is the input to AsymmetricDecrypt.
type DecryptRequest struct {
	Name             string
	Ciphertext       []byte
	CiphertextCRC32C uint32
}

// DecryptResponse is the output of AsymmetricDecrypt.
type DecryptResponse struct {
	Plaintext       []byte
	PlaintextCRC32C uint32
}

// Client is the interface the core consumes. Implementations provide unary
// request/response semantics honoring ctx's deadline; the core forwards
// caller-supplied deadlines but never imposes or retries its own.
type Client interface {
	// ListCryptoKeys lists the crypto keys directly under a key ring.
	ListCryptoKeys(ctx context.Context, keyRing string) ([]string, error)

	// ListCryptoKeyVersions lists all versions of a single crypto key.
	ListCryptoKeyVersions(ctx context.Context, cryptoKey string) ([]CryptoKeyVersion, error)

	// GetPublicKey fetches the PEM-encoded public key for a key-version.
	GetPublicKey(ctx context.Context, name string) (*PublicKey, error)

	// AsymmetricSign performs a remote signing operation.
	AsymmetricSign(ctx context.Context, req *SignRequest) (*SignResponse, error)

	// AsymmetricDecrypt performs a remote decrypt operation.
	AsymmetricDecrypt(ctx context.Context, req *DecryptRequest) (*DecryptResponse, error)
}

// CRC32C computes the Castagnoli CRC32 checksum KMS uses for request and
// response integrity fields.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli))
}
