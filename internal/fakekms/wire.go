package fakekms

import "github.com/kenneth/kms-token-provider/internal/registry"

// Every endpoint is POST with a JSON body. KMS resource names contain `/`,
// which rules out mux path parameters; carrying the name in the body keeps
// every route a plain literal path.

type listCryptoKeysRequest struct {
	KeyRing string `json:"keyRing"`
}

type listCryptoKeysResponse struct {
	CryptoKeys []string `json:"cryptoKeys"`
}

type listCryptoKeyVersionsRequest struct {
	CryptoKey string `json:"cryptoKey"`
}

type versionWire struct {
	Name      string            `json:"name"`
	Algorithm registry.Algorithm `json:"algorithm"`
	State     int               `json:"state"`
}

type listCryptoKeyVersionsResponse struct {
	Versions []versionWire `json:"versions"`
}

type getPublicKeyRequest struct {
	Name string `json:"name"`
}

type getPublicKeyResponse struct {
	PEM       string             `json:"pem"`
	Algorithm registry.Algorithm `json:"algorithm"`
	CRC32C    uint32             `json:"crc32c"`
}

type digestWire struct {
	Algorithm registry.Digest `json:"algorithm"`
	Bytes     []byte          `json:"bytes"` // base64 via encoding/json's []byte handling
}

type asymmetricSignRequest struct {
	Name         string      `json:"name"`
	Digest       *digestWire `json:"digest,omitempty"`
	Data         []byte      `json:"data,omitempty"`
	DigestCRC32C uint32      `json:"digestCrc32c"`
	DataCRC32C   uint32      `json:"dataCrc32c"`
}

type asymmetricSignResponse struct {
	Signature       []byte `json:"signature"`
	SignatureCRC32C uint32 `json:"signatureCrc32c"`
}

type asymmetricDecryptRequest struct {
	Name             string `json:"name"`
	Ciphertext       []byte `json:"ciphertext"`
	CiphertextCRC32C uint32 `json:"ciphertextCrc32c"`
}

type asymmetricDecryptResponse struct {
	Plaintext       []byte `json:"plaintext"`
	PlaintextCRC32C uint32 `json:"plaintextCrc32c"`
}

type errorResponse struct {
	Error string `json:"error"`
}
