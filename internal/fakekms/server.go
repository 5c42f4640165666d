// Package fakekms implements an in-memory stand-in for the remote KMS
// (C11): real RSA/EC key generation and real AsymmetricSign/
// AsymmetricDecrypt crypto, wrapped by a minimal JSON-over-HTTP wire
// service (handlers.go) so integration tests exercise kmsiface.Client
// against a real transport instead of an in-process fake.
package fakekms

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sync"

	"github.com/kenneth/kms-token-provider/internal/kmsiface"
	"github.com/kenneth/kms-token-provider/internal/registry"
)

// versionRecord is one generated key-version, holding the real private key
// material Server signs and decrypts with.
type versionRecord struct {
	name      string
	algorithm registry.Algorithm
	state     kmsiface.VersionState
	rsaKey    *rsa.PrivateKey
	ecKey     *ecdsa.PrivateKey
	pubPEM    string
}

// keyRecord is one crypto key: a named container for its versions, mirroring
// KMS's CryptoKey/CryptoKeyVersion nesting.
type keyRecord struct {
	name     string
	versions []*versionRecord
}

// Server is the in-memory KMS. It is safe for concurrent use; every method
// takes the single mutex for its duration, which is fine at fake-KMS scale.
type Server struct {
	mu       sync.Mutex
	keyRings map[string][]string // key ring resource name -> crypto key resource names
	keys     map[string]*keyRecord
}

// NewServer returns an empty Server ready for CreateKey calls.
func NewServer() *Server {
	return &Server{
		keyRings: make(map[string][]string),
		keys:     make(map[string]*keyRecord),
	}
}

// CreateKey generates one enabled key-version of algo under keyRing/keyID,
// returning its full resource name. Real key material is generated
// immediately — the fake has no asynchronous PENDING_GENERATION state.
func (s *Server) CreateKey(keyRing, keyID string, algo registry.Algorithm) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cryptoKeyName := fmt.Sprintf("%s/cryptoKeys/%s", keyRing, keyID)
	versionName := cryptoKeyName + "/cryptoKeyVersions/1"

	rec, err := newVersion(versionName, algo)
	if err != nil {
		return "", err
	}

	s.keys[cryptoKeyName] = &keyRecord{name: cryptoKeyName, versions: []*versionRecord{rec}}
	s.keyRings[keyRing] = append(s.keyRings[keyRing], cryptoKeyName)
	return versionName, nil
}

// AddVersion generates one more enabled version under an existing crypto
// key, useful for tests exercising multi-version key rotation.
func (s *Server) AddVersion(cryptoKeyName string, algo registry.Algorithm) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[cryptoKeyName]
	if !ok {
		return "", fmt.Errorf("fakekms: unknown crypto key %q", cryptoKeyName)
	}
	versionName := fmt.Sprintf("%s/cryptoKeyVersions/%d", cryptoKeyName, len(key.versions)+1)
	rec, err := newVersion(versionName, algo)
	if err != nil {
		return "", err
	}
	key.versions = append(key.versions, rec)
	return versionName, nil
}

// Disable flips a version to DISABLED, exercising the refresh-time
// enabled-only filter.
func (s *Server) Disable(versionName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.findVersion(versionName)
	if err != nil {
		return err
	}
	rec.state = kmsiface.StateDisabled
	return nil
}

func newVersion(name string, algo registry.Algorithm) (*versionRecord, error) {
	rec := &versionRecord{name: name, algorithm: algo, state: kmsiface.StateEnabled}

	details, err := registry.Lookup(algo)
	if err != nil {
		return nil, err
	}

	var pub any
	switch details.KeyType {
	case registry.KeyTypeRSA:
		bits, err := rsaBits(algo)
		if err != nil {
			return nil, err
		}
		key, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return nil, fmt.Errorf("fakekms: generate RSA key: %w", err)
		}
		rec.rsaKey = key
		pub = &key.PublicKey
	case registry.KeyTypeEC:
		curve, err := ecCurve(algo)
		if err != nil {
			return nil, err
		}
		key, err := ecdsa.GenerateKey(curve, rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("fakekms: generate EC key: %w", err)
		}
		rec.ecKey = key
		pub = &key.PublicKey
	default:
		return nil, fmt.Errorf("fakekms: unsupported key type for algorithm %v", algo)
	}

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("fakekms: marshal public key: %w", err)
	}
	rec.pubPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	return rec, nil
}

func rsaBits(algo registry.Algorithm) (int, error) {
	switch algo {
	case registry.RSASignPKCS1_2048SHA256, registry.RSASignPSS2048SHA256, registry.RSADecryptOAEP2048SHA256:
		return 2048, nil
	case registry.RSASignPKCS1_3072SHA256, registry.RSASignPSS3072SHA256, registry.RSADecryptOAEP3072SHA256:
		return 3072, nil
	case registry.RSASignPKCS1_4096SHA256, registry.RSASignPSS4096SHA256, registry.RSADecryptOAEP4096SHA256:
		return 4096, nil
	default:
		return 0, fmt.Errorf("fakekms: algorithm %v is not RSA", algo)
	}
}

func ecCurve(algo registry.Algorithm) (elliptic.Curve, error) {
	switch algo {
	case registry.ECSignP256SHA256:
		return elliptic.P256(), nil
	case registry.ECSignP384SHA384:
		return elliptic.P384(), nil
	default:
		return nil, fmt.Errorf("fakekms: algorithm %v is not EC", algo)
	}
}

// ListCryptoKeys lists the crypto keys directly under a key ring, in
// insertion order.
func (s *Server) ListCryptoKeys(keyRing string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.keyRings[keyRing]...)
	return out, nil
}

// ListCryptoKeyVersions lists every version of a single crypto key, in
// creation order.
func (s *Server) ListCryptoKeyVersions(cryptoKeyName string) ([]kmsiface.CryptoKeyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[cryptoKeyName]
	if !ok {
		return nil, fmt.Errorf("fakekms: unknown crypto key %q", cryptoKeyName)
	}
	out := make([]kmsiface.CryptoKeyVersion, 0, len(key.versions))
	for _, v := range key.versions {
		out = append(out, kmsiface.CryptoKeyVersion{
			Name:      v.name,
			Algorithm: v.algorithm,
			State:     v.state,
		})
	}
	return out, nil
}

// GetPublicKey returns the PEM-encoded public key for a key-version.
func (s *Server) GetPublicKey(name string) (*kmsiface.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.findVersion(name)
	if err != nil {
		return nil, err
	}
	pem := []byte(rec.pubPEM)
	return &kmsiface.PublicKey{
		PEM:       rec.pubPEM,
		Algorithm: rec.algorithm,
		CRC32C:    kmsiface.CRC32C(pem),
	}, nil
}

// Sign performs a real AsymmetricSign against the named version's private
// key, rejecting disabled versions the way a real KMS would.
func (s *Server) Sign(name string, digestAlgo registry.Digest, digest, data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.findVersion(name)
	if err != nil {
		return nil, err
	}
	if rec.state != kmsiface.StateEnabled {
		return nil, fmt.Errorf("fakekms: version %q is not enabled", name)
	}
	return rec.sign(digestAlgo, digest, data)
}

// Decrypt performs a real AsymmetricDecrypt against the named version's
// private key.
func (s *Server) Decrypt(name string, ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.findVersion(name)
	if err != nil {
		return nil, err
	}
	if rec.state != kmsiface.StateEnabled {
		return nil, fmt.Errorf("fakekms: version %q is not enabled", name)
	}
	return rec.decrypt(ciphertext)
}

func (s *Server) findVersion(name string) (*versionRecord, error) {
	for _, key := range s.keys {
		for _, v := range key.versions {
			if v.name == name {
				return v, nil
			}
		}
	}
	return nil, fmt.Errorf("fakekms: unknown key version %q", name)
}
