// Package registry is the static, exhaustive table mapping a KMS algorithm
// to everything the rest of the core needs to know about it: key type,
// purpose, allowed token-API mechanisms, bound digest, and signature length.
// It is read-only global state initialized at package load, the single
// source of truth mechanism dispatch and object materialisation both consult.
package registry

import "github.com/kenneth/kms-token-provider/internal/tokenerr"

// Algorithm is a KMS CryptoKeyVersion algorithm enum value.
type Algorithm int

const (
	UnspecifiedAlgorithm Algorithm = iota
	RSASignPKCS1_2048SHA256
	RSASignPKCS1_3072SHA256
	RSASignPKCS1_4096SHA256
	RSASignPSS2048SHA256
	RSASignPSS3072SHA256
	RSASignPSS4096SHA256
	RSADecryptOAEP2048SHA256
	RSADecryptOAEP3072SHA256
	RSADecryptOAEP4096SHA256
	ECSignP256SHA256
	ECSignP384SHA384
)

// KeyType is the CKK_*-shaped key type stored on objects.
type KeyType uint64

const (
	KeyTypeRSA KeyType = 0
	KeyTypeEC  KeyType = 3
)

// Purpose classifies what an algorithm is used for. Only AsymmetricSign and
// AsymmetricDecrypt are populated by the current registry; SymmetricEncrypt
// and MAC exist so the data model matches algorithms KMS may expose later.
type Purpose int

const (
	PurposeUnspecified Purpose = iota
	PurposeAsymmetricSign
	PurposeAsymmetricDecrypt
	PurposeSymmetricEncrypt
	PurposeMAC
)

// Digest identifies the hash algorithm an algorithm binds to.
type Digest int

const (
	DigestNone Digest = iota
	DigestSHA256
	DigestSHA384
)

func (d Digest) Size() int {
	switch d {
	case DigestSHA256:
		return 32
	case DigestSHA384:
		return 48
	default:
		return 0
	}
}

// Mechanism is a token-API mechanism code (CKM_*-shaped).
type Mechanism uint32

const (
	MechanismUnspecified Mechanism = iota
	RSAPKCS1             // pre-digested RSASSA-PKCS1 v1.5, local envelope (raw mode)
	SHA256RSAPKCS1        // digesting RSASSA-PKCS1 v1.5 bound to SHA-256
	RSAPKCSPSS            // pre-digested RSASSA-PSS
	SHA256RSAPKCSPSS       // digesting RSASSA-PSS bound to SHA-256
	RSAPKCSOAEP           // RSA-OAEP encrypt/decrypt
	ECDSA                 // pre-digested ECDSA
	ECDSASHA256            // digesting ECDSA bound to SHA-256
	ECDSASHA384            // digesting ECDSA bound to SHA-384
	RSAPKCSKeyPairGen      // key generation mechanism, RSA
	ECKeyPairGen           // key generation mechanism, EC
)

// Details is the immutable record the registry returns for a supported
// algorithm.
type Details struct {
	Algorithm         Algorithm
	KeyType           KeyType
	Purpose           Purpose
	KeyGenMechanism   Mechanism
	AllowedMechanisms []Mechanism
	Digest            Digest
	SignatureLength   int // bytes; for variable-length DER signatures, the maximum
}

var table = map[Algorithm]Details{
	RSASignPKCS1_2048SHA256: {
		Algorithm: RSASignPKCS1_2048SHA256, KeyType: KeyTypeRSA, Purpose: PurposeAsymmetricSign,
		KeyGenMechanism: RSAPKCSKeyPairGen, AllowedMechanisms: []Mechanism{RSAPKCS1, SHA256RSAPKCS1},
		Digest: DigestSHA256, SignatureLength: 256,
	},
	RSASignPKCS1_3072SHA256: {
		Algorithm: RSASignPKCS1_3072SHA256, KeyType: KeyTypeRSA, Purpose: PurposeAsymmetricSign,
		KeyGenMechanism: RSAPKCSKeyPairGen, AllowedMechanisms: []Mechanism{RSAPKCS1, SHA256RSAPKCS1},
		Digest: DigestSHA256, SignatureLength: 384,
	},
	RSASignPKCS1_4096SHA256: {
		Algorithm: RSASignPKCS1_4096SHA256, KeyType: KeyTypeRSA, Purpose: PurposeAsymmetricSign,
		KeyGenMechanism: RSAPKCSKeyPairGen, AllowedMechanisms: []Mechanism{RSAPKCS1, SHA256RSAPKCS1},
		Digest: DigestSHA256, SignatureLength: 512,
	},
	RSASignPSS2048SHA256: {
		Algorithm: RSASignPSS2048SHA256, KeyType: KeyTypeRSA, Purpose: PurposeAsymmetricSign,
		KeyGenMechanism: RSAPKCSKeyPairGen, AllowedMechanisms: []Mechanism{RSAPKCSPSS, SHA256RSAPKCSPSS},
		Digest: DigestSHA256, SignatureLength: 256,
	},
	RSASignPSS3072SHA256: {
		Algorithm: RSASignPSS3072SHA256, KeyType: KeyTypeRSA, Purpose: PurposeAsymmetricSign,
		KeyGenMechanism: RSAPKCSKeyPairGen, AllowedMechanisms: []Mechanism{RSAPKCSPSS, SHA256RSAPKCSPSS},
		Digest: DigestSHA256, SignatureLength: 384,
	},
	RSASignPSS4096SHA256: {
		Algorithm: RSASignPSS4096SHA256, KeyType: KeyTypeRSA, Purpose: PurposeAsymmetricSign,
		KeyGenMechanism: RSAPKCSKeyPairGen, AllowedMechanisms: []Mechanism{RSAPKCSPSS, SHA256RSAPKCSPSS},
		Digest: DigestSHA256, SignatureLength: 512,
	},
	RSADecryptOAEP2048SHA256: {
		Algorithm: RSADecryptOAEP2048SHA256, KeyType: KeyTypeRSA, Purpose: PurposeAsymmetricDecrypt,
		KeyGenMechanism: RSAPKCSKeyPairGen, AllowedMechanisms: []Mechanism{RSAPKCSOAEP},
		Digest: DigestSHA256, SignatureLength: 0,
	},
	RSADecryptOAEP3072SHA256: {
		Algorithm: RSADecryptOAEP3072SHA256, KeyType: KeyTypeRSA, Purpose: PurposeAsymmetricDecrypt,
		KeyGenMechanism: RSAPKCSKeyPairGen, AllowedMechanisms: []Mechanism{RSAPKCSOAEP},
		Digest: DigestSHA256, SignatureLength: 0,
	},
	RSADecryptOAEP4096SHA256: {
		Algorithm: RSADecryptOAEP4096SHA256, KeyType: KeyTypeRSA, Purpose: PurposeAsymmetricDecrypt,
		KeyGenMechanism: RSAPKCSKeyPairGen, AllowedMechanisms: []Mechanism{RSAPKCSOAEP},
		Digest: DigestSHA256, SignatureLength: 0,
	},
	ECSignP256SHA256: {
		Algorithm: ECSignP256SHA256, KeyType: KeyTypeEC, Purpose: PurposeAsymmetricSign,
		KeyGenMechanism: ECKeyPairGen, AllowedMechanisms: []Mechanism{ECDSA, ECDSASHA256},
		Digest: DigestSHA256, SignatureLength: 72,
	},
	ECSignP384SHA384: {
		Algorithm: ECSignP384SHA384, KeyType: KeyTypeEC, Purpose: PurposeAsymmetricSign,
		KeyGenMechanism: ECKeyPairGen, AllowedMechanisms: []Mechanism{ECDSA, ECDSASHA384},
		Digest: DigestSHA384, SignatureLength: 104,
	},
}

// Lookup returns the Details for a supported KMS algorithm. Lookup is total
// over the supported set and returns Unimplemented otherwise.
func Lookup(a Algorithm) (Details, error) {
	d, ok := table[a]
	if !ok {
		return Details{}, tokenerr.New(tokenerr.Unimplemented, "registry.Lookup", nil)
	}
	return d, nil
}

// AllowsMechanism reports whether mechanism m is in algorithm a's allowed set.
func AllowsMechanism(a Algorithm, m Mechanism) bool {
	d, err := Lookup(a)
	if err != nil {
		return false
	}
	for _, am := range d.AllowedMechanisms {
		if am == m {
			return true
		}
	}
	return false
}

var mechanismNames = map[Mechanism]string{
	RSAPKCS1:          "CKM_RSA_PKCS",
	SHA256RSAPKCS1:     "CKM_SHA256_RSA_PKCS",
	RSAPKCSPSS:         "CKM_RSA_PKCS_PSS",
	SHA256RSAPKCSPSS:    "CKM_SHA256_RSA_PKCS_PSS",
	RSAPKCSOAEP:        "CKM_RSA_PKCS_OAEP",
	ECDSA:              "CKM_ECDSA",
	ECDSASHA256:         "CKM_ECDSA_SHA256",
	ECDSASHA384:         "CKM_ECDSA_SHA384",
	RSAPKCSKeyPairGen:   "CKM_RSA_PKCS_KEY_PAIR_GEN",
	ECKeyPairGen:        "CKM_EC_KEY_PAIR_GEN",
}

// MechanismName returns the CKM_*-shaped display name for m, used in log
// fields and metric labels. Unknown mechanisms return "unknown".
func MechanismName(m Mechanism) string {
	if name, ok := mechanismNames[m]; ok {
		return name
	}
	return "unknown"
}

// AllMechanisms returns every mechanism code appearing in any supported
// algorithm's allowed set, deduplicated, in a stable order. Calling it twice
// returns byte-identical results since the underlying table never mutates
// after package load.
func AllMechanisms() []Mechanism {
	seen := make(map[Mechanism]bool)
	var out []Mechanism
	for _, a := range sortedAlgorithms() {
		for _, m := range table[a].AllowedMechanisms {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

func sortedAlgorithms() []Algorithm {
	out := make([]Algorithm, 0, len(table))
	for a := range table {
		out = append(out, a)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// CurveName returns the elliptic curve name KMS uses for an EC algorithm.
func CurveName(a Algorithm) (string, error) {
	switch a {
	case ECSignP256SHA256:
		return "P-256", nil
	case ECSignP384SHA384:
		return "P-384", nil
	default:
		return "", tokenerr.New(tokenerr.Unimplemented, "registry.CurveName", nil)
	}
}
