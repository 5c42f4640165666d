// Package object implements the object model (C3) and the slot's immutable
// object-set snapshots (part of C4): translating a remote KMS
// CryptoKeyVersion and its public key into the token API's public/private
// object pair, with the attribute schema the standard demands.
package object

import (
	"crypto"

	"github.com/kenneth/kms-token-provider/internal/attrs"
	"github.com/kenneth/kms-token-provider/internal/registry"
)

// Object is immutable after construction: once it is handed a handle,
// neither its attributes nor its class change. A refresh produces new
// Objects rather than mutating existing ones.
type Object struct {
	// Name is the KMS resource name (the full key-version path).
	Name string
	// Class is the token API object class (public key, private key, ...).
	Class attrs.ObjectClass
	// Algorithm is the registry entry for this key.
	Algorithm registry.Details
	// Attributes is the populated attribute map.
	Attributes *attrs.Map
	// PublicKey is the cached parsed public key, present on both halves of
	// an asymmetric pair so Verify/Encrypt pipelines never need a KMS round
	// trip for public-key operations.
	PublicKey crypto.PublicKey
}

// IsPrivate reports whether this object is a private-key object.
func (o *Object) IsPrivate() bool { return o.Class == attrs.ClassPrivateKey }

// IsPublic reports whether this object is a public-key object.
func (o *Object) IsPublic() bool { return o.Class == attrs.ClassPublicKey }
