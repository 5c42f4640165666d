package object

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math"
	"math/big"
	"regexp"

	"github.com/kenneth/kms-token-provider/internal/attrs"
	"github.com/kenneth/kms-token-provider/internal/kmsiface"
	"github.com/kenneth/kms-token-provider/internal/registry"
	"github.com/kenneth/kms-token-provider/internal/tokenerr"
)

// unavailable is the CK_UNAVAILABLE_INFORMATION-shaped sentinel used for
// attributes that have no meaningful value (e.g. CKA_KEY_GEN_MECHANISM on an
// imported key).
const unavailable uint64 = math.MaxUint64

var resourceNamePattern = regexp.MustCompile(
	`^projects/([^/]+)/locations/([^/]+)/keyRings/([^/]+)/cryptoKeys/([^/]+)/cryptoKeyVersions/([^/]+)$`,
)

// Materialize builds the public/private Object pair for one KMS
// CryptoKeyVersion, given its resource record and PEM-encoded public key.
func Materialize(kv kmsiface.CryptoKeyVersion, pemPublicKey string) (pub *Object, priv *Object, err error) {
	m := resourceNamePattern.FindStringSubmatch(kv.Name)
	if m == nil {
		return nil, nil, tokenerr.Internal(tokenerr.GeneralError, "object.Materialize",
			fmt.Errorf("resource name %q does not match the ten-segment key-version pattern", kv.Name))
	}
	keyID := m[4]

	details, err := registry.Lookup(kv.Algorithm)
	if err != nil {
		return nil, nil, err
	}

	block, _ := pem.Decode([]byte(pemPublicKey))
	if block == nil {
		return nil, nil, tokenerr.Internal(tokenerr.GeneralError, "object.Materialize", fmt.Errorf("invalid PEM public key"))
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, nil, tokenerr.Internal(tokenerr.GeneralError, "object.Materialize", err)
	}

	local := kv.ImportJob == ""

	pub = &Object{Name: kv.Name, Class: attrs.ClassPublicKey, Algorithm: details, PublicKey: parsed, Attributes: attrs.New()}
	priv = &Object{Name: kv.Name, Class: attrs.ClassPrivateKey, Algorithm: details, PublicKey: parsed, Attributes: attrs.New()}

	populateStorage(pub.Attributes, keyID, attrs.ClassPublicKey)
	populateStorage(priv.Attributes, keyID, attrs.ClassPrivateKey)

	populateKeyCommon(pub.Attributes, kv, details, local)
	populateKeyCommon(priv.Attributes, kv, details, local)

	populatePublicKey(pub.Attributes, details, block.Bytes)
	populatePrivateKey(priv.Attributes, details, block.Bytes, local)

	switch key := parsed.(type) {
	case *rsa.PublicKey:
		populateRSA(pub.Attributes, key)
		populateRSA(priv.Attributes, key)
	case *ecdsa.PublicKey:
		if err := populateEC(pub.Attributes, key); err != nil {
			return nil, nil, err
		}
		if err := populateEC(priv.Attributes, key); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, tokenerr.New(tokenerr.Unimplemented, "object.Materialize", fmt.Errorf("unsupported public key type %T", parsed))
	}

	return pub, priv, nil
}

func populateStorage(a *attrs.Map, keyID string, class attrs.ObjectClass) {
	a.PutUlong(attrs.Class, uint64(class))
	a.PutBool(attrs.Token, true)
	a.PutBool(attrs.Private, false)
	a.PutBool(attrs.Modifiable, false)
	a.PutBytes(attrs.Label, []byte(keyID))
	a.PutBool(attrs.Copyable, false)
	a.PutBool(attrs.Destroyable, false)
}

func populateKeyCommon(a *attrs.Map, kv kmsiface.CryptoKeyVersion, details registry.Details, local bool) {
	a.PutUlong(attrs.KeyType, uint64(details.KeyType))
	a.PutBytes(attrs.ID, []byte(kv.Name))
	a.PutBytes(attrs.StartDate, nil)
	a.PutBytes(attrs.EndDate, nil)
	a.PutBool(attrs.Derive, false)
	a.PutBool(attrs.Local, local)
	if local {
		a.PutUlong(attrs.KeyGenMechanism, uint64(details.KeyGenMechanism))
	} else {
		a.PutUlong(attrs.KeyGenMechanism, unavailable)
	}
	mechs := make([]uint64, len(details.AllowedMechanisms))
	for i, mech := range details.AllowedMechanisms {
		mechs[i] = uint64(mech)
	}
	a.PutUlongList(attrs.AllowedMechanisms, mechs)
}

func populatePublicKey(a *attrs.Map, details registry.Details, der []byte) {
	a.PutBytes(attrs.Subject, nil)
	a.PutBool(attrs.Encrypt, details.Purpose == registry.PurposeAsymmetricDecrypt)
	a.PutBool(attrs.Verify, details.Purpose == registry.PurposeAsymmetricSign)
	a.PutBool(attrs.VerifyRecover, false)
	a.PutBool(attrs.Wrap, false)
	a.PutBool(attrs.Trusted, false)
	a.PutUlongList(attrs.WrapTemplate, nil)
	a.PutBytes(attrs.PublicKeyInfo, der)
}

func populatePrivateKey(a *attrs.Map, details registry.Details, der []byte, local bool) {
	a.PutBytes(attrs.Subject, nil)
	a.PutBool(attrs.Sensitive, true)
	a.PutBool(attrs.Decrypt, details.Purpose == registry.PurposeAsymmetricDecrypt)
	a.PutBool(attrs.Sign, details.Purpose == registry.PurposeAsymmetricSign)
	a.PutBool(attrs.SignRecover, false)
	a.PutBool(attrs.Unwrap, false)
	a.PutBool(attrs.Extractable, false)
	a.PutBool(attrs.AlwaysSensitive, local)
	a.PutBool(attrs.NeverExtractable, local)
	a.PutBool(attrs.WrapWithTrusted, false)
	a.PutUlongList(attrs.UnwrapTemplate, nil)
	a.PutBool(attrs.AlwaysAuthenticate, false)
	a.PutBytes(attrs.PublicKeyInfo, der)
}

func populateRSA(a *attrs.Map, pub *rsa.PublicKey) {
	a.PutBignum(attrs.Modulus, pub.N.Bytes())
	a.PutUlong(attrs.ModulusBits, uint64(pub.N.BitLen()))
	a.PutBignum(attrs.PublicExponent, big.NewInt(int64(pub.E)).Bytes())
	a.PutSensitive(attrs.PrivateExponent)
	a.PutSensitive(attrs.Prime1)
	a.PutSensitive(attrs.Prime2)
	a.PutSensitive(attrs.Coefficient)
}

func populateEC(a *attrs.Map, pub *ecdsa.PublicKey) error {
	oid, err := curveOID(pub.Curve)
	if err != nil {
		return err
	}
	params, err := asn1.Marshal(oid)
	if err != nil {
		return tokenerr.Internal(tokenerr.GeneralError, "object.populateEC", err)
	}
	point := elliptic.Marshal(pub.Curve, pub.X, pub.Y)
	derPoint, err := asn1.Marshal(point)
	if err != nil {
		return tokenerr.Internal(tokenerr.GeneralError, "object.populateEC", err)
	}
	a.PutBytes(attrs.ECParams, params)
	a.PutBytes(attrs.ECPoint, derPoint)
	a.PutSensitive(attrs.RawValue)
	return nil
}

func curveOID(curve elliptic.Curve) (asn1.ObjectIdentifier, error) {
	switch curve {
	case elliptic.P256():
		return asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}, nil
	case elliptic.P384():
		return asn1.ObjectIdentifier{1, 3, 132, 0, 34}, nil
	default:
		return nil, tokenerr.New(tokenerr.Unimplemented, "object.curveOID", fmt.Errorf("unsupported curve %s", curve.Params().Name))
	}
}
