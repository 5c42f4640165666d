package object

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/kenneth/kms-token-provider/internal/attrs"
	"github.com/kenneth/kms-token-provider/internal/kmsiface"
	"github.com/kenneth/kms-token-provider/internal/registry"
	"github.com/stretchr/testify/require"
)

const testKeyVersionName = "projects/p/locations/l/keyRings/kr/cryptoKeys/k1/cryptoKeyVersions/1"

func pemEncodeRSA(t *testing.T, bits int) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, bits)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func pemEncodeEC(t *testing.T, curve elliptic.Curve) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func TestMaterialize_RSASign_PublicAndPrivateAttributes(t *testing.T) {
	kv := kmsiface.CryptoKeyVersion{Name: testKeyVersionName, Algorithm: registry.RSASignPKCS1_2048SHA256}
	pub, priv, err := Materialize(kv, pemEncodeRSA(t, 2048))
	require.NoError(t, err)

	require.True(t, pub.IsPublic())
	require.True(t, priv.IsPrivate())
	require.Equal(t, pub.Name, priv.Name)

	v, err := pub.Attributes.Get(attrs.Verify)
	require.NoError(t, err)
	require.True(t, v.Bool())

	v, err = pub.Attributes.Get(attrs.Encrypt)
	require.NoError(t, err)
	require.False(t, v.Bool())
}

func TestMaterialize_RSA_SensitiveAttributesAreHidden(t *testing.T) {
	kv := kmsiface.CryptoKeyVersion{Name: testKeyVersionName, Algorithm: registry.RSASignPKCS1_2048SHA256}
	_, priv, err := Materialize(kv, pemEncodeRSA(t, 2048))
	require.NoError(t, err)

	_, err = priv.Attributes.Get(attrs.PrivateExponent)
	require.Error(t, err)
}

func TestMaterialize_RSA_ModulusAndExponent(t *testing.T) {
	kv := kmsiface.CryptoKeyVersion{Name: testKeyVersionName, Algorithm: registry.RSASignPKCS1_2048SHA256}
	pub, _, err := Materialize(kv, pemEncodeRSA(t, 2048))
	require.NoError(t, err)

	modBits, err := pub.Attributes.Get(attrs.ModulusBits)
	require.NoError(t, err)
	require.Equal(t, uint64(2048), modBits.Ulong())

	mod, err := pub.Attributes.Get(attrs.Modulus)
	require.NoError(t, err)
	require.NotEmpty(t, mod.Bytes())
	require.NotEqual(t, byte(0), mod.Bytes()[0])

	exp, err := pub.Attributes.Get(attrs.PublicExponent)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x00, 0x01}, exp.Bytes())
}

func TestMaterialize_EC_CurveParamsAndPoint(t *testing.T) {
	kv := kmsiface.CryptoKeyVersion{Name: testKeyVersionName, Algorithm: registry.ECSignP256SHA256}
	pub, priv, err := Materialize(kv, pemEncodeEC(t, elliptic.P256()))
	require.NoError(t, err)

	params, err := pub.Attributes.Get(attrs.ECParams)
	require.NoError(t, err)
	require.NotEmpty(t, params.Bytes())

	point, err := pub.Attributes.Get(attrs.ECPoint)
	require.NoError(t, err)
	require.NotEmpty(t, point.Bytes())

	_, err = priv.Attributes.Get(attrs.RawValue)
	require.Error(t, err)
}

func TestMaterialize_ImportedKey_LocalFalseAndNotAlwaysSensitive(t *testing.T) {
	kv := kmsiface.CryptoKeyVersion{Name: testKeyVersionName, Algorithm: registry.RSASignPKCS1_2048SHA256, ImportJob: "projects/p/locations/l/keyRings/kr/importJobs/ij1"}
	pub, priv, err := Materialize(kv, pemEncodeRSA(t, 2048))
	require.NoError(t, err)

	local, err := pub.Attributes.Get(attrs.Local)
	require.NoError(t, err)
	require.False(t, local.Bool())

	alwaysSensitive, err := priv.Attributes.Get(attrs.AlwaysSensitive)
	require.NoError(t, err)
	require.False(t, alwaysSensitive.Bool())

	gen, err := pub.Attributes.Get(attrs.KeyGenMechanism)
	require.NoError(t, err)
	require.Equal(t, unavailable, gen.Ulong())
}

func TestMaterialize_RejectsMalformedResourceName(t *testing.T) {
	kv := kmsiface.CryptoKeyVersion{Name: "not/a/valid/name", Algorithm: registry.RSASignPKCS1_2048SHA256}
	_, _, err := Materialize(kv, pemEncodeRSA(t, 2048))
	require.Error(t, err)
}

func TestMaterialize_LabelIsKeyID(t *testing.T) {
	kv := kmsiface.CryptoKeyVersion{Name: testKeyVersionName, Algorithm: registry.RSASignPKCS1_2048SHA256}
	pub, _, err := Materialize(kv, pemEncodeRSA(t, 2048))
	require.NoError(t, err)

	label, err := pub.Attributes.Get(attrs.Label)
	require.NoError(t, err)
	require.Equal(t, "k1", string(label.Bytes()))
}
