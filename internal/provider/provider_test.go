package provider

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenneth/kms-token-provider/internal/attrs"
	"github.com/kenneth/kms-token-provider/internal/audit"
	"github.com/kenneth/kms-token-provider/internal/handle"
	"github.com/kenneth/kms-token-provider/internal/kmsiface"
	"github.com/kenneth/kms-token-provider/internal/mech"
	"github.com/kenneth/kms-token-provider/internal/registry"
	"github.com/kenneth/kms-token-provider/internal/session"
	"github.com/kenneth/kms-token-provider/internal/tokenerr"
)

// fakeClient backs a single RSA-2048 key-version with real RSA crypto,
// enough to drive the provider end-to-end without a network fake.
type fakeClient struct {
	name string
	key  *rsa.PrivateKey
	pem  string
}

func newFakeClient(t *testing.T) *fakeClient {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemStr := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	return &fakeClient{
		name: "projects/p/locations/l/keyRings/kr/cryptoKeys/k1/cryptoKeyVersions/1",
		key:  key,
		pem:  pemStr,
	}
}

func (f *fakeClient) ListCryptoKeys(ctx context.Context, keyRing string) ([]string, error) {
	return []string{"projects/p/locations/l/keyRings/kr/cryptoKeys/k1"}, nil
}

func (f *fakeClient) ListCryptoKeyVersions(ctx context.Context, cryptoKey string) ([]kmsiface.CryptoKeyVersion, error) {
	return []kmsiface.CryptoKeyVersion{
		{Name: f.name, Algorithm: registry.RSASignPSS2048SHA256, State: kmsiface.StateEnabled},
	}, nil
}

func (f *fakeClient) GetPublicKey(ctx context.Context, name string) (*kmsiface.PublicKey, error) {
	return &kmsiface.PublicKey{PEM: f.pem, Algorithm: registry.RSASignPSS2048SHA256}, nil
}

func (f *fakeClient) AsymmetricSign(ctx context.Context, req *kmsiface.SignRequest) (*kmsiface.SignResponse, error) {
	sig, err := rsa.SignPSS(rand.Reader, f.key, crypto.SHA256, req.Digest.Bytes, &rsa.PSSOptions{SaltLength: 32})
	if err != nil {
		return nil, err
	}
	return &kmsiface.SignResponse{Signature: sig, SignatureCRC32C: kmsiface.CRC32C(sig)}, nil
}

func (f *fakeClient) AsymmetricDecrypt(ctx context.Context, req *kmsiface.DecryptRequest) (*kmsiface.DecryptResponse, error) {
	return nil, tokenerr.New(tokenerr.Unimplemented, "fakeClient.AsymmetricDecrypt", nil)
}

func newTestProvider(t *testing.T) (*Provider, *fakeClient) {
	t.Helper()
	fc := newFakeClient(t)
	handles := handle.New()
	slot := NewSlot("test-slot", "projects/p/locations/l/keyRings/kr", false, fc, handles, nil, nil)
	p := &Provider{
		sessionSlot: make(map[handle.Handle]int),
		slots:       []*Slot{slot},
		handles:     handles,
		audit:       audit.NewLogger(0, nil),
	}
	require.NoError(t, p.Initialize(context.Background()))
	return p, fc
}

func findPrivateAndPublic(t *testing.T, p *Provider, sessionHandle handle.Handle) (priv, pub handle.Handle) {
	t.Helper()
	require.NoError(t, p.FindObjectsInit(sessionHandle, map[attrs.Code]attrs.Value{
		attrs.Class: attrs.UlongValue(uint64(attrs.ClassPrivateKey)),
	}))
	hs, err := p.FindObjects(sessionHandle, 10)
	require.NoError(t, err)
	require.Len(t, hs, 1)
	require.NoError(t, p.FindObjectsFinal(sessionHandle))
	priv = hs[0]

	require.NoError(t, p.FindObjectsInit(sessionHandle, map[attrs.Code]attrs.Value{
		attrs.Class: attrs.UlongValue(uint64(attrs.ClassPublicKey)),
	}))
	hs, err = p.FindObjects(sessionHandle, 10)
	require.NoError(t, err)
	require.Len(t, hs, 1)
	require.NoError(t, p.FindObjectsFinal(sessionHandle))
	pub = hs[0]
	return priv, pub
}

func TestProvider_SignVerify_PSS_RoundTrip(t *testing.T) {
	p, _ := newTestProvider(t)
	sess, err := p.OpenSession(context.Background(), 0, session.FlagSerial|session.FlagReadWrite)
	require.NoError(t, err)

	priv, pub := findPrivateAndPublic(t, p, sess)

	params := mech.Params{PSS: &mech.PSSParams{Digest: registry.DigestSHA256, MGFDigest: registry.DigestSHA256, SaltLen: 32}}
	require.NoError(t, p.SignInit(sess, priv, registry.SHA256RSAPKCSPSS, params))
	sigLen, err := p.Sign(context.Background(), sess, []byte("hello world"), nil)
	require.NoError(t, err)
	require.Equal(t, 256, sigLen)

	// The null-buffer call above only predicted the length; it did not feed
	// data or consume the op (SignFinal's two-call convention). Reuse the
	// still-active op instead of starting a new one.
	require.NoError(t, p.SignUpdate(sess, []byte("hello world")))
	sig := make([]byte, sigLen)
	n, err := p.SignFinal(context.Background(), sess, sig)
	require.NoError(t, err)
	require.Equal(t, sigLen, n)

	require.NoError(t, p.VerifyInit(sess, pub, registry.SHA256RSAPKCSPSS, params, true))
	require.NoError(t, p.Verify(sess, []byte("hello world"), sig))
}

func TestProvider_SignInit_TwiceFailsOperationActive(t *testing.T) {
	p, _ := newTestProvider(t)
	sess, err := p.OpenSession(context.Background(), 0, session.FlagSerial|session.FlagReadWrite)
	require.NoError(t, err)
	priv, _ := findPrivateAndPublic(t, p, sess)

	params := mech.Params{PSS: &mech.PSSParams{Digest: registry.DigestSHA256, MGFDigest: registry.DigestSHA256, SaltLen: 32}}
	require.NoError(t, p.SignInit(sess, priv, registry.SHA256RSAPKCSPSS, params))
	err = p.SignInit(sess, priv, registry.SHA256RSAPKCSPSS, params)
	require.Equal(t, tokenerr.OperationActive, tokenerr.CodeOf(err))
}

func TestProvider_SignFinal_BufferTooSmall_ThenRetry(t *testing.T) {
	p, _ := newTestProvider(t)
	sess, err := p.OpenSession(context.Background(), 0, session.FlagSerial|session.FlagReadWrite)
	require.NoError(t, err)
	priv, _ := findPrivateAndPublic(t, p, sess)

	params := mech.Params{PSS: &mech.PSSParams{Digest: registry.DigestSHA256, MGFDigest: registry.DigestSHA256, SaltLen: 32}}
	require.NoError(t, p.SignInit(sess, priv, registry.SHA256RSAPKCSPSS, params))
	require.NoError(t, p.SignUpdate(sess, []byte("hello")))

	_, err = p.SignFinal(context.Background(), sess, make([]byte, 4))
	require.Equal(t, tokenerr.BufferTooSmall, tokenerr.CodeOf(err))

	sig := make([]byte, 256)
	n, err := p.SignFinal(context.Background(), sess, sig)
	require.NoError(t, err)
	require.Equal(t, 256, n)

	_, err = p.SignFinal(context.Background(), sess, sig)
	require.Equal(t, tokenerr.OperationNotInitialized, tokenerr.CodeOf(err))
}

func TestProvider_GetAttributeValue_Sensitive(t *testing.T) {
	p, _ := newTestProvider(t)
	sess, err := p.OpenSession(context.Background(), 0, session.FlagSerial)
	require.NoError(t, err)
	priv, _ := findPrivateAndPublic(t, p, sess)

	_, err = p.GetAttributeValue(priv, attrs.PrivateExponent)
	require.Equal(t, tokenerr.AttributeSensitive, tokenerr.CodeOf(err))

	v, err := p.GetAttributeValue(priv, attrs.Sign)
	require.NoError(t, err)
	require.True(t, v.Bool())
}

func TestProvider_OpenSession_ReadOnlyBlockedByReadWrite(t *testing.T) {
	p, _ := newTestProvider(t)
	_, err := p.OpenSession(context.Background(), 0, session.FlagSerial|session.FlagReadWrite)
	require.NoError(t, err)
	_, err = p.OpenSession(context.Background(), 0, session.FlagSerial)
	require.Equal(t, tokenerr.SessionReadWriteSOExists, tokenerr.CodeOf(err))
}

func TestProvider_CloseSession_InvalidatesHandle(t *testing.T) {
	p, _ := newTestProvider(t)
	sess, err := p.OpenSession(context.Background(), 0, session.FlagSerial)
	require.NoError(t, err)
	require.NoError(t, p.CloseSession(sess))

	_, err = p.GetSessionInfo(sess)
	require.Equal(t, tokenerr.SessionHandleInvalid, tokenerr.CodeOf(err))
}

func TestProvider_GenerateRandom(t *testing.T) {
	p, _ := newTestProvider(t)
	sess, err := p.OpenSession(context.Background(), 0, session.FlagSerial)
	require.NoError(t, err)

	buf := make([]byte, 32)
	require.NoError(t, p.GenerateRandom(sess, buf))
	zero := make([]byte, 32)
	require.NotEqual(t, zero, buf)
}

func TestProvider_GetMechanismList(t *testing.T) {
	p, _ := newTestProvider(t)
	mechs, err := p.GetMechanismList(0)
	require.NoError(t, err)
	require.NotEmpty(t, mechs)
	require.Equal(t, "CKM_SHA256_RSA_PKCS_PSS", registry.MechanismName(registry.SHA256RSAPKCSPSS))
}
