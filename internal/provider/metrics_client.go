package provider

import (
	"context"
	"time"

	"github.com/kenneth/kms-token-provider/internal/kmsiface"
	"github.com/kenneth/kms-token-provider/internal/metrics"
)

// instrumentedClient wraps a kmsiface.Client, recording token_kms_calls_total
// and token_kms_call_duration_seconds around every RPC, exactly where
// api.Handler records RecordHTTPRequest/RecordS3Operation around every S3
// call in the teacher.
type instrumentedClient struct {
	inner kmsiface.Client
	m     *metrics.Metrics
}

func newInstrumentedClient(inner kmsiface.Client, m *metrics.Metrics) kmsiface.Client {
	if m == nil {
		return inner
	}
	return &instrumentedClient{inner: inner, m: m}
}

func (c *instrumentedClient) record(method string, start time.Time, err error) {
	c.m.RecordKMSCall(method, err, time.Since(start))
}

func (c *instrumentedClient) ListCryptoKeys(ctx context.Context, keyRing string) ([]string, error) {
	start := time.Now()
	v, err := c.inner.ListCryptoKeys(ctx, keyRing)
	c.record("ListCryptoKeys", start, err)
	return v, err
}

func (c *instrumentedClient) ListCryptoKeyVersions(ctx context.Context, cryptoKey string) ([]kmsiface.CryptoKeyVersion, error) {
	start := time.Now()
	v, err := c.inner.ListCryptoKeyVersions(ctx, cryptoKey)
	c.record("ListCryptoKeyVersions", start, err)
	return v, err
}

func (c *instrumentedClient) GetPublicKey(ctx context.Context, name string) (*kmsiface.PublicKey, error) {
	start := time.Now()
	v, err := c.inner.GetPublicKey(ctx, name)
	c.record("GetPublicKey", start, err)
	return v, err
}

func (c *instrumentedClient) AsymmetricSign(ctx context.Context, req *kmsiface.SignRequest) (*kmsiface.SignResponse, error) {
	start := time.Now()
	v, err := c.inner.AsymmetricSign(ctx, req)
	c.record("AsymmetricSign", start, err)
	return v, err
}

func (c *instrumentedClient) AsymmetricDecrypt(ctx context.Context, req *kmsiface.DecryptRequest) (*kmsiface.DecryptResponse, error) {
	start := time.Now()
	v, err := c.inner.AsymmetricDecrypt(ctx, req)
	c.record("AsymmetricDecrypt", start, err)
	return v, err
}

var _ kmsiface.Client = (*instrumentedClient)(nil)
