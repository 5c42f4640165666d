package kmsiface

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Retryable is implemented by transport errors that know whether a retry is
// worth attempting (deadline exceeded, unavailable) as opposed to a
// permanent failure (not found, permission denied, integrity mismatch).
type Retryable interface {
	Retryable() bool
}

// RetryingClient wraps an inner Client with exponential-backoff retries on
// transport failures the inner client marks Retryable. It never retries on
// request or integrity errors, and it never runs inside the core itself —
// the core (per its propagation policy) treats whatever this facade returns
// as final. Grounded on the teacher's unwired cenkalti/backoff/v4 dependency
// and on the retry/backoff fields audit.BatchSink carries for its own
// at-least-once delivery of audit events.
type RetryingClient struct {
	inner      Client
	maxRetries uint64
	logger     *logrus.Logger
}

// NewRetryingClient wraps inner with up to maxRetries retries using
// exponential backoff. A nil logger disables retry logging.
func NewRetryingClient(inner Client, maxRetries uint64, logger *logrus.Logger) *RetryingClient {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(discard{})
	}
	return &RetryingClient{inner: inner, maxRetries: maxRetries, logger: logger}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func (c *RetryingClient) retry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		var r Retryable
		if errors.As(err, &r) && r.Retryable() {
			c.logger.WithFields(logrus.Fields{"op": op, "attempt": attempt}).Warn("retrying KMS call")
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func (c *RetryingClient) ListCryptoKeys(ctx context.Context, keyRing string) ([]string, error) {
	var out []string
	err := c.retry(ctx, "ListCryptoKeys", func() error {
		v, err := c.inner.ListCryptoKeys(ctx, keyRing)
		out = v
		return err
	})
	return out, err
}

func (c *RetryingClient) ListCryptoKeyVersions(ctx context.Context, cryptoKey string) ([]CryptoKeyVersion, error) {
	var out []CryptoKeyVersion
	err := c.retry(ctx, "ListCryptoKeyVersions", func() error {
		v, err := c.inner.ListCryptoKeyVersions(ctx, cryptoKey)
		out = v
		return err
	})
	return out, err
}

func (c *RetryingClient) GetPublicKey(ctx context.Context, name string) (*PublicKey, error) {
	var out *PublicKey
	err := c.retry(ctx, "GetPublicKey", func() error {
		v, err := c.inner.GetPublicKey(ctx, name)
		out = v
		return err
	})
	return out, err
}

func (c *RetryingClient) AsymmetricSign(ctx context.Context, req *SignRequest) (*SignResponse, error) {
	var out *SignResponse
	err := c.retry(ctx, "AsymmetricSign", func() error {
		v, err := c.inner.AsymmetricSign(ctx, req)
		out = v
		return err
	})
	return out, err
}

func (c *RetryingClient) AsymmetricDecrypt(ctx context.Context, req *DecryptRequest) (*DecryptResponse, error) {
	var out *DecryptResponse
	err := c.retry(ctx, "AsymmetricDecrypt", func() error {
		v, err := c.inner.AsymmetricDecrypt(ctx, req)
		out = v
		return err
	})
	return out, err
}

var _ Client = (*RetryingClient)(nil)
