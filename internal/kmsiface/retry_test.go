package kmsiface

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// toxicClient is a Client that fails a configurable number of times before
// succeeding, grounded on the teacher's test.ToxicServer fault-injection
// pattern (test/chaos_test.go), adapted from HTTP fault injection to the
// KmsClient facade.
type toxicClient struct {
	Client
	failCount int32
	retryable bool
	calls     int32
}

type toxicErr struct{ retryable bool }

func (e toxicErr) Error() string  { return "injected fault" }
func (e toxicErr) Retryable() bool { return e.retryable }

func (c *toxicClient) GetPublicKey(ctx context.Context, name string) (*PublicKey, error) {
	n := atomic.AddInt32(&c.calls, 1)
	if n <= c.failCount {
		return nil, toxicErr{retryable: c.retryable}
	}
	return &PublicKey{PEM: "ok"}, nil
}

func TestRetryingClient_RetriesRetryableFailures(t *testing.T) {
	tc := &toxicClient{failCount: 2, retryable: true}
	rc := NewRetryingClient(tc, 5, nil)

	pk, err := rc.GetPublicKey(context.Background(), "name")
	require.NoError(t, err)
	require.Equal(t, "ok", pk.PEM)
	require.Equal(t, int32(3), tc.calls)
}

func TestRetryingClient_DoesNotRetryPermanentFailures(t *testing.T) {
	tc := &toxicClient{failCount: 10, retryable: false}
	rc := NewRetryingClient(tc, 5, nil)

	_, err := rc.GetPublicKey(context.Background(), "name")
	require.Error(t, err)
	require.Equal(t, int32(1), tc.calls)
	var te toxicErr
	require.True(t, errors.As(err, &te))
}

func TestRetryingClient_GivesUpAfterMaxRetries(t *testing.T) {
	tc := &toxicClient{failCount: 100, retryable: true}
	rc := NewRetryingClient(tc, 2, nil)

	_, err := rc.GetPublicKey(context.Background(), "name")
	require.Error(t, err)
	require.Equal(t, int32(3), tc.calls) // initial attempt + 2 retries
}
