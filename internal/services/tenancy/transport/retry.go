package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/louisbranch/tenantledger/internal/platform/errors"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/event"
)

// RetryConfig redelivers events whose handler failed with a retryable
// error, such as a busy store. Other errors are returned after one attempt.
type RetryConfig struct {
	// MaxAttempts counts the first delivery. Zero or one disables retries.
	MaxAttempts uint
	// InitialInterval is the first backoff; later waits grow exponentially.
	InitialInterval time.Duration
}

// DefaultRetry is used by the runtime for both buses.
var DefaultRetry = RetryConfig{MaxAttempts: 5, InitialInterval: 50 * time.Millisecond}

func (r RetryConfig) handle(ctx context.Context, handler Handler, evt event.Event) error {
	if r.MaxAttempts <= 1 {
		return handler(ctx, evt)
	}
	policy := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		policy.InitialInterval = r.InitialInterval
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := handler(ctx, evt.Clone())
		if err != nil && !apperrors.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(r.MaxAttempts))
	return err
}
