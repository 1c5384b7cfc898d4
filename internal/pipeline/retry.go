package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/common"
)

// RetryPolicy bounds how often a remote call is repeated.
// Only REMOTE_SERVICE_ERROR is retried; MaxAttempts 1 disables retries.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: backoff.DefaultInitialInterval,
		MaxInterval:     30 * time.Second,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// callRemote runs op under a per-attempt timeout and retries remote failures.
func callRemote[T any](ctx context.Context, policy RetryPolicy, timeout time.Duration, logger *slog.Logger, event string, op func(context.Context) (T, error)) (T, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	attempt := 0
	operation := func() (T, error) {
		attempt++
		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		res, err := op(callCtx)
		if err != nil && !common.IsKind(err, common.KindRemoteServiceError) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn(event+".retry", append(common.LogAttrs(ctx),
				"attempt", attempt,
				"max_attempts", attempts,
				"next_in_ms", next.Milliseconds(),
				"error", err,
			)...)
		}),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	return res, err
}
