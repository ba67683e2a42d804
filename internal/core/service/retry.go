package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/rl1809/saleszy/internal/core/domain"
	"github.com/rl1809/saleszy/internal/metrics"
)

// RetryPolicy bounds how often a transaction is re-run after a transient
// storage conflict.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 5, Initial: 10 * time.Millisecond}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	initial := p.Initial
	if initial <= 0 {
		initial = 10 * time.Millisecond
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = 20 * initial
	b.Multiplier = 2
	return b
}

// retry runs op until it succeeds, fails with anything other than
// ErrTransientConflict, or the attempts run out. The last conflict is
// returned as is, so callers still see ErrTransientConflict.
func retry[T any](ctx context.Context, p RetryPolicy, operation string, op func() (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	v, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !domain.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			metrics.ConflictRetriesTotal.WithLabelValues(operation).Inc()
			log.Debug().Err(err).Str("operation", operation).Dur("wait", wait).Msg("retrying after conflict")
		}),
	)

	// The final attempt returns its error without unwrapping.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return v, err
}
