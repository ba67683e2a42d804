package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/saleszy/internal/core/domain"
	"github.com/rl1809/saleszy/internal/port"
)

var fastRetry = RetryPolicy{Attempts: 3, Initial: time.Millisecond}

func TestRetry_RecoversFromConflicts(t *testing.T) {
	calls := 0
	v, err := retry(context.Background(), fastRetry, "test", func() (int, error) {
		calls++
		if calls < 3 {
			return 0, fmt.Errorf("deadlock: %w", domain.ErrTransientConflict)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustedSurfacesConflict(t *testing.T) {
	calls := 0
	_, err := retry(context.Background(), fastRetry, "test", func() (int, error) {
		calls++
		return 0, domain.ErrTransientConflict
	})
	assert.ErrorIs(t, err, domain.ErrTransientConflict)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, 3, calls)
}

func TestRetry_OtherErrorsStopImmediately(t *testing.T) {
	calls := 0
	_, err := retry(context.Background(), fastRetry, "test", func() (int, error) {
		calls++
		return 0, domain.ErrInsufficientStock
	})
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock))
	assert.Equal(t, 1, calls)
}

func TestRetry_SingleAttempt(t *testing.T) {
	calls := 0
	_, err := retry(context.Background(), RetryPolicy{}, "test", func() (int, error) {
		calls++
		return 0, domain.ErrNotFound
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, calls)
}

// flakyStore fails the first n transactions with a transient conflict.
type flakyStore struct {
	Store
	failures atomic.Int32
}

func (s *flakyStore) Atomic(ctx context.Context, fn func(tx port.Transaction) error) error {
	if s.failures.Add(-1) >= 0 {
		return fmt.Errorf("commit tx: %w", domain.ErrTransientConflict)
	}
	return s.Store.Atomic(ctx, fn)
}

func TestRecordSale_RetriesTransientConflicts(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})
	f.product(t, "biz-1", "rice", 10, 6, 5)

	flaky := &flakyStore{Store: f.store}
	flaky.failures.Store(2)
	core := New(flaky, nil, Config{Retry: fastRetry, Clock: f.clock, Webhook: WebhookConfig{Secret: testSecret}})

	res, err := core.RecordSale(context.Background(), "biz-1", "rice", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res.RemainingStock)
}

func TestRecordSale_ConflictExhaustionLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})
	f.product(t, "biz-1", "rice", 10, 6, 5)

	flaky := &flakyStore{Store: f.store}
	flaky.failures.Store(10)
	core := New(flaky, nil, Config{Retry: fastRetry, Clock: f.clock, Webhook: WebhookConfig{Secret: testSecret}})

	_, err := core.RecordSale(context.Background(), "biz-1", "rice", 2)
	assert.ErrorIs(t, err, domain.ErrTransientConflict)
	assert.Equal(t, 5, f.stock(t, "biz-1", "rice"))
}
