package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/saleszy/internal/core/domain"
)

const day = 24 * time.Hour

func TestWebhook_InvalidSignature(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})
	ctx := context.Background()
	body := chargePayload(t, "charge.success", "ref-1", "biz-1", "weekly", 15000)

	tests := map[string]string{
		"wrong secret": SignPayload("not-the-secret", body),
		"not hex":      "zz-not-hex",
		"empty":        "",
		"truncated":    SignPayload(testSecret, body)[:64],
	}
	for name, sig := range tests {
		t.Run(name, func(t *testing.T) {
			res, err := f.core.IngestPaymentWebhook(ctx, body, sig)
			assert.ErrorIs(t, err, domain.ErrInvalidSignature)
			assert.False(t, res.Accepted)
			assert.NotEmpty(t, res.Reason)
		})
	}

	ev, err := f.store.GetPaymentEvent(ctx, "ref-1")
	require.NoError(t, err)
	assert.Nil(t, ev)

	unlocked, err := f.core.Entitlements.IsUnlocked(ctx, "biz-1", domain.TierWeekly, testStart)
	require.NoError(t, err)
	assert.False(t, unlocked)
}

func TestWebhook_TamperedBodyRejected(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})
	body := chargePayload(t, "charge.success", "ref-1", "biz-1", "weekly", 15000)
	sig := SignPayload(testSecret, body)

	tampered := []byte(strings.Replace(string(body), "weekly", "monthly", 1))
	_, err := f.core.IngestPaymentWebhook(context.Background(), tampered, sig)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestWebhook_ActivatesWeekly(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})

	res := f.pay(t, "ref-1", "biz-1", domain.TierWeekly)
	assert.True(t, res.Accepted)
	assert.Equal(t, domain.WebhookActivated, res.Outcome)
	assert.Equal(t, "biz-1", res.BusinessID)
	assert.Equal(t, domain.TierWeekly, res.Tier)
	assert.True(t, testStart.Add(7*day).Equal(res.UnlockedUntil))

	ev, err := f.store.GetPaymentEvent(context.Background(), "ref-1")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.True(t, ev.Verified)
	assert.True(t, ev.Processed)
	assert.Equal(t, int64(15000), ev.Amount)
}

func TestWebhook_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})
	ctx := context.Background()

	first := f.pay(t, "ref-monthly", "biz-1", domain.TierMonthly)
	assert.Equal(t, domain.WebhookActivated, first.Outcome)

	f.clock.Advance(time.Minute)
	second := f.pay(t, "ref-monthly", "biz-1", domain.TierMonthly)
	assert.True(t, second.Accepted)
	assert.Equal(t, domain.WebhookAlreadyProcessed, second.Outcome)
	assert.True(t, first.UnlockedUntil.Equal(second.UnlockedUntil))

	e, err := f.store.GetEntitlement(ctx, "biz-1", domain.TierMonthly)
	require.NoError(t, err)
	assert.True(t, testStart.Add(30*day).Equal(e.UnlockedUntil))

	ok, err := f.core.Entitlements.IsUnlocked(ctx, "biz-1", domain.TierMonthly, testStart.Add(29*day))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWebhook_ReplayAfterPriceChange(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})
	ctx := context.Background()

	first := f.pay(t, "ref-old-price", "biz-1", domain.TierWeekly)
	require.Equal(t, domain.WebhookActivated, first.Outcome)

	repriced := NewWebhookService(f.store, f.core.Tenants, f.core.Entitlements, WebhookConfig{
		Secret: testSecret,
		Prices: map[domain.Tier]int64{domain.TierWeekly: 20000, domain.TierMonthly: 60000},
	}, RetryPolicy{Attempts: 3, Initial: time.Millisecond}, f.clock)

	body := chargePayload(t, "charge.success", "ref-old-price", "biz-1", "weekly", DefaultPrices()[domain.TierWeekly])
	res, err := repriced.Handle(ctx, body, SignPayload(testSecret, body))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, domain.WebhookAlreadyProcessed, res.Outcome)
	assert.Equal(t, "biz-1", res.BusinessID)
	assert.True(t, first.UnlockedUntil.Equal(res.UnlockedUntil))

	// A new reference at the old price is still checked against the new one.
	body = chargePayload(t, "charge.success", "ref-new", "biz-1", "weekly", DefaultPrices()[domain.TierWeekly])
	_, err = repriced.Handle(ctx, body, SignPayload(testSecret, body))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestWebhook_ConcurrentDuplicateDeliveries(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})
	body := chargePayload(t, "charge.success", "ref-race", "biz-1", "weekly", 15000)
	sig := SignPayload(testSecret, body)

	var activated, replayed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.core.IngestPaymentWebhook(context.Background(), body, sig)
			if !assert.NoError(t, err) {
				return
			}
			switch res.Outcome {
			case domain.WebhookActivated:
				activated.Add(1)
			case domain.WebhookAlreadyProcessed:
				replayed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), activated.Load())
	assert.Equal(t, int32(9), replayed.Load())

	e, err := f.store.GetEntitlement(context.Background(), "biz-1", domain.TierWeekly)
	require.NoError(t, err)
	assert.True(t, testStart.Add(7*day).Equal(e.UnlockedUntil))
}

func TestWebhook_RenewalExtendsFromCurrentExpiry(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})

	f.pay(t, "ref-1", "biz-1", domain.TierWeekly)
	f.clock.Advance(2 * day)
	res := f.pay(t, "ref-2", "biz-1", domain.TierWeekly)

	assert.Equal(t, domain.WebhookActivated, res.Outcome)
	assert.True(t, testStart.Add(14*day).Equal(res.UnlockedUntil))
}

func TestWebhook_LapsedRenewalStartsFromNow(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})

	f.pay(t, "ref-1", "biz-1", domain.TierWeekly)
	f.clock.Advance(10 * day)
	res := f.pay(t, "ref-2", "biz-1", domain.TierWeekly)

	assert.True(t, testStart.Add(17*day).Equal(res.UnlockedUntil))
}

func TestWebhook_IgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})
	body := chargePayload(t, "transfer.success", "ref-1", "biz-1", "weekly", 15000)

	res, err := f.core.IngestPaymentWebhook(context.Background(), body, SignPayload(testSecret, body))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, domain.WebhookIgnored, res.Outcome)

	ev, err := f.store.GetPaymentEvent(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestWebhook_RejectionsLogAtWarn(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})
	logs := captureLogs(t)

	body := chargePayload(t, "charge.success", "ref-cheap", "biz-1", "weekly", 100)
	_, err := f.core.IngestPaymentWebhook(context.Background(), body, SignPayload(testSecret, body))
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	assert.Contains(t, logs.String(), `"level":"warn"`)
	assert.Contains(t, logs.String(), "webhook payload rejected")
	assert.NotContains(t, logs.String(), `"level":"error"`)
}

func TestWebhook_RejectsBadPayloads(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})
	ctx := context.Background()

	tests := []struct {
		name string
		body []byte
		want error
	}{
		{"wrong amount", chargePayload(t, "charge.success", "ref-a", "biz-1", "weekly", 50000), domain.ErrInvalidAmount},
		{"unknown tier", chargePayload(t, "charge.success", "ref-b", "biz-1", "yearly", 15000), domain.ErrInvalidPayload},
		{"daily tier", chargePayload(t, "charge.success", "ref-c", "biz-1", "daily", 0), domain.ErrInvalidPayload},
		{"missing business", chargePayload(t, "charge.success", "ref-d", "", "weekly", 15000), domain.ErrInvalidPayload},
		{"missing reference", chargePayload(t, "charge.success", "", "biz-1", "weekly", 15000), domain.ErrInvalidPayload},
		{"unknown business", chargePayload(t, "charge.success", "ref-e", "biz-404", "weekly", 15000), domain.ErrNotFound},
		{"not json", []byte("{not json"), domain.ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.core.IngestPaymentWebhook(ctx, tt.body, SignPayload(testSecret, tt.body))
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, res.Accepted)
			assert.True(t, IsRejection(err))
		})
	}

	statuses, err := f.core.Entitlements.Entitlements(ctx, "biz-1", testStart)
	require.NoError(t, err)
	for _, s := range statuses {
		assert.False(t, s.Active)
	}
}

func TestWebhook_NumericBusinessID(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "42"})
	body := chargePayload(t, "charge.success", "ref-num", 42, "monthly", 50000)

	res, err := f.core.IngestPaymentWebhook(context.Background(), body, SignPayload(testSecret, body))
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookActivated, res.Outcome)
	assert.Equal(t, "42", res.BusinessID)
}

func TestWebhook_SuspendedBusinessStillPays(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-off", Suspended: true})

	res := f.pay(t, "ref-1", "biz-off", domain.TierWeekly)
	assert.Equal(t, domain.WebhookActivated, res.Outcome)
}

func TestWebhook_WarmsCache(t *testing.T) {
	cache := newMockCache()
	f := newFixtureWithCache(t, cache)
	f.business(t, domain.Business{ID: "biz-1"})

	res := f.pay(t, "ref-1", "biz-1", domain.TierWeekly)

	cached, ok := cache.get("biz-1", domain.TierWeekly)
	require.True(t, ok)
	assert.True(t, res.UnlockedUntil.Equal(cached))
}

func TestWebhook_MissingSecret(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})
	svc := NewWebhookService(f.store, f.core.Tenants, f.core.Entitlements, WebhookConfig{}, fastRetry, f.clock)

	body := chargePayload(t, "charge.success", "ref-1", "biz-1", "weekly", 15000)
	_, err := svc.Handle(context.Background(), body, SignPayload("", body))
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestParsePaidAt(t *testing.T) {
	fallback := testStart
	assert.True(t, time.Date(2026, 3, 10, 11, 59, 0, 0, time.UTC).Equal(parsePaidAt("2026-03-10T11:59:00.000Z", fallback)))
	assert.True(t, time.Unix(1700000000, 0).Equal(parsePaidAt("1700000000", fallback)))
	assert.True(t, fallback.Equal(parsePaidAt("", fallback)))
	assert.True(t, fallback.Equal(parsePaidAt("yesterday", fallback)))
}
