package service

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/saleszy/internal/adapter/storage"
	"github.com/rl1809/saleszy/internal/core/domain"
	"github.com/rl1809/saleszy/internal/port"
)

const testSecret = "sk_test_4f1c2a"

var testStart = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store *storage.SQLiteAdapter
	clock *fakeClock
	core  *Core
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithCache(t, nil)
}

func newFixtureWithCache(t *testing.T, cache port.CacheRepository) *fixture {
	t.Helper()
	store, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clk := &fakeClock{now: testStart}
	core := New(store, cache, Config{
		Retry:   RetryPolicy{Attempts: 5, Initial: time.Millisecond},
		Clock:   clk,
		Webhook: WebhookConfig{Secret: testSecret},
	})
	return &fixture{store: store, clock: clk, core: core}
}

func (f *fixture) business(t *testing.T, b domain.Business) {
	t.Helper()
	if b.Name == "" {
		b.Name = "Shop " + b.ID
	}
	require.NoError(t, f.store.UpsertBusiness(context.Background(), b))
}

// product creates a product priced at price with the given cost and stock.
func (f *fixture) product(t *testing.T, businessID, productID string, price, cost int64, stock int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.UpsertProduct(ctx, domain.Product{
		ID:         productID,
		BusinessID: businessID,
		Name:       "Product " + productID,
		UnitPrice:  decimal.NewFromInt(price),
		CostPrice:  decimal.NewFromInt(cost),
	}))
	require.NoError(t, f.store.Atomic(ctx, func(tx port.Transaction) error {
		return tx.SetStock(ctx, domain.StockLevel{
			BusinessID:        businessID,
			ProductID:         productID,
			Quantity:          stock,
			LowStockThreshold: 2,
		})
	}))
}

func (f *fixture) stock(t *testing.T, businessID, productID string) int {
	t.Helper()
	qty, err := f.core.GetStockLevel(context.Background(), businessID, productID)
	require.NoError(t, err)
	return qty
}

func chargePayload(t *testing.T, event, reference string, businessID any, tier string, amount int64) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": event,
		"data": map[string]any{
			"reference": reference,
			"amount":    amount,
			"paid_at":   "2026-03-10T11:59:00.000Z",
			"metadata": map[string]any{
				"business_id": businessID,
				"period_type": tier,
			},
		},
	})
	require.NoError(t, err)
	return body
}

func (f *fixture) pay(t *testing.T, reference, businessID string, tier domain.Tier) domain.WebhookResult {
	t.Helper()
	body := chargePayload(t, "charge.success", reference, businessID, string(tier), DefaultPrices()[tier])
	res, err := f.core.IngestPaymentWebhook(context.Background(), body, SignPayload(testSecret, body))
	require.NoError(t, err)
	return res
}

// captureLogs sends the global logger to a buffer for the rest of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})
	return &buf
}
