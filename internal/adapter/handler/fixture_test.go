package handler

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/saleszy/internal/adapter/storage"
	"github.com/rl1809/saleszy/internal/clock"
	"github.com/rl1809/saleszy/internal/core/domain"
	"github.com/rl1809/saleszy/internal/core/service"
	"github.com/rl1809/saleszy/internal/port"
)

const testSecret = "sk_test_handler"

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *storage.SQLiteAdapter
	core  *service.Core
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "handler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	core := service.New(store, nil, service.Config{
		Retry:   service.RetryPolicy{Attempts: 3, Initial: time.Millisecond},
		Clock:   clock.Func(func() time.Time { return testNow }),
		Webhook: service.WebhookConfig{Secret: testSecret},
	})

	f := &fixture{store: store, core: core}
	ctx := context.Background()
	require.NoError(t, store.UpsertBusiness(ctx, domain.Business{ID: "biz-1", Name: "Mama Put"}))
	require.NoError(t, store.UpsertBusiness(ctx, domain.Business{ID: "biz-2", Name: "Corner Shop"}))
	f.product(t, "biz-1", "rice", 25, 18, 10)
	f.product(t, "biz-2", "yam", 40, 30, 5)
	return f
}

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

func chargeBody(t *testing.T, reference, businessID string, tier domain.Tier) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": "charge.success",
		"data": map[string]any{
			"reference": reference,
			"amount":    service.DefaultPrices()[tier],
			"metadata": map[string]any{
				"business_id": businessID,
				"period_type": string(tier),
			},
		},
	})
	require.NoError(t, err)
	return body
}
