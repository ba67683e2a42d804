package service

import (
	"context"
	"time"

	"github.com/rl1809/saleszy/internal/clock"
	"github.com/rl1809/saleszy/internal/core/domain"
	"github.com/rl1809/saleszy/internal/core/tenant"
	"github.com/rl1809/saleszy/internal/port"
)

// Store is the storage a Core needs: the transactional repository plus the
// read side of the catalog.
type Store interface {
	port.DatabaseRepository
	port.CatalogRepository
}

type Config struct {
	Retry       RetryPolicy
	Clock       clock.Clock
	FreeHistory time.Duration
	Webhook     WebhookConfig
}

// Core wires the services together and exposes the operations callers
// outside the core use.
type Core struct {
	Tenants      *tenant.Resolver
	Ledger       *InventoryLedger
	Sales        *SaleService
	Entitlements *EntitlementService
	Webhooks     *WebhookService
	Reports      *ReportService
	Clock        clock.Clock
}

// New builds a Core. cache may be nil.
func New(store Store, cache port.CacheRepository, cfg Config) *Core {
	if cfg.Clock == nil {
		cfg.Clock = clock.SystemClock{}
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	tenants := tenant.NewResolver(store)
	entitlements := NewEntitlementService(store, cache, tenants, cfg.Retry, cfg.Clock)
	return &Core{
		Tenants:      tenants,
		Ledger:       NewInventoryLedger(store, store, tenants, cfg.Retry),
		Entitlements: entitlements,
		Sales: NewSaleService(store, store, tenants, entitlements, SaleServiceConfig{
			Retry:       cfg.Retry,
			Clock:       cfg.Clock,
			FreeHistory: cfg.FreeHistory,
		}),
		Webhooks: NewWebhookService(store, tenants, entitlements, cfg.Webhook, cfg.Retry, cfg.Clock),
		Reports:  NewReportService(store, store, tenants, entitlements, cfg.Clock),
		Clock:    cfg.Clock,
	}
}

func (c *Core) RecordSale(ctx context.Context, businessID, productID string, quantity int) (domain.SaleResult, error) {
	return c.Sales.RecordSale(ctx, domain.SaleRequest{
		BusinessID: businessID,
		ProductID:  productID,
		Quantity:   quantity,
	})
}

func (c *Core) GetStockLevel(ctx context.Context, businessID, productID string) (int, error) {
	lvl, err := c.Ledger.Peek(ctx, businessID, productID)
	if err != nil {
		return 0, err
	}
	return lvl.Quantity, nil
}

func (c *Core) GetReport(ctx context.Context, businessID string, tier domain.Tier, anchor time.Time) (domain.Report, error) {
	return c.Reports.Report(ctx, businessID, tier, anchor)
}

func (c *Core) IngestPaymentWebhook(ctx context.Context, rawBody []byte, signature string) (domain.WebhookResult, error) {
	return c.Webhooks.Handle(ctx, rawBody, signature)
}

func (c *Core) EntitlementStatuses(ctx context.Context, businessID string) ([]domain.EntitlementStatus, error) {
	return c.Entitlements.Entitlements(ctx, businessID, c.Clock.Now())
}
