package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/rl1809/saleszy/internal/core/domain"
	"github.com/rl1809/saleszy/internal/core/tenant"
	"github.com/rl1809/saleszy/internal/metrics"
	"github.com/rl1809/saleszy/internal/port"
)

// InventoryLedger owns per-product stock levels. Every mutation is a single
// conditional write, so concurrent reservations on one product serialize on
// its row and never drive the quantity below zero.
type InventoryLedger struct {
	db      port.DatabaseRepository
	catalog port.CatalogRepository
	tenants *tenant.Resolver
	retry   RetryPolicy
}

func NewInventoryLedger(db port.DatabaseRepository, catalog port.CatalogRepository, tenants *tenant.Resolver, retry RetryPolicy) *InventoryLedger {
	return &InventoryLedger{db: db, catalog: catalog, tenants: tenants, retry: retry}
}

// ownedProduct loads productID and checks it belongs to scope. A product of
// another business is Forbidden, a missing one NotFound.
func ownedProduct(ctx context.Context, catalog port.CatalogRepository, scope tenant.Scope, productID string) (*domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, fmt.Errorf("product id required: %w", domain.ErrNotFound)
	}
	product, err := catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("lookup product: %w", err)
	}
	if product == nil {
		return nil, fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}
	if !scope.Owns(product.BusinessID) {
		return nil, fmt.Errorf("product %s: %w", productID, domain.ErrForbidden)
	}
	return product, nil
}

func (l *InventoryLedger) scoped(ctx context.Context, businessID, productID string) (tenant.Scope, *domain.Product, error) {
	scope, err := l.tenants.Resolve(ctx, businessID)
	if err != nil {
		return tenant.Scope{}, nil, err
	}
	product, err := ownedProduct(ctx, l.catalog, scope, productID)
	if err != nil {
		return tenant.Scope{}, nil, err
	}
	return scope, product, nil
}

// Reserve takes quantity units out of stock. It fails with
// ErrInsufficientStock and changes nothing when fewer units are on hand.
func (l *InventoryLedger) Reserve(ctx context.Context, businessID, productID string, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, quantity)
	}
	scope, product, err := l.scoped(ctx, businessID, productID)
	if err != nil {
		return 0, err
	}

	return retry(ctx, l.retry, "reserve", func() (int, error) {
		var remaining int
		err := l.db.Atomic(ctx, func(tx port.Transaction) error {
			var err error
			remaining, err = tx.ReserveStock(ctx, scope.BusinessID, product.ID, quantity)
			return err
		})
		return remaining, err
	})
}

// Adjust applies a restock (positive) or correction (negative) delta.
func (l *InventoryLedger) Adjust(ctx context.Context, businessID, productID string, delta int) (int, error) {
	scope, product, err := l.scoped(ctx, businessID, productID)
	if err != nil {
		return 0, err
	}

	quantity, err := retry(ctx, l.retry, "adjust", func() (int, error) {
		var quantity int
		err := l.db.Atomic(ctx, func(tx port.Transaction) error {
			var err error
			quantity, err = tx.AdjustStock(ctx, scope.BusinessID, product.ID, delta)
			return err
		})
		return quantity, err
	})
	l.observe("adjust", err)
	if err != nil {
		return 0, err
	}

	log.Info().
		Str("business_id", scope.BusinessID).
		Str("product_id", product.ID).
		Int("delta", delta).
		Int("quantity", quantity).
		Msg("stock adjusted")
	return quantity, nil
}

// Set overwrites the stock level and its low-stock threshold.
func (l *InventoryLedger) Set(ctx context.Context, businessID, productID string, quantity, lowStockThreshold int) error {
	if quantity < 0 || lowStockThreshold < 0 {
		return fmt.Errorf("%w: quantity %d, threshold %d", domain.ErrInvalidAdjustment, quantity, lowStockThreshold)
	}
	scope, product, err := l.scoped(ctx, businessID, productID)
	if err != nil {
		return err
	}

	_, err = retry(ctx, l.retry, "set_stock", func() (struct{}, error) {
		return struct{}{}, l.db.Atomic(ctx, func(tx port.Transaction) error {
			return tx.SetStock(ctx, domain.StockLevel{
				BusinessID:        scope.BusinessID,
				ProductID:         product.ID,
				Quantity:          quantity,
				LowStockThreshold: lowStockThreshold,
			})
		})
	})
	l.observe("set", err)
	return err
}

// Peek returns the current stock level. A product whose stock was never
// set has no level and fails with ErrNotFound, the same as Reserve and
// Adjust do for it.
func (l *InventoryLedger) Peek(ctx context.Context, businessID, productID string) (domain.StockLevel, error) {
	scope, product, err := l.scoped(ctx, businessID, productID)
	if err != nil {
		return domain.StockLevel{}, err
	}

	lvl, err := l.db.GetStockLevel(ctx, scope.BusinessID, product.ID)
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("get stock level: %w", err)
	}
	if lvl == nil {
		return domain.StockLevel{}, fmt.Errorf("stock for product %s: %w", product.ID, domain.ErrNotFound)
	}
	return *lvl, nil
}

// LowStock lists the business's stock levels at or below their threshold.
func (l *InventoryLedger) LowStock(ctx context.Context, businessID string) ([]domain.StockLevel, error) {
	scope, err := l.tenants.Resolve(ctx, businessID)
	if err != nil {
		return nil, err
	}
	levels, err := l.db.ListLowStock(ctx, scope.BusinessID)
	if err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	return levels, nil
}

func (l *InventoryLedger) observe(kind string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidAdjustment):
		outcome = "invalid"
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrForbidden):
		outcome = "rejected"
	case domain.IsRetryable(err):
		outcome = "conflict"
	default:
		outcome = "error"
	}
	metrics.StockAdjustmentsTotal.WithLabelValues(kind, outcome).Inc()
}
