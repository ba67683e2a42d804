package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rl1809/saleszy/internal/clock"
	"github.com/rl1809/saleszy/internal/core/domain"
	"github.com/rl1809/saleszy/internal/core/tenant"
	"github.com/rl1809/saleszy/internal/metrics"
	"github.com/rl1809/saleszy/internal/port"
)

const (
	defaultSalesPageSize = 20
	maxSalesPageSize     = 100
	defaultFreeHistory   = 7 * 24 * time.Hour
)

// SaleService records sales. The stock reservation and the sale row commit
// in one transaction; a sale never exists without its decrement and the
// other way round.
type SaleService struct {
	db           port.DatabaseRepository
	catalog      port.CatalogRepository
	tenants      *tenant.Resolver
	entitlements *EntitlementService
	retry        RetryPolicy
	clock        clock.Clock
	freeHistory  time.Duration
}

type SaleServiceConfig struct {
	Retry RetryPolicy
	Clock clock.Clock
	// FreeHistory is how far back businesses without a paid tier may read
	// their sales.
	FreeHistory time.Duration
}

func NewSaleService(db port.DatabaseRepository, catalog port.CatalogRepository, tenants *tenant.Resolver, entitlements *EntitlementService, cfg SaleServiceConfig) *SaleService {
	if cfg.Clock == nil {
		cfg.Clock = clock.SystemClock{}
	}
	if cfg.FreeHistory <= 0 {
		cfg.FreeHistory = defaultFreeHistory
	}
	return &SaleService{
		db:           db,
		catalog:      catalog,
		tenants:      tenants,
		entitlements: entitlements,
		retry:        cfg.Retry,
		clock:        cfg.Clock,
		freeHistory:  cfg.FreeHistory,
	}
}

// RecordSale validates req, reserves stock and stores the sale with the
// product's current price and cost. A RequestID seen before returns the
// originally recorded sale without touching stock again.
func (s *SaleService) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResult, error) {
	res, err := s.recordSale(ctx, req)
	s.observe(req, res, err)
	return res, err
}

func (s *SaleService) recordSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResult, error) {
	if req.Quantity <= 0 {
		return domain.SaleResult{}, fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, req.Quantity)
	}
	scope, err := s.tenants.Resolve(ctx, req.BusinessID)
	if err != nil {
		return domain.SaleResult{}, err
	}
	product, err := ownedProduct(ctx, s.catalog, scope, req.ProductID)
	if err != nil {
		return domain.SaleResult{}, err
	}

	requestID := strings.TrimSpace(req.RequestID)
	if requestID != "" {
		if res, ok, err := s.replay(ctx, scope, requestID); err != nil || ok {
			return res, err
		}
	}

	res, err := retry(ctx, s.retry, "record_sale", func() (domain.SaleResult, error) {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.SaleResult{}, fmt.Errorf("generate sale id: %w", err)
		}
		sale := domain.Sale{
			ID:          id.String(),
			BusinessID:  scope.BusinessID,
			ProductID:   product.ID,
			ProductName: product.Name,
			RequestID:   requestID,
			Quantity:    req.Quantity,
			UnitPrice:   product.UnitPrice,
			UnitCost:    product.CostPrice,
			CreatedAt:   s.clock.Now(),
		}

		var remaining int
		err = s.db.Atomic(ctx, func(tx port.Transaction) error {
			var err error
			if remaining, err = tx.ReserveStock(ctx, scope.BusinessID, product.ID, req.Quantity); err != nil {
				return err
			}
			return tx.InsertSale(ctx, sale)
		})
		return domain.SaleResult{Sale: sale, RemainingStock: remaining}, err
	})

	// A concurrent request with the same key won; its sale is the answer.
	if errors.Is(err, domain.ErrDuplicateKey) && requestID != "" {
		res, ok, rerr := s.replay(ctx, scope, requestID)
		if rerr != nil {
			return domain.SaleResult{}, rerr
		}
		if ok {
			return res, nil
		}
	}
	if err != nil {
		return domain.SaleResult{}, err
	}
	return res, nil
}

func (s *SaleService) replay(ctx context.Context, scope tenant.Scope, requestID string) (domain.SaleResult, bool, error) {
	sale, err := s.db.GetSaleByRequestID(ctx, scope.BusinessID, requestID)
	if err != nil {
		return domain.SaleResult{}, false, fmt.Errorf("lookup sale by request id: %w", err)
	}
	if sale == nil {
		return domain.SaleResult{}, false, nil
	}

	res := domain.SaleResult{Sale: *sale, Replayed: true}
	lvl, err := s.db.GetStockLevel(ctx, scope.BusinessID, sale.ProductID)
	if err != nil {
		return domain.SaleResult{}, false, fmt.Errorf("get stock level: %w", err)
	}
	if lvl != nil {
		res.RemainingStock = lvl.Quantity
	}
	return res, true, nil
}

func (s *SaleService) observe(req domain.SaleRequest, res domain.SaleResult, err error) {
	outcome := "ok"
	evt := log.Debug()
	switch {
	case err == nil && res.Replayed:
		outcome = "replayed"
	case err == nil:
		evt = log.Info().Str("sale_id", res.Sale.ID).Int("remaining", res.RemainingStock)
	case domain.IsBusinessRule(err):
		outcome = "insufficient_stock"
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrForbidden):
		outcome = "rejected"
	case domain.IsRetryable(err):
		outcome = "conflict"
		evt = log.Warn().Err(err)
	default:
		outcome = "error"
		evt = log.Error().Err(err)
	}
	metrics.SalesTotal.WithLabelValues(outcome).Inc()

	evt.Str("business_id", req.BusinessID).
		Str("product_id", req.ProductID).
		Int("quantity", req.Quantity).
		Str("outcome", outcome).
		Msg("record sale")
}

// historyCutoff is the oldest sale time the business may read at now. Any
// active paid tier lifts the limit.
func (s *SaleService) historyCutoff(ctx context.Context, businessID string, now time.Time) (time.Time, error) {
	premium, err := s.entitlements.HasAny(ctx, businessID, now)
	if err != nil {
		return time.Time{}, err
	}
	if premium {
		return time.Unix(0, 0).UTC(), nil
	}
	return now.Add(-s.freeHistory), nil
}

// GetSale returns one sale. Sales older than the free history window need
// an active paid tier.
func (s *SaleService) GetSale(ctx context.Context, businessID, saleID string) (domain.Sale, error) {
	scope, err := s.tenants.Resolve(ctx, businessID)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.db.GetSale(ctx, scope.BusinessID, strings.TrimSpace(saleID))
	if err != nil {
		return domain.Sale{}, fmt.Errorf("get sale: %w", err)
	}
	if sale == nil {
		return domain.Sale{}, fmt.Errorf("sale %s: %w", saleID, domain.ErrNotFound)
	}

	cutoff, err := s.historyCutoff(ctx, scope.BusinessID, s.clock.Now())
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.CreatedAt.Before(cutoff) {
		return domain.Sale{}, fmt.Errorf("sale %s is outside the free history window: %w", saleID, domain.ErrPaymentRequired)
	}
	return *sale, nil
}

// ListSales pages through the business's sales, newest first, within the
// history the business can see.
func (s *SaleService) ListSales(ctx context.Context, businessID string, limit, offset int) ([]domain.Sale, error) {
	scope, err := s.tenants.Resolve(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultSalesPageSize
	}
	if limit > maxSalesPageSize {
		limit = maxSalesPageSize
	}
	if offset < 0 {
		offset = 0
	}

	cutoff, err := s.historyCutoff(ctx, scope.BusinessID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	sales, err := s.db.ListRecentSales(ctx, scope.BusinessID, cutoff, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	return sales, nil
}
