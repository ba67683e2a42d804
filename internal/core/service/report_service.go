package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/rl1809/saleszy/internal/clock"
	"github.com/rl1809/saleszy/internal/core/domain"
	"github.com/rl1809/saleszy/internal/core/tenant"
	"github.com/rl1809/saleszy/internal/metrics"
	"github.com/rl1809/saleszy/internal/port"
)

// ReportService aggregates recorded sales over calendar windows in the
// business's time zone, and derives the premium insights from them. Paid
// tiers are checked before any sale is read.
type ReportService struct {
	db           port.DatabaseRepository
	catalog      port.CatalogRepository
	tenants      *tenant.Resolver
	entitlements *EntitlementService
	clock        clock.Clock
}

func NewReportService(db port.DatabaseRepository, catalog port.CatalogRepository, tenants *tenant.Resolver, entitlements *EntitlementService, clk clock.Clock) *ReportService {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &ReportService{db: db, catalog: catalog, tenants: tenants, entitlements: entitlements, clock: clk}
}

func (s *ReportService) Daily(ctx context.Context, businessID string, date time.Time) (domain.Report, error) {
	return s.Report(ctx, businessID, domain.TierDaily, date)
}

func (s *ReportService) Weekly(ctx context.Context, businessID string, weekStart time.Time) (domain.Report, error) {
	return s.Report(ctx, businessID, domain.TierWeekly, weekStart)
}

func (s *ReportService) Monthly(ctx context.Context, businessID string, year int, month time.Month) (domain.Report, error) {
	return s.Report(ctx, businessID, domain.TierMonthly, time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))
}

// Report builds the tier's report for the window anchored on anchor's
// calendar date. A locked paid tier fails with ErrPaymentRequired and no
// figures at all.
func (s *ReportService) Report(ctx context.Context, businessID string, tier domain.Tier, anchor time.Time) (domain.Report, error) {
	rep, err := s.report(ctx, businessID, tier, anchor)
	observeReport(tier, err)
	return rep, err
}

func (s *ReportService) report(ctx context.Context, businessID string, tier domain.Tier, anchor time.Time) (domain.Report, error) {
	scope, err := s.tenants.Resolve(ctx, businessID)
	if err != nil {
		return domain.Report{}, err
	}
	window, err := domain.WindowFor(tier, anchor, scope.Location)
	if err != nil {
		return domain.Report{}, err
	}

	now := s.clock.Now()
	if err := s.authorize(ctx, scope, tier, now); err != nil {
		return domain.Report{}, err
	}

	sales, err := s.db.ListSales(ctx, scope.BusinessID, window)
	if err != nil {
		return domain.Report{}, fmt.Errorf("list sales: %w", err)
	}
	return aggregate(scope.BusinessID, tier, window, sales, now), nil
}

// Trend returns per-day revenue and profit for the trailing days the tier
// covers, ending with today in the business's time zone.
func (s *ReportService) Trend(ctx context.Context, businessID string, tier domain.Tier) ([]domain.TrendPoint, error) {
	scope, err := s.tenants.Resolve(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if _, err := domain.ParseTier(string(tier)); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := s.authorize(ctx, scope, tier, now); err != nil {
		return nil, err
	}

	days := tier.TrendDays()
	window := domain.TrailingWindow(now, scope.Location, days)

	sales, err := s.db.ListSales(ctx, scope.BusinessID, window)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}

	points := make([]domain.TrendPoint, days)
	for i := range points {
		points[i] = domain.TrendPoint{
			Date:    window.Start.AddDate(0, 0, i),
			Revenue: decimal.Zero,
			Profit:  decimal.Zero,
		}
	}
	for _, sale := range sales {
		day := domain.DailyWindow(sale.CreatedAt.In(scope.Location), scope.Location).Start
		for i := range points {
			if points[i].Date.Equal(day) {
				revenue := sale.Revenue()
				points[i].Revenue = points[i].Revenue.Add(revenue)
				points[i].Profit = points[i].Profit.Add(revenue.Sub(sale.Cost()))
				break
			}
		}
	}
	return points, nil
}

func (s *ReportService) authorize(ctx context.Context, scope tenant.Scope, tier domain.Tier, now time.Time) error {
	if !tier.Paid() {
		return nil
	}
	ok, err := s.entitlements.IsUnlocked(ctx, scope.BusinessID, tier, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s report is locked: %w", tier, domain.ErrPaymentRequired)
	}
	return nil
}

func observeReport(tier domain.Tier, err error) {
	metrics.ReportRequestsTotal.WithLabelValues(string(tier), requestOutcome(err)).Inc()
}

// requestOutcome labels a report or insight request. Locked tiers are
// expected and only logged at debug.
func requestOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsBusinessRule(err):
		log.Debug().Err(err).Msg("report locked")
		return "payment_required"
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrInvalidTier), errors.Is(err, domain.ErrInvalidWindow):
		return "rejected"
	default:
		log.Error().Err(err).Msg("report failed")
		return "error"
	}
}

// aggregate sums sales inside window. Sales are immutable snapshots, so a
// closed window always aggregates to the same report.
func aggregate(businessID string, tier domain.Tier, window domain.Window, sales []domain.Sale, now time.Time) domain.Report {
	rep := domain.Report{
		BusinessID:   businessID,
		Tier:         tier,
		Window:       window,
		TotalRevenue: decimal.Zero,
		TotalCost:    decimal.Zero,
		TotalProfit:  decimal.Zero,
		ProfitMargin: decimal.Zero,
		Products:     []domain.ProductSummary{},
		GeneratedAt:  now,
	}

	byProduct := make(map[string]*domain.ProductSummary)
	for _, sale := range sales {
		if sale.BusinessID != businessID || !window.Contains(sale.CreatedAt) {
			continue
		}
		revenue, cost := sale.Revenue(), sale.Cost()

		rep.TotalRevenue = rep.TotalRevenue.Add(revenue)
		rep.TotalCost = rep.TotalCost.Add(cost)
		rep.TotalUnitsSold += sale.Quantity
		rep.SaleCount++

		p, ok := byProduct[sale.ProductID]
		if !ok {
			p = &domain.ProductSummary{
				ProductID:    sale.ProductID,
				ProductName:  sale.ProductName,
				TotalRevenue: decimal.Zero,
				TotalCost:    decimal.Zero,
			}
			byProduct[sale.ProductID] = p
		}
		p.UnitsSold += sale.Quantity
		p.TotalRevenue = p.TotalRevenue.Add(revenue)
		p.TotalCost = p.TotalCost.Add(cost)
	}

	rep.TotalProfit = rep.TotalRevenue.Sub(rep.TotalCost)
	rep.ProfitMargin = domain.Percent(rep.TotalProfit, rep.TotalRevenue)

	for _, p := range byProduct {
		p.TotalProfit = p.TotalRevenue.Sub(p.TotalCost)
		rep.Products = append(rep.Products, *p)
	}
	sort.Slice(rep.Products, func(i, j int) bool {
		a, b := rep.Products[i], rep.Products[j]
		if c := a.TotalRevenue.Cmp(b.TotalRevenue); c != 0 {
			return c > 0
		}
		return a.ProductID < b.ProductID
	})
	return rep
}
