package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/saleszy/internal/core/domain"
	"github.com/rl1809/saleszy/internal/core/tenant"
	"github.com/rl1809/saleszy/internal/metrics"
)

const (
	rankingSize          = 5
	defaultRiskLookback  = 30
	maxRiskLookbackDays  = 366
	insightProfitRanking = "profit_ranking"
	insightStock         = "stock_prediction"
	insightSummary       = "summary"
	insightRisk          = "risk"
)

// trailing resolves the business, checks the tier is unlocked and loads the
// sales of the tier's trailing window.
func (s *ReportService) trailing(ctx context.Context, businessID string, tier domain.Tier) (tenant.Scope, domain.Window, []domain.Sale, time.Time, error) {
	if _, err := domain.ParseInsightTier(string(tier)); err != nil {
		return tenant.Scope{}, domain.Window{}, nil, time.Time{}, err
	}
	scope, err := s.tenants.Resolve(ctx, businessID)
	if err != nil {
		return tenant.Scope{}, domain.Window{}, nil, time.Time{}, err
	}
	now := s.clock.Now()
	if err := s.authorize(ctx, scope, tier, now); err != nil {
		return tenant.Scope{}, domain.Window{}, nil, time.Time{}, err
	}

	window := domain.TrailingWindow(now, scope.Location, tier.TrendDays())
	sales, err := s.db.ListSales(ctx, scope.BusinessID, window)
	if err != nil {
		return tenant.Scope{}, domain.Window{}, nil, time.Time{}, fmt.Errorf("list sales: %w", err)
	}
	return scope, window, sales, now, nil
}

// ProfitRanking ranks products by profit over the tier's trailing days.
func (s *ReportService) ProfitRanking(ctx context.Context, businessID string, tier domain.Tier) (domain.ProfitRanking, error) {
	ranking, err := s.profitRanking(ctx, businessID, tier)
	observeInsight(insightProfitRanking, err)
	return ranking, err
}

func (s *ReportService) profitRanking(ctx context.Context, businessID string, tier domain.Tier) (domain.ProfitRanking, error) {
	scope, window, sales, now, err := s.trailing(ctx, businessID, tier)
	if err != nil {
		return domain.ProfitRanking{}, err
	}
	rep := aggregate(scope.BusinessID, tier, window, sales, now)

	items := make([]domain.ProductProfit, 0, len(rep.Products))
	for _, p := range rep.Products {
		items = append(items, domain.ProductProfit{
			ProductID:    p.ProductID,
			ProductName:  p.ProductName,
			UnitsSold:    p.UnitsSold,
			Revenue:      p.TotalRevenue,
			Cost:         p.TotalCost,
			Profit:       p.TotalProfit,
			ProfitMargin: domain.Percent(p.TotalProfit, p.TotalRevenue),
			Contribution: domain.Percent(p.TotalProfit, rep.TotalProfit),
		})
	}

	byProfit := func(desc bool) []domain.ProductProfit {
		out := append([]domain.ProductProfit(nil), items...)
		sort.Slice(out, func(i, j int) bool {
			if c := out[i].Profit.Cmp(out[j].Profit); c != 0 {
				return (c > 0) == desc
			}
			return out[i].ProductID < out[j].ProductID
		})
		return out[:min(rankingSize, len(out))]
	}

	return domain.ProfitRanking{
		BusinessID:  scope.BusinessID,
		Tier:        tier,
		Window:      window,
		TotalProfit: rep.TotalProfit,
		Top:         byProfit(true),
		Bottom:      byProfit(false),
		GeneratedAt: now,
	}, nil
}

// StockPrediction estimates how many days each stocked product lasts at the
// average daily rate over the tier's trailing days.
func (s *ReportService) StockPrediction(ctx context.Context, businessID string, tier domain.Tier) (domain.StockPrediction, error) {
	pred, err := s.stockPrediction(ctx, businessID, tier)
	observeInsight(insightStock, err)
	return pred, err
}

func (s *ReportService) stockPrediction(ctx context.Context, businessID string, tier domain.Tier) (domain.StockPrediction, error) {
	scope, window, sales, now, err := s.trailing(ctx, businessID, tier)
	if err != nil {
		return domain.StockPrediction{}, err
	}
	levels, err := s.db.ListStockLevels(ctx, scope.BusinessID)
	if err != nil {
		return domain.StockPrediction{}, fmt.Errorf("list stock levels: %w", err)
	}

	sold := make(map[string]int)
	for _, p := range aggregate(scope.BusinessID, tier, window, sales, now).Products {
		sold[p.ProductID] = p.UnitsSold
	}

	items := make([]domain.StockForecast, 0, len(levels))
	for _, lvl := range levels {
		product, err := s.product(ctx, lvl.ProductID)
		if err != nil {
			return domain.StockPrediction{}, err
		}
		items = append(items, domain.ForecastStock(lvl, product.Name, sold[lvl.ProductID], tier.TrendDays()))
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Status.Urgency() < items[j].Status.Urgency()
	})

	return domain.StockPrediction{
		BusinessID:  scope.BusinessID,
		Tier:        tier,
		Window:      window,
		Items:       items,
		GeneratedAt: now,
	}, nil
}

// Insights compares the tier's trailing days with the same number of days
// before them.
func (s *ReportService) Insights(ctx context.Context, businessID string, tier domain.Tier) (domain.Insights, error) {
	in, err := s.insights(ctx, businessID, tier)
	observeInsight(insightSummary, err)
	return in, err
}

func (s *ReportService) insights(ctx context.Context, businessID string, tier domain.Tier) (domain.Insights, error) {
	scope, window, sales, now, err := s.trailing(ctx, businessID, tier)
	if err != nil {
		return domain.Insights{}, err
	}
	previous := domain.Window{Start: window.Start.AddDate(0, 0, -tier.TrendDays()), End: window.Start}
	prevSales, err := s.db.ListSales(ctx, scope.BusinessID, previous)
	if err != nil {
		return domain.Insights{}, fmt.Errorf("list sales: %w", err)
	}
	levels, err := s.db.ListStockLevels(ctx, scope.BusinessID)
	if err != nil {
		return domain.Insights{}, fmt.Errorf("list stock levels: %w", err)
	}

	cur := aggregate(scope.BusinessID, tier, window, sales, now)
	prev := aggregate(scope.BusinessID, tier, previous, prevSales, now)

	in := domain.Insights{
		BusinessID:        scope.BusinessID,
		Tier:              tier,
		Current:           window,
		Previous:          previous,
		Revenue:           cur.TotalRevenue,
		PreviousRevenue:   prev.TotalRevenue,
		GrowthPercent:     domain.Growth(cur.TotalRevenue, prev.TotalRevenue),
		SaleCount:         cur.SaleCount,
		AverageOrderValue: decimal.Zero,
		InventoryTurnover: decimal.Zero,
		GeneratedAt:       now,
	}
	if cur.SaleCount > 0 {
		in.AverageOrderValue = cur.TotalRevenue.Div(decimal.NewFromInt(int64(cur.SaleCount))).Round(2)
	}

	if len(cur.Products) > 0 {
		moved := append([]domain.ProductSummary(nil), cur.Products...)
		sort.Slice(moved, func(i, j int) bool {
			if moved[i].UnitsSold != moved[j].UnitsSold {
				return moved[i].UnitsSold > moved[j].UnitsSold
			}
			return moved[i].ProductID < moved[j].ProductID
		})
		in.TopProduct = moved[0].ProductName
		in.SlowestProduct = moved[len(moved)-1].ProductName
	}

	onHand := 0
	for _, lvl := range levels {
		onHand += lvl.Quantity
	}
	if onHand > 0 {
		in.InventoryTurnover = decimal.NewFromInt(int64(cur.TotalUnitsSold)).Div(decimal.NewFromInt(int64(onHand))).Round(2)
	}
	return in, nil
}

// RiskMonitor flags stock with no recent sales and totals the capital held
// in stock at cost. Either paid tier unlocks it. lookbackDays of zero means
// 30.
func (s *ReportService) RiskMonitor(ctx context.Context, businessID string, lookbackDays int) (domain.RiskReport, error) {
	rep, err := s.riskMonitor(ctx, businessID, lookbackDays)
	observeInsight(insightRisk, err)
	return rep, err
}

func (s *ReportService) riskMonitor(ctx context.Context, businessID string, lookbackDays int) (domain.RiskReport, error) {
	if lookbackDays == 0 {
		lookbackDays = defaultRiskLookback
	}
	if lookbackDays < 1 || lookbackDays > maxRiskLookbackDays {
		return domain.RiskReport{}, fmt.Errorf("%w: lookback of %d days", domain.ErrInvalidWindow, lookbackDays)
	}

	scope, err := s.tenants.Resolve(ctx, businessID)
	if err != nil {
		return domain.RiskReport{}, err
	}
	now := s.clock.Now()
	premium, err := s.entitlements.HasAny(ctx, scope.BusinessID, now)
	if err != nil {
		return domain.RiskReport{}, err
	}
	if !premium {
		return domain.RiskReport{}, fmt.Errorf("risk monitor is locked: %w", domain.ErrPaymentRequired)
	}

	window := domain.TrailingWindow(now, scope.Location, lookbackDays)
	sales, err := s.db.ListSales(ctx, scope.BusinessID, window)
	if err != nil {
		return domain.RiskReport{}, fmt.Errorf("list sales: %w", err)
	}
	levels, err := s.db.ListStockLevels(ctx, scope.BusinessID)
	if err != nil {
		return domain.RiskReport{}, fmt.Errorf("list stock levels: %w", err)
	}

	lastSold := make(map[string]time.Time)
	for _, sale := range sales {
		if sale.CreatedAt.After(lastSold[sale.ProductID]) {
			lastSold[sale.ProductID] = sale.CreatedAt
		}
	}

	rep := domain.RiskReport{
		BusinessID:         scope.BusinessID,
		Lookback:           window,
		DeadStock:          []domain.StockRisk{},
		SlowMoving:         []domain.StockRisk{},
		TotalCapitalLocked: decimal.Zero,
		GeneratedAt:        now,
	}
	today := domain.DailyWindow(now.In(scope.Location), scope.Location).Start
	for _, lvl := range levels {
		product, err := s.product(ctx, lvl.ProductID)
		if err != nil {
			return domain.RiskReport{}, err
		}
		risk := domain.StockRisk{
			ProductID:     lvl.ProductID,
			ProductName:   product.Name,
			CurrentStock:  lvl.Quantity,
			CapitalLocked: product.CostPrice.Mul(decimal.NewFromInt(int64(lvl.Quantity))).Round(2),
			LastSoldAt:    lastSold[lvl.ProductID],
		}
		rep.TotalCapitalLocked = rep.TotalCapitalLocked.Add(risk.CapitalLocked)

		if risk.LastSoldAt.IsZero() {
			rep.DeadStock = append(rep.DeadStock, risk)
			continue
		}
		if daysBetween(risk.LastSoldAt.In(scope.Location), today) > lookbackDays/2 {
			rep.SlowMoving = append(rep.SlowMoving, risk)
		}
	}
	return rep, nil
}

// product loads a stocked product. A stock row whose product is gone still
// reports, with no name and zero cost.
func (s *ReportService) product(ctx context.Context, productID string) (domain.Product, error) {
	p, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, fmt.Errorf("lookup product: %w", err)
	}
	if p == nil {
		return domain.Product{ID: productID, CostPrice: decimal.Zero}, nil
	}
	return *p, nil
}

// daysBetween counts calendar days from the date of from to the date of to.
func daysBetween(from, to time.Time) int {
	y1, m1, d1 := from.Date()
	y2, m2, d2 := to.Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func observeInsight(kind string, err error) {
	metrics.InsightRequestsTotal.WithLabelValues(kind, requestOutcome(err)).Inc()
}
