package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/saleszy/internal/core/domain"
)

func pluck[T any](items []T, id func(T) string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, id(it))
	}
	return out
}

func TestProfitRanking(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})
	f.product(t, "biz-1", "pen", 10, 4, 100)
	f.product(t, "biz-1", "ink", 20, 15, 100)
	f.product(t, "biz-1", "cap", 3, 3, 100)
	f.pay(t, "ref-weekly", "biz-1", domain.TierWeekly)

	f.saleAt(t, testStart.Add(-48*time.Hour), "biz-1", "pen", 3)    // profit 18
	f.saleAt(t, testStart.Add(-24*time.Hour), "biz-1", "ink", 2)    // profit 10
	f.saleAt(t, testStart.Add(-time.Hour), "biz-1", "cap", 1)       // profit 0
	f.saleAt(t, testStart.Add(-8*24*time.Hour), "biz-1", "pen", 10) // outside the week
	f.clock.Set(testStart)

	ranking, err := f.core.Reports.ProfitRanking(context.Background(), "biz-1", domain.TierWeekly)
	require.NoError(t, err)

	assert.True(t, ranking.TotalProfit.Equal(dec(28)), ranking.TotalProfit.String())
	productID := func(p domain.ProductProfit) string { return p.ProductID }
	assert.Equal(t, []string{"pen", "ink", "cap"}, pluck(ranking.Top, productID))
	assert.Equal(t, []string{"cap", "ink", "pen"}, pluck(ranking.Bottom, productID))

	pen := ranking.Top[0]
	assert.Equal(t, 3, pen.UnitsSold)
	assert.True(t, pen.Revenue.Equal(dec(30)))
	assert.True(t, pen.ProfitMargin.Equal(dec(60)), pen.ProfitMargin.String())
	assert.True(t, pen.Contribution.Equal(decimal.RequireFromString("64.29")), pen.Contribution.String())
	assert.True(t, ranking.Top[1].Contribution.Equal(decimal.RequireFromString("35.71")))
	assert.True(t, ranking.Top[2].Contribution.IsZero())
}

func TestProfitRanking_KeepsFive(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})
	f.pay(t, "ref-monthly", "biz-1", domain.TierMonthly)
	for i, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		f.product(t, "biz-1", id, int64(10+i), 5, 10)
		f.saleAt(t, testStart.Add(-time.Duration(i+1)*time.Hour), "biz-1", id, 1)
	}
	f.clock.Set(testStart)

	ranking, err := f.core.Reports.ProfitRanking(context.Background(), "biz-1", domain.TierMonthly)
	require.NoError(t, err)
	productID := func(p domain.ProductProfit) string { return p.ProductID }
	assert.Equal(t, []string{"g", "f", "e", "d", "c"}, pluck(ranking.Top, productID))
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, pluck(ranking.Bottom, productID))
}

func TestInsights_RequireEntitlement(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})
	f.product(t, "biz-1", "pen", 10, 4, 100)
	f.saleAt(t, testStart.Add(-time.Hour), "biz-1", "pen", 3)
	f.clock.Set(testStart)
	ctx := context.Background()

	_, err := f.core.Reports.ProfitRanking(ctx, "biz-1", domain.TierWeekly)
	assert.ErrorIs(t, err, domain.ErrPaymentRequired)
	_, err = f.core.Reports.StockPrediction(ctx, "biz-1", domain.TierMonthly)
	assert.ErrorIs(t, err, domain.ErrPaymentRequired)
	_, err = f.core.Reports.Insights(ctx, "biz-1", domain.TierWeekly)
	assert.ErrorIs(t, err, domain.ErrPaymentRequired)
	_, err = f.core.Reports.RiskMonitor(ctx, "biz-1", 0)
	assert.ErrorIs(t, err, domain.ErrPaymentRequired)

	// A weekly payment does not unlock monthly insights.
	f.pay(t, "ref-weekly", "biz-1", domain.TierWeekly)
	_, err = f.core.Reports.StockPrediction(ctx, "biz-1", domain.TierMonthly)
	assert.ErrorIs(t, err, domain.ErrPaymentRequired)
	_, err = f.core.Reports.StockPrediction(ctx, "biz-1", domain.TierWeekly)
	assert.NoError(t, err)

	_, err = f.core.Reports.Insights(ctx, "biz-1", domain.TierDaily)
	assert.ErrorIs(t, err, domain.ErrInvalidTier)
	_, err = f.core.Reports.ProfitRanking(ctx, "biz-missing", domain.TierWeekly)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStockPrediction(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})
	f.product(t, "biz-1", "idle", 5, 1, 5)
	f.product(t, "biz-1", "slow", 5, 1, 100)
	f.product(t, "biz-1", "mid", 5, 1, 24)
	f.product(t, "biz-1", "fast", 5, 1, 20)
	f.pay(t, "ref-weekly", "biz-1", domain.TierWeekly)

	f.saleAt(t, testStart.Add(-72*time.Hour), "biz-1", "fast", 7)
	f.saleAt(t, testStart.Add(-2*time.Hour), "biz-1", "fast", 7)
	f.saleAt(t, testStart.Add(-50*time.Hour), "biz-1", "mid", 14)
	f.saleAt(t, testStart.Add(-30*time.Hour), "biz-1", "slow", 7)
	f.clock.Set(testStart)

	pred, err := f.core.Reports.StockPrediction(context.Background(), "biz-1", domain.TierWeekly)
	require.NoError(t, err)
	require.Len(t, pred.Items, 4)

	productID := func(s domain.StockForecast) string { return s.ProductID }
	assert.Equal(t, []string{"fast", "mid", "slow", "idle"}, pluck(pred.Items, productID))

	fast := pred.Items[0]
	assert.Equal(t, domain.StockCritical, fast.Status)
	assert.Equal(t, 6, fast.CurrentStock)
	assert.Equal(t, "Product fast", fast.ProductName)
	assert.True(t, fast.AverageDailySales.Equal(dec(2)))
	require.True(t, fast.DaysRemaining.Valid)
	assert.True(t, fast.DaysRemaining.Decimal.Equal(dec(3)))

	assert.Equal(t, domain.StockWarning, pred.Items[1].Status)
	assert.Equal(t, domain.StockHealthy, pred.Items[2].Status)
	assert.Equal(t, domain.StockIdle, pred.Items[3].Status)
	assert.False(t, pred.Items[3].DaysRemaining.Valid)
}

func TestInsights_GrowthAndMovers(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})
	f.product(t, "biz-1", "pen", 10, 4, 100)
	f.product(t, "biz-1", "ink", 20, 15, 100)
	f.pay(t, "ref-weekly", "biz-1", domain.TierWeekly)

	f.saleAt(t, time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC), "biz-1", "pen", 5) // previous week, 50
	f.saleAt(t, time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC), "biz-1", "pen", 4)  // 40
	f.saleAt(t, time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC), "biz-1", "ink", 2)  // 40
	f.saleAt(t, time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC), "biz-1", "ink", 1) // 20
	f.clock.Set(testStart)

	in, err := f.core.Reports.Insights(context.Background(), "biz-1", domain.TierWeekly)
	require.NoError(t, err)

	assert.True(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC).Equal(in.Current.Start))
	assert.True(t, in.Previous.End.Equal(in.Current.Start))
	assert.True(t, time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC).Equal(in.Previous.Start))

	assert.True(t, in.Revenue.Equal(dec(100)), in.Revenue.String())
	assert.True(t, in.PreviousRevenue.Equal(dec(50)))
	assert.True(t, in.GrowthPercent.Equal(dec(100)), in.GrowthPercent.String())
	assert.Equal(t, 3, in.SaleCount)
	assert.True(t, in.AverageOrderValue.Equal(decimal.RequireFromString("33.33")), in.AverageOrderValue.String())
	assert.Equal(t, "Product pen", in.TopProduct)
	assert.Equal(t, "Product ink", in.SlowestProduct)
	// 7 units sold against 91 + 97 on hand.
	assert.True(t, in.InventoryTurnover.Equal(decimal.RequireFromString("0.04")), in.InventoryTurnover.String())
}

func TestInsights_NoSales(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})
	f.pay(t, "ref-monthly", "biz-1", domain.TierMonthly)

	in, err := f.core.Reports.Insights(context.Background(), "biz-1", domain.TierMonthly)
	require.NoError(t, err)
	assert.True(t, in.GrowthPercent.IsZero())
	assert.True(t, in.AverageOrderValue.IsZero())
	assert.True(t, in.InventoryTurnover.IsZero())
	assert.Empty(t, in.TopProduct)
}

func TestRiskMonitor(t *testing.T) {
	f := newFixture(t)
	f.business(t, domain.Business{ID: "biz-1"})
	f.product(t, "biz-1", "pen", 10, 4, 10)
	f.product(t, "biz-1", "ink", 20, 15, 10)
	f.product(t, "biz-1", "cap", 3, 3, 10)
	f.product(t, "biz-1", "old", 5, 2, 10)
	f.pay(t, "ref-monthly", "biz-1", domain.TierMonthly)

	f.saleAt(t, testStart.Add(-24*time.Hour), "biz-1", "pen", 1)   // 1 day ago
	f.saleAt(t, testStart.Add(-6*24*time.Hour), "biz-1", "ink", 1) // 6 days ago
	f.saleAt(t, testStart.Add(-18*24*time.Hour), "biz-1", "old", 1)
	f.clock.Set(testStart)
	ctx := context.Background()

	rep, err := f.core.Reports.RiskMonitor(ctx, "biz-1", 10)
	require.NoError(t, err)

	productID := func(r domain.StockRisk) string { return r.ProductID }
	assert.Equal(t, []string{"cap", "old"}, pluck(rep.DeadStock, productID))
	assert.Equal(t, []string{"ink"}, pluck(rep.SlowMoving, productID))
	assert.True(t, rep.DeadStock[0].LastSoldAt.IsZero())
	assert.True(t, rep.DeadStock[1].CapitalLocked.Equal(dec(18)))

	// 9x4 + 9x15 + 10x3 + 9x2
	assert.True(t, rep.TotalCapitalLocked.Equal(dec(219)), rep.TotalCapitalLocked.String())

	_, err = f.core.Reports.RiskMonitor(ctx, "biz-1", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)

	rep, err = f.core.Reports.RiskMonitor(ctx, "biz-1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"cap"}, pluck(rep.DeadStock, productID))
}
