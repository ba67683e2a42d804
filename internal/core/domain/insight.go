package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Percent returns part/whole as a percentage rounded to two places, or zero
// when whole is zero.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(2)
}

// ParseInsightTier accepts only the paid tiers; insights have no free tier.
func ParseInsightTier(s string) (Tier, error) {
	tier, err := ParseTier(s)
	if err != nil {
		return "", err
	}
	if !tier.Paid() {
		return "", fmt.Errorf("%w: insights need weekly or monthly, got %q", ErrInvalidTier, s)
	}
	return tier, nil
}

// TrailingWindow covers the last days calendar days in loc, today included.
func TrailingWindow(now time.Time, loc *time.Location, days int) Window {
	today := DailyWindow(now.In(loc), loc)
	return Window{Start: today.Start.AddDate(0, 0, -(days - 1)), End: today.End}
}

type ProductProfit struct {
	ProductID    string
	ProductName  string
	UnitsSold    int
	Revenue      decimal.Decimal
	Cost         decimal.Decimal
	Profit       decimal.Decimal
	ProfitMargin decimal.Decimal // percent of the product's revenue
	Contribution decimal.Decimal // percent of the business's profit
}

// ProfitRanking orders products by profit over a trailing window.
type ProfitRanking struct {
	BusinessID  string
	Tier        Tier
	Window      Window
	TotalProfit decimal.Decimal
	Top         []ProductProfit // most profitable first
	Bottom      []ProductProfit // least profitable first
	GeneratedAt time.Time
}

type StockStatus string

const (
	StockCritical StockStatus = "critical"
	StockWarning  StockStatus = "warning"
	StockHealthy  StockStatus = "healthy"
	StockIdle     StockStatus = "idle"
)

// Urgency orders statuses for display, most urgent first.
func (s StockStatus) Urgency() int {
	switch s {
	case StockCritical:
		return 0
	case StockWarning:
		return 1
	case StockHealthy:
		return 2
	default:
		return 3
	}
}

var (
	criticalDays = decimal.NewFromInt(3)
	warningDays  = decimal.NewFromInt(7)
)

type StockForecast struct {
	ProductID         string
	ProductName       string
	CurrentStock      int
	AverageDailySales decimal.Decimal
	DaysRemaining     decimal.NullDecimal // invalid when the product is idle
	Status            StockStatus
}

// ForecastStock projects how long current stock lasts at the average daily
// rate of sold units over days.
func ForecastStock(level StockLevel, productName string, sold, days int) StockForecast {
	f := StockForecast{
		ProductID:         level.ProductID,
		ProductName:       productName,
		CurrentStock:      level.Quantity,
		AverageDailySales: decimal.Zero,
		Status:            StockIdle,
	}
	if sold <= 0 || days <= 0 {
		return f
	}
	f.AverageDailySales = decimal.NewFromInt(int64(sold)).Div(decimal.NewFromInt(int64(days))).Round(2)
	if f.AverageDailySales.IsZero() {
		return f
	}

	remaining := decimal.NewFromInt(int64(level.Quantity)).Div(f.AverageDailySales).Round(2)
	f.DaysRemaining = decimal.NewNullDecimal(remaining)
	switch {
	case remaining.LessThanOrEqual(criticalDays):
		f.Status = StockCritical
	case remaining.LessThanOrEqual(warningDays):
		f.Status = StockWarning
	default:
		f.Status = StockHealthy
	}
	return f
}

type StockPrediction struct {
	BusinessID  string
	Tier        Tier
	Window      Window
	Items       []StockForecast // most urgent first
	GeneratedAt time.Time
}

// Insights compares the trailing window with the equally long window right
// before it.
type Insights struct {
	BusinessID        string
	Tier              Tier
	Current           Window
	Previous          Window
	Revenue           decimal.Decimal
	PreviousRevenue   decimal.Decimal
	GrowthPercent     decimal.Decimal
	SaleCount         int
	AverageOrderValue decimal.Decimal
	TopProduct        string // by units sold, empty without sales
	SlowestProduct    string
	InventoryTurnover decimal.Decimal // units sold per unit on hand
	GeneratedAt       time.Time
}

// Growth is the percentage change from previous to current. Growth from
// nothing counts as 100%.
func Growth(current, previous decimal.Decimal) decimal.Decimal {
	if previous.IsZero() {
		if current.IsPositive() {
			return hundred.Round(2)
		}
		return decimal.Zero
	}
	return Percent(current.Sub(previous), previous)
}

type StockRisk struct {
	ProductID     string
	ProductName   string
	CurrentStock  int
	CapitalLocked decimal.Decimal // on-hand units at cost
	LastSoldAt    time.Time       // zero when not sold inside the lookback
}

// RiskReport flags stock that is not moving. Dead stock had no sale inside
// the lookback; slow movers last sold more than half the lookback ago.
type RiskReport struct {
	BusinessID         string
	Lookback           Window
	DeadStock          []StockRisk
	SlowMoving         []StockRisk
	TotalCapitalLocked decimal.Decimal
	GeneratedAt        time.Time
}
