package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// midnight returns 00:00 in loc on the calendar date anchor carries in its
// own location.
func midnight(anchor time.Time, loc *time.Location) time.Time {
	y, m, d := anchor.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func DailyWindow(date time.Time, loc *time.Location) Window {
	start := midnight(date, loc)
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

func WeeklyWindow(weekStart time.Time, loc *time.Location) Window {
	start := midnight(weekStart, loc)
	return Window{Start: start, End: start.AddDate(0, 0, 7)}
}

func MonthlyWindow(year int, month time.Month, loc *time.Location) Window {
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(0, 1, 0)}
}

// WindowFor builds the report window for tier anchored on the calendar date
// of anchor. Monthly windows use the anchor's year and month.
func WindowFor(tier Tier, anchor time.Time, loc *time.Location) (Window, error) {
	if anchor.IsZero() {
		return Window{}, fmt.Errorf("%w: missing anchor date", ErrInvalidWindow)
	}
	switch tier {
	case TierDaily:
		return DailyWindow(anchor, loc), nil
	case TierWeekly:
		return WeeklyWindow(anchor, loc), nil
	case TierMonthly:
		y, m, _ := anchor.Date()
		return MonthlyWindow(y, m, loc), nil
	default:
		return Window{}, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
}

type ProductSummary struct {
	ProductID    string
	ProductName  string
	UnitsSold    int
	TotalRevenue decimal.Decimal
	TotalCost    decimal.Decimal
	TotalProfit  decimal.Decimal
}

type Report struct {
	BusinessID     string
	Tier           Tier
	Window         Window
	TotalRevenue   decimal.Decimal
	TotalCost      decimal.Decimal
	TotalProfit    decimal.Decimal
	ProfitMargin   decimal.Decimal // percent, two decimal places
	TotalUnitsSold int
	SaleCount      int
	Products       []ProductSummary
	GeneratedAt    time.Time
}

type TrendPoint struct {
	Date    time.Time
	Revenue decimal.Decimal
	Profit  decimal.Decimal
}
