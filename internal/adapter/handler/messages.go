package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/saleszy/internal/core/domain"
)

// Wire messages shared by the gRPC service (JSON codec) and the HTTP API.
// Money travels as decimal strings.

type RecordSaleRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	RequestID string `json:"request_id,omitempty"`
}

type Sale struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	RequestID   string          `json:"request_id,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Revenue     decimal.Decimal `json:"revenue"`
	CreatedAt   time.Time       `json:"created_at"`
}

type RecordSaleResponse struct {
	Sale           Sale `json:"sale"`
	RemainingStock int  `json:"remaining_stock"`
	Replayed       bool `json:"replayed"`
}

type GetSaleRequest struct {
	SaleID string `json:"sale_id"`
}

type ListSalesRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

type ListSalesResponse struct {
	Sales []Sale `json:"sales"`
}

type StockLevelRequest struct {
	ProductID string `json:"product_id"`
}

type AdjustStockRequest struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"delta"`
}

type SetStockRequest struct {
	ProductID         string `json:"product_id"`
	Quantity          int    `json:"quantity"`
	LowStockThreshold int    `json:"low_stock_threshold"`
}

type StockLevel struct {
	ProductID         string    `json:"product_id"`
	Quantity          int       `json:"quantity"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	Low               bool      `json:"low"`
	UpdatedAt         time.Time `json:"updated_at,omitempty"`
}

type LowStockRequest struct{}

type LowStockResponse struct {
	Items []StockLevel `json:"items"`
}

type ReportRequest struct {
	Tier string `json:"tier"`
	// Date is YYYY-MM-DD (daily, weekly start) or YYYY-MM (monthly).
	Date string `json:"date"`
}

type ProductSummary struct {
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name,omitempty"`
	UnitsSold    int             `json:"units_sold"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	TotalProfit  decimal.Decimal `json:"total_profit"`
}

type ReportResponse struct {
	Tier           string           `json:"tier"`
	WindowStart    time.Time        `json:"window_start"`
	WindowEnd      time.Time        `json:"window_end"`
	TotalRevenue   decimal.Decimal  `json:"total_revenue"`
	TotalCost      decimal.Decimal  `json:"total_cost"`
	TotalProfit    decimal.Decimal  `json:"total_profit"`
	ProfitMargin   decimal.Decimal  `json:"profit_margin"`
	TotalUnitsSold int              `json:"total_units_sold"`
	SaleCount      int              `json:"sale_count"`
	Products       []ProductSummary `json:"products"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

type TrendRequest struct {
	Tier string `json:"tier"`
}

type TrendPoint struct {
	Date    string          `json:"date"`
	Revenue decimal.Decimal `json:"revenue"`
	Profit  decimal.Decimal `json:"profit"`
}

type TrendResponse struct {
	Points []TrendPoint `json:"points"`
}

type InsightRequest struct {
	Tier string `json:"tier"`
}

type ProductProfit struct {
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name,omitempty"`
	UnitsSold    int             `json:"units_sold"`
	Revenue      decimal.Decimal `json:"revenue"`
	Cost         decimal.Decimal `json:"cost"`
	Profit       decimal.Decimal `json:"profit"`
	ProfitMargin decimal.Decimal `json:"profit_margin"`
	Contribution decimal.Decimal `json:"contribution"`
}

type ProfitRankingResponse struct {
	Tier        string          `json:"tier"`
	WindowStart time.Time       `json:"window_start"`
	WindowEnd   time.Time       `json:"window_end"`
	TotalProfit decimal.Decimal `json:"total_profit"`
	Top         []ProductProfit `json:"top"`
	Bottom      []ProductProfit `json:"bottom"`
	GeneratedAt time.Time       `json:"generated_at"`
}

type StockForecast struct {
	ProductID         string           `json:"product_id"`
	ProductName       string           `json:"product_name,omitempty"`
	CurrentStock      int              `json:"current_stock"`
	AverageDailySales decimal.Decimal  `json:"average_daily_sales"`
	DaysRemaining     *decimal.Decimal `json:"days_remaining"`
	Status            string           `json:"status"`
}

type StockPredictionResponse struct {
	Tier        string          `json:"tier"`
	WindowStart time.Time       `json:"window_start"`
	WindowEnd   time.Time       `json:"window_end"`
	Items       []StockForecast `json:"items"`
	GeneratedAt time.Time       `json:"generated_at"`
}

type InsightsResponse struct {
	Tier              string          `json:"tier"`
	WindowStart       time.Time       `json:"window_start"`
	WindowEnd         time.Time       `json:"window_end"`
	PreviousStart     time.Time       `json:"previous_start"`
	Revenue           decimal.Decimal `json:"revenue"`
	PreviousRevenue   decimal.Decimal `json:"previous_revenue"`
	GrowthPercent     decimal.Decimal `json:"growth_percent"`
	SaleCount         int             `json:"sale_count"`
	AverageOrderValue decimal.Decimal `json:"average_order_value"`
	TopProduct        string          `json:"top_product,omitempty"`
	SlowestProduct    string          `json:"slowest_product,omitempty"`
	InventoryTurnover decimal.Decimal `json:"inventory_turnover"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

type RiskRequest struct {
	// LookbackDays defaults to 30 when zero.
	LookbackDays int `json:"lookback_days,omitempty"`
}

type StockRisk struct {
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name,omitempty"`
	CurrentStock  int             `json:"current_stock"`
	CapitalLocked decimal.Decimal `json:"capital_locked"`
	LastSoldAt    *time.Time      `json:"last_sold_at,omitempty"`
}

type RiskReportResponse struct {
	LookbackStart      time.Time       `json:"lookback_start"`
	DeadStock          []StockRisk     `json:"dead_stock"`
	SlowMoving         []StockRisk     `json:"slow_moving"`
	TotalCapitalLocked decimal.Decimal `json:"total_capital_locked"`
	GeneratedAt        time.Time       `json:"generated_at"`
}

type EntitlementsRequest struct{}

type Entitlement struct {
	Tier          string    `json:"tier"`
	Active        bool      `json:"active"`
	UnlockedUntil time.Time `json:"unlocked_until,omitempty"`
	PaymentRef    string    `json:"payment_ref,omitempty"`
}

type EntitlementsResponse struct {
	Entitlements []Entitlement `json:"entitlements"`
}

type WebhookResponse struct {
	Status        string    `json:"status"`
	EventID       string    `json:"event_id,omitempty"`
	UnlockedUntil time.Time `json:"unlocked_until,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func saleMessage(s domain.Sale) Sale {
	return Sale{
		ID:          s.ID,
		ProductID:   s.ProductID,
		ProductName: s.ProductName,
		RequestID:   s.RequestID,
		Quantity:    s.Quantity,
		UnitPrice:   s.UnitPrice,
		UnitCost:    s.UnitCost,
		Revenue:     s.Revenue(),
		CreatedAt:   s.CreatedAt,
	}
}

func salesMessage(sales []domain.Sale) []Sale {
	out := make([]Sale, 0, len(sales))
	for _, s := range sales {
		out = append(out, saleMessage(s))
	}
	return out
}

func stockMessage(l domain.StockLevel) StockLevel {
	return StockLevel{
		ProductID:         l.ProductID,
		Quantity:          l.Quantity,
		LowStockThreshold: l.LowStockThreshold,
		Low:               l.IsLow(),
		UpdatedAt:         l.UpdatedAt,
	}
}

func reportMessage(r domain.Report) *ReportResponse {
	resp := &ReportResponse{
		Tier:           string(r.Tier),
		WindowStart:    r.Window.Start,
		WindowEnd:      r.Window.End,
		TotalRevenue:   r.TotalRevenue,
		TotalCost:      r.TotalCost,
		TotalProfit:    r.TotalProfit,
		ProfitMargin:   r.ProfitMargin,
		TotalUnitsSold: r.TotalUnitsSold,
		SaleCount:      r.SaleCount,
		Products:       make([]ProductSummary, 0, len(r.Products)),
		GeneratedAt:    r.GeneratedAt,
	}
	for _, p := range r.Products {
		resp.Products = append(resp.Products, ProductSummary(p))
	}
	return resp
}

func profitRankingMessage(r domain.ProfitRanking) *ProfitRankingResponse {
	resp := &ProfitRankingResponse{
		Tier:        string(r.Tier),
		WindowStart: r.Window.Start,
		WindowEnd:   r.Window.End,
		TotalProfit: r.TotalProfit,
		Top:         make([]ProductProfit, 0, len(r.Top)),
		Bottom:      make([]ProductProfit, 0, len(r.Bottom)),
		GeneratedAt: r.GeneratedAt,
	}
	for _, p := range r.Top {
		resp.Top = append(resp.Top, ProductProfit(p))
	}
	for _, p := range r.Bottom {
		resp.Bottom = append(resp.Bottom, ProductProfit(p))
	}
	return resp
}

func stockPredictionMessage(p domain.StockPrediction) *StockPredictionResponse {
	resp := &StockPredictionResponse{
		Tier:        string(p.Tier),
		WindowStart: p.Window.Start,
		WindowEnd:   p.Window.End,
		Items:       make([]StockForecast, 0, len(p.Items)),
		GeneratedAt: p.GeneratedAt,
	}
	for _, f := range p.Items {
		item := StockForecast{
			ProductID:         f.ProductID,
			ProductName:       f.ProductName,
			CurrentStock:      f.CurrentStock,
			AverageDailySales: f.AverageDailySales,
			Status:            string(f.Status),
		}
		if f.DaysRemaining.Valid {
			days := f.DaysRemaining.Decimal
			item.DaysRemaining = &days
		}
		resp.Items = append(resp.Items, item)
	}
	return resp
}

func insightsMessage(in domain.Insights) *InsightsResponse {
	return &InsightsResponse{
		Tier:              string(in.Tier),
		WindowStart:       in.Current.Start,
		WindowEnd:         in.Current.End,
		PreviousStart:     in.Previous.Start,
		Revenue:           in.Revenue,
		PreviousRevenue:   in.PreviousRevenue,
		GrowthPercent:     in.GrowthPercent,
		SaleCount:         in.SaleCount,
		AverageOrderValue: in.AverageOrderValue,
		TopProduct:        in.TopProduct,
		SlowestProduct:    in.SlowestProduct,
		InventoryTurnover: in.InventoryTurnover,
		GeneratedAt:       in.GeneratedAt,
	}
}

func riskMessage(r domain.RiskReport) *RiskReportResponse {
	risks := func(items []domain.StockRisk) []StockRisk {
		out := make([]StockRisk, 0, len(items))
		for _, it := range items {
			msg := StockRisk{
				ProductID:     it.ProductID,
				ProductName:   it.ProductName,
				CurrentStock:  it.CurrentStock,
				CapitalLocked: it.CapitalLocked,
			}
			if !it.LastSoldAt.IsZero() {
				at := it.LastSoldAt
				msg.LastSoldAt = &at
			}
			out = append(out, msg)
		}
		return out
	}
	return &RiskReportResponse{
		LookbackStart:      r.Lookback.Start,
		DeadStock:          risks(r.DeadStock),
		SlowMoving:         risks(r.SlowMoving),
		TotalCapitalLocked: r.TotalCapitalLocked,
		GeneratedAt:        r.GeneratedAt,
	}
}

// parseReportDate accepts YYYY-MM-DD or YYYY-MM. The result carries the
// calendar date in UTC; the window is built in the business's zone.
func parseReportDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.DateOnly, "2006-01"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD or YYYY-MM", domain.ErrInvalidWindow, s)
}
