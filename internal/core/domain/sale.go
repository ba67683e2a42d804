package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sale is an immutable record of units sold. Prices are snapshots taken when
// the sale was recorded and never follow later product price changes.
type Sale struct {
	ID          string
	BusinessID  string
	ProductID   string
	ProductName string // filled by read queries, not part of the snapshot
	RequestID   string
	Quantity    int
	UnitPrice   decimal.Decimal
	UnitCost    decimal.Decimal
	CreatedAt   time.Time
}

func (s Sale) Revenue() decimal.Decimal {
	return s.UnitPrice.Mul(decimal.NewFromInt(int64(s.Quantity)))
}

func (s Sale) Cost() decimal.Decimal {
	return s.UnitCost.Mul(decimal.NewFromInt(int64(s.Quantity)))
}

type SaleRequest struct {
	BusinessID string
	ProductID  string
	Quantity   int
	RequestID  string // optional client idempotency key
}

type SaleResult struct {
	Sale           Sale
	RemainingStock int
	Replayed       bool // true when RequestID matched an earlier sale
}
