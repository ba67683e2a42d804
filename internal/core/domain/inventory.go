package domain

import "time"

// StockLevel is the on-hand quantity of one product for one business.
type StockLevel struct {
	BusinessID        string
	ProductID         string
	Quantity          int
	LowStockThreshold int
	Version           int // bumped on every mutation
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (s StockLevel) IsLow() bool {
	return s.Quantity <= s.LowStockThreshold
}
