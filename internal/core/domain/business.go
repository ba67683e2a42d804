package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Business struct {
	ID        string
	Name      string
	Suspended bool
	TimeZone  string // IANA name, empty means UTC
	CreatedAt time.Time
}

// Location resolves the business time zone, falling back to UTC when unset.
func (b Business) Location() (*time.Location, error) {
	if b.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(b.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", b.TimeZone, err)
	}
	return loc, nil
}

type Product struct {
	ID         string
	BusinessID string
	Name       string
	Unit       string
	UnitPrice  decimal.Decimal
	CostPrice  decimal.Decimal
	CreatedAt  time.Time
}
