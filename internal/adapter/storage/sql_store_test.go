package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/saleszy/internal/core/domain"
	"github.com/rl1809/saleszy/internal/port"
)

// store is what both SQL adapters expose to the tests below.
type store interface {
	port.DatabaseRepository
	port.CatalogRepository
	UpsertBusiness(ctx context.Context, b domain.Business) error
	UpsertProduct(ctx context.Context, p domain.Product) error
}

type storeCase func(t *testing.T, s store)

var storeCases = map[string]storeCase{
	"ReserveStock":           testReserveStock,
	"ReserveStockMissingRow": testReserveStockMissingRow,
	"AdjustStock":            testAdjustStock,
	"AtomicRollback":         testAtomicRollback,
	"ConcurrentReserve":      testConcurrentReserve,
	"SaleRequestIDUnique":    testSaleRequestIDUnique,
	"ListSalesHalfOpen":      testListSalesHalfOpen,
	"ListRecentSales":        testListRecentSales,
	"PaymentEventDedupe":     testPaymentEventDedupe,
	"EntitlementMonotone":    testExtendEntitlementMonotone,
	"LowStock":               testLowStock,
	"Catalog":                testCatalog,
}

func uid(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func seedStock(t *testing.T, s store, quantity int) (businessID, productID string) {
	t.Helper()
	ctx := context.Background()

	businessID = uid("biz")
	productID = uid("prod")
	require.NoError(t, s.UpsertBusiness(ctx, domain.Business{ID: businessID, Name: "Test Shop"}))
	require.NoError(t, s.UpsertProduct(ctx, domain.Product{
		ID:         productID,
		BusinessID: businessID,
		Name:       "Rice 50kg",
		UnitPrice:  decimal.NewFromInt(10),
		CostPrice:  decimal.NewFromInt(6),
	}))
	require.NoError(t, s.Atomic(ctx, func(tx port.Transaction) error {
		return tx.SetStock(ctx, domain.StockLevel{
			BusinessID:        businessID,
			ProductID:         productID,
			Quantity:          quantity,
			LowStockThreshold: 2,
		})
	}))
	return businessID, productID
}

func reserve(s store, businessID, productID string, qty int) (int, error) {
	var remaining int
	err := s.Atomic(context.Background(), func(tx port.Transaction) error {
		var err error
		remaining, err = tx.ReserveStock(context.Background(), businessID, productID, qty)
		return err
	})
	return remaining, err
}

func testReserveStock(t *testing.T, s store) {
	ctx := context.Background()
	biz, prod := seedStock(t, s, 5)

	remaining, err := reserve(s, biz, prod, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	_, err = reserve(s, biz, prod, 3)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	lvl, err := s.GetStockLevel(ctx, biz, prod)
	require.NoError(t, err)
	require.NotNil(t, lvl)
	assert.Equal(t, 2, lvl.Quantity)
	assert.Equal(t, 1, lvl.Version)
}

func testReserveStockMissingRow(t *testing.T, s store) {
	_, err := reserve(s, uid("biz"), uid("prod"), 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	lvl, err := s.GetStockLevel(context.Background(), uid("biz"), uid("prod"))
	require.NoError(t, err)
	assert.Nil(t, lvl)
}

func testAdjustStock(t *testing.T, s store) {
	ctx := context.Background()
	biz, prod := seedStock(t, s, 4)

	adjust := func(delta int) (int, error) {
		var qty int
		err := s.Atomic(ctx, func(tx port.Transaction) error {
			var err error
			qty, err = tx.AdjustStock(ctx, biz, prod, delta)
			return err
		})
		return qty, err
	}

	qty, err := adjust(6)
	require.NoError(t, err)
	assert.Equal(t, 10, qty)

	_, err = adjust(-11)
	assert.ErrorIs(t, err, domain.ErrInvalidAdjustment)

	qty, err = adjust(-10)
	require.NoError(t, err)
	assert.Equal(t, 0, qty)
}

func testAtomicRollback(t *testing.T, s store) {
	ctx := context.Background()
	biz, prod := seedStock(t, s, 5)
	boom := errors.New("boom")

	err := s.Atomic(ctx, func(tx port.Transaction) error {
		if _, err := tx.ReserveStock(ctx, biz, prod, 5); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	lvl, err := s.GetStockLevel(ctx, biz, prod)
	require.NoError(t, err)
	assert.Equal(t, 5, lvl.Quantity)
}

func testConcurrentReserve(t *testing.T, s store) {
	biz, prod := seedStock(t, s, 10)

	var wg sync.WaitGroup
	var ok, rejected int64
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := reserve(s, biz, prod, 1)
				switch {
				case err == nil:
					atomic.AddInt64(&ok, 1)
				case errors.Is(err, domain.ErrInsufficientStock):
					atomic.AddInt64(&rejected, 1)
				case errors.Is(err, domain.ErrTransientConflict):
					continue
				default:
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), ok)
	assert.Equal(t, int64(15), rejected)

	lvl, err := s.GetStockLevel(context.Background(), biz, prod)
	require.NoError(t, err)
	assert.Equal(t, 0, lvl.Quantity)
}

func newSale(businessID, productID, requestID string, at time.Time) domain.Sale {
	return domain.Sale{
		ID:         uuid.NewString(),
		BusinessID: businessID,
		ProductID:  productID,
		RequestID:  requestID,
		Quantity:   1,
		UnitPrice:  decimal.NewFromInt(10),
		UnitCost:   decimal.NewFromInt(6),
		CreatedAt:  at,
	}
}

func insertSale(s store, sale domain.Sale) error {
	return s.Atomic(context.Background(), func(tx port.Transaction) error {
		return tx.InsertSale(context.Background(), sale)
	})
}

func testSaleRequestIDUnique(t *testing.T, s store) {
	ctx := context.Background()
	biz, prod := seedStock(t, s, 5)
	now := time.Now().UTC()

	first := newSale(biz, prod, "req-1", now)
	require.NoError(t, insertSale(s, first))
	assert.ErrorIs(t, insertSale(s, newSale(biz, prod, "req-1", now)), domain.ErrDuplicateKey)

	// Sales without a request id never collide.
	require.NoError(t, insertSale(s, newSale(biz, prod, "", now)))
	require.NoError(t, insertSale(s, newSale(biz, prod, "", now)))

	got, err := s.GetSaleByRequestID(ctx, biz, "req-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "Rice 50kg", got.ProductName)
	assert.True(t, got.UnitPrice.Equal(decimal.NewFromInt(10)))
	assert.True(t, got.UnitCost.Equal(decimal.NewFromInt(6)))

	other, err := s.GetSale(ctx, uid("biz"), first.ID)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func testListSalesHalfOpen(t *testing.T, s store) {
	ctx := context.Background()
	biz, prod := seedStock(t, s, 5)

	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	window := domain.Window{Start: start, End: start.Add(24 * time.Hour)}

	atStart := newSale(biz, prod, "", window.Start)
	inside := newSale(biz, prod, "", window.Start.Add(12*time.Hour))
	atEnd := newSale(biz, prod, "", window.End)
	before := newSale(biz, prod, "", window.Start.Add(-time.Microsecond))
	for _, sale := range []domain.Sale{inside, atEnd, atStart, before} {
		require.NoError(t, insertSale(s, sale))
	}

	sales, err := s.ListSales(ctx, biz, window)
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, atStart.ID, sales[0].ID)
	assert.Equal(t, inside.ID, sales[1].ID)

	empty, err := s.ListSales(ctx, uid("biz"), window)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testListRecentSales(t *testing.T, s store) {
	ctx := context.Background()
	biz, prod := seedStock(t, s, 5)
	now := time.Now().UTC()

	old := newSale(biz, prod, "", now.Add(-10*24*time.Hour))
	mid := newSale(biz, prod, "", now.Add(-2*time.Hour))
	last := newSale(biz, prod, "", now.Add(-time.Hour))
	for _, sale := range []domain.Sale{old, mid, last} {
		require.NoError(t, insertSale(s, sale))
	}

	sales, err := s.ListRecentSales(ctx, biz, now.Add(-7*24*time.Hour), 10, 0)
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, last.ID, sales[0].ID)
	assert.Equal(t, mid.ID, sales[1].ID)

	page, err := s.ListRecentSales(ctx, biz, now.Add(-7*24*time.Hour), 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, mid.ID, page[0].ID)
}

func testPaymentEventDedupe(t *testing.T, s store) {
	ctx := context.Background()
	ev := domain.PaymentEvent{
		ID:         uid("ref"),
		BusinessID: uid("biz"),
		Tier:       domain.TierWeekly,
		Amount:     15000,
		Verified:   true,
		Processed:  true,
		PaidAt:     time.Now().UTC(),
		ReceivedAt: time.Now().UTC(),
	}

	insert := func() bool {
		var inserted bool
		require.NoError(t, s.Atomic(ctx, func(tx port.Transaction) error {
			var err error
			inserted, err = tx.InsertPaymentEvent(ctx, ev)
			return err
		}))
		return inserted
	}

	assert.True(t, insert())
	assert.False(t, insert())

	got, err := s.GetPaymentEvent(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ev.BusinessID, got.BusinessID)
	assert.Equal(t, domain.TierWeekly, got.Tier)
	assert.Equal(t, int64(15000), got.Amount)
	assert.True(t, got.Verified)
}

func testExtendEntitlementMonotone(t *testing.T, s store) {
	ctx := context.Background()
	biz := uid("biz")
	later := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	earlier := later.Add(-48 * time.Hour)

	extend := func(until time.Time, ref string) bool {
		var wrote bool
		require.NoError(t, s.Atomic(ctx, func(tx port.Transaction) error {
			if _, err := tx.LockEntitlement(ctx, biz, domain.TierMonthly); err != nil {
				return err
			}
			var err error
			wrote, err = tx.ExtendEntitlement(ctx, domain.Entitlement{
				BusinessID:    biz,
				Tier:          domain.TierMonthly,
				UnlockedUntil: until,
				PaymentRef:    ref,
			})
			return err
		}))
		return wrote
	}

	assert.True(t, extend(later, "ref-a"))
	assert.False(t, extend(earlier, "ref-b"))

	e, err := s.GetEntitlement(ctx, biz, domain.TierMonthly)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.True(t, later.Equal(e.UnlockedUntil))
	assert.Equal(t, "ref-a", e.PaymentRef)

	none, err := s.GetEntitlement(ctx, biz, domain.TierWeekly)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func testLowStock(t *testing.T, s store) {
	ctx := context.Background()
	biz, prod := seedStock(t, s, 2)

	low, err := s.ListLowStock(ctx, biz)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, prod, low[0].ProductID)
	assert.True(t, low[0].IsLow())

	all, err := s.ListStockLevels(ctx, biz)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].Quantity)

	none, err := s.ListStockLevels(ctx, uid("nobody"))
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = reserve(s, biz, prod, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func testCatalog(t *testing.T, s store) {
	ctx := context.Background()
	biz := uid("biz")
	require.NoError(t, s.UpsertBusiness(ctx, domain.Business{ID: biz, Name: "Corner Store", TimeZone: "Africa/Lagos"}))
	require.NoError(t, s.UpsertBusiness(ctx, domain.Business{ID: biz, Name: "Corner Store", TimeZone: "Africa/Lagos", Suspended: true}))

	b, err := s.GetBusiness(ctx, biz)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.Suspended)
	assert.Equal(t, "Africa/Lagos", b.TimeZone)

	missing, err := s.GetBusiness(ctx, uid("biz"))
	require.NoError(t, err)
	assert.Nil(t, missing)

	p, err := s.GetProduct(ctx, uid("prod"))
	require.NoError(t, err)
	assert.Nil(t, p)
}
