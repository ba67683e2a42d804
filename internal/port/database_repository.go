package port

import (
	"context"
	"time"

	"github.com/rl1809/saleszy/internal/core/domain"
)

type DatabaseRepository interface {
	// Atomic runs fn in one storage transaction. Everything fn writes through
	// tx commits together when fn returns nil and is rolled back otherwise.
	Atomic(ctx context.Context, fn func(tx Transaction) error) error

	// GetStockLevel returns nil, nil when no stock row exists
	GetStockLevel(ctx context.Context, businessID, productID string) (*domain.StockLevel, error)
	ListLowStock(ctx context.Context, businessID string) ([]domain.StockLevel, error)
	ListStockLevels(ctx context.Context, businessID string) ([]domain.StockLevel, error)

	GetSale(ctx context.Context, businessID, saleID string) (*domain.Sale, error)
	GetSaleByRequestID(ctx context.Context, businessID, requestID string) (*domain.Sale, error)
	// ListSales returns the business's sales created inside window, oldest first
	ListSales(ctx context.Context, businessID string, window domain.Window) ([]domain.Sale, error)
	// ListRecentSales returns sales created at or after since, newest first
	ListRecentSales(ctx context.Context, businessID string, since time.Time, limit, offset int) ([]domain.Sale, error)

	GetEntitlement(ctx context.Context, businessID string, tier domain.Tier) (*domain.Entitlement, error)
	GetPaymentEvent(ctx context.Context, eventID string) (*domain.PaymentEvent, error)
}

// Transaction is the write side of the store. Every method runs inside the
// transaction opened by DatabaseRepository.Atomic.
type Transaction interface {
	// ReserveStock decrements stock only when enough is on hand and returns the
	// remaining quantity. ErrInsufficientStock leaves the row untouched.
	ReserveStock(ctx context.Context, businessID, productID string, quantity int) (int, error)

	// AdjustStock applies delta and returns the new quantity. A delta that
	// would go below zero fails with ErrInvalidAdjustment.
	AdjustStock(ctx context.Context, businessID, productID string, delta int) (int, error)

	// SetStock creates or overwrites the stock level.
	SetStock(ctx context.Context, level domain.StockLevel) error

	// InsertSale fails with ErrDuplicateKey when the request id was already used.
	InsertSale(ctx context.Context, sale domain.Sale) error

	// InsertPaymentEvent reports false when the event id was already recorded.
	InsertPaymentEvent(ctx context.Context, event domain.PaymentEvent) (bool, error)

	// LockEntitlement reads the entitlement row and holds it until commit.
	LockEntitlement(ctx context.Context, businessID string, tier domain.Tier) (*domain.Entitlement, error)

	// ExtendEntitlement writes e only if e.UnlockedUntil is later than the
	// stored value and reports whether it did.
	ExtendEntitlement(ctx context.Context, e domain.Entitlement) (bool, error)
}
