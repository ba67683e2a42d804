package port

import (
	"context"

	"github.com/rl1809/saleszy/internal/core/domain"
)

// CatalogRepository is the read side of business and product records owned
// by the CRUD layer. Both methods return nil, nil when nothing matches.
type CatalogRepository interface {
	GetBusiness(ctx context.Context, businessID string) (*domain.Business, error)
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
}
