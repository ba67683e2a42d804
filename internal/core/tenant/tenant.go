// Package tenant resolves the business a core call operates on. Every core
// operation takes the business id explicitly and resolves a Scope before
// touching any other entity; there is no ambient current tenant.
package tenant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/saleszy/internal/core/domain"
	"github.com/rl1809/saleszy/internal/port"
)

// Scope is a resolved, active business.
type Scope struct {
	BusinessID string
	Location   *time.Location
}

// Owns reports whether a record carrying businessID belongs to the scope.
func (s Scope) Owns(businessID string) bool {
	return businessID == s.BusinessID
}

type Resolver struct {
	catalog port.CatalogRepository
}

func NewResolver(catalog port.CatalogRepository) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve loads the business and rejects unknown or suspended ones.
func (r *Resolver) Resolve(ctx context.Context, businessID string) (Scope, error) {
	business, err := r.Lookup(ctx, businessID)
	if err != nil {
		return Scope{}, err
	}
	if business.Suspended {
		return Scope{}, fmt.Errorf("business %s: %w", business.ID, domain.ErrBusinessSuspended)
	}
	loc, err := business.Location()
	if err != nil {
		return Scope{}, err
	}
	return Scope{BusinessID: business.ID, Location: loc}, nil
}

// Lookup loads the business without checking suspension.
func (r *Resolver) Lookup(ctx context.Context, businessID string) (*domain.Business, error) {
	businessID = strings.TrimSpace(businessID)
	if businessID == "" {
		return nil, fmt.Errorf("business id required: %w", domain.ErrNotFound)
	}
	business, err := r.catalog.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("lookup business: %w", err)
	}
	if business == nil {
		return nil, fmt.Errorf("business %s: %w", businessID, domain.ErrNotFound)
	}
	return business, nil
}
