package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rl1809/saleszy/internal/clock"
	"github.com/rl1809/saleszy/internal/core/domain"
	"github.com/rl1809/saleszy/internal/core/tenant"
	"github.com/rl1809/saleszy/internal/port"
)

// EntitlementService tracks which paid report tiers a business has unlocked.
// Expiries only ever move forward; access ends by expiry alone.
type EntitlementService struct {
	db      port.DatabaseRepository
	cache   port.CacheRepository // optional
	tenants *tenant.Resolver
	retry   RetryPolicy
	clock   clock.Clock
}

func NewEntitlementService(db port.DatabaseRepository, cache port.CacheRepository, tenants *tenant.Resolver, retry RetryPolicy, clk clock.Clock) *EntitlementService {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &EntitlementService{db: db, cache: cache, tenants: tenants, retry: retry, clock: clk}
}

// IsUnlocked reports whether tier is accessible at now. The daily tier is
// always unlocked.
func (s *EntitlementService) IsUnlocked(ctx context.Context, businessID string, tier domain.Tier, now time.Time) (bool, error) {
	if !tier.Paid() {
		if tier == domain.TierDaily {
			return true, nil
		}
		return false, fmt.Errorf("%w: %q", domain.ErrInvalidTier, tier)
	}

	// A cached expiry can only prove access. A miss or an expired value
	// falls through to the store, which is authoritative.
	if s.cache != nil {
		until, ok, err := s.cache.GetUnlockedUntil(ctx, businessID, tier)
		if err != nil {
			log.Debug().Err(err).Str("business_id", businessID).Msg("entitlement cache read failed")
		} else if ok && now.Before(until) {
			return true, nil
		}
	}

	e, err := s.db.GetEntitlement(ctx, businessID, tier)
	if err != nil {
		return false, fmt.Errorf("get entitlement: %w", err)
	}
	if e == nil || !e.Active(now) {
		return false, nil
	}
	s.warm(ctx, *e)
	return true, nil
}

// HasAny reports whether any paid tier is active at now.
func (s *EntitlementService) HasAny(ctx context.Context, businessID string, now time.Time) (bool, error) {
	for _, tier := range domain.PaidTiers {
		ok, err := s.IsUnlocked(ctx, businessID, tier, now)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// Unlock moves the tier's expiry to until. An until at or before the stored
// expiry is a no-op; the returned entitlement is the effective state and
// extended reports whether anything changed.
func (s *EntitlementService) Unlock(ctx context.Context, businessID string, tier domain.Tier, until time.Time, paymentRef string) (e domain.Entitlement, extended bool, err error) {
	if !tier.Paid() {
		return domain.Entitlement{}, false, fmt.Errorf("%w: %q is not a paid tier", domain.ErrInvalidTier, tier)
	}
	business, err := s.tenants.Lookup(ctx, businessID)
	if err != nil {
		return domain.Entitlement{}, false, err
	}

	type outcome struct {
		e        domain.Entitlement
		extended bool
	}
	res, err := retry(ctx, s.retry, "unlock", func() (outcome, error) {
		var out outcome
		err := s.db.Atomic(ctx, func(tx port.Transaction) error {
			current, err := tx.LockEntitlement(ctx, business.ID, tier)
			if err != nil {
				return err
			}
			out.e, out.extended, err = extendLocked(ctx, tx, current, domain.Entitlement{
				BusinessID:    business.ID,
				Tier:          tier,
				UnlockedUntil: until.UTC(),
				PaymentRef:    paymentRef,
				UpdatedAt:     s.clock.Now(),
			})
			return err
		})
		return out, err
	})
	if err != nil {
		return domain.Entitlement{}, false, err
	}

	if res.extended {
		s.warm(ctx, res.e)
		log.Info().
			Str("business_id", business.ID).
			Str("tier", string(tier)).
			Time("unlocked_until", res.e.UnlockedUntil).
			Str("payment_ref", paymentRef).
			Msg("entitlement extended")
	}
	return res.e, res.extended, nil
}

// Entitlements lists the status of every paid tier for the business.
func (s *EntitlementService) Entitlements(ctx context.Context, businessID string, now time.Time) ([]domain.EntitlementStatus, error) {
	business, err := s.tenants.Lookup(ctx, businessID)
	if err != nil {
		return nil, err
	}

	statuses := make([]domain.EntitlementStatus, 0, len(domain.PaidTiers))
	for _, tier := range domain.PaidTiers {
		e, err := s.db.GetEntitlement(ctx, business.ID, tier)
		if err != nil {
			return nil, fmt.Errorf("get entitlement: %w", err)
		}
		status := domain.EntitlementStatus{Tier: tier}
		if e != nil {
			status.Active = e.Active(now)
			status.UnlockedUntil = e.UnlockedUntil
			status.PaymentRef = e.PaymentRef
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// warm pushes an active expiry into the cache. Failures only cost a store
// read later.
func (s *EntitlementService) warm(ctx context.Context, e domain.Entitlement) {
	if s.cache == nil || !e.Active(s.clock.Now()) {
		return
	}
	if err := s.cache.ExtendUnlockedUntil(ctx, e.BusinessID, e.Tier, e.UnlockedUntil); err != nil {
		log.Warn().Err(err).Str("business_id", e.BusinessID).Str("tier", string(e.Tier)).Msg("entitlement cache write failed")
	}
}

// extendLocked applies the monotonic rule to current, read under the row lock
// by the caller, and returns the effective entitlement after the write.
func extendLocked(ctx context.Context, tx port.Transaction, current *domain.Entitlement, next domain.Entitlement) (domain.Entitlement, bool, error) {
	if current != nil && !next.UnlockedUntil.After(current.UnlockedUntil) {
		return *current, false, nil
	}

	wrote, err := tx.ExtendEntitlement(ctx, next)
	if err != nil {
		return domain.Entitlement{}, false, err
	}
	if !wrote && current != nil {
		return *current, false, nil
	}
	return next, wrote, nil
}
