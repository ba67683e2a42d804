package domain

import (
	"fmt"
	"strings"
	"time"
)

type Tier string

const (
	TierDaily   Tier = "daily"
	TierWeekly  Tier = "weekly"
	TierMonthly Tier = "monthly"
)

// PaidTiers lists the tiers that require an entitlement.
var PaidTiers = []Tier{TierWeekly, TierMonthly}

func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierDaily, TierWeekly, TierMonthly:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
}

func (t Tier) Paid() bool {
	return t == TierWeekly || t == TierMonthly
}

// Validity is how long one payment for the tier unlocks it.
func (t Tier) Validity() time.Duration {
	switch t {
	case TierWeekly:
		return 7 * 24 * time.Hour
	case TierMonthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// TrendDays is the number of trailing days covered by the tier's trend.
func (t Tier) TrendDays() int {
	switch t {
	case TierWeekly:
		return 7
	case TierMonthly:
		return 30
	default:
		return 1
	}
}

type Entitlement struct {
	BusinessID    string
	Tier          Tier
	UnlockedUntil time.Time
	PaymentRef    string
	UpdatedAt     time.Time
}

func (e Entitlement) Active(now time.Time) bool {
	return now.Before(e.UnlockedUntil)
}

// NextExpiry extends the tier by one validity period starting from the later
// of now and the current expiry, so early renewals never lose paid time.
func NextExpiry(current *Entitlement, tier Tier, now time.Time) time.Time {
	base := now
	if current != nil && current.UnlockedUntil.After(base) {
		base = current.UnlockedUntil
	}
	return base.Add(tier.Validity()).UTC()
}

// EntitlementStatus is the read view of one paid tier for a business.
type EntitlementStatus struct {
	Tier          Tier
	Active        bool
	UnlockedUntil time.Time // zero when the tier was never unlocked
	PaymentRef    string
}
