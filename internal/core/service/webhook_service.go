package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rl1809/saleszy/internal/clock"
	"github.com/rl1809/saleszy/internal/core/domain"
	"github.com/rl1809/saleszy/internal/core/tenant"
	"github.com/rl1809/saleszy/internal/metrics"
	"github.com/rl1809/saleszy/internal/port"
)

// SignatureHeader carries the provider's HMAC of the raw request body.
const SignatureHeader = "x-paystack-signature"

const chargeSuccessEvent = "charge.success"

type WebhookConfig struct {
	Secret string
	Prices map[domain.Tier]int64 // expected amount per paid tier, minor units
}

// DefaultPrices are the tier prices in minor units.
func DefaultPrices() map[domain.Tier]int64 {
	return map[domain.Tier]int64{
		domain.TierWeekly:  15000,
		domain.TierMonthly: 50000,
	}
}

// WebhookService turns verified payment notifications into entitlement
// extensions exactly once per provider reference.
type WebhookService struct {
	db           port.DatabaseRepository
	tenants      *tenant.Resolver
	entitlements *EntitlementService
	secret       []byte
	prices       map[domain.Tier]int64
	retry        RetryPolicy
	clock        clock.Clock
}

func NewWebhookService(db port.DatabaseRepository, tenants *tenant.Resolver, entitlements *EntitlementService, cfg WebhookConfig, retry RetryPolicy, clk clock.Clock) *WebhookService {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	prices := cfg.Prices
	if len(prices) == 0 {
		prices = DefaultPrices()
	}
	return &WebhookService{
		db:           db,
		tenants:      tenants,
		entitlements: entitlements,
		secret:       []byte(cfg.Secret),
		prices:       prices,
		retry:        retry,
		clock:        clk,
	}
}

type chargeEvent struct {
	Event string     `json:"event"`
	Data  chargeData `json:"data"`
}

type chargeData struct {
	Reference string         `json:"reference"`
	Amount    int64          `json:"amount"`
	PaidAt    string         `json:"paid_at"`
	Metadata  chargeMetadata `json:"metadata"`
}

type chargeMetadata struct {
	BusinessID looseString `json:"business_id"`
	PeriodType string      `json:"period_type"`
}

// looseString accepts a JSON string or number. Checkout metadata may carry
// numeric business ids.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = looseString(n.String())
	return nil
}

// Verify checks signature, the lowercase hex HMAC-SHA512 of body.
func (s *WebhookService) Verify(body []byte, signature string) error {
	if len(s.secret) == 0 {
		return fmt.Errorf("%w: webhook secret not configured", domain.ErrInvalidSignature)
	}
	given, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(given) == 0 {
		return fmt.Errorf("%w: malformed signature", domain.ErrInvalidSignature)
	}
	mac := hmac.New(sha512.New, s.secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), given) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Sign returns the signature Verify expects for body.
func (s *WebhookService) Sign(body []byte) string {
	return SignPayload(string(s.secret), body)
}

// SignPayload computes the webhook signature of body under secret.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Handle verifies and applies one webhook delivery. A rejected delivery
// returns a non-nil error together with a result whose Reason says why; no
// state changes in that case.
func (s *WebhookService) Handle(ctx context.Context, body []byte, signature string) (domain.WebhookResult, error) {
	start := time.Now()
	res, err := s.handle(ctx, body, signature)
	metrics.WebhookDuration.Observe(time.Since(start).Seconds())

	outcome := string(res.Outcome)
	if err != nil {
		outcome = "rejected"
		res.Accepted = false
		res.Reason = err.Error()
	}
	metrics.WebhookEventsTotal.WithLabelValues(outcome).Inc()
	return res, err
}

func (s *WebhookService) handle(ctx context.Context, body []byte, signature string) (domain.WebhookResult, error) {
	if err := s.Verify(body, signature); err != nil {
		log.Warn().Err(err).Int("body_bytes", len(body)).Msg("webhook signature rejected")
		return domain.WebhookResult{}, err
	}

	var ev chargeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return domain.WebhookResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	if ev.Event != chargeSuccessEvent {
		log.Debug().Str("event", ev.Event).Msg("webhook event ignored")
		return domain.WebhookResult{Accepted: true, Outcome: domain.WebhookIgnored, EventID: ev.Data.Reference}, nil
	}

	// A reference already on record is a redelivery. It is answered before
	// validation so a later price change cannot turn it into a rejection.
	if ref := strings.TrimSpace(ev.Data.Reference); ref != "" {
		prior, err := s.db.GetPaymentEvent(ctx, ref)
		if err != nil {
			return domain.WebhookResult{EventID: ref}, fmt.Errorf("get payment event: %w", err)
		}
		if prior != nil {
			return s.replayed(ctx, *prior), nil
		}
	}

	payment, err := s.validate(ctx, ev)
	if err != nil {
		log.Warn().Err(err).
			Str("event_id", ev.Data.Reference).
			Str("business_id", string(ev.Data.Metadata.BusinessID)).
			Msg("webhook payload rejected")
		return domain.WebhookResult{EventID: ev.Data.Reference}, err
	}

	result := domain.WebhookResult{
		Accepted:   true,
		EventID:    payment.ID,
		BusinessID: payment.BusinessID,
		Tier:       payment.Tier,
	}

	type applied struct {
		e       domain.Entitlement
		applied bool
	}
	out, err := retry(ctx, s.retry, "webhook", func() (applied, error) {
		var out applied
		err := s.db.Atomic(ctx, func(tx port.Transaction) error {
			inserted, err := tx.InsertPaymentEvent(ctx, payment)
			if err != nil || !inserted {
				return err
			}

			current, err := tx.LockEntitlement(ctx, payment.BusinessID, payment.Tier)
			if err != nil {
				return err
			}
			now := s.clock.Now()
			out.e, _, err = extendLocked(ctx, tx, current, domain.Entitlement{
				BusinessID:    payment.BusinessID,
				Tier:          payment.Tier,
				UnlockedUntil: domain.NextExpiry(current, payment.Tier, now),
				PaymentRef:    payment.ID,
				UpdatedAt:     now,
			})
			out.applied = err == nil
			return err
		})
		return out, err
	})
	if err != nil {
		log.Error().Err(err).Str("event_id", payment.ID).Str("business_id", payment.BusinessID).Msg("webhook apply failed")
		return domain.WebhookResult{EventID: payment.ID}, err
	}

	if !out.applied {
		return s.replayed(ctx, payment), nil
	}

	s.entitlements.warm(ctx, out.e)
	log.Info().
		Str("event_id", payment.ID).
		Str("business_id", payment.BusinessID).
		Str("tier", string(payment.Tier)).
		Time("unlocked_until", out.e.UnlockedUntil).
		Msg("subscription activated")

	result.Outcome = domain.WebhookActivated
	result.UnlockedUntil = out.e.UnlockedUntil
	return result, nil
}

// replayed answers a delivery whose reference was already processed. Nothing
// is written.
func (s *WebhookService) replayed(ctx context.Context, payment domain.PaymentEvent) domain.WebhookResult {
	log.Info().Str("event_id", payment.ID).Str("business_id", payment.BusinessID).Msg("webhook replay ignored")
	result := domain.WebhookResult{
		Accepted:   true,
		Outcome:    domain.WebhookAlreadyProcessed,
		EventID:    payment.ID,
		BusinessID: payment.BusinessID,
		Tier:       payment.Tier,
	}
	if e, err := s.db.GetEntitlement(ctx, payment.BusinessID, payment.Tier); err == nil && e != nil {
		result.UnlockedUntil = e.UnlockedUntil
	}
	return result
}

func (s *WebhookService) validate(ctx context.Context, ev chargeEvent) (domain.PaymentEvent, error) {
	data := ev.Data
	reference := strings.TrimSpace(data.Reference)
	if reference == "" {
		return domain.PaymentEvent{}, fmt.Errorf("%w: missing transaction reference", domain.ErrInvalidPayload)
	}

	businessID := strings.TrimSpace(string(data.Metadata.BusinessID))
	tier, err := domain.ParseTier(data.Metadata.PeriodType)
	if businessID == "" || err != nil || !tier.Paid() {
		return domain.PaymentEvent{}, fmt.Errorf("%w: invalid payment metadata", domain.ErrInvalidPayload)
	}

	if want := s.prices[tier]; data.Amount != want {
		return domain.PaymentEvent{}, fmt.Errorf("%w: got %d, want %d for %s", domain.ErrInvalidAmount, data.Amount, want, tier)
	}

	// Payments are accepted for suspended businesses too.
	if _, err := s.tenants.Lookup(ctx, businessID); err != nil {
		return domain.PaymentEvent{}, err
	}

	now := s.clock.Now()
	return domain.PaymentEvent{
		ID:         reference,
		BusinessID: businessID,
		Tier:       tier,
		Amount:     data.Amount,
		Verified:   true,
		Processed:  true,
		PaidAt:     parsePaidAt(data.PaidAt, now),
		ReceivedAt: now,
	}, nil
}

func parsePaidAt(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	return fallback
}

// IsRejection reports whether err is a webhook rejection the provider should
// not retry, as opposed to a storage failure worth redelivering.
func IsRejection(err error) bool {
	return errors.Is(err, domain.ErrInvalidSignature) ||
		errors.Is(err, domain.ErrInvalidPayload) ||
		errors.Is(err, domain.ErrInvalidAmount) ||
		errors.Is(err, domain.ErrNotFound)
}
