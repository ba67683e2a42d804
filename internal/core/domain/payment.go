package domain

import "time"

// PaymentEvent is the dedupe record for one provider transaction reference.
type PaymentEvent struct {
	ID         string // provider reference
	BusinessID string
	Tier       Tier
	Amount     int64 // minor units
	Verified   bool
	Processed  bool
	PaidAt     time.Time
	ReceivedAt time.Time
}

type WebhookOutcome string

const (
	WebhookActivated        WebhookOutcome = "activated"
	WebhookAlreadyProcessed WebhookOutcome = "already_processed"
	WebhookIgnored          WebhookOutcome = "ignored"
)

type WebhookResult struct {
	Accepted      bool
	Outcome       WebhookOutcome
	EventID       string
	BusinessID    string
	Tier          Tier
	UnlockedUntil time.Time
	Reason        string // set when rejected
}
