package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription status values mirrored from Stripe.
const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusTrialing = "trialing"
)

// UsageRecord is the per-account metering row. Monthly counters reset at
// period rollover; lifetime totals never do. CurrentPeriodEnd is exclusive.
type UsageRecord struct {
	AccountID uuid.UUID `json:"account_id"`
	Tier      string    `json:"tier"`

	APICallsThisMonth       int64 `json:"api_calls_this_month"`
	DownloadsThisMonth      int64 `json:"downloads_this_month"`
	SynthesisCallsThisMonth int64 `json:"synthesis_calls_this_month"`

	TotalAPICalls       int64 `json:"total_api_calls"`
	TotalDownloads      int64 `json:"total_downloads"`
	TotalSynthesisCalls int64 `json:"total_synthesis_calls"`

	CreditsBalance int64 `json:"credits_balance"`

	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
	LastUpdated        time.Time `json:"last_updated"`

	StripeCustomerID     string `json:"-"`
	StripeSubscriptionID string `json:"-"`
	SubscriptionStatus   string `json:"subscription_status,omitempty"`
}

// NextPeriodEnd returns the first day of the calendar month after t, at
// 00:00 UTC. time.Date normalizes month 13 into January of the next year.
func NextPeriodEnd(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
