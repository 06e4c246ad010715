package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/papervault/backend/internal/middleware"
	"github.com/papervault/backend/internal/tiers"
)

// UsageHandler serves GET /api/v1/usage.
type UsageHandler struct {
	Catalog *tiers.Catalog
	Logger  *slog.Logger
}

type usageMetric struct {
	Used      int64       `json:"used"`
	Limit     tiers.Limit `json:"limit"`
	Remaining tiers.Limit `json:"remaining"`
}

type usageResponse struct {
	Tier      string      `json:"tier"`
	Features  []string    `json:"features"`
	APICalls  usageMetric `json:"api_calls"`
	Downloads usageMetric `json:"downloads"`
	Synthesis struct {
		Used int64 `json:"used"`
	} `json:"synthesis_calls"`
	Totals struct {
		APICalls  int64 `json:"api_calls"`
		Downloads int64 `json:"downloads"`
		Synthesis int64 `json:"synthesis_calls"`
	} `json:"totals"`
	CreditsBalance int64 `json:"credits_balance"`
	Period         struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	} `json:"period"`
	Subscription struct {
		Status string `json:"status,omitempty"`
		Active bool   `json:"active"`
	} `json:"subscription"`
}

// Get reports the account's current usage. The quota gate already loaded
// (and rolled over) the usage record. Stripe identifiers never leave the
// server; only the subscription status is exposed.
func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec := middleware.UsageFromCtx(r.Context())
	if rec == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	tier, err := h.Catalog.Lookup(rec.Tier)
	if err != nil {
		h.Logger.Error("usage record has unknown tier", "tier", rec.Tier, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	var resp usageResponse
	resp.Tier = tier.Name
	resp.Features = tier.Features
	resp.APICalls = usageMetric{
		Used:      rec.APICallsThisMonth,
		Limit:     tier.APICallsPerMonth,
		Remaining: tier.APICallsPerMonth.Remaining(rec.APICallsThisMonth),
	}
	resp.Downloads = usageMetric{
		Used:      rec.DownloadsThisMonth,
		Limit:     tier.DownloadLimit,
		Remaining: tier.DownloadLimit.Remaining(rec.DownloadsThisMonth),
	}
	resp.Synthesis.Used = rec.SynthesisCallsThisMonth
	resp.Totals.APICalls = rec.TotalAPICalls
	resp.Totals.Downloads = rec.TotalDownloads
	resp.Totals.Synthesis = rec.TotalSynthesisCalls
	resp.CreditsBalance = rec.CreditsBalance
	resp.Period.Start = rec.CurrentPeriodStart
	resp.Period.End = rec.CurrentPeriodEnd
	resp.Subscription.Status = rec.SubscriptionStatus
	resp.Subscription.Active = rec.StripeSubscriptionID != ""

	writeJSON(w, http.StatusOK, resp)
}
