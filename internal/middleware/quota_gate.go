package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/papervault/backend/internal/models"
	"github.com/papervault/backend/internal/usage"
)

// DefaultUpgradeURL is pointed at from 429 responses so callers know where
// to move up a tier.
const DefaultUpgradeURL = "https://papervault.io/pricing"

// Meter is the admission interface the quota gate needs.
type Meter interface {
	CanAdmit(ctx context.Context, accountID uuid.UUID) (usage.Decision, *models.UsageRecord, error)
	RecordAPICall(ctx context.Context, accountID uuid.UUID) error
}

type quotaExceededBody struct {
	Error      string    `json:"error"`
	Reason     string    `json:"reason"`
	Limit      int64     `json:"limit"`
	Remaining  int64     `json:"remaining"`
	PeriodEnds time.Time `json:"period_ends"`
	UpgradeURL string    `json:"upgrade_url"`
}

// QuotaGate admits requests against the account's monthly allowance. Runs
// after APIKeyAuth. On allow it loads the usage record into context, sets
// the X-RateLimit-* headers, runs the handler, then charges the call —
// passing the gate is the billable event, so a handler that later fails or
// rejects still consumes quota.
func QuotaGate(meter Meter, upgradeURL string, logger *slog.Logger) func(http.Handler) http.Handler {
	if upgradeURL == "" {
		upgradeURL = DefaultUpgradeURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc := AccountFromCtx(r.Context())
			if acc == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			dec, rec, err := meter.CanAdmit(r.Context(), acc.ID)
			if err != nil {
				logger.Error("admission check failed", "account_id", acc.ID, "error", err)
				http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
				return
			}

			w.Header().Set("X-RateLimit-Limit", dec.Limit.String())
			w.Header().Set("X-RateLimit-Remaining", dec.Remaining.String())

			if !dec.Allowed {
				retryAfter := int64(time.Until(rec.CurrentPeriodEnd).Seconds())
				if retryAfter < 0 {
					retryAfter = 0
				}
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(quotaExceededBody{
					Error:      "monthly API call limit reached",
					Reason:     dec.Reason,
					Limit:      dec.Limit.Wire(),
					Remaining:  dec.Remaining.Wire(),
					PeriodEnds: rec.CurrentPeriodEnd,
					UpgradeURL: upgradeURL,
				})
				return
			}

			ctx := WithUsage(r.Context(), rec)
			tw := &timedWriter{ResponseWriter: w, start: time.Now()}
			next.ServeHTTP(tw, r.WithContext(ctx))

			// Charge after the handler, detached from the request context so
			// a client disconnect cannot dodge the bill.
			if err := meter.RecordAPICall(context.WithoutCancel(r.Context()), acc.ID); err != nil {
				logger.Error("recording api call failed", "account_id", acc.ID, "error", err)
			}
		})
	}
}

// timedWriter stamps X-Response-Time just before the first byte of the
// response, since headers are immutable after that.
type timedWriter struct {
	http.ResponseWriter
	start time.Time
	wrote bool
}

func (t *timedWriter) WriteHeader(code int) {
	if !t.wrote {
		t.wrote = true
		t.Header().Set("X-Response-Time", time.Since(t.start).String())
	}
	t.ResponseWriter.WriteHeader(code)
}

func (t *timedWriter) Write(b []byte) (int, error) {
	if !t.wrote {
		t.WriteHeader(http.StatusOK)
	}
	return t.ResponseWriter.Write(b)
}
