package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/papervault/backend/internal/models"
	"github.com/papervault/backend/internal/tiers"
	"github.com/papervault/backend/internal/usage"
)

type stubMeter struct {
	decision usage.Decision
	record   *models.UsageRecord
	err      error
	recorded int
}

func (s *stubMeter) CanAdmit(_ context.Context, _ uuid.UUID) (usage.Decision, *models.UsageRecord, error) {
	return s.decision, s.record, s.err
}

func (s *stubMeter) RecordAPICall(_ context.Context, _ uuid.UUID) error {
	s.recorded++
	return nil
}

func gatedRequest(meter Meter, handler http.Handler) *httptest.ResponseRecorder {
	acc := &models.Account{ID: uuid.New(), Email: "ada@example.com"}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/corpus", nil)
	req = req.WithContext(WithAccount(req.Context(), acc))
	rr := httptest.NewRecorder()
	QuotaGate(meter, "", nil)(handler).ServeHTTP(rr, req)
	return rr
}

func TestQuotaGateAllows(t *testing.T) {
	meter := &stubMeter{
		decision: usage.Decision{Allowed: true, Limit: tiers.LimitOf(100), Remaining: tiers.LimitOf(57)},
		record:   &models.UsageRecord{Tier: tiers.Free, APICallsThisMonth: 42},
	}
	var sawUsage bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawUsage = UsageFromCtx(r.Context()) != nil
		w.Write([]byte("ok"))
	})

	rr := gatedRequest(meter, handler)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !sawUsage {
		t.Error("handler did not see usage record in context")
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "100" {
		t.Errorf("X-RateLimit-Limit = %q, want 100", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "57" {
		t.Errorf("X-RateLimit-Remaining = %q, want 57", got)
	}
	if rr.Header().Get("X-Response-Time") == "" {
		t.Error("X-Response-Time header missing")
	}
	if meter.recorded != 1 {
		t.Errorf("recorded calls = %d, want 1", meter.recorded)
	}
}

func TestQuotaGateUnlimitedHeaders(t *testing.T) {
	meter := &stubMeter{
		decision: usage.Decision{Allowed: true, Limit: tiers.Unlimited, Remaining: tiers.Unlimited},
		record:   &models.UsageRecord{Tier: tiers.Sovereign},
	}

	rr := gatedRequest(meter, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "unlimited" {
		t.Errorf("X-RateLimit-Remaining = %q, want unlimited", got)
	}
}

func TestQuotaGateDenies(t *testing.T) {
	periodEnd := time.Now().Add(30 * time.Minute).UTC()
	meter := &stubMeter{
		decision: usage.Decision{
			Allowed:   false,
			Limit:     tiers.LimitOf(100),
			Remaining: tiers.LimitOf(0),
			Reason:    usage.ReasonLimitReached,
		},
		record: &models.UsageRecord{Tier: tiers.Free, APICallsThisMonth: 100, CurrentPeriodEnd: periodEnd},
	}
	handlerRan := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { handlerRan = true })

	rr := gatedRequest(meter, handler)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if handlerRan {
		t.Error("handler ran behind a denied gate")
	}
	if meter.recorded != 0 {
		t.Errorf("denied request recorded %d calls, want 0", meter.recorded)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
	retryAfter, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	if err != nil || retryAfter <= 0 || retryAfter > 1800 {
		t.Errorf("Retry-After = %q, want seconds until period end", rr.Header().Get("Retry-After"))
	}

	var body struct {
		Reason     string `json:"reason"`
		Limit      int64  `json:"limit"`
		Remaining  int64  `json:"remaining"`
		UpgradeURL string `json:"upgrade_url"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("body not JSON: %v (%s)", err, rr.Body.String())
	}
	if body.Reason != usage.ReasonLimitReached {
		t.Errorf("reason = %q", body.Reason)
	}
	if body.Limit != 100 || body.Remaining != 0 {
		t.Errorf("limit/remaining = %d/%d, want 100/0", body.Limit, body.Remaining)
	}
	if body.UpgradeURL != DefaultUpgradeURL {
		t.Errorf("upgrade_url = %q", body.UpgradeURL)
	}
}

// Passing the gate is the billable event: a handler that blows up with a
// 500 still consumes one call.
func TestQuotaGateChargesDespiteHandlerFailure(t *testing.T) {
	meter := &stubMeter{
		decision: usage.Decision{Allowed: true, Limit: tiers.LimitOf(100), Remaining: tiers.LimitOf(3)},
		record:   &models.UsageRecord{Tier: tiers.Free},
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
	})

	rr := gatedRequest(meter, handler)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if meter.recorded != 1 {
		t.Errorf("recorded calls = %d, want 1 even though the handler failed", meter.recorded)
	}
}

func TestQuotaGateWithoutAccount(t *testing.T) {
	meter := &stubMeter{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/corpus", nil)
	rr := httptest.NewRecorder()

	QuotaGate(meter, "", nil)(okHandler).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}
