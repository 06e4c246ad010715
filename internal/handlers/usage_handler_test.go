package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/papervault/backend/internal/middleware"
	"github.com/papervault/backend/internal/models"
	"github.com/papervault/backend/internal/tiers"
)

func usageRequest(rec *models.UsageRecord) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil)
	ctx := middleware.WithAccount(req.Context(), &models.Account{ID: rec.AccountID})
	ctx = middleware.WithUsage(ctx, rec)
	return req.WithContext(ctx)
}

func TestUsageGetFreeTier(t *testing.T) {
	h := &UsageHandler{Catalog: tiers.Default(), Logger: discardLogger()}
	rec := &models.UsageRecord{
		AccountID:          uuid.New(),
		Tier:               tiers.Free,
		APICallsThisMonth:  42,
		DownloadsThisMonth: 10,
		TotalAPICalls:      900,
		CreditsBalance:     250,
		CurrentPeriodStart: time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC),
	}

	rr := httptest.NewRecorder()
	h.Get(rr, usageRequest(rec))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	var apiCalls struct {
		Used      int64 `json:"used"`
		Limit     int64 `json:"limit"`
		Remaining int64 `json:"remaining"`
	}
	if err := json.Unmarshal(body["api_calls"], &apiCalls); err != nil {
		t.Fatal(err)
	}
	if apiCalls.Used != 42 || apiCalls.Limit != 100 || apiCalls.Remaining != 58 {
		t.Errorf("api_calls = %+v, want 42/100/58", apiCalls)
	}
	var downloads struct {
		Remaining int64 `json:"remaining"`
	}
	if err := json.Unmarshal(body["downloads"], &downloads); err != nil {
		t.Fatal(err)
	}
	// Used equals the limit: remaining clamps at zero, never negative.
	if downloads.Remaining != 0 {
		t.Errorf("downloads.remaining = %d, want 0", downloads.Remaining)
	}
}

func TestUsageGetUnlimitedWireFormat(t *testing.T) {
	h := &UsageHandler{Catalog: tiers.Default(), Logger: discardLogger()}
	rec := &models.UsageRecord{
		AccountID:            uuid.New(),
		Tier:                 tiers.Sovereign,
		APICallsThisMonth:    123456,
		StripeSubscriptionID: "sub_secret123",
		SubscriptionStatus:   models.SubscriptionStatusActive,
	}

	rr := httptest.NewRecorder()
	h.Get(rr, usageRequest(rec))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	var apiCalls map[string]json.RawMessage
	if err := json.Unmarshal(body["api_calls"], &apiCalls); err != nil {
		t.Fatal(err)
	}
	if string(apiCalls["limit"]) != `"unlimited"` || string(apiCalls["remaining"]) != `"unlimited"` {
		t.Errorf("limit/remaining = %s/%s, want \"unlimited\"", apiCalls["limit"], apiCalls["remaining"])
	}
	// Stripe identifiers must never appear on the wire.
	if strings.Contains(rr.Body.String(), "sub_secret123") {
		t.Errorf("response leaks subscription id: %s", rr.Body.String())
	}
	var sub struct {
		Status string `json:"status"`
		Active bool   `json:"active"`
	}
	if err := json.Unmarshal(body["subscription"], &sub); err != nil {
		t.Fatal(err)
	}
	if sub.Status != models.SubscriptionStatusActive || !sub.Active {
		t.Errorf("subscription = %+v", sub)
	}
}

func TestUsageGetUnknownTier(t *testing.T) {
	h := &UsageHandler{Catalog: tiers.Default(), Logger: discardLogger()}
	rec := &models.UsageRecord{AccountID: uuid.New(), Tier: "PLATINUM"}

	rr := httptest.NewRecorder()
	h.Get(rr, usageRequest(rec))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 (never a silent fallback)", rr.Code)
	}
}
