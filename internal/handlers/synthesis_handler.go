package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/papervault/backend/internal/middleware"
	"github.com/papervault/backend/internal/tiers"
)

// SynthesisEngine produces a research synthesis for a query over a set of
// corpus documents.
type SynthesisEngine interface {
	Synthesize(ctx context.Context, query string, documentIDs []string) (string, error)
}

// SynthesisMeter records synthesis calls against the usage ledger.
type SynthesisMeter interface {
	RecordSynthesisCall(ctx context.Context, accountID uuid.UUID) error
}

// SynthesisHandler serves POST /api/v1/synthesis. The feature is gated
// twice: the key needs the "synthesis" scope and the tier must include
// cross-document synthesis.
type SynthesisHandler struct {
	Engine     SynthesisEngine // nil while unconfigured
	Meter      SynthesisMeter
	Catalog    *tiers.Catalog
	UpgradeURL string
	Logger     *slog.Logger
}

type synthesisRequest struct {
	Query       string   `json:"query"`
	DocumentIDs []string `json:"document_ids"`
}

type synthesisResponse struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Result    string   `json:"result"`
}

func (h *SynthesisHandler) Create(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	key := middleware.APIKeyFromCtx(r.Context())
	rec := middleware.UsageFromCtx(r.Context())
	if acc == nil || key == nil || rec == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if !key.HasScope("synthesis") {
		http.Error(w, `{"error":"api key lacks the synthesis scope"}`, http.StatusForbidden)
		return
	}
	if !h.Catalog.SynthesisAllowed(rec.Tier) {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":       "cross-document synthesis is not included in your tier",
			"upgrade_url": h.UpgradeURL,
		})
		return
	}
	if h.Engine == nil {
		http.Error(w, `{"error":"synthesis engine is not configured"}`, http.StatusServiceUnavailable)
		return
	}

	var req synthesisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, `{"error":"query is required"}`, http.StatusBadRequest)
		return
	}

	result, err := h.Engine.Synthesize(r.Context(), req.Query, req.DocumentIDs)
	if err != nil {
		h.Logger.Error("synthesis failed", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	if err := h.Meter.RecordSynthesisCall(context.WithoutCancel(r.Context()), acc.ID); err != nil {
		h.Logger.Error("recording synthesis call failed", "account_id", acc.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, synthesisResponse{
		Query:     req.Query,
		Documents: req.DocumentIDs,
		Result:    result,
	})
}
