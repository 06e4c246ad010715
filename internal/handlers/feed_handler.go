package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/papervault/backend/internal/models"
)

// PaperLister reads recently ingested papers.
type PaperLister interface {
	ListRecent(ctx context.Context, category string, limit int) ([]*models.Paper, error)
}

// FeedHandler serves GET /api/v1/feed: the newest papers pulled in by the
// feed scraper.
type FeedHandler struct {
	Papers PaperLister
	Logger *slog.Logger
}

func (h *FeedHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 20)
	if err != nil {
		http.Error(w, `{"error":"limit must be an integer"}`, http.StatusBadRequest)
		return
	}

	papers, err := h.Papers.ListRecent(r.Context(), q.Get("category"), limit)
	if err != nil {
		h.Logger.Error("list feed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"papers": papers})
}
