package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/papervault/backend/internal/corpus"
	"github.com/papervault/backend/internal/middleware"
	"github.com/papervault/backend/internal/models"
	"github.com/papervault/backend/internal/tiers"
	"github.com/papervault/backend/internal/usage"
)

// DownloadMeter is the slice of the usage service the corpus handler needs.
type DownloadMeter interface {
	CheckDownload(rec *models.UsageRecord) (usage.Decision, error)
	RecordDownload(ctx context.Context, accountID uuid.UUID) error
}

// CorpusHandler serves /api/v1/corpus. Every route runs behind the API key
// auth and quota gate, so the account and usage record are in context.
type CorpusHandler struct {
	Store      corpus.Store
	Meter      DownloadMeter
	Catalog    *tiers.Catalog
	UpgradeURL string
	Logger     *slog.Logger
}

// storeReady answers 503 when no object store is configured. The routes
// stay registered either way so a misconfigured deployment is Unavailable,
// not a 404.
func (h *CorpusHandler) storeReady(w http.ResponseWriter) bool {
	if h.Store == nil {
		http.Error(w, `{"error":"corpus storage not configured"}`, http.StatusServiceUnavailable)
		return false
	}
	return true
}

// List handles GET /api/v1/corpus.
func (h *CorpusHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.storeReady(w) {
		return
	}
	q := r.URL.Query()
	opts := corpus.ListOptions{
		Category: q.Get("category"),
		Search:   q.Get("search"),
	}
	var err error
	if opts.Limit, err = intParam(q.Get("limit"), 20); err != nil {
		http.Error(w, `{"error":"limit must be an integer"}`, http.StatusBadRequest)
		return
	}
	if opts.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		http.Error(w, `{"error":"offset must be an integer"}`, http.StatusBadRequest)
		return
	}

	page, err := h.Store.List(r.Context(), opts)
	if err != nil {
		h.Logger.Error("list corpus", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Get handles GET /api/v1/corpus/{id}.
func (h *CorpusHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.storeReady(w) {
		return
	}
	doc, err := h.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, corpus.ErrNotFound) {
			http.Error(w, `{"error":"document not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("get corpus document", "id", r.PathValue("id"), "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type downloadResponse struct {
	DownloadURL        string    `json:"download_url"`
	ExpiresAt          time.Time `json:"expires_at"`
	RemainingDownloads int64     `json:"remaining_downloads"`
}

// Download handles POST /api/v1/corpus/{id}. The download limit is
// separate from the API call limit the gate already charged.
func (h *CorpusHandler) Download(w http.ResponseWriter, r *http.Request) {
	if !h.storeReady(w) {
		return
	}
	acc := middleware.AccountFromCtx(r.Context())
	rec := middleware.UsageFromCtx(r.Context())
	if acc == nil || rec == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	dec, err := h.Meter.CheckDownload(rec)
	if err != nil {
		h.Logger.Error("download check failed", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if !dec.Allowed {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":       "monthly download limit reached",
			"reason":      dec.Reason,
			"limit":       dec.Limit.Wire(),
			"remaining":   dec.Remaining.Wire(),
			"upgrade_url": h.UpgradeURL,
		})
		return
	}

	url, expires, err := h.Store.SignedDownloadURL(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, corpus.ErrNotFound) {
			http.Error(w, `{"error":"document not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("sign download url", "id", r.PathValue("id"), "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	// A link was issued, so the download counts even if the client never
	// follows it.
	if err := h.Meter.RecordDownload(context.WithoutCancel(r.Context()), acc.ID); err != nil {
		h.Logger.Error("recording download failed", "account_id", acc.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, downloadResponse{
		DownloadURL:        url,
		ExpiresAt:          expires,
		RemainingDownloads: dec.Remaining.Wire(),
	})
}

// Upload handles POST /api/v1/corpus: multipart upload of a single PDF.
// Requires the "write" scope and a paid tier.
func (h *CorpusHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if !h.storeReady(w) {
		return
	}
	key := middleware.APIKeyFromCtx(r.Context())
	rec := middleware.UsageFromCtx(r.Context())
	if key == nil || rec == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if !key.HasScope("write") {
		http.Error(w, `{"error":"api key lacks the write scope"}`, http.StatusForbidden)
		return
	}
	if !h.Catalog.Paid(rec.Tier) {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":       "corpus uploads require a paid tier",
			"upgrade_url": h.UpgradeURL,
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, corpus.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, `{"error":"document exceeds the 50MB upload limit"}`, http.StatusBadRequest)
			return
		}
		http.Error(w, `{"error":"multipart field \"file\" is required"}`, http.StatusBadRequest)
		return
	}
	defer file.Close()

	id := path.Base(header.Filename)
	if id == "." || id == "/" || !strings.EqualFold(path.Ext(id), ".pdf") {
		http.Error(w, `{"error":"only PDF documents are accepted"}`, http.StatusBadRequest)
		return
	}
	if ct := header.Header.Get("Content-Type"); ct != "" && ct != "application/pdf" && ct != "application/octet-stream" {
		http.Error(w, `{"error":"only PDF documents are accepted"}`, http.StatusBadRequest)
		return
	}

	metadata := map[string]string{}
	if title := r.FormValue("title"); title != "" {
		metadata["title"] = title
	}
	if category := r.FormValue("category"); category != "" {
		metadata["category"] = category
	}

	doc, err := h.Store.Upload(r.Context(), id, "application/pdf", metadata, file)
	if err != nil {
		h.Logger.Error("upload corpus document", "id", id, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
