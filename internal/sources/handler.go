// Package sources manages the registry of upstream feeds the ingest
// worker scrapes for new papers.
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/papervault/backend/internal/auth"
	"github.com/papervault/backend/internal/models"
	"github.com/papervault/backend/internal/repository"
)

// Registry is the feed-source repository slice the handlers need.
type Registry interface {
	Create(ctx context.Context, s *models.FeedSource) error
	ListActive(ctx context.Context) ([]*models.FeedSource, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

type CreateSourceRequest struct {
	Name     string `json:"name"`
	FeedURL  string `json:"feed_url"`
	Category string `json:"category"`
}

type Handler struct {
	registry Registry
	authSvc  auth.Service
	log      *slog.Logger
}

func NewHandler(registry Registry, authSvc auth.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{registry: registry, authSvc: authSvc, log: log}
}

func (h *Handler) accountIDFromRequest(r *http.Request) (uuid.UUID, error) {
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return uuid.Nil, errors.New("bad authorization format")
	}
	token := strings.TrimSpace(authz[len(prefix):])
	if token == "" {
		return uuid.Nil, errors.New("empty token")
	}
	return h.authSvc.ValidateToken(r.Context(), token)
}

// POST /api/sources
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if _, err := h.accountIDFromRequest(r); err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req CreateSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.FeedURL == "" {
		http.Error(w, `{"error":"name and feed_url are required"}`, http.StatusBadRequest)
		return
	}
	if u, err := url.Parse(req.FeedURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		http.Error(w, `{"error":"feed_url must be an absolute http(s) URL"}`, http.StatusBadRequest)
		return
	}

	src := &models.FeedSource{
		ID:       uuid.New(),
		Name:     req.Name,
		FeedURL:  req.FeedURL,
		Category: req.Category,
		IsActive: true,
	}
	if err := h.registry.Create(r.Context(), src); err != nil {
		h.log.Error("create feed source failed", "error", err)
		http.Error(w, `{"error":"create source failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

// GET /api/sources
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if _, err := h.accountIDFromRequest(r); err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.registry.ListActive(r.Context())
	if err != nil {
		h.log.Error("list feed sources failed", "error", err)
		http.Error(w, `{"error":"list sources failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": list})
}

// DELETE /api/sources/{id} deactivates the source. Papers already
// ingested from it stay in the feed.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if _, err := h.accountIDFromRequest(r); err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid source id"}`, http.StatusBadRequest)
		return
	}
	if err := h.registry.SetActive(r.Context(), id, false); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, `{"error":"source not found"}`, http.StatusNotFound)
			return
		}
		h.log.Error("deactivate feed source failed", "source_id", id, "error", err)
		http.Error(w, `{"error":"delete source failed"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
