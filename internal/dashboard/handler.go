package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/papervault/backend/internal/auth"
	"github.com/papervault/backend/internal/models"
	"github.com/papervault/backend/internal/repository"
)

// AccountStore is the account repository slice the dashboard needs.
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	Update(ctx context.Context, a *models.Account) error
}

// KeyStore manages the account's API keys.
type KeyStore interface {
	Create(ctx context.Context, k *models.APIKey) error
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.APIKey, error)
	CountActiveByAccountID(ctx context.Context, accountID uuid.UUID) (int, error)
	Revoke(ctx context.Context, id, accountID uuid.UUID) error
	Delete(ctx context.Context, id, accountID uuid.UUID) error
}

// LedgerStore reads credit ledger entries.
type LedgerStore interface {
	ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.CreditLedger, error)
}

// UsageStore reads the account's usage record.
type UsageStore interface {
	GetOrCreate(ctx context.Context, accountID uuid.UUID) (*models.UsageRecord, error)
}

type Handler struct {
	authSvc  auth.Service
	accountR AccountStore
	keyR     KeyStore
	ledgerR  LedgerStore
	usageR   UsageStore
	log      *slog.Logger
}

func NewHandler(authSvc auth.Service, accountR AccountStore, keyR KeyStore, ledgerR LedgerStore, usageR UsageStore, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{authSvc: authSvc, accountR: accountR, keyR: keyR, ledgerR: ledgerR, usageR: usageR, log: log}
}

func (h *Handler) accountIDFromRequest(r *http.Request) (uuid.UUID, error) {
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return uuid.Nil, fmt.Errorf("bad authorization format")
	}
	token := strings.TrimSpace(authz[len(prefix):])
	if token == "" {
		return uuid.Nil, fmt.Errorf("empty token")
	}
	return h.authSvc.ValidateToken(r.Context(), token)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /api/account/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	acc, err := h.accountR.GetByID(r.Context(), accountID)
	if err != nil {
		http.Error(w, `{"error":"account not found"}`, http.StatusNotFound)
		return
	}
	rec, err := h.usageR.GetOrCreate(r.Context(), accountID)
	if err != nil {
		h.log.Error("load usage for me failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                  acc.ID,
		"email":               acc.Email,
		"name":                acc.Name,
		"company":             acc.Company,
		"tier":                rec.Tier,
		"credits_balance":     rec.CreditsBalance,
		"subscription_status": rec.SubscriptionStatus,
		"created_at":          acc.CreatedAt,
	})
}

// PATCH /api/account/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	acc, err := h.accountR.GetByID(r.Context(), accountID)
	if err != nil {
		http.Error(w, `{"error":"account not found"}`, http.StatusNotFound)
		return
	}
	var body struct {
		Name    *string `json:"name"`
		Company *string `json:"company"`
		Email   *string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if body.Name != nil {
		acc.Name = *body.Name
	}
	if body.Company != nil {
		acc.Company = *body.Company
	}
	if body.Email != nil {
		acc.Email = *body.Email
	}
	if err := h.accountR.Update(r.Context(), acc); err != nil {
		h.log.Error("update settings failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id": acc.ID, "email": acc.Email, "name": acc.Name, "company": acc.Company,
	})
}

// GET /api/credit-ledger
func (h *Handler) ListCreditLedger(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	entries, err := h.ledgerR.ListByAccountID(r.Context(), accountID, 50)
	if err != nil {
		h.log.Error("list credit ledger failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// GET /api/api-keys
//
// Revoked keys stay listed (is_active false); deleted keys are gone.
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	keys, err := h.keyR.ListByAccountID(r.Context(), accountID)
	if err != nil {
		h.log.Error("list api keys failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

type createKeyRequest struct {
	Name          string   `json:"name"`
	Scopes        []string `json:"scopes"`
	RateLimit     int      `json:"rate_limit_per_minute"`
	ExpiresInDays int      `json:"expires_in_days"`
}

// POST /api/api-keys
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, `{"error":"name is required"}`, http.StatusBadRequest)
		return
	}

	// The cap is checked before anything is generated or persisted.
	active, err := h.keyR.CountActiveByAccountID(r.Context(), accountID)
	if err != nil {
		h.log.Error("count api keys failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if active >= models.MaxActiveKeysPerAccount {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": fmt.Sprintf("an account may hold at most %d active api keys; revoke one first", models.MaxActiveKeysPerAccount),
		})
		return
	}

	rawKey, err := models.NewAPIKeySecret()
	if err != nil {
		h.log.Error("key generation failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = models.DefaultKeyScopes
	}
	rateLimit := req.RateLimit
	if rateLimit <= 0 {
		rateLimit = models.DefaultKeyRateLimitPerMinute
	}
	var expiresAt *time.Time
	if req.ExpiresInDays > 0 {
		t := time.Now().AddDate(0, 0, req.ExpiresInDays)
		expiresAt = &t
	}

	k := &models.APIKey{
		ID:                 uuid.New(),
		AccountID:          accountID,
		KeyHash:            models.HashAPIKeySecret(rawKey),
		KeyPrefix:          rawKey[:models.KeyPrefixLen],
		Name:               req.Name,
		Scopes:             scopes,
		RateLimitPerMinute: rateLimit,
		IsActive:           true,
		ExpiresAt:          expiresAt,
	}
	if err := h.keyR.Create(r.Context(), k); err != nil {
		h.log.Error("create api key failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	// The plaintext key appears in this response and nowhere else.
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":                    k.ID,
		"name":                  k.Name,
		"key_prefix":            k.KeyPrefix,
		"scopes":                k.Scopes,
		"rate_limit_per_minute": k.RateLimitPerMinute,
		"is_active":             k.IsActive,
		"expires_at":            k.ExpiresAt,
		"key":                   rawKey,
	})
}

// DELETE /api/api-keys/{id}?permanent=true
//
// Default is a revoke (key stays listed, inactive). permanent=true removes
// the row. Keys belonging to another account 404 either way.
func (h *Handler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	keyID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid key id"}`, http.StatusBadRequest)
		return
	}

	if r.URL.Query().Get("permanent") == "true" {
		err = h.keyR.Delete(r.Context(), keyID, accountID)
	} else {
		err = h.keyR.Revoke(r.Context(), keyID, accountID)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, `{"error":"api key not found"}`, http.StatusNotFound)
			return
		}
		h.log.Error("delete api key failed", "key_id", keyID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
