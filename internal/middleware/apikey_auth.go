package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/papervault/backend/internal/models"
	"github.com/papervault/backend/internal/repository"
)

type contextKey string

const (
	ctxAccountKey contextKey = "account"
	ctxAPIKeyKey  contextKey = "api_key"
	ctxUsageKey   contextKey = "usage_record"
)

// KeyRepo is the interface used by API key auth middleware.
type KeyRepo interface {
	FindByKeyHash(ctx context.Context, keyHash string) (*repository.APIKeyWithAccount, error)
	Touch(ctx context.Context, id uuid.UUID) error
}

// APIKeyAuth authenticates requests by hashing the Bearer token (SHA-256)
// and looking it up in api_keys. Tokens without the "pv_" prefix are
// rejected before any lookup. On success it sets the account and key into
// request context and touches last_used / usage_count.
func APIKeyAuth(keyRepo KeyRepo, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header. Use: Authorization: Bearer pv_..."}`, http.StatusUnauthorized)
				return
			}
			if !strings.HasPrefix(raw, models.APIKeySecretPrefix) {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}

			result, err := keyRepo.FindByKeyHash(r.Context(), models.HashAPIKeySecret(raw))
			if err != nil {
				if !errors.Is(err, repository.ErrNotFound) {
					logger.Error("api key lookup failed", "error", err)
					http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
					return
				}
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}
			if result.APIKey.ExpiresAt != nil && !result.APIKey.ExpiresAt.After(time.Now()) {
				http.Error(w, `{"error":"api key expired"}`, http.StatusUnauthorized)
				return
			}

			// last_used / usage_count track key validation, not quota. A
			// failed touch is logged and ignored; it must not fail the request.
			if err := keyRepo.Touch(r.Context(), result.APIKey.ID); err != nil {
				logger.Warn("api key touch failed", "key_id", result.APIKey.ID, "error", err)
			}

			ctx := context.WithValue(r.Context(), ctxAccountKey, &result.Account)
			ctx = context.WithValue(ctx, ctxAPIKeyKey, &result.APIKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccountFromCtx returns the authenticated account or nil.
func AccountFromCtx(ctx context.Context) *models.Account {
	acc, _ := ctx.Value(ctxAccountKey).(*models.Account)
	return acc
}

// WithAccount returns a context carrying the given account.
func WithAccount(ctx context.Context, acc *models.Account) context.Context {
	return context.WithValue(ctx, ctxAccountKey, acc)
}

// APIKeyFromCtx returns the key the request authenticated with, or nil.
func APIKeyFromCtx(ctx context.Context) *models.APIKey {
	k, _ := ctx.Value(ctxAPIKeyKey).(*models.APIKey)
	return k
}

// WithAPIKey returns a context carrying the given key.
func WithAPIKey(ctx context.Context, k *models.APIKey) context.Context {
	return context.WithValue(ctx, ctxAPIKeyKey, k)
}

// UsageFromCtx returns the usage record loaded by the quota gate, or nil.
func UsageFromCtx(ctx context.Context) *models.UsageRecord {
	u, _ := ctx.Value(ctxUsageKey).(*models.UsageRecord)
	return u
}

// WithUsage returns a context carrying the given usage record.
func WithUsage(ctx context.Context, u *models.UsageRecord) context.Context {
	return context.WithValue(ctx, ctxUsageKey, u)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
