package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papervault/backend/internal/models"
)

type APIKeyRepo struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepo(pool *pgxpool.Pool) *APIKeyRepo {
	return &APIKeyRepo{pool: pool}
}

// APIKeyWithAccount is returned by FindByKeyHash (api_key joined with account).
type APIKeyWithAccount struct {
	APIKey  models.APIKey
	Account models.Account
}

func (r *APIKeyRepo) Create(ctx context.Context, k *models.APIKey) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO api_keys (id, account_id, key_hash, key_prefix, name, scopes, rate_limit_per_minute, is_active, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, k.ID, k.AccountID, k.KeyHash, k.KeyPrefix, k.Name, k.Scopes, k.RateLimitPerMinute, k.IsActive, k.ExpiresAt).Scan(&k.CreatedAt)
}

// ListByAccountID returns all keys (active and revoked) for the account.
// KeyHash is scanned but never serialized; callers expose key_prefix only.
func (r *APIKeyRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, key_hash, key_prefix, name, scopes, rate_limit_per_minute,
		       is_active, usage_count, last_used, expires_at, created_at
		FROM api_keys WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.AccountID, &k.KeyHash, &k.KeyPrefix, &k.Name, &k.Scopes, &k.RateLimitPerMinute,
			&k.IsActive, &k.UsageCount, &k.LastUsed, &k.ExpiresAt, &k.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &k)
	}
	if list == nil {
		list = []*models.APIKey{}
	}
	return list, rows.Err()
}

// CountActiveByAccountID counts the account's active keys (for the per-account cap).
func (r *APIKeyRepo) CountActiveByAccountID(ctx context.Context, accountID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM api_keys WHERE account_id = $1 AND is_active = TRUE
	`, accountID).Scan(&n)
	return n, err
}

// FindByKeyHash returns the api_key and joined account for the given key
// hash. Only active keys match; expiry is checked by the caller so an
// expired key yields a distinct error message.
func (r *APIKeyRepo) FindByKeyHash(ctx context.Context, keyHash string) (*APIKeyWithAccount, error) {
	var out APIKeyWithAccount
	err := r.pool.QueryRow(ctx, `
		SELECT k.id, k.account_id, k.key_hash, k.key_prefix, k.name, k.scopes, k.rate_limit_per_minute,
		       k.is_active, k.usage_count, k.last_used, k.expires_at, k.created_at,
		       ac.id, ac.email, ac.name, ac.company, ac.password_hash, ac.created_at, ac.updated_at
		FROM api_keys k
		INNER JOIN accounts ac ON ac.id = k.account_id
		WHERE k.key_hash = $1 AND k.is_active = TRUE
	`, keyHash).Scan(
		&out.APIKey.ID, &out.APIKey.AccountID, &out.APIKey.KeyHash, &out.APIKey.KeyPrefix, &out.APIKey.Name,
		&out.APIKey.Scopes, &out.APIKey.RateLimitPerMinute, &out.APIKey.IsActive, &out.APIKey.UsageCount,
		&out.APIKey.LastUsed, &out.APIKey.ExpiresAt, &out.APIKey.CreatedAt,
		&out.Account.ID, &out.Account.Email, &out.Account.Name, &out.Account.Company,
		&out.Account.PasswordHash, &out.Account.CreatedAt, &out.Account.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Touch records a successful validation: bumps usage_count and last_used in
// one atomic statement. A side effect of validation, not of the quota gate.
func (r *APIKeyRepo) Touch(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE api_keys SET usage_count = usage_count + 1, last_used = now() WHERE id = $1
	`, id)
	return err
}

// Revoke soft-deletes: flips is_active off. The WHERE clause scopes the
// mutation to the owner; a cross-account attempt affects zero rows and
// reports ErrNotFound.
func (r *APIKeyRepo) Revoke(ctx context.Context, id, accountID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE api_keys SET is_active = FALSE WHERE id = $1 AND account_id = $2 AND is_active = TRUE
	`, id, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the key row entirely. Owner-scoped like Revoke.
func (r *APIKeyRepo) Delete(ctx context.Context, id, accountID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM api_keys WHERE id = $1 AND account_id = $2
	`, id, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
