package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papervault/backend/internal/models"
)

type CreditRepo struct {
	pool *pgxpool.Pool
}

func NewCreditRepo(pool *pgxpool.Pool) *CreditRepo {
	return &CreditRepo{pool: pool}
}

func (r *CreditRepo) Create(ctx context.Context, e *models.CreditLedger) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO credit_ledger (id, account_id, entry_type, amount, balance_after, reference)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, e.ID, e.AccountID, e.EntryType, e.Amount, e.BalanceAfter, e.Reference).Scan(&e.CreatedAt)
}

// ListByAccountID returns the account's ledger entries, newest first.
func (r *CreditRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.CreditLedger, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, entry_type, amount, balance_after, reference, created_at
		FROM credit_ledger
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditLedger
	for rows.Next() {
		var e models.CreditLedger
		if err := rows.Scan(&e.ID, &e.AccountID, &e.EntryType, &e.Amount, &e.BalanceAfter, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	if list == nil {
		list = []*models.CreditLedger{}
	}
	return list, rows.Err()
}
