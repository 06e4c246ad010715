package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papervault/backend/internal/models"
	"github.com/papervault/backend/internal/tiers"
)

// ErrInsufficientCredits is returned by DeductCredits when the balance
// cannot cover the amount. The balance is never clamped.
var ErrInsufficientCredits = errors.New("insufficient credits")

type UsageRepo struct {
	pool *pgxpool.Pool
}

func NewUsageRepo(pool *pgxpool.Pool) *UsageRepo {
	return &UsageRepo{pool: pool}
}

const usageColumns = `
	account_id, tier, api_calls_this_month, downloads_this_month, synthesis_calls_this_month,
	total_api_calls, total_downloads, total_synthesis_calls, credits_balance,
	current_period_start, current_period_end, last_updated,
	stripe_customer_id, stripe_subscription_id, subscription_status`

func scanUsage(row pgx.Row) (*models.UsageRecord, error) {
	var u models.UsageRecord
	err := row.Scan(
		&u.AccountID, &u.Tier, &u.APICallsThisMonth, &u.DownloadsThisMonth, &u.SynthesisCallsThisMonth,
		&u.TotalAPICalls, &u.TotalDownloads, &u.TotalSynthesisCalls, &u.CreditsBalance,
		&u.CurrentPeriodStart, &u.CurrentPeriodEnd, &u.LastUpdated,
		&u.StripeCustomerID, &u.StripeSubscriptionID, &u.SubscriptionStatus,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetOrCreate reads the account's usage record, creating a fresh one on the
// default tier if none exists. The conditional insert makes concurrent
// first reads converge on a single row.
func (r *UsageRepo) GetOrCreate(ctx context.Context, accountID uuid.UUID) (*models.UsageRecord, error) {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO usage_records (account_id, tier, current_period_start, current_period_end)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id) DO NOTHING
	`, accountID, tiers.Free, now, models.NextPeriodEnd(now))
	if err != nil {
		return nil, err
	}
	return scanUsage(r.pool.QueryRow(ctx, `SELECT`+usageColumns+` FROM usage_records WHERE account_id = $1`, accountID))
}

func (r *UsageRepo) GetByAccountID(ctx context.Context, accountID uuid.UUID) (*models.UsageRecord, error) {
	return scanUsage(r.pool.QueryRow(ctx, `SELECT`+usageColumns+` FROM usage_records WHERE account_id = $1`, accountID))
}

func (r *UsageRepo) GetByStripeCustomerID(ctx context.Context, customerID string) (*models.UsageRecord, error) {
	return scanUsage(r.pool.QueryRow(ctx, `SELECT`+usageColumns+` FROM usage_records WHERE stripe_customer_id = $1`, customerID))
}

// Rollover resets monthly counters if the current period has ended. The
// period guard in the WHERE clause makes concurrent rollovers idempotent:
// at most one of them advances the period, losers change nothing.
func (r *UsageRepo) Rollover(ctx context.Context, accountID uuid.UUID, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE usage_records
		SET api_calls_this_month = 0,
		    downloads_this_month = 0,
		    synthesis_calls_this_month = 0,
		    current_period_start = $2,
		    current_period_end = $3,
		    last_updated = now()
		WHERE account_id = $1 AND current_period_end <= $2
	`, accountID, now, models.NextPeriodEnd(now))
	return err
}

// IncrementAPICall bumps the monthly and lifetime API-call counters
// atomically in SQL, avoiding read-modify-write races across instances.
func (r *UsageRepo) IncrementAPICall(ctx context.Context, accountID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE usage_records
		SET api_calls_this_month = api_calls_this_month + 1,
		    total_api_calls = total_api_calls + 1,
		    last_updated = now()
		WHERE account_id = $1
	`, accountID)
	return err
}

func (r *UsageRepo) IncrementDownload(ctx context.Context, accountID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE usage_records
		SET downloads_this_month = downloads_this_month + 1,
		    total_downloads = total_downloads + 1,
		    last_updated = now()
		WHERE account_id = $1
	`, accountID)
	return err
}

func (r *UsageRepo) IncrementSynthesis(ctx context.Context, accountID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE usage_records
		SET synthesis_calls_this_month = synthesis_calls_this_month + 1,
		    total_synthesis_calls = total_synthesis_calls + 1,
		    last_updated = now()
		WHERE account_id = $1
	`, accountID)
	return err
}

// AddCredits adds to the balance and returns the balance after.
func (r *UsageRepo) AddCredits(ctx context.Context, accountID uuid.UUID, amount int64) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `
		UPDATE usage_records
		SET credits_balance = credits_balance + $2, last_updated = now()
		WHERE account_id = $1
		RETURNING credits_balance
	`, accountID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return balance, err
}

// DeductCredits debits the balance only if it covers the amount. A short
// balance matches zero rows and the debit is rejected whole, so the
// balance can never go negative.
func (r *UsageRepo) DeductCredits(ctx context.Context, accountID uuid.UUID, amount int64) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `
		UPDATE usage_records
		SET credits_balance = credits_balance - $2, last_updated = now()
		WHERE account_id = $1 AND credits_balance >= $2
		RETURNING credits_balance
	`, accountID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the account has no usage record or the balance is short.
		// Distinguish so callers can 404 vs 402 correctly.
		var exists bool
		if e := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM usage_records WHERE account_id = $1)`, accountID).Scan(&exists); e != nil {
			return 0, e
		}
		if !exists {
			return 0, ErrNotFound
		}
		return 0, ErrInsufficientCredits
	}
	return balance, err
}

// UpdateTier changes the account's tier in place. Monthly counters are left
// untouched; the next rollover resets them on schedule.
func (r *UsageRepo) UpdateTier(ctx context.Context, accountID uuid.UUID, tier string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE usage_records SET tier = $2, last_updated = now() WHERE account_id = $1
	`, accountID, tier)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStripeSubscription records the customer/subscription linkage and its
// status after a billing event.
func (r *UsageRepo) SetStripeSubscription(ctx context.Context, accountID uuid.UUID, customerID, subscriptionID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE usage_records
		SET stripe_customer_id = $2, stripe_subscription_id = $3, subscription_status = $4, last_updated = now()
		WHERE account_id = $1
	`, accountID, customerID, subscriptionID, status)
	return err
}
