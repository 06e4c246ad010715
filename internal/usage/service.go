package usage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/papervault/backend/internal/models"
	"github.com/papervault/backend/internal/tiers"
)

// ReasonLimitReached is the machine-readable denial reason carried on a
// Decision when the monthly allowance is exhausted.
const ReasonLimitReached = "limit reached"

// Store is the minimal usage-record interface the service needs.
type Store interface {
	GetOrCreate(ctx context.Context, accountID uuid.UUID) (*models.UsageRecord, error)
	Rollover(ctx context.Context, accountID uuid.UUID, now time.Time) error
	IncrementAPICall(ctx context.Context, accountID uuid.UUID) error
	IncrementDownload(ctx context.Context, accountID uuid.UUID) error
	IncrementSynthesis(ctx context.Context, accountID uuid.UUID) error
	UpdateTier(ctx context.Context, accountID uuid.UUID, tier string) error
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Limit     tiers.Limit
	Remaining tiers.Limit
	Reason    string
}

// Service meters accounts against the tier catalog. All counter mutations
// go through the Store as atomic SQL; the service only decides and
// delegates.
type Service struct {
	Store   Store
	Catalog *tiers.Catalog

	// Now is swappable for tests; nil means time.Now.
	Now func() time.Time
}

func NewService(store Store, catalog *tiers.Catalog) *Service {
	return &Service{Store: store, Catalog: catalog}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Load returns the account's usage record with any due rollover already
// persisted. First access creates a fresh record on the default tier.
func (s *Service) Load(ctx context.Context, accountID uuid.UUID) (*models.UsageRecord, error) {
	rec, err := s.Store.GetOrCreate(ctx, accountID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if rec.CurrentPeriodEnd.After(now) {
		return rec, nil
	}
	// Period ended: persist the reset before any decision is made. The
	// rollover is guarded in SQL, so a concurrent caller doing the same
	// thing is harmless.
	if err := s.Store.Rollover(ctx, accountID, now); err != nil {
		return nil, err
	}
	return s.Store.GetOrCreate(ctx, accountID)
}

// CanAdmit decides whether one more API call fits the account's monthly
// allowance. On allow, Remaining already has the admitted call subtracted;
// the caller records the call after the handler runs.
//
// Two concurrent checks can both admit on the last slot. That overshoot of
// at most the in-flight request count is accepted; limits here are billing
// guardrails, not hard concurrency control.
func (s *Service) CanAdmit(ctx context.Context, accountID uuid.UUID) (Decision, *models.UsageRecord, error) {
	rec, err := s.Load(ctx, accountID)
	if err != nil {
		return Decision{}, nil, err
	}
	tier, err := s.Catalog.Lookup(rec.Tier)
	if err != nil {
		// A tier name in the database that the catalog does not know is a
		// deployment fault, never a quiet downgrade.
		return Decision{}, nil, err
	}
	limit := tier.APICallsPerMonth
	if limit.IsUnlimited() {
		return Decision{Allowed: true, Limit: limit, Remaining: tiers.Unlimited}, rec, nil
	}
	if !limit.Allows(rec.APICallsThisMonth) {
		return Decision{
			Allowed:   false,
			Limit:     limit,
			Remaining: tiers.LimitOf(0),
			Reason:    ReasonLimitReached,
		}, rec, nil
	}
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit.Remaining(rec.APICallsThisMonth + 1),
	}, rec, nil
}

// CheckDownload decides whether one more corpus download fits the monthly
// download allowance, given an already-loaded record.
func (s *Service) CheckDownload(rec *models.UsageRecord) (Decision, error) {
	tier, err := s.Catalog.Lookup(rec.Tier)
	if err != nil {
		return Decision{}, err
	}
	limit := tier.DownloadLimit
	if limit.IsUnlimited() {
		return Decision{Allowed: true, Limit: limit, Remaining: tiers.Unlimited}, nil
	}
	if !limit.Allows(rec.DownloadsThisMonth) {
		return Decision{Allowed: false, Limit: limit, Remaining: tiers.LimitOf(0), Reason: ReasonLimitReached}, nil
	}
	return Decision{Allowed: true, Limit: limit, Remaining: limit.Remaining(rec.DownloadsThisMonth + 1)}, nil
}

// RecordAPICall charges one API call to the account. Called once per
// request that passed the gate, whatever the handler then did.
func (s *Service) RecordAPICall(ctx context.Context, accountID uuid.UUID) error {
	return s.Store.IncrementAPICall(ctx, accountID)
}

func (s *Service) RecordDownload(ctx context.Context, accountID uuid.UUID) error {
	return s.Store.IncrementDownload(ctx, accountID)
}

func (s *Service) RecordSynthesisCall(ctx context.Context, accountID uuid.UUID) error {
	return s.Store.IncrementSynthesis(ctx, accountID)
}

// UpdateTier moves the account to a new tier after validating the name
// against the catalog. Monthly counters carry over until the next rollover.
func (s *Service) UpdateTier(ctx context.Context, accountID uuid.UUID, tier string) error {
	if _, err := s.Catalog.Lookup(tier); err != nil {
		return err
	}
	return s.Store.UpdateTier(ctx, accountID, tier)
}
