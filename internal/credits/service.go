package credits

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/papervault/backend/internal/models"
)

// ErrInvalidAmount is returned when a credit mutation is requested with a
// zero or negative amount.
var ErrInvalidAmount = errors.New("credit amount must be positive")

// Wallet is the minimal balance interface for credit mutations. Both
// methods return the balance after the mutation; Deduct fails whole when
// the balance is short.
type Wallet interface {
	AddCredits(ctx context.Context, accountID uuid.UUID, amount int64) (int64, error)
	DeductCredits(ctx context.Context, accountID uuid.UUID, amount int64) (int64, error)
}

// Ledger is the minimal credit ledger interface.
type Ledger interface {
	Create(ctx context.Context, e *models.CreditLedger) error
}

// Service pairs every balance mutation with a ledger entry recording the
// balance after. The balance itself lives on the usage record and is only
// ever changed through atomic SQL, so it can never go negative.
type Service struct {
	Wallet Wallet
	Ledger Ledger
}

func NewService(wallet Wallet, ledger Ledger) *Service {
	return &Service{Wallet: wallet, Ledger: ledger}
}

// Purchase credits the account after a paid credit pack, referencing the
// payment (e.g. a Stripe checkout session ID).
func (s *Service) Purchase(ctx context.Context, accountID uuid.UUID, amount int64, reference string) (int64, error) {
	return s.add(ctx, accountID, amount, models.CreditEntryPurchase, reference)
}

// Grant credits the account without a payment (promotions, support).
func (s *Service) Grant(ctx context.Context, accountID uuid.UUID, amount int64, reference string) (int64, error) {
	return s.add(ctx, accountID, amount, models.CreditEntryGrant, reference)
}

func (s *Service) add(ctx context.Context, accountID uuid.UUID, amount int64, entryType, reference string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	balance, err := s.Wallet.AddCredits(ctx, accountID, amount)
	if err != nil {
		return 0, err
	}
	err = s.Ledger.Create(ctx, &models.CreditLedger{
		ID:           uuid.New(),
		AccountID:    accountID,
		EntryType:    entryType,
		Amount:       amount,
		BalanceAfter: &balance,
		Reference:    reference,
	})
	return balance, err
}

// Debit spends credits. A short balance rejects the whole debit; the
// ledger records only mutations that happened.
func (s *Service) Debit(ctx context.Context, accountID uuid.UUID, amount int64, reference string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	balance, err := s.Wallet.DeductCredits(ctx, accountID, amount)
	if err != nil {
		return 0, err
	}
	err = s.Ledger.Create(ctx, &models.CreditLedger{
		ID:           uuid.New(),
		AccountID:    accountID,
		EntryType:    models.CreditEntryDebit,
		Amount:       -amount,
		BalanceAfter: &balance,
		Reference:    reference,
	})
	return balance, err
}
