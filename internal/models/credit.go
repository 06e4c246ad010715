package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit ledger entry_type enums.
const (
	CreditEntryPurchase = "purchase"
	CreditEntryGrant    = "grant"
	CreditEntryDebit    = "debit"
)

type CreditLedger struct {
	ID           uuid.UUID `json:"id"`
	AccountID    uuid.UUID `json:"account_id"`
	EntryType    string    `json:"entry_type"`
	Amount       int64     `json:"amount"`
	BalanceAfter *int64    `json:"balance_after,omitempty"`
	Reference    string    `json:"reference,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
