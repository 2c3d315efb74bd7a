package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind identifies the balance-affecting event an entry records.
type EntryKind string

const (
	KindDeposit          EntryKind = "DEPOSIT"
	KindWithdraw         EntryKind = "WITHDRAW"
	KindTransferSent     EntryKind = "TRANSFER_SENT"
	KindTransferReceived EntryKind = "TRANSFER_RECEIVED"
)

// Valid reports whether k is one of the known entry kinds.
func (k EntryKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdraw, KindTransferSent, KindTransferReceived:
		return true
	}
	return false
}

// EntryStatus is the outcome recorded on an entry. Only committed operations
// produce entries, so SUCCESS is the only status ever persisted.
type EntryStatus string

const StatusSuccess EntryStatus = "SUCCESS"

// LedgerEntry represents a single immutable ledger record for an account
type LedgerEntry struct {
	ID                    string          `json:"id"`
	AccountID             string          `json:"account_id"`
	CounterpartyAccountID string          `json:"counterparty_account_id,omitempty"` // other side of a transfer
	TransferID            string          `json:"transfer_id,omitempty"`             // shared by both entries of a transfer
	Kind                  EntryKind       `json:"kind"`
	Amount                decimal.Decimal `json:"amount"` // always positive, direction comes from Kind
	BalanceAfter          decimal.Decimal `json:"balance_after"`
	Status                EntryStatus     `json:"status"`
	CreatedAt             time.Time       `json:"created_at"`
}
