package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntryRecorded is emitted once per committed ledger entry.
type LedgerEntryRecorded struct {
	EntryID               string          `json:"entry_id"`
	AccountID             string          `json:"account_id"`
	CounterpartyAccountID string          `json:"counterparty_account_id,omitempty"`
	TransferID            string          `json:"transfer_id,omitempty"`
	Kind                  string          `json:"kind"`
	Amount                decimal.Decimal `json:"amount"`
	BalanceAfter          decimal.Decimal `json:"balance_after"`
	OccurredAt            time.Time       `json:"occurred_at"`
}
