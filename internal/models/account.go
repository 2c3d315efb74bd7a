package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType is the product an account was opened as.
type AccountType string

const (
	TypeSavings AccountType = "SAVINGS"
	TypeCurrent AccountType = "CURRENT"
)

// Valid reports whether t is one of the known account types.
func (t AccountType) Valid() bool {
	return t == TypeSavings || t == TypeCurrent
}

// Account is a customer balance guarded by an optimistic version stamp.
// Version starts at 1 and is incremented by the store on every successful write.
type Account struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customer_id"`
	Type       AccountType     `json:"type"`
	Balance    decimal.Decimal `json:"balance"`
	Version    int64           `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// CanDebit reports whether the balance covers amount without going negative.
func (a Account) CanDebit(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}
