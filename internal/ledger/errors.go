package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrAccountNotFound      = errors.New("account not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrConcurrencyExhausted = errors.New("concurrent update failed")
	ErrStoreUnavailable     = errors.New("ledger store unavailable")
)

// Side names which account of an operation an error refers to.
type Side string

const (
	SideAccount     Side = "account"
	SideSource      Side = "source"
	SideDestination Side = "destination"
)

// AccountNotFoundError names the missing account. It matches ErrAccountNotFound.
type AccountNotFoundError struct {
	AccountID string
	Side      Side
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("%s account not found: %s", e.Side, e.AccountID)
}

func (e *AccountNotFoundError) Unwrap() error {
	return ErrAccountNotFound
}
