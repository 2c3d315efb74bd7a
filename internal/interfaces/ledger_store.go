package interfaces

import (
	"context"
	"errors"

	"github.com/sheikh-saqib/account-ledger/internal/models"
)

var (
	// ErrNotFound is returned when an account does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when a conditional write finds a stored
	// version different from the expected one. It is the only retryable store error.
	ErrVersionConflict = errors.New("version conflict")
)

// AccountStore is durable keyed storage for versioned accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, account models.Account) error
	LoadAccount(ctx context.Context, accountID string) (models.Account, error)
	AccountsByCustomer(ctx context.Context, customerID string) ([]models.Account, error)
	// SaveIfVersionMatches persists account only if the stored version equals
	// expectedVersion and returns the new version.
	SaveIfVersionMatches(ctx context.Context, account models.Account, expectedVersion int64) (int64, error)
}

// LedgerLog is the append-only store of ledger entries. Queries return entries
// newest first; a limit <= 0 means no limit.
type LedgerLog interface {
	Append(ctx context.Context, entry models.LedgerEntry) error
	EntriesByAccount(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error)
	EntriesByCustomer(ctx context.Context, customerID string, limit int) ([]models.LedgerEntry, error)
}

// LedgerStore combines both stores with an atomic multi-record commit.
type LedgerStore interface {
	AccountStore
	LedgerLog
	// Commit applies every write and appends every entry of batch as one unit.
	// Any stale expected version fails the whole batch with ErrVersionConflict.
	Commit(ctx context.Context, batch models.Batch) error
}
