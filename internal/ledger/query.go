package ledger

import (
	"context"
	"fmt"

	"github.com/sheikh-saqib/account-ledger/internal/models"
)

// EntriesByAccount returns the account's entries newest first.
// A limit <= 0 returns every entry.
func (l *Ledger) EntriesByAccount(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error) {
	entries, err := l.store.EntriesByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: entries of account %s: %w", ErrStoreUnavailable, accountID, err)
	}
	return entries, nil
}

// EntriesByCustomer returns the entries of every account owned by the
// customer, newest first.
func (l *Ledger) EntriesByCustomer(ctx context.Context, customerID string, limit int) ([]models.LedgerEntry, error) {
	entries, err := l.store.EntriesByCustomer(ctx, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: entries of customer %s: %w", ErrStoreUnavailable, customerID, err)
	}
	return entries, nil
}
