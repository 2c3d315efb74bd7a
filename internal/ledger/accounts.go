package ledger

import (
	"context"
	"errors"
	"fmt"

	interfaces "github.com/sheikh-saqib/account-ledger/internal/interfaces"
	"github.com/sheikh-saqib/account-ledger/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OpenAccount creates a SAVINGS or CURRENT account for customerID with a
// non-negative opening balance.
func (l *Ledger) OpenAccount(ctx context.Context, customerID string, accountType models.AccountType, initialBalance decimal.Decimal) (models.Account, error) {
	if customerID == "" {
		return models.Account{}, fmt.Errorf("%w: customer id is required", ErrInvalidArgument)
	}
	if !accountType.Valid() {
		return models.Account{}, fmt.Errorf("%w: unknown account type %q", ErrInvalidArgument, accountType)
	}
	if initialBalance.IsNegative() {
		return models.Account{}, fmt.Errorf("%w: opening balance %s is negative", ErrInvalidAmount, initialBalance)
	}

	now := l.now()
	account := models.Account{
		ID:         l.newID(),
		CustomerID: customerID,
		Type:       accountType,
		Balance:    initialBalance,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := l.store.CreateAccount(ctx, account); err != nil {
		return models.Account{}, fmt.Errorf("%w: create account: %w", ErrStoreUnavailable, err)
	}

	l.logger.Info("account opened",
		zap.String("account_id", account.ID),
		zap.String("customer_id", customerID),
		zap.String("type", string(accountType)),
	)
	return account, nil
}

// Account returns the current state of an account.
func (l *Ledger) Account(ctx context.Context, accountID string) (models.Account, error) {
	return l.load(ctx, accountID, SideAccount)
}

// CustomerAccounts lists a customer's accounts, oldest first. A non-empty
// accountType keeps only accounts of that type.
func (l *Ledger) CustomerAccounts(ctx context.Context, customerID string, accountType models.AccountType) ([]models.Account, error) {
	if accountType != "" && !accountType.Valid() {
		return nil, fmt.Errorf("%w: unknown account type %q", ErrInvalidArgument, accountType)
	}

	accounts, err := l.store.AccountsByCustomer(ctx, customerID)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("%w: accounts of customer %s: %w", ErrStoreUnavailable, customerID, err)
	}
	if accountType == "" {
		return accounts, nil
	}

	filtered := make([]models.Account, 0, len(accounts))
	for _, a := range accounts {
		if a.Type == accountType {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}
