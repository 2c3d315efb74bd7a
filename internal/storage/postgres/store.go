package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/lib/pq"
	interfaces "github.com/sheikh-saqib/account-ledger/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/account-ledger/internal/models"
)

// Postgres error codes that mean a concurrent writer won.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

const accountColumns = `id, customer_id, type, balance, version, created_at, updated_at`

const entryColumns = `e.id, e.account_id, e.counterparty_account_id, e.transfer_id, e.kind,
	e.amount, e.balance_after, e.status, e.created_at`

// PostgresLedgerStore keeps accounts and ledger entries in PostgreSQL.
// Every Commit is one database transaction.
type PostgresLedgerStore struct {
	db *sql.DB
}

// NewPostgresLedgerStore expects a schema created by Migrate.
func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db: db,
	}
}

// CreateAccount inserts a new account row.
func (p *PostgresLedgerStore) CreateAccount(ctx context.Context, account models.Account) error {
	const query = `INSERT INTO accounts (id, customer_id, type, balance, version, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := p.db.ExecContext(ctx, query, account.ID, account.CustomerID, string(account.Type),
		account.Balance, account.Version, account.CreatedAt, account.UpdatedAt)
	return err
}

// LoadAccount returns interfaces.ErrNotFound when no row matches.
func (p *PostgresLedgerStore) LoadAccount(ctx context.Context, accountID string) (models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	a, err := scanAccount(p.db.QueryRowContext(ctx, query, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, interfaces.ErrNotFound
	}
	if err != nil {
		return models.Account{}, err
	}
	return a, nil
}

// AccountsByCustomer lists a customer's accounts, oldest first.
func (p *PostgresLedgerStore) AccountsByCustomer(ctx context.Context, customerID string) ([]models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE customer_id = $1 ORDER BY created_at, id`

	rows, err := p.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (models.Account, error) {
	var (
		a           models.Account
		accountType string
	)
	if err := row.Scan(&a.ID, &a.CustomerID, &accountType, &a.Balance, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return models.Account{}, err
	}
	t, err := parseAccountType(accountType)
	if err != nil {
		return models.Account{}, err
	}
	a.Type = t
	return a, nil
}

// SaveIfVersionMatches is a single-write Commit.
func (p *PostgresLedgerStore) SaveIfVersionMatches(ctx context.Context, account models.Account, expectedVersion int64) (int64, error) {
	write := models.VersionedWrite{Account: account, ExpectedVersion: expectedVersion}
	if err := p.Commit(ctx, models.Batch{Writes: []models.VersionedWrite{write}}); err != nil {
		return 0, err
	}
	return expectedVersion + 1, nil
}

// Append is a single-entry Commit.
func (p *PostgresLedgerStore) Append(ctx context.Context, entry models.LedgerEntry) error {
	return p.Commit(ctx, models.Batch{Entries: []models.LedgerEntry{entry}})
}

// Commit applies the batch in a single database transaction. Writes are
// issued in account id order so two transfers over the same pair of accounts
// lock rows in the same order.
func (p *PostgresLedgerStore) Commit(ctx context.Context, batch models.Batch) (err error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = dbTx.Rollback()
		}
	}()

	writes := append([]models.VersionedWrite(nil), batch.Writes...)
	sort.Slice(writes, func(i, j int) bool {
		return writes[i].Account.ID < writes[j].Account.ID
	})

	for _, w := range writes {
		if err = p.saveIfVersionMatches(ctx, dbTx, w); err != nil {
			return classify(err)
		}
	}

	for _, e := range batch.Entries {
		if err = p.saveEntry(ctx, dbTx, e); err != nil {
			return classify(err)
		}
	}

	if err = dbTx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

func (p *PostgresLedgerStore) saveIfVersionMatches(ctx context.Context, dbTx *sql.Tx, w models.VersionedWrite) error {
	const update = `UPDATE accounts SET balance = $1, version = version + 1, updated_at = $2
	WHERE id = $3 AND version = $4`

	res, err := dbTx.ExecContext(ctx, update, w.Account.Balance, w.Account.UpdatedAt, w.Account.ID, w.ExpectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = dbTx.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE id = $1`, w.Account.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return err
	}
	return interfaces.ErrVersionConflict
}

func (p *PostgresLedgerStore) saveEntry(ctx context.Context, dbTx *sql.Tx, e models.LedgerEntry) error {
	const query = `INSERT INTO ledger_entries (id, account_id, counterparty_account_id, transfer_id,
	kind, amount, balance_after, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := dbTx.ExecContext(ctx, query, e.ID, e.AccountID, e.CounterpartyAccountID, e.TransferID,
		string(e.Kind), e.Amount, e.BalanceAfter, string(e.Status), e.CreatedAt)
	return err
}

// EntriesByAccount orders by created_at, then insertion sequence, newest first.
func (p *PostgresLedgerStore) EntriesByAccount(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries e
	WHERE e.account_id = $1
	ORDER BY e.created_at DESC, e.seq DESC
	LIMIT $2`

	return p.queryEntries(ctx, query, accountID, limitArg(limit))
}

func (p *PostgresLedgerStore) EntriesByCustomer(ctx context.Context, customerID string, limit int) ([]models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries e
	JOIN accounts a ON a.id = e.account_id
	WHERE a.customer_id = $1
	ORDER BY e.created_at DESC, e.seq DESC
	LIMIT $2`

	return p.queryEntries(ctx, query, customerID, limitArg(limit))
}

func (p *PostgresLedgerStore) queryEntries(ctx context.Context, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var (
			e            models.LedgerEntry
			kind, status string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.CounterpartyAccountID, &e.TransferID, &kind,
			&e.Amount, &e.BalanceAfter, &status, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Kind, err = parseKind(kind); err != nil {
			return nil, err
		}
		e.Status = models.EntryStatus(status)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func parseKind(s string) (models.EntryKind, error) {
	kind := models.EntryKind(s)
	if !kind.Valid() {
		return "", fmt.Errorf("unknown entry kind %q", s)
	}
	return kind, nil
}

func parseAccountType(s string) (models.AccountType, error) {
	t := models.AccountType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown account type %q", s)
	}
	return t, nil
}

// limitArg maps "no limit" to NULL, which Postgres treats as LIMIT ALL.
func limitArg(limit int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
}

// classify turns lost-race database errors into ErrVersionConflict.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", interfaces.ErrVersionConflict, pqErr.Message)
		}
	}
	return err
}

var _ interfaces.LedgerStore = (*PostgresLedgerStore)(nil)
