package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	interfaces "github.com/sheikh-saqib/account-ledger/internal/interfaces"
	"github.com/sheikh-saqib/account-ledger/internal/models"
)

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// A single mutex serializes commits, which makes every Batch atomic.
type MemoryLedgerStore struct {
	mu       sync.Mutex
	accounts map[string]models.Account
	entries  []models.LedgerEntry // append order; the index doubles as sequence number
}

// NewMemoryLedgerStore creates and returns a new MemoryLedgerStore instance
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		accounts: make(map[string]models.Account),
		entries:  make([]models.LedgerEntry, 0),
	}
}

// CreateAccount fails if the id is already taken.
func (m *MemoryLedgerStore) CreateAccount(_ context.Context, account models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[account.ID]; exists {
		return fmt.Errorf("account %s already exists", account.ID)
	}
	m.accounts[account.ID] = account
	return nil
}

func (m *MemoryLedgerStore) LoadAccount(_ context.Context, accountID string) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return models.Account{}, interfaces.ErrNotFound
	}
	return account, nil
}

func (m *MemoryLedgerStore) AccountsByCustomer(_ context.Context, customerID string) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.Account
	for _, a := range m.accounts {
		if a.CustomerID == customerID {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryLedgerStore) SaveIfVersionMatches(ctx context.Context, account models.Account, expectedVersion int64) (int64, error) {
	write := models.VersionedWrite{Account: account, ExpectedVersion: expectedVersion}
	if err := m.Commit(ctx, models.Batch{Writes: []models.VersionedWrite{write}}); err != nil {
		return 0, err
	}
	return expectedVersion + 1, nil
}

func (m *MemoryLedgerStore) Append(ctx context.Context, entry models.LedgerEntry) error {
	return m.Commit(ctx, models.Batch{Entries: []models.LedgerEntry{entry}})
}

// Commit validates every expected version before touching any state, so a
// conflict on one write leaves the whole batch unapplied.
func (m *MemoryLedgerStore) Commit(_ context.Context, batch models.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range batch.Writes {
		stored, ok := m.accounts[w.Account.ID]
		if !ok {
			return interfaces.ErrNotFound
		}
		if stored.Version != w.ExpectedVersion {
			return interfaces.ErrVersionConflict
		}
	}

	for _, w := range batch.Writes {
		account := w.Account
		account.Version = w.ExpectedVersion + 1
		m.accounts[account.ID] = account
	}
	m.entries = append(m.entries, batch.Entries...)
	return nil
}

func (m *MemoryLedgerStore) EntriesByAccount(_ context.Context, accountID string, limit int) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.newestFirst(func(e models.LedgerEntry) bool {
		return e.AccountID == accountID
	}, limit), nil
}

func (m *MemoryLedgerStore) EntriesByCustomer(_ context.Context, customerID string, limit int) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owned := make(map[string]struct{})
	for id, a := range m.accounts {
		if a.CustomerID == customerID {
			owned[id] = struct{}{}
		}
	}
	return m.newestFirst(func(e models.LedgerEntry) bool {
		_, ok := owned[e.AccountID]
		return ok
	}, limit), nil
}

// newestFirst returns copies of the matching entries ordered by CreatedAt
// descending, later appends first on equal timestamps. Caller holds m.mu.
func (m *MemoryLedgerStore) newestFirst(match func(models.LedgerEntry) bool, limit int) []models.LedgerEntry {
	type seqEntry struct {
		seq   int
		entry models.LedgerEntry
	}

	var matched []seqEntry
	for i, e := range m.entries {
		if match(e) {
			matched = append(matched, seqEntry{seq: i, entry: e})
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.entry.CreatedAt.Equal(b.entry.CreatedAt) {
			return a.seq > b.seq
		}
		return a.entry.CreatedAt.After(b.entry.CreatedAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	result := make([]models.LedgerEntry, len(matched))
	for i, se := range matched {
		result[i] = se.entry
	}
	return result
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
