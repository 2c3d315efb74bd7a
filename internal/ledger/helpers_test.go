package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	interfaces "github.com/sheikh-saqib/account-ledger/internal/interfaces"
	"github.com/sheikh-saqib/account-ledger/internal/models"
	"github.com/sheikh-saqib/account-ledger/internal/retry"
	"github.com/sheikh-saqib/account-ledger/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// sleepRecorder replaces real backoff sleeps.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, delay)
	return nil
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func testPolicy(rec *sleepRecorder, maxAttempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts: maxAttempts,
		Backoff:     retry.Linear(100 * time.Millisecond),
		Sleep:       rec.sleep,
	}
}

// spyStore wraps a LedgerStore, counts calls, and lets a test hook into
// Commit before it reaches the wrapped store.
type spyStore struct {
	interfaces.LedgerStore

	loads   atomic.Int64
	commits atomic.Int64
	other   atomic.Int64

	// beforeCommit runs ahead of every Commit with the 1-based call number.
	// A non-nil error is returned instead of committing.
	beforeCommit func(call int64, batch models.Batch) error
}

func newSpyStore() *spyStore {
	return &spyStore{LedgerStore: memory.NewMemoryLedgerStore()}
}

func (s *spyStore) calls() int64 {
	return s.loads.Load() + s.commits.Load() + s.other.Load()
}

func (s *spyStore) LoadAccount(ctx context.Context, accountID string) (models.Account, error) {
	s.loads.Add(1)
	return s.LedgerStore.LoadAccount(ctx, accountID)
}

func (s *spyStore) Commit(ctx context.Context, batch models.Batch) error {
	n := s.commits.Add(1)
	if s.beforeCommit != nil {
		if err := s.beforeCommit(n, batch); err != nil {
			return err
		}
	}
	return s.LedgerStore.Commit(ctx, batch)
}

func (s *spyStore) CreateAccount(ctx context.Context, account models.Account) error {
	s.other.Add(1)
	return s.LedgerStore.CreateAccount(ctx, account)
}

func (s *spyStore) EntriesByAccount(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error) {
	s.other.Add(1)
	return s.LedgerStore.EntriesByAccount(ctx, accountID, limit)
}

func openAccount(t *testing.T, l *Ledger, customerID string, balance string) models.Account {
	t.Helper()

	account, err := l.OpenAccount(context.Background(), customerID, models.TypeCurrent, d(balance))
	require.NoError(t, err)
	return account
}

func balanceOf(t *testing.T, l *Ledger, accountID string) decimal.Decimal {
	t.Helper()

	account, err := l.Account(context.Background(), accountID)
	require.NoError(t, err)
	return account.Balance
}

func entriesOf(t *testing.T, l *Ledger, accountID string) []models.LedgerEntry {
	t.Helper()

	entries, err := l.EntriesByAccount(context.Background(), accountID, 0)
	require.NoError(t, err)
	return entries
}

// fakePublisher records published events.
type fakePublisher struct {
	mu      sync.Mutex
	calls   int
	topics  []string
	keys    []string
	events  []any
	ctxErrs []error
	err     error
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, msgs ...interfaces.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	for _, m := range msgs {
		p.topics = append(p.topics, topic)
		p.keys = append(p.keys, m.Key)
		p.events = append(p.events, m.Event)
	}
	return p.err
}
