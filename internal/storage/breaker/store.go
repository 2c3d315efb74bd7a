// Package breaker guards a LedgerStore with a circuit breaker so that a
// failing database is reported immediately instead of being hit by every call.
package breaker

import (
	"context"
	"errors"
	"time"

	interfaces "github.com/sheikh-saqib/account-ledger/internal/interfaces"
	"github.com/sheikh-saqib/account-ledger/internal/models"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config controls when the breaker opens and how long it stays open.
type Config struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "ledger-store"
	}
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenRequests == 0 {
		c.HalfOpenRequests = 1
	}
	return c
}

// Store decorates a LedgerStore. Business outcomes (not found, version
// conflict) and caller cancellations do not count as failures.
type Store struct {
	next interfaces.LedgerStore
	cb   *gobreaker.CircuitBreaker
}

// New wraps next. Zero Config fields take the defaults: open after 5
// consecutive failures, let one request through after 30s.
func New(next interfaces.LedgerStore, cfg Config, logger *zap.Logger) *Store {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, interfaces.ErrNotFound) ||
				errors.Is(err, interfaces.ErrVersionConflict) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("store circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Store{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State reports the breaker state.
func (s *Store) State() gobreaker.State {
	return s.cb.State()
}

func execute[T any](s *Store, fn func() (T, error)) (T, error) {
	v, err := s.cb.Execute(func() (any, error) {
		return fn()
	})
	result, _ := v.(T)
	return result, err
}

func (s *Store) exec(fn func() error) error {
	_, err := s.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

func (s *Store) CreateAccount(ctx context.Context, account models.Account) error {
	return s.exec(func() error { return s.next.CreateAccount(ctx, account) })
}

func (s *Store) LoadAccount(ctx context.Context, accountID string) (models.Account, error) {
	return execute(s, func() (models.Account, error) { return s.next.LoadAccount(ctx, accountID) })
}

func (s *Store) AccountsByCustomer(ctx context.Context, customerID string) ([]models.Account, error) {
	return execute(s, func() ([]models.Account, error) { return s.next.AccountsByCustomer(ctx, customerID) })
}

func (s *Store) SaveIfVersionMatches(ctx context.Context, account models.Account, expectedVersion int64) (int64, error) {
	return execute(s, func() (int64, error) {
		return s.next.SaveIfVersionMatches(ctx, account, expectedVersion)
	})
}

func (s *Store) Append(ctx context.Context, entry models.LedgerEntry) error {
	return s.exec(func() error { return s.next.Append(ctx, entry) })
}

func (s *Store) EntriesByAccount(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error) {
	return execute(s, func() ([]models.LedgerEntry, error) { return s.next.EntriesByAccount(ctx, accountID, limit) })
}

func (s *Store) EntriesByCustomer(ctx context.Context, customerID string, limit int) ([]models.LedgerEntry, error) {
	return execute(s, func() ([]models.LedgerEntry, error) { return s.next.EntriesByCustomer(ctx, customerID, limit) })
}

func (s *Store) Commit(ctx context.Context, batch models.Batch) error {
	return s.exec(func() error { return s.next.Commit(ctx, batch) })
}

var _ interfaces.LedgerStore = (*Store)(nil)
