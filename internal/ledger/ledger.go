package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	interfaces "github.com/sheikh-saqib/account-ledger/internal/interfaces"
	"github.com/sheikh-saqib/account-ledger/internal/models"
	"github.com/sheikh-saqib/account-ledger/internal/retry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/sheikh-saqib/account-ledger/internal/ledger"

// Ledger is the only path that mutates account balances.
// It holds no locks: concurrent writers are detected by the store's version
// check and the losing attempt is re-run from a fresh read.
type Ledger struct {
	store     interfaces.LedgerStore
	publisher interfaces.EventPublisher
	topic     string
	policy    retry.Policy
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithRetryPolicy replaces the default policy. The Retryable predicate is
// always overridden so that only version conflicts are retried.
func WithRetryPolicy(p retry.Policy) Option {
	return func(l *Ledger) {
		l.policy = p
	}
}

// WithLogger sets the logger for retries, exhaustion and store failures.
// A nil logger keeps the no-op default.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithPublisher emits a LedgerEntryRecorded event to topic for every committed entry.
func WithPublisher(p interfaces.EventPublisher, topic string) Option {
	return func(l *Ledger) {
		l.publisher = p
		l.topic = topic
	}
}

// WithTracerProvider sets the provider for the Deposit, Withdraw and Transfer
// spans. The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(l *Ledger) {
		if tp != nil {
			l.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithClock sets the source of commit timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger creates a Ledger on top of store.
func NewLedger(store interfaces.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		policy: retry.Default(interfaces.ErrVersionConflict),
		logger: zap.NewNop(),
		tracer: otel.GetTracerProvider().Tracer(tracerName),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.policy.Retryable = isVersionConflict
	return l
}

func isVersionConflict(err error) bool {
	return errors.Is(err, interfaces.ErrVersionConflict)
}

// Deposit adds amount to the account and records a DEPOSIT entry.
func (l *Ledger) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (models.LedgerEntry, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.Deposit", trace.WithAttributes(
		attribute.String("ledger.account_id", accountID),
		attribute.String("ledger.amount", amount.String()),
	))
	defer span.End()

	if err := validateAmount(amount); err != nil {
		return models.LedgerEntry{}, endWithError(span, err)
	}

	var entry models.LedgerEntry
	err := l.run(ctx, "deposit", func(ctx context.Context) error {
		account, err := l.load(ctx, accountID, SideAccount)
		if err != nil {
			return err
		}

		committedAt := l.commitTime(account)
		expected := account.Version
		account.Balance = account.Balance.Add(amount)
		account.UpdatedAt = committedAt

		e := l.newEntry(account, models.KindDeposit, amount, committedAt)
		if err := l.commit(ctx, models.Batch{
			Writes:  []models.VersionedWrite{{Account: account, ExpectedVersion: expected}},
			Entries: []models.LedgerEntry{e},
		}); err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		return models.LedgerEntry{}, endWithError(span, err)
	}

	l.publish(ctx, entry)
	return entry, nil
}

// Withdraw removes amount from the account and records a WITHDRAW entry.
// The funds check and the write use the same read of the account.
func (l *Ledger) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal) (models.LedgerEntry, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.Withdraw", trace.WithAttributes(
		attribute.String("ledger.account_id", accountID),
		attribute.String("ledger.amount", amount.String()),
	))
	defer span.End()

	if err := validateAmount(amount); err != nil {
		return models.LedgerEntry{}, endWithError(span, err)
	}

	var entry models.LedgerEntry
	err := l.run(ctx, "withdraw", func(ctx context.Context) error {
		account, err := l.load(ctx, accountID, SideAccount)
		if err != nil {
			return err
		}
		if !account.CanDebit(amount) {
			return fmt.Errorf("%w: account %s has %s, requested %s",
				ErrInsufficientFunds, account.ID, account.Balance, amount)
		}

		committedAt := l.commitTime(account)
		expected := account.Version
		account.Balance = account.Balance.Sub(amount)
		account.UpdatedAt = committedAt

		e := l.newEntry(account, models.KindWithdraw, amount, committedAt)
		if err := l.commit(ctx, models.Batch{
			Writes:  []models.VersionedWrite{{Account: account, ExpectedVersion: expected}},
			Entries: []models.LedgerEntry{e},
		}); err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		return models.LedgerEntry{}, endWithError(span, err)
	}

	l.publish(ctx, entry)
	return entry, nil
}

// Transfer moves amount from one account to another. Both balance changes
// and the TRANSFER_SENT/TRANSFER_RECEIVED pair are committed as one unit.
func (l *Ledger) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal) (sent, received models.LedgerEntry, err error) {
	ctx, span := l.tracer.Start(ctx, "ledger.Transfer", trace.WithAttributes(
		attribute.String("ledger.from_account_id", fromID),
		attribute.String("ledger.to_account_id", toID),
		attribute.String("ledger.amount", amount.String()),
	))
	defer span.End()

	if fromID == toID {
		err := fmt.Errorf("%w: cannot transfer to the same account %s", ErrInvalidArgument, fromID)
		return sent, received, endWithError(span, err)
	}
	if err := validateAmount(amount); err != nil {
		return sent, received, endWithError(span, err)
	}

	err = l.run(ctx, "transfer", func(ctx context.Context) error {
		from, err := l.load(ctx, fromID, SideSource)
		if err != nil {
			return err
		}
		to, err := l.load(ctx, toID, SideDestination)
		if err != nil {
			return err
		}
		if !from.CanDebit(amount) {
			return fmt.Errorf("%w: account %s has %s, requested %s",
				ErrInsufficientFunds, from.ID, from.Balance, amount)
		}

		committedAt := l.commitTime(from, to)
		fromVersion, toVersion := from.Version, to.Version

		from.Balance = from.Balance.Sub(amount)
		from.UpdatedAt = committedAt
		to.Balance = to.Balance.Add(amount)
		to.UpdatedAt = committedAt

		transferID := l.newID()
		s := l.newEntry(from, models.KindTransferSent, amount, committedAt)
		s.CounterpartyAccountID = to.ID
		s.TransferID = transferID
		r := l.newEntry(to, models.KindTransferReceived, amount, committedAt)
		r.CounterpartyAccountID = from.ID
		r.TransferID = transferID

		if err := l.commit(ctx, models.Batch{
			Writes: []models.VersionedWrite{
				{Account: from, ExpectedVersion: fromVersion},
				{Account: to, ExpectedVersion: toVersion},
			},
			Entries: []models.LedgerEntry{s, r},
		}); err != nil {
			return err
		}
		sent, received = s, r
		return nil
	})
	if err != nil {
		return models.LedgerEntry{}, models.LedgerEntry{}, endWithError(span, err)
	}

	l.publish(ctx, sent, received)
	return sent, received, nil
}

// run executes attempt under the retry policy. Each attempt runs on a context
// that ignores cancellation so a started commit is never interrupted; the
// caller's context only stops further retries.
func (l *Ledger) run(ctx context.Context, op string, attempt func(ctx context.Context) error) error {
	attemptCtx := context.WithoutCancel(ctx)

	policy := l.policy
	policy.OnRetry = func(n int, delay time.Duration, err error) {
		trace.SpanFromContext(ctx).AddEvent("version conflict", trace.WithAttributes(
			attribute.Int("ledger.attempt", n),
		))
		l.logger.Warn("version conflict, retrying",
			zap.String("operation", op),
			zap.Int("attempt", n),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
	}

	err := policy.Do(ctx, func(n int) error {
		return attempt(attemptCtx)
	})

	var exhausted *retry.ExhaustedError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &exhausted):
		l.logger.Error("retry budget exhausted",
			zap.String("operation", op),
			zap.Int("attempts", exhausted.Attempts),
		)
		return fmt.Errorf("%s: %w after %d attempts", op, ErrConcurrencyExhausted, exhausted.Attempts)
	case errors.Is(err, ErrStoreUnavailable):
		l.logger.Error("ledger store failure", zap.String("operation", op), zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (l *Ledger) load(ctx context.Context, accountID string, side Side) (models.Account, error) {
	account, err := l.store.LoadAccount(ctx, accountID)
	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, interfaces.ErrNotFound):
		return models.Account{}, &AccountNotFoundError{AccountID: accountID, Side: side}
	default:
		return models.Account{}, fmt.Errorf("%w: load account %s: %w", ErrStoreUnavailable, accountID, err)
	}
}

func (l *Ledger) commit(ctx context.Context, batch models.Batch) error {
	err := l.store.Commit(ctx, batch)
	switch {
	case err == nil:
		l.logger.Debug("ledger batch committed",
			zap.Int("writes", len(batch.Writes)),
			zap.Int("entries", len(batch.Entries)),
		)
		return nil
	case errors.Is(err, interfaces.ErrVersionConflict):
		return err
	case errors.Is(err, interfaces.ErrNotFound):
		return fmt.Errorf("%w: account disappeared during commit", ErrAccountNotFound)
	default:
		return fmt.Errorf("%w: commit: %w", ErrStoreUnavailable, err)
	}
}

// commitTime never returns a time before any of the accounts' last update,
// which keeps entry timestamps non-decreasing per account.
func (l *Ledger) commitTime(accounts ...models.Account) time.Time {
	t := l.now()
	for _, a := range accounts {
		if t.Before(a.UpdatedAt) {
			t = a.UpdatedAt
		}
	}
	return t
}

func (l *Ledger) newEntry(account models.Account, kind models.EntryKind, amount decimal.Decimal, at time.Time) models.LedgerEntry {
	return models.LedgerEntry{
		ID:           l.newID(),
		AccountID:    account.ID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: account.Balance,
		Status:       models.StatusSuccess,
		CreatedAt:    at,
	}
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}
	return nil
}

func endWithError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
