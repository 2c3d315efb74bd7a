package ledger

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	interfaces "github.com/sheikh-saqib/account-ledger/internal/interfaces"
	"github.com/sheikh-saqib/account-ledger/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_Scenarios(t *testing.T) {
	ctx := context.Background()
	rec := &sleepRecorder{}
	l := NewLedger(newSpyStore(), WithRetryPolicy(testPolicy(rec, 3)))

	a := openAccount(t, l, "alice", "0")
	b := openAccount(t, l, "bob", "20")

	// 1. deposit 100 into A (balance 0)
	dep, err := l.Deposit(ctx, a.ID, d("100"))
	require.NoError(t, err)
	assert.Equal(t, models.KindDeposit, dep.Kind)
	assert.Equal(t, a.ID, dep.AccountID)
	assert.True(t, dep.Amount.Equal(d("100")))
	assert.Equal(t, models.StatusSuccess, dep.Status)
	assert.True(t, balanceOf(t, l, a.ID).Equal(d("100")))
	assert.Len(t, entriesOf(t, l, a.ID), 1)

	// 2. withdraw 50 from A (balance 100)
	wd, err := l.Withdraw(ctx, a.ID, d("50"))
	require.NoError(t, err)
	assert.Equal(t, models.KindWithdraw, wd.Kind)
	assert.True(t, wd.Amount.Equal(d("50")))
	assert.True(t, wd.BalanceAfter.Equal(d("50")))
	assert.True(t, balanceOf(t, l, a.ID).Equal(d("50")))

	// 3. withdraw 150 from A (balance 50)
	_, err = l.Withdraw(ctx, a.ID, d("150"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, balanceOf(t, l, a.ID).Equal(d("50")))
	assert.Len(t, entriesOf(t, l, a.ID), 2)

	// 4. transfer 30 from A (balance 70) to B (balance 20)
	_, err = l.Deposit(ctx, a.ID, d("20"))
	require.NoError(t, err)
	sent, received, err := l.Transfer(ctx, a.ID, b.ID, d("30"))
	require.NoError(t, err)
	assert.True(t, balanceOf(t, l, a.ID).Equal(d("40")))
	assert.True(t, balanceOf(t, l, b.ID).Equal(d("50")))

	assert.Equal(t, models.KindTransferSent, sent.Kind)
	assert.Equal(t, a.ID, sent.AccountID)
	assert.Equal(t, b.ID, sent.CounterpartyAccountID)
	assert.True(t, sent.Amount.Equal(d("30")))
	assert.Equal(t, models.KindTransferReceived, received.Kind)
	assert.Equal(t, b.ID, received.AccountID)
	assert.Equal(t, a.ID, received.CounterpartyAccountID)
	assert.True(t, received.Amount.Equal(d("30")))
	assert.NotEmpty(t, sent.TransferID)
	assert.Equal(t, sent.TransferID, received.TransferID)

	assert.Empty(t, rec.recorded(), "no conflicts expected")
}

func TestLedger_SelfTransferRejectedWithoutStoreAccess(t *testing.T) {
	store := newSpyStore()
	l := NewLedger(store)

	_, _, err := l.Transfer(context.Background(), "A", "A", d("10"))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Zero(t, store.calls())
}

func TestLedger_InvalidAmount(t *testing.T) {
	ctx := context.Background()

	for _, amount := range []string{"0", "-1", "-0.01"} {
		store := newSpyStore()
		l := NewLedger(store)

		_, err := l.Deposit(ctx, "A", d(amount))
		assert.ErrorIs(t, err, ErrInvalidAmount, "deposit %s", amount)

		_, err = l.Withdraw(ctx, "A", d(amount))
		assert.ErrorIs(t, err, ErrInvalidAmount, "withdraw %s", amount)

		_, _, err = l.Transfer(ctx, "A", "B", d(amount))
		assert.ErrorIs(t, err, ErrInvalidAmount, "transfer %s", amount)

		assert.Zero(t, store.calls(), "amount %s must be rejected before store access", amount)
	}
}

func TestLedger_AccountNotFound(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore()
	l := NewLedger(store)
	a := openAccount(t, l, "alice", "100")

	_, err := l.Deposit(ctx, "missing", d("1"))
	var notFound *AccountNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.AccountID)
	assert.Equal(t, SideAccount, notFound.Side)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = l.Withdraw(ctx, "missing", d("1"))
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, _, err = l.Transfer(ctx, "missing", a.ID, d("1"))
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, SideSource, notFound.Side)

	_, _, err = l.Transfer(ctx, a.ID, "missing", d("1"))
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, SideDestination, notFound.Side)

	assert.Zero(t, store.commits.Load())
	assert.True(t, balanceOf(t, l, a.ID).Equal(d("100")))
}

func TestLedger_TransferInsufficientFundsLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore()
	l := NewLedger(store)
	a := openAccount(t, l, "alice", "10")
	b := openAccount(t, l, "bob", "5")

	_, _, err := l.Transfer(ctx, a.ID, b.ID, d("10.01"))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	assert.True(t, balanceOf(t, l, a.ID).Equal(d("10")))
	assert.True(t, balanceOf(t, l, b.ID).Equal(d("5")))
	assert.Empty(t, entriesOf(t, l, a.ID))
	assert.Empty(t, entriesOf(t, l, b.ID))
	assert.Zero(t, store.commits.Load())
}

func TestLedger_WithdrawEntireBalance(t *testing.T) {
	l := NewLedger(newSpyStore())
	a := openAccount(t, l, "alice", "12.34")

	_, err := l.Withdraw(context.Background(), a.ID, d("12.34"))
	require.NoError(t, err)
	assert.True(t, balanceOf(t, l, a.ID).IsZero())
}

func TestLedger_VersionIncrementsByOnePerOperation(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(newSpyStore())
	a := openAccount(t, l, "alice", "0")
	b := openAccount(t, l, "bob", "0")

	_, err := l.Deposit(ctx, a.ID, d("10"))
	require.NoError(t, err)
	_, err = l.Withdraw(ctx, a.ID, d("1"))
	require.NoError(t, err)
	_, _, err = l.Transfer(ctx, a.ID, b.ID, d("2"))
	require.NoError(t, err)

	gotA, err := l.Account(ctx, a.ID)
	require.NoError(t, err)
	gotB, err := l.Account(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), gotA.Version)
	assert.Equal(t, int64(2), gotB.Version)
}

func TestLedger_DepositRetriesAfterSingleConflict(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore()
	rec := &sleepRecorder{}
	l := NewLedger(store, WithRetryPolicy(testPolicy(rec, 3)))
	a := openAccount(t, l, "alice", "5")

	store.beforeCommit = func(call int64, _ models.Batch) error {
		if call == 1 {
			return interfaces.ErrVersionConflict
		}
		return nil
	}

	entry, err := l.Deposit(ctx, a.ID, d("10"))
	require.NoError(t, err)
	assert.Equal(t, models.KindDeposit, entry.Kind)

	assert.Equal(t, int64(2), store.commits.Load())
	assert.Equal(t, int64(2), store.loads.Load(), "retry must re-read the account")
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, rec.recorded())

	entries := entriesOf(t, l, a.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
	assert.True(t, balanceOf(t, l, a.ID).Equal(d("15")))
}

func TestLedger_ConcurrencyExhausted(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore()
	rec := &sleepRecorder{}
	l := NewLedger(store, WithRetryPolicy(testPolicy(rec, 3)))
	a := openAccount(t, l, "alice", "50")
	b := openAccount(t, l, "bob", "50")

	store.beforeCommit = func(int64, models.Batch) error {
		return interfaces.ErrVersionConflict
	}

	_, _, err := l.Transfer(ctx, a.ID, b.ID, d("10"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConcurrencyExhausted)
	assert.EqualError(t, err, "transfer: concurrent update failed after 3 attempts")

	assert.Equal(t, int64(3), store.commits.Load())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, rec.recorded())
	assert.True(t, balanceOf(t, l, a.ID).Equal(d("50")))
	assert.True(t, balanceOf(t, l, b.ID).Equal(d("50")))
	assert.Empty(t, entriesOf(t, l, a.ID))
	assert.Empty(t, entriesOf(t, l, b.ID))
}

func TestLedger_StoreFailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore()
	rec := &sleepRecorder{}
	l := NewLedger(store, WithRetryPolicy(testPolicy(rec, 3)))
	a := openAccount(t, l, "alice", "50")

	store.beforeCommit = func(int64, models.Batch) error {
		return errors.New("connection reset")
	}

	_, err := l.Withdraw(ctx, a.ID, d("10"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrConcurrencyExhausted)
	assert.Equal(t, int64(1), store.commits.Load())
	assert.Empty(t, rec.recorded())
	assert.True(t, balanceOf(t, l, a.ID).Equal(d("50")))
}

// A conflict followed by a fresh read that no longer covers the withdrawal
// must end in InsufficientFunds, not a stale success.
func TestLedger_RetryUsesFreshRead(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore()
	l := NewLedger(store, WithRetryPolicy(testPolicy(&sleepRecorder{}, 3)))
	a := openAccount(t, l, "alice", "100")

	store.beforeCommit = func(call int64, _ models.Batch) error {
		if call != 1 {
			return nil
		}
		// a competing writer drains the account between our read and write
		acct, err := store.LedgerStore.LoadAccount(ctx, a.ID)
		require.NoError(t, err)
		acct.Balance = d("30")
		_, err = store.LedgerStore.SaveIfVersionMatches(ctx, acct, acct.Version)
		require.NoError(t, err)
		return nil
	}

	_, err := l.Withdraw(ctx, a.ID, d("80"))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, balanceOf(t, l, a.ID).Equal(d("30")))
	assert.Empty(t, entriesOf(t, l, a.ID))
}

func TestLedger_ConcurrentDepositsWithOneConflict(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore()
	rec := &sleepRecorder{}
	l := NewLedger(store, WithRetryPolicy(testPolicy(rec, 3)))
	a := openAccount(t, l, "alice", "0")

	// The first commit waits until the competing deposit has committed, so
	// the first deposit's read is stale and it conflicts exactly once.
	var (
		competitorDone = make(chan struct{})
		once           sync.Once
		competitorErr  error
	)
	store.beforeCommit = func(call int64, _ models.Batch) error {
		if call == 1 {
			once.Do(func() {
				go func() {
					defer close(competitorDone)
					_, competitorErr = l.Deposit(ctx, a.ID, d("10"))
				}()
				<-competitorDone
			})
		}
		return nil
	}

	_, err := l.Deposit(ctx, a.ID, d("10"))
	require.NoError(t, err)
	require.NoError(t, competitorErr)

	assert.True(t, balanceOf(t, l, a.ID).Equal(d("20")))
	entries := entriesOf(t, l, a.ID)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, models.KindDeposit, e.Kind)
	}
	// first attempt, competitor, retried attempt
	assert.Equal(t, int64(3), store.commits.Load())
	assert.Len(t, rec.recorded(), 1, "conflicting attempt retried exactly once")
}

func TestLedger_ParallelDepositsLoseNoUpdates(t *testing.T) {
	const workers = 50
	store := newSpyStore()
	// each loser conflicts at most once per competing winner
	l := NewLedger(store, WithRetryPolicy(testPolicy(&sleepRecorder{}, workers+1)))
	a := openAccount(t, l, "alice", "0")

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Deposit(context.Background(), a.ID, d("1.5"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.True(t, balanceOf(t, l, a.ID).Equal(d("75")))
	assert.Len(t, entriesOf(t, l, a.ID), workers)
}

func TestLedger_ParallelTransfersConserveValue(t *testing.T) {
	const workers = 40
	ctx := context.Background()
	l := NewLedger(newSpyStore(), WithRetryPolicy(testPolicy(&sleepRecorder{}, workers+1)))
	a := openAccount(t, l, "alice", "1000")
	b := openAccount(t, l, "bob", "1000")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		from, to := a.ID, b.ID
		if i%2 == 1 {
			from, to = to, from
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := l.Transfer(ctx, from, to, d("10"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	total := balanceOf(t, l, a.ID).Add(balanceOf(t, l, b.ID))
	assert.True(t, total.Equal(d("2000")), "total %s", total)
	assert.True(t, balanceOf(t, l, a.ID).Equal(d("1000")))

	sentCount, receivedCount := 0, 0
	for _, e := range append(entriesOf(t, l, a.ID), entriesOf(t, l, b.ID)...) {
		switch e.Kind {
		case models.KindTransferSent:
			sentCount++
		case models.KindTransferReceived:
			receivedCount++
		}
	}
	assert.Equal(t, workers, sentCount)
	assert.Equal(t, workers, receivedCount)
}

// Random operation sequences never drive a balance negative, rejected
// operations leave balances unchanged, and transfers conserve the total.
func TestLedger_RandomSequencesConserveMoney(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	l := NewLedger(newSpyStore())

	ids := []string{
		openAccount(t, l, "c1", "0").ID,
		openAccount(t, l, "c1", "25").ID,
		openAccount(t, l, "c2", "100").ID,
	}
	total := d("125")

	for i := 0; i < 500; i++ {
		amount := decimal.New(rng.Int63n(5000)+1, -2) // 0.01 .. 50.00
		x := ids[rng.Intn(len(ids))]
		y := ids[rng.Intn(len(ids))]

		before := map[string]decimal.Decimal{}
		for _, id := range ids {
			before[id] = balanceOf(t, l, id)
		}

		switch rng.Intn(3) {
		case 0:
			_, err := l.Deposit(ctx, x, amount)
			require.NoError(t, err)
			total = total.Add(amount)
		case 1:
			_, err := l.Withdraw(ctx, x, amount)
			if before[x].LessThan(amount) {
				require.ErrorIs(t, err, ErrInsufficientFunds)
				assert.True(t, balanceOf(t, l, x).Equal(before[x]))
			} else {
				require.NoError(t, err)
				total = total.Sub(amount)
			}
		case 2:
			_, _, err := l.Transfer(ctx, x, y, amount)
			switch {
			case x == y:
				require.ErrorIs(t, err, ErrInvalidArgument)
			case before[x].LessThan(amount):
				require.ErrorIs(t, err, ErrInsufficientFunds)
			default:
				require.NoError(t, err)
				after := balanceOf(t, l, x).Add(balanceOf(t, l, y))
				assert.True(t, after.Equal(before[x].Add(before[y])))
			}
		}

		sum := decimal.Zero
		for _, id := range ids {
			bal := balanceOf(t, l, id)
			require.False(t, bal.IsNegative(), "balance of %s went negative", id)
			sum = sum.Add(bal)
		}
		require.True(t, sum.Equal(total), "step %d: sum %s != %s", i, sum, total)
	}
}

func TestLedger_EntryTimestampsNonDecreasingPerAccount(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ticks := []time.Duration{0, 5 * time.Second, 2 * time.Second, time.Second, 10 * time.Second}
	var i int
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		ts := base.Add(ticks[i%len(ticks)])
		i++
		return ts
	}

	l := NewLedger(newSpyStore(), WithClock(clock))
	a := openAccount(t, l, "alice", "0")
	for n := 0; n < 4; n++ {
		_, err := l.Deposit(ctx, a.ID, d("1"))
		require.NoError(t, err)
	}

	entries := entriesOf(t, l, a.ID)
	require.Len(t, entries, 4)
	for n := 1; n < len(entries); n++ {
		assert.False(t, entries[n-1].CreatedAt.Before(entries[n].CreatedAt), "entries must be newest first")
	}
}

func TestLedger_CancelledContextStillRunsFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := newSpyStore()
	l := NewLedger(store)
	a := openAccount(t, l, "alice", "0")

	_, err := l.Deposit(ctx, a.ID, d("3"))
	require.NoError(t, err)
	assert.True(t, balanceOf(t, l, a.ID).Equal(d("3")))
}

func TestLedger_CancelledContextStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := newSpyStore()
	l := NewLedger(store) // real sleeps, honour ctx
	a := openAccount(t, l, "alice", "0")

	store.beforeCommit = func(int64, models.Batch) error {
		cancel()
		return interfaces.ErrVersionConflict
	}

	_, err := l.Deposit(ctx, a.ID, d("3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrConcurrencyExhausted)
	assert.Equal(t, int64(1), store.commits.Load())
}
