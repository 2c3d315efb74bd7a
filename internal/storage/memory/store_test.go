package memory

import (
	"context"
	"testing"
	"time"

	interfaces "github.com/sheikh-saqib/account-ledger/internal/interfaces"
	"github.com/sheikh-saqib/account-ledger/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func seedAccount(t *testing.T, s *MemoryLedgerStore, id, customer string, balance int64) models.Account {
	t.Helper()

	a := models.Account{
		ID:         id,
		CustomerID: customer,
		Type:       models.TypeCurrent,
		Balance:    decimal.NewFromInt(balance),
		Version:    1,
		CreatedAt:  t0,
		UpdatedAt:  t0,
	}
	require.NoError(t, s.CreateAccount(context.Background(), a))
	return a
}

func TestCreateAccount_Duplicate(t *testing.T) {
	s := NewMemoryLedgerStore()
	a := seedAccount(t, s, "A", "c1", 0)

	assert.Error(t, s.CreateAccount(context.Background(), a))
}

func TestLoadAccount_NotFound(t *testing.T) {
	s := NewMemoryLedgerStore()

	_, err := s.LoadAccount(context.Background(), "missing")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestSaveIfVersionMatches(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLedgerStore()
	a := seedAccount(t, s, "A", "c1", 10)

	a.Balance = decimal.NewFromInt(25)
	v, err := s.SaveIfVersionMatches(ctx, a, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	// stale version
	a.Balance = decimal.NewFromInt(99)
	_, err = s.SaveIfVersionMatches(ctx, a, 1)
	assert.ErrorIs(t, err, interfaces.ErrVersionConflict)

	got, err := s.LoadAccount(ctx, "A")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, int64(2), got.Version)
}

func TestCommit_ConflictAppliesNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLedgerStore()
	a := seedAccount(t, s, "A", "c1", 70)
	b := seedAccount(t, s, "B", "c2", 20)

	a.Balance = decimal.NewFromInt(40)
	b.Balance = decimal.NewFromInt(50)
	err := s.Commit(ctx, models.Batch{
		Writes: []models.VersionedWrite{
			{Account: a, ExpectedVersion: 1},
			{Account: b, ExpectedVersion: 7}, // stale
		},
		Entries: []models.LedgerEntry{
			{ID: "e1", AccountID: "A", Kind: models.KindTransferSent},
			{ID: "e2", AccountID: "B", Kind: models.KindTransferReceived},
		},
	})
	require.ErrorIs(t, err, interfaces.ErrVersionConflict)

	gotA, _ := s.LoadAccount(ctx, "A")
	gotB, _ := s.LoadAccount(ctx, "B")
	assert.True(t, gotA.Balance.Equal(decimal.NewFromInt(70)))
	assert.True(t, gotB.Balance.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, int64(1), gotA.Version)

	entries, err := s.EntriesByAccount(ctx, "A", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCommit_MissingAccount(t *testing.T) {
	s := NewMemoryLedgerStore()

	err := s.Commit(context.Background(), models.Batch{
		Writes: []models.VersionedWrite{{Account: models.Account{ID: "ghost"}, ExpectedVersion: 1}},
	})
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestEntriesByAccount_NewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLedgerStore()
	seedAccount(t, s, "A", "c1", 0)

	for i, ts := range []time.Time{t0, t0.Add(time.Second), t0.Add(time.Second), t0.Add(2 * time.Second)} {
		require.NoError(t, s.Append(ctx, models.LedgerEntry{
			ID:        string(rune('a' + i)),
			AccountID: "A",
			CreatedAt: ts,
		}))
	}
	require.NoError(t, s.Append(ctx, models.LedgerEntry{ID: "other", AccountID: "B", CreatedAt: t0.Add(time.Hour)}))

	all, err := s.EntriesByAccount(ctx, "A", 0)
	require.NoError(t, err)
	ids := make([]string, len(all))
	for i, e := range all {
		ids[i] = e.ID
	}
	// equal timestamps keep reverse append order
	assert.Equal(t, []string{"d", "c", "b", "a"}, ids)

	limited, err := s.EntriesByAccount(ctx, "A", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
	assert.Equal(t, "d", limited[0].ID)
}

func TestEntriesByCustomer(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLedgerStore()
	seedAccount(t, s, "A1", "alice", 0)
	seedAccount(t, s, "A2", "alice", 0)
	seedAccount(t, s, "B1", "bob", 0)

	require.NoError(t, s.Append(ctx, models.LedgerEntry{ID: "1", AccountID: "A1", CreatedAt: t0}))
	require.NoError(t, s.Append(ctx, models.LedgerEntry{ID: "2", AccountID: "B1", CreatedAt: t0.Add(time.Minute)}))
	require.NoError(t, s.Append(ctx, models.LedgerEntry{ID: "3", AccountID: "A2", CreatedAt: t0.Add(2 * time.Minute)}))

	entries, err := s.EntriesByCustomer(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "3", entries[0].ID)
	assert.Equal(t, "1", entries[1].ID)

	accounts, err := s.AccountsByCustomer(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "A1", accounts[0].ID)
}
