package ledger

import (
	"context"

	interfaces "github.com/sheikh-saqib/account-ledger/internal/interfaces"
	"github.com/sheikh-saqib/account-ledger/internal/models"
	"github.com/sheikh-saqib/account-ledger/internal/models/events"
	"go.uber.org/zap"
)

// publish emits one event per committed entry in a single write. The commit
// already happened, so the write ignores caller cancellation and a failure is
// logged, never reported to the caller.
func (l *Ledger) publish(ctx context.Context, entries ...models.LedgerEntry) {
	if l.publisher == nil || len(entries) == 0 {
		return
	}

	msgs := make([]interfaces.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, interfaces.Message{
			Key: e.AccountID,
			Event: events.LedgerEntryRecorded{
				EntryID:               e.ID,
				AccountID:             e.AccountID,
				CounterpartyAccountID: e.CounterpartyAccountID,
				TransferID:            e.TransferID,
				Kind:                  string(e.Kind),
				Amount:                e.Amount,
				BalanceAfter:          e.BalanceAfter,
				OccurredAt:            e.CreatedAt,
			},
		})
	}

	if err := l.publisher.Publish(context.WithoutCancel(ctx), l.topic, msgs...); err != nil {
		ids := make([]string, 0, len(entries))
		for _, e := range entries {
			ids = append(ids, e.ID)
		}
		l.logger.Error("failed to publish ledger event",
			zap.Strings("entry_ids", ids),
			zap.Error(err),
		)
	}
}
