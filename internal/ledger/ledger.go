// Package ledger writes and reads the append-only double-entry history.
// Every settled transfer becomes two mirrored rows; rows are never updated
// or deleted. Writes prefer at-least-once over at-most-once: a gap in the
// history is worse for audit than a duplicate.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/paybridge/internal/domain"
)

const pageSize = 50

// Storage is the persistence surface; *store.Store satisfies it.
type Storage interface {
	InsertLedgerEntry(ctx context.Context, e domain.LedgerEntry) error
	ListEntriesByPayer(ctx context.Context, payerID string, limit, offset int) ([]domain.LedgerEntry, error)
	GetEntryForPayer(ctx context.Context, id, payerID string) (*domain.LedgerEntry, error)
}

type Recorder struct {
	store Storage
	log   *slog.Logger
	now   func() time.Time
	newID func() (string, error)
}

func New(store Storage, log *slog.Logger) *Recorder {
	return &Recorder{
		store: store,
		log:   log,
		now:   time.Now,
		newID: func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
	}
}

// Record appends the debit and credit rows for one settled transfer. amount
// is the positive settled value; the payer row gets -amount with the given
// movement, the payee row +amount with its counterpart. Each row is retried
// once independently; a row that still fails is logged as a reconciliation
// incident and the error is returned so the caller can escalate, but by then
// the money has already moved and must not be rolled back.
func (r *Recorder) Record(ctx context.Context, amount int64, payerID, payeeID string, movement domain.Movement, goodRef string) error {
	ts := r.now().UTC()

	var firstErr error
	rows := []struct {
		payer, payee string
		movement     domain.Movement
		amount       int64
	}{
		{payerID, payeeID, movement, -amount},
		{payeeID, payerID, movement.Counterpart(), amount},
	}
	for _, row := range rows {
		id, err := r.newID()
		if err != nil {
			return fmt.Errorf("new ledger id: %w", err)
		}
		entry := domain.LedgerEntry{
			ID:        id,
			Timestamp: ts,
			PayerID:   row.payer,
			PayeeID:   row.payee,
			Movement:  row.movement,
			Amount:    row.amount,
			GoodRef:   goodRef,
		}
		if err := r.insertWithRetry(ctx, entry); err != nil {
			r.log.Error("ledger reconciliation incident: row not written",
				"entry_id", id, "payer", row.payer, "payee", row.payee,
				"movement", row.movement, "amount", row.amount, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Recorder) insertWithRetry(ctx context.Context, e domain.LedgerEntry) error {
	if err := r.store.InsertLedgerEntry(ctx, e); err != nil {
		r.log.Warn("ledger insert failed, retrying once", "entry_id", e.ID, "err", err)
		return r.store.InsertLedgerEntry(ctx, e)
	}
	return nil
}

// List returns one page of history where userID is the payer. Pages start
// at 1.
func (r *Recorder) List(ctx context.Context, userID string, page int) (*domain.Page, error) {
	if page < 1 {
		page = 1
	}
	entries, err := r.store.ListEntriesByPayer(ctx, userID, pageSize+1, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	hasMore := len(entries) > pageSize
	if hasMore {
		entries = entries[:pageSize]
	}
	return &domain.Page{Entries: entries, Page: page, HasMore: hasMore}, nil
}

// Get returns one entry, scoped to its payer.
func (r *Recorder) Get(ctx context.Context, id, userID string) (*domain.LedgerEntry, error) {
	return r.store.GetEntryForPayer(ctx, id, userID)
}
