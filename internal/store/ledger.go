package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/paybridge/internal/domain"
)

// InsertLedgerEntry appends one immutable history row. There is no update or
// delete path for ledger entries.
func (s *Store) InsertLedgerEntry(ctx context.Context, e domain.LedgerEntry) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO ledger_entries (id, ts, payer_id, payee_id, movement, amount, good_ref)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Timestamp, e.PayerID, e.PayeeID, e.Movement, e.Amount, e.GoodRef)
	return err
}

// ListEntriesByPayer returns one page of history rows where payerID is the
// payer, newest first. UUIDv7 ids sort with time, so id ordering is stable
// within equal timestamps.
func (s *Store) ListEntriesByPayer(ctx context.Context, payerID string, limit, offset int) ([]domain.LedgerEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, ts, payer_id, payee_id, movement, amount, good_ref
		   FROM ledger_entries WHERE payer_id = $1
		  ORDER BY id DESC LIMIT $2 OFFSET $3`,
		payerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.PayerID, &e.PayeeID, &e.Movement, &e.Amount, &e.GoodRef); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetEntryForPayer fetches one history row, scoped to its payer so users
// cannot read entries that are not theirs.
func (s *Store) GetEntryForPayer(ctx context.Context, id, payerID string) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := s.db.QueryRow(ctx,
		`SELECT id, ts, payer_id, payee_id, movement, amount, good_ref
		   FROM ledger_entries WHERE id = $1 AND payer_id = $2`,
		id, payerID,
	).Scan(&e.ID, &e.Timestamp, &e.PayerID, &e.PayeeID, &e.Movement, &e.Amount, &e.GoodRef)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}
