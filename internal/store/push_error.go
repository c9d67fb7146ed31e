package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/sitesync/internal/model"
)

// PushError is a local change that could not be translated for push. The
// push cursor moves past it; the row keeps it until a later attempt
// succeeds or a newer change to the same record replaces it.
type PushError struct {
	Table         model.Table `json:"table_name"`
	RecordID      string      `json:"record_id"`
	Cursor        int64       `json:"cursor"`
	Error         string      `json:"error"`
	Attempts      int         `json:"attempts"`
	LastAttemptAt time.Time   `json:"last_attempt_at"`
}

// RecordPushError stores why entry could not be pushed. A record has at
// most one push error: its latest failing change.
func (s *Store) RecordPushError(ctx context.Context, entry model.ChangelogEntry, cause error) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_push_error (table_name, record_id, cursor, error, attempts, last_attempt_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT (table_name, record_id) DO UPDATE SET
			cursor = excluded.cursor,
			error = excluded.error,
			attempts = sync_push_error.attempts + 1,
			last_attempt_at = excluded.last_attempt_at
	`, string(entry.Table), entry.RecordID, entry.Cursor, cause.Error(), formatTime(s.now()))
	if err != nil {
		return storageErr("record push error", err)
	}
	return nil
}

// ClearPushErrors removes the push errors of records central has accepted.
// Returns how many were removed.
func (s *Store) ClearPushErrors(ctx context.Context, records []model.WireRecord) (int, error) {
	var cleared int
	err := s.InTx(ctx, func(tx *Tx) error {
		for _, rec := range records {
			n, err := tx.clearPushError(ctx, rec.Table, rec.RecordID)
			if err != nil {
				return err
			}
			cleared += n
		}
		return nil
	})
	return cleared, err
}

// DropPushError forgets a push error without pushing, used once the
// record's latest change came from central.
func (s *Store) DropPushError(ctx context.Context, table model.Table, recordID string) error {
	return s.InTx(ctx, func(tx *Tx) error {
		_, err := tx.clearPushError(ctx, table, recordID)
		return err
	})
}

func (t *Tx) clearPushError(ctx context.Context, table model.Table, recordID string) (int, error) {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM sync_push_error WHERE table_name = ? AND record_id = ?`, string(table), recordID)
	if err != nil {
		return 0, storageErr("clear push error", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("clear push error", err)
	}
	return int(n), nil
}

// ListPushErrors returns up to limit push errors, oldest change first.
func (r reader) ListPushErrors(ctx context.Context, limit int) ([]PushError, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT table_name, record_id, cursor, error, attempts, last_attempt_at
		FROM sync_push_error
		ORDER BY cursor ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, storageErr("list push errors", err)
	}
	defer rows.Close()

	out := []PushError{}
	for rows.Next() {
		pe, err := scanPushError(rows)
		if err != nil {
			return nil, storageErr("list push errors", err)
		}
		out = append(out, pe)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list push errors", err)
	}
	return out, nil
}

// CountPushErrors returns how many local changes are waiting on a push retry.
func (r reader) CountPushErrors(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_push_error`).Scan(&n); err != nil {
		return 0, storageErr("count push errors", err)
	}
	return n, nil
}

func scanPushError(rows *sql.Rows) (PushError, error) {
	var (
		pe          PushError
		table       string
		lastAttempt string
	)
	if err := rows.Scan(&table, &pe.RecordID, &pe.Cursor, &pe.Error, &pe.Attempts, &lastAttempt); err != nil {
		return pe, fmt.Errorf("scan push error: %w", err)
	}
	pe.Table = model.Table(table)
	t, err := parseTime(lastAttempt)
	if err != nil {
		return pe, err
	}
	pe.LastAttemptAt = t
	return pe, nil
}
