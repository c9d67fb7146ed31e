package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/sitesync/internal/model"
)

// DefaultBatchSize bounds changelog and buffer reads when the caller passes
// a non-positive limit.
const DefaultBatchSize = 500

const changelogColumns = `cursor, table_name, record_id, row_action, store_id, origin_site_id, is_echo`

// AppendChangelog records a mutation in the same transaction as the domain
// write that caused it and returns the assigned cursor.
func (t *Tx) AppendChangelog(ctx context.Context, m model.Mutation) (int64, error) {
	if !m.Table.Valid() {
		return 0, fmt.Errorf("append changelog: unknown table %q", m.Table)
	}
	if !m.Action.Valid() {
		return 0, fmt.Errorf("append changelog: unknown action %q", m.Action)
	}
	if m.RecordID == "" {
		return 0, fmt.Errorf("append changelog: record id is required")
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO changelog (table_name, record_id, row_action, store_id, origin_site_id, is_echo)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(m.Table), m.RecordID, string(m.Action), m.StoreID, m.OriginSiteID, boolInt(m.IsEcho))
	if err != nil {
		return 0, storageErr("append changelog", err)
	}

	cursor, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("append changelog", err)
	}
	return cursor, nil
}

// AppendChangelog records a mutation in its own transaction.
// Domain writers should prefer Tx.AppendChangelog alongside their write.
func (s *Store) AppendChangelog(ctx context.Context, m model.Mutation) (int64, error) {
	var cursor int64
	err := s.InTx(ctx, func(tx *Tx) error {
		var err error
		cursor, err = tx.AppendChangelog(ctx, m)
		return err
	})
	return cursor, err
}

// ReadChangelogSince returns up to limit entries with cursor > after, in
// ascending cursor order, optionally restricted to the given tables.
//
// Returns an empty slice (not nil) when there is nothing to read.
func (r reader) ReadChangelogSince(ctx context.Context, after int64, limit int, tables ...model.Table) ([]model.ChangelogEntry, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}

	query := `SELECT ` + changelogColumns + ` FROM changelog WHERE cursor > ?`
	args := []any{after}
	if len(tables) > 0 {
		placeholders := make([]string, len(tables))
		for i, tbl := range tables {
			placeholders[i] = "?"
			args = append(args, string(tbl))
		}
		query += ` AND table_name IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY cursor ASC LIMIT ?`
	args = append(args, limit)

	return r.queryChangelog(ctx, "read changelog", query, args...)
}

// DedupChangelogSince collapses the changelog after the given cursor to
// one entry per (table, record id): the entry with the highest cursor.
// Records whose latest entry is an echo of a pulled record are excluded.
func (r reader) DedupChangelogSince(ctx context.Context, after int64, limit int) ([]model.ChangelogEntry, error) {
	latest, err := r.LatestChangelogCursor(ctx)
	if err != nil {
		return nil, err
	}
	return r.DedupChangelogWindow(ctx, after, latest, limit)
}

// DedupChangelogWindow is DedupChangelogSince bounded above by upTo
// (inclusive). Paging with after set to the last returned cursor and a
// fixed upTo visits every record exactly once.
func (r reader) DedupChangelogWindow(ctx context.Context, after, upTo int64, limit int) ([]model.ChangelogEntry, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}

	return r.queryChangelog(ctx, "dedup changelog", `
		SELECT c.cursor, c.table_name, c.record_id, c.row_action, c.store_id, c.origin_site_id, c.is_echo
		FROM changelog c
		JOIN (
			SELECT MAX(cursor) AS max_cursor
			FROM changelog
			WHERE cursor > ? AND cursor <= ?
			GROUP BY table_name, record_id
		) latest ON c.cursor = latest.max_cursor
		WHERE c.is_echo = 0
		ORDER BY c.cursor ASC
		LIMIT ?
	`, after, upTo, limit)
}

// CountDedupWindow returns how many entries DedupChangelogWindow would
// yield across all pages.
func (r reader) CountDedupWindow(ctx context.Context, after, upTo int64) (int64, error) {
	var n int64
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM changelog c
		JOIN (
			SELECT MAX(cursor) AS max_cursor
			FROM changelog
			WHERE cursor > ? AND cursor <= ?
			GROUP BY table_name, record_id
		) latest ON c.cursor = latest.max_cursor
		WHERE c.is_echo = 0
	`, after, upTo).Scan(&n)
	if err != nil {
		return 0, storageErr("count dedup changelog", err)
	}
	return n, nil
}

// LatestChangelogCursor returns the highest assigned cursor, or 0 if the
// changelog is empty.
func (r reader) LatestChangelogCursor(ctx context.Context) (int64, error) {
	var cursor int64
	err := r.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(cursor), 0) FROM changelog`).Scan(&cursor)
	if err != nil {
		return 0, storageErr("latest changelog cursor", err)
	}
	return cursor, nil
}

// LatestChangelogEntry returns the newest entry for one record, echo or
// not.
func (r reader) LatestChangelogEntry(ctx context.Context, table model.Table, recordID string) (*model.ChangelogEntry, error) {
	entries, err := r.queryChangelog(ctx, "latest changelog entry", `
		SELECT `+changelogColumns+` FROM changelog
		WHERE table_name = ? AND record_id = ?
		ORDER BY cursor DESC
		LIMIT 1
	`, string(table), recordID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("changelog entry for %s %s: %w", table, recordID, ErrNotFound)
	}
	return &entries[0], nil
}

func (r reader) queryChangelog(ctx context.Context, op, query string, args ...any) ([]model.ChangelogEntry, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	entries := []model.ChangelogEntry{}
	for rows.Next() {
		e, err := scanChangelogEntry(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return entries, nil
}

func scanChangelogEntry(rows *sql.Rows) (model.ChangelogEntry, error) {
	var (
		e        model.ChangelogEntry
		table    string
		action   string
		storeID  sql.NullString
		originID sql.NullInt64
		isEcho   int
	)
	if err := rows.Scan(&e.Cursor, &table, &e.RecordID, &action, &storeID, &originID, &isEcho); err != nil {
		return e, fmt.Errorf("scan changelog entry: %w", err)
	}
	e.Table = model.Table(table)
	e.Action = model.RowAction(action)
	e.StoreID = nullString(storeID)
	if originID.Valid {
		v := originID.Int64
		e.OriginSiteID = &v
	}
	e.IsEcho = isEcho != 0
	return e, nil
}

// WriteLocal applies a local domain write and records its changelog entry
// in one transaction. This is the entry point for business-logic writers:
// the changelog can never hold an entry for a write that did not commit,
// nor miss one for a write that did.
func (s *Store) WriteLocal(ctx context.Context, m model.Mutation, write func(*Tx) error) (int64, error) {
	var cursor int64
	err := s.InTx(ctx, func(tx *Tx) error {
		if write != nil {
			if err := write(tx); err != nil {
				return err
			}
		}
		var err error
		cursor, err = tx.AppendChangelog(ctx, m)
		return err
	})
	return cursor, err
}
