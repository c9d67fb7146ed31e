package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/sitesync/internal/model"
)

const bufferColumns = `id, site_id, pull_epoch, cursor, table_name, record_id, row_action, raw_payload, payload_hash,
	received_at, integrated_at, integration_error, attempts`

// integrationOrderSQL ranks table_name by model.IntegrationOrder. Unknown
// tables sort last.
var integrationOrderSQL = func() string {
	var b strings.Builder
	b.WriteString("CASE table_name")
	for i, tbl := range model.IntegrationOrder {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", tbl, i)
	}
	fmt.Fprintf(&b, " ELSE %d END", len(model.IntegrationOrder))
	return b.String()
}()

// StageRecords persists pulled records as pending buffer rows and returns
// how many were newly staged. Rows are attributed to the current pull
// source. A record whose central cursor is already buffered from that
// source is skipped, so re-pulling the same window is harmless.
func (t *Tx) StageRecords(ctx context.Context, records []model.WireRecord) (int, error) {
	src, err := t.PullSource(ctx)
	if err != nil {
		return 0, err
	}
	received := formatTime(t.now())
	staged := 0

	for _, rec := range records {
		payload := []byte(rec.Data)
		if len(payload) == 0 {
			payload = []byte("null")
		}
		// A payload that cannot be canonicalized is still staged; the
		// integrator will record why it could not be applied.
		hash, err := model.PayloadHash(payload)
		if err != nil {
			hash = ""
		}

		res, err := t.tx.ExecContext(ctx, `
			INSERT INTO sync_buffer (id, site_id, pull_epoch, cursor, table_name, record_id, row_action,
				raw_payload, payload_hash, received_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (site_id, pull_epoch, cursor) DO NOTHING
		`, t.newID(), src.SiteID, src.Epoch, rec.Cursor, string(rec.Table), rec.RecordID, string(rec.Action.OrUpsert()),
			string(payload), hash, received)
		if err != nil {
			return staged, storageErr("stage record", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return staged, storageErr("stage record", err)
		}
		staged += int(n)
	}
	return staged, nil
}

// StageRecords persists pulled records in one transaction.
func (s *Store) StageRecords(ctx context.Context, records []model.WireRecord) (int, error) {
	var staged int
	err := s.InTx(ctx, func(tx *Tx) error {
		var err error
		staged, err = tx.StageRecords(ctx, records)
		return err
	})
	return staged, err
}

// PendingBuffer returns up to limit pending records in integration order:
// by table rank, then ascending central cursor.
func (r reader) PendingBuffer(ctx context.Context, limit int) ([]model.SyncBufferRecord, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	return r.queryBuffer(ctx, "pending buffer", `
		SELECT `+bufferColumns+`
		FROM sync_buffer
		WHERE integrated_at IS NULL
		ORDER BY `+integrationOrderSQL+`, cursor ASC
		LIMIT ?
	`, limit)
}

// PendingPosition is a point in integration order, used to page through
// pending rows without revisiting ones that failed earlier in the pass.
type PendingPosition struct {
	Rank   int
	Cursor int64
}

// PositionOf returns the integration-order position of rec.
func PositionOf(rec model.SyncBufferRecord) PendingPosition {
	rank := rec.Table.Rank()
	if rank < 0 {
		rank = len(model.IntegrationOrder)
	}
	return PendingPosition{Rank: rank, Cursor: rec.Cursor}
}

// PendingBufferAfter returns up to limit pending records positioned
// strictly after pos in integration order.
func (r reader) PendingBufferAfter(ctx context.Context, pos PendingPosition, limit int) ([]model.SyncBufferRecord, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	return r.queryBuffer(ctx, "pending buffer", `
		SELECT `+bufferColumns+`
		FROM sync_buffer
		WHERE integrated_at IS NULL
		  AND (`+integrationOrderSQL+` > ? OR (`+integrationOrderSQL+` = ? AND cursor > ?))
		ORDER BY `+integrationOrderSQL+`, cursor ASC
		LIMIT ?
	`, pos.Rank, pos.Rank, pos.Cursor, limit)
}

// BufferFilter narrows ListBuffer results.
type BufferFilter struct {
	PendingOnly bool
	ErrorsOnly  bool
	Table       model.Table
	Limit       int
}

// ListBuffer returns buffer rows, newest cursor first.
func (r reader) ListBuffer(ctx context.Context, f BufferFilter) ([]model.SyncBufferRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultBatchSize
	}

	query := `SELECT ` + bufferColumns + ` FROM sync_buffer WHERE 1 = 1`
	var args []any
	if f.PendingOnly {
		query += ` AND integrated_at IS NULL`
	}
	if f.ErrorsOnly {
		query += ` AND integration_error IS NOT NULL AND integrated_at IS NULL`
	}
	if f.Table != "" {
		query += ` AND table_name = ?`
		args = append(args, string(f.Table))
	}
	query += ` ORDER BY pull_epoch DESC, cursor DESC LIMIT ?`
	args = append(args, limit)

	return r.queryBuffer(ctx, "list buffer", query, args...)
}

// GetBufferRecord returns the buffer row staged from the given central
// cursor of the current pull source.
func (r reader) GetBufferRecord(ctx context.Context, cursor int64) (*model.SyncBufferRecord, error) {
	src, err := r.PullSource(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := r.queryBuffer(ctx, "get buffer record", `
		SELECT `+bufferColumns+` FROM sync_buffer
		WHERE site_id = ? AND pull_epoch = ? AND cursor = ?
	`, src.SiteID, src.Epoch, cursor)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("buffer record at cursor %d: %w", cursor, ErrNotFound)
	}
	return &recs[0], nil
}

// BufferStats summarises the buffer for status reporting.
type BufferStats struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	Errored    int64 `json:"errored"`
	Integrated int64 `json:"integrated"`
}

// BufferStats counts buffer rows by integration status.
func (r reader) BufferStats(ctx context.Context) (BufferStats, error) {
	var st BufferStats
	err := r.q.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN integrated_at IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN integrated_at IS NULL AND integration_error IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM sync_buffer
	`).Scan(&st.Total, &st.Pending, &st.Errored)
	if err != nil {
		return st, storageErr("buffer stats", err)
	}
	st.Integrated = st.Total - st.Pending
	return st, nil
}

// MaxIntegratedCursor returns the highest central cursor among integrated
// buffer rows of the current pull source, or 0 if none.
func (r reader) MaxIntegratedCursor(ctx context.Context) (int64, error) {
	src, err := r.PullSource(ctx)
	if err != nil {
		return 0, err
	}
	var cursor int64
	err = r.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(cursor), 0) FROM sync_buffer
		WHERE integrated_at IS NOT NULL AND site_id = ? AND pull_epoch = ?
	`, src.SiteID, src.Epoch).Scan(&cursor)
	if err != nil {
		return 0, storageErr("max integrated cursor", err)
	}
	return cursor, nil
}

// MarkIntegrated records a successful integration attempt.
func (t *Tx) MarkIntegrated(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sync_buffer
		SET integrated_at = ?, integration_error = NULL, attempts = attempts + 1
		WHERE id = ?
	`, formatTime(t.now()), id)
	if err != nil {
		return storageErr("mark integrated", err)
	}
	return requireOneRow(res, "mark integrated", id)
}

// SupersedePending marks pending rows for the same record with a lower
// cursor as integrated, so a stale retry can never overwrite newer data.
// Returns how many rows were superseded.
func (t *Tx) SupersedePending(ctx context.Context, table model.Table, recordID string, cursor int64) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sync_buffer
		SET integrated_at = ?, integration_error = ?
		WHERE table_name = ? AND record_id = ? AND cursor < ? AND integrated_at IS NULL
	`, formatTime(t.now()), fmt.Sprintf("superseded by cursor %d", cursor), string(table), recordID, cursor)
	if err != nil {
		return 0, storageErr("supersede pending", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("supersede pending", err)
	}
	return int(n), nil
}

// MarkIntegrationError records a failed integration attempt. The row stays
// pending and is retried on the next cycle. It runs in its own transaction
// because the transaction that failed has already been rolled back.
func (s *Store) MarkIntegrationError(ctx context.Context, id string, cause error) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_buffer
		SET integration_error = ?, attempts = attempts + 1
		WHERE id = ? AND integrated_at IS NULL
	`, cause.Error(), id)
	if err != nil {
		return storageErr("mark integration error", err)
	}
	return requireOneRow(res, "mark integration error", id)
}

func requireOneRow(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: buffer row %s: %w", op, id, ErrNotFound)
	}
	return nil
}

func (r reader) queryBuffer(ctx context.Context, op, query string, args ...any) ([]model.SyncBufferRecord, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	records := []model.SyncBufferRecord{}
	for rows.Next() {
		rec, err := scanBufferRecord(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return records, nil
}

func scanBufferRecord(rows *sql.Rows) (model.SyncBufferRecord, error) {
	var (
		rec          model.SyncBufferRecord
		table        string
		action       string
		payload      string
		receivedAt   string
		integratedAt sql.NullString
		integErr     sql.NullString
	)
	err := rows.Scan(&rec.ID, &rec.SiteID, &rec.PullEpoch, &rec.Cursor, &table, &rec.RecordID, &action, &payload, &rec.PayloadHash,
		&receivedAt, &integratedAt, &integErr, &rec.Attempts)
	if err != nil {
		return rec, fmt.Errorf("scan buffer record: %w", err)
	}

	rec.Table = model.Table(table)
	rec.Action = model.RowAction(action)
	rec.RawPayload = []byte(payload)
	rec.IntegrationError = nullString(integErr)

	if rec.ReceivedAt, err = parseTime(receivedAt); err != nil {
		return rec, err
	}
	if rec.IntegratedAt, err = parseNullTime(integratedAt); err != nil {
		return rec, err
	}
	return rec, nil
}
