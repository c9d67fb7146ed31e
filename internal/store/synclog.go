package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/sitesync/internal/model"
)

const syncLogColumns = `id, started_at, finished_at,
	pull_started_at, pull_finished_at, pull_total, pull_done,
	integration_started_at, integration_finished_at, integration_total, integration_done,
	push_started_at, push_finished_at, push_total, push_done,
	error_code, error_message`

// UpsertSyncLog writes the current view of a cycle's log row. It is called
// repeatedly as the cycle progresses and once more to finalise it.
func (s *Store) UpsertSyncLog(ctx context.Context, l model.SyncLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_log (`+syncLogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			finished_at = excluded.finished_at,
			pull_started_at = excluded.pull_started_at,
			pull_finished_at = excluded.pull_finished_at,
			pull_total = excluded.pull_total,
			pull_done = excluded.pull_done,
			integration_started_at = excluded.integration_started_at,
			integration_finished_at = excluded.integration_finished_at,
			integration_total = excluded.integration_total,
			integration_done = excluded.integration_done,
			push_started_at = excluded.push_started_at,
			push_finished_at = excluded.push_finished_at,
			push_total = excluded.push_total,
			push_done = excluded.push_done,
			error_code = excluded.error_code,
			error_message = excluded.error_message
	`,
		l.ID, formatTime(l.StartedAt), nullTime(l.FinishedAt),
		nullTime(l.Pull.StartedAt), nullTime(l.Pull.FinishedAt), l.Pull.Total, l.Pull.Done,
		nullTime(l.Integration.StartedAt), nullTime(l.Integration.FinishedAt), l.Integration.Total, l.Integration.Done,
		nullTime(l.Push.StartedAt), nullTime(l.Push.FinishedAt), l.Push.Total, l.Push.Done,
		nullIfEmpty(l.ErrorCode), nullIfEmpty(l.ErrorMessage),
	)
	if err != nil {
		return storageErr("upsert sync log", err)
	}
	return nil
}

// LatestSyncLog returns the most recently started cycle's log.
func (r reader) LatestSyncLog(ctx context.Context) (*model.SyncLog, error) {
	logs, err := r.ListSyncLogs(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, fmt.Errorf("latest sync log: %w", ErrNotFound)
	}
	return &logs[0], nil
}

// LatestSuccessfulSyncLog returns the most recent finished cycle without
// an error.
func (r reader) LatestSuccessfulSyncLog(ctx context.Context) (*model.SyncLog, error) {
	logs, err := r.querySyncLogs(ctx, `
		SELECT `+syncLogColumns+` FROM sync_log
		WHERE finished_at IS NOT NULL AND error_message IS NULL
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, fmt.Errorf("latest successful sync log: %w", ErrNotFound)
	}
	return &logs[0], nil
}

// ListSyncLogs returns up to limit logs, newest first.
func (r reader) ListSyncLogs(ctx context.Context, limit int) ([]model.SyncLog, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.querySyncLogs(ctx, `
		SELECT `+syncLogColumns+` FROM sync_log
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
}

func (r reader) querySyncLogs(ctx context.Context, query string, args ...any) ([]model.SyncLog, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query sync logs", err)
	}
	defer rows.Close()

	logs := []model.SyncLog{}
	for rows.Next() {
		l, err := scanSyncLog(rows)
		if err != nil {
			return nil, storageErr("query sync logs", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query sync logs", err)
	}
	return logs, nil
}

func scanSyncLog(rows *sql.Rows) (model.SyncLog, error) {
	var (
		l                       model.SyncLog
		startedAt               string
		finishedAt              sql.NullString
		pullStart, pullFinish   sql.NullString
		integStart, integFinish sql.NullString
		pushStart, pushFinish   sql.NullString
		errCode, errMessage     sql.NullString
	)
	err := rows.Scan(&l.ID, &startedAt, &finishedAt,
		&pullStart, &pullFinish, &l.Pull.Total, &l.Pull.Done,
		&integStart, &integFinish, &l.Integration.Total, &l.Integration.Done,
		&pushStart, &pushFinish, &l.Push.Total, &l.Push.Done,
		&errCode, &errMessage)
	if err != nil {
		return l, fmt.Errorf("scan sync log: %w", err)
	}

	if l.StartedAt, err = parseTime(startedAt); err != nil {
		return l, err
	}
	times := []struct {
		src sql.NullString
		dst **time.Time
	}{
		{finishedAt, &l.FinishedAt},
		{pullStart, &l.Pull.StartedAt},
		{pullFinish, &l.Pull.FinishedAt},
		{integStart, &l.Integration.StartedAt},
		{integFinish, &l.Integration.FinishedAt},
		{pushStart, &l.Push.StartedAt},
		{pushFinish, &l.Push.FinishedAt},
	}
	for _, tm := range times {
		if *tm.dst, err = parseNullTime(tm.src); err != nil {
			return l, err
		}
	}
	l.ErrorCode = errCode.String
	l.ErrorMessage = errMessage.String
	return l, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
