package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/sitesync/internal/model"
)

// GetCursor returns the last fully processed cursor for the site and
// direction, or 0 if none has been recorded.
func (r reader) GetCursor(ctx context.Context, siteID int64, dir model.Direction) (int64, error) {
	var value int64
	err := r.q.QueryRowContext(ctx, `
		SELECT value FROM sync_cursor
		WHERE site_id = ? AND direction = ? AND protocol = ?
	`, siteID, string(dir), model.ProtocolVersion).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("get cursor", err)
	}
	return value, nil
}

// SetCursor advances the cursor for the site and direction.
//
// Cursors never move backwards. Passing a value below the stored one is a
// programming error and panics. Callers must only advance after the data
// the cursor covers has been durably committed.
func (t *Tx) SetCursor(ctx context.Context, siteID int64, dir model.Direction, value int64) error {
	current, err := t.GetCursor(ctx, siteID, dir)
	if err != nil {
		return err
	}
	if value < current {
		panic(fmt.Sprintf("store: %s cursor for site %d would regress from %d to %d", dir, siteID, current, value))
	}
	if value == current {
		return nil
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO sync_cursor (site_id, direction, protocol, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (site_id, direction, protocol)
		DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, siteID, string(dir), model.ProtocolVersion, value, formatTime(t.now()))
	if err != nil {
		return storageErr("set cursor", err)
	}
	return nil
}

// SetCursor advances a cursor in its own transaction.
func (s *Store) SetCursor(ctx context.Context, siteID int64, dir model.Direction, value int64) error {
	return s.InTx(ctx, func(tx *Tx) error {
		return tx.SetCursor(ctx, siteID, dir, value)
	})
}

// ResetCursor forgets the cursor for the site and direction. It is used
// only by the initialisation handshake, which establishes a fresh pull
// position of 0 on central; ordinary progress goes through SetCursor.
func (t *Tx) ResetCursor(ctx context.Context, siteID int64, dir model.Direction) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM sync_cursor WHERE site_id = ? AND direction = ? AND protocol = ?
	`, siteID, string(dir), model.ProtocolVersion)
	if err != nil {
		return storageErr("reset cursor", err)
	}
	return nil
}
