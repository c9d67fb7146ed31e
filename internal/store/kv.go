package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/sitesync/internal/model"
)

const (
	keySyncState = "sync_state"
	keySiteID    = "site_id"
	keyPullEpoch = "pull_epoch"
)

func (r reader) getKV(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("get "+key, err)
	}
	return value, true, nil
}

func setKV(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return storageErr("set "+key, err)
	}
	return nil
}

// SyncState returns the persisted sync state, PreInitialisation if unset.
func (r reader) SyncState(ctx context.Context) (model.SyncState, error) {
	v, ok, err := r.getKV(ctx, keySyncState)
	if err != nil {
		return "", err
	}
	if !ok {
		return model.StatePreInitialisation, nil
	}
	state := model.SyncState(v)
	if !state.Valid() {
		return "", fmt.Errorf("stored sync state %q is invalid", v)
	}
	return state, nil
}

// AdvanceSyncState moves the sync state forward to target. A target that
// is not ahead of the current state is ignored: the state never regresses.
// Returns the resulting state.
func (s *Store) AdvanceSyncState(ctx context.Context, target model.SyncState) (model.SyncState, error) {
	if !target.Valid() {
		return "", fmt.Errorf("advance sync state: invalid state %q", target)
	}

	var result model.SyncState
	err := s.InTx(ctx, func(tx *Tx) error {
		current, err := tx.SyncState(ctx)
		if err != nil {
			return err
		}
		if !current.Before(target) {
			result = current
			return nil
		}
		result = target
		return setKV(ctx, tx.tx, keySyncState, string(target))
	})
	return result, err
}

// SiteID returns the site id learned from central, if any.
func (r reader) SiteID(ctx context.Context) (int64, bool, error) {
	v, ok, err := r.getKV(ctx, keySiteID)
	if err != nil || !ok {
		return 0, false, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("stored site id %q is invalid: %w", v, err)
	}
	return id, true, nil
}

// SetSiteID stores the site id learned from central.
func (s *Store) SetSiteID(ctx context.Context, id int64) error {
	return setKV(ctx, s.db, keySiteID, strconv.FormatInt(id, 10))
}

func (t *Tx) SetSiteID(ctx context.Context, id int64) error {
	return setKV(ctx, t.tx, keySiteID, strconv.FormatInt(id, 10))
}

// PullSource identifies where staged records come from: a central site and
// one initialisation of it. Central cursors are unique only within a source.
type PullSource struct {
	SiteID int64
	Epoch  int64
}

// PullSource returns the source newly staged records are attributed to.
func (r reader) PullSource(ctx context.Context) (PullSource, error) {
	var src PullSource
	siteID, _, err := r.SiteID(ctx)
	if err != nil {
		return src, err
	}
	src.SiteID = siteID

	v, ok, err := r.getKV(ctx, keyPullEpoch)
	if err != nil || !ok {
		return src, err
	}
	if src.Epoch, err = strconv.ParseInt(v, 10, 64); err != nil {
		return src, fmt.Errorf("stored pull epoch %q is invalid: %w", v, err)
	}
	return src, nil
}

// StartPullEpoch begins a new pull source, called when central rebuilds the
// site's queue or the site id changes. Pending rows staged from earlier
// sources are discarded: their cursors mean nothing to the new source and
// central sends their records again. Integrated rows are kept.
// Returns the new source and how many pending rows were discarded.
func (t *Tx) StartPullEpoch(ctx context.Context) (PullSource, int, error) {
	src, err := t.PullSource(ctx)
	if err != nil {
		return src, 0, err
	}
	src.Epoch++
	if err := setKV(ctx, t.tx, keyPullEpoch, strconv.FormatInt(src.Epoch, 10)); err != nil {
		return src, 0, err
	}

	res, err := t.tx.ExecContext(ctx, `DELETE FROM sync_buffer WHERE integrated_at IS NULL`)
	if err != nil {
		return src, 0, storageErr("discard stale pending", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return src, 0, storageErr("discard stale pending", err)
	}
	return src, int(n), nil
}
