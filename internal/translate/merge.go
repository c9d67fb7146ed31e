package translate

import (
	"context"
	"errors"

	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/store"
)

type mergeWire struct {
	KeepID   string `json:"keepId"`
	DeleteID string `json:"deleteId"`
}

// mergeTranslator applies name and item merges decided by central. Merges
// are pull-only: local changes never produce merge records.
type mergeTranslator struct {
	table model.Table
}

func (t mergeTranslator) Table() model.Table { return t.table }

func (t mergeTranslator) TryTranslatePull(_ context.Context, _ LinkResolver, rec model.WireRecord) (*DomainChange, error) {
	if rec.Table != t.table {
		return nil, nil
	}

	var w mergeWire
	if err := decodePayload(rec, &w, nil); err != nil {
		return nil, err
	}
	if w.KeepID == "" || w.DeleteID == "" {
		return nil, malformed(rec.Table, rec.RecordID, errors.New("keepId and deleteId are required"))
	}

	merge := func(ctx context.Context, tx *store.Tx) error {
		if t.table == model.TableNameMerge {
			return tx.MergeNames(ctx, w.KeepID, w.DeleteID)
		}
		return tx.MergeItems(ctx, w.KeepID, w.DeleteID)
	}
	return &DomainChange{
		Table:    rec.Table,
		RecordID: rec.RecordID,
		Action:   model.ActionUpsert,
		apply: func(ctx context.Context, tx *store.Tx) error {
			err := merge(ctx, tx)
			// The kept row has not arrived yet; report it as an unresolved
			// reference so the merge is retried once it has.
			if errors.Is(err, store.ErrNotFound) {
				return unresolved(rec.Table, rec.RecordID, "keepId", w.KeepID, err)
			}
			return err
		},
	}, nil
}

func (t mergeTranslator) TryTranslatePush(_ context.Context, _ RowSource, _ model.ChangelogEntry) (*model.WireRecord, error) {
	return nil, nil
}
