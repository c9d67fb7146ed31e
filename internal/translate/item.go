package translate

import (
	"context"

	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/store"
)

type itemWire struct {
	ID     string  `json:"id"`
	Code   string  `json:"code"`
	Name   string  `json:"name"`
	UnitID *string `json:"unitId"`
	Type   string  `json:"type"`
}

type itemTranslator struct{}

func (itemTranslator) Table() model.Table { return model.TableItem }

func (itemTranslator) TryTranslatePull(ctx context.Context, links LinkResolver, rec model.WireRecord) (*DomainChange, error) {
	if rec.Table != model.TableItem {
		return nil, nil
	}
	// Items are retired by merging, never deleted.
	if rec.Action.OrUpsert() == model.ActionDelete {
		return nil, unsupportedDelete(rec)
	}

	var w itemWire
	if err := decodePayload(rec, &w, func() string { return w.ID }); err != nil {
		return nil, err
	}
	if err := requireField(rec, "code", w.Code); err != nil {
		return nil, err
	}
	if w.Type == "" {
		w.Type = "stock"
	}

	// A merged-away id writes through to the row it was merged into.
	id, err := canonicalID(ctx, links.ResolveItemLink, rec.RecordID)
	if err != nil {
		return nil, err
	}

	row := store.ItemRow{
		ID:     id,
		Code:   w.Code,
		Name:   w.Name,
		UnitID: w.UnitID,
		Type:   w.Type,
	}
	return &DomainChange{
		Table:    rec.Table,
		RecordID: id,
		Action:   model.ActionUpsert,
		apply: func(ctx context.Context, tx *store.Tx) error {
			return tx.UpsertItem(ctx, row)
		},
	}, nil
}

func (itemTranslator) TryTranslatePush(ctx context.Context, rows RowSource, entry model.ChangelogEntry) (*model.WireRecord, error) {
	if entry.Table != model.TableItem {
		return nil, nil
	}
	if entry.Action == model.ActionDelete {
		return pushRecord(entry, nil)
	}

	it, err := loadRow(ctx, entry, rows.GetItem)
	if err != nil {
		return nil, err
	}
	return pushRecord(entry, itemWire{
		ID:     it.ID,
		Code:   it.Code,
		Name:   it.Name,
		UnitID: it.UnitID,
		Type:   it.Type,
	})
}
