package translate

import (
	"context"

	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/store"
)

type locationWire struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Name    string `json:"name"`
	StoreID string `json:"storeId"`
	OnHold  bool   `json:"onHold"`
}

type locationTranslator struct{}

func (locationTranslator) Table() model.Table { return model.TableLocation }

func (locationTranslator) TryTranslatePull(_ context.Context, _ LinkResolver, rec model.WireRecord) (*DomainChange, error) {
	if rec.Table != model.TableLocation {
		return nil, nil
	}
	if rec.Action.OrUpsert() == model.ActionDelete {
		return pullDelete(rec, nil), nil
	}

	var w locationWire
	if err := decodePayload(rec, &w, func() string { return w.ID }); err != nil {
		return nil, err
	}
	if err := requireField(rec, "storeId", w.StoreID); err != nil {
		return nil, err
	}

	row := store.LocationRow{
		ID:      rec.RecordID,
		Code:    w.Code,
		Name:    w.Name,
		StoreID: w.StoreID,
		OnHold:  w.OnHold,
	}
	return &DomainChange{
		Table:    rec.Table,
		RecordID: rec.RecordID,
		Action:   model.ActionUpsert,
		StoreID:  &row.StoreID,
		apply: func(ctx context.Context, tx *store.Tx) error {
			return tx.UpsertLocation(ctx, row)
		},
	}, nil
}

func (locationTranslator) TryTranslatePush(ctx context.Context, rows RowSource, entry model.ChangelogEntry) (*model.WireRecord, error) {
	if entry.Table != model.TableLocation {
		return nil, nil
	}
	if entry.Action == model.ActionDelete {
		return pushRecord(entry, nil)
	}

	l, err := loadRow(ctx, entry, rows.GetLocation)
	if err != nil {
		return nil, err
	}
	return pushRecord(entry, locationWire{
		ID:      l.ID,
		Code:    l.Code,
		Name:    l.Name,
		StoreID: l.StoreID,
		OnHold:  l.OnHold,
	})
}
