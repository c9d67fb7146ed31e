package translate

import (
	"context"

	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/store"
)

type unitWire struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Index       int64   `json:"index"`
	IsActive    bool    `json:"isActive"`
}

type unitTranslator struct{}

func (unitTranslator) Table() model.Table { return model.TableUnit }

func (unitTranslator) TryTranslatePull(_ context.Context, _ LinkResolver, rec model.WireRecord) (*DomainChange, error) {
	if rec.Table != model.TableUnit {
		return nil, nil
	}
	if rec.Action.OrUpsert() == model.ActionDelete {
		return pullDelete(rec, nil), nil
	}

	var w unitWire
	if err := decodePayload(rec, &w, func() string { return w.ID }); err != nil {
		return nil, err
	}
	if err := requireField(rec, "name", w.Name); err != nil {
		return nil, err
	}

	row := store.UnitRow{
		ID:          rec.RecordID,
		Name:        w.Name,
		Description: w.Description,
		Index:       w.Index,
		IsActive:    w.IsActive,
	}
	return &DomainChange{
		Table:    rec.Table,
		RecordID: rec.RecordID,
		Action:   model.ActionUpsert,
		apply: func(ctx context.Context, tx *store.Tx) error {
			return tx.UpsertUnit(ctx, row)
		},
	}, nil
}

func (unitTranslator) TryTranslatePush(ctx context.Context, rows RowSource, entry model.ChangelogEntry) (*model.WireRecord, error) {
	if entry.Table != model.TableUnit {
		return nil, nil
	}
	if entry.Action == model.ActionDelete {
		return pushRecord(entry, nil)
	}

	u, err := loadRow(ctx, entry, rows.GetUnit)
	if err != nil {
		return nil, err
	}
	return pushRecord(entry, unitWire{
		ID:          u.ID,
		Name:        u.Name,
		Description: u.Description,
		Index:       u.Index,
		IsActive:    u.IsActive,
	})
}
