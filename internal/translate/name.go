package translate

import (
	"context"

	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/store"
)

type nameWire struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	IsCustomer bool   `json:"isCustomer"`
	IsSupplier bool   `json:"isSupplier"`
}

type nameTranslator struct{}

func (nameTranslator) Table() model.Table { return model.TableName }

func (nameTranslator) TryTranslatePull(ctx context.Context, links LinkResolver, rec model.WireRecord) (*DomainChange, error) {
	if rec.Table != model.TableName {
		return nil, nil
	}
	// Names are retired by merging, never deleted.
	if rec.Action.OrUpsert() == model.ActionDelete {
		return nil, unsupportedDelete(rec)
	}

	var w nameWire
	if err := decodePayload(rec, &w, func() string { return w.ID }); err != nil {
		return nil, err
	}
	if err := requireField(rec, "code", w.Code); err != nil {
		return nil, err
	}

	// A merged-away id writes through to the row it was merged into.
	id, err := canonicalID(ctx, links.ResolveNameLink, rec.RecordID)
	if err != nil {
		return nil, err
	}

	row := store.NameRow{
		ID:         id,
		Code:       w.Code,
		Name:       w.Name,
		IsCustomer: w.IsCustomer,
		IsSupplier: w.IsSupplier,
	}
	return &DomainChange{
		Table:    rec.Table,
		RecordID: id,
		Action:   model.ActionUpsert,
		apply: func(ctx context.Context, tx *store.Tx) error {
			return tx.UpsertName(ctx, row)
		},
	}, nil
}

func (nameTranslator) TryTranslatePush(ctx context.Context, rows RowSource, entry model.ChangelogEntry) (*model.WireRecord, error) {
	if entry.Table != model.TableName {
		return nil, nil
	}
	if entry.Action == model.ActionDelete {
		return pushRecord(entry, nil)
	}

	n, err := loadRow(ctx, entry, rows.GetName)
	if err != nil {
		return nil, err
	}
	return pushRecord(entry, nameWire{
		ID:         n.ID,
		Code:       n.Code,
		Name:       n.Name,
		IsCustomer: n.IsCustomer,
		IsSupplier: n.IsSupplier,
	})
}
