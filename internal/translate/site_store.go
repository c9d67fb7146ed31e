package translate

import (
	"context"

	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/store"
)

type storeWire struct {
	ID     string `json:"id"`
	Code   string `json:"code"`
	NameID string `json:"nameId"`
	SiteID int64  `json:"siteId"`
}

type storeTranslator struct{}

func (storeTranslator) Table() model.Table { return model.TableStore }

func (storeTranslator) TryTranslatePull(ctx context.Context, links LinkResolver, rec model.WireRecord) (*DomainChange, error) {
	if rec.Table != model.TableStore {
		return nil, nil
	}
	if rec.Action.OrUpsert() == model.ActionDelete {
		return nil, unsupportedDelete(rec)
	}

	var w storeWire
	if err := decodePayload(rec, &w, func() string { return w.ID }); err != nil {
		return nil, err
	}
	if err := requireField(rec, "nameId", w.NameID); err != nil {
		return nil, err
	}
	if _, err := resolve(ctx, links.ResolveNameLink, rec.Table, rec.RecordID, "nameId", w.NameID); err != nil {
		return nil, err
	}

	row := store.StoreRow{
		ID:         rec.RecordID,
		Code:       w.Code,
		NameLinkID: w.NameID,
		SiteID:     w.SiteID,
	}
	storeID := rec.RecordID
	return &DomainChange{
		Table:    rec.Table,
		RecordID: rec.RecordID,
		Action:   model.ActionUpsert,
		StoreID:  &storeID,
		apply: func(ctx context.Context, tx *store.Tx) error {
			return tx.UpsertStore(ctx, row)
		},
	}, nil
}

func (storeTranslator) TryTranslatePush(ctx context.Context, rows RowSource, entry model.ChangelogEntry) (*model.WireRecord, error) {
	if entry.Table != model.TableStore {
		return nil, nil
	}
	if entry.Action == model.ActionDelete {
		return pushRecord(entry, nil)
	}

	s, err := loadRow(ctx, entry, rows.GetStore)
	if err != nil {
		return nil, err
	}
	nameID, err := resolve(ctx, rows.ResolveNameLink, entry.Table, entry.RecordID, "nameId", s.NameLinkID)
	if err != nil {
		return nil, err
	}
	return pushRecord(entry, storeWire{
		ID:     s.ID,
		Code:   s.Code,
		NameID: nameID,
		SiteID: s.SiteID,
	})
}
