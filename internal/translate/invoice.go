package translate

import (
	"context"

	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/store"
)

type invoiceWire struct {
	ID              string  `json:"id"`
	NameID          string  `json:"nameId"`
	StoreID         string  `json:"storeId"`
	InvoiceNumber   int64   `json:"invoiceNumber"`
	Type            string  `json:"type"`
	Status          string  `json:"status"`
	CreatedDatetime string  `json:"createdDatetime"`
	Comment         *string `json:"comment"`
}

type invoiceTranslator struct{}

func (invoiceTranslator) Table() model.Table { return model.TableInvoice }

func (invoiceTranslator) TryTranslatePull(ctx context.Context, links LinkResolver, rec model.WireRecord) (*DomainChange, error) {
	if rec.Table != model.TableInvoice {
		return nil, nil
	}
	if rec.Action.OrUpsert() == model.ActionDelete {
		return pullDelete(rec, nil), nil
	}

	var w invoiceWire
	if err := decodePayload(rec, &w, func() string { return w.ID }); err != nil {
		return nil, err
	}
	for _, f := range []struct{ name, value string }{
		{"nameId", w.NameID},
		{"storeId", w.StoreID},
		{"type", w.Type},
		{"status", w.Status},
		{"createdDatetime", w.CreatedDatetime},
	} {
		if err := requireField(rec, f.name, f.value); err != nil {
			return nil, err
		}
	}
	if _, err := resolve(ctx, links.ResolveNameLink, rec.Table, rec.RecordID, "nameId", w.NameID); err != nil {
		return nil, err
	}

	row := store.InvoiceRow{
		ID:            rec.RecordID,
		NameLinkID:    w.NameID,
		StoreID:       w.StoreID,
		InvoiceNumber: w.InvoiceNumber,
		Type:          w.Type,
		Status:        w.Status,
		CreatedAt:     w.CreatedDatetime,
		Comment:       w.Comment,
	}
	return &DomainChange{
		Table:    rec.Table,
		RecordID: rec.RecordID,
		Action:   model.ActionUpsert,
		StoreID:  &row.StoreID,
		apply: func(ctx context.Context, tx *store.Tx) error {
			return tx.UpsertInvoice(ctx, row)
		},
	}, nil
}

func (invoiceTranslator) TryTranslatePush(ctx context.Context, rows RowSource, entry model.ChangelogEntry) (*model.WireRecord, error) {
	if entry.Table != model.TableInvoice {
		return nil, nil
	}
	if entry.Action == model.ActionDelete {
		return pushRecord(entry, nil)
	}

	inv, err := loadRow(ctx, entry, rows.GetInvoice)
	if err != nil {
		return nil, err
	}
	nameID, err := resolve(ctx, rows.ResolveNameLink, entry.Table, entry.RecordID, "nameId", inv.NameLinkID)
	if err != nil {
		return nil, err
	}
	return pushRecord(entry, invoiceWire{
		ID:              inv.ID,
		NameID:          nameID,
		StoreID:         inv.StoreID,
		InvoiceNumber:   inv.InvoiceNumber,
		Type:            inv.Type,
		Status:          inv.Status,
		CreatedDatetime: inv.CreatedAt,
		Comment:         inv.Comment,
	})
}
