package translate

import (
	"context"

	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/store"
)

type invoiceLineWire struct {
	ID               string  `json:"id"`
	InvoiceID        string  `json:"invoiceId"`
	ItemID           string  `json:"itemId"`
	StockLineID      *string `json:"stockLineId"`
	NumberOfPacks    float64 `json:"numberOfPacks"`
	PackSize         float64 `json:"packSize"`
	CostPricePerPack float64 `json:"costPricePerPack"`
	SellPricePerPack float64 `json:"sellPricePerPack"`
}

type invoiceLineTranslator struct{}

func (invoiceLineTranslator) Table() model.Table { return model.TableInvoiceLine }

func (invoiceLineTranslator) TryTranslatePull(ctx context.Context, links LinkResolver, rec model.WireRecord) (*DomainChange, error) {
	if rec.Table != model.TableInvoiceLine {
		return nil, nil
	}
	if rec.Action.OrUpsert() == model.ActionDelete {
		return pullDelete(rec, nil), nil
	}

	var w invoiceLineWire
	if err := decodePayload(rec, &w, func() string { return w.ID }); err != nil {
		return nil, err
	}
	if err := requireField(rec, "invoiceId", w.InvoiceID); err != nil {
		return nil, err
	}
	if err := requireField(rec, "itemId", w.ItemID); err != nil {
		return nil, err
	}
	if _, err := resolve(ctx, links.ResolveItemLink, rec.Table, rec.RecordID, "itemId", w.ItemID); err != nil {
		return nil, err
	}

	row := store.InvoiceLineRow{
		ID:               rec.RecordID,
		InvoiceID:        w.InvoiceID,
		ItemLinkID:       w.ItemID,
		StockLineID:      w.StockLineID,
		NumberOfPacks:    w.NumberOfPacks,
		PackSize:         w.PackSize,
		CostPricePerPack: w.CostPricePerPack,
		SellPricePerPack: w.SellPricePerPack,
	}
	return &DomainChange{
		Table:    rec.Table,
		RecordID: rec.RecordID,
		Action:   model.ActionUpsert,
		apply: func(ctx context.Context, tx *store.Tx) error {
			return tx.UpsertInvoiceLine(ctx, row)
		},
	}, nil
}

func (invoiceLineTranslator) TryTranslatePush(ctx context.Context, rows RowSource, entry model.ChangelogEntry) (*model.WireRecord, error) {
	if entry.Table != model.TableInvoiceLine {
		return nil, nil
	}
	if entry.Action == model.ActionDelete {
		return pushRecord(entry, nil)
	}

	line, err := loadRow(ctx, entry, rows.GetInvoiceLine)
	if err != nil {
		return nil, err
	}
	itemID, err := resolve(ctx, rows.ResolveItemLink, entry.Table, entry.RecordID, "itemId", line.ItemLinkID)
	if err != nil {
		return nil, err
	}
	return pushRecord(entry, invoiceLineWire{
		ID:               line.ID,
		InvoiceID:        line.InvoiceID,
		ItemID:           itemID,
		StockLineID:      line.StockLineID,
		NumberOfPacks:    line.NumberOfPacks,
		PackSize:         line.PackSize,
		CostPricePerPack: line.CostPricePerPack,
		SellPricePerPack: line.SellPricePerPack,
	})
}
