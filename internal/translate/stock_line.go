package translate

import (
	"context"

	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/store"
)

type stockLineWire struct {
	ID                 string  `json:"id"`
	ItemID             string  `json:"itemId"`
	StoreID            string  `json:"storeId"`
	LocationID         *string `json:"locationId"`
	Batch              *string `json:"batch"`
	ExpiryDate         *string `json:"expiryDate"`
	PackSize           float64 `json:"packSize"`
	TotalNumberOfPacks float64 `json:"totalNumberOfPacks"`
	CostPricePerPack   float64 `json:"costPricePerPack"`
	SellPricePerPack   float64 `json:"sellPricePerPack"`
	OnHold             bool    `json:"onHold"`
}

type stockLineTranslator struct{}

func (stockLineTranslator) Table() model.Table { return model.TableStockLine }

func (stockLineTranslator) TryTranslatePull(ctx context.Context, links LinkResolver, rec model.WireRecord) (*DomainChange, error) {
	if rec.Table != model.TableStockLine {
		return nil, nil
	}
	if rec.Action.OrUpsert() == model.ActionDelete {
		return pullDelete(rec, nil), nil
	}

	var w stockLineWire
	if err := decodePayload(rec, &w, func() string { return w.ID }); err != nil {
		return nil, err
	}
	if err := requireField(rec, "itemId", w.ItemID); err != nil {
		return nil, err
	}
	if err := requireField(rec, "storeId", w.StoreID); err != nil {
		return nil, err
	}
	if _, err := resolve(ctx, links.ResolveItemLink, rec.Table, rec.RecordID, "itemId", w.ItemID); err != nil {
		return nil, err
	}

	row := store.StockLineRow{
		ID:               rec.RecordID,
		ItemLinkID:       w.ItemID,
		StoreID:          w.StoreID,
		LocationID:       w.LocationID,
		Batch:            w.Batch,
		ExpiryDate:       w.ExpiryDate,
		PackSize:         w.PackSize,
		TotalPacks:       w.TotalNumberOfPacks,
		CostPricePerPack: w.CostPricePerPack,
		SellPricePerPack: w.SellPricePerPack,
		OnHold:           w.OnHold,
	}
	return &DomainChange{
		Table:    rec.Table,
		RecordID: rec.RecordID,
		Action:   model.ActionUpsert,
		StoreID:  &row.StoreID,
		apply: func(ctx context.Context, tx *store.Tx) error {
			return tx.UpsertStockLine(ctx, row)
		},
	}, nil
}

func (stockLineTranslator) TryTranslatePush(ctx context.Context, rows RowSource, entry model.ChangelogEntry) (*model.WireRecord, error) {
	if entry.Table != model.TableStockLine {
		return nil, nil
	}
	if entry.Action == model.ActionDelete {
		return pushRecord(entry, nil)
	}

	sl, err := loadRow(ctx, entry, rows.GetStockLine)
	if err != nil {
		return nil, err
	}
	itemID, err := resolve(ctx, rows.ResolveItemLink, entry.Table, entry.RecordID, "itemId", sl.ItemLinkID)
	if err != nil {
		return nil, err
	}
	return pushRecord(entry, stockLineWire{
		ID:                 sl.ID,
		ItemID:             itemID,
		StoreID:            sl.StoreID,
		LocationID:         sl.LocationID,
		Batch:              sl.Batch,
		ExpiryDate:         sl.ExpiryDate,
		PackSize:           sl.PackSize,
		TotalNumberOfPacks: sl.TotalPacks,
		CostPricePerPack:   sl.CostPricePerPack,
		SellPricePerPack:   sl.SellPricePerPack,
		OnHold:             sl.OnHold,
	})
}
