package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/sitesync/internal/model"
)

// Row types for the syncable domain tables. Foreign keys to names and items
// always go through the link tables, so a merge only has to re-point links.

type UnitRow struct {
	ID          string
	Name        string
	Description *string
	Index       int64
	IsActive    bool
}

type NameRow struct {
	ID         string
	Code       string
	Name       string
	IsCustomer bool
	IsSupplier bool
}

type ItemRow struct {
	ID     string
	Code   string
	Name   string
	UnitID *string
	Type   string
}

type StoreRow struct {
	ID         string
	Code       string
	NameLinkID string
	SiteID     int64
}

type LocationRow struct {
	ID      string
	Code    string
	Name    string
	StoreID string
	OnHold  bool
}

type StockLineRow struct {
	ID               string
	ItemLinkID       string
	StoreID          string
	LocationID       *string
	Batch            *string
	ExpiryDate       *string
	PackSize         float64
	TotalPacks       float64
	CostPricePerPack float64
	SellPricePerPack float64
	OnHold           bool
}

type InvoiceRow struct {
	ID            string
	NameLinkID    string
	StoreID       string
	InvoiceNumber int64
	Type          string
	Status        string
	CreatedAt     string
	Comment       *string
}

type InvoiceLineRow struct {
	ID               string
	InvoiceID        string
	ItemLinkID       string
	StockLineID      *string
	NumberOfPacks    float64
	PackSize         float64
	CostPricePerPack float64
	SellPricePerPack float64
}

// scanOne runs a single-row query and maps sql.ErrNoRows to ErrNotFound.
func (r reader) scanOne(ctx context.Context, what, id, query string, dest ...any) error {
	err := r.q.QueryRowContext(ctx, query, id).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	if err != nil {
		return storageErr("get "+what, err)
	}
	return nil
}

func (r reader) GetUnit(ctx context.Context, id string) (*UnitRow, error) {
	var (
		u        UnitRow
		desc     sql.NullString
		isActive int
	)
	err := r.scanOne(ctx, "unit", id,
		`SELECT id, name, description, idx, is_active FROM unit WHERE id = ?`,
		&u.ID, &u.Name, &desc, &u.Index, &isActive)
	if err != nil {
		return nil, err
	}
	u.Description = nullString(desc)
	u.IsActive = isActive != 0
	return &u, nil
}

func (r reader) GetName(ctx context.Context, id string) (*NameRow, error) {
	var (
		n                      NameRow
		isCustomer, isSupplier int
	)
	err := r.scanOne(ctx, "name", id,
		`SELECT id, code, name, is_customer, is_supplier FROM name WHERE id = ?`,
		&n.ID, &n.Code, &n.Name, &isCustomer, &isSupplier)
	if err != nil {
		return nil, err
	}
	n.IsCustomer = isCustomer != 0
	n.IsSupplier = isSupplier != 0
	return &n, nil
}

func (r reader) GetItem(ctx context.Context, id string) (*ItemRow, error) {
	var (
		it     ItemRow
		unitID sql.NullString
	)
	err := r.scanOne(ctx, "item", id,
		`SELECT id, code, name, unit_id, item_type FROM item WHERE id = ?`,
		&it.ID, &it.Code, &it.Name, &unitID, &it.Type)
	if err != nil {
		return nil, err
	}
	it.UnitID = nullString(unitID)
	return &it, nil
}

func (r reader) GetStore(ctx context.Context, id string) (*StoreRow, error) {
	var s StoreRow
	err := r.scanOne(ctx, "store", id,
		`SELECT id, code, name_link_id, site_id FROM store WHERE id = ?`,
		&s.ID, &s.Code, &s.NameLinkID, &s.SiteID)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r reader) GetLocation(ctx context.Context, id string) (*LocationRow, error) {
	var (
		l      LocationRow
		onHold int
	)
	err := r.scanOne(ctx, "location", id,
		`SELECT id, code, name, store_id, on_hold FROM location WHERE id = ?`,
		&l.ID, &l.Code, &l.Name, &l.StoreID, &onHold)
	if err != nil {
		return nil, err
	}
	l.OnHold = onHold != 0
	return &l, nil
}

func (r reader) GetStockLine(ctx context.Context, id string) (*StockLineRow, error) {
	var (
		sl                        StockLineRow
		locationID, batch, expiry sql.NullString
		onHold                    int
	)
	err := r.scanOne(ctx, "stock line", id, `
		SELECT id, item_link_id, store_id, location_id, batch, expiry_date,
			pack_size, total_packs, cost_price_per_pack, sell_price_per_pack, on_hold
		FROM stock_line WHERE id = ?`,
		&sl.ID, &sl.ItemLinkID, &sl.StoreID, &locationID, &batch, &expiry,
		&sl.PackSize, &sl.TotalPacks, &sl.CostPricePerPack, &sl.SellPricePerPack, &onHold)
	if err != nil {
		return nil, err
	}
	sl.LocationID = nullString(locationID)
	sl.Batch = nullString(batch)
	sl.ExpiryDate = nullString(expiry)
	sl.OnHold = onHold != 0
	return &sl, nil
}

func (r reader) GetInvoice(ctx context.Context, id string) (*InvoiceRow, error) {
	var (
		inv     InvoiceRow
		comment sql.NullString
	)
	err := r.scanOne(ctx, "invoice", id, `
		SELECT id, name_link_id, store_id, invoice_number, invoice_type, status, created_at, comment
		FROM invoice WHERE id = ?`,
		&inv.ID, &inv.NameLinkID, &inv.StoreID, &inv.InvoiceNumber, &inv.Type, &inv.Status, &inv.CreatedAt, &comment)
	if err != nil {
		return nil, err
	}
	inv.Comment = nullString(comment)
	return &inv, nil
}

func (r reader) GetInvoiceLine(ctx context.Context, id string) (*InvoiceLineRow, error) {
	var (
		line        InvoiceLineRow
		stockLineID sql.NullString
	)
	err := r.scanOne(ctx, "invoice line", id, `
		SELECT id, invoice_id, item_link_id, stock_line_id,
			number_of_packs, pack_size, cost_price_per_pack, sell_price_per_pack
		FROM invoice_line WHERE id = ?`,
		&line.ID, &line.InvoiceID, &line.ItemLinkID, &stockLineID,
		&line.NumberOfPacks, &line.PackSize, &line.CostPricePerPack, &line.SellPricePerPack)
	if err != nil {
		return nil, err
	}
	line.StockLineID = nullString(stockLineID)
	return &line, nil
}

// ResolveItemLink maps an item id as known to any site (possibly a merged-away
// id) to the canonical item id.
func (r reader) ResolveItemLink(ctx context.Context, linkID string) (string, error) {
	var itemID string
	if err := r.scanOne(ctx, "item link", linkID,
		`SELECT item_id FROM item_link WHERE id = ?`, &itemID); err != nil {
		return "", err
	}
	return itemID, nil
}

// ResolveNameLink maps a name id as known to any site to the canonical name id.
func (r reader) ResolveNameLink(ctx context.Context, linkID string) (string, error) {
	var nameID string
	if err := r.scanOne(ctx, "name link", linkID,
		`SELECT name_id FROM name_link WHERE id = ?`, &nameID); err != nil {
		return "", err
	}
	return nameID, nil
}

// deletableTables maps each table that supports row deletion to its SQL name.
var deletableTables = map[model.Table]string{
	model.TableUnit:        "unit",
	model.TableLocation:    "location",
	model.TableStockLine:   "stock_line",
	model.TableInvoice:     "invoice",
	model.TableInvoiceLine: "invoice_line",
}

// RowExists reports whether a row with the given id exists in table.
func (r reader) RowExists(ctx context.Context, table model.Table, id string) (bool, error) {
	if !table.Valid() || table.PullOnly() {
		return false, fmt.Errorf("row exists: table %q has no rows", table)
	}
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+string(table)+` WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, storageErr("row exists", err)
	}
	return n > 0, nil
}

func (t *Tx) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return storageErr(op, err)
	}
	return nil
}

func (t *Tx) UpsertUnit(ctx context.Context, u UnitRow) error {
	return t.exec(ctx, "upsert unit", `
		INSERT INTO unit (id, name, description, idx, is_active) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, description = excluded.description,
			idx = excluded.idx, is_active = excluded.is_active
	`, u.ID, u.Name, u.Description, u.Index, boolInt(u.IsActive))
}

// UpsertName writes the name row and makes sure it can be reached through
// its own link. An existing link (for example one re-pointed by a merge) is
// left alone.
func (t *Tx) UpsertName(ctx context.Context, n NameRow) error {
	if err := t.exec(ctx, "upsert name", `
		INSERT INTO name (id, code, name, is_customer, is_supplier) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			code = excluded.code, name = excluded.name,
			is_customer = excluded.is_customer, is_supplier = excluded.is_supplier
	`, n.ID, n.Code, n.Name, boolInt(n.IsCustomer), boolInt(n.IsSupplier)); err != nil {
		return err
	}
	return t.exec(ctx, "ensure name link",
		`INSERT INTO name_link (id, name_id) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`, n.ID, n.ID)
}

// UpsertItem writes the item row and makes sure it can be reached through
// its own link.
func (t *Tx) UpsertItem(ctx context.Context, it ItemRow) error {
	if err := t.exec(ctx, "upsert item", `
		INSERT INTO item (id, code, name, unit_id, item_type) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			code = excluded.code, name = excluded.name,
			unit_id = excluded.unit_id, item_type = excluded.item_type
	`, it.ID, it.Code, it.Name, it.UnitID, it.Type); err != nil {
		return err
	}
	return t.exec(ctx, "ensure item link",
		`INSERT INTO item_link (id, item_id) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`, it.ID, it.ID)
}

func (t *Tx) UpsertStore(ctx context.Context, s StoreRow) error {
	return t.exec(ctx, "upsert store", `
		INSERT INTO store (id, code, name_link_id, site_id) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			code = excluded.code, name_link_id = excluded.name_link_id, site_id = excluded.site_id
	`, s.ID, s.Code, s.NameLinkID, s.SiteID)
}

func (t *Tx) UpsertLocation(ctx context.Context, l LocationRow) error {
	return t.exec(ctx, "upsert location", `
		INSERT INTO location (id, code, name, store_id, on_hold) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			code = excluded.code, name = excluded.name,
			store_id = excluded.store_id, on_hold = excluded.on_hold
	`, l.ID, l.Code, l.Name, l.StoreID, boolInt(l.OnHold))
}

func (t *Tx) UpsertStockLine(ctx context.Context, sl StockLineRow) error {
	return t.exec(ctx, "upsert stock line", `
		INSERT INTO stock_line (id, item_link_id, store_id, location_id, batch, expiry_date,
			pack_size, total_packs, cost_price_per_pack, sell_price_per_pack, on_hold)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			item_link_id = excluded.item_link_id, store_id = excluded.store_id,
			location_id = excluded.location_id, batch = excluded.batch,
			expiry_date = excluded.expiry_date, pack_size = excluded.pack_size,
			total_packs = excluded.total_packs, cost_price_per_pack = excluded.cost_price_per_pack,
			sell_price_per_pack = excluded.sell_price_per_pack, on_hold = excluded.on_hold
	`, sl.ID, sl.ItemLinkID, sl.StoreID, sl.LocationID, sl.Batch, sl.ExpiryDate,
		sl.PackSize, sl.TotalPacks, sl.CostPricePerPack, sl.SellPricePerPack, boolInt(sl.OnHold))
}

func (t *Tx) UpsertInvoice(ctx context.Context, inv InvoiceRow) error {
	return t.exec(ctx, "upsert invoice", `
		INSERT INTO invoice (id, name_link_id, store_id, invoice_number, invoice_type, status, created_at, comment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name_link_id = excluded.name_link_id, store_id = excluded.store_id,
			invoice_number = excluded.invoice_number, invoice_type = excluded.invoice_type,
			status = excluded.status, created_at = excluded.created_at, comment = excluded.comment
	`, inv.ID, inv.NameLinkID, inv.StoreID, inv.InvoiceNumber, inv.Type, inv.Status, inv.CreatedAt, inv.Comment)
}

func (t *Tx) UpsertInvoiceLine(ctx context.Context, line InvoiceLineRow) error {
	return t.exec(ctx, "upsert invoice line", `
		INSERT INTO invoice_line (id, invoice_id, item_link_id, stock_line_id,
			number_of_packs, pack_size, cost_price_per_pack, sell_price_per_pack)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			invoice_id = excluded.invoice_id, item_link_id = excluded.item_link_id,
			stock_line_id = excluded.stock_line_id, number_of_packs = excluded.number_of_packs,
			pack_size = excluded.pack_size, cost_price_per_pack = excluded.cost_price_per_pack,
			sell_price_per_pack = excluded.sell_price_per_pack
	`, line.ID, line.InvoiceID, line.ItemLinkID, line.StockLineID,
		line.NumberOfPacks, line.PackSize, line.CostPricePerPack, line.SellPricePerPack)
}

// DeleteRow removes a row. Deleting a row that does not exist is not an
// error, so replays of the same delete converge.
func (t *Tx) DeleteRow(ctx context.Context, table model.Table, id string) error {
	name, ok := deletableTables[table]
	if !ok {
		return fmt.Errorf("delete row: table %q does not support deletes", table)
	}
	return t.exec(ctx, "delete "+name, `DELETE FROM `+name+` WHERE id = ?`, id)
}

// MergeItems folds deleteID into keepID: every link that pointed at the
// deleted item now points at the kept one, the deleted id itself becomes a
// link to the kept item, and the deleted item row is removed.
// Applying the same merge twice is a no-op.
func (t *Tx) MergeItems(ctx context.Context, keepID, deleteID string) error {
	if keepID == deleteID {
		return nil
	}
	if _, err := t.GetItem(ctx, keepID); err != nil {
		return fmt.Errorf("merge items: kept item: %w", err)
	}
	if err := t.exec(ctx, "merge items",
		`UPDATE item_link SET item_id = ? WHERE item_id = ?`, keepID, deleteID); err != nil {
		return err
	}
	if err := t.exec(ctx, "merge items", `
		INSERT INTO item_link (id, item_id) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET item_id = excluded.item_id
	`, deleteID, keepID); err != nil {
		return err
	}
	return t.exec(ctx, "merge items", `DELETE FROM item WHERE id = ?`, deleteID)
}

// MergeNames folds deleteID into keepID the same way MergeItems does.
func (t *Tx) MergeNames(ctx context.Context, keepID, deleteID string) error {
	if keepID == deleteID {
		return nil
	}
	if _, err := t.GetName(ctx, keepID); err != nil {
		return fmt.Errorf("merge names: kept name: %w", err)
	}
	if err := t.exec(ctx, "merge names",
		`UPDATE name_link SET name_id = ? WHERE name_id = ?`, keepID, deleteID); err != nil {
		return err
	}
	if err := t.exec(ctx, "merge names", `
		INSERT INTO name_link (id, name_id) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name_id = excluded.name_id
	`, deleteID, keepID); err != nil {
		return err
	}
	return t.exec(ctx, "merge names", `DELETE FROM name WHERE id = ?`, deleteID)
}
