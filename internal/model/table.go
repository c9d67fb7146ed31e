package model

import "fmt"

// Table identifies a syncable table. The set is closed: every value
// appears exactly once in IntegrationOrder.
type Table string

const (
	TableUnit        Table = "unit"
	TableName        Table = "name"
	TableNameMerge   Table = "name_merge"
	TableItem        Table = "item"
	TableItemMerge   Table = "item_merge"
	TableStore       Table = "store"
	TableLocation    Table = "location"
	TableStockLine   Table = "stock_line"
	TableInvoice     Table = "invoice"
	TableInvoiceLine Table = "invoice_line"
)

// IntegrationOrder is the fixed cross-table dependency order used when
// integrating buffered records: reference and master tables first,
// transactional tables last.
var IntegrationOrder = []Table{
	TableUnit,
	TableName,
	TableNameMerge,
	TableItem,
	TableItemMerge,
	TableStore,
	TableLocation,
	TableStockLine,
	TableInvoice,
	TableInvoiceLine,
}

var tableRank = func() map[Table]int {
	m := make(map[Table]int, len(IntegrationOrder))
	for i, t := range IntegrationOrder {
		m[t] = i
	}
	return m
}()

// Valid reports whether t is a known syncable table.
func (t Table) Valid() bool {
	_, ok := tableRank[t]
	return ok
}

// Rank returns the position of t in IntegrationOrder, or -1 if unknown.
func (t Table) Rank() int {
	if r, ok := tableRank[t]; ok {
		return r
	}
	return -1
}

// PullOnly reports whether records for t are only ever received from
// central and never produced by local mutations.
func (t Table) PullOnly() bool {
	return t == TableNameMerge || t == TableItemMerge
}

// ParseTable validates s as a syncable table name.
func ParseTable(s string) (Table, error) {
	t := Table(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown table %q", s)
	}
	return t, nil
}
