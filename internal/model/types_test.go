package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegrationOrder_ReferenceBeforeTransactional(t *testing.T) {
	assert.Less(t, TableUnit.Rank(), TableItem.Rank())
	assert.Less(t, TableName.Rank(), TableNameMerge.Rank())
	assert.Less(t, TableItem.Rank(), TableItemMerge.Rank())
	assert.Less(t, TableStore.Rank(), TableLocation.Rank())
	assert.Less(t, TableLocation.Rank(), TableStockLine.Rank())
	assert.Less(t, TableInvoice.Rank(), TableInvoiceLine.Rank())
}

func TestIntegrationOrder_NoDuplicates(t *testing.T) {
	seen := make(map[Table]bool)
	for _, tbl := range IntegrationOrder {
		assert.False(t, seen[tbl], "duplicate table %s", tbl)
		seen[tbl] = true
	}
}

func TestParseTable(t *testing.T) {
	tbl, err := ParseTable("stock_line")
	require.NoError(t, err)
	assert.Equal(t, TableStockLine, tbl)

	_, err = ParseTable("requisition")
	assert.Error(t, err)
	assert.Equal(t, -1, Table("requisition").Rank())
}

func TestParseRowAction(t *testing.T) {
	a, err := ParseRowAction("")
	require.NoError(t, err)
	assert.Equal(t, ActionUpsert, a)

	a, err = ParseRowAction("delete")
	require.NoError(t, err)
	assert.Equal(t, ActionDelete, a)

	_, err = ParseRowAction("merge")
	assert.Error(t, err)
}

func TestSyncState_Before(t *testing.T) {
	assert.True(t, StatePreInitialisation.Before(StateInitialising))
	assert.True(t, StateInitialising.Before(StateInitialised))
	assert.False(t, StateInitialised.Before(StateInitialising))
	assert.False(t, StateInitialised.Before(StateInitialised))
	assert.False(t, SyncState("Bogus").Valid())
}

func TestPullOnly(t *testing.T) {
	assert.True(t, TableNameMerge.PullOnly())
	assert.True(t, TableItemMerge.PullOnly())
	assert.False(t, TableItem.PullOnly())
}
