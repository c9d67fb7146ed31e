package translate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/store"
)

func TestPull_UnitUpsertIsIdempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	r := rec(model.TableUnit, "u1", `{"id":"u1","name":"Tablet","index":2,"isActive":true}`)

	require.NoError(t, pull(t, s, r))
	first, err := s.GetUnit(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, pull(t, s, r))
	second, err := s.GetUnit(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "Tablet", second.Name)
	assert.Equal(t, int64(2), second.Index)
}

func TestPull_MalformedPayloads(t *testing.T) {
	s := openStore(t)

	cases := map[string]model.WireRecord{
		"wrong type":     rec(model.TableUnit, "u1", `{"name":5}`),
		"not an object":  rec(model.TableUnit, "u1", `"Tablet"`),
		"empty":          rec(model.TableUnit, "u1", ``),
		"null":           rec(model.TableUnit, "u1", `null`),
		"missing name":   rec(model.TableUnit, "u1", `{"index":1}`),
		"id mismatch":    rec(model.TableUnit, "u1", `{"id":"u2","name":"Tab"}`),
		"merge no keep":  rec(model.TableItemMerge, "m1", `{"deleteId":"i2"}`),
		"line no itemId": rec(model.TableInvoiceLine, "l1", `{"invoiceId":"inv1"}`),
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			err := pull(t, s, r)
			assert.True(t, HasCode(err, ErrCodeMalformedPayload), "got %v", err)
		})
	}
}

func TestPull_UnresolvedItemReference(t *testing.T) {
	s := openStore(t)
	seedReference(t, s)

	err := pull(t, s, rec(model.TableStockLine, "sl1",
		`{"id":"sl1","itemId":"not-yet-pulled","storeId":"s1","packSize":1,"totalNumberOfPacks":1}`))
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeUnresolvedReference), "got %v", err)
	assert.Contains(t, err.Error(), "not-yet-pulled")

	exists, err := s.RowExists(context.Background(), model.TableStockLine, "sl1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPull_MergedItemIDResolvesThroughLink(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	seedReference(t, s)

	// i2 was merged into i1; a stock line still referencing i2 integrates.
	require.NoError(t, pull(t, s, rec(model.TableStockLine, "sl1",
		`{"id":"sl1","itemId":"i2","storeId":"s1","packSize":10,"totalNumberOfPacks":3}`)))

	sl, err := s.GetStockLine(ctx, "sl1")
	require.NoError(t, err)
	assert.Equal(t, "i2", sl.ItemLinkID)

	canonical, err := s.ResolveItemLink(ctx, sl.ItemLinkID)
	require.NoError(t, err)
	assert.Equal(t, "i1", canonical)
}

func TestPull_UpsertOfMergedItemWritesKeptRow(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	seedReference(t, s)

	require.NoError(t, pull(t, s, rec(model.TableItem, "i2", `{"id":"i2","code":"AMX-2","name":"Amoxicillin 250mg"}`)))

	_, err := s.GetItem(ctx, "i2")
	assert.ErrorIs(t, err, store.ErrNotFound)

	kept, err := s.GetItem(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, "AMX-2", kept.Code)
	assert.Equal(t, "Amoxicillin 250mg", kept.Name)

	canonical, err := s.ResolveItemLink(ctx, "i2")
	require.NoError(t, err)
	assert.Equal(t, "i1", canonical)
}

func TestPull_UpsertOfMergedNameWritesKeptRow(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, pull(t, s, rec(model.TableName, "n1", `{"id":"n1","code":"N1","name":"Clinic"}`)))
	require.NoError(t, pull(t, s, rec(model.TableName, "n2", `{"id":"n2","code":"N2","name":"Clinic (dup)"}`)))
	require.NoError(t, pull(t, s, rec(model.TableNameMerge, "m1", `{"keepId":"n1","deleteId":"n2"}`)))

	err := s.InTx(ctx, func(tx *store.Tx) error {
		change, err := DefaultRegistry().TranslatePull(ctx, tx, rec(model.TableName, "n2", `{"id":"n2","code":"N2","name":"Clinic North"}`))
		require.NoError(t, err)
		assert.Equal(t, "n1", change.RecordID)
		return change.Apply(ctx, tx)
	})
	require.NoError(t, err)

	_, err = s.GetName(ctx, "n2")
	assert.ErrorIs(t, err, store.ErrNotFound)

	kept, err := s.GetName(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "Clinic North", kept.Name)
}

func TestPull_NewItemGetsSelfLink(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, pull(t, s, rec(model.TableItem, "i7", `{"id":"i7","code":"PCM","name":"Paracetamol"}`)))

	canonical, err := s.ResolveItemLink(ctx, "i7")
	require.NoError(t, err)
	assert.Equal(t, "i7", canonical)
}

func TestPull_MergeBeforeKeptRowIsUnresolved(t *testing.T) {
	s := openStore(t)

	err := pull(t, s, rec(model.TableNameMerge, "m1", `{"keepId":"n9","deleteId":"n8"}`))
	assert.True(t, HasCode(err, ErrCodeUnresolvedReference), "got %v", err)
}

func TestPull_Delete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, pull(t, s, rec(model.TableUnit, "u1", `{"name":"Tab"}`)))
	del := model.WireRecord{Table: model.TableUnit, RecordID: "u1", Action: model.ActionDelete}
	require.NoError(t, pull(t, s, del))
	require.NoError(t, pull(t, s, del))

	exists, err := s.RowExists(ctx, model.TableUnit, "u1")
	require.NoError(t, err)
	assert.False(t, exists)

	err = pull(t, s, model.WireRecord{Table: model.TableItem, RecordID: "i1", Action: model.ActionDelete})
	assert.True(t, HasCode(err, ErrCodeUnsupportedAction), "got %v", err)
}

func TestPull_ChangeCarriesStoreScope(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	seedReference(t, s)

	err := s.InTx(ctx, func(tx *store.Tx) error {
		change, err := DefaultRegistry().TranslatePull(ctx, tx, rec(model.TableLocation, "loc1",
			`{"id":"loc1","code":"L1","name":"Shelf","storeId":"s1"}`))
		require.NoError(t, err)
		require.NotNil(t, change.StoreID)
		assert.Equal(t, "s1", *change.StoreID)

		origin := int64(4)
		m := change.EchoMutation(&origin)
		assert.True(t, m.IsEcho)
		assert.Equal(t, model.TableLocation, m.Table)
		assert.Equal(t, &origin, m.OriginSiteID)
		return nil
	})
	require.NoError(t, err)
}
