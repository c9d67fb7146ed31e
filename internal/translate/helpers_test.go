package translate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// pull translates rec through the default registry and applies it.
func pull(t *testing.T, s *store.Store, rec model.WireRecord) error {
	t.Helper()
	ctx := context.Background()
	reg := DefaultRegistry()
	return s.InTx(ctx, func(tx *store.Tx) error {
		change, err := reg.TranslatePull(ctx, tx, rec)
		if err != nil {
			return err
		}
		return change.Apply(ctx, tx)
	})
}

func rec(table model.Table, id, data string) model.WireRecord {
	return model.WireRecord{Table: table, RecordID: id, Data: []byte(data)}
}

// seedReference creates name n1, store s1 and items i1/i2 with i2 merged
// into i1.
func seedReference(t *testing.T, s *store.Store) {
	t.Helper()
	require.NoError(t, pull(t, s, rec(model.TableName, "n1", `{"id":"n1","code":"N1","name":"Clinic"}`)))
	require.NoError(t, pull(t, s, rec(model.TableStore, "s1", `{"id":"s1","code":"S1","nameId":"n1","siteId":4}`)))
	require.NoError(t, pull(t, s, rec(model.TableItem, "i1", `{"id":"i1","code":"AMX","name":"Amoxicillin"}`)))
	require.NoError(t, pull(t, s, rec(model.TableItem, "i2", `{"id":"i2","code":"AMX-OLD","name":"Amoxicillin (old)"}`)))
	require.NoError(t, pull(t, s, rec(model.TableItemMerge, "m1", `{"keepId":"i1","deleteId":"i2"}`)))
}
