package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/store"
	"github.com/roach88/sitesync/internal/testutil"
	"github.com/roach88/sitesync/internal/transport"
)

type fixture struct {
	store   *store.Store
	central *testutil.FakeCentral
	sync    *Synchroniser
	clock   *testutil.FakeClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := testutil.NewFakeClock(testutil.Epoch)
	s, err := store.Open(filepath.Join(t.TempDir(), "site.db"), store.WithNow(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	fc := testutil.NewFakeCentral(t)
	opts = append([]Option{
		WithNow(clock.Now),
		WithIDGenerator(testutil.NewSequentialIDs("log")),
	}, opts...)

	return &fixture{
		store:   s,
		central: fc,
		sync:    New(s, newClient(t, fc, fc.Password), opts...),
		clock:   clock,
	}
}

func newClient(t *testing.T, fc *testutil.FakeCentral, password string) *transport.Client {
	t.Helper()
	c, err := transport.NewClient(transport.Config{
		BaseURL:     fc.URL(),
		Credentials: transport.Credentials{Username: fc.Username, Password: password},
		Timeout:     2 * time.Second,
		Retry:       transport.NoRetry(),
	})
	require.NoError(t, err)
	return c
}

// writeUnit makes a local change the way business logic does: the domain
// write and its changelog entry in one transaction.
func (f *fixture) writeUnit(t *testing.T, id, name string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.WriteLocal(ctx, model.Mutation{
		Table:    model.TableUnit,
		RecordID: id,
		Action:   model.ActionUpsert,
	}, func(tx *store.Tx) error {
		return tx.UpsertUnit(ctx, store.UnitRow{ID: id, Name: name, IsActive: true})
	})
	require.NoError(t, err)
}

// enqueueReference queues a name, store, item and stock line with the
// stock line first.
func (f *fixture) enqueueReference() {
	f.central.Enqueue(model.TableStockLine, "sl1", "", `{"id":"sl1","itemId":"i1","storeId":"s1","packSize":10,"totalNumberOfPacks":4}`)
	f.central.Enqueue(model.TableStore, "s1", "", `{"id":"s1","code":"S1","nameId":"n1","siteId":1}`)
	f.central.Enqueue(model.TableItem, "i1", "", `{"id":"i1","code":"AMX","name":"Amoxicillin"}`)
	f.central.Enqueue(model.TableName, "n1", "", `{"id":"n1","code":"N1","name":"Clinic"}`)
}

func (f *fixture) cursor(t *testing.T, dir model.Direction) int64 {
	t.Helper()
	v, err := f.store.GetCursor(context.Background(), f.central.SiteID, dir)
	require.NoError(t, err)
	return v
}

func (f *fixture) state(t *testing.T) model.SyncState {
	t.Helper()
	st, err := f.store.SyncState(context.Background())
	require.NoError(t, err)
	return st
}

func unitName(t *testing.T, rec model.WireRecord) string {
	t.Helper()
	var w struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(rec.Data, &w))
	return w.Name
}
