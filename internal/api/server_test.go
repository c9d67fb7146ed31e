package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sitesync/internal/engine"
	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/scheduler"
	"github.com/roach88/sitesync/internal/store"
	"github.com/roach88/sitesync/internal/testutil"
)

type fakeTrigger struct {
	result scheduler.TriggerResult
	busy   bool
	calls  int
}

func (f *fakeTrigger) RequestSync() scheduler.TriggerResult {
	f.calls++
	return f.result
}

func (f *fakeTrigger) Busy() bool { return f.busy }

type fakeStatus struct {
	status  engine.Status
	blocked error
}

func (f *fakeStatus) Status() engine.Status { return f.status }
func (f *fakeStatus) Blocked() error        { return f.blocked }

func openStore(t *testing.T) *store.Store {
	t.Helper()
	clock := testutil.NewFakeClock(testutil.Epoch)
	s, err := store.Open(filepath.Join(t.TempDir(), "site.db"), store.WithNow(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func do(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestTrigger_StatusCodes(t *testing.T) {
	tests := []struct {
		result scheduler.TriggerResult
		want   int
	}{
		{scheduler.TriggerResult{Kind: scheduler.Accepted}, http.StatusAccepted},
		{scheduler.TriggerResult{Kind: scheduler.AlreadyInProgress}, http.StatusConflict},
		{scheduler.TriggerResult{Kind: scheduler.Rejected, Reason: "NOT_CONFIGURED"}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.result.Kind), func(t *testing.T) {
			trig := &fakeTrigger{result: tt.result}
			srv := New(trig, &fakeStatus{}, openStore(t), nil)

			rec := do(t, srv, http.MethodPost, "/sync/trigger")
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, 1, trig.calls)

			var body scheduler.TriggerResult
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.result, body)
		})
	}
}

func TestTrigger_RequiresPost(t *testing.T) {
	srv := New(&fakeTrigger{}, &fakeStatus{}, openStore(t), nil)
	rec := do(t, srv, http.MethodGet, "/sync/trigger")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatus_FreshSite(t *testing.T) {
	st := &fakeStatus{
		status:  engine.Status{Phase: engine.PhaseIdle, Since: testutil.Epoch},
		blocked: errors.New("NOT_CONFIGURED: no central configured"),
	}
	srv := New(&fakeTrigger{}, st, openStore(t), nil)

	rec := do(t, srv, http.MethodGet, "/sync/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, engine.PhaseIdle, body.Engine.Phase)
	assert.Equal(t, model.StatePreInitialisation, body.SyncState)
	assert.Nil(t, body.SiteID)
	assert.Nil(t, body.LatestLog)
	assert.Contains(t, body.BlockedReason, "NOT_CONFIGURED")
}

func TestStatus_ReportsBufferLogsAndPendingPush(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.SetSiteID(ctx, 4))
	_, err := s.StageRecords(ctx, []model.WireRecord{
		{Cursor: 1, Table: model.TableUnit, RecordID: "u1", Action: model.ActionUpsert, Data: json.RawMessage(`{"id":"u1"}`)},
		{Cursor: 2, Table: model.TableUnit, RecordID: "u2", Action: model.ActionUpsert, Data: json.RawMessage(`{"id":"u2"}`)},
	})
	require.NoError(t, err)
	for _, id := range []string{"u9", "u9", "u8"} {
		_, err := s.AppendChangelog(ctx, model.Mutation{Table: model.TableUnit, RecordID: id, Action: model.ActionUpsert})
		require.NoError(t, err)
	}

	finished := testutil.Epoch.Add(time.Minute)
	require.NoError(t, s.UpsertSyncLog(ctx, model.SyncLog{ID: "log-001", StartedAt: testutil.Epoch, FinishedAt: &finished}))

	srv := New(&fakeTrigger{busy: true}, &fakeStatus{}, s, nil)
	rec := do(t, srv, http.MethodGet, "/sync/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.SiteID)
	assert.Equal(t, int64(4), *body.SiteID)
	assert.True(t, body.Busy)
	assert.Equal(t, int64(2), body.Buffer.Pending)
	assert.Equal(t, int64(2), body.PendingPush, "u9 deduplicated")
	require.NotNil(t, body.LatestLog)
	assert.Equal(t, "log-001", body.LatestLog.ID)
	require.NotNil(t, body.LastSuccessLog)
	assert.Equal(t, "log-001", body.LastSuccessLog.ID)
}

func TestLogs_Limit(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	for i, id := range []string{"log-001", "log-002", "log-003"} {
		require.NoError(t, s.UpsertSyncLog(ctx, model.SyncLog{
			ID:        id,
			StartedAt: testutil.Epoch.Add(time.Duration(i) * time.Minute),
		}))
	}
	srv := New(&fakeTrigger{}, &fakeStatus{}, s, nil)

	rec := do(t, srv, http.MethodGet, "/sync/logs?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var logs []model.SyncLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 2)
	assert.Equal(t, "log-003", logs[0].ID)
	assert.Equal(t, "log-002", logs[1].ID)
}

func TestLogs_EmptyIsArray(t *testing.T) {
	srv := New(&fakeTrigger{}, &fakeStatus{}, openStore(t), nil)
	rec := do(t, srv, http.MethodGet, "/sync/logs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestLogs_BadLimit(t *testing.T) {
	srv := New(&fakeTrigger{}, &fakeStatus{}, openStore(t), nil)
	for _, q := range []string{"limit=abc", "limit=0", "limit=-3"} {
		rec := do(t, srv, http.MethodGet, "/sync/logs?"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestBuffer_Filters(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	_, err := s.StageRecords(ctx, []model.WireRecord{
		{Cursor: 1, Table: model.TableUnit, RecordID: "u1", Action: model.ActionUpsert, Data: json.RawMessage(`{}`)},
		{Cursor: 2, Table: model.TableItem, RecordID: "i1", Action: model.ActionUpsert, Data: json.RawMessage(`{}`)},
	})
	require.NoError(t, err)
	srv := New(&fakeTrigger{}, &fakeStatus{}, s, nil)

	rec := do(t, srv, http.MethodGet, "/sync/buffer?table=item")
	require.Equal(t, http.StatusOK, rec.Code)
	var recs []model.SyncBufferRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "i1", recs[0].RecordID)

	rec = do(t, srv, http.MethodGet, "/sync/buffer?table=widgets")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	srv := New(&fakeTrigger{}, &fakeStatus{}, openStore(t), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
