package store

import (
	"context"
	"errors"
	"testing"

	"github.com/roach88/sitesync/internal/model"
)

func TestStageRecords_IdempotentOnCursor(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	batch := []model.WireRecord{
		wire(1, model.TableUnit, "u1", `{"name":"Tab"}`),
		wire(2, model.TableItem, "i1", `{"code":"A"}`),
	}
	n, err := s.StageRecords(ctx, batch)
	if err != nil {
		t.Fatalf("StageRecords() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("staged %d, want 2", n)
	}

	n, err = s.StageRecords(ctx, batch)
	if err != nil {
		t.Fatalf("second StageRecords() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("re-staging staged %d, want 0", n)
	}

	rec, err := s.GetBufferRecord(ctx, 1)
	if err != nil {
		t.Fatalf("GetBufferRecord() failed: %v", err)
	}
	if !rec.Pending() || rec.Action != model.ActionUpsert || rec.PayloadHash == "" {
		t.Errorf("staged record = %+v", rec)
	}
	if !rec.ReceivedAt.Equal(testEpoch) {
		t.Errorf("received_at = %v, want %v", rec.ReceivedAt, testEpoch)
	}
}

func TestStageRecords_KeepsUnknownTables(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.StageRecords(ctx, []model.WireRecord{wire(5, "requisition", "r1", `{}`)}); err != nil {
		t.Fatalf("StageRecords() failed: %v", err)
	}
	pending, err := s.PendingBuffer(ctx, 10)
	if err != nil {
		t.Fatalf("PendingBuffer() failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Table != "requisition" {
		t.Errorf("pending = %+v", pending)
	}
}

func TestPendingBuffer_IntegrationOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Arrival order deliberately puts transactional rows first.
	_, err := s.StageRecords(ctx, []model.WireRecord{
		wire(1, model.TableInvoiceLine, "l1", `{}`),
		wire(2, model.TableInvoice, "inv1", `{}`),
		wire(3, model.TableItem, "i2", `{}`),
		wire(4, model.TableUnit, "u1", `{}`),
		wire(5, model.TableItem, "i1", `{}`),
	})
	if err != nil {
		t.Fatalf("StageRecords() failed: %v", err)
	}

	pending, err := s.PendingBuffer(ctx, 10)
	if err != nil {
		t.Fatalf("PendingBuffer() failed: %v", err)
	}

	var got []int64
	for _, rec := range pending {
		got = append(got, rec.Cursor)
	}
	want := []int64{4, 3, 5, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("pending cursors = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pending cursors = %v, want %v", got, want)
		}
	}
}

func TestMarkIntegrationError_ThenIntegrated(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.StageRecords(ctx, []model.WireRecord{wire(1, model.TableUnit, "u1", `{}`)}); err != nil {
		t.Fatalf("StageRecords() failed: %v", err)
	}
	rec, _ := s.GetBufferRecord(ctx, 1)

	if err := s.MarkIntegrationError(ctx, rec.ID, errors.New("missing name")); err != nil {
		t.Fatalf("MarkIntegrationError() failed: %v", err)
	}
	rec, _ = s.GetBufferRecord(ctx, 1)
	if !rec.Pending() || rec.IntegrationError == nil || *rec.IntegrationError != "missing name" || rec.Attempts != 1 {
		t.Errorf("after error record = %+v", rec)
	}

	stats, err := s.BufferStats(ctx)
	if err != nil {
		t.Fatalf("BufferStats() failed: %v", err)
	}
	if stats != (BufferStats{Total: 1, Pending: 1, Errored: 1, Integrated: 0}) {
		t.Errorf("stats = %+v", stats)
	}

	err = s.InTx(ctx, func(tx *Tx) error { return tx.MarkIntegrated(ctx, rec.ID) })
	if err != nil {
		t.Fatalf("MarkIntegrated() failed: %v", err)
	}
	rec, _ = s.GetBufferRecord(ctx, 1)
	if rec.Pending() || rec.IntegrationError != nil || rec.Attempts != 2 {
		t.Errorf("after integration record = %+v", rec)
	}

	maxCursor, err := s.MaxIntegratedCursor(ctx)
	if err != nil {
		t.Fatalf("MaxIntegratedCursor() failed: %v", err)
	}
	if maxCursor != 1 {
		t.Errorf("MaxIntegratedCursor() = %d, want 1", maxCursor)
	}
}

func TestMarkIntegrated_UnknownID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx *Tx) error { return tx.MarkIntegrated(ctx, "nope") })
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkIntegrated() error = %v, want ErrNotFound", err)
	}
}

func TestSupersedePending(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.StageRecords(ctx, []model.WireRecord{
		wire(1, model.TableItem, "i1", `{"v":1}`),
		wire(2, model.TableItem, "i2", `{"v":1}`),
		wire(3, model.TableItem, "i1", `{"v":2}`),
	})
	if err != nil {
		t.Fatalf("StageRecords() failed: %v", err)
	}

	var n int
	err = s.InTx(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.SupersedePending(ctx, model.TableItem, "i1", 3)
		return err
	})
	if err != nil {
		t.Fatalf("SupersedePending() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("superseded %d rows, want 1", n)
	}

	pending, _ := s.PendingBuffer(ctx, 10)
	if len(pending) != 2 || pending[0].Cursor != 2 || pending[1].Cursor != 3 {
		t.Errorf("pending after supersede = %+v", pending)
	}
}

func TestListBuffer_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, _ = s.StageRecords(ctx, []model.WireRecord{
		wire(1, model.TableUnit, "u1", `{}`),
		wire(2, model.TableItem, "i1", `{}`),
		wire(3, model.TableItem, "i2", `{}`),
	})
	rec, _ := s.GetBufferRecord(ctx, 3)
	_ = s.MarkIntegrationError(ctx, rec.ID, errors.New("bad"))

	all, err := s.ListBuffer(ctx, BufferFilter{})
	if err != nil {
		t.Fatalf("ListBuffer() failed: %v", err)
	}
	if len(all) != 3 || all[0].Cursor != 3 {
		t.Errorf("ListBuffer() = %+v, want 3 rows newest first", all)
	}

	items, _ := s.ListBuffer(ctx, BufferFilter{Table: model.TableItem})
	if len(items) != 2 {
		t.Errorf("item rows = %d, want 2", len(items))
	}

	errored, _ := s.ListBuffer(ctx, BufferFilter{ErrorsOnly: true})
	if len(errored) != 1 || errored[0].Cursor != 3 {
		t.Errorf("errored rows = %+v", errored)
	}
}

func TestPendingBufferAfter_PagesInIntegrationOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.StageRecords(ctx, []model.WireRecord{
		wire(1, model.TableInvoice, "inv1", `{}`),
		wire(2, "requisition", "r1", `{}`),
		wire(3, model.TableUnit, "u1", `{}`),
		wire(4, model.TableUnit, "u2", `{}`),
	})
	if err != nil {
		t.Fatalf("StageRecords() failed: %v", err)
	}

	var got []string
	pos := PendingPosition{Rank: -1}
	for {
		page, err := s.PendingBufferAfter(ctx, pos, 1)
		if err != nil {
			t.Fatalf("PendingBufferAfter() failed: %v", err)
		}
		if len(page) == 0 {
			break
		}
		got = append(got, page[0].RecordID)
		pos = PositionOf(page[0])
	}

	want := []string{"u1", "u2", "inv1", "r1"}
	if len(got) != len(want) {
		t.Fatalf("paged %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("page %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestStageRecords_CursorsScopedToSite(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.SetSiteID(ctx, 1); err != nil {
		t.Fatalf("SetSiteID() failed: %v", err)
	}
	if _, err := s.StageRecords(ctx, []model.WireRecord{wire(1, model.TableUnit, "u1", `{}`)}); err != nil {
		t.Fatalf("StageRecords() failed: %v", err)
	}

	if err := s.SetSiteID(ctx, 2); err != nil {
		t.Fatalf("SetSiteID() failed: %v", err)
	}
	n, err := s.StageRecords(ctx, []model.WireRecord{wire(1, model.TableUnit, "u2", `{}`)})
	if err != nil {
		t.Fatalf("StageRecords() failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("staged %d from site 2, want 1", n)
	}

	rec, err := s.GetBufferRecord(ctx, 1)
	if err != nil {
		t.Fatalf("GetBufferRecord() failed: %v", err)
	}
	if rec.RecordID != "u2" || rec.SiteID != 2 {
		t.Errorf("cursor 1 of current source = %+v, want u2 from site 2", rec)
	}
}

func TestStartPullEpoch_DiscardsPendingKeepsIntegrated(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.StageRecords(ctx, []model.WireRecord{
		wire(1, model.TableUnit, "u1", `{}`),
		wire(2, model.TableUnit, "u2", `{}`),
	}); err != nil {
		t.Fatalf("StageRecords() failed: %v", err)
	}
	done, _ := s.GetBufferRecord(ctx, 1)
	if err := s.InTx(ctx, func(tx *Tx) error { return tx.MarkIntegrated(ctx, done.ID) }); err != nil {
		t.Fatalf("MarkIntegrated() failed: %v", err)
	}

	var (
		src       PullSource
		discarded int
	)
	err := s.InTx(ctx, func(tx *Tx) error {
		var err error
		src, discarded, err = tx.StartPullEpoch(ctx)
		return err
	})
	if err != nil {
		t.Fatalf("StartPullEpoch() failed: %v", err)
	}
	if src.Epoch != 1 || discarded != 1 {
		t.Errorf("StartPullEpoch() = epoch %d discarded %d, want 1 and 1", src.Epoch, discarded)
	}

	// Central restarted its cursors; cursor 1 now carries a different record.
	n, err := s.StageRecords(ctx, []model.WireRecord{wire(1, model.TableUnit, "u3", `{}`)})
	if err != nil {
		t.Fatalf("StageRecords() failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("staged %d after new epoch, want 1", n)
	}

	stats, err := s.BufferStats(ctx)
	if err != nil {
		t.Fatalf("BufferStats() failed: %v", err)
	}
	if stats != (BufferStats{Total: 2, Pending: 1, Errored: 0, Integrated: 1}) {
		t.Errorf("stats = %+v", stats)
	}
	maxCursor, err := s.MaxIntegratedCursor(ctx)
	if err != nil {
		t.Fatalf("MaxIntegratedCursor() failed: %v", err)
	}
	if maxCursor != 0 {
		t.Errorf("MaxIntegratedCursor() = %d, want 0 for the new epoch", maxCursor)
	}
}
