package store

import (
	"context"
	"errors"
	"testing"

	"github.com/roach88/sitesync/internal/model"
)

func TestRecordPushError_KeepsLatestFailure(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := model.ChangelogEntry{Cursor: 3, Table: model.TableStockLine, RecordID: "sl1", Action: model.ActionUpsert}
	if err := s.RecordPushError(ctx, first, errors.New("row missing")); err != nil {
		t.Fatalf("RecordPushError() failed: %v", err)
	}
	second := first
	second.Cursor = 7
	if err := s.RecordPushError(ctx, second, errors.New("unresolved item")); err != nil {
		t.Fatalf("RecordPushError() failed: %v", err)
	}

	got, err := s.ListPushErrors(ctx, 10)
	if err != nil {
		t.Fatalf("ListPushErrors() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListPushErrors() returned %d rows, want 1", len(got))
	}
	pe := got[0]
	if pe.Cursor != 7 || pe.Error != "unresolved item" || pe.Attempts != 2 {
		t.Errorf("push error = %+v", pe)
	}
	if !pe.LastAttemptAt.Equal(testEpoch) {
		t.Errorf("last_attempt_at = %v, want %v", pe.LastAttemptAt, testEpoch)
	}
}

func TestClearPushErrors(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"u1", "u2"} {
		e := model.ChangelogEntry{Cursor: int64(i + 1), Table: model.TableUnit, RecordID: id, Action: model.ActionUpsert}
		if err := s.RecordPushError(ctx, e, errors.New("boom")); err != nil {
			t.Fatalf("RecordPushError() failed: %v", err)
		}
	}

	n, err := s.ClearPushErrors(ctx, []model.WireRecord{
		{Table: model.TableUnit, RecordID: "u1"},
		{Table: model.TableUnit, RecordID: "u9"},
	})
	if err != nil {
		t.Fatalf("ClearPushErrors() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("cleared %d, want 1", n)
	}
	if err := s.DropPushError(ctx, model.TableUnit, "u2"); err != nil {
		t.Fatalf("DropPushError() failed: %v", err)
	}

	count, err := s.CountPushErrors(ctx)
	if err != nil {
		t.Fatalf("CountPushErrors() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("CountPushErrors() = %d, want 0", count)
	}
}

func TestLatestChangelogEntry(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	appendEntry(t, s, model.TableUnit, "u1", model.ActionUpsert, false)
	appendEntry(t, s, model.TableUnit, "u2", model.ActionUpsert, false)
	want := appendEntry(t, s, model.TableUnit, "u1", model.ActionUpsert, true)

	e, err := s.LatestChangelogEntry(ctx, model.TableUnit, "u1")
	if err != nil {
		t.Fatalf("LatestChangelogEntry() failed: %v", err)
	}
	if e.Cursor != want || !e.IsEcho {
		t.Errorf("latest entry = %+v, want echo at cursor %d", e, want)
	}

	if _, err := s.LatestChangelogEntry(ctx, model.TableUnit, "u9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestChangelogEntry(u9) error = %v, want ErrNotFound", err)
	}
}
