package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roach88/sitesync/internal/model"
)

func TestUpsertSyncLog_ProgressAndFinalise(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	start := testEpoch
	l := model.SyncLog{ID: "log-1", StartedAt: start}
	if err := s.UpsertSyncLog(ctx, l); err != nil {
		t.Fatalf("UpsertSyncLog() failed: %v", err)
	}

	pullDone := start.Add(2 * time.Second)
	l.Pull = model.PhaseLog{StartedAt: &start, FinishedAt: &pullDone, Total: 10, Done: 10}
	l.Push = model.PhaseLog{StartedAt: &pullDone, Total: 3, Done: 1}
	finished := start.Add(5 * time.Second)
	l.FinishedAt = &finished
	l.ErrorCode = "TRANSPORT"
	l.ErrorMessage = "connection refused"
	if err := s.UpsertSyncLog(ctx, l); err != nil {
		t.Fatalf("UpsertSyncLog() failed: %v", err)
	}

	got, err := s.LatestSyncLog(ctx)
	if err != nil {
		t.Fatalf("LatestSyncLog() failed: %v", err)
	}
	if got.ID != "log-1" || got.Pull.Total != 10 || got.Push.Done != 1 {
		t.Errorf("log = %+v", got)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("finished_at = %v, want %v", got.FinishedAt, finished)
	}
	if got.Integration.StartedAt != nil {
		t.Errorf("integration started_at = %v, want nil", got.Integration.StartedAt)
	}
	if !got.Failed() || got.ErrorCode != "TRANSPORT" {
		t.Errorf("error fields = %q %q", got.ErrorCode, got.ErrorMessage)
	}

	if _, err := s.LatestSuccessfulSyncLog(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestSuccessfulSyncLog() error = %v, want ErrNotFound", err)
	}
}

func TestListSyncLogs_NewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.LatestSyncLog(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestSyncLog() on empty store error = %v, want ErrNotFound", err)
	}

	for i, id := range []string{"a", "b", "c"} {
		finished := testEpoch.Add(time.Duration(i)*time.Minute + time.Second)
		err := s.UpsertSyncLog(ctx, model.SyncLog{
			ID:         id,
			StartedAt:  testEpoch.Add(time.Duration(i) * time.Minute),
			FinishedAt: &finished,
		})
		if err != nil {
			t.Fatalf("UpsertSyncLog() failed: %v", err)
		}
	}

	logs, err := s.ListSyncLogs(ctx, 2)
	if err != nil {
		t.Fatalf("ListSyncLogs() failed: %v", err)
	}
	if len(logs) != 2 || logs[0].ID != "c" || logs[1].ID != "b" {
		t.Errorf("logs = %+v", logs)
	}

	ok, err := s.LatestSuccessfulSyncLog(ctx)
	if err != nil {
		t.Fatalf("LatestSuccessfulSyncLog() failed: %v", err)
	}
	if ok.ID != "c" {
		t.Errorf("latest successful = %s, want c", ok.ID)
	}
}
