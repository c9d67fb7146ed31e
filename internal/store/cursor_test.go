package store

import (
	"context"
	"testing"

	"github.com/roach88/sitesync/internal/model"
)

func TestGetCursor_DefaultsToZero(t *testing.T) {
	s := createTestStore(t)

	for _, dir := range []model.Direction{model.DirectionPull, model.DirectionPush} {
		got, err := s.GetCursor(context.Background(), 7, dir)
		if err != nil {
			t.Fatalf("GetCursor(%s) failed: %v", dir, err)
		}
		if got != 0 {
			t.Errorf("GetCursor(%s) = %d, want 0", dir, got)
		}
	}
}

func TestSetCursor_AdvancesPerSiteAndDirection(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.SetCursor(ctx, 7, model.DirectionPull, 10); err != nil {
		t.Fatalf("SetCursor() failed: %v", err)
	}
	if err := s.SetCursor(ctx, 7, model.DirectionPull, 10); err != nil {
		t.Fatalf("SetCursor() with equal value failed: %v", err)
	}
	if err := s.SetCursor(ctx, 7, model.DirectionPush, 3); err != nil {
		t.Fatalf("SetCursor() failed: %v", err)
	}

	pull, _ := s.GetCursor(ctx, 7, model.DirectionPull)
	push, _ := s.GetCursor(ctx, 7, model.DirectionPush)
	other, _ := s.GetCursor(ctx, 8, model.DirectionPull)
	if pull != 10 || push != 3 || other != 0 {
		t.Errorf("cursors = pull %d push %d other-site %d, want 10 3 0", pull, push, other)
	}
}

func TestSetCursor_RegressionPanics(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.SetCursor(ctx, 1, model.DirectionPull, 10); err != nil {
		t.Fatalf("SetCursor() failed: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("SetCursor() with lower value did not panic")
		}
		got, _ := s.GetCursor(ctx, 1, model.DirectionPull)
		if got != 10 {
			t.Errorf("cursor after rejected regression = %d, want 10", got)
		}
	}()
	_ = s.SetCursor(ctx, 1, model.DirectionPull, 9)
}

func TestResetCursor(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_ = s.SetCursor(ctx, 1, model.DirectionPull, 10)
	_ = s.SetCursor(ctx, 1, model.DirectionPush, 4)

	err := s.InTx(ctx, func(tx *Tx) error {
		return tx.ResetCursor(ctx, 1, model.DirectionPull)
	})
	if err != nil {
		t.Fatalf("ResetCursor() failed: %v", err)
	}

	pull, _ := s.GetCursor(ctx, 1, model.DirectionPull)
	push, _ := s.GetCursor(ctx, 1, model.DirectionPush)
	if pull != 0 || push != 4 {
		t.Errorf("after reset pull = %d push = %d, want 0 and 4", pull, push)
	}
}
