package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roach88/sitesync/internal/model"
)

var testEpoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp directory with a fixed
// clock and sequential buffer ids.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	var n atomic.Int64
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path,
		WithNow(func() time.Time { return testEpoch }),
		WithIDGenerator(func() string { return fmt.Sprintf("buf-%03d", n.Add(1)) }),
	)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// appendEntry appends a changelog entry and fails the test on error.
func appendEntry(t *testing.T, s *Store, table model.Table, id string, action model.RowAction, echo bool) int64 {
	t.Helper()
	cursor, err := s.AppendChangelog(context.Background(), model.Mutation{
		Table:    table,
		RecordID: id,
		Action:   action,
		IsEcho:   echo,
	})
	if err != nil {
		t.Fatalf("AppendChangelog() failed: %v", err)
	}
	return cursor
}

// wire builds a pulled record for staging.
func wire(cursor int64, table model.Table, id, data string) model.WireRecord {
	return model.WireRecord{
		Cursor:   cursor,
		Table:    table,
		RecordID: id,
		Data:     []byte(data),
	}
}
