package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequentialIDs generates predictable ids: "<prefix>-001", "<prefix>-002", ...
//
// Use it in place of UUIDv7 generation so golden output is stable.
// Thread-safety: SequentialIDs is safe for concurrent use.
type SequentialIDs struct {
	prefix string
	n      atomic.Int64
}

// NewSequentialIDs creates a generator. An empty prefix means "id".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequentialIDs{prefix: prefix}
}

// Next returns the next id.
func (g *SequentialIDs) Next() string {
	return fmt.Sprintf("%s-%03d", g.prefix, g.n.Add(1))
}

// Generate returns the next id. It lets SequentialIDs stand in for the
// synchroniser's id generator.
func (g *SequentialIDs) Generate() string {
	return g.Next()
}
