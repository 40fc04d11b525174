package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequenceRunIDs generates predictable resolution run IDs.
//
// The same test with a fresh SequenceRunIDs produces identical run IDs, which
// keeps recorded resolutions comparable against golden files.
//
// Thread-safety: safe for concurrent use.
type SequenceRunIDs struct {
	prefix string
	n      atomic.Int64
}

// NewSequenceRunIDs creates a generator. If prefix is empty, "test-run" is
// used.
func NewSequenceRunIDs(prefix string) *SequenceRunIDs {
	if prefix == "" {
		prefix = "test-run"
	}
	return &SequenceRunIDs{prefix: prefix}
}

// Generate returns "<prefix>-0001", "<prefix>-0002", ...
//
// Implements engine.RunIDGenerator.
func (g *SequenceRunIDs) Generate() string {
	return fmt.Sprintf("%s-%04d", g.prefix, g.n.Add(1))
}
