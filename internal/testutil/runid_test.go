package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceRunIDs(t *testing.T) {
	g := NewSequenceRunIDs("")
	assert.Equal(t, "test-run-0001", g.Generate())
	assert.Equal(t, "test-run-0002", g.Generate())

	other := NewSequenceRunIDs("replay")
	assert.Equal(t, "replay-0001", other.Generate())
}
