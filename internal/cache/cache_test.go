package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/concord/internal/auth"
)

func TestAuthChainHitMiss(t *testing.T) {
	c := MustNew(DefaultConfig())

	_, ok := c.AuthChain("$a")
	assert.False(t, ok)

	c.PutAuthChain("$a", []string{"$create", "$pl"})
	chain, ok := c.AuthChain("$a")
	require.True(t, ok)
	assert.Equal(t, []string{"$create", "$pl"}, chain)

	s := c.Stats().AuthChains
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.Equal(t, 1, s.Len)
}

func TestVerdictKeyedByFingerprint(t *testing.T) {
	c := MustNew(DefaultConfig())

	c.PutVerdict(VerdictKey{EventID: "$e", Fingerprint: "s1"}, auth.Allow())

	v, ok := c.Verdict(VerdictKey{EventID: "$e", Fingerprint: "s1"})
	require.True(t, ok)
	assert.True(t, v.Allowed)

	_, ok = c.Verdict(VerdictKey{EventID: "$e", Fingerprint: "s2"})
	assert.False(t, ok, "same event against another auth state is a different entry")
}

func TestEviction(t *testing.T) {
	c := MustNew(Config{AuthChainSize: 2, VerdictSize: 2})

	c.PutAuthChain("$1", nil)
	c.PutAuthChain("$2", nil)
	_, _ = c.AuthChain("$1") // $2 is now least recently used
	c.PutAuthChain("$3", nil)

	_, ok := c.AuthChain("$2")
	assert.False(t, ok)
	_, ok = c.AuthChain("$1")
	assert.True(t, ok)

	s := c.Stats().AuthChains
	assert.Equal(t, uint64(1), s.Evictions)
	assert.Equal(t, 2, s.Len)
}

func TestInvalidSize(t *testing.T) {
	_, err := New(Config{AuthChainSize: 0, VerdictSize: 1})
	assert.Error(t, err)
}

func TestConcurrentUse(t *testing.T) {
	c := MustNew(Config{AuthChainSize: 64, VerdictSize: 64})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("$%d-%d", g, i)
				c.PutAuthChain(id, []string{id})
				c.AuthChain(id)
				c.PutVerdict(VerdictKey{EventID: id}, auth.Allow())
				c.Verdict(VerdictKey{EventID: id})
			}
		}(g)
	}
	wg.Wait()

	s := c.Stats()
	assert.LessOrEqual(t, s.AuthChains.Len, 64)
	assert.Equal(t, uint64(8*200-64), s.AuthChains.Evictions)
}
