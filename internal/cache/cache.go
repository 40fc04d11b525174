// Package cache memoizes auth-chain walks and authorization verdicts.
//
// Entries are keyed by immutable event identifiers, so they are never
// invalidated; both maps are size-bounded with least-recently-used eviction.
// A Cache is safe for concurrent use and is meant to be shared by every room
// a process resolves.
package cache

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/concord/internal/auth"
)

// Default sizes.
const (
	DefaultAuthChainSize = 10000
	DefaultVerdictSize   = 50000
)

// Config sizes the two maps.
type Config struct {
	AuthChainSize int
	VerdictSize   int
}

// DefaultConfig returns the default sizes.
func DefaultConfig() Config {
	return Config{AuthChainSize: DefaultAuthChainSize, VerdictSize: DefaultVerdictSize}
}

// VerdictKey identifies one authorization: the event and a fingerprint of
// the auth state it was checked against.
type VerdictKey struct {
	EventID     string
	Fingerprint string
}

// Cache holds the two memo maps.
type Cache struct {
	chains   *lru.Cache[string, []string]
	verdicts *lru.Cache[VerdictKey, auth.Verdict]

	chainStats   counters
	verdictStats counters
}

type counters struct {
	hits, misses, evictions atomic.Uint64
}

func (c *counters) snapshot(size int) MapStats {
	return MapStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Len:       size,
	}
}

// New creates a Cache.
func New(cfg Config) (*Cache, error) {
	c := &Cache{}

	chains, err := lru.NewWithEvict(cfg.AuthChainSize, func(string, []string) {
		c.chainStats.evictions.Add(1)
	})
	if err != nil {
		return nil, fmt.Errorf("auth chain cache: %w", err)
	}
	verdicts, err := lru.NewWithEvict(cfg.VerdictSize, func(VerdictKey, auth.Verdict) {
		c.verdictStats.evictions.Add(1)
	})
	if err != nil {
		return nil, fmt.Errorf("verdict cache: %w", err)
	}

	c.chains = chains
	c.verdicts = verdicts
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(cfg Config) *Cache {
	c, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// AuthChain returns the memoized auth chain of eventID: every event reachable
// through auth_events, excluding eventID itself, sorted. Callers must not
// modify the returned slice.
func (c *Cache) AuthChain(eventID string) ([]string, bool) {
	chain, ok := c.chains.Get(eventID)
	if ok {
		c.chainStats.hits.Add(1)
	} else {
		c.chainStats.misses.Add(1)
	}
	return chain, ok
}

// PutAuthChain records the complete auth chain of eventID.
func (c *Cache) PutAuthChain(eventID string, chain []string) {
	c.chains.Add(eventID, chain)
}

// Verdict returns a memoized verdict.
func (c *Cache) Verdict(key VerdictKey) (auth.Verdict, bool) {
	v, ok := c.verdicts.Get(key)
	if ok {
		c.verdictStats.hits.Add(1)
	} else {
		c.verdictStats.misses.Add(1)
	}
	return v, ok
}

// PutVerdict records a verdict.
func (c *Cache) PutVerdict(key VerdictKey, v auth.Verdict) {
	c.verdicts.Add(key, v)
}

// MapStats describes one memo map.
type MapStats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Len       int    `json:"len"`
}

// Stats describes the whole cache.
type Stats struct {
	AuthChains MapStats `json:"auth_chains"`
	Verdicts   MapStats `json:"verdicts"`
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		AuthChains: c.chainStats.snapshot(c.chains.Len()),
		Verdicts:   c.verdictStats.snapshot(c.verdicts.Len()),
	}
}
