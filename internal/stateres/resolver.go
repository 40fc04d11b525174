package stateres

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/concord/internal/auth"
	"github.com/roach88/concord/internal/cache"
	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/roomversion"
)

// Request is one resolution: the state at each forward extremity of a room
// and, optionally, timeline events to linearize.
type Request struct {
	RoomID      string     `json:"room_id"`
	RoomVersion string     `json:"room_version"`
	Tips        []StateMap `json:"tips"`
	Timeline    []string   `json:"timeline,omitempty"`
}

// Result is the outcome of a successful resolution.
type Result struct {
	RoomID      string   `json:"room_id"`
	RoomVersion string   `json:"room_version"`
	State       StateMap `json:"state"`

	// SoftFailed lists conflicted events rejected against the candidate
	// state, in processing order.
	SoftFailed []Rejection `json:"soft_failed,omitempty"`

	// Superseded lists conflicted events that were authorized but lost
	// their slot to a concurrent event processed earlier.
	Superseded []string `json:"superseded,omitempty"`

	// Timeline holds Request.Timeline in mainline order.
	Timeline []string `json:"timeline,omitempty"`

	Stats Stats `json:"stats"`
}

// Stats describes the work a resolution did.
type Stats struct {
	Tips              int         `json:"tips"`
	ConflictedKeys    int         `json:"conflicted_keys"`
	ConflictedEvents  int         `json:"conflicted_events"`
	FullConflictedSet int         `json:"full_conflicted_set"`
	LoadedEvents      int         `json:"loaded_events"`
	Authorizations    int         `json:"authorizations"`
	VerdictCacheHits  int         `json:"verdict_cache_hits"`
	Cache             cache.Stats `json:"cache"`
}

// Resolver resolves room state. It holds no per-room state, so one Resolver
// can serve many rooms concurrently; only the cache is shared.
type Resolver struct {
	source EventSource
	cache  *cache.Cache
	limits Limits
	logger *slog.Logger
	clock  Clock
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache shares c across resolutions. Without it, each resolution starts
// cold.
func WithCache(c *cache.Cache) Option {
	return func(r *Resolver) {
		r.cache = c
	}
}

// WithLimits replaces the default limits.
func WithLimits(l Limits) Option {
	return func(r *Resolver) {
		r.limits = l
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithClock sets the clock the timeout is measured with.
func WithClock(c Clock) Option {
	return func(r *Resolver) {
		r.clock = c
	}
}

// New creates a Resolver reading events from source.
func New(source EventSource, opts ...Option) *Resolver {
	r := &Resolver{
		source: source,
		limits: DefaultLimits(),
		logger: slog.Default(),
		clock:  systemClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve computes the authoritative state of req.RoomID from its tips.
//
// Everything but Stats depends only on the request and the events reachable
// from it, never on tip order, cache contents or timing. Any error aborts
// the whole resolution; there are no partial results.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	rules, err := roomversion.Lookup(req.RoomVersion)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", req.RoomID, err)
	}
	if !event.ValidRoomID(req.RoomID) {
		return nil, fmt.Errorf("resolve: invalid room ID %q", req.RoomID)
	}

	b := newBudget(r.limits, r.clock, req.RoomID)
	l := newLoader(ctx, r.source, b, req.RoomID)

	unconflicted, conflicted := partition(req.Tips)
	res := &Result{
		RoomID:      req.RoomID,
		RoomVersion: rules.Version,
		Stats:       Stats{Tips: len(req.Tips), ConflictedKeys: len(conflicted)},
	}

	r.logger.Debug("resolving room state",
		"room", req.RoomID,
		"version", rules.Version,
		"tips", len(req.Tips),
		"conflicted_keys", len(conflicted))

	if len(conflicted) == 0 {
		res.State = unconflicted
	} else {
		if err := r.resolveConflicts(l, rules, req.Tips, unconflicted, conflicted, res); err != nil {
			return nil, err
		}
	}

	if len(req.Timeline) > 0 {
		m, err := buildMainline(l, res.State[auth.PowerLevelsKey])
		if err != nil {
			return nil, err
		}
		if res.Timeline, err = orderTimeline(l, m, req.Timeline); err != nil {
			return nil, err
		}
	}

	res.Stats.LoadedEvents = len(l.events)
	if r.cache != nil {
		res.Stats.Cache = r.cache.Stats()
	}

	r.logger.Debug("resolved room state",
		"room", req.RoomID,
		"keys", len(res.State),
		"soft_failed", len(res.SoftFailed),
		"superseded", len(res.Superseded))
	return res, nil
}

func (r *Resolver) resolveConflicts(
	l *loader,
	rules roomversion.Rules,
	tips []StateMap,
	unconflicted StateMap,
	conflicted map[event.Key][]string,
	res *Result,
) error {
	w := newChainWalker(l, r.cache, r.logger)

	conflicting := make(map[string]bool)
	for _, ids := range conflicted {
		for _, id := range ids {
			conflicting[id] = true
		}
	}
	res.Stats.ConflictedEvents = len(conflicting)
	if err := l.budget.checkConflicted(len(conflicting)); err != nil {
		return err
	}

	// Walk every tip's state so the auth difference can be computed, and
	// so all missing events are reported at once.
	tipChains := make([]map[string]bool, len(tips))
	for i, tip := range tips {
		tipChains[i] = make(map[string]bool)
		for _, id := range tip.IDs() {
			chain, err := w.chain(id)
			if err != nil {
				return err
			}
			tipChains[i][id] = true
			for a := range chain {
				tipChains[i][a] = true
			}
		}
	}
	if err := l.missingErr(); err != nil {
		return err
	}

	full := authDifference(tipChains)
	for id := range conflicting {
		full[id] = true
	}
	res.Stats.FullConflictedSet = len(full)
	if err := l.budget.checkConflicted(len(full)); err != nil {
		return err
	}

	for _, id := range sortedKeys(full) {
		if _, err := l.get(id); err != nil {
			return err
		}
	}
	if err := l.missingErr(); err != nil {
		return err
	}
	if err := checkPrevCycles(l, r.logger); err != nil {
		return err
	}

	order, err := powerOrder(l, w, rules, full)
	if err != nil {
		return err
	}

	it := &iteration{
		l:            l,
		w:            w,
		cache:        r.cache,
		rules:        rules,
		unconflicted: unconflicted,
		candidate:    unconflicted.Clone(),
	}
	for _, id := range order {
		if err := it.step(id); err != nil {
			return err
		}
	}
	if err := l.missingErr(); err != nil {
		return err
	}

	for _, rej := range it.softFailed {
		r.logger.Debug("soft-failed conflicted event",
			"room", l.roomID,
			"event", rej.EventID,
			"reason", rej.Reason)
	}

	res.State = it.candidate
	res.SoftFailed = it.softFailed
	res.Superseded = it.superseded
	res.Stats.Authorizations = it.authorizations
	res.Stats.VerdictCacheHits = it.verdictHits
	return nil
}

// authDifference returns the events in some tip's auth chain but not in
// every tip's. A tip's chain includes its own state events.
func authDifference(chains []map[string]bool) map[string]bool {
	diff := make(map[string]bool)
	for _, c := range chains {
		for id := range c {
			diff[id] = true
		}
	}
	for id := range diff {
		if !slices.ContainsFunc(chains, func(c map[string]bool) bool { return !c[id] }) {
			delete(diff, id)
		}
	}
	return diff
}
