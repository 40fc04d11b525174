package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/concord/internal/auth"
	"github.com/roach88/concord/internal/cache"
	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/roomversion"
	"github.com/roach88/concord/internal/signing"
	"github.com/roach88/concord/internal/stateres"
	"github.com/roach88/concord/internal/store"
)

// DefaultWorkers is the number of rooms ResolveAll resolves at once.
const DefaultWorkers = 4

// Engine admits events into rooms and resolves room state, persisting both
// in the store.
//
// Work on one room is serialized in submission order; different rooms
// proceed in parallel. The resolution cache is shared by every room.
//
// Thread-safety model:
//   - Process, Resolve, ResolveAll, Replay, Enqueue: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Engine struct {
	store    *store.Store
	clock    *Clock
	verifier *signing.Verifier
	cache    *cache.Cache
	resolver *stateres.Resolver
	runIDs   RunIDGenerator
	queue    *submissionQueue
	lanes    *lanes
	logger   *slog.Logger

	workers      int
	limits       stateres.Limits
	resolverOpts []stateres.Option
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for the engine and its resolver.
// Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithWorkers sets how many rooms ResolveAll works on at once.
// Values below 1 are treated as 1.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = max(n, 1)
	}
}

// WithCache sets the shared resolution cache.
// Default: a cache with cache.DefaultConfig().
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithLimits sets the resolver's limits.
func WithLimits(l stateres.Limits) Option {
	return func(e *Engine) {
		e.limits = l
	}
}

// WithResolverOptions passes extra options to the resolver, applied after
// the engine's own.
func WithResolverOptions(opts ...stateres.Option) Option {
	return func(e *Engine) {
		e.resolverOpts = append(e.resolverOpts, opts...)
	}
}

// WithRunIDs sets the run ID generator. Default: UUIDv7Generator.
func WithRunIDs(g RunIDGenerator) Option {
	return func(e *Engine) {
		e.runIDs = g
	}
}

// New creates an Engine over s. Signatures are verified against keys. The
// logical clock resumes after the highest sequence number in s.
func New(ctx context.Context, s *store.Store, keys signing.KeyRing, opts ...Option) (*Engine, error) {
	last, err := s.LastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}

	e := &Engine{
		store:    s,
		clock:    NewClockAt(last),
		verifier: signing.NewVerifier(keys),
		runIDs:   UUIDv7Generator{},
		queue:    newSubmissionQueue(),
		lanes:    newLanes(),
		logger:   slog.Default(),
		workers:  DefaultWorkers,
		limits:   stateres.DefaultLimits(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = cache.MustNew(cache.DefaultConfig())
	}

	ropts := append([]stateres.Option{
		stateres.WithCache(e.cache),
		stateres.WithLimits(e.limits),
		stateres.WithLogger(e.logger),
	}, e.resolverOpts...)
	e.resolver = stateres.New(s, ropts...)

	return e, nil
}

// Cache returns the shared resolution cache.
func (e *Engine) Cache() *cache.Cache {
	return e.cache
}

// Seq returns the last sequence number the engine issued.
func (e *Engine) Seq() int64 {
	return e.clock.Current()
}

// Process admits ev into its room: it is stored, its signatures are
// verified and it is authorized against its own auth_events.
//
// Terminal outcomes are recorded in the store and returned with a nil
// error; processing the same copy again returns the stored outcome. A copy
// whose signatures differ from the stored one replaces it if the stored
// copy never verified and the new one does. The error is non-nil when the
// outcome is not final: an unknown signing key or missing auth events (both
// IsRetryable), or a storage failure.
func (e *Engine) Process(ctx context.Context, roomVersion string, ev *event.Event) (Outcome, error) {
	rules, err := roomversion.Lookup(roomVersion)
	if err != nil {
		return Outcome{}, fmt.Errorf("process %s: %w", ev.ID(), err)
	}

	t := e.lanes.enter(ev.RoomID())
	if err := t.wait(ctx); err != nil {
		return Outcome{}, err
	}
	defer t.release()

	rec, err := e.store.EventRecord(ctx, ev.ID())
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec = store.EventRecord{Event: ev, Status: string(StatusReceived), Seq: e.clock.Next()}
		if _, err := e.store.PutEvent(ctx, ev, rec.Seq); err != nil {
			return Outcome{}, fmt.Errorf("process %s: %w", ev.ID(), err)
		}
		e.logger.Debug("event received", "room", ev.RoomID(), "event", ev.ID(), "seq", rec.Seq)
	case err != nil:
		return Outcome{}, fmt.Errorf("process %s: %w", ev.ID(), err)
	}

	out := Outcome{EventID: ev.ID(), Status: Status(rec.Status), Reason: rec.Reason, Seq: rec.Seq}
	otherCopy := !bytes.Equal(rec.Event.JSON(), ev.JSON())

	switch {
	case out.Status == StatusSignatureInvalid && otherCopy:
		return e.reverify(ctx, rules, ev, out)
	case out.Status.Terminal():
		return out, nil
	case out.Status == StatusReceived:
		out, err = e.verify(ctx, rules, ev, out)
		if err != nil || out.Status != StatusVerified {
			return out, err
		}
		if otherCopy {
			if err := e.adopt(ctx, ev); err != nil {
				return out, err
			}
		}
	}
	return e.authorize(ctx, rules, ev, out)
}

// reverify checks a differently signed copy of a rejected event. The stored
// rejection stands unless the new copy verifies.
func (e *Engine) reverify(ctx context.Context, rules roomversion.Rules, ev *event.Event, out Outcome) (Outcome, error) {
	err := e.verifier.Verify(ctx, rules, ev)
	switch {
	case signing.IsUnknownSigningKey(err):
		return out, fmt.Errorf("process %s: %w", ev.ID(), err)
	case signing.IsSignatureInvalid(err), event.IsMalformed(err):
		e.logger.Debug("other copy rejected", "room", ev.RoomID(), "event", ev.ID(), "error", err)
		return out, nil
	case err != nil:
		return out, fmt.Errorf("process %s: %w", ev.ID(), err)
	}

	if err := e.adopt(ctx, ev); err != nil {
		return out, err
	}
	out, err = e.transition(ctx, out, StatusVerified, "", "")
	if err != nil {
		return out, err
	}
	return e.authorize(ctx, rules, ev, out)
}

// adopt makes ev the stored copy of its event.
func (e *Engine) adopt(ctx context.Context, ev *event.Event) error {
	if err := e.store.ReplaceEvent(ctx, ev); err != nil {
		return fmt.Errorf("process %s: %w", ev.ID(), err)
	}
	e.logger.Info("stored copy replaced", "room", ev.RoomID(), "event", ev.ID())
	return nil
}

func (e *Engine) verify(ctx context.Context, rules roomversion.Rules, ev *event.Event, out Outcome) (Outcome, error) {
	err := e.verifier.Verify(ctx, rules, ev)
	switch {
	case err == nil:
		return e.transition(ctx, out, StatusVerified, "", "")
	case signing.IsUnknownSigningKey(err):
		e.logger.Warn("signing key unavailable", "room", ev.RoomID(), "event", ev.ID(), "error", err)
		out, terr := e.transition(ctx, out, StatusReceived, ReasonUnknownSigningKey, err.Error())
		if terr != nil {
			return out, terr
		}
		return out, fmt.Errorf("process %s: %w", ev.ID(), err)
	case signing.IsSignatureInvalid(err):
		e.logger.Info("event rejected", "room", ev.RoomID(), "event", ev.ID(), "error", err)
		return e.transition(ctx, out, StatusSignatureInvalid, ReasonSignatureInvalid, err.Error())
	case event.IsMalformed(err):
		e.logger.Info("event rejected", "room", ev.RoomID(), "event", ev.ID(), "error", err)
		return e.transition(ctx, out, StatusSignatureInvalid, ReasonMalformedEvent, err.Error())
	default:
		return out, fmt.Errorf("process %s: %w", ev.ID(), err)
	}
}

func (e *Engine) authorize(ctx context.Context, rules roomversion.Rules, ev *event.Event, out Outcome) (Outcome, error) {
	var (
		authEvents []*event.Event
		missing    []string
		failed     *auth.Verdict
	)
	for _, id := range ev.AuthEvents() {
		rec, err := e.store.EventRecord(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return out, fmt.Errorf("process %s: load auth event: %w", ev.ID(), err)
		}
		if s := Status(rec.Status); (s == StatusSignatureInvalid || s == StatusSoftFailed) && failed == nil {
			failed = &auth.Verdict{
				Reason: auth.ReasonAuthEventsInvalid,
				Detail: fmt.Sprintf("auth event %s is %s", id, s),
			}
		}
		authEvents = append(authEvents, rec.Event)
	}

	if len(missing) > 0 {
		merr := stateres.NewMissingDependency(ev.RoomID(), missing)
		e.logger.Info("auth events missing", "room", ev.RoomID(), "event", ev.ID(), "missing", len(missing))
		out, err := e.transition(ctx, out, StatusMissingDependency, ReasonMissingDependency, merr.Error())
		if err != nil {
			return out, err
		}
		return out, merr
	}

	var verdict auth.Verdict
	if failed != nil {
		verdict = *failed
	} else {
		var target *event.Event
		if ev.Type() == event.TypeRedaction && ev.Redacts() != "" {
			// A redaction may arrive before its target; it is then judged
			// without one.
			if rec, err := e.store.EventRecord(ctx, ev.Redacts()); err == nil {
				target = rec.Event
			} else if !errors.Is(err, store.ErrNotFound) {
				return out, fmt.Errorf("process %s: load redaction target: %w", ev.ID(), err)
			}
		}
		verdict = auth.AuthorizeWithAuthEvents(rules, ev, authEvents, target)
	}

	if !verdict.Allowed {
		e.logger.Info("event soft-failed",
			"room", ev.RoomID(),
			"event", ev.ID(),
			"reason", verdict.Reason,
			"detail", verdict.Detail)
		return e.transition(ctx, out, StatusSoftFailed, string(verdict.Reason), verdict.Detail)
	}
	e.logger.Debug("event authorized", "room", ev.RoomID(), "event", ev.ID())
	return e.transition(ctx, out, StatusAuthorized, string(verdict.Reason), "")
}

// transition records a lifecycle move in the store.
func (e *Engine) transition(ctx context.Context, out Outcome, to Status, reason, detail string) (Outcome, error) {
	if !CanTransition(out.Status, to) {
		return out, &TransitionError{EventID: out.EventID, From: out.Status, To: to}
	}
	if err := e.store.SetStatus(ctx, out.EventID, string(to), reason); err != nil {
		return out, fmt.Errorf("process %s: %w", out.EventID, err)
	}
	out.Status, out.Reason, out.Detail = to, reason, detail
	return out, nil
}

// Enqueue submits ev for processing by the Run loop.
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(roomVersion string, ev *event.Event) bool {
	return e.queue.Enqueue(Submission{RoomVersion: roomVersion, Event: ev})
}

// QueueLen returns the number of submissions waiting for Run.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run processes enqueued submissions in order until ctx is cancelled or
// Stop is called. Stop lets Run drain what was already queued.
//
// Failures are logged and processing continues with the next submission;
// retryable events stay in their recorded status for a later Process.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "seq", e.clock.Current())

	for {
		if s, ok := e.queue.TryDequeue(); ok {
			out, err := e.Process(ctx, s.RoomVersion, s.Event)
			if err != nil {
				e.logger.Warn("event processing incomplete",
					"room", s.Event.RoomID(),
					"event", s.Event.ID(),
					"status", out.Status,
					"retryable", IsRetryable(err),
					"error", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()
		case <-e.queue.Wait():
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the submission queue. Run returns once it is drained.
func (e *Engine) Stop() {
	e.queue.Close()
}
