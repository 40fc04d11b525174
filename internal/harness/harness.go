package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/concord/internal/engine"
	"github.com/roach88/concord/internal/stateres"
	"github.com/roach88/concord/internal/store"
	"github.com/roach88/concord/internal/testutil"
)

// Harness executes one scenario against a real engine.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	room   *room
	logger *slog.Logger
}

// Option configures a scenario run.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger routes engine logs to l. Default: discarded.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with sequential run IDs,
// so two runs of the same scenario produce identical results. The error is
// non-nil only when the scenario cannot be executed; failed assertions are
// reported in Result.Errors.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	r, err := buildRoom(scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to build room: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	eng, err := engine.New(ctx, st, testutil.KeyRing(r.servers()...),
		engine.WithLogger(o.logger),
		engine.WithRunIDs(testutil.NewSequenceRunIDs("run")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	h := &Harness{store: st, engine: eng, room: r, logger: o.logger}
	result := NewResult()

	if err := h.process(ctx, scenario, result); err != nil {
		return nil, err
	}
	if scenario.Resolve != nil {
		res, err := h.resolve(ctx, scenario.Resolve)
		if err != nil {
			return nil, err
		}
		result.Resolution = res
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// process hands every event that is not withheld to the engine, in build
// order.
func (h *Harness) process(ctx context.Context, scenario *Scenario, result *Result) error {
	for _, alias := range h.room.order {
		if slices.Contains(scenario.Withhold, alias) {
			result.Trace = append(result.Trace, TraceEvent{Alias: alias, Status: StatusWithheld})
			continue
		}

		out, err := h.engine.Process(ctx, h.room.version, h.room.byAlias[alias])
		if err != nil && out.Status != engine.StatusMissingDependency {
			return fmt.Errorf("process %s: %w", alias, err)
		}
		result.Trace = append(result.Trace, TraceEvent{
			Alias:  alias,
			Status: string(out.Status),
			Reason: out.Reason,
		})

		h.logger.Debug("scenario event processed",
			"alias", alias,
			"event", out.EventID,
			"status", out.Status)
	}
	return nil
}

// resolve runs the resolution and renders it by alias. Resolution errors
// are part of the result, not failures of the run.
func (h *Harness) resolve(ctx context.Context, step *ResolveStep) (*Resolution, error) {
	req := stateres.Request{
		RoomID:      h.room.id,
		RoomVersion: h.room.version,
		Tips:        h.room.tips(step.Tips),
		Timeline:    h.room.ids(step.Timeline),
	}

	run, err := h.engine.Resolve(ctx, req)
	if err != nil {
		var re *stateres.ResolutionError
		if !errors.As(err, &re) {
			return nil, fmt.Errorf("resolve: %w", err)
		}
		res := &Resolution{ErrorCode: string(re.Code)}
		if re.Code == stateres.ErrCodeMissingDependency {
			for _, id := range re.EventIDs {
				res.Missing = append(res.Missing, h.room.alias(id))
			}
			slices.Sort(res.Missing)
		}
		return res, nil
	}

	out := run.Result
	res := &Resolution{
		State:     make(map[string]string, len(out.State)),
		StateHash: run.StateHash,
	}
	for k, id := range out.State {
		res.State[k.String()] = h.room.alias(id)
	}
	for _, rej := range out.SoftFailed {
		res.SoftFailed = append(res.SoftFailed, Rejection{Alias: h.room.alias(rej.EventID), Reason: string(rej.Reason)})
	}
	for _, id := range out.Superseded {
		res.Superseded = append(res.Superseded, h.room.alias(id))
	}
	for _, id := range out.Timeline {
		res.Timeline = append(res.Timeline, h.room.alias(id))
	}
	return res, nil
}
