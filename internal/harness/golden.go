package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/concord/internal/canonicaljson"
)

// Snapshot renders a result as canonical JSON for golden comparison.
// Events appear by alias only, so the snapshot survives changes to event
// encoding that keep the outcome the same.
func Snapshot(name string, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, te := range result.Trace {
		m := map[string]any{"alias": te.Alias, "status": te.Status}
		if te.Reason != "" {
			m["reason"] = te.Reason
		}
		trace[i] = m
	}

	snap := map[string]any{
		"scenario": name,
		"trace":    trace,
	}
	if r := result.Resolution; r != nil {
		snap["resolution"] = resolutionMap(r)
	}

	v, err := canonicaljson.FromGo(snap)
	if err != nil {
		return nil, err
	}
	return canonicaljson.Marshal(v)
}

func resolutionMap(r *Resolution) map[string]any {
	if r.ErrorCode != "" {
		m := map[string]any{"error_code": r.ErrorCode}
		if len(r.Missing) > 0 {
			m["missing"] = r.Missing
		}
		return m
	}

	state := make(map[string]any, len(r.State))
	for k, alias := range r.State {
		state[k] = alias
	}
	m := map[string]any{"state": state}
	if len(r.SoftFailed) > 0 {
		rejected := make([]any, len(r.SoftFailed))
		for i, rej := range r.SoftFailed {
			rejected[i] = map[string]any{"alias": rej.Alias, "reason": rej.Reason}
		}
		m["soft_failed"] = rejected
	}
	if len(r.Superseded) > 0 {
		m["superseded"] = r.Superseded
	}
	if len(r.Timeline) > 0 {
		m["timeline"] = r.Timeline
	}
	return m
}

// RunWithGolden executes a scenario, fails the test on assertion errors and
// compares the snapshot against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
