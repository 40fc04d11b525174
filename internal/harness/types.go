package harness

// TraceEvent records what the engine did with one scenario event.
type TraceEvent struct {
	Alias  string `json:"alias"`
	Status string `json:"status"` // lifecycle status, or "withheld"
	Reason string `json:"reason,omitempty"`
}

// StatusWithheld marks events the scenario never gave to the engine.
const StatusWithheld = "withheld"

// Resolution is the alias form of a resolution outcome. Exactly one of
// State and ErrorCode is meaningful.
type Resolution struct {
	State      map[string]string `json:"state,omitempty"` // "type|state_key" -> alias
	SoftFailed []Rejection       `json:"soft_failed,omitempty"`
	Superseded []string          `json:"superseded,omitempty"`
	Timeline   []string          `json:"timeline,omitempty"`
	StateHash  string            `json:"state_hash,omitempty"`

	ErrorCode string   `json:"error_code,omitempty"`
	Missing   []string `json:"missing,omitempty"`
}

// Rejection is a soft-failed event by alias.
type Rejection struct {
	Alias  string `json:"alias"`
	Reason string `json:"reason"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace lists every built event in build order.
	Trace []TraceEvent `json:"trace"`

	// Resolution is nil unless the scenario resolves.
	Resolution *Resolution `json:"resolution,omitempty"`

	// Errors contains assertion failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// traceEvent returns the trace entry for alias, or false.
func (r *Result) traceEvent(alias string) (TraceEvent, bool) {
	for _, te := range r.Trace {
		if te.Alias == alias {
			return te, true
		}
	}
	return TraceEvent{}, false
}
