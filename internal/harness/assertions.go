package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // assertion type
	Expected string // human-readable expected outcome
	Actual   string // human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions evaluates all assertions against the result and
// returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertStatus:
			err = assertStatus(result, a)
		case AssertState:
			err = assertState(result.Resolution, a)
		case AssertSoftFailed:
			err = assertSoftFailed(result.Resolution, a)
		case AssertSuperseded:
			err = assertList(AssertSuperseded, resolved(result.Resolution).Superseded, a.Aliases)
		case AssertTimeline:
			err = assertList(AssertTimeline, resolved(result.Resolution).Timeline, a.Aliases)
		case AssertError:
			err = assertResolutionError(result.Resolution, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// resolved never returns nil so list assertions can compare against empty.
func resolved(r *Resolution) *Resolution {
	if r == nil {
		return &Resolution{}
	}
	return r
}

func assertStatus(result *Result, a Assertion) error {
	te, ok := result.traceEvent(a.Alias)
	if !ok {
		return &AssertionError{Type: AssertStatus, Expected: a.Alias + " in trace", Actual: "not found"}
	}
	if te.Status != a.Status {
		return &AssertionError{
			Type:     AssertStatus,
			Expected: fmt.Sprintf("%s to be %s", a.Alias, a.Status),
			Actual:   te.Status,
		}
	}
	if a.Reason != "" && te.Reason != a.Reason {
		return &AssertionError{
			Type:     AssertStatus,
			Expected: fmt.Sprintf("%s reason %s", a.Alias, a.Reason),
			Actual:   orNone(te.Reason),
		}
	}
	return nil
}

func assertState(r *Resolution, a Assertion) error {
	if r == nil || r.ErrorCode != "" {
		return &AssertionError{Type: AssertState, Expected: "a resolved state", Actual: errorOf(r)}
	}
	got, ok := r.State[a.Key]
	switch {
	case a.Alias == "" && ok:
		return &AssertionError{Type: AssertState, Expected: a.Key + " absent", Actual: got}
	case a.Alias != "" && got != a.Alias:
		return &AssertionError{Type: AssertState, Expected: fmt.Sprintf("%s = %s", a.Key, a.Alias), Actual: orNone(got)}
	}
	return nil
}

func assertSoftFailed(r *Resolution, a Assertion) error {
	if r == nil || r.ErrorCode != "" {
		return &AssertionError{Type: AssertSoftFailed, Expected: "a resolved state", Actual: errorOf(r)}
	}
	for _, rej := range r.SoftFailed {
		if rej.Alias != a.Alias {
			continue
		}
		if rej.Reason != a.Reason {
			return &AssertionError{
				Type:     AssertSoftFailed,
				Expected: fmt.Sprintf("%s rejected with %s", a.Alias, a.Reason),
				Actual:   rej.Reason,
			}
		}
		return nil
	}
	return &AssertionError{Type: AssertSoftFailed, Expected: a.Alias + " rejected", Actual: "not rejected"}
}

func assertList(typ string, got, want []string) error {
	if !slices.Equal(got, want) {
		return &AssertionError{Type: typ, Expected: formatList(want), Actual: formatList(got)}
	}
	return nil
}

func assertResolutionError(r *Resolution, a Assertion) error {
	if r == nil || r.ErrorCode != a.Code {
		return &AssertionError{Type: AssertError, Expected: a.Code, Actual: errorOf(r)}
	}
	if a.Aliases != nil {
		return assertList(AssertError, r.Missing, a.Aliases)
	}
	return nil
}

func errorOf(r *Resolution) string {
	if r == nil || r.ErrorCode == "" {
		return "no error"
	}
	return r.ErrorCode
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func formatList(ss []string) string {
	return "[" + strings.Join(ss, ", ") + "]"
}
