package stateres

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrNotFound is returned by an EventSource for identifiers it does not
// hold. The resolver collects every such identifier before failing.
var ErrNotFound = errors.New("event not found")

// ResolutionError is a fatal resolution outcome. No partial result is ever
// returned alongside one.
type ResolutionError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// RoomID identifies the room being resolved.
	RoomID string

	// EventIDs lists the events involved: the missing identifiers for
	// MISSING_DEPENDENCY, the cycle path for CYCLE_DETECTED. Sorted unless
	// it is a path.
	EventIDs []string

	// Details contains additional context such as the limit that was hit.
	Details map[string]string
}

// ErrorCode categorizes resolution errors.
type ErrorCode string

const (
	// ErrCodeMissingDependency indicates referenced events are unavailable.
	ErrCodeMissingDependency ErrorCode = "MISSING_DEPENDENCY"

	// ErrCodeCycleDetected indicates a cycle in prev_events or auth_events.
	ErrCodeCycleDetected ErrorCode = "CYCLE_DETECTED"

	// ErrCodeTooLarge indicates a size limit was exceeded.
	ErrCodeTooLarge ErrorCode = "RESOLUTION_TOO_LARGE"

	// ErrCodeTimeout indicates the wall-clock budget was exceeded.
	ErrCodeTimeout ErrorCode = "RESOLUTION_TIMEOUT"
)

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.RoomID != "" {
		fmt.Fprintf(&b, " (room=%s)", e.RoomID)
	}
	if len(e.EventIDs) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.EventIDs, ", "))
	}
	return b.String()
}

func hasCode(err error, code ErrorCode) bool {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsMissingDependency returns true if err reports unavailable events.
func IsMissingDependency(err error) bool { return hasCode(err, ErrCodeMissingDependency) }

// IsCycle returns true if err reports a cycle in the event graph.
func IsCycle(err error) bool { return hasCode(err, ErrCodeCycleDetected) }

// IsTooLarge returns true if err reports an exceeded size limit.
func IsTooLarge(err error) bool { return hasCode(err, ErrCodeTooLarge) }

// IsTimeout returns true if err reports an exceeded wall-clock budget.
func IsTimeout(err error) bool { return hasCode(err, ErrCodeTimeout) }

// IsRetryable reports whether the same request may succeed later: after a
// backfill for missing dependencies, or with a bigger budget.
// A cycle is permanent.
func IsRetryable(err error) bool {
	return IsMissingDependency(err) || IsTooLarge(err) || IsTimeout(err)
}

// MissingIDs returns the missing identifiers carried by err, or nil.
func MissingIDs(err error) []string {
	var re *ResolutionError
	if errors.As(err, &re) && re.Code == ErrCodeMissingDependency {
		return append([]string(nil), re.EventIDs...)
	}
	return nil
}

func missingDependency(roomID string, ids []string) *ResolutionError {
	return &ResolutionError{
		Code:     ErrCodeMissingDependency,
		Message:  fmt.Sprintf("%d referenced event(s) unavailable", len(ids)),
		RoomID:   roomID,
		EventIDs: ids,
	}
}

func cycleDetected(roomID, edge string, path []string) *ResolutionError {
	return &ResolutionError{
		Code:     ErrCodeCycleDetected,
		Message:  "cycle in " + edge,
		RoomID:   roomID,
		EventIDs: path,
		Details:  map[string]string{"edge": edge},
	}
}

func tooLarge(roomID, name string, got, limit int) *ResolutionError {
	return &ResolutionError{
		Code:    ErrCodeTooLarge,
		Message: fmt.Sprintf("%s exceeded: %d > %d", name, got, limit),
		RoomID:  roomID,
		Details: map[string]string{
			"limit": name,
			"value": fmt.Sprint(got),
			"max":   fmt.Sprint(limit),
		},
	}
}

// NewMissingDependency returns a MISSING_DEPENDENCY error for ids, for
// callers outside the resolver that hit the same condition.
func NewMissingDependency(roomID string, ids []string) error {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return missingDependency(roomID, slices.Compact(sorted))
}
