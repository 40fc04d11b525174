package event

import (
	"errors"
	"fmt"
)

// MalformedError reports an event that could not be canonicalized or failed
// structural validation. It is not retryable without a corrected event.
type MalformedError struct {
	// EventID is set when the identifier could be computed.
	EventID string

	// Field names the offending top-level field, if any.
	Field string

	// Reason is a human-readable description.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *MalformedError) Error() string {
	msg := "MALFORMED_EVENT: " + e.Reason
	if e.Field != "" {
		msg = fmt.Sprintf("MALFORMED_EVENT: %s: %s", e.Field, e.Reason)
	}
	if e.EventID != "" {
		msg += " (event=" + e.EventID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *MalformedError) Unwrap() error {
	return e.Err
}

// IsMalformed returns true if err is or wraps a MalformedError.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

func malformed(field, reason string, err error) *MalformedError {
	return &MalformedError{Field: field, Reason: reason, Err: err}
}
