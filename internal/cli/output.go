package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Rejected events, failed resolutions, replay mismatches, failed scenarios
	ExitCommandError = 2 // Command error (bad flags, unreadable input, database failure)
)

// Error codes carried in JSON error responses.
const (
	ErrCodeConfig      = "E_CONFIG"
	ErrCodeInput       = "E_INPUT"
	ErrCodeStore       = "E_STORE"
	ErrCodeRejected    = "E_REJECTED"
	ErrCodeResolution  = "E_RESOLUTION"
	ErrCodeDeterminism = "E_DETERMINISM"
	ErrCodeScenario    = "E_SCENARIO"
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int    // ExitFailure or ExitCommandError
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not an
// ExitError come from flag parsing and map to ExitCommandError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// Response is the envelope of every JSON output.
type Response struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError describes why a command failed.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON writes an indented response. A non-empty code marks it as an
// error response while still carrying data.
func writeJSON(w io.Writer, data any, code, message string) error {
	resp := Response{Status: "ok", Data: data}
	if code != "" {
		resp.Status = "error"
		resp.Error = &ResponseError{Code: code, Message: message}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}
