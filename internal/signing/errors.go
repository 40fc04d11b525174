package signing

import (
	"errors"
	"fmt"
)

// ErrKeyNotFound is returned by a KeyRing that has no key for the request.
var ErrKeyNotFound = errors.New("verification key not found")

// ErrorCode categorizes signature failures.
type ErrorCode string

const (
	// ErrCodeSignatureInvalid indicates a missing or bad signature. It is a
	// hard reject.
	ErrCodeSignatureInvalid ErrorCode = "SIGNATURE_INVALID"

	// ErrCodeUnknownSigningKey indicates the key ring could not supply a key.
	// Retryable once keys become available.
	ErrCodeUnknownSigningKey ErrorCode = "UNKNOWN_SIGNING_KEY"
)

// SignatureError reports why authenticity could not be established.
type SignatureError struct {
	Code    ErrorCode
	Message string
	EventID string
	Server  string
	KeyID   string
	Err     error
}

// Error implements the error interface.
func (e *SignatureError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Server != "" {
		msg += " (server=" + e.Server
		if e.KeyID != "" {
			msg += ", key=" + e.KeyID
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SignatureError) Unwrap() error {
	return e.Err
}

// IsSignatureInvalid returns true if err is or wraps a SIGNATURE_INVALID error.
func IsSignatureInvalid(err error) bool {
	var se *SignatureError
	return errors.As(err, &se) && se.Code == ErrCodeSignatureInvalid
}

// IsUnknownSigningKey returns true if err is or wraps an UNKNOWN_SIGNING_KEY
// error.
func IsUnknownSigningKey(err error) bool {
	var se *SignatureError
	return errors.As(err, &se) && se.Code == ErrCodeUnknownSigningKey
}

func invalid(eventID, server, keyID, msg string) *SignatureError {
	return &SignatureError{
		Code:    ErrCodeSignatureInvalid,
		Message: msg,
		EventID: eventID,
		Server:  server,
		KeyID:   keyID,
	}
}
