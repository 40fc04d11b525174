package engine

import (
	"errors"

	"github.com/roach88/concord/internal/signing"
	"github.com/roach88/concord/internal/stateres"
)

// IsRetryable returns true if err may clear without a change to the input:
// an unknown signing key, missing auth events, or a resolution budget that
// a retry with a larger limit can fit in.
func IsRetryable(err error) bool {
	return signing.IsUnknownSigningKey(err) || stateres.IsRetryable(err)
}

// IsTransitionError returns true if err is or wraps a *TransitionError.
func IsTransitionError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
