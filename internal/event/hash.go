package event

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/roach88/concord/internal/canonicaljson"
)

// Fields excluded from the hash and signature input. event_id is excluded
// because it is derived from the rest.
var unsignedFields = []string{"signatures", "unsigned", "redacted_because", "event_id"}

// SignableObject strips the fields that are not covered by the identifier
// or signatures.
func SignableObject(obj canonicaljson.Object) canonicaljson.Object {
	return obj.Without(unsignedFields...)
}

// SignableBytes returns the canonical encoding of the signable object.
func SignableBytes(obj canonicaljson.Object) ([]byte, error) {
	b, err := canonicaljson.Marshal(SignableObject(obj))
	if err != nil {
		return nil, fmt.Errorf("SignableBytes: %w", err)
	}
	return b, nil
}

// ComputeID derives the event identifier: "$" followed by the unpadded
// URL-safe base64 SHA-256 of the signable bytes. The identifier is stable
// across re-encodings and across signature additions.
func ComputeID(obj canonicaljson.Object) (string, error) {
	b, err := SignableBytes(obj)
	if err != nil {
		return "", fmt.Errorf("ComputeID: %w", err)
	}
	sum := sha256.Sum256(b)
	return "$" + base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
