package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/roach88/concord/internal/canonicaljson"
	"github.com/roach88/concord/internal/event"
)

// AlgorithmEd25519 prefixes the key IDs this package understands.
const AlgorithmEd25519 = "ed25519"

// Sign returns a copy of ev carrying an Ed25519 signature from server under
// keyID. The event ID does not change.
func Sign(ev *event.Event, server, keyID string, key ed25519.PrivateKey) (*event.Event, error) {
	sig := ed25519.Sign(key, ev.SignableBytes())
	signed, err := event.WithSignature(ev, server, keyID, EncodeBase64(sig))
	if err != nil {
		return nil, fmt.Errorf("Sign: %w", err)
	}
	return signed, nil
}

// SignObject signs an arbitrary JSON object the same way events are signed:
// over its canonical form without "signatures" and "unsigned". The
// signature is added under obj.signatures[server][keyID].
func SignObject(obj canonicaljson.Object, server, keyID string, key ed25519.PrivateKey) (canonicaljson.Object, error) {
	msg, err := canonicaljson.Marshal(obj.Without("signatures", "unsigned"))
	if err != nil {
		return nil, fmt.Errorf("SignObject: %w", err)
	}
	sigs := canonicaljson.Object{}
	if existing, ok := obj.Object("signatures"); ok {
		sigs = existing.Without()
	}
	byKey := canonicaljson.Object{}
	if existing, ok := sigs.Object(server); ok {
		byKey = existing.Without()
	}
	byKey[keyID] = canonicaljson.String(EncodeBase64(ed25519.Sign(key, msg)))
	sigs[server] = byKey
	return obj.With("signatures", sigs), nil
}

// VerifyObject reports whether any signature carried by obj verifies under
// key. Used for blocks signed by keys that are not bound to a server, such as
// third-party invite tokens.
func VerifyObject(obj canonicaljson.Object, key ed25519.PublicKey) bool {
	if len(key) != ed25519.PublicKeySize {
		return false
	}
	sigs, ok := obj.Object("signatures")
	if !ok {
		return false
	}
	msg, err := canonicaljson.Marshal(obj.Without("signatures", "unsigned"))
	if err != nil {
		return false
	}
	for _, server := range sigs.SortedKeys() {
		byKey, ok := sigs.Object(server)
		if !ok {
			continue
		}
		for _, keyID := range byKey.SortedKeys() {
			s, ok := byKey.String(keyID)
			if !ok {
				continue
			}
			sig, err := DecodeBase64(s)
			if err != nil {
				continue
			}
			if ed25519.Verify(key, msg, sig) {
				return true
			}
		}
	}
	return false
}

// EncodeBase64 encodes with the unpadded standard alphabet used for keys and
// signatures.
func EncodeBase64(b []byte) string {
	return base64.RawStdEncoding.EncodeToString(b)
}

// DecodeBase64 accepts padded or unpadded input in either the standard or
// URL-safe alphabet.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if strings.ContainsAny(s, "-_") {
		return base64.RawURLEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
