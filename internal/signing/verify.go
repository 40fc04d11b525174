// Package signing establishes event authenticity with Ed25519 detached
// signatures over the event's signable bytes.
package signing

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/concord/internal/event"
	"github.com/roach88/concord/internal/roomversion"
)

// Verifier checks event signatures against keys from a KeyRing.
// A Verifier holds no mutable state and is safe for concurrent use.
type Verifier struct {
	keys KeyRing
}

// NewVerifier creates a Verifier backed by keys.
func NewVerifier(keys KeyRing) *Verifier {
	return &Verifier{keys: keys}
}

// RequiredServers lists the servers that must have signed ev, sorted.
// The sender's server always must; with restricted joins, so must the server
// of the user who authorised a join.
func RequiredServers(rules roomversion.Rules, ev *event.Event) []string {
	servers := []string{event.ServerName(ev.Sender())}

	if rules.RestrictedJoins && ev.Type() == event.TypeMember && ev.IsState() {
		if mc, ok := event.ParseMember(ev); ok && mc.Membership == event.MembershipJoin && mc.JoinAuthorisedVia != "" {
			if s := event.ServerName(mc.JoinAuthorisedVia); s != "" {
				servers = append(servers, s)
			}
		}
	}

	slices.Sort(servers)
	return slices.Compact(servers)
}

// Verify checks that every required server signed ev and that every
// signature ev carries verifies. It returns nil, a *SignatureError, or an
// *event.MalformedError for undecodable signatures.
func (v *Verifier) Verify(ctx context.Context, rules roomversion.Rules, ev *event.Event) error {
	sigs := ev.Signatures()

	for _, server := range RequiredServers(rules, ev) {
		if !hasEd25519(sigs[server]) {
			return invalid(ev.ID(), server, "", "missing signature from required server")
		}
	}

	msg := ev.SignableBytes()

	servers := make([]string, 0, len(sigs))
	for server := range sigs {
		servers = append(servers, server)
	}
	slices.Sort(servers)

	for _, server := range servers {
		keyIDs := make([]string, 0, len(sigs[server]))
		for keyID := range sigs[server] {
			if isEd25519(keyID) {
				keyIDs = append(keyIDs, keyID)
			}
		}
		slices.Sort(keyIDs)

		for _, keyID := range keyIDs {
			if err := v.verifyOne(ctx, ev.ID(), server, keyID, sigs[server][keyID], msg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *Verifier) verifyOne(ctx context.Context, eventID, server, keyID, encoded string, msg []byte) error {
	sig, err := DecodeBase64(encoded)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return &event.MalformedError{
			EventID: eventID,
			Field:   "signatures",
			Reason:  fmt.Sprintf("undecodable signature %s/%s", server, keyID),
			Err:     err,
		}
	}

	key, err := v.keys.VerificationKey(ctx, server, keyID)
	if err != nil {
		return &SignatureError{
			Code:    ErrCodeUnknownSigningKey,
			Message: "verification key unavailable",
			EventID: eventID,
			Server:  server,
			KeyID:   keyID,
			Err:     err,
		}
	}
	if len(key) != ed25519.PublicKeySize {
		return &SignatureError{
			Code:    ErrCodeUnknownSigningKey,
			Message: fmt.Sprintf("key ring returned a %d-byte key", len(key)),
			EventID: eventID,
			Server:  server,
			KeyID:   keyID,
		}
	}

	if !ed25519.Verify(key, msg, sig) {
		return invalid(eventID, server, keyID, "signature does not verify")
	}
	return nil
}

func isEd25519(keyID string) bool {
	return strings.HasPrefix(keyID, AlgorithmEd25519+":")
}

func hasEd25519(byKey map[string]string) bool {
	for keyID := range byKey {
		if isEd25519(keyID) {
			return true
		}
	}
	return false
}
