package testutil

import (
	"crypto/ed25519"
	"crypto/sha256"

	"github.com/roach88/concord/internal/signing"
)

// KeyID is the key identifier every test server signs with.
const KeyID = "ed25519:test"

// Key returns a deterministic signing key for server. The same server name
// always yields the same key, across runs and machines.
func Key(server string) ed25519.PrivateKey {
	seed := sha256.Sum256([]byte("concord-test-key:" + server))
	return ed25519.NewKeyFromSeed(seed[:])
}

// PublicKey returns the public half of Key(server).
func PublicKey(server string) ed25519.PublicKey {
	return Key(server).Public().(ed25519.PublicKey)
}

// KeyRing returns a key ring holding the test keys of servers.
func KeyRing(servers ...string) *signing.StaticKeyRing {
	ring := signing.NewStaticKeyRing()
	for _, s := range servers {
		ring.Add(s, KeyID, PublicKey(s))
	}
	return ring
}
