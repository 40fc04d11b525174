package signing

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
)

// KeyRing supplies public keys for signature verification. Implementations
// may block; fetching and caching keys over a network is their concern.
type KeyRing interface {
	// VerificationKey returns the key for server and keyID, or an error
	// wrapping ErrKeyNotFound.
	VerificationKey(ctx context.Context, server, keyID string) (ed25519.PublicKey, error)
}

// StaticKeyRing is an in-memory KeyRing. Safe for concurrent use.
type StaticKeyRing struct {
	mu   sync.RWMutex
	keys map[string]map[string]ed25519.PublicKey
}

// NewStaticKeyRing creates an empty key ring.
func NewStaticKeyRing() *StaticKeyRing {
	return &StaticKeyRing{keys: make(map[string]map[string]ed25519.PublicKey)}
}

// Add registers a key. Adding the same (server, keyID) twice replaces it.
func (k *StaticKeyRing) Add(server, keyID string, key ed25519.PublicKey) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.keys[server] == nil {
		k.keys[server] = make(map[string]ed25519.PublicKey)
	}
	k.keys[server][keyID] = key
}

// VerificationKey implements KeyRing.
func (k *StaticKeyRing) VerificationKey(_ context.Context, server, keyID string) (ed25519.PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	key, ok := k.keys[server][keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrKeyNotFound, server, keyID)
	}
	return key, nil
}

// Len returns the number of registered keys.
func (k *StaticKeyRing) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()

	n := 0
	for _, byID := range k.keys {
		n += len(byID)
	}
	return n
}
