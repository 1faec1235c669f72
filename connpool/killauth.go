package connpool

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// killAuthCache memoizes a bcrypt hash of the operator credential that
// authorizes an externally triggered sibling-channel KILL (the debug
// probe's manual-kill endpoint, not the pool's own automatic
// query-timeout KILL, which never needs authorization since it targets a
// connection the pool itself owns). Hashing happens once per Set; every
// subsequent check is a bcrypt comparison rather than a cleartext
// equality check, so the configured credential never needs to be held or
// compared in the clear after construction.
type killAuthCache struct {
	mu   sync.RWMutex
	hash []byte
}

func newKillAuthCache() *killAuthCache {
	return &killAuthCache{}
}

// Set hashes and stores credential, replacing anything cached before it.
// Passing an empty string clears the cache, which makes Authorized
// permissive again (no credential configured means no gate).
func (k *killAuthCache) Set(credential string) error {
	if credential == "" {
		k.mu.Lock()
		k.hash = nil
		k.mu.Unlock()
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("connpool: hashing kill-authorization credential: %w", err)
	}
	k.mu.Lock()
	k.hash = hash
	k.mu.Unlock()
	return nil
}

// Authorized reports whether credential matches whatever was last Set.
// With nothing configured, every credential (including empty) is
// authorized — the gate is opt-in.
func (k *killAuthCache) Authorized(credential string) bool {
	k.mu.RLock()
	hash := k.hash
	k.mu.RUnlock()
	if hash == nil {
		return true
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(credential)) == nil
}
