// Package scopelock provides per-key mutexes so writers touching one scope
// (a domain+jurisdiction pair, or a tenant) serialize against each other
// without throttling unrelated scopes.
package scopelock

import "sync"

// KeyedMutex hands out one mutex per key. Locks are never evicted: the key
// space (scope keys, tenants) is small and bounded in practice.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs an empty KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it on first use. It returns the
// unlock function so callers can defer it.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
