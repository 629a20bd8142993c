// Package keylock provides per-identifier mutual exclusion. Every mutation
// of a single load, assignment, trip or alert is serialized through the lock
// for its identifier, which is what makes first-write-wins races observable
// as typed failures instead of silent overwrites.
package keylock

import "sync"

// KeyLock hands out one mutex per key. Locks are never removed; the key
// space is bounded by live entity identifiers.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an empty KeyLock.
func New() *KeyLock {
	return &KeyLock{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns the unlock function.
func (k *KeyLock) Lock(key string) func() {
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
