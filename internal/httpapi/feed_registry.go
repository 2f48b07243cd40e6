package httpapi

import (
	"sync"
	"sync/atomic"
)

// FeedRegistry tracks active audio feed connections and supports graceful
// draining. When draining is enabled, new feeds are rejected while connected
// clients finish naturally.
//
// The mu mutex makes the draining check and wg.Add atomic in Add(), preventing
// a TOCTOU race where StartDraining+Wait could be called between the draining
// check and wg.Add.
type FeedRegistry struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	count    atomic.Int64
}

// NewFeedRegistry creates a new FeedRegistry.
func NewFeedRegistry() *FeedRegistry {
	return &FeedRegistry{}
}

// Add registers a new active feed. Returns false if the registry is draining,
// meaning no new feeds should be accepted. The draining check and WaitGroup
// increment are performed atomically under a mutex.
func (fr *FeedRegistry) Add() bool {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.draining {
		return false
	}
	fr.wg.Add(1)
	fr.count.Add(1)
	return true
}

// Done marks a feed as closed. Must be called exactly once per successful Add.
func (fr *FeedRegistry) Done() {
	fr.count.Add(-1)
	fr.wg.Done()
}

// StartDraining sets the draining flag so that future Add calls return false.
// This is safe to call concurrently with Add; the mutex ensures no Add can
// slip through after StartDraining returns.
func (fr *FeedRegistry) StartDraining() {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.draining = true
}

// IsDraining reports whether the registry is in draining mode.
func (fr *FeedRegistry) IsDraining() bool {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.draining
}

// ActiveCount returns the number of currently connected feeds.
func (fr *FeedRegistry) ActiveCount() int64 {
	return fr.count.Load()
}

// Wait blocks until all active feeds have closed (all Done calls matched Add calls).
func (fr *FeedRegistry) Wait() {
	fr.wg.Wait()
}
