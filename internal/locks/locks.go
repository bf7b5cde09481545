// Package locks provides per-key exclusive locks with a bounded wait. Each
// state-mutating operation on an occurrence takes its lock before reading and
// verifying state, so two racing operations serialize on that one occurrence
// without serializing the rest of the system.
package locks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Keyed hands out one mutex per key. Entries are reference-counted and
// removed once the last holder releases.
type Keyed struct {
	mu      sync.Mutex
	entries map[int64]*entry
	wait    time.Duration
}

type entry struct {
	ch   chan struct{} // capacity 1; holding the token = holding the lock
	refs int
}

// New creates a Keyed lock set with the given maximum wait per acquisition.
func New(wait time.Duration) *Keyed {
	return &Keyed{
		entries: make(map[int64]*entry),
		wait:    wait,
	}
}

// Acquire locks key, waiting up to the configured bound. The returned release
// function must be called exactly once. A false result means the wait timed
// out or ctx was cancelled.
func (k *Keyed) Acquire(ctx context.Context, key int64) (release func(), ok bool) {
	k.mu.Lock()
	e, exists := k.entries[key]
	if !exists {
		e = &entry{ch: make(chan struct{}, 1)}
		e.ch <- struct{}{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	timer := time.NewTimer(k.wait)
	defer timer.Stop()

	select {
	case <-e.ch:
		return func() { k.release(key, e) }, true
	case <-timer.C:
	case <-ctx.Done():
	}

	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
	return nil, false
}

// AcquireAll locks several keys in ascending order so concurrent multi-key
// operations cannot deadlock. On failure every lock taken so far is released.
func (k *Keyed) AcquireAll(ctx context.Context, keys []int64) (release func(), ok bool) {
	sorted := make([]int64, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var releases []func()
	for _, key := range sorted {
		rel, ok := k.Acquire(ctx, key)
		if !ok {
			for i := len(releases) - 1; i >= 0; i-- {
				releases[i]()
			}
			return nil, false
		}
		releases = append(releases, rel)
	}
	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}, true
}

func (k *Keyed) release(key int64, e *entry) {
	e.ch <- struct{}{}
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
}
