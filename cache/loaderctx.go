package cache

import (
	"sync/atomic"
	"time"
)

// EntrySnapshot is a read-only view of a key's prior resident state,
// handed to the advanced loader shape and to LoaderContext.Entry. It is a
// copy taken at load-start time; it never mutates and never blocks.
type EntrySnapshot[K comparable, V any] struct {
	Key        K
	Value      V
	Exists     bool
	LoadTime   time.Time
	ExpiryTime time.Time
	State      entryState
}

// LoaderContext is handed to the async single-key and async bulk loader
// shapes. Entry
// only returns the snapshot while the load it belongs to is still
// active; once the load has completed, Entry returns ErrInvalidEntryAccess
// so a loader that stashes the context and calls back later (a bug, not a
// supported pattern) fails loudly instead of reading stale data.
type LoaderContext[K comparable, V any] struct {
	Key       K
	Keys      []K
	StartTime time.Time
	Cache     Cache[K, V]

	entry  *EntrySnapshot[K, V]
	active int32
}

func newLoaderContext[K comparable, V any](key K, keys []K, start time.Time, c Cache[K, V], snapshot *EntrySnapshot[K, V]) *LoaderContext[K, V] {
	return &LoaderContext[K, V]{Key: key, Keys: keys, StartTime: start, Cache: c, entry: snapshot, active: 1}
}

// Entry returns the snapshot of the key's prior state, or
// ErrInvalidEntryAccess if the load span this context belongs to has
// already ended.
func (lc *LoaderContext[K, V]) Entry() (*EntrySnapshot[K, V], error) {
	if atomic.LoadInt32(&lc.active) == 0 {
		return nil, ErrInvalidEntryAccess
	}
	return lc.entry, nil
}

func (lc *LoaderContext[K, V]) close() { atomic.StoreInt32(&lc.active, 0) }
