package cache

import (
	"context"
	"time"
)

// Cache is a sharded, in-memory key/value cache interface with an optional
// loading core layered on top. All methods are safe for concurrent use by
// multiple goroutines.
//
// Typical complexity for the storage-level operations is amortized O(1):
// a map lookup plus constant-time list adjustments under a shard lock.
type Cache[K comparable, V any] interface {
	// Add inserts k→v only if k is not present.
	// It uses the cache's DefaultTTL (if any).
	// Returns false if the key already exists (no update is performed).
	Add(k K, v V) bool

	// Set inserts or updates k→v.
	// It uses the cache's DefaultTTL (if any), and promotes the entry
	// according to the active eviction policy (e.g., LRU). If k currently
	// has a load in flight, that load's waiters observe this value instead
	// of the loader's own result.
	Set(k K, v V)

	// SetWithTTL inserts or updates k→v with a per-key TTL (relative duration).
	// A non-positive ttl disables expiration for this entry.
	SetWithTTL(k K, v V, ttl time.Duration)

	// Remove deletes k if present and returns true on success.
	Remove(k K) bool

	// Len returns the total number of resident entries across all shards.
	Len() int

	// Close stops background workers (if any) and marks the cache closed.
	Close() error

	// Peek returns k's resident value without ever triggering a load.
	Peek(k K) (V, bool)

	// PeekEntry returns a snapshot of k's resident state without
	// triggering a load.
	PeekEntry(k K) (*EntrySnapshot[K, V], bool)

	// ContainsKey reports whether k currently has a resident value,
	// without promoting it or triggering a load.
	ContainsKey(k K) bool

	// Get returns the value for k, loading it via the configured loader on
	// miss. Concurrent Get/GetAll/LoadAll calls for the same key coalesce
	// onto a single in-flight load. If no loader is configured, returns
	// ErrNoLoader.
	Get(ctx context.Context, k K) (V, error)

	// GetOrLoad is Get under the name callers migrating from a single-key
	// loader cache are likely to reach for first.
	GetOrLoad(ctx context.Context, k K) (V, error)

	// GetAll returns every key's value, loading the ones currently
	// missing. Keys that fail to load are reported via an
	// AggregateException without failing the others.
	GetAll(ctx context.Context, keys []K) (map[K]V, error)

	// LoadAll returns immediately with a Future that resolves once every
	// key has settled; keys with an in-flight load coalesce onto it.
	LoadAll(ctx context.Context, keys []K) *Future[K, V]

	// ReloadAll returns immediately with a Future; unlike LoadAll, every
	// key always schedules a brand-new load, even if one is already in
	// flight.
	ReloadAll(ctx context.Context, keys []K) *Future[K, V]

	// InvokeAll runs processor against each key's current snapshot —
	// loading it first if missing — and applies whatever action the
	// processor chooses (set/remove/refresh/no-op).
	InvokeAll(ctx context.Context, keys []K, processor EntryProcessor[K, V]) (map[K]ProcessorResult[V], error)
}
