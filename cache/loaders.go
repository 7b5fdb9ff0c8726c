package cache

import (
	"context"
	"time"

	"github.com/IvanBrykalov/loadcache/internal/bulk"
	"github.com/IvanBrykalov/loadcache/internal/loadgroup"
)

// LoaderFunc is the plain single-key loader shape: fetch v for k, or fail.
type LoaderFunc[K comparable, V any] func(ctx context.Context, k K) (V, error)

// AdvancedLoaderFunc is the single-key shape that also sees the load's
// start time and, if the key was resident before this load began, a
// snapshot of its prior value and TTL — the loading core's equivalent of
// cache2k's AdvancedCacheLoader, useful for loaders that want to make a
// conditional-GET style request.
type AdvancedLoaderFunc[K comparable, V any] func(ctx context.Context, k K, startTime time.Time, current *EntrySnapshot[K, V]) (V, error)

// AsyncLoaderFunc is the single-key shape that reports its result via an
// explicit callback instead of a return value, for loaders whose own
// I/O is callback-based. It may call cb synchronously before returning,
// or asynchronously from another goroutine at any later time.
type AsyncLoaderFunc[K comparable, V any] func(ctx context.Context, k K, lc *LoaderContext[K, V], cb *loadgroup.Callback[V])

// BulkLoaderFunc is the bulk sync shape: fetch a mapping for a key set in
// one call. A key present in the request but absent from the returned
// map is treated as a per-key failure, not a silent omission.
type BulkLoaderFunc[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

// AsyncBulkLoaderFunc is the bulk async shape: it may complete individual
// keys via cb.OnKeySuccess/OnKeyFailure as results trickle in, and settle
// everything still outstanding at once via cb.OnBulkSuccess/OnBulkFailure.
type AsyncBulkLoaderFunc[K comparable, V any] func(ctx context.Context, keys []K, lc *LoaderContext[K, V], cb *bulk.Callback[K, V])
