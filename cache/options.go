package cache

import (
	"time"

	"github.com/IvanBrykalov/loadcache/internal/executor"
	"github.com/IvanBrykalov/loadcache/policy"
	"github.com/IvanBrykalov/loadcache/refresh"
	"github.com/IvanBrykalov/loadcache/resilience"
)

// EvictReason explains why an entry was removed.
type EvictReason int

const (
	// EvictPolicy — removed by the active eviction policy (e.g., LRU/2Q/TinyLFU).
	EvictPolicy EvictReason = iota
	// EvictTTL — expired by TTL (lazy eviction on access).
	EvictTTL
	// EvictCapacity — removed to satisfy capacity/cost limits.
	EvictCapacity
)

// Metrics exposes cache-level observability hooks. A NoopMetrics
// implementation is provided and used by default; metrics/prom provides a
// Prometheus-backed one covering the same surface plus load/refresh/
// resilience counters.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int, cost int64)

	// ObserveLoad records one loader invocation's outcome and latency,
	// tagged by the shape that ran (single/advanced/async/bulk/async-bulk).
	ObserveLoad(shape string, dur time.Duration, err error)
	// Suppressed records one Get/GetAll read served from a stale value
	// because the resilience policy is still suppressing a failure.
	Suppressed()
	// Refreshed records one refresh-ahead reload completing.
	Refreshed(err error)
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Options configures the cache behavior. Zero values are safe; sane
// defaults are applied in New():
//   - nil Policy          => LRU
//   - Shards <= 0         => auto (rounded up to power of two)
//   - nil Metrics         => NoopMetrics
//   - nil LoaderExecutor  => a Pool sized to the cache's shard count
//   - nil RefreshExecutor => LoaderExecutor
//
// Exactly one of Loader, AdvancedLoader, AsyncLoader, BulkLoader, and
// AsyncBulkLoader may be set; New panics if more than one is.
type Options[K comparable, V any] struct {
	// Capacity is the entry count limit (used together with MaxCost if set).
	Capacity int

	// Shards defines the number of shards. If 0, an automatic value is chosen
	// (≈ 2*GOMAXPROCS) and rounded to the next power of two.
	Shards int

	// Policy is a pluggable eviction policy (LRU/2Q/…); nil => LRU by default.
	Policy policy.Policy[K, V]

	// TTL & SWR
	// DefaultTTL applies to Add/Set when per-key TTL is not provided (0 = no TTL).
	DefaultTTL time.Duration
	// SWR enables serve-stale-while-revalidate windows (reserved for future use).
	SWR time.Duration

	// Cost-based limiting (e.g., bytes). If Cost is non-nil and MaxCost > 0,
	// the cache evicts until both entry count and total cost limits are satisfied.
	Cost    func(v V) int // nil = all entries have equal cost (0)
	MaxCost int64         // total cost limit; 0 disables cost limiting

	// Exactly one loader shape may be configured; see cache/loaders.go.
	Loader          LoaderFunc[K, V]
	AdvancedLoader  AdvancedLoaderFunc[K, V]
	AsyncLoader     AsyncLoaderFunc[K, V]
	BulkLoader      BulkLoaderFunc[K, V]
	AsyncBulkLoader AsyncBulkLoaderFunc[K, V]

	// LoaderExecutor runs the leader side of single-key loads started by
	// Get/GetAll, as well as LoadAll/ReloadAll's fan-out. Get/GetAll still
	// block the caller on the result, but the loader call itself runs on
	// the executor; if the executor is saturated (Submit returns false),
	// the call falls back to running inline on the calling goroutine
	// instead of queuing. A BulkLoader or AsyncBulkLoader call made from
	// GetAll runs on the calling goroutine, not on this executor.
	LoaderExecutor executor.Executor
	// RefreshExecutor runs refresh-ahead reloads; defaults to LoaderExecutor.
	RefreshExecutor executor.Executor

	// PermitNullValues allows a loader to return a nil pointer/map/slice/
	// chan/func value without that being treated as a load failure.
	PermitNullValues bool
	// KeepDataAfterExpired is not read by the cache. The last successfully
	// loaded or put value stays available for resilience fallback after its
	// TTL elapses whether or not this is set, and what loaders see of an
	// expired entry does not depend on it either.
	KeepDataAfterExpired bool

	// RefreshAhead enables background reload of near-expiry entries on
	// read, so Get never pays loader latency for a key that is about to
	// expire but hasn't yet.
	RefreshAhead     bool
	RefreshThreshold time.Duration

	// Resilience configures suppression/retry behavior for loader
	// failures. Nil (the default) resolves to cache2k's
	// UniversalResiliencePolicy defaults, scaled off DefaultTTL. A non-nil
	// Config, including an explicit &resilience.Config{} with every field
	// at its Go zero value, is used exactly as given — that is how
	// SuppressExceptions=false ("never suppress, observe every failure
	// immediately") is requested, since a value-typed zero Config would be
	// indistinguishable from "not configured".
	Resilience *resilience.Config

	// Observability
	// OnEvict is called on eviction under the shard lock; keep callbacks lightweight.
	OnEvict func(k K, v V, reason EvictReason)
	Metrics Metrics

	// Clock allows overriding time source (tests). Nil => time.Now().
	Clock Clock
}

func (o Options[K, V]) loaderCount() int {
	n := 0
	if o.Loader != nil {
		n++
	}
	if o.AdvancedLoader != nil {
		n++
	}
	if o.AsyncLoader != nil {
		n++
	}
	if o.BulkLoader != nil {
		n++
	}
	if o.AsyncBulkLoader != nil {
		n++
	}
	return n
}

func defaultRefreshConfig[K comparable, V any](o Options[K, V]) refresh.Config {
	return refresh.Config{Enabled: o.RefreshAhead, Threshold: o.RefreshThreshold}
}
