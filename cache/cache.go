package cache

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/loadcache/internal/executor"
	"github.com/IvanBrykalov/loadcache/internal/loadgroup"
	"github.com/IvanBrykalov/loadcache/internal/util"
	"github.com/IvanBrykalov/loadcache/policy/lru"
	"github.com/IvanBrykalov/loadcache/refresh"
	"github.com/IvanBrykalov/loadcache/resilience"
)

// cache is a sharded in-memory KV store with a pluggable eviction policy
// and a loading core layered on top: misses resolve through a configured
// loader shape, concurrent callers for the same key coalesce onto one
// in-flight load via group, and per-key loader failures/retries are
// tracked in states independently of the shard's own storage.
type cache[K comparable, V any] struct {
	shards []*shard[K, V]
	hash   func(K) uint64
	closed atomic.Bool

	opt Options[K, V]

	group  loadgroup.Group[K, V]
	states sync.Map // K -> *loadState[K, V]

	loaderExec       executor.Executor
	refreshDriver    *refresh.Driver[K, V]
	resiliencePolicy resilience.Policy

	// public is the cache itself, exposed through the Cache interface so
	// LoaderContext.Cache can hand a loader read access to the cache it is
	// populating without the loader needing an unexported type.
	public Cache[K, V]
}

// New constructs a cache with the provided Options.
func New[K comparable, V any](opt Options[K, V]) Cache[K, V] {
	if opt.Capacity <= 0 {
		panic("Capacity must be > 0")
	}
	if opt.loaderCount() > 1 {
		panic("cache: at most one loader shape (Loader/AdvancedLoader/AsyncLoader/BulkLoader/AsyncBulkLoader) may be configured")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Policy == nil {
		opt.Policy = lru.New[K, V]()
	}

	sh := opt.Shards
	if sh <= 0 {
		auto := 2 * runtime.GOMAXPROCS(0)
		sh = int(util.NextPow2(uint64(auto)))
		if sh < 1 {
			sh = 1
		}
	} else {
		sh = int(util.NextPow2(uint64(sh)))
	}
	opt.Shards = sh // newShard splits MaxCost by this count

	cs := make([]*shard[K, V], sh)
	perShardCap := (opt.Capacity + sh - 1) / sh // split capacity evenly (ceil)
	for i := 0; i < sh; i++ {
		cs[i] = newShard[K, V](perShardCap, opt.Policy, opt)
	}

	if opt.LoaderExecutor == nil {
		opt.LoaderExecutor = executor.NewPool(sh)
	}
	if opt.RefreshExecutor == nil {
		opt.RefreshExecutor = opt.LoaderExecutor
	}

	resilienceCfg := resilience.DefaultConfig()
	if opt.Resilience != nil {
		resilienceCfg = *opt.Resilience
	}
	eternal := opt.DefaultTTL <= 0

	c := &cache[K, V]{
		shards:           cs,
		hash:             util.Fnv64a[K], // fast non-crypto hash for sharding
		opt:              opt,
		loaderExec:       opt.LoaderExecutor,
		refreshDriver:    refresh.New[K, V](defaultRefreshConfig(opt), opt.RefreshExecutor),
		resiliencePolicy: resilience.NewUniversal(resilienceCfg, opt.DefaultTTL, eternal),
	}
	c.public = c
	return c
}

// ---- Cache[K,V] implementation: storage-level operations ----

// Add inserts k→v only if absent, using DefaultTTL if set.
// Returns false if the key already exists (no update is performed).
func (c *cache[K, V]) Add(k K, v V) bool {
	if c.closed.Load() {
		return false
	}
	return c.applyPut(k, v, c.defaultDeadline(), c.costOf(v), true)
}

// Set inserts or updates k→v, using DefaultTTL if set. If k currently has
// an in-flight load, that load's waiters still receive this value
// instead of the loader's own result (see applyPut).
func (c *cache[K, V]) Set(k K, v V) {
	if c.closed.Load() {
		return
	}
	c.applyPut(k, v, c.defaultDeadline(), c.costOf(v), false)
}

// SetWithTTL inserts or updates k→v with a per-key TTL (relative duration).
// A non-positive ttl disables expiration for this entry.
func (c *cache[K, V]) SetWithTTL(k K, v V, ttl time.Duration) {
	if c.closed.Load() {
		return
	}
	c.applyPut(k, v, c.deadline(ttl), c.costOf(v), false)
}

// applyPut writes through to the shard and, if k currently has an
// in-flight load, marks it overridden so that load's waiters still
// observe this put's value (dispatch.go's finishLoad/applyBulkOutcome
// check the flag once the loader itself returns). It also clears any
// suppressed exception bookkeeping: an explicit write always wins over a
// stale failure.
func (c *cache[K, V]) applyPut(k K, v V, ttlAbs int64, cost int32, insertOnly bool) bool {
	s := c.getShard(k)
	if insertOnly {
		if !s.Add(k, v, ttlAbs, cost) {
			return false
		}
	} else {
		s.Set(k, v, ttlAbs, cost)
	}

	st := c.stateFor(k)
	st.mu.Lock()
	st.exc = nil
	st.firstFailureAt = time.Time{}
	st.retryCount = 0
	st.suppressUntil = time.Time{}
	st.retryAt = time.Time{}
	st.hasStale = true
	st.staleValue = v
	if _, inFlight := c.group.Peek(k); inFlight {
		st.overridden = true
		st.overrideValue = v
	}
	st.mu.Unlock()
	return true
}

// Remove deletes k if present and returns true on success. It also drops
// k's loading side-table entry. An in-flight load for k, if any, still
// runs to completion and delivers to its waiters; when it finishes it
// records its outcome in a fresh side-table entry and, on success, stores
// the loaded value under k again.
func (c *cache[K, V]) Remove(k K) bool {
	if c.closed.Load() {
		return false
	}
	c.clearState(k)
	return c.getShard(k).Remove(k)
}

// Len returns the total number of resident entries across all shards.
func (c *cache[K, V]) Len() int {
	total := 0
	for _, s := range c.shards {
		total += s.Len()
	}
	return total
}

// Close marks the cache as closed and drains its loader executor if it
// supports draining. Future operations are ignored; already in-flight
// loads are allowed to finish.
func (c *cache[K, V]) Close() error {
	c.closed.Store(true)
	if p, ok := c.loaderExec.(closer); ok {
		p.Close()
	}
	return nil
}

type closer interface{ Close() }

// ---- helpers ----

// getShard picks a shard by hashing the key and masking with len-1.
// len(c.shards) is guaranteed to be a power of two.
func (c *cache[K, V]) getShard(k K) *shard[K, V] {
	h := c.hash(k)
	idx := int(h) & (len(c.shards) - 1)
	return c.shards[idx]
}

// defaultDeadline returns an absolute deadline based on DefaultTTL.
func (c *cache[K, V]) defaultDeadline() int64 {
	if c.opt.DefaultTTL <= 0 {
		return 0
	}
	return c.deadline(c.opt.DefaultTTL)
}

// deadline converts a relative TTL into an absolute UnixNano deadline.
// A non-positive ttl returns 0 (no expiration).
func (c *cache[K, V]) deadline(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return c.now().UnixNano() + int64(ttl)
}

// costOf computes the per-entry cost (clamped to int32 range).
func (c *cache[K, V]) costOf(v V) int32 {
	if c.opt.Cost == nil {
		return 0
	}
	iv := c.opt.Cost(v)
	if iv < 0 {
		iv = 0
	}
	// clamp to int32 to avoid overflow
	if iv > math.MaxInt32 {
		iv = math.MaxInt32
	}
	return int32(iv)
}
