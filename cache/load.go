package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// concurrencyLimit bounds the goroutines GetAll/InvokeAll's errgroup fan-out
// may run at once: twice the cache's shard count, at least 2 (the default
// LoaderExecutor pool has one worker per shard).
func (c *cache[K, V]) concurrencyLimit() int {
	n := len(c.shards) * 2
	if n < 2 {
		n = 2
	}
	return n
}

// now returns the cache's current time, honoring a configured Clock so
// resilience/refresh decisions stay deterministic under tests.
func (c *cache[K, V]) now() time.Time {
	if c.opt.Clock != nil {
		return time.Unix(0, c.opt.Clock.NowUnixNano())
	}
	return time.Now()
}

// peekFresh is a plain cache-hit read: promotes on hit, triggers
// refresh-ahead if the entry is near expiry, never loads on miss.
func (c *cache[K, V]) peekFresh(k K) (V, bool) {
	v, ok := c.getShard(k).Get(k)
	if ok {
		c.maybeRefresh(k)
	}
	return v, ok
}

// maybeRefresh triggers a non-blocking background reload for k if
// refresh-ahead is enabled and k is near its expiry, skipping the attempt
// entirely if one is already outstanding.
func (c *cache[K, V]) maybeRefresh(k K) {
	if c.refreshDriver == nil || !c.opt.RefreshAhead || !c.hasLoader() {
		return
	}
	_, exp, exists := c.getShard(k).Inspect(k)
	if !exists || exp == 0 {
		return
	}
	if !c.refreshDriver.ShouldRefresh(c.now(), time.Unix(0, exp)) {
		return
	}
	c.triggerRefresh(k)
}

func (c *cache[K, V]) triggerRefresh(k K) {
	st := c.stateFor(k)
	st.mu.Lock()
	if st.refreshing {
		st.mu.Unlock()
		return
	}
	st.refreshing = true
	st.mu.Unlock()

	c.refreshDriver.Trigger(context.Background(), k, func(ctx context.Context, key K) {
		defer func() {
			st.mu.Lock()
			st.refreshing = false
			st.mu.Unlock()
		}()
		_, err := c.dispatchSingle(ctx, key, true)
		c.opt.Metrics.Refreshed(err)
	})
}

// retryGate reports how k's exceptional state should be handled without
// dispatching a new load attempt, implementing the three-way Exceptional
// transition: while suppress-until is still in the future, serve the last
// known-good value; once suppression lapses but retry-at is still in the
// future, re-raise the cached failure without loading again; once retry-at
// has passed, the caller is free to dispatch a fresh load. The third case
// reports skip=false.
func (c *cache[K, V]) retryGate(k K) (v V, err error, skip bool) {
	st, ok := c.peekState(k)
	if !ok {
		var zero V
		return zero, nil, false
	}
	now := c.now()
	cause, suppressed := st.exceptional(now)
	if cause == nil {
		var zero V
		return zero, nil, false
	}
	if suppressed {
		if sv, hasStale := st.stale(); hasStale {
			c.opt.Metrics.Suppressed()
			return sv, nil, true
		}
	}
	st.mu.Lock()
	retryAt := st.retryAt
	st.mu.Unlock()
	if !retryAt.IsZero() && now.Before(retryAt) {
		var zero V
		return zero, &LoadException[K]{Key: k, Cause: cause}, true
	}
	var zero V
	return zero, nil, false
}

// resolveFailure turns a load failure into either a stale value (if the
// resilience policy still suppresses it) or a wrapped LoadException.
func (c *cache[K, V]) resolveFailure(k K, err error) (V, error) {
	if st, ok := c.peekState(k); ok {
		if _, suppressed := st.exceptional(c.now()); suppressed {
			if sv, hasStale := st.stale(); hasStale {
				c.opt.Metrics.Suppressed()
				return sv, nil
			}
		}
	}
	var zero V
	return zero, &LoadException[K]{Key: k, Cause: err}
}

// Get returns the value for k, loading it via the configured loader on
// miss. Concurrent Get/GetAll/LoadAll calls for the same key coalesce
// onto a single in-flight load.
func (c *cache[K, V]) Get(ctx context.Context, k K) (V, error) {
	if c.closed.Load() {
		var zero V
		return zero, ErrClosed
	}
	if v, ok := c.peekFresh(k); ok {
		return v, nil
	}
	if sv, gateErr, skip := c.retryGate(k); skip {
		return sv, gateErr
	}
	if !c.hasLoader() {
		var zero V
		return zero, ErrNoLoader
	}
	v, err := c.dispatchSingle(ctx, k, false)
	if err != nil {
		return c.resolveFailure(k, err)
	}
	return v, nil
}

// GetOrLoad is Get under the name callers migrating from a single-key-
// loader cache are likely to reach for first.
func (c *cache[K, V]) GetOrLoad(ctx context.Context, k K) (V, error) {
	return c.Get(ctx, k)
}

// loadMany resolves keys via whichever loader shape is configured,
// blocking until every key has settled, and reports per-key failures in
// an AggregateException sized to len(keys).
func (c *cache[K, V]) loadMany(ctx context.Context, keys []K, force bool) (map[K]V, error) {
	results := make(map[K]V, len(keys))
	agg := newAggregateException(len(keys))

	if c.isBulkLoader() {
		outcomes := c.dispatchBulk(ctx, keys, force)
		for k, o := range outcomes {
			if o.Err != nil {
				agg.add(&LoadException[K]{Key: k, Cause: o.Err})
			} else {
				results[k] = o.Value
			}
		}
		return results, agg.orNil()
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(c.concurrencyLimit())
	for _, k := range keys {
		k := k
		g.Go(func() error {
			v, err := c.dispatchSingle(ctx, k, force)
			mu.Lock()
			if err != nil {
				agg.add(&LoadException[K]{Key: k, Cause: err})
			} else {
				results[k] = v
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results, agg.orNil()
}

// GetAll returns every key's value, loading the ones currently missing.
// Keys absent from a bulk loader's result, or failed individually, count
// toward the returned AggregateException without failing the others.
func (c *cache[K, V]) GetAll(ctx context.Context, keys []K) (map[K]V, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	out := make(map[K]V, len(keys))
	agg := newAggregateException(len(keys))
	missing := make([]K, 0, len(keys))
	for _, k := range keys {
		if v, ok := c.peekFresh(k); ok {
			out[k] = v
			continue
		}
		if sv, gateErr, skip := c.retryGate(k); skip {
			if gateErr != nil {
				agg.add(gateErr)
			} else {
				out[k] = sv
			}
			continue
		}
		missing = append(missing, k)
	}
	if len(missing) == 0 {
		return out, agg.orNil()
	}
	if !c.hasLoader() {
		for _, k := range missing {
			agg.add(&LoadException[K]{Key: k, Cause: ErrNoLoader})
		}
		return out, agg.orNil()
	}

	loaded, err := c.loadMany(ctx, missing, false)
	for k, v := range loaded {
		out[k] = v
	}
	if err != nil {
		// A failed key only keeps GetAll from succeeding if it has no
		// suppressed fallback value to serve instead.
		loadAgg := err.(*AggregateException)
		for _, cause := range loadAgg.Errors() {
			le, ok := cause.(*LoadException[K])
			if !ok {
				agg.add(cause)
				continue
			}
			if sv, ok2 := c.resolveStaleOnly(le.Key); ok2 {
				out[le.Key] = sv
			} else {
				agg.add(cause)
			}
		}
	}
	return out, agg.orNil()
}

// resolveStaleOnly returns k's last known-good value if, and only if, the
// resilience policy is still suppressing its current exception — the same
// check resolveFailure applies to Get, so GetAll never serves a stale
// value Get itself would have refused to serve for the identical failure.
func (c *cache[K, V]) resolveStaleOnly(k K) (V, bool) {
	st, ok := c.peekState(k)
	if !ok {
		var zero V
		return zero, false
	}
	if _, suppressed := st.exceptional(c.now()); !suppressed {
		var zero V
		return zero, false
	}
	if sv, hasStale := st.stale(); hasStale {
		c.opt.Metrics.Suppressed()
		return sv, true
	}
	var zero V
	return zero, false
}

// LoadAll returns immediately with a Future; the load for each key runs
// on the cache's loader executor and coalesces with any already in
// flight, same as Get/GetAll.
func (c *cache[K, V]) LoadAll(ctx context.Context, keys []K) *Future[K, V] {
	return c.loadAllAsync(ctx, keys, false)
}

// ReloadAll returns immediately with a Future; unlike LoadAll, every key
// always schedules a brand-new load, even if one is already in flight.
func (c *cache[K, V]) ReloadAll(ctx context.Context, keys []K) *Future[K, V] {
	return c.loadAllAsync(ctx, keys, true)
}

func (c *cache[K, V]) loadAllAsync(ctx context.Context, keys []K, force bool) *Future[K, V] {
	f := newFuture[K, V]()
	if c.closed.Load() {
		f.complete(nil, ErrClosed)
		return f
	}
	run := func() {
		results, err := c.loadMany(ctx, keys, force)
		f.complete(results, err)
	}
	if !c.loaderExec.Submit(run) {
		if sp, ok := c.loaderExec.(spawner); ok {
			sp.Spawn(run)
		} else {
			go run()
		}
	}
	return f
}

// spawner is the escape hatch internal/executor.Pool exposes for
// saturation fallback: Submit already refused (no free slot), so the
// caller must still get its future resolved without blocking.
type spawner interface {
	Spawn(fn func())
}

// Peek returns k's resident value without ever triggering a load.
func (c *cache[K, V]) Peek(k K) (V, bool) {
	if c.closed.Load() {
		var zero V
		return zero, false
	}
	return c.getShard(k).Get(k)
}

// PeekEntry returns a snapshot of k's resident state without triggering a
// load.
func (c *cache[K, V]) PeekEntry(k K) (*EntrySnapshot[K, V], bool) {
	if c.closed.Load() {
		return nil, false
	}
	snap := c.snapshotFor(k)
	return snap, snap.Exists
}

// ContainsKey reports whether k currently has a resident value, without
// promoting it or triggering a load.
func (c *cache[K, V]) ContainsKey(k K) bool {
	if c.closed.Load() {
		return false
	}
	_, _, exists := c.getShard(k).Inspect(k)
	return exists
}

// InvokeAll runs processor against each key's current snapshot — loading
// it first if missing — and applies whatever action the processor
// chooses. Keys run concurrently, bounded the same way GetAll's fan-out
// is, since ensureSnapshot's load and processor's own work are each
// independent per key.
func (c *cache[K, V]) InvokeAll(ctx context.Context, keys []K, processor EntryProcessor[K, V]) (map[K]ProcessorResult[V], error) {
	out := make(map[K]ProcessorResult[V], len(keys))
	agg := newAggregateException(len(keys))
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(c.concurrencyLimit())
	for _, k := range keys {
		k := k
		g.Go(func() error {
			result, failure := c.invokeOne(ctx, k, processor)
			mu.Lock()
			out[k] = result
			if failure != nil {
				agg.add(failure)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out, agg.orNil()
}

func (c *cache[K, V]) invokeOne(ctx context.Context, k K, processor EntryProcessor[K, V]) (ProcessorResult[V], error) {
	snap, loadErr := c.ensureSnapshot(ctx, k)
	if loadErr != nil {
		return ProcessorResult[V]{Err: loadErr}, loadErr
	}
	newValue, action, err := processor(snap)
	if err != nil {
		return ProcessorResult[V]{Value: snap.Value, Err: err}, err
	}
	switch action {
	case ProcessorSet:
		c.Set(k, newValue)
		return ProcessorResult[V]{Value: newValue}, nil
	case ProcessorRemove:
		c.Remove(k)
		return ProcessorResult[V]{Value: snap.Value}, nil
	case ProcessorRefresh:
		c.triggerRefresh(k)
		return ProcessorResult[V]{Value: snap.Value}, nil
	default:
		return ProcessorResult[V]{Value: snap.Value}, nil
	}
}

// ensureSnapshot returns k's current snapshot, loading it first if it has
// no resident value.
func (c *cache[K, V]) ensureSnapshot(ctx context.Context, k K) (*EntrySnapshot[K, V], error) {
	if snap, ok := c.PeekEntry(k); ok {
		return snap, nil
	}
	if !c.hasLoader() {
		return &EntrySnapshot[K, V]{Key: k}, nil
	}
	v, err := c.Get(ctx, k)
	if err != nil {
		return nil, err
	}
	return &EntrySnapshot[K, V]{Key: k, Value: v, Exists: true}, nil
}
