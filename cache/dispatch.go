package cache

import (
	"context"
	"reflect"
	"time"

	"github.com/IvanBrykalov/loadcache/internal/bulk"
	"github.com/IvanBrykalov/loadcache/internal/loadgroup"
)

func (c *cache[K, V]) hasLoader() bool {
	return c.opt.Loader != nil || c.opt.AdvancedLoader != nil || c.opt.AsyncLoader != nil ||
		c.opt.BulkLoader != nil || c.opt.AsyncBulkLoader != nil
}

func (c *cache[K, V]) isBulkLoader() bool {
	return c.opt.BulkLoader != nil || c.opt.AsyncBulkLoader != nil
}

func (c *cache[K, V]) singleShape() loadgroup.Shape {
	switch {
	case c.opt.AdvancedLoader != nil:
		return loadgroup.ShapeSyncAdvanced
	case c.opt.AsyncLoader != nil:
		return loadgroup.ShapeAsyncSingle
	default:
		return loadgroup.ShapeSyncSingle
	}
}

func (c *cache[K, V]) bulkShape() loadgroup.Shape {
	if c.opt.AsyncBulkLoader != nil {
		return loadgroup.ShapeAsyncBulk
	}
	return loadgroup.ShapeSyncBulk
}

// checkNull enforces PermitNullValues: a nil pointer/map/slice/chan/func/
// interface value from a successful load is turned into ErrNullFromLoader unless
// nulls are explicitly permitted.
func (c *cache[K, V]) checkNull(v V, err error) (V, error) {
	if err != nil {
		return v, err
	}
	if !c.opt.PermitNullValues && isNilValue(v) {
		var zero V
		return zero, ErrNullFromLoader
	}
	return v, nil
}

func isNilValue[V any](v V) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Invalid: // V is an interface type holding nil
		return true
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func (c *cache[K, V]) snapshotFor(k K) *EntrySnapshot[K, V] {
	v, exp, exists := c.getShard(k).Inspect(k)
	if !exists {
		return &EntrySnapshot[K, V]{Key: k, Exists: false, State: c.entryStateFor(k)}
	}
	snap := &EntrySnapshot[K, V]{Key: k, Value: v, Exists: true, State: c.entryStateFor(k)}
	if exp != 0 {
		snap.ExpiryTime = time.Unix(0, exp)
	}
	return snap
}

// runLoaderShape runs the cache's single configured loader against key and
// returns its outcome, adapting whichever of the three single-key shapes
// is configured onto one (value, error) result. It must only be called by
// a load's leader goroutine.
func (c *cache[K, V]) runLoaderShape(ctx context.Context, key K, rec *loadgroup.Record[K, V], snapshot *EntrySnapshot[K, V]) (V, error) {
	switch {
	case c.opt.Loader != nil:
		v, err := c.opt.Loader(ctx, key)
		return c.checkNull(v, err)

	case c.opt.AdvancedLoader != nil:
		v, err := c.opt.AdvancedLoader(ctx, key, rec.Start, snapshot)
		return c.checkNull(v, err)

	case c.opt.AsyncLoader != nil:
		lc := newLoaderContext[K, V](key, nil, rec.Start, c.public, snapshot)
		defer lc.close()
		// The callback completes a private record; finishLoad then delivers
		// the (null-checked, possibly put-overridden) outcome to rec.
		inner := c.group.ForceJoin(key, rec.Shape)
		cb := inner.NewCallback()
		c.opt.AsyncLoader(ctx, key, lc, cb)
		select {
		case o := <-inner.AddWaiter():
			return c.checkNull(o.Value, o.Err)
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}

	default:
		var zero V
		return zero, ErrNoLoader
	}
}

// finishLoad applies a completed single-key load's outcome to the cache's
// storage and side-table, then delivers it to every waiter exactly once.
// When a Put raced the load and marked it overridden, the loader's own
// outcome is discarded for waiter-delivery purposes: the put value wins,
// and storage already holds it.
func (c *cache[K, V]) finishLoad(key K, rec *loadgroup.Record[K, V], value V, err error, force bool) (V, error) {
	st := c.stateFor(key)

	st.mu.Lock()
	overridden := st.overridden
	overrideValue := st.overrideValue
	st.overridden = false
	st.mu.Unlock()

	reportedErr := err
	if overridden {
		value, err = overrideValue, nil
	} else if err == nil {
		c.storeLoaded(key, value)
	}

	if err != nil {
		c.recordFailure(st, err)
	} else {
		st.recordSuccess(value)
	}
	c.opt.Metrics.ObserveLoad(rec.Shape.String(), time.Since(rec.Start), reportedErr)

	_ = rec.Complete(value, err)
	if !force {
		c.group.Release(key, rec)
	}
	return value, err
}

func (c *cache[K, V]) storeLoaded(k K, v V) {
	s := c.getShard(k)
	s.Set(k, v, c.defaultDeadline(), c.costOf(v))
}

// dispatchSingle resolves key via the configured single-key loader shape,
// coalescing with any in-flight load unless force is set (reloadAll's
// always-new-load contract). The leader's loader call is offloaded to
// c.loaderExec; when the executor is saturated (Submit returns false) it
// runs on the calling goroutine instead, the documented saturation
// fallback. Leader and followers both then wait on the record the same
// way, since the loader may now be running on a different goroutine than
// the one that calls dispatchSingle.
func (c *cache[K, V]) dispatchSingle(ctx context.Context, key K, force bool) (V, error) {
	shape := c.singleShape()

	var rec *loadgroup.Record[K, V]
	var leader bool
	if force {
		rec = c.group.ForceJoin(key, shape)
		leader = true
	} else {
		rec, leader = c.group.Join(key, shape)
	}

	if leader {
		run := func() {
			snapshot := c.snapshotFor(key)
			value, err := c.runLoaderShape(ctx, key, rec, snapshot)
			c.finishLoad(key, rec, value, err, force)
		}
		if !c.loaderExec.Submit(run) {
			run()
		}
	}

	select {
	case o := <-rec.AddWaiter():
		return o.Value, o.Err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// dispatchBulk resolves keys via the configured bulk loader shape using
// internal/bulk's fan-in/fan-out, and waits on every key's record
// (leaders and followers alike) before returning.
func (c *cache[K, V]) dispatchBulk(ctx context.Context, keys []K, force bool) map[K]loadgroup.Outcome[V] {
	shape := c.bulkShape()

	seen := make(map[K]struct{}, len(keys))
	uniq := make([]K, 0, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; !dup {
			seen[k] = struct{}{}
			uniq = append(uniq, k)
		}
	}
	keys = uniq

	var records map[K]*loadgroup.Record[K, V]
	var lc *LoaderContext[K, V]
	if c.opt.AsyncBulkLoader != nil {
		records, _ = bulk.DispatchAsync(ctx, &c.group, keys, shape, force,
			func(ctx context.Context, ks []K, cb *bulk.Callback[K, V]) {
				lc = newLoaderContext[K, V](ks[0], ks, time.Now(), c.public, c.snapshotFor(ks[0]))
				c.opt.AsyncBulkLoader(ctx, ks, lc, cb)
			})
	} else {
		records, _ = bulk.DispatchSync(ctx, &c.group, keys, shape, force,
			func(ctx context.Context, ks []K) (map[K]V, error) {
				return c.opt.BulkLoader(ctx, ks)
			})
	}

	out := make(map[K]loadgroup.Outcome[V], len(keys))
	for _, k := range keys {
		rec := records[k]
		if o, done := rec.Completed(); done {
			out[k] = c.applyBulkOutcome(k, o, rec.Start)
			continue
		}
		select {
		case o := <-rec.AddWaiter():
			out[k] = c.applyBulkOutcome(k, o, rec.Start)
		case <-ctx.Done():
			out[k] = loadgroup.Outcome[V]{Err: ctx.Err()}
		}
	}
	if lc != nil {
		lc.close()
	}
	return out
}

// applyBulkOutcome mirrors finishLoad's storage/state bookkeeping for a
// key resolved through the bulk path. internal/bulk already delivered the
// Outcome to the record; this only updates the cache's own storage and
// side-table, which bulk has no visibility into.
func (c *cache[K, V]) applyBulkOutcome(k K, o loadgroup.Outcome[V], start time.Time) loadgroup.Outcome[V] {
	st := c.stateFor(k)

	st.mu.Lock()
	overridden := st.overridden
	overrideValue := st.overrideValue
	st.overridden = false
	st.mu.Unlock()

	o.Value, o.Err = c.checkNull(o.Value, o.Err)
	if overridden {
		o = loadgroup.Outcome[V]{Value: overrideValue, Err: nil}
	} else if o.Err == nil {
		c.storeLoaded(k, o.Value)
	}

	if o.Err != nil {
		c.recordFailure(st, o.Err)
	} else {
		st.recordSuccess(o.Value)
	}
	c.opt.Metrics.ObserveLoad(c.bulkShape().String(), time.Since(start), o.Err)
	return o
}

func (c *cache[K, V]) recordFailure(st *loadState[K, V], err error) {
	st.recordFailure(err, c.now(), c.resiliencePolicy)
}
