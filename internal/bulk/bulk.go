// Package bulk fans a single bulk loader call out across the per-key load
// records of a loadgroup.Group, and fans a bulk result (or failure) back
// in to each key's own completion. It is the fan-in/fan-out half of the
// loading core: the part that groups the keys not already loading into
// exactly one bulk call, and makes sure a key requested but missing from
// the loader's result is treated as a per-key failure rather than a
// silent no-op.
package bulk

import (
	"context"
	"fmt"
	"sync"

	"github.com/IvanBrykalov/loadcache/internal/loadgroup"
)

// MissingKeyError is the per-key failure for a key that a bulk loader did
// not cover: requested, but absent from the returned mapping, or never
// completed by the async callback's whole-bulk methods.
type MissingKeyError[K comparable] struct{ Key K }

func (e MissingKeyError[K]) Error() string {
	return fmt.Sprintf("loadcache: bulk loader result missing key %v", e.Key)
}

// join resolves the Record for each key, either coalescing (force=false)
// with an existing in-flight load or creating a brand-new one unconditionally
// (force=true, reloadAll's contract), and reports which keys became
// leaders and must actually be dispatched to the bulk loader.
func join[K comparable, V any](g *loadgroup.Group[K, V], keys []K, shape loadgroup.Shape, force bool) (records map[K]*loadgroup.Record[K, V], leaders []K) {
	records = make(map[K]*loadgroup.Record[K, V], len(keys))
	leaders = make([]K, 0, len(keys))
	for _, k := range keys {
		var rec *loadgroup.Record[K, V]
		var isLeader bool
		if force {
			rec = g.ForceJoin(k, shape)
			isLeader = true
		} else {
			rec, isLeader = g.Join(k, shape)
		}
		records[k] = rec
		if isLeader {
			leaders = append(leaders, k)
		}
	}
	return records, leaders
}

func release[K comparable, V any](g *loadgroup.Group[K, V], force bool, k K, rec *loadgroup.Record[K, V]) {
	if !force {
		g.Release(k, rec)
	}
}

// SyncLoader is the bulk sync loader shape: it fetches a mapping for a key
// set in one call. A key absent from the returned map is itself a per-key
// failure (MissingKeyError), never a silent no-op.
type SyncLoader[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

// DispatchSync partitions keys into those that join an in-flight load and
// those that become leaders, issues exactly one loader call for the
// leaders (unless force is true, in which case every key is a leader —
// reloadAll's "always schedules an additional load" contract), and routes
// the resulting mapping/error back to each leader's Record. Waiters of
// non-leader keys are unaffected here; they already observe the
// in-flight load's own completion. Callers must deduplicate keys before
// calling DispatchSync.
func DispatchSync[K comparable, V any](
	ctx context.Context,
	g *loadgroup.Group[K, V],
	keys []K,
	shape loadgroup.Shape,
	force bool,
	fn SyncLoader[K, V],
) (records map[K]*loadgroup.Record[K, V], dispatched []K) {
	records, leaders := join(g, keys, shape, force)
	if len(leaders) == 0 {
		return records, leaders
	}

	result, err := fn(ctx, leaders)
	for _, k := range leaders {
		rec := records[k]
		var completeErr error
		switch {
		case err != nil:
			completeErr = err
		default:
			if v, ok := result[k]; ok {
				_ = rec.Complete(v, nil)
				release(g, force, k, rec)
				continue
			}
			completeErr = MissingKeyError[K]{Key: k}
		}
		var zero V
		_ = rec.Complete(zero, completeErr)
		release(g, force, k, rec)
	}
	return records, leaders
}

// Callback is handed to an async bulk loader. Each key may be completed at
// most once via OnKeySuccess/OnKeyFailure; OnBulkSuccess/OnBulkFailure
// complete every key still pending in one sweep (keys missing from an
// OnBulkSuccess mapping become MissingKeyError). OnKeySuccess/OnKeyFailure
// for a key already completed reports loadgroup.ErrDoubleCompletion and
// has no further effect, like the single-key callback. OnBulkSuccess/
// OnBulkFailure return nothing: they skip keys already completed without
// reporting them.
type Callback[K comparable, V any] struct {
	mu        sync.Mutex
	remaining map[K]*loadgroup.Record[K, V]
	release   func(K, *loadgroup.Record[K, V])
}

func newCallback[K comparable, V any](leaders map[K]*loadgroup.Record[K, V], release func(K, *loadgroup.Record[K, V])) *Callback[K, V] {
	remaining := make(map[K]*loadgroup.Record[K, V], len(leaders))
	for k, r := range leaders {
		remaining[k] = r
	}
	return &Callback[K, V]{remaining: remaining, release: release}
}

// OnKeySuccess completes key k with value v.
func (c *Callback[K, V]) OnKeySuccess(k K, v V) error { return c.completeOne(k, v, nil) }

// OnKeyFailure completes key k with err.
func (c *Callback[K, V]) OnKeyFailure(k K, err error) error {
	var zero V
	return c.completeOne(k, zero, err)
}

func (c *Callback[K, V]) completeOne(k K, v V, err error) error {
	c.mu.Lock()
	rec, ok := c.remaining[k]
	if !ok {
		c.mu.Unlock()
		return loadgroup.ErrDoubleCompletion
	}
	delete(c.remaining, k)
	c.mu.Unlock()
	cerr := rec.Complete(v, err)
	c.release(k, rec)
	return cerr
}

// OnBulkSuccess completes every still-pending key from result, and any
// pending key absent from result with MissingKeyError.
func (c *Callback[K, V]) OnBulkSuccess(result map[K]V) {
	c.completeRemaining(func(k K) (V, error) {
		if v, ok := result[k]; ok {
			return v, nil
		}
		var zero V
		return zero, MissingKeyError[K]{Key: k}
	})
}

// OnBulkFailure completes every still-pending key with err.
func (c *Callback[K, V]) OnBulkFailure(err error) {
	c.completeRemaining(func(K) (V, error) {
		var zero V
		return zero, err
	})
}

func (c *Callback[K, V]) completeRemaining(resolve func(K) (V, error)) {
	c.mu.Lock()
	rest := c.remaining
	c.remaining = map[K]*loadgroup.Record[K, V]{}
	c.mu.Unlock()

	for k, rec := range rest {
		v, err := resolve(k)
		_ = rec.Complete(v, err)
		c.release(k, rec)
	}
}

// AsyncLoader is the bulk async loader shape: it may complete keys via any
// mix of the Callback's four methods, synchronously from within the call
// to fn or later from another goroutine.
type AsyncLoader[K comparable, V any] func(ctx context.Context, keys []K, cb *Callback[K, V])

// DispatchAsync is DispatchSync's async-callback counterpart: it joins
// keys the same way, then invokes fn once with a Callback pre-seeded with
// every leader key as pending.
func DispatchAsync[K comparable, V any](
	ctx context.Context,
	g *loadgroup.Group[K, V],
	keys []K,
	shape loadgroup.Shape,
	force bool,
	fn AsyncLoader[K, V],
) (records map[K]*loadgroup.Record[K, V], dispatched []K) {
	records, leaders := join(g, keys, shape, force)
	if len(leaders) == 0 {
		return records, leaders
	}

	leaderRecords := make(map[K]*loadgroup.Record[K, V], len(leaders))
	for _, k := range leaders {
		leaderRecords[k] = records[k]
	}
	cb := newCallback(leaderRecords, func(k K, rec *loadgroup.Record[K, V]) { release(g, force, k, rec) })
	fn(ctx, leaders, cb)
	return records, leaders
}
