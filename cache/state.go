package cache

import (
	"sync"
	"time"
)

// loadState is the per-key side-table entry carrying everything about a
// key's loading history that the shard's node deliberately does not
// know about: the current exception (if any) and its resilience
// bookkeeping, whether a refresh-ahead reload is already outstanding, and
// a pending put-override for a load currently in flight. It is looked up
// by key independently of shard storage, keyed in cache.states.
type loadState[K comparable, V any] struct {
	mu sync.Mutex

	exc            error
	firstFailureAt time.Time
	loadTime       time.Time
	retryCount     int
	suppressUntil  time.Time
	retryAt        time.Time

	refreshing bool

	overridden    bool
	overrideValue V

	// hasStale/staleValue back keep-data-after-expired: the last
	// successfully loaded value, kept independently of shard eviction so a
	// concurrent load or a suppressed exception can still serve it.
	hasStale   bool
	staleValue V
}

// stateFor returns the loadState for k, creating one on first use.
// Slots are removed only by Remove (clearState); a successful load or a
// put keeps its slot, which holds the last known-good value. The
// side-table is therefore not bounded by Capacity: it keeps one slot for
// every key loaded, put or failed since that key's last Remove.
func (c *cache[K, V]) stateFor(k K) *loadState[K, V] {
	if v, ok := c.states.Load(k); ok {
		return v.(*loadState[K, V])
	}
	st := &loadState[K, V]{}
	actual, _ := c.states.LoadOrStore(k, st)
	return actual.(*loadState[K, V])
}

func (c *cache[K, V]) peekState(k K) (*loadState[K, V], bool) {
	v, ok := c.states.Load(k)
	if !ok {
		return nil, false
	}
	return v.(*loadState[K, V]), true
}

func (c *cache[K, V]) clearState(k K) {
	c.states.Delete(k)
}

// exceptional reports whether k currently has a suppressed exception in
// effect (an Exceptional read should be served from it) as of now.
func (st *loadState[K, V]) exceptional(now time.Time) (err error, suppressed bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.exc == nil {
		return nil, false
	}
	if !st.suppressUntil.IsZero() && now.Before(st.suppressUntil) {
		return st.exc, true
	}
	return st.exc, false
}

// recordFailure updates the side-table after a failed load and returns
// the resolved suppression/retry instants for this failure via policy.
func (st *loadState[K, V]) recordFailure(err error, loadTime time.Time, pol resiliencePolicy) (suppressUntil, retryAt time.Time, retryCount int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.exc == nil {
		st.firstFailureAt = loadTime
		st.retryCount = 0
	} else {
		st.retryCount++
	}
	st.exc = err
	st.loadTime = loadTime
	st.suppressUntil = pol.SuppressUntil(loadTime, st.firstFailureAt, st.retryCount)
	st.retryAt = pol.RetryAfter(loadTime, st.retryCount)
	return st.suppressUntil, st.retryAt, st.retryCount
}

// recordSuccess clears any prior exception bookkeeping and records the
// value as the latest known-good one for keep-data-after-expired.
func (st *loadState[K, V]) recordSuccess(v V) {
	st.mu.Lock()
	st.exc = nil
	st.firstFailureAt = time.Time{}
	st.retryCount = 0
	st.suppressUntil = time.Time{}
	st.retryAt = time.Time{}
	st.hasStale = true
	st.staleValue = v
	st.mu.Unlock()
}

// stale returns the last known-good value, if any, for keep-data-after-
// expired reads.
func (st *loadState[K, V]) stale() (V, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.staleValue, st.hasStale
}

// resiliencePolicy is the subset of resilience.Policy the state table
// needs; declared locally so state.go does not import the resilience
// package directly (dispatch.go passes the cache's configured policy in).
type resiliencePolicy interface {
	SuppressUntil(loadTime, firstFailureAt time.Time, retryCount int) time.Time
	RetryAfter(loadTime time.Time, retryCount int) time.Time
}
