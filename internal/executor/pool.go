package executor

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// MinPoolSize is the minimum worker count for a pool-backed executor
// (mirrors the loading core's "loader-thread-count minimum >= 2 for pool
// defaults").
const MinPoolSize = 2

// Pool is a fixed-size worker pool gated by a weighted semaphore: Submit
// never blocks the submitter, it acquires a permit without waiting and
// reports false (saturated) if none is free. This hands the saturation
// decision back to the dispatcher instead of silently queuing unbounded
// work, matching the loading core's executor-saturation rule.
//
// golang.org/x/sync is already a direct dependency for errgroup in tests;
// semaphore.Weighted is its idiomatic bounded-concurrency primitive, used
// here instead of a hand-rolled channel-token pool.
type Pool struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	once   sync.Once
	closed chan struct{}
}

// NewPool constructs a Pool with the given worker capacity, clamped up to
// MinPoolSize.
func NewPool(size int) *Pool {
	if size < MinPoolSize {
		size = MinPoolSize
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), closed: make(chan struct{})}
}

// Submit runs fn on a pool worker if one is free, otherwise returns false
// immediately without running fn.
func (p *Pool) Submit(fn func()) bool {
	select {
	case <-p.closed:
		return false
	default:
	}
	if !p.sem.TryAcquire(1) {
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		fn()
	}()
	return true
}

// Spawn runs fn on an unmanaged goroutine, bypassing the semaphore. The
// dispatcher uses this for loadAll/reloadAll's saturation fallback: the
// caller's own goroutine must never block, and the returned future (not
// the caller) absorbs the load, so an extra transient goroutine is
// preferable to making the caller wait for a pool slot.
func (p *Pool) Spawn(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

// Close stops accepting new Submit calls and waits for in-flight work to
// finish. It never cancels already-running work; the loading core has no
// per-request cancellation, only close-time draining.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.closed) })
	p.wg.Wait()
}
