// Package executor provides the small set of function-typed execution
// backends the loading core dispatches work onto: an inline executor that
// runs on the caller goroutine, and a bounded Pool for offloaded loader
// and refresh work. Configuration is by value injection (an Executor), not
// subclassing, the way shardcache's Options already injects Policy,
// Metrics, and Clock.
package executor

// Executor runs fn somewhere. Submit reports whether fn was accepted; a
// false return means the executor is saturated and the caller must decide
// what to do next (run fn inline, spawn an unmanaged goroutine, etc.) —
// Executor never queues unbounded work on the caller's behalf.
type Executor interface {
	Submit(fn func()) bool
}

// Inline runs fn synchronously on the calling goroutine. It is always
// accepted, so Submit never returns false. refresh.New uses it when given
// no executor; cache.New defaults to a Pool, and Get's saturation
// fallback calls the loader directly rather than through Inline.
type Inline struct{}

// Submit runs fn on the caller goroutine and returns true.
func (Inline) Submit(fn func()) bool {
	fn()
	return true
}
