// Package refresh implements refresh-ahead: reloading a near-expiry entry
// in the background so a reader's Get never waits on loader latency. It is
// grounded on the same "fire a best-effort hook on a successful read
// without slowing the read path" shape as krisalay-in-memory-cache's
// refresh.Hook.OnRead, generalized from a fire-and-forget notification
// into a driver that actually schedules and completes the reload.
package refresh

import (
	"context"
	"time"

	"github.com/IvanBrykalov/loadcache/internal/executor"
)

// Config configures the refresh-ahead driver.
type Config struct {
	// Enabled turns refresh-ahead on. When false, Driver.ShouldRefresh
	// always returns false.
	Enabled bool
	// Threshold is how much remaining TTL triggers a refresh: an access
	// refreshes when now+Threshold >= expiry.
	Threshold time.Duration
}

// Driver decides when a Present entry should be refreshed ahead of expiry
// and runs the reload on its executor without blocking the reader that
// triggered it.
type Driver[K comparable, V any] struct {
	cfg Config
	exec executor.Executor
}

// New constructs a Driver. exec is the refresh executor (defaults to the
// loader executor at the cache layer if the caller didn't configure one).
func New[K comparable, V any](cfg Config, exec executor.Executor) *Driver[K, V] {
	if exec == nil {
		exec = executor.Inline{}
	}
	return &Driver[K, V]{cfg: cfg, exec: exec}
}

// ShouldRefresh reports whether an access to an entry expiring at expiry,
// observed at now, should trigger a refresh-ahead reload.
func (d *Driver[K, V]) ShouldRefresh(now, expiry time.Time) bool {
	if !d.cfg.Enabled || expiry.IsZero() {
		return false
	}
	return !now.Add(d.cfg.Threshold).Before(expiry)
}

// Trigger submits reload (which performs the actual load and swaps the
// entry on success) on the refresh executor. It never blocks the caller:
// if the executor is saturated, the reload is dropped for this access —
// the entry simply stays eligible for refresh on the next one, which is
// preferable to making the caller pay loader latency.
func (d *Driver[K, V]) Trigger(ctx context.Context, key K, reload func(ctx context.Context, key K)) {
	d.exec.Submit(func() { reload(ctx, key) })
}
