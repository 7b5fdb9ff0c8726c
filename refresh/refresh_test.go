package refresh

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/loadcache/internal/executor"
)

func TestDriver_ShouldRefresh(t *testing.T) {
	d := New[string, int](Config{Enabled: true, Threshold: time.Second}, executor.Inline{})

	now := time.Now()
	require.False(t, d.ShouldRefresh(now, time.Time{}), "no-TTL entries must never refresh")
	require.False(t, d.ShouldRefresh(now, now.Add(10*time.Second)), "far-from-expiry entries must not refresh yet")
	require.True(t, d.ShouldRefresh(now, now.Add(500*time.Millisecond)), "near-expiry entries must refresh")
}

func TestDriver_DisabledNeverRefreshes(t *testing.T) {
	d := New[string, int](Config{Enabled: false, Threshold: time.Hour}, executor.Inline{})
	now := time.Now()
	require.False(t, d.ShouldRefresh(now, now.Add(time.Millisecond)), "disabled driver must never refresh")
}

func TestDriver_TriggerDoesNotBlockCaller(t *testing.T) {
	d := New[string, int](Config{Enabled: true, Threshold: time.Second}, executor.NewPool(2))

	var ran int32
	done := make(chan struct{})
	start := time.Now()
	d.Trigger(context.Background(), "k", func(ctx context.Context, key string) {
		time.Sleep(50 * time.Millisecond)
		atomic.StoreInt32(&ran, 1)
		close(done)
	})
	require.LessOrEqual(t, time.Since(start), 10*time.Millisecond, "Trigger must return immediately")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reload never ran")
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&ran), "reload did not run")
}
