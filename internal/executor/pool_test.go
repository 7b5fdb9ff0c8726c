package executor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_RunsWithinCapacity(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	var running int32
	var maxSeen int32
	release := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 2; i++ {
		wg.Add(1)
		ok := p.Submit(func() {
			defer wg.Done()
			n := atomic.AddInt32(&running, 1)
			for {
				cur := atomic.LoadInt32(&maxSeen)
				if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
		})
		if !ok {
			t.Fatal("Submit should be accepted within capacity")
		}
	}

	if p.Submit(func() {}) {
		t.Fatal("Submit should reject work beyond capacity")
	}

	close(release)
	wg.Wait()
}

func TestPool_CloseWaitsForInFlight(t *testing.T) {
	p := NewPool(2)
	done := make(chan struct{})
	p.Submit(func() {
		time.Sleep(20 * time.Millisecond)
		close(done)
	})

	p.Close()
	select {
	case <-done:
	default:
		t.Fatal("Close must wait for in-flight work")
	}
}

func TestPool_SpawnBypassesSaturation(t *testing.T) {
	p := NewPool(MinPoolSize)
	for i := 0; i < MinPoolSize; i++ {
		block := make(chan struct{})
		p.Submit(func() { <-block })
		defer close(block)
	}

	var ran int32
	done := make(chan struct{})
	p.Spawn(func() {
		atomic.StoreInt32(&ran, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Spawn must run even when the pool is saturated")
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatal("spawned work did not run")
	}
}
