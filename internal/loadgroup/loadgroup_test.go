package loadgroup

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGroup_JoinCoalesces(t *testing.T) {
	var g Group[string, int]

	rec1, leader1 := g.Join("k", ShapeSyncSingle)
	require.True(t, leader1, "first Join must be leader")
	rec2, leader2 := g.Join("k", ShapeSyncSingle)
	require.False(t, leader2, "second Join must be a follower")
	require.Same(t, rec1, rec2, "followers must observe the same record")

	ch := rec2.AddWaiter()
	require.NoError(t, rec1.Complete(42, nil))
	o := <-ch
	require.Equal(t, 42, o.Value)
	require.NoError(t, o.Err)

	g.Release("k", rec1)
	_, ok := g.Peek("k")
	require.False(t, ok, "record must be released")
}

func TestGroup_ForceJoinAlwaysNew(t *testing.T) {
	var g Group[string, int]

	rec1, _ := g.Join("k", ShapeSyncSingle)
	rec2 := g.ForceJoin("k", ShapeSyncSingle)
	rec3 := g.ForceJoin("k", ShapeSyncSingle)

	require.NotSame(t, rec1, rec2, "ForceJoin must never return an existing record")
	require.NotSame(t, rec2, rec3, "ForceJoin must never return an existing record")

	_, ok := g.Peek("k")
	require.True(t, ok, "ForceJoin must not disturb the group's existing registration")
}

func TestRecord_AddWaiterAfterComplete(t *testing.T) {
	var g Group[string, int]
	rec, _ := g.Join("k", ShapeSyncSingle)

	require.NoError(t, rec.Complete(7, nil))

	ch := rec.AddWaiter()
	select {
	case o := <-ch:
		require.Equal(t, 7, o.Value)
	case <-time.After(time.Second):
		t.Fatal("late waiter must be served immediately")
	}
}

func TestRecord_DoubleCompleteIsIdempotent(t *testing.T) {
	var g Group[string, int]
	rec, _ := g.Join("k", ShapeSyncSingle)

	require.NoError(t, rec.Complete(1, nil))
	require.ErrorIs(t, rec.Complete(2, nil), ErrDoubleCompletion)

	o, done := rec.Completed()
	require.True(t, done)
	require.Equal(t, 1, o.Value, "state must reflect the first completion only")
}

func TestCallback_DoubleFireIsIdempotent(t *testing.T) {
	var g Group[string, int]
	rec, _ := g.Join("k", ShapeAsyncSingle)
	cb := rec.NewCallback()

	require.NoError(t, cb.OnSuccess(5))
	require.ErrorIs(t, cb.OnFailure(nil), ErrDoubleCompletion)

	o, done := rec.Completed()
	require.True(t, done)
	require.Equal(t, 5, o.Value)
	require.NoError(t, o.Err)
}

func TestGroup_WaitersAllReceiveOneCompletion(t *testing.T) {
	var g Group[string, int]
	rec, _ := g.Join("k", ShapeSyncSingle)

	const n = 50
	chans := make([]<-chan Outcome[int], n)
	for i := range chans {
		chans[i] = rec.AddWaiter()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = rec.Complete(9, nil)
	}()
	wg.Wait()

	for _, ch := range chans {
		o := <-ch
		require.Equal(t, 9, o.Value)
	}
}
