package bulk

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/loadcache/internal/loadgroup"
)

func TestDispatchSync_MissingKeyBecomesFailure(t *testing.T) {
	var g loadgroup.Group[string, int]

	records, leaders := DispatchSync(context.Background(), &g, []string{"a", "b"}, loadgroup.ShapeSyncBulk, false,
		func(_ context.Context, keys []string) (map[string]int, error) {
			return map[string]int{"a": 1}, nil
		})

	require.Len(t, leaders, 2)
	oa, _ := records["a"].Completed()
	require.NoError(t, oa.Err)
	require.Equal(t, 1, oa.Value)
	ob, _ := records["b"].Completed()
	require.IsType(t, MissingKeyError[string]{}, ob.Err)
}

func TestDispatchSync_WholeBulkFailureFailsEveryPendingKey(t *testing.T) {
	var g loadgroup.Group[string, int]
	boom := errSentinel("boom")

	records, _ := DispatchSync(context.Background(), &g, []string{"a", "b", "c"}, loadgroup.ShapeSyncBulk, false,
		func(_ context.Context, keys []string) (map[string]int, error) {
			return nil, boom
		})

	for _, k := range []string{"a", "b", "c"} {
		o, _ := records[k].Completed()
		require.Equal(t, boom, o.Err, "key %s", k)
	}
}

type errSentinel string

func (e errSentinel) Error() string { return string(e) }

func TestDispatchSync_OverlappingRequestsSplitToNewKeysOnly(t *testing.T) {
	var g loadgroup.Group[string, int]

	// {a,b} starts loading and never completes during this test.
	block := make(chan struct{})
	go func() {
		<-block
	}()
	var dispatchedFirst []string
	firstDone := make(chan struct{})
	go func() {
		_, leaders := DispatchSync(context.Background(), &g, []string{"a", "b"}, loadgroup.ShapeSyncBulk, false,
			func(_ context.Context, keys []string) (map[string]int, error) {
				dispatchedFirst = append(dispatchedFirst, keys...)
				<-block // hold the bulk call open so {a,b} stay in flight
				return map[string]int{"a": 1, "b": 2}, nil
			})
		_ = leaders
		close(firstDone)
	}()

	// Give the first dispatch a chance to register a,b as in-flight.
	waitUntilInFlight(t, &g, "a")
	waitUntilInFlight(t, &g, "b")

	var secondLeaders []string
	_, secondLeaders = DispatchSync(context.Background(), &g, []string{"a", "b", "c"}, loadgroup.ShapeSyncBulk, false,
		func(_ context.Context, keys []string) (map[string]int, error) {
			return map[string]int{"c": 3}, nil
		})

	sort.Strings(secondLeaders)
	require.Equal(t, []string{"c"}, secondLeaders, "second dispatch must only carry the new key {c}")

	close(block)
	<-firstDone
}

func waitUntilInFlight[K comparable, V any](t *testing.T, g *loadgroup.Group[K, V], key K) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		if _, ok := g.Peek(key); ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("key %v never became in-flight", key)
}

func TestDispatchAsync_PerKeyAndWholeBulk(t *testing.T) {
	var g loadgroup.Group[string, int]

	records, _ := DispatchAsync(context.Background(), &g, []string{"a", "b", "c"}, loadgroup.ShapeAsyncBulk, false,
		func(_ context.Context, keys []string, cb *Callback[string, int]) {
			_ = cb.OnKeySuccess("a", 1)
			cb.OnBulkSuccess(map[string]int{"b": 2})
			// "c" was neither mentioned individually nor in the bulk map,
			// so OnBulkSuccess must fail it with MissingKeyError.
		})

	oa, _ := records["a"].Completed()
	require.Equal(t, 1, oa.Value)
	require.NoError(t, oa.Err)
	ob, _ := records["b"].Completed()
	require.Equal(t, 2, ob.Value)
	require.NoError(t, ob.Err)
	oc, _ := records["c"].Completed()
	require.IsType(t, MissingKeyError[string]{}, oc.Err)
}

func TestCallback_DoubleCompleteSameKey(t *testing.T) {
	var g loadgroup.Group[string, int]

	var secondErr error
	DispatchAsync(context.Background(), &g, []string{"a"}, loadgroup.ShapeAsyncBulk, false,
		func(_ context.Context, keys []string, cb *Callback[string, int]) {
			_ = cb.OnKeySuccess("a", 1)
			secondErr = cb.OnKeySuccess("a", 2)
		})

	require.ErrorIs(t, secondErr, loadgroup.ErrDoubleCompletion)
}

func TestDispatchSync_ForceAlwaysDispatchesEveryKey(t *testing.T) {
	var g loadgroup.Group[string, int]
	g.Join("a", loadgroup.ShapeSyncBulk) // simulate an in-flight load for "a"

	_, leaders := DispatchSync(context.Background(), &g, []string{"a", "b"}, loadgroup.ShapeSyncBulk, true,
		func(_ context.Context, keys []string) (map[string]int, error) {
			return map[string]int{"a": 1, "b": 2}, nil
		})

	sort.Strings(leaders)
	require.Len(t, leaders, 2, "force must make every key a leader")
}
