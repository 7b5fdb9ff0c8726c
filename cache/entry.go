package cache

// entryState classifies the resident status of a key as observed at a
// point in time. It is a derived view, not a stored field: Present/Absent
// comes from the shard's own map, Loading/Refreshing comes from the
// loadgroup.Group, and Exceptional comes from the per-key loadState
// side-table. Combining the three avoids threading loading bookkeeping
// through the shard's hot LRU/eviction path.
type entryState int32

const (
	stateEmpty entryState = iota
	stateLoading
	stateRefreshing
	statePresent
	stateExceptional
)

func (s entryState) String() string {
	switch s {
	case stateLoading:
		return "loading"
	case stateRefreshing:
		return "refreshing"
	case statePresent:
		return "present"
	case stateExceptional:
		return "exceptional"
	default:
		return "empty"
	}
}

// entryStateFor derives k's current entryState from the three places that
// together know about it: shard residency, the load group, and the
// resilience side-table. Loading takes priority over a resident stale
// value (a refresh-ahead reload in flight is reported as Refreshing, not
// Present), and an unsuppressed exception with no stale value left is
// Exceptional rather than Empty.
func (c *cache[K, V]) entryStateFor(k K) entryState {
	_, loading := c.group.Peek(k)

	st, hasState := c.peekState(k)
	refreshing := false
	if hasState {
		st.mu.Lock()
		refreshing = st.refreshing
		st.mu.Unlock()
	}

	switch {
	case refreshing:
		return stateRefreshing
	case loading:
		return stateLoading
	}

	if _, _, exists := c.getShard(k).Inspect(k); exists {
		return statePresent
	}
	if hasState {
		if err, _ := st.exceptional(c.now()); err != nil {
			return stateExceptional
		}
	}
	return stateEmpty
}
