package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flowlog/pkg/flowid"
)

func TestTryInsertRejectsDuplicate(t *testing.T) {
	s := New(10)
	id := flowid.New()

	require.True(t, s.TryInsert(id))
	require.False(t, s.TryInsert(id))
	require.Equal(t, 1, s.Len())
}

func TestTryInsertEvictsOldestOnCapacity(t *testing.T) {
	s := New(2)
	a, b, c := flowid.New(), flowid.New(), flowid.New()

	require.True(t, s.TryInsert(a))
	require.True(t, s.TryInsert(b))
	require.True(t, s.TryInsert(c)) // evicts a
	require.Equal(t, 2, s.Len())

	// a was evicted by insertion order, so it is accepted again; that
	// insertion in turn evicts b (now the oldest of [b, c]).
	require.True(t, s.TryInsert(a))
	require.False(t, s.TryInsert(c)) // c survived, still a duplicate
	require.True(t, s.TryInsert(b))  // b was evicted, so it's fresh again
}

func TestZeroCapacityDisablesDedup(t *testing.T) {
	s := New(0)
	id := flowid.New()

	require.True(t, s.TryInsert(id))
	require.True(t, s.TryInsert(id))
	require.Equal(t, 0, s.Len())
}
