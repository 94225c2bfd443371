package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flowlog/internal/memtracker"
	"flowlog/internal/record"
	"flowlog/pkg/flowid"
)

func buildBatch(t *testing.T, baseOffset uint64, n int, payload string) *record.RetainedMessageBatch {
	t.Helper()
	bld := record.NewBuilder(baseOffset, 64)
	for i := 0; i < n; i++ {
		msg := &record.RetainedMessage{
			Offset:    baseOffset + uint64(i),
			Timestamp: 1000 + uint64(i),
			ID:        flowid.New(),
			Payload:   []byte(payload),
		}
		bld.AddEncoded(msg)
	}
	batch, err := bld.Build()
	require.NoError(t, err)
	return batch
}

func TestCacheScanHitsWithinCachedRange(t *testing.T) {
	c := New(memtracker.Init(1 << 20))
	b := buildBatch(t, 0, 5, "hello")
	c.Append(b)

	msgs, ok := c.Scan(1, 3)
	require.True(t, ok)
	require.Len(t, msgs, 3)
	require.Equal(t, uint64(1), msgs[0].Offset)
	require.Equal(t, uint64(3), msgs[2].Offset)
}

func TestCacheScanMissesOutsideCachedRange(t *testing.T) {
	c := New(memtracker.Init(1 << 20))
	c.Append(buildBatch(t, 10, 5, "hello"))

	_, ok := c.Scan(0, 3)
	require.False(t, ok)
}

func TestCacheAppendEvictsHeadUnderMemoryPressure(t *testing.T) {
	tracker := memtracker.Init(1)
	c := New(tracker)

	c.Append(buildBatch(t, 0, 1, "x"))
	require.Equal(t, 1, c.Len())

	c.Append(buildBatch(t, 1, 1, "y"))
	require.Equal(t, 1, c.Len(), "oldest batch should have been evicted to make room")

	offset, ok := c.Oldest()
	require.True(t, ok)
	require.Equal(t, uint64(1), offset)
}

func TestNewestBatchesBySizeReturnsSuffixWithinBudget(t *testing.T) {
	c := New(memtracker.Init(1 << 20))
	c.Append(buildBatch(t, 0, 1, "aaaaaaaaaa"))
	c.Append(buildBatch(t, 1, 1, "bbbbbbbbbb"))
	c.Append(buildBatch(t, 2, 1, "cccccccccc"))

	batches, ok := c.NewestBatchesBySize(uint64(buildBatch(t, 0, 1, "aaaaaaaaaa").SizeBytes()))
	require.True(t, ok)
	require.Len(t, batches, 1)
	require.Equal(t, uint64(2), batches[0].BaseOffset)
}

func TestNewestBatchesBySizeMissesWhenCachedRunIsSmallerThanBudget(t *testing.T) {
	c := New(memtracker.Init(1 << 20))
	single := buildBatch(t, 0, 1, "aaaaaaaaaa")
	c.Append(single)

	_, ok := c.NewestBatchesBySize(uint64(single.SizeBytes()) * 10)
	require.False(t, ok, "the entire cache was consumed without filling the budget, so the caller must fall back to disk")
}
