package partition

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"flowlog/internal/memtracker"
	"flowlog/internal/record"
	"flowlog/internal/segment"
	"flowlog/pkg/flowid"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SegmentConfig = segment.Config{
		SegmentMaxBytes:     1 << 20,
		OffsetIndexMaxBytes: 1 << 16,
		TimeIndexMaxBytes:   1 << 16,
	}
	cfg.DedupCapacity = 100
	cfg.OpenSegmentCacheCapacity = 10
	return cfg
}

func openTestPartition(t *testing.T, cfg Config) *Partition {
	t.Helper()
	openCache := segment.NewOpenCache(cfg.OpenSegmentCacheCapacity)
	t.Cleanup(openCache.Close)

	p, err := Open(t.TempDir(), "events", 0, cfg, openCache, memtracker.Init(1<<30), log.NewNopLogger())
	require.NoError(t, err)
	return p
}

func msgs(payloads ...string) []record.Message {
	out := make([]record.Message, len(payloads))
	for i, p := range payloads {
		out[i] = record.Message{ID: flowid.New(), Payload: []byte(p)}
	}
	return out
}

func TestPartitionAppendAndGetMessagesByOffset(t *testing.T) {
	p := openTestPartition(t, testConfig())

	result, err := p.Append(msgs("a", "b", "c"))
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1, 2}, result.Offsets)
	require.Equal(t, 0, result.Duplicates)

	out, err := p.GetMessagesByOffset(0, 3)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, "a", string(out[0].Payload))
	require.Equal(t, "c", string(out[2].Payload))
}

func TestPartitionDeduplicatesRepeatedID(t *testing.T) {
	p := openTestPartition(t, testConfig())

	id := flowid.New()
	_, err := p.Append([]record.Message{{ID: id, Payload: []byte("first")}})
	require.NoError(t, err)

	result, err := p.Append([]record.Message{{ID: id, Payload: []byte("dup")}, {ID: flowid.New(), Payload: []byte("new")}})
	require.NoError(t, err)
	require.Equal(t, 1, result.Duplicates)
	require.Equal(t, []uint64{1}, result.Offsets)
}

func TestPartitionGetFirstAndLastMessages(t *testing.T) {
	p := openTestPartition(t, testConfig())
	_, err := p.Append(msgs("a", "b", "c", "d", "e"))
	require.NoError(t, err)

	first, err := p.GetFirstMessages(2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, "a", string(first[0].Payload))

	last, err := p.GetLastMessages(2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	require.Equal(t, "e", string(last[1].Payload))
}

func TestPartitionConsumerOffsetCommitAndGetNextMessages(t *testing.T) {
	p := openTestPartition(t, testConfig())
	_, err := p.Append(msgs("a", "b", "c"))
	require.NoError(t, err)

	consumer := PollingConsumer{Kind: ConsumerIndividual, ID: "c1"}

	first, err := p.GetNextMessages(consumer, 10)
	require.NoError(t, err)
	require.Len(t, first, 3)

	p.StoreConsumerOffset(consumer, first[0].Offset)
	rest, err := p.GetNextMessages(consumer, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.Equal(t, "b", string(rest[0].Payload))
}

func TestPartitionRollsSegmentWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.SegmentConfig.SegmentMaxBytes = 96 // room for one tiny batch, so every later append rolls
	p := openTestPartition(t, cfg)

	for i := 0; i < 10; i++ {
		_, err := p.Append(msgs("x"))
		require.NoError(t, err)
	}

	require.NotEmpty(t, p.closedOffsets, "expected at least one segment roll")

	out, err := p.GetMessagesByOffset(0, 10)
	require.NoError(t, err)
	require.Len(t, out, 10)
	for i, m := range out {
		require.Equal(t, uint64(i), m.Offset)
	}
}

func TestPartitionGetMessagesByTimestampFindsFloor(t *testing.T) {
	p := openTestPartition(t, testConfig())
	mock := clock.NewMock()
	mock.Set(time.Now())
	p.clock = mock

	_, err := p.Append(msgs("early"))
	require.NoError(t, err)
	mock.Add(time.Second)
	_, err = p.Append(msgs("late"))
	require.NoError(t, err)

	lateTs := uint64(mock.Now().UnixMicro())
	out, err := p.GetMessagesByTimestamp(lateTs, 10)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	require.Equal(t, "late", string(out[0].Payload))
}

func TestPartitionGetNewestMessagesBySizeSpansSegments(t *testing.T) {
	cfg := testConfig()
	cfg.SegmentConfig.SegmentMaxBytes = 96 // room for one tiny batch, so every later append rolls
	openCache := segment.NewOpenCache(cfg.OpenSegmentCacheCapacity)
	t.Cleanup(openCache.Close)

	// A 1-byte cache budget means every append evicts the cache down to
	// just the latest batch, forcing GetNewestMessagesBySize off the
	// cache fast path and onto the segment-crossing fallback.
	tracker := memtracker.Init(1)
	p, err := Open(t.TempDir(), "events", 0, cfg, openCache, tracker, log.NewNopLogger())
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := p.Append(msgs("x"))
		require.NoError(t, err)
	}
	require.NotEmpty(t, p.closedOffsets, "expected at least one segment roll")

	totalBytes := p.active.SizeBytes()
	for _, start := range p.closedOffsets {
		key := segment.Key(p.Topic, p.ID, start)
		seg, err := p.openCache.GetOrLoad(key, func() (*segment.Segment, error) {
			return segment.Open(p.Dir, start, p.cfg.SegmentConfig, p.logger)
		})
		require.NoError(t, err)
		totalBytes += seg.SizeBytes()
	}

	batches, err := p.GetNewestMessagesBySize(totalBytes)
	require.NoError(t, err)

	var gotCount int
	for _, b := range batches {
		gotCount += int(b.LastOffsetDelta) + 1
	}
	require.Equal(t, 10, gotCount, "expected every message across every segment within the byte budget")
	require.Equal(t, uint64(0), batches[0].BaseOffset, "result should start from the oldest segment, not just the active one")
}

func TestPartitionDeleteOldSegmentsByAge(t *testing.T) {
	cfg := testConfig()
	cfg.SegmentConfig.SegmentMaxBytes = 96
	cfg.RetentionAge = time.Minute
	p := openTestPartition(t, cfg)

	mock := clock.NewMock()
	mock.Set(time.Now())
	p.clock = mock

	for i := 0; i < 10; i++ {
		_, err := p.Append(msgs("x"))
		require.NoError(t, err)
	}
	require.NotEmpty(t, p.closedOffsets)
	closedBefore := len(p.closedOffsets)

	mock.Add(2 * time.Minute)
	require.NoError(t, p.DeleteOldSegments())
	require.Less(t, len(p.closedOffsets), closedBefore)
}
