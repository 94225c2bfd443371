package segment

import (
	"os"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"flowlog/internal/record"
	"flowlog/pkg/flowid"
)

func testConfig() Config {
	return Config{
		SegmentMaxBytes:     1 << 20,
		OffsetIndexMaxBytes: 1 << 16,
		TimeIndexMaxBytes:   1 << 16,
	}
}

func buildBatch(t *testing.T, baseOffset uint64, n int, payload string) *record.RetainedMessageBatch {
	t.Helper()
	bld := record.NewBuilder(baseOffset, 256)
	for i := 0; i < n; i++ {
		msg := &record.RetainedMessage{
			Offset:    baseOffset + uint64(i),
			Timestamp: uint64(1000 + i),
			ID:        flowid.New(),
			Payload:   []byte(payload),
		}
		bld.AddEncoded(msg)
	}
	batch, err := bld.Build()
	require.NoError(t, err)
	return batch
}

func TestSegmentAppendPersistAndRead(t *testing.T) {
	dir := t.TempDir()
	seg, err := Open(dir, 0, testConfig(), log.NewNopLogger())
	require.NoError(t, err)

	require.NoError(t, seg.Append(buildBatch(t, 0, 10, "payload-1")))
	require.NoError(t, seg.Append(buildBatch(t, 10, 10, "payload-2")))
	require.NoError(t, seg.Append(buildBatch(t, 20, 5, "payload-3")))

	require.Equal(t, uint64(24), seg.EndOffset())

	msgs, err := seg.GetMessages(5, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 10)
	require.Equal(t, uint64(5), msgs[0].Offset)
	require.Equal(t, uint64(14), msgs[len(msgs)-1].Offset)

	require.NoError(t, seg.Persist())

	msgsAfterPersist, err := seg.GetMessages(18, 5)
	require.NoError(t, err)
	require.Len(t, msgsAfterPersist, 5)
	require.Equal(t, uint64(18), msgsAfterPersist[0].Offset)

	require.NoError(t, seg.Close())
}

func TestSegmentRecoveryRebuildsIndexAndOffsets(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()

	seg, err := Open(dir, 0, cfg, log.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, seg.Append(buildBatch(t, 0, 10, "payload-1")))
	require.NoError(t, seg.Append(buildBatch(t, 10, 10, "payload-2")))
	require.NoError(t, seg.Append(buildBatch(t, 20, 5, "payload-3")))
	require.NoError(t, seg.Close())

	// Sabotage: wipe the offset index; the full replay on reopen must rebuild it.
	require.NoError(t, os.Truncate(offsetIndexPath(dir, 0), 0))

	recovered, err := Open(dir, 0, cfg, log.NewNopLogger())
	require.NoError(t, err)
	defer recovered.Close()

	require.Equal(t, uint64(24), recovered.EndOffset())
	msgs, err := recovered.GetMessages(10, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 10)
	require.Equal(t, uint64(10), msgs[0].Offset)
}

func TestSegmentAppendRejectsWhenFull(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.SegmentMaxBytes = 64 // tiny, forces overflow on the second batch

	seg, err := Open(dir, 0, cfg, log.NewNopLogger())
	require.NoError(t, err)
	defer seg.Close()

	require.NoError(t, seg.Append(buildBatch(t, 0, 1, "x")))
	err = seg.Append(buildBatch(t, 1, 1, "this payload pushes the segment over its tiny byte budget"))
	require.ErrorIs(t, err, ErrSegmentFull)
}

func TestSegmentGetNewestMessageBatchesBySize(t *testing.T) {
	dir := t.TempDir()
	seg, err := Open(dir, 0, testConfig(), log.NewNopLogger())
	require.NoError(t, err)
	defer seg.Close()

	require.NoError(t, seg.Append(buildBatch(t, 0, 1, "aaaaaaaaaa")))
	require.NoError(t, seg.Append(buildBatch(t, 1, 1, "bbbbbbbbbb")))
	require.NoError(t, seg.Append(buildBatch(t, 2, 1, "cccccccccc")))
	require.NoError(t, seg.Persist())

	batches, err := seg.GetNewestMessageBatchesBySize(uint64(buildBatch(t, 0, 1, "aaaaaaaaaa").SizeBytes()) * 2)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	require.Equal(t, uint64(1), batches[0].BaseOffset)
	require.Equal(t, uint64(2), batches[1].BaseOffset)
}
