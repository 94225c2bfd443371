package record

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flowlog/pkg/flowid"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := &RetainedMessage{
		Offset:    42,
		Timestamp: 1_700_000_000_000_000,
		ID:        flowid.New(),
		State:     StateAvailable,
		Payload:   []byte("hello flowlog"),
		Headers: map[string]HeaderValue{
			"trace":   StringHeader("abc123"),
			"retries": Int64Header(3),
			"size":    Uint64Header(1024),
			"final":   BoolHeader(true),
			"blob":    BytesHeader([]byte{1, 2, 3}),
		},
	}

	encoded := msg.Encode(nil)
	require.Len(t, encoded, msg.EncodedSize())

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	require.Equal(t, msg.Offset, decoded.Offset)
	require.Equal(t, msg.Timestamp, decoded.Timestamp)
	require.Equal(t, msg.ID, decoded.ID)
	require.Equal(t, msg.State, decoded.State)
	require.Equal(t, msg.Payload, decoded.Payload)
	require.Equal(t, msg.Headers, decoded.Headers)
}

func TestDecodeRejectsChecksumMismatch(t *testing.T) {
	msg := &RetainedMessage{Offset: 1, ID: flowid.New(), Payload: []byte("payload")}
	encoded := msg.Encode(nil)
	encoded[len(encoded)-1] ^= 0xFF // corrupt a payload byte

	_, err := Decode(encoded)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestDecodeRejectsTruncatedRecord(t *testing.T) {
	msg := &RetainedMessage{Offset: 1, ID: flowid.New(), Payload: []byte("payload")}
	encoded := msg.Encode(nil)

	_, err := Decode(encoded[:len(encoded)-2])
	require.ErrorIs(t, err, ErrTruncatedRecord)
}

func TestBuilderAndIteratorRoundTrip(t *testing.T) {
	bld := NewBuilder(100, 256)
	payloads := []string{"a", "b", "c", "d", "e"}
	for i, p := range payloads {
		msg := &RetainedMessage{
			Offset:    100 + uint64(i),
			Timestamp: uint64(1000 + i),
			ID:        flowid.New(),
			Payload:   []byte(p),
		}
		bld.AddEncoded(msg)
	}

	batch, err := bld.Build()
	require.NoError(t, err)
	require.Equal(t, uint64(100), batch.BaseOffset)
	require.Equal(t, uint32(4), batch.LastOffsetDelta)
	require.Equal(t, uint64(1004), batch.MaxTimestamp)
	require.Equal(t, uint64(104), batch.LastOffset())

	messages, err := NewIterator(batch).Collect()
	require.NoError(t, err)
	require.Len(t, messages, len(payloads))
	for i, msg := range messages {
		require.Equal(t, uint64(100+i), msg.Offset)
		require.Equal(t, payloads[i], string(msg.Payload))
	}
}

func TestIteratorStopsOnTruncatedTrailingRecord(t *testing.T) {
	bld := NewBuilder(0, 64)
	bld.AddEncoded(&RetainedMessage{Offset: 0, ID: flowid.New(), Payload: []byte("ok")})
	batch, err := bld.Build()
	require.NoError(t, err)

	// Truncate the payload mid-second-record by appending a dangling length
	// prefix with no body, simulating a torn write.
	batch.Payload = append(batch.Payload, 0xFF, 0xFF, 0xFF, 0x7F)
	batch.Length = uint32(len(batch.Payload))

	messages, err := NewIterator(batch).Collect()
	require.ErrorIs(t, err, ErrTruncatedRecord)
	require.Len(t, messages, 1, "the valid leading record must still be yielded before the error")
}

func TestBatchOverlaps(t *testing.T) {
	b := &RetainedMessageBatch{BaseOffset: 10, LastOffsetDelta: 4} // [10,14]

	require.True(t, b.Overlaps(5, 10))
	require.True(t, b.Overlaps(14, 20))
	require.True(t, b.Overlaps(11, 12))
	require.False(t, b.Overlaps(0, 9))
	require.False(t, b.Overlaps(15, 20))
}

func TestBatchHeaderRoundTrip(t *testing.T) {
	b := &RetainedMessageBatch{
		BaseOffset:      7,
		LastOffsetDelta: 2,
		MaxTimestamp:    99,
		Length:          13,
	}
	encoded := b.EncodeHeader(nil)

	decoded, n, err := DecodeBatchHeader(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, b.BaseOffset, decoded.BaseOffset)
	require.Equal(t, b.LastOffsetDelta, decoded.LastOffsetDelta)
	require.Equal(t, b.MaxTimestamp, decoded.MaxTimestamp)
	require.Equal(t, b.Length, decoded.Length)
}
