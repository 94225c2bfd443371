// RetainedMessageBatch is the immutable, ref-countable unit the partition
// engine appends to a segment and publishes to the batch cache (spec §3).
// "Ref-counted" here means callers share the same *RetainedMessageBatch and
// its Payload slice rather than copying; nothing in this package mutates a
// batch after Build returns it.
package record

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

type RetainedMessageBatch struct {
	BaseOffset      uint64
	LastOffsetDelta uint32
	MaxTimestamp    uint64
	Length          uint32
	Payload         []byte
}

// LastOffset is the offset of the final message in the batch.
func (b *RetainedMessageBatch) LastOffset() uint64 {
	return b.BaseOffset + uint64(b.LastOffsetDelta)
}

// SizeBytes is the batch's footprint for cache/memory-tracker accounting:
// the fixed on-disk header (spec §6) plus the payload.
func (b *RetainedMessageBatch) SizeBytes() uint32 {
	return batchHeaderSize + b.Length
}

// Overlaps reports whether the batch's offset range intersects [start, end]
// (spec §4.3: "A batch overlaps [s, e] iff base_offset <= e and
// last_offset >= s").
func (b *RetainedMessageBatch) Overlaps(start, end uint64) bool {
	return b.BaseOffset <= end && b.LastOffset() >= start
}

// batchHeaderSize is the fixed on-disk batch header from spec §6:
// base_offset(8) + last_offset_delta(4) + max_timestamp(8) + length(4).
const batchHeaderSize = 8 + 4 + 8 + 4

var ErrInsufficientBatchData = errors.New("record: insufficient data to decode batch header")

// EncodeHeader writes the fixed batch header (spec §6) to dst, returning
// the extended slice. Payload must already be appended by the caller, or
// appended immediately after calling this with an empty dst.
func (b *RetainedMessageBatch) EncodeHeader(dst []byte) []byte {
	var hdr [batchHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], b.BaseOffset)
	binary.LittleEndian.PutUint32(hdr[8:12], b.LastOffsetDelta)
	binary.LittleEndian.PutUint64(hdr[12:20], b.MaxTimestamp)
	binary.LittleEndian.PutUint32(hdr[20:24], b.Length)
	return append(dst, hdr[:]...)
}

// DecodeBatchHeader parses the fixed batch header from the front of src and
// returns the batch plus the number of header bytes consumed. The caller
// slices out Payload (Length bytes following the header) itself so that it
// can hand out a shared, zero-copy view into the underlying buffer.
func DecodeBatchHeader(src []byte) (*RetainedMessageBatch, int, error) {
	if len(src) < batchHeaderSize {
		return nil, 0, errors.Wrap(ErrInsufficientBatchData, "decode batch header")
	}
	b := &RetainedMessageBatch{
		BaseOffset:      binary.LittleEndian.Uint64(src[0:8]),
		LastOffsetDelta: binary.LittleEndian.Uint32(src[8:12]),
		MaxTimestamp:    binary.LittleEndian.Uint64(src[12:20]),
		Length:          binary.LittleEndian.Uint32(src[20:24]),
	}
	return b, batchHeaderSize, nil
}

// Builder accumulates encoded records into a payload buffer and finalizes
// them into an immutable RetainedMessageBatch (spec §4.1 "a builder that
// accumulates fields and finalizes a batch").
type Builder struct {
	baseOffset uint64
	payload    []byte
	count      uint32
	maxTs      uint64
}

func NewBuilder(baseOffset uint64, estimatedSize int) *Builder {
	return &Builder{
		baseOffset: baseOffset,
		payload:    make([]byte, 0, estimatedSize),
	}
}

// AddEncoded appends one record to the batch payload. offset must equal
// baseOffset + current count (records are added strictly in order); ts
// feeds MaxTimestamp, which flowlog treats as non-decreasing within a batch
// (spec §5 "timestamps are non-decreasing").
func (bld *Builder) AddEncoded(msg *RetainedMessage) {
	var lenBuf [4]byte
	start := len(bld.payload)
	bld.payload = append(bld.payload, lenBuf[:]...)
	bld.payload = msg.Encode(bld.payload)
	binary.LittleEndian.PutUint32(bld.payload[start:start+4], uint32(len(bld.payload)-start-4))

	bld.count++
	if msg.Timestamp > bld.maxTs {
		bld.maxTs = msg.Timestamp
	}
}

// Build finalizes the batch. It returns an error if no records were added,
// since a zero-record batch has no valid LastOffsetDelta.
func (bld *Builder) Build() (*RetainedMessageBatch, error) {
	if bld.count == 0 {
		return nil, errors.New("record: cannot build an empty batch")
	}
	return &RetainedMessageBatch{
		BaseOffset:      bld.baseOffset,
		LastOffsetDelta: bld.count - 1,
		MaxTimestamp:    bld.maxTs,
		Length:          uint32(len(bld.payload)),
		Payload:         bld.payload,
	}, nil
}
