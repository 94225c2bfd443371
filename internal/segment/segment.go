package segment

import (
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"flowlog/internal/record"
	"flowlog/internal/storage"
)

const batchHeaderSize = 24 // record.batchHeaderSize, duplicated as a const since it is unexported there

// Segment is one contiguous range of a partition's log: a fixed-capacity
// mmap'd log file plus its offset and time indexes (spec §3 "Segment").
// Batches are staged in memory on Append and only physically written to the
// log file and indexes on Persist, matching the spec's explicit separation
// of the two operations.
//
// Grounded on the teacher's segment.Segment (internal/segment/segment.go),
// generalized to: (a) decode/encode via internal/record instead of
// internal/message, (b) use internal/storage's mmap primitives instead of
// an embedded Log/Index pair, (c) add a TimeIndex, and (d) separate staging
// from persistence per spec §3/§4.2.
type Segment struct {
	mu sync.RWMutex

	dir         string
	startOffset uint64

	currentOffset uint64 // offset of the most recently appended message
	endOffset     uint64 // == currentOffset in this implementation; kept as
	// a distinct field because the spec's data model names both

	sizeBytes uint64
	isClosed  bool
	isFull    bool

	logFile     *storage.LogFile
	offsetIndex *storage.OffsetIndex
	timeIndex   *storage.TimeIndex

	unflushed []*record.RetainedMessageBatch

	cfg    Config
	logger log.Logger
}

// Open creates or recovers the segment rooted at startOffset under dir.
func Open(dir string, startOffset uint64, cfg Config, logger log.Logger) (*Segment, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = log.With(logger, "component", "segment", "start_offset", startOffset)

	lf, err := storage.OpenLogFile(logPath(dir, startOffset), cfg.SegmentMaxBytes)
	if err != nil {
		return nil, errors.Wrap(err, "open segment log file")
	}
	oi, err := storage.OpenOffsetIndex(offsetIndexPath(dir, startOffset), cfg.OffsetIndexMaxBytes)
	if err != nil {
		lf.Close()
		return nil, errors.Wrap(err, "open segment offset index")
	}
	ti, err := storage.OpenTimeIndex(timeIndexPath(dir, startOffset), cfg.TimeIndexMaxBytes)
	if err != nil {
		lf.Close()
		oi.Close()
		return nil, errors.Wrap(err, "open segment time index")
	}

	s := &Segment{
		dir:           dir,
		startOffset:   startOffset,
		currentOffset: startOffset,
		endOffset:     startOffset,
		logFile:       lf,
		offsetIndex:   oi,
		timeIndex:     ti,
		cfg:           cfg,
		logger:        logger,
	}

	if err := s.recover(); err != nil {
		s.logFile.Close()
		s.offsetIndex.Close()
		s.timeIndex.Close()
		return nil, err
	}

	return s, nil
}

func (s *Segment) StartOffset() uint64 { return s.startOffset }

func (s *Segment) EndOffset() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endOffset
}

func (s *Segment) SizeBytes() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sizeBytes
}

// FindTimestampFloor returns the absolute offset and timestamp of the batch
// with the greatest MaxTimestamp <= ts (spec §4.5 "finds the largest index k
// with time_index[k].timestamp <= timestamp"), consulting staged batches
// before the persisted time index since unflushed always holds the most
// recent offsets in the segment. ok is false if no batch in this segment,
// disk-resident or staged, has a timestamp <= ts.
func (s *Segment) FindTimestampFloor(ts uint64) (offset uint64, indexedTs uint64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.unflushed) - 1; i >= 0; i-- {
		batch := s.unflushed[i]
		if batch.MaxTimestamp <= ts {
			return batch.BaseOffset, batch.MaxTimestamp, true
		}
	}

	entry, found := s.timeIndex.FindLastLE(ts)
	if !found {
		return 0, 0, false
	}
	return s.startOffset + uint64(entry.RelativeOffset), entry.Timestamp, true
}

func (s *Segment) IsFull() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isFull
}

func (s *Segment) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isClosed
}

// IsEmpty reports whether any message has ever been appended.
func (s *Segment) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentOffset == s.startOffset && s.sizeBytes == 0
}

// Append stages batch in memory (spec §3: "append(batch): stage a batch in
// memory"). It fails with ErrSegmentFull without mutating state if the
// batch would not fit within segment_max_size, except that an empty segment
// always accepts its first batch; the partition engine is responsible for
// rolling to a new segment and retrying. A closed segment fails with
// ErrSegmentClosed.
func (s *Segment) Append(batch *record.RetainedMessageBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed {
		return ErrSegmentClosed
	}
	size := uint64(batch.SizeBytes())
	if s.sizeBytes > 0 && s.sizeBytes+size > uint64(s.cfg.SegmentMaxBytes) {
		return ErrSegmentFull
	}

	s.unflushed = append(s.unflushed, batch)
	s.sizeBytes += size
	s.currentOffset = batch.LastOffset()
	s.endOffset = s.currentOffset
	if s.sizeBytes >= uint64(s.cfg.SegmentMaxBytes) {
		s.isFull = true
	}
	return nil
}

// Persist flushes every staged batch to the mmap'd log file, appends one
// sparse offset/time index entry per batch, and fsyncs (spec §3:
// "persist(): flush staged batches to log file, fsync per policy").
func (s *Segment) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Segment) persistLocked() error {
	if len(s.unflushed) == 0 {
		return nil
	}

	for _, batch := range s.unflushed {
		buf := make([]byte, 0, batch.SizeBytes())
		buf = batch.EncodeHeader(buf)
		buf = append(buf, batch.Payload...)

		pos, err := s.logFile.Append(buf)
		if err != nil {
			return errors.Wrap(err, "append batch to log file")
		}

		relOffset := uint32(batch.BaseOffset - s.startOffset)
		if err := s.offsetIndex.Append(relOffset, uint32(pos)); err != nil {
			level.Warn(s.logger).Log("msg", "offset index full, sparse entry dropped", "err", err)
		}
		if err := s.timeIndex.Append(relOffset, batch.MaxTimestamp); err != nil {
			level.Warn(s.logger).Log("msg", "time index full, sparse entry dropped", "err", err)
		}
	}

	s.unflushed = s.unflushed[:0]
	return s.logFile.Sync()
}

// GetMessages decodes up to count messages starting at startOffset, reading
// whatever portion of the range is already on disk and whatever portion is
// still staged in memory (spec §4.2 "segment.get_messages(start_offset,
// count)").
func (s *Segment) GetMessages(startOffset uint64, count uint32) ([]*record.RetainedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if startOffset > s.endOffset || count == 0 {
		return nil, nil
	}
	if startOffset < s.startOffset {
		startOffset = s.startOffset
	}
	endOffset := startOffset + uint64(count) - 1
	if endOffset > s.endOffset {
		endOffset = s.endOffset
	}

	var out []*record.RetainedMessage

	relStart := uint32(startOffset - s.startOffset)
	pos, ok := s.offsetIndex.Lookup(relStart)
	if !ok {
		pos = 0
	}

	diskSize := s.logFile.Size()
	cur := int64(pos)
	for cur < diskSize && uint32(len(out)) < count {
		batch, total, err := s.readBatchAt(cur)
		if err != nil {
			return out, err
		}
		if batch.LastOffset() < startOffset {
			cur += total
			continue
		}
		if batch.BaseOffset > endOffset {
			cur = diskSize
			break
		}
		collectFromBatch(&out, batch, startOffset, endOffset, count)
		cur += total
	}

	for _, batch := range s.unflushed {
		if uint32(len(out)) >= count {
			break
		}
		if batch.LastOffset() < startOffset {
			continue
		}
		if batch.BaseOffset > endOffset {
			break
		}
		collectFromBatch(&out, batch, startOffset, endOffset, count)
	}

	return out, nil
}

func collectFromBatch(out *[]*record.RetainedMessage, batch *record.RetainedMessageBatch, startOffset, endOffset uint64, count uint32) {
	it := record.NewIterator(batch)
	for it.Next() {
		msg := it.Message()
		if msg.Offset < startOffset {
			continue
		}
		if msg.Offset > endOffset {
			return
		}
		*out = append(*out, msg)
		if uint32(len(*out)) >= count {
			return
		}
	}
}

// GetAllBatches decodes every batch in the segment, disk-resident then
// staged, in ascending offset order.
func (s *Segment) GetAllBatches() ([]*record.RetainedMessageBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allBatchesLocked()
}

func (s *Segment) allBatchesLocked() ([]*record.RetainedMessageBatch, error) {
	var batches []*record.RetainedMessageBatch
	diskSize := s.logFile.Size()
	cur := int64(0)
	for cur < diskSize {
		batch, total, err := s.readBatchAt(cur)
		if err != nil {
			return batches, err
		}
		batches = append(batches, batch)
		cur += total
	}
	batches = append(batches, s.unflushed...)
	return batches, nil
}

// GetNewestMessageBatchesBySize returns the newest contiguous run of batches
// whose total encoded size does not exceed sizeBytes (spec §4.6 "get the
// newest batches up to sizeBytes").
func (s *Segment) GetNewestMessageBatchesBySize(sizeBytes uint64) ([]*record.RetainedMessageBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.allBatchesLocked()
	if err != nil {
		return nil, err
	}

	var total uint64
	cut := len(all)
	for i := len(all) - 1; i >= 0; i-- {
		sz := uint64(all[i].SizeBytes())
		if total+sz > sizeBytes && total > 0 {
			break
		}
		total += sz
		cut = i
	}
	return all[cut:], nil
}

// readBatchAt decodes the batch header and payload at a disk position,
// returning the batch and its total on-disk size (header + payload).
func (s *Segment) readBatchAt(pos int64) (*record.RetainedMessageBatch, int64, error) {
	header, err := s.logFile.ReadAt(pos, batchHeaderSize)
	if err != nil {
		return nil, 0, errors.Wrap(ErrCorruption, "read batch header")
	}
	batch, hdrLen, err := record.DecodeBatchHeader(header)
	if err != nil {
		return nil, 0, errors.Wrap(ErrCorruption, err.Error())
	}
	payload, err := s.logFile.ReadAt(pos+int64(hdrLen), int(batch.Length))
	if err != nil {
		return nil, 0, errors.Wrap(ErrCorruption, "read batch payload")
	}
	batch.Payload = payload
	return batch, int64(hdrLen) + int64(batch.Length), nil
}

// recover replays the on-disk log to rebuild logical size, current/end
// offset, and the offset/time indexes from scratch (spec §3 "recovery on
// startup replays the log to rebuild in-memory state").
//
// Grounded on the teacher's segment.recover(), generalized from a single
// index-hinted partial scan to a full replay: since index entries are not
// durable across the physical truncation performed on close/reopen in this
// implementation, a full scan is the simplest correct approach and segment
// sizes are bounded by segment_max_size, so the cost is bounded too.
func (s *Segment) recover() error {
	diskSize := s.logFile.Capacity()
	var validSize int64
	cur := int64(0)

	// ReadAt is bounded by the logical size, which starts at 0 on open; open
	// the whole mapping for the replay and trim back to validSize below.
	s.logFile.SetSize(diskSize)

	for cur < diskSize {
		header, err := s.logFile.ReadAt(cur, batchHeaderSize)
		if err != nil {
			break
		}
		batch, hdrLen, err := record.DecodeBatchHeader(header)
		if err != nil || batch.Length == 0 {
			break // zero-padding from preallocation, or corrupt trailing header
		}
		total := int64(hdrLen) + int64(batch.Length)
		if cur+total > s.logFile.Capacity() {
			break
		}
		payload, err := s.logFile.ReadAt(cur+int64(hdrLen), int(batch.Length))
		if err != nil {
			break
		}
		batch.Payload = payload
		if _, err := record.NewIterator(batch).Collect(); err != nil {
			break // trailing batch is truncated/corrupt; stop before it
		}

		relOffset := uint32(batch.BaseOffset - s.startOffset)
		if err := s.offsetIndex.Append(relOffset, uint32(cur)); err != nil {
			level.Warn(s.logger).Log("msg", "offset index full during recovery", "err", err)
		}
		if err := s.timeIndex.Append(relOffset, batch.MaxTimestamp); err != nil {
			level.Warn(s.logger).Log("msg", "time index full during recovery", "err", err)
		}

		s.currentOffset = batch.LastOffset()
		s.endOffset = s.currentOffset
		cur += total
		validSize = cur
	}

	s.logFile.SetSize(validSize)
	s.sizeBytes = uint64(validSize)
	if s.sizeBytes >= uint64(s.cfg.SegmentMaxBytes) {
		s.isFull = true
	}

	level.Debug(s.logger).Log("msg", "segment recovered", "end_offset", s.endOffset, "size_bytes", s.sizeBytes)
	return nil
}

func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persistLocked(); err != nil {
		return err
	}
	s.isClosed = true
	var firstErr error
	if err := s.logFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.offsetIndex.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.timeIndex.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Segment) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if err := s.logFile.Delete(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.offsetIndex.Delete(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.timeIndex.Delete(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
