// Package partition implements the per-partition log engine (spec §4): the
// append/read entry point that ties together the batch codec, segments, the
// batch cache, the deduplicator, and the memory tracker.
//
// Grounded on the teacher's partition.Partition (internal/partition/
// partition.go): same directory-per-partition layout, same
// scan-metadata-then-load-active-segment startup, same roll-on-full
// handling and shared LRU of closed segments. Generalized to operate on
// decoded record.Message/record.RetainedMessageBatch instead of raw bytes,
// and extended with the cache/dedup/timestamp-index machinery spec §4
// requires that the teacher's minimal partition never had.
package partition

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	flowcache "flowlog/internal/cache"
	"flowlog/internal/dedup"
	"flowlog/internal/memtracker"
	"flowlog/internal/record"
	"flowlog/internal/segment"
)

var ErrInvalidMessagesCount = errors.New("partition: count must be > 0")

// Partition is the engine for one topic-partition: an ordered list of
// segments (all but the last closed and lazily reopened through openCache),
// the active segment currently accepting appends, a batch cache, and a
// deduplicator.
type Partition struct {
	mu sync.RWMutex

	Dir   string
	Topic string
	ID    int

	// closedOffsets holds the StartOffset of every segment older than the
	// active one, ascending.
	closedOffsets []uint64
	active        *segment.Segment

	openCache  *segment.OpenCache
	batchCache *flowcache.Cache
	dedup      *dedup.Set
	tracker    memtracker.Tracker
	clock      clock.Clock
	encryptor  Encryptor

	cfg    Config
	logger log.Logger

	avgTimestampDelta    float64
	unsavedMessagesCount int

	consumerMu      sync.Mutex
	consumerOffsets map[string]uint64
}

// Open creates or recovers the partition rooted at baseDir/topic-id.
func Open(baseDir, topic string, id int, cfg Config, openCache *segment.OpenCache, tracker memtracker.Tracker, logger log.Logger) (*Partition, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = log.With(logger, "component", "partition", "topic", topic, "partition", id)

	dir := filepath.Join(baseDir, fmt.Sprintf("%s-%d", topic, id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create partition directory")
	}

	p := &Partition{
		Dir:             dir,
		Topic:           topic,
		ID:              id,
		openCache:       openCache,
		tracker:         tracker,
		clock:           clock.New(),
		encryptor:       NopEncryptor{},
		cfg:             cfg,
		logger:          logger,
		dedup:           dedup.New(cfg.DedupCapacity),
		consumerOffsets: make(map[string]uint64),
	}
	p.batchCache = flowcache.New(tracker)

	starts, err := p.scanSegmentStarts()
	if err != nil {
		return nil, err
	}

	if len(starts) == 0 {
		active, err := segment.Open(p.Dir, 0, cfg.SegmentConfig, logger)
		if err != nil {
			return nil, err
		}
		p.active = active
		return p, nil
	}

	p.closedOffsets = starts[:len(starts)-1]
	active, err := segment.Open(p.Dir, starts[len(starts)-1], cfg.SegmentConfig, logger)
	if err != nil {
		return nil, err
	}
	p.active = active
	return p, nil
}

func (p *Partition) scanSegmentStarts() ([]uint64, error) {
	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "scan partition directory")
	}

	var starts []uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".log") {
			continue
		}
		prefix := strings.TrimSuffix(name, ".log")
		start, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid segment log filename %s", name)
		}
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	return starts, nil
}

// AppendResult reports the offsets assigned to newly-appended messages and
// how many were dropped as duplicates (spec §4.1).
type AppendResult struct {
	Offsets    []uint64
	Duplicates int
}

// Append assigns offsets and timestamps, filters duplicates, builds one
// batch, writes it to the active segment (rolling to a new segment if
// full), publishes it to the batch cache, and updates avg_timestamp_delta
// (spec §4.1, §4.5).
func (p *Partition) Append(messages []record.Message) (AppendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(messages) == 0 {
		return AppendResult{}, nil
	}

	baseOffset := p.active.EndOffset()
	if !p.active.IsEmpty() {
		baseOffset++
	}

	bld := record.NewBuilder(baseOffset, 0)
	result := AppendResult{}
	offset := baseOffset
	var minTs, maxTs uint64
	first := true

	for _, m := range messages {
		if !p.dedup.TryInsert(m.ID) {
			result.Duplicates++
			continue
		}
		payload, err := p.encryptor.Encrypt(m.Payload)
		if err != nil {
			return result, errors.Wrap(err, "encrypt payload")
		}
		// Each message gets its own wall-clock timestamp (spec §4.1:
		// "IggyTimestamp::now() per message"), not one shared per batch.
		ts := uint64(p.clock.Now().UnixMicro())
		msg := &record.RetainedMessage{
			Offset:    offset,
			Timestamp: ts,
			ID:        m.ID,
			Payload:   payload,
			Headers:   m.Headers,
		}
		bld.AddEncoded(msg)
		result.Offsets = append(result.Offsets, offset)
		offset++
		if first {
			minTs, maxTs = ts, ts
			first = false
		} else {
			if ts < minTs {
				minTs = ts
			}
			if ts > maxTs {
				maxTs = ts
			}
		}
	}

	if len(result.Offsets) == 0 {
		return result, nil
	}

	batch, err := bld.Build()
	if err != nil {
		return result, errors.Wrap(err, "build batch")
	}

	if err := p.appendBatch(batch, len(result.Offsets)); err != nil {
		return result, err
	}

	p.updateAvgTimestampDelta(minTs, maxTs, len(result.Offsets))
	p.batchCache.Append(batch)
	return result, nil
}

func (p *Partition) appendBatch(batch *record.RetainedMessageBatch, messageCount int) error {
	err := p.active.Append(batch)
	if errors.Is(err, segment.ErrSegmentFull) {
		if err := p.rollActiveSegment(batch.BaseOffset); err != nil {
			return err
		}
		err = p.active.Append(batch)
	}
	if err != nil {
		return errors.Wrap(err, "append batch to active segment")
	}

	p.unsavedMessagesCount += messageCount
	if p.unsavedMessagesCount >= p.cfg.MessagesRequiredToSave {
		if err := p.active.Persist(); err != nil {
			return errors.Wrap(err, "persist active segment")
		}
		p.unsavedMessagesCount = 0
	}
	return nil
}

func (p *Partition) rollActiveSegment(newStart uint64) error {
	level.Info(p.logger).Log("msg", "rolling segment", "old_start", p.active.StartOffset(), "new_start", newStart)

	if err := p.active.Close(); err != nil {
		return errors.Wrap(err, "close rolled segment")
	}
	p.closedOffsets = append(p.closedOffsets, p.active.StartOffset())

	next, err := segment.Open(p.Dir, newStart, p.cfg.SegmentConfig, p.logger)
	if err != nil {
		return errors.Wrap(err, "open new active segment")
	}
	p.active = next
	p.unsavedMessagesCount = 0
	return nil
}

// updateAvgTimestampDelta maintains an EMA of the average intra-batch
// timestamp delta (spec §4.5), grounded on the original's
// update_avg_timestamp_delta: the sample for this batch is
// (max_ts-min_ts)/(count-1), the per-message gap it actually observed: the
// closer that sample is to the running average, the more weight it gets
// (alpha closer to MaxAlpha); a sample far from the average gets damped
// toward MinAlpha so one atypical batch doesn't whipsaw the estimate used
// for the timestamp-query over-fetch.
func (p *Partition) updateAvgTimestampDelta(minTs, maxTs uint64, count int) {
	if count < 2 {
		return
	}
	sample := float64(maxTs-minTs) / float64(count-1)

	diff := sample - p.avgTimestampDelta
	if diff < 0 {
		diff = -diff
	}

	alpha := 1.0 - diff/p.cfg.DynamicRangeMicros
	if alpha < p.cfg.MinAlpha {
		alpha = p.cfg.MinAlpha
	}
	if alpha > p.cfg.MaxAlpha {
		alpha = p.cfg.MaxAlpha
	}

	p.avgTimestampDelta = alpha*sample + (1-alpha)*p.avgTimestampDelta
}

// GetMessagesByOffset returns up to count decoded messages starting at
// startOffset, trying the batch cache first and falling back to segment
// reads, spanning into later segments if one doesn't hold enough (spec §4.2).
func (p *Partition) GetMessagesByOffset(startOffset uint64, count uint32) ([]*record.RetainedMessage, error) {
	if count == 0 {
		return nil, ErrInvalidMessagesCount
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	endOffset := startOffset + uint64(count) - 1
	if msgs, ok := p.batchCache.Scan(startOffset, endOffset); ok {
		return msgs, nil
	}

	var out []*record.RetainedMessage
	cursor := startOffset
	for uint32(len(out)) < count {
		seg, ok, err := p.segmentFor(cursor)
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		remaining := count - uint32(len(out))
		msgs, err := seg.GetMessages(cursor, remaining)
		if err != nil {
			return out, err
		}
		out = append(out, msgs...)

		if uint32(len(out)) >= count || seg == p.active {
			break
		}
		next := seg.EndOffset() + 1
		if next <= cursor {
			break // no forward progress; avoid spinning
		}
		cursor = next
	}
	return out, nil
}

// segmentFor returns the segment containing offset: the active segment, a
// closed segment loaded through openCache, or ok=false if offset is past
// the end of the partition.
func (p *Partition) segmentFor(offset uint64) (*segment.Segment, bool, error) {
	if offset >= p.active.StartOffset() {
		if offset > p.active.EndOffset() {
			return nil, false, nil
		}
		return p.active, true, nil
	}

	idx := sort.Search(len(p.closedOffsets), func(i int) bool {
		return p.closedOffsets[i] > offset
	}) - 1
	if idx < 0 {
		return nil, false, nil
	}
	start := p.closedOffsets[idx]

	key := segment.Key(p.Topic, p.ID, start)
	seg, err := p.openCache.GetOrLoad(key, func() (*segment.Segment, error) {
		return segment.Open(p.Dir, start, p.cfg.SegmentConfig, p.logger)
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "load closed segment")
	}
	return seg, true, nil
}

// GetFirstMessages returns the oldest count messages in the partition (spec
// §4.2).
func (p *Partition) GetFirstMessages(count uint32) ([]*record.RetainedMessage, error) {
	p.mu.RLock()
	start := p.active.StartOffset()
	if len(p.closedOffsets) > 0 {
		start = p.closedOffsets[0]
	}
	p.mu.RUnlock()
	return p.GetMessagesByOffset(start, count)
}

// GetLastMessages returns the newest count messages in the partition (spec
// §4.2).
func (p *Partition) GetLastMessages(count uint32) ([]*record.RetainedMessage, error) {
	p.mu.RLock()
	end := p.active.EndOffset()
	start := p.active.StartOffset()
	if len(p.closedOffsets) > 0 {
		start = p.closedOffsets[0]
	}
	p.mu.RUnlock()

	if end < start {
		return nil, nil
	}
	begin := start
	if end-start+1 > uint64(count) {
		begin = end - uint64(count) + 1
	}
	return p.GetMessagesByOffset(begin, count)
}

// GetMessagesByTimestamp locates the first message at or after timestamp
// using the per-segment time index, over-fetching by an EMA-driven factor
// to avoid a second round trip when the estimate undershoots (spec §4.5).
//
// Grounded on the original's get_messages_by_timestamp: if timestamp
// predates every indexed entry, this falls back to GetFirstMessages.
func (p *Partition) GetMessagesByTimestamp(timestamp uint64, count uint32) ([]*record.RetainedMessage, error) {
	if count == 0 {
		return nil, ErrInvalidMessagesCount
	}

	p.mu.RLock()
	indexedOffset, indexedTs, found := p.timeIndexLookupLocked(timestamp)
	avgDelta := p.avgTimestampDelta
	p.mu.RUnlock()

	if !found {
		candidates, err := p.GetFirstMessages(count)
		if err != nil {
			return nil, err
		}
		return filterByTimestampFloor(candidates, timestamp, count), nil
	}

	overfetch := uint64(count)
	if avgDelta > 0 && timestamp > indexedTs {
		estimate := math.Ceil(float64(timestamp-indexedTs) / avgDelta * p.cfg.OverfetchFactor)
		if estimate > float64(count) {
			overfetch = uint64(estimate)
		}
	}

	candidates, err := p.GetMessagesByOffset(indexedOffset, uint32(overfetch))
	if err != nil {
		return nil, err
	}
	return filterByTimestampFloor(candidates, timestamp, count), nil
}

// filterByTimestampFloor drops candidates older than timestamp and caps the
// result at count: the time index only locates a floor batch, so individual
// messages before the requested timestamp within that batch (or within
// GetFirstMessages' fallback range) must still be filtered out (spec §4.5).
func filterByTimestampFloor(candidates []*record.RetainedMessage, timestamp uint64, count uint32) []*record.RetainedMessage {
	var out []*record.RetainedMessage
	for _, msg := range candidates {
		if msg.Timestamp < timestamp {
			continue
		}
		out = append(out, msg)
		if uint32(len(out)) >= count {
			break
		}
	}
	return out
}

// timeIndexLookupLocked scans segments newest-first for the first one whose
// time index has an entry <= timestamp, returning the absolute offset and
// timestamp of that entry (spec §4.5 "filter_segments_by_offsets" analog
// for timestamps). found is false if every segment's earliest indexed
// timestamp is already greater than timestamp — the "query predates
// everything" fallback case.
func (p *Partition) timeIndexLookupLocked(timestamp uint64) (offset uint64, ts uint64, found bool) {
	if off, t, ok := p.active.FindTimestampFloor(timestamp); ok {
		return off, t, true
	}

	for i := len(p.closedOffsets) - 1; i >= 0; i-- {
		start := p.closedOffsets[i]
		key := segment.Key(p.Topic, p.ID, start)
		seg, err := p.openCache.GetOrLoad(key, func() (*segment.Segment, error) {
			return segment.Open(p.Dir, start, p.cfg.SegmentConfig, p.logger)
		})
		if err != nil {
			continue
		}
		if off, t, ok := seg.FindTimestampFloor(timestamp); ok {
			return off, t, true
		}
	}
	return 0, 0, false
}

// GetNewestMessagesBySize returns the newest batches whose total encoded
// size does not exceed sizeBytes (spec §4.6), preferring the cache and
// otherwise walking segments newest-to-oldest — active segment first, then
// closed segments through openCache — until the budget is filled or the
// partition is exhausted.
func (p *Partition) GetNewestMessagesBySize(sizeBytes uint64) ([]*record.RetainedMessageBatch, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if batches, ok := p.batchCache.NewestBatchesBySize(sizeBytes); ok {
		return batches, nil
	}

	var out []*record.RetainedMessageBatch
	remaining := sizeBytes

	collect := func(seg *segment.Segment) (filled bool, err error) {
		batches, err := seg.GetNewestMessageBatchesBySize(remaining)
		if err != nil {
			return false, err
		}
		var segTotal uint64
		for _, b := range batches {
			segTotal += uint64(b.SizeBytes())
		}
		out = append(batches, out...)
		if segTotal >= remaining {
			return true, nil
		}
		remaining -= segTotal
		return false, nil
	}

	filled, err := collect(p.active)
	if err != nil {
		return nil, err
	}
	for i := len(p.closedOffsets) - 1; !filled && i >= 0; i-- {
		start := p.closedOffsets[i]
		key := segment.Key(p.Topic, p.ID, start)
		seg, err := p.openCache.GetOrLoad(key, func() (*segment.Segment, error) {
			return segment.Open(p.Dir, start, p.cfg.SegmentConfig, p.logger)
		})
		if err != nil {
			return out, errors.Wrap(err, "load closed segment")
		}
		filled, err = collect(seg)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetNextMessages reads the stored offset for consumer (defaulting to the
// partition's earliest offset) and returns up to count messages from
// there (spec §4.4). It does not auto-advance the stored offset; callers
// commit progress explicitly via StoreConsumerOffset.
func (p *Partition) GetNextMessages(consumer PollingConsumer, count uint32) ([]*record.RetainedMessage, error) {
	offset, ok := p.GetConsumerOffset(consumer)
	if !ok {
		p.mu.RLock()
		offset = p.active.StartOffset()
		if len(p.closedOffsets) > 0 {
			offset = p.closedOffsets[0]
		}
		p.mu.RUnlock()
	} else {
		offset++ // stored offset is the last delivered, not the next
	}
	return p.GetMessagesByOffset(offset, count)
}

func (p *Partition) StoreConsumerOffset(consumer PollingConsumer, offset uint64) {
	p.consumerMu.Lock()
	defer p.consumerMu.Unlock()
	p.consumerOffsets[consumer.key()] = offset
}

func (p *Partition) GetConsumerOffset(consumer PollingConsumer) (uint64, bool) {
	p.consumerMu.Lock()
	defer p.consumerMu.Unlock()
	offset, ok := p.consumerOffsets[consumer.key()]
	return offset, ok
}

// DeleteOldSegments removes closed segments that are older than
// RetentionAge, or — oldest first — enough to bring the partition's total
// size back under RetentionBytes (spec §4.7). The active segment is never
// a candidate. A segment that fails to load or delete is kept and logged
// rather than aborting the sweep for the rest of the partition.
func (p *Partition) DeleteOldSegments() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := uint64(p.clock.Now().Add(-p.cfg.RetentionAge).UnixMicro())

	totalBytes := p.active.SizeBytes()
	sizes := make([]uint64, len(p.closedOffsets))
	for i, start := range p.closedOffsets {
		key := segment.Key(p.Topic, p.ID, start)
		seg, err := p.openCache.GetOrLoad(key, func() (*segment.Segment, error) {
			return segment.Open(p.Dir, start, p.cfg.SegmentConfig, p.logger)
		})
		if err == nil {
			sizes[i] = seg.SizeBytes()
		}
		totalBytes += sizes[i]
	}

	var kept []uint64
	for i, start := range p.closedOffsets {
		key := segment.Key(p.Topic, p.ID, start)
		seg, err := p.openCache.GetOrLoad(key, func() (*segment.Segment, error) {
			return segment.Open(p.Dir, start, p.cfg.SegmentConfig, p.logger)
		})
		if err != nil {
			level.Warn(p.logger).Log("msg", "failed to load segment for retention check", "start_offset", start, "err", err)
			kept = append(kept, start)
			continue
		}

		batches, err := seg.GetAllBatches()
		agedOut := err == nil && len(batches) > 0 && batches[len(batches)-1].MaxTimestamp < cutoff
		overBudget := p.cfg.RetentionBytes > 0 && totalBytes > uint64(p.cfg.RetentionBytes)

		if agedOut || overBudget {
			p.openCache.Remove(key)
			if err := seg.Delete(); err != nil {
				level.Warn(p.logger).Log("msg", "failed to delete expired segment", "start_offset", start, "err", err)
				kept = append(kept, start)
				continue
			}
			totalBytes -= sizes[i]
			continue
		}
		kept = append(kept, start)
	}
	p.closedOffsets = kept
	return nil
}

// Close persists and closes the active segment. Closed segments remain on
// disk and in openCache until evicted or the process exits.
func (p *Partition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active.Close()
}
