// Package cache is the partition engine's in-memory batch cache (spec §4.3):
// a bounded, contiguous run of the most recently appended batches, scanned
// before falling back to disk on a read.
//
// Grounded on the Rust original's partition message cache
// (server/src/streaming/partitions/messages.rs in original_source/,
// try_get_messages_from_cache/load_messages_from_cache): a cache hit
// requires the requested range to be fully covered by the cached run, and a
// post-read count sanity check still falls back to a cache miss if fewer
// messages came back than the range implies (guards against a torn/partial
// cache entry).
package cache

import (
	"sync"

	"flowlog/internal/memtracker"
	"flowlog/internal/record"
)

// Cache holds the newest contiguous run of batches for one partition.
type Cache struct {
	mu      sync.RWMutex
	batches []*record.RetainedMessageBatch
	tracker memtracker.Tracker
}

func New(tracker memtracker.Tracker) *Cache {
	return &Cache{tracker: tracker}
}

// Append adds batch to the tail of the cached run, evicting from the head
// (oldest first) until the memory tracker reports room, or the cache is
// empty (spec §4.3: "evict from the head until the new batch fits the
// process-wide memory budget").
func (c *Cache) Append(batch *record.RetainedMessageBatch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := uint64(batch.SizeBytes())
	for len(c.batches) > 0 && !c.tracker.WillFitIntoCache(size) {
		evicted := c.batches[0]
		c.batches = c.batches[1:]
		c.tracker.Release(uint64(evicted.SizeBytes()))
	}

	c.batches = append(c.batches, batch)
	c.tracker.Reserve(size)
}

// Scan returns the decoded messages covering [start, end] if the cached run
// fully contains that range; ok is false on any cache miss (range not
// covered, or a post-count sanity check failed), and callers must fall back
// to reading the segment directly.
func (c *Cache) Scan(start, end uint64) (msgs []*record.RetainedMessage, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.batches) == 0 {
		return nil, false
	}
	if c.batches[0].BaseOffset > start || c.batches[len(c.batches)-1].LastOffset() < end {
		return nil, false
	}

	var out []*record.RetainedMessage
	wantCount := end - start + 1
	for _, batch := range c.batches {
		if !batch.Overlaps(start, end) {
			continue
		}
		it := record.NewIterator(batch)
		for it.Next() {
			msg := it.Message()
			if msg.Offset < start || msg.Offset > end {
				continue
			}
			out = append(out, msg)
		}
		if it.Err() != nil {
			return nil, false
		}
	}

	if uint64(len(out)) != wantCount {
		return nil, false
	}
	return out, true
}

// NewestBatchesBySize returns the newest contiguous run of cached batches
// whose total size does not exceed sizeBytes (spec §4.6), or ok=false if
// the cache doesn't hold enough to answer without consulting the segment.
func (c *Cache) NewestBatchesBySize(sizeBytes uint64) (batches []*record.RetainedMessageBatch, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.batches) == 0 {
		return nil, false
	}

	var total uint64
	cut := len(c.batches)
	for i := len(c.batches) - 1; i >= 0; i-- {
		sz := uint64(c.batches[i].SizeBytes())
		if total+sz > sizeBytes && total > 0 {
			break
		}
		total += sz
		cut = i
	}

	if cut == 0 && total < sizeBytes {
		// the entire cached run was consumed without filling sizeBytes;
		// older batches may still be on disk, so this isn't a definitive
		// answer and the caller must fall back to the segment.
		return nil, false
	}
	return append([]*record.RetainedMessageBatch(nil), c.batches[cut:]...), true
}

// Oldest returns the base offset of the oldest cached batch, or ok=false if
// the cache is empty.
func (c *Cache) Oldest() (offset uint64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.batches) == 0 {
		return 0, false
	}
	return c.batches[0].BaseOffset, true
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.batches)
}
