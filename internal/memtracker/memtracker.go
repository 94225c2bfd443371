// Package memtracker is a process-wide budget for bytes held by every
// partition's batch cache (spec §4.3 "the memory tracker is consulted
// before caching a batch and is charged/credited as batches enter and leave
// the cache").
//
// Grounded on the Rust original's CacheMemoryTracker::get_instance()
// singleton (server/src/streaming/systems/messages.rs in original_source/):
// one process-wide budget shared by every partition, rather than a
// per-partition limit, so a hot partition can starve a cold one under
// memory pressure exactly as the original does.
package memtracker

import "sync/atomic"

// Tracker is the interface internal/partition depends on, so tests can
// substitute a fake without a real byte budget.
type Tracker interface {
	WillFitIntoCache(sizeBytes uint64) bool
	Reserve(sizeBytes uint64)
	Release(sizeBytes uint64)
	InUse() uint64
}

// Default is a fixed-budget, process-wide implementation.
type Default struct {
	limit uint64
	used  atomic.Uint64
}

var instance *Default

// Init installs the process-wide tracker with the given byte budget. Must
// be called once during startup before any partition is opened.
func Init(limitBytes uint64) *Default {
	instance = &Default{limit: limitBytes}
	return instance
}

// Get returns the process-wide tracker, initializing a zero-budget instance
// (WillFitIntoCache is false for any non-zero size) if Init was never called.
func Get() *Default {
	if instance == nil {
		instance = &Default{}
	}
	return instance
}

func (d *Default) WillFitIntoCache(sizeBytes uint64) bool {
	return d.used.Load()+sizeBytes <= d.limit
}

func (d *Default) Reserve(sizeBytes uint64) {
	d.used.Add(sizeBytes)
}

func (d *Default) Release(sizeBytes uint64) {
	for {
		cur := d.used.Load()
		next := uint64(0)
		if sizeBytes < cur {
			next = cur - sizeBytes
		}
		if d.used.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (d *Default) InUse() uint64 { return d.used.Load() }
