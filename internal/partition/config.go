package partition

import (
	"time"

	"flowlog/internal/segment"
)

// Config bounds everything a Partition needs beyond the segment files
// themselves: retention policy, dedup/cache sizing, and the timestamp-EMA
// constants used by GetMessagesByTimestamp's over-fetch estimate (spec §4.5).
type Config struct {
	SegmentConfig segment.Config

	// DedupCapacity is the deduplicator's fixed ID-set size; 0 disables
	// dedup entirely (spec §4.1).
	DedupCapacity int

	// OpenSegmentCacheCapacity bounds how many closed segments stay
	// mmap'd at once (spec §3).
	OpenSegmentCacheCapacity int

	// MessagesRequiredToSave is how many accepted messages accumulate on
	// the active segment before Persist is called automatically (spec §3
	// unsaved_messages_count / messages_required_to_save). 1 persists
	// after every accepted message, matching the teacher's
	// synchronous-write behavior.
	MessagesRequiredToSave int

	RetentionAge             time.Duration
	RetentionBytes           int64
	RetentionCheckInterval   time.Duration

	// EMA constants for avg_timestamp_delta (spec §4.5), grounded on the
	// original's update_avg_timestamp_delta: alpha is clamped to
	// [MinAlpha, MaxAlpha] based on how far the new delta is from the
	// running average, relative to DynamicRangeMicros.
	MinAlpha          float64
	MaxAlpha          float64
	DynamicRangeMicros float64
	OverfetchFactor   float64
}

func DefaultConfig() Config {
	return Config{
		SegmentConfig:            segment.DefaultConfig(),
		DedupCapacity:            10_000,
		OpenSegmentCacheCapacity: 500,
		MessagesRequiredToSave:   1,
		RetentionAge:             7 * 24 * time.Hour,
		RetentionBytes:           0, // 0 disables size-based retention
		RetentionCheckInterval:   5 * time.Minute,
		MinAlpha:                 0.01,
		MaxAlpha:                 0.9,
		DynamicRangeMicros:       1_000_000, // 1s
		OverfetchFactor:          1.35,
	}
}
