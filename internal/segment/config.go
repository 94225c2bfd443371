package segment

// Config bounds one segment's on-disk footprint (spec §3 Segment:
// size_bytes / is_full against segment_max_size) and its two index files.
type Config struct {
	SegmentMaxBytes     int64
	OffsetIndexMaxBytes int64
	TimeIndexMaxBytes   int64
}

func DefaultConfig() Config {
	return Config{
		SegmentMaxBytes:     1 << 30,  // 1GB, matches the teacher's default
		OffsetIndexMaxBytes: 10 << 20, // 10MB
		TimeIndexMaxBytes:   10 << 20,
	}
}
