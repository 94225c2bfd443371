package segment

import "github.com/pkg/errors"

var (
	ErrSegmentFull      = errors.New("segment: full, caller must roll to a new segment")
	ErrSegmentClosed    = errors.New("segment: closed, cannot append")
	ErrOffsetOutOfRange = errors.New("segment: offset out of range")
	ErrInvalidConfig    = errors.New("segment: invalid configuration")
	ErrCorruption       = errors.New("segment: corrupt or truncated batch on disk")
)
