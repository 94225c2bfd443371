package storage

// TimeIndexEntry maps a segment-relative offset to the timestamp of the
// batch it starts (spec §3 "TimeIndex entry").
type TimeIndexEntry struct {
	RelativeOffset uint32
	Timestamp      uint64
}

const timeEntryWidth = 12 // relative_offset(4) + timestamp(8)

// TimeIndex is the sparse, mmap'd timestamp->offset index for one segment
// (spec §6 "Time index file"). New component: the teacher repo has no time
// index; this is built fresh in the same mmap idiom as OffsetIndex.
type TimeIndex struct {
	idx *sparseIndex
}

func OpenTimeIndex(path string, maxBytes int64) (*TimeIndex, error) {
	idx, err := openSparseIndex(path, maxBytes, timeEntryWidth)
	if err != nil {
		return nil, err
	}
	return &TimeIndex{idx: idx}, nil
}

// Append writes one entry. Entries must be appended in ascending timestamp
// order, which (per spec §3) is guaranteed by ascending relative-offset
// order since timestamps are monotonic per partition.
func (t *TimeIndex) Append(relativeOffset uint32, timestamp uint64) error {
	var entry [timeEntryWidth]byte
	putUint32(entry[0:4], relativeOffset)
	putUint64(entry[4:12], timestamp)
	return t.idx.append(entry[:])
}

// FindLastLE returns the entry with the greatest timestamp <= target (spec
// §4.5 "finds the largest index k with time_index[k].timestamp <= timestamp").
func (t *TimeIndex) FindLastLE(target uint64) (TimeIndexEntry, bool) {
	i := t.idx.searchLastLE(target, func(e []byte) uint64 {
		return getUint64(e[4:12])
	})
	if i < 0 {
		return TimeIndexEntry{}, false
	}
	e := t.idx.entryAt(i)
	return TimeIndexEntry{RelativeOffset: getUint32(e[0:4]), Timestamp: getUint64(e[4:12])}, true
}

func (t *TimeIndex) First() (TimeIndexEntry, bool) {
	e, ok := t.idx.firstEntry()
	if !ok {
		return TimeIndexEntry{}, false
	}
	return TimeIndexEntry{RelativeOffset: getUint32(e[0:4]), Timestamp: getUint64(e[4:12])}, true
}

func (t *TimeIndex) IsEmpty() bool { return t.idx.count() == 0 }
func (t *TimeIndex) Count() int64  { return t.idx.count() }

func (t *TimeIndex) Close() error  { return t.idx.close() }
func (t *TimeIndex) Delete() error { return t.idx.delete() }
