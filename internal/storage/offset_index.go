package storage

// OffsetIndexEntry maps a segment-relative offset to the byte position of
// its batch in the log file (spec §3 "OffsetIndex entry").
type OffsetIndexEntry struct {
	RelativeOffset uint32
	Position       uint32
}

const offsetEntryWidth = 8 // relative_offset(4) + position(4)

// OffsetIndex is the sparse, mmap'd offset->position index for one segment
// (spec §6 "Offset index file").
type OffsetIndex struct {
	idx *sparseIndex
}

func OpenOffsetIndex(path string, maxBytes int64) (*OffsetIndex, error) {
	idx, err := openSparseIndex(path, maxBytes, offsetEntryWidth)
	if err != nil {
		return nil, err
	}
	return &OffsetIndex{idx: idx}, nil
}

// Append writes one sparse entry. Entries must be appended in ascending
// relative-offset order (spec §3: "entries are written sparsely, one per
// flushed batch").
func (o *OffsetIndex) Append(relativeOffset, position uint32) error {
	var entry [offsetEntryWidth]byte
	putUint32(entry[0:4], relativeOffset)
	putUint32(entry[4:8], position)
	return o.idx.append(entry[:])
}

// Lookup returns the file position to start reading from for the given
// relative offset: the position of the greatest indexed entry whose
// relative_offset <= target (spec §4.2 "Offset lookup"). ok is false if the
// index is empty, in which case callers should start from position 0.
func (o *OffsetIndex) Lookup(relativeOffset uint32) (position uint32, ok bool) {
	i := o.idx.searchLastLE(uint64(relativeOffset), func(e []byte) uint64 {
		return uint64(getUint32(e[0:4]))
	})
	if i < 0 {
		return 0, false
	}
	e := o.idx.entryAt(i)
	return getUint32(e[4:8]), true
}

func (o *OffsetIndex) LastEntry() (OffsetIndexEntry, bool) {
	e, ok := o.idx.lastEntry()
	if !ok {
		return OffsetIndexEntry{}, false
	}
	return OffsetIndexEntry{RelativeOffset: getUint32(e[0:4]), Position: getUint32(e[4:8])}, true
}

func (o *OffsetIndex) Count() int64 { return o.idx.count() }

func (o *OffsetIndex) Close() error  { return o.idx.close() }
func (o *OffsetIndex) Delete() error { return o.idx.delete() }
