package storage

import (
	"encoding/binary"
	"os"
	"sort"
	"sync"
	"syscall"

	"github.com/pkg/errors"
)

// sparseIndex is the mmap'd, fixed-width, sorted-ascending entry array that
// both OffsetIndex and TimeIndex are built from (spec §3 OffsetIndex/
// TimeIndex entries, spec §6 on-disk index file formats). Every field is
// little-endian per spec §6 — the teacher's own index (internal/segment/
// index.go) used big-endian, which this module departs from deliberately
// to match the spec's wire contract (see DESIGN.md).
type sparseIndex struct {
	mu         sync.RWMutex
	file       *os.File
	data       []byte
	size       int64 // bytes used
	entryWidth int64
}

func openSparseIndex(path string, maxBytes int64, entryWidth int64) (*sparseIndex, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open index file %s", path)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat index file")
	}
	if fi.Size() < maxBytes {
		if err := f.Truncate(maxBytes); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "preallocate index file")
		}
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(maxBytes), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "mmap index file")
	}

	return &sparseIndex{file: f, data: data, entryWidth: entryWidth}, nil
}

func (s *sparseIndex) count() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size / s.entryWidth
}

func (s *sparseIndex) append(entry []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int64(len(entry)) != s.entryWidth {
		return errors.New("storage: index entry width mismatch")
	}
	if s.size+s.entryWidth > int64(len(s.data)) {
		return ErrFull
	}
	copy(s.data[s.size:], entry)
	s.size += s.entryWidth
	return nil
}

// entryAt returns the raw bytes of entry i without a copy.
func (s *sparseIndex) entryAt(i int64) []byte {
	off := i * s.entryWidth
	return s.data[off : off+s.entryWidth]
}

// searchLastLE returns the index of the last entry whose key (extracted by
// keyOf) is <= target, or -1 if every entry's key exceeds target. Entries
// are assumed sorted ascending by key.
func (s *sparseIndex) searchLastLE(target uint64, keyOf func(entry []byte) uint64) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := int(s.size / s.entryWidth)
	if n == 0 {
		return -1
	}
	// sort.Search finds the first index for which the predicate is true;
	// we want the first entry whose key is > target, then step back one.
	idx := sort.Search(n, func(i int) bool {
		return keyOf(s.entryAt(int64(i))) > target
	})
	if idx == 0 {
		return -1
	}
	return int64(idx - 1)
}

func (s *sparseIndex) lastEntry() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.size == 0 {
		return nil, false
	}
	return append([]byte(nil), s.entryAt(s.size/s.entryWidth-1)...), true
}

func (s *sparseIndex) firstEntry() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.size == 0 {
		return nil, false
	}
	return append([]byte(nil), s.entryAt(0)...), true
}

func (s *sparseIndex) truncate(entries int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.size = entries * s.entryWidth
}

func (s *sparseIndex) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := syscall.Munmap(s.data); err != nil {
		return errors.Wrap(err, "munmap index file")
	}
	if err := s.file.Truncate(s.size); err != nil {
		return errors.Wrap(err, "trim index file")
	}
	return s.file.Close()
}

func (s *sparseIndex) delete() error {
	path := s.file.Name()
	_ = syscall.Munmap(s.data)
	_ = s.file.Close()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove index file")
	}
	return nil
}

func putUint32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func getUint32(b []byte) uint32    { return binary.LittleEndian.Uint32(b) }
func putUint64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }
func getUint64(b []byte) uint64    { return binary.LittleEndian.Uint64(b) }
