package storage

import (
	"os"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// LogFile is a pre-allocated, mmap'd, append-only byte region backing one
// segment's log file (spec §6: on-disk batch concatenation). It tracks a
// logical size separate from the mmap's physical capacity so recovery can
// trim back to the last valid write.
//
// Grounded on the teacher's segment.Log (internal/segment/log.go): same
// mmap-preallocate-then-append shape, moved out of the segment package so
// the offset/time indexes can share the same primitive.
type LogFile struct {
	mu   sync.RWMutex
	file *os.File
	data []byte
	size int64
}

// OpenLogFile opens (or creates) path, preallocating it to maxBytes and
// mapping it MAP_SHARED so writes are visible to any reader mapping the
// same file (e.g. a concurrently-read closed segment).
func OpenLogFile(path string, maxBytes int64) (*LogFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %s", path)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat log file")
	}
	if fi.Size() < maxBytes {
		if err := f.Truncate(maxBytes); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "preallocate log file")
		}
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(maxBytes), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "mmap log file")
	}

	return &LogFile{file: f, data: data, size: 0}, nil
}

// Size returns the logical (valid) size of the region.
func (l *LogFile) Size() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Capacity returns the physical mmap size.
func (l *LogFile) Capacity() int64 {
	return int64(len(l.data))
}

// SetSize overrides the logical size, used by recovery once it has
// replayed the file and found the true end of valid data.
func (l *LogFile) SetSize(size int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.size = size
}

// Append copies b to the end of the logical region and returns the byte
// position it was written at. It fails with ErrFull rather than growing
// the mapping — segment rolling is the caller's responsibility.
func (l *LogFile) Append(b []byte) (pos int64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size+int64(len(b)) > int64(len(l.data)) {
		return 0, ErrFull
	}
	pos = l.size
	copy(l.data[pos:], b)
	l.size += int64(len(b))
	return pos, nil
}

// ReadAt returns a zero-copy slice of exactly n bytes starting at pos. It
// fails with ErrShortRead if fewer than n bytes are available.
func (l *LogFile) ReadAt(pos int64, n int) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if pos < 0 || pos+int64(n) > l.size {
		return nil, ErrShortRead
	}
	return l.data[pos : pos+int64(n)], nil
}

// ReadRange returns a zero-copy slice of the logical region from pos to the
// end of valid data, capped at maxBytes. It returns exactly maxBytes bytes
// unless the region itself runs out first.
func (l *LogFile) ReadRange(pos int64, maxBytes int64) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if pos < 0 || pos > l.size {
		return nil, ErrOutOfRange
	}
	end := pos + maxBytes
	if end > l.size {
		end = l.size
	}
	return l.data[pos:end], nil
}

// Sync flushes the mapping to disk synchronously.
func (l *LogFile) Sync() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return unix.Msync(l.data, unix.MS_SYNC)
}

// Close syncs, unmaps, trims the file to the logical size, and closes it.
func (l *LogFile) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = unix.Msync(l.data, unix.MS_SYNC)
	if err := syscall.Munmap(l.data); err != nil {
		return errors.Wrap(err, "munmap log file")
	}
	if err := l.file.Truncate(l.size); err != nil {
		return errors.Wrap(err, "trim log file")
	}
	return l.file.Close()
}

// Delete unmaps, closes, and removes the backing file.
func (l *LogFile) Delete() error {
	path := l.file.Name()
	_ = syscall.Munmap(l.data)
	_ = l.file.Close()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove log file")
	}
	return nil
}
