// Package storage is the mmap-backed file façade segments build on (spec
// §6 "Storage: abstract file-I/O façade providing append/read/fsync"),
// generalized from the teacher's segment.Log/segment.Index into standalone
// primitives the segment package composes.
package storage

import "github.com/pkg/errors"

var (
	ErrFull       = errors.New("storage: region is full")
	ErrOutOfRange = errors.New("storage: position out of range")
	ErrShortRead  = errors.New("storage: short read")
)
