// Package flowid defines the 128-bit message/consumer identifier shared
// across the record codec and the deduplicator.
package flowid

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// ID is a 128-bit identifier assigned by producers (not by the partition
// engine). It round-trips through the wire/on-disk formats as 16 raw bytes.
type ID [16]byte

// Nil is the zero value, used as a sentinel for "no ID supplied".
var Nil ID

// New generates a random v4 ID. Producers are expected to supply their own
// IDs in the general case; this exists for tests and for callers that don't
// care about ID stability.
func New() ID {
	return ID(uuid.New())
}

// FromBytes copies 16 bytes into an ID. It returns false if b is not
// exactly 16 bytes long.
func FromBytes(b []byte) (ID, bool) {
	var id ID
	if len(b) != 16 {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

// PutUint64Pair builds an ID out of two 64-bit halves, little-endian, which
// is how the legacy wire format historically represented 128-bit values
// before switching to raw UUID bytes.
func PutUint64Pair(hi, lo uint64) ID {
	var id ID
	binary.LittleEndian.PutUint64(id[0:8], lo)
	binary.LittleEndian.PutUint64(id[8:16], hi)
	return id
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether id is the zero value.
func (id ID) IsNil() bool {
	return id == Nil
}
