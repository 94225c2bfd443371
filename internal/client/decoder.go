package client

import (
	"encoding/binary"
	"fmt"
	"io"
)

// readResponseFrame reads a framed response packet ([Size(4)] + CorrelationID(4)
// + Body) and returns the body, mirroring protocol.SendResponse's wire shape.
func readResponseFrame(r io.Reader) ([]byte, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(sizeBuf[:])

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("response too short")
	}
	// correlationID := binary.BigEndian.Uint32(data[0:4])
	return data[4:], nil
}
