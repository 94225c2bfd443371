package client

import "encoding/binary"

// newRequestFrame lays out a full request packet: [Size(4)] + RequestHeader v1
// [ApiKey(2)+ApiVersion(2)+CorrelationID(4)+ClientIDLen(2)+ClientID] + Body,
// matching protocol.ReadRequest's expected wire shape.
func newRequestFrame(apiKey int16, clientID string, body []byte) []byte {
	clientIDLen := len(clientID)
	headerSize := 2 + 2 + 4 + 2 + clientIDLen
	totalSize := headerSize + len(body)

	buf := make([]byte, 4+totalSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(totalSize))

	offset := 4
	binary.BigEndian.PutUint16(buf[offset:], uint16(apiKey))
	offset += 2
	binary.BigEndian.PutUint16(buf[offset:], 0) // ApiVersion v0
	offset += 2
	binary.BigEndian.PutUint32(buf[offset:], 1) // CorrelationID, fixed - single in-flight request per connection
	offset += 4
	binary.BigEndian.PutUint16(buf[offset:], uint16(clientIDLen))
	offset += 2
	copy(buf[offset:], clientID)
	offset += clientIDLen

	copy(buf[offset:], body)
	return buf
}
