package protocol

import (
	"encoding/binary"

	"flowlog/internal/record"
	"flowlog/pkg/flowid"
)

// Domain wire codec for the Produce/Fetch/Commit API keys. Framing
// (size prefix + RequestHeader/ResponseHeader) is handled by
// request.go/response.go; everything below only deals with the body.
//
// NOTE(Danu): headers aren't carried over the wire on purpose, only the
// payload and an optional dedup ID - keeps the broker protocol small while
// the richer internal/record.Message/RetainedMessage shape stays available
// to anything embedding the engine directly instead of talking TCP.

// EncodeProduceRequest lays out: count(4) + per message [id(16) + payloadLen(4) + payload].
// A zero ID means "let the broker assign one" (flowid.New()).
func EncodeProduceRequest(messages []record.Message) []byte {
	size := 4
	for _, m := range messages {
		size += 16 + 4 + len(m.Payload)
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(messages)))
	offset := 4
	for _, m := range messages {
		copy(buf[offset:offset+16], m.ID[:])
		offset += 16
		binary.LittleEndian.PutUint32(buf[offset:offset+4], uint32(len(m.Payload)))
		offset += 4
		copy(buf[offset:], m.Payload)
		offset += len(m.Payload)
	}
	return buf
}

func DecodeProduceRequest(body []byte) ([]record.Message, error) {
	if len(body) < 4 {
		return nil, ErrPacketTooShort
	}
	count := binary.LittleEndian.Uint32(body[0:4])
	offset := 4

	messages := make([]record.Message, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(body) < offset+16+4 {
			return nil, ErrPacketTooShort
		}
		var id flowid.ID
		copy(id[:], body[offset:offset+16])
		offset += 16

		payloadLen := int(binary.LittleEndian.Uint32(body[offset : offset+4]))
		offset += 4
		if len(body) < offset+payloadLen {
			return nil, ErrPacketTooShort
		}

		msg := record.Message{Payload: body[offset : offset+payloadLen]}
		if !id.IsNil() {
			msg.ID = id
		} else {
			msg.ID = flowid.New()
		}
		offset += payloadLen
		messages = append(messages, msg)
	}
	return messages, nil
}

// EncodeProduceResponse: baseOffset(8) + accepted(4) + duplicates(4).
func EncodeProduceResponse(baseOffset uint64, accepted, duplicates uint32) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], baseOffset)
	binary.LittleEndian.PutUint32(buf[8:12], accepted)
	binary.LittleEndian.PutUint32(buf[12:16], duplicates)
	return buf
}

func DecodeProduceResponse(body []byte) (baseOffset uint64, accepted, duplicates uint32, err error) {
	if len(body) < 16 {
		return 0, 0, 0, ErrPacketTooShort
	}
	baseOffset = binary.LittleEndian.Uint64(body[0:8])
	accepted = binary.LittleEndian.Uint32(body[8:12])
	duplicates = binary.LittleEndian.Uint32(body[12:16])
	return baseOffset, accepted, duplicates, nil
}

// EncodeOffsetCountRequest: offset/timestamp(8) + count(4). Shared shape for
// FetchByOffset and FetchByTimestamp, which differ only in how the broker
// interprets the first field.
func EncodeOffsetCountRequest(value uint64, count uint32) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint64(buf[0:8], value)
	binary.LittleEndian.PutUint32(buf[8:12], count)
	return buf
}

func DecodeOffsetCountRequest(body []byte) (value uint64, count uint32, err error) {
	if len(body) < 12 {
		return 0, 0, ErrPacketTooShort
	}
	return binary.LittleEndian.Uint64(body[0:8]), binary.LittleEndian.Uint32(body[8:12]), nil
}

// EncodeFetchResponse: count(4) + per message [offset(8) + timestamp(8) + payloadLen(4) + payload].
func EncodeFetchResponse(messages []*record.RetainedMessage) []byte {
	size := 4
	for _, m := range messages {
		size += 8 + 8 + 4 + len(m.Payload)
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(messages)))
	offset := 4
	for _, m := range messages {
		binary.LittleEndian.PutUint64(buf[offset:offset+8], m.Offset)
		offset += 8
		binary.LittleEndian.PutUint64(buf[offset:offset+8], m.Timestamp)
		offset += 8
		binary.LittleEndian.PutUint32(buf[offset:offset+4], uint32(len(m.Payload)))
		offset += 4
		copy(buf[offset:], m.Payload)
		offset += len(m.Payload)
	}
	return buf
}

type FetchedMessage struct {
	Offset    uint64
	Timestamp uint64
	Payload   []byte
}

func DecodeFetchResponse(body []byte) ([]FetchedMessage, error) {
	if len(body) < 4 {
		return nil, ErrPacketTooShort
	}
	count := binary.LittleEndian.Uint32(body[0:4])
	offset := 4

	out := make([]FetchedMessage, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(body) < offset+20 {
			return nil, ErrPacketTooShort
		}
		msg := FetchedMessage{
			Offset:    binary.LittleEndian.Uint64(body[offset : offset+8]),
			Timestamp: binary.LittleEndian.Uint64(body[offset+8 : offset+16]),
		}
		offset += 16
		payloadLen := int(binary.LittleEndian.Uint32(body[offset : offset+4]))
		offset += 4
		if len(body) < offset+payloadLen {
			return nil, ErrPacketTooShort
		}
		msg.Payload = body[offset : offset+payloadLen]
		offset += payloadLen
		out = append(out, msg)
	}
	return out, nil
}

// EncodeConsumerRequest: kind(1) + idLen(2) + id + count(4).
func EncodeConsumerRequest(kind uint8, id string, count uint32) []byte {
	buf := make([]byte, 1+2+len(id)+4)
	buf[0] = kind
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(id)))
	n := copy(buf[3:], id)
	binary.LittleEndian.PutUint32(buf[3+n:3+n+4], count)
	return buf
}

func DecodeConsumerRequest(body []byte) (kind uint8, id string, count uint32, err error) {
	if len(body) < 3 {
		return 0, "", 0, ErrPacketTooShort
	}
	kind = body[0]
	idLen := int(binary.LittleEndian.Uint16(body[1:3]))
	if len(body) < 3+idLen+4 {
		return 0, "", 0, ErrPacketTooShort
	}
	id = string(body[3 : 3+idLen])
	count = binary.LittleEndian.Uint32(body[3+idLen : 3+idLen+4])
	return kind, id, count, nil
}

// EncodeCommitOffsetRequest: kind(1) + idLen(2) + id + offset(8).
func EncodeCommitOffsetRequest(kind uint8, id string, offset uint64) []byte {
	buf := make([]byte, 1+2+len(id)+8)
	buf[0] = kind
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(id)))
	n := copy(buf[3:], id)
	binary.LittleEndian.PutUint64(buf[3+n:3+n+8], offset)
	return buf
}

func DecodeCommitOffsetRequest(body []byte) (kind uint8, id string, offset uint64, err error) {
	if len(body) < 3 {
		return 0, "", 0, ErrPacketTooShort
	}
	kind = body[0]
	idLen := int(binary.LittleEndian.Uint16(body[1:3]))
	if len(body) < 3+idLen+8 {
		return 0, "", 0, ErrPacketTooShort
	}
	id = string(body[3 : 3+idLen])
	offset = binary.LittleEndian.Uint64(body[3+idLen : 3+idLen+8])
	return kind, id, offset, nil
}
