// Package record implements the batch codec (spec §4.1): encoding and
// decoding of individual records within a RetainedMessageBatch payload, and
// the RetainedMessage type each record decodes into.
package record

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"

	"flowlog/pkg/flowid"
)

// State mirrors the small lifecycle tag Iggy attaches to a stored message.
// flowlog never transitions a message once written; the tag exists so the
// wire/disk format has a slot for future tombstoning without a format bump.
type State uint8

const (
	StateAvailable State = iota
	StateUnavailable
	StatePoisoned
	StateMarkedForDeletion
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// HeaderKind tags the type carried by a HeaderValue, so headers round-trip
// their type (spec's "headers: map<string, typed-value>").
type HeaderKind uint8

const (
	HeaderString HeaderKind = iota
	HeaderInt64
	HeaderUint64
	HeaderBool
	HeaderBytes
)

type HeaderValue struct {
	Kind  HeaderKind
	Str   string
	Int   int64
	Uint  uint64
	Bool  bool
	Bytes []byte
}

func StringHeader(s string) HeaderValue { return HeaderValue{Kind: HeaderString, Str: s} }
func Int64Header(v int64) HeaderValue   { return HeaderValue{Kind: HeaderInt64, Int: v} }
func Uint64Header(v uint64) HeaderValue { return HeaderValue{Kind: HeaderUint64, Uint: v} }
func BoolHeader(v bool) HeaderValue     { return HeaderValue{Kind: HeaderBool, Bool: v} }
func BytesHeader(b []byte) HeaderValue  { return HeaderValue{Kind: HeaderBytes, Bytes: b} }

// Message is the caller-supplied input (spec's "Message (input)").
type Message struct {
	ID      flowid.ID
	Payload []byte
	Headers map[string]HeaderValue
}

// SizeBytes approximates the on-wire size of Message, used for batch-size
// accounting before a batch is built (mirrors Iggy's
// Message::get_size_bytes used to size the memory-tracker budget).
func (m Message) SizeBytes() uint32 {
	size := uint32(recordFixedSize) + uint32(len(m.Payload))
	for k, v := range m.Headers {
		size += headerEncodedSize(k, v)
	}
	return size
}

// RetainedMessage is a message after the partition engine has assigned it
// an offset and a timestamp (spec's "RetainedMessage (stored)").
type RetainedMessage struct {
	Offset    uint64
	Timestamp uint64 // microseconds since epoch
	ID        flowid.ID
	State     State
	Checksum  uint32
	Payload   []byte
	Headers   map[string]HeaderValue
}

const recordFixedSize = 8 /*offset*/ + 1 /*state*/ + 8 /*timestamp*/ + 16 /*id*/ + 4 /*checksum*/ + 4 /*payload len*/ + 4 /*header count*/

// EncodedSize returns the number of bytes Encode will write for msg,
// excluding the 4-byte outer record-length prefix.
func (msg *RetainedMessage) EncodedSize() int {
	size := recordFixedSize + len(msg.Payload)
	for k, v := range msg.Headers {
		size += int(headerEncodedSize(k, v))
	}
	return size
}

// Encode appends the record body (everything after the outer 4-byte length
// prefix described in spec §6) to dst and returns the extended slice.
func (msg *RetainedMessage) Encode(dst []byte) []byte {
	var fixed [recordFixedSize]byte
	binary.LittleEndian.PutUint64(fixed[0:8], msg.Offset)
	fixed[8] = byte(msg.State)
	binary.LittleEndian.PutUint64(fixed[9:17], msg.Timestamp)
	copy(fixed[17:33], msg.ID[:])

	checksum := checksumOf(msg.Payload)
	msg.Checksum = checksum
	binary.LittleEndian.PutUint32(fixed[33:37], checksum)
	binary.LittleEndian.PutUint32(fixed[37:41], uint32(len(msg.Payload)))
	binary.LittleEndian.PutUint32(fixed[41:45], uint32(len(msg.Headers)))

	dst = append(dst, fixed[:]...)
	dst = append(dst, msg.Payload...)
	dst = encodeHeaders(dst, msg.Headers)
	return dst
}

func checksumOf(payload []byte) uint32 {
	return crc32.Checksum(payload, crcTable)
}

// ErrTruncatedRecord and friends surface as the Corruption error kind at
// the segment/partition layer (spec §7).
var (
	ErrTruncatedRecord   = errors.New("record: truncated record body")
	ErrChecksumMismatch  = errors.New("record: payload checksum mismatch")
	ErrInvalidHeaderKind = errors.New("record: invalid header value kind")
)

// Decode parses one record body out of src (exactly the bytes between the
// outer length prefixes, i.e. what Encode produced) into a new
// RetainedMessage.
func Decode(src []byte) (*RetainedMessage, error) {
	if len(src) < recordFixedSize {
		return nil, errors.Wrap(ErrTruncatedRecord, "decode fixed header")
	}

	msg := &RetainedMessage{}
	msg.Offset = binary.LittleEndian.Uint64(src[0:8])
	msg.State = State(src[8])
	msg.Timestamp = binary.LittleEndian.Uint64(src[9:17])
	copy(msg.ID[:], src[17:33])
	msg.Checksum = binary.LittleEndian.Uint32(src[33:37])
	payloadLen := binary.LittleEndian.Uint32(src[37:41])
	headerCount := binary.LittleEndian.Uint32(src[41:45])

	offset := recordFixedSize
	if len(src) < offset+int(payloadLen) {
		return nil, errors.Wrap(ErrTruncatedRecord, "decode payload")
	}
	msg.Payload = src[offset : offset+int(payloadLen)]
	offset += int(payloadLen)

	if checksumOf(msg.Payload) != msg.Checksum {
		return nil, errors.Wrapf(ErrChecksumMismatch, "offset %d", msg.Offset)
	}

	headers, _, err := decodeHeaders(src[offset:], int(headerCount))
	if err != nil {
		return nil, err
	}
	msg.Headers = headers

	return msg, nil
}

func headerEncodedSize(key string, v HeaderValue) uint32 {
	size := uint32(4+len(key)) + 1 // key len + key + kind tag
	switch v.Kind {
	case HeaderString:
		size += 4 + uint32(len(v.Str))
	case HeaderInt64, HeaderUint64:
		size += 8
	case HeaderBool:
		size += 1
	case HeaderBytes:
		size += 4 + uint32(len(v.Bytes))
	}
	return size
}

func encodeHeaders(dst []byte, headers map[string]HeaderValue) []byte {
	for k, v := range headers {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(k)))
		dst = append(dst, lenBuf[:]...)
		dst = append(dst, k...)
		dst = append(dst, byte(v.Kind))
		switch v.Kind {
		case HeaderString:
			binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(v.Str)))
			dst = append(dst, lenBuf[:]...)
			dst = append(dst, v.Str...)
		case HeaderInt64:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(v.Int))
			dst = append(dst, b[:]...)
		case HeaderUint64:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], v.Uint)
			dst = append(dst, b[:]...)
		case HeaderBool:
			if v.Bool {
				dst = append(dst, 1)
			} else {
				dst = append(dst, 0)
			}
		case HeaderBytes:
			binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(v.Bytes)))
			dst = append(dst, lenBuf[:]...)
			dst = append(dst, v.Bytes...)
		}
	}
	return dst
}

func decodeHeaders(src []byte, count int) (map[string]HeaderValue, int, error) {
	if count == 0 {
		return nil, 0, nil
	}
	headers := make(map[string]HeaderValue, count)
	pos := 0
	for i := 0; i < count; i++ {
		if len(src)-pos < 5 {
			return nil, 0, errors.Wrap(ErrTruncatedRecord, "decode header key length")
		}
		keyLen := int(binary.LittleEndian.Uint32(src[pos:]))
		pos += 4
		if len(src)-pos < keyLen+1 {
			return nil, 0, errors.Wrap(ErrTruncatedRecord, "decode header key")
		}
		key := string(src[pos : pos+keyLen])
		pos += keyLen
		kind := HeaderKind(src[pos])
		pos++

		var value HeaderValue
		switch kind {
		case HeaderString:
			if len(src)-pos < 4 {
				return nil, 0, errors.Wrap(ErrTruncatedRecord, "decode header string length")
			}
			l := int(binary.LittleEndian.Uint32(src[pos:]))
			pos += 4
			if len(src)-pos < l {
				return nil, 0, errors.Wrap(ErrTruncatedRecord, "decode header string")
			}
			value = StringHeader(string(src[pos : pos+l]))
			pos += l
		case HeaderInt64:
			if len(src)-pos < 8 {
				return nil, 0, errors.Wrap(ErrTruncatedRecord, "decode header int64")
			}
			value = Int64Header(int64(binary.LittleEndian.Uint64(src[pos:])))
			pos += 8
		case HeaderUint64:
			if len(src)-pos < 8 {
				return nil, 0, errors.Wrap(ErrTruncatedRecord, "decode header uint64")
			}
			value = Uint64Header(binary.LittleEndian.Uint64(src[pos:]))
			pos += 8
		case HeaderBool:
			if len(src)-pos < 1 {
				return nil, 0, errors.Wrap(ErrTruncatedRecord, "decode header bool")
			}
			value = BoolHeader(src[pos] != 0)
			pos++
		case HeaderBytes:
			if len(src)-pos < 4 {
				return nil, 0, errors.Wrap(ErrTruncatedRecord, "decode header bytes length")
			}
			l := int(binary.LittleEndian.Uint32(src[pos:]))
			pos += 4
			if len(src)-pos < l {
				return nil, 0, errors.Wrap(ErrTruncatedRecord, "decode header bytes")
			}
			value = BytesHeader(src[pos : pos+l])
			pos += l
		default:
			return nil, 0, errors.Wrapf(ErrInvalidHeaderKind, "kind %d", kind)
		}

		headers[key] = value
	}
	return headers, pos, nil
}
