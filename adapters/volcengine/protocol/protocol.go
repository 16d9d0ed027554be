package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Wire constants. Every field in the first header word is a nibble.
const (
	// ProtocolVersion is fixed across a session.
	ProtocolVersion = 0b0001

	// MinHeaderSize is the smallest prefix that still identifies a
	// frame; anything shorter is rejected outright.
	MinHeaderSize = 4

	// HeaderSizeBare is the 8-byte header used by every client frame
	// (headerUnits = 1). HeaderSizeSequenced is the 12-byte variant
	// carrying a signed sequence word (headerUnits = 2).
	HeaderSizeBare      = 8
	HeaderSizeSequenced = 12

	headerUnitBytes = 4
)

// MessageType occupies byte 1's high nibble.
type MessageType uint8

const (
	TypeFullClientRequest  MessageType = 0b0001
	TypeAudioOnlyRequest   MessageType = 0b0010
	TypeFullServerResponse MessageType = 0b1001
	TypeServerAck          MessageType = 0b1011
	TypeServerError        MessageType = 0b1111
)

// Flags occupy byte 1's low nibble and qualify the sequence semantics
// of audio frames.
type Flags uint8

const (
	FlagNoSequence           Flags = 0b0000
	FlagPositiveSequence     Flags = 0b0001 // more audio follows
	FlagNegativeSequence     Flags = 0b0010 // terminal chunk
	FlagNegativeWithSequence Flags = 0b0011
)

// Serialization occupies byte 2's high nibble.
type Serialization uint8

const (
	SerializationNone Serialization = 0b0000
	SerializationJSON Serialization = 0b0001
)

// Compression occupies byte 2's low nibble. Gzip is detected but never
// inflated here; see Frame.PayloadText.
type Compression uint8

const (
	CompressionNone Compression = 0b0000
	CompressionGzip Compression = 0b0001
)

var (
	// ErrShortFrame rejects buffers smaller than MinHeaderSize.
	ErrShortFrame = errors.New("frame shorter than minimum header")
	// ErrTruncatedFrame rejects frames whose declared header or payload
	// size exceeds the bytes actually present.
	ErrTruncatedFrame = errors.New("frame truncated")
	// ErrCompressedPayload marks the deliberate capability gap: gzip
	// payloads are detected but not decompressed.
	ErrCompressedPayload = errors.New("compressed payload not supported")
)

// Frame is one decoded wire message. Unknown message types are carried
// through for the caller to log rather than treated as fatal.
type Frame struct {
	Version       uint8
	HeaderUnits   uint8
	Type          MessageType
	Flags         Flags
	Serialization Serialization
	Compression   Compression
	Sequence      int32 // meaningful only when HasSequence
	HasSequence   bool
	PayloadSize   uint32
	Payload       []byte
}

// EncodeConfigFrame builds the full-client-request frame that opens a
// session: headerUnits = 1, no sequence flag, JSON payload with its
// size declared at bytes 4-7.
func EncodeConfigFrame(payload ConfigPayload) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal config payload: %w", err)
	}
	frame := make([]byte, HeaderSizeBare+len(body))
	frame[0] = ProtocolVersion<<4 | 0x01
	frame[1] = byte(TypeFullClientRequest)<<4 | byte(FlagNoSequence)
	frame[2] = byte(SerializationJSON)<<4 | byte(CompressionNone)
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(body)))
	copy(frame[HeaderSizeBare:], body)
	return frame, nil
}

// EncodeAudioFrame builds an audio-only-request frame. For this message
// type bytes 4-7 carry the signed sequence number, not a payload size;
// the PCM length is implicit in the socket message boundary. The
// terminal chunk flips the flag to negative-sequence and is expected to
// carry a negated seq.
func EncodeAudioFrame(pcm []byte, seq int32, last bool) []byte {
	flags := FlagPositiveSequence
	if last {
		flags = FlagNegativeSequence
	}
	frame := make([]byte, HeaderSizeBare+len(pcm))
	frame[0] = ProtocolVersion<<4 | 0x01
	frame[1] = byte(TypeAudioOnlyRequest)<<4 | byte(flags)
	frame[2] = byte(SerializationNone)<<4 | byte(CompressionNone)
	binary.BigEndian.PutUint32(frame[4:8], uint32(seq))
	copy(frame[HeaderSizeBare:], pcm)
	return frame
}

// DecodeFrame parses a server frame. The header unit count in byte 0's
// low nibble decides the layout: the payload size word sits at
// headerUnits*4 and the payload at headerUnits*4 + 4, with a signed
// sequence word at bytes 4-7 when headerUnits = 2. Trailing NUL padding
// is stripped from the payload. Declared sizes are bounds-checked so a
// hostile frame can never cause a slice panic.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < MinHeaderSize {
		return nil, fmt.Errorf("%w: expected at least %d bytes, got %d", ErrShortFrame, MinHeaderSize, len(data))
	}

	frame := &Frame{
		Version:       data[0] >> 4,
		HeaderUnits:   data[0] & 0x0F,
		Type:          MessageType(data[1] >> 4),
		Flags:         Flags(data[1] & 0x0F),
		Serialization: Serialization(data[2] >> 4),
		Compression:   Compression(data[2] & 0x0F),
	}

	if frame.HeaderUnits < 1 {
		return nil, fmt.Errorf("%w: header unit count %d", ErrTruncatedFrame, frame.HeaderUnits)
	}

	sizeOffset := int(frame.HeaderUnits) * headerUnitBytes
	payloadOffset := sizeOffset + 4
	if len(data) < payloadOffset {
		return nil, fmt.Errorf("%w: header claims %d bytes, got %d", ErrTruncatedFrame, payloadOffset, len(data))
	}

	if frame.HeaderUnits == 2 {
		frame.Sequence = int32(binary.BigEndian.Uint32(data[4:8]))
		frame.HasSequence = true
	}

	frame.PayloadSize = binary.BigEndian.Uint32(data[sizeOffset:payloadOffset])
	payload := data[payloadOffset:]
	if int64(frame.PayloadSize) > int64(len(payload)) {
		return nil, fmt.Errorf("%w: payload declares %d bytes, %d available", ErrTruncatedFrame, frame.PayloadSize, len(payload))
	}
	frame.Payload = bytes.TrimRight(payload[:frame.PayloadSize], "\x00")

	return frame, nil
}

// PayloadText returns the payload as UTF-8 text. Gzip payloads come
// back as ErrCompressedPayload; callers must not assume text is present
// when the compression nibble is set.
func (f *Frame) PayloadText() (string, error) {
	if f.Compression == CompressionGzip {
		return "", fmt.Errorf("%w (%d bytes)", ErrCompressedPayload, len(f.Payload))
	}
	return string(f.Payload), nil
}

// IsValidMessageType checks whether the type nibble is one this codec
// knows about.
func IsValidMessageType(t MessageType) bool {
	switch t {
	case TypeFullClientRequest, TypeAudioOnlyRequest, TypeFullServerResponse, TypeServerAck, TypeServerError:
		return true
	default:
		return false
	}
}

// String returns a human-readable name for the message type.
func (t MessageType) String() string {
	switch t {
	case TypeFullClientRequest:
		return "FullClientRequest"
	case TypeAudioOnlyRequest:
		return "AudioOnlyRequest"
	case TypeFullServerResponse:
		return "FullServerResponse"
	case TypeServerAck:
		return "ServerAck"
	case TypeServerError:
		return "ServerError"
	default:
		return fmt.Sprintf("Unknown(0b%04b)", uint8(t))
	}
}

// String returns a human-readable name for the sequence flags.
func (f Flags) String() string {
	switch f {
	case FlagNoSequence:
		return "NoSequence"
	case FlagPositiveSequence:
		return "PositiveSequence"
	case FlagNegativeSequence:
		return "NegativeSequence"
	case FlagNegativeWithSequence:
		return "NegativeWithSequence"
	default:
		return fmt.Sprintf("Unknown(0b%04b)", uint8(f))
	}
}

// String returns a compact description for logging.
func (f *Frame) String() string {
	if f.HasSequence {
		return fmt.Sprintf("Frame{Type:%s, Flags:%s, Seq:%d, PayloadLen:%d}", f.Type, f.Flags, f.Sequence, len(f.Payload))
	}
	return fmt.Sprintf("Frame{Type:%s, Flags:%s, PayloadLen:%d}", f.Type, f.Flags, len(f.Payload))
}
