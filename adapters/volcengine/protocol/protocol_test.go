package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func testConfigPayload() ConfigPayload {
	return ConfigPayload{
		User: UserConfig{UID: "device-42"},
		Audio: AudioConfig{
			Format:   "pcm",
			Rate:     16000,
			Bits:     16,
			Channel:  1,
			Language: "zh-CN",
		},
		Request: RequestConfig{
			ModelName:          "bigmodel",
			EnableITN:          true,
			EnablePunc:         true,
			ResultType:         "full",
			VadSegmentDuration: 3000,
		},
	}
}

// buildServerFrame assembles a frame the way the engine would, so the
// decoder is tested against independently constructed bytes.
func buildServerFrame(t *testing.T, headerUnits int, seq int32, msgType MessageType, serialization Serialization, compression Compression, payload []byte) []byte {
	t.Helper()
	headerLen := headerUnits*4 + 4
	frame := make([]byte, headerLen+len(payload))
	frame[0] = ProtocolVersion<<4 | byte(headerUnits)
	frame[1] = byte(msgType)<<4 | byte(FlagNoSequence)
	frame[2] = byte(serialization)<<4 | byte(compression)
	if headerUnits == 2 {
		binary.BigEndian.PutUint32(frame[4:8], uint32(seq))
	}
	binary.BigEndian.PutUint32(frame[headerUnits*4:], uint32(len(payload)))
	copy(frame[headerLen:], payload)
	return frame
}

func TestEncodeConfigFrame(t *testing.T) {
	payload := testConfigPayload()
	frame, err := EncodeConfigFrame(payload)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if frame[0] != (ProtocolVersion<<4 | 0x01) {
		t.Errorf("Expected version/header byte 0x%02x, got 0x%02x", ProtocolVersion<<4|0x01, frame[0])
	}
	if frame[1] != byte(TypeFullClientRequest)<<4|byte(FlagNoSequence) {
		t.Errorf("Unexpected type/flags byte 0x%02x", frame[1])
	}
	if frame[2] != byte(SerializationJSON)<<4|byte(CompressionNone) {
		t.Errorf("Unexpected serialization/compression byte 0x%02x", frame[2])
	}

	want, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	if got := binary.BigEndian.Uint32(frame[4:8]); got != uint32(len(want)) {
		t.Errorf("Expected payload size %d, got %d", len(want), got)
	}
	if !bytes.Equal(frame[8:], want) {
		t.Errorf("Payload bytes differ from marshalled config")
	}
}

func TestConfigFrameRoundtrip(t *testing.T) {
	payload := testConfigPayload()
	encoded, err := EncodeConfigFrame(payload)
	if err != nil {
		t.Fatal(err)
	}

	frame, err := DecodeFrame(encoded)
	if err != nil {
		t.Fatalf("Decoding an encoded config frame should succeed, got: %v", err)
	}

	want, _ := json.Marshal(payload)
	if !bytes.Equal(frame.Payload, want) {
		t.Errorf("Roundtripped payload differs:\nwant %s\ngot  %s", want, frame.Payload)
	}
	if frame.Type != TypeFullClientRequest {
		t.Errorf("Expected type %s, got %s", TypeFullClientRequest, frame.Type)
	}
	if frame.HasSequence {
		t.Error("Config frame should not carry a sequence number")
	}
}

func TestEncodeAudioFrame(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}

	tests := []struct {
		name      string
		seq       int32
		last      bool
		wantFlags Flags
	}{
		{name: "streaming chunk", seq: 2, last: false, wantFlags: FlagPositiveSequence},
		{name: "terminal chunk", seq: -5, last: true, wantFlags: FlagNegativeSequence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := EncodeAudioFrame(pcm, tt.seq, tt.last)

			if frame[1] != byte(TypeAudioOnlyRequest)<<4|byte(tt.wantFlags) {
				t.Errorf("Unexpected type/flags byte 0x%02x", frame[1])
			}
			// Bytes 4-7 are the sequence number for audio frames, not a size.
			if got := int32(binary.BigEndian.Uint32(frame[4:8])); got != tt.seq {
				t.Errorf("Expected sequence %d at bytes 4-7, got %d", tt.seq, got)
			}
			if !bytes.Equal(frame[8:], pcm) {
				t.Error("PCM bytes should follow immediately at byte 8")
			}
			if len(frame) != HeaderSizeBare+len(pcm) {
				t.Errorf("Expected frame length %d, got %d", HeaderSizeBare+len(pcm), len(frame))
			}
		})
	}
}

func TestEncodeAudioFrameEmptyPayload(t *testing.T) {
	frame := EncodeAudioFrame(nil, -2, true)
	if len(frame) != HeaderSizeBare {
		t.Errorf("Expected bare header frame of %d bytes, got %d", HeaderSizeBare, len(frame))
	}
	if got := int32(binary.BigEndian.Uint32(frame[4:8])); got != -2 {
		t.Errorf("Expected sequence -2, got %d", got)
	}
}

func TestDecodeFrame(t *testing.T) {
	jsonPayload := []byte(`{"result":{"text":"hi","definite":false}}`)

	tests := []struct {
		name        string
		data        []byte
		expectError bool
		errorMsg    string
		validate    func(*testing.T, *Frame)
	}{
		{
			name: "response with bare header",
			data: buildServerFrame(t, 1, 0, TypeFullServerResponse, SerializationJSON, CompressionNone, jsonPayload),
			validate: func(t *testing.T, f *Frame) {
				if f.Type != TypeFullServerResponse {
					t.Errorf("Expected type %s, got %s", TypeFullServerResponse, f.Type)
				}
				if f.HasSequence {
					t.Error("Bare header should not carry a sequence")
				}
				if !bytes.Equal(f.Payload, jsonPayload) {
					t.Errorf("Payload mismatch: %s", f.Payload)
				}
			},
		},
		{
			name: "sequenced header reads sequence then size",
			data: buildServerFrame(t, 2, -7, TypeFullServerResponse, SerializationJSON, CompressionNone, jsonPayload),
			validate: func(t *testing.T, f *Frame) {
				if !f.HasSequence {
					t.Fatal("Expected a sequence number")
				}
				if f.Sequence != -7 {
					t.Errorf("Expected sequence -7 from bytes 4-7, got %d", f.Sequence)
				}
				if f.PayloadSize != uint32(len(jsonPayload)) {
					t.Errorf("Expected payload size %d from bytes 8-11, got %d", len(jsonPayload), f.PayloadSize)
				}
				if !bytes.Equal(f.Payload, jsonPayload) {
					t.Error("Payload should begin at byte 12")
				}
			},
		},
		{
			name: "trailing NUL padding is stripped",
			data: buildServerFrame(t, 1, 0, TypeFullServerResponse, SerializationJSON, CompressionNone, append([]byte(`{"a":1}`), 0x00, 0x00, 0x00)),
			validate: func(t *testing.T, f *Frame) {
				if string(f.Payload) != `{"a":1}` {
					t.Errorf("Expected padding stripped, got %q", f.Payload)
				}
			},
		},
		{
			name: "unknown message type is preserved",
			data: buildServerFrame(t, 1, 0, MessageType(0b0111), SerializationNone, CompressionNone, nil),
			validate: func(t *testing.T, f *Frame) {
				if f.Type != MessageType(0b0111) {
					t.Errorf("Expected unknown type preserved, got %s", f.Type)
				}
				if IsValidMessageType(f.Type) {
					t.Error("Type 0b0111 should not validate")
				}
			},
		},
		{
			name:        "three bytes is too short",
			data:        []byte{0x11, 0x94, 0x10},
			expectError: true,
			errorMsg:    "frame shorter than minimum header",
		},
		{
			name:        "empty buffer is too short",
			data:        []byte{},
			expectError: true,
			errorMsg:    "frame shorter than minimum header",
		},
		{
			name:        "header claims more bytes than present",
			data:        []byte{0x12, 0x94, 0x10, 0x00, 0x00, 0x00, 0x00, 0x01},
			expectError: true,
			errorMsg:    "frame truncated",
		},
		{
			name:        "declared payload exceeds buffer",
			data:        buildServerFrame(t, 1, 0, TypeFullServerResponse, SerializationJSON, CompressionNone, jsonPayload)[:HeaderSizeBare+4],
			expectError: true,
			errorMsg:    "frame truncated",
		},
		{
			name:        "zero header units",
			data:        []byte{0x10, 0x94, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00},
			expectError: true,
			errorMsg:    "frame truncated",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeFrame(tt.data)

			if tt.expectError {
				if err == nil {
					t.Fatalf("Expected error but got none (frame %+v)", frame)
				}
				if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain %q, got %q", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			tt.validate(t, frame)
		})
	}
}

func TestDecodeShortFrameSentinel(t *testing.T) {
	_, err := DecodeFrame([]byte{0x11})
	if !errors.Is(err, ErrShortFrame) {
		t.Errorf("Expected ErrShortFrame, got %v", err)
	}
}

func TestCompressedPayloadIsUnsupported(t *testing.T) {
	// Capability gap: gzip payloads are detected, never inflated.
	data := buildServerFrame(t, 1, 0, TypeFullServerResponse, SerializationJSON, CompressionGzip, []byte{0x1f, 0x8b, 0x08})
	frame, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("Decoding the envelope should still succeed, got: %v", err)
	}
	if frame.Compression != CompressionGzip {
		t.Fatalf("Expected gzip compression detected, got %d", frame.Compression)
	}

	_, err = frame.PayloadText()
	if !errors.Is(err, ErrCompressedPayload) {
		t.Errorf("Expected ErrCompressedPayload, got %v", err)
	}
}
