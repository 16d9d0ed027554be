// Package protocol implements the binary framing used by the streaming
// recognition engine: a 4-byte bit-packed header, an optional signed
// sequence word, a big-endian payload size, and a raw or JSON payload.
//
// Frame layout (headerUnits = 1):
//
//	byte 0:    protocolVersion(4) | headerUnits(4)
//	byte 1:    messageType(4)     | messageTypeFlags(4)
//	byte 2:    serialization(4)   | compression(4)
//	byte 3:    reserved
//	bytes 4-7: payloadSize (uint32 BE) for config/response frames,
//	           sequenceNumber (int32 BE) for audio-only frames
//	bytes 8+:  payload
//
// headerUnits = 2 inserts a signed sequence word between byte 3 and the
// payload size, growing the header to 12 bytes. The payload always
// begins at headerUnits*4 + 4.
//
// The package is pure: no sockets, no sessions, no logging.
package protocol
