package entities

// Utterance represents one transcribed segment of speech.
// Definite marks the segment as final and immutable; interim segments
// may be superseded by a later result covering the same audio.
type Utterance struct {
	Text      string `json:"text"`
	StartTime int    `json:"start_time,omitempty"`
	EndTime   int    `json:"end_time,omitempty"`
	Definite  bool   `json:"definite"`
}

// AudioChunk is one block of linear PCM audio produced by the chunker
// and consumed exactly once by the streaming client. Sequence counts
// chunk production starting at 1; the wire sequence number is assigned
// by the session at send time.
type AudioChunk struct {
	Data     []byte
	Sequence int32
	Last     bool
}

// Samples returns the chunk length in samples, assuming 16-bit mono PCM.
func (c AudioChunk) Samples() int {
	return len(c.Data) / 2
}

// ErrorKind classifies recognition failures for the error callback.
type ErrorKind string

const (
	// ErrorConnection covers transport failures: the socket failed to
	// open or closed unexpectedly before a terminal result.
	ErrorConnection ErrorKind = "connection"
	// ErrorProtocol covers malformed or unrecognized frames.
	ErrorProtocol ErrorKind = "protocol"
	// ErrorService covers explicit server-error frames.
	ErrorService ErrorKind = "service"
	// ErrorTimeout covers a missing terminal result after stop.
	ErrorTimeout ErrorKind = "timeout"
)
