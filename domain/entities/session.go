package entities

import (
	"errors"
	"fmt"
	"sync"
)

// SessionState represents the lifecycle state of a recognition session
type SessionState string

const (
	SessionIdle        SessionState = "idle"
	SessionConnecting  SessionState = "connecting"
	SessionConnected   SessionState = "connected"
	SessionRecognizing SessionState = "recognizing"
	SessionError       SessionState = "error"
)

// RecognitionConfig is fixed for the lifetime of one session. The audio
// block describes the PCM the chunker emits; the request block selects
// engine behavior.
type RecognitionConfig struct {
	UID                string
	Language           string
	SampleRate         int
	Bits               int
	Channels           int
	ModelName          string
	EnableITN          bool
	EnablePunc         bool
	ResultType         string
	VadSegmentDuration int
}

// DefaultRecognitionConfig returns the engine defaults: 16 kHz mono
// 16-bit PCM against the streaming big model.
func DefaultRecognitionConfig() RecognitionConfig {
	return RecognitionConfig{
		SampleRate:         16000,
		Bits:               16,
		Channels:           1,
		ModelName:          "bigmodel",
		EnableITN:          true,
		EnablePunc:         true,
		ResultType:         "full",
		VadSegmentDuration: 3000,
	}
}

// Validate validates the recognition config
func (c *RecognitionConfig) Validate() error {
	if c.SampleRate <= 0 {
		return errors.New("sample rate is required")
	}
	if c.Bits != 16 {
		return errors.New("only 16-bit PCM is supported")
	}
	if c.Channels != 1 {
		return errors.New("only mono audio is supported")
	}
	if c.ModelName == "" {
		return errors.New("model name is required")
	}
	if c.ResultType != "full" && c.ResultType != "single" {
		return fmt.Errorf("invalid result type %q", c.ResultType)
	}
	return nil
}

// RecognitionSession tracks one "start recording -> get result" cycle.
// It owns the wire sequence counter: the configuration frame is
// implicitly sequence 1, so the first audio chunk sends 2. The terminal
// chunk sends the current counter value negated and the counter stops.
//
// All methods are safe for concurrent use; the streaming client touches
// the session from both its send path and its read loop.
type RecognitionSession struct {
	mu     sync.Mutex
	state  SessionState
	seq    int32
	closed bool
	config RecognitionConfig
}

// NewRecognitionSession creates an idle session with the counter primed
// for the first audio chunk.
func NewRecognitionSession(config RecognitionConfig) *RecognitionSession {
	return &RecognitionSession{
		state:  SessionIdle,
		seq:    2,
		config: config,
	}
}

// State returns the current lifecycle state.
func (s *RecognitionSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns the immutable session configuration.
func (s *RecognitionSession) Config() RecognitionConfig {
	return s.config
}

// Begin moves idle -> connecting when the transport dial starts.
func (s *RecognitionSession) Begin() error {
	return s.transition(SessionConnecting, SessionIdle)
}

// Open moves connecting -> connected once the transport is open and the
// configuration frame has been sent.
func (s *RecognitionSession) Open() error {
	return s.transition(SessionConnected, SessionConnecting)
}

// StartRecognizing moves connected -> recognizing on the first audio
// chunk. Calling it again while already recognizing is a no-op.
func (s *RecognitionSession) StartRecognizing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionRecognizing {
		return nil
	}
	if s.state != SessionConnected {
		return fmt.Errorf("cannot start recognizing from state %s", s.state)
	}
	s.state = SessionRecognizing
	return nil
}

// CanSendAudio reports whether audio chunks are currently legal to send.
func (s *RecognitionSession) CanSendAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (s.state == SessionConnected || s.state == SessionRecognizing) && !s.closed
}

// Fail moves the session into the error state. It reports true only on
// the transition that actually happened, so the caller can fire its
// error callback exactly once per failure. Idle sessions stay idle.
func (s *RecognitionSession) Fail() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case SessionConnecting, SessionConnected, SessionRecognizing:
		s.state = SessionError
		return true
	default:
		return false
	}
}

// Reset returns the session to idle from any state, including error.
// It is idempotent.
func (s *RecognitionSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SessionIdle
}

// NextSequence returns the wire sequence number for a non-terminal
// audio chunk and advances the counter.
func (s *RecognitionSession) NextSequence() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.seq
	s.seq++
	return seq
}

// FinalSequence returns the terminal sequence number: the negation of
// what the next chunk would have used. The counter stops advancing.
func (s *RecognitionSession) FinalSequence() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return -s.seq
}

// Closed reports whether the terminal chunk has already been sent.
func (s *RecognitionSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *RecognitionSession) transition(to SessionState, from SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("cannot move to %s from state %s", to, s.state)
	}
	s.state = to
	return nil
}
