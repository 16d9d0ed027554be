package entities

import (
	"testing"
)

func TestSessionLifecycle(t *testing.T) {
	session := NewRecognitionSession(DefaultRecognitionConfig())

	if session.State() != SessionIdle {
		t.Errorf("Expected initial state %s, got %s", SessionIdle, session.State())
	}

	if err := session.Begin(); err != nil {
		t.Fatalf("Begin from idle should succeed, got: %v", err)
	}
	if session.State() != SessionConnecting {
		t.Errorf("Expected state %s, got %s", SessionConnecting, session.State())
	}

	if err := session.Open(); err != nil {
		t.Fatalf("Open from connecting should succeed, got: %v", err)
	}
	if session.State() != SessionConnected {
		t.Errorf("Expected state %s, got %s", SessionConnected, session.State())
	}

	if err := session.StartRecognizing(); err != nil {
		t.Fatalf("StartRecognizing from connected should succeed, got: %v", err)
	}
	if session.State() != SessionRecognizing {
		t.Errorf("Expected state %s, got %s", SessionRecognizing, session.State())
	}

	session.Reset()
	if session.State() != SessionIdle {
		t.Errorf("Expected state %s after reset, got %s", SessionIdle, session.State())
	}
}

func TestSessionIllegalTransitions(t *testing.T) {
	session := NewRecognitionSession(DefaultRecognitionConfig())

	if err := session.Open(); err == nil {
		t.Error("Open from idle should fail")
	}
	if err := session.StartRecognizing(); err == nil {
		t.Error("StartRecognizing from idle should fail")
	}

	if err := session.Begin(); err != nil {
		t.Fatalf("Begin from idle should succeed, got: %v", err)
	}
	if err := session.Begin(); err == nil {
		t.Error("Begin from connecting should fail")
	}
}

func TestSessionStartRecognizingIsIdempotent(t *testing.T) {
	session := NewRecognitionSession(DefaultRecognitionConfig())
	mustConnect(t, session)

	if err := session.StartRecognizing(); err != nil {
		t.Fatalf("First StartRecognizing should succeed, got: %v", err)
	}
	if err := session.StartRecognizing(); err != nil {
		t.Errorf("Repeated StartRecognizing should be a no-op, got: %v", err)
	}
}

func TestSequenceNumbers(t *testing.T) {
	session := NewRecognitionSession(DefaultRecognitionConfig())

	// The configuration frame is implicitly sequence 1.
	for want := int32(2); want <= 5; want++ {
		got := session.NextSequence()
		if got != want {
			t.Errorf("Expected sequence %d, got %d", want, got)
		}
	}

	// The terminal chunk negates what the next number would have been.
	final := session.FinalSequence()
	if final != -6 {
		t.Errorf("Expected final sequence -6, got %d", final)
	}
	if !session.Closed() {
		t.Error("Session should report closed after the terminal sequence")
	}
}

func TestFinalSequenceWithoutAudio(t *testing.T) {
	session := NewRecognitionSession(DefaultRecognitionConfig())

	if final := session.FinalSequence(); final != -2 {
		t.Errorf("Expected final sequence -2 when no audio was sent, got %d", final)
	}
}

func TestCanSendAudio(t *testing.T) {
	session := NewRecognitionSession(DefaultRecognitionConfig())

	if session.CanSendAudio() {
		t.Error("Audio should not be sendable while idle")
	}

	if err := session.Begin(); err != nil {
		t.Fatal(err)
	}
	if session.CanSendAudio() {
		t.Error("Audio should not be sendable while connecting")
	}

	if err := session.Open(); err != nil {
		t.Fatal(err)
	}
	if !session.CanSendAudio() {
		t.Error("Audio should be sendable while connected")
	}

	if err := session.StartRecognizing(); err != nil {
		t.Fatal(err)
	}
	if !session.CanSendAudio() {
		t.Error("Audio should be sendable while recognizing")
	}

	session.FinalSequence()
	if session.CanSendAudio() {
		t.Error("Audio should not be sendable after the terminal chunk")
	}
}

func TestFailFiresOnce(t *testing.T) {
	session := NewRecognitionSession(DefaultRecognitionConfig())

	if session.Fail() {
		t.Error("Fail from idle should not transition")
	}

	mustConnect(t, session)

	if !session.Fail() {
		t.Error("First Fail from connected should transition")
	}
	if session.State() != SessionError {
		t.Errorf("Expected state %s, got %s", SessionError, session.State())
	}
	if session.Fail() {
		t.Error("Second Fail should not transition again")
	}

	// Only an explicit reset leaves the error state.
	session.Reset()
	if session.State() != SessionIdle {
		t.Errorf("Expected state %s after reset, got %s", SessionIdle, session.State())
	}
}

func TestResetIsIdempotent(t *testing.T) {
	session := NewRecognitionSession(DefaultRecognitionConfig())

	session.Reset()
	session.Reset()
	if session.State() != SessionIdle {
		t.Errorf("Expected state %s, got %s", SessionIdle, session.State())
	}
}

func TestRecognitionConfigValidation(t *testing.T) {
	config := DefaultRecognitionConfig()
	if err := config.Validate(); err != nil {
		t.Errorf("Default config should validate, got: %v", err)
	}

	config.Bits = 8
	if err := config.Validate(); err == nil {
		t.Error("8-bit audio should fail validation")
	}

	config = DefaultRecognitionConfig()
	config.Channels = 2
	if err := config.Validate(); err == nil {
		t.Error("Stereo audio should fail validation")
	}

	config = DefaultRecognitionConfig()
	config.ResultType = "chunked"
	if err := config.Validate(); err == nil {
		t.Error("Unknown result type should fail validation")
	}

	config = DefaultRecognitionConfig()
	config.ModelName = ""
	if err := config.Validate(); err == nil {
		t.Error("Empty model name should fail validation")
	}
}

func mustConnect(t *testing.T, session *RecognitionSession) {
	t.Helper()
	if err := session.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := session.Open(); err != nil {
		t.Fatal(err)
	}
}
