package repositories

import (
	"context"

	"github.com/Jonas1mposter/project-resonance/domain/entities"
)

// SpeechRecognizer abstracts streaming speech recognition
type SpeechRecognizer interface {
	// Connect opens the transport and sends the session configuration
	// frame. It returns only after both have happened. Calling it while
	// a session is live tears the previous session down first.
	Connect(ctx context.Context, config entities.RecognitionConfig) error
	// SendAudio encodes and transmits one audio chunk using the current
	// sequence counter. Chunks sent outside the connected or recognizing
	// states are dropped with a logged warning, not an error.
	SendAudio(chunk entities.AudioChunk) error
	// Stop sends the terminal negative-sequence frame and arms the
	// bounded wait for a trailing definite result.
	Stop() error
	// Disconnect tears the session down immediately. Safe to call from
	// any state, including inside an event callback, any number of times.
	Disconnect()
}

// RecognitionEvents receives the session's asynchronous callbacks.
// Events are delivered from the client's read loop; implementations
// should return quickly.
type RecognitionEvents interface {
	OnPartialResult(text string)
	OnFinalResult(text string, utterances []entities.Utterance)
	OnError(kind entities.ErrorKind, message string)
	OnStateChange(state entities.SessionState)
}
