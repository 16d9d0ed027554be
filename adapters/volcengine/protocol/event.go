package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Jonas1mposter/project-resonance/domain/entities"
)

// EventKind tags a normalized server event.
type EventKind string

const (
	EventPartial      EventKind = "partial"
	EventFinal        EventKind = "final"
	EventAck          EventKind = "ack"
	EventServiceError EventKind = "service_error"
)

// ServerEvent is the normalized form of one server frame. All payload
// shape variations (top-level result vs payload_msg nesting, message vs
// error keys) are resolved here so downstream code switches on Kind and
// nothing else.
type ServerEvent struct {
	Kind        EventKind
	Text        string
	Utterances  []entities.Utterance
	Sequence    int32
	HasSequence bool
	Code        int32
	Message     string
}

// resultEnvelope covers both nesting variants the engine emits.
type resultEnvelope struct {
	Result     *resultBody `json:"result"`
	PayloadMsg *struct {
		Result *resultBody `json:"result"`
	} `json:"payload_msg"`
}

type resultBody struct {
	Text       string               `json:"text"`
	Definite   bool                 `json:"definite"`
	Utterances []entities.Utterance `json:"utterances"`
}

type errorEnvelope struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// ParseServerEvent normalizes a decoded frame into a tagged event.
// Response frames that cannot be read (unknown message type, compressed
// payload, malformed or result-less JSON) come back as errors for the
// caller to log and drop; they never panic and never corrupt the
// session. Server errors always produce an event, even when the payload
// text is unavailable, because they must reach the error callback.
func ParseServerEvent(frame *Frame) (*ServerEvent, error) {
	switch frame.Type {
	case TypeServerAck:
		return &ServerEvent{
			Kind:        EventAck,
			Sequence:    frame.Sequence,
			HasSequence: frame.HasSequence,
		}, nil

	case TypeServerError:
		return parseServerError(frame), nil

	case TypeFullServerResponse:
		return parseServerResponse(frame)

	default:
		return nil, fmt.Errorf("unexpected message type %s", frame.Type)
	}
}

func parseServerResponse(frame *Frame) (*ServerEvent, error) {
	text, err := frame.PayloadText()
	if err != nil {
		return nil, fmt.Errorf("response payload: %w", err)
	}
	if text == "" {
		return nil, fmt.Errorf("empty response payload")
	}

	var envelope resultEnvelope
	if err := json.Unmarshal([]byte(text), &envelope); err != nil {
		return nil, fmt.Errorf("parse response payload: %w", err)
	}

	result := envelope.Result
	if result == nil && envelope.PayloadMsg != nil {
		result = envelope.PayloadMsg.Result
	}
	if result == nil {
		return nil, fmt.Errorf("response payload has no result object")
	}

	event := &ServerEvent{
		Kind:        EventPartial,
		Text:        result.Text,
		Utterances:  result.Utterances,
		Sequence:    frame.Sequence,
		HasSequence: frame.HasSequence,
	}
	if result.Definite {
		event.Kind = EventFinal
	}
	return event, nil
}

func parseServerError(frame *Frame) *ServerEvent {
	event := &ServerEvent{
		Kind:        EventServiceError,
		Sequence:    frame.Sequence,
		HasSequence: frame.HasSequence,
	}

	text, err := frame.PayloadText()
	if err != nil {
		// The server-supplied message is unreadable; escalate anyway.
		event.Message = "server error with compressed payload"
		return event
	}

	var envelope errorEnvelope
	if json.Unmarshal([]byte(text), &envelope) == nil {
		event.Code = envelope.Code
		switch {
		case envelope.Message != "":
			event.Message = envelope.Message
		case envelope.Error != "":
			event.Message = envelope.Error
		}
	}
	if event.Message == "" {
		event.Message = text
	}
	if event.Message == "" {
		event.Message = "unspecified server error"
	}
	return event
}
