package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Synthesized observer event types.
const (
	TypeTranscription = "transcription"
	TypeCallEnded     = "call.ended"
	TypeRelayError    = "relay.error"
)

// ObserverSessionUpdate replaces the process-wide default configuration.
type ObserverSessionUpdate struct {
	Session SessionConfig
}

// ObserverPassthrough is any other observer frame; it is forwarded to every
// open model connection unchanged.
type ObserverPassthrough struct {
	Type string
	Raw  json.RawMessage
}

type observerEnvelope struct {
	Type    string          `json:"type"`
	Session json.RawMessage `json:"session,omitempty"`
}

// ParseObserverMessage decodes one frame from the monitoring frontend. Valid
// JSON that is not an object passes through untyped.
func ParseObserverMessage(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] != '{' {
		if !json.Valid(trimmed) {
			return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
		}
		return ObserverPassthrough{Raw: append(json.RawMessage(nil), trimmed...)}, nil
	}
	var env observerEnvelope
	if err := decode(raw, &env); err != nil {
		return nil, err
	}
	if env.Type == TypeSessionUpdate {
		var cfg SessionConfig
		if len(env.Session) > 0 {
			if err := decode(env.Session, &cfg); err != nil {
				return nil, err
			}
		}
		return ObserverSessionUpdate{Session: cfg}, nil
	}
	return ObserverPassthrough{Type: env.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
}

type TranscriptionEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	ItemID     string `json:"item_id"`
	StreamSID  string `json:"streamSid"`
}

type CallEndedEvent struct {
	Type         string `json:"type"`
	StreamSID    string `json:"streamSid"`
	MessageCount int    `json:"message_count"`
	DurationMS   int64  `json:"duration_ms"`
}

// RelayErrorEvent reports a relay-side failure the observer would not otherwise see.
type RelayErrorEvent struct {
	Type      string `json:"type"`
	StreamSID string `json:"streamSid"`
	Code      string `json:"code"`
	Detail    string `json:"detail,omitempty"`
}

func NewTranscriptionEvent(streamSID, itemID, transcript string) TranscriptionEvent {
	return TranscriptionEvent{Type: TypeTranscription, Transcript: transcript, ItemID: itemID, StreamSID: streamSID}
}

func NewCallEndedEvent(streamSID string, messageCount int, durationMS int64) CallEndedEvent {
	return CallEndedEvent{Type: TypeCallEnded, StreamSID: streamSID, MessageCount: messageCount, DurationMS: durationMS}
}

func NewRelayErrorEvent(streamSID, code, detail string) RelayErrorEvent {
	return RelayErrorEvent{Type: TypeRelayError, StreamSID: streamSID, Code: code, Detail: detail}
}
