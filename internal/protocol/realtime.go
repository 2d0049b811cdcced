package protocol

import (
	"encoding/json"
	"strings"
)

// ServerEventType identifies OpenAI Realtime server events.
type ServerEventType string

const (
	EventSessionCreated               ServerEventType = "session.created"
	EventSessionUpdated               ServerEventType = "session.updated"
	EventResponseCreated              ServerEventType = "response.created"
	EventResponseDone                 ServerEventType = "response.done"
	EventResponseOutputItemAdded      ServerEventType = "response.output_item.added"
	EventResponseOutputItemDone       ServerEventType = "response.output_item.done"
	EventResponseContentPartAdded     ServerEventType = "response.content_part.added"
	EventResponseAudioDelta           ServerEventType = "response.audio.delta"
	EventResponseAudioTranscriptDelta ServerEventType = "response.audio_transcript.delta"
	EventSpeechStarted                ServerEventType = "input_audio_buffer.speech_started"
	EventConversationItemCreated      ServerEventType = "conversation.item.created"
	EventTranscriptionCompleted       ServerEventType = "conversation.item.input_audio_transcription.completed"
	EventTranscriptionFailed          ServerEventType = "conversation.item.input_audio_transcription.failed"
	EventError                        ServerEventType = "error"
)

// Client event types sent to the model.
const (
	TypeSessionUpdate          = "session.update"
	TypeInputAudioBufferAppend = "input_audio_buffer.append"
	TypeResponseCreate         = "response.create"
	TypeConversationItemCreate = "conversation.item.create"
	TypeConversationItemTrunc  = "conversation.item.truncate"
)

// Item kinds and statuses shared by the model protocol and the item store.
const (
	ItemTypeMessage            = "message"
	ItemTypeFunctionCall       = "function_call"
	ItemTypeFunctionCallOutput = "function_call_output"

	ResponseStatusFailed = "failed"
)

// ServerEvent is the tagged union of every model event the relay inspects.
// Fields not relevant to Type are left zero. Raw keeps the frame verbatim.
type ServerEvent struct {
	Type         ServerEventType `json:"type"`
	EventID      string          `json:"event_id,omitempty"`
	ItemID       string          `json:"item_id,omitempty"`
	OutputIndex  *int            `json:"output_index,omitempty"`
	ContentIndex int             `json:"content_index,omitempty"`
	Delta        string          `json:"delta,omitempty"`
	Transcript   string          `json:"transcript,omitempty"`
	Item         *RealtimeItem   `json:"item,omitempty"`
	Part         *ContentPart    `json:"part,omitempty"`
	Response     *ResponseInfo   `json:"response,omitempty"`
	Error        *ErrorInfo      `json:"error,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// RealtimeItem is a conversation item as the model reports it.
type RealtimeItem struct {
	ID        string        `json:"id"`
	Object    string        `json:"object,omitempty"`
	Type      string        `json:"type"`
	Status    string        `json:"status,omitempty"`
	Role      string        `json:"role,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	Name      string        `json:"name,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
}

// ContentPart covers text, input_text, audio and input_audio parts.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// PlainText returns the readable text of a part, preferring text over transcript.
func (p ContentPart) PlainText() string {
	if strings.TrimSpace(p.Text) != "" {
		return p.Text
	}
	return p.Transcript
}

type ResponseInfo struct {
	ID            string          `json:"id,omitempty"`
	Status        string          `json:"status,omitempty"`
	StatusDetails json.RawMessage `json:"status_details,omitempty"`
}

type ErrorInfo struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// IsOutputZero reports whether the event targets the first output of a response.
// Events that omit output_index are treated as index 0.
func (e ServerEvent) IsOutputZero() bool {
	return e.OutputIndex == nil || *e.OutputIndex == 0
}

// ParseServerEvent decodes one model frame. Unknown event types decode fine;
// callers route them through their default branch.
func ParseServerEvent(raw []byte) (ServerEvent, error) {
	var evt ServerEvent
	if err := decode(raw, &evt); err != nil {
		return ServerEvent{}, err
	}
	if evt.Type == "" {
		return ServerEvent{}, errMissing("type")
	}
	evt.Raw = append(json.RawMessage(nil), raw...)
	return evt, nil
}

// SessionUpdate carries a full session configuration to the model.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type InputAudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type ResponseCreate struct {
	Type string `json:"type"`
}

type ConversationItemCreate struct {
	Type string             `json:"type"`
	Item FunctionCallOutput `json:"item"`
}

type FunctionCallOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type ConversationItemTruncate struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int64  `json:"audio_end_ms"`
}

func NewSessionUpdate(cfg SessionConfig) SessionUpdate {
	return SessionUpdate{Type: TypeSessionUpdate, Session: cfg}
}

func NewInputAudioAppend(audio string) InputAudioAppend {
	return InputAudioAppend{Type: TypeInputAudioBufferAppend, Audio: audio}
}

func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: TypeResponseCreate}
}

func NewFunctionCallOutput(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: FunctionCallOutput{Type: ItemTypeFunctionCallOutput, CallID: callID, Output: output},
	}
}

func NewTruncate(itemID string, audioEndMS int64) ConversationItemTruncate {
	if audioEndMS < 0 {
		audioEndMS = 0
	}
	return ConversationItemTruncate{Type: TypeConversationItemTrunc, ItemID: itemID, ContentIndex: 0, AudioEndMS: audioEndMS}
}
