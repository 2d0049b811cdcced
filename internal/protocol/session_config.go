package protocol

import "encoding/json"

// SessionConfig is the realtime session configuration pushed with session.update.
// Zero values mean "not set" and are omitted on the wire.
type SessionConfig struct {
	Model                   string          `json:"model,omitempty"`
	Modalities              []string        `json:"modalities,omitempty"`
	Instructions            string          `json:"instructions,omitempty"`
	Voice                   string          `json:"voice,omitempty"`
	Temperature             *float64        `json:"temperature,omitempty"`
	TurnDetection           *TurnDetection  `json:"turn_detection,omitempty"`
	InputAudioTranscription *Transcription  `json:"input_audio_transcription,omitempty"`
	InputAudioFormat        string          `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string          `json:"output_audio_format,omitempty"`
	Tools                   []Tool          `json:"tools,omitempty"`
	ToolChoice              string          `json:"tool_choice,omitempty"`
	MaxResponseOutputTokens json.RawMessage `json:"max_response_output_tokens,omitempty"`
}

type TurnDetection struct {
	Type              string   `json:"type,omitempty"`
	Threshold         *float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   *int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS *int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    *bool    `json:"create_response,omitempty"`
	InterruptResponse *bool    `json:"interrupt_response,omitempty"`
}

type Transcription struct {
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

// Tool is a function schema advertised to the model.
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// DefaultSessionConfig is the process-wide baseline every call starts from.
func DefaultSessionConfig() SessionConfig {
	temperature := 0.7
	threshold := 0.4
	silence := 1000
	return SessionConfig{
		Modalities:  []string{"text", "audio"},
		Voice:       "ash",
		Temperature: &temperature,
		TurnDetection: &TurnDetection{
			Type:              "server_vad",
			Threshold:         &threshold,
			SilenceDurationMS: &silence,
		},
		InputAudioTranscription: &Transcription{Model: "gpt-4o-transcribe"},
		InputAudioFormat:        "g711_ulaw",
		OutputAudioFormat:       "g711_ulaw",
	}
}

// MergeSessionConfig overlays override on base field by field. Sub-objects
// (turn detection, transcription) come from override when present and from
// base otherwise. When tools is non-empty it replaces whatever either config
// declared; otherwise override's tools pass through.
func MergeSessionConfig(base, override SessionConfig, tools []Tool) SessionConfig {
	out := base
	if override.Model != "" {
		out.Model = override.Model
	}
	if len(override.Modalities) > 0 {
		out.Modalities = append([]string(nil), override.Modalities...)
	}
	if override.Instructions != "" {
		out.Instructions = override.Instructions
	}
	if override.Voice != "" {
		out.Voice = override.Voice
	}
	if override.Temperature != nil {
		out.Temperature = override.Temperature
	}
	if override.TurnDetection != nil {
		out.TurnDetection = override.TurnDetection
	}
	if override.InputAudioTranscription != nil {
		out.InputAudioTranscription = override.InputAudioTranscription
	}
	if override.InputAudioFormat != "" {
		out.InputAudioFormat = override.InputAudioFormat
	}
	if override.OutputAudioFormat != "" {
		out.OutputAudioFormat = override.OutputAudioFormat
	}
	if override.ToolChoice != "" {
		out.ToolChoice = override.ToolChoice
	}
	if len(override.MaxResponseOutputTokens) > 0 {
		out.MaxResponseOutputTokens = override.MaxResponseOutputTokens
	}

	switch {
	case len(tools) > 0:
		out.Tools = append([]Tool(nil), tools...)
	case len(override.Tools) > 0:
		out.Tools = append([]Tool(nil), override.Tools...)
	default:
		out.Tools = nil
	}
	return out
}
