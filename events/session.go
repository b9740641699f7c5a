package events

import "github.com/codewandler/voicert-go/tool"

type AudioFormat string

const (
	AudioFormatPCM16 AudioFormat = "pcm16"
)

// Session is the session resource as reported by the server in
// session.created and session.updated events.
type Session struct {
	ID                      string                   `json:"id,omitempty"`
	Object                  string                   `json:"object,omitempty"`
	ExpiresAt               int64                    `json:"expires_at,omitempty"`
	Model                   string                   `json:"model,omitempty"`
	Modalities              []string                 `json:"modalities,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	Voice                   string                   `json:"voice,omitempty"`
	InputAudioFormat        string                   `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string                   `json:"output_audio_format,omitempty"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection           `json:"turn_detection,omitempty"`
	ToolChoice              string                   `json:"tool_choice,omitempty"`
	Temperature             float64                  `json:"temperature,omitempty"`
	MaxResponseOutputTokens any                      `json:"max_response_output_tokens,omitempty"`
	Speed                   float64                  `json:"speed,omitempty"`
	Tools                   *[]any                   `json:"tools,omitempty"`
}

// SessionUpdate is the client-side session configuration payload for
// session.update.
type SessionUpdate struct {
	Modalities              []string                 `json:"modalities,omitempty"`
	Model                   string                   `json:"model,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	Voice                   string                   `json:"voice,omitempty"`
	InputAudioFormat        AudioFormat              `json:"input_audio_format,omitempty"`
	OutputAudioFormat       AudioFormat              `json:"output_audio_format,omitempty"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection           `json:"turn_detection,omitempty"`
	Temperature             float64                  `json:"temperature,omitempty"`
	MaxResponseOutputTokens string                   `json:"max_response_output_tokens,omitempty"`
	Speed                   float64                  `json:"speed,omitempty"`
	Tools                   []tool.Tool              `json:"tools,omitempty"`
	ToolChoice              tool.Choice              `json:"tool_choice,omitempty"`
}

// InputAudioTranscription configures server-side transcription of user
// audio.
type InputAudioTranscription struct {
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
}

// TurnDetection holds the VAD configuration.
type TurnDetection struct {
	Type              string  `json:"type,omitempty"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool    `json:"create_response,omitempty"`
	InterruptResponse bool    `json:"interrupt_response,omitempty"`
}
