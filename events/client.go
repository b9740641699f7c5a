package events

import "encoding/json"

// Client event type discriminators.
const (
	TypeSessionUpdate = "session.update"

	TypeInputAudioBufferAppend = "input_audio_buffer.append"
	TypeInputAudioBufferCommit = "input_audio_buffer.commit"
	TypeInputAudioBufferClear  = "input_audio_buffer.clear"

	TypeConversationItemCreate   = "conversation.item.create"
	TypeConversationItemTruncate = "conversation.item.truncate"
	TypeConversationItemDelete   = "conversation.item.delete"

	TypeResponseCreate   = "response.create"
	TypeResponseTruncate = "response.truncate"
	TypeResponseCancel   = "response.cancel"
)

type SessionUpdateEvent struct {
	BaseEvent
	Session SessionUpdate `json:"session"`
}

type InputAudioBufferAppendEvent struct {
	BaseEvent
	// Audio is base64-encoded PCM16.
	Audio string `json:"audio"`
}

type InputAudioBufferCommitEvent struct {
	BaseEvent
}

type InputAudioBufferClearEvent struct {
	BaseEvent
}

type ConversationItemCreateEvent struct {
	BaseEvent
	PreviousItemID string           `json:"previous_item_id,omitempty"`
	Item           ConversationItem `json:"item"`
}

type ConversationItemTruncateEvent struct {
	BaseEvent
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

type ConversationItemDeleteEvent struct {
	BaseEvent
	ItemID string `json:"item_id"`
}

type ResponseCreateEvent struct {
	BaseEvent
	Response ResponseCreatePayload `json:"response"`
}

type ResponseCreatePayload struct {
	Modalities        []string    `json:"modalities,omitempty"`
	Instructions      string      `json:"instructions,omitempty"`
	Voice             string      `json:"voice,omitempty"`
	OutputAudioFormat AudioFormat `json:"output_audio_format,omitempty"`
	Temperature       float64     `json:"temperature,omitempty"`
	MaxOutputTokens   int         `json:"max_output_tokens,omitempty"`
}

type ResponseTruncateEvent struct {
	BaseEvent
	ResponseID string `json:"response_id"`
	AudioEndMs int    `json:"audio_end_ms"`
}

type ResponseCancelEvent struct {
	BaseEvent
	ResponseID string `json:"response_id,omitempty"`
}

// Encode serializes a client command into its wire shape. It is total
// for every command in this package.
func Encode(evt any) ([]byte, error) {
	return json.Marshal(evt)
}
