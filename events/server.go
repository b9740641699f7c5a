package events

// Server event type discriminators.
const (
	TypeError = "error"

	TypeSessionCreated = "session.created"
	TypeSessionUpdated = "session.updated"

	TypeConversationCreated           = "conversation.created"
	TypeConversationItemCreated       = "conversation.item.created"
	TypeConversationItemDeleted       = "conversation.item.deleted"
	TypeConversationItemTruncated     = "conversation.item.truncated"
	TypeInputAudioTranscriptionDone   = "conversation.item.input_audio_transcription.completed"
	TypeInputAudioTranscriptionFailed = "conversation.item.input_audio_transcription.failed"

	TypeInputAudioBufferCommitted     = "input_audio_buffer.committed"
	TypeInputAudioBufferCleared       = "input_audio_buffer.cleared"
	TypeInputAudioBufferSpeechStarted = "input_audio_buffer.speech_started"
	TypeInputAudioBufferSpeechStopped = "input_audio_buffer.speech_stopped"

	TypeOutputAudioBufferStarted = "output_audio_buffer.started"
	TypeOutputAudioBufferStopped = "output_audio_buffer.stopped"
	TypeOutputAudioBufferCleared = "output_audio_buffer.cleared"

	TypeResponseCreated          = "response.created"
	TypeResponseDone             = "response.done"
	TypeResponseOutputItemAdded  = "response.output_item.added"
	TypeResponseOutputItemDone   = "response.output_item.done"
	TypeResponseContentPartAdded = "response.content_part.added"
	TypeResponseContentPartDone  = "response.content_part.done"

	TypeResponseTextDelta            = "response.text.delta"
	TypeResponseTextDone             = "response.text.done"
	TypeResponseAudioTranscriptDelta = "response.audio_transcript.delta"
	TypeResponseAudioTranscriptDone  = "response.audio_transcript.done"
	TypeResponseAudioDelta           = "response.audio.delta"
	TypeResponseAudioDone            = "response.audio.done"

	TypeResponseFunctionCallArgumentsDelta = "response.function_call_arguments.delta"
	TypeResponseFunctionCallArgumentsDone  = "response.function_call_arguments.done"

	TypeRateLimitsUpdated = "rate_limits.updated"
)

// UnknownEvent carries the discriminator of a recognized-but-unmapped or
// entirely unrecognized server event. It never mutates conversation
// state.
type UnknownEvent struct {
	BaseEvent
}

type ErrorEvent struct {
	BaseEvent
	ErrorDetail ErrorDetail `json:"error"`
}

func (e *ErrorEvent) Error() string {
	return e.ErrorDetail.Error()
}

type SessionCreatedEvent struct {
	BaseEvent
	Session Session `json:"session"`
}

type SessionUpdatedEvent struct {
	BaseEvent
	Session Session `json:"session"`
}

type ConversationCreatedEvent struct {
	BaseEvent
	Conversation struct {
		ID     string `json:"id,omitempty"`
		Object string `json:"object,omitempty"`
	} `json:"conversation"`
}

type ConversationItemCreatedEvent struct {
	BaseEvent
	PreviousItemID string           `json:"previous_item_id,omitempty"`
	Item           ConversationItem `json:"item"`
}

type ConversationItemDeletedEvent struct {
	BaseEvent
	ItemID string `json:"item_id"`
}

type ConversationItemTruncatedEvent struct {
	BaseEvent
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

type InputAudioTranscriptionDoneEvent struct {
	BaseEvent
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

type InputAudioTranscriptionFailedEvent struct {
	BaseEvent
	ItemID       string      `json:"item_id"`
	ContentIndex int         `json:"content_index"`
	ErrorDetail  ErrorDetail `json:"error"`
}

type InputAudioBufferCommittedEvent struct {
	BaseEvent
	PreviousItemID string `json:"previous_item_id,omitempty"`
	ItemID         string `json:"item_id"`
}

type InputAudioBufferClearedEvent struct {
	BaseEvent
}

type SpeechStartedEvent struct {
	BaseEvent
	AudioStartMs int    `json:"audio_start_ms,omitempty"`
	ItemID       string `json:"item_id,omitempty"`
}

type SpeechStoppedEvent struct {
	BaseEvent
	AudioEndMs int    `json:"audio_end_ms,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
}

type OutputAudioBufferStartedEvent struct {
	BaseEvent
	ResponseID string `json:"response_id,omitempty"`
}

type OutputAudioBufferStoppedEvent struct {
	BaseEvent
	ResponseID string `json:"response_id,omitempty"`
}

type OutputAudioBufferClearedEvent struct {
	BaseEvent
	ResponseID string `json:"response_id,omitempty"`
}

type ResponseCreatedEvent struct {
	BaseEvent
	Response Response `json:"response"`
}

type ResponseDoneEvent struct {
	BaseEvent
	Response Response `json:"response"`
}

type ResponseOutputItemAddedEvent struct {
	BaseEvent
	ResponseID  string           `json:"response_id"`
	OutputIndex int              `json:"output_index"`
	Item        ConversationItem `json:"item"`
}

type ResponseOutputItemDoneEvent struct {
	BaseEvent
	ResponseID  string           `json:"response_id"`
	OutputIndex int              `json:"output_index"`
	Item        ConversationItem `json:"item"`
}

type ResponseContentPartAddedEvent struct {
	BaseEvent
	ResponseID   string      `json:"response_id"`
	ItemID       string      `json:"item_id"`
	OutputIndex  int         `json:"output_index"`
	ContentIndex int         `json:"content_index"`
	Part         ContentPart `json:"part"`
}

type ResponseContentPartDoneEvent struct {
	BaseEvent
	ResponseID   string      `json:"response_id"`
	ItemID       string      `json:"item_id"`
	OutputIndex  int         `json:"output_index"`
	ContentIndex int         `json:"content_index"`
	Part         ContentPart `json:"part"`
}

type ResponseTextDeltaEvent struct {
	BaseEvent
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

type ResponseTextDoneEvent struct {
	BaseEvent
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Text         string `json:"text"`
}

type ResponseAudioTranscriptDeltaEvent struct {
	BaseEvent
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

type ResponseAudioTranscriptDoneEvent struct {
	BaseEvent
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

// ResponseAudioDeltaEvent carries one chunk of assistant audio. The wire
// field is base64; Audio holds the decoded bytes when decoding succeeded.
type ResponseAudioDeltaEvent struct {
	BaseEvent
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
	Audio        []byte `json:"-"`
}

type ResponseAudioDoneEvent struct {
	BaseEvent
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
}

type ResponseFunctionCallArgumentsDeltaEvent struct {
	BaseEvent
	ResponseID  string `json:"response_id"`
	ItemID      string `json:"item_id"`
	OutputIndex int    `json:"output_index"`
	CallID      string `json:"call_id"`
	Delta       string `json:"delta"`
}

type ResponseFunctionCallArgumentsDoneEvent struct {
	BaseEvent
	ResponseID  string `json:"response_id"`
	ItemID      string `json:"item_id"`
	OutputIndex int    `json:"output_index"`
	CallID      string `json:"call_id"`
	Arguments   string `json:"arguments"`
}

type RateLimitsUpdatedEvent struct {
	BaseEvent
	RateLimits []RateLimit `json:"rate_limits"`
}
