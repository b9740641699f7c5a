package events

import (
	"encoding/json"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// ServerEvent is implemented by every decoded server-to-client event,
// including UnknownEvent.
type ServerEvent interface {
	EventType() string
}

type BaseEvent struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

func (e BaseEvent) EventType() string { return e.Type }

func NewBaseEvent(eventType string) BaseEvent {
	id, err := nanoid.New()
	if err != nil {
		panic(err)
	}
	return BaseEvent{
		EventID: id,
		Type:    eventType,
	}
}

// NewItemID generates an identifier for conversation items created on
// the client side.
func NewItemID() string {
	id, err := nanoid.New()
	if err != nil {
		panic(err)
	}
	return "item_" + id
}

func Parse[T any](data []byte) (*T, error) {
	var x T
	if err := json.Unmarshal(data, &x); err != nil {
		return nil, err
	}
	return &x, nil
}

// ErrorDetail holds the details of a server-reported error.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

func (e *ErrorDetail) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Type + ": " + e.Message
}

// ConversationItem is the wire shape of one conversation item. Type is
// one of "message", "function_call" or "function_call_output". A message
// carries Role and Content, a function call carries CallID, Name and
// Arguments, a function call output carries CallID and Output.
type ConversationItem struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type"`
	Status    string        `json:"status,omitempty"`
	Role      string        `json:"role,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
}

// ContentPart is one slot of a message's content list. Type is one of
// "input_text", "input_audio", "text" or "audio". Audio payloads travel
// base64-encoded in the Audio field.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Audio      string `json:"audio,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// Response is the wire shape of a model response resource.
type Response struct {
	ID     string             `json:"id,omitempty"`
	Object string             `json:"object,omitempty"`
	Status string             `json:"status,omitempty"`
	Output []ConversationItem `json:"output,omitempty"`
}

type RateLimit struct {
	Name         string  `json:"name"`
	Limit        int     `json:"limit"`
	Remaining    int     `json:"remaining"`
	ResetSeconds float64 `json:"reset_seconds"`
}
