package conversation

import (
	"encoding/base64"

	"github.com/codewandler/voicert-go/events"
	"github.com/codewandler/voicert-go/transport"
)

type ItemType string

const (
	ItemTypeMessage            ItemType = "message"
	ItemTypeFunctionCall       ItemType = "function_call"
	ItemTypeFunctionCallOutput ItemType = "function_call_output"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type ContentType string

const (
	ContentTypeInputText  ContentType = "input_text"
	ContentTypeInputAudio ContentType = "input_audio"
	ContentTypeText       ContentType = "text"
	ContentTypeAudio      ContentType = "audio"
)

// ContentPart is one slot of a message's content list. Slots are
// addressed by index only; they are appended or mutated in place, never
// reordered.
type ContentPart struct {
	Type       ContentType
	Text       string
	Audio      []byte
	Transcript string
}

// IsAudio reports whether the slot holds audio in either direction.
func (p ContentPart) IsAudio() bool {
	return p.Type == ContentTypeAudio || p.Type == ContentTypeInputAudio
}

// IsText reports whether the slot holds text in either direction.
func (p ContentPart) IsText() bool {
	return p.Type == ContentTypeText || p.Type == ContentTypeInputText
}

// Item is one conversation-level unit. ID is immutable once created and
// Type never changes for the lifetime of the item.
type Item struct {
	ID        string
	Type      ItemType
	Role      Role
	Status    string
	Content   []ContentPart
	CallID    string
	Name      string
	Arguments string
	Output    string
}

// State is the canonical, observable conversation aggregate. It is
// mutated exclusively by the Engine; callers read copies.
type State struct {
	ConnectionState     transport.State
	Items               []Item
	Session             events.Session
	IsUserSpeaking      bool
	IsAssistantSpeaking bool
	Errors              []events.ErrorDetail
}

func itemFromEvent(wire events.ConversationItem) Item {
	item := Item{
		ID:        wire.ID,
		Type:      ItemType(wire.Type),
		Role:      Role(wire.Role),
		Status:    wire.Status,
		CallID:    wire.CallID,
		Name:      wire.Name,
		Arguments: wire.Arguments,
		Output:    wire.Output,
	}
	for _, p := range wire.Content {
		part := ContentPart{
			Type:       ContentType(p.Type),
			Text:       p.Text,
			Transcript: p.Transcript,
		}
		if p.Audio != "" {
			if decoded, err := base64.StdEncoding.DecodeString(p.Audio); err == nil {
				part.Audio = decoded
			}
		}
		item.Content = append(item.Content, part)
	}
	return item
}

func copyItems(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	for i := range out {
		if out[i].Content != nil {
			content := make([]ContentPart, len(out[i].Content))
			copy(content, out[i].Content)
			out[i].Content = content
		}
	}
	return out
}

func (s State) snapshot() State {
	out := s
	out.Items = copyItems(s.Items)
	if s.Errors != nil {
		out.Errors = make([]events.ErrorDetail, len(s.Errors))
		copy(out.Errors, s.Errors)
	}
	return out
}
