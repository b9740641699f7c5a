package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncode_ClientCommands(t *testing.T) {
	tests := []struct {
		name string
		evt  any
		want string
	}{
		{
			name: "session.update",
			evt: SessionUpdateEvent{
				BaseEvent: BaseEvent{EventID: "evt_1", Type: TypeSessionUpdate},
				Session: SessionUpdate{
					Modalities:        []string{"text", "audio"},
					Voice:             "coral",
					InputAudioFormat:  AudioFormatPCM16,
					OutputAudioFormat: AudioFormatPCM16,
					Temperature:       0.7,
				},
			},
			want: `{"event_id":"evt_1","type":"session.update","session":{"modalities":["text","audio"],"voice":"coral","input_audio_format":"pcm16","output_audio_format":"pcm16","temperature":0.7}}`,
		},
		{
			name: "input_audio_buffer.append",
			evt: InputAudioBufferAppendEvent{
				BaseEvent: BaseEvent{EventID: "evt_2", Type: TypeInputAudioBufferAppend},
				Audio:     "aGVsbG8=",
			},
			want: `{"event_id":"evt_2","type":"input_audio_buffer.append","audio":"aGVsbG8="}`,
		},
		{
			name: "input_audio_buffer.commit",
			evt: InputAudioBufferCommitEvent{
				BaseEvent: BaseEvent{EventID: "evt_3", Type: TypeInputAudioBufferCommit},
			},
			want: `{"event_id":"evt_3","type":"input_audio_buffer.commit"}`,
		},
		{
			name: "input_audio_buffer.clear",
			evt: InputAudioBufferClearEvent{
				BaseEvent: BaseEvent{EventID: "evt_4", Type: TypeInputAudioBufferClear},
			},
			want: `{"event_id":"evt_4","type":"input_audio_buffer.clear"}`,
		},
		{
			name: "conversation.item.create",
			evt: ConversationItemCreateEvent{
				BaseEvent: BaseEvent{EventID: "evt_5", Type: TypeConversationItemCreate},
				Item: ConversationItem{
					ID:   "item_1",
					Type: "message",
					Role: "user",
					Content: []ContentPart{
						{Type: "input_text", Text: "hello"},
					},
				},
			},
			want: `{"event_id":"evt_5","type":"conversation.item.create","item":{"id":"item_1","type":"message","role":"user","content":[{"type":"input_text","text":"hello"}]}}`,
		},
		{
			name: "conversation.item.truncate",
			evt: ConversationItemTruncateEvent{
				BaseEvent:    BaseEvent{EventID: "evt_6", Type: TypeConversationItemTruncate},
				ItemID:       "item_1",
				ContentIndex: 0,
				AudioEndMs:   1500,
			},
			want: `{"event_id":"evt_6","type":"conversation.item.truncate","item_id":"item_1","content_index":0,"audio_end_ms":1500}`,
		},
		{
			name: "conversation.item.delete",
			evt: ConversationItemDeleteEvent{
				BaseEvent: BaseEvent{EventID: "evt_7", Type: TypeConversationItemDelete},
				ItemID:    "item_1",
			},
			want: `{"event_id":"evt_7","type":"conversation.item.delete","item_id":"item_1"}`,
		},
		{
			name: "response.create",
			evt: ResponseCreateEvent{
				BaseEvent: BaseEvent{EventID: "evt_8", Type: TypeResponseCreate},
			},
			want: `{"event_id":"evt_8","type":"response.create","response":{}}`,
		},
		{
			name: "response.create with payload",
			evt: ResponseCreateEvent{
				BaseEvent: BaseEvent{EventID: "evt_9", Type: TypeResponseCreate},
				Response: ResponseCreatePayload{
					Modalities:   []string{"text"},
					Instructions: "say hi",
				},
			},
			want: `{"event_id":"evt_9","type":"response.create","response":{"modalities":["text"],"instructions":"say hi"}}`,
		},
		{
			name: "response.truncate",
			evt: ResponseTruncateEvent{
				BaseEvent:  BaseEvent{EventID: "evt_10", Type: TypeResponseTruncate},
				ResponseID: "resp_1",
				AudioEndMs: 2000,
			},
			want: `{"event_id":"evt_10","type":"response.truncate","response_id":"resp_1","audio_end_ms":2000}`,
		},
		{
			name: "response.cancel",
			evt: ResponseCancelEvent{
				BaseEvent:  BaseEvent{EventID: "evt_11", Type: TypeResponseCancel},
				ResponseID: "resp_1",
			},
			want: `{"event_id":"evt_11","type":"response.cancel","response_id":"resp_1"}`,
		},
		{
			name: "response.cancel without target",
			evt: ResponseCancelEvent{
				BaseEvent: BaseEvent{EventID: "evt_12", Type: TypeResponseCancel},
			},
			want: `{"event_id":"evt_12","type":"response.cancel"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.evt)
			require.NoError(t, err)
			require.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestNewBaseEvent(t *testing.T) {
	a := NewBaseEvent(TypeResponseCreate)
	b := NewBaseEvent(TypeResponseCreate)
	require.Equal(t, TypeResponseCreate, a.Type)
	require.NotEmpty(t, a.EventID)
	require.NotEqual(t, a.EventID, b.EventID)
}

func TestNewItemID(t *testing.T) {
	id := NewItemID()
	require.True(t, len(id) > len("item_"))
	require.Equal(t, "item_", id[:5])
}
