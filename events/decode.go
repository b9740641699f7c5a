package events

import (
	"encoding/base64"
	"encoding/json"
)

// Decode turns one raw wire message into a typed server event.
//
// Decoding is lenient on purpose: the server ships new event shapes
// faster than clients update, and one bad message must never take down
// the stream.
//
//   - Payloads that are not a JSON object, or have no "type" field,
//     yield (nil, false).
//   - An unrecognized "type" yields UnknownEvent carrying the
//     discriminator.
//   - A recognized "type" whose body does not match the expected shape
//     degrades: item-addressed events keep whatever identifiers could be
//     salvaged, everything else collapses to UnknownEvent.
//
// Decode never returns an error.
func Decode(data []byte) (ServerEvent, bool) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Type == "" {
		return nil, false
	}

	switch envelope.Type {
	case TypeError:
		return decodeAs[ErrorEvent](data, envelope.Type)
	case TypeSessionCreated:
		return decodeAs[SessionCreatedEvent](data, envelope.Type)
	case TypeSessionUpdated:
		return decodeAs[SessionUpdatedEvent](data, envelope.Type)
	case TypeConversationCreated:
		return decodeAs[ConversationCreatedEvent](data, envelope.Type)
	case TypeConversationItemCreated:
		return decodeAs[ConversationItemCreatedEvent](data, envelope.Type)
	case TypeConversationItemDeleted:
		return decodeAs[ConversationItemDeletedEvent](data, envelope.Type)
	case TypeConversationItemTruncated:
		return decodeAs[ConversationItemTruncatedEvent](data, envelope.Type)
	case TypeInputAudioTranscriptionDone:
		return decodeAs[InputAudioTranscriptionDoneEvent](data, envelope.Type)
	case TypeInputAudioTranscriptionFailed:
		return decodeAs[InputAudioTranscriptionFailedEvent](data, envelope.Type)
	case TypeInputAudioBufferCommitted:
		return decodeAs[InputAudioBufferCommittedEvent](data, envelope.Type)
	case TypeInputAudioBufferCleared:
		return decodeAs[InputAudioBufferClearedEvent](data, envelope.Type)
	case TypeInputAudioBufferSpeechStarted:
		return decodeAs[SpeechStartedEvent](data, envelope.Type)
	case TypeInputAudioBufferSpeechStopped:
		return decodeAs[SpeechStoppedEvent](data, envelope.Type)
	case TypeOutputAudioBufferStarted:
		return decodeAs[OutputAudioBufferStartedEvent](data, envelope.Type)
	case TypeOutputAudioBufferStopped:
		return decodeAs[OutputAudioBufferStoppedEvent](data, envelope.Type)
	case TypeOutputAudioBufferCleared:
		return decodeAs[OutputAudioBufferClearedEvent](data, envelope.Type)
	case TypeResponseCreated:
		return decodeAs[ResponseCreatedEvent](data, envelope.Type)
	case TypeResponseDone:
		return decodeAs[ResponseDoneEvent](data, envelope.Type)
	case TypeResponseOutputItemAdded:
		return decodeAs[ResponseOutputItemAddedEvent](data, envelope.Type)
	case TypeResponseOutputItemDone:
		return decodeAs[ResponseOutputItemDoneEvent](data, envelope.Type)
	case TypeResponseContentPartAdded:
		return decodeAs[ResponseContentPartAddedEvent](data, envelope.Type)
	case TypeResponseContentPartDone:
		return decodeAs[ResponseContentPartDoneEvent](data, envelope.Type)
	case TypeResponseTextDelta:
		return decodeAs[ResponseTextDeltaEvent](data, envelope.Type)
	case TypeResponseTextDone:
		return decodeAs[ResponseTextDoneEvent](data, envelope.Type)
	case TypeResponseAudioTranscriptDelta:
		return decodeAs[ResponseAudioTranscriptDeltaEvent](data, envelope.Type)
	case TypeResponseAudioTranscriptDone:
		return decodeAs[ResponseAudioTranscriptDoneEvent](data, envelope.Type)
	case TypeResponseAudioDelta:
		evt, ok := decodeAs[ResponseAudioDeltaEvent](data, envelope.Type)
		if audio, isDelta := evt.(ResponseAudioDeltaEvent); isDelta && audio.Delta != "" {
			// A payload that does not decode stays transcript-only.
			if decoded, err := base64.StdEncoding.DecodeString(audio.Delta); err == nil {
				audio.Audio = decoded
			}
			return audio, ok
		}
		return evt, ok
	case TypeResponseAudioDone:
		return decodeAs[ResponseAudioDoneEvent](data, envelope.Type)
	case TypeResponseFunctionCallArgumentsDelta:
		return decodeAs[ResponseFunctionCallArgumentsDeltaEvent](data, envelope.Type)
	case TypeResponseFunctionCallArgumentsDone:
		return decodeAs[ResponseFunctionCallArgumentsDoneEvent](data, envelope.Type)
	case TypeRateLimitsUpdated:
		return decodeAs[RateLimitsUpdatedEvent](data, envelope.Type)
	}

	return UnknownEvent{BaseEvent{Type: envelope.Type}}, true
}

func decodeAs[T ServerEvent](data []byte, eventType string) (ServerEvent, bool) {
	evt, err := Parse[T](data)
	if err != nil {
		return degraded(data, eventType), true
	}
	return *evt, true
}

// degraded salvages a minimal value from a malformed payload of a
// recognized type. Item-addressed events keep their identifiers so the
// caller can still correlate them; everything else becomes UnknownEvent.
func degraded(data []byte, eventType string) ServerEvent {
	var ids struct {
		EventID string `json:"event_id"`
		ItemID  string `json:"item_id"`
	}
	if err := json.Unmarshal(data, &ids); err != nil || ids.ItemID == "" {
		return UnknownEvent{BaseEvent{Type: eventType}}
	}

	base := BaseEvent{EventID: ids.EventID, Type: eventType}
	switch eventType {
	case TypeConversationItemDeleted:
		return ConversationItemDeletedEvent{BaseEvent: base, ItemID: ids.ItemID}
	case TypeConversationItemTruncated:
		return ConversationItemTruncatedEvent{BaseEvent: base, ItemID: ids.ItemID}
	case TypeInputAudioBufferSpeechStarted:
		return SpeechStartedEvent{BaseEvent: base, ItemID: ids.ItemID}
	case TypeInputAudioBufferSpeechStopped:
		return SpeechStoppedEvent{BaseEvent: base, ItemID: ids.ItemID}
	}
	return UnknownEvent{base}
}
