// Package conversation folds the decoded server event stream into an
// observable conversation state: the ordered item list, the negotiated
// session config, speaking indicators and the server error log.
package conversation

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/codewandler/voicert-go/events"
	"github.com/codewandler/voicert-go/transport"
)

const queueSize = 256

// Engine is the single writer of conversation State. Events are applied
// strictly in arrival order: either feed them through Push and run the
// Run loop, or call Apply directly from one goroutine. Mixing both is
// not supported.
type Engine struct {
	mu    sync.RWMutex
	state State

	queue  chan events.ServerEvent
	logger *slog.Logger

	subscribers []func(State)
	onTruncated func(itemID string, contentIndex, audioEndMs int)
	onUnknown   func(eventType string)
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		queue:  make(chan events.ServerEvent, queueSize),
		logger: logger,
	}
}

// Subscribe registers a callback invoked with a state snapshot after
// every applied event. Callbacks run on the engine's apply goroutine
// and must not block.
func (e *Engine) Subscribe(fn func(State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, fn)
}

// OnItemTruncated registers the side-channel hook for
// conversation.item.truncated. Truncation signals that audio playback
// for the slot should stop; it does not alter the item list.
func (e *Engine) OnItemTruncated(fn func(itemID string, contentIndex, audioEndMs int)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTruncated = fn
}

// OnUnknown registers a debug hook for unrecognized event types.
func (e *Engine) OnUnknown(fn func(eventType string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onUnknown = fn
}

// Push enqueues one decoded event for the Run loop. Push blocks when
// the queue is full rather than dropping or reordering.
func (e *Engine) Push(evt events.ServerEvent) {
	e.queue <- evt
}

// Run consumes the queue until ctx is cancelled. It is the single
// logical thread of control mutating State.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-e.queue:
			e.Apply(evt)
		}
	}
}

// SetConnectionState records the transport connection state on the
// aggregate.
func (e *Engine) SetConnectionState(s transport.State) {
	e.mu.Lock()
	e.state.ConnectionState = s
	e.mu.Unlock()
}

// Snapshot returns a copy of the current state, safe for concurrent
// readers.
func (e *Engine) Snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.snapshot()
}

// Items returns a copy of the ordered item list.
func (e *Engine) Items() []Item {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return copyItems(e.state.Items)
}

// Messages returns the item list filtered to messages.
func (e *Engine) Messages() []Item {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Item
	for _, item := range e.state.Items {
		if item.Type == ItemTypeMessage {
			out = append(out, item)
		}
	}
	return copyItems(out)
}

// ItemByID returns the item with the given identifier.
func (e *Engine) ItemByID(id string) (Item, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if i := e.indexOf(id); i >= 0 {
		items := copyItems(e.state.Items[i : i+1])
		return items[0], true
	}
	return Item{}, false
}

func (e *Engine) Session() events.Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Session
}

func (e *Engine) IsUserSpeaking() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.IsUserSpeaking
}

func (e *Engine) IsAssistantSpeaking() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.IsAssistantSpeaking
}

func (e *Engine) Errors() []events.ErrorDetail {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]events.ErrorDetail, len(e.state.Errors))
	copy(out, e.state.Errors)
	return out
}

func (e *Engine) ConnectionState() transport.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.ConnectionState
}

// Apply folds one event into the state and notifies subscribers.
// Out-of-range slot indexes, kind mismatches and references to missing
// items are tolerated as silent no-ops: the stream keeps flowing.
func (e *Engine) Apply(evt events.ServerEvent) {
	e.mu.Lock()
	e.reduce(evt)
	subscribers := e.subscribers
	var snap State
	if len(subscribers) > 0 {
		snap = e.state.snapshot()
	}
	onTruncated := e.onTruncated
	onUnknown := e.onUnknown
	e.mu.Unlock()

	switch evt := evt.(type) {
	case events.ConversationItemTruncatedEvent:
		if onTruncated != nil {
			onTruncated(evt.ItemID, evt.ContentIndex, evt.AudioEndMs)
		}
	case events.UnknownEvent:
		if onUnknown != nil {
			onUnknown(evt.Type)
		}
	}

	for _, fn := range subscribers {
		fn(snap)
	}
}

// reduce runs under e.mu.
func (e *Engine) reduce(evt events.ServerEvent) {
	switch evt := evt.(type) {
	case events.SessionCreatedEvent:
		e.state.Session = evt.Session
	case events.SessionUpdatedEvent:
		e.state.Session = evt.Session

	case events.ConversationItemCreatedEvent:
		// A duplicate identifier replaces the existing entry in place;
		// the server's payload wins and the list position is kept.
		item := itemFromEvent(evt.Item)
		if i := e.indexOf(item.ID); i >= 0 {
			e.state.Items[i] = item
		} else {
			e.state.Items = append(e.state.Items, item)
		}

	case events.ConversationItemDeletedEvent:
		if i := e.indexOf(evt.ItemID); i >= 0 {
			e.state.Items = append(e.state.Items[:i], e.state.Items[i+1:]...)
		}

	case events.InputAudioTranscriptionDoneEvent:
		if i := e.indexOf(evt.ItemID); i >= 0 {
			item := &e.state.Items[i]
			if item.Type == ItemTypeMessage && len(item.Content) > 0 && item.Content[0].Type == ContentTypeInputAudio {
				item.Content[0].Transcript = evt.Transcript
			}
		}

	case events.InputAudioTranscriptionFailedEvent:
		e.state.Errors = append(e.state.Errors, evt.ErrorDetail)

	case events.ResponseTextDeltaEvent:
		e.appendText(evt.ItemID, evt.ContentIndex, evt.Delta)
	case events.ResponseTextDoneEvent:
		e.setText(evt.ItemID, evt.ContentIndex, evt.Text)
	case events.ResponseAudioTranscriptDeltaEvent:
		e.appendTranscript(evt.ItemID, evt.ContentIndex, evt.Delta)
	case events.ResponseAudioTranscriptDoneEvent:
		e.setTranscript(evt.ItemID, evt.ContentIndex, evt.Transcript)

	case events.ResponseContentPartAddedEvent:
		if i := e.indexOf(evt.ItemID); i >= 0 {
			item := &e.state.Items[i]
			for len(item.Content) <= evt.ContentIndex {
				item.Content = append(item.Content, ContentPart{Type: ContentTypeAudio})
			}
		}

	case events.ResponseFunctionCallArgumentsDeltaEvent:
		if i := e.indexOf(evt.ItemID); i >= 0 {
			if item := &e.state.Items[i]; item.Type == ItemTypeFunctionCall {
				item.Arguments += evt.Delta
			}
		}
	case events.ResponseFunctionCallArgumentsDoneEvent:
		if i := e.indexOf(evt.ItemID); i >= 0 {
			if item := &e.state.Items[i]; item.Type == ItemTypeFunctionCall {
				item.Arguments = evt.Arguments
			}
		}

	case events.SpeechStartedEvent:
		e.state.IsUserSpeaking = true
	case events.SpeechStoppedEvent:
		e.state.IsUserSpeaking = false

	case events.OutputAudioBufferStartedEvent:
		e.state.IsAssistantSpeaking = true
	case events.OutputAudioBufferStoppedEvent:
		e.state.IsAssistantSpeaking = false
	case events.OutputAudioBufferClearedEvent:
		e.state.IsAssistantSpeaking = false

	case events.ErrorEvent:
		e.state.Errors = append(e.state.Errors, evt.ErrorDetail)

	default:
		// Lifecycle-only events (response.created/done, output_item and
		// content_part done, audio done, conversation.created,
		// rate_limits.updated, truncated) and unknowns mutate nothing.
		e.logger.Debug("no state mutation", slog.String("type", evt.EventType()))
	}
}

func (e *Engine) indexOf(id string) int {
	for i := range e.state.Items {
		if e.state.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// part addresses a content slot by item id and index, tolerating
// missing items and out-of-range indexes.
func (e *Engine) part(itemID string, contentIndex int) *ContentPart {
	i := e.indexOf(itemID)
	if i < 0 {
		return nil
	}
	item := &e.state.Items[i]
	if contentIndex < 0 || contentIndex >= len(item.Content) {
		return nil
	}
	return &item.Content[contentIndex]
}

func (e *Engine) appendText(itemID string, contentIndex int, delta string) {
	if p := e.part(itemID, contentIndex); p != nil && p.IsText() {
		p.Text += delta
	}
}

func (e *Engine) setText(itemID string, contentIndex int, text string) {
	if p := e.part(itemID, contentIndex); p != nil && p.IsText() {
		p.Text = text
	}
}

func (e *Engine) appendTranscript(itemID string, contentIndex int, delta string) {
	if p := e.part(itemID, contentIndex); p != nil && p.IsAudio() {
		p.Transcript += delta
	}
}

func (e *Engine) setTranscript(itemID string, contentIndex int, transcript string) {
	if p := e.part(itemID, contentIndex); p != nil && p.IsAudio() {
		p.Transcript = transcript
	}
}
