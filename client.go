// Package voicert is a realtime voice-and-text conversation client. It
// negotiates a low-latency peer connection to the realtime service,
// decodes the server event stream defensively and aggregates it into an
// observable conversation state.
package voicert

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/codewandler/voicert-go/conversation"
	"github.com/codewandler/voicert-go/events"
	"github.com/codewandler/voicert-go/tool"
	"github.com/codewandler/voicert-go/transport"
)

// DefaultBaseURL is the default signaling endpoint.
const DefaultBaseURL = "https://api.openai.com/v1/realtime"

const connectPollInterval = 50 * time.Millisecond

var (
	// ErrTransportNotReady is returned by commands issued while the
	// transport's send channel is not open.
	ErrTransportNotReady = errors.New("transport not ready")

	// ErrConnectionFailed is returned by WaitUntilConnected when the
	// connect attempt failed. Reissue Connect to retry.
	ErrConnectionFailed = errors.New("connection failed")
)

type Client struct {
	config *clientConfig
	logger *slog.Logger

	engine   *conversation.Engine
	signaler *transport.Signaler
	io       *AudioIO

	mu            sync.Mutex
	state         transport.State
	transport     transport.Transport
	ownsTransport bool
	runCtx        context.Context
	cancelRun     context.CancelFunc
	pump          *sync.Once

	updateMu sync.Mutex
	update   chan struct{}

	onEvent    func(e events.ServerEvent)
	onError    func(e *events.ErrorEvent)
	onToolCall func(name string, args map[string]any) (any, error)
}

func New(opts ...ClientOption) *Client {
	config := &clientConfig{}
	withDefaults()(config)
	WithOptions(opts...)(config)

	c := &Client{
		config:    config,
		logger:    config.logger,
		engine:    conversation.NewEngine(config.logger),
		signaler:  transport.NewSignaler(config.baseURL, config.httpClient),
		io:        NewAudioIO(config.sampleRate, config.latency()),
		state:     transport.StateDisconnected,
		transport: config.transport,
		update:    make(chan struct{}, 1),
	}
	return c
}

// Conversation exposes the observable conversation state. External
// observers read through it; they never mutate.
func (c *Client) Conversation() *conversation.Engine {
	return c.engine
}

// Audio returns the caller-side audio endpoints: a reader producing
// assistant audio and a writer accepting microphone audio, both PCM16
// at the configured sample rate.
func (c *Client) Audio() (io.Reader, io.Writer) {
	return c.io.Output(), c.io.Input()
}

// OnEvent registers a raw hook invoked with every decoded server event.
func (c *Client) OnEvent(h func(e events.ServerEvent)) {
	c.onEvent = h
}

func (c *Client) OnError(h func(e *events.ErrorEvent)) {
	c.onError = h
}

func (c *Client) OnToolCall(h func(name string, args map[string]any) (any, error)) {
	c.onToolCall = h
}

// State returns the current connection state.
func (c *Client) State() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s transport.State) {
	c.mu.Lock()
	c.setStateLocked(s)
	c.mu.Unlock()
}

func (c *Client) setStateLocked(s transport.State) {
	if c.state == s {
		return
	}
	c.logger.Debug("connection state", slog.String("from", c.state.String()), slog.String("to", s.String()))
	c.state = s
	c.engine.SetConnectionState(s)
}

// Open connects using the configured api key and model.
func (c *Client) Open(ctx context.Context) error {
	if err := c.config.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return c.Connect(ctx, c.config.apiKey, c.config.model)
}

// Connect negotiates the transport: it generates a local offer,
// exchanges it with the signaling endpoint authorized by the
// short-lived credential, and applies the remote answer. Any failure
// moves the connection state to failed and is returned; there is no
// internal retry. The state reaches connected once the transport
// reports its channel open; use WaitUntilConnected to await that.
func (c *Client) Connect(ctx context.Context, credential, model string) error {
	c.mu.Lock()
	if c.state == transport.StateConnecting || c.state == transport.StateConnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("connect: already %s", state)
	}
	c.setStateLocked(transport.StateConnecting)

	t := c.transport
	if t == nil {
		wt, err := transport.NewWebRTC(c.logger)
		if err != nil {
			c.setStateLocked(transport.StateFailed)
			c.mu.Unlock()
			return err
		}
		t = wt
		c.transport = t
		c.ownsTransport = true
	}
	c.mu.Unlock()

	t.OnMessage(c.handleMessage)
	t.OnStateChange(c.handleTransportState)

	offer, err := t.Offer(ctx)
	if err != nil {
		c.failConnect(t)
		return fmt.Errorf("offer: %w", err)
	}

	// An empty offer means the transport needs no description exchange
	// (e.g. an already-dialed WebSocket).
	if offer != "" {
		answer, err := c.signaler.Exchange(ctx, credential, model, offer)
		if err != nil {
			c.failConnect(t)
			return fmt.Errorf("signal: %w", err)
		}

		if err := t.ApplyAnswer(ctx, answer); err != nil {
			c.failConnect(t)
			return fmt.Errorf("answer: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.runCtx = runCtx
	c.cancelRun = cancel
	c.pump = new(sync.Once)
	c.mu.Unlock()
	go c.engine.Run(runCtx)

	// The state callback may have fired before registration completed.
	if t.Ready() {
		c.handleTransportState(transport.StateConnected)
	}

	return nil
}

// WaitUntilConnected blocks until the connection state reaches
// connected, polling at a bounded interval. Cancelling ctx stops the
// poll without mutating connection state.
func (c *Client) WaitUntilConnected(ctx context.Context) error {
	ticker := time.NewTicker(connectPollInterval)
	defer ticker.Stop()

	for {
		switch c.State() {
		case transport.StateConnected:
			return nil
		case transport.StateFailed:
			return ErrConnectionFailed
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Disconnect closes the transport and returns to the disconnected
// state. It is valid in any state and calling it repeatedly is not an
// error.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	cancel := c.cancelRun
	c.cancelRun = nil
	t := c.transport
	// A client-created transport is not reusable once closed; drop it so
	// a reissued Connect negotiates a fresh one.
	if c.ownsTransport {
		c.transport = nil
		c.ownsTransport = false
	}
	c.setStateLocked(transport.StateDisconnected)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if t != nil {
		return t.Close()
	}
	return nil
}

// failConnect moves the connection state to failed and discards a
// client-created transport, keeping the client retryable by reissuing
// Connect.
func (c *Client) failConnect(t transport.Transport) {
	c.mu.Lock()
	owned := c.ownsTransport
	if owned {
		c.transport = nil
		c.ownsTransport = false
	}
	c.setStateLocked(transport.StateFailed)
	c.mu.Unlock()

	// A caller-supplied transport stays open so the caller can retry
	// with it.
	if owned {
		_ = t.Close()
	}
}

func (c *Client) handleTransportState(s transport.State) {
	switch s {
	case transport.StateConnected:
		c.setState(transport.StateConnected)
		c.startAudioPump()
	case transport.StateFailed:
		c.setState(transport.StateFailed)
	case transport.StateDisconnected:
		c.mu.Lock()
		// A failed connect attempt stays failed.
		if c.state != transport.StateFailed {
			c.setStateLocked(transport.StateDisconnected)
		}
		c.mu.Unlock()
	}
}

// handleMessage is the single entry point for inbound wire messages.
// Undecodable payloads are dropped here; everything else flows into the
// conversation engine in arrival order.
func (c *Client) handleMessage(data []byte) {
	evt, ok := events.Decode(data)
	if !ok {
		c.logger.Debug("dropped unparseable message", slog.Int("len", len(data)))
		return
	}

	switch evt := evt.(type) {
	case events.ErrorEvent:
		if c.onError != nil {
			c.onError(&evt)
		}
	case events.SessionCreatedEvent:
		go c.bootstrapSession()
	case events.SessionUpdatedEvent:
		select {
		case c.update <- struct{}{}:
		default:
		}
	case events.ResponseAudioDeltaEvent:
		if len(evt.Audio) > 0 {
			if err := c.io.WriteAssistantAudio(evt.Audio); err != nil {
				c.logger.Error("failed to buffer assistant audio", slog.Any("err", err))
			}
		}
	case events.SpeechStartedEvent:
		// The user talked over the assistant: drop buffered playback.
		c.io.ClearOutputBuffer()
	case events.ResponseDoneEvent:
		c.dispatchToolCalls(evt)
	}

	c.engine.Push(evt)

	if c.onEvent != nil {
		c.onEvent(evt)
	}
}

// bootstrapSession pushes the configured session settings once the
// server has created the session.
func (c *Client) bootstrapSession() {
	tools := c.config.tools
	if c.config.registry != nil {
		tools = append(tools, c.config.registry.Tools()...)
	}
	toolChoice := tool.ChoiceNone
	if len(tools) > 0 {
		toolChoice = tool.ChoiceAuto
	}

	err := c.UpdateSession(events.SessionUpdate{
		Voice:             c.config.voice,
		InputAudioFormat:  events.AudioFormatPCM16,
		OutputAudioFormat: events.AudioFormatPCM16,
		Temperature:       c.config.temperature,
		Speed:             c.config.speed,
		Instructions:      c.config.instruction,
		Modalities:        []string{"text", "audio"},
		ToolChoice:        toolChoice,
		Tools:             tools,
		TurnDetection: &events.TurnDetection{
			Type:              "server_vad",
			CreateResponse:    true,
			InterruptResponse: true,
		},
	})
	if err != nil {
		c.logger.Error("session bootstrap failed", slog.Any("err", err))
	}
}

// send encodes and transmits one client command. Readiness is checked
// synchronously so callers get ErrTransportNotReady instead of a failed
// write.
func (c *Client) send(evt any) error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()

	if t == nil || !t.Ready() {
		return ErrTransportNotReady
	}

	data, err := events.Encode(evt)
	if err != nil {
		return err
	}
	return t.Send(data)
}

// UpdateSession sends the session configuration and waits for the
// server to acknowledge it with session.updated. Calls are serialized
// so each one waits for its own acknowledgement, and any stale token
// from a server-initiated session.updated is drained before sending.
func (c *Client) UpdateSession(session events.SessionUpdate) error {
	evt := events.SessionUpdateEvent{
		BaseEvent: events.NewBaseEvent(events.TypeSessionUpdate),
		Session:   session,
	}

	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	select {
	case <-c.update:
	default:
	}

	if err := c.send(evt); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for session update")
	case <-c.update:
	}

	return nil
}

// AppendAudio appends PCM16 audio to the server-side input buffer.
func (c *Client) AppendAudio(audio []byte) error {
	return c.send(events.InputAudioBufferAppendEvent{
		BaseEvent: events.NewBaseEvent(events.TypeInputAudioBufferAppend),
		Audio:     base64.StdEncoding.EncodeToString(audio),
	})
}

// CommitAudio commits the input audio buffer.
func (c *Client) CommitAudio() error {
	return c.send(events.InputAudioBufferCommitEvent{
		BaseEvent: events.NewBaseEvent(events.TypeInputAudioBufferCommit),
	})
}

// ClearAudio clears the input audio buffer.
func (c *Client) ClearAudio() error {
	return c.send(events.InputAudioBufferClearEvent{
		BaseEvent: events.NewBaseEvent(events.TypeInputAudioBufferClear),
	})
}

func (c *Client) CreateResponse() error {
	return c.CreateResponseWithPayload(events.ResponseCreatePayload{})
}

func (c *Client) CreateResponseWithPayload(p events.ResponseCreatePayload) error {
	return c.send(events.ResponseCreateEvent{
		BaseEvent: events.NewBaseEvent(events.TypeResponseCreate),
		Response:  p,
	})
}

// TruncateResponse cuts the response's audio at the given playback
// position.
func (c *Client) TruncateResponse(responseID string, audioEndMs int) error {
	return c.send(events.ResponseTruncateEvent{
		BaseEvent:  events.NewBaseEvent(events.TypeResponseTruncate),
		ResponseID: responseID,
		AudioEndMs: audioEndMs,
	})
}

// CancelResponse cancels an in-flight response.
func (c *Client) CancelResponse(responseID string) error {
	return c.send(events.ResponseCancelEvent{
		BaseEvent:  events.NewBaseEvent(events.TypeResponseCancel),
		ResponseID: responseID,
	})
}

// UserInput adds a user text message to the conversation, optionally
// requesting a response.
func (c *Client) UserInput(text string, respond bool) error {
	err := c.send(events.ConversationItemCreateEvent{
		BaseEvent: events.NewBaseEvent(events.TypeConversationItemCreate),
		Item: events.ConversationItem{
			ID:   events.NewItemID(),
			Type: "message",
			Role: "user",
			Content: []events.ContentPart{
				{Type: "input_text", Text: text},
			},
		},
	})
	if err != nil {
		return err
	}

	if respond {
		return c.CreateResponse()
	}
	return nil
}

// CreateFunctionCallOutput answers a function call.
func (c *Client) CreateFunctionCallOutput(callID, output string) error {
	return c.send(events.ConversationItemCreateEvent{
		BaseEvent: events.NewBaseEvent(events.TypeConversationItemCreate),
		Item: events.ConversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	})
}

// DeleteItem removes a conversation item on the server.
func (c *Client) DeleteItem(itemID string) error {
	return c.send(events.ConversationItemDeleteEvent{
		BaseEvent: events.NewBaseEvent(events.TypeConversationItemDelete),
		ItemID:    itemID,
	})
}

// TruncateItem truncates a conversation item's audio slot.
func (c *Client) TruncateItem(itemID string, contentIndex, audioEndMs int) error {
	return c.send(events.ConversationItemTruncateEvent{
		BaseEvent:    events.NewBaseEvent(events.TypeConversationItemTruncate),
		ItemID:       itemID,
		ContentIndex: contentIndex,
		AudioEndMs:   audioEndMs,
	})
}

// dispatchToolCalls runs handlers for completed function calls in a
// finished response, reports their outputs and requests a follow-up
// response.
func (c *Client) dispatchToolCalls(evt events.ResponseDoneEvent) {
	handler := c.onToolCall
	if handler == nil && c.config.registry != nil {
		handler = c.config.registry.Call
	}
	if handler == nil {
		return
	}

	for _, o := range evt.Response.Output {
		if o.Type != "function_call" || o.Status != "completed" {
			continue
		}

		var args map[string]any
		if err := json.Unmarshal([]byte(o.Arguments), &args); err != nil {
			c.logger.Error("bad function call arguments", slog.String("call_id", o.CallID), slog.Any("err", err))
			continue
		}

		res, err := handler(o.Name, args)
		c.logger.Debug("tool call", slog.String("name", o.Name), slog.Any("args", args), slog.Any("res", res), slog.Any("err", err))

		var output string
		switch {
		case err != nil:
			d, _ := json.Marshal(map[string]any{"error": err.Error()})
			output = string(d)
		case res != nil:
			d, _ := json.Marshal(res)
			output = string(d)
		default:
			d, _ := json.Marshal(map[string]any{"success": true})
			output = string(d)
		}

		if err := c.CreateFunctionCallOutput(o.CallID, output); err != nil {
			c.logger.Error("failed to send function call output", slog.String("call_id", o.CallID), slog.Any("err", err))
			continue
		}
		_ = c.CreateResponse()
	}
}

// startAudioPump streams chunked microphone audio to the server for the
// lifetime of the connection. Each connect attempt gets its own pump;
// the previous pump winds down when its connection's context is
// cancelled.
func (c *Client) startAudioPump() {
	c.mu.Lock()
	pump := c.pump
	ctx := c.runCtx
	c.mu.Unlock()

	if pump == nil {
		return
	}

	pump.Do(func() {
		go func() {
			buf := make([]byte, chunkSize(wireSampleRate, c.config.latency()))
			for ctx.Err() == nil {
				n, err := c.io.wireReader.Read(buf)
				if err != nil {
					if err == io.EOF {
						return
					}
					c.logger.Error("failed to read user audio", slog.Any("err", err))
					return
				}
				if ctx.Err() != nil {
					return
				}

				if err := c.AppendAudio(buf[:n]); err != nil {
					if errors.Is(err, ErrTransportNotReady) {
						return
					}
					c.logger.Error("failed to append audio", slog.Any("err", err))
					return
				}
			}
		}()
	})
}
