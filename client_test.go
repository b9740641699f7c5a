package voicert

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/voicert-go/events"
	"github.com/codewandler/voicert-go/tool"
	"github.com/codewandler/voicert-go/transport"
)

var errForTest = errors.New("handler exploded")

// fakeTransport is an in-memory Transport for exercising the client
// without a network.
type fakeTransport struct {
	mu        sync.Mutex
	offer     string
	answer    string
	ready     bool
	sent      [][]byte
	closed    int
	onMessage func(data []byte)
	onState   func(state transport.State)
}

func (f *fakeTransport) Offer(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offer, nil
}

func (f *fakeTransport) ApplyAnswer(ctx context.Context, answer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answer = answer
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeTransport) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeTransport) OnMessage(fn func(data []byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage = fn
}

func (f *fakeTransport) OnStateChange(fn func(state transport.State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.ready = false
	return nil
}

// open marks the channel ready and fires the connected transition.
func (f *fakeTransport) open() {
	f.mu.Lock()
	f.ready = true
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(transport.StateConnected)
	}
}

// receive delivers one wire message to the client.
func (f *fakeTransport) receive(payload string) {
	f.mu.Lock()
	fn := f.onMessage
	f.mu.Unlock()
	fn([]byte(payload))
}

func (f *fakeTransport) sentMessages() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]map[string]any, 0, len(f.sent))
	for _, data := range f.sent {
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (f *fakeTransport) sentTypes() []string {
	var types []string
	for _, m := range f.sentMessages() {
		t, _ := m["type"].(string)
		types = append(types, t)
	}
	return types
}

func connectedClient(t *testing.T, opts ...ClientOption) (*Client, *fakeTransport) {
	t.Helper()

	ft := &fakeTransport{offer: "v=0\r\noffer"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("v=0\r\nanswer"))
	}))
	t.Cleanup(srv.Close)

	opts = append(opts, WithTransport(ft), WithBaseURL(srv.URL))
	c := New(opts...)

	require.NoError(t, c.Connect(context.Background(), "ek_test", "test-model"))
	ft.open()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.WaitUntilConnected(ctx))

	t.Cleanup(func() { c.Disconnect() })
	return c, ft
}

func TestClient_ConnectExchangesDescriptions(t *testing.T) {
	_, ft := connectedClient(t)

	ft.mu.Lock()
	defer ft.mu.Unlock()
	require.Equal(t, "v=0\r\nanswer", ft.answer)
}

func TestClient_ConnectRejectedWhileConnected(t *testing.T) {
	c, _ := connectedClient(t)

	err := c.Connect(context.Background(), "ek_test", "test-model")
	require.Error(t, err)
	require.Contains(t, err.Error(), "already connected")
}

func TestClient_ConnectSignalingFailure(t *testing.T) {
	ft := &fakeTransport{offer: "v=0\r\noffer"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(WithTransport(ft), WithBaseURL(srv.URL))
	err := c.Connect(context.Background(), "ek_bad", "test-model")
	require.Error(t, err)
	require.Equal(t, transport.StateFailed, c.State())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.ErrorIs(t, c.WaitUntilConnected(ctx), ErrConnectionFailed)
}

func TestClient_EmptyOfferSkipsSignaling(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	ft := &fakeTransport{}
	c := New(WithTransport(ft), WithBaseURL(srv.URL))
	require.NoError(t, c.Connect(context.Background(), "ek_test", "test-model"))
	defer c.Disconnect()

	require.Zero(t, hits)
}

func TestClient_WaitUntilConnectedHonorsContext(t *testing.T) {
	c := New(WithTransport(&fakeTransport{offer: "v=0"}))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.WaitUntilConnected(ctx), context.DeadlineExceeded)
}

func TestClient_CommandsBeforeConnect(t *testing.T) {
	c := New()

	require.ErrorIs(t, c.AppendAudio([]byte{0, 0}), ErrTransportNotReady)
	require.ErrorIs(t, c.CommitAudio(), ErrTransportNotReady)
	require.ErrorIs(t, c.ClearAudio(), ErrTransportNotReady)
	require.ErrorIs(t, c.CreateResponse(), ErrTransportNotReady)
	require.ErrorIs(t, c.TruncateResponse("resp_1", 100), ErrTransportNotReady)
	require.ErrorIs(t, c.CancelResponse("resp_1"), ErrTransportNotReady)
	require.ErrorIs(t, c.UserInput("hi", false), ErrTransportNotReady)
	require.ErrorIs(t, c.DeleteItem("item_1"), ErrTransportNotReady)
	require.ErrorIs(t, c.UpdateSession(events.SessionUpdate{}), ErrTransportNotReady)
}

func TestClient_DisconnectIdempotent(t *testing.T) {
	c, ft := connectedClient(t)

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
	require.Equal(t, transport.StateDisconnected, c.State())

	ft.mu.Lock()
	defer ft.mu.Unlock()
	require.Equal(t, 2, ft.closed)
}

func TestClient_ReconnectAfterDisconnect(t *testing.T) {
	c, ft := connectedClient(t)

	require.NoError(t, c.Disconnect())
	require.Equal(t, transport.StateDisconnected, c.State())

	// The caller-supplied transport is retained, so reissuing Connect
	// negotiates over it again.
	require.NoError(t, c.Connect(context.Background(), "ek_test", "test-model"))
	ft.open()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.WaitUntilConnected(ctx))

	require.NoError(t, c.UserInput("back again", false))
	require.Contains(t, ft.sentTypes(), "conversation.item.create")
}

func TestClient_ReconnectAfterFailedAttempt(t *testing.T) {
	ft := &fakeTransport{offer: "v=0\r\noffer"}

	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("v=0\r\nanswer"))
	}))
	defer srv.Close()

	c := New(WithTransport(ft), WithBaseURL(srv.URL))

	fail.Store(true)
	require.Error(t, c.Connect(context.Background(), "ek_test", "test-model"))
	require.Equal(t, transport.StateFailed, c.State())

	// Retry policy belongs to the caller: a reissued Connect starts a
	// fresh attempt.
	fail.Store(false)
	require.NoError(t, c.Connect(context.Background(), "ek_test", "test-model"))
	defer c.Disconnect()
	ft.open()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.WaitUntilConnected(ctx))
}

func TestClient_FailedAttemptKeepsCallerTransportOpen(t *testing.T) {
	ft := &fakeTransport{offer: "v=0\r\noffer"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(WithTransport(ft), WithBaseURL(srv.URL))
	require.Error(t, c.Connect(context.Background(), "ek_bad", "test-model"))

	ft.mu.Lock()
	defer ft.mu.Unlock()
	require.Zero(t, ft.closed)
}

func TestClient_DisconnectBeforeConnect(t *testing.T) {
	c := New()
	require.NoError(t, c.Disconnect())
	require.Equal(t, transport.StateDisconnected, c.State())
}

func TestClient_CommandWireShapes(t *testing.T) {
	c, ft := connectedClient(t)

	require.NoError(t, c.AppendAudio([]byte("pcm")))
	require.NoError(t, c.CommitAudio())
	require.NoError(t, c.ClearAudio())
	require.NoError(t, c.CreateResponse())
	require.NoError(t, c.TruncateResponse("resp_1", 1200))
	require.NoError(t, c.CancelResponse("resp_1"))
	require.NoError(t, c.DeleteItem("item_1"))
	require.NoError(t, c.TruncateItem("item_1", 0, 900))

	msgs := ft.sentMessages()
	require.Len(t, msgs, 8)

	require.Equal(t, "input_audio_buffer.append", msgs[0]["type"])
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("pcm")), msgs[0]["audio"])
	require.NotEmpty(t, msgs[0]["event_id"])

	require.Equal(t, "input_audio_buffer.commit", msgs[1]["type"])
	require.Equal(t, "input_audio_buffer.clear", msgs[2]["type"])
	require.Equal(t, "response.create", msgs[3]["type"])

	require.Equal(t, "response.truncate", msgs[4]["type"])
	require.Equal(t, "resp_1", msgs[4]["response_id"])
	require.Equal(t, float64(1200), msgs[4]["audio_end_ms"])

	require.Equal(t, "response.cancel", msgs[5]["type"])
	require.Equal(t, "resp_1", msgs[5]["response_id"])

	require.Equal(t, "conversation.item.delete", msgs[6]["type"])
	require.Equal(t, "item_1", msgs[6]["item_id"])

	require.Equal(t, "conversation.item.truncate", msgs[7]["type"])
	require.Equal(t, float64(900), msgs[7]["audio_end_ms"])
}

func TestClient_UserInput(t *testing.T) {
	c, ft := connectedClient(t)

	require.NoError(t, c.UserInput("hello there", true))

	msgs := ft.sentMessages()
	require.Len(t, msgs, 2)
	require.Equal(t, "conversation.item.create", msgs[0]["type"])
	require.Equal(t, "response.create", msgs[1]["type"])

	item := msgs[0]["item"].(map[string]any)
	require.Equal(t, "message", item["type"])
	require.Equal(t, "user", item["role"])
	content := item["content"].([]any)
	part := content[0].(map[string]any)
	require.Equal(t, "input_text", part["type"])
	require.Equal(t, "hello there", part["text"])
}

func TestClient_UserInputWithoutResponse(t *testing.T) {
	c, ft := connectedClient(t)

	require.NoError(t, c.UserInput("just noting this", false))
	require.Equal(t, []string{"conversation.item.create"}, ft.sentTypes())
}

func TestClient_SessionBootstrap(t *testing.T) {
	c, ft := connectedClient(t, WithVoice("alloy"), WithInstruction("be brief"))

	ft.receive(`{"type":"session.created","session":{"id":"sess_1"}}`)

	require.Eventually(t, func() bool {
		return len(ft.sentTypes()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	msgs := ft.sentMessages()
	require.Equal(t, "session.update", msgs[0]["type"])
	session := msgs[0]["session"].(map[string]any)
	require.Equal(t, "alloy", session["voice"])
	require.Equal(t, "be brief", session["instructions"])
	require.Equal(t, "pcm16", session["input_audio_format"])
	require.Equal(t, "pcm16", session["output_audio_format"])

	// Acknowledge so the bootstrap goroutine finishes.
	ft.receive(`{"type":"session.updated","session":{"id":"sess_1"}}`)

	require.Eventually(t, func() bool {
		return c.Conversation().Session().ID == "sess_1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_UpdateSessionWaitsForOwnAck(t *testing.T) {
	c, ft := connectedClient(t)

	// A server-initiated update leaves a token behind; it must not
	// satisfy a later call's wait for its own acknowledgement.
	ft.receive(`{"type":"session.updated","session":{"id":"sess_1"}}`)

	ackDelay := 200 * time.Millisecond
	go func() {
		time.Sleep(ackDelay)
		ft.receive(`{"type":"session.updated","session":{"id":"sess_1","voice":"coral"}}`)
	}()

	start := time.Now()
	require.NoError(t, c.UpdateSession(events.SessionUpdate{Voice: "coral"}))
	require.GreaterOrEqual(t, time.Since(start), ackDelay)
}

func TestClient_ToolDispatch(t *testing.T) {
	registry := tool.NewRegistry()
	registry.Register(
		tool.New("get_weather", "current weather", tool.Parameters{
			Type: "object",
			Properties: tool.Properties{
				"city": {Type: "string"},
			},
			Required: []string{"city"},
		}),
		func(args map[string]any) (any, error) {
			require.Equal(t, "Berlin", args["city"])
			return map[string]any{"temp_c": 21}, nil
		},
	)

	_, ft := connectedClient(t, WithToolRegistry(registry))

	ft.receive(`{"type":"response.done","response":{"id":"resp_1","status":"completed","output":[{"id":"item_1","type":"function_call","status":"completed","call_id":"call_1","name":"get_weather","arguments":"{\"city\":\"Berlin\"}"}]}}`)

	msgs := ft.sentMessages()
	require.Len(t, msgs, 2)

	require.Equal(t, "conversation.item.create", msgs[0]["type"])
	item := msgs[0]["item"].(map[string]any)
	require.Equal(t, "function_call_output", item["type"])
	require.Equal(t, "call_1", item["call_id"])
	require.JSONEq(t, `{"temp_c":21}`, item["output"].(string))

	require.Equal(t, "response.create", msgs[1]["type"])
}

func TestClient_ToolDispatchHandlerError(t *testing.T) {
	c, ft := connectedClient(t)
	c.OnToolCall(func(name string, args map[string]any) (any, error) {
		return nil, errForTest
	})

	ft.receive(`{"type":"response.done","response":{"id":"resp_1","status":"completed","output":[{"id":"item_1","type":"function_call","status":"completed","call_id":"call_1","name":"broken","arguments":"{}"}]}}`)

	msgs := ft.sentMessages()
	require.Len(t, msgs, 2)
	item := msgs[0]["item"].(map[string]any)
	require.JSONEq(t, `{"error":"handler exploded"}`, item["output"].(string))
}

func TestClient_ToolDispatchIgnoresIncompleteCalls(t *testing.T) {
	c, ft := connectedClient(t)
	c.OnToolCall(func(name string, args map[string]any) (any, error) {
		t.Fatal("handler must not run")
		return nil, nil
	})

	ft.receive(`{"type":"response.done","response":{"id":"resp_1","status":"completed","output":[{"id":"item_1","type":"function_call","status":"in_progress","call_id":"call_1","name":"slow","arguments":"{}"},{"id":"item_2","type":"message","status":"completed"}]}}`)

	require.Empty(t, ft.sentTypes())
}

func TestClient_EventAndErrorHooks(t *testing.T) {
	c, ft := connectedClient(t)

	var mu sync.Mutex
	var eventTypes []string
	var errCodes []string

	c.OnEvent(func(e events.ServerEvent) {
		mu.Lock()
		eventTypes = append(eventTypes, e.EventType())
		mu.Unlock()
	})
	c.OnError(func(e *events.ErrorEvent) {
		mu.Lock()
		errCodes = append(errCodes, e.ErrorDetail.Code)
		mu.Unlock()
	})

	ft.receive(`{"type":"error","error":{"code":"session_expired","message":"gone"}}`)
	ft.receive(`{"type":"rate_limits.updated","rate_limits":[]}`)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"error", "rate_limits.updated"}, eventTypes)
	require.Equal(t, []string{"session_expired"}, errCodes)
}

func TestClient_ConversationFedFromTransport(t *testing.T) {
	c, ft := connectedClient(t)

	ft.receive(`{"type":"conversation.item.created","item":{"id":"item_1","type":"message","role":"assistant","content":[{"type":"text"}]}}`)
	ft.receive(`{"type":"response.text.delta","item_id":"item_1","content_index":0,"delta":"Hel"}`)
	ft.receive(`{"type":"response.text.delta","item_id":"item_1","content_index":0,"delta":"lo"}`)
	ft.receive(`{"type":"response.text.done","item_id":"item_1","content_index":0,"text":"Hello!"}`)

	require.Eventually(t, func() bool {
		items := c.Conversation().Items()
		return len(items) == 1 && items[0].Content[0].Text == "Hello!"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_UndecodableMessagesDropped(t *testing.T) {
	c, ft := connectedClient(t)

	ft.receive(`this is not json`)
	ft.receive(`{"no":"type"}`)
	ft.receive(`{"type":"conversation.item.created","item":{"id":"item_1","type":"message","role":"user"}}`)

	require.Eventually(t, func() bool {
		return len(c.Conversation().Items()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
