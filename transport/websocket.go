package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/codewandler/voicert-go/internal/websocket"
)

// WebSocket runs the protocol over an ordered WebSocket byte stream.
// There is no session description exchange: Offer returns an empty
// offer, which makes the connection lifecycle skip signaling, and the
// channel is open as soon as the dial succeeds.
type WebSocket struct {
	ws     *websocket.Client
	logger *slog.Logger

	mu        sync.Mutex
	onMessage func([]byte)
	onState   func(State)
	open      bool
}

// DialWebSocket connects to wsURL authorized by the short-lived
// credential.
func DialWebSocket(ctx context.Context, wsURL, credential, model string, logger *slog.Logger) (*WebSocket, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	t := &WebSocket{logger: logger}

	headers := http.Header{}
	headers.Add("Authorization", "Bearer "+credential)
	headers.Add("OpenAI-Beta", "realtime=v1")

	ws, err := websocket.Connect(ctx, websocket.ClientConfig{
		Logger:  logger,
		URL:     fmt.Sprintf("%s?model=%s", wsURL, model),
		Headers: headers,
		OnText: func(data []byte) error {
			t.mu.Lock()
			fn := t.onMessage
			t.mu.Unlock()
			if fn != nil {
				fn(data)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.ws = ws
	t.open = true
	t.mu.Unlock()

	go func() {
		<-ws.Done()
		t.mu.Lock()
		t.open = false
		fn := t.onState
		t.mu.Unlock()
		if fn != nil {
			fn(StateDisconnected)
		}
	}()

	return t, nil
}

func (t *WebSocket) Offer(_ context.Context) (string, error) {
	return "", nil
}

func (t *WebSocket) ApplyAnswer(_ context.Context, _ string) error {
	return nil
}

func (t *WebSocket) Send(data []byte) error {
	if !t.Ready() {
		return fmt.Errorf("websocket not open")
	}
	t.ws.WriteText(data)
	return nil
}

func (t *WebSocket) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open && t.ws != nil && t.ws.IsOpen()
}

func (t *WebSocket) OnMessage(fn func(data []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = fn
}

func (t *WebSocket) OnStateChange(fn func(state State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = fn
}

func (t *WebSocket) Close() error {
	t.mu.Lock()
	ws := t.ws
	t.open = false
	t.mu.Unlock()

	if ws == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ws.Close(ctx)
}

var _ Transport = (*WebSocket)(nil)
