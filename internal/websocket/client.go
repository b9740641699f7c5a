// Package websocket wraps gobwas/ws into a small callback-driven
// client delivering ordered text and binary messages.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type HandlerFunc func(data []byte) error

func Json[T any](j func(x T) error) HandlerFunc {
	return func(data []byte) error {
		var t T
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}

		return j(t)
	}
}

type ClientConfig struct {
	URL         string
	DialTimeout time.Duration
	Headers     http.Header
	OnText      func(data []byte) error
	OnBinary    func(data []byte) error
	Logger      *slog.Logger
}

type Client struct {
	out      chan wsutil.Message
	done     chan struct{}
	doneOnce sync.Once
	logger   *slog.Logger
}

func (c *Client) setDone() {
	c.doneOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed when the connection has terminated, either side.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// IsOpen reports whether the connection is still live.
func (c *Client) IsOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Client) WriteText(data []byte) {
	c.Write(ws.OpText, data)
}

func (c *Client) WriteBinary(data []byte) {
	c.Write(ws.OpBinary, data)
}

func (c *Client) Ping(data []byte) {
	c.Write(ws.OpPing, data)
}

func (c *Client) SendClose(code ws.StatusCode, reason string) {
	c.Write(ws.OpClose, ws.NewCloseFrameBody(code, reason))
}

// Close sends a close frame and waits for the connection to wind down.
// Closing an already-closed client returns immediately.
func (c *Client) Close(ctx context.Context) error {
	if !c.IsOpen() {
		return nil
	}
	c.SendClose(ws.StatusNormalClosure, "closing")
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close failed: %w", ctx.Err())
	}
}

func (c *Client) Write(opcode ws.OpCode, data []byte) {
	select {
	case <-c.done:
	case c.out <- wsutil.Message{OpCode: opcode, Payload: data}:
	}
}

func Connect(ctx context.Context, config ClientConfig) (*Client, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(
		slog.String("url", config.URL),
	)

	dialTimeout := config.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}

	hsCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	d := ws.Dialer{
		Timeout: dialTimeout,
		Header:  ws.HandshakeHeaderHTTP(config.Headers),
	}
	conn, buf, hs, err := d.Dial(hsCtx, config.URL)
	if err != nil {
		return nil, err
	}
	logger.Debug("handshake complete", slog.Any("handshake", hs))

	if buf != nil {
		defer ws.PutReader(buf)
	}

	logger.Info("connected to websocket")

	var (
		input  = make(chan wsutil.Message, 1000)
		output = make(chan wsutil.Message, 1000)
	)

	client := &Client{
		out:    output,
		done:   make(chan struct{}),
		logger: logger,
	}

	onTextFunc := config.OnText
	if onTextFunc == nil {
		onTextFunc = func(data []byte) error { return nil }
	}
	onBinaryFunc := config.OnBinary
	if onBinaryFunc == nil {
		onBinaryFunc = func(data []byte) error { return nil }
	}

	// websocket -> input channel
	go func() {
		defer client.setDone()
		for {
			messages, err := wsutil.ReadServerMessage(conn, nil)
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}

				logger.Error("ws read failed", slog.Any("err", err))

				return
			}
			for _, msg := range messages {
				input <- msg
			}
		}
	}()

	// output channel -> websocket
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.done:
				return
			case msg := <-output:
				err := wsutil.WriteClientMessage(conn, msg.OpCode, msg.Payload)
				if err != nil {
					logger.Error("ws write failed", slog.Any("err", err))
					client.setDone()
					return
				}
			}
		}
	}()

	// input channel processing
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.done:
				return
			case msg := <-input:

				if ws.OpCode.IsControl(msg.OpCode) {
					logger.Debug("rcv: control", slog.Any("opcode", msg.OpCode))

					if err := wsutil.HandleServerControlMessage(conn, msg); err != nil {
						logger.Error("handling of control messages failed", slog.Any("err", err))
					}

					if msg.OpCode == ws.OpClose {
						logger.Debug("rcv: close. closing client", slog.String("reason", string(msg.Payload)))
						client.setDone()
					}

					continue
				}

				switch msg.OpCode {
				case ws.OpText:
					logger.Debug("rcv: text", slog.Int("len", len(msg.Payload)))
					if err := onTextFunc(msg.Payload); err != nil {
						logger.Error("text message handler failed", slog.Any("err", err))
					}

				case ws.OpBinary:
					logger.Debug("rcv: binary", slog.Int("len", len(msg.Payload)))
					if err := onBinaryFunc(msg.Payload); err != nil {
						logger.Error("binary message handler failed", slog.Any("err", err))
					}
				}
			}
		}
	}()

	return client, nil
}
