// Package transport abstracts the ordered byte channel carrying wire
// messages between client and realtime service. The protocol layer only
// depends on the Transport interface, so it runs identically over a
// WebRTC data channel, a WebSocket, or an in-memory pipe in tests.
package transport

import "context"

// State is the connection state of a transport.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transport owns the physical connection. Implementations deliver
// inbound application messages through the OnMessage callback in
// arrival order and report state transitions through OnStateChange.
// Both callbacks must be registered before Offer is called.
type Transport interface {
	// Offer produces the local session description for signaling.
	Offer(ctx context.Context) (string, error)

	// ApplyAnswer applies the remote session description. The transport
	// reports StateConnected via OnStateChange once its channel opens.
	ApplyAnswer(ctx context.Context, answer string) error

	// Send writes one application message to the remote peer.
	Send(data []byte) error

	// Ready reports whether Send can currently succeed.
	Ready() bool

	// OnMessage registers the inbound message callback.
	OnMessage(fn func(data []byte))

	// OnStateChange registers the state transition callback.
	OnStateChange(fn func(state State))

	// Close tears the connection down. Calling Close more than once is
	// safe.
	Close() error
}
