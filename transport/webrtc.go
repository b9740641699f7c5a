package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v3"
)

// dataChannelLabel is the label the realtime service expects for the
// event channel.
const dataChannelLabel = "oai-events"

// WebRTC is the peer-connection transport. Events travel over a data
// channel; assistant audio arrives on a remote audio track.
type WebRTC struct {
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	logger *slog.Logger

	mu          sync.Mutex
	onMessage   func([]byte)
	onState     func(State)
	remoteTrack *webrtc.TrackRemote
	localTrack  *webrtc.TrackLocalStaticSample

	closeOnce sync.Once
	closeErr  error
}

// NewWebRTC creates a peer connection with a recv-only audio
// transceiver and the event data channel. The connection is not usable
// until Offer, signaling and ApplyAnswer have run.
func NewWebRTC(logger *slog.Logger) (*WebRTC, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	t := &WebRTC{
		pc:     pc,
		logger: logger,
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}

	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	t.dc = dc

	dc.OnOpen(func() {
		logger.Debug("data channel opened")
		t.notifyState(StateConnected)
	})
	dc.OnClose(func() {
		logger.Debug("data channel closed")
		t.notifyState(StateDisconnected)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.mu.Lock()
		fn := t.onMessage
		t.mu.Unlock()
		if fn != nil {
			fn(msg.Data)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Debug("received remote track", slog.String("kind", track.Kind().String()), slog.String("codec", track.Codec().MimeType))
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			t.mu.Lock()
			t.remoteTrack = track
			t.mu.Unlock()
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		logger.Debug("peer connection state", slog.String("state", s.String()))
		switch s {
		case webrtc.PeerConnectionStateFailed:
			t.notifyState(StateFailed)
		case webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			t.notifyState(StateDisconnected)
		}
	})

	return t, nil
}

func (t *WebRTC) OnMessage(fn func(data []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = fn
}

func (t *WebRTC) OnStateChange(fn func(state State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = fn
}

func (t *WebRTC) notifyState(s State) {
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Offer creates the local offer and blocks until ICE candidate
// gathering completes, so the returned SDP is complete and a single
// signaling round trip suffices.
func (t *WebRTC) Offer(ctx context.Context) (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-webrtc.GatheringCompletePromise(t.pc):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return t.pc.LocalDescription().SDP, nil
}

func (t *WebRTC) ApplyAnswer(_ context.Context, answer string) error {
	err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	})
	if err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (t *WebRTC) Send(data []byte) error {
	if !t.Ready() {
		return fmt.Errorf("data channel not ready")
	}
	return t.dc.Send(data)
}

func (t *WebRTC) Ready() bool {
	return t.dc != nil && t.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (t *WebRTC) Close() error {
	t.closeOnce.Do(func() {
		if t.dc != nil {
			t.dc.Close()
		}
		t.closeErr = t.pc.Close()
	})
	return t.closeErr
}

// AudioTrack returns the remote audio track, or nil while none has been
// received.
func (t *WebRTC) AudioTrack() *webrtc.TrackRemote {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remoteTrack
}

// AddAudioTrack attaches a local track for sending microphone audio.
func (t *WebRTC) AddAudioTrack(track *webrtc.TrackLocalStaticSample) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.localTrack != nil {
		return fmt.Errorf("local audio track already added")
	}
	if _, err := t.pc.AddTrack(track); err != nil {
		return err
	}
	t.localTrack = track
	return nil
}

var _ Transport = (*WebRTC)(nil)
