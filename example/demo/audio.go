package main

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/MarkKremer/microphone/v2"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

const (
	bytesPerSample = 2 // 16-bit mono PCM
	playLatency    = 200 * time.Millisecond
	captureFrames  = 1024
	playQueueSize  = 48_000 // 1 s @ 48 kHz
)

// DeviceIO speaks 16-bit mono PCM to the default speaker and microphone.
type DeviceIO struct {
	mic        *microphone.Streamer
	sampleRate beep.SampleRate

	playCh chan [2]float64

	readMu  sync.Mutex
	readBuf []byte
}

func NewDeviceIO(sampleRate int) (*DeviceIO, error) {
	sr := beep.SampleRate(sampleRate)

	if err := speaker.Init(sr, sr.N(playLatency)); err != nil {
		return nil, err
	}

	playCh := make(chan [2]float64, playQueueSize)
	speaker.Play(newQueueStreamer(playCh))

	mic, _, err := microphone.OpenDefaultStream(sr, 1) // mono
	if err != nil {
		return nil, err
	}
	mic.Start()

	d := &DeviceIO{
		mic:        mic,
		playCh:     playCh,
		readBuf:    make([]byte, 0, 8192),
		sampleRate: sr,
	}

	go d.captureLoop()
	return d, nil
}

// Read returns captured microphone audio.
func (d *DeviceIO) Read(p []byte) (int, error) {
	for {
		d.readMu.Lock()
		if len(d.readBuf) > 0 {
			n := copy(p, d.readBuf)
			d.readBuf = d.readBuf[n:]
			d.readMu.Unlock()
			return n, nil
		}
		d.readMu.Unlock()
		time.Sleep(3 * time.Millisecond)
	}
}

// Write queues audio for playback.
func (d *DeviceIO) Write(b []byte) (int, error) {
	if len(b)%bytesPerSample != 0 {
		return 0, errors.New("device: Write expects 16-bit mono PCM")
	}

	for i := 0; i < len(b); i += bytesPerSample {
		v := int16(binary.LittleEndian.Uint16(b[i:]))
		f := float64(v) / 32768.0
		d.playCh <- [2]float64{f, f} // duplicate to stereo
	}
	return len(b), nil
}

// Clear drops all queued playback, both our own queue and beep's mixer.
func (d *DeviceIO) Clear() {
	for {
		select {
		case <-d.playCh:
		default:
			speaker.Lock()
			speaker.Clear()
			speaker.Unlock()
			return
		}
	}
}

func (d *DeviceIO) captureLoop() {
	frames := make([][2]float64, captureFrames)

	for {
		n, ok := d.mic.Stream(frames)
		if !ok {
			return
		}

		mono := framesToPCM16Mono(frames[:n])

		d.readMu.Lock()
		d.readBuf = append(d.readBuf, mono...)
		d.readMu.Unlock()
	}
}

func framesToPCM16Mono(s [][2]float64) []byte {
	b := make([]byte, len(s)*bytesPerSample)
	for i, v := range s {
		m := int16(clamp(v[0]) * 32767) // left channel
		binary.LittleEndian.PutUint16(b[i*2:], uint16(m))
	}
	return b
}

func clamp(f float64) float64 {
	switch {
	case f > 1:
		return 1
	case f < -1:
		return -1
	default:
		return f
	}
}

// queueStreamer pulls samples from a channel, playing silence while the
// channel is empty to avoid glitches.
type queueStreamer struct {
	ch <-chan [2]float64
}

func newQueueStreamer(ch <-chan [2]float64) *queueStreamer { return &queueStreamer{ch: ch} }

func (q *queueStreamer) Stream(buf [][2]float64) (int, bool) {
	for i := range buf {
		select {
		case smp := <-q.ch:
			buf[i] = smp
		default:
			buf[i] = [2]float64{}
		}
	}
	return len(buf), true
}

func (q *queueStreamer) Err() error { return nil }
