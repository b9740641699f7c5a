package voicert

import (
	"fmt"
	"io"
	"time"

	"github.com/smallnest/ringbuffer"
)

// wireSampleRate is the PCM16 sample rate the service speaks.
const wireSampleRate = 24_000

// chunkSize is the byte size of one mono PCM16 chunk covering the given
// duration.
func chunkSize(sampleRate int, d time.Duration) int {
	frames := int(float64(sampleRate) * d.Seconds())
	return frames * 2
}

// AudioIO bridges the caller's audio devices and the wire. The caller
// writes microphone PCM16 at its own sample rate and reads assistant
// PCM16 back at the same rate; both directions are ring-buffered and
// resampled to and from the wire rate.
type AudioIO struct {
	userBuffer  *ringbuffer.RingBuffer // mic audio, wire rate
	agentBuffer *ringbuffer.RingBuffer // assistant audio, caller rate

	input      io.Writer // caller mic -> userBuffer
	output     io.Reader // agentBuffer -> caller speaker
	wireReader io.Reader // userBuffer -> wire, fixed chunks
	wireWriter io.Writer // wire -> agentBuffer
}

func NewAudioIO(userSampleRate int, latency time.Duration) *AudioIO {
	userBuffer := ringbuffer.New(chunkSize(wireSampleRate, latency) * 4).SetBlocking(true)
	agentBuffer := ringbuffer.New(chunkSize(userSampleRate, 60*time.Second)).SetBlocking(true)

	return &AudioIO{
		userBuffer:  userBuffer,
		agentBuffer: agentBuffer,
		input: &ResampleWriter{
			Sink:      userBuffer,
			FromRate:  userSampleRate,
			ToRate:    wireSampleRate,
			Resampler: LinearResampler{},
		},
		output:     newFixedAudioChunkReader(agentBuffer, userSampleRate, latency),
		wireReader: newFixedAudioChunkReader(userBuffer, wireSampleRate, latency),
		wireWriter: &ResampleWriter{
			Sink:      agentBuffer,
			FromRate:  wireSampleRate,
			ToRate:    userSampleRate,
			Resampler: LinearResampler{},
		},
	}
}

// Input is where the caller writes microphone audio.
func (a *AudioIO) Input() io.Writer { return a.input }

// Output is where the caller reads assistant audio.
func (a *AudioIO) Output() io.Reader { return a.output }

// WriteAssistantAudio buffers one chunk of wire-rate assistant audio
// for playback.
func (a *AudioIO) WriteAssistantAudio(pcm []byte) error {
	_, err := a.wireWriter.Write(pcm)
	return err
}

// ClearOutputBuffer drops any assistant audio not yet played, e.g. when
// the user interrupts.
func (a *AudioIO) ClearOutputBuffer() {
	a.agentBuffer.Reset()
}

// FixedChunkReader reads from r in fixed-size chunks, buffering until a
// full chunk is available or the source reaches EOF.
type FixedChunkReader struct {
	r         io.Reader
	buf       []byte
	chunkSize int
	eof       bool
}

func NewFixedChunkReader(r io.Reader, chunkSize int) *FixedChunkReader {
	return &FixedChunkReader{
		r:         r,
		chunkSize: chunkSize,
		buf:       make([]byte, 0, chunkSize*2),
	}
}

func newFixedAudioChunkReader(r io.Reader, sampleRate int, latency time.Duration) *FixedChunkReader {
	return NewFixedChunkReader(r, chunkSize(sampleRate, latency))
}

func (f *FixedChunkReader) Read(p []byte) (int, error) {
	if len(p) < f.chunkSize {
		return 0, fmt.Errorf("buffer passed to Read must be at least %d bytes", f.chunkSize)
	}

	for len(f.buf) < f.chunkSize && !f.eof {
		tmp := make([]byte, f.chunkSize)
		n, err := f.r.Read(tmp)
		if n > 0 {
			f.buf = append(f.buf, tmp[:n]...)
		}
		if err == io.EOF {
			f.eof = true
			break
		}
		if err != nil {
			return 0, err
		}
	}

	if len(f.buf) == 0 && f.eof {
		return 0, io.EOF
	}

	n := f.chunkSize
	if len(f.buf) < f.chunkSize {
		n = len(f.buf)
	}

	copy(p, f.buf[:n])
	f.buf = f.buf[n:]

	return n, nil
}
