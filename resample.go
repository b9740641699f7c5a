package voicert

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/faiface/beep"
)

// Resampler converts mono PCM16 between sample rates.
type Resampler interface {
	Resample(pcm []byte, fromRate, toRate int) ([]byte, error)
}

// LinearResampler interpolates linearly between samples. Cheap enough
// for the realtime path.
type LinearResampler struct{}

func (LinearResampler) Resample(pcm []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate == toRate {
		return pcm, nil
	}

	n := len(pcm) / 2
	if n == 0 {
		return nil, nil
	}

	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	outN := int(int64(n) * int64(toRate) / int64(fromRate))
	out := make([]byte, outN*2)
	for i := 0; i < outN; i++ {
		pos := float64(i) * float64(fromRate) / float64(toRate)
		j := int(pos)
		frac := pos - float64(j)

		s0 := samples[j]
		s1 := s0
		if j+1 < n {
			s1 = samples[j+1]
		}

		v := float64(s0)*(1-frac) + float64(s1)*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}

	return out, nil
}

// BeepResampler uses beep's sinc interpolation. Better quality than
// linear at higher cost; suited for offline conversion.
type BeepResampler struct {
	Quality int
}

func (r BeepResampler) Resample(pcm []byte, fromRate, toRate int) ([]byte, error) {
	quality := r.Quality
	if quality == 0 {
		quality = 3
	}
	return resamplePCM(pcm, fromRate, toRate, quality)
}

// ResampleWriter resamples everything written through it before passing
// it to Sink.
type ResampleWriter struct {
	Sink      io.Writer
	FromRate  int
	ToRate    int
	Resampler Resampler
}

func (w *ResampleWriter) Write(p []byte) (int, error) {
	out, err := w.Resampler.Resample(p, w.FromRate, w.ToRate)
	if err != nil {
		return 0, err
	}
	if _, err := w.Sink.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// PCMStreamer adapts mono PCM16 bytes to beep's stereo float stream.
type PCMStreamer struct {
	data []int16
	pos  int
}

func NewPCMStreamer(b []byte) *PCMStreamer {
	samples := make([]int16, len(b)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return &PCMStreamer{data: samples}
}

func (s *PCMStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for i := range samples {
		if s.pos >= len(s.data) {
			return i, false
		}
		val := float64(s.data[s.pos]) / 32768.0
		samples[i][0] = val
		samples[i][1] = val // duplicate mono to stereo
		s.pos++
	}
	return len(samples), true
}

func (s *PCMStreamer) Err() error { return nil }

func resamplePCM(pcmData []byte, fromRate, toRate, quality int) ([]byte, error) {
	streamer := NewPCMStreamer(pcmData)

	resampler := beep.Resample(quality, beep.SampleRate(fromRate), beep.SampleRate(toRate), streamer)

	buf := new(bytes.Buffer)
	sample := make([][2]float64, 1024)

	for {
		n, ok := resampler.Stream(sample)
		for i := 0; i < n; i++ {
			mono := (sample[i][0] + sample[i][1]) / 2.0
			int16Val := int16(mono * 32767)
			if err := binary.Write(buf, binary.LittleEndian, int16Val); err != nil {
				return nil, err
			}
		}
		if !ok {
			break
		}
	}

	return buf.Bytes(), nil
}
