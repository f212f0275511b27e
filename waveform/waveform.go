// Package waveform reads and writes the WAV container used between capture
// and transcription: linear PCM, 16 kHz, mono, 16-bit.
package waveform

import (
	"errors"
	"time"
)

const (
	SampleRate = 16000
	Channels   = 1
	BitDepth   = 16

	// wavFormatPCM is the fmt chunk audio format for integer linear PCM.
	wavFormatPCM = 1
)

var (
	ErrMalformedHeader   = errors.New("waveform: malformed WAV header")
	ErrUnsupportedFormat = errors.New("waveform: unsupported WAV format")
)

// Samples is a mono buffer at SampleRate with amplitudes in [-1, 1].
type Samples []float32

func (s Samples) Duration() time.Duration {
	return time.Duration(len(s)) * time.Second / SampleRate
}

func sampleToFloat(v int) float32 {
	return float32(v) / 32768.0
}

func floatToSample(f float32) int {
	v := int(f*32768 + 0.5)
	if f < 0 {
		v = int(f*32768 - 0.5)
	}
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return v
}
