// Package encoder compresses captured samples for upload to cloud engines.
package encoder

import "speecher/waveform"

const (
	SampleRate    = waveform.SampleRate
	Channels      = waveform.Channels
	BitsPerSample = waveform.BitDepth
	BlockSize     = 4096
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
}

// Quantize converts normalized samples back to 16-bit PCM.
func Quantize(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := s * 32768
		switch {
		case v >= 32767:
			out[i] = 32767
		case v <= -32768:
			out[i] = -32768
		default:
			out[i] = int16(v)
		}
	}
	return out
}

// EncodeAll feeds samples through enc in BlockSize chunks and closes it.
func EncodeAll(enc Encoder, samples []float32) ([]byte, error) {
	pcm := Quantize(samples)
	for i := 0; i < len(pcm); i += BlockSize {
		end := min(i+BlockSize, len(pcm))
		if err := enc.EncodeBlock(pcm[i:end]); err != nil {
			return nil, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}
