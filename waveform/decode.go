package waveform

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/wav"
)

// Decode reads a completed recording and returns normalized samples.
//
// The file must be 16-bit linear PCM at SampleRate. Stereo input is
// down-mixed by averaging the two channels per frame; any other channel
// count, bit depth, sample rate or non-PCM encoding fails with
// ErrUnsupportedFormat. No resampling is performed.
func Decode(path string) (Samples, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()
	return DecodeReader(f)
}

func DecodeReader(r io.ReadSeeker) (Samples, error) {
	d := wav.NewDecoder(r)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if d.NumChans == 0 || d.SampleRate == 0 || d.BitDepth == 0 {
		return nil, ErrMalformedHeader
	}

	if d.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: audio format %d", ErrUnsupportedFormat, d.WavAudioFormat)
	}
	if d.BitDepth != BitDepth {
		return nil, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedFormat, d.BitDepth)
	}
	if d.SampleRate != SampleRate {
		return nil, fmt.Errorf("%w: %d Hz", ErrUnsupportedFormat, d.SampleRate)
	}
	if d.NumChans > 2 {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, d.NumChans)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if buf == nil {
		return nil, fmt.Errorf("%w: no data chunk", ErrMalformedHeader)
	}

	if d.NumChans == 1 {
		out := make(Samples, len(buf.Data))
		for i, v := range buf.Data {
			out[i] = sampleToFloat(v)
		}
		return out, nil
	}

	frames := len(buf.Data) / 2
	out := make(Samples, frames)
	for i := range frames {
		out[i] = sampleToFloat((buf.Data[2*i] + buf.Data[2*i+1]) / 2)
	}
	return out, nil
}
