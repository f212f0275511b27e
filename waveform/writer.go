package waveform

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var pcmFormat = &audio.Format{NumChannels: Channels, SampleRate: SampleRate}

// Writer streams 16-bit little-endian PCM into a WAV file. The header sizes
// are only valid after Close.
type Writer struct {
	f      *os.File
	enc    *wav.Encoder
	frames uint64
	closed bool
}

// Create truncates path and starts a new recording file.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		f:   f,
		enc: wav.NewEncoder(f, SampleRate, BitDepth, Channels, wavFormatPCM),
	}
	// An empty write emits the RIFF and data chunk headers so that a
	// recording stopped before any frame arrived is still a valid file.
	if err := w.enc.Write(&audio.IntBuffer{Format: pcmFormat, SourceBitDepth: BitDepth}); err != nil {
		f.Close()
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	return w, nil
}

// WritePCM16 appends raw little-endian int16 frames as delivered by the
// capture device.
func (w *Writer) WritePCM16(pcm []byte) error {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	data := make([]int, n)
	for i := range data {
		data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	if err := w.enc.Write(&audio.IntBuffer{Format: pcmFormat, Data: data, SourceBitDepth: BitDepth}); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	w.frames += uint64(n)
	return nil
}

func (w *Writer) Frames() uint64 { return w.frames }

// Close finalizes the header and closes the file. Calling it again is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	encErr := w.enc.Close()
	fileErr := w.f.Close()
	if encErr != nil {
		return fmt.Errorf("finalize wav: %w", encErr)
	}
	return fileErr
}

// Encode writes samples as a complete WAV stream.
func Encode(w io.WriteSeeker, samples []float32) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = floatToSample(s)
	}
	enc := wav.NewEncoder(w, SampleRate, BitDepth, Channels, wavFormatPCM)
	if err := enc.Write(&audio.IntBuffer{Format: pcmFormat, Data: data, SourceBitDepth: BitDepth}); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return enc.Close()
}

func WriteFile(path string, samples []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, samples); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
