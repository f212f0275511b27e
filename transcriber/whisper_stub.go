//go:build !whisper

package transcriber

import (
	"context"
	"fmt"
)

// Whisper is unavailable in builds without the whisper tag, which needs
// libwhisper and cgo.
type Whisper struct{}

func NewWhisper(path string) (*Whisper, error) {
	if path == "" {
		return nil, ErrModelNotFound
	}
	return nil, fmt.Errorf("%w: built without whisper support (rebuild with -tags whisper)", ErrEngineUnavailable)
}

func (w *Whisper) Name() string { return "whisper" }

func (w *Whisper) Transcribe(context.Context, []float32, string) (*Result, error) {
	return nil, ErrEngineUnavailable
}

func (w *Whisper) Close() error { return nil }
