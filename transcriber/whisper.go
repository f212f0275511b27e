//go:build whisper

package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"speecher/waveform"
)

// Whisper runs whisper.cpp in-process. The model is loaded once and a fresh
// inference context is created per call.
type Whisper struct {
	path  string
	mu    sync.Mutex
	model whisper.Model
}

func NewWhisper(path string) (*Whisper, error) {
	if path == "" {
		return nil, ErrModelNotFound
	}
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("%w: loading %s: %v", ErrEngineUnavailable, path, err)
	}
	return &Whisper{path: path, model: model}, nil
}

func (w *Whisper) Name() string { return "whisper" }

func (w *Whisper) Transcribe(ctx context.Context, samples []float32, language string) (*Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.model == nil {
		return nil, ErrEngineUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	wctx, err := w.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper context: %w", err)
	}
	if language == "" {
		language = AutoDetect
	}
	if err := wctx.SetLanguage(language); err != nil {
		return nil, fmt.Errorf("whisper language %q: %w", language, err)
	}

	// Returning false from the encoder-begin callback aborts inference.
	keepGoing := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, keepGoing, nil, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("whisper process: %w", err)
	}

	var text strings.Builder
	var segments []Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper segment: %w", err)
		}
		text.WriteString(seg.Text)
		segments = append(segments, Segment{
			Text:  seg.Text,
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
		})
	}

	lang := language
	if lang == AutoDetect {
		if d := wctx.DetectedLanguage(); d != "" {
			lang = d
		}
	}

	return &Result{
		Text:     text.String(),
		Language: lang,
		Duration: waveform.Samples(samples).Duration().Seconds(),
		Elapsed:  time.Since(start),
		Segments: segments,
	}, nil
}

func (w *Whisper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model == nil {
		return nil
	}
	err := w.model.Close()
	w.model = nil
	return err
}
