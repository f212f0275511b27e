package transcriber

import (
	"context"
	"fmt"
	"sync"
	"time"

	"speecher/waveform"
)

type FakeCall struct {
	Samples  int
	Language string
}

// FakeEngine returns a fixed text. A gate set with Hold keeps Transcribe
// blocked until it is closed, which lets tests observe the in-flight state.
type FakeEngine struct {
	text string
	err  error

	mu      sync.Mutex
	gate    chan struct{}
	calls   []FakeCall
	entered chan FakeCall
	closed  bool
}

func NewFake(text string, err error) *FakeEngine {
	return &FakeEngine{text: text, err: err, entered: make(chan FakeCall, 16)}
}

func (f *FakeEngine) Name() string { return "fake" }

// Hold makes subsequent calls wait until the returned release func runs.
func (f *FakeEngine) Hold() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Entered receives one value per Transcribe call as soon as it starts.
func (f *FakeEngine) Entered() <-chan FakeCall { return f.entered }

func (f *FakeEngine) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.calls...)
}

func (f *FakeEngine) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeEngine) Transcribe(ctx context.Context, samples []float32, language string) (*Result, error) {
	start := time.Now()
	call := FakeCall{Samples: len(samples), Language: language}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	gate := f.gate
	f.mu.Unlock()

	select {
	case f.entered <- call:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, fmt.Errorf("fake transcriber error: %w", f.err)
	}

	lang := language
	if lang == AutoDetect {
		lang = "en"
	}
	return &Result{
		Text:     f.text,
		Language: lang,
		Duration: waveform.Samples(samples).Duration().Seconds(),
		Elapsed:  time.Since(start),
	}, nil
}

func (f *FakeEngine) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
