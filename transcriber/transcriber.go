// Package transcriber turns normalized 16 kHz mono samples into text.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// AutoDetect asks the engine to infer the spoken language.
const AutoDetect = "auto"

var (
	ErrEngineUnavailable = errors.New("transcription engine unavailable")
	ErrModelNotFound     = errors.New("model file not found")
)

// Engine is a single-slot speech-to-text backend. Callers must not invoke
// Transcribe concurrently; implementations may block for as long as inference
// takes.
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, samples []float32, language string) (*Result, error)
	Close() error
}

// Warmer is implemented by engines that benefit from opening their network
// connection ahead of the first request.
type Warmer interface {
	Warm()
}

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

func firstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}

type Segment struct {
	Text             string
	NoSpeechProb     float64
	AvgLogProb       float64
	CompressionRatio float64
	Temperature      float64
	Start            float64
	End              float64
}

// UploadStats describes the compressed payload sent to a cloud engine.
type UploadStats struct {
	RawBytes        int
	CompressedBytes int
	EncodeTime      time.Duration
}

func (u *UploadStats) CompressionPct() float64 {
	if u.RawBytes == 0 {
		return 0
	}
	return 100 * (1 - float64(u.CompressedBytes)/float64(u.RawBytes))
}

type Result struct {
	Text         string
	Language     string        // language the engine used or detected
	Duration     float64       // audio seconds
	Elapsed      time.Duration // wall time spent in the engine
	Metrics      *NetworkMetrics
	Upload       *UploadStats
	RateLimit    string
	NoSpeechProb float64
	AvgLogProb   float64
	Segments     []Segment
}

type Config struct {
	Engine    string // whisper, groq, openai or fake
	ModelPath string // resolved model file for whisper
	FakeText  string
}

// New builds the engine named in cfg. Cloud engines read their API key from
// the environment.
func New(cfg Config) (Engine, error) {
	switch cfg.Engine {
	case "whisper", "":
		w, err := NewWhisper(cfg.ModelPath)
		if err != nil {
			return nil, err
		}
		return w, nil
	case "groq":
		key := os.Getenv("GROQ_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("%w: set GROQ_API_KEY environment variable", ErrEngineUnavailable)
		}
		return NewGroq(key), nil
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("%w: set OPENAI_API_KEY environment variable", ErrEngineUnavailable)
		}
		return NewOpenAI(key), nil
	case "fake":
		return NewFake(cfg.FakeText, nil), nil
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", ErrEngineUnavailable, cfg.Engine)
	}
}
