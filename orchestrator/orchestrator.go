// Package orchestrator runs the record, decode, transcribe cycle. A single
// coordinator goroutine owns the state; callers, capture events, permission
// answers and engine results all reach it through channels.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"speecher/audio"
	"speecher/language"
	"speecher/log"
	"speecher/transcriber"
	"speecher/waveform"
)

// DefaultMinDuration is the shortest recording worth sending to the engine.
const DefaultMinDuration = 100 * time.Millisecond

var (
	ErrEngineNotReady  = errors.New("transcription engine not ready")
	ErrBusy            = errors.New("transcription in progress")
	ErrClosed          = errors.New("orchestrator closed")
	ErrUnknownLanguage = errors.New("unknown language code")
)

// EngineError wraps a failure reported by the transcription engine.
type EngineError struct {
	Engine string
	Err    error
}

func (e *EngineError) Error() string { return e.Engine + ": " + e.Err.Error() }
func (e *EngineError) Unwrap() error { return e.Err }

// Capture is the recording side of a cycle. audio.Session implements it.
type Capture interface {
	Start(dest string) (uint64, error)
	Stop() error
	Events() <-chan audio.Event
}

type Preferences interface {
	Language() string
	SetLanguage(code string) error
}

type Config struct {
	Capture Capture
	// Engine may be nil, in which case the orchestrator stays not ready for
	// its whole lifetime.
	Engine transcriber.Engine
	// Permission defaults to audio.AlwaysGranted.
	Permission audio.Permission
	// Prefs may be nil; the language is then kept in memory only.
	Prefs Preferences
	// Output is the recording file, overwritten every cycle.
	Output      string
	MinDuration time.Duration
	Decode      func(path string) (waveform.Samples, error)
}

type cmdKind int

const (
	cmdToggle cmdKind = iota
	cmdSetLanguage
)

type command struct {
	kind  cmdKind
	lang  string
	reply chan error
}

type permission struct {
	cycle   string
	granted bool
	err     error
}

type outcome struct {
	cycle    string
	lang     string
	audioLen time.Duration
	decodeMs float64
	short    bool
	result   *transcriber.Result
	err      error
}

type Orchestrator struct {
	capture     Capture
	engine      transcriber.Engine
	perm        audio.Permission
	prefs       Preferences
	output      string
	minDuration time.Duration
	decode      func(string) (waveform.Samples, error)

	store   store
	cmds    chan command
	perms   chan permission
	results chan outcome
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	// Owned by the coordinator goroutine.
	state     State
	lang      string
	cycle     string
	startLang string
	cycleLang string
	gen       uint64
	pending   chan error
	cycles    int
}

// New starts the coordinator. Close must be called to release it.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		capture:     cfg.Capture,
		engine:      cfg.Engine,
		perm:        cfg.Permission,
		prefs:       cfg.Prefs,
		output:      cfg.Output,
		minDuration: cfg.MinDuration,
		decode:      cfg.Decode,
		cmds:        make(chan command),
		perms:       make(chan permission, 1),
		results:     make(chan outcome, 1),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if o.perm == nil {
		o.perm = audio.AlwaysGranted
	}
	if o.minDuration == 0 {
		o.minDuration = DefaultMinDuration
	}
	if o.decode == nil {
		o.decode = waveform.Decode
	}
	o.lang = language.Default
	if o.prefs != nil {
		o.lang = o.prefs.Language()
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())

	engineName := ""
	if o.engine != nil {
		engineName = o.engine.Name()
	}
	o.store.update(func(s *Snapshot) {
		s.State = Idle
		s.Ready = o.engine != nil
		s.Engine = engineName
		s.Language = o.lang
	})

	go o.run()
	return o
}

func (o *Orchestrator) Snapshot() Snapshot { return o.store.get() }

// Subscribe returns a channel that always holds the latest snapshot. The
// current snapshot is delivered immediately.
func (o *Orchestrator) Subscribe() (<-chan Snapshot, func()) { return o.store.subscribe() }

func (o *Orchestrator) Ready() bool { return o.engine != nil }

// Toggle starts a recording from Idle or stops it from Recording. From Idle
// it returns once the device is open or the attempt has failed. It returns
// ErrBusy while a transcription or a start is in flight.
func (o *Orchestrator) Toggle() error {
	return o.do(command{kind: cmdToggle})
}

// SetLanguage persists code and uses it from the next transcription on.
func (o *Orchestrator) SetLanguage(code string) error {
	if !language.Valid(code) {
		return fmt.Errorf("%w: %q", ErrUnknownLanguage, code)
	}
	return o.do(command{kind: cmdSetLanguage, lang: code})
}

// Close stops any recording, cancels in-flight work and waits for the
// coordinator and transcription goroutines to exit.
func (o *Orchestrator) Close() error {
	o.once.Do(func() { close(o.quit) })
	<-o.done
	o.wg.Wait()
	return nil
}

func (o *Orchestrator) do(c command) error {
	c.reply = make(chan error, 1)
	select {
	case o.cmds <- c:
	case <-o.done:
		return ErrClosed
	}
	select {
	case err := <-c.reply:
		return err
	case <-o.done:
		select {
		case err := <-c.reply:
			return err
		default:
			return ErrClosed
		}
	}
}

func (o *Orchestrator) run() {
	defer close(o.done)
	var events <-chan audio.Event
	if o.capture != nil {
		events = o.capture.Events()
	}

	for {
		select {
		case <-o.quit:
			o.shutdown()
			return
		case c := <-o.cmds:
			switch c.kind {
			case cmdToggle:
				o.toggle(c.reply)
			case cmdSetLanguage:
				c.reply <- o.setLanguage(c.lang)
			}
		case p := <-o.perms:
			o.permissionAnswered(p)
		case ev := <-events:
			o.captureEnded(ev)
		case out := <-o.results:
			o.finish(out)
		}
	}
}

func (o *Orchestrator) toggle(reply chan error) {
	switch {
	case o.engine == nil:
		reply <- ErrEngineNotReady
	case o.pending != nil:
		reply <- ErrBusy
	case o.state == Transcribing:
		reply <- ErrBusy
	case o.state == Recording:
		reply <- o.stopRecording()
	default:
		o.beginCycle(reply)
	}
}

func (o *Orchestrator) beginCycle(reply chan error) {
	o.cycle = uuid.NewString()
	o.pending = reply
	cycle := o.cycle
	o.store.update(func(s *Snapshot) {
		s.Starting = true
		s.CycleID = cycle
		s.Err = nil
	})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		granted, err := o.perm.Request(o.ctx)
		select {
		case o.perms <- permission{cycle: cycle, granted: granted, err: err}:
		case <-o.quit:
		}
	}()
}

func (o *Orchestrator) permissionAnswered(p permission) {
	if p.cycle != o.cycle || o.pending == nil {
		return
	}
	reply := o.pending
	o.pending = nil

	if !p.granted || p.err != nil {
		err := audio.ErrPermissionDenied
		if p.err != nil {
			err = fmt.Errorf("%w: %v", audio.ErrPermissionDenied, p.err)
		}
		o.failCycle(err, false)
		reply <- err
		return
	}

	gen, err := o.capture.Start(o.output)
	if err != nil {
		o.failCycle(err, false)
		reply <- err
		return
	}

	o.gen = gen
	o.state = Recording
	now := time.Now()
	o.store.update(func(s *Snapshot) {
		s.State = Recording
		s.Starting = false
		s.RecordingStarted = now
	})
	o.startLang = o.lang
	log.CycleStart(o.cycle, o.lang)
	if w, ok := o.engine.(transcriber.Warmer); ok {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w.Warm()
		}()
	}
	reply <- nil
}

// stopRecording closes the capture handle before the transcription goroutine
// is started, so the decoder never sees a file that is still being written.
func (o *Orchestrator) stopRecording() error {
	if err := o.capture.Stop(); err != nil {
		o.failCycle(err, true)
		return err
	}

	o.state = Transcribing
	o.cycleLang = o.lang
	o.store.update(func(s *Snapshot) {
		s.State = Transcribing
	})

	o.wg.Add(1)
	go o.transcribe(o.cycle, o.cycleLang)
	return nil
}

func (o *Orchestrator) transcribe(cycle, lang string) {
	defer o.wg.Done()
	out := outcome{cycle: cycle, lang: lang}

	decodeStart := time.Now()
	samples, err := o.decode(o.output)
	out.decodeMs = float64(time.Since(decodeStart).Microseconds()) / 1000
	switch {
	case err != nil:
		out.err = fmt.Errorf("decoding recording: %w", err)
	case samples.Duration() < o.minDuration:
		out.audioLen = samples.Duration()
		out.short = true
	default:
		out.audioLen = samples.Duration()
		res, err := o.engine.Transcribe(o.ctx, samples, lang)
		if err != nil {
			out.err = &EngineError{Engine: o.engine.Name(), Err: err}
		} else {
			out.result = res
		}
	}

	select {
	case o.results <- out:
	case <-o.quit:
	}
}

// captureEnded handles a recording that stopped without a toggle. The
// session has already released the device; no transcription follows.
func (o *Orchestrator) captureEnded(ev audio.Event) {
	if o.state != Recording || ev.Gen != o.gen {
		return
	}
	o.state = Idle
	cycle := o.cycle
	o.store.update(func(s *Snapshot) {
		s.State = Idle
		s.Err = ev.Err
	})

	c := log.Cycle{ID: cycle, Outcome: "device_finish", Language: o.lang, StartLanguage: o.startLang, Err: ev.Err}
	if ev.Kind == audio.EventError {
		c.Outcome = "error"
		log.Errorf("capture failed: %v", ev.Err)
	} else {
		log.Warn("capture ended without stop")
	}
	log.CycleEnd(c)
}

// finish writes the logs for a completed cycle before publishing it, so a
// reader that sees Idle also finds the transcription on disk.
func (o *Orchestrator) finish(out outcome) {
	if out.cycle != o.cycle || o.state != Transcribing {
		log.Warnf("discarding stale result for cycle %s", out.cycle)
		return
	}
	o.state = Idle
	o.cycles++

	c := log.Cycle{
		ID:            out.cycle,
		Language:      out.lang,
		StartLanguage: o.startLang,
		AudioS:        out.audioLen.Seconds(),
		DecodeMs:      out.decodeMs,
	}

	switch {
	case out.err != nil:
		c.Outcome = "error"
		c.Err = out.err
		log.CycleEnd(c)
		o.store.update(func(s *Snapshot) {
			s.State = Idle
			s.Err = out.err
		})
	case out.short:
		c.Outcome = "short_recording"
		log.CycleEnd(c)
		o.store.update(func(s *Snapshot) {
			s.State = Idle
		})
	default:
		text := strings.TrimSpace(out.result.Text)
		lang := out.result.Language
		if lang == "" {
			lang = out.lang
		}
		r := &Result{
			CycleID:       out.cycle,
			Text:          text,
			Language:      lang,
			NoSpeech:      text == "",
			AudioDuration: out.audioLen,
			Elapsed:       out.result.Elapsed,
			At:            time.Now(),
		}
		c.Outcome = "published"
		if r.NoSpeech {
			c.Outcome = "no_speech"
		}
		c.EngineMs = float64(out.result.Elapsed.Microseconds()) / 1000
		c.Chars = len([]rune(text))

		logMetrics(o.engine.Name(), out.result)
		if text != "" {
			log.TranscriptionText(lang, text)
		}
		log.CycleEnd(c)
		o.store.update(func(s *Snapshot) {
			s.State = Idle
			s.Result = r
		})
	}
}

func (o *Orchestrator) failCycle(err error, wasRecording bool) {
	o.state = Idle
	o.store.update(func(s *Snapshot) {
		s.State = Idle
		s.Starting = false
		s.Err = err
	})
	if wasRecording {
		log.CycleEnd(log.Cycle{ID: o.cycle, Outcome: "error", Language: o.lang, StartLanguage: o.startLang, Err: err})
	} else {
		log.Errorf("recording not started: %v", err)
	}
}

func (o *Orchestrator) setLanguage(code string) error {
	if code == o.lang {
		return nil
	}
	if o.prefs != nil {
		if err := o.prefs.SetLanguage(code); err != nil {
			log.Errorf("saving language preference: %v", err)
			return err
		}
	}
	o.lang = code
	o.store.update(func(s *Snapshot) {
		s.Language = code
	})
	log.Info("language set to " + code)
	return nil
}

func (o *Orchestrator) shutdown() {
	o.cancel()
	if o.pending != nil {
		o.pending <- ErrClosed
		o.pending = nil
	}
	if o.state == Recording {
		if err := o.capture.Stop(); err != nil {
			log.Errorf("stopping capture on close: %v", err)
		}
	}
	o.state = Idle
	o.store.update(func(s *Snapshot) {
		s.State = Idle
		s.Starting = false
	})
	log.SessionEnd(o.cycles)
}

func logMetrics(engine string, r *transcriber.Result) {
	m := log.Metrics{
		AudioLengthS: r.Duration,
		InferenceMs:  float64(r.Elapsed.Microseconds()) / 1000,
	}
	var reused bool
	var proto string
	if r.Upload != nil {
		m.RawSizeKB = float64(r.Upload.RawBytes) / 1024
		m.CompressedSizeKB = float64(r.Upload.CompressedBytes) / 1024
		m.CompressionPct = r.Upload.CompressionPct()
		m.EncodeTimeMs = float64(r.Upload.EncodeTime.Microseconds()) / 1000
	}
	if r.Metrics != nil {
		m.DNSTimeMs = float64(r.Metrics.DNS.Microseconds()) / 1000
		m.TLSTimeMs = float64(r.Metrics.TLS.Microseconds()) / 1000
		m.TTFBMs = float64(r.Metrics.TTFB.Microseconds()) / 1000
		m.TotalTimeMs = float64(r.Metrics.Total.Microseconds()) / 1000
		reused = r.Metrics.ConnReused
		proto = r.Metrics.TLSProtocol
	}
	log.TranscriptionMetrics(m, engine, reused, proto)
}
