package orchestrator

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"speecher/audio"
	"speecher/log"
	"speecher/prefs"
	"speecher/transcriber"
	"speecher/waveform"
)

const waitTimeout = 3 * time.Second

func fixture(seconds float64) []float32 {
	n := int(seconds * waveform.SampleRate)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.4 * math.Sin(2*math.Pi*220*float64(i)/waveform.SampleRate))
	}
	return out
}

type rig struct {
	audio   *audio.FakeContext
	session *audio.Session
	engine  *transcriber.FakeEngine
	orch    *Orchestrator
	output  string
}

func newRig(t *testing.T, samples []float32, realtime bool, engine *transcriber.FakeEngine, mods ...func(*Config)) *rig {
	t.Helper()
	r := &rig{
		audio:  audio.NewFakeContextSamples(samples, realtime),
		engine: engine,
		output: filepath.Join(t.TempDir(), "recording.wav"),
	}
	r.session = audio.NewSession(r.audio, nil)
	cfg := Config{Capture: r.session, Output: r.output}
	if engine != nil {
		cfg.Engine = engine
	}
	for _, m := range mods {
		m(&cfg)
	}
	r.orch = New(cfg)
	t.Cleanup(func() { r.orch.Close() })
	return r
}

func waitFor(t *testing.T, o *Orchestrator, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	ch, cancel := o.Subscribe()
	defer cancel()
	deadline := time.After(waitTimeout)
	var last Snapshot
	for {
		select {
		case s := <-ch:
			if cond(s) {
				return s
			}
			last = s
		case <-deadline:
			t.Fatalf("timed out waiting for %s; last snapshot: state=%s err=%v", what, last.State, last.Err)
			return last
		}
	}
}

func idleWithResult(s Snapshot) bool { return s.State == Idle && s.Result != nil }

func waitEntered(t *testing.T, e *transcriber.FakeEngine) transcriber.FakeCall {
	t.Helper()
	select {
	case c := <-e.Entered():
		return c
	case <-time.After(waitTimeout):
		t.Fatal("engine was never called")
		return transcriber.FakeCall{}
	}
}

func TestCycleRecordsAndPublishes(t *testing.T) {
	r := newRig(t, fixture(1), false, transcriber.NewFake("olá mundo", nil))

	if s := r.orch.Snapshot(); s.State != Idle || !s.Ready || s.Language != "pt" {
		t.Fatalf("initial snapshot = %+v", s)
	}

	if err := r.orch.Toggle(); err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	if s := r.orch.Snapshot(); s.State != Recording || s.CycleID == "" {
		t.Fatalf("after first toggle: state=%s cycle=%q", s.State, s.CycleID)
	}
	caps := r.audio.Captures()
	if len(caps) != 1 || !caps[0].Running() || !r.session.Recording() {
		t.Fatalf("expected exactly one open capture, got %d", len(caps))
	}

	if err := r.orch.Toggle(); err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if r.session.Recording() || caps[0].Running() {
		t.Error("capture handle still open after stop toggle")
	}

	s := waitFor(t, r.orch, "published result", idleWithResult)
	if s.Result.Text != "olá mundo" || s.Result.Language != "pt" {
		t.Errorf("result = %q (%s)", s.Result.Text, s.Result.Language)
	}
	if s.Result.CycleID != s.CycleID || s.Result.NoSpeech {
		t.Errorf("result = %+v", s.Result)
	}
	if s.Result.AudioDuration != time.Second {
		t.Errorf("AudioDuration = %v, want 1s", s.Result.AudioDuration)
	}
	if s.Err != nil {
		t.Errorf("Err = %v", s.Err)
	}

	calls := r.engine.Calls()
	if len(calls) != 1 || calls[0].Samples != waveform.SampleRate || calls[0].Language != "pt" {
		t.Errorf("engine calls = %+v", calls)
	}
}

func TestHandleClosedBeforeDecode(t *testing.T) {
	var mu sync.Mutex
	var openDuringDecode []bool
	var session *audio.Session

	r := newRig(t, fixture(0.5), false, transcriber.NewFake("ok", nil), func(c *Config) {
		c.Decode = func(path string) (waveform.Samples, error) {
			mu.Lock()
			openDuringDecode = append(openDuringDecode, session.Recording())
			mu.Unlock()
			return waveform.Decode(path)
		}
		session = c.Capture.(*audio.Session)
	})

	for range 3 {
		if err := r.orch.Toggle(); err != nil {
			t.Fatal(err)
		}
		if err := r.orch.Toggle(); err != nil {
			t.Fatal(err)
		}
		waitFor(t, r.orch, "idle", func(s Snapshot) bool { return s.State == Idle })
	}

	mu.Lock()
	defer mu.Unlock()
	if len(openDuringDecode) != 3 {
		t.Fatalf("decode ran %d times, want 3", len(openDuringDecode))
	}
	for i, open := range openDuringDecode {
		if open {
			t.Errorf("cycle %d: decode observed an open capture handle", i)
		}
	}
	if n := len(r.audio.Captures()); n != 3 {
		t.Errorf("captures = %d, want one per cycle", n)
	}
}

func TestToggleWithoutEngineIsNoop(t *testing.T) {
	r := newRig(t, fixture(1), false, nil)

	if s := r.orch.Snapshot(); s.Ready {
		t.Fatal("Ready = true without engine")
	}
	if err := r.orch.Toggle(); !errors.Is(err, ErrEngineNotReady) {
		t.Errorf("err = %v, want ErrEngineNotReady", err)
	}
	if s := r.orch.Snapshot(); s.State != Idle || s.Starting {
		t.Errorf("state = %s starting=%v, want Idle", s.State, s.Starting)
	}
	if n := len(r.audio.Captures()); n != 0 {
		t.Errorf("captures = %d, want none", n)
	}
}

func TestToggleWhileTranscribingIsBusy(t *testing.T) {
	engine := transcriber.NewFake("done", nil)
	release := engine.Hold()
	r := newRig(t, fixture(0.5), false, engine)

	r.orch.Toggle()
	r.orch.Toggle()
	waitEntered(t, engine)

	if s := r.orch.Snapshot(); s.State != Transcribing {
		t.Fatalf("state = %s, want transcribing", s.State)
	}
	if err := r.orch.Toggle(); !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	if n := len(r.audio.Captures()); n != 1 {
		t.Errorf("busy toggle opened a capture")
	}

	release()
	s := waitFor(t, r.orch, "result", idleWithResult)
	if s.Result.Text != "done" {
		t.Errorf("Text = %q", s.Result.Text)
	}
}

func TestSetLanguageDoesNotAffectInFlightCycle(t *testing.T) {
	store, err := prefs.Open(filepath.Join(t.TempDir(), "prefs.toml"))
	if err != nil {
		t.Fatal(err)
	}
	engine := transcriber.NewFake("texto", nil)
	release := engine.Hold()
	r := newRig(t, fixture(0.5), false, engine, func(c *Config) { c.Prefs = store })

	r.orch.Toggle()
	r.orch.Toggle()
	if call := waitEntered(t, engine); call.Language != "pt" {
		t.Fatalf("in-flight language = %q, want pt", call.Language)
	}

	if err := r.orch.SetLanguage("es"); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	if s := r.orch.Snapshot(); s.Language != "es" || s.State != Transcribing {
		t.Errorf("snapshot language=%s state=%s", s.Language, s.State)
	}
	if store.Language() != "es" {
		t.Error("language not persisted immediately")
	}

	release()
	s := waitFor(t, r.orch, "first result", idleWithResult)
	if s.Result.Language != "pt" {
		t.Errorf("first cycle language = %q, want pt", s.Result.Language)
	}
	first := s.Result.CycleID

	r.orch.Toggle()
	r.orch.Toggle()
	if call := waitEntered(t, engine); call.Language != "es" {
		t.Errorf("next cycle language = %q, want es", call.Language)
	}
	s = waitFor(t, r.orch, "second result", func(s Snapshot) bool {
		return idleWithResult(s) && s.Result.CycleID != first
	})
	if s.Result.Language != "es" {
		t.Errorf("second cycle language = %q, want es", s.Result.Language)
	}

	reopened, err := prefs.Open(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Language() != "es" {
		t.Errorf("reloaded language = %q", reopened.Language())
	}
}

func TestSetLanguageRejectsUnknownCode(t *testing.T) {
	r := newRig(t, fixture(0.5), false, transcriber.NewFake("", nil))
	if err := r.orch.SetLanguage("xx"); !errors.Is(err, ErrUnknownLanguage) {
		t.Errorf("err = %v, want ErrUnknownLanguage", err)
	}
	if got := r.orch.Snapshot().Language; got != "pt" {
		t.Errorf("Language = %q after rejected set", got)
	}
	if err := r.orch.SetLanguage("auto"); err != nil {
		t.Errorf("SetLanguage(auto): %v", err)
	}
}

func TestHardwareFinishReturnsToIdle(t *testing.T) {
	for _, tt := range []struct {
		name  string
		cause error
	}{
		{"finish", nil},
		{"encode error", errors.New("encode failed")},
	} {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, fixture(0.5), true, transcriber.NewFake("never", nil))

			if err := r.orch.Toggle(); err != nil {
				t.Fatal(err)
			}
			r.audio.Captures()[0].SimFinish(tt.cause)

			s := waitFor(t, r.orch, "idle after hardware stop", func(s Snapshot) bool { return s.State == Idle })
			if r.session.Recording() {
				t.Error("capture handle not released")
			}
			if tt.cause != nil && !errors.Is(s.Err, tt.cause) {
				t.Errorf("Err = %v, want %v", s.Err, tt.cause)
			}
			if tt.cause == nil && s.Err != nil {
				t.Errorf("Err = %v after plain finish", s.Err)
			}

			time.Sleep(50 * time.Millisecond)
			if calls := r.engine.Calls(); len(calls) != 0 {
				t.Errorf("engine called %d times after hardware stop", len(calls))
			}
			if s := r.orch.Snapshot(); s.Result != nil {
				t.Errorf("result published: %+v", s.Result)
			}

			// The next toggle starts a fresh recording.
			if err := r.orch.Toggle(); err != nil {
				t.Fatal(err)
			}
			if s := r.orch.Snapshot(); s.State != Recording || s.Err != nil {
				t.Errorf("restart: state=%s err=%v", s.State, s.Err)
			}
		})
	}
}

func TestPermissionDenied(t *testing.T) {
	r := newRig(t, fixture(0.5), false, transcriber.NewFake("x", nil), func(c *Config) {
		c.Permission = audio.PermissionFunc(func(context.Context) (bool, error) { return false, nil })
	})

	if err := r.orch.Toggle(); !errors.Is(err, audio.ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", err)
	}
	s := r.orch.Snapshot()
	if s.State != Idle || s.Starting || !errors.Is(s.Err, audio.ErrPermissionDenied) {
		t.Errorf("snapshot = state %s starting %v err %v", s.State, s.Starting, s.Err)
	}
	if n := len(r.audio.Captures()); n != 0 {
		t.Errorf("captures = %d after denial", n)
	}
}

func TestToggleWhileAwaitingPermission(t *testing.T) {
	grant := make(chan bool)
	r := newRig(t, fixture(0.5), false, transcriber.NewFake("x", nil), func(c *Config) {
		c.Permission = audio.PermissionFunc(func(ctx context.Context) (bool, error) {
			select {
			case g := <-grant:
				return g, nil
			case <-ctx.Done():
				return false, ctx.Err()
			}
		})
	})

	first := make(chan error, 1)
	go func() { first <- r.orch.Toggle() }()
	waitFor(t, r.orch, "starting", func(s Snapshot) bool { return s.Starting })

	if err := r.orch.Toggle(); !errors.Is(err, ErrBusy) {
		t.Errorf("second toggle err = %v, want ErrBusy", err)
	}

	grant <- true
	select {
	case err := <-first:
		if err != nil {
			t.Fatalf("first toggle: %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("first toggle never returned")
	}
	if s := r.orch.Snapshot(); s.State != Recording || s.Starting {
		t.Errorf("state = %s starting = %v", s.State, s.Starting)
	}
}

func TestDeviceUnavailable(t *testing.T) {
	r := newRig(t, fixture(0.5), false, transcriber.NewFake("x", nil))
	r.audio.FailStart(errors.New("unplugged"))

	if err := r.orch.Toggle(); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("err = %v, want ErrDeviceUnavailable", err)
	}
	s := r.orch.Snapshot()
	if s.State != Idle || !errors.Is(s.Err, audio.ErrDeviceUnavailable) {
		t.Errorf("state=%s err=%v", s.State, s.Err)
	}
	if r.session.Recording() {
		t.Error("handle allocated after failed start")
	}
}

func TestEngineFailure(t *testing.T) {
	boom := errors.New("inference crashed")
	r := newRig(t, fixture(0.5), false, transcriber.NewFake("", boom))

	r.orch.Toggle()
	r.orch.Toggle()
	s := waitFor(t, r.orch, "engine error", func(s Snapshot) bool { return s.State == Idle && s.Err != nil })

	var engErr *EngineError
	if !errors.As(s.Err, &engErr) || engErr.Engine != "fake" {
		t.Fatalf("Err = %v, want *EngineError", s.Err)
	}
	if !errors.Is(s.Err, boom) {
		t.Errorf("Err does not wrap engine cause: %v", s.Err)
	}
	if s.Result != nil {
		t.Errorf("result published on failure: %+v", s.Result)
	}

	// A failed cycle does not block the next one.
	if err := r.orch.Toggle(); err != nil {
		t.Fatal(err)
	}
	if s := r.orch.Snapshot(); s.Err != nil {
		t.Errorf("Err not cleared by new cycle: %v", s.Err)
	}
}

func TestDecodeFailure(t *testing.T) {
	r := newRig(t, fixture(0.5), false, transcriber.NewFake("x", nil), func(c *Config) {
		c.Decode = func(string) (waveform.Samples, error) { return nil, waveform.ErrMalformedHeader }
	})

	r.orch.Toggle()
	r.orch.Toggle()
	s := waitFor(t, r.orch, "decode error", func(s Snapshot) bool { return s.State == Idle && s.Err != nil })
	if !errors.Is(s.Err, waveform.ErrMalformedHeader) {
		t.Errorf("Err = %v", s.Err)
	}
	if len(r.engine.Calls()) != 0 {
		t.Error("engine called after decode failure")
	}
}

func TestShortRecordingSkipsEngine(t *testing.T) {
	r := newRig(t, fixture(0.05), false, transcriber.NewFake("garbage", nil))

	r.orch.Toggle()
	r.orch.Toggle()
	waitFor(t, r.orch, "idle", func(s Snapshot) bool { return s.State == Idle })

	time.Sleep(20 * time.Millisecond)
	if len(r.engine.Calls()) != 0 {
		t.Error("engine called for a 50ms recording")
	}
	if s := r.orch.Snapshot(); s.Result != nil || s.Err != nil {
		t.Errorf("result=%v err=%v", s.Result, s.Err)
	}
}

func TestWhitespaceResultIsNoSpeech(t *testing.T) {
	r := newRig(t, fixture(0.5), false, transcriber.NewFake("  \n ", nil))

	r.orch.Toggle()
	r.orch.Toggle()
	s := waitFor(t, r.orch, "result", idleWithResult)
	if s.Result.Text != "" || !s.Result.NoSpeech {
		t.Errorf("result = %+v", s.Result)
	}
}

func TestTextIsTrimmed(t *testing.T) {
	r := newRig(t, fixture(0.5), false, transcriber.NewFake(" hello there \n", nil))

	r.orch.Toggle()
	r.orch.Toggle()
	s := waitFor(t, r.orch, "result", idleWithResult)
	if s.Result.Text != "hello there" {
		t.Errorf("Text = %q", s.Result.Text)
	}
}

func TestStaleResultDiscarded(t *testing.T) {
	r := newRig(t, fixture(0.5), false, transcriber.NewFake("x", nil))

	r.orch.results <- outcome{cycle: "old", result: &transcriber.Result{Text: "late"}}
	deadline := time.Now().Add(waitTimeout)
	for len(r.orch.results) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	// The coordinator handles one message at a time, so a completed command
	// means the outcome has been processed.
	r.orch.SetLanguage("en")

	if s := r.orch.Snapshot(); s.State != Idle || s.Result != nil {
		t.Errorf("stale result applied: state=%s result=%+v", s.State, s.Result)
	}
}

func TestCloseStopsRecording(t *testing.T) {
	r := newRig(t, fixture(0.5), true, transcriber.NewFake("x", nil))

	if err := r.orch.Toggle(); err != nil {
		t.Fatal(err)
	}
	r.orch.Close()
	if r.session.Recording() {
		t.Error("capture still open after Close")
	}
	if err := r.orch.Toggle(); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	if err := r.orch.SetLanguage("en"); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	r.orch.Close()
}

func TestCloseDuringTranscription(t *testing.T) {
	engine := transcriber.NewFake("x", nil)
	engine.Hold()
	r := newRig(t, fixture(0.5), false, engine)

	r.orch.Toggle()
	r.orch.Toggle()
	waitEntered(t, engine)

	done := make(chan struct{})
	go func() {
		r.orch.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("Close blocked on in-flight transcription")
	}
}

func TestSubscribersSeeLatestState(t *testing.T) {
	r := newRig(t, fixture(0.5), false, transcriber.NewFake("x", nil))
	ch, cancel := r.orch.Subscribe()
	defer cancel()

	// Never read until the cycle is over: the channel keeps only the newest.
	r.orch.Toggle()
	r.orch.Toggle()
	waitFor(t, r.orch, "result", idleWithResult)

	select {
	case s := <-ch:
		if !idleWithResult(s) {
			t.Errorf("subscriber got stale snapshot: state=%s", s.State)
		}
	default:
		t.Fatal("subscriber channel empty")
	}
}

func TestResultOverwrittenEachCycle(t *testing.T) {
	r := newRig(t, fixture(0.5), false, transcriber.NewFake("same", nil))
	var ids []string
	for range 2 {
		r.orch.Toggle()
		r.orch.Toggle()
		s := waitFor(t, r.orch, "result", func(s Snapshot) bool {
			if !idleWithResult(s) {
				return false
			}
			for _, id := range ids {
				if id == s.Result.CycleID {
					return false
				}
			}
			return true
		})
		ids = append(ids, s.Result.CycleID)
	}
	if ids[0] == ids[1] {
		t.Error("cycle ids not unique")
	}
}

// slowStopContext hands out captures whose first Stop blocks until release
// is closed, so a device finish is still finalizing when the user stops.
type slowStopContext struct {
	*audio.FakeContext
	once     sync.Once
	stopping chan struct{}
	release  chan struct{}
}

func (c *slowStopContext) NewCapture(device *audio.DeviceInfo, config audio.CaptureConfig) (audio.CaptureDevice, error) {
	inner, err := c.FakeContext.NewCapture(device, config)
	if err != nil {
		return nil, err
	}
	return &slowStopCapture{CaptureDevice: inner, ctx: c}, nil
}

type slowStopCapture struct {
	audio.CaptureDevice
	ctx *slowStopContext
}

func (c *slowStopCapture) Stop() {
	c.ctx.once.Do(func() {
		close(c.ctx.stopping)
		<-c.ctx.release
	})
	c.CaptureDevice.Stop()
}

func TestStopDuringDeviceFinishKeepsWholeRecording(t *testing.T) {
	samples := fixture(1)
	slow := &slowStopContext{
		FakeContext: audio.NewFakeContextSamples(samples, false),
		stopping:    make(chan struct{}),
		release:     make(chan struct{}),
	}
	engine := transcriber.NewFake("inteiro", nil)
	o := New(Config{
		Capture: audio.NewSession(slow, nil),
		Engine:  engine,
		Output:  filepath.Join(t.TempDir(), "recording.wav"),
	})
	t.Cleanup(func() { o.Close() })

	if err := o.Toggle(); err != nil {
		t.Fatal(err)
	}
	slow.Captures()[0].SimFinish(nil)
	select {
	case <-slow.stopping:
	case <-time.After(waitTimeout):
		t.Fatal("device finish never reached the capture")
	}

	toggled := make(chan error, 1)
	go func() { toggled <- o.Toggle() }()
	time.Sleep(50 * time.Millisecond)
	close(slow.release)
	select {
	case err := <-toggled:
		if err != nil {
			t.Fatalf("stop toggle: %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("stop toggle never returned")
	}

	s := waitFor(t, o, "idle", func(s Snapshot) bool { return s.State == Idle })
	if s.Err != nil {
		t.Fatalf("Err = %v", s.Err)
	}
	calls := engine.Calls()
	switch {
	case s.Result != nil:
		// The stop won: the whole file was transcribed.
		if len(calls) != 1 || calls[0].Samples != len(samples) {
			t.Errorf("engine calls = %+v, want one call with %d samples", calls, len(samples))
		}
	default:
		// The device finish won: nothing is transcribed.
		if len(calls) != 0 {
			t.Errorf("engine called without a published result: %+v", calls)
		}
	}
}

type warmingEngine struct {
	*transcriber.FakeEngine
	warming chan struct{}
	release chan struct{}
}

func (e *warmingEngine) Warm() {
	close(e.warming)
	<-e.release
}

func TestCloseWaitsForWarmUp(t *testing.T) {
	engine := &warmingEngine{
		FakeEngine: transcriber.NewFake("x", nil),
		warming:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	r := newRig(t, fixture(0.5), false, nil, func(c *Config) { c.Engine = engine })

	if err := r.orch.Toggle(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-engine.warming:
	case <-time.After(waitTimeout):
		t.Fatal("engine was never warmed")
	}

	closed := make(chan struct{})
	go func() {
		r.orch.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while warm-up was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(engine.release)
	select {
	case <-closed:
	case <-time.After(waitTimeout):
		t.Fatal("Close never returned")
	}
}

func TestCycleLogRecordsLanguageChange(t *testing.T) {
	dir := t.TempDir()
	log.SetDir(dir)
	if err := log.Init(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { log.Close(); log.SetDir("") })

	r := newRig(t, fixture(0.5), false, transcriber.NewFake("hola", nil))
	if err := r.orch.Toggle(); err != nil {
		t.Fatal(err)
	}
	if err := r.orch.SetLanguage("es"); err != nil {
		t.Fatal(err)
	}
	if err := r.orch.Toggle(); err != nil {
		t.Fatal(err)
	}
	s := waitFor(t, r.orch, "published result", idleWithResult)
	if s.Result.Language != "es" {
		t.Fatalf("result language = %q, want es", s.Result.Language)
	}

	data, err := os.ReadFile(filepath.Join(dir, "diagnostics_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	var end string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.Contains(line, "cycle_end") {
			end = line
		}
	}
	for _, want := range []string{"language=es", "start_language=pt"} {
		if !strings.Contains(end, want) {
			t.Errorf("cycle_end missing %q: %q", want, end)
		}
	}
}
