package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"speecher/audio"
	"speecher/beep"
	"speecher/hotkey"
	"speecher/log"
	"speecher/orchestrator"
	"speecher/prefs"
	"speecher/shutdown"
	"speecher/transcriber"
)

var version = "dev"

type options struct {
	engine   string
	model    string
	setup    bool
	device   string
	output   string
	prefs    string
	fakeText string
	dataDir  string
}

var (
	shutdownOnce sync.Once
	tuiProgram   *tea.Program
	tuiMu        sync.Mutex
)

func gracefulShutdown(orch *orchestrator.Orchestrator, engine transcriber.Engine) {
	shutdownOnce.Do(func() {
		if orch != nil {
			orch.Close()
		}
		if engine != nil {
			engine.Close()
		}
		log.Close()
		tuiMu.Lock()
		p := tuiProgram
		tuiMu.Unlock()
		if p != nil {
			p.Quit()
		}
	})
}

func setupLogging(logPathFlag string) {
	logPath, err := log.ResolveDir(logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)

	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
}

// loadEngine returns nil when the engine cannot be loaded. The orchestrator
// then stays not ready for the whole process.
func loadEngine(o options) transcriber.Engine {
	cfg := transcriber.Config{Engine: o.engine, FakeText: o.fakeText}
	if o.engine == "whisper" || o.engine == "" {
		path, err := transcriber.LocateModel(transcriber.ModelCandidates(o.model, o.dataDir))
		if err != nil {
			log.Errorf("model not loaded: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			return nil
		}
		cfg.ModelPath = path
	}

	start := time.Now()
	engine, err := transcriber.New(cfg)
	if err != nil {
		log.Errorf("engine %s not loaded: %v", o.engine, err)
		fmt.Fprintf(os.Stderr, "Warning: transcription unavailable: %v\n", err)
		return nil
	}
	log.Info(fmt.Sprintf("engine %s loaded in %dms", engine.Name(), time.Since(start).Milliseconds()))
	return engine
}

func openPrefs(path string) *prefs.Store {
	if path == "" {
		var err error
		if path, err = prefs.DefaultPath(); err != nil {
			log.Warnf("no preferences location: %v", err)
			return nil
		}
	}
	store, err := prefs.Open(path)
	if err != nil {
		log.Warnf("preferences unreadable, using defaults: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return nil
	}
	return store
}

func newOrchestrator(capture orchestrator.Capture, engine transcriber.Engine, store *prefs.Store, output string) *orchestrator.Orchestrator {
	cfg := orchestrator.Config{
		Capture:    capture,
		Engine:     engine,
		Permission: audio.AlwaysGranted,
		Output:     output,
	}
	// A nil *prefs.Store must not become a non-nil interface.
	if store != nil {
		cfg.Prefs = store
	}
	return orchestrator.New(cfg)
}

// forwardPresses turns hotkey presses into toggles until the toggle is stopped.
func forwardPresses(t *hotkey.Toggle, orch *orchestrator.Orchestrator, report func(error)) {
	for range t.C() {
		err := orch.Toggle()
		if errors.Is(err, orchestrator.ErrClosed) {
			return
		}
		if err != nil {
			report(err)
		}
	}
}

func run() {
	engineFlag := flag.String("engine", "whisper", "Transcription engine: whisper, groq, openai or fake")
	modelFlag := flag.String("model", "", "Path to the whisper model (default: search for "+transcriber.ModelFile+")")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	outputFlag := flag.String("output", "", "Recording file, overwritten every cycle (default: <data dir>/recording.wav)")
	prefsFlag := flag.String("prefs", "", "Preferences file (default: OS-specific location)")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven)")
	fakeTextFlag := flag.String("fake-text", "fake transcription", "Text returned by the fake engine")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI")
	beepFlag := flag.Bool("beep", true, "Play a sound when recording starts, stops or fails")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("speecher %s\n", version)
		os.Exit(0)
	}

	setupLogging(*logPathFlag)

	dataDir, err := prefs.Dir()
	if err != nil {
		dataDir = "."
	}
	opts := options{
		engine:   *engineFlag,
		model:    *modelFlag,
		setup:    *setupFlag,
		device:   *deviceFlag,
		output:   *outputFlag,
		prefs:    *prefsFlag,
		fakeText: *fakeTextFlag,
		dataDir:  dataDir,
	}
	if opts.output == "" {
		opts.output = filepath.Join(dataDir, "recording.wav")
	}

	if !*beepFlag || *testFlag {
		beep.Disable()
	}

	store := openPrefs(opts.prefs)
	engine := loadEngine(opts)

	if *testFlag {
		args := flag.Args()
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: speecher -test <wav-file>")
			os.Exit(1)
		}
		os.Exit(runTestMode(args[0], engine, store, opts.output))
	}

	ctx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Printf("Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer ctx.Close()

	var device *audio.DeviceInfo
	switch {
	case opts.device != "":
		device, err = audio.FindDevice(ctx, opts.device)
	case opts.setup:
		device, err = audio.SelectDevice(ctx)
	}
	if err != nil {
		log.Warnf("device selection failed: %v", err)
		fmt.Printf("Warning: device selection failed: %v\n", err)
		fmt.Println("Falling back to default device")
		device = nil
	}

	session := audio.NewSession(ctx, device)
	orch := newOrchestrator(session, engine, store, opts.output)
	snap := orch.Snapshot()
	log.SessionStart(uuid.NewString(), snap.Engine, session.DeviceName(), snap.Language, snap.Ready)

	hk := hotkey.New()
	var toggle *hotkey.Toggle
	if err := hk.Register(); err != nil {
		log.Warnf("hotkey registration failed: %v", err)
		fmt.Printf("Warning: global hotkey unavailable: %v\n", err)
		if _, derr := hotkey.Diagnose(); derr != nil {
			fmt.Printf("  %v\n", derr)
		}
	} else {
		defer hk.Unregister()
		toggle = hotkey.NewToggle(hk, hotkey.DefaultDebounce)
		defer toggle.Stop()
	}

	sigs, stopSignals := shutdown.Signals()
	defer stopSignals()
	go func() {
		<-sigs
		gracefulShutdown(orch, engine)
		os.Exit(0)
	}()

	go playCues(orch)
	if *tuiFlag {
		runTUI(orch, toggle, session.DeviceName())
	} else {
		runHeadless(orch, toggle)
	}
	gracefulShutdown(orch, engine)
}

func runTUI(orch *orchestrator.Orchestrator, toggle *hotkey.Toggle, deviceName string) {
	m := newTUIModel(orch, orch.Snapshot(), deviceLineText(deviceName))
	p := NewTUIProgram(m)
	tuiMu.Lock()
	tuiProgram = p
	tuiMu.Unlock()

	if toggle != nil {
		go forwardPresses(toggle, orch, func(err error) {
			p.Send(NoticeMsg{Text: err.Error(), Err: true})
		})
	}

	snaps, cancel := orch.Subscribe()
	defer cancel()
	go func() {
		for s := range snaps {
			p.Send(SnapshotMsg{Snap: s})
		}
	}()

	if _, err := p.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}

// runHeadless prints each published transcription to stdout. Recording is
// driven by the global hotkey only.
func runHeadless(orch *orchestrator.Orchestrator, toggle *hotkey.Toggle) {
	if toggle == nil {
		fmt.Fprintln(os.Stderr, "Error: no hotkey available to drive recording without the TUI")
		return
	}
	go forwardPresses(toggle, orch, func(err error) {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	})

	snaps, cancel := orch.Subscribe()
	defer cancel()
	last := ""
	for s := range snaps {
		if s.Err != nil && s.CycleID != last && s.State == orchestrator.Idle && !s.Starting {
			last = s.CycleID
			fmt.Fprintf(os.Stderr, "error: %v\n", s.Err)
			continue
		}
		if r := s.Result; r != nil && r.CycleID != last {
			last = r.CycleID
			if !r.NoSpeech {
				fmt.Println(r.Text)
			}
		}
	}
}

// cueFor picks the sound for the change from prev to next, if any.
func cueFor(prev, next orchestrator.Snapshot) (beep.Cue, bool) {
	switch {
	case next.Err != nil && (prev.Err == nil || prev.CycleID != next.CycleID):
		return beep.Error, true
	case next.State == orchestrator.Recording && prev.State != orchestrator.Recording:
		return beep.Start, true
	case prev.State == orchestrator.Recording && next.State != orchestrator.Recording:
		return beep.Stop, true
	}
	return 0, false
}

func playCues(orch *orchestrator.Orchestrator) {
	snaps, cancel := orch.Subscribe()
	defer cancel()
	prev := <-snaps
	for next := range snaps {
		if cue, ok := cueFor(prev, next); ok {
			beep.Play(cue)
		}
		prev = next
	}
}
