package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"speecher/audio"
	"speecher/hotkey"
	"speecher/log"
	"speecher/orchestrator"
	"speecher/prefs"
	"speecher/transcriber"
)

const testWaitTimeout = 2 * time.Minute

// runTestMode drives the orchestrator from stdin with a replayed WAV file in
// place of the microphone. Outcomes are printed to stdout one per line.
func runTestMode(wavPath string, engine transcriber.Engine, store *prefs.Store, output string) int {
	fakeCtx, err := audio.NewFakeContext(wavPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		return 1
	}

	session := audio.NewSession(fakeCtx, nil)
	orch := newOrchestrator(session, engine, store, output)
	snap := orch.Snapshot()
	log.SessionStart(uuid.NewString(), snap.Engine, "fake", snap.Language, snap.Ready)
	defer func() {
		orch.Close()
		if engine != nil {
			engine.Close()
		}
		log.Close()
	}()

	// KEYDOWN/KEYUP go through the same press path as the global hotkey.
	hk := hotkey.NewFake()
	toggle := hotkey.NewToggle(hk, 0)
	defer toggle.Stop()
	go forwardPresses(toggle, orch, func(err error) {
		fmt.Printf("ERROR toggle: %v\n", err)
	})

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch {
		case cmd == "":
		case cmd == "TOGGLE":
			if err := orch.Toggle(); err != nil {
				fmt.Printf("ERROR toggle: %v\n", err)
			}
		case cmd == "KEYDOWN":
			hk.SimKeydown()
		case cmd == "KEYUP":
			hk.SimKeyup()
		case cmd == "WAIT_RECORDING":
			if _, ok := waitSnapshot(orch, func(s orchestrator.Snapshot) bool { return s.IsRecording() }); !ok {
				fmt.Println("ERROR timeout waiting for recording")
			}
		case cmd == "WAIT_AUDIO_DONE":
			if c := lastCapture(fakeCtx); c != nil {
				<-c.AudioDone()
			}
		case cmd == "WAIT":
			s, ok := waitSnapshot(orch, func(s orchestrator.Snapshot) bool {
				return s.State == orchestrator.Idle && !s.Starting
			})
			if !ok {
				fmt.Println("ERROR timeout waiting for idle")
				continue
			}
			printOutcome(s)
		case cmd == "FINISH":
			if c := lastCapture(fakeCtx); c != nil {
				c.SimFinish(nil)
			}
		case strings.HasPrefix(cmd, "LANG "):
			code := strings.TrimSpace(cmd[5:])
			if err := orch.SetLanguage(code); err != nil {
				fmt.Printf("ERROR lang: %v\n", err)
			} else {
				fmt.Printf("LANG %s\n", code)
			}
		case strings.HasPrefix(cmd, "SLEEP "):
			if ms, err := strconv.Atoi(cmd[6:]); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case cmd == "QUIT":
			return 0
		default:
			fmt.Printf("ERROR unknown command %q\n", cmd)
		}
	}
	return 0
}

func lastCapture(ctx *audio.FakeContext) *audio.FakeCapture {
	caps := ctx.Captures()
	if len(caps) == 0 {
		return nil
	}
	return caps[len(caps)-1]
}

func waitSnapshot(orch *orchestrator.Orchestrator, cond func(orchestrator.Snapshot) bool) (orchestrator.Snapshot, bool) {
	snaps, cancel := orch.Subscribe()
	defer cancel()
	timeout := time.After(testWaitTimeout)
	for {
		select {
		case s := <-snaps:
			if cond(s) {
				return s, true
			}
		case <-timeout:
			return orch.Snapshot(), false
		}
	}
}

func printOutcome(s orchestrator.Snapshot) {
	switch r := s.Result; {
	case s.Err != nil:
		fmt.Printf("ERROR %v\n", s.Err)
	case r != nil && r.CycleID == s.CycleID && r.NoSpeech:
		fmt.Printf("NOSPEECH %s\n", r.Language)
	case r != nil && r.CycleID == s.CycleID:
		fmt.Printf("RESULT %s %s\n", r.Language, r.Text)
	default:
		fmt.Println("IDLE")
	}
}
