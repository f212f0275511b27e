//go:build integration

package test_test

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

var testBinary string

func TestMain(m *testing.M) {
	testBinary = os.Getenv("SPEECHER_TEST_BIN")
	if testBinary == "" {
		fmt.Fprintln(os.Stderr, "SPEECHER_TEST_BIN not set; build the binary and point SPEECHER_TEST_BIN at it")
		os.Exit(1)
	}

	if err := os.MkdirAll("data", 0755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create data dir: %v\n", err)
		os.Exit(1)
	}
	silencePath := filepath.Join("data", "silence.wav")
	tonePath := filepath.Join("data", "tone.wav")
	if err := generateWAV(silencePath, 16000, 1.0, 0); err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate silence.wav: %v\n", err)
		os.Exit(1)
	}
	if err := generateWAV(tonePath, 16000, 1.0, 440); err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate tone.wav: %v\n", err)
		os.Exit(1)
	}
	code := m.Run()
	os.Remove(silencePath)
	os.Remove(tonePath)
	os.Exit(code)
}

// generateWAV writes a 16-bit mono PCM file. freq 0 gives silence.
func generateWAV(path string, sampleRate int, durationS, freq float64) error {
	const headerSize = 44
	numSamples := int(float64(sampleRate) * durationS)
	dataSize := numSamples * 2

	buf := make([]byte, headerSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i := 0; i < numSamples; i++ {
		v := 0.3 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(buf[headerSize+i*2:], uint16(int16(v*32767)))
	}
	return os.WriteFile(path, buf, 0644)
}

func cmds(parts ...string) string {
	return strings.Join(parts, "\n") + "\n"
}

type run struct {
	logDir string
	out    string
	prefs  string
	output string
}

func runSpeecher(t *testing.T, prefsPath, stdin string, args ...string) run {
	t.Helper()
	dir := t.TempDir()
	r := run{
		logDir: filepath.Join(dir, "logs"),
		prefs:  prefsPath,
		output: filepath.Join(dir, "recording.wav"),
	}
	if r.prefs == "" {
		r.prefs = filepath.Join(dir, "prefs.toml")
	}
	cmdArgs := append([]string{"-logpath", r.logDir, "-prefs", r.prefs, "-output", r.output}, args...)

	cmd := exec.Command(testBinary, cmdArgs...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Env = os.Environ()

	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("speecher exited with error: %v\noutput: %s", err, out)
	}
	r.out = string(out)
	return r
}

func readLog(t *testing.T, logDir, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(logDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

func requireTranscription(t *testing.T, logDir string) string {
	t.Helper()
	text := readLog(t, logDir, "transcribe_log.txt")
	if strings.TrimSpace(text) == "" {
		t.Fatal("transcribe_log.txt is empty, expected transcribed words")
	}
	return text
}

func requireGroqKey(t *testing.T) {
	t.Helper()
	if os.Getenv("GROQ_API_KEY") == "" {
		t.Skip("GROQ_API_KEY not set")
	}
}

// --- Fake engine ---

func TestFakeCycle(t *testing.T) {
	r := runSpeecher(t, "", cmds("TOGGLE", "WAIT_AUDIO_DONE", "TOGGLE", "WAIT", "QUIT"),
		"-engine", "fake", "-fake-text", "  bom dia  ", "-test", "data/tone.wav")
	if !strings.Contains(r.out, "RESULT pt bom dia\n") {
		t.Errorf("missing result line in output:\n%s", r.out)
	}
	text := requireTranscription(t, r.logDir)
	if !strings.Contains(text, "\tpt\tbom dia") {
		t.Errorf("transcribe_log.txt = %q", text)
	}
	if _, err := os.Stat(r.output); err != nil {
		t.Errorf("recording not kept: %v", err)
	}
	diag := readLog(t, r.logDir, "diagnostics_log.txt")
	for _, want := range []string{"session_start", "cycle_start", "cycle_end", "session_end"} {
		if !strings.Contains(diag, want) {
			t.Errorf("diagnostics missing %s", want)
		}
	}
}

func TestFakeHotkeyPress(t *testing.T) {
	r := runSpeecher(t, "", cmds("KEYDOWN", "KEYUP", "WAIT_RECORDING", "WAIT_AUDIO_DONE", "KEYDOWN", "KEYUP", "WAIT", "QUIT"),
		"-engine", "fake", "-fake-text", "hotkey", "-test", "data/tone.wav")
	if !strings.Contains(r.out, "RESULT pt hotkey\n") {
		t.Errorf("missing result line in output:\n%s", r.out)
	}
}

func TestLanguagePersists(t *testing.T) {
	prefsPath := filepath.Join(t.TempDir(), "prefs.toml")
	r := runSpeecher(t, prefsPath, cmds("LANG es", "QUIT"), "-engine", "fake", "-test", "data/tone.wav")
	if !strings.Contains(r.out, "LANG es") {
		t.Fatalf("language not accepted:\n%s", r.out)
	}
	data, err := os.ReadFile(prefsPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `selectedLanguageCode = "es"`) {
		t.Errorf("prefs = %q", data)
	}

	r = runSpeecher(t, prefsPath, cmds("TOGGLE", "WAIT_AUDIO_DONE", "TOGGLE", "WAIT", "QUIT"),
		"-engine", "fake", "-fake-text", "hola", "-test", "data/tone.wav")
	if !strings.Contains(r.out, "RESULT es hola") {
		t.Errorf("second run did not use the saved language:\n%s", r.out)
	}
}

func TestUnknownLanguageRejected(t *testing.T) {
	r := runSpeecher(t, "", cmds("LANG xx", "QUIT"), "-engine", "fake", "-test", "data/tone.wav")
	if !strings.Contains(r.out, "ERROR lang") {
		t.Errorf("unknown code accepted:\n%s", r.out)
	}
}

func TestHardwareFinishDoesNotTranscribe(t *testing.T) {
	r := runSpeecher(t, "", cmds("TOGGLE", "SLEEP 300", "FINISH", "WAIT", "QUIT"),
		"-engine", "fake", "-fake-text", "never", "-test", "data/tone.wav")
	if strings.Contains(r.out, "RESULT") {
		t.Errorf("finish produced a transcription:\n%s", r.out)
	}
	if text := readLog(t, r.logDir, "transcribe_log.txt"); strings.TrimSpace(text) != "" {
		t.Errorf("transcribe_log.txt = %q", text)
	}
}

func TestMissingModelIsNotReady(t *testing.T) {
	t.Setenv("SPEECHER_MODEL", "")
	r := runSpeecher(t, "", cmds("TOGGLE", "QUIT"),
		"-engine", "whisper", "-model", filepath.Join(t.TempDir(), "missing.bin"), "-test", "data/tone.wav")
	if !strings.Contains(r.out, "ERROR toggle") {
		t.Errorf("toggle without a model should fail:\n%s", r.out)
	}
}

// --- Groq ---

func TestGroqWords(t *testing.T) {
	requireGroqKey(t)
	r := runSpeecher(t, "", cmds("TOGGLE", "WAIT_AUDIO_DONE", "TOGGLE", "WAIT", "QUIT"),
		"-engine", "groq", "-test", "data/tone.wav")
	if strings.Contains(r.out, "ERROR") {
		t.Fatalf("groq cycle failed:\n%s", r.out)
	}
	diag := readLog(t, r.logDir, "diagnostics_log.txt")
	if !strings.Contains(diag, "transcription") {
		t.Error("expected transcription metrics in diagnostics")
	}
}

func TestGroqConnReuse(t *testing.T) {
	requireGroqKey(t)
	r := runSpeecher(t, "", cmds(
		"TOGGLE", "WAIT_AUDIO_DONE", "TOGGLE", "WAIT",
		"TOGGLE", "WAIT_AUDIO_DONE", "TOGGLE", "WAIT", "QUIT"),
		"-engine", "groq", "-test", "data/tone.wav")
	diag := readLog(t, r.logDir, "diagnostics_log.txt")
	if !strings.Contains(diag, "conn=reused") {
		t.Error("expected conn=reused in diagnostics")
	}
}

func TestGroqSilence(t *testing.T) {
	requireGroqKey(t)
	r := runSpeecher(t, "", cmds("TOGGLE", "WAIT_AUDIO_DONE", "TOGGLE", "WAIT", "QUIT"),
		"-engine", "groq", "-test", "data/silence.wav")
	if strings.Contains(r.out, "ERROR") {
		t.Fatalf("groq cycle failed on silence:\n%s", r.out)
	}
}
