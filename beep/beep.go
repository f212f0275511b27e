// Package beep plays short tones when a recording starts, stops or fails.
// Playback is best effort: a missing sound server never surfaces as an error.
package beep

import (
	"math"
	"sync/atomic"
)

const sampleRate = 44100

type Cue int

const (
	Start Cue = iota
	Stop
	Error
)

func (c Cue) String() string {
	switch c {
	case Start:
		return "start"
	case Stop:
		return "stop"
	default:
		return "error"
	}
}

type tone struct {
	freq     float64
	duration float64
	volume   float64
	decay    float64
	// repeat plays the tone twice separated by gap seconds.
	repeat bool
	gap    float64
}

var tones = map[Cue]tone{
	Start: {freq: 1200, duration: 0.2, volume: 0.5, decay: 60},
	Stop:  {freq: 900, duration: 0.2, volume: 0.5, decay: 40},
	Error: {freq: 350, duration: 0.08, volume: 0.6, decay: 30, repeat: true, gap: 0.05},
}

var disabled atomic.Bool

func Disable() { disabled.Store(true) }
func Enable()  { disabled.Store(false) }

// Play starts the cue in the background and returns immediately.
func Play(c Cue) {
	if disabled.Load() {
		return
	}
	go play(c)
}

// samples renders c as mono signed 16-bit PCM at sampleRate.
func samples(c Cue) []int16 {
	t, ok := tones[c]
	if !ok {
		return nil
	}
	out := tick(t)
	if t.repeat {
		gap := make([]int16, int(sampleRate*t.gap))
		out = append(append(out, gap...), tick(t)...)
	}
	return out
}

func tick(t tone) []int16 {
	n := int(sampleRate * t.duration)
	out := make([]int16, n)
	for i := range out {
		sec := float64(i) / sampleRate
		envelope := math.Exp(-sec * t.decay)
		out[i] = int16(math.Sin(2*math.Pi*t.freq*sec) * 32767 * t.volume * envelope)
	}
	return out
}
