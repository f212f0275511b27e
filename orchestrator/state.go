package orchestrator

import (
	"sync"
	"time"
)

type State int

const (
	Idle State = iota
	Recording
	Transcribing
)

func (s State) String() string {
	switch s {
	case Recording:
		return "recording"
	case Transcribing:
		return "transcribing"
	default:
		return "idle"
	}
}

// Result is the text published by one completed cycle.
type Result struct {
	CycleID  string
	Text     string
	Language string
	// NoSpeech is set when the engine returned only whitespace.
	NoSpeech      bool
	AudioDuration time.Duration
	Elapsed       time.Duration
	At            time.Time
}

// Snapshot is a read-only view of the orchestrator. A published Result is
// never modified afterwards.
type Snapshot struct {
	State    State
	Ready    bool
	Engine   string
	Language string

	// Starting is true while a toggle from Idle waits for permission and
	// the device to open.
	Starting         bool
	CycleID          string
	RecordingStarted time.Time

	// Result is the last published result; a new cycle overwrites it.
	Result *Result
	// Err is the failure of the most recent cycle, cleared when the next
	// cycle starts.
	Err error
}

func (s Snapshot) IsRecording() bool    { return s.State == Recording }
func (s Snapshot) IsTranscribing() bool { return s.State == Transcribing }

// store holds the published snapshot. Only the coordinator goroutine calls
// update; any number of goroutines may read or subscribe.
type store struct {
	mu   sync.Mutex
	snap Snapshot
	subs map[int]chan Snapshot
	next int
}

func (s *store) get() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *store) update(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
	for _, ch := range s.subs {
		offer(ch, s.snap)
	}
}

// offer replaces whatever the subscriber has not read yet with snap, so a
// slow reader only ever sees the latest state.
func offer(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

func (s *store) subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]chan Snapshot)
	}
	id := s.next
	s.next++
	ch := make(chan Snapshot, 1)
	ch <- s.snap
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}
