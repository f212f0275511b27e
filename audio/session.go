package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"speecher/waveform"
)

const (
	frameQueueSize = 256
	eventQueueSize = 8
)

type EventKind int

const (
	// EventFinished means the device ended the stream without an error.
	EventFinished EventKind = iota
	// EventError means capture or file encoding failed mid-recording.
	EventError
)

func (k EventKind) String() string {
	if k == EventError {
		return "error"
	}
	return "finished"
}

// Event reports that a recording ended without Stop being called. The
// session has already released the handle when the event is delivered.
type Event struct {
	Gen  uint64
	Kind EventKind
	Err  error
}

// Session owns the capture device for one recording at a time and writes
// what it hears to a WAV file.
type Session struct {
	ctx    Context
	device *DeviceInfo
	config CaptureConfig
	events chan Event

	mu     sync.Mutex
	gen    uint64
	handle *handle
	ending *handle // taken by abort, possibly still finalizing
}

func NewSession(ctx Context, device *DeviceInfo) *Session {
	return &Session{
		ctx:    ctx,
		device: device,
		config: CaptureConfig{SampleRate: waveform.SampleRate, Channels: waveform.Channels},
		events: make(chan Event, eventQueueSize),
	}
}

// Events delivers unsolicited finish and error notifications. It has a
// single consumer.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

func (s *Session) DeviceName() string {
	if s.device != nil {
		return s.device.Name
	}
	return "system default"
}

// Start opens the device and begins writing to dest, replacing any previous
// file there. The returned generation tags events from this recording.
func (s *Session) Start(dest string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		return 0, ErrAlreadyRecording
	}
	if s.ending != nil {
		<-s.ending.finalized
		s.ending = nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	w, err := waveform.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	capture, err := s.ctx.NewCapture(s.device, s.config)
	if err != nil {
		w.Close()
		return 0, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s.gen++
	gen := s.gen
	h := &handle{
		capture:   capture,
		writer:    w,
		frames:    make(chan []byte, frameQueueSize),
		done:      make(chan struct{}),
		finalized: make(chan struct{}),
	}
	go h.drain(func(err error) { go s.abort(gen, err) })

	capture.SetCallback(h.push)
	capture.SetStopCallback(func(err error) { go s.abort(gen, err) })
	if err := capture.Start(); err != nil {
		h.close()
		return 0, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s.handle = h
	return gen, nil
}

// Stop closes the device and finalizes the file. Stopping when nothing is
// recording is a no-op. If the device ended the recording on its own and the
// file is still being finalized, Stop waits for that to finish; the outcome
// of such a recording is reported on Events, not here.
func (s *Session) Stop() error {
	s.mu.Lock()
	h := s.handle
	ending := s.ending
	s.handle = nil
	s.mu.Unlock()

	if h == nil {
		if ending != nil {
			<-ending.finalized
		}
		return nil
	}
	return h.close()
}

func (s *Session) abort(gen uint64, cause error) {
	s.mu.Lock()
	h := s.handle
	if h == nil || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.handle = nil
	s.ending = h
	s.mu.Unlock()

	closeErr := h.close()
	ev := Event{Gen: gen, Kind: EventFinished}
	if cause == nil {
		cause = closeErr
	} else if closeErr != nil && !errors.Is(closeErr, cause) {
		cause = errors.Join(cause, closeErr)
	}
	if cause != nil {
		ev.Kind = EventError
		ev.Err = cause
	}
	select {
	case s.events <- ev:
	default:
	}
}

type handle struct {
	capture CaptureDevice
	writer  *waveform.Writer

	mu     sync.Mutex
	closed bool
	frames chan []byte
	done   chan struct{}
	werr   error

	closeOnce sync.Once
	closeErr  error
	finalized chan struct{}
}

func (h *handle) push(data []byte, _ uint32) {
	if len(data) == 0 {
		return
	}
	pcm := make([]byte, len(data))
	copy(pcm, data)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.frames <- pcm
}

func (h *handle) drain(onErr func(error)) {
	defer close(h.done)
	for pcm := range h.frames {
		if h.werr != nil {
			continue
		}
		if err := h.writer.WritePCM16(pcm); err != nil {
			h.werr = err
			onErr(err)
		}
	}
}

// close releases the device and finalizes the file once. finalized is closed
// when the file on disk is complete.
func (h *handle) close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.finalize()
		close(h.finalized)
	})
	return h.closeErr
}

func (h *handle) finalize() error {
	h.capture.SetStopCallback(nil)
	h.capture.Stop()
	h.capture.ClearCallback()
	h.capture.Close()

	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.frames)
	}
	h.mu.Unlock()

	<-h.done
	if h.werr != nil {
		h.writer.Close()
		return h.werr
	}
	return h.writer.Close()
}
