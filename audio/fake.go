package audio

import (
	"encoding/binary"
	"sync"
	"time"

	"speecher/waveform"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext replays a fixed waveform instead of a microphone. In realtime
// mode frames are paced at the sample rate and followed by silence; otherwise
// the whole waveform is delivered synchronously inside Start.
type FakeContext struct {
	pcm      []byte
	realtime bool

	mu        sync.Mutex
	captures  []*FakeCapture
	failStart error
}

func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	samples, err := waveform.Decode(wavPath)
	if err != nil {
		return nil, err
	}
	return NewFakeContextSamples(samples, realtime), nil
}

func NewFakeContextSamples(samples []float32, realtime bool) *FakeContext {
	pcm := make([]byte, len(samples)*fakeBytesPerFrame)
	for i, s := range samples {
		v := s * 32768
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v)))
	}
	return &FakeContext{pcm: pcm, realtime: realtime}
}

// FailStart makes every subsequent capture Start return err.
func (f *FakeContext) FailStart(err error) {
	f.mu.Lock()
	f.failStart = err
	f.mu.Unlock()
}

// Captures returns every capture created so far, oldest first.
func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeCapture(nil), f.captures...)
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &FakeCapture{
		pcm:       f.pcm,
		realtime:  f.realtime,
		failStart: f.failStart,
		audioDone: make(chan struct{}),
	}
	f.captures = append(f.captures, c)
	return c, nil
}

type FakeCapture struct {
	pcm       []byte
	realtime  bool
	failStart error
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	onStop   StopCallback
	running  bool
	starts   int
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone is closed once the whole waveform has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) SetStopCallback(cb StopCallback) {
	f.mu.Lock()
	f.onStop = cb
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

// Running reports whether the capture is between Start and Stop.
func (f *FakeCapture) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *FakeCapture) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// SimFinish emulates the device ending the stream on its own, as a driver
// would on unplug or an encode failure. The stop callback fires on a
// separate goroutine like a hardware notification.
func (f *FakeCapture) SimFinish(err error) {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	close(f.stopCh)
	cb := f.onStop
	feedDone := f.feedDone
	f.mu.Unlock()

	<-feedDone
	if cb != nil {
		go cb(err)
	}
}

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	return end
}

func (f *FakeCapture) Start() error {
	if f.failStart != nil {
		return f.failStart
	}

	f.mu.Lock()
	f.running = true
	f.starts++
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	f.audioDone = make(chan struct{})
	stopCh, feedDone, audioDone := f.stopCh, f.feedDone, f.audioDone
	f.mu.Unlock()

	chunkBytes := fakeFrameSize * fakeBytesPerFrame

	if !f.realtime {
		if cb := f.callback(); cb != nil {
			for pos := 0; pos < len(f.pcm); {
				pos = f.feedChunk(cb, pos, chunkBytes)
			}
		}
		close(audioDone)
		close(feedDone)
		return nil
	}

	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(waveform.SampleRate)
	go func() {
		defer close(feedDone)
		pos := 0
		silence := make([]byte, chunkBytes)
		finished := false
		for {
			select {
			case <-stopCh:
				return
			default:
			}

			if cb := f.callback(); cb != nil {
				if pos < len(f.pcm) {
					pos = f.feedChunk(cb, pos, chunkBytes)
				} else {
					if !finished {
						finished = true
						close(audioDone)
					}
					cb(silence, fakeFrameSize)
				}
			}

			select {
			case <-stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	close(f.stopCh)
	feedDone := f.feedDone
	f.mu.Unlock()
	<-feedDone
}

func (f *FakeCapture) Close() { f.Stop() }
