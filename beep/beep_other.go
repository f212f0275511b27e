//go:build !linux

package beep

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

var (
	playMu  sync.Mutex
	ctxOnce sync.Once
	ctx     *malgo.AllocatedContext
)

func play(c Cue) {
	pcm := samples(c)
	if len(pcm) == 0 {
		return
	}
	ctxOnce.Do(func() {
		ctx, _ = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	})
	if ctx == nil {
		return
	}

	playMu.Lock()
	defer playMu.Unlock()

	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = sampleRate

	var pos int
	done := make(chan struct{})
	var doneOnce sync.Once
	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			n := copy(out, buf[pos:])
			pos += n
			clear(out[n:])
			if pos >= len(buf) {
				doneOnce.Do(func() { close(done) })
			}
		},
	}
	device, err := malgo.InitDevice(ctx.Context, config, callbacks)
	if err != nil {
		return
	}
	defer device.Uninit()
	if err := device.Start(); err != nil {
		return
	}

	// Let the device drain its own buffer before stopping.
	select {
	case <-done:
		time.Sleep(50 * time.Millisecond)
	case <-time.After(2 * time.Second):
	}
	device.Stop()
}
