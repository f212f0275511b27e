package hotkey

import "time"

// DefaultDebounce drops presses that follow the previous one too closely to
// be intentional.
const DefaultDebounce = 250 * time.Millisecond

// Toggle turns key presses into toggle requests. Only keydown counts;
// releases are drained so the hotkey never blocks.
type Toggle struct {
	ch   chan struct{}
	stop chan struct{}
	done chan struct{}
}

func NewToggle(hk Hotkey, debounce time.Duration) *Toggle {
	t := &Toggle{
		ch:   make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go t.run(hk, debounce)
	return t
}

// C delivers one value per accepted press. A pending value is not
// duplicated if the consumer is slow.
func (t *Toggle) C() <-chan struct{} { return t.ch }

func (t *Toggle) Stop() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	<-t.done
}

func (t *Toggle) run(hk Hotkey, debounce time.Duration) {
	defer close(t.done)
	var last time.Time
	for {
		select {
		case <-t.stop:
			return
		case <-hk.Keyup():
		case <-hk.Keydown():
			now := time.Now()
			if !last.IsZero() && now.Sub(last) < debounce {
				continue
			}
			last = now
			select {
			case t.ch <- struct{}{}:
			default:
			}
		}
	}
}
