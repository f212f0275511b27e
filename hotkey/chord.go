package hotkey

import "encoding/binary"

// Linux input event codes for the Ctrl+Shift+Space chord.
const (
	evKey      = 1
	keyRelease = 0
	keyPress   = 1
	keyLCtrl   = 29
	keyRCtrl   = 97
	keyLShift  = 42
	keyRShift  = 54
	keySpace   = 57
)

// inputEventSize is sizeof(struct input_event) on 64-bit kernels.
const inputEventSize = 24

type edge int

const (
	edgeNone edge = iota
	edgeDown
	edgeUp
)

// chord follows modifier state across key events and reports when the
// whole Ctrl+Shift+Space combination goes down or comes back up.
// Autorepeat (value 2) leaves the state unchanged.
type chord struct {
	ctrl, shift, space bool
}

func (c *chord) feed(code uint16, value int32) edge {
	pressed := value == keyPress
	released := value == keyRelease
	switch code {
	case keyLCtrl, keyRCtrl:
		c.ctrl = pressed || (!released && c.ctrl)
	case keyLShift, keyRShift:
		c.shift = pressed || (!released && c.shift)
	case keySpace:
		if pressed && !c.space && c.ctrl && c.shift {
			c.space = true
			return edgeDown
		}
		if released && c.space {
			c.space = false
			return edgeUp
		}
	}
	return edgeNone
}

// feedEvents decodes raw input_event records and returns the chord edges
// they produce, in order. A trailing partial record is ignored.
func (c *chord) feedEvents(buf []byte) []edge {
	var edges []edge
	for i := 0; i+inputEventSize <= len(buf); i += inputEventSize {
		if binary.LittleEndian.Uint16(buf[i+16:]) != evKey {
			continue
		}
		code := binary.LittleEndian.Uint16(buf[i+18:])
		value := int32(binary.LittleEndian.Uint32(buf[i+20:]))
		if e := c.feed(code, value); e != edgeNone {
			edges = append(edges, e)
		}
	}
	return edges
}
