package hotkey

import (
	"encoding/binary"
	"testing"
)

func event(typ, code uint16, value int32) []byte {
	b := make([]byte, inputEventSize)
	binary.LittleEndian.PutUint16(b[16:], typ)
	binary.LittleEndian.PutUint16(b[18:], code)
	binary.LittleEndian.PutUint32(b[20:], uint32(value))
	return b
}

func events(evs ...[]byte) []byte {
	var out []byte
	for _, e := range evs {
		out = append(out, e...)
	}
	return out
}

func TestChordPressRelease(t *testing.T) {
	var c chord
	got := c.feedEvents(events(
		event(evKey, keyLCtrl, keyPress),
		event(evKey, keyRShift, keyPress),
		event(evKey, keySpace, keyPress),
		event(evKey, keySpace, 2), // autorepeat
		event(evKey, keySpace, keyRelease),
	))
	if len(got) != 2 || got[0] != edgeDown || got[1] != edgeUp {
		t.Errorf("edges = %v, want [down up]", got)
	}
}

func TestChordNeedsBothModifiers(t *testing.T) {
	var c chord
	got := c.feedEvents(events(
		event(evKey, keyLCtrl, keyPress),
		event(evKey, keySpace, keyPress),
		event(evKey, keySpace, keyRelease),
		event(evKey, keyLCtrl, keyRelease),
		event(evKey, keyLShift, keyPress),
		event(evKey, keySpace, keyPress),
	))
	if len(got) != 0 {
		t.Errorf("edges = %v, want none", got)
	}
}

func TestChordModifierReleasedFirst(t *testing.T) {
	var c chord
	got := c.feedEvents(events(
		event(evKey, keyRCtrl, keyPress),
		event(evKey, keyLShift, keyPress),
		event(evKey, keySpace, keyPress),
		event(evKey, keyRCtrl, keyRelease),
		event(evKey, keySpace, keyRelease),
	))
	if len(got) != 2 || got[1] != edgeUp {
		t.Errorf("edges = %v, want [down up]", got)
	}
}

func TestChordIgnoresOtherEventsAndPartialRecord(t *testing.T) {
	var c chord
	buf := events(
		event(evKey, keyLCtrl, keyPress),
		event(0, keyLShift, keyPress), // EV_SYN
		event(evKey, keyLShift, keyPress),
	)
	buf = append(buf, event(evKey, keySpace, keyPress)[:10]...)
	if got := c.feedEvents(buf); len(got) != 0 {
		t.Errorf("edges = %v, want none", got)
	}
	if !c.ctrl || !c.shift {
		t.Error("modifiers not tracked")
	}
}
