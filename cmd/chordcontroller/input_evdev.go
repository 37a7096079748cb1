package main

import (
	"bytes"
	"encoding/binary"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// deviceInputEvent is an inputEvent tagged with its source descriptor.
type deviceInputEvent struct {
	fd int
	inputEvent
}

func decodeInputEvent(reader *bytes.Reader, buf []byte) (inputEvent, error) {
	reader.Reset(buf)
	var ev inputEvent
	err := binary.Read(reader, binary.LittleEndian, &ev)
	return ev, err
}

// absRange is the value range reported by EVIOCGABS.
type absRange struct {
	Min int32
	Max int32
}

var evdevButtons = map[uint16]int{
	BTN_A:      ButtonA,
	BTN_B:      ButtonB,
	BTN_X:      ButtonX,
	BTN_Y:      ButtonY,
	BTN_TL:     ButtonLB,
	BTN_TR:     ButtonRB,
	BTN_SELECT: ButtonBack,
	BTN_START:  ButtonStart,
	BTN_MODE:   ButtonGuide,
	BTN_THUMBL: ButtonLThumb,
	BTN_THUMBR: ButtonRThumb,
}

var evdevAxes = map[uint16]int{
	ABS_X:  AxisLThumbX,
	ABS_Y:  AxisLThumbY,
	ABS_RX: AxisRThumbX,
	ABS_RY: AxisRThumbY,
	ABS_RZ: AxisRTrigger,
	ABS_Z:  AxisLTrigger,
}

// evdevTranslator turns raw input events from one device into daemon events.
type evdevTranslator struct {
	device int
	ranges map[uint16]absRange
	hat    Vector
}

func newEvdevTranslator(device int, ranges map[uint16]absRange) *evdevTranslator {
	if ranges == nil {
		ranges = make(map[uint16]absRange)
	}
	return &evdevTranslator{device: device, ranges: ranges}
}

// translate returns the event for ev, or nil if ev is not mapped.
// Key repeats are dropped.
func (t *evdevTranslator) translate(ev inputEvent) Event {
	switch ev.Type {
	case EV_KEY:
		button, ok := evdevButtons[ev.Code]
		if !ok {
			return nil
		}
		switch ev.Value {
		case evValuePress:
			return ButtonDown{Device: t.device, Button: button}
		case evValueRelease:
			return ButtonUp{Device: t.device, Button: button}
		}
		return nil

	case EV_ABS:
		switch ev.Code {
		case ABS_HAT0X:
			v := t.hat
			v.X = sign(ev.Value)
			return t.hatEvent(v)
		case ABS_HAT0Y:
			// evdev reports up as negative.
			v := t.hat
			v.Y = -sign(ev.Value)
			return t.hatEvent(v)
		}

		axis, ok := evdevAxes[ev.Code]
		if !ok {
			return nil
		}
		return AxisMotion{Device: t.device, Axis: axis, Value: t.normalize(ev.Code, ev.Value)}
	}
	return nil
}

func (t *evdevTranslator) hatEvent(v Vector) Event {
	if v == t.hat {
		return nil
	}
	t.hat = v
	return HatMotion{Device: t.device, Hat: 0, Vector: v}
}

// normalize scales a raw reading to [-1,1] using the device's reported
// range. Axes without a known range are assumed to be int16.
func (t *evdevTranslator) normalize(code uint16, value int32) float64 {
	r, ok := t.ranges[code]
	if !ok || r.Max <= r.Min {
		r = absRange{Min: -32768, Max: 32767}
	}
	v := 2*float64(value-r.Min)/float64(r.Max-r.Min) - 1
	if v < -1 {
		v = -1
	}
	if v > 1 {
		v = 1
	}
	return v
}

func sign(v int32) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
