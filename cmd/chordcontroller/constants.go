package main

// Gamepad button indices, in the order XInput-style pads report them
// through SDL and the evdev translation table below.
const (
	ButtonA      = 0
	ButtonB      = 1
	ButtonX      = 2
	ButtonY      = 3
	ButtonLB     = 4
	ButtonRB     = 5
	ButtonBack   = 6
	ButtonStart  = 7
	ButtonGuide  = 8
	ButtonLThumb = 9
	ButtonRThumb = 10
)

// Gamepad axis indices.
const (
	AxisLThumbX  = 0
	AxisLThumbY  = 1
	AxisRThumbX  = 2
	AxisRThumbY  = 3
	AxisRTrigger = 4
	AxisLTrigger = 5
)

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01
	EV_ABS = 0x03

	BTN_A      = 0x130
	BTN_B      = 0x131
	BTN_X      = 0x133
	BTN_Y      = 0x134
	BTN_TL     = 0x136
	BTN_TR     = 0x137
	BTN_SELECT = 0x13a
	BTN_START  = 0x13b
	BTN_MODE   = 0x13c
	BTN_THUMBL = 0x13d
	BTN_THUMBR = 0x13e

	ABS_X     = 0x00
	ABS_Y     = 0x01
	ABS_Z     = 0x02
	ABS_RX    = 0x03
	ABS_RY    = 0x04
	ABS_RZ    = 0x05
	ABS_HAT0X = 0x10
	ABS_HAT0Y = 0x11
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Controller defaults
const (
	defaultModeName   = "default"
	defaultStackLimit = 20
	defaultOctave     = 5
	defaultVelocity   = 127

	defaultEventBatch = 64  // Max events applied as one batch
	defaultPollHz     = 120 // SDL event pump frequency
)
