package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Event Types
// ============================================================================
// Events are everything the daemon loop consumes: controller input from the
// SDL/evdev readers or IPC, plus control requests (device selection, state
// snapshots). Input events are additionally fed to the mapping Machine.
// ============================================================================

// Event is a marker interface for all daemon events.
type Event interface {
	eventMarker()
}

// InputEvent is an Event produced by a controller.
type InputEvent interface {
	Event
	SourceDevice() int
}

// ButtonDown is a controller button press.
type ButtonDown struct {
	Device int `json:"device"`
	Button int `json:"button"`
}

// ButtonUp is a controller button release.
type ButtonUp struct {
	Device int `json:"device"`
	Button int `json:"button"`
}

// HatMotion is a hat (d-pad) direction change.
type HatMotion struct {
	Device int    `json:"device"`
	Hat    int    `json:"hat"`
	Vector Vector `json:"vector"`
}

// AxisMotion is a raw analog axis reading, nominally in [-1,1].
type AxisMotion struct {
	Device int     `json:"device"`
	Axis   int     `json:"axis"`
	Value  float64 `json:"value"`
}

func (ButtonDown) eventMarker() {}
func (ButtonUp) eventMarker()   {}
func (HatMotion) eventMarker()  {}
func (AxisMotion) eventMarker() {}

func (e ButtonDown) SourceDevice() int { return e.Device }
func (e ButtonUp) SourceDevice() int   { return e.Device }
func (e HatMotion) SourceDevice() int  { return e.Device }
func (e AxisMotion) SourceDevice() int { return e.Device }

// ============================================================================
// Control Events
// ============================================================================

// SelectDevice rebinds the active controller. Device -1 unbinds, so that
// the next button press binds.
type SelectDevice struct {
	Device int `json:"device"`
}

func (SelectDevice) eventMarker() {}

// DeviceAdded reports a newly connected controller.
type DeviceAdded struct {
	Device int    `json:"device"`
	Name   string `json:"name"`
}

func (DeviceAdded) eventMarker() {}

// DeviceRemoved reports a disconnected controller.
type DeviceRemoved struct {
	Device int `json:"device"`
}

func (DeviceRemoved) eventMarker() {}

// RequestStateSnapshot asks the daemon loop for a copy of the current state.
// Internal only; not accepted over IPC.
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "button_down":
		var e ButtonDown
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ButtonDown: %w", err)
		}
		return e, nil

	case "button_up":
		var e ButtonUp
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ButtonUp: %w", err)
		}
		return e, nil

	case "hat_motion":
		var e HatMotion
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal HatMotion: %w", err)
		}
		return e, nil

	case "axis_motion":
		var e AxisMotion
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal AxisMotion: %w", err)
		}
		return e, nil

	case "select_device":
		var e SelectDevice
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal SelectDevice: %w", err)
		}
		return e, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope
	var payload any

	switch e := e.(type) {
	case ButtonDown:
		env.Type = "button_down"
		payload = e
	case ButtonUp:
		env.Type = "button_up"
		payload = e
	case HatMotion:
		env.Type = "hat_motion"
		payload = e
	case AxisMotion:
		env.Type = "axis_motion"
		payload = e
	case SelectDevice:
		env.Type = "select_device"
		payload = e
	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", env.Type, err)
	}
	env.Data = data

	return json.Marshal(env)
}
