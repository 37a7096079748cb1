package main

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
)

// ============================================================================
// Input Mapping State Machine
// ============================================================================
// The Machine turns controller events into actions to do and actions to
// undo, using the mapping table of the current mode. It performs no actions
// itself; the Controller executes its Response.
//
// State owned here:
//   - the current mode (an attribute, so mode switches are undoable commands)
//   - the bound source device
//   - the last observed vector per hat
//   - toggle flags per binding
//   - which axes still drop their first reading
// ============================================================================

const inputTargetName = "input"

// noDevice means no controller is bound yet.
const noDevice = -1

// Behavior determines when a binding fires.
type Behavior string

const (
	// BehaviorMomentary does on press and undoes on release.
	BehaviorMomentary Behavior = "momentary"
	// BehaviorLatch does on one edge and never undoes.
	BehaviorLatch Behavior = "latch"
	// BehaviorToggle alternates between do and undo on one edge.
	BehaviorToggle Behavior = "toggle"
)

// Binding attaches an action to an input.
type Binding struct {
	Action    Action
	Behavior  Behavior
	OnRelease bool
	// Transform applies to axis bindings; Action then lacks its final value.
	Transform AxisTransform
}

// ModeMapping is the mapping table of one mode.
type ModeMapping struct {
	Buttons map[int][]Binding
	Hats    map[string][]Binding
	Axes    map[int][]Binding
}

// HatCalibration holds per-hat options.
type HatCalibration struct {
	// EasyDiagonals ignores a cardinal direction reached from an adjacent
	// diagonal, so rolling off a diagonal does not retrigger.
	EasyDiagonals bool
}

// MachineConfig is everything a Machine is built from.
type MachineConfig struct {
	Mappings        map[string]ModeMapping
	AxisCalibration map[int]AxisCalibration
	HatCalibration  map[int]HatCalibration
	InitialMode     string
}

// Response lists the actions produced by one Update, in generation order.
type Response struct {
	ToDo   []Action
	ToUndo []Action
}

func (r Response) Empty() bool { return len(r.ToDo) == 0 && len(r.ToUndo) == 0 }

type Machine struct {
	logger *slog.Logger

	mappings map[string]ModeMapping
	axisCal  map[int]AxisCalibration
	hatCal   map[int]HatCalibration

	mode         string
	activeDevice int
	lastHat      map[int]Vector
	toggles      map[string]bool
	uncalibrated map[int]bool
}

func NewMachine(cfg MachineConfig, logger *slog.Logger) (*Machine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mode := cfg.InitialMode
	if mode == "" {
		mode = defaultModeName
	}
	if _, ok := cfg.Mappings[mode]; !ok {
		return nil, fmt.Errorf("initial mode %q has no mapping", mode)
	}

	m := &Machine{
		logger:       logger,
		mappings:     cfg.Mappings,
		axisCal:      cfg.AxisCalibration,
		hatCal:       cfg.HatCalibration,
		mode:         mode,
		activeDevice: noDevice,
		lastHat:      make(map[int]Vector),
		toggles:      make(map[string]bool),
		uncalibrated: make(map[int]bool),
	}
	for axis, cal := range cfg.AxisCalibration {
		if cal.Uncalibrated {
			m.uncalibrated[axis] = true
		}
	}
	return m, nil
}

func (m *Machine) Name() string { return inputTargetName }

func (m *Machine) Get(key string) (any, error) {
	if key != modeKey {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAttribute, key)
	}
	return m.mode, nil
}

func (m *Machine) Set(key string, value any) error {
	if key != modeKey {
		return fmt.Errorf("%w: %q", ErrUnknownAttribute, key)
	}
	name, ok := value.(string)
	if !ok {
		return fmt.Errorf("mode must be a string, got %T", value)
	}
	if _, ok := m.mappings[name]; !ok {
		return fmt.Errorf("unknown mode %q", name)
	}
	if name != m.mode {
		m.logger.Debug("mode changed", "from", m.mode, "to", name)
	}
	m.mode = name
	return nil
}

func (m *Machine) Mode() string { return m.mode }

func (m *Machine) ActiveDevice() int { return m.activeDevice }

// SetActiveDevice binds a controller; noDevice unbinds.
func (m *Machine) SetActiveDevice(device int) {
	m.activeDevice = device
}

// Modes returns the mode names in sorted order.
func (m *Machine) Modes() []string {
	names := make([]string, 0, len(m.mappings))
	for name := range m.mappings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MappedActions returns every complete action the mapping table can
// produce. Axis bindings contribute their action at both ends of the range.
func (m *Machine) MappedActions() []Action {
	var out []Action
	for _, name := range m.Modes() {
		mm := m.mappings[name]
		for _, k := range sortedKeys(mm.Hats) {
			for _, b := range mm.Hats[k] {
				out = append(out, b.Action)
			}
		}
		for _, k := range sortedKeys(mm.Buttons) {
			for _, b := range mm.Buttons[k] {
				out = append(out, b.Action)
			}
		}
		for _, k := range sortedKeys(mm.Axes) {
			for _, b := range mm.Axes[k] {
				out = append(out,
					b.Action.WithValue(b.Transform.ValueAtMin),
					b.Action.WithValue(b.Transform.ValueAtMax))
			}
		}
	}
	return out
}

// Update processes a batch of events against the current mode.
func (m *Machine) Update(events []InputEvent) (Response, error) {
	var r Response

	for _, ev := range events {
		dev := ev.SourceDevice()
		if dev != m.activeDevice {
			_, isDown := ev.(ButtonDown)
			if m.activeDevice != noDevice || !isDown {
				continue
			}
			m.activeDevice = dev
			m.logger.Info("controller bound", "device", dev)
		}

		keymap := m.mappings[m.mode]

		switch e := ev.(type) {
		case ButtonDown:
			m.button(keymap, e.Button, true, &r)
		case ButtonUp:
			m.button(keymap, e.Button, false, &r)
		case HatMotion:
			m.hat(keymap, e.Hat, e.Vector, &r)
		case AxisMotion:
			if err := m.axis(keymap, e.Axis, e.Value, &r); err != nil {
				return Response{}, err
			}
		}
	}

	return r, nil
}

func (m *Machine) button(km ModeMapping, button int, down bool, r *Response) {
	key := strconv.Itoa(button)
	for i, b := range km.Buttons[button] {
		if b.Behavior == BehaviorMomentary {
			if down {
				r.ToDo = append(r.ToDo, b.Action)
			} else {
				r.ToUndo = append(r.ToUndo, b.Action)
			}
			continue
		}

		// Latch and toggle fire on the press edge, or on the release edge
		// with on_release.
		if b.OnRelease == down {
			continue
		}
		m.edge(b, toggleKey(m.mode, "buttons", key, i), r)
	}
}

func (m *Machine) hat(km ModeMapping, hat int, v Vector, r *Response) {
	prev := m.lastHat[hat]

	if m.hatCal[hat].EasyDiagonals && prev.IsDiagonal() && prev.IsAdjacentTo(v) {
		return
	}

	// Leaving the previous direction.
	prevKey := hatKey(hat, prev)
	for i, b := range km.Hats[prevKey] {
		switch {
		case b.Behavior == BehaviorMomentary:
			r.ToUndo = append(r.ToUndo, b.Action)
		case b.OnRelease:
			m.edge(b, toggleKey(m.mode, "hats", prevKey, i), r)
		}
	}

	m.lastHat[hat] = v
	if v.IsNeutral() {
		return
	}

	// Entering the new direction.
	key := hatKey(hat, v)
	for i, b := range km.Hats[key] {
		switch {
		case b.Behavior == BehaviorMomentary:
			r.ToDo = append(r.ToDo, b.Action)
		case !b.OnRelease:
			m.edge(b, toggleKey(m.mode, "hats", key, i), r)
		}
	}
}

// edge handles a latch or toggle binding whose firing edge was reached.
func (m *Machine) edge(b Binding, tkey string, r *Response) {
	switch b.Behavior {
	case BehaviorLatch:
		r.ToDo = append(r.ToDo, b.Action)
	case BehaviorToggle:
		was := m.toggles[tkey]
		m.toggles[tkey] = !was
		if was {
			r.ToUndo = append(r.ToUndo, b.Action)
		} else {
			r.ToDo = append(r.ToDo, b.Action)
		}
	}
}

func (m *Machine) axis(km ModeMapping, axis int, raw float64, r *Response) error {
	if m.uncalibrated[axis] {
		delete(m.uncalibrated, axis)
		m.logger.Debug("axis calibrated", "axis", axis, "value", raw)
		return nil
	}

	bindings := km.Axes[axis]
	if len(bindings) == 0 {
		return nil
	}

	cal, ok := m.axisCal[axis]
	if !ok {
		cal = defaultAxisCalibration
	}
	percent := cal.normalize(raw)

	for _, b := range bindings {
		v, err := MapAxis(percent, b.Transform)
		if err != nil {
			return fmt.Errorf("axis %d: %w", axis, err)
		}
		r.ToDo = append(r.ToDo, b.Action.WithValue(v))
	}
	return nil
}

// ToggleState reports the flag of a toggle binding.
func (m *Machine) ToggleState(mode, inputType, inputKey string, index int) bool {
	return m.toggles[toggleKey(mode, inputType, inputKey, index)]
}

// LastHatVector returns the remembered direction of a hat.
func (m *Machine) LastHatVector(hat int) Vector {
	return m.lastHat[hat]
}

func toggleKey(mode, inputType, inputKey string, index int) string {
	return mode + "." + inputType + "." + inputKey + "." + strconv.Itoa(index)
}

func sortedKeys[K int | string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
