package main

import (
	"errors"
	"testing"
)

func newTestMachine(t *testing.T, mappings map[string]ModeMapping, axisCal map[int]AxisCalibration, hatCal map[int]HatCalibration) *Machine {
	t.Helper()
	m, err := NewMachine(MachineConfig{
		Mappings:        mappings,
		AxisCalibration: axisCal,
		HatCalibration:  hatCal,
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	m.SetActiveDevice(0)
	return m
}

func update(t *testing.T, m *Machine, events ...InputEvent) Response {
	t.Helper()
	r, err := m.Update(events)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	return r
}

func expectActions(t *testing.T, label string, got []Action, want ...Action) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %v, want %v", label, got, want)
	}
	for i := range got {
		if got[i].Key() != want[i].Key() {
			t.Fatalf("%s[%d]: got %s, want %s", label, i, got[i], want[i])
		}
	}
}

func TestMachine_MomentaryButton(t *testing.T) {
	a := mustAction(t, "set", "quality_modifier", 1)
	m := newTestMachine(t, map[string]ModeMapping{
		defaultModeName: {Buttons: map[int][]Binding{0: {{Action: a, Behavior: BehaviorMomentary}}}},
	}, nil, nil)

	r := update(t, m, ButtonDown{Device: 0, Button: 0})
	expectActions(t, "press do", r.ToDo, a)
	expectActions(t, "press undo", r.ToUndo)

	r = update(t, m, ButtonUp{Device: 0, Button: 0})
	expectActions(t, "release do", r.ToDo)
	expectActions(t, "release undo", r.ToUndo, a)

	// Unmapped button.
	if r := update(t, m, ButtonDown{Device: 0, Button: 5}); !r.Empty() {
		t.Fatalf("unmapped button produced %+v", r)
	}
}

func TestMachine_LatchButton(t *testing.T) {
	press := mustAction(t, "inc", "octave", 1)
	release := mustAction(t, "dec", "octave", 1)
	m := newTestMachine(t, map[string]ModeMapping{
		defaultModeName: {Buttons: map[int][]Binding{
			0: {{Action: press, Behavior: BehaviorLatch}},
			1: {{Action: release, Behavior: BehaviorLatch, OnRelease: true}},
		}},
	}, nil, nil)

	expectActions(t, "latch press", update(t, m, ButtonDown{Button: 0}).ToDo, press)
	if r := update(t, m, ButtonUp{Button: 0}); !r.Empty() {
		t.Fatalf("latch release produced %+v", r)
	}

	if r := update(t, m, ButtonDown{Button: 1}); !r.Empty() {
		t.Fatalf("on_release latch press produced %+v", r)
	}
	expectActions(t, "on_release latch", update(t, m, ButtonUp{Button: 1}).ToDo, release)
}

func TestMachine_ToggleAlternates(t *testing.T) {
	a := mustAction(t, "set", "bass", 1)
	m := newTestMachine(t, map[string]ModeMapping{
		defaultModeName: {Buttons: map[int][]Binding{3: {{Action: a, Behavior: BehaviorToggle}}}},
	}, nil, nil)

	want := []string{"do", "undo", "do", "undo"}
	for i, w := range want {
		r := update(t, m, ButtonDown{Button: 3})
		switch w {
		case "do":
			expectActions(t, "toggle do", r.ToDo, a)
			expectActions(t, "toggle do", r.ToUndo)
		case "undo":
			expectActions(t, "toggle undo", r.ToDo)
			expectActions(t, "toggle undo", r.ToUndo, a)
		}
		if got := m.ToggleState(defaultModeName, "buttons", "3", 0); got != (w == "do") {
			t.Fatalf("press %d: toggle state = %v", i, got)
		}
		if r := update(t, m, ButtonUp{Button: 3}); !r.Empty() {
			t.Fatalf("toggle release produced %+v", r)
		}
	}
}

func TestMachine_DeviceBinding(t *testing.T) {
	a := mustAction(t, "set", "harmony", 1)
	m, err := NewMachine(MachineConfig{Mappings: map[string]ModeMapping{
		defaultModeName: {Buttons: map[int][]Binding{0: {{Action: a, Behavior: BehaviorMomentary}}}},
	}}, discardLogger())
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}

	// Only a button press binds.
	if r := update(t, m, ButtonUp{Device: 2, Button: 0}, AxisMotion{Device: 2, Axis: 0}); !r.Empty() {
		t.Fatalf("unbound events produced %+v", r)
	}
	if m.ActiveDevice() != noDevice {
		t.Fatalf("bound to %d without a press", m.ActiveDevice())
	}

	expectActions(t, "binding press", update(t, m, ButtonDown{Device: 2, Button: 0}).ToDo, a)
	if m.ActiveDevice() != 2 {
		t.Fatalf("active device = %d, want 2", m.ActiveDevice())
	}

	if r := update(t, m, ButtonDown{Device: 3, Button: 0}); !r.Empty() {
		t.Fatalf("other device produced %+v", r)
	}

	m.SetActiveDevice(noDevice)
	update(t, m, ButtonDown{Device: 3, Button: 0})
	if m.ActiveDevice() != 3 {
		t.Fatalf("expected rebinding to device 3, got %d", m.ActiveDevice())
	}
}

func hatMappings(t *testing.T) (map[string]ModeMapping, map[Vector]Action) {
	t.Helper()
	acts := map[Vector]Action{
		VectorUp:      mustAction(t, "play_scale_position", 0),
		VectorRight:   mustAction(t, "play_scale_position", 3),
		VectorUpRight: mustAction(t, "play_scale_position", 2),
	}
	hats := make(map[string][]Binding)
	for v, a := range acts {
		hats[hatKey(0, v)] = []Binding{{Action: a, Behavior: BehaviorMomentary}}
	}
	return map[string]ModeMapping{defaultModeName: {Hats: hats}}, acts
}

func TestMachine_HatReleasesBeforePress(t *testing.T) {
	mappings, acts := hatMappings(t)
	m := newTestMachine(t, mappings, nil, nil)

	r := update(t, m, HatMotion{Hat: 0, Vector: VectorUp})
	expectActions(t, "up do", r.ToDo, acts[VectorUp])

	r = update(t, m, HatMotion{Hat: 0, Vector: VectorRight})
	expectActions(t, "up->right undo", r.ToUndo, acts[VectorUp])
	expectActions(t, "up->right do", r.ToDo, acts[VectorRight])

	r = update(t, m, HatMotion{Hat: 0, Vector: VectorNeutral})
	expectActions(t, "right->neutral undo", r.ToUndo, acts[VectorRight])
	expectActions(t, "right->neutral do", r.ToDo)

	if m.LastHatVector(0) != VectorNeutral {
		t.Fatalf("last vector = %v", m.LastHatVector(0))
	}
}

func TestMachine_HatEasyDiagonals(t *testing.T) {
	mappings, acts := hatMappings(t)
	m := newTestMachine(t, mappings, nil, map[int]HatCalibration{0: {EasyDiagonals: true}})

	expectActions(t, "diagonal do", update(t, m, HatMotion{Vector: VectorUpRight}).ToDo, acts[VectorUpRight])

	// Rolling off the diagonal onto an adjacent cardinal is ignored.
	if r := update(t, m, HatMotion{Vector: VectorRight}); !r.Empty() {
		t.Fatalf("expected suppression, got %+v", r)
	}
	if got := m.LastHatVector(0); got != VectorUpRight {
		t.Fatalf("last vector = %v, want %v", got, VectorUpRight)
	}

	r := update(t, m, HatMotion{Vector: VectorNeutral})
	expectActions(t, "diagonal release", r.ToUndo, acts[VectorUpRight])
}

func TestMachine_HatWithoutEasyDiagonals(t *testing.T) {
	mappings, acts := hatMappings(t)
	m := newTestMachine(t, mappings, nil, nil)

	update(t, m, HatMotion{Vector: VectorUpRight})
	r := update(t, m, HatMotion{Vector: VectorRight})
	expectActions(t, "undo", r.ToUndo, acts[VectorUpRight])
	expectActions(t, "do", r.ToDo, acts[VectorRight])
}

func TestMachine_HatLatchAndOnRelease(t *testing.T) {
	stage := mustAction(t, "set_next", "tonic", 5)
	commit := mustAction(t, "commit", "tonic")
	m := newTestMachine(t, map[string]ModeMapping{
		defaultModeName: {Hats: map[string][]Binding{
			hatKey(0, VectorLeft): {
				{Action: stage, Behavior: BehaviorLatch},
				{Action: commit, Behavior: BehaviorLatch, OnRelease: true},
			},
		}},
	}, nil, nil)

	r := update(t, m, HatMotion{Vector: VectorLeft})
	expectActions(t, "enter", r.ToDo, stage)

	r = update(t, m, HatMotion{Vector: VectorNeutral})
	expectActions(t, "leave", r.ToDo, commit)
	expectActions(t, "leave undo", r.ToUndo)
}

func TestMachine_Axis(t *testing.T) {
	prefix := mustPrefix(t, "set", "velocity")
	m := newTestMachine(t, map[string]ModeMapping{
		defaultModeName: {Axes: map[int][]Binding{
			2: {{Action: prefix, Transform: AxisTransform{ValueAtMin: 0, ValueAtMax: 10, Curve: 1}}},
			4: {{Action: prefix, Transform: AxisTransform{ValueAtMin: 0, ValueAtMax: 10, Curve: 1}}},
		}},
	}, map[int]AxisCalibration{4: {Min: -1, Max: 1, Uncalibrated: true}}, nil)

	// Axis 2 uses the default -1..1 range.
	expectActions(t, "axis 2", update(t, m, AxisMotion{Axis: 2, Value: 0}).ToDo, prefix.WithValue(5.0))

	// The first reading of an uncalibrated axis is dropped.
	if r := update(t, m, AxisMotion{Axis: 4, Value: 0}); !r.Empty() {
		t.Fatalf("first uncalibrated reading produced %+v", r)
	}
	expectActions(t, "axis 4", update(t, m, AxisMotion{Axis: 4, Value: 1}).ToDo, prefix.WithValue(10.0))

	// Unmapped axis.
	if r := update(t, m, AxisMotion{Axis: 0, Value: 0.5}); !r.Empty() {
		t.Fatalf("unmapped axis produced %+v", r)
	}
}

func TestMachine_AxisOutOfCalibratedRange(t *testing.T) {
	prefix := mustPrefix(t, "set", "velocity")
	m := newTestMachine(t, map[string]ModeMapping{
		defaultModeName: {Axes: map[int][]Binding{
			0: {{Action: prefix, Transform: AxisTransform{ValueAtMin: 0, ValueAtMax: 127, Curve: 1}}},
		}},
	}, nil, nil)

	_, err := m.Update([]InputEvent{AxisMotion{Axis: 0, Value: 2}})
	if !errors.Is(err, ErrInvalidNormalizedInput) {
		t.Fatalf("expected ErrInvalidNormalizedInput, got %v", err)
	}
}

func TestMachine_ModeSwitchChangesMapping(t *testing.T) {
	a := mustAction(t, "set", "harmony", 1)
	b := mustAction(t, "set", "harmony", 2)
	m := newTestMachine(t, map[string]ModeMapping{
		defaultModeName: {Buttons: map[int][]Binding{0: {{Action: a, Behavior: BehaviorMomentary}}}},
		"alt":           {Buttons: map[int][]Binding{0: {{Action: b, Behavior: BehaviorMomentary}}}},
	}, nil, nil)

	if err := m.Set(modeKey, "alt"); err != nil {
		t.Fatalf("Set mode: %v", err)
	}
	if v, _ := m.Get(modeKey); v != "alt" {
		t.Fatalf("mode = %v", v)
	}
	expectActions(t, "alt mode", update(t, m, ButtonDown{Button: 0}).ToDo, b)

	if err := m.Set(modeKey, "missing"); err == nil {
		t.Fatalf("expected unknown mode to fail")
	}
	if err := m.Set(modeKey, 1.0); err == nil {
		t.Fatalf("expected non-string mode to fail")
	}
	if err := m.Set("octave", "alt"); !errors.Is(err, ErrUnknownAttribute) {
		t.Fatalf("expected ErrUnknownAttribute, got %v", err)
	}
	if got := m.Modes(); len(got) != 2 || got[0] != "alt" || got[1] != defaultModeName {
		t.Fatalf("Modes = %v", got)
	}
}

func TestMachine_InitialModeMustExist(t *testing.T) {
	_, err := NewMachine(MachineConfig{
		Mappings:    map[string]ModeMapping{"alt": {}},
		InitialMode: "missing",
	}, discardLogger())
	if err == nil {
		t.Fatalf("expected error for missing initial mode")
	}
	if _, err := NewMachine(MachineConfig{Mappings: map[string]ModeMapping{"alt": {}}}, discardLogger()); err == nil {
		t.Fatalf("expected error when the default mode is missing")
	}
}

func TestMachine_MappedActionsIncludesAxisEnds(t *testing.T) {
	prefix := mustPrefix(t, "send_control_value", 1)
	m := newTestMachine(t, map[string]ModeMapping{
		defaultModeName: {
			Buttons: map[int][]Binding{0: {{Action: mustAction(t, "set", "bass", 1)}}},
			Axes:    map[int][]Binding{3: {{Action: prefix, Transform: AxisTransform{ValueAtMin: 127, ValueAtMax: 0, Curve: 1}}}},
		},
	}, nil, nil)

	got := m.MappedActions()
	expectActions(t, "mapped", got,
		mustAction(t, "set", "bass", 1),
		mustAction(t, "send_control_value", 1, 127),
		mustAction(t, "send_control_value", 1, 0),
	)
}
