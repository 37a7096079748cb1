package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if _, ok := cfg.Mappings["change_tonic"]; !ok {
		t.Fatalf("default mappings missing change_tonic mode")
	}
	if len(cfg.Startup) != 1 {
		t.Fatalf("default startup = %v", cfg.Startup)
	}
}

func TestDefaultConfig_CompilesBindings(t *testing.T) {
	cfg := DefaultConfig()
	mc, err := cfg.MachineConfig()
	if err != nil {
		t.Fatalf("MachineConfig: %v", err)
	}

	def := mc.Mappings[defaultModeName]
	if b := def.Buttons[ButtonA][0]; b.Behavior != BehaviorMomentary {
		t.Fatalf("unset behavior compiled to %q", b.Behavior)
	}
	voicing := def.Axes[AxisLTrigger][0]
	if voicing.Transform.Inclusive {
		t.Fatalf("voicing axis should be exclusive")
	}
	if len(voicing.Transform.Steps) != 4 || voicing.Transform.Curve != 1 {
		t.Fatalf("voicing transform = %+v", voicing.Transform)
	}
	if !mc.AxisCalibration[AxisRTrigger].Uncalibrated {
		t.Fatalf("right trigger should drop its first reading")
	}
	if !mc.HatCalibration[0].EasyDiagonals {
		t.Fatalf("hat 0 should use easy diagonals")
	}

	tonic := mc.Mappings["change_tonic"].Hats[hatKey(0, VectorRight)][0]
	sd, ok := tonic.Action.Value().(ScaleDegree)
	if !ok || sd.Degree != 3 || !sd.CalculateImmediately {
		t.Fatalf("change_tonic right = %s", tonic.Action)
	}
}

func TestParseConfig_KeepsDefaultMappings(t *testing.T) {
	cfg, err := parseConfig([]byte("midi:\n  output: log\nlogging:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.MIDI.Output != "log" || cfg.Logging.Level != "debug" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.MIDI.VirtualName != "Chord Controller" || cfg.Instrument.Octave != defaultOctave {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if len(cfg.Mappings) != 2 || len(cfg.Startup) != 1 {
		t.Fatalf("default mappings not kept: %d modes, %d startup", len(cfg.Mappings), len(cfg.Startup))
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseConfig_OwnMappingsReplaceDefaults(t *testing.T) {
	cfg, err := parseConfig([]byte(`
mappings:
  default:
    buttons:
      0: [{do: [set, octave, 3]}]
`))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if len(cfg.Mappings) != 1 {
		t.Fatalf("modes = %d, want 1", len(cfg.Mappings))
	}
	if len(cfg.Startup) != 0 {
		t.Fatalf("default startup kept with own mappings: %v", cfg.Startup)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseConfig_Rejects(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"unknown field", "bogus: 1\n"},
		{"unknown nested field", "midi:\n  outptu: log\n"},
		{"trailing document", "logging:\n  level: info\n---\nlogging:\n  level: debug\n"},
		{"wrong type", "controller:\n  stack_limit: lots\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseConfig([]byte(tc.yaml)); err == nil {
				t.Fatalf("expected parse error")
			}
		})
	}
}

func TestConfig_ValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"input source", "input:\n  source: joystick\n", "input.source"},
		{"evdev without devices", "input:\n  source: evdev\n", "input.devices"},
		{"poll rate", "input:\n  poll_hz: 0\n", "poll_hz"},
		{"midi output", "midi:\n  output: serial\n", "midi.output"},
		{"midi channel", "midi:\n  channel: 16\n", "midi.channel"},
		{"velocity", "instrument:\n  velocity: 200\n", "velocity"},
		{"stack limit", "controller:\n  stack_limit: -1\n", "stack_limit"},
		{"initial mode", "controller:\n  initial_mode: nope\n", "initial_mode"},
		{"log level", "logging:\n  level: loud\n", "logging.level"},
		{"flat axis calibration", "axis_calibration:\n  0: {min: 1, max: 1}\n", "axis_calibration.0"},
		{"bad hat key", `
mappings:
  default:
    hats:
      "0:2:0": [{do: [play_scale_position, 0]}]
`, "hat key"},
		{"malformed hat key", `
mappings:
  default:
    hats:
      "up": [{do: [play_scale_position, 0]}]
`, "hat key"},
		{"duplicate hat key", `
mappings:
  default:
    hats:
      "0:1:0": [{do: [play_scale_position, 0]}]
      "0:01:0": [{do: [play_scale_position, 1]}]
`, "both mean"},
		{"missing mode target", `
mappings:
  default:
    buttons:
      4: [{do: [mode, nope]}]
`, "nope"},
		{"bad behavior", `
mappings:
  default:
    buttons:
      0: [{do: [set, octave, 1], behavior: sticky}]
`, "behavior"},
		{"bad action", `
mappings:
  default:
    buttons:
      0: [{do: [play_scale_position, 9]}]
`, "buttons.0[0]"},
		{"axis without range", `
mappings:
  default:
    axes:
      0: [{do: [set, velocity]}]
`, "value_at_min"},
		{"axis curve", `
mappings:
  default:
    axes:
      0: [{do: [set, velocity], value_at_min: 0, value_at_max: 127, curve: 0}]
`, "curve"},
		{"startup action", "startup:\n  - [explode]\n", "startup[0]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := parseConfig([]byte(tc.yaml))
			if err != nil {
				t.Fatalf("parseConfig: %v", err)
			}
			err = cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestParseHatKey(t *testing.T) {
	got, err := parseHatKey(" 0 : 1 : -1 ")
	if err != nil {
		t.Fatalf("parseHatKey: %v", err)
	}
	if got != "0:1:-1" {
		t.Fatalf("canonical key = %q", got)
	}
	for _, bad := range []string{"0:1", "a:0:0", "-1:0:0", "0:0:2"} {
		if _, err := parseHatKey(bad); err == nil {
			t.Errorf("parseHatKey(%q): expected error", bad)
		}
	}
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := DefaultConfig()
	input := "none"
	controller := 2
	level := "debug"
	empty := ""
	FlagOverrides{
		InputSource:   &input,
		Controller:    &controller,
		IPCSocketPath: &empty,
		LogLevel:      &level,
	}.Apply(&cfg)

	if cfg.Input.Source != "none" || cfg.Input.Controller != 2 || cfg.Logging.Level != "debug" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.IPC.SocketPath != "" {
		t.Fatalf("explicit empty override not applied: %q", cfg.IPC.SocketPath)
	}
	if cfg.MIDI.Output != "rtmidi" {
		t.Fatalf("unset override changed midi.output to %q", cfg.MIDI.Output)
	}

	FlagOverrides{}.Apply(nil)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadConfigFile(filepath.Join(dir, "missing.yaml")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
	if _, err := LoadConfigFile(""); err == nil {
		t.Fatalf("expected error for empty path")
	}

	path := filepath.Join(dir, "ChordController.yaml")
	if err := os.WriteFile(path, []byte("http:\n  listen: 127.0.0.1:3002\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.HTTP.Listen != "127.0.0.1:3002" {
		t.Fatalf("listen = %q", cfg.HTTP.Listen)
	}
}

func TestLoadConfigOrDefaults(t *testing.T) {
	dir := t.TempDir()
	logger := discardLogger()

	cfg, err := loadConfigOrDefaults(filepath.Join(dir, "missing.yaml"), true, logger)
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if cfg.MIDI.Output != "rtmidi" {
		t.Fatalf("expected defaults, got %+v", cfg.MIDI)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("bogus: [\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := loadConfigOrDefaults(bad, true, logger); err == nil {
		t.Fatalf("expected error with quit on parse failure")
	}
	cfg, err = loadConfigOrDefaults(bad, false, logger)
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if len(cfg.Mappings) == 0 {
		t.Fatalf("expected default mappings on fallback")
	}
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got := ExpandPath("~/chord.sock"); got != filepath.Join(home, "chord.sock") {
		t.Fatalf("ExpandPath = %q", got)
	}
	if got := ExpandPath("~"); got != home {
		t.Fatalf("ExpandPath(~) = %q", got)
	}
	if got := ExpandPath("/tmp/x"); got != "/tmp/x" {
		t.Fatalf("ExpandPath = %q", got)
	}
}
