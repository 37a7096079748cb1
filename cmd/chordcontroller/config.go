package main

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config is the top-level YAML configuration for the chordcontroller daemon.
//
// The mapping part (calibration, mappings, startup) comes from the embedded
// defaults.yaml unless the config file supplies its own mappings.
type Config struct {
	// Controller input source
	Input InputConfig `yaml:"input"`

	// MIDI output
	MIDI MIDIConfig `yaml:"midi"`

	// Initial instrument attributes
	Instrument InstrumentDefaults `yaml:"instrument"`

	// Undo engine and mode settings
	Controller ControllerConfig `yaml:"controller"`

	AxisCalibration map[int]AxisCalibrationConfig `yaml:"axis_calibration"`
	HatCalibration  map[int]HatCalibrationConfig  `yaml:"hat_calibration"`
	Mappings        map[string]ModeMappingConfig  `yaml:"mappings"`

	// Actions run once at startup, e.g. [[send_control_value, 1, 0]]
	Startup [][]any `yaml:"startup"`

	// IPC configuration (chordctl)
	IPC IPCConfig `yaml:"ipc"`

	// HTTP server for the state websocket
	HTTP HTTPConfig `yaml:"http"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type InputConfig struct {
	Source     string   `yaml:"source"`            // "sdl", "evdev" or "none"
	Devices    []string `yaml:"devices,omitempty"` // evdev device paths
	Controller int      `yaml:"controller"`        // device to bind at startup; -1 binds on first button press
	PollHz     int      `yaml:"poll_hz"`
}

type MIDIConfig struct {
	Output      string `yaml:"output"`       // "rtmidi" or "log"
	Port        string `yaml:"port"`         // substring of an existing output port; empty opens a virtual port
	VirtualName string `yaml:"virtual_name"` // name of the virtual port
	Channel     int    `yaml:"channel"`      // 0-15
}

type ControllerConfig struct {
	StackLimit  int    `yaml:"stack_limit"`
	InitialMode string `yaml:"initial_mode"`
}

type AxisCalibrationConfig struct {
	Min          float64 `yaml:"min"`
	Max          float64 `yaml:"max"`
	Uncalibrated bool    `yaml:"uncalibrated,omitempty"`
}

type HatCalibrationConfig struct {
	EasyDiagonals bool `yaml:"easy_diagonals"`
}

type ModeMappingConfig struct {
	Buttons map[int][]BindingConfig    `yaml:"buttons,omitempty"`
	Hats    map[string][]BindingConfig `yaml:"hats,omitempty"`
	Axes    map[int][]BindingConfig    `yaml:"axes,omitempty"`
}

// BindingConfig is one binding as written in YAML. The axis fields apply to
// axis bindings only.
type BindingConfig struct {
	Do        []any  `yaml:"do"`
	Behavior  string `yaml:"behavior,omitempty"`
	OnRelease bool   `yaml:"on_release,omitempty"`

	ValueAtMin *float64  `yaml:"value_at_min,omitempty"`
	ValueAtMax *float64  `yaml:"value_at_max,omitempty"`
	Curve      *float64  `yaml:"curve,omitempty"`
	Inclusive  *bool     `yaml:"inclusive,omitempty"`
	Steps      []float64 `yaml:"steps,omitempty"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"` // empty disables IPC
}

type HTTPConfig struct {
	Listen string `yaml:"listen"` // e.g. "127.0.0.1:3002"; empty disables
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// mappingDocument is the subset of Config carried by defaults.yaml.
type mappingDocument struct {
	AxisCalibration map[int]AxisCalibrationConfig `yaml:"axis_calibration"`
	HatCalibration  map[int]HatCalibrationConfig  `yaml:"hat_calibration"`
	Mappings        map[string]ModeMappingConfig  `yaml:"mappings"`
	Startup         [][]any                       `yaml:"startup"`
}

func defaultMappings() mappingDocument {
	var doc mappingDocument
	dec := yaml.NewDecoder(bytes.NewReader(defaultsYAML))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		panic(fmt.Sprintf("embedded defaults.yaml: %v", err))
	}
	return doc
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	doc := defaultMappings()
	return Config{
		Input: InputConfig{
			Source:     "sdl",
			Controller: noDevice,
			PollHz:     defaultPollHz,
		},
		MIDI: MIDIConfig{
			Output:      "rtmidi",
			VirtualName: "Chord Controller",
			Channel:     0,
		},
		Instrument: InstrumentDefaults{
			Octave:   defaultOctave,
			Velocity: defaultVelocity,
		},
		Controller: ControllerConfig{
			StackLimit:  defaultStackLimit,
			InitialMode: defaultModeName,
		},
		AxisCalibration: doc.AxisCalibration,
		HatCalibration:  doc.HatCalibration,
		Mappings:        doc.Mappings,
		Startup:         doc.Startup,
		IPC: IPCConfig{
			SocketPath: "/tmp/chordcontroller.sock",
		},
		HTTP: HTTPConfig{
			Listen: "",
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Notes:
//   - Unknown fields are rejected (helps catch typos) via KnownFields(true).
//   - A file with its own mappings replaces the default mappings and startup
//     actions entirely; calibration entries are merged per axis/hat.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	defaults := DefaultConfig()

	cfg := defaults
	cfg.Mappings = nil
	cfg.Startup = nil

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Ensure there's no trailing garbage (only whitespace/comments are allowed after the document).
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	if cfg.Mappings == nil {
		cfg.Mappings = defaults.Mappings
		if cfg.Startup == nil {
			cfg.Startup = defaults.Startup
		}
	}

	return cfg, nil
}

// FlagOverrides holds values from explicitly set command-line flags.
//
// Flags should pass pointers; each override is only applied if non-nil.
type FlagOverrides struct {
	InputSource   *string
	Controller    *int
	MIDIOutput    *string
	MIDIPort      *string
	IPCSocketPath *string
	HTTPListen    *string
	LogLevel      *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is ignored.
// If the pointer is non-nil, the value is applied (even if it is a “zero value”).
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.InputSource != nil {
		cfg.Input.Source = *o.InputSource
	}
	if o.Controller != nil {
		cfg.Input.Controller = *o.Controller
	}
	if o.MIDIOutput != nil {
		cfg.MIDI.Output = *o.MIDIOutput
	}
	if o.MIDIPort != nil {
		cfg.MIDI.Port = *o.MIDIPort
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPListen != nil {
		cfg.HTTP.Listen = *o.HTTPListen
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Input
	switch c.Input.Source {
	case "sdl", "none":
	case "evdev":
		if len(c.Input.Devices) == 0 {
			return errors.New("input.devices must not be empty when input.source is evdev")
		}
		for i, dev := range c.Input.Devices {
			if dev == "" {
				return fmt.Errorf("input.devices[%d] is empty", i)
			}
		}
	default:
		return fmt.Errorf("input.source must be one of sdl, evdev, none (got %q)", c.Input.Source)
	}
	if c.Input.PollHz <= 0 || c.Input.PollHz > 1000 {
		return errors.New("input.poll_hz must be between 1 and 1000")
	}

	// MIDI
	switch c.MIDI.Output {
	case "rtmidi", "log":
	default:
		return fmt.Errorf("midi.output must be rtmidi or log (got %q)", c.MIDI.Output)
	}
	if c.MIDI.Channel < 0 || c.MIDI.Channel > 15 {
		return errors.New("midi.channel must be between 0 and 15")
	}
	if c.MIDI.Output == "rtmidi" && c.MIDI.Port == "" && c.MIDI.VirtualName == "" {
		return errors.New("midi.virtual_name must not be empty when midi.port is unset")
	}

	// Instrument
	if c.Instrument.Velocity < 0 || c.Instrument.Velocity > 127 {
		return errors.New("instrument.velocity must be between 0 and 127")
	}

	// Controller
	if c.Controller.StackLimit < 0 {
		return errors.New("controller.stack_limit must be >= 0")
	}
	if len(c.Mappings) == 0 {
		return errors.New("mappings must not be empty")
	}
	if _, ok := c.Mappings[c.initialMode()]; !ok {
		return fmt.Errorf("controller.initial_mode %q has no entry in mappings", c.initialMode())
	}

	// Calibration
	for axis, cal := range c.AxisCalibration {
		if cal.Max == cal.Min {
			return fmt.Errorf("axis_calibration.%d: min and max must differ", axis)
		}
	}

	// Mappings and startup actions
	if _, err := c.MachineConfig(); err != nil {
		return err
	}
	if _, err := c.StartupActions(); err != nil {
		return err
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

func (c *Config) initialMode() string {
	if c.Controller.InitialMode == "" {
		return defaultModeName
	}
	return c.Controller.InitialMode
}

// MachineConfig compiles the mapping part of the config.
func (c *Config) MachineConfig() (MachineConfig, error) {
	mc := MachineConfig{
		Mappings:        make(map[string]ModeMapping, len(c.Mappings)),
		AxisCalibration: make(map[int]AxisCalibration, len(c.AxisCalibration)),
		HatCalibration:  make(map[int]HatCalibration, len(c.HatCalibration)),
		InitialMode:     c.initialMode(),
	}
	for axis, cal := range c.AxisCalibration {
		mc.AxisCalibration[axis] = AxisCalibration{Min: cal.Min, Max: cal.Max, Uncalibrated: cal.Uncalibrated}
	}
	for hat, cal := range c.HatCalibration {
		mc.HatCalibration[hat] = HatCalibration{EasyDiagonals: cal.EasyDiagonals}
	}

	for _, name := range sortedKeys(c.Mappings) {
		src := c.Mappings[name]
		mm := ModeMapping{
			Buttons: make(map[int][]Binding, len(src.Buttons)),
			Hats:    make(map[string][]Binding, len(src.Hats)),
			Axes:    make(map[int][]Binding, len(src.Axes)),
		}
		for button, bcs := range src.Buttons {
			bs, err := c.compileBindings(bcs, false, fmt.Sprintf("mappings.%s.buttons.%d", name, button))
			if err != nil {
				return MachineConfig{}, err
			}
			mm.Buttons[button] = bs
		}
		hatOrigin := make(map[string]string, len(src.Hats))
		for _, key := range sortedKeys(src.Hats) {
			canon, err := parseHatKey(key)
			if err != nil {
				return MachineConfig{}, fmt.Errorf("mappings.%s.hats: %w", name, err)
			}
			if prev, dup := hatOrigin[canon]; dup {
				return MachineConfig{}, fmt.Errorf("mappings.%s.hats: hat keys %q and %q both mean %q", name, prev, key, canon)
			}
			hatOrigin[canon] = key
			bs, err := c.compileBindings(src.Hats[key], false, fmt.Sprintf("mappings.%s.hats.%s", name, key))
			if err != nil {
				return MachineConfig{}, err
			}
			mm.Hats[canon] = bs
		}
		for axis, bcs := range src.Axes {
			bs, err := c.compileBindings(bcs, true, fmt.Sprintf("mappings.%s.axes.%d", name, axis))
			if err != nil {
				return MachineConfig{}, err
			}
			mm.Axes[axis] = bs
		}
		mc.Mappings[name] = mm
	}
	return mc, nil
}

func (c *Config) compileBindings(bcs []BindingConfig, axis bool, path string) ([]Binding, error) {
	out := make([]Binding, 0, len(bcs))
	for i, bc := range bcs {
		b, err := c.compileBinding(bc, axis)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", path, i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (c *Config) compileBinding(bc BindingConfig, axis bool) (Binding, error) {
	var b Binding

	switch Behavior(bc.Behavior) {
	case "", BehaviorMomentary:
		b.Behavior = BehaviorMomentary
	case BehaviorLatch, BehaviorToggle:
		b.Behavior = Behavior(bc.Behavior)
	default:
		return Binding{}, fmt.Errorf("behavior must be momentary, latch or toggle (got %q)", bc.Behavior)
	}
	b.OnRelease = bc.OnRelease

	if !axis {
		a, err := ParseAction(bc.Do)
		if err != nil {
			return Binding{}, err
		}
		if err := c.checkModeAction(a); err != nil {
			return Binding{}, err
		}
		b.Action = a
		return b, nil
	}

	a, err := parseActionPrefix(bc.Do)
	if err != nil {
		return Binding{}, err
	}
	if bc.ValueAtMin == nil || bc.ValueAtMax == nil {
		return Binding{}, errors.New("axis bindings need value_at_min and value_at_max")
	}
	if err := a.WithValue(*bc.ValueAtMin).Validate(); err != nil {
		return Binding{}, err
	}
	t := AxisTransform{
		ValueAtMin: *bc.ValueAtMin,
		ValueAtMax: *bc.ValueAtMax,
		Curve:      1,
		Inclusive:  true,
	}
	if bc.Curve != nil {
		if *bc.Curve <= 0 {
			return Binding{}, fmt.Errorf("curve must be greater than 0 (got %v)", *bc.Curve)
		}
		t.Curve = *bc.Curve
	}
	if bc.Inclusive != nil {
		t.Inclusive = *bc.Inclusive
	}
	if len(bc.Steps) > 0 {
		t.Steps = append([]float64(nil), bc.Steps...)
		sort.Float64s(t.Steps)
	}
	b.Action = a
	b.Transform = t
	return b, nil
}

func (c *Config) checkModeAction(a Action) error {
	if a.Kind != KindMode {
		return nil
	}
	name, _ := a.Value().(string)
	if _, ok := c.Mappings[name]; !ok {
		return fmt.Errorf("mode %q has no entry in mappings", name)
	}
	return nil
}

// StartupActions parses the startup action list.
func (c *Config) StartupActions() ([]Action, error) {
	out := make([]Action, 0, len(c.Startup))
	for i, raw := range c.Startup {
		a, err := ParseAction(raw)
		if err != nil {
			return nil, fmt.Errorf("startup[%d]: %w", i, err)
		}
		if err := c.checkModeAction(a); err != nil {
			return nil, fmt.Errorf("startup[%d]: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// parseHatKey validates a "<hat>:<x>:<y>" key and returns its canonical form.
func parseHatKey(key string) (string, error) {
	parts := strings.Split(strings.TrimSpace(key), ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("hat key %q must look like <hat>:<x>:<y>", key)
	}
	n := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return "", fmt.Errorf("hat key %q: %w", key, err)
		}
		n[i] = v
	}
	if n[0] < 0 || n[1] < -1 || n[1] > 1 || n[2] < -1 || n[2] > 1 {
		return "", fmt.Errorf("hat key %q out of range", key)
	}
	return hatKey(n[0], Vector{n[1], n[2]}), nil
}

// ExpandPath expands a leading "~" to the user's home directory.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return p
		}
		if p == "~" {
			return home
		}
		return filepath.Join(home, p[2:])
	}
	return p
}

// defaultConfigPath is the per-user config file location.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "ChordController.yaml"
	}
	return filepath.Join(dir, "chordcontroller", "ChordController.yaml")
}
