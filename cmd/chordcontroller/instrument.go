package main

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ============================================================================
// Instrument - the chord-playing command target
// ============================================================================
// The instrument owns the musical attributes mappings write to, a pending
// map for staged values (set_next / commit), and the set of currently
// sounding notes. Notes go out through a NoteSink.
// ============================================================================

// Instrument attribute names.
const (
	AttrOctave            = "octave"
	AttrTonic             = "tonic"
	AttrTonicOffset       = "tonic_offset"
	AttrBass              = "bass"
	AttrHarmony           = "harmony"
	AttrVoicing           = "voicing"
	AttrQualityModifier   = "quality_modifier"
	AttrExtensionModifier = "extension_modifier"
	AttrVelocity          = "velocity"
)

const instrumentTargetName = "instrument"

var ErrUnknownAttribute = errors.New("unknown attribute")

// NoteSink receives the instrument's MIDI output.
type NoteSink interface {
	NoteOn(key, velocity uint8) error
	NoteOff(key uint8) error
	ControlChange(number, value uint8) error
	Close() error
}

// InstrumentDefaults are the initial attribute values.
type InstrumentDefaults struct {
	Octave   int     `yaml:"octave"`
	Velocity float64 `yaml:"velocity"`
}

type Instrument struct {
	logger *slog.Logger
	sink   NoteSink

	octave            int
	tonic             int
	tonicOffset       int
	bass              int
	harmony           int
	voicing           int
	qualityModifier   int
	extensionModifier int
	velocity          float64

	pending map[string]any
	chord   []int
	playing map[int]struct{}
}

func NewInstrument(sink NoteSink, defaults InstrumentDefaults, logger *slog.Logger) *Instrument {
	if logger == nil {
		logger = slog.Default()
	}
	in := &Instrument{
		logger:   logger,
		sink:     sink,
		velocity: defaults.Velocity,
		pending:  make(map[string]any),
		playing:  make(map[int]struct{}),
	}
	in.octave = floorMod(defaults.Octave, 9)
	return in
}

func (in *Instrument) Name() string { return instrumentTargetName }

func (in *Instrument) Get(key string) (any, error) {
	switch key {
	case AttrOctave:
		return float64(in.octave), nil
	case AttrTonic:
		return float64(in.tonic), nil
	case AttrTonicOffset:
		return float64(in.tonicOffset), nil
	case AttrBass:
		return float64(in.bass), nil
	case AttrHarmony:
		return float64(in.harmony), nil
	case AttrVoicing:
		return float64(in.voicing), nil
	case AttrQualityModifier:
		return float64(in.qualityModifier), nil
	case AttrExtensionModifier:
		return float64(in.extensionModifier), nil
	case AttrVelocity:
		return in.velocity, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAttribute, key)
	}
}

func (in *Instrument) Set(key string, value any) error {
	if key == AttrVelocity {
		f, err := toFloat(value)
		if err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		in.velocity = f
		return nil
	}

	if key == AttrTonic {
		if sd, ok := value.(ScaleDegree); ok {
			in.tonic = in.tonicFromScaleDegree(sd)
			return nil
		}
	}

	dst := in.intAttr(key)
	if dst == nil {
		return fmt.Errorf("%w: %q", ErrUnknownAttribute, key)
	}
	n, err := toInt(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	switch key {
	case AttrOctave:
		n = floorMod(n, 9)
	case AttrBass:
		n = floorMod(n, 3)
	case AttrTonic:
		n = floorMod(n, 12)
	}
	*dst = n
	return nil
}

func (in *Instrument) intAttr(key string) *int {
	switch key {
	case AttrOctave:
		return &in.octave
	case AttrTonic:
		return &in.tonic
	case AttrTonicOffset:
		return &in.tonicOffset
	case AttrBass:
		return &in.bass
	case AttrHarmony:
		return &in.harmony
	case AttrVoicing:
		return &in.voicing
	case AttrQualityModifier:
		return &in.qualityModifier
	case AttrExtensionModifier:
		return &in.extensionModifier
	}
	return nil
}

func (in *Instrument) tonicFromScaleDegree(sd ScaleDegree) int {
	return floorMod(scalePositions[sd.Degree].RootPitch+in.tonic+in.tonicOffset, 12)
}

// SetNext stages value for key. A nil value clears the staged value.
func (in *Instrument) SetNext(key string, value any) error {
	if _, err := in.Get(key); err != nil {
		return err
	}
	if value == nil {
		delete(in.pending, key)
		return nil
	}
	if sd, ok := value.(ScaleDegree); ok && key == AttrTonic && sd.CalculateImmediately {
		value = float64(in.tonicFromScaleDegree(sd))
	}
	in.pending[key] = value
	return nil
}

// Commit moves the staged value for key onto the attribute. Without a
// staged value it does nothing.
func (in *Instrument) Commit(key string) error {
	v, ok := in.pending[key]
	if !ok {
		return nil
	}
	delete(in.pending, key)
	return in.Set(key, v)
}

func (in *Instrument) Pending(key string) (any, bool) {
	v, ok := in.pending[key]
	return v, ok
}

func (in *Instrument) modifiers() ChordModifiers {
	return ChordModifiers{
		Tonic:             in.tonic,
		TonicOffset:       in.tonicOffset,
		Octave:            in.octave,
		QualityModifier:   in.qualityModifier,
		ExtensionModifier: in.extensionModifier,
		Voicing:           in.voicing,
		Bass:              in.bass,
	}
}

// PlayScalePosition releases sounding notes, then plays the chord for
// position under the current modifiers.
func (in *Instrument) PlayScalePosition(position int) error {
	if position < 0 || position >= len(scalePositions) {
		return fmt.Errorf("scale position %d out of range", position)
	}
	in.chord = ConstructChord(position, in.modifiers())
	if err := in.Release(); err != nil {
		return err
	}
	return in.noteOn(in.chord)
}

// Release silences all sounding notes.
func (in *Instrument) Release() error {
	var firstErr error
	for _, p := range in.PlayingNotes() {
		if err := in.sink.NoteOff(uint8(p)); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("note off %d: %w", p, err)
		}
		delete(in.playing, p)
	}
	return firstErr
}

func (in *Instrument) noteOn(pitches []int) error {
	vel := clampMIDI(in.velocity)
	if vel == 0 {
		return nil
	}
	var firstErr error
	for _, p := range pitches {
		if p < 0 || p > 127 {
			in.logger.Debug("skipping out of range pitch", "pitch", p)
			continue
		}
		if err := in.sink.NoteOn(uint8(p), vel); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("note on %d: %w", p, err)
			}
			continue
		}
		in.playing[p] = struct{}{}
	}
	return firstErr
}

func (in *Instrument) SendControlValue(number, value float64) error {
	return in.sink.ControlChange(clampMIDI(number), clampMIDI(value))
}

// PlayingNotes returns the sounding pitches in ascending order.
func (in *Instrument) PlayingNotes() []int {
	out := make([]int, 0, len(in.playing))
	for p := range in.playing {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// InstrumentState is a copy of the instrument's observable state.
type InstrumentState struct {
	Octave            int            `json:"octave"`
	Tonic             int            `json:"tonic"`
	TonicOffset       int            `json:"tonic_offset"`
	Bass              int            `json:"bass"`
	Harmony           int            `json:"harmony"`
	Voicing           int            `json:"voicing"`
	QualityModifier   int            `json:"quality_modifier"`
	ExtensionModifier int            `json:"extension_modifier"`
	Velocity          float64        `json:"velocity"`
	Pending           map[string]any `json:"pending,omitempty"`
	Chord             []int          `json:"chord,omitempty"`
	PlayingNotes      []int          `json:"playing_notes"`
}

func (in *Instrument) State() InstrumentState {
	var pending map[string]any
	if len(in.pending) > 0 {
		pending = make(map[string]any, len(in.pending))
		for k, v := range in.pending {
			pending[k] = v
		}
	}
	return InstrumentState{
		Octave:            in.octave,
		Tonic:             in.tonic,
		TonicOffset:       in.tonicOffset,
		Bass:              in.bass,
		Harmony:           in.harmony,
		Voicing:           in.voicing,
		QualityModifier:   in.qualityModifier,
		ExtensionModifier: in.extensionModifier,
		Velocity:          in.velocity,
		Pending:           pending,
		Chord:             append([]int(nil), in.chord...),
		PlayingNotes:      in.PlayingNotes(),
	}
}

func clampMIDI(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 127:
		return 127
	default:
		return uint8(v)
	}
}

// toInt converts an attribute value to an int, truncating numbers.
// Strings must hold an integer literal.
func toInt(v any) (int, error) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("invalid number %v", x)
		}
		return int(math.Trunc(x)), nil
	case int:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("invalid integer %q", x)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("cannot use %T as an integer", v)
	}
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot use %T as a number", v)
	}
}
