package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// ============================================================================
// MIDI Output
// ============================================================================
// NoteSink implementations the Instrument writes to:
//   - midiSink sends channel voice messages through rtmidi, either on a
//     virtual output port or on an existing port matched by name
//   - logSink only logs, for running without a MIDI backend
// ============================================================================

type midiSink struct {
	mu      sync.Mutex
	drv     *rtmididrv.Driver
	out     drivers.Out
	send    func(msg midi.Message) error
	channel uint8
	logger  *slog.Logger
}

// openMIDISink opens the configured output. An empty cfg.Port creates a
// virtual port named cfg.VirtualName.
func openMIDISink(cfg MIDIConfig, logger *slog.Logger) (*midiSink, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}

	var out drivers.Out
	if cfg.Port == "" {
		out, err = drv.OpenVirtualOut(cfg.VirtualName)
		if err != nil {
			drv.Close()
			return nil, fmt.Errorf("open virtual out %q: %w", cfg.VirtualName, err)
		}
	} else {
		out, err = findOutPort(drv, cfg.Port)
		if err != nil {
			drv.Close()
			return nil, err
		}
		if err := out.Open(); err != nil {
			drv.Close()
			return nil, fmt.Errorf("open %q: %w", out.String(), err)
		}
	}

	send, err := midi.SendTo(out)
	if err != nil {
		_ = out.Close()
		drv.Close()
		return nil, fmt.Errorf("send to %q: %w", out.String(), err)
	}

	logger.Info("MIDI output opened", "port", out.String(), "channel", cfg.Channel)

	return &midiSink{
		drv:     drv,
		out:     out,
		send:    send,
		channel: uint8(cfg.Channel),
		logger:  logger,
	}, nil
}

// findOutPort returns the first output whose name contains name
// (case-insensitive).
func findOutPort(drv *rtmididrv.Driver, name string) (drivers.Out, error) {
	outs, err := drv.Outs()
	if err != nil {
		return nil, fmt.Errorf("list MIDI outputs: %w", err)
	}
	want := strings.ToLower(name)
	for _, out := range outs {
		if strings.Contains(strings.ToLower(out.String()), want) {
			return out, nil
		}
	}
	return nil, fmt.Errorf("no MIDI output matching %q", name)
}

// listMIDIOutputs returns the names of all MIDI output ports.
func listMIDIOutputs() ([]string, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}
	defer drv.Close()

	outs, err := drv.Outs()
	if err != nil {
		return nil, fmt.Errorf("list MIDI outputs: %w", err)
	}
	names := make([]string, 0, len(outs))
	for _, out := range outs {
		names = append(names, out.String())
	}
	return names, nil
}

func (s *midiSink) NoteOn(key, velocity uint8) error {
	return s.write(midi.NoteOn(s.channel, key, velocity))
}

func (s *midiSink) NoteOff(key uint8) error {
	return s.write(midi.NoteOff(s.channel, key))
}

func (s *midiSink) ControlChange(number, value uint8) error {
	return s.write(midi.ControlChange(s.channel, number, value))
}

func (s *midiSink) write(msg midi.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.send == nil {
		return fmt.Errorf("MIDI output closed")
	}
	if err := s.send(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg, err)
	}
	s.logger.Debug("MIDI sent", "msg", msg.String())
	return nil
}

func (s *midiSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.send == nil {
		return nil
	}
	s.send = nil
	err := s.out.Close()
	s.drv.Close()
	return err
}

// logSink logs notes instead of sending them.
type logSink struct {
	logger *slog.Logger
}

func (s logSink) NoteOn(key, velocity uint8) error {
	s.logger.Info("note on", "key", key, "velocity", velocity)
	return nil
}

func (s logSink) NoteOff(key uint8) error {
	s.logger.Info("note off", "key", key)
	return nil
}

func (s logSink) ControlChange(number, value uint8) error {
	s.logger.Info("control change", "number", number, "value", value)
	return nil
}

func (s logSink) Close() error { return nil }

// openNoteSink builds the sink selected by cfg.Output.
func openNoteSink(cfg MIDIConfig, logger *slog.Logger) (NoteSink, error) {
	switch cfg.Output {
	case "log":
		return logSink{logger: logger}, nil
	case "rtmidi":
		return openMIDISink(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown MIDI output %q", cfg.Output)
	}
}
