package main

import (
	"bytes"
	"testing"

	"gitlab.com/gomidi/midi/v2"
)

func TestMIDISink_EncodesChannelMessages(t *testing.T) {
	var sent []midi.Message
	s := &midiSink{
		send: func(msg midi.Message) error {
			sent = append(sent, msg)
			return nil
		},
		channel: 2,
		logger:  discardLogger(),
	}

	if err := s.NoteOn(60, 100); err != nil {
		t.Fatalf("NoteOn: %v", err)
	}
	if err := s.NoteOff(60); err != nil {
		t.Fatalf("NoteOff: %v", err)
	}
	if err := s.ControlChange(1, 64); err != nil {
		t.Fatalf("ControlChange: %v", err)
	}

	want := [][]byte{
		{0x92, 60, 100},
		{0x82, 60, 0},
		{0xB2, 1, 64},
	}
	if len(sent) != len(want) {
		t.Fatalf("sent %d messages, want %d", len(sent), len(want))
	}
	for i := range want {
		if !bytes.Equal(sent[i], want[i]) {
			t.Errorf("message %d = % X, want % X", i, []byte(sent[i]), want[i])
		}
	}

	var ch, key, vel uint8
	if !sent[0].GetNoteOn(&ch, &key, &vel) || ch != 2 || key != 60 || vel != 100 {
		t.Fatalf("GetNoteOn = ch %d key %d vel %d", ch, key, vel)
	}
}

func TestMIDISink_SendErrorsAreWrapped(t *testing.T) {
	s := &midiSink{
		send:   func(midi.Message) error { return errBoom },
		logger: discardLogger(),
	}
	if err := s.NoteOn(60, 1); err == nil {
		t.Fatalf("expected error")
	}

	// A closed sink refuses writes.
	s.send = nil
	if err := s.NoteOff(60); err == nil {
		t.Fatalf("expected error after close")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close on closed sink: %v", err)
	}
}

func TestOpenNoteSink_Log(t *testing.T) {
	sink, err := openNoteSink(MIDIConfig{Output: "log"}, discardLogger())
	if err != nil {
		t.Fatalf("openNoteSink: %v", err)
	}
	if _, ok := sink.(logSink); !ok {
		t.Fatalf("got %T, want logSink", sink)
	}
	if err := sink.NoteOn(60, 100); err != nil {
		t.Fatalf("NoteOn: %v", err)
	}
	if _, err := openNoteSink(MIDIConfig{Output: "osc"}, discardLogger()); err == nil {
		t.Fatalf("expected unknown output to fail")
	}
}
