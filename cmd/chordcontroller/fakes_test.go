package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSink records everything the instrument sends.
type fakeSink struct {
	ons  []noteMsg
	offs []uint8
	ccs  [2][]uint8

	noteOnErr error
	closed    bool
}

type noteMsg struct {
	key      uint8
	velocity uint8
}

func (s *fakeSink) NoteOn(key, velocity uint8) error {
	if s.noteOnErr != nil {
		return s.noteOnErr
	}
	s.ons = append(s.ons, noteMsg{key, velocity})
	return nil
}

func (s *fakeSink) NoteOff(key uint8) error {
	s.offs = append(s.offs, key)
	return nil
}

func (s *fakeSink) ControlChange(number, value uint8) error {
	s.ccs[0] = append(s.ccs[0], number)
	s.ccs[1] = append(s.ccs[1], value)
	return nil
}

func (s *fakeSink) Close() error {
	s.closed = true
	return nil
}

func (s *fakeSink) onKeys() []int {
	out := make([]int, 0, len(s.ons))
	for _, m := range s.ons {
		out = append(out, int(m.key))
	}
	return out
}

func (s *fakeSink) reset() {
	s.ons = nil
	s.offs = nil
	s.ccs = [2][]uint8{}
}

// fakeTarget is a Target with free-form attributes. Every key in attrs is
// known; anything else is rejected.
type fakeTarget struct {
	name    string
	attrs   map[string]any
	pending map[string]any

	played   []int
	releases int
	cc       [][2]float64

	setErr error
}

func newFakeTarget(name string, attrs map[string]any) *fakeTarget {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return &fakeTarget{name: name, attrs: attrs, pending: map[string]any{}}
}

func (f *fakeTarget) Name() string { return f.name }

func (f *fakeTarget) Get(key string) (any, error) {
	v, ok := f.attrs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAttribute, key)
	}
	return v, nil
}

func (f *fakeTarget) Set(key string, value any) error {
	if f.setErr != nil {
		return f.setErr
	}
	if _, ok := f.attrs[key]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAttribute, key)
	}
	f.attrs[key] = value
	return nil
}

func (f *fakeTarget) SetNext(key string, value any) error {
	if value == nil {
		delete(f.pending, key)
		return nil
	}
	f.pending[key] = value
	return nil
}

func (f *fakeTarget) Commit(key string) error {
	v, ok := f.pending[key]
	if !ok {
		return nil
	}
	delete(f.pending, key)
	return f.Set(key, v)
}

func (f *fakeTarget) Pending(key string) (any, bool) {
	v, ok := f.pending[key]
	return v, ok
}

func (f *fakeTarget) PlayScalePosition(position int) error {
	f.played = append(f.played, position)
	return nil
}

func (f *fakeTarget) Release() error {
	f.releases++
	return nil
}

func (f *fakeTarget) SendControlValue(number, value float64) error {
	f.cc = append(f.cc, [2]float64{number, value})
	return nil
}

// plainTarget only has attributes.
type plainTarget struct{ f *fakeTarget }

func (p plainTarget) Name() string                    { return p.f.Name() }
func (p plainTarget) Get(key string) (any, error)     { return p.f.Get(key) }
func (p plainTarget) Set(key string, value any) error { return p.f.Set(key, value) }

func mustAction(t *testing.T, raw ...any) Action {
	t.Helper()
	a, err := ParseAction(raw)
	if err != nil {
		t.Fatalf("ParseAction(%v): %v", raw, err)
	}
	return a
}

func mustPrefix(t *testing.T, raw ...any) Action {
	t.Helper()
	a, err := parseActionPrefix(raw)
	if err != nil {
		t.Fatalf("parseActionPrefix(%v): %v", raw, err)
	}
	return a
}

var errBoom = errors.New("boom")

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
