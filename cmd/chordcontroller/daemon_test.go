package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newDaemonTestController(t *testing.T) *Controller {
	t.Helper()
	prefix := mustPrefix(t, "set", AttrVelocity)
	machine := newTestMachine(t, map[string]ModeMapping{
		defaultModeName: {
			Buttons: map[int][]Binding{0: {{Action: mustAction(t, "set", AttrQualityModifier, 1), Behavior: BehaviorMomentary}}},
			Hats:    map[string][]Binding{hatKey(0, VectorUp): {{Action: mustAction(t, "play_scale_position", 0), Behavior: BehaviorMomentary}}},
			Axes:    map[int][]Binding{0: {{Action: prefix, Transform: AxisTransform{ValueAtMin: 0, ValueAtMax: 127, Curve: 1}}}},
		},
	}, nil, nil)
	in, _ := newTestInstrument(t)
	ctrl, err := NewController(machine, in, ControllerOptions{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return ctrl
}

func startDaemon(t *testing.T, ctrl *Controller, events chan Event, broadcasts chan StateBroadcast) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runDaemon(ctx, events, ctrl, DaemonOptions{Broadcasts: broadcasts}, discardLogger())
	}()
	return cancel, done
}

func waitDaemon(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for daemon to stop")
		return nil
	}
}

func snapshotVia(t *testing.T, events chan<- Event) StateSnapshot {
	t.Helper()
	snap, err := requestSnapshot(context.Background(), events, time.Second)
	if err != nil {
		t.Fatalf("requestSnapshot: %v", err)
	}
	return snap
}

func TestDaemon_AppliesInputAndBroadcasts(t *testing.T) {
	ctrl := newDaemonTestController(t)
	events := make(chan Event, 16)
	broadcasts := make(chan StateBroadcast, 16)
	cancel, done := startDaemon(t, ctrl, events, broadcasts)
	defer cancel()

	events <- ButtonDown{Device: 0, Button: 0}

	select {
	case b := <-broadcasts:
		sc, ok := b.(BroadcastStateChanged)
		if !ok {
			t.Fatalf("expected BroadcastStateChanged, got %T", b)
		}
		if sc.State.Instrument.QualityModifier != 1 {
			t.Fatalf("broadcast state = %+v", sc.State.Instrument)
		}
		if sc.At.IsZero() {
			t.Fatalf("broadcast has no timestamp")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for state broadcast")
	}

	if snap := snapshotVia(t, events); snap.Instrument.QualityModifier != 1 {
		t.Fatalf("snapshot = %+v", snap.Instrument)
	}

	cancel()
	if err := waitDaemon(t, done); err != nil {
		t.Fatalf("runDaemon: %v", err)
	}
}

func TestDaemon_NoBroadcastWithoutChange(t *testing.T) {
	ctrl := newDaemonTestController(t)
	events := make(chan Event, 16)
	broadcasts := make(chan StateBroadcast, 16)
	cancel, done := startDaemon(t, ctrl, events, broadcasts)
	defer cancel()

	// Unmapped input and a snapshot request leave state untouched.
	events <- ButtonDown{Device: 0, Button: 7}
	snapshotVia(t, events)

	select {
	case b := <-broadcasts:
		t.Fatalf("unexpected broadcast %#v", b)
	default:
	}

	cancel()
	_ = waitDaemon(t, done)
}

func TestDaemon_DeviceEvents(t *testing.T) {
	ctrl := newDaemonTestController(t)
	events := make(chan Event, 16)
	broadcasts := make(chan StateBroadcast, 16)
	cancel, done := startDaemon(t, ctrl, events, broadcasts)
	defer cancel()

	events <- DeviceAdded{Device: 4, Name: "Pad"}
	select {
	case b := <-broadcasts:
		dc, ok := b.(BroadcastDeviceChanged)
		if !ok || dc.Device != 4 || dc.Name != "Pad" || !dc.Connected {
			t.Fatalf("got %#v", b)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for device broadcast")
	}

	// Removing the bound controller unbinds it.
	events <- DeviceRemoved{Device: 0}
	var sawDevice, sawState bool
	for !(sawDevice && sawState) {
		select {
		case b := <-broadcasts:
			switch ev := b.(type) {
			case BroadcastDeviceChanged:
				sawDevice = !ev.Connected && ev.Device == 0
			case BroadcastStateChanged:
				sawState = ev.State.ActiveDevice == noDevice
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for removal broadcasts (device=%v state=%v)", sawDevice, sawState)
		}
	}

	events <- SelectDevice{Device: 2}
	if snap := snapshotVia(t, events); snap.ActiveDevice != 2 {
		t.Fatalf("active device = %d, want 2", snap.ActiveDevice)
	}

	cancel()
	_ = waitDaemon(t, done)
}

func TestDaemon_InvalidAxisInputIsFatal(t *testing.T) {
	ctrl := newDaemonTestController(t)
	events := make(chan Event, 16)
	cancel, done := startDaemon(t, ctrl, events, nil)
	defer cancel()

	events <- AxisMotion{Device: 0, Axis: 0, Value: 3}

	err := waitDaemon(t, done)
	if !errors.Is(err, ErrInvalidNormalizedInput) {
		t.Fatalf("expected ErrInvalidNormalizedInput, got %v", err)
	}
}

func TestDaemon_StopsWhenEventsClosed(t *testing.T) {
	ctrl := newDaemonTestController(t)
	events := make(chan Event)
	cancel, done := startDaemon(t, ctrl, events, nil)
	defer cancel()

	close(events)
	if err := waitDaemon(t, done); err != nil {
		t.Fatalf("runDaemon: %v", err)
	}
}

func TestDaemon_ControlEventsSplitBatches(t *testing.T) {
	ctrl := newDaemonTestController(t)
	d := &daemon{ctrl: ctrl, logger: discardLogger(), last: ctrl.Snapshot()}

	if err := d.handle(ButtonDown{Device: 0, Button: 0}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(d.batch) != 1 {
		t.Fatalf("batch = %d events, want 1", len(d.batch))
	}
	if got := instrumentOf(t, ctrl).State().QualityModifier; got != 0 {
		t.Fatalf("input applied before flush")
	}

	// The selection must see the press applied first.
	if err := d.handle(SelectDevice{Device: 5}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(d.batch) != 0 {
		t.Fatalf("batch not flushed")
	}
	if got := instrumentOf(t, ctrl).State().QualityModifier; got != 1 {
		t.Fatalf("quality_modifier = %d, want 1", got)
	}

	// Input from the old device no longer applies.
	_ = d.handle(ButtonUp{Device: 0, Button: 0})
	if err := d.flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := instrumentOf(t, ctrl).State().QualityModifier; got != 1 {
		t.Fatalf("release from unbound device applied")
	}
}

func TestDaemon_FullBroadcastQueueDrops(t *testing.T) {
	ctrl := newDaemonTestController(t)
	broadcasts := make(chan StateBroadcast, 1)
	d := &daemon{ctrl: ctrl, broadcasts: broadcasts, logger: discardLogger(), last: ctrl.Snapshot()}

	d.send(BroadcastDeviceChanged{Device: 1})
	d.send(BroadcastDeviceChanged{Device: 2})
	if got := (<-broadcasts).(BroadcastDeviceChanged).Device; got != 1 {
		t.Fatalf("kept %d, want the first broadcast", got)
	}
}
