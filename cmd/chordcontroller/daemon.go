package main

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// The daemon goroutine is the only owner of the Controller. Everything else
// (input readers, IPC, the state websocket) talks to it through the events
// channel.
//
// Input events are drained into batches: the loop blocks for the first event
// and then takes whatever is already queued, up to a cap, without blocking.
// A batch runs to completion before the next one starts.
//
// Control events split batches so they apply in arrival order.
//
// ============================================================================

// StateBroadcast is emitted by the daemon loop whenever the observable
// controller state changes.
type StateBroadcast interface {
	stateBroadcastMarker()
}

// BroadcastStateChanged carries the new state.
type BroadcastStateChanged struct {
	State StateSnapshot
	At    time.Time
}

func (BroadcastStateChanged) stateBroadcastMarker() {}

// BroadcastDeviceChanged reports controller connect/disconnect.
type BroadcastDeviceChanged struct {
	Device    int
	Name      string
	Connected bool
	At        time.Time
}

func (BroadcastDeviceChanged) stateBroadcastMarker() {}

// DaemonOptions configures runDaemon.
type DaemonOptions struct {
	// BatchSize caps the events applied in one batch. Zero uses the default.
	BatchSize int
	// Broadcasts receives state changes; may be nil.
	Broadcasts chan<- StateBroadcast
}

// runDaemon is the main daemon loop.
//
// Shutdown semantics:
//   - Returns nil when ctx is canceled or the events channel is closed
//   - Returns an error when a batch fails fatally (invalid axis input)
func runDaemon(ctx context.Context, events <-chan Event, ctrl *Controller, opts DaemonOptions, logger *slog.Logger) error {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultEventBatch
	}

	d := &daemon{
		ctrl:       ctrl,
		broadcasts: opts.Broadcasts,
		logger:     logger,
		last:       ctrl.Snapshot(),
		batch:      make([]InputEvent, 0, batchSize),
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return nil

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return nil
			}
			if err := d.handle(ev); err != nil {
				return err
			}

			// Drain without blocking.
		drain:
			for n := 1; n < batchSize; n++ {
				select {
				case ev, ok := <-events:
					if !ok {
						break drain
					}
					if err := d.handle(ev); err != nil {
						return err
					}
				default:
					break drain
				}
			}

			if err := d.flush(); err != nil {
				return err
			}
		}
	}
}

type daemon struct {
	ctrl       *Controller
	broadcasts chan<- StateBroadcast
	logger     *slog.Logger

	last  StateSnapshot
	batch []InputEvent
}

// handle queues input events and applies control events immediately, after
// flushing the queued input.
func (d *daemon) handle(ev Event) error {
	if in, ok := ev.(InputEvent); ok {
		d.batch = append(d.batch, in)
		return nil
	}

	if err := d.flush(); err != nil {
		return err
	}

	switch e := ev.(type) {
	case RequestStateSnapshot:
		if e.Reply != nil {
			// Reply is expected to be buffered.
			select {
			case e.Reply <- d.ctrl.Snapshot():
			default:
			}
		}

	case SelectDevice:
		d.logger.Info("controller selected", "device", e.Device)
		d.ctrl.SelectDevice(e.Device)
		d.publishIfChanged()

	case DeviceAdded:
		d.logger.Info("controller connected", "device", e.Device, "name", e.Name)
		d.send(BroadcastDeviceChanged{Device: e.Device, Name: e.Name, Connected: true, At: time.Now().UTC()})

	case DeviceRemoved:
		if d.ctrl.DeviceRemoved(e.Device) {
			d.logger.Warn("active controller disconnected", "device", e.Device)
		}
		d.send(BroadcastDeviceChanged{Device: e.Device, Connected: false, At: time.Now().UTC()})
		d.publishIfChanged()

	default:
		d.logger.Debug("ignoring event", "type", fmt.Sprintf("%T", ev))
	}
	return nil
}

// flush applies the queued input events as one batch.
func (d *daemon) flush() error {
	if len(d.batch) == 0 {
		return nil
	}
	batch := d.batch
	d.batch = d.batch[:0]

	r, err := d.ctrl.Update(batch)
	if err != nil {
		if isFatalBatchError(err) {
			return fmt.Errorf("apply input batch: %w", err)
		}
		d.logger.Warn("input batch failed", "error", err)
		return nil
	}
	if !r.Empty() {
		d.logger.Debug("batch applied", "events", len(batch), "do", len(r.ToDo), "undo", len(r.ToUndo))
	}
	d.publishIfChanged()
	return nil
}

func (d *daemon) publishIfChanged() {
	snap := d.ctrl.Snapshot()
	if snap.Equal(d.last) {
		return
	}
	d.last = snap
	d.send(BroadcastStateChanged{State: snap, At: time.Now().UTC()})
}

// send never blocks; a full broadcast queue drops the update.
func (d *daemon) send(b StateBroadcast) {
	if d.broadcasts == nil {
		return
	}
	select {
	case d.broadcasts <- b:
	default:
		d.logger.Debug("broadcast queue full, dropping update")
	}
}

// Equal reports whether two snapshots describe the same state.
func (s StateSnapshot) Equal(o StateSnapshot) bool {
	return reflect.DeepEqual(s, o)
}
