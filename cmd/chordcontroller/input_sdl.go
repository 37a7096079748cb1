//go:build !nosdl

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/jupiterrider/purego-sdl3/sdl"
)

// ============================================================================
// SDL3 Joystick Input
// ============================================================================
// sdlReader opens every connected joystick and translates SDL joystick
// events into daemon events. Device numbers are SDL joystick instance IDs.
//
// Axis values are scaled from int16 to [-1,1]. Hat bitmasks become vectors
// with up and right positive.
// ============================================================================

type sdlReader struct {
	logger    *slog.Logger
	events    chan<- Event
	pollDelay time.Duration
	joysticks map[sdl.JoystickID]*sdl.Joystick
}

func newSDLReader(events chan<- Event, pollHz int, logger *slog.Logger) *sdlReader {
	if pollHz <= 0 {
		pollHz = defaultPollHz
	}
	return &sdlReader{
		logger:    logger,
		events:    events,
		pollDelay: time.Second / time.Duration(pollHz),
		joysticks: make(map[sdl.JoystickID]*sdl.Joystick),
	}
}

// Run initializes SDL and polls events until ctx is canceled. SDL calls stay
// on one OS thread.
func (r *sdlReader) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if !sdl.Init(sdl.InitJoystick) {
		return fmt.Errorf("SDL init: %s", sdl.GetError())
	}
	defer sdl.Quit()

	r.logger.Info("SDL joystick subsystem initialized")

	for _, id := range sdl.GetJoysticks() {
		r.open(ctx, id)
	}
	defer r.closeAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := r.processEvents(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		sdl.DelayNS(uint64(r.pollDelay.Nanoseconds()))
	}
}

func (r *sdlReader) processEvents(ctx context.Context) error {
	var event sdl.Event
	for sdl.PollEvent(&event) {
		var ev Event

		switch event.Type() {
		case sdl.EventJoystickAdded:
			r.open(ctx, event.JDevice().Which)

		case sdl.EventJoystickRemoved:
			which := event.JDevice().Which
			r.close(which)
			ev = DeviceRemoved{Device: int(which)}

		case sdl.EventJoystickButtonDown:
			be := event.JButton()
			ev = ButtonDown{Device: int(be.Which), Button: int(be.Button)}

		case sdl.EventJoystickButtonUp:
			be := event.JButton()
			ev = ButtonUp{Device: int(be.Which), Button: int(be.Button)}

		case sdl.EventJoystickAxisMotion:
			ae := event.JAxis()
			ev = AxisMotion{Device: int(ae.Which), Axis: int(ae.Axis), Value: normalizeSDLAxis(ae.Value)}

		case sdl.EventJoystickHatMotion:
			he := event.JHat()
			ev = HatMotion{Device: int(he.Which), Hat: int(he.Hat), Vector: hatVector(he.Value)}
		}

		if ev == nil {
			continue
		}
		if err := r.emit(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (r *sdlReader) emit(ctx context.Context, ev Event) error {
	select {
	case r.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *sdlReader) open(ctx context.Context, id sdl.JoystickID) {
	if _, exists := r.joysticks[id]; exists {
		return
	}
	js := sdl.OpenJoystick(id)
	if js == nil {
		r.logger.Warn("failed to open joystick", "id", id, "error", sdl.GetError())
		return
	}
	jsID := sdl.GetJoystickID(js)
	name := sdl.GetJoystickName(js)
	r.joysticks[jsID] = js

	r.logger.Info("joystick connected", "id", jsID, "name", name)
	_ = r.emit(ctx, DeviceAdded{Device: int(jsID), Name: name})
}

func (r *sdlReader) close(id sdl.JoystickID) {
	js, exists := r.joysticks[id]
	if !exists {
		return
	}
	r.logger.Info("joystick disconnected", "id", id)
	sdl.CloseJoystick(js)
	delete(r.joysticks, id)
}

func (r *sdlReader) closeAll() {
	for id, js := range r.joysticks {
		sdl.CloseJoystick(js)
		delete(r.joysticks, id)
	}
}

// listSDLControllers returns the connected joysticks.
func listSDLControllers() ([]ControllerInfo, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if !sdl.Init(sdl.InitJoystick) {
		return nil, fmt.Errorf("SDL init: %s", sdl.GetError())
	}
	defer sdl.Quit()

	var out []ControllerInfo
	for _, id := range sdl.GetJoysticks() {
		js := sdl.OpenJoystick(id)
		if js == nil {
			continue
		}
		out = append(out, ControllerInfo{Device: int(sdl.GetJoystickID(js)), Name: sdl.GetJoystickName(js)})
		sdl.CloseJoystick(js)
	}
	return out, nil
}
