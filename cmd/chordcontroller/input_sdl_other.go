//go:build nosdl

package main

import (
	"context"
	"errors"
	"log/slog"
)

// errSDLUnavailable is returned by every SDL entry point in builds tagged
// nosdl. The sdl package loads libSDL3 in its init, so these builds never
// import it.
var errSDLUnavailable = errors.New("SDL input is not compiled in (built with -tags nosdl)")

type sdlReader struct{}

func newSDLReader(events chan<- Event, pollHz int, logger *slog.Logger) *sdlReader {
	return &sdlReader{}
}

func (r *sdlReader) Run(ctx context.Context) error {
	return errSDLUnavailable
}

func listSDLControllers() ([]ControllerInfo, error) {
	return nil, errSDLUnavailable
}
