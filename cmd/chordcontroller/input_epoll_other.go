//go:build !linux

package main

import (
	"context"
	"errors"
	"log/slog"
)

func runEvdevInput(ctx context.Context, paths []string, events chan<- Event, logger *slog.Logger) error {
	return errors.New("evdev input is only supported on linux")
}
