package main

import (
	"errors"
	"fmt"
	"log/slog"
)

// ============================================================================
// Controller - wires the Machine's responses into the Invoker
// ============================================================================
// Construction registers every action the mapping table can produce, seeds
// a baseline entry in each set-family undo stack, and runs startup actions.
//
// Update runs one batch: the Machine produces a Response, then every ToUndo
// action is undone and every ToDo action is done, in that order.
// ============================================================================

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	// StackLimit is the undo depth limit of every group. Zero uses the default.
	StackLimit int
	// Startup actions run once, after seeding.
	Startup []Action
	Logger  *slog.Logger
}

// InstrumentTarget is the target every non-mode action runs against.
type InstrumentTarget interface {
	PendingTarget
	PlayerTarget
	ControlTarget
}

// stateReporter is implemented by targets that can describe themselves for
// snapshots.
type stateReporter interface {
	State() InstrumentState
}

type Controller struct {
	logger     *slog.Logger
	machine    *Machine
	instrument InstrumentTarget
	invoker    *Invoker
	stackLimit int
}

func NewController(machine *Machine, instrument InstrumentTarget, opts ControllerOptions) (*Controller, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.StackLimit
	if limit <= 0 {
		limit = defaultStackLimit
	}

	c := &Controller{
		logger:     logger,
		machine:    machine,
		instrument: instrument,
		invoker:    NewInvoker(logger),
		stackLimit: limit,
	}

	// Groups needing a baseline, in discovery order. The first action seen
	// for each group is kept as its template.
	var seeds []*Command
	seen := make(map[GroupKey]bool)

	for _, a := range machine.MappedActions() {
		cmd, err := c.invoker.Register(c.targetFor(a), a, limit)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", a, err)
		}
		if !needsBaseline(cmd) || seen[cmd.Group()] || len(c.invoker.Stack(cmd.Group())) > 0 {
			continue
		}
		seen[cmd.Group()] = true
		seeds = append(seeds, cmd)
	}

	for _, tmpl := range seeds {
		base, err := baselineAction(tmpl)
		if err != nil {
			return nil, err
		}
		if _, err := c.invoker.Do(tmpl.Target(), base, DoOptions{AutoRegister: true, StackLimit: limit}); err != nil {
			return nil, fmt.Errorf("seed %s: %w", base, err)
		}
		logger.Debug("seeded undo baseline", "group", string(tmpl.Group()), "action", base.String())
	}

	if len(opts.Startup) > 0 {
		c.execute(Response{ToDo: opts.Startup})
	}

	return c, nil
}

// needsBaseline reports whether undoing cmd relies on an earlier entry in
// its stack.
func needsBaseline(cmd *Command) bool {
	if cmd.HasRevert() {
		return false
	}
	switch cmd.Action().Kind {
	case KindSet, KindSetNext, KindMode:
		return true
	}
	return false
}

// baselineAction builds the action restoring tmpl's attribute to its
// current value. A set_next baseline stages the current value, so undoing
// back to it and committing leaves the attribute unchanged.
func baselineAction(tmpl *Command) (Action, error) {
	a := tmpl.Action()
	key := a.AttributeKey()
	t := tmpl.Target()

	switch a.Kind {
	case KindMode:
		cur, err := t.Get(modeKey)
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: KindMode, Params: []any{cur}}, nil

	default:
		cur, err := t.Get(key)
		if err != nil {
			return Action{}, fmt.Errorf("baseline for %s: %w", a, err)
		}
		return Action{Kind: a.Kind, Params: []any{key, cur}}, nil
	}
}

func (c *Controller) targetFor(a Action) Target {
	if a.Kind == KindMode {
		return c.machine
	}
	return c.instrument
}

// Update runs one batch of input events to completion.
func (c *Controller) Update(events []InputEvent) (Response, error) {
	r, err := c.machine.Update(events)
	if err != nil {
		return Response{}, err
	}
	c.execute(r)
	return r, nil
}

func (c *Controller) execute(r Response) {
	for _, a := range r.ToUndo {
		if _, err := c.invoker.Undo(c.targetFor(a), a); err != nil {
			if isUndoPathError(err) {
				c.logger.Debug("undo skipped", "action", a.String(), "reason", err)
				continue
			}
			c.logger.Warn("undo failed", "action", a.String(), "error", err)
		}
	}
	for _, a := range r.ToDo {
		opts := DoOptions{AutoRegister: true, StackLimit: c.stackLimit}
		if _, err := c.invoker.Do(c.targetFor(a), a, opts); err != nil {
			c.logger.Warn("action failed", "action", a.String(), "error", err)
		}
	}
}

// Invoker exposes the registry, mainly for inspection.
func (c *Controller) Invoker() *Invoker { return c.invoker }

func (c *Controller) Machine() *Machine { return c.machine }

func (c *Controller) Instrument() InstrumentTarget { return c.instrument }

// SelectDevice rebinds the active controller.
func (c *Controller) SelectDevice(device int) {
	c.machine.SetActiveDevice(device)
}

// DeviceRemoved unbinds device if it is the active one and silences any
// notes it left sounding.
func (c *Controller) DeviceRemoved(device int) bool {
	if c.machine.ActiveDevice() != device {
		return false
	}
	c.machine.SetActiveDevice(noDevice)
	if err := c.Panic(); err != nil {
		c.logger.Warn("release after device removal failed", "error", err)
	}
	return true
}

// Panic releases all sounding notes.
func (c *Controller) Panic() error {
	if err := c.instrument.Release(); err != nil {
		return fmt.Errorf("release notes: %w", err)
	}
	return nil
}

// StateSnapshot is an immutable copy of controller state for external
// consumers.
type StateSnapshot struct {
	Mode         string          `json:"mode"`
	ActiveDevice int             `json:"active_device"`
	Instrument   InstrumentState `json:"instrument"`
}

func (c *Controller) Snapshot() StateSnapshot {
	snap := StateSnapshot{
		Mode:         c.machine.Mode(),
		ActiveDevice: c.machine.ActiveDevice(),
	}
	if r, ok := c.instrument.(stateReporter); ok {
		snap.Instrument = r.State()
	}
	return snap
}

// isFatalBatchError reports whether a batch error should stop the daemon.
func isFatalBatchError(err error) bool {
	return errors.Is(err, ErrInvalidNormalizedInput)
}
