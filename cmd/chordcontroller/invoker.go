package main

import (
	"errors"
	"fmt"
	"log/slog"
)

// ============================================================================
// Invoker - command registry and per-group undo stacks
// ============================================================================
// Commands are deduplicated by identity key and cached for the lifetime of
// the Invoker. Every group has its own undo stack, most recent first. A
// command occurs at most once in its stack; doing it again moves it to the
// front.
//
// Undo of a command that has no revert restores state by re-executing the
// entry underneath it, which is why set-family groups are seeded with a
// baseline entry by the Controller.
// ============================================================================

var (
	ErrUnregisteredCommand = errors.New("unregistered command")
	ErrNoSuchCommand       = errors.New("no such command")
	ErrUndoEmptyStack      = errors.New("command not in undo stack")
	ErrUnrevertibleBottom  = errors.New("command has no revert and is the only entry in its undo stack")
)

// isUndoPathError reports whether err is one of the expected undo failures.
func isUndoPathError(err error) bool {
	return errors.Is(err, ErrNoSuchCommand) ||
		errors.Is(err, ErrUndoEmptyStack) ||
		errors.Is(err, ErrUnrevertibleBottom)
}

// DoOptions controls registration behavior of Invoker.Do.
type DoOptions struct {
	// AutoRegister registers unknown commands instead of failing.
	AutoRegister bool
	// StackLimit is the depth limit recorded for auto-registered commands.
	StackLimit int
}

type Invoker struct {
	logger   *slog.Logger
	commands map[string]*Command
	stacks   map[GroupKey][]*Command
	limits   map[GroupKey]int
}

func NewInvoker(logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		logger:   logger,
		commands: make(map[string]*Command),
		stacks:   make(map[GroupKey][]*Command),
		limits:   make(map[GroupKey]int),
	}
}

// Register returns the command for (t, a), creating it if needed. A
// positive limit is recorded as the depth limit of the command's group.
func (inv *Invoker) Register(t Target, a Action, limit int) (*Command, error) {
	if cmd, ok := inv.commands[commandKey(t.Name(), a)]; ok {
		return cmd, nil
	}
	cmd, err := newCommand(t, a)
	if err != nil {
		return nil, err
	}
	inv.commands[cmd.key] = cmd
	if _, ok := inv.stacks[cmd.group]; !ok {
		inv.stacks[cmd.group] = nil
	}
	if limit > 0 {
		inv.limits[cmd.group] = limit
	}
	return cmd, nil
}

// Lookup returns the registered command for (t, a).
func (inv *Invoker) Lookup(t Target, a Action) (*Command, bool) {
	cmd, ok := inv.commands[commandKey(t.Name(), a)]
	return cmd, ok
}

// Remove forgets a command and drops it from its stack.
func (inv *Invoker) Remove(t Target, a Action) {
	cmd, ok := inv.Lookup(t, a)
	if !ok {
		return
	}
	delete(inv.commands, cmd.key)
	if i := indexOf(inv.stacks[cmd.group], cmd); i >= 0 {
		inv.stacks[cmd.group] = removeAt(inv.stacks[cmd.group], i)
	}
}

// Stack returns a copy of a group's undo stack, most recent first.
func (inv *Invoker) Stack(g GroupKey) []*Command {
	s := inv.stacks[g]
	out := make([]*Command, len(s))
	copy(out, s)
	return out
}

// HasStack reports whether a group has been created by registration.
func (inv *Invoker) HasStack(g GroupKey) bool {
	_, ok := inv.stacks[g]
	return ok
}

// Limit returns a group's depth limit; 0 means unbounded.
func (inv *Invoker) Limit(g GroupKey) int {
	return inv.limits[g]
}

// Do executes the command for (t, a) and pushes it onto its group's stack.
func (inv *Invoker) Do(t Target, a Action, opts DoOptions) (*Command, error) {
	cmd, ok := inv.Lookup(t, a)
	if !ok {
		if !opts.AutoRegister {
			return nil, fmt.Errorf("%w: %s:%s", ErrUnregisteredCommand, t.Name(), a)
		}
		var err error
		if cmd, err = inv.Register(t, a, opts.StackLimit); err != nil {
			return nil, err
		}
	}

	// The limit applies to the stack as it stands, old copy of cmd
	// included; the move to front happens after execution.
	stack := inv.stacks[cmd.group]
	if limit := inv.limits[cmd.group]; limit > 0 {
		for len(stack) >= limit {
			evicted := stack[len(stack)-1]
			var err error
			stack, err = inv.forceUndoBottom(stack)
			if err != nil {
				inv.stacks[cmd.group] = stack
				return nil, fmt.Errorf("evict %s: %w", evicted, err)
			}
			inv.logger.Debug("evicted command", "command", evicted.String(), "group", string(cmd.group))
		}
	}

	if err := cmd.Execute(); err != nil {
		inv.stacks[cmd.group] = stack
		return nil, fmt.Errorf("execute %s: %w", cmd, err)
	}

	if i := indexOf(stack, cmd); i >= 0 {
		stack = removeAt(stack, i)
	}
	inv.stacks[cmd.group] = append([]*Command{cmd}, stack...)
	inv.logger.Debug("did command", "command", cmd.String(), "depth", len(inv.stacks[cmd.group]))
	return cmd, nil
}

// Undo reverses the command for (t, a) and removes it from its stack.
func (inv *Invoker) Undo(t Target, a Action) (*Command, error) {
	cmd, ok := inv.Lookup(t, a)
	if !ok {
		return nil, fmt.Errorf("%w: %s:%s", ErrNoSuchCommand, t.Name(), a)
	}

	stack := inv.stacks[cmd.group]
	i := indexOf(stack, cmd)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUndoEmptyStack, cmd)
	}

	next, err := inv.undoAt(stack, i)
	if err != nil {
		return nil, err
	}
	inv.stacks[cmd.group] = next
	inv.logger.Debug("undid command", "command", cmd.String(), "depth", len(next))
	return cmd, nil
}

// undoAt reverses stack[i] and returns the stack without it.
func (inv *Invoker) undoAt(stack []*Command, i int) ([]*Command, error) {
	cmd := stack[i]
	switch {
	case cmd.HasRevert():
		if err := cmd.Revert(); err != nil {
			return stack, fmt.Errorf("revert %s: %w", cmd, err)
		}
	case i == 0:
		if len(stack) == 1 {
			return stack, fmt.Errorf("%w: %s", ErrUnrevertibleBottom, cmd)
		}
		if err := stack[1].Execute(); err != nil {
			return stack, fmt.Errorf("restore %s: %w", stack[1], err)
		}
	}
	return removeAt(stack, i), nil
}

// forceUndoBottom evicts the oldest entry. A sole entry without a revert
// has no earlier state to restore and is dropped as is.
func (inv *Invoker) forceUndoBottom(stack []*Command) ([]*Command, error) {
	next, err := inv.undoAt(stack, len(stack)-1)
	if errors.Is(err, ErrUnrevertibleBottom) {
		return stack[:len(stack)-1], nil
	}
	return next, err
}

func indexOf(stack []*Command, cmd *Command) int {
	for i, c := range stack {
		if c == cmd {
			return i
		}
	}
	return -1
}

func removeAt(stack []*Command, i int) []*Command {
	out := make([]*Command, 0, len(stack)-1)
	out = append(out, stack[:i]...)
	return append(out, stack[i+1:]...)
}
