package main

import (
	"fmt"
	"strings"
)

// ============================================================================
// Commands - actions bound to a concrete target
// ============================================================================
// A Command pairs an Action with the Target it runs against. Commands are
// created once per identity by the Invoker and never mutated afterwards.
//
// What a command does is decided by a switch over its kind; the same goes
// for its undo group (see groupKey).
// ============================================================================

// Target is an object with named, gettable and settable attributes.
type Target interface {
	Name() string
	Get(key string) (any, error)
	Set(key string, value any) error
}

// PendingTarget stages values for later commit (set_next / commit).
type PendingTarget interface {
	Target
	SetNext(key string, value any) error
	Commit(key string) error
	Pending(key string) (any, bool)
}

// PlayerTarget plays and releases note clusters.
type PlayerTarget interface {
	PlayScalePosition(position int) error
	Release() error
}

// ControlTarget emits control-change style side effects.
type ControlTarget interface {
	SendControlValue(number, value float64) error
}

// GroupKey selects the undo stack a command belongs to.
type GroupKey string

// groupKey derives the undo group of a targeted action.
//
//	set, set_next, commit, mode -> (kind, target, key)
//	inc, dec                    -> (kind, target, key, delta)
//	play_scale_position         -> (kind, target)
//	send_control_value          -> (kind, target, control number)
func groupKey(target string, a Action) GroupKey {
	parts := []string{string(a.Kind), target}
	switch a.Kind {
	case KindSet, KindSetNext, KindCommit, KindMode:
		parts = append(parts, a.AttributeKey())
	case KindInc, KindDec:
		parts = append(parts, a.AttributeKey(), formatValue(a.number(1)))
	case KindPlayScalePosition:
	case KindSendControlValue:
		parts = append(parts, formatValue(a.number(0)))
	}
	return GroupKey(strings.Join(parts, "|"))
}

// commandKey is the registry identity of an action bound to target.
func commandKey(target string, a Action) string {
	return target + "|" + a.Key()
}

// Command is a registered action bound to its target.
type Command struct {
	action Action
	target Target
	key    string
	group  GroupKey
}

func newCommand(t Target, a Action) (*Command, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	switch a.Kind {
	case KindSetNext, KindCommit:
		if _, ok := t.(PendingTarget); !ok {
			return nil, fmt.Errorf("%s: target %q cannot stage values", a.Kind, t.Name())
		}
	case KindPlayScalePosition:
		if _, ok := t.(PlayerTarget); !ok {
			return nil, fmt.Errorf("%s: target %q cannot play notes", a.Kind, t.Name())
		}
	case KindSendControlValue:
		if _, ok := t.(ControlTarget); !ok {
			return nil, fmt.Errorf("%s: target %q cannot send control values", a.Kind, t.Name())
		}
	}
	return &Command{
		action: a,
		target: t,
		key:    commandKey(t.Name(), a),
		group:  groupKey(t.Name(), a),
	}, nil
}

func (c *Command) Action() Action  { return c.action }
func (c *Command) Target() Target  { return c.target }
func (c *Command) Key() string     { return c.key }
func (c *Command) Group() GroupKey { return c.group }

func (c *Command) String() string {
	return c.target.Name() + ":" + c.action.String()
}

// HasRevert reports whether the command can be undone by direct inversion.
// commit has a revert that does nothing, which is not the same as none.
func (c *Command) HasRevert() bool {
	switch c.action.Kind {
	case KindInc, KindDec, KindPlayScalePosition, KindCommit:
		return true
	}
	return false
}

// Execute applies the command's effect to its target.
func (c *Command) Execute() error {
	a := c.action
	switch a.Kind {
	case KindSet, KindMode:
		return c.target.Set(a.AttributeKey(), a.Value())

	case KindSetNext:
		return c.target.(PendingTarget).SetNext(a.AttributeKey(), a.Value())

	case KindCommit:
		return c.target.(PendingTarget).Commit(a.AttributeKey())

	case KindInc:
		return c.add(a.number(1))

	case KindDec:
		return c.add(-a.number(1))

	case KindPlayScalePosition:
		return c.target.(PlayerTarget).PlayScalePosition(int(a.number(0)))

	case KindSendControlValue:
		return c.target.(ControlTarget).SendControlValue(a.number(0), a.number(1))

	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidAction, a.Kind)
	}
}

// Revert undoes the command's effect. It is an error to call it on a
// command without a revert.
func (c *Command) Revert() error {
	a := c.action
	switch a.Kind {
	case KindInc:
		return c.add(-a.number(1))
	case KindDec:
		return c.add(a.number(1))
	case KindPlayScalePosition:
		return c.target.(PlayerTarget).Release()
	case KindCommit:
		return nil
	default:
		return fmt.Errorf("%s has no revert", c)
	}
}

func (c *Command) add(delta float64) error {
	key := c.action.AttributeKey()
	cur, err := c.target.Get(key)
	if err != nil {
		return err
	}
	n, err := toFloat(cur)
	if err != nil {
		return fmt.Errorf("%s: attribute %q: %w", c.action.Kind, key, err)
	}
	return c.target.Set(key, n+delta)
}
