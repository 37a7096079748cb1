package main

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ============================================================================
// Action Vocabulary
// ============================================================================
// An Action is the declarative form of an operation on a target: a kind tag
// followed by positional parameters, as written in a mapping's `do` list.
//
// Actions are plain values. Two actions with the same kind and parameters
// share one canonical Key(), which the Invoker uses as command identity.
// ============================================================================

// ActionKind tags an operation in the closed action vocabulary.
type ActionKind string

const (
	KindSet               ActionKind = "set"
	KindSetNext           ActionKind = "set_next"
	KindCommit            ActionKind = "commit"
	KindInc               ActionKind = "inc"
	KindDec               ActionKind = "dec"
	KindPlayScalePosition ActionKind = "play_scale_position"
	KindSendControlValue  ActionKind = "send_control_value"
	KindMode              ActionKind = "mode"
)

// kindAliases maps alternative config spellings onto canonical kinds.
var kindAliases = map[string]ActionKind{
	"send_cc":  KindSendControlValue,
	"set_mode": KindMode,
}

// modeKey is the attribute a "mode" action writes on its target.
const modeKey = "mode"

// ErrInvalidAction is returned for malformed `do` lists.
var ErrInvalidAction = errors.New("invalid action")

// Action is a kind plus its positional parameters.
//
// Numeric parameters are always float64 after parsing, so that 1 and 1.0
// resolve to the same command.
type Action struct {
	Kind   ActionKind
	Params []any
}

// ScaleDegree is a tonic value expressed relative to the current key.
// It is accepted by the instrument's tonic attribute.
type ScaleDegree struct {
	Degree               int  `json:"scale_degree" yaml:"scale_degree"`
	CalculateImmediately bool `json:"calculate_immediately,omitempty" yaml:"calculate_immediately,omitempty"`
}

func parseKind(v any) (ActionKind, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: kind must be a string, got %T", ErrInvalidAction, v)
	}
	if k, ok := kindAliases[s]; ok {
		return k, nil
	}
	switch k := ActionKind(s); k {
	case KindSet, KindSetNext, KindCommit, KindInc, KindDec,
		KindPlayScalePosition, KindSendControlValue, KindMode:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidAction, s)
}

// arity is the number of parameters a complete action of kind k carries.
func (k ActionKind) arity() int {
	switch k {
	case KindCommit, KindPlayScalePosition, KindMode:
		return 1
	default:
		return 2
	}
}

// ParseAction converts a raw `do` list into a complete, validated Action.
func ParseAction(raw []any) (Action, error) {
	a, err := parseActionPrefix(raw)
	if err != nil {
		return Action{}, err
	}
	if err := a.Validate(); err != nil {
		return Action{}, err
	}
	return a, nil
}

// parseActionPrefix parses the kind and normalizes parameters without
// checking arity. Axis bindings use it since their final parameter is the
// mapped axis value.
func parseActionPrefix(raw []any) (Action, error) {
	if len(raw) == 0 {
		return Action{}, fmt.Errorf("%w: empty do list", ErrInvalidAction)
	}
	kind, err := parseKind(raw[0])
	if err != nil {
		return Action{}, err
	}
	params := make([]any, 0, len(raw)-1)
	for i, p := range raw[1:] {
		v, err := normalizeValue(p)
		if err != nil {
			return Action{}, fmt.Errorf("%w: %s param %d: %v", ErrInvalidAction, kind, i, err)
		}
		params = append(params, v)
	}
	return Action{Kind: kind, Params: params}, nil
}

// Validate checks parameter count and types for the action's kind.
func (a Action) Validate() error {
	if n := a.Kind.arity(); len(a.Params) != n {
		return fmt.Errorf("%w: %s expects %d params, got %d", ErrInvalidAction, a.Kind, n, len(a.Params))
	}
	switch a.Kind {
	case KindSet, KindSetNext, KindCommit, KindMode:
		if _, ok := a.Params[0].(string); !ok {
			return fmt.Errorf("%w: %s: first param must be a string", ErrInvalidAction, a.Kind)
		}
	case KindInc, KindDec:
		if _, ok := a.Params[0].(string); !ok {
			return fmt.Errorf("%w: %s: key must be a string", ErrInvalidAction, a.Kind)
		}
		if _, ok := a.Params[1].(float64); !ok {
			return fmt.Errorf("%w: %s: delta must be a number", ErrInvalidAction, a.Kind)
		}
	case KindPlayScalePosition:
		p, ok := a.Params[0].(float64)
		if !ok || p != math.Trunc(p) || p < 0 || int(p) >= len(scalePositions) {
			return fmt.Errorf("%w: scale position must be an integer in [0,%d]", ErrInvalidAction, len(scalePositions)-1)
		}
	case KindSendControlValue:
		for i, p := range a.Params {
			if _, ok := p.(float64); !ok {
				return fmt.Errorf("%w: send_control_value param %d must be a number", ErrInvalidAction, i)
			}
		}
	}
	return nil
}

// WithValue returns a copy of a with v appended as the trailing parameter.
func (a Action) WithValue(v any) Action {
	params := make([]any, len(a.Params), len(a.Params)+1)
	copy(params, a.Params)
	if n, err := normalizeValue(v); err == nil {
		v = n
	}
	return Action{Kind: a.Kind, Params: append(params, v)}
}

// AttributeKey is the attribute name an action addresses. For "mode" it is
// always "mode"; for kinds without an attribute it is empty.
func (a Action) AttributeKey() string {
	switch a.Kind {
	case KindMode:
		return modeKey
	case KindSet, KindSetNext, KindCommit, KindInc, KindDec:
		if len(a.Params) > 0 {
			s, _ := a.Params[0].(string)
			return s
		}
	}
	return ""
}

// Value is the value a set-family action writes.
func (a Action) Value() any {
	switch a.Kind {
	case KindMode:
		if len(a.Params) > 0 {
			return a.Params[0]
		}
	case KindSet, KindSetNext:
		if len(a.Params) > 1 {
			return a.Params[1]
		}
	}
	return nil
}

func (a Action) number(i int) float64 {
	if i >= len(a.Params) {
		return 0
	}
	f, _ := a.Params[i].(float64)
	return f
}

// Key is the canonical identity string of the action.
func (a Action) Key() string {
	var b strings.Builder
	b.WriteString(string(a.Kind))
	for _, p := range a.Params {
		b.WriteByte('|')
		b.WriteString(formatValue(p))
	}
	return b.String()
}

func (a Action) String() string {
	parts := make([]string, 0, len(a.Params)+1)
	parts = append(parts, string(a.Kind))
	for _, p := range a.Params {
		parts = append(parts, formatValue(p))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Raw returns the action as a plain list, the shape it has in config files.
func (a Action) Raw() []any {
	out := make([]any, 0, len(a.Params)+1)
	out = append(out, string(a.Kind))
	for _, p := range a.Params {
		if sd, ok := p.(ScaleDegree); ok {
			out = append(out, map[string]any{
				"scale_degree":          sd.Degree,
				"calculate_immediately": sd.CalculateImmediately,
			})
			continue
		}
		out = append(out, p)
	}
	return out
}

// normalizeValue folds numeric types to float64 and scale degree maps to
// ScaleDegree. Strings, bools and nil pass through.
func normalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, float64, ScaleDegree:
		return x, nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case float32:
		return float64(x), nil
	case map[string]any:
		return parseScaleDegree(x)
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("map key %v is not a string", k)
			}
			m[ks] = val
		}
		return parseScaleDegree(m)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func parseScaleDegree(m map[string]any) (ScaleDegree, error) {
	raw, ok := m["scale_degree"]
	if !ok {
		return ScaleDegree{}, errors.New("map value must contain scale_degree")
	}
	n, err := normalizeValue(raw)
	if err != nil {
		return ScaleDegree{}, err
	}
	f, ok := n.(float64)
	if !ok || f != math.Trunc(f) || f < 0 || int(f) >= len(scalePositions) {
		return ScaleDegree{}, fmt.Errorf("scale_degree must be an integer in [0,%d]", len(scalePositions)-1)
	}
	sd := ScaleDegree{Degree: int(f)}
	for k, val := range m {
		switch k {
		case "scale_degree":
		case "calculate_immediately":
			b, ok := val.(bool)
			if !ok {
				return ScaleDegree{}, errors.New("calculate_immediately must be a bool")
			}
			sd.CalculateImmediately = b
		default:
			return ScaleDegree{}, fmt.Errorf("unknown scale degree field %q", k)
		}
	}
	return sd, nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case ScaleDegree:
		return fmt.Sprintf("sd(%d,%t)", x.Degree, x.CalculateImmediately)
	default:
		return fmt.Sprintf("%v", x)
	}
}
