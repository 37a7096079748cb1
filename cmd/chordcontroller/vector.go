package main

import (
	"encoding/json"
	"fmt"
)

// Vector is a hat direction. Components are -1, 0 or 1; y=1 is up.
type Vector struct {
	X int
	Y int
}

var (
	VectorNeutral   = Vector{0, 0}
	VectorUp        = Vector{0, 1}
	VectorDown      = Vector{0, -1}
	VectorLeft      = Vector{-1, 0}
	VectorRight     = Vector{1, 0}
	VectorUpLeft    = Vector{-1, 1}
	VectorUpRight   = Vector{1, 1}
	VectorDownLeft  = Vector{-1, -1}
	VectorDownRight = Vector{1, -1}
)

func (v Vector) IsNeutral() bool  { return v == VectorNeutral }
func (v Vector) IsCardinal() bool { return (v.X != 0) != (v.Y != 0) }
func (v Vector) IsDiagonal() bool { return v.X != 0 && v.Y != 0 }

// IsAdjacentTo reports whether v and o differ by exactly one step on one
// axis, e.g. up and up-right. Equal vectors and neutral are never adjacent.
func (v Vector) IsAdjacentTo(o Vector) bool {
	if v.IsNeutral() || o.IsNeutral() {
		return false
	}
	dx, dy := abs(v.X-o.X), abs(v.Y-o.Y)
	return (dx == 0 && dy == 1) || (dx == 1 && dy == 0)
}

func (v Vector) String() string {
	return fmt.Sprintf("(%d,%d)", v.X, v.Y)
}

// MarshalJSON encodes v as [x, y].
func (v Vector) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{v.X, v.Y})
}

func (v *Vector) UnmarshalJSON(b []byte) error {
	var xy [2]int
	if err := json.Unmarshal(b, &xy); err != nil {
		return fmt.Errorf("vector must be [x, y]: %w", err)
	}
	if xy[0] < -1 || xy[0] > 1 || xy[1] < -1 || xy[1] > 1 {
		return fmt.Errorf("vector components must be -1, 0 or 1, got %v", xy)
	}
	v.X, v.Y = xy[0], xy[1]
	return nil
}

// hatKey is the mapping key for a hat direction: "<hat>:<x>:<y>".
func hatKey(hat int, v Vector) string {
	return fmt.Sprintf("%d:%d:%d", hat, v.X, v.Y)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
