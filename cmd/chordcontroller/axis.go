package main

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidNormalizedInput is returned when an axis percent falls outside
// [0,1] or a transform has a non-positive curve. Both indicate bad
// calibration or mapping data.
var ErrInvalidNormalizedInput = errors.New("invalid normalized input")

// AxisCalibration is the raw value range of an axis.
type AxisCalibration struct {
	Min float64
	Max float64
	// Uncalibrated axes drop their first event.
	Uncalibrated bool
}

var defaultAxisCalibration = AxisCalibration{Min: -1, Max: 1}

// normalize maps a raw reading onto [0,1] using the calibrated range.
// The reading is rounded to three decimals first. Readings outside the
// range yield values outside [0,1]; they are not clamped.
func (c AxisCalibration) normalize(raw float64) float64 {
	rounded := math.Round(raw*1000) / 1000
	return (rounded - c.Min) / (c.Max - c.Min)
}

// AxisTransform maps a normalized axis value onto an output range, either
// along a power curve or through discrete steps.
type AxisTransform struct {
	ValueAtMin float64
	ValueAtMax float64
	Curve      float64
	Inclusive  bool
	Steps      []float64
}

// MapAxis maps percent through t.
//
// Without steps the result is (max-min)*percent^curve + min.
//
// With steps, the range is split into len(steps) equal parts and the result
// is min + i*part for the first step i with percent < steps[i]. If no step
// is greater than percent the result is max when inclusive, otherwise the
// value of the last step.
func MapAxis(percent float64, t AxisTransform) (float64, error) {
	if math.IsNaN(percent) || percent < 0 || percent > 1 {
		return 0, fmt.Errorf("%w: percent must be between 0 and 1, got %v", ErrInvalidNormalizedInput, percent)
	}
	if t.Curve <= 0 {
		return 0, fmt.Errorf("%w: curve must be greater than 0, got %v", ErrInvalidNormalizedInput, t.Curve)
	}

	span := t.ValueAtMax - t.ValueAtMin
	if len(t.Steps) == 0 {
		return span*math.Pow(percent, t.Curve) + t.ValueAtMin, nil
	}

	steps := t.Steps
	if !sort.Float64sAreSorted(steps) {
		steps = append([]float64(nil), steps...)
		sort.Float64s(steps)
	}
	part := span / float64(len(steps))
	for i, step := range steps {
		if percent < step {
			return float64(i)*part + t.ValueAtMin, nil
		}
	}
	if t.Inclusive {
		return t.ValueAtMax, nil
	}
	return float64(len(steps)-1)*part + t.ValueAtMin, nil
}
