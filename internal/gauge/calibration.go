// Package gauge maps analog gauge needle geometry to calibrated readings.
//
// Angles follow the mathematical convention: 0° points right, 90° points up
// and positive rotation is counter-clockwise. Image coordinates have the y axis
// pointing down, which Angle accounts for.
package gauge

import (
	"fmt"
	"math"
	"strings"
)

// Sense is the rotational direction in which gauge values increase
type Sense string

const (
	// Clockwise gauges increase as the signed needle angle decreases.
	Clockwise Sense = "clockwise"
	// CounterClockwise gauges increase as the signed needle angle increases.
	CounterClockwise Sense = "counter_clockwise"
)

// ParseSense parses a sense name. An empty string selects Clockwise.
func ParseSense(s string) (Sense, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cw", string(Clockwise):
		return Clockwise, nil
	case "ccw", string(CounterClockwise):
		return CounterClockwise, nil
	}
	return "", &ConfigurationError{Field: "sense", Reason: fmt.Sprintf("unknown sense %q", s)}
}

// Calibration describes how needle angles translate into gauge values.
// It is a plain value; once validated it is safe to share between goroutines.
type Calibration struct {
	MinValue float64 `json:"min_value"`
	MaxValue float64 `json:"max_value"`
	MinAngle float64 `json:"min_angle"` // degrees, needle position at MinValue
	MaxAngle float64 `json:"max_angle"` // degrees, needle position at MaxValue
	Unit     string  `json:"unit"`
	Sense    Sense   `json:"sense"`
}

// NewCalibration builds a clockwise calibration and validates it
func NewCalibration(minValue, maxValue, minAngle, maxAngle float64, unit string) (Calibration, error) {
	cal := Calibration{
		MinValue: minValue,
		MaxValue: maxValue,
		MinAngle: minAngle,
		MaxAngle: maxAngle,
		Unit:     unit,
		Sense:    Clockwise,
	}
	if err := cal.Validate(); err != nil {
		return Calibration{}, err
	}
	return cal, nil
}

// WithSense returns a copy of the calibration using the given sense
func (c Calibration) WithSense(s Sense) Calibration {
	c.Sense = s
	return c
}

// Validate checks that the calibration describes a usable sweep.
// The unit is never inspected.
func (c Calibration) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"min_value", c.MinValue},
		{"max_value", c.MaxValue},
		{"min_angle", c.MinAngle},
		{"max_angle", c.MaxAngle},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return &ConfigurationError{Field: f.name, Reason: fmt.Sprintf("must be finite, got %v", f.value)}
		}
	}

	switch c.Sense {
	case "", Clockwise, CounterClockwise:
	default:
		return &ConfigurationError{Field: "sense", Reason: fmt.Sprintf("unknown sense %q", c.Sense)}
	}

	if c.Sweep() == 0 {
		return &ConfigurationError{
			Field:  "max_angle",
			Reason: fmt.Sprintf("zero-width sweep: min_angle %g and max_angle %g coincide mod 360", c.MinAngle, c.MaxAngle),
		}
	}

	return nil
}

// Sweep returns the arc in degrees, in [0, 360), travelled from MinAngle to
// MaxAngle in the calibration's sense
func (c Calibration) Sweep() float64 {
	if c.Sense == CounterClockwise {
		return NormalizePositive(c.MaxAngle - c.MinAngle)
	}
	return NormalizePositive(c.MinAngle - c.MaxAngle)
}

// String formats the calibration for logs
func (c Calibration) String() string {
	sense := c.Sense
	if sense == "" {
		sense = Clockwise
	}
	return fmt.Sprintf("[%g, %g] %s over [%g°, %g°] %s", c.MinValue, c.MaxValue, c.Unit, c.MinAngle, c.MaxAngle, sense)
}
