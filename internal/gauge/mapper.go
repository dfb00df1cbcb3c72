package gauge

// Mapping is the position of a needle angle within a calibrated sweep
type Mapping struct {
	Value        float64 `json:"value"`        // unclamped, extrapolated past the sweep
	Fraction     float64 `json:"fraction"`     // position within the sweep, displacement / sweep, above 1 in the dead zone
	Displacement float64 `json:"displacement"` // degrees travelled from MinAngle, [0, 360)
	Sweep        float64 `json:"sweep"`        // degrees from MinAngle to MaxAngle, (0, 360)
	InRange      bool    `json:"in_range"`
}

// Map converts a needle angle into a gauge value.
//
// The angle is treated as a point on a circle. Its displacement from MinAngle
// is measured in the calibration's sense and divided by the sweep, so a sweep
// crossing ±180° needs no special casing.
//
// Angles in the dead zone are not errors. They report InRange=false with a
// fraction above 1 and the value extrapolated linearly from it. The value is
// never clamped, see Clamp.
func Map(angle float64, cal Calibration) (Mapping, error) {
	sweep := cal.Sweep()
	if sweep == 0 {
		return Mapping{}, &ConfigurationError{Field: "max_angle", Reason: "zero-width sweep"}
	}

	var displacement float64
	if cal.Sense == CounterClockwise {
		displacement = NormalizePositive(angle - cal.MinAngle)
	} else {
		displacement = NormalizePositive(cal.MinAngle - angle)
	}

	fraction := displacement / sweep

	return Mapping{
		Value:        interpolate(cal.MinValue, cal.MaxValue, fraction),
		Fraction:     fraction,
		Displacement: displacement,
		Sweep:        sweep,
		InRange:      displacement <= sweep,
	}, nil
}

// interpolate is exact at both ends: f=0 yields lo and f=1 yields hi.
func interpolate(lo, hi, f float64) float64 {
	switch f {
	case 0:
		return lo
	case 1:
		return hi
	}
	return lo + f*(hi-lo)
}

// Clamp pins an out-of-range mapping to the calibrated end nearer by arc.
// A needle equally far from both ends is pinned to MaxValue.
// InRange and Displacement are left as measured so consumers can still tell
// the value was pinned.
func Clamp(m Mapping, cal Calibration) Mapping {
	if m.InRange {
		return m
	}

	pastMax := m.Displacement - m.Sweep
	beforeMin := 360 - m.Displacement

	if beforeMin < pastMax {
		m.Fraction = 0
		m.Value = cal.MinValue
	} else {
		m.Fraction = 1
		m.Value = cal.MaxValue
	}
	return m
}
