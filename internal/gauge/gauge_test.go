package gauge

import (
	"errors"
	"math"
	"testing"
)

const eps = 1e-9

func mustCal(t *testing.T, minV, maxV, minA, maxA float64, unit string) Calibration {
	t.Helper()
	cal, err := NewCalibration(minV, maxV, minA, maxA, unit)
	if err != nil {
		t.Fatalf("NewCalibration: %v", err)
	}
	return cal
}

func mustMap(t *testing.T, angle float64, cal Calibration) Mapping {
	t.Helper()
	m, err := Map(angle, cal)
	if err != nil {
		t.Fatalf("Map(%v): %v", angle, err)
	}
	return m
}

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// tipAt places a needle tip at the given math-convention angle around center.
func tipAt(center Point, deg, length float64) Point {
	rad := deg * math.Pi / 180
	return Point{
		X: center.X + length*math.Cos(rad),
		Y: center.Y - length*math.Sin(rad),
	}
}

func TestAngle(t *testing.T) {
	center := Point{X: 100, Y: 100}

	tests := []struct {
		name string
		tip  Point
		want float64
	}{
		{"right", Point{X: 200, Y: 100}, 0},
		{"up (smaller image y)", Point{X: 100, Y: 0}, 90},
		{"left", Point{X: 0, Y: 100}, 180},
		{"down (larger image y)", Point{X: 100, Y: 200}, -90},
		{"up-right", Point{X: 150, Y: 50}, 45},
		{"down-left", Point{X: 50, Y: 150}, -135},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Angle(center, tt.tip)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !near(got, tt.want, eps) {
				t.Errorf("Angle = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAngle_Range(t *testing.T) {
	center := Point{X: 320, Y: 240}
	for deg := -179.5; deg <= 180; deg += 0.5 {
		got, err := Angle(center, tipAt(center, deg, 80))
		if err != nil {
			t.Fatalf("Angle(%v): %v", deg, err)
		}
		if got <= -180 || got > 180 {
			t.Errorf("Angle(%v) = %v, outside (-180, 180]", deg, got)
		}
		if !near(got, deg, 1e-6) {
			t.Errorf("Angle(%v) = %v", deg, got)
		}
	}
}

func TestAngle_Degenerate(t *testing.T) {
	p := Point{X: 12.5, Y: 40}

	_, err := Angle(p, p)
	if !errors.Is(err, ErrDegenerateGeometry) {
		t.Fatalf("expected ErrDegenerateGeometry, got %v", err)
	}

	var dge *DegenerateGeometryError
	if !errors.As(err, &dge) {
		t.Fatalf("expected *DegenerateGeometryError, got %T", err)
	}
	if dge.Center != p {
		t.Errorf("Center = %+v, want %+v", dge.Center, p)
	}

	if _, err := Angle(p, Point{X: math.NaN(), Y: 1}); !errors.Is(err, ErrDegenerateGeometry) {
		t.Errorf("NaN tip: got %v", err)
	}
	if _, err := Angle(Point{X: math.Inf(1)}, p); !errors.Is(err, ErrDegenerateGeometry) {
		t.Errorf("infinite center: got %v", err)
	}
}

func TestNormalizePositive(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{360, 0},
		{-360, 0},
		{247, 247},
		{-27, 333},
		{725, 5},
		{-1e-15, 0},
	}
	for _, tt := range tests {
		got := NormalizePositive(tt.in)
		if !near(got, tt.want, eps) {
			t.Errorf("NormalizePositive(%v) = %v, want %v", tt.in, got, tt.want)
		}
		if got < 0 || got >= 360 {
			t.Errorf("NormalizePositive(%v) = %v, outside [0, 360)", tt.in, got)
		}
	}
}

func TestNormalizeSigned(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{225, -135},
		{-180, 180},
		{315, -45},
		{90, 90},
	}
	for _, tt := range tests {
		if got := NormalizeSigned(tt.in); got != tt.want {
			t.Errorf("NormalizeSigned(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCalibration_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cal     Calibration
		wantErr bool
	}{
		{"typical", Calibration{MinValue: 0, MaxValue: 10, MinAngle: 225, MaxAngle: -45}, false},
		{"vacuum gauge", Calibration{MinValue: -1, MaxValue: 0, MinAngle: 225, MaxAngle: -45}, false},
		{"decreasing values", Calibration{MinValue: 10, MaxValue: 0, MinAngle: 225, MaxAngle: -45}, false},
		{"equal angles", Calibration{MinValue: 0, MaxValue: 10, MinAngle: 90, MaxAngle: 90}, true},
		{"equal mod 360", Calibration{MinValue: 0, MaxValue: 10, MinAngle: 90, MaxAngle: 450}, true},
		{"equal mod 360 negative", Calibration{MinValue: 0, MaxValue: 10, MinAngle: -90, MaxAngle: 270}, true},
		{"NaN value", Calibration{MinValue: math.NaN(), MaxValue: 10, MinAngle: 225, MaxAngle: -45}, true},
		{"infinite angle", Calibration{MinValue: 0, MaxValue: 10, MinAngle: math.Inf(-1), MaxAngle: -45}, true},
		{"unknown sense", Calibration{MinValue: 0, MaxValue: 10, MinAngle: 225, MaxAngle: -45, Sense: "sideways"}, true},
		{"counter clockwise", Calibration{MinValue: 0, MaxValue: 10, MinAngle: -45, MaxAngle: 225, Sense: CounterClockwise}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cal.Validate()
			if !tt.wantErr {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			var ce *ConfigurationError
			if !errors.As(err, &ce) {
				t.Errorf("want *ConfigurationError, got %v", err)
			}
		})
	}
}

func TestNewCalibration_RejectsZeroSweep(t *testing.T) {
	_, err := NewCalibration(0, 10, 45, 405, "bar")
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("want *ConfigurationError, got %v", err)
	}
	if ce.Field != "max_angle" {
		t.Errorf("Field = %q, want max_angle", ce.Field)
	}
}

func TestParseSense(t *testing.T) {
	for in, want := range map[string]Sense{
		"":                  Clockwise,
		"clockwise":         Clockwise,
		"CW":                Clockwise,
		"counter_clockwise": CounterClockwise,
		"ccw":               CounterClockwise,
	} {
		got, err := ParseSense(in)
		if err != nil {
			t.Errorf("ParseSense(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseSense(%q) = %q, want %q", in, got, want)
		}
	}

	if _, err := ParseSense("anticlockwise-ish"); err == nil {
		t.Error("expected error for unknown sense")
	}
}

func TestMap_FixedPoints(t *testing.T) {
	cals := []Calibration{
		{MinValue: 0, MaxValue: 10, MinAngle: 225, MaxAngle: -45, Unit: "kg/cm2"},
		{MinValue: 0, MaxValue: 10, MinAngle: 220, MaxAngle: -27, Unit: "kg/cm2"},
		{MinValue: -1, MaxValue: 0, MinAngle: 225, MaxAngle: -45, Unit: "bar"},
		{MinValue: 0, MaxValue: 100, MinAngle: 180, MaxAngle: 0, Unit: "%"},
		{MinValue: 0, MaxValue: 16, MinAngle: 45, MaxAngle: 135, Unit: "psi"},
		{MinValue: 0.1, MaxValue: 0.7, MinAngle: 200, MaxAngle: -20, Unit: "MPa"},
		{MinValue: 50, MaxValue: -30, MinAngle: -45, MaxAngle: 225, Sense: CounterClockwise},
	}

	for _, cal := range cals {
		t.Run(cal.String(), func(t *testing.T) {
			if err := cal.Validate(); err != nil {
				t.Fatalf("Validate: %v", err)
			}

			lo := mustMap(t, cal.MinAngle, cal)
			if lo.Value != cal.MinValue || !lo.InRange {
				t.Errorf("min angle: got %+v, want value %v in range", lo, cal.MinValue)
			}

			hi := mustMap(t, cal.MaxAngle, cal)
			if hi.Value != cal.MaxValue || !hi.InRange {
				t.Errorf("max angle: got %+v, want value %v in range", hi, cal.MaxValue)
			}

			// Same positions as Angle would report them.
			if lo := mustMap(t, NormalizeSigned(cal.MinAngle), cal); !near(lo.Value, cal.MinValue, eps) {
				t.Errorf("signed min angle: value %v, want %v", lo.Value, cal.MinValue)
			}
			if hi := mustMap(t, NormalizeSigned(cal.MaxAngle), cal); !near(hi.Value, cal.MaxValue, eps) {
				t.Errorf("signed max angle: value %v, want %v", hi.Value, cal.MaxValue)
			}
		})
	}
}

func TestMap_SweepWrap(t *testing.T) {
	cal := mustCal(t, 0, 10, 220, -27, "kg/cm2")

	m := mustMap(t, 61.81, cal)

	wantFraction := NormalizePositive(220-61.81) / NormalizePositive(220-(-27))
	if !near(m.Fraction, wantFraction, eps) {
		t.Errorf("Fraction = %v, want %v", m.Fraction, wantFraction)
	}
	if !near(m.Sweep, 247, eps) {
		t.Errorf("Sweep = %v, want 247", m.Sweep)
	}
	if !near(m.Displacement, 158.19, eps) {
		t.Errorf("Displacement = %v, want 158.19", m.Displacement)
	}
	if !near(m.Value, 6.40, 0.01) {
		t.Errorf("Value = %v, want ~6.40", m.Value)
	}
	if !m.InRange {
		t.Error("expected in range")
	}
}

func TestMap_CrossesDiscontinuity(t *testing.T) {
	// Sweep runs from 220° through 180°/-180° down to -27°.
	cal := mustCal(t, 0, 10, 220, -27, "bar")

	// Sweeping clockwise from 220°, the needle reaches -179.5° (≡180.5°)
	// one degree before it reaches 179.5°.
	before := mustMap(t, -179.5, cal)
	after := mustMap(t, 179.5, cal)

	if !before.InRange || !after.InRange {
		t.Fatalf("expected both in range: %+v %+v", before, after)
	}
	if !near(before.Displacement, 39.5, eps) || !near(after.Displacement, 40.5, eps) {
		t.Errorf("displacements = %v, %v", before.Displacement, after.Displacement)
	}
	if d := after.Value - before.Value; !near(d, 10.0/247, eps) {
		t.Errorf("value step = %v, want %v", d, 10.0/247)
	}
}

func TestMap_Monotonic(t *testing.T) {
	cal := mustCal(t, 0, 10, 225, -45, "kg/cm2")

	prev := math.Inf(-1)
	for d := 0.0; d <= cal.Sweep(); d += 0.25 {
		m := mustMap(t, NormalizeSigned(cal.MinAngle-d), cal)
		if !m.InRange {
			t.Errorf("displacement %v: out of range", d)
		}
		if m.Value < prev {
			t.Errorf("displacement %v: value %v below previous %v", d, m.Value, prev)
		}
		prev = m.Value
	}
}

func TestMap_DeadZone(t *testing.T) {
	cal := mustCal(t, 0, 10, 220, -27, "kg/cm2")

	// Every dead-zone angle is measured clockwise from MinAngle, so the
	// fraction is always above 1.
	tests := []struct {
		name         string
		angle        float64
		wantFraction float64
	}{
		// 3 degrees short of the minimum pin.
		{"just before min", 223, 357.0 / 247},
		// 10 degrees past the maximum.
		{"just past max", -37, 257.0 / 247},
		// Straight down: 50° from min, 63° from max.
		{"bottom nearer min", -90, 310.0 / 247},
		{"bottom-right nearer max", -60, 280.0 / 247},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mustMap(t, tt.angle, cal)
			if m.InRange {
				t.Errorf("expected out of range: %+v", m)
			}
			if m.Fraction <= 1 {
				t.Errorf("Fraction = %v, want above 1", m.Fraction)
			}
			if !near(m.Fraction, tt.wantFraction, eps) {
				t.Errorf("Fraction = %v, want %v", m.Fraction, tt.wantFraction)
			}
			if !near(m.Value, tt.wantFraction*10, eps) {
				t.Errorf("Value = %v, want %v", m.Value, tt.wantFraction*10)
			}
			if !near(m.Fraction, m.Displacement/m.Sweep, eps) {
				t.Errorf("Fraction %v != Displacement/Sweep %v", m.Fraction, m.Displacement/m.Sweep)
			}
		})
	}
}

func TestMap_CounterClockwise(t *testing.T) {
	cal := Calibration{MinValue: 0, MaxValue: 10, MinAngle: -45, MaxAngle: 225, Sense: CounterClockwise}
	if err := cal.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !near(cal.Sweep(), 270, eps) {
		t.Errorf("Sweep = %v, want 270", cal.Sweep())
	}

	m := mustMap(t, 90, cal)
	if !near(m.Value, 5, eps) || !m.InRange {
		t.Errorf("got %+v, want value 5 in range", m)
	}

	// The clockwise reading of the same geometry goes the other way round.
	cw := cal.WithSense(Clockwise)
	m = mustMap(t, 90, cw)
	if !near(cw.Sweep(), 90, eps) {
		t.Errorf("clockwise Sweep = %v, want 90", cw.Sweep())
	}
	if m.InRange {
		t.Error("expected out of range clockwise")
	}
}

func TestMap_DegenerateCalibration(t *testing.T) {
	_, err := Map(10, Calibration{MinAngle: 30, MaxAngle: 390})
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Errorf("want *ConfigurationError, got %v", err)
	}
}

func TestClamp(t *testing.T) {
	cal := mustCal(t, 0, 10, 220, -27, "kg/cm2")

	tests := []struct {
		name         string
		cal          Calibration
		angle        float64
		wantValue    float64
		wantFraction float64
	}{
		// 50° from min, 63° from max.
		{"bottom nearer min", cal, -90, 0, 0},
		{"bottom-right nearer max", cal, -60, 10, 1},
		{"just before min", cal, 223, 0, 0},
		{"just past max", cal, -37, 10, 1},
		// 45° from either end.
		{"equidistant goes to max", mustCal(t, 0, 10, 225, -45, "bar"), -90, 10, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mustMap(t, tt.angle, tt.cal)
			c := Clamp(m, tt.cal)
			if c.Value != tt.wantValue || c.Fraction != tt.wantFraction {
				t.Errorf("Clamp = value %v fraction %v, want %v %v", c.Value, c.Fraction, tt.wantValue, tt.wantFraction)
			}
			if c.InRange {
				t.Error("clamped mapping must stay out of range")
			}
			if c.Displacement != m.Displacement {
				t.Errorf("Displacement changed: %v -> %v", m.Displacement, c.Displacement)
			}
		})
	}

	inside := mustMap(t, 61.81, cal)
	if got := Clamp(inside, cal); got != inside {
		t.Errorf("in-range mapping changed: %+v -> %+v", inside, got)
	}
}

func TestRead_DocumentedExample(t *testing.T) {
	cal := mustCal(t, 0, 10, 220, -27, "kg/cm2")
	center := Point{X: 412, Y: 305}

	out := Read(Detection{Center: center, Tip: tipAt(center, 61.81, 140), Confidence: 0.918}, cal, 0.5)

	r, ok := out.(Reading)
	if !ok {
		t.Fatalf("want Reading, got %#v", out)
	}
	if !near(r.Angle, 61.81, 1e-6) {
		t.Errorf("Angle = %v, want 61.81", r.Angle)
	}
	if !near(r.Value, 6.40, 0.01) {
		t.Errorf("Value = %v, want ~6.40", r.Value)
	}
	if r.Unit != "kg/cm2" || r.Confidence != 0.918 || !r.InRange {
		t.Errorf("unexpected reading %+v", r)
	}
}

func TestRead_ConfidenceGate(t *testing.T) {
	cal := mustCal(t, 0, 10, 225, -45, "bar")
	center := Point{X: 50, Y: 50}
	tip := Point{X: 90, Y: 50}

	tests := []struct {
		name       string
		det        Detection
		wantReason Reason
		wantOK     bool
	}{
		{"below threshold", Detection{Center: center, Tip: tip, Confidence: 0.49}, ReasonLowConfidence, false},
		{"below threshold and degenerate", Detection{Center: center, Tip: center, Confidence: 0.1}, ReasonLowConfidence, false},
		{"at threshold", Detection{Center: center, Tip: tip, Confidence: 0.5}, "", true},
		{"degenerate", Detection{Center: center, Tip: center, Confidence: 0.99}, ReasonDegenerateGeometry, false},
		{"NaN", Detection{Center: center, Tip: tip, Confidence: math.NaN()}, ReasonLowConfidence, false},
		{"above one", Detection{Center: center, Tip: tip, Confidence: 1.5}, ReasonLowConfidence, false},
		{"negative", Detection{Center: center, Tip: tip, Confidence: -0.1}, ReasonLowConfidence, false},
		{"infinite", Detection{Center: center, Tip: tip, Confidence: math.Inf(1)}, ReasonLowConfidence, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			switch out := Read(tt.det, cal, 0.5).(type) {
			case Reading:
				if !tt.wantOK {
					t.Errorf("unexpected reading %+v", out)
				}
			case NoReading:
				if tt.wantOK {
					t.Errorf("unexpected no-reading %+v", out)
				}
				if out.Reason != tt.wantReason {
					t.Errorf("Reason = %q, want %q", out.Reason, tt.wantReason)
				}
				if out.Detail == "" {
					t.Error("expected a detail")
				}
			default:
				t.Fatalf("unexpected outcome %T", out)
			}
		})
	}
}

func TestRead_NaNConfidenceWithZeroThreshold(t *testing.T) {
	cal := mustCal(t, 0, 10, 225, -45, "bar")
	center := Point{X: 50, Y: 50}

	out := Read(Detection{Center: center, Tip: Point{X: 90, Y: 50}, Confidence: math.NaN()}, cal, 0)
	nr, ok := out.(NoReading)
	if !ok || nr.Reason != ReasonLowConfidence {
		t.Errorf("expected low_confidence, got %#v", out)
	}
}

func TestRead_InvalidCalibration(t *testing.T) {
	center := Point{X: 50, Y: 50}
	det := Detection{Center: center, Tip: Point{X: 90, Y: 50}, Confidence: 0.9}

	tests := []struct {
		name string
		cal  Calibration
	}{
		{"zero sweep", Calibration{MinValue: 0, MaxValue: 10, MinAngle: 30, MaxAngle: 390}},
		{"NaN value", Calibration{MinValue: math.NaN(), MaxValue: 10, MinAngle: 225, MaxAngle: -45}},
		{"unknown sense", Calibration{MinValue: 0, MaxValue: 10, MinAngle: 225, MaxAngle: -45, Sense: "sideways"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Read(det, tt.cal, 0.5)
			nr, ok := out.(NoReading)
			if !ok {
				t.Fatalf("want NoReading, got %#v", out)
			}
			if nr.Reason != ReasonInvalidCalibration {
				t.Errorf("Reason = %q, want %q", nr.Reason, ReasonInvalidCalibration)
			}
			if nr.Detail == "" {
				t.Error("expected a detail")
			}
		})
	}
}

func TestRead_ZeroIsAReading(t *testing.T) {
	cal := mustCal(t, 0, 10, 180, 0, "bar")
	center := Point{X: 0, Y: 0}

	out := Read(Detection{Center: center, Tip: Point{X: -10, Y: 0}, Confidence: 1}, cal, 0.5)
	r, ok := out.(Reading)
	if !ok {
		t.Fatalf("want Reading, got %#v", out)
	}
	if r.Value != 0 {
		t.Errorf("Value = %v, want 0", r.Value)
	}
}

func TestRead_DeadZoneIsNotAnError(t *testing.T) {
	cal := mustCal(t, 0, 10, 225, -45, "bar")
	center := Point{X: 100, Y: 100}

	out := Read(Detection{Center: center, Tip: Point{X: 100, Y: 180}, Confidence: 0.8}, cal, 0.5)
	r, ok := out.(Reading)
	if !ok {
		t.Fatalf("want Reading, got %#v", out)
	}
	if r.InRange {
		t.Error("expected out of range")
	}
	if !near(r.Angle, -90, eps) {
		t.Errorf("Angle = %v, want -90", r.Angle)
	}
}

func TestRead_UnitPassthrough(t *testing.T) {
	center := Point{X: 10, Y: 10}
	for _, unit := range []string{"", "kg/cm²", " PSI\t", "°C", "not a unit at all"} {
		cal := mustCal(t, 0, 1, 225, -45, unit)
		out := Read(Detection{Center: center, Tip: Point{X: 10, Y: 0}, Confidence: 1}, cal, 0)
		r, ok := out.(Reading)
		if !ok {
			t.Fatalf("unit %q: want Reading, got %#v", unit, out)
		}
		if r.Unit != unit {
			t.Errorf("Unit = %q, want %q", r.Unit, unit)
		}
	}
}

func TestGateKeypoints(t *testing.T) {
	tests := []struct {
		name       string
		det        Detection
		wantOK     bool
		wantReason Reason
	}{
		{"not reported", Detection{}, true, ""},
		{"one keypoint", Detection{Keypoints: 1}, false, ReasonMissingKeypoints},
		{"weak tip", Detection{Keypoints: 2, CenterConfidence: 0.9, TipConfidence: 0.2}, false, ReasonLowKeypointConfidence},
		{"weak center", Detection{Keypoints: 2, CenterConfidence: 0.29, TipConfidence: 0.9}, false, ReasonLowKeypointConfidence},
		{"both strong", Detection{Keypoints: 2, CenterConfidence: 0.3, TipConfidence: 0.95}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nr, ok := GateKeypoints(tt.det, 0.3)
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if nr.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", nr.Reason, tt.wantReason)
			}
		})
	}
}
