package gauge

import (
	"fmt"
	"math"
)

// Point is a 2-D position in image coordinates (y grows downward)
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%.1f, %.1f)", p.X, p.Y)
}

func (p Point) finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// Angle returns the needle angle in degrees, in (-180, 180].
//
// The vertical delta is negated because image rows grow downward while the
// returned angle uses the upward mathematical convention.
func Angle(center, tip Point) (float64, error) {
	if !center.finite() || !tip.finite() {
		return 0, &DegenerateGeometryError{Center: center, Tip: tip}
	}

	dx := tip.X - center.X
	dy := tip.Y - center.Y
	if dx == 0 && dy == 0 {
		return 0, &DegenerateGeometryError{Center: center, Tip: tip}
	}

	angle := math.Atan2(-dy, dx) * 180 / math.Pi
	if angle == -180 {
		angle = 180
	}
	return angle, nil
}

// NormalizePositive reduces an angle in degrees into [0, 360)
func NormalizePositive(deg float64) float64 {
	r := math.Mod(deg, 360)
	if r < 0 {
		r += 360
	}
	// -tiny + 360 rounds to 360
	if r >= 360 {
		r = 0
	}
	return r
}

// NormalizeSigned reduces an angle in degrees into (-180, 180]
func NormalizeSigned(deg float64) float64 {
	r := NormalizePositive(deg)
	if r > 180 {
		r -= 360
	}
	return r
}
