package gauge

import (
	"errors"
	"fmt"
)

// ErrDegenerateGeometry reports a needle vector with no direction
var ErrDegenerateGeometry = errors.New("degenerate needle geometry")

// ConfigurationError reports an unusable calibration. It is fatal at load time.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid calibration: " + e.Reason
	}
	return fmt.Sprintf("invalid calibration %s: %s", e.Field, e.Reason)
}

// DegenerateGeometryError reports a center/tip pair from which no angle can be
// computed. It matches ErrDegenerateGeometry with errors.Is.
type DegenerateGeometryError struct {
	Center Point
	Tip    Point
}

func (e *DegenerateGeometryError) Error() string {
	return fmt.Sprintf("%v: center %v, tip %v", ErrDegenerateGeometry, e.Center, e.Tip)
}

func (e *DegenerateGeometryError) Is(target error) bool {
	return target == ErrDegenerateGeometry
}
