package gauge

// Outcome is the result of reading one detection: either a Reading or a
// NoReading. Callers branch with a type switch.
type Outcome interface {
	outcome()
}

// Reading is a calibrated gauge value.
// Angle is always the raw needle angle, even when InRange is false.
type Reading struct {
	Value      float64 `json:"value"`
	Angle      float64 `json:"angle"`
	Unit       string  `json:"unit"`
	Confidence float64 `json:"confidence"`
	InRange    bool    `json:"in_range"`
	Fraction   float64 `json:"fraction"`
}

// Reason says why a detection produced no reading
type Reason string

const (
	ReasonLowConfidence         Reason = "low_confidence"
	ReasonLowKeypointConfidence Reason = "low_keypoint_confidence"
	ReasonMissingKeypoints      Reason = "missing_keypoints"
	ReasonDegenerateGeometry    Reason = "degenerate_geometry"
	ReasonInvalidCalibration    Reason = "invalid_calibration"
)

// NoReading marks a detection that could not be trusted or measured.
// It is a normal per-frame outcome, not a failure.
type NoReading struct {
	Reason Reason `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

func (Reading) outcome()   {}
func (NoReading) outcome() {}
