package gauge

import (
	"fmt"
	"math"
)

// Box is an axis-aligned bounding box in image coordinates
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Detection is one gauge located by the pose model
type Detection struct {
	Center     Point   `json:"center"`
	Tip        Point   `json:"tip"`
	Confidence float64 `json:"confidence"`

	// Optional pose-model detail. Keypoints is how many keypoints the model
	// returned; zero means the producer did not report it.
	CenterConfidence float64 `json:"center_confidence,omitempty"`
	TipConfidence    float64 `json:"tip_confidence,omitempty"`
	Keypoints        int     `json:"keypoints,omitempty"`
	Box              Box     `json:"box"`
}

// Read turns a detection into a reading.
//
// An invalid calibration yields a NoReading for every detection. Detections
// whose confidence is NaN, outside [0,1] or strictly below minConfidence yield
// a NoReading whatever their geometry. A detection whose center and tip
// coincide yields a NoReading rather than an error.
func Read(det Detection, cal Calibration, minConfidence float64) Outcome {
	if err := cal.Validate(); err != nil {
		return NoReading{Reason: ReasonInvalidCalibration, Detail: err.Error()}
	}

	if math.IsNaN(det.Confidence) || det.Confidence < 0 || det.Confidence > 1 {
		return NoReading{
			Reason: ReasonLowConfidence,
			Detail: fmt.Sprintf("confidence %v outside [0,1]", det.Confidence),
		}
	}
	if !(det.Confidence >= minConfidence) {
		return NoReading{
			Reason: ReasonLowConfidence,
			Detail: fmt.Sprintf("confidence %.3f below %.3f", det.Confidence, minConfidence),
		}
	}

	angle, err := Angle(det.Center, det.Tip)
	if err != nil {
		return NoReading{Reason: ReasonDegenerateGeometry, Detail: err.Error()}
	}

	m, err := Map(angle, cal)
	if err != nil {
		return NoReading{Reason: ReasonInvalidCalibration, Detail: err.Error()}
	}

	return Reading{
		Value:      m.Value,
		Angle:      angle,
		Unit:       cal.Unit,
		Confidence: det.Confidence,
		InRange:    m.InRange,
		Fraction:   m.Fraction,
	}
}

// GateKeypoints rejects detections with missing or weak keypoints.
// It returns ok=true when the detection may be read.
func GateKeypoints(det Detection, minKeypointConfidence float64) (NoReading, bool) {
	if det.Keypoints != 0 && det.Keypoints < 2 {
		return NoReading{
			Reason: ReasonMissingKeypoints,
			Detail: fmt.Sprintf("got %d keypoints, need center and tip", det.Keypoints),
		}, false
	}

	if det.Keypoints >= 2 && (det.CenterConfidence < minKeypointConfidence || det.TipConfidence < minKeypointConfidence) {
		return NoReading{
			Reason: ReasonLowKeypointConfidence,
			Detail: fmt.Sprintf("center=%.2f tip=%.2f below %.2f", det.CenterConfidence, det.TipConfidence, minKeypointConfidence),
		}, false
	}

	return NoReading{}, true
}
