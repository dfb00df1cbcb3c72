// Package monitor turns source frames into gauge readings
package monitor

import (
	"time"

	"github.com/teslashibe/go-gauge/internal/gauge"
)

// Report is the outcome for one gauge in a frame.
// Exactly one of Reading and NoReading is set.
type Report struct {
	Index      int              `json:"index"`
	Box        gauge.Box        `json:"box"`
	Center     gauge.Point      `json:"center"`
	Tip        gauge.Point      `json:"tip"`
	Confidence float64          `json:"confidence"`
	Reading    *gauge.Reading   `json:"reading,omitempty"`
	NoReading  *gauge.NoReading `json:"no_reading,omitempty"`

	// Smoothed is the EMA of in-range values for this gauge index.
	// It never replaces Reading.Value.
	Smoothed float64 `json:"smoothed_value"`
	Clamped  bool    `json:"clamped,omitempty"`
}

// Outcome returns the report as a gauge.Outcome
func (r Report) Outcome() gauge.Outcome {
	if r.Reading != nil {
		return *r.Reading
	}
	if r.NoReading != nil {
		return *r.NoReading
	}
	return nil
}

// Snapshot is everything the monitor learned from one frame
type Snapshot struct {
	FrameID   uint64    `json:"frame_id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	LatencyMs int64     `json:"latency_ms"`
	Reports   []Report  `json:"reports"`
}

// Readings returns the reports that produced a value
func (s Snapshot) Readings() []Report {
	var out []Report
	for _, r := range s.Reports {
		if r.Reading != nil {
			out = append(out, r)
		}
	}
	return out
}

// Primary returns the first report with a reading
func (s Snapshot) Primary() (Report, bool) {
	for _, r := range s.Reports {
		if r.Reading != nil {
			return r, true
		}
	}
	return Report{}, false
}
