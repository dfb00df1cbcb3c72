package source

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/teslashibe/go-gauge/internal/gauge"
)

// Synthetic gauge geometry in image coordinates
const (
	mockCenterX = 320
	mockCenterY = 240
	mockRadius  = 150
)

// MockSource synthesizes a single gauge whose needle sweeps across the
// calibrated arc, overshooting slightly into the dead zone on both ends.
type MockSource struct {
	mu         sync.Mutex
	cal        gauge.Calibration
	angle      float64
	fixed      bool
	confidence float64
	healthy    bool
	err        error
	frameID    uint64
	startTime  time.Time
}

// NewMockSource creates a sweeping mock for the given calibration
func NewMockSource(cal gauge.Calibration) *MockSource {
	return &MockSource{
		cal:        cal,
		angle:      cal.MinAngle,
		confidence: 0.9,
		healthy:    true,
		startTime:  time.Now(),
	}
}

// Detect returns one synthetic detection
func (m *MockSource) Detect(ctx context.Context) (Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if m.err != nil {
		return Frame{}, m.err
	}

	angle := m.angle
	if !m.fixed {
		// The needle overshoots each end by 5% of the sweep, ~12s period
		elapsed := time.Since(m.startTime).Seconds()
		fraction := 0.5 + 0.55*math.Sin(elapsed*0.5)
		angle = AngleAt(m.cal, fraction)
	}

	m.frameID++
	return Frame{
		ID:         m.frameID,
		Timestamp:  time.Now(),
		Detections: []gauge.Detection{NeedleAt(angle, m.confidence)},
		LatencyMs:  1, // Simulate minimal latency
	}, nil
}

// AngleAt returns the needle angle at a fraction of the calibrated sweep
func AngleAt(cal gauge.Calibration, fraction float64) float64 {
	if cal.Sense == gauge.CounterClockwise {
		return gauge.NormalizeSigned(cal.MinAngle + fraction*cal.Sweep())
	}
	return gauge.NormalizeSigned(cal.MinAngle - fraction*cal.Sweep())
}

// NeedleAt builds a detection whose needle points at angle degrees
func NeedleAt(angle, confidence float64) gauge.Detection {
	rad := angle * math.Pi / 180
	center := gauge.Point{X: mockCenterX, Y: mockCenterY}

	return gauge.Detection{
		Center: center,
		Tip: gauge.Point{
			X: center.X + mockRadius*math.Cos(rad),
			Y: center.Y - mockRadius*math.Sin(rad),
		},
		Confidence:       confidence,
		CenterConfidence: confidence,
		TipConfidence:    confidence,
		Keypoints:        2,
		Box: gauge.Box{
			X1: center.X - mockRadius, Y1: center.Y - mockRadius,
			X2: center.X + mockRadius, Y2: center.Y + mockRadius,
		},
	}
}

// Close releases resources
func (m *MockSource) Close() error {
	return nil
}

// Healthy returns true if the source is operational
func (m *MockSource) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// Name returns the source type name
func (m *MockSource) Name() string {
	return "mock"
}

// SetAngle pins the needle at angle degrees and stops the sweep
func (m *MockSource) SetAngle(angle float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.angle = angle
	m.fixed = true
}

// SetConfidence sets the detection confidence
func (m *MockSource) SetConfidence(confidence float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confidence = confidence
}

// SetHealthy sets the mock health state
func (m *MockSource) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}

// SetError makes every Detect fail with err (nil clears it)
func (m *MockSource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
