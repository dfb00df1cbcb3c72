// Package source produces gauge detections frame by frame
package source

import (
	"context"
	"time"

	"github.com/teslashibe/go-gauge/internal/gauge"
)

// Frame is the set of gauges detected in one captured image
type Frame struct {
	ID         uint64            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Detections []gauge.Detection `json:"detections"`
	LatencyMs  int64             `json:"latency_ms"` // Capture plus inference
}

// Source provides detections from a camera and keypoint model
type Source interface {
	// Detect captures one frame and returns the gauges found in it
	Detect(ctx context.Context) (Frame, error)

	// Close releases resources
	Close() error

	// Healthy returns true if the source is operational
	Healthy() bool

	// Name returns the source type name
	Name() string
}
