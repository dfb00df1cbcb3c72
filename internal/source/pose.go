package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-gauge/internal/camera"
	"github.com/teslashibe/go-gauge/internal/gauge"
)

// Detector runs the keypoint model on an encoded frame.
// *pose.Client implements it.
type Detector interface {
	Detect(ctx context.Context, jpeg []byte) ([]gauge.Detection, error)
	Healthy() bool
}

// PoseSource grabs frames from a camera and runs them through the pose model
type PoseSource struct {
	grabber  camera.Grabber
	detector Detector
	logger   *slog.Logger

	lastErr atomic.Bool
}

// NewPoseSource creates a source from a grabber and a detector
func NewPoseSource(grabber camera.Grabber, detector Detector, logger *slog.Logger) *PoseSource {
	if logger == nil {
		logger = slog.Default()
	}

	return &PoseSource{
		grabber:  grabber,
		detector: detector,
		logger:   logger,
	}
}

// Detect captures a frame and returns its detections
func (s *PoseSource) Detect(ctx context.Context) (Frame, error) {
	start := time.Now()

	img, err := s.grabber.Grab(ctx)
	if err != nil {
		s.lastErr.Store(true)
		return Frame{}, fmt.Errorf("grab frame: %w", err)
	}

	dets, err := s.detector.Detect(ctx, img.Data)
	if err != nil {
		s.lastErr.Store(true)
		return Frame{}, fmt.Errorf("detect gauges: %w", err)
	}
	s.lastErr.Store(false)

	return Frame{
		ID:         img.FrameID,
		Timestamp:  img.Timestamp,
		Detections: dets,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// Close releases resources
func (s *PoseSource) Close() error {
	return nil
}

// Healthy returns false after a failed frame or while the model is unavailable
func (s *PoseSource) Healthy() bool {
	return !s.lastErr.Load() && s.detector.Healthy()
}

// Name returns the source type name
func (s *PoseSource) Name() string {
	return "pose/" + s.grabber.Name()
}
