// Package pose provides an HTTP client for the gauge keypoint model
package pose

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/teslashibe/go-gauge/internal/gauge"
)

// Keypoint indices produced by the gauge pose model
const (
	KeypointCenter = 0
	KeypointTip    = 1
)

// Config holds pose client configuration
type Config struct {
	URL             string        // Base URL of the inference service (e.g., "http://localhost:8500")
	Timeout         time.Duration // HTTP request timeout
	MaxFailures     uint32        // Consecutive failures before the breaker opens
	BreakerOpen     time.Duration // How long the breaker stays open
	BreakerInterval time.Duration // Closed-state counter reset interval
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		URL:             "http://localhost:8500",
		Timeout:         5 * time.Second,
		MaxFailures:     5,
		BreakerOpen:     10 * time.Second,
		BreakerInterval: 30 * time.Second,
	}
}

// Prediction is one detection as returned by the model
type Prediction struct {
	BBox       [4]float64   `json:"bbox"`       // x1, y1, x2, y2
	Confidence float64      `json:"confidence"` // detection confidence
	Keypoints  [][3]float64 `json:"keypoints"`  // x, y, confidence
}

// PredictResponse is the body returned by POST /predict
type PredictResponse struct {
	Detections []Prediction `json:"detections"`
}

// Client sends frames to the pose model and decodes keypoints
type Client struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker

	// Stats
	requests atomic.Uint64
	failures atomic.Uint64
}

// NewClient creates a new pose client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:    cfg,
		logger: logger,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}

	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "pose",
		Interval: cfg.BreakerInterval,
		Timeout:  cfg.BreakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("pose breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return c
}

// Detect runs the model on one JPEG frame
func (c *Client) Detect(ctx context.Context, jpegData []byte) ([]gauge.Detection, error) {
	c.requests.Add(1)

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.predict(ctx, jpegData)
	})
	if err != nil {
		c.failures.Add(1)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("pose model unavailable: %w", err)
		}
		return nil, err
	}

	resp := out.(*PredictResponse)

	dets := make([]gauge.Detection, 0, len(resp.Detections))
	for _, p := range resp.Detections {
		dets = append(dets, ToDetection(p))
	}
	return dets, nil
}

func (c *Client) predict(ctx context.Context, jpegData []byte) (*PredictResponse, error) {
	url := c.cfg.URL + "/predict"

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var out PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &out, nil
}

// ToDetection converts a model prediction into a gauge detection.
// Missing keypoints are left at the zero point and Keypoints records how many
// the model returned. A prediction with no keypoints at all has center == tip
// and reads as degenerate geometry.
func ToDetection(p Prediction) gauge.Detection {
	det := gauge.Detection{
		Confidence: p.Confidence,
		Keypoints:  len(p.Keypoints),
		Box: gauge.Box{
			X1: p.BBox[0], Y1: p.BBox[1],
			X2: p.BBox[2], Y2: p.BBox[3],
		},
	}

	if len(p.Keypoints) > KeypointCenter {
		kp := p.Keypoints[KeypointCenter]
		det.Center = gauge.Point{X: kp[0], Y: kp[1]}
		det.CenterConfidence = kp[2]
	}
	if len(p.Keypoints) > KeypointTip {
		kp := p.Keypoints[KeypointTip]
		det.Tip = gauge.Point{X: kp[0], Y: kp[1]}
		det.TipConfidence = kp[2]
	}

	return det
}

// Healthy reports whether the breaker is letting requests through
func (c *Client) Healthy() bool {
	return c.breaker.State() != gobreaker.StateOpen
}

// Stats contains client statistics
type Stats struct {
	Requests     uint64 `json:"requests"`
	Failures     uint64 `json:"failures"`
	BreakerState string `json:"breaker_state"`
}

// GetStats returns client statistics
func (c *Client) GetStats() Stats {
	return Stats{
		Requests:     c.requests.Load(),
		Failures:     c.failures.Load(),
		BreakerState: c.breaker.State().String(),
	}
}

// Ping checks that the inference service answers
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.cfg.URL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}
