// Package camera acquires still frames for the gauge reader
package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
)

// Config holds frame acquisition configuration
type Config struct {
	SnapshotURL string        // Camera snapshot endpoint returning a JPEG/PNG still
	Rotate      int           // Clockwise mounting correction: 0, 90, 180 or 270
	MaxWidth    int           // Downscale wider frames (0 = native)
	Quality     int           // JPEG quality (1-100)
	Timeout     time.Duration // HTTP request timeout
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxWidth: 1280,
		Quality:  90,
		Timeout:  2 * time.Second,
	}
}

// Frame represents a captured still
type Frame struct {
	Data      []byte    // JPEG encoded
	Width     int       // Width after preprocessing
	Height    int       // Height after preprocessing
	Timestamp time.Time // Capture time
	FrameID   uint64    // Sequential frame ID
}

// Grabber produces frames on demand
type Grabber interface {
	Grab(ctx context.Context) (*Frame, error)
	Name() string
}

// SnapshotClient pulls frames from an IP camera snapshot URL
type SnapshotClient struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client

	mu        sync.RWMutex
	lastFrame *Frame
	frameID   atomic.Uint64

	// Stats
	framesCaptured atomic.Uint64
	frameErrors    atomic.Uint64
}

// NewSnapshotClient creates a new snapshot client
func NewSnapshotClient(cfg Config, logger *slog.Logger) *SnapshotClient {
	if logger == nil {
		logger = slog.Default()
	}

	return &SnapshotClient{
		cfg:    cfg,
		logger: logger,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name returns the grabber type name
func (c *SnapshotClient) Name() string {
	return "snapshot"
}

// Grab fetches and preprocesses a single frame
func (c *SnapshotClient) Grab(ctx context.Context) (*Frame, error) {
	frame, err := c.captureFrame(ctx)
	if err != nil {
		c.frameErrors.Add(1)
		return nil, err
	}

	c.framesCaptured.Add(1)

	c.mu.Lock()
	c.lastFrame = frame
	c.mu.Unlock()

	return frame, nil
}

func (c *SnapshotClient) captureFrame(ctx context.Context) (*Frame, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.cfg.SnapshotURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	return encodeFrame(Prepare(img, c.cfg), c.cfg.Quality, c.frameID.Add(1))
}

// GetLastFrame returns the most recently captured frame
func (c *SnapshotClient) GetLastFrame() *Frame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastFrame
}

// Stats returns capture statistics
func (c *SnapshotClient) Stats() CameraStats {
	return CameraStats{
		FramesCaptured: c.framesCaptured.Load(),
		FrameErrors:    c.frameErrors.Load(),
	}
}

// CameraStats contains camera statistics
type CameraStats struct {
	FramesCaptured uint64 `json:"frames_captured"`
	FrameErrors    uint64 `json:"frame_errors"`
}

// Prepare applies mounting rotation and downscaling.
// Rotation changes the needle angle seen by the model, so it must match how
// the gauge was calibrated.
func Prepare(img image.Image, cfg Config) image.Image {
	// imaging rotates counter-clockwise
	switch cfg.Rotate {
	case 90:
		img = imaging.Rotate270(img)
	case 180:
		img = imaging.Rotate180(img)
	case 270:
		img = imaging.Rotate90(img)
	}

	if cfg.MaxWidth > 0 && img.Bounds().Dx() > cfg.MaxWidth {
		img = imaging.Resize(img, cfg.MaxWidth, 0, imaging.Lanczos)
	}

	return img
}

func encodeFrame(img image.Image, quality int, id uint64) (*Frame, error) {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	bounds := img.Bounds()
	return &Frame{
		Data:      buf.Bytes(),
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Timestamp: time.Now(),
		FrameID:   id,
	}, nil
}
