package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-gauge/internal/camera"
	"github.com/teslashibe/go-gauge/internal/config"
	"github.com/teslashibe/go-gauge/internal/pose"
)

// New creates the source selected by cfg.Source.Type.
// For camera sources the pose service must answer a ping.
func New(ctx context.Context, cfg *config.Config, client *pose.Client, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	camCfg := camera.Config{
		SnapshotURL: cfg.Source.SnapshotURL,
		Rotate:      cfg.Source.Rotate,
		MaxWidth:    cfg.Source.MaxWidth,
		Quality:     cfg.Source.JPEGQuality,
		Timeout:     cfg.Source.Timeout,
	}

	var grabber camera.Grabber
	switch cfg.Source.Type {
	case "mock":
		cal, err := cfg.Calibration()
		if err != nil {
			return nil, err
		}
		return NewMockSource(cal), nil
	case "image":
		grabber = camera.NewFileGrabber(cfg.Source.Path, camCfg)
	case "snapshot":
		grabber = camera.NewSnapshotClient(camCfg, logger)
	default:
		return nil, fmt.Errorf("unknown source type: %q", cfg.Source.Type)
	}

	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pose service unavailable: %w", err)
	}

	return NewPoseSource(grabber, client, logger), nil
}

// NewSourceWithFallback creates a source with mock fallback.
// Use this for development when no pose service is running.
func NewSourceWithFallback(ctx context.Context, cfg *config.Config, client *pose.Client, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	src, err := New(ctx, cfg, client, logger)
	if err == nil {
		return src, nil
	}

	cal, calErr := cfg.Calibration()
	if calErr != nil {
		return nil, calErr
	}

	logger.Warn("using mock gauge source",
		"error", err,
		"hint", "start the pose service at "+cfg.Pose.URL,
	)
	return NewMockSource(cal), nil
}
