// Package store persists gauge readings to InfluxDB
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/teslashibe/go-gauge/internal/monitor"
)

// Measurement names
const (
	MeasurementReading   = "gauge_reading"
	MeasurementNoReading = "gauge_no_reading"
)

// Config holds InfluxDB configuration
type Config struct {
	URL     string
	Token   string
	Org     string
	Bucket  string
	Timeout time.Duration
}

// Store writes one point per gauge report
type Store struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	logger   *slog.Logger

	mu      sync.RWMutex
	lastErr error

	// Stats
	written atomic.Uint64
	failed  atomic.Uint64
}

// New creates a store. No connection is made until the first write.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete: url, org and bucket are required")
	}

	opts := influxdb2.DefaultOptions()
	if cfg.Timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(cfg.Timeout.Seconds()))
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	return &Store{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger:   logger,
	}, nil
}

// Name returns the sink name
func (s *Store) Name() string {
	return "influx"
}

// Publish writes every report in the snapshot
func (s *Store) Publish(ctx context.Context, snap monitor.Snapshot) error {
	points := Points(snap)
	if len(points) == 0 {
		return nil
	}

	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		s.failed.Add(uint64(len(points)))
		s.setErr(err)
		return fmt.Errorf("influx write: %w", err)
	}

	s.written.Add(uint64(len(points)))
	s.setErr(nil)
	return nil
}

// Points converts a snapshot into line-protocol points
func Points(snap monitor.Snapshot) []*write.Point {
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	points := make([]*write.Point, 0, len(snap.Reports))
	for _, r := range snap.Reports {
		tags := map[string]string{
			"gauge":  strconv.Itoa(r.Index),
			"source": snap.Source,
		}

		if r.NoReading != nil {
			tags["reason"] = string(r.NoReading.Reason)
			points = append(points, influxdb2.NewPoint(MeasurementNoReading, tags, map[string]interface{}{
				"confidence": r.Confidence,
				"frame_id":   int64(snap.FrameID),
			}, ts))
			continue
		}

		tags["unit"] = r.Reading.Unit
		tags["in_range"] = strconv.FormatBool(r.Reading.InRange)
		points = append(points, influxdb2.NewPoint(MeasurementReading, tags, map[string]interface{}{
			"value":          r.Reading.Value,
			"smoothed_value": r.Smoothed,
			"angle":          r.Reading.Angle,
			"confidence":     r.Reading.Confidence,
			"fraction":       r.Reading.Fraction,
			"frame_id":       int64(snap.FrameID),
		}, ts))
	}

	return points
}

func (s *Store) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil && s.lastErr == nil {
		s.logger.Warn("influx writes failing", "error", err)
	}
	s.lastErr = err
}

// Healthy returns false while the last write failed
func (s *Store) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr == nil
}

// Ping checks that the server answers
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influx ping: %w", err)
	}
	if !ok {
		return fmt.Errorf("influx ping: server not ready")
	}
	return nil
}

// Stats contains store statistics
type Stats struct {
	Written   uint64 `json:"written"`
	Failed    uint64 `json:"failed"`
	LastError string `json:"last_error,omitempty"`
}

// GetStats returns store statistics
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Written: s.written.Load(),
		Failed:  s.failed.Load(),
	}
	if s.lastErr != nil {
		stats.LastError = s.lastErr.Error()
	}
	return stats
}

// Close releases the HTTP client
func (s *Store) Close() {
	s.client.Close()
}
