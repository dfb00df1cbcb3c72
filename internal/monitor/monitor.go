package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-gauge/internal/gauge"
	"github.com/teslashibe/go-gauge/internal/source"
)

var (
	// ErrRunning is returned by Run when the loop is already running
	ErrRunning = errors.New("monitor already running")
	// ErrStopped is returned by Run after Stop
	ErrStopped = errors.New("monitor stopped")
)

// Config configures the monitor
type Config struct {
	PollInterval          time.Duration
	MinConfidence         float64
	MinKeypointConfidence float64
	Clamp                 bool
	EMAAlpha              float64
	HistorySize           int
	LogEvery              int // Log a reading summary every N frames (0 = never)
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PollInterval:          200 * time.Millisecond, // 5Hz
		MinConfidence:         0.5,
		MinKeypointConfidence: 0.3,
		EMAAlpha:              0.3,
		HistorySize:           100,
		LogEvery:              30,
	}
}

// Monitor polls a source and evaluates every detection against a calibration
type Monitor struct {
	source source.Source
	cal    gauge.Calibration
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	latest   Snapshot
	history  []Snapshot
	smoothed map[int]float64
	counters counters
	started  time.Time

	// Lifecycle, guarded by mu
	running bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	// Subscribers for real-time updates
	subsMu sync.RWMutex
	subs   map[chan Snapshot]struct{}
}

type counters struct {
	frames         int64
	frameErrors    int64
	readings       int64
	noReadings     int64
	outOfRange     int64
	clamped        int64
	byReason       map[gauge.Reason]int64
	totalLatencyMs int64
}

// New creates a monitor. cal must already be validated.
func New(src source.Source, cal gauge.Calibration, cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1
	}

	return &Monitor{
		source:   src,
		cal:      cal,
		cfg:      cfg,
		logger:   logger,
		history:  make([]Snapshot, 0, cfg.HistorySize),
		smoothed: make(map[int]float64),
		counters: counters{byReason: make(map[gauge.Reason]int64)},
		subs:     make(map[chan Snapshot]struct{}),
	}
}

// Run starts the polling loop (blocking, use goroutine).
// It refuses to start with an invalid calibration, while another Run is
// active, or after Stop.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.cal.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	if m.running {
		m.mu.Unlock()
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.running = true
	m.cancel = cancel
	m.done = done
	m.started = time.Now()
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	m.logger.Info("monitor started",
		"poll_interval", m.cfg.PollInterval,
		"calibration", m.cal.String(),
		"clamp", m.cfg.Clamp,
		"source", m.source.Name(),
	)

	for {
		select {
		case <-ctx.Done():
			stats := m.Stats()
			m.logger.Info("monitor stopped",
				"frames", stats.Frames,
				"errors", stats.FrameErrors,
				"readings", stats.Readings,
			)
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.ReadOnce(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("frame failed", "error", err)
			}
		}
	}
}

// ReadOnce captures and evaluates a single frame
func (m *Monitor) ReadOnce(ctx context.Context) (Snapshot, error) {
	if err := m.cal.Validate(); err != nil {
		return Snapshot{}, err
	}

	frame, err := m.source.Detect(ctx)
	if err != nil {
		m.mu.Lock()
		m.counters.frameErrors++
		m.mu.Unlock()
		return Snapshot{}, err
	}

	snap := Snapshot{
		FrameID:   frame.ID,
		Timestamp: frame.Timestamp,
		Source:    m.source.Name(),
		LatencyMs: frame.LatencyMs,
		Reports:   make([]Report, 0, len(frame.Detections)),
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}

	m.mu.Lock()
	for i, det := range frame.Detections {
		report := m.Evaluate(det)
		report.Index = i
		m.record(&report)
		snap.Reports = append(snap.Reports, report)
	}
	m.counters.frames++
	m.counters.totalLatencyMs += frame.LatencyMs
	m.latest = snap
	m.appendHistory(snap)
	frames := m.counters.frames
	m.mu.Unlock()

	m.notifySubscribers(snap)

	if m.cfg.LogEvery > 0 && frames%int64(m.cfg.LogEvery) == 0 {
		m.logSnapshot(snap)
	}

	return snap, nil
}

// Evaluate gates and reads one detection without touching monitor state
func (m *Monitor) Evaluate(det gauge.Detection) Report {
	report := Report{
		Box:        det.Box,
		Center:     det.Center,
		Tip:        det.Tip,
		Confidence: det.Confidence,
	}

	if nr, ok := gauge.GateKeypoints(det, m.cfg.MinKeypointConfidence); !ok {
		report.NoReading = &nr
		return report
	}

	switch out := gauge.Read(det, m.cal, m.cfg.MinConfidence).(type) {
	case gauge.Reading:
		if m.cfg.Clamp && !out.InRange {
			if mp, err := gauge.Map(out.Angle, m.cal); err == nil {
				pinned := gauge.Clamp(mp, m.cal)
				out.Value = pinned.Value
				out.Fraction = pinned.Fraction
				report.Clamped = true
			}
		}
		report.Reading = &out
	case gauge.NoReading:
		report.NoReading = &out
	}

	return report
}

// record updates counters and smoothing for one report. Caller holds m.mu.
func (m *Monitor) record(r *Report) {
	if r.NoReading != nil {
		m.counters.noReadings++
		m.counters.byReason[r.NoReading.Reason]++
		r.Smoothed = m.smoothed[r.Index]
		return
	}

	m.counters.readings++
	if r.Clamped {
		m.counters.clamped++
	}
	if !r.Reading.InRange {
		m.counters.outOfRange++
		r.Smoothed = m.smoothed[r.Index]
		return
	}

	prev, ok := m.smoothed[r.Index]
	value := r.Reading.Value
	if ok {
		value = m.cfg.EMAAlpha*value + (1-m.cfg.EMAAlpha)*prev
	}
	m.smoothed[r.Index] = value
	r.Smoothed = value
}

func (m *Monitor) appendHistory(snap Snapshot) {
	m.history = append(m.history, snap)

	// Trim history
	if len(m.history) > m.cfg.HistorySize {
		// Shift instead of slice to avoid memory leak
		copy(m.history, m.history[1:])
		m.history = m.history[:m.cfg.HistorySize]
	}
}

func (m *Monitor) logSnapshot(snap Snapshot) {
	for _, r := range snap.Reports {
		if r.Reading != nil {
			m.logger.Info("gauge reading",
				"frame", snap.FrameID,
				"gauge", r.Index,
				"value", r.Reading.Value,
				"unit", r.Reading.Unit,
				"angle", r.Reading.Angle,
				"confidence", r.Reading.Confidence,
				"in_range", r.Reading.InRange,
			)
			continue
		}
		m.logger.Debug("gauge skipped",
			"frame", snap.FrameID,
			"gauge", r.Index,
			"reason", r.NoReading.Reason,
			"detail", r.NoReading.Detail,
		)
	}
}

func (m *Monitor) notifySubscribers(snap Snapshot) {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()

	for ch := range m.subs {
		select {
		case ch <- snap:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Subscribe returns a channel that receives every snapshot
func (m *Monitor) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, 10) // Buffer to avoid blocking

	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber
func (m *Monitor) Unsubscribe(ch chan Snapshot) {
	m.subsMu.Lock()
	if _, exists := m.subs[ch]; exists {
		delete(m.subs, ch)
		close(ch)
	}
	m.subsMu.Unlock()
}

// Calibration returns the calibration readings are mapped with
func (m *Monitor) Calibration() gauge.Calibration {
	return m.cal
}

// GetLatest returns the most recent snapshot
func (m *Monitor) GetLatest() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// History returns a copy of the retained snapshots, oldest first
func (m *Monitor) History() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, len(m.history))
	copy(out, m.history)
	return out
}

// Stats returns monitor statistics
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	avgLatency := float64(0)
	if m.counters.frames > 0 {
		avgLatency = float64(m.counters.totalLatencyMs) / float64(m.counters.frames)
	}

	fps := float64(0)
	if !m.started.IsZero() {
		if elapsed := time.Since(m.started).Seconds(); elapsed > 0 {
			fps = float64(m.counters.frames) / elapsed
		}
	}

	byReason := make(map[gauge.Reason]int64, len(m.counters.byReason))
	for k, v := range m.counters.byReason {
		byReason[k] = v
	}

	m.subsMu.RLock()
	subscribers := len(m.subs)
	m.subsMu.RUnlock()

	stats := Stats{
		Frames:             m.counters.frames,
		FrameErrors:        m.counters.frameErrors,
		Readings:           m.counters.readings,
		NoReadings:         m.counters.noReadings,
		NoReadingsByReason: byReason,
		OutOfRange:         m.counters.outOfRange,
		Clamped:            m.counters.clamped,
		FPS:                fps,
		AvgLatencyMs:       avgLatency,
		HistorySize:        len(m.history),
		SubscriberCount:    subscribers,
		Source:             m.source.Name(),
		SourceHealthy:      m.source.Healthy(),
	}

	if r, ok := m.latest.Primary(); ok {
		stats.CurrentValue = r.Reading.Value
		stats.CurrentSmoothed = r.Smoothed
		stats.CurrentInRange = r.Reading.InRange
	}

	return stats
}

// Stats contains monitor statistics
type Stats struct {
	Frames             int64                  `json:"frames"`
	FrameErrors        int64                  `json:"frame_errors"`
	Readings           int64                  `json:"readings"`
	NoReadings         int64                  `json:"no_readings"`
	NoReadingsByReason map[gauge.Reason]int64 `json:"no_readings_by_reason"`
	OutOfRange         int64                  `json:"out_of_range"`
	Clamped            int64                  `json:"clamped"`
	FPS                float64                `json:"fps"`
	AvgLatencyMs       float64                `json:"avg_latency_ms"`
	HistorySize        int                    `json:"history_size"`
	SubscriberCount    int                    `json:"subscriber_count"`
	Source             string                 `json:"source"`
	SourceHealthy      bool                   `json:"source_healthy"`
	CurrentValue       float64                `json:"current_value"`
	CurrentSmoothed    float64                `json:"current_smoothed"`
	CurrentInRange     bool                   `json:"current_in_range"`
}

// Stop stops the monitor gracefully
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	// Close all subscriber channels
	m.subsMu.Lock()
	for ch := range m.subs {
		close(ch)
		delete(m.subs, ch)
	}
	m.subsMu.Unlock()
}
