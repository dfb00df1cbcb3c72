package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-gauge/internal/monitor"
)

const namespace = "go_gauge"

// Metrics exposes monitor state in Prometheus format on a private registry
type Metrics struct {
	registry *prometheus.Registry

	value      *prometheus.GaugeVec
	smoothed   *prometheus.GaugeVec
	angle      *prometheus.GaugeVec
	confidence *prometheus.GaugeVec
	inRange    *prometheus.GaugeVec
	noReadings *prometheus.CounterVec
}

// NewMetrics creates the collectors for a monitor
func NewMetrics(mon *monitor.Monitor, startTime time.Time) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "value",
			Help:      "Last calibrated value per gauge, unclamped unless clamping is enabled",
		}, []string{"gauge", "unit"}),
		smoothed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "smoothed_value",
			Help:      "EMA of in-range values per gauge",
		}, []string{"gauge", "unit"}),
		angle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "needle_angle_degrees",
			Help:      "Last needle angle per gauge",
		}, []string{"gauge"}),
		confidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "detection_confidence",
			Help:      "Last detection confidence per gauge",
		}, []string{"gauge"}),
		inRange: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_range",
			Help:      "Whether the needle is within the calibrated sweep (1=yes, 0=dead zone)",
		}, []string{"gauge"}),
		noReadings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "no_readings_total",
			Help:      "Detections that produced no reading, by reason",
		}, []string{"reason"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.value, m.smoothed, m.angle, m.confidence, m.inRange, m.noReadings,
	)

	stat := func(f func(monitor.Stats) float64) func() float64 {
		return func() float64 { return f(mon.Stats()) }
	}

	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames processed",
		}, stat(func(s monitor.Stats) float64 { return float64(s.Frames) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Frames that failed capture or inference",
		}, stat(func(s monitor.Stats) float64 { return float64(s.FrameErrors) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_total",
			Help:      "Calibrated readings produced",
		}, stat(func(s monitor.Stats) float64 { return float64(s.Readings) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "out_of_range_total",
			Help:      "Readings whose needle was in the dead zone",
		}, stat(func(s monitor.Stats) float64 { return float64(s.OutOfRange) })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fps",
			Help:      "Frames per second since the monitor started",
		}, stat(func(s monitor.Stats) float64 { return s.FPS })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "avg_latency_ms",
			Help:      "Average capture plus inference latency in milliseconds",
		}, stat(func(s monitor.Stats) float64 { return s.AvgLatencyMs })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_healthy",
			Help:      "Gauge source health (1=healthy, 0=unhealthy)",
		}, stat(func(s monitor.Stats) float64 { return boolToFloat(s.SourceHealthy) })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Server uptime in seconds",
		}, func() float64 { return time.Since(startTime).Seconds() }),
	)

	return m
}

func (m *Metrics) watchClients(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_clients",
		Help:      "Current WebSocket client count",
	}, func() float64 { return float64(count()) }))
}

// Observe records the per-gauge outcome of a snapshot
func (m *Metrics) Observe(snap monitor.Snapshot) {
	for _, r := range snap.Reports {
		idx := strconv.Itoa(r.Index)

		if r.NoReading != nil {
			m.noReadings.WithLabelValues(string(r.NoReading.Reason)).Inc()
			continue
		}

		m.value.WithLabelValues(idx, r.Reading.Unit).Set(r.Reading.Value)
		m.smoothed.WithLabelValues(idx, r.Reading.Unit).Set(r.Smoothed)
		m.angle.WithLabelValues(idx).Set(r.Reading.Angle)
		m.confidence.WithLabelValues(idx).Set(r.Reading.Confidence)
		m.inRange.WithLabelValues(idx).Set(boolToFloat(r.Reading.InRange))
	}
}

// Handler returns the Prometheus scrape handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
