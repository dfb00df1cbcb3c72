// go-gauge: Analog gauge reader
// Turns needle keypoints into calibrated readings and serves them
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-gauge/internal/cloud"
	"github.com/teslashibe/go-gauge/internal/config"
	"github.com/teslashibe/go-gauge/internal/gauge"
	"github.com/teslashibe/go-gauge/internal/health"
	"github.com/teslashibe/go-gauge/internal/monitor"
	"github.com/teslashibe/go-gauge/internal/pose"
	"github.com/teslashibe/go-gauge/internal/publish"
	"github.com/teslashibe/go-gauge/internal/server"
	"github.com/teslashibe/go-gauge/internal/source"
	"github.com/teslashibe/go-gauge/internal/store"
)

var (
	version     = "0.3.0"
	configPath  = flag.String("config", "/etc/go-gauge/config.yaml", "config file path")
	mode        = flag.String("mode", "", "source mode: image, snapshot or mock (overrides config)")
	imagePath   = flag.String("image", "", "image to read in image mode (overrides config)")
	showVersion = flag.Bool("version", false, "print version and exit")
	debug       = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-gauge %s\n", version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// Flags win over config
	if *mode != "" {
		cfg.Source.Type = *mode
	}
	if *imagePath != "" {
		cfg.Source.Path = *imagePath
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}

	// Setup logging
	logger := setupLogger(cfg.Logging)

	logger.Info("starting go-gauge",
		"version", version,
		"config", *configPath,
		"mode", cfg.Source.Type,
	)

	// Validate configuration. A bad calibration is fatal before any frame is read.
	if err := cfg.Validate(); err != nil {
		var cfgErr *gauge.ConfigurationError
		if errors.As(err, &cfgErr) {
			logger.Error("invalid gauge calibration", "field", cfgErr.Field, "error", err)
		} else {
			logger.Error("invalid configuration", "error", err)
		}
		os.Exit(1)
	}

	cal, _ := cfg.Calibration()
	logger.Info("calibration loaded", "calibration", cal.String(), "sweep", cal.Sweep())

	poseClient := pose.NewClient(pose.Config{
		URL:             cfg.Pose.URL,
		Timeout:         cfg.Pose.Timeout,
		MaxFailures:     cfg.Pose.MaxFailures,
		BreakerOpen:     cfg.Pose.BreakerOpen,
		BreakerInterval: cfg.Pose.BreakerInterval,
	}, logger)

	monCfg := monitor.Config{
		PollInterval:          time.Second / time.Duration(cfg.Source.PollHz),
		MinConfidence:         cfg.Gauge.ConfidenceThreshold,
		MinKeypointConfidence: cfg.Gauge.KeypointThreshold,
		Clamp:                 cfg.Gauge.Clamp,
		EMAAlpha:              cfg.Monitor.EMAAlpha,
		HistorySize:           cfg.Monitor.HistorySize,
		LogEvery:              cfg.Monitor.LogEvery,
	}

	if cfg.Source.Type == "image" {
		os.Exit(readImage(cfg, cal, monCfg, poseClient, logger))
	}

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src, err := source.NewSourceWithFallback(ctx, cfg, poseClient, logger)
	if err != nil {
		logger.Error("failed to create source", "error", err)
		os.Exit(1)
	}
	defer src.Close()

	logger.Info("gauge source ready",
		"type", src.Name(),
		"healthy", src.Healthy(),
	)

	mon := monitor.New(src, cal, monCfg, logger)

	// Start monitor in background
	go func() {
		if err := mon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, monitor.ErrStopped) {
			logger.Error("monitor error", "error", err)
		}
	}()

	checker := health.NewChecker(version)
	checker.Register("source", true, func() (bool, string) {
		return src.Healthy(), src.Name()
	})
	checker.Register("pose", false, func() (bool, string) {
		stats := poseClient.GetStats()
		return poseClient.Healthy(), "breaker " + stats.BreakerState
	})

	sinks := startSinks(ctx, cfg, cal, mon, checker, logger)
	defer func() {
		for _, closeSink := range sinks {
			closeSink()
		}
	}()

	// Create server
	srv := server.New(cfg, mon, checker, logger, version)

	// Start WebSocket hub in background. It also feeds the metrics.
	go srv.WSHub().Run(ctx)

	// Start server in background
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Print startup info
	printStartupBanner(cfg, cal, version)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cfg.Server.GracefulTimeout,
	)
	defer shutdownCancel()

	// Stop in order: server -> monitor -> sinks -> source
	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}

	logger.Info("stopping monitor...")
	mon.Stop()
	cancel()

	logger.Info("go-gauge stopped")
}

// readImage reads one frame, logs every gauge and returns the exit code
func readImage(cfg *config.Config, cal gauge.Calibration, monCfg monitor.Config, client *pose.Client, logger *slog.Logger) int {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Pose.Timeout+cfg.Source.Timeout)
	defer cancel()

	src, err := source.New(ctx, cfg, client, logger)
	if err != nil {
		logger.Error("failed to create source", "error", err)
		return 1
	}
	defer src.Close()

	monCfg.LogEvery = 0
	mon := monitor.New(src, cal, monCfg, logger)

	snap, err := mon.ReadOnce(ctx)
	if err != nil {
		logger.Error("failed to read image", "path", cfg.Source.Path, "error", err)
		return 1
	}

	if len(snap.Reports) == 0 {
		logger.Warn("no gauge found", "path", cfg.Source.Path)
		return 0
	}

	for _, r := range snap.Reports {
		if r.NoReading != nil {
			logger.Warn("gauge not read",
				"gauge", r.Index,
				"reason", r.NoReading.Reason,
				"confidence", r.Confidence,
			)
			continue
		}

		logger.Info("gauge reading",
			"gauge", r.Index,
			"value", fmt.Sprintf("%.2f %s", r.Reading.Value, r.Reading.Unit),
			"angle", fmt.Sprintf("%.1f", r.Reading.Angle),
			"confidence", fmt.Sprintf("%.2f", r.Reading.Confidence),
			"in_range", r.Reading.InRange,
			"clamped", r.Clamped,
		)
	}
	return 0
}

// startSinks connects every enabled sink and forwards monitor snapshots to it.
// It returns the close functions of the sinks that started.
func startSinks(ctx context.Context, cfg *config.Config, cal gauge.Calibration, mon *monitor.Monitor, checker *health.Checker, logger *slog.Logger) []func() {
	var closers []func()

	forward := func(sink monitor.Sink) {
		go func() {
			if err := mon.Forward(ctx, sink); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, monitor.ErrStopped) {
				logger.Error("sink stopped", "sink", sink.Name(), "error", err)
			}
		}()
	}

	if cfg.MQTT.Enabled {
		mqttCfg := publish.DefaultConfig()
		mqttCfg.Broker = cfg.MQTT.Broker
		mqttCfg.Topic = cfg.MQTT.Topic
		mqttCfg.ClientID = cfg.MQTT.ClientID
		mqttCfg.Username = cfg.MQTT.Username
		mqttCfg.Password = cfg.MQTT.Password
		mqttCfg.QoS = cfg.MQTT.QoS
		mqttCfg.Retries = cfg.MQTT.Retries

		pub, err := publish.Connect(ctx, mqttCfg, logger)
		if err != nil {
			logger.Error("mqtt disabled", "error", err)
		} else {
			checker.Register("mqtt", false, func() (bool, string) {
				return pub.Healthy(), cfg.MQTT.Broker
			})
			forward(pub)
			closers = append(closers, pub.Close)
		}
	}

	if cfg.Influx.Enabled {
		st, err := store.New(store.Config{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		}, logger)
		if err != nil {
			logger.Error("influx disabled", "error", err)
		} else {
			if err := st.Ping(ctx); err != nil {
				logger.Warn("influx not reachable yet", "error", err)
			}
			checker.Register("influx", false, func() (bool, string) {
				return st.Healthy(), st.GetStats().LastError
			})
			forward(st)
			closers = append(closers, st.Close)
		}
	}

	if cfg.Cloud.Enabled {
		cloudCfg := cloud.DefaultConfig()
		cloudCfg.URL = cfg.Cloud.URL
		cloudCfg.PingInterval = cfg.Cloud.PingInterval
		cloudCfg.WriteTimeout = cfg.Cloud.WriteTimeout
		cloudCfg.MaxBackoff = cfg.Cloud.MaxBackoff

		uplink := cloud.NewClient(cloudCfg, cal, logger)
		uplink.Connect(ctx)
		checker.Register("cloud", false, func() (bool, string) {
			return uplink.IsConnected(), cfg.Cloud.URL
		})
		forward(uplink)
		closers = append(closers, func() { uplink.Close() })
	}

	return closers
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func printStartupBanner(cfg *config.Config, cal gauge.Calibration, version string) {
	fmt.Println()
	fmt.Println("🧭 go-gauge v" + version)
	fmt.Println("   Analog gauge reader")
	fmt.Printf("   %s\n", cal.String())
	fmt.Println()
	fmt.Printf("🚀 Running at http://0.0.0.0:%d\n", cfg.Server.Port)
	fmt.Println()
	fmt.Println("   Endpoints:")
	fmt.Println("   GET  /health              - Health check")
	fmt.Println("   GET  /api/gauge/reading   - Latest readings")
	fmt.Println("   GET  /api/gauge/history   - Recent frames")
	fmt.Println("   POST /api/gauge/read      - Read posted detections")
	fmt.Println("   WS   /api/gauge/stream    - Real-time reading stream")
	fmt.Println("   GET  /api/calibration     - Active calibration")
	fmt.Println("   GET  /api/stats           - Monitor statistics")
	fmt.Println("   GET  /metrics             - Prometheus metrics")
	fmt.Println()
	fmt.Println("   Press Ctrl+C to stop")
	fmt.Println()
}
