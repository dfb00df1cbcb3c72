// Package server provides the HTTP server for go-gauge
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-gauge/internal/config"
	"github.com/teslashibe/go-gauge/internal/gauge"
	"github.com/teslashibe/go-gauge/internal/health"
	"github.com/teslashibe/go-gauge/internal/monitor"
)

// Server is the HTTP server for go-gauge
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	monitor   *monitor.Monitor
	checker   *health.Checker
	logger    *slog.Logger
	wsHub     *WSHub
	metrics   *Metrics
	startTime time.Time
	version   string
}

// New creates a new HTTP server
func New(cfg *config.Config, mon *monitor.Monitor, checker *health.Checker, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if checker == nil {
		checker = health.NewChecker(version)
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-gauge",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(LoggingMiddleware(logger))

	s := &Server{
		app:       app,
		cfg:       cfg,
		monitor:   mon,
		checker:   checker,
		logger:    logger,
		startTime: time.Now(),
		version:   version,
	}

	s.metrics = NewMetrics(mon, s.startTime)
	s.wsHub = NewWSHub(mon, s.metrics, logger)
	s.metrics.watchClients(s.wsHub.ClientCount)

	// Register routes
	s.registerRoutes()

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	// Health check
	s.app.Get("/health", s.healthHandler)

	// Metrics endpoint
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	api := s.app.Group("/api")

	g := api.Group("/gauge")
	g.Get("/reading", s.readingHandler)
	g.Get("/history", s.historyHandler)
	g.Post("/read", s.readHandler)
	g.Get("/stream", s.wsHub.UpgradeHandler())

	api.Get("/calibration", s.calibrationHandler)
	api.Get("/config", s.configHandler)
	api.Get("/stats", s.statsHandler)
}

// healthHandler returns service health
func (s *Server) healthHandler(c *fiber.Ctx) error {
	status := s.checker.GetStatus()

	code := fiber.StatusOK
	if status.Status == "unhealthy" {
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(status)
}

// readingHandler returns the most recent snapshot
func (s *Server) readingHandler(c *fiber.Ctx) error {
	snap := s.monitor.GetLatest()
	if snap.Timestamp.IsZero() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no frame processed yet",
		})
	}

	return c.JSON(snap)
}

// historyHandler returns the retained snapshots, oldest first
func (s *Server) historyHandler(c *fiber.Ctx) error {
	history := s.monitor.History()

	if limit := c.QueryInt("limit", 0); limit > 0 && limit < len(history) {
		history = history[len(history)-limit:]
	}

	return c.JSON(fiber.Map{
		"count":     len(history),
		"snapshots": history,
	})
}

// ReadRequest is the body of POST /api/gauge/read
type ReadRequest struct {
	Detections []gauge.Detection `json:"detections"`
}

// readHandler evaluates posted detections against the active calibration
func (s *Server) readHandler(c *fiber.Ctx) error {
	var req ReadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("invalid body: %v", err),
		})
	}

	if len(req.Detections) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "at least one detection is required",
		})
	}

	reports := make([]monitor.Report, 0, len(req.Detections))
	for i, det := range req.Detections {
		r := s.monitor.Evaluate(det)
		r.Index = i
		reports = append(reports, r)
	}

	return c.JSON(fiber.Map{
		"calibration": s.monitor.Calibration(),
		"reports":     reports,
	})
}

// calibrationHandler returns the active calibration
func (s *Server) calibrationHandler(c *fiber.Ctx) error {
	cal := s.monitor.Calibration()

	return c.JSON(fiber.Map{
		"calibration": cal,
		"sweep":       cal.Sweep(),
	})
}

// configHandler returns current configuration without credentials
func (s *Server) configHandler(c *fiber.Ctx) error {
	cfg := s.cfg

	return c.JSON(fiber.Map{
		"server": fiber.Map{
			"port":             cfg.Server.Port,
			"read_timeout_ms":  cfg.Server.ReadTimeout.Milliseconds(),
			"write_timeout_ms": cfg.Server.WriteTimeout.Milliseconds(),
		},
		"gauge": cfg.Gauge,
		"source": fiber.Map{
			"type":    cfg.Source.Type,
			"poll_hz": cfg.Source.PollHz,
			"rotate":  cfg.Source.Rotate,
		},
		"pose": fiber.Map{
			"url":        cfg.Pose.URL,
			"timeout_ms": cfg.Pose.Timeout.Milliseconds(),
		},
		"monitor": cfg.Monitor,
		"sinks": fiber.Map{
			"mqtt":   cfg.MQTT.Enabled,
			"influx": cfg.Influx.Enabled,
			"cloud":  cfg.Cloud.Enabled,
		},
	})
}

// statsHandler returns monitor statistics
func (s *Server) statsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"monitor":           s.monitor.Stats(),
		"websocket_clients": s.wsHub.ClientCount(),
		"uptime_seconds":    int64(time.Since(s.startTime).Seconds()),
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		"port", s.cfg.Server.Port,
	)

	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Server.Port))
}

// WSHub returns the WebSocket hub for external control
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close WebSocket hub
	s.wsHub.Close()

	// Shutdown Fiber with timeout from context
	done := make(chan error, 1)
	go func() {
		done <- s.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
