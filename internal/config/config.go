// Package config provides configuration management for go-gauge
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/teslashibe/go-gauge/internal/gauge"
)

// Config is the root configuration structure
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Gauge   GaugeConfig   `mapstructure:"gauge"`
	Source  SourceConfig  `mapstructure:"source"`
	Pose    PoseConfig    `mapstructure:"pose"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Influx  InfluxConfig  `mapstructure:"influx"`
	Cloud   CloudConfig   `mapstructure:"cloud"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// GaugeConfig is the declarative gauge calibration
type GaugeConfig struct {
	MinValue            float64 `mapstructure:"min_value"`
	MaxValue            float64 `mapstructure:"max_value"`
	MinAngle            float64 `mapstructure:"min_angle"`
	MaxAngle            float64 `mapstructure:"max_angle"`
	Unit                string  `mapstructure:"unit"`
	Sense               string  `mapstructure:"sense"` // clockwise, counter_clockwise
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	KeypointThreshold   float64 `mapstructure:"keypoint_threshold"`
	Clamp               bool    `mapstructure:"clamp"`
}

// SourceConfig selects where frames come from
type SourceConfig struct {
	Type        string        `mapstructure:"type"` // image, snapshot, mock
	Path        string        `mapstructure:"path"`
	SnapshotURL string        `mapstructure:"snapshot_url"`
	PollHz      int           `mapstructure:"poll_hz"`
	Rotate      int           `mapstructure:"rotate"` // 0, 90, 180, 270
	MaxWidth    int           `mapstructure:"max_width"`
	JPEGQuality int           `mapstructure:"jpeg_quality"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// PoseConfig configures the keypoint model endpoint
type PoseConfig struct {
	URL             string        `mapstructure:"url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxFailures     uint32        `mapstructure:"max_failures"`
	BreakerOpen     time.Duration `mapstructure:"breaker_open"`
	BreakerInterval time.Duration `mapstructure:"breaker_interval"`
}

// MonitorConfig configures the reading loop
type MonitorConfig struct {
	HistorySize int     `mapstructure:"history_size"`
	EMAAlpha    float64 `mapstructure:"ema_alpha"`
	LogEvery    int     `mapstructure:"log_every"`
}

// MQTTConfig configures reading publication
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	QoS      byte   `mapstructure:"qos"`
	Retries  int    `mapstructure:"retries"`
}

// InfluxConfig configures reading storage
type InfluxConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Org     string `mapstructure:"org"`
	Bucket  string `mapstructure:"bucket"`
}

// CloudConfig configures the WebSocket uplink
type CloudConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	URL          string        `mapstructure:"url"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9100,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			GracefulTimeout: 5 * time.Second,
		},
		Gauge: GaugeConfig{
			MinValue:            0,
			MaxValue:            10,
			MinAngle:            225,
			MaxAngle:            -45,
			Unit:                "kg/cm2",
			Sense:               string(gauge.Clockwise),
			ConfidenceThreshold: 0.5,
			KeypointThreshold:   0.3,
		},
		Source: SourceConfig{
			Type:        "image",
			Path:        "test_image.png",
			PollHz:      5,
			MaxWidth:    1280,
			JPEGQuality: 90,
			Timeout:     2 * time.Second,
		},
		Pose: PoseConfig{
			URL:             "http://localhost:8500",
			Timeout:         5 * time.Second,
			MaxFailures:     5,
			BreakerOpen:     10 * time.Second,
			BreakerInterval: 30 * time.Second,
		},
		Monitor: MonitorConfig{
			HistorySize: 100,
			EMAAlpha:    0.3,
			LogEvery:    30,
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			Topic:    "gauges/reading",
			ClientID: "go-gauge",
			Retries:  5,
		},
		Influx: InfluxConfig{
			URL:    "http://localhost:8086",
			Org:    "gauges",
			Bucket: "readings",
		},
		Cloud: CloudConfig{
			URL:          "ws://localhost:8080/ws/gauge",
			PingInterval: 10 * time.Second,
			WriteTimeout: 5 * time.Second,
			MaxBackoff:   30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from file and environment
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		// A missing file means defaults; anything else is fatal
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix("GOGAUGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	// Server defaults
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.graceful_timeout", "5s")

	// Gauge defaults match the reference gauge the model was trained on
	v.SetDefault("gauge.min_value", d.Gauge.MinValue)
	v.SetDefault("gauge.max_value", d.Gauge.MaxValue)
	v.SetDefault("gauge.min_angle", d.Gauge.MinAngle)
	v.SetDefault("gauge.max_angle", d.Gauge.MaxAngle)
	v.SetDefault("gauge.unit", d.Gauge.Unit)
	v.SetDefault("gauge.sense", d.Gauge.Sense)
	v.SetDefault("gauge.confidence_threshold", d.Gauge.ConfidenceThreshold)
	v.SetDefault("gauge.keypoint_threshold", d.Gauge.KeypointThreshold)
	v.SetDefault("gauge.clamp", false)

	// Source defaults
	v.SetDefault("source.type", d.Source.Type)
	v.SetDefault("source.path", d.Source.Path)
	v.SetDefault("source.snapshot_url", "")
	v.SetDefault("source.poll_hz", d.Source.PollHz)
	v.SetDefault("source.rotate", 0)
	v.SetDefault("source.max_width", d.Source.MaxWidth)
	v.SetDefault("source.jpeg_quality", d.Source.JPEGQuality)
	v.SetDefault("source.timeout", "2s")

	// Pose model defaults
	v.SetDefault("pose.url", d.Pose.URL)
	v.SetDefault("pose.timeout", "5s")
	v.SetDefault("pose.max_failures", d.Pose.MaxFailures)
	v.SetDefault("pose.breaker_open", "10s")
	v.SetDefault("pose.breaker_interval", "30s")

	// Monitor defaults
	v.SetDefault("monitor.history_size", d.Monitor.HistorySize)
	v.SetDefault("monitor.ema_alpha", d.Monitor.EMAAlpha)
	v.SetDefault("monitor.log_every", d.Monitor.LogEvery)

	// Sinks are off unless configured
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.topic", d.MQTT.Topic)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.retries", d.MQTT.Retries)

	v.SetDefault("influx.enabled", false)
	v.SetDefault("influx.url", d.Influx.URL)
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", d.Influx.Org)
	v.SetDefault("influx.bucket", d.Influx.Bucket)

	v.SetDefault("cloud.enabled", false)
	v.SetDefault("cloud.url", d.Cloud.URL)
	v.SetDefault("cloud.ping_interval", "10s")
	v.SetDefault("cloud.write_timeout", "5s")
	v.SetDefault("cloud.max_backoff", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Calibration converts the gauge section into a validated calibration.
// The returned error is a *gauge.ConfigurationError.
func (c *Config) Calibration() (gauge.Calibration, error) {
	sense, err := gauge.ParseSense(c.Gauge.Sense)
	if err != nil {
		return gauge.Calibration{}, err
	}

	cal := gauge.Calibration{
		MinValue: c.Gauge.MinValue,
		MaxValue: c.Gauge.MaxValue,
		MinAngle: c.Gauge.MinAngle,
		MaxAngle: c.Gauge.MaxAngle,
		Unit:     c.Gauge.Unit,
		Sense:    sense,
	}
	if err := cal.Validate(); err != nil {
		return gauge.Calibration{}, err
	}

	return cal, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if _, err := c.Calibration(); err != nil {
		return err
	}

	if c.Gauge.ConfidenceThreshold < 0 || c.Gauge.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", c.Gauge.ConfidenceThreshold)
	}

	if c.Gauge.KeypointThreshold < 0 || c.Gauge.KeypointThreshold > 1 {
		return fmt.Errorf("keypoint_threshold must be between 0 and 1, got %f", c.Gauge.KeypointThreshold)
	}

	switch c.Source.Type {
	case "image", "mock":
	case "snapshot":
		if c.Source.SnapshotURL == "" {
			return fmt.Errorf("source.snapshot_url is required for snapshot mode")
		}
	default:
		return fmt.Errorf("unknown source type: %q", c.Source.Type)
	}

	if c.Source.PollHz < 1 || c.Source.PollHz > 60 {
		return fmt.Errorf("poll_hz must be between 1 and 60, got %d", c.Source.PollHz)
	}

	switch c.Source.Rotate {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("rotate must be 0, 90, 180 or 270, got %d", c.Source.Rotate)
	}

	if c.Monitor.EMAAlpha <= 0 || c.Monitor.EMAAlpha > 1 {
		return fmt.Errorf("ema_alpha must be in (0, 1], got %f", c.Monitor.EMAAlpha)
	}

	if c.MQTT.Enabled && c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}

	return nil
}
