// Package publish sends gauge reports to an MQTT broker
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-gauge/internal/monitor"
	"github.com/teslashibe/go-gauge/internal/protocol"
)

// Config holds MQTT publisher configuration
type Config struct {
	Broker         string        // e.g. "tcp://localhost:1883"
	Topic          string        // Reports go to {Topic}/{gauge index}
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	Retries        int           // Connection attempts before giving up
	MaxElapsed     time.Duration // Upper bound on the whole connect retry
	PublishTimeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Broker:         "tcp://localhost:1883",
		Topic:          "gauges/reading",
		ClientID:       "go-gauge",
		Retries:        5,
		MaxElapsed:     10 * time.Second,
		PublishTimeout: 5 * time.Second,
	}
}

// Publisher publishes snapshots as protocol messages
type Publisher struct {
	client mqtt.Client
	cfg    Config
	logger *slog.Logger

	// Stats
	published atomic.Uint64
	failed    atomic.Uint64
}

// Connect dials the broker with exponential backoff and returns a publisher
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker)
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.MaxElapsed

	retries := cfg.Retries
	if retries < 1 {
		retries = 1
	}

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		token := client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			logger.Warn("mqtt connect failed", "broker", cfg.Broker, "error", err)
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not connect to mqtt broker %s: %w", cfg.Broker, err)
	}

	return NewPublisher(client, cfg, logger), nil
}

// NewPublisher wraps an already connected client
func NewPublisher(client mqtt.Client, cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	return &Publisher{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// Name returns the sink name
func (p *Publisher) Name() string {
	return "mqtt"
}

// Publish sends one message per report in the snapshot
func (p *Publisher) Publish(ctx context.Context, snap monitor.Snapshot) error {
	for _, r := range snap.Reports {
		msg, err := protocol.NewReportMessage(snap.FrameID, r)
		if err != nil {
			return err
		}

		data, err := msg.Bytes()
		if err != nil {
			return err
		}

		topic := fmt.Sprintf("%s/%d", p.cfg.Topic, r.Index)
		if err := p.publish(ctx, topic, data); err != nil {
			p.failed.Add(1)
			return err
		}
		p.published.Add(1)
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, p.cfg.QoS, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.cfg.PublishTimeout):
		return fmt.Errorf("publish to %s timed out", topic)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Healthy reports whether the broker connection is up
func (p *Publisher) Healthy() bool {
	return p.client.IsConnected()
}

// Stats contains publisher statistics
type Stats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Connected bool   `json:"connected"`
}

// GetStats returns publisher statistics
func (p *Publisher) GetStats() Stats {
	return Stats{
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
		Connected: p.client.IsConnected(),
	}
}

// Close disconnects from the broker
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		p.logger.Info("mqtt client disconnected")
	}
}
