// Package cloud streams gauge reports to a remote collector over WebSocket
package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-gauge/internal/gauge"
	"github.com/teslashibe/go-gauge/internal/monitor"
	"github.com/teslashibe/go-gauge/internal/protocol"
)

// ErrNotConnected is returned when sending without a live connection
var ErrNotConnected = errors.New("not connected")

// Config holds cloud client configuration
type Config struct {
	URL              string        // WebSocket URL (e.g., "ws://collector.example.com/ws/gauge")
	ReconnectBackoff time.Duration // Initial reconnect delay
	MaxBackoff       time.Duration // Maximum reconnect delay
	PingInterval     time.Duration // Ping interval for keepalive
	WriteTimeout     time.Duration // Write timeout
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:8080/ws/gauge",
		ReconnectBackoff: 1 * time.Second,
		MaxBackoff:       30 * time.Second,
		PingInterval:     10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// Client keeps a WebSocket uplink open and forwards gauge reports.
// Reports produced while disconnected are dropped and counted.
type Client struct {
	cfg    Config
	cal    gauge.Calibration
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}

	writeMu sync.Mutex

	// Stats
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	dropped          atomic.Uint64
	reconnects       atomic.Uint64
}

// NewClient creates a new cloud client
func NewClient(cfg Config, cal gauge.Calibration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		cal:    cal,
		logger: logger,
	}
}

// Connect starts the connection loop in the background
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.connectionLoop(ctx)
	}()
	return nil
}

func (c *Client) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.ReconnectBackoff
	bo.MaxInterval = c.cfg.MaxBackoff
	bo.MaxElapsedTime = 0 // Retry forever
	bo.Reset()
	return bo
}

// connectionLoop manages connection with auto-reconnect
func (c *Client) connectionLoop(ctx context.Context) {
	bo := c.newBackOff()

	for {
		select {
		case <-ctx.Done():
			c.closeConnection()
			return
		default:
		}

		if err := c.connect(ctx); err != nil {
			wait := bo.NextBackOff()
			c.logger.Warn("cloud connection failed",
				"error", err,
				"retry_in", wait,
			)

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}

			c.reconnects.Add(1)
			continue
		}

		// Reset backoff on successful connection
		bo.Reset()

		// Read messages until error
		c.readLoop(ctx)
	}
}

// connect establishes the WebSocket connection
func (c *Client) connect(ctx context.Context) error {
	c.logger.Info("connecting to cloud", "url", c.cfg.URL)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	// Announce the calibration before any reading so the collector can
	// interpret them
	msg, err := protocol.NewCalibrationMessage(c.cal)
	if err == nil {
		err = c.write(conn, msg)
	}
	if err != nil {
		conn.Close()
		return fmt.Errorf("announce calibration: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("connected to cloud")

	// Start ping goroutine
	go c.pingLoop(ctx, conn)

	return nil
}

// pingLoop sends periodic pings on conn until it is replaced or closed
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.conn
			c.mu.Unlock()

			if current != conn {
				return
			}

			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// readLoop reads messages from cloud
func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("read error", "error", err)
			c.closeConnection()
			return
		}

		c.messagesReceived.Add(1)
		c.handleMessage(data)
	}
}

// handleMessage answers collector requests
func (c *Client) handleMessage(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		c.logger.Warn("parse message error", "error", err)
		return
	}

	var reply *protocol.Message
	switch msg.Type {
	case protocol.TypePing:
		reply, err = protocol.NewMessage(protocol.TypePong, nil)
	case protocol.TypeCalibration:
		reply, err = protocol.NewCalibrationMessage(c.cal)
	default:
		c.logger.Debug("ignoring cloud message", "type", msg.Type)
		return
	}
	if err != nil {
		c.logger.Warn("build reply error", "type", msg.Type, "error", err)
		return
	}

	c.SendMessage(reply)
}

// SendMessage sends a message to cloud
func (c *Client) SendMessage(msg *protocol.Message) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	if err := c.write(conn, msg); err != nil {
		c.logger.Warn("send error", "error", err)
		c.closeConnection()
		return err
	}
	return nil
}

func (c *Client) write(conn *websocket.Conn, msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	c.messagesSent.Add(1)
	return nil
}

// Name returns the sink name
func (c *Client) Name() string {
	return "cloud"
}

// Publish sends every report in the snapshot
func (c *Client) Publish(ctx context.Context, snap monitor.Snapshot) error {
	if !c.IsConnected() {
		c.dropped.Add(uint64(len(snap.Reports)))
		return nil
	}

	msgs, err := protocol.NewSnapshotMessages(snap)
	if err != nil {
		return err
	}

	for i, msg := range msgs {
		if err := c.SendMessage(msg); err != nil {
			c.dropped.Add(uint64(len(msgs) - i))
			if errors.Is(err, ErrNotConnected) {
				return nil
			}
			return err
		}
	}
	return nil
}

// closeConnection closes the WebSocket connection
func (c *Client) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close shuts down the client
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.closeConnection()
	if done != nil {
		<-done
	}
	return nil
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Stats contains client statistics
type Stats struct {
	Connected        bool   `json:"connected"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	Dropped          uint64 `json:"dropped"`
	Reconnects       uint64 `json:"reconnects"`
}

// GetStats returns client statistics
func (c *Client) GetStats() Stats {
	return Stats{
		Connected:        c.IsConnected(),
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		Dropped:          c.dropped.Load(),
		Reconnects:       c.reconnects.Load(),
	}
}
