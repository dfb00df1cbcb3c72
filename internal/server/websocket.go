package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-gauge/internal/monitor"
	"github.com/teslashibe/go-gauge/internal/protocol"
)

// WSHub manages WebSocket connections and broadcasts gauge reports
type WSHub struct {
	monitor *monitor.Monitor
	metrics *Metrics
	logger  *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(mon *monitor.Monitor, metrics *Metrics, logger *slog.Logger) *WSHub {
	return &WSHub{
		monitor: mon,
		metrics: metrics,
		logger:  logger,
		clients: make(map[*websocket.Conn]*sync.Mutex),
		done:    make(chan struct{}),
	}
}

// Run forwards every monitor snapshot to clients and metrics
func (h *WSHub) Run(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	defer close(h.done)

	ch := h.monitor.Subscribe()
	defer h.monitor.Unsubscribe(ch)

	h.logger.Info("websocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopped")
			return
		case snap, ok := <-ch:
			if !ok {
				h.logger.Info("websocket hub stopped", "reason", "monitor stopped")
				return
			}

			if h.metrics != nil {
				h.metrics.Observe(snap)
			}

			msgs, err := protocol.NewSnapshotMessages(snap)
			if err != nil {
				h.logger.Warn("websocket encode error", "error", err)
				continue
			}
			for _, msg := range msgs {
				h.broadcast(msg)
			}
		}
	}
}

func (h *WSHub) broadcast(msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn, wmu := range h.clients {
		wmu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		wmu.Unlock()
		if err != nil {
			// Will be cleaned up when connection closes
			h.logger.Debug("websocket write error", "error", err)
		}
	}
}

// UpgradeHandler returns the WebSocket upgrade handler
func (h *WSHub) UpgradeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return websocket.New(h.handleConnection)(c)
		}

		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":   "WebSocket upgrade required",
			"message": "Connect via WebSocket to receive the gauge stream",
		})
	}
}

func (h *WSHub) handleConnection(c *websocket.Conn) {
	wmu := &sync.Mutex{}

	h.mu.Lock()
	h.clients[c] = wmu
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client connected",
		"remote_addr", c.RemoteAddr().String(),
		"clients", clientCount,
	)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		clientCount := len(h.clients)
		h.mu.Unlock()

		h.logger.Info("websocket client disconnected",
			"remote_addr", c.RemoteAddr().String(),
			"clients", clientCount,
		)
	}()

	// New clients learn the calibration before the first reading
	if msg, err := protocol.NewCalibrationMessage(h.monitor.Calibration()); err == nil {
		h.write(c, wmu, msg)
	}

	// Keep connection alive, read for close or commands
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			// Connection closed
			break
		}

		h.handleCommand(c, wmu, data)
	}
}

func (h *WSHub) handleCommand(c *websocket.Conn, wmu *sync.Mutex, data []byte) {
	cmd, err := protocol.ParseMessage(data)
	if err != nil {
		h.logger.Debug("websocket bad command", "error", err)
		return
	}

	var reply *protocol.Message
	switch cmd.Type {
	case protocol.TypePing:
		reply, err = protocol.NewMessage(protocol.TypePong, nil)
	case protocol.TypeCalibration:
		reply, err = protocol.NewCalibrationMessage(h.monitor.Calibration())
	case protocol.TypeStats:
		reply, err = protocol.NewStatsMessage(h.monitor.Stats())
	default:
		return
	}
	if err != nil {
		h.logger.Warn("websocket reply error", "type", cmd.Type, "error", err)
		return
	}

	h.write(c, wmu, reply)
}

func (h *WSHub) write(c *websocket.Conn, wmu *sync.Mutex, msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		return
	}

	wmu.Lock()
	defer wmu.Unlock()
	if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Debug("websocket write error", "error", err)
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts down the WebSocket hub
func (h *WSHub) Close() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}

	// Close all client connections
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*sync.Mutex)
	h.mu.Unlock()
}
