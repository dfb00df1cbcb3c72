package publish

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-gauge/internal/gauge"
	"github.com/teslashibe/go-gauge/internal/monitor"
	"github.com/teslashibe/go-gauge/internal/protocol"
)

// fakeToken completes immediately with err
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

// fakeClient records publishes
type fakeClient struct {
	mu        sync.Mutex
	connected bool
	err       error
	topics    []string
	payloads  [][]byte
	qos       []byte
}

func (c *fakeClient) IsConnected() bool      { return c.connected }
func (c *fakeClient) IsConnectionOpen() bool { return c.connected }
func (c *fakeClient) Connect() mqtt.Token    { return newFakeToken(nil) }
func (c *fakeClient) Disconnect(uint)        { c.connected = false }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload.([]byte))
	c.qos = append(c.qos, qos)
	return newFakeToken(c.err)
}

func (c *fakeClient) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	return newFakeToken(nil)
}

func (c *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return newFakeToken(nil)
}

func (c *fakeClient) Unsubscribe(...string) mqtt.Token        { return newFakeToken(nil) }
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler)    {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func testSnapshot() monitor.Snapshot {
	return monitor.Snapshot{
		FrameID: 9,
		Reports: []monitor.Report{
			{Index: 0, Reading: &gauge.Reading{Value: 5, Unit: "kg/cm2", InRange: true}},
			{Index: 1, NoReading: &gauge.NoReading{Reason: gauge.ReasonLowConfidence}},
		},
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Broker == "" || cfg.Topic == "" {
		t.Error("broker and topic should have defaults")
	}
	if cfg.Retries <= 0 {
		t.Error("Retries should be positive")
	}
}

func TestPublish(t *testing.T) {
	client := &fakeClient{connected: true}

	cfg := DefaultConfig()
	cfg.QoS = 1
	p := NewPublisher(client, cfg, nil)

	if err := p.Publish(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(client.topics) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(client.topics))
	}
	if client.topics[0] != "gauges/reading/0" || client.topics[1] != "gauges/reading/1" {
		t.Errorf("unexpected topics: %v", client.topics)
	}
	if client.qos[0] != 1 {
		t.Errorf("QoS = %d, want 1", client.qos[0])
	}

	msg, err := protocol.ParseMessage(client.payloads[0])
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	data, err := msg.GetReading()
	if err != nil {
		t.Fatalf("GetReading() error = %v", err)
	}
	if data.Value != 5 || data.FrameID != 9 {
		t.Errorf("unexpected reading: %+v", data)
	}

	second, err := protocol.ParseMessage(client.payloads[1])
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if second.Type != protocol.TypeNoReading {
		t.Errorf("Type = %s, want no_reading", second.Type)
	}

	stats := p.GetStats()
	if stats.Published != 2 || stats.Failed != 0 || !stats.Connected {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPublish_Error(t *testing.T) {
	client := &fakeClient{connected: true, err: errors.New("not authorized")}
	p := NewPublisher(client, DefaultConfig(), nil)

	if err := p.Publish(context.Background(), testSnapshot()); err == nil {
		t.Fatal("expected publish error")
	}

	if p.GetStats().Failed != 1 {
		t.Errorf("expected 1 failure, got %d", p.GetStats().Failed)
	}
}

func TestHealthyAndClose(t *testing.T) {
	client := &fakeClient{connected: true}
	p := NewPublisher(client, DefaultConfig(), nil)

	if !p.Healthy() {
		t.Error("expected healthy while connected")
	}

	p.Close()

	if p.Healthy() {
		t.Error("expected unhealthy after close")
	}
	if p.Name() != "mqtt" {
		t.Errorf("Name() = %s", p.Name())
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Broker = "tcp://127.0.0.1:1" // nothing listens here
	cfg.Retries = 2
	cfg.MaxElapsed = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := Connect(ctx, cfg, nil); err == nil {
		t.Error("expected connect error")
	}
}
