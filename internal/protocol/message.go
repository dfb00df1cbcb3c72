// Package protocol defines the JSON message envelope shared by the
// WebSocket stream, the cloud uplink and MQTT.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-gauge/internal/gauge"
	"github.com/teslashibe/go-gauge/internal/monitor"
)

// MessageType identifies the type of message
type MessageType string

const (
	// Device → consumer messages
	TypeReading   MessageType = "reading"    // Calibrated gauge value
	TypeNoReading MessageType = "no_reading" // Gauge seen but not trusted
	TypeStats     MessageType = "stats"      // Monitor statistics

	// Either direction. Consumers send an empty calibration message to
	// request the active calibration.
	TypeCalibration MessageType = "calibration"
	TypePing        MessageType = "ping"
	TypePong        MessageType = "pong"
)

// Message is the base wrapper for all messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// ReadingData is one calibrated gauge value
type ReadingData struct {
	FrameID    uint64    `json:"frame_id"`
	Gauge      int       `json:"gauge"`
	Value      float64   `json:"value"`
	Smoothed   float64   `json:"smoothed_value"`
	Angle      float64   `json:"angle"`
	Unit       string    `json:"unit"`
	Confidence float64   `json:"confidence"`
	InRange    bool      `json:"in_range"`
	Fraction   float64   `json:"fraction"`
	Clamped    bool      `json:"clamped,omitempty"`
	Box        gauge.Box `json:"box"`
}

// NoReadingData explains why a detected gauge produced no value
type NoReadingData struct {
	FrameID    uint64       `json:"frame_id"`
	Gauge      int          `json:"gauge"`
	Reason     gauge.Reason `json:"reason"`
	Detail     string       `json:"detail,omitempty"`
	Confidence float64      `json:"confidence"`
	Box        gauge.Box    `json:"box"`
}

// NewReportMessage creates a reading or no_reading message for one report
func NewReportMessage(frameID uint64, r monitor.Report) (*Message, error) {
	if r.Reading != nil {
		return NewMessage(TypeReading, ReadingData{
			FrameID:    frameID,
			Gauge:      r.Index,
			Value:      r.Reading.Value,
			Smoothed:   r.Smoothed,
			Angle:      r.Reading.Angle,
			Unit:       r.Reading.Unit,
			Confidence: r.Reading.Confidence,
			InRange:    r.Reading.InRange,
			Fraction:   r.Reading.Fraction,
			Clamped:    r.Clamped,
			Box:        r.Box,
		})
	}

	if r.NoReading != nil {
		return NewMessage(TypeNoReading, NoReadingData{
			FrameID:    frameID,
			Gauge:      r.Index,
			Reason:     r.NoReading.Reason,
			Detail:     r.NoReading.Detail,
			Confidence: r.Confidence,
			Box:        r.Box,
		})
	}

	return nil, fmt.Errorf("report %d has no outcome", r.Index)
}

// NewSnapshotMessages creates one message per report in a snapshot
func NewSnapshotMessages(snap monitor.Snapshot) ([]*Message, error) {
	msgs := make([]*Message, 0, len(snap.Reports))
	for _, r := range snap.Reports {
		msg, err := NewReportMessage(snap.FrameID, r)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// NewCalibrationMessage creates a calibration message
func NewCalibrationMessage(cal gauge.Calibration) (*Message, error) {
	return NewMessage(TypeCalibration, cal)
}

// NewStatsMessage creates a stats message
func NewStatsMessage(stats monitor.Stats) (*Message, error) {
	return NewMessage(TypeStats, stats)
}

// GetReading extracts reading data from a message
func (m *Message) GetReading() (*ReadingData, error) {
	if m.Type != TypeReading {
		return nil, fmt.Errorf("not a reading message: %s", m.Type)
	}
	var data ReadingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetNoReading extracts no_reading data from a message
func (m *Message) GetNoReading() (*NoReadingData, error) {
	if m.Type != TypeNoReading {
		return nil, fmt.Errorf("not a no_reading message: %s", m.Type)
	}
	var data NoReadingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
