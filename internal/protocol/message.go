// Package protocol defines the JSON messages exchanged with the localizer over
// WebSocket and MQTT.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-mcl/internal/localizer"
	"github.com/teslashibe/go-mcl/internal/mcl"
	"github.com/teslashibe/go-mcl/internal/pose"
	"github.com/teslashibe/go-mcl/internal/scan"
)

// MessageType identifies the type of message
type MessageType string

const (
	// Sensor → localizer
	TypeOdometry MessageType = "odometry" // Odometry-derived pose
	TypeScan     MessageType = "scan"     // Laser range scan

	// Localizer → consumers
	TypePose      MessageType = "pose"      // Corrected pose
	TypeParticles MessageType = "particles" // Particle set
	TypeStats     MessageType = "stats"

	// Commands
	TypeRelocalize MessageType = "relocalize"
	TypeGetStats   MessageType = "get_stats"

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
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
	return &msg, nil
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

// OdometryData is a pose integrated from wheel odometry
type OdometryData struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Heading   float64 `json:"heading"`          // radians
	Timestamp int64   `json:"ts_ms,omitempty"` // unix millis, 0 means now
}

// Sample converts the payload into a localizer input
func (o OdometryData) Sample() localizer.OdometrySample {
	return localizer.OdometrySample{
		Time: fromMillis(o.Timestamp),
		Pose: pose.New(o.X, o.Y, o.Heading),
	}
}

// GetOdometry extracts odometry from a message
func (m *Message) GetOdometry() (*OdometryData, error) {
	var data OdometryData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// ScanData is a laser scan. Bearings are either listed in Angles or generated from
// AngleMin and AngleIncrement. Readings <= 0 or >= MaxRange mean no return.
type ScanData struct {
	Angles         []float64 `json:"angles,omitempty"`
	AngleMin       float64   `json:"angle_min,omitempty"`
	AngleIncrement float64   `json:"angle_increment,omitempty"`
	Ranges         []float64 `json:"ranges"`
	MaxRange       float64   `json:"max_range"`
	Timestamp      int64     `json:"ts_ms,omitempty"`
}

// Scan converts the payload into a scan. The result is not validated.
func (d ScanData) Scan() *scan.Scan {
	angles := d.Angles
	if len(angles) == 0 && d.AngleIncrement != 0 {
		angles = make([]float64, len(d.Ranges))
		for i := range angles {
			angles[i] = d.AngleMin + float64(i)*d.AngleIncrement
		}
	}
	return &scan.Scan{
		Angles:   angles,
		Ranges:   d.Ranges,
		MaxRange: d.MaxRange,
	}
}

// Sample converts the payload into a localizer input
func (d ScanData) Sample() localizer.ScanSample {
	return localizer.ScanSample{
		Time: fromMillis(d.Timestamp),
		Scan: d.Scan(),
	}
}

// GetScan extracts a scan from a message
func (m *Message) GetScan() (*ScanData, error) {
	var data ScanData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// PoseData is a corrected pose
type PoseData struct {
	RunID      string  `json:"run_id"`
	Seq        uint64  `json:"seq"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Heading    float64 `json:"heading"`
	Initial    bool    `json:"initial"`
	Skipped    bool    `json:"skipped"`
	Resampled  bool    `json:"resampled"`
	Degenerate bool    `json:"degenerate"`
	ESS        float64 `json:"ess"`
	Timestamp  int64   `json:"ts_ms"`
}

// FromEstimate builds the pose payload for an estimate
func FromEstimate(est localizer.Estimate) PoseData {
	return PoseData{
		RunID:      est.RunID,
		Seq:        est.Seq,
		X:          est.Pose.X,
		Y:          est.Pose.Y,
		Heading:    est.Pose.Heading,
		Initial:    est.Initial,
		Skipped:    est.Cycle.Skipped,
		Resampled:  est.Cycle.Resampled,
		Degenerate: est.Cycle.Degenerate,
		ESS:        est.Cycle.ESS,
		Timestamp:  est.Time.UnixMilli(),
	}
}

// NewPoseMessage creates a pose message
func NewPoseMessage(est localizer.Estimate) (*Message, error) {
	return NewMessage(TypePose, FromEstimate(est))
}

// GetPose extracts a pose from a message
func (m *Message) GetPose() (*PoseData, error) {
	var data PoseData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// ParticleData is one weighted hypothesis
type ParticleData struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
	Weight  float64 `json:"w"`
}

// ParticlesData is a particle set snapshot
type ParticlesData struct {
	RunID     string         `json:"run_id"`
	Seq       uint64         `json:"seq"`
	Particles []ParticleData `json:"particles"`
	Timestamp int64          `json:"ts_ms"`
}

// FromParticleSet builds the particles payload for a snapshot
func FromParticleSet(set localizer.ParticleSet) ParticlesData {
	out := ParticlesData{
		RunID:     set.RunID,
		Seq:       set.Seq,
		Particles: make([]ParticleData, len(set.Particles)),
		Timestamp: set.Time.UnixMilli(),
	}
	for i, p := range set.Particles {
		out.Particles[i] = ParticleData{X: p.Pose.X, Y: p.Pose.Y, Heading: p.Pose.Heading, Weight: p.Weight}
	}
	return out
}

// NewParticlesMessage creates a particles message
func NewParticlesMessage(set localizer.ParticleSet) (*Message, error) {
	return NewMessage(TypeParticles, FromParticleSet(set))
}

// ToParticles converts the payload back into particles
func (d ParticlesData) ToParticles() []mcl.Particle {
	ps := make([]mcl.Particle, len(d.Particles))
	for i, p := range d.Particles {
		ps[i] = mcl.Particle{Pose: pose.New(p.X, p.Y, p.Heading), Weight: p.Weight}
	}
	return ps
}

// RelocalizeCommand restarts localization at a pose
type RelocalizeCommand struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// Pose returns the requested initial pose
func (r RelocalizeCommand) Pose() pose.Pose {
	return pose.New(r.X, r.Y, r.Heading)
}

// GetRelocalizeCommand extracts a relocalize command from a message
func (m *Message) GetRelocalizeCommand() (*RelocalizeCommand, error) {
	var data RelocalizeCommand
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// NewStatsMessage creates a stats message
func NewStatsMessage(stats localizer.Stats) (*Message, error) {
	return NewMessage(TypeStats, stats)
}
