// Package broker connects the localizer to an MQTT broker: odometry and scans come in on
// subscribed topics, corrected poses and particle sets are published back.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-mcl/internal/localizer"
	"github.com/teslashibe/go-mcl/internal/protocol"
)

// Config configures the MQTT bridge
type Config struct {
	Broker           string
	ClientID         string
	Username         string
	Password         string
	QoS              byte
	OdometryTopic    string
	ScanTopic        string
	PoseTopic        string
	ParticlesTopic   string
	PublishParticles bool
	Timeout          time.Duration // connect, subscribe and publish
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Broker:           "tcp://localhost:1883",
		ClientID:         "go-mcl",
		OdometryTopic:    "robot/odometry",
		ScanTopic:        "robot/scan",
		PoseTopic:        "robot/pose/corrected",
		ParticlesTopic:   "robot/pose/particles",
		PublishParticles: true,
		Timeout:          5 * time.Second,
	}
}

// Localizer is the part of the localizer the bridge feeds and listens to
type Localizer interface {
	HandleOdometry(localizer.OdometrySample)
	HandleScan(localizer.ScanSample) error
	SubscribePoses() chan localizer.Estimate
	UnsubscribePoses(chan localizer.Estimate)
	SubscribeParticles() chan localizer.ParticleSet
	UnsubscribeParticles(chan localizer.ParticleSet)
}

// publisher is satisfied by mqtt.Client
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Bridge forwards between MQTT topics and the localizer
type Bridge struct {
	cfg    Config
	loc    Localizer
	logger *slog.Logger

	client    mqtt.Client
	connected atomic.Bool

	odomCount     atomic.Int64
	scanCount     atomic.Int64
	rejectedCount atomic.Int64
	publishCount  atomic.Int64
	publishErrors atomic.Int64
}

// New creates a bridge; nothing connects until Run
func New(cfg Config, loc Localizer, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Bridge{cfg: cfg, loc: loc, logger: logger}
}

func (b *Bridge) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(b.cfg.Timeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.connected.Store(false)
			b.logger.Warn("mqtt connection lost", "error", err)
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			b.connected.Store(true)
			b.logger.Info("mqtt connected", "broker", b.cfg.Broker)
			// subscriptions do not survive a clean-session reconnect
			if err := b.subscribe(c); err != nil {
				b.logger.Warn("mqtt subscribe failed", "error", err)
			}
		})

	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	return opts
}

func (b *Bridge) subscribe(c mqtt.Client) error {
	routes := map[string]mqtt.MessageHandler{
		b.cfg.OdometryTopic: b.handleOdometry,
		b.cfg.ScanTopic:     b.handleScan,
	}
	for topic, handler := range routes {
		token := c.Subscribe(topic, b.cfg.QoS, handler)
		if !token.WaitTimeout(b.cfg.Timeout) {
			return fmt.Errorf("subscribe %s: timeout", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}

// Run connects to the broker and publishes localizer output until ctx is done
// (blocking, use goroutine)
func (b *Bridge) Run(ctx context.Context) error {
	b.client = mqtt.NewClient(b.options())

	token := b.client.Connect()
	if !token.WaitTimeout(b.cfg.Timeout) {
		return fmt.Errorf("mqtt connect %s: timeout", b.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", b.cfg.Broker, err)
	}
	defer func() {
		b.client.Disconnect(250)
		b.connected.Store(false)
		b.logger.Info("mqtt disconnected")
	}()

	b.logger.Info("mqtt bridge started",
		"broker", b.cfg.Broker,
		"odometry_topic", b.cfg.OdometryTopic,
		"scan_topic", b.cfg.ScanTopic,
		"pose_topic", b.cfg.PoseTopic,
	)

	b.forward(ctx, b.client)
	return ctx.Err()
}

func (b *Bridge) forward(ctx context.Context, pub publisher) {
	poses := b.loc.SubscribePoses()
	defer b.loc.UnsubscribePoses(poses)

	var particles chan localizer.ParticleSet
	if b.cfg.PublishParticles && b.cfg.ParticlesTopic != "" {
		particles = b.loc.SubscribeParticles()
		defer b.loc.UnsubscribeParticles(particles)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case est, ok := <-poses:
			if !ok {
				return
			}
			msg, err := protocol.NewPoseMessage(est)
			if err != nil {
				b.logger.Warn("encode pose failed", "error", err)
				continue
			}
			b.publish(pub, b.cfg.PoseTopic, true, msg)
		case set, ok := <-particles:
			if !ok {
				return
			}
			msg, err := protocol.NewParticlesMessage(set)
			if err != nil {
				b.logger.Warn("encode particles failed", "error", err)
				continue
			}
			b.publish(pub, b.cfg.ParticlesTopic, false, msg)
		}
	}
}

func (b *Bridge) publish(pub publisher, topic string, retained bool, msg *protocol.Message) {
	payload, err := msg.Bytes()
	if err != nil {
		b.publishErrors.Add(1)
		return
	}

	token := pub.Publish(topic, b.cfg.QoS, retained, payload)
	if !token.WaitTimeout(b.cfg.Timeout) {
		b.publishErrors.Add(1)
		b.logger.Warn("mqtt publish timeout", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		b.publishErrors.Add(1)
		b.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
		return
	}
	b.publishCount.Add(1)
}

// decode accepts either a protocol envelope of the expected type or a bare payload
func decode(payload []byte, want protocol.MessageType, v interface{}) error {
	var msg protocol.Message
	if err := json.Unmarshal(payload, &msg); err == nil && msg.Type != "" {
		if msg.Type != want {
			return fmt.Errorf("unexpected message type %q", msg.Type)
		}
		if msg.Data == nil {
			return errors.New("empty message data")
		}
		return msg.ParseData(v)
	}
	return json.Unmarshal(payload, v)
}

func (b *Bridge) handleOdometry(_ mqtt.Client, m mqtt.Message) {
	var data protocol.OdometryData
	if err := decode(m.Payload(), protocol.TypeOdometry, &data); err != nil {
		b.rejectedCount.Add(1)
		b.logger.Warn("bad odometry message", "topic", m.Topic(), "error", err)
		return
	}
	b.odomCount.Add(1)
	b.loc.HandleOdometry(data.Sample())
}

func (b *Bridge) handleScan(_ mqtt.Client, m mqtt.Message) {
	var data protocol.ScanData
	if err := decode(m.Payload(), protocol.TypeScan, &data); err != nil {
		b.rejectedCount.Add(1)
		b.logger.Warn("bad scan message", "topic", m.Topic(), "error", err)
		return
	}
	b.scanCount.Add(1)
	if err := b.loc.HandleScan(data.Sample()); err != nil {
		if !errors.Is(err, localizer.ErrNoOdometry) {
			b.rejectedCount.Add(1)
		}
		b.logger.Warn("scan not accepted", "topic", m.Topic(), "error", err)
	}
}

// Connected reports whether the broker connection is up
func (b *Bridge) Connected() bool {
	return b.connected.Load()
}

// Stats contains bridge statistics
type Stats struct {
	Connected     bool  `json:"connected"`
	OdometryCount int64 `json:"odometry_count"`
	ScanCount     int64 `json:"scan_count"`
	RejectedCount int64 `json:"rejected_count"`
	PublishCount  int64 `json:"publish_count"`
	PublishErrors int64 `json:"publish_errors"`
}

// GetStats returns bridge statistics
func (b *Bridge) GetStats() Stats {
	return Stats{
		Connected:     b.connected.Load(),
		OdometryCount: b.odomCount.Load(),
		ScanCount:     b.scanCount.Load(),
		RejectedCount: b.rejectedCount.Load(),
		PublishCount:  b.publishCount.Load(),
		PublishErrors: b.publishErrors.Load(),
	}
}
