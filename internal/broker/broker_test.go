package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-mcl/internal/localizer"
	"github.com/teslashibe/go-mcl/internal/mcl"
	"github.com/teslashibe/go-mcl/internal/pose"
	"github.com/teslashibe/go-mcl/internal/protocol"
)

// MockMessage implements mqtt.Message
type MockMessage struct {
	topic   string
	payload []byte
}

func (m *MockMessage) Duplicate() bool { return false }
func (m *MockMessage) Qos() byte { return 0 }
func (m *MockMessage) Retained() bool { return false }
func (m *MockMessage) Topic() string { return m.topic }
func (m *MockMessage) MessageID() uint16 { return 1 }
func (m *MockMessage) Payload() []byte { return m.payload }
func (m *MockMessage) Ack() {}

// MockToken implements mqtt.Token
type MockToken struct {
	err error
}

func (t *MockToken) Wait() bool { return true }
func (t *MockToken) WaitTimeout(_ time.Duration) bool { return true }
func (t *MockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *MockToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// MockPublisher records publishes
type MockPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *MockPublisher) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return &MockToken{err: p.err}
}

func (p *MockPublisher) Messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

// MockLocalizer records inputs and exposes its subscriber channels
type MockLocalizer struct {
	mu        sync.Mutex
	odometry  []localizer.OdometrySample
	scans     []localizer.ScanSample
	scanErr   error
	poses     chan localizer.Estimate
	particles chan localizer.ParticleSet
}

func NewMockLocalizer() *MockLocalizer {
	return &MockLocalizer{
		poses:     make(chan localizer.Estimate, 4),
		particles: make(chan localizer.ParticleSet, 4),
	}
}

func (m *MockLocalizer) HandleOdometry(s localizer.OdometrySample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.odometry = append(m.odometry, s)
}

func (m *MockLocalizer) HandleScan(s localizer.ScanSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scanErr != nil {
		return m.scanErr
	}
	m.scans = append(m.scans, s)
	return nil
}

func (m *MockLocalizer) SubscribePoses() chan localizer.Estimate { return m.poses }
func (m *MockLocalizer) UnsubscribePoses(chan localizer.Estimate) {}
func (m *MockLocalizer) SubscribeParticles() chan localizer.ParticleSet { return m.particles }
func (m *MockLocalizer) UnsubscribeParticles(chan localizer.ParticleSet) {}

func TestHandleOdometry(t *testing.T) {
	envelope, _ := protocol.NewMessage(protocol.TypeOdometry, protocol.OdometryData{X: 1, Y: 2, Heading: 0.5})
	envBytes, _ := envelope.Bytes()

	tests := []struct {
		name    string
		payload []byte
		wantX   float64
		wantOK  bool
	}{
		{"envelope", envBytes, 1, true},
		{"bare payload", []byte(`{"x":3,"y":4,"heading":0}`), 3, true},
		{"wrong envelope type", []byte(`{"type":"scan","data":{"x":1}}`), 0, false},
		{"garbage", []byte("not json"), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := NewMockLocalizer()
			b := New(DefaultConfig(), loc, nil)

			b.handleOdometry(nil, &MockMessage{topic: "robot/odometry", payload: tt.payload})

			if !tt.wantOK {
				if len(loc.odometry) != 0 {
					t.Errorf("expected no odometry, got %d", len(loc.odometry))
				}
				if b.GetStats().RejectedCount != 1 {
					t.Errorf("expected 1 rejected, got %d", b.GetStats().RejectedCount)
				}
				return
			}

			if len(loc.odometry) != 1 {
				t.Fatalf("expected 1 odometry sample, got %d", len(loc.odometry))
			}
			if loc.odometry[0].Pose.X != tt.wantX {
				t.Errorf("X = %v, want %v", loc.odometry[0].Pose.X, tt.wantX)
			}
			if b.GetStats().OdometryCount != 1 {
				t.Errorf("expected odometry count 1, got %d", b.GetStats().OdometryCount)
			}
		})
	}
}

func TestHandleScan(t *testing.T) {
	loc := NewMockLocalizer()
	b := New(DefaultConfig(), loc, nil)

	payload := []byte(`{"angle_min":-1,"angle_increment":0.5,"ranges":[1,2,3,4,5],"max_range":8}`)
	b.handleScan(nil, &MockMessage{topic: "robot/scan", payload: payload})

	if len(loc.scans) != 1 {
		t.Fatalf("expected 1 scan, got %d", len(loc.scans))
	}
	s := loc.scans[0].Scan
	if s.Len() != 5 || s.Angles[4] != 1 {
		t.Errorf("unexpected scan %+v", s)
	}
}

func TestHandleScan_LocalizerRejects(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantRejected int64
	}{
		{"no odometry yet", localizer.ErrNoOdometry, 0},
		{"malformed", mcl.ErrMalformedScan, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := NewMockLocalizer()
			loc.scanErr = tt.err
			b := New(DefaultConfig(), loc, nil)

			b.handleScan(nil, &MockMessage{topic: "robot/scan", payload: []byte(`{"angles":[0],"ranges":[1],"max_range":5}`)})

			stats := b.GetStats()
			if stats.ScanCount != 1 {
				t.Errorf("expected scan count 1, got %d", stats.ScanCount)
			}
			if stats.RejectedCount != tt.wantRejected {
				t.Errorf("expected %d rejected, got %d", tt.wantRejected, stats.RejectedCount)
			}
		})
	}
}

func TestForward(t *testing.T) {
	loc := NewMockLocalizer()
	cfg := DefaultConfig()
	b := New(cfg, loc, nil)
	pub := &MockPublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.forward(ctx, pub)
		close(done)
	}()

	loc.poses <- localizer.Estimate{RunID: "r", Seq: 1, Time: time.Now(), Pose: pose.New(1, 2, 0)}
	loc.particles <- localizer.ParticleSet{RunID: "r", Seq: 1, Time: time.Now(), Particles: []mcl.Particle{{Pose: pose.Zero, Weight: 1}}}

	deadline := time.After(2 * time.Second)
	for len(pub.Messages()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected 2 publishes, got %d", len(pub.Messages()))
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	byTopic := map[string]published{}
	for _, m := range pub.Messages() {
		byTopic[m.topic] = m
	}

	poseMsg, ok := byTopic[cfg.PoseTopic]
	if !ok {
		t.Fatal("pose not published")
	}
	if !poseMsg.retained {
		t.Error("expected pose to be retained")
	}
	parsed, err := protocol.ParseMessage(poseMsg.payload)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	data, _ := parsed.GetPose()
	if data.X != 1 || data.Y != 2 || data.RunID != "r" {
		t.Errorf("unexpected pose payload %+v", data)
	}

	partMsg, ok := byTopic[cfg.ParticlesTopic]
	if !ok {
		t.Fatal("particles not published")
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(partMsg.payload, &env); err != nil {
		t.Fatalf("particles payload: %v", err)
	}
	if string(env["type"]) != `"particles"` {
		t.Errorf("type = %s", env["type"])
	}

	if b.GetStats().PublishCount != 2 {
		t.Errorf("expected publish count 2, got %d", b.GetStats().PublishCount)
	}
}

func TestPublishError(t *testing.T) {
	b := New(DefaultConfig(), NewMockLocalizer(), nil)
	pub := &MockPublisher{err: errors.New("broker gone")}

	msg, _ := protocol.NewMessage(protocol.TypePing, nil)
	b.publish(pub, "robot/pose/corrected", true, msg)

	stats := b.GetStats()
	if stats.PublishErrors != 1 || stats.PublishCount != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestConnectedDefaultsFalse(t *testing.T) {
	b := New(DefaultConfig(), NewMockLocalizer(), nil)
	if b.Connected() {
		t.Error("expected not connected before Run")
	}
}
