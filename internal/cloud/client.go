// Package cloud provides the WebSocket uplink that streams corrected poses to a remote
// fleet service and accepts relocalization commands from it.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-mcl/internal/localizer"
	"github.com/teslashibe/go-mcl/internal/pose"
	"github.com/teslashibe/go-mcl/internal/protocol"
)

// ErrNotConnected is returned when sending without a live connection
var ErrNotConnected = errors.New("not connected")

// Config holds cloud client configuration
type Config struct {
	URL              string        // WebSocket URL (e.g., "ws://fleet.example.com/ws/robot")
	ReconnectBackoff time.Duration // Initial reconnect delay
	MaxBackoff       time.Duration // Maximum reconnect delay
	PingInterval     time.Duration // Ping interval for keepalive
	WriteTimeout     time.Duration // Write timeout
	SendParticles    bool
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:8080/ws/robot",
		ReconnectBackoff: 1 * time.Second,
		MaxBackoff:       30 * time.Second,
		PingInterval:     10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// Source is where the uplink gets its poses from
type Source interface {
	SubscribePoses() chan localizer.Estimate
	UnsubscribePoses(chan localizer.Estimate)
	SubscribeParticles() chan localizer.ParticleSet
	UnsubscribeParticles(chan localizer.ParticleSet)
}

// Client manages the WebSocket connection to the fleet service
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc

	writeMu sync.Mutex

	// Callbacks for incoming messages
	onRelocalize   func(pose.Pose)
	onStatsRequest func() localizer.Stats

	// Stats
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	messagesDropped  atomic.Uint64
	reconnects       atomic.Uint64
}

// NewClient creates a new cloud client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
	}
}

// OnRelocalize sets the callback for relocalize commands
func (c *Client) OnRelocalize(callback func(pose.Pose)) {
	c.mu.Lock()
	c.onRelocalize = callback
	c.mu.Unlock()
}

// OnStatsRequest sets the provider used to answer get_stats
func (c *Client) OnStatsRequest(callback func() localizer.Stats) {
	c.mu.Lock()
	c.onStatsRequest = callback
	c.mu.Unlock()
}

// Connect starts the connection loop in the background
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.connectionLoop(ctx)
	return nil
}

// connectionLoop manages connection with auto-reconnect
func (c *Client) connectionLoop(ctx context.Context) {
	backoff := c.cfg.ReconnectBackoff

	for {
		select {
		case <-ctx.Done():
			c.closeConnection()
			return
		default:
		}

		err := c.connect(ctx)
		if err != nil {
			c.logger.Warn("cloud connection failed",
				"error", err,
				"retry_in", backoff,
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}

			// Exponential backoff
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
			c.reconnects.Add(1)
			continue
		}

		// Reset backoff on successful connection
		backoff = c.cfg.ReconnectBackoff

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

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("connected to cloud")

	go c.pingLoop(ctx, conn)

	return nil
}

// pingLoop sends periodic pings until the connection changes
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

// handleMessage processes incoming messages
func (c *Client) handleMessage(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		c.logger.Warn("parse message error", "error", err)
		return
	}

	c.mu.Lock()
	relocalizeCb := c.onRelocalize
	statsCb := c.onStatsRequest
	c.mu.Unlock()

	switch msg.Type {
	case protocol.TypeRelocalize:
		if relocalizeCb != nil {
			cmd, err := msg.GetRelocalizeCommand()
			if err != nil {
				c.logger.Warn("bad relocalize command", "error", err)
				return
			}
			relocalizeCb(cmd.Pose())
		}

	case protocol.TypeGetStats:
		if statsCb != nil {
			reply, err := protocol.NewStatsMessage(statsCb())
			if err == nil {
				c.SendMessage(reply)
			}
		}

	case protocol.TypePing:
		// Respond with pong
		pong := &protocol.Message{Type: protocol.TypePong, Timestamp: time.Now().UnixMilli()}
		c.SendMessage(pong)
	}
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

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()

	if err != nil {
		c.logger.Warn("send error", "error", err)
		c.closeConnection()
		return fmt.Errorf("write: %w", err)
	}

	c.messagesSent.Add(1)
	return nil
}

// SendPose sends a corrected pose to cloud
func (c *Client) SendPose(est localizer.Estimate) error {
	msg, err := protocol.NewPoseMessage(est)
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// SendParticles sends a particle set to cloud
func (c *Client) SendParticles(set localizer.ParticleSet) error {
	msg, err := protocol.NewParticlesMessage(set)
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// Stream forwards localizer output while connected until ctx is done (blocking, use
// goroutine). Output produced while disconnected is dropped.
func (c *Client) Stream(ctx context.Context, src Source) {
	poses := src.SubscribePoses()
	defer src.UnsubscribePoses(poses)

	var particles chan localizer.ParticleSet
	if c.cfg.SendParticles {
		particles = src.SubscribeParticles()
		defer src.UnsubscribeParticles(particles)
	}

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case est, ok := <-poses:
			if !ok {
				return
			}
			err = c.SendPose(est)
		case set, ok := <-particles:
			if !ok {
				return
			}
			err = c.SendParticles(set)
		}
		if errors.Is(err, ErrNotConnected) {
			c.messagesDropped.Add(1)
		}
	}
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
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.closeConnection()
	return nil
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Stats returns client statistics
type Stats struct {
	Connected        bool   `json:"connected"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesDropped  uint64 `json:"messages_dropped"`
	Reconnects       uint64 `json:"reconnects"`
}

// GetStats returns client statistics
func (c *Client) GetStats() Stats {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()

	return Stats{
		Connected:        connected,
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		MessagesDropped:  c.messagesDropped.Load(),
		Reconnects:       c.reconnects.Load(),
	}
}
