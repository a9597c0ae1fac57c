package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-mcl/internal/localizer"
	"github.com/teslashibe/go-mcl/internal/protocol"
)

// WSHub manages WebSocket connections and pushes every corrected pose and particle set
type WSHub struct {
	loc    *localizer.Localizer
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex // per-connection write lock

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(loc *localizer.Localizer, logger *slog.Logger) *WSHub {
	return &WSHub{
		loc:     loc,
		logger:  logger,
		clients: make(map[*websocket.Conn]*sync.Mutex),
		done:    make(chan struct{}),
	}
}

// Run starts the broadcast loop
func (h *WSHub) Run(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	defer close(h.done)

	h.logger.Info("websocket hub started")

	if h.loc == nil {
		<-ctx.Done()
		return
	}

	poses := h.loc.SubscribePoses()
	defer h.loc.UnsubscribePoses(poses)
	particles := h.loc.SubscribeParticles()
	defer h.loc.UnsubscribeParticles(particles)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopped")
			return
		case est, ok := <-poses:
			if !ok {
				return
			}
			if msg, err := protocol.NewPoseMessage(est); err == nil {
				h.broadcast(msg)
			}
		case set, ok := <-particles:
			if !ok {
				return
			}
			if h.ClientCount() == 0 {
				continue
			}
			if msg, err := protocol.NewParticlesMessage(set); err == nil {
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

func (h *WSHub) send(c *websocket.Conn, msg *protocol.Message) {
	h.mu.RLock()
	wmu, ok := h.clients[c]
	h.mu.RUnlock()
	if !ok {
		return
	}

	wmu.Lock()
	defer wmu.Unlock()
	if err := c.WriteJSON(msg); err != nil {
		h.logger.Debug("websocket write error", "error", err)
	}
}

// UpgradeHandler returns the WebSocket upgrade handler
func (h *WSHub) UpgradeHandler() fiber.Handler {
	// Middleware to check if request is a WebSocket upgrade
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return websocket.New(h.handleConnection)(c)
		}

		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":   "WebSocket upgrade required",
			"message": "Connect via WebSocket to receive the pose stream",
		})
	}
}

func (h *WSHub) handleConnection(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = &sync.Mutex{}
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

	// Keep connection alive, read for close or commands
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			// Connection closed
			break
		}

		h.handleCommand(c, msg)
	}
}

func (h *WSHub) handleCommand(c *websocket.Conn, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		h.send(c, &protocol.Message{Type: protocol.TypePong, Timestamp: time.Now().UnixMilli()})
	case protocol.TypeGetStats:
		if h.loc != nil {
			if reply, err := protocol.NewStatsMessage(h.loc.Stats()); err == nil {
				h.send(c, reply)
			}
		}
	case protocol.TypeRelocalize:
		if h.loc == nil {
			return
		}
		cmd, err := msg.GetRelocalizeCommand()
		if err != nil {
			h.logger.Warn("bad relocalize command", "error", err)
			return
		}
		h.loc.Reset(cmd.Pose())
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
