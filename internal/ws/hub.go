package ws

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/CogniPilot/dendrite/pkg/models"
)

// ClientSendBuffer bounds how many outstanding messages a client may
// have queued before the hub starts dropping (spec's "no guaranteed
// delivery of WebSocket events -- slow consumers may drop").
const ClientSendBuffer = 256

// Client represents one connected WebSocket subscriber. deviceFilter,
// when non-empty, restricts device_discovered/device_updated/
// device_offline/device_removed frames to events about that single
// device -- used by the single-device live view so a fleet-wide
// broadcast doesn't wake every open tab for every board's heartbeat.
type Client struct {
	conn         *websocket.Conn
	send         chan Message
	logger       *zap.Logger
	deviceFilter models.DeviceId
}

// Hub manages active WebSocket connections and fans out device/OTA
// events to every subscriber whose filter (if any) matches.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *zap.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected",
		zap.String("device_filter", string(c.deviceFilter)),
		zap.Int("client_count", count))
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client disconnected", zap.Int("client_count", count))
}

// Broadcast delivers msg to every client whose deviceFilter matches
// (empty filter means "all devices"; scan/ota-progress frames without
// a device ID always pass through). A client whose send buffer is
// full drops the message rather than blocking the registry's event
// loop.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.deviceFilter != "" && !msg.matchesDevice(c.deviceFilter) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("client send buffer full, dropping message",
				zap.String("type", string(msg.Type)),
				zap.String("device_id", string(msg.DeviceID)))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writePump sends messages from the client's send channel to the WebSocket.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				// Channel closed by hub (unregister).
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			var err error
			if msg.Binary != nil {
				err = c.conn.Write(writeCtx, websocket.MessageBinary, msg.Binary)
			} else {
				err = wsjson.Write(writeCtx, c.conn, msg)
			}
			cancel()
			if err != nil {
				c.logger.Debug("websocket write error", zap.Error(err))
				return
			}
		}
	}
}
