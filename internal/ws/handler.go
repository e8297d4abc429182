package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/CogniPilot/dendrite/internal/auth"
	"github.com/CogniPilot/dendrite/internal/registry"
	"github.com/CogniPilot/dendrite/pkg/models"
)

// Handler upgrades HTTP requests to WebSocket connections, sends one
// device_discovered per currently known device on connect, and
// forwards every subsequent registry/OTA event to all clients.
type Handler struct {
	hub      *Hub
	registry *registry.Registry
	auth     *auth.Validator // nil disables auth on the WS endpoint
	logger   *zap.Logger
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a WebSocket handler bridging reg's event stream to
// connected clients. Pass a nil validator to leave the endpoint
// unauthenticated.
func NewHandler(reg *registry.Registry, validator *auth.Validator, logger *zap.Logger) *Handler {
	h := &Handler{
		hub:      NewHub(logger),
		registry: reg,
		auth:     validator,
		logger:   logger,
	}
	go h.forwardEvents()
	return h
}

// RegisterRoutes registers the WebSocket upgrade route.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.handleConnect)
}

// forwardEvents relays every registry event to connected clients for
// the lifetime of the handler.
func (h *Handler) forwardEvents() {
	ch := h.registry.Subscribe()
	for ev := range ch {
		h.hub.Broadcast(eventToMessage(ev))
	}
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	if h.auth != nil {
		if kind := h.auth.Validate(r.Header.Get("Authorization")); kind != auth.ErrNone {
			http.Error(w, kind.Message(), http.StatusUnauthorized)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:         conn,
		send:         make(chan Message, ClientSendBuffer),
		logger:       h.logger,
		deviceFilter: models.DeviceId(r.URL.Query().Get("device_id")),
	}
	h.hub.Register(client)

	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	for _, d := range h.registry.List() {
		if client.deviceFilter != "" && d.ID != client.deviceFilter {
			continue
		}
		device := d
		select {
		case client.send <- Message{Type: MessageDeviceDiscovered, Timestamp: time.Now(), Device: &device}:
		default:
		}
	}

	h.readPump(ctx, client, conn)

	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

// readPump drains client frames until disconnect. A text "ping" gets a
// {"type":"pong"} reply; binary frames are echoed back unchanged; any
// other text frame is ignored.
func (h *Handler) readPump(ctx context.Context, c *Client, conn *websocket.Conn) {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		switch msgType {
		case websocket.MessageText:
			if string(data) == "ping" {
				select {
				case c.send <- Message{Type: MessagePong, Timestamp: time.Now()}:
				default:
				}
			}
		case websocket.MessageBinary:
			select {
			case c.send <- Message{Binary: data}:
			default:
			}
		}
	}
}
