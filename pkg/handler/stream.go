package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/vol-libre/guardian-angel/pkg/flight"
)

// StreamMessage is one frame on the live event stream.
type StreamMessage struct {
	Type      string        `json:"type"` // "event" or "ping"
	Event     *flight.Event `json:"event,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

type streamClient struct {
	id   string
	conn *websocket.Conn
	send chan StreamMessage
}

// StreamHub fans flight events out to connected websocket clients, so a
// dashboard can follow alerts live without polling the status API. It
// satisfies the event publisher contract and is typically combined with the
// NATS mirror.
type StreamHub struct {
	clients    map[string]*streamClient
	broadcast  chan StreamMessage
	register   chan *streamClient
	unregister chan *streamClient
	mu         sync.RWMutex
	logger     zerolog.Logger
}

// NewStreamHub creates a hub. Run must be called for events to flow.
func NewStreamHub(logger zerolog.Logger) *StreamHub {
	return &StreamHub{
		clients:    make(map[string]*streamClient),
		broadcast:  make(chan StreamMessage, 256),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
		logger:     logger.With().Str("component", "stream_hub").Logger(),
	}
}

// Publish queues a flight event for broadcast. A full buffer drops the event;
// the stream is a convenience view, not the system of record.
func (h *StreamHub) Publish(ev flight.Event) {
	msg := StreamMessage{Type: "event", Event: &ev, Timestamp: time.Now().UTC()}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn().Str("kind", string(ev.Kind)).Msg("Broadcast buffer full, dropping event")
	}
}

// Close satisfies the publisher contract; shutdown happens when Run returns.
func (h *StreamHub) Close() {}

// Run owns the client registry until the context is cancelled.
func (h *StreamHub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().Str("client_id", client.id).Int("total_clients", total).Msg("Client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().Str("client_id", client.id).Int("total_clients", total).Msg("Client disconnected")

		case message := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.logger.Warn().Str("client_id", client.id).Msg("Client send buffer full, dropping message")
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *StreamHub) shutdown() {
	h.mu.Lock()
	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*streamClient)
	h.mu.Unlock()
	h.logger.Info().Msg("Stream hub shutdown complete")
}

// ClientCount returns the number of connected clients.
func (h *StreamHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StreamHandler upgrades HTTP requests to the live event stream.
type StreamHandler struct {
	hub    *StreamHub
	logger zerolog.Logger
}

// NewStreamHandler creates a handler over the hub.
func NewStreamHandler(hub *StreamHub, logger zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		hub:    hub,
		logger: logger.With().Str("handler", "stream").Logger(),
	}
}

// ServeHTTP handles the websocket upgrade and pumps messages until either
// side goes away.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // read-only stream, origin does not matter
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to accept websocket connection")
		return
	}

	client := &streamClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan StreamMessage, 64),
	}
	h.hub.register <- client

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go client.writePump(ctx, h.hub.logger)
	client.readPump(ctx, h.hub)
}

func (c *streamClient) writePump(ctx context.Context, logger zerolog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	write := func(msg StreamMessage) error {
		wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return wsjson.Write(wctx, c.conn, msg)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case message, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "connection closed")
				return
			}
			if err := write(message); err != nil {
				logger.Debug().Err(err).Str("client_id", c.id).Msg("Failed to write message")
				return
			}

		case <-ticker.C:
			if err := write(StreamMessage{Type: "ping", Timestamp: time.Now().UTC()}); err != nil {
				logger.Debug().Err(err).Str("client_id", c.id).Msg("Failed to send ping")
				return
			}
		}
	}
}

// readPump discards inbound frames; the stream is one-way. It exists to
// detect the client going away.
func (c *streamClient) readPump(ctx context.Context, hub *StreamHub) {
	defer func() {
		hub.unregister <- c
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var msg StreamMessage
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			return
		}
	}
}
