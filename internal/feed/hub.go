package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/opted/inventory/internal/auth"
	"github.com/opted/inventory/internal/event"
)

const (
	// clientBuffer is how many events may queue for one slow client
	// before further events are dropped for it.
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

// Hub fans events out to connected websocket clients. It is an event bus
// handler; connect it with bus.Subscribe("feed", hub).
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	logger  *slog.Logger
	origins []string
}

type client struct {
	id     string
	events chan event.DomainEvent

	mu    sync.Mutex
	types []string
	cats  []string
}

// NewHub returns a hub accepting connections from the given origin
// patterns. No patterns means same-origin only.
func NewHub(logger *slog.Logger, origins ...string) *Hub {
	return &Hub{clients: make(map[string]*client), logger: logger, origins: origins}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleEvent queues evt for every interested client without blocking.
func (h *Hub) HandleEvent(ctx context.Context, evt event.DomainEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.wants(evt) {
			continue
		}
		select {
		case c.events <- evt:
		default:
			h.logger.WarnContext(ctx, "feed: client too slow, dropping event",
				"client_id", c.id, "event_id", evt.ID)
		}
	}
	return nil
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.id)
}

func (c *client) wants(evt event.DomainEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.types) > 0 && !slices.Contains(c.types, evt.EventType) {
		return false
	}
	return len(c.cats) == 0 || slices.Contains(c.cats, evt.Category)
}

func (c *client) subscribe(d SubscribeData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types, c.cats = d.EventTypes, d.Categories
}

// ServeHTTP upgrades to a websocket and streams events until the client
// disconnects or the request context ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.WarnContext(r.Context(), "feed: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{id: uuid.New().String(), events: make(chan event.DomainEvent, clientBuffer)}
	h.add(c)
	defer h.remove(c)

	actor := auth.FromContext(r.Context())
	if err := h.send(ctx, conn, ServerMessage{Type: "hello", Data: HelloData{ClientID: c.id, Reviewer: actor.Name}}); err != nil {
		return
	}
	h.logger.InfoContext(ctx, "feed: client connected", "client_id", c.id, "reviewer", actor.UID)

	go func() {
		defer cancel()
		h.readLoop(ctx, conn, c)
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case evt := <-c.events:
			if err := h.send(ctx, conn, eventMessage(evt)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				h.logger.DebugContext(ctx, "feed: read", "client_id", c.id, "err", err)
			}
			return
		}
		switch msg.Type {
		case "ping":
			_ = h.send(ctx, conn, ServerMessage{Type: "pong", RequestID: msg.ID})
		case "subscribe":
			var d SubscribeData
			if len(msg.Data) > 0 {
				if err := json.Unmarshal(msg.Data, &d); err != nil {
					h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid subscribe data")
					continue
				}
			}
			c.subscribe(d)
			_ = h.send(ctx, conn, ServerMessage{Type: "subscribed", RequestID: msg.ID, Data: d})
		default:
			h.sendError(ctx, conn, msg.ID, "unknown_type", fmt.Sprintf("unknown message type: %s", msg.Type))
		}
	}
}

func (h *Hub) send(ctx context.Context, conn *websocket.Conn, msg ServerMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		h.logger.DebugContext(ctx, "feed: write", "type", msg.Type, "err", err)
		return err
	}
	return nil
}

func (h *Hub) sendError(ctx context.Context, conn *websocket.Conn, requestID, code, message string) {
	_ = h.send(ctx, conn, ServerMessage{
		Type:      "error",
		RequestID: requestID,
		Data:      ErrorData{Code: code, Message: message},
	})
}
