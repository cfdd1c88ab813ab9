// Package feed streams entry events to reviewers over a websocket.
package feed

import (
	"encoding/json"

	"github.com/opted/inventory/internal/event"
)

// ── Client → Server messages ────────────────────────────────────────────────

// ClientMessage is the envelope for all client-to-server messages.
type ClientMessage struct {
	Type string          `json:"type"` // "subscribe", "ping"
	ID   string          `json:"id"`   // Client-assigned request ID
	Data json.RawMessage `json:"data,omitempty"`
}

// SubscribeData narrows the events a client receives. Empty lists mean
// every event.
type SubscribeData struct {
	EventTypes []string `json:"event_types"`
	Categories []string `json:"categories"`
}

// ── Server → Client messages ────────────────────────────────────────────────

// ServerMessage is the envelope for all server-to-client messages.
type ServerMessage struct {
	Type      string `json:"type"`                 // "hello", "event", "subscribed", "pong", "error"
	RequestID string `json:"request_id,omitempty"` // Echoes client ID
	Data      any    `json:"data,omitempty"`
}

// HelloData is sent once after the connection is accepted.
type HelloData struct {
	ClientID string `json:"client_id"`
	Reviewer string `json:"reviewer,omitempty"`
}

// ErrorData describes a rejected client message.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func eventMessage(evt event.DomainEvent) ServerMessage {
	return ServerMessage{Type: "event", Data: evt}
}
