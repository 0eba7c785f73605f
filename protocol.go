package dashkit

import "github.com/go-json-experiment/json/jsontext"

// MessageType represents the type of realtime channel message.
type MessageType string

const (
	TypeConnected MessageType = "connected"
	TypePush      MessageType = "push"
	TypeEmit      MessageType = "emit"
)

// Local events raised by Realtime itself.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// Reserved event names routed by EventRouter.
const (
	EventAlert   = "alert"
	EventRefresh = "refresh"
)

// IncomingMessage is a message from the realtime channel.
type IncomingMessage struct {
	Type         MessageType    `json:"type"`
	Event        string         `json:"event,omitempty"`
	Data         jsontext.Value `json:"data,omitempty"`
	ConnectionID string         `json:"connectionId,omitempty"`
}

// EmitMessage is a client-originated event.
type EmitMessage struct {
	Type  MessageType `json:"type"`
	Event string      `json:"event"`
	Data  any         `json:"data,omitempty"`
}
