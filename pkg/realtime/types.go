// Package realtime defines the websocket envelope protocol for UI clients
// that want push updates instead of SSE.
package realtime

import "github.com/clawdesk/clawdesk/pkg/api"

type ClientMessageType string

const (
	ClientMessageTypeSubscribe   ClientMessageType = "subscribe"
	ClientMessageTypeUnsubscribe ClientMessageType = "unsubscribe"
	ClientMessageTypePing        ClientMessageType = "ping"
)

type ServerMessageType string

const (
	ServerMessageTypeSnapshot ServerMessageType = "snapshot"
	ServerMessageTypeEvent    ServerMessageType = "event"
	ServerMessageTypeError    ServerMessageType = "error"
	ServerMessageTypePong     ServerMessageType = "pong"
)

type ClientEnvelope struct {
	Type   ClientMessageType `json:"type"`
	Topics []string          `json:"topics,omitempty"`
}

type ServerEnvelope struct {
	Type    ServerMessageType `json:"type"`
	Topic   string            `json:"topic,omitempty"`
	Payload any               `json:"payload,omitempty"`
	Message string            `json:"message,omitempty"`
}

// ConnectionSnapshot is the initial payload for the connection topic.
type ConnectionSnapshot struct {
	State      string `json:"state"`
	QueueDepth int    `json:"queue_depth"`
}

// SessionsSnapshot is the initial payload for the sessions topic.
type SessionsSnapshot struct {
	Sessions []api.SessionResponse `json:"sessions"`
}
