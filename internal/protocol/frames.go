// Package protocol defines the wire frames exchanged with the gateway and
// the codec that translates them to and from their JSON representation.
//
// Every frame is a single JSON object tagged with a "type" field:
//
//	out  {"type":"auth","token":...} | {"type":"auth","password":...}
//	in   {"type":"auth_ok"} | {"type":"auth_rejected","reason":...}
//	out  {"type":"message","channel":...,"text":...}
//	in   {"type":"delta","channel":...,"kind":"content"|"thinking","text":...,"seq":n}
//	in   {"type":"end","channel":...,"seq":n}
//	both {"type":"ping"} / {"type":"pong"}
package protocol

import "encoding/json"

const (
	TypeAuth         = "auth"
	TypeAuthOK       = "auth_ok"
	TypeAuthRejected = "auth_rejected"
	TypeMessage      = "message"
	TypeDelta        = "delta"
	TypeEnd          = "end"
	TypePing         = "ping"
	TypePong         = "pong"
)

// rawFrame is an incoming frame with its type pre-parsed so we can dispatch
// without double-decoding.
type rawFrame struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// ── Client → Gateway ─────────────────────────────────────────────────────────

// AuthFrame carries the credential for the handshake. Exactly one of Token or
// Password is set. Never log this frame.
type AuthFrame struct {
	Type     string `json:"type"` // "auth"
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

func NewAuthFrame(token, password string) AuthFrame {
	f := AuthFrame{Type: TypeAuth}
	if token != "" {
		f.Token = token
	} else {
		f.Password = password
	}
	return f
}

// MessageFrame sends one user message on a channel.
type MessageFrame struct {
	Type    string `json:"type"` // "message"
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

func NewMessageFrame(channel, text string) MessageFrame {
	return MessageFrame{Type: TypeMessage, Channel: channel, Text: text}
}

// ── Gateway → Client ─────────────────────────────────────────────────────────

// AuthOKFrame acknowledges a successful handshake.
type AuthOKFrame struct {
	Type string `json:"type"` // "auth_ok"
}

// AuthRejectedFrame reports a credential rejection.
type AuthRejectedFrame struct {
	Type   string `json:"type"` // "auth_rejected"
	Reason string `json:"reason,omitempty"`
}

// DeltaFrame is one streamed fragment of an assistant response.
type DeltaFrame struct {
	Type    string `json:"type"` // "delta"
	Channel string `json:"channel"`
	Kind    string `json:"kind"` // "content" | "thinking"
	Text    string `json:"text"`
	Seq     int64  `json:"seq"`
}

// EndFrame marks the end of the current assistant message on a channel.
type EndFrame struct {
	Type    string `json:"type"` // "end"
	Channel string `json:"channel"`
	Seq     int64  `json:"seq"`
}

// ── Heartbeat ────────────────────────────────────────────────────────────────

type PingFrame struct {
	Type string `json:"type"` // "ping"
}

type PongFrame struct {
	Type string `json:"type"` // "pong"
}

// UnknownFrame preserves the type tag of frames this client does not
// understand. They are forward-compatible no-ops.
type UnknownFrame struct {
	Type string
	Raw  json.RawMessage
}
