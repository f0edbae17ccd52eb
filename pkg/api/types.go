// Package api defines the JSON types served to local UI clients. They are
// shared so a Go client can import them without pulling in the bridge
// internals.
package api

import "time"

type StatusResponse struct {
	State         string           `json:"state"`
	QueueDepth    int              `json:"queue_depth"`
	ActiveSession string           `json:"active_session,omitempty"`
	Transitions   []TransitionInfo `json:"transitions,omitempty"`
}

type TransitionInfo struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type SessionCreateRequest struct {
	BotID string `json:"bot_id,omitempty"`
}

type SessionResponse struct {
	ID           string    `json:"id"`
	BotID        string    `json:"bot_id,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

type MessageResponse struct {
	Role          string    `json:"role"`
	Content       string    `json:"content"`
	Thinking      string    `json:"thinking,omitempty"`
	Complete      bool      `json:"complete"`
	SequenceIndex int       `json:"sequence_index"`
	CreatedAt     time.Time `json:"created_at"`
}

type MessageListResponse struct {
	Messages []MessageResponse `json:"messages"`
}

type SendMessageRequest struct {
	Text string `json:"text"`
}

// SettingsResponse never carries credential values, only whether one is
// configured.
type SettingsResponse struct {
	GatewayWSURL     string `json:"gateway_ws_url"`
	HasToken         bool   `json:"has_token"`
	HasPassword      bool   `json:"has_password"`
	AutoLogin        bool   `json:"auto_login"`
	SSHEnabled       bool   `json:"ssh_enabled"`
	SSHUsername      string `json:"ssh_username,omitempty"`
	SSHServer        string `json:"ssh_server,omitempty"`
	HasSSHPassword   bool   `json:"has_ssh_password"`
	ChatShowThinking bool   `json:"chat_show_thinking"`
}

// SettingsUpdateRequest applies a partial update: nil fields are left
// unchanged, so a client can rewrite the URL without resubmitting the
// token.
type SettingsUpdateRequest struct {
	GatewayWSURL     *string `json:"gateway_ws_url,omitempty"`
	GatewayToken     *string `json:"gateway_token,omitempty"`
	GatewayPassword  *string `json:"gateway_password,omitempty"`
	AutoLogin        *bool   `json:"auto_login,omitempty"`
	SSHEnabled       *bool   `json:"ssh_enabled,omitempty"`
	SSHUsername      *string `json:"ssh_username,omitempty"`
	SSHServer        *string `json:"ssh_server,omitempty"`
	SSHPassword      *string `json:"ssh_password,omitempty"`
	ChatShowThinking *bool   `json:"chat_show_thinking,omitempty"`
}

type EventType string

const (
	EventTypeConnectionState  EventType = "connection_state"
	EventTypeMessageUpdated   EventType = "message_updated"
	EventTypeMessageCompleted EventType = "message_completed"
	EventTypeQueueOverflow    EventType = "queue_overflow"
	EventTypeAuthRejected     EventType = "auth_rejected"
)

type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	Data      any       `json:"data,omitempty"`
}

type ConnectionStateData struct {
	OldState string `json:"old_state"`
	NewState string `json:"new_state"`
	Reason   string `json:"reason,omitempty"`
}

type MessageEventData struct {
	Message MessageResponse `json:"message"`
}

type QueueOverflowData struct {
	SessionID string `json:"session_id"`
}

type AuthRejectedData struct {
	Reason   string `json:"reason,omitempty"`
	Attempts int    `json:"attempts"`
	Final    bool   `json:"final"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
