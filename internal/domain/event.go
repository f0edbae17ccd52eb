package domain

import "time"

type EventType int

const (
	EventTypeConnectionState EventType = iota
	EventTypeMessageUpdated
	EventTypeMessageCompleted
	EventTypeQueueOverflow
	EventTypeAuthRejected
)

func (t EventType) String() string {
	switch t {
	case EventTypeConnectionState:
		return "connection_state"
	case EventTypeMessageUpdated:
		return "message_updated"
	case EventTypeMessageCompleted:
		return "message_completed"
	case EventTypeQueueOverflow:
		return "queue_overflow"
	case EventTypeAuthRejected:
		return "auth_rejected"
	default:
		return "unknown"
	}
}

// Event is one upward notification to the presentation layer. SessionID is
// empty for connection-level events.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	Data      any
}

type ConnectionStateData struct {
	OldState ConnState
	NewState ConnState
	Reason   string
}

type MessageData struct {
	Message Message
}

type QueueOverflowData struct {
	// SessionID of the dropped entry, i.e. the session whose send was lost.
	SessionID string
}

type AuthRejectedData struct {
	Reason   string
	Attempts int
	// Final is set when the rejection pushed the connection into Failed.
	Final bool
}

func NewConnectionStateEvent(old, new ConnState, reason string) Event {
	return Event{
		Type:      EventTypeConnectionState,
		Timestamp: time.Now(),
		Data:      ConnectionStateData{OldState: old, NewState: new, Reason: reason},
	}
}

func NewMessageUpdatedEvent(sessionID string, msg Message) Event {
	return Event{
		Type:      EventTypeMessageUpdated,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      MessageData{Message: msg},
	}
}

func NewMessageCompletedEvent(sessionID string, msg Message) Event {
	return Event{
		Type:      EventTypeMessageCompleted,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      MessageData{Message: msg},
	}
}

func NewQueueOverflowEvent(sessionID string) Event {
	return Event{
		Type:      EventTypeQueueOverflow,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      QueueOverflowData{SessionID: sessionID},
	}
}

func NewAuthRejectedEvent(reason string, attempts int, final bool) Event {
	return Event{
		Type:      EventTypeAuthRejected,
		Timestamp: time.Now(),
		Data:      AuthRejectedData{Reason: reason, Attempts: attempts, Final: final},
	}
}
