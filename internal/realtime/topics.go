package realtime

const (
	// TopicConnectionState carries gateway connection state changes.
	TopicConnectionState = "connection.state"

	// TopicSessionsMessages carries message updates across all sessions.
	TopicSessionsMessages = "sessions.messages"
)
