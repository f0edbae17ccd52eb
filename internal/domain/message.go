package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a chat session. Assistant messages are mutated by
// the session's stream assembler while Complete is false and are immutable
// afterwards; user messages are born complete.
type Message struct {
	Role     Role   `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
	Complete bool   `json:"complete"`

	// SequenceIndex is the message's position within its session.
	SequenceIndex int       `json:"sequence_index"`
	CreatedAt     time.Time `json:"created_at"`
}

type FragmentKind string

const (
	FragmentContent  FragmentKind = "content"
	FragmentThinking FragmentKind = "thinking"
	FragmentEnd      FragmentKind = "end"
)

// Fragment is one incremental piece of a streamed assistant response,
// tagged with the channel it belongs to and a per-channel sequence number.
type Fragment struct {
	Channel string
	Kind    FragmentKind
	Text    string
	Seq     int64
}
