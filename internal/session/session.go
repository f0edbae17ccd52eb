package session

import (
	"sync"
	"time"

	"github.com/clawdesk/clawdesk/internal/domain"
)

// Session is one logical chat conversation, keyed by its channel id. Message
// history is only mutated through the registry (user sends) and the
// session's assembler (streamed responses), so each session has a single
// writer at any time.
type Session struct {
	ID        string
	BotID     string
	CreatedAt time.Time

	mu       sync.RWMutex
	messages []domain.Message
	// streamOpen is true while the tail message is an incomplete assistant
	// message still receiving fragments.
	streamOpen bool
}

func newSession(id, botID string) *Session {
	return &Session{
		ID:        id,
		BotID:     botID,
		CreatedAt: time.Now(),
	}
}

// AppendUser records an outbound user message. User messages are born
// complete.
func (s *Session) AppendUser(text string) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := domain.Message{
		Role:          domain.RoleUser,
		Content:       text,
		Complete:      true,
		SequenceIndex: len(s.messages),
		CreatedAt:     time.Now(),
	}
	s.messages = append(s.messages, msg)
	return msg
}

// applyDelta appends fragment text to the open assistant message, opening a
// fresh one if the previous turn has completed. Returns a snapshot of the
// message after the append.
func (s *Session) applyDelta(kind domain.FragmentKind, text string) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.streamOpen {
		s.messages = append(s.messages, domain.Message{
			Role:          domain.RoleAssistant,
			SequenceIndex: len(s.messages),
			CreatedAt:     time.Now(),
		})
		s.streamOpen = true
	}

	cur := &s.messages[len(s.messages)-1]
	switch kind {
	case domain.FragmentThinking:
		cur.Thinking += text
	default:
		cur.Content += text
	}
	return *cur
}

// completeCurrent seals the open assistant message. Returns false when no
// stream is open (an end frame without any preceding delta is harmless).
func (s *Session) completeCurrent() (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.streamOpen {
		return domain.Message{}, false
	}
	cur := &s.messages[len(s.messages)-1]
	cur.Complete = true
	s.streamOpen = false
	return *cur, true
}

// Messages returns a copy of the session history.
func (s *Session) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Snapshot is a point-in-time, lock-free copy of a session.
type Snapshot struct {
	ID        string           `json:"id"`
	BotID     string           `json:"bot_id"`
	CreatedAt time.Time        `json:"created_at"`
	Active    bool             `json:"active"`
	Messages  []domain.Message `json:"messages"`
}

func (s *Session) snapshot(active bool) Snapshot {
	return Snapshot{
		ID:        s.ID,
		BotID:     s.BotID,
		CreatedAt: s.CreatedAt,
		Active:    active,
		Messages:  s.Messages(),
	}
}
