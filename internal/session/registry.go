// Package session tracks the logical chat sessions multiplexed over the
// single gateway connection: their message histories, the per-channel
// assembler state for in-flight streamed responses, and which session the
// UI currently displays. Inactive sessions keep accumulating messages in
// the background.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clawdesk/clawdesk/internal/domain"
)

var ErrSessionNotFound = errors.New("session not found")

// Sender is the outbound side of the gateway connection. Sends are queued
// while the connection is down, so enqueueing never returns an error;
// overflow is surfaced as a queue_overflow event instead.
type Sender interface {
	SendMessage(channel, text string)
}

type entry struct {
	session   *Session
	assembler *Assembler
}

// Registry owns all sessions and routes traffic between them and the shared
// connection.
type Registry struct {
	sender Sender
	events *domain.Stream
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*entry
	activeID string
}

func NewRegistry(sender Sender, events *domain.Stream, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sender:   sender,
		events:   events,
		logger:   logger,
		sessions: make(map[string]*entry),
	}
}

// Create makes a new session for botID and selects it as active. Channel
// keys are process-generated and globally unique: a time-based prefix keeps
// them sortable, the uuid suffix keeps them unique across restarts.
func (r *Registry) Create(botID string) *Session {
	id := fmt.Sprintf("chat-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	s := newSession(id, botID)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = &entry{
		session:   s,
		assembler: newAssembler(s, r.events, r.logger),
	}
	r.activeID = id
	return s
}

// Restore re-registers a session id persisted from a previous run, so the
// gateway can resume streaming into it. No-op if the id already exists.
func (r *Registry) Restore(id, botID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[id]; ok {
		return e.session
	}
	s := newSession(id, botID)
	r.sessions[id] = &entry{
		session:   s,
		assembler: newAssembler(s, r.events, r.logger),
	}
	return s
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Select marks the session as the one currently displayed.
func (r *Registry) Select(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	r.activeID = id
	return nil
}

// Active returns the currently displayed session, if any.
func (r *Registry) Active() (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[r.activeID]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Delete removes a session. In-flight fragments for a deleted channel are
// dropped by RouteInbound.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(r.sessions, id)
	if r.activeID == id {
		r.activeID = ""
	}
	return nil
}

// List returns snapshots of all sessions, newest first.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.sessions))
	for id, e := range r.sessions {
		out = append(out, e.session.snapshot(id == r.activeID))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// AppendOutbound records a user message on the session and hands it to the
// connection's send queue.
func (r *Registry) AppendOutbound(sessionID, text string) (domain.Message, error) {
	r.mu.RLock()
	e, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return domain.Message{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	msg := e.session.AppendUser(text)
	r.events.Publish(domain.NewMessageCompletedEvent(sessionID, msg))
	r.sender.SendMessage(sessionID, text)
	return msg, nil
}

// RouteInbound dispatches a fragment to its channel's assembler. Fragments
// for unknown channels are dropped and logged: sessions may be deleted
// while responses are still in flight, so this is not an error.
func (r *Registry) RouteInbound(frag domain.Fragment) {
	r.mu.RLock()
	e, ok := r.sessions[frag.Channel]
	r.mu.RUnlock()
	if !ok {
		r.logger.Info("fragment for unknown channel dropped",
			zap.String("channel", frag.Channel),
			zap.Int64("seq", frag.Seq))
		return
	}
	e.assembler.Apply(frag)
}
