// Package realtime fans bridge events out to websocket UI clients by
// topic. A slow client is disconnected rather than allowed to stall the
// publisher.
package realtime

import (
	"sync"

	"github.com/gorilla/websocket"

	realtimeTypes "github.com/clawdesk/clawdesk/pkg/realtime"
)

// Hub owns every connected UI websocket: the set of topics it serves,
// per-connection subscriptions, and the outbound write loops. Callers
// refer to connections only by the id they attached them under.
type Hub struct {
	topics map[string]struct{}

	mu    sync.RWMutex
	conns map[string]*wsSession
	subs  map[string]map[string]struct{}
}

// NewHub builds a hub serving exactly the given topics. Subscriptions to
// any other topic are rejected.
func NewHub(topics ...string) *Hub {
	supported := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		supported[topic] = struct{}{}
	}
	return &Hub{
		topics: supported,
		conns:  make(map[string]*wsSession),
		subs:   make(map[string]map[string]struct{}),
	}
}

// Supported reports whether the hub serves topic.
func (h *Hub) Supported(topic string) bool {
	_, ok := h.topics[topic]
	return ok
}

// Attach adopts conn under id and starts draining its outbound queue.
func (h *Hub) Attach(id string, conn *websocket.Conn) {
	s := newWSSession(conn)
	h.mu.Lock()
	h.conns[id] = s
	h.subs[id] = make(map[string]struct{})
	h.mu.Unlock()
	go s.writeLoop()
}

// Detach closes the connection registered under id and forgets its
// subscriptions. Safe to call for an id that is already gone.
func (h *Hub) Detach(id string) {
	h.mu.Lock()
	s, ok := h.conns[id]
	delete(h.conns, id)
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		s.shutdown()
	}
}

// Send queues one envelope for a single connection. False means the
// connection is gone or too slow to keep; it has been detached.
func (h *Hub) Send(id string, env realtimeTypes.ServerEnvelope) bool {
	h.mu.RLock()
	s, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if !s.queue(env) {
		h.Detach(id)
		return false
	}
	return true
}

// Subscribe records the supported subset of topics for id, returning the
// accepted topics and the rejected remainder.
func (h *Hub) Subscribe(id string, topics []string) (accepted, rejected []string) {
	for _, topic := range topics {
		if h.Supported(topic) {
			accepted = append(accepted, topic)
		} else {
			rejected = append(rejected, topic)
		}
	}

	h.mu.Lock()
	set, ok := h.subs[id]
	if ok {
		for _, topic := range accepted {
			set[topic] = struct{}{}
		}
	}
	h.mu.Unlock()
	if !ok {
		return nil, rejected
	}
	return accepted, rejected
}

// Unsubscribe drops topics from id's subscriptions.
func (h *Hub) Unsubscribe(id string, topics []string) {
	h.mu.Lock()
	if set, ok := h.subs[id]; ok {
		for _, topic := range topics {
			delete(set, topic)
		}
	}
	h.mu.Unlock()
}

// Publish fans env out to every connection subscribed to topic,
// detaching any connection whose buffer is full.
func (h *Hub) Publish(topic string, env realtimeTypes.ServerEnvelope) {
	h.mu.RLock()
	targets := make([]string, 0, len(h.subs))
	for id, set := range h.subs {
		if _, ok := set[topic]; ok {
			targets = append(targets, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range targets {
		h.Send(id, env)
	}
}
