package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	realtimeTypes "github.com/clawdesk/clawdesk/pkg/realtime"
)

var realtimeUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (h *Handler) realtimeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := realtimeUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	id := generateID()
	h.realtimeHub.Attach(id, conn)
	defer h.realtimeHub.Detach(id)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg realtimeTypes.ClientEnvelope
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.sendRealtimeError(id, "invalid message")
			continue
		}

		switch msg.Type {
		case realtimeTypes.ClientMessageTypeSubscribe:
			h.handleRealtimeSubscribe(id, msg.Topics)
		case realtimeTypes.ClientMessageTypeUnsubscribe:
			h.realtimeHub.Unsubscribe(id, msg.Topics)
		case realtimeTypes.ClientMessageTypePing:
			if !h.realtimeHub.Send(id, realtimeTypes.ServerEnvelope{Type: realtimeTypes.ServerMessageTypePong}) {
				return
			}
		default:
			h.sendRealtimeError(id, "unsupported message type")
		}
	}
}

// handleRealtimeSubscribe registers topics and queues an initial snapshot
// for each accepted one, so the client renders current state before the
// first event.
func (h *Handler) handleRealtimeSubscribe(id string, topics []string) {
	accepted, rejected := h.realtimeHub.Subscribe(id, topics)
	for _, topic := range rejected {
		h.sendRealtimeError(id, "unsupported topic: "+topic)
	}
	for _, topic := range accepted {
		snapshot, err := h.snapshotter.Snapshot(topic)
		if err != nil {
			h.sendRealtimeError(id, "failed to build snapshot")
			continue
		}
		if !h.realtimeHub.Send(id, realtimeTypes.ServerEnvelope{
			Type:    realtimeTypes.ServerMessageTypeSnapshot,
			Topic:   topic,
			Payload: snapshot,
		}) {
			return
		}
	}
}

func (h *Handler) sendRealtimeError(id, message string) {
	h.realtimeHub.Send(id, realtimeTypes.ServerEnvelope{
		Type:    realtimeTypes.ServerMessageTypeError,
		Message: message,
	})
}
