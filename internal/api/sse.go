package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/clawdesk/clawdesk/internal/domain"
	apiTypes "github.com/clawdesk/clawdesk/pkg/api"
)

// sseEvents streams all bridge events as Server-Sent Events. The
// subscription is registered before headers are flushed so no events are
// lost between the client seeing the 200 and the first publish.
func (h *Handler) sseEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", "")
		return
	}

	recv := h.bridge.Events().Subscribe(64)
	defer recv.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-recv.C:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent serialises one event in the SSE wire format:
//
//	event: <type>\n
//	data: <json>\n
//	\n
func writeSSEEvent(w http.ResponseWriter, event domain.Event) error {
	apiEvent := domainEventToAPIEvent(event)
	data, err := json.Marshal(apiEvent)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", apiEvent.Type, data)
	return err
}

func domainEventToAPIEvent(e domain.Event) apiTypes.Event {
	return apiTypes.Event{
		Type:      apiTypes.EventType(e.Type.String()),
		Timestamp: e.Timestamp,
		SessionID: e.SessionID,
		Data:      convertEventData(e),
	}
}

func convertEventData(e domain.Event) any {
	switch d := e.Data.(type) {
	case domain.ConnectionStateData:
		return apiTypes.ConnectionStateData{
			OldState: d.OldState.String(),
			NewState: d.NewState.String(),
			Reason:   d.Reason,
		}
	case domain.MessageData:
		return apiTypes.MessageEventData{Message: messageToResponse(d.Message)}
	case domain.QueueOverflowData:
		return apiTypes.QueueOverflowData{SessionID: d.SessionID}
	case domain.AuthRejectedData:
		return apiTypes.AuthRejectedData{Reason: d.Reason, Attempts: d.Attempts, Final: d.Final}
	default:
		return d
	}
}
