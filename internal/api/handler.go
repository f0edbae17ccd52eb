// Package api serves the local HTTP surface the UI talks to: connection
// control, session CRUD, message history, and the two push channels (SSE
// and websocket).
package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clawdesk/clawdesk/internal/bridge"
	"github.com/clawdesk/clawdesk/internal/config"
	"github.com/clawdesk/clawdesk/internal/domain"
	"github.com/clawdesk/clawdesk/internal/realtime"
	"github.com/clawdesk/clawdesk/internal/session"
	apiTypes "github.com/clawdesk/clawdesk/pkg/api"
	realtimeTypes "github.com/clawdesk/clawdesk/pkg/realtime"
)

// Handler routes REST API requests to the bridge.
type Handler struct {
	bridge      *bridge.Bridge
	realtimeHub *realtime.Hub
	snapshotter *realtime.SnapshotProvider
	logger      *zap.Logger
}

func NewHandler(b *bridge.Bridge, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		bridge:      b,
		realtimeHub: realtime.NewHub(realtime.TopicConnectionState, realtime.TopicSessionsMessages),
		snapshotter: realtime.NewSnapshotProvider(b),
		logger:      logger,
	}
	h.startRealtimeBridge()
	return h
}

// Mount registers all API routes on the provided router.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/api/status", h.getStatus)
	r.Post("/api/connect", h.connect)
	r.Post("/api/disconnect", h.disconnect)
	r.Get("/api/settings", h.getSettings)
	r.Put("/api/settings", h.updateSettings)
	r.Get("/api/sessions", h.listSessions)
	r.Post("/api/sessions", h.createSession)
	r.Get("/api/sessions/{id}", h.getSession)
	r.Delete("/api/sessions/{id}", h.deleteSession)
	r.Post("/api/sessions/{id}/select", h.selectSession)
	r.Get("/api/sessions/{id}/messages", h.getSessionMessages)
	r.Post("/api/sessions/{id}/messages", h.sendSessionMessage)
	r.Get("/api/events", h.sseEvents)
	r.Get("/api/realtime", h.realtimeWebSocket)
}

// startRealtimeBridge forwards bridge events into the websocket hub.
func (h *Handler) startRealtimeBridge() {
	recv := h.bridge.Events().Subscribe(64)
	go func() {
		defer recv.Close()
		for event := range recv.C {
			apiEvent := domainEventToAPIEvent(event)
			topic := TopicForEvent(event)
			if topic == "" {
				continue
			}
			h.realtimeHub.Publish(topic, realtimeTypes.ServerEnvelope{
				Type:    realtimeTypes.ServerMessageTypeEvent,
				Topic:   topic,
				Payload: apiEvent,
			})
		}
	}()
}

// TopicForEvent maps a bridge event to its websocket topic.
func TopicForEvent(e domain.Event) string {
	switch e.Type {
	case domain.EventTypeConnectionState, domain.EventTypeAuthRejected:
		return realtime.TopicConnectionState
	case domain.EventTypeMessageUpdated, domain.EventTypeMessageCompleted, domain.EventTypeQueueOverflow:
		return realtime.TopicSessionsMessages
	default:
		return ""
	}
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	resp := apiTypes.StatusResponse{
		State:      h.bridge.State().String(),
		QueueDepth: h.bridge.QueueDepth(),
	}
	if active, ok := h.bridge.Sessions().Active(); ok {
		resp.ActiveSession = active.ID
	}
	for _, tr := range h.bridge.Transitions() {
		resp.Transitions = append(resp.Transitions, apiTypes.TransitionInfo{
			From:      tr.From.String(),
			To:        tr.To.String(),
			Reason:    tr.Reason,
			Timestamp: tr.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	if err := h.bridge.Connect(); err != nil {
		switch {
		case errors.Is(err, bridge.ErrNoGatewayURL):
			writeError(w, http.StatusBadRequest, "no gateway url configured", "")
		default:
			writeError(w, http.StatusConflict, "connect failed", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, apiTypes.StatusResponse{
		State:      h.bridge.State().String(),
		QueueDepth: h.bridge.QueueDepth(),
	})
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	h.bridge.Disconnect()
	writeJSON(w, http.StatusOK, apiTypes.StatusResponse{
		State:      h.bridge.State().String(),
		QueueDepth: h.bridge.QueueDepth(),
	})
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.bridge.Settings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settingsToResponse(settings))
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req apiTypes.SettingsUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	updated, err := h.bridge.UpdateSettings(func(st *config.Settings) {
		applySettingsUpdate(st, req)
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save settings", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settingsToResponse(updated))
}

func applySettingsUpdate(st *config.Settings, req apiTypes.SettingsUpdateRequest) {
	if req.GatewayWSURL != nil {
		st.GatewayWSURL = strings.TrimSpace(*req.GatewayWSURL)
	}
	if req.GatewayToken != nil {
		st.GatewayToken = *req.GatewayToken
	}
	if req.GatewayPassword != nil {
		st.GatewayPassword = *req.GatewayPassword
	}
	if req.AutoLogin != nil {
		st.AutoLogin = *req.AutoLogin
	}
	if req.SSHEnabled != nil {
		st.SSHEnabled = *req.SSHEnabled
	}
	if req.SSHUsername != nil {
		st.SSHUsername = *req.SSHUsername
	}
	if req.SSHServer != nil {
		st.SSHServer = *req.SSHServer
	}
	if req.SSHPassword != nil {
		st.SSHPassword = *req.SSHPassword
	}
	if req.ChatShowThinking != nil {
		st.ChatShowThinking = *req.ChatShowThinking
	}
}

func settingsToResponse(st config.Settings) apiTypes.SettingsResponse {
	return apiTypes.SettingsResponse{
		GatewayWSURL:     st.GatewayWSURL,
		HasToken:         st.GatewayToken != "",
		HasPassword:      st.GatewayPassword != "",
		AutoLogin:        st.AutoLogin,
		SSHEnabled:       st.SSHEnabled,
		SSHUsername:      st.SSHUsername,
		SSHServer:        st.SSHServer,
		HasSSHPassword:   st.SSHPassword != "",
		ChatShowThinking: st.ChatShowThinking,
	}
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	snaps := h.bridge.Sessions().List()
	resp := apiTypes.SessionListResponse{Sessions: make([]apiTypes.SessionResponse, 0, len(snaps))}
	for _, s := range snaps {
		resp.Sessions = append(resp.Sessions, snapshotToResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req apiTypes.SessionCreateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}

	snap, err := h.bridge.CreateSession(req.BotID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, snapshotToResponse(snap))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, s := range h.bridge.Sessions().List() {
		if s.ID == id {
			writeJSON(w, http.StatusOK, snapshotToResponse(s))
			return
		}
	}
	writeError(w, http.StatusNotFound, "session not found", "")
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.bridge.DeleteSession(id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found", "")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete session", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) selectSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.bridge.SelectSession(id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found", "")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to select session", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, ok := h.bridge.Sessions().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found", "")
		return
	}

	msgs := s.Messages()
	resp := apiTypes.MessageListResponse{Messages: make([]apiTypes.MessageResponse, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, messageToResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) sendSessionMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req apiTypes.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required", "")
		return
	}

	msg, err := h.bridge.SendUserMessage(id, req.Text)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found", "")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to send message", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, messageToResponse(msg))
}

func snapshotToResponse(s session.Snapshot) apiTypes.SessionResponse {
	return apiTypes.SessionResponse{
		ID:           s.ID,
		BotID:        s.BotID,
		Active:       s.Active,
		CreatedAt:    s.CreatedAt,
		MessageCount: len(s.Messages),
	}
}

func messageToResponse(m domain.Message) apiTypes.MessageResponse {
	return apiTypes.MessageResponse{
		Role:          string(m.Role),
		Content:       m.Content,
		Thinking:      m.Thinking,
		Complete:      m.Complete,
		SequenceIndex: m.SequenceIndex,
		CreatedAt:     m.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	resp := apiTypes.ErrorResponse{Error: message}
	if details != "" {
		resp.Details = details
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func generateID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
