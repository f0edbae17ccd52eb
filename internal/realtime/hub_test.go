package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	realtimeTypes "github.com/clawdesk/clawdesk/pkg/realtime"
)

func socketPair(t *testing.T) (client, server *websocket.Conn) {
	t.Helper()
	serverCh := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverCh <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, <-serverCh
}

func TestHubSubscribeSplitsSupportedTopics(t *testing.T) {
	_, server := socketPair(t)
	h := NewHub(TopicConnectionState, TopicSessionsMessages)
	h.Attach("ui-1", server)
	defer h.Detach("ui-1")

	accepted, rejected := h.Subscribe("ui-1", []string{
		TopicConnectionState,
		"terminals.output",
	})
	if len(accepted) != 1 || accepted[0] != TopicConnectionState {
		t.Errorf("accepted = %v", accepted)
	}
	if len(rejected) != 1 || rejected[0] != "terminals.output" {
		t.Errorf("rejected = %v", rejected)
	}

	accepted, _ = h.Subscribe("ghost", []string{TopicConnectionState})
	if accepted != nil {
		t.Errorf("unknown id accepted topics %v", accepted)
	}
}

func TestHubPublishReachesOnlySubscribed(t *testing.T) {
	stateClient, stateServer := socketPair(t)
	msgClient, msgServer := socketPair(t)

	h := NewHub(TopicConnectionState, TopicSessionsMessages)
	h.Attach("ui-state", stateServer)
	h.Attach("ui-msgs", msgServer)
	defer h.Detach("ui-state")
	defer h.Detach("ui-msgs")
	h.Subscribe("ui-state", []string{TopicConnectionState})
	h.Subscribe("ui-msgs", []string{TopicSessionsMessages})

	h.Publish(TopicConnectionState, realtimeTypes.ServerEnvelope{
		Type:  realtimeTypes.ServerMessageTypeEvent,
		Topic: TopicConnectionState,
	})
	h.Publish(TopicSessionsMessages, realtimeTypes.ServerEnvelope{
		Type:  realtimeTypes.ServerMessageTypeEvent,
		Topic: TopicSessionsMessages,
	})

	var env realtimeTypes.ServerEnvelope
	stateClient.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := stateClient.ReadJSON(&env); err != nil {
		t.Fatalf("read state envelope: %v", err)
	}
	if env.Topic != TopicConnectionState {
		t.Errorf("state client got topic %q", env.Topic)
	}

	// The messages client must see its own topic first, proving the
	// connection.state publish skipped it.
	msgClient.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := msgClient.ReadJSON(&env); err != nil {
		t.Fatalf("read messages envelope: %v", err)
	}
	if env.Topic != TopicSessionsMessages {
		t.Errorf("messages client got topic %q", env.Topic)
	}
}

func TestHubDetachesSlowConnection(t *testing.T) {
	_, server := socketPair(t)

	h := NewHub(TopicConnectionState)
	// Session without a running write loop, so its buffer never drains.
	h.mu.Lock()
	h.conns["ui-slow"] = newWSSession(server)
	h.subs["ui-slow"] = map[string]struct{}{TopicConnectionState: {}}
	h.mu.Unlock()

	env := realtimeTypes.ServerEnvelope{Type: realtimeTypes.ServerMessageTypeEvent, Topic: TopicConnectionState}
	for i := 0; i <= outboundBufferSize; i++ {
		h.Publish(TopicConnectionState, env)
	}

	h.mu.RLock()
	_, attached := h.conns["ui-slow"]
	h.mu.RUnlock()
	if attached {
		t.Fatal("slow connection still attached after buffer overflow")
	}
	if h.Send("ui-slow", env) {
		t.Error("Send to a detached id reported success")
	}
}

func TestHubDetachIdempotent(t *testing.T) {
	_, server := socketPair(t)
	h := NewHub(TopicConnectionState)
	h.Attach("ui-1", server)
	h.Detach("ui-1")
	h.Detach("ui-1")

	if h.Send("ui-1", realtimeTypes.ServerEnvelope{Type: realtimeTypes.ServerMessageTypePong}) {
		t.Error("Send to a detached id reported success")
	}
}
