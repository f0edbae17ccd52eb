package bridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/clawdesk/clawdesk/internal/config"
	"github.com/clawdesk/clawdesk/internal/domain"
)

var upgrader = websocket.Upgrader{}

// newTestGateway runs a minimal gateway: accept auth, then forward every
// message frame's text to received.
func newTestGateway(t *testing.T, received chan<- string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			conn.SetReadDeadline(time.Now().Add(10 * time.Second))
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]any
			if json.Unmarshal(data, &frame) != nil {
				continue
			}
			switch frame["type"] {
			case "auth":
				ack, _ := json.Marshal(map[string]any{"type": "auth_ok"})
				conn.WriteMessage(websocket.TextMessage, ack)
			case "message":
				if received != nil {
					received <- frame["text"].(string)
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestBridge(t *testing.T, settings config.Settings) (*Bridge, *config.Store) {
	t.Helper()
	store, err := config.NewStore(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("config.NewStore() error: %v", err)
	}
	if err := store.Save(settings); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	b := New(store, zap.NewNop())
	t.Cleanup(b.Close)
	return b, store
}

func waitBridgeState(t *testing.T, b *Bridge, want domain.ConnState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if b.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", b.State(), want)
}

func TestConnectRequiresURL(t *testing.T) {
	b, _ := newTestBridge(t, config.Settings{GatewayToken: "tok"})
	if err := b.Connect(); err != ErrNoGatewayURL {
		t.Errorf("Connect() = %v, want ErrNoGatewayURL", err)
	}
}

func TestMissingCredentialReachesFailed(t *testing.T) {
	url := newTestGateway(t, nil)
	b, _ := newTestBridge(t, config.Settings{GatewayWSURL: url})

	if err := b.Connect(); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	waitBridgeState(t, b, domain.ConnStateFailed)
}

func TestPreConnectMessagesFlushOnConnect(t *testing.T) {
	received := make(chan string, 8)
	url := newTestGateway(t, received)
	b, _ := newTestBridge(t, config.Settings{GatewayWSURL: url, GatewayToken: "tok"})

	s := b.Sessions().Create("bot")
	if _, err := b.SendUserMessage(s.ID, "queued before connect"); err != nil {
		t.Fatalf("SendUserMessage() error: %v", err)
	}
	if depth := b.QueueDepth(); depth != 1 {
		t.Errorf("QueueDepth() = %d before connect, want 1", depth)
	}

	if err := b.Connect(); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	waitBridgeState(t, b, domain.ConnStateConnected)

	select {
	case got := <-received:
		if got != "queued before connect" {
			t.Errorf("gateway received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("buffered message never reached the gateway")
	}
}

func TestConnectDisconnectConnect(t *testing.T) {
	url := newTestGateway(t, nil)
	b, _ := newTestBridge(t, config.Settings{GatewayWSURL: url, GatewayToken: "tok"})

	if err := b.Connect(); err != nil {
		t.Fatalf("first Connect() = %v", err)
	}
	waitBridgeState(t, b, domain.ConnStateConnected)

	b.Disconnect()
	waitBridgeState(t, b, domain.ConnStateDisconnected)

	if err := b.Connect(); err != nil {
		t.Fatalf("second Connect() = %v", err)
	}
	waitBridgeState(t, b, domain.ConnStateConnected)
}

func TestQueueSurvivesDisconnectConnect(t *testing.T) {
	received := make(chan string, 8)
	url := newTestGateway(t, received)
	b, _ := newTestBridge(t, config.Settings{GatewayWSURL: url, GatewayToken: "tok"})

	s := b.Sessions().Create("bot")
	if err := b.Connect(); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	waitBridgeState(t, b, domain.ConnStateConnected)

	b.Disconnect()
	waitBridgeState(t, b, domain.ConnStateDisconnected)

	// Enqueued while disconnected: must await the next connect, not vanish
	// when the connection is rebuilt.
	if _, err := b.SendUserMessage(s.ID, "after disconnect"); err != nil {
		t.Fatalf("SendUserMessage() error: %v", err)
	}
	if depth := b.QueueDepth(); depth != 1 {
		t.Errorf("QueueDepth() = %d while disconnected, want 1", depth)
	}

	if err := b.Connect(); err != nil {
		t.Fatalf("second Connect() = %v", err)
	}
	waitBridgeState(t, b, domain.ConnStateConnected)

	select {
	case got := <-received:
		if got != "after disconnect" {
			t.Errorf("gateway received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message queued across disconnect was never delivered")
	}
}

func TestCreateSessionPersistsSelection(t *testing.T) {
	b, store := newTestBridge(t, config.Settings{GatewayWSURL: "wss://gw.example.com/ws"})

	snap, err := b.CreateSession("bot-a")
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	if !snap.Active {
		t.Error("created session not active")
	}

	settings, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if settings.CurrentSession != snap.ID {
		t.Errorf("persisted CurrentSession = %q, want %q", settings.CurrentSession, snap.ID)
	}

	// A fresh bridge over the same config dir restores the selection.
	b2 := New(store, zap.NewNop())
	defer b2.Close()
	if err := b2.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	active, ok := b2.Sessions().Active()
	if !ok {
		t.Fatal("restored bridge has no active session")
	}
	if active.ID != snap.ID {
		t.Errorf("restored active session = %q, want %q", active.ID, snap.ID)
	}
}

func TestDeleteSessionClearsPersistedSelection(t *testing.T) {
	b, store := newTestBridge(t, config.Settings{})

	snap, err := b.CreateSession("bot")
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	if err := b.DeleteSession(snap.ID); err != nil {
		t.Fatalf("DeleteSession() error: %v", err)
	}

	settings, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if settings.CurrentSession != "" {
		t.Errorf("CurrentSession = %q after delete, want empty", settings.CurrentSession)
	}
}

func TestTunnelConfigDerivation(t *testing.T) {
	tests := []struct {
		name       string
		settings   config.Settings
		wantNil    bool
		wantHost   string
		wantRemote string
		wantPort   int
	}{
		{
			name:     "ssh disabled",
			settings: config.Settings{GatewayWSURL: "wss://gw.example.com/ws"},
			wantNil:  true,
		},
		{
			name: "wss default port",
			settings: config.Settings{
				GatewayWSURL: "wss://gw.example.com/ws",
				SSHEnabled:   true,
				SSHUsername:  "pet",
				SSHServer:    "jump.example.com",
			},
			wantHost:   "jump.example.com",
			wantRemote: "gw.example.com",
			wantPort:   443,
		},
		{
			name: "ws explicit port",
			settings: config.Settings{
				GatewayWSURL: "ws://gw.example.com:8765/ws",
				SSHEnabled:   true,
				SSHServer:    "jump.example.com",
			},
			wantHost:   "jump.example.com",
			wantRemote: "gw.example.com",
			wantPort:   8765,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := tunnelConfig(tt.settings)
			if err != nil {
				t.Fatalf("tunnelConfig() error: %v", err)
			}
			if tt.wantNil {
				if cfg != nil {
					t.Fatalf("tunnelConfig() = %+v, want nil", cfg)
				}
				return
			}
			if cfg == nil {
				t.Fatal("tunnelConfig() = nil")
			}
			if cfg.Host != tt.wantHost {
				t.Errorf("Host = %q, want %q", cfg.Host, tt.wantHost)
			}
			if cfg.RemoteHost != tt.wantRemote {
				t.Errorf("RemoteHost = %q, want %q", cfg.RemoteHost, tt.wantRemote)
			}
			if cfg.RemotePort != tt.wantPort {
				t.Errorf("RemotePort = %d, want %d", cfg.RemotePort, tt.wantPort)
			}
		})
	}
}
