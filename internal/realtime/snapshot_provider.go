package realtime

import (
	"fmt"

	"github.com/clawdesk/clawdesk/internal/bridge"
	apiTypes "github.com/clawdesk/clawdesk/pkg/api"
	realtimeTypes "github.com/clawdesk/clawdesk/pkg/realtime"
)

// SnapshotProvider builds the initial state a client receives on
// subscribe, so the UI renders current state before the first event lands.
type SnapshotProvider struct {
	bridge *bridge.Bridge
}

func NewSnapshotProvider(b *bridge.Bridge) *SnapshotProvider {
	return &SnapshotProvider{bridge: b}
}

func (p *SnapshotProvider) Snapshot(topic string) (any, error) {
	switch topic {
	case TopicConnectionState:
		return realtimeTypes.ConnectionSnapshot{
			State:      p.bridge.State().String(),
			QueueDepth: p.bridge.QueueDepth(),
		}, nil
	case TopicSessionsMessages:
		snaps := p.bridge.Sessions().List()
		sessions := make([]apiTypes.SessionResponse, 0, len(snaps))
		for _, s := range snaps {
			sessions = append(sessions, apiTypes.SessionResponse{
				ID:           s.ID,
				BotID:        s.BotID,
				Active:       s.Active,
				CreatedAt:    s.CreatedAt,
				MessageCount: len(s.Messages),
			})
		}
		return realtimeTypes.SessionsSnapshot{Sessions: sessions}, nil
	default:
		return nil, fmt.Errorf("unsupported topic: %s", topic)
	}
}
