package session

import (
	"go.uber.org/zap"

	"github.com/clawdesk/clawdesk/internal/domain"
)

// Assembler merges the ordered fragment stream of one channel into complete
// messages. It is single-writer: the registry feeds it from the connection's
// read loop only, so no locking is needed for the sequence state.
//
// Ordering policy: fragments must arrive with increasing seq per channel,
// starting at 1. A seq at or below the last applied one is discarded: a
// quiet duplicate re-delivery when the stream has been contiguous, a warned
// protocol violation once a gap has been seen. A seq that jumps ahead is
// applied but warned. The assembler never buffers or reorders.
type Assembler struct {
	session *Session
	events  *domain.Stream
	logger  *zap.Logger

	lastSeq int64
	gapSeen bool
}

func newAssembler(s *Session, events *domain.Stream, logger *zap.Logger) *Assembler {
	return &Assembler{session: s, events: events, logger: logger}
}

// Apply folds one fragment into the session. Returns false when the
// fragment was discarded as a duplicate.
func (a *Assembler) Apply(frag domain.Fragment) bool {
	if frag.Seq <= a.lastSeq {
		fields := []zap.Field{
			zap.String("channel", a.session.ID),
			zap.Int64("seq", frag.Seq),
			zap.Int64("last_applied", a.lastSeq),
		}
		// After a gap a late fragment means genuinely out-of-order
		// delivery, not a harmless re-send.
		if a.gapSeen {
			a.logger.Warn("out-of-order fragment discarded", fields...)
		} else {
			a.logger.Debug("stale fragment discarded", fields...)
		}
		return false
	}
	if frag.Seq != a.lastSeq+1 {
		a.gapSeen = true
		a.logger.Warn("fragment sequence gap",
			zap.String("channel", a.session.ID),
			zap.Int64("seq", frag.Seq),
			zap.Int64("last_applied", a.lastSeq))
	}
	a.lastSeq = frag.Seq

	switch frag.Kind {
	case domain.FragmentEnd:
		msg, ok := a.session.completeCurrent()
		if !ok {
			a.logger.Debug("end frame with no open message", zap.String("channel", a.session.ID))
			return true
		}
		a.events.Publish(domain.NewMessageCompletedEvent(a.session.ID, msg))
	default:
		msg := a.session.applyDelta(frag.Kind, frag.Text)
		a.events.Publish(domain.NewMessageUpdatedEvent(a.session.ID, msg))
	}
	return true
}
