package domain

import "sync"

// Stream fans Events out to any number of subscribers without ever blocking
// the publisher: events flow up from the connection's read loop, so a
// stalled consumer must not be able to stall the bridge. A subscriber whose
// buffer is full is evicted and its channel closed; consumers that need
// current state after an eviction resubscribe and resynchronize from a
// snapshot.
type Stream struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

// StreamReceiver is the consuming end of one subscription. C is closed when
// the receiver is evicted for falling behind or the stream shuts down.
type StreamReceiver struct {
	C <-chan Event

	id     int
	stream *Stream
}

func NewStream() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscription with the given channel buffer.
// Buffers below 1 are raised to 1 so a subscriber can always absorb at
// least one event between reads.
func (st *Stream) Subscribe(bufSize int) *StreamReceiver {
	if bufSize < 1 {
		bufSize = 1
	}
	ch := make(chan Event, bufSize)

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		close(ch)
		return &StreamReceiver{C: ch, id: -1, stream: st}
	}
	id := st.nextID
	st.nextID++
	st.subs[id] = ch
	return &StreamReceiver{C: ch, id: id, stream: st}
}

// Publish delivers an event to every subscriber with buffer room and evicts
// the rest. Never blocks.
func (st *Stream) Publish(ev Event) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for id, ch := range st.subs {
		select {
		case ch <- ev:
		default:
			delete(st.subs, id)
			close(ch)
		}
	}
}

// Close shuts the stream down and closes every subscriber channel.
func (st *Stream) Close() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	st.closed = true
	for id, ch := range st.subs {
		delete(st.subs, id)
		close(ch)
	}
}

// Close cancels the subscription. Safe to call after the stream has already
// evicted or closed it.
func (sr *StreamReceiver) Close() {
	if sr.id < 0 {
		return
	}
	sr.stream.mu.Lock()
	defer sr.stream.mu.Unlock()
	if ch, ok := sr.stream.subs[sr.id]; ok {
		delete(sr.stream.subs, sr.id)
		close(ch)
	}
}
