// Package crdt implements the per-document relay of spec §4.H: a sync
// handshake, live update fan-out, ephemeral awareness, and the
// duplicate-observer guard. Update bytes are opaque — this package never
// parses CRDT semantics, matching the spec's explicit non-goal.
package crdt

import (
	"sync"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/nahma/sidecar/internal/metrics"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: "sidecar:crdt"})

// minUpdateLength is the smallest an update frame may be; anything shorter
// is rejected per spec §4.H.3(b).
const minUpdateLength = 2

// Subscriber is anything the relay can push binary frames to — satisfied
// by *docConnection in production and a fake in tests.
type Subscriber interface {
	SendUpdate(data []byte)
	SendAwareness(data []byte)
	ID() string
}

// Session holds one document's live subscriber set and ephemeral awareness
// state.
type Session struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber
	awareness   map[string][]byte
}

// NewSession returns an empty per-document session.
func NewSession() *Session {
	return &Session{
		subscribers: make(map[string]Subscriber),
		awareness:   make(map[string][]byte),
	}
}

// Subscribe admits sub to the session.
func (s *Session) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[sub.ID()] = sub
	metrics.ConnectedClients.WithLabelValues("crdt").Inc()
}

// Unsubscribe removes sub and its awareness state, per spec §4.H.5.
func (s *Session) Unsubscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, sub.ID())
	delete(s.awareness, sub.ID())
	metrics.ConnectedClients.WithLabelValues("crdt").Dec()
}

// Broadcast fans out data to every subscriber except origin, verbatim — no
// plaintext transformation, per spec §4.H.3(c). A subscriber whose outbound
// buffer is full misses that frame; it stays in the subscriber set, and the
// other subscribers still receive the frame.
func (s *Session) Broadcast(origin Subscriber, data []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, sub := range s.subscribers {
		if id == origin.ID() {
			continue
		}
		sub.SendUpdate(data)
	}
}

// BroadcastAwareness fans out ephemeral awareness state to every other
// subscriber and records it for eviction on close.
func (s *Session) BroadcastAwareness(origin Subscriber, data []byte) {
	s.mu.Lock()
	s.awareness[origin.ID()] = data
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, sub := range s.subscribers {
		if id == origin.ID() {
			continue
		}
		sub.SendAwareness(data)
	}
}

// ValidUpdate reports whether data meets the minimum length bound.
func ValidUpdate(data []byte) bool {
	return len(data) >= minUpdateLength
}
