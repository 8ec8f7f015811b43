package relay

import (
	"sync"

	"github.com/nahma/sidecar/internal/metrics"
	"github.com/nahma/sidecar/internal/wire"
)

// Registry tracks every live connection's topic subscriptions, per spec
// §4.I: joining/leaving a topic's subscriber set, and fanning out sync and
// awareness frames to it.
type Registry struct {
	mu sync.RWMutex

	byTopic map[string]map[*Connection]struct{}
	all     map[*Connection]struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byTopic: make(map[string]map[*Connection]struct{}),
		all:     make(map[*Connection]struct{}),
	}
}

// Register adds conn to the registry, joined to no topic yet.
func (r *Registry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all[conn] = struct{}{}
	metrics.ConnectedClients.WithLabelValues("relay").Inc()
}

// Unregister removes conn from every topic it belongs to, returning the
// topics that became empty as a result (the caller must then tell the
// swarm adapter to leave them).
func (r *Registry) Unregister(conn *Connection) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.all, conn)

	var emptied []string
	for _, topic := range conn.joinedTopics() {
		set := r.byTopic[topic]
		delete(set, conn)
		if len(set) == 0 {
			delete(r.byTopic, topic)
			emptied = append(emptied, topic)
		}
	}
	metrics.ConnectedClients.WithLabelValues("relay").Dec()
	return emptied
}

// CloseAll closes every live connection. Used by the supervisor during
// shutdown (spec §4.J step 4); per-connection cleanup (topic/swarm
// bookkeeping) still happens through each connection's own readLoop exit.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.all))
	for conn := range r.all {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		conn.close()
	}
}

// Join adds conn to topic's subscriber set, reporting whether this was the
// first local subscriber (the caller must join the swarm adapter to topic
// exactly once).
func (r *Registry) Join(conn *Connection, topic string) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byTopic[topic]
	if !ok {
		set = make(map[*Connection]struct{})
		r.byTopic[topic] = set
		first = true
	}
	set[conn] = struct{}{}
	conn.joinTopic(topic)
	return first
}

// Leave removes conn from topic's subscriber set, reporting whether the
// topic is now empty (the caller must then leave the swarm adapter).
func (r *Registry) Leave(conn *Connection, topic string) (emptied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byTopic[topic]
	if !ok {
		return true
	}
	delete(set, conn)
	conn.leaveTopic(topic)
	if len(set) == 0 {
		delete(r.byTopic, topic)
		return true
	}
	return false
}

// Peers returns the PeerInfo of every current subscriber of topic except
// exclude.
func (r *Registry) Peers(topic string, exclude *Connection) []wire.PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]wire.PeerInfo, 0, len(r.byTopic[topic]))
	for conn := range r.byTopic[topic] {
		if conn == exclude {
			continue
		}
		out = append(out, wire.PeerInfo{PeerID: conn.clientID, Identity: conn.getIdentity()})
	}
	return out
}

// Broadcast sends frame to every subscriber of topic except origin.
func (r *Registry) Broadcast(topic string, origin *Connection, frame interface{}) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for conn := range r.byTopic[topic] {
		if conn == origin {
			continue
		}
		conn.sendFrame(frame)
	}
}

// BroadcastAll sends frame to every subscriber of topic with no exclusion
// (used for swarm-originated events, which have no local origin connection
// to skip).
func (r *Registry) BroadcastAll(topic string, frame interface{}) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for conn := range r.byTopic[topic] {
		conn.sendFrame(frame)
	}
}
