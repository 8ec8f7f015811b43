package meta

import (
	"sync"

	"github.com/nahma/sidecar/internal/metrics"
)

// Hub tracks every live connection's workspace subscriptions and user
// identity so broadcasts can be filtered through them, enforcing the
// isolation invariant of spec §4.G/§8.9: a connection that has never
// joined workspace W receives nothing about W.
type Hub struct {
	mu sync.RWMutex

	byWorkspace map[string]map[*Connection]struct{}
	byUser      map[string]map[*Connection]struct{}
	all         map[*Connection]struct{}
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		byWorkspace: make(map[string]map[*Connection]struct{}),
		byUser:      make(map[string]map[*Connection]struct{}),
		all:         make(map[*Connection]struct{}),
	}
}

// Register adds conn to the hub, tracked but not yet subscribed to any workspace.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[conn] = struct{}{}
	metrics.ConnectedClients.WithLabelValues("meta").Inc()
}

// Unregister removes conn from every subscription set it belongs to.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.all, conn)
	for _, set := range h.byWorkspace {
		delete(set, conn)
	}
	for _, set := range h.byUser {
		delete(set, conn)
	}
	metrics.ConnectedClients.WithLabelValues("meta").Dec()
}

// CloseAll closes every live connection, draining the hub's subscription
// sets. Used by the supervisor during shutdown (spec §4.J step 4).
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.all))
	for conn := range h.all {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.close()
	}
}

// JoinWorkspace subscribes conn to workspaceID's broadcast set.
func (h *Hub) JoinWorkspace(conn *Connection, workspaceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byWorkspace[workspaceID] == nil {
		h.byWorkspace[workspaceID] = make(map[*Connection]struct{})
	}
	h.byWorkspace[workspaceID][conn] = struct{}{}
	conn.join(workspaceID)
}

// LeaveWorkspace unsubscribes conn from workspaceID's broadcast set.
func (h *Hub) LeaveWorkspace(conn *Connection, workspaceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byWorkspace[workspaceID], conn)
	conn.leave(workspaceID)
}

// BindUser associates conn with userID so permission-changed broadcasts can
// reach every connection that user has open.
func (h *Hub) BindUser(conn *Connection, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[*Connection]struct{})
	}
	h.byUser[userID][conn] = struct{}{}
}

// BroadcastWorkspace sends frame to every connection subscribed to
// workspaceID except exclude.
func (h *Hub) BroadcastWorkspace(workspaceID string, frame interface{}, exclude *Connection) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.byWorkspace[workspaceID] {
		if conn == exclude {
			continue
		}
		conn.sendFrame(frame)
	}
}

// BroadcastToUsersInWorkspace sends frame to every connection in
// workspaceID's subscriber set that also belongs to one of userIDs —
// used for permission-changed, which must reach only affected users.
func (h *Hub) BroadcastToUsersInWorkspace(workspaceID string, userIDs []string, frame interface{}) {
	affected := make(map[string]struct{}, len(userIDs))
	for _, u := range userIDs {
		affected[u] = struct{}{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.byWorkspace[workspaceID] {
		if _, ok := affected[conn.userID]; ok {
			conn.sendFrame(frame)
		}
	}
}

// BroadcastToUsers sends frame to every connection bound to any of userIDs,
// regardless of workspace subscription — used for invite invalidation,
// which must reach a redeemer even if the relevant join happened through a
// link rather than an explicit join-workspace.
func (h *Hub) BroadcastToUsers(userIDs []string, frame interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, u := range userIDs {
		for conn := range h.byUser[u] {
			conn.sendFrame(frame)
		}
	}
}
