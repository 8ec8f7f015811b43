package meta

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nahma/sidecar/internal/invites"
	"github.com/nahma/sidecar/internal/permissions"
	"github.com/nahma/sidecar/internal/store"
)

// rateLimitPerWindow and rateLimitWindow bound metadata operations per
// session key; CRDT/awareness traffic on the document endpoint is
// unmetered per spec §5.
const (
	rateLimitPerWindow = 100
	rateLimitWindow    = 10 * time.Second
)

// Server is the metadata broker's WebSocket handler.
type Server struct {
	facade   *store.Facade
	resolver *permissions.Resolver
	invites  *invites.Manager
	hub      *Hub
	limiter  *RateLimiter

	upgrader websocket.Upgrader
}

// NewServer wires the metadata broker over the given facade/resolver/invite
// manager.
func NewServer(facade *store.Facade, resolver *permissions.Resolver, inviteManager *invites.Manager) (*Server, error) {
	limiter, err := NewRateLimiter(rateLimitPerWindow, rateLimitWindow)
	if err != nil {
		return nil, err
	}
	return &Server{
		facade:   facade,
		resolver: resolver,
		invites:  inviteManager,
		hub:      NewHub(),
		limiter:  limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}, nil
}

// CloseAll closes every live metadata connection. Used by the supervisor
// during shutdown (spec §4.J step 4).
func (s *Server) CloseAll() {
	s.hub.CloseAll()
}

// ServeHTTP upgrades the request to a WebSocket and services it until the
// connection closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("metadata websocket upgrade failed")
		return
	}

	conn := newConnection(ws)
	s.hub.Register(conn)
	go conn.writeLoop()
	s.readLoop(conn)
}

// readLoop reads frames off conn in order and dispatches each one, per the
// ordering guarantee of spec §5 ("frames from the same connection are
// applied in arrival order").
func (s *Server) readLoop(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.close()
	}()

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		s.handleFrame(conn, data)
	}
}
