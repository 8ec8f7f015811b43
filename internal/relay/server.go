package relay

import (
	"encoding/base64"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nahma/sidecar/internal/wire"
)

// Server is the P2P relay plane's WebSocket handler.
type Server struct {
	registry *Registry
	swarm    SwarmAdapter
	upgrader websocket.Upgrader
}

// NewServer wires the relay plane over swarm, and starts the goroutine
// that fans swarm-originated events out to local subscribers. Pass
// NewNoopAdapter() when no real swarm transport is configured.
func NewServer(swarm SwarmAdapter) *Server {
	s := &Server{
		registry: NewRegistry(),
		swarm:    swarm,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	go s.pumpSwarmEvents()
	return s
}

// pumpSwarmEvents fans swarm-originated sync/awareness out to this
// process's local subscribers of the event's topic, tagged with the
// originating peer id, per spec §4.I: "Swarm-originated sync/awareness are
// fanned out to local subscribers of the topic." peer-joined/peer-left
// from the swarm are logged only — desktop peer rosters are the swarm
// adapter's own concern, never merged into this process's peers-list.
func (s *Server) pumpSwarmEvents() {
	for ev := range s.swarm.Events() {
		switch ev.Type {
		case SwarmEventSync:
			s.registry.BroadcastAll(ev.Topic, wire.RelaySyncFrame{
				Type:   "sync",
				Topic:  ev.Topic,
				PeerID: ev.PeerID,
				Data:   base64.StdEncoding.EncodeToString(ev.Data),
			})
		case SwarmEventAwareness:
			s.registry.BroadcastAll(ev.Topic, wire.RelayAwarenessFrame{
				Type:   "awareness",
				Topic:  ev.Topic,
				PeerID: ev.PeerID,
				State:  base64.StdEncoding.EncodeToString(ev.Data),
			})
		case SwarmEventPeerJoined, SwarmEventPeerLeft:
			log.WithFields(map[string]interface{}{
				"topic":   ev.Topic,
				"peer_id": ev.PeerID,
				"event":   ev.Type,
			}).Debug("swarm peer roster change")
		}
	}
}

// CloseAll closes every live relay connection. Used by the supervisor
// during shutdown (spec §4.J step 4).
func (s *Server) CloseAll() {
	s.registry.CloseAll()
}

// ServeHTTP upgrades the request to a WebSocket and services it until the
// connection closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("relay websocket upgrade failed")
		return
	}

	conn := newConnection(ws, uuid.NewString())
	s.registry.Register(conn)
	go conn.writeLoop()
	s.readLoop(conn)
}

// readLoop reads frames off conn in order and dispatches each one. A frame
// that fails to decode at all is treated as garbage and closes the
// connection silently, per spec §4.I's connection-limit policy; a frame
// that decodes but fails its own validation (e.g. a too-short topic) is
// just dropped and the connection stays open.
func (s *Server) readLoop(conn *Connection) {
	defer func() {
		s.cleanup(conn)
		conn.close()
	}()

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		frame, err := wire.DecodeFrame(data)
		if err != nil {
			log.WithError(err).Debug("closing relay connection on garbage frame")
			return
		}
		s.handleFrame(conn, frame)
	}
}

// cleanup removes conn from every topic it had joined, telling the swarm
// adapter to leave any topic that became empty as a result.
func (s *Server) cleanup(conn *Connection) {
	for _, topic := range s.registry.Unregister(conn) {
		if err := s.swarm.LeaveTopic(topic); err != nil {
			log.WithError(err).WithField("topic", topic).Warn("swarm leaveTopic failed during cleanup")
		}
	}
}
