package relay

import (
	"encoding/base64"

	"github.com/nahma/sidecar/internal/wire"
)

// handleFrame routes one decoded frame by type. Unknown types and payloads
// that fail Checkable validation are logged and dropped; the connection
// stays open (spec §4.I: a malformed topic is "dropped", not a protocol
// error).
func (s *Server) handleFrame(conn *Connection, frame wire.Frame) {
	handler, ok := dispatchTable[frame.Type]
	if !ok {
		log.WithField("type", frame.Type).Debug("dropping relay frame of unknown type")
		return
	}
	handler(s, conn, frame)
}

var dispatchTable = map[string]func(*Server, *Connection, wire.Frame){
	"identity":    (*Server).handleIdentity,
	"join-topic":  (*Server).handleJoinTopic,
	"leave-topic": (*Server).handleLeaveTopic,
	"sync":        (*Server).handleSync,
	"awareness":   (*Server).handleAwareness,
}

func (s *Server) handleIdentity(conn *Connection, frame wire.Frame) {
	var req wire.IdentityRequest
	if err := frame.Decode(&req); err != nil || req.Check() != nil {
		log.Debug("dropping malformed identity frame")
		return
	}
	conn.setIdentity(req.Identity)
	conn.sendFrame(wire.IdentityAckFrame{Type: "identity-ack", ClientID: conn.clientID})
}

// handleJoinTopic implements spec §4.I's join-topic routing: the
// connection joins the topic's local subscriber set, the swarm adapter is
// told to join exactly once per topic (idempotent from the caller's
// perspective), the new joiner gets a peers-list of existing subscribers,
// and existing subscribers get peer-joined.
func (s *Server) handleJoinTopic(conn *Connection, frame wire.Frame) {
	var req wire.TopicRequest
	if err := frame.Decode(&req); err != nil || req.Check() != nil {
		log.Debug("dropping malformed join-topic frame")
		return
	}

	peers := s.registry.Peers(req.Topic, conn)
	first := s.registry.Join(conn, req.Topic)
	if first {
		if _, err := s.swarm.JoinTopic(req.Topic); err != nil {
			log.WithError(err).WithField("topic", req.Topic).Warn("swarm joinTopic failed")
		}
	}

	conn.sendFrame(wire.PeersListFrame{Type: "peers-list", Topic: req.Topic, Peers: peers})
	s.registry.Broadcast(req.Topic, conn, wire.PeerJoinedFrame{
		Type:     "peer-joined",
		Topic:    req.Topic,
		PeerID:   conn.clientID,
		Identity: conn.getIdentity(),
	})
}

// handleLeaveTopic implements spec §4.I's leave-topic routing: the
// connection leaves the topic's subscriber set; if that empties the topic
// the swarm adapter is told to leave, otherwise remaining subscribers get
// peer-left.
func (s *Server) handleLeaveTopic(conn *Connection, frame wire.Frame) {
	var req wire.TopicRequest
	if err := frame.Decode(&req); err != nil || req.Check() != nil {
		log.Debug("dropping malformed leave-topic frame")
		return
	}

	emptied := s.registry.Leave(conn, req.Topic)
	if emptied {
		if err := s.swarm.LeaveTopic(req.Topic); err != nil {
			log.WithError(err).WithField("topic", req.Topic).Warn("swarm leaveTopic failed")
		}
		return
	}
	s.registry.Broadcast(req.Topic, conn, wire.PeerLeftFrame{
		Type:   "peer-left",
		Topic:  req.Topic,
		PeerID: conn.clientID,
	})
}

// handleSync implements spec §4.I's sync routing: fan out to every other
// local subscriber of the topic and forward to the swarm adapter,
// verbatim, as opaque bytes.
func (s *Server) handleSync(conn *Connection, frame wire.Frame) {
	var req wire.RelaySyncRequest
	if err := frame.Decode(&req); err != nil || req.Check() != nil {
		log.Debug("dropping malformed sync frame")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		log.Debug("dropping sync frame with invalid base64 payload")
		return
	}

	s.registry.Broadcast(req.Topic, conn, wire.RelaySyncFrame{
		Type:   "sync",
		Topic:  req.Topic,
		PeerID: conn.clientID,
		Data:   req.Data,
	})
	if err := s.swarm.BroadcastSync(req.Topic, data); err != nil {
		log.WithError(err).WithField("topic", req.Topic).Warn("swarm broadcastSync failed")
	}
}

// handleAwareness implements spec §4.I's awareness routing: same fanout
// rules as sync, but the state is ephemeral and never persisted.
func (s *Server) handleAwareness(conn *Connection, frame wire.Frame) {
	var req wire.RelayAwarenessRequest
	if err := frame.Decode(&req); err != nil || req.Check() != nil {
		log.Debug("dropping malformed awareness frame")
		return
	}
	state, err := base64.StdEncoding.DecodeString(req.State)
	if err != nil {
		log.Debug("dropping awareness frame with invalid base64 payload")
		return
	}

	s.registry.Broadcast(req.Topic, conn, wire.RelayAwarenessFrame{
		Type:   "awareness",
		Topic:  req.Topic,
		PeerID: conn.clientID,
		State:  req.State,
	})
	if err := s.swarm.BroadcastAwareness(req.Topic, state); err != nil {
		log.WithError(err).WithField("topic", req.Topic).Warn("swarm broadcastAwareness failed")
	}
}
