// Package relay implements the P2P relay plane of spec §4.I: a
// topic-scoped pub/sub for peers behind NATs, bridged to an opaque swarm
// adapter for desktop peers. Sync and awareness payloads are opaque CRDT
// bytes; this package never parses them.
package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/nahma/sidecar/internal/wire"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: "sidecar:relay"})

// Connection is one client's relay-endpoint WebSocket session.
type Connection struct {
	ws *websocket.Conn

	mu       sync.Mutex
	clientID string
	identity wire.Identity
	topics   map[string]struct{}

	send   chan []byte
	closed chan struct{}
}

func newConnection(ws *websocket.Conn, clientID string) *Connection {
	return &Connection{
		ws:       ws,
		clientID: clientID,
		topics:   make(map[string]struct{}),
		send:     make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (c *Connection) setIdentity(id wire.Identity) {
	c.mu.Lock()
	c.identity = id
	c.mu.Unlock()
}

func (c *Connection) getIdentity() wire.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Connection) joinTopic(topic string) {
	c.mu.Lock()
	c.topics[topic] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) leaveTopic(topic string) {
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
}

func (c *Connection) joinedTopics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

// sendFrame enqueues v for delivery, dropping it with a logged warning if
// the connection's outbound buffer is full rather than blocking the whole
// registry on one slow reader.
func (c *Connection) sendFrame(v interface{}) {
	data, err := wire.FastMarshal(v)
	if err != nil {
		log.WithError(err).Error("failed to marshal outbound relay frame")
		return
	}
	select {
	case c.send <- data:
	case <-c.closed:
	default:
		log.WithField("client_id", c.clientID).Warn("relay outbound buffer full, dropping frame")
	}
}

// writeLoop drains send and writes each frame to the socket, pinging on an
// interval to detect dead peers.
func (c *Connection) writeLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
}
