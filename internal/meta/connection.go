// Package meta implements the metadata broker of spec §4.G: the
// connection state machine, workspace-scoped subscription sets, frame
// routing for workspace/folder/document/invite operations. The HTTP
// adjunct that serves invite links lives in internal/httpjoin.
package meta

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/nahma/sidecar/internal/wire"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: "sidecar:meta"})

// connState is one of {connecting, keyed, active, closing}.
type connState int

const (
	stateConnecting connState = iota
	stateKeyed
	stateActive
	stateClosing
)

// Connection is one client's metadata-endpoint WebSocket session.
type Connection struct {
	ws *websocket.Conn

	mu         sync.Mutex
	state      connState
	sessionKey string // set by set-key; any non-empty string is accepted, its length and encoding are not checked
	userID     string // equal to sessionKey, set by set-key

	workspaces map[string]struct{} // workspaces this connection has joined

	send   chan []byte
	closed chan struct{}
}

func newConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ws:         ws,
		state:      stateConnecting,
		workspaces: make(map[string]struct{}),
		send:       make(chan []byte, 64),
		closed:     make(chan struct{}),
	}
}

func (c *Connection) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) getState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) join(workspaceID string) {
	c.mu.Lock()
	c.workspaces[workspaceID] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) leave(workspaceID string) {
	c.mu.Lock()
	delete(c.workspaces, workspaceID)
	c.mu.Unlock()
}

func (c *Connection) hasJoined(workspaceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.workspaces[workspaceID]
	return ok
}

func (c *Connection) joinedWorkspaces() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.workspaces))
	for w := range c.workspaces {
		out = append(out, w)
	}
	return out
}

// sendFrame enqueues v (any JSON-marshalable frame) for delivery, dropping
// it with a logged warning if the connection's outbound buffer is full
// rather than blocking the whole hub on one slow reader.
func (c *Connection) sendFrame(v interface{}) {
	data, err := wire.FastMarshal(v)
	if err != nil {
		log.WithError(err).Error("failed to marshal outbound frame")
		return
	}
	select {
	case c.send <- data:
	case <-c.closed:
	default:
		log.WithField("session_key", c.sessionKey).Warn("outbound buffer full, dropping frame")
	}
}

func (c *Connection) sendError(err error) {
	c.sendFrame(wire.NewErrorFrame(err))
}

// writeLoop drains send and writes each frame to the socket, and pings on
// an interval to detect dead peers.
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
	c.setState(stateClosing)
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
}
