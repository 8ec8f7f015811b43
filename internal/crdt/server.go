package crdt

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nahma/sidecar/internal/wire"
)

// handshakeTimeout is the soft timeout on the sync handshake (spec §5:
// "10 s default"); expiry closes the session with a typed error.
const handshakeTimeout = 10 * time.Second

// Server is the document endpoint's WebSocket handler.
type Server struct {
	manager  *Manager
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*docConnection]struct{}
}

// NewServer builds a document-endpoint Server over manager.
func NewServer(manager *Manager) *Server {
	return &Server{
		manager: manager,
		conns:   make(map[*docConnection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// CloseAll closes every live document connection. Used by the supervisor
// during shutdown (spec §4.J step 4).
func (s *Server) CloseAll() {
	s.mu.Lock()
	conns := make([]*docConnection, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		conn.ws.Close()
	}
}

// docConnection adapts one WebSocket to the Subscriber interface.
type docConnection struct {
	id         string
	ws         *websocket.Conn
	passphrase string
	send       chan []byte
	close      chan struct{}
}

func (c *docConnection) ID() string { return c.id }

func (c *docConnection) SendUpdate(data []byte) {
	select {
	case c.send <- data:
	case <-c.close:
	default:
		log.WithField("conn", c.id).Warn("document outbound buffer full, dropping update")
	}
}

func (c *docConnection) SendAwareness(data []byte) {
	c.SendUpdate(data)
}

// ServeHTTP expects docId and the holder's passphrase as query parameters
// ("?doc=<id>&key=<passphrase>"). The passphrase never touches disk: it is
// held only for the lifetime of this connection, used to derive the
// document key (spec §4.B) under which every frame is encrypted before it
// is persisted and decrypted after it is read back (spec §4.A/§4.H). Live
// fan-out to other subscribers still carries the original bytes verbatim.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	docID := r.URL.Query().Get("doc")
	if docID == "" {
		http.Error(w, "missing doc id", http.StatusBadRequest)
		return
	}
	passphrase := r.URL.Query().Get("key")
	if passphrase == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("document websocket upgrade failed")
		return
	}

	conn := &docConnection{
		id:         r.RemoteAddr + "|" + docID + "|" + time.Now().String(),
		ws:         ws,
		passphrase: passphrase,
		send:       make(chan []byte, 256),
		close:      make(chan struct{}),
	}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	s.serve(docID, conn)
}

func (s *Server) serve(docID string, conn *docConnection) {
	defer func() {
		s.manager.Unsubscribe(docID, conn)
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		close(conn.close)
		conn.ws.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()

	conn.ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, stateVector, err := conn.ws.ReadMessage()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			if frame, mErr := wire.FastMarshal(wire.NewErrorFrame(wire.Transient("sync handshake timed out", err))); mErr == nil {
				conn.ws.WriteMessage(websocket.TextMessage, frame)
			}
		}
		return
	}
	conn.ws.SetReadDeadline(time.Time{})
	diff, err := s.manager.Subscribe(ctx, docID, conn.passphrase, conn)
	_ = stateVector // opaque; server never parses it (CRDT algebra out of scope)
	if err != nil {
		return
	}
	if err := conn.ws.WriteMessage(websocket.BinaryMessage, diff); err != nil {
		return
	}
	if err := conn.ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"sync-ack"}`)); err != nil {
		return
	}

	go s.writeLoop(conn)
	s.readLoop(docID, conn)
}

func (s *Server) writeLoop(conn *docConnection) {
	for {
		select {
		case data, ok := <-conn.send:
			if !ok {
				return
			}
			if err := conn.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-conn.close:
			return
		}
	}
}

func (s *Server) readLoop(docID string, conn *docConnection) {
	bg := context.Background()
	for {
		msgType, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if isResyncFrame(data) {
			diff, err := s.manager.Resync(bg, docID, conn.passphrase)
			if err != nil {
				continue
			}
			conn.SendUpdate(diff)
			continue
		}
		if err := s.manager.ApplyUpdate(bg, docID, conn.passphrase, conn, data, time.Now()); err != nil {
			log.WithError(err).Debug("rejected update frame")
		}
	}
}

// isResyncFrame recognizes the tiny sentinel prefix a client sends to
// re-issue the sync handshake rather than push a genuine update.
func isResyncFrame(data []byte) bool {
	return strings.HasPrefix(string(data), "\x00RESYNC")
}
