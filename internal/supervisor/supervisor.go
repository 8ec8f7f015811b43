// Package supervisor wires the store, permission/invite engines, and the
// three WebSocket endpoints plus HTTP adjunct into one process, and drives
// the startup/shutdown sequence of spec §4.J.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/nahma/sidecar/internal/config"
	"github.com/nahma/sidecar/internal/crdt"
	"github.com/nahma/sidecar/internal/httpjoin"
	"github.com/nahma/sidecar/internal/invites"
	"github.com/nahma/sidecar/internal/keys"
	"github.com/nahma/sidecar/internal/meta"
	"github.com/nahma/sidecar/internal/metrics"
	"github.com/nahma/sidecar/internal/permissions"
	"github.com/nahma/sidecar/internal/relay"
	"github.com/nahma/sidecar/internal/store"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: "sidecar:supervisor"})

// shutdownGrace bounds how long each listener waits for in-flight frames
// to flush before its connections are force-closed (spec §4.J step 3).
const shutdownGrace = 5 * time.Second

// closable is satisfied by every endpoint server; CloseAll implements
// spec §4.J shutdown step 4 ("close each live connection, drain fan-out
// sets").
type closable interface {
	CloseAll()
}

// Supervisor owns every long-lived component of the process: the
// persistence backend, the permission/invite engines, the three
// WebSocket endpoint servers, the HTTP adjunct, and the invite GC.
type Supervisor struct {
	cfg *config.Config

	backend  store.Backend
	facade   *store.Facade
	resolver *permissions.Resolver
	invites  *invites.Manager
	gc       *invites.GC

	metaServer  *meta.Server
	crdtServer  *crdt.Server
	relayServer *relay.Server

	httpServers []*http.Server
	closables   []closable

	gcCancel context.CancelFunc
}

// New wires every component over cfg, per spec §4.J startup step 1-3:
// open the store, build the engines, build the endpoint servers. It does
// not yet bind any listener — call Start for that.
func New(cfg *config.Config) (*Supervisor, error) {
	backend, err := openBackend(cfg)
	if err != nil {
		return nil, trace.Wrap(err, "opening persistence store")
	}
	facade := store.New(backend)
	resolver := permissions.New(facade)
	inviteManager := invites.New(facade, resolver)
	gc := invites.NewGC(inviteManager, clockwork.NewRealClock())

	metaServer, err := meta.NewServer(facade, resolver, inviteManager)
	if err != nil {
		return nil, trace.Wrap(err, "building metadata broker")
	}
	keyCache, err := keys.NewCache(keys.DefaultCacheSize, keys.DefaultCacheTTL)
	if err != nil {
		return nil, trace.Wrap(err, "building document key cache")
	}
	crdtServer := crdt.NewServer(crdt.NewManager(facade, keyCache))
	relayServer := relay.NewServer(relay.NewNoopAdapter())

	s := &Supervisor{
		cfg:         cfg,
		backend:     backend,
		facade:      facade,
		resolver:    resolver,
		invites:     inviteManager,
		gc:          gc,
		metaServer:  metaServer,
		crdtServer:  crdtServer,
		relayServer: relayServer,
		closables:   []closable{metaServer, crdtServer, relayServer},
	}
	s.httpServers = []*http.Server{
		{Addr: fmt.Sprintf(":%d", cfg.MetaPort), Handler: metaServer},
		{Addr: fmt.Sprintf(":%d", cfg.YjsPort), Handler: crdtServer},
		{Addr: fmt.Sprintf(":%d", cfg.RelayPort), Handler: relayServer},
		{Addr: fmt.Sprintf(":%d", cfg.HTTPPort), Handler: s.httpAdjunct()},
	}
	return s, nil
}

func openBackend(cfg *config.Config) (store.Backend, error) {
	if cfg.NoPersist {
		return store.NewMemoryBackend(), nil
	}
	return store.OpenBolt(cfg.StorePath())
}

// httpAdjunct registers the HTTP routes of spec §4.J step 2: specific
// routes (the join-link shell, metrics) ahead of any catch-all. There is
// no catch-all in this process, but the ordering convention is kept so a
// future one slots in last.
func (s *Supervisor) httpAdjunct() http.Handler {
	router := httprouter.New()
	httpjoin.Register(router)
	router.Handler(http.MethodGet, "/metrics", metrics.Handler())
	return router
}

// Start launches the invite cleanup loop and every listener, per spec
// §4.J startup step 3-4. It returns once every listener has started
// accepting, or the first one fails to bind.
func (s *Supervisor) Start(ctx context.Context) error {
	gcCtx, cancel := context.WithCancel(ctx)
	s.gcCancel = cancel
	go s.gc.Run(gcCtx)

	errCh := make(chan error, len(s.httpServers))
	for _, srv := range s.httpServers {
		srv := srv
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).WithField("addr", srv.Addr).Error("listener exited")
				errCh <- trace.Wrap(err, "listener %s", srv.Addr)
				return
			}
			errCh <- nil
		}()
	}

	// Give binds a moment to fail fast (e.g. port already in use) before
	// reporting success; a clean bind never sends on errCh this early.
	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Shutdown runs spec §4.J's shutdown sequence: cancel interval tasks,
// stop accepting new connections, close each listener with a bounded
// grace period, close every live connection, then flush and close the
// store.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if s.gcCancel != nil {
		s.gcCancel()
	}

	for _, srv := range s.httpServers {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).WithField("addr", srv.Addr).Warn("listener shutdown did not complete cleanly")
		}
		cancel()
	}

	for _, c := range s.closables {
		c.CloseAll()
	}

	if err := s.facade.Close(); err != nil {
		return trace.Wrap(err, "closing persistence store")
	}
	return nil
}
