// Command sidecar runs the nahma collaboration sidecar: the metadata
// broker, the document CRDT relay, the P2P relay plane, and the HTTP
// adjunct, all behind one process lifecycle (spec §4.J).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/nahma/sidecar/internal/config"
	"github.com/nahma/sidecar/internal/supervisor"
	"github.com/nahma/sidecar/lib/utils"
)

// shutdownTimeout bounds the entire shutdown sequence once a signal
// arrives, regardless of how long individual listeners take.
const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Error("sidecar exited with error")
		os.Exit(1)
	}
}

func run() error {
	utils.InitLogger(utils.LoggingForDaemon, logrus.InfoLevel)
	log := logrus.WithField(trace.Component, "sidecar")

	cfg, err := config.Load()
	if err != nil {
		return trace.Wrap(err, "loading configuration")
	}
	log.WithField("config", cfg.String()).Info("starting")

	sup, err := supervisor.New(cfg)
	if err != nil {
		return trace.Wrap(err, "building supervisor")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := sup.Start(ctx); err != nil {
		return trace.Wrap(err, "starting listeners")
	}
	log.Info("listeners started")

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel2()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		return trace.Wrap(err, "shutting down")
	}
	log.Info("shutdown complete")
	return nil
}
