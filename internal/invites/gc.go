package invites

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nahma/sidecar/internal/metrics"
)

// Tier-1/tier-2 cleanup cadence, spec §4.J.
const (
	InviteCleanupInterval  = 3_600_000 * time.Millisecond
	NuclearCleanupInterval = 21_600_000 * time.Millisecond
)

// GC runs the tier-1 (hourly) and tier-2 (6h, nuclear) invite sweeps off a
// single check ticker driven by clock, so tests can fast-forward instead of
// sleeping real time. Cadence is gated against a last-run-at variable: if a
// tick is missed (process asleep), the next check collapses into a single
// sweep rather than a flurry of catch-up runs.
type GC struct {
	manager *Manager
	clock   clockwork.Clock

	lastTier1Run time.Time
	lastTier2Run time.Time
}

// NewGC builds a GC over manager using clock for interval timing.
func NewGC(manager *Manager, clock clockwork.Clock) *GC {
	return &GC{manager: manager, clock: clock}
}

// Run blocks, sweeping on every tick of a 1-minute check interval (cheap
// relative to the hour/6h cadences) until ctx is cancelled. Errors during a
// sweep are logged and never stop the loop.
func (g *GC) Run(ctx context.Context) {
	const checkInterval = time.Minute
	ticker := g.clock.NewTicker(checkInterval)
	defer ticker.Stop()

	now := g.clock.Now()
	g.lastTier1Run = now
	g.lastTier2Run = now

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			g.maybeSweep(ctx)
		}
	}
}

func (g *GC) maybeSweep(ctx context.Context) {
	now := g.clock.Now()

	if now.Sub(g.lastTier1Run) >= InviteCleanupInterval {
		g.lastTier1Run = now
		n, err := g.manager.facade.SweepExpiredInvites(ctx, now)
		if err != nil {
			log.WithError(err).Warn("tier-1 invite sweep failed")
			metrics.InviteSweepsTotal.WithLabelValues("tier1", "error").Inc()
		} else {
			metrics.InviteSweepsTotal.WithLabelValues("tier1", "ok").Inc()
			metrics.InvitesDeletedTotal.WithLabelValues("tier1").Add(float64(n))
			if n > 0 {
				log.WithField("count", n).Info("tier-1 invite sweep removed expired invites")
			}
		}
	}

	if now.Sub(g.lastTier2Run) >= NuclearCleanupInterval {
		g.lastTier2Run = now
		n, err := g.manager.facade.SweepAgedInvites(ctx, now, MaxInviteAge)
		if err != nil {
			log.WithError(err).Warn("tier-2 nuclear invite sweep failed")
			metrics.InviteSweepsTotal.WithLabelValues("tier2", "error").Inc()
		} else {
			metrics.InviteSweepsTotal.WithLabelValues("tier2", "ok").Inc()
			metrics.InvitesDeletedTotal.WithLabelValues("tier2").Add(float64(n))
			if n > 0 {
				log.WithField("count", n).Info("tier-2 nuclear invite sweep removed aged invites")
			}
		}
	}
}
