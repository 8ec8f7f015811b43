// Package invites implements the create/redeem/invalidate lifecycle and the
// tier-1/tier-2 garbage collection sweeps of spec §4.F.
package invites

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/nahma/sidecar/internal/permissions"
	"github.com/nahma/sidecar/internal/store"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: "sidecar:invite"})

// MaxInviteAge is the hard upper bound on an invite's lifetime regardless
// of its declared expiry (spec §4.F tier 2).
const MaxInviteAge = 24 * time.Hour

// Manager create/redeems/invalidates invites against a store.Facade and
// keeps a permissions.Resolver's link-redemption bookkeeping in sync.
type Manager struct {
	facade      *store.Facade
	resolver    *permissions.Resolver
	invalidated chan InvalidatedEvent
}

// InvalidatedEvent is emitted by Invalidate for every user who had
// redeemed the invite, so the caller can force re-authorization of any
// open session relying solely on the link.
type InvalidatedEvent struct {
	Token   string
	UserIDs []string
}

// New builds a Manager over facade, updating resolver's link-redemption
// state as invites are redeemed or invalidated.
func New(facade *store.Facade, resolver *permissions.Resolver) *Manager {
	return &Manager{
		facade:      facade,
		resolver:    resolver,
		invalidated: make(chan InvalidatedEvent, 16),
	}
}

// Invalidated returns the channel on which link-invalidated events are
// delivered for broadcast to affected sessions.
func (m *Manager) Invalidated() <-chan InvalidatedEvent { return m.invalidated }

// Create mints a new capability token for entity.
func (m *Manager) Create(ctx context.Context, entityType store.EntityType, entityID string, perm store.Permission, expiresAt *time.Time, maxUses *int, now time.Time) (*store.Invite, error) {
	return m.facade.CreateInvite(ctx, entityType, entityID, perm, expiresAt, maxUses, now)
}

// Redeem validates and redeems token for userID, granting the invite's
// permission on its entity (monotonic) and recording the link redemption
// so it participates in future Effective() resolution.
func (m *Manager) Redeem(ctx context.Context, token, userID string, now time.Time) (store.EntityType, string, store.Permission, error) {
	entityType, entityID, perm, err := m.facade.RedeemInvite(ctx, token, userID, now)
	if err != nil {
		return "", "", store.PermissionNone, err
	}
	if _, err := m.resolver.Grant(ctx, userID, entityType, entityID, perm); err != nil {
		return "", "", store.PermissionNone, trace.Wrap(err)
	}
	m.resolver.RecordLinkRedemption(userID, entityID, perm)
	return entityType, entityID, perm, nil
}

// Invalidate marks token invalid and emits an InvalidatedEvent for every
// redeemer.
func (m *Manager) Invalidate(ctx context.Context, token string, now time.Time) error {
	redeemers, err := m.facade.InvalidateInvite(ctx, token, now)
	if err != nil {
		return err
	}
	inv, err := m.facade.GetInvite(ctx, token)
	if err != nil {
		return err
	}
	m.resolver.InvalidateLinkRedemptions(inv.EntityID)

	select {
	case m.invalidated <- InvalidatedEvent{Token: token, UserIDs: redeemers}:
	default:
		log.Warn("invalidated-event channel full, dropping notification")
	}
	return nil
}
