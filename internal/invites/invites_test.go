package invites

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/nahma/sidecar/internal/permissions"
	"github.com/nahma/sidecar/internal/store"
)

func setup(t *testing.T) (*Manager, *store.Facade, context.Context, *store.Document) {
	t.Helper()
	ctx := context.Background()
	facade := store.New(store.NewMemoryBackend())
	resolver := permissions.New(facade)
	now := time.Now()

	ws, err := facade.CreateWorkspace(ctx, "acme", "owner", now)
	require.NoError(t, err)
	doc, err := facade.CreateDocument(ctx, ws.ID, "", "doc1", "page", now)
	require.NoError(t, err)

	return New(facade, resolver), facade, ctx, doc
}

func TestRedeemGrantsPermissionAndRecordsLink(t *testing.T) {
	m, facade, ctx, doc := setup(t)
	now := time.Now()
	maxUses := 1

	inv, err := m.Create(ctx, store.EntityDocument, doc.ID, store.PermissionEditor, nil, &maxUses, now)
	require.NoError(t, err)

	_, entityID, perm, err := m.Redeem(ctx, inv.Token, "alice", now)
	require.NoError(t, err)
	require.Equal(t, doc.ID, entityID)
	require.Equal(t, store.PermissionEditor, perm)

	effective, err := m.resolver.Effective(ctx, "alice", store.EntityDocument, doc.ID)
	require.NoError(t, err)
	require.Equal(t, store.PermissionEditor, effective)

	_ = facade
}

func TestInvalidateForcesReauthorization(t *testing.T) {
	m, _, ctx, doc := setup(t)
	now := time.Now()

	inv, err := m.Create(ctx, store.EntityDocument, doc.ID, store.PermissionViewer, nil, nil, now)
	require.NoError(t, err)
	_, _, _, err = m.Redeem(ctx, inv.Token, "alice", now)
	require.NoError(t, err)

	require.NoError(t, m.Invalidate(ctx, inv.Token, now))

	select {
	case evt := <-m.Invalidated():
		require.Equal(t, inv.Token, evt.Token)
		require.Contains(t, evt.UserIDs, "alice")
	default:
		t.Fatal("expected an invalidated event")
	}

	effective, err := m.resolver.Effective(ctx, "alice", store.EntityDocument, doc.ID)
	require.NoError(t, err)
	require.Equal(t, store.PermissionNone, effective, "link-only grant must vanish once invalidated")
}

func TestGCMaybeSweepGatesOnLastRun(t *testing.T) {
	m, facade, ctx, doc := setup(t)
	clock := clockwork.NewFakeClock()
	now := clock.Now()

	aged, err := facade.CreateInvite(ctx, store.EntityDocument, doc.ID, store.PermissionViewer, nil, nil, now.Add(-48*time.Hour))
	require.NoError(t, err)

	gc := NewGC(m, clock)
	gc.lastTier1Run = now
	gc.lastTier2Run = now

	// Before either interval elapses, nothing runs.
	gc.maybeSweep(ctx)
	_, err = facade.GetInvite(ctx, aged.Token)
	require.NoError(t, err)

	// A missed tick spanning both intervals collapses into one sweep of each tier.
	clock.Advance(7 * time.Hour)
	gc.maybeSweep(ctx)

	items, err := facade.SweepAgedInvites(ctx, clock.Now(), MaxInviteAge)
	require.NoError(t, err)
	require.Equal(t, 0, items, "tier-2 sweep inside maybeSweep should already have removed the aged invite")
}
