package permissions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nahma/sidecar/internal/store"
)

func setup(t *testing.T) (*Resolver, *store.Facade, context.Context, *store.Workspace, *store.Folder, *store.Document) {
	t.Helper()
	ctx := context.Background()
	facade := store.New(store.NewMemoryBackend())
	now := time.Now()

	ws, err := facade.CreateWorkspace(ctx, "acme", "owner", now)
	require.NoError(t, err)
	folder, err := facade.CreateFolder(ctx, ws.ID, "", "root", now)
	require.NoError(t, err)
	doc, err := facade.CreateDocument(ctx, ws.ID, folder.ID, "doc1", "page", now)
	require.NoError(t, err)

	return New(facade), facade, ctx, ws, folder, doc
}

func TestResolutionCascadesThroughHierarchy(t *testing.T) {
	r, _, ctx, ws, _, doc := setup(t)

	_, err := r.Grant(ctx, "alice", store.EntityWorkspace, ws.ID, store.PermissionEditor)
	require.NoError(t, err)

	effective, err := r.Effective(ctx, "alice", store.EntityDocument, doc.ID)
	require.NoError(t, err)
	require.Equal(t, store.PermissionEditor, effective)
}

func TestGrantIsMonotonic(t *testing.T) {
	r, _, ctx, ws, _, _ := setup(t)

	_, err := r.Grant(ctx, "alice", store.EntityWorkspace, ws.ID, store.PermissionEditor)
	require.NoError(t, err)
	_, err = r.Grant(ctx, "alice", store.EntityWorkspace, ws.ID, store.PermissionViewer)
	require.NoError(t, err)

	effective, err := r.Effective(ctx, "alice", store.EntityWorkspace, ws.ID)
	require.NoError(t, err)
	require.Equal(t, store.PermissionEditor, effective, "a lower re-grant must never downgrade")
}

func TestRevokeIsExplicit(t *testing.T) {
	r, _, ctx, ws, _, _ := setup(t)

	_, err := r.Grant(ctx, "alice", store.EntityWorkspace, ws.ID, store.PermissionEditor)
	require.NoError(t, err)
	_, err = r.Revoke(ctx, "alice", store.EntityWorkspace, ws.ID)
	require.NoError(t, err)

	effective, err := r.Effective(ctx, "alice", store.EntityWorkspace, ws.ID)
	require.NoError(t, err)
	require.Equal(t, store.PermissionNone, effective)
}

func TestCheckDeniesBelowRequirement(t *testing.T) {
	r, _, ctx, ws, _, doc := setup(t)

	_, err := r.Grant(ctx, "alice", store.EntityWorkspace, ws.ID, store.PermissionViewer)
	require.NoError(t, err)

	require.NoError(t, r.Check(ctx, "alice", store.EntityDocument, doc.ID, ActionView))
	require.Error(t, r.Check(ctx, "alice", store.EntityDocument, doc.ID, ActionEdit))
}

func TestLinkRedemptionParticipatesInEffective(t *testing.T) {
	r, _, ctx, _, _, doc := setup(t)

	r.RecordLinkRedemption("bob", doc.ID, store.PermissionEditor)
	effective, err := r.Effective(ctx, "bob", store.EntityDocument, doc.ID)
	require.NoError(t, err)
	require.Equal(t, store.PermissionEditor, effective)

	r.InvalidateLinkRedemptions(doc.ID)
	effective, err = r.Effective(ctx, "bob", store.EntityDocument, doc.ID)
	require.NoError(t, err)
	require.Equal(t, store.PermissionNone, effective)
}

func TestCascadeDeleteCoversSubtree(t *testing.T) {
	r, facade, ctx, ws, folder, doc := setup(t)
	now := time.Now()

	child, err := facade.CreateFolder(ctx, ws.ID, folder.ID, "child", now)
	require.NoError(t, err)

	deleted, err := r.CascadeDelete(ctx, folder.ID, now.Add(time.Minute))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{folder.ID, child.ID, doc.ID}, deleted)
}
