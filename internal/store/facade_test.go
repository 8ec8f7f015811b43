package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	return New(NewMemoryBackend())
}

func TestWorkspaceLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t)
	now := time.Now()

	ws, err := f.CreateWorkspace(ctx, "acme", "owner-key", now)
	require.NoError(t, err)
	require.NotEmpty(t, ws.ID)

	loaded, err := f.GetWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	require.Equal(t, "acme", loaded.Name)

	later := now.Add(time.Minute)
	_, err = f.UpdateWorkspace(ctx, ws.ID, later, func(w *Workspace) { w.Name = "acme-renamed" })
	require.NoError(t, err)

	require.NoError(t, f.DeleteWorkspace(ctx, ws.ID, later))
	deleted, err := f.GetWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	require.NotNil(t, deleted.DeletedAt)
}

func TestFolderCascadeSoftDelete(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t)
	now := time.Now()

	ws, err := f.CreateWorkspace(ctx, "acme", "owner", now)
	require.NoError(t, err)

	root, err := f.CreateFolder(ctx, ws.ID, "", "root", now)
	require.NoError(t, err)
	child, err := f.CreateFolder(ctx, ws.ID, root.ID, "child", now)
	require.NoError(t, err)

	doc, err := f.CreateDocument(ctx, ws.ID, child.ID, "doc1", "page", now)
	require.NoError(t, err)

	deletedIDs, err := f.DeleteFolder(ctx, root.ID, now.Add(time.Minute))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{root.ID, child.ID, doc.ID}, deletedIDs)

	gotChild, err := f.GetFolder(ctx, child.ID)
	require.NoError(t, err)
	require.NotNil(t, gotChild.DeletedAt)

	gotDoc, err := f.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, DocumentTrashed, gotDoc.State)

	remaining, err := f.ListFolders(ctx, ws.ID)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestDocumentLifecycleNeverLeavesPurged(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t)
	now := time.Now()

	ws, _ := f.CreateWorkspace(ctx, "acme", "owner", now)
	doc, err := f.CreateDocument(ctx, ws.ID, "", "doc1", "page", now)
	require.NoError(t, err)

	_, err = f.SoftDeleteDocument(ctx, doc.ID, now)
	require.NoError(t, err)
	restored, err := f.RestoreDocument(ctx, doc.ID, now)
	require.NoError(t, err)
	require.Equal(t, DocumentActive, restored.State)

	doc.State = DocumentPurged
	require.NoError(t, f.putDocument(ctx, doc))
	_, err = f.RestoreDocument(ctx, doc.ID, now)
	require.Error(t, err)
}

func TestUpdateLogPreservesOrder(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t)
	now := time.Now()

	for i := 0; i < 5; i++ {
		_, err := f.AppendUpdate(ctx, "doc1", []byte{byte(i)}, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	records, err := f.ListUpdates(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, rec := range records {
		require.Equal(t, uint64(i+1), rec.Seq)
		require.Equal(t, []byte{byte(i)}, rec.Ciphertext)
	}
}

func TestInviteRedeemBoundsAndInvalidate(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t)
	now := time.Now()
	maxUses := 2

	inv, err := f.CreateInvite(ctx, EntityDocument, "doc1", PermissionEditor, nil, &maxUses, now)
	require.NoError(t, err)

	_, _, perm, err := f.RedeemInvite(ctx, inv.Token, "user1", now)
	require.NoError(t, err)
	require.Equal(t, PermissionEditor, perm)

	_, _, _, err = f.RedeemInvite(ctx, inv.Token, "user2", now)
	require.NoError(t, err)

	_, _, _, err = f.RedeemInvite(ctx, inv.Token, "user3", now)
	require.Error(t, err, "invite must not exceed maxUses")

	expiring, err := f.CreateInvite(ctx, EntityDocument, "doc2", PermissionViewer, timePtr(now.Add(-time.Second)), nil, now.Add(-time.Hour))
	require.NoError(t, err)
	_, _, _, err = f.RedeemInvite(ctx, expiring.Token, "user4", now)
	require.Error(t, err)

	redeemers, err := f.InvalidateInvite(ctx, inv.Token, now)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"user1", "user2"}, redeemers)
}

func TestInviteGCSweeps(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t)
	now := time.Now()

	expired, err := f.CreateInvite(ctx, EntityWorkspace, "ws1", PermissionViewer, timePtr(now.Add(-time.Minute)), nil, now.Add(-time.Hour))
	require.NoError(t, err)
	longLived, err := f.CreateInvite(ctx, EntityWorkspace, "ws1", PermissionViewer, nil, nil, now.Add(-time.Hour))
	require.NoError(t, err)
	aged, err := f.CreateInvite(ctx, EntityWorkspace, "ws1", PermissionViewer, nil, nil, now.Add(-48*time.Hour))
	require.NoError(t, err)

	n, err := f.SweepExpiredInvites(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = f.GetInvite(ctx, expired.Token)
	require.Error(t, err)

	n, err = f.SweepAgedInvites(ctx, now, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = f.GetInvite(ctx, aged.Token)
	require.Error(t, err)

	_, err = f.GetInvite(ctx, longLived.Token)
	require.NoError(t, err, "tier 2 does not touch invites without expiry unless aged out")
}

func TestMoveFolderRejectsCycle(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t)
	now := time.Now()

	ws, err := f.CreateWorkspace(ctx, "acme", "owner", now)
	require.NoError(t, err)
	parent, err := f.CreateFolder(ctx, ws.ID, "", "parent", now)
	require.NoError(t, err)
	child, err := f.CreateFolder(ctx, ws.ID, parent.ID, "child", now)
	require.NoError(t, err)
	grandchild, err := f.CreateFolder(ctx, ws.ID, child.ID, "grandchild", now)
	require.NoError(t, err)

	_, err = f.MoveFolder(ctx, parent.ID, grandchild.ID, now)
	require.Error(t, err, "moving an ancestor under its own descendant must be rejected")

	_, err = f.MoveFolder(ctx, parent.ID, parent.ID, now)
	require.Error(t, err, "a folder cannot become its own parent")

	// A non-cyclic move to an unrelated folder still succeeds.
	sibling, err := f.CreateFolder(ctx, ws.ID, "", "sibling", now)
	require.NoError(t, err)
	moved, err := f.MoveFolder(ctx, grandchild.ID, sibling.ID, now)
	require.NoError(t, err)
	require.Equal(t, sibling.ID, moved.ParentID)
}

func TestFolderPathWalksToRoot(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t)
	now := time.Now()

	ws, err := f.CreateWorkspace(ctx, "acme", "owner", now)
	require.NoError(t, err)
	parent, err := f.CreateFolder(ctx, ws.ID, "", "parent", now)
	require.NoError(t, err)
	child, err := f.CreateFolder(ctx, ws.ID, parent.ID, "child", now)
	require.NoError(t, err)

	path, err := f.FolderPath(ctx, child.ID)
	require.NoError(t, err)
	require.Equal(t, []string{parent.ID, child.ID}, path)

	path, err = f.FolderPath(ctx, "")
	require.NoError(t, err)
	require.Empty(t, path)
}

func TestRedeemInviteNeverExceedsMaxUsesConcurrently(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t)
	now := time.Now()
	maxUses := 1

	inv, err := f.CreateInvite(ctx, EntityDocument, "doc1", PermissionEditor, nil, &maxUses, now)
	require.NoError(t, err)

	const racers = 8
	var wg sync.WaitGroup
	successes := make([]bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, _, err := f.RedeemInvite(ctx, inv.Token, "user", now)
			successes[i] = err == nil
		}(i)
	}
	wg.Wait()

	won := 0
	for _, ok := range successes {
		if ok {
			won++
		}
	}
	require.Equal(t, 1, won, "exactly one concurrent redemption may succeed against maxUses=1")

	redeemed, err := f.GetInvite(ctx, inv.Token)
	require.NoError(t, err)
	require.Equal(t, 1, redeemed.Uses)
}

func timePtr(t time.Time) *time.Time { return &t }
