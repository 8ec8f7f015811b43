package crdt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nahma/sidecar/internal/keys"
	"github.com/nahma/sidecar/internal/store"
)

type fakeSub struct {
	id        string
	updates   [][]byte
	awareness [][]byte
}

func (f *fakeSub) ID() string                { return f.id }
func (f *fakeSub) SendUpdate(data []byte)    { f.updates = append(f.updates, data) }
func (f *fakeSub) SendAwareness(data []byte) { f.awareness = append(f.awareness, data) }

const testPassphrase = "correct-horse-battery-staple"

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cache, err := keys.NewCache(0, 0)
	require.NoError(t, err)
	facade := store.New(store.NewMemoryBackend())
	return NewManager(facade, cache)
}

// newTestDocument creates a real workspace/folder/document chain so the
// manager can resolve a keys.Path for key derivation; the CRDT log keys
// its updates by the returned document id, not by an arbitrary string.
func newTestDocument(t *testing.T, m *Manager) string {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	ws, err := m.facade.CreateWorkspace(ctx, "ws", "owner", now)
	require.NoError(t, err)
	fl, err := m.facade.CreateFolder(ctx, ws.ID, "", "folder", now)
	require.NoError(t, err)
	doc, err := m.facade.CreateDocument(ctx, ws.ID, fl.ID, "doc", "text", now)
	require.NoError(t, err)
	return doc.ID
}

func TestApplyUpdateNeverEchoesOrigin(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	docID := newTestDocument(t, m)

	a := &fakeSub{id: "a"}
	b := &fakeSub{id: "b"}
	_, err := m.Subscribe(ctx, docID, testPassphrase, a)
	require.NoError(t, err)
	_, err = m.Subscribe(ctx, docID, testPassphrase, b)
	require.NoError(t, err)

	require.NoError(t, m.ApplyUpdate(ctx, docID, testPassphrase, a, []byte("update-bytes"), time.Now()))

	require.Empty(t, a.updates, "origin must never receive its own echo")
	require.Equal(t, [][]byte{[]byte("update-bytes")}, b.updates)
}

func TestApplyUpdateRejectsShortFrames(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	a := &fakeSub{id: "a"}

	err := m.ApplyUpdate(ctx, "doc1", testPassphrase, a, []byte{0x01}, time.Now())
	require.Error(t, err)
}

func TestSubscribeServesFullLogAsDiff(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	docID := newTestDocument(t, m)
	now := time.Now()

	origin := &fakeSub{id: "origin"}
	require.NoError(t, m.ApplyUpdate(ctx, docID, testPassphrase, origin, []byte("aa"), now))
	require.NoError(t, m.ApplyUpdate(ctx, docID, testPassphrase, origin, []byte("bb"), now))

	diff, err := m.Subscribe(ctx, docID, testPassphrase, &fakeSub{id: "c"})
	require.NoError(t, err)
	require.Equal(t, []byte("aabb"), diff)
}

func TestSubscribeFailsOnWrongPassphrase(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	docID := newTestDocument(t, m)
	now := time.Now()

	origin := &fakeSub{id: "origin"}
	require.NoError(t, m.ApplyUpdate(ctx, docID, testPassphrase, origin, []byte("aa"), now))

	_, err := m.Subscribe(ctx, docID, "wrong-passphrase", &fakeSub{id: "c"})
	require.Error(t, err)
}

func TestDuplicateObserverGuard(t *testing.T) {
	m := newTestManager(t)

	require.True(t, m.AttachObserver("doc1"))
	require.False(t, m.AttachObserver("doc1"), "second attach must be a no-op")
	require.True(t, m.IsObserved("doc1"))

	m.DetachObserver("doc1")
	require.False(t, m.IsObserved("doc1"))
}

func TestUnsubscribeEvictsAwareness(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	docID := newTestDocument(t, m)

	a := &fakeSub{id: "a"}
	b := &fakeSub{id: "b"}
	_, err := m.Subscribe(ctx, docID, testPassphrase, a)
	require.NoError(t, err)
	_, err = m.Subscribe(ctx, docID, testPassphrase, b)
	require.NoError(t, err)

	m.ApplyAwareness(docID, a, []byte("cursor-at-5"))
	require.Equal(t, [][]byte{[]byte("cursor-at-5")}, b.awareness)

	m.Unsubscribe(docID, a)
	session := m.sessionFor(docID)
	_, stillThere := session.awareness[a.ID()]
	require.False(t, stillThere)
}
