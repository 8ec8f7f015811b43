package keys

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyChainDeterministic(t *testing.T) {
	path := Path{WorkspaceID: "ws1", FolderPath: []string{"f1", "f2"}, DocumentID: "doc1"}

	a, err := DeriveKeyChain("correct horse battery staple", path)
	require.NoError(t, err)
	b, err := DeriveKeyChain("correct horse battery staple", path)
	require.NoError(t, err)

	require.Equal(t, a.WorkspaceKey, b.WorkspaceKey)
	require.Equal(t, a.DocumentKey, b.DocumentKey)
	require.Equal(t, a.TopicHash, b.TopicHash)
	require.Len(t, a.DocumentKey, 32)
	require.Len(t, a.WorkspaceKey, 32)
}

func TestDeriveKeyChainDifferentInputsDiffer(t *testing.T) {
	p1 := Path{WorkspaceID: "ws1", FolderPath: []string{"f1"}, DocumentID: "doc1"}
	p2 := Path{WorkspaceID: "ws2", FolderPath: []string{"f1"}, DocumentID: "doc1"}

	a, err := DeriveKeyChain("pw", p1)
	require.NoError(t, err)
	b, err := DeriveKeyChain("pw", p2)
	require.NoError(t, err)

	require.NotEqual(t, a.WorkspaceKey, b.WorkspaceKey)
}

func TestDeriveKeyChainDocumentWithoutFolder(t *testing.T) {
	_, err := DeriveKeyChain("pw", Path{WorkspaceID: "ws1", DocumentID: "doc1"})
	require.ErrorIs(t, err, ErrDocumentWithoutFolder)
}

func TestCacheHitsAndExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache, err := NewCache(4, time.Minute)
	require.NoError(t, err)
	cache.WithClock(clock)

	path := Path{WorkspaceID: "ws1", FolderPath: []string{"f1"}, DocumentID: "doc1"}

	first, err := cache.Derive("pw", path)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	second, err := cache.Derive("pw", path)
	require.NoError(t, err)
	require.Equal(t, first.DocumentKey, second.DocumentKey)

	clock.Advance(2 * time.Minute)
	third, err := cache.Derive("pw", path)
	require.NoError(t, err)
	require.Equal(t, first.DocumentKey, third.DocumentKey)
}
