package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestConn(t *testing.T, clientID string) *Connection {
	t.Helper()
	return newConnection(nil, clientID)
}

func TestJoinReportsFirstSubscriberOnly(t *testing.T) {
	r := NewRegistry()
	a := newTestConn(t, "a")
	b := newTestConn(t, "b")

	require.True(t, r.Join(a, "topic1"), "first joiner must trigger a swarm join")
	require.False(t, r.Join(b, "topic1"), "second joiner must not trigger another swarm join")
}

func TestLeaveReportsEmptiedOnlyWhenLastSubscriberLeaves(t *testing.T) {
	r := NewRegistry()
	a := newTestConn(t, "a")
	b := newTestConn(t, "b")
	r.Join(a, "topic1")
	r.Join(b, "topic1")

	require.False(t, r.Leave(a, "topic1"))
	require.True(t, r.Leave(b, "topic1"))
}

func TestPeersExcludesCaller(t *testing.T) {
	r := NewRegistry()
	a := newTestConn(t, "a")
	b := newTestConn(t, "b")
	r.Join(a, "topic1")
	r.Join(b, "topic1")

	peers := r.Peers("topic1", a)
	require.Len(t, peers, 1)
	require.Equal(t, "b", peers[0].PeerID)
}

func TestUnregisterReturnsEmptiedTopics(t *testing.T) {
	r := NewRegistry()
	a := newTestConn(t, "a")
	b := newTestConn(t, "b")
	r.Register(a)
	r.Register(b)
	r.Join(a, "topic1")
	r.Join(a, "topic2")
	r.Join(b, "topic1")

	emptied := r.Unregister(a)
	require.ElementsMatch(t, []string{"topic2"}, emptied, "topic1 still has b; topic2 had only a")
}
