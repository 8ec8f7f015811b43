package relay

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/nahma/sidecar/internal/wire"
)

const (
	defaultWait = time.Second
	defaultTick = 10 * time.Millisecond
)

// fakeSwarm is a SwarmAdapter test double recording every call it receives.
type fakeSwarm struct {
	joined []string
	left   []string
	synced [][]byte
	events chan SwarmEvent
}

func newFakeSwarm() *fakeSwarm {
	return &fakeSwarm{events: make(chan SwarmEvent, 8)}
}

func (f *fakeSwarm) Initialize(wire.Identity) error { return nil }
func (f *fakeSwarm) JoinTopic(topic string) ([]wire.PeerInfo, error) {
	f.joined = append(f.joined, topic)
	return nil, nil
}
func (f *fakeSwarm) LeaveTopic(topic string) error {
	f.left = append(f.left, topic)
	return nil
}
func (f *fakeSwarm) BroadcastSync(topic string, data []byte) error {
	f.synced = append(f.synced, data)
	return nil
}
func (f *fakeSwarm) BroadcastAwareness(string, []byte) error { return nil }
func (f *fakeSwarm) Destroy() error                          { close(f.events); return nil }
func (f *fakeSwarm) Events() <-chan SwarmEvent               { return f.events }

func newTestServer(t *testing.T) (*httptest.Server, *fakeSwarm, func()) {
	t.Helper()
	swarm := newFakeSwarm()
	srv := NewServer(swarm)
	httpSrv := httptest.NewServer(srv)
	return httpSrv, swarm, func() { httpSrv.Close() }
}

func dial(t *testing.T, httpSrv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestJoinTopicSendsPeersListAndNotifiesExisting(t *testing.T) {
	httpSrv, swarm, cleanup := newTestServer(t)
	defer cleanup()

	a := dial(t, httpSrv)
	defer a.Close()
	require.NoError(t, a.WriteJSON(map[string]interface{}{
		"type": "identity", "identity": map[string]string{"publicKey": "pub-a", "displayName": "A", "color": "#fff"},
	}))
	var ack map[string]interface{}
	require.NoError(t, a.ReadJSON(&ack))
	require.Equal(t, "identity-ack", ack["type"])

	require.NoError(t, a.WriteJSON(map[string]string{"type": "join-topic", "topic": "ab12"}))
	var peersList map[string]interface{}
	require.NoError(t, a.ReadJSON(&peersList))
	require.Equal(t, "peers-list", peersList["type"])
	require.Empty(t, peersList["peers"])
	require.Equal(t, []string{"ab12"}, swarm.joined, "first local joiner must join the swarm topic")

	b := dial(t, httpSrv)
	defer b.Close()
	require.NoError(t, b.WriteJSON(map[string]string{"type": "join-topic", "topic": "ab12"}))

	var peerJoined map[string]interface{}
	require.NoError(t, a.ReadJSON(&peerJoined))
	require.Equal(t, "peer-joined", peerJoined["type"])

	var bPeersList map[string]interface{}
	require.NoError(t, b.ReadJSON(&bPeersList))
	peers, _ := bPeersList["peers"].([]interface{})
	require.Len(t, peers, 1, "b must see a in its peers-list")
	require.Equal(t, 1, len(swarm.joined), "second local joiner must not rejoin the swarm topic")
}

func TestLeaveTopicNotifiesRemainingAndLeavesSwarmWhenEmpty(t *testing.T) {
	httpSrv, swarm, cleanup := newTestServer(t)
	defer cleanup()

	a := dial(t, httpSrv)
	defer a.Close()
	b := dial(t, httpSrv)
	defer b.Close()

	require.NoError(t, a.WriteJSON(map[string]string{"type": "join-topic", "topic": "ab12"}))
	var discard map[string]interface{}
	require.NoError(t, a.ReadJSON(&discard))
	require.NoError(t, b.WriteJSON(map[string]string{"type": "join-topic", "topic": "ab12"}))
	require.NoError(t, a.ReadJSON(&discard)) // peer-joined for b
	require.NoError(t, b.ReadJSON(&discard)) // peers-list for b

	require.NoError(t, b.WriteJSON(map[string]string{"type": "leave-topic", "topic": "ab12"}))
	var peerLeft map[string]interface{}
	require.NoError(t, a.ReadJSON(&peerLeft))
	require.Equal(t, "peer-left", peerLeft["type"])
	require.Empty(t, swarm.left)

	require.NoError(t, a.WriteJSON(map[string]string{"type": "leave-topic", "topic": "ab12"}))
	require.Eventually(t, func() bool { return len(swarm.left) == 1 }, defaultWait, defaultTick)
}

func TestSyncFansOutAndForwardsToSwarm(t *testing.T) {
	httpSrv, swarm, cleanup := newTestServer(t)
	defer cleanup()

	a := dial(t, httpSrv)
	defer a.Close()
	b := dial(t, httpSrv)
	defer b.Close()

	require.NoError(t, a.WriteJSON(map[string]string{"type": "join-topic", "topic": "ab12"}))
	var discard map[string]interface{}
	require.NoError(t, a.ReadJSON(&discard))
	require.NoError(t, b.WriteJSON(map[string]string{"type": "join-topic", "topic": "ab12"}))
	require.NoError(t, a.ReadJSON(&discard)) // peer-joined for b
	require.NoError(t, b.ReadJSON(&discard)) // peers-list for b

	require.NoError(t, a.WriteJSON(map[string]string{"type": "sync", "topic": "ab12", "data": "aGVsbG8="}))
	var synced map[string]interface{}
	require.NoError(t, b.ReadJSON(&synced))
	require.Equal(t, "sync", synced["type"])
	require.Equal(t, "aGVsbG8=", synced["data"])
	require.Equal(t, "hello", string(swarm.synced[0]))
}

func TestMalformedTopicIsDroppedNotClosed(t *testing.T) {
	httpSrv, _, cleanup := newTestServer(t)
	defer cleanup()

	a := dial(t, httpSrv)
	defer a.Close()

	require.NoError(t, a.WriteJSON(map[string]string{"type": "join-topic", "topic": "x"}))
	require.NoError(t, a.WriteJSON(map[string]string{"type": "join-topic", "topic": "valid-topic"}))

	var peersList map[string]interface{}
	require.NoError(t, a.ReadJSON(&peersList))
	require.Equal(t, "peers-list", peersList["type"])
	require.Equal(t, "valid-topic", peersList["topic"], "the malformed join-topic must be silently dropped, not close the connection")
}
