package relay

import "github.com/nahma/sidecar/internal/wire"

// SwarmAdapter is the external swarm transport's Go interface (spec §6):
// a black-box peer discovery and message channel for desktop peers. The
// transport itself is out of scope; only its shape is defined here, and
// the relay plane must not assume in-order delivery between peers.
type SwarmAdapter interface {
	Initialize(identity wire.Identity) error
	JoinTopic(topicHex string) ([]wire.PeerInfo, error)
	LeaveTopic(topicHex string) error
	BroadcastSync(topicHex string, data []byte) error
	BroadcastAwareness(topicHex string, state []byte) error
	Destroy() error

	// Events returns the channel the adapter emits sync/awareness/
	// peer-joined/peer-left notifications on. It is read for the
	// lifetime of the adapter.
	Events() <-chan SwarmEvent
}

// SwarmEventType names the four swarm-originated notifications of spec §6.
type SwarmEventType string

const (
	SwarmEventSync       SwarmEventType = "sync"
	SwarmEventAwareness  SwarmEventType = "awareness"
	SwarmEventPeerJoined SwarmEventType = "peer-joined"
	SwarmEventPeerLeft   SwarmEventType = "peer-left"
)

// SwarmEvent is one notification from the swarm adapter, bound to a topic.
type SwarmEvent struct {
	Type     SwarmEventType
	Topic    string
	PeerID   string
	Identity wire.Identity
	Data     []byte
}

// NoopAdapter is the default SwarmAdapter: it tracks no desktop peers and
// never emits events. It exists so the relay plane has something to call
// when no real swarm transport is wired in, matching spec §6's "treated
// as a black-box... where the core consumes them" framing.
type NoopAdapter struct {
	events chan SwarmEvent
}

// NewNoopAdapter returns a SwarmAdapter that performs every call as a
// silent no-op.
func NewNoopAdapter() *NoopAdapter {
	return &NoopAdapter{events: make(chan SwarmEvent)}
}

func (a *NoopAdapter) Initialize(wire.Identity) error            { return nil }
func (a *NoopAdapter) JoinTopic(string) ([]wire.PeerInfo, error) { return nil, nil }
func (a *NoopAdapter) LeaveTopic(string) error                   { return nil }
func (a *NoopAdapter) BroadcastSync(string, []byte) error        { return nil }
func (a *NoopAdapter) BroadcastAwareness(string, []byte) error   { return nil }
func (a *NoopAdapter) Destroy() error                            { close(a.events); return nil }
func (a *NoopAdapter) Events() <-chan SwarmEvent                 { return a.events }
