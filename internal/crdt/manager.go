package crdt

import (
	"context"
	"sync"
	"time"

	"github.com/gravitational/trace"

	"github.com/nahma/sidecar/internal/cryptoutil"
	"github.com/nahma/sidecar/internal/keys"
	"github.com/nahma/sidecar/internal/metrics"
	"github.com/nahma/sidecar/internal/store"
)

// retryInterval and retryAttempts implement the client resync contract of
// spec §4.H: "[15 s × 6] (≈90 s total)".
const (
	retryInterval = 15 * time.Second
	retryAttempts = 6
)

// Manager owns every document's Session plus the duplicate-observer guard
// ("registered_topic_observers" in spec §4.H) that ensures at most one
// internal observer is attached per document regardless of how many paths
// (direct connection, metadata-level join) make it visible.
type Manager struct {
	facade   *store.Facade
	keyCache *keys.Cache

	mu       sync.Mutex
	sessions map[string]*Session
	observed map[string]struct{}
}

// NewManager builds a Manager persisting updates through facade. keyCache
// memoizes the Argon2id document-key derivations of spec §4.B so a
// document's key is not re-derived from scratch on every frame.
func NewManager(facade *store.Facade, keyCache *keys.Cache) *Manager {
	return &Manager{
		facade:   facade,
		keyCache: keyCache,
		sessions: make(map[string]*Session),
		observed: make(map[string]struct{}),
	}
}

// documentKey resolves docID's document key under passphrase by walking
// its owning document and folder ancestry into a keys.Path (spec §4.B). A
// document at the workspace root (no folder) derives directly from the
// workspace key, since DeriveKeyChain requires a non-empty folder path.
func (m *Manager) documentKey(ctx context.Context, docID, passphrase string) ([]byte, error) {
	doc, err := m.facade.GetDocument(ctx, docID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if doc.FolderID == "" {
		return keys.DocumentKey(keys.WorkspaceKey(passphrase, doc.WorkspaceID), docID), nil
	}
	folderPath, err := m.facade.FolderPath(ctx, doc.FolderID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	chain, err := m.keyCache.Derive(passphrase, keys.Path{
		WorkspaceID: doc.WorkspaceID,
		FolderPath:  folderPath,
		DocumentID:  docID,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return chain.DocumentKey, nil
}

// decryptLog derives docID's document key and decrypts every record in
// records, returning their plaintexts concatenated in order.
func (m *Manager) decryptLog(ctx context.Context, docID, passphrase string, records []*store.UpdateRecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, nil
	}
	key, err := m.documentKey(ctx, docID, passphrase)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var diff []byte
	for _, rec := range records {
		plain, err := cryptoutil.DecryptUpdate(rec.Ciphertext, key)
		if err != nil {
			return nil, trace.Wrap(err, "decrypting update log entry %d", rec.Seq)
		}
		diff = append(diff, plain...)
	}
	return diff, nil
}

// sessionFor returns (creating if absent) docID's Session.
func (m *Manager) sessionFor(docID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[docID]
	if !ok {
		s = NewSession()
		m.sessions[docID] = s
	}
	return s
}

// AttachObserver registers docID as internally observed, returning false
// if an observer is already attached (a no-op second attempt per spec
// §4.H's duplicate-observer guard).
func (m *Manager) AttachObserver(docID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.observed[docID]; ok {
		return false
	}
	m.observed[docID] = struct{}{}
	return true
}

// DetachObserver clears docID's observer marker.
func (m *Manager) DetachObserver(docID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.observed, docID)
}

// IsObserved reports whether docID currently has an internal observer
// attached — used to gate the workspace-meta: safety-net broadcast path.
func (m *Manager) IsObserved(docID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.observed[docID]
	return ok
}

// Subscribe admits sub to docID's session and performs the sync handshake:
// the diff is the concatenation of every update log entry, framed as a
// single binary blob. The server does not parse state vectors (CRDT
// algebra is explicitly out of scope) so it always serves the full log;
// when a client's local state is empty this is exactly the full current
// state, matching spec §4.H.2. Log entries are decrypted under docID's
// document key (spec §4.A/§4.B) before being handed back.
func (m *Manager) Subscribe(ctx context.Context, docID, passphrase string, sub Subscriber) ([]byte, error) {
	session := m.sessionFor(docID)
	session.Subscribe(sub)

	records, err := m.facade.ListUpdates(ctx, docID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return m.decryptLog(ctx, docID, passphrase, records)
}

// Unsubscribe removes sub from docID's session.
func (m *Manager) Unsubscribe(docID string, sub Subscriber) {
	m.sessionFor(docID).Unsubscribe(sub)
}

// ApplyUpdate validates, encrypts, persists, and fans out a live update
// from origin, per spec §4.H.3. The update is sealed under docID's
// document key (spec §4.A) before it is appended to the log; every other
// subscriber still receives the original bytes verbatim — the server
// encrypts only what it persists, not what it relays live. The origin
// never receives its own echo.
func (m *Manager) ApplyUpdate(ctx context.Context, docID, passphrase string, origin Subscriber, data []byte, now time.Time) error {
	if !ValidUpdate(data) {
		return trace.BadParameter("update frame shorter than minimum length")
	}
	key, err := m.documentKey(ctx, docID, passphrase)
	if err != nil {
		return trace.Wrap(err)
	}
	ciphertext, err := cryptoutil.EncryptUpdate(data, key)
	if err != nil {
		return trace.Wrap(err)
	}
	if _, err := m.facade.AppendUpdate(ctx, docID, ciphertext, now); err != nil {
		return trace.Wrap(err)
	}
	m.sessionFor(docID).Broadcast(origin, data)
	metrics.UpdatesAppliedTotal.Inc()
	return nil
}

// ApplyAwareness fans out ephemeral awareness state without persisting it,
// per spec §4.H.4.
func (m *Manager) ApplyAwareness(docID string, origin Subscriber, data []byte) {
	m.sessionFor(docID).BroadcastAwareness(origin, data)
}

// Resync re-serves the full diff against a presented (opaque) state
// vector, for a client retrying the handshake after a suspected miss.
func (m *Manager) Resync(ctx context.Context, docID, passphrase string) ([]byte, error) {
	records, err := m.facade.ListUpdates(ctx, docID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return m.decryptLog(ctx, docID, passphrase, records)
}

// RetrySchedule returns the client resync retry intervals named in spec
// §4.H ("[15 s x 6]").
func RetrySchedule() []time.Duration {
	schedule := make([]time.Duration, retryAttempts)
	for i := range schedule {
		schedule[i] = retryInterval
	}
	return schedule
}
