package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultCacheSize bounds the number of derivation chains kept in
	// memory at once.
	DefaultCacheSize = 256
	// DefaultCacheTTL bounds how long a cached chain survives before a
	// fresh derivation is forced, limiting how long key material used to
	// derive it stays reachable in the cache.
	DefaultCacheTTL = 10 * time.Minute
)

type cacheEntry struct {
	chain    Chain
	cachedAt time.Time
}

// Cache memoizes DeriveKeyChain results keyed on (password hash, path), so
// repeated derivations for the same passphrase+path within a short window
// skip the memory-hard Argon2id pass. The cache never stores the raw
// passphrase, only a hash of it, and entries expire after TTL regardless
// of access pattern.
type Cache struct {
	mu    sync.Mutex
	lru   *lru.Cache
	clock clockwork.Clock
	ttl   time.Duration
}

// NewCache builds a Cache bounded to size entries with the given TTL. A
// size or ttl of zero falls back to the package defaults.
func NewCache(size int, ttl time.Duration) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	l, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l, clock: clockwork.NewRealClock(), ttl: ttl}, nil
}

// WithClock overrides the cache's clock, for deterministic TTL tests.
func (c *Cache) WithClock(clock clockwork.Clock) *Cache {
	c.clock = clock
	return c
}

func cacheKey(passphrase string, path Path) string {
	sum := sha256.Sum256([]byte(passphrase))
	var b strings.Builder
	b.WriteString(hex.EncodeToString(sum[:]))
	b.WriteByte('|')
	b.WriteString(path.WorkspaceID)
	b.WriteByte('|')
	b.WriteString(strings.Join(path.FolderPath, "/"))
	b.WriteByte('|')
	b.WriteString(path.DocumentID)
	return b.String()
}

// Derive returns DeriveKeyChain(passphrase, path), serving a cached result
// when one exists and has not exceeded the cache's TTL.
func (c *Cache) Derive(passphrase string, path Path) (Chain, error) {
	key := cacheKey(passphrase, path)

	c.mu.Lock()
	if v, ok := c.lru.Get(key); ok {
		entry := v.(cacheEntry)
		if c.clock.Now().Sub(entry.cachedAt) < c.ttl {
			c.mu.Unlock()
			return entry.chain, nil
		}
		c.lru.Remove(key)
	}
	c.mu.Unlock()

	chain, err := DeriveKeyChain(passphrase, path)
	if err != nil {
		return Chain{}, err
	}

	c.mu.Lock()
	c.lru.Add(key, cacheEntry{chain: chain, cachedAt: c.clock.Now()})
	c.mu.Unlock()

	return chain, nil
}
