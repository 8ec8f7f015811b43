// Package config loads the process's environment-driven configuration,
// per spec §6: three WebSocket listener ports, one HTTP adjunct port, the
// persistence mode, and the storage/identity directories.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gravitational/trace"
)

// Default listener ports (spec §6).
const (
	defaultMetaPort  = 8081
	defaultYjsPort   = 8080
	defaultRelayPort = 8082
	defaultHTTPPort  = 8083
)

// Config is the process's runtime configuration, loaded once at startup
// from the environment.
type Config struct {
	// MetaPort is the metadata broker's WebSocket listener port
	// (SIDECAR_META_PORT).
	MetaPort int
	// YjsPort is the CRDT/document relay's WebSocket listener port
	// (SIDECAR_YJS_PORT).
	YjsPort int
	// RelayPort is the P2P relay plane's WebSocket listener port
	// (RELAY_PORT).
	RelayPort int
	// HTTPPort is the minimal HTTP adjunct's listener port (PORT).
	HTTPPort int
	// NoPersist selects the in-memory store backend over bbolt
	// (NO_PERSIST=1).
	NoPersist bool
	// StorageDir is where the operational store's database file lives
	// (NAHMA_STORAGE_DIR).
	StorageDir string
	// HomeDir is where the encrypted identity blob lives, under
	// <HomeDir>/identity.json (NAHMA_HOME).
	HomeDir string
}

// Load reads Config from the process environment, applying the defaults
// of spec §6 for anything unset.
func Load() (*Config, error) {
	c := &Config{
		MetaPort:   envInt("SIDECAR_META_PORT", defaultMetaPort),
		YjsPort:    envInt("SIDECAR_YJS_PORT", defaultYjsPort),
		RelayPort:  envInt("RELAY_PORT", defaultRelayPort),
		HTTPPort:   envInt("PORT", defaultHTTPPort),
		NoPersist:  os.Getenv("NO_PERSIST") == "1",
		StorageDir: os.Getenv("NAHMA_STORAGE_DIR"),
		HomeDir:    os.Getenv("NAHMA_HOME"),
	}
	if err := c.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return c, nil
}

// CheckAndSetDefaults validates c and fills in any directory defaults that
// depend on the user's home directory.
func (c *Config) CheckAndSetDefaults() error {
	if c.MetaPort <= 0 || c.YjsPort <= 0 || c.RelayPort <= 0 || c.HTTPPort <= 0 {
		return trace.BadParameter("listener ports must be positive")
	}
	if c.MetaPort == c.YjsPort || c.MetaPort == c.RelayPort || c.YjsPort == c.RelayPort {
		return trace.BadParameter("listener ports must be distinct")
	}

	if c.HomeDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return trace.Wrap(err, "resolving default home directory")
		}
		c.HomeDir = filepath.Join(home, ".nahma")
	}
	if !c.NoPersist && c.StorageDir == "" {
		c.StorageDir = filepath.Join(c.HomeDir, "data")
	}
	return nil
}

// IdentityPath returns the path to the encrypted identity blob (spec §6's
// persisted layout).
func (c *Config) IdentityPath() string {
	return filepath.Join(c.HomeDir, "identity.json")
}

// StorePath returns the path to the operational store's database file.
// It is meaningless (and unused) when NoPersist is set.
func (c *Config) StorePath() string {
	return filepath.Join(c.StorageDir, "sidecar.db")
}

// String renders c for startup logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"meta=:%d yjs=:%d relay=:%d http=:%d noPersist=%v storageDir=%s homeDir=%s",
		c.MetaPort, c.YjsPort, c.RelayPort, c.HTTPPort, c.NoPersist, c.StorageDir, c.HomeDir,
	)
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
