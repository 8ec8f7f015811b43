package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SIDECAR_META_PORT", "SIDECAR_YJS_PORT", "RELAY_PORT", "PORT",
		"NO_PERSIST", "NAHMA_STORAGE_DIR", "NAHMA_HOME",
	} {
		old, had := os.LookupEnv(key)
		os.Unsetenv(key)
		t.Cleanup(func() {
			if had {
				os.Setenv(key, old)
			}
		})
	}
}

func TestLoadAppliesDefaultPorts(t *testing.T) {
	clearEnv(t)
	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, defaultMetaPort, c.MetaPort)
	require.Equal(t, defaultYjsPort, c.YjsPort)
	require.Equal(t, defaultRelayPort, c.RelayPort)
	require.Equal(t, defaultHTTPPort, c.HTTPPort)
	require.False(t, c.NoPersist)
}

func TestLoadRejectsCollidingPorts(t *testing.T) {
	clearEnv(t)
	os.Setenv("SIDECAR_META_PORT", "9000")
	os.Setenv("RELAY_PORT", "9000")
	_, err := Load()
	require.Error(t, err)
}

func TestNoPersistSkipsStorageDirDefault(t *testing.T) {
	clearEnv(t)
	os.Setenv("NO_PERSIST", "1")
	os.Setenv("NAHMA_HOME", "/tmp/nahma-test-home")
	c, err := Load()
	require.NoError(t, err)
	require.True(t, c.NoPersist)
	require.Empty(t, c.StorageDir)
}

func TestIdentityAndStorePathsAreUnderHomeDir(t *testing.T) {
	clearEnv(t)
	os.Setenv("NAHMA_HOME", "/tmp/nahma-test-home")
	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/tmp/nahma-test-home/identity.json", c.IdentityPath())
	require.Equal(t, "/tmp/nahma-test-home/data/sidecar.db", c.StorePath())
}
