package supervisor

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nahma/sidecar/internal/config"
)

func testConfig(t *testing.T, base int) *config.Config {
	t.Helper()
	cfg := &config.Config{
		MetaPort:  base,
		YjsPort:   base + 1,
		RelayPort: base + 2,
		HTTPPort:  base + 3,
		NoPersist: true,
	}
	require.NoError(t, cfg.CheckAndSetDefaults())
	return cfg
}

func TestStartBindsAllFourListeners(t *testing.T) {
	cfg := testConfig(t, 19081)
	s, err := New(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, s.Shutdown(shutdownCtx))
	}()

	resp, err := http.Get("http://127.0.0.1:19084/join/abc123")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	metricsResp, err := http.Get("http://127.0.0.1:19084/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	require.Equal(t, http.StatusOK, metricsResp.StatusCode)
}

func TestShutdownSucceedsWithNoConnections(t *testing.T) {
	cfg := testConfig(t, 19091)
	s, err := New(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(shutdownCtx))
}
