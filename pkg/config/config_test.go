package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tapestry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7420", cfg.Server.Listen)
	assert.Equal(t, "bolt", cfg.KV.Backend)
	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.Equal(t, 0.9, cfg.Observer.AutoMergeThreshold)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: "0.0.0.0:9000"
  requestTimeout: "45s"
kv:
  backend: redis
  redis:
    addr: "127.0.0.1:6379"
log:
  level: debug
  json: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
	assert.Equal(t, float64(45), cfg.Server.RequestTimeout.Seconds())
	assert.Equal(t, "redis", cfg.KV.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, "local", cfg.Blob.Backend)
	assert.Equal(t, 128, cfg.RAG.CacheSize)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TAPESTRY_TEST_LISTEN", "127.0.0.1:8123")
	path := writeConfig(t, `
server:
  listen: "${TAPESTRY_TEST_LISTEN}"
data:
  dir: "${TAPESTRY_TEST_DIR:-/tmp/tapestry}"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8123", cfg.Server.Listen)
	assert.Equal(t, "/tmp/tapestry", cfg.Data.Dir)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad kv backend", "kv:\n  backend: etcd\n"},
		{"redis without addr", "kv:\n  backend: redis\n"},
		{"s3 without bucket", "blob:\n  backend: s3\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"bad duration", "server:\n  listen: \"127.0.0.1:7420\"\n  requestTimeout: \"soon\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.True(t, errdefs.Is(err, errdefs.KindInvalidInput))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, errdefs.Is(err, errdefs.KindNotFound))
}
