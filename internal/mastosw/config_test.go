package mastosw

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mastosw.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  origin: http://frontend:3000/\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "http://frontend:3000", cfg.Server.Origin)
	assert.Equal(t, "http://frontend:3000", cfg.Server.PublicURL)
	assert.Equal(t, "frontend:3000", cfg.Server.PageOrigin().Host)
	assert.Equal(t, DefaultCacheName, cfg.Cache.Name)
	assert.Equal(t, DefaultSeed, cfg.Cache.Seed)
	assert.Equal(t, int64(16<<20), cfg.Cache.maxEntryBytes)
	assert.Equal(t, "leveldb", cfg.Storage.Kind)
	assert.Equal(t, defaultStoragePath, cfg.Storage.Path)
	assert.Equal(t, "http://frontend:3000", cfg.API.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.API.timeoutDur)
	assert.Equal(t, DefaultIcon, cfg.Push.DefaultIcon)
	assert.Equal(t, FallbackTitle, cfg.Push.FallbackTitle)
	assert.Equal(t, FallbackBody, cfg.Push.FallbackBody)
	require.NotNil(t, cfg.Push.OpenWindow)
	assert.True(t, *cfg.Push.OpenWindow)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Zero(t, cfg.Logging.logStatsEveryDur)
}

func TestParseConfig_Overrides(t *testing.T) {
	cfg, err := parseConfig([]byte(`
server:
  port: 9000
  origin: http://frontend:3000
  publicURL: https://social.example/
cache:
  name: mastodon-pwa-v2
  seed: ["/", "/manifest.json"]
  maxEntry: 2mb
storage:
  kind: memory
api:
  baseURL: https://api.social.example
  timeout: 3s
push:
  openWindow: false
logging:
  level: debug
  logStatsEvery: 1m
`))
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "https://social.example", cfg.Server.PublicURL)
	assert.Equal(t, "mastodon-pwa-v2", cfg.Cache.Name)
	assert.Equal(t, []string{"/", "/manifest.json"}, cfg.Cache.Seed)
	assert.Equal(t, int64(2<<20), cfg.Cache.maxEntryBytes)
	assert.Equal(t, "memory", cfg.Storage.Kind)
	assert.Equal(t, "https://api.social.example", cfg.API.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.API.timeoutDur)
	assert.False(t, *cfg.Push.OpenWindow)
	assert.Equal(t, time.Minute, cfg.Logging.logStatsEveryDur)
}

func TestParseConfig_Errors(t *testing.T) {
	tests := map[string]string{
		"server.origin is required": "server:\n  port: 1\n",
		"cache.maxEntry":            "server:\n  origin: http://f\ncache:\n  maxEntry: huge\n",
		"cache.seed[0]":             "server:\n  origin: http://f\ncache:\n  seed: [relative]\n",
		"storage.kind":              "server:\n  origin: http://f\nstorage:\n  kind: redis\n",
		"api.timeout":               "server:\n  origin: http://f\napi:\n  timeout: soon\n",
		"server.publicURL":          "server:\n  origin: http://f\n  publicURL: /relative\n",
		"logging.logStatsEvery":     "server:\n  origin: http://f\nlogging:\n  logStatsEvery: often\n",
	}
	for want, doc := range tests {
		_, err := parseConfig([]byte(doc))
		require.Error(t, err, want)
		assert.Contains(t, err.Error(), want)
	}
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(LoggingConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger(LoggingConfig{Level: "chatty"})
	assert.Error(t, err)
}
