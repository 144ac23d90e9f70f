package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	cfg, err := LoadConfig(writeConfigFile(t, "environment: TEST\n"))
	require.NoError(t, err)

	assert.Equal(t, "TEST", cfg.Environment)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL)
	assert.Empty(t, cfg.Notifier.WebhookURL)
}

func TestLoadConfigTTLFallback(t *testing.T) {
	viper.Reset()
	cfg, err := LoadConfig(writeConfigFile(t, `
cache:
  default_ttl: 2m
  stats_ttl: 30s
notifier:
  webhook_url: http://hooks.local/notify
`))
	require.NoError(t, err)

	// actor_ttl is unset and inherits the cache-wide default
	assert.Equal(t, 2*time.Minute, cfg.Cache.ActorTTL)
	assert.Equal(t, 30*time.Second, cfg.Cache.StatsTTL)
	assert.Equal(t, "http://hooks.local/notify", cfg.Notifier.WebhookURL)
}
