package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/arguana-embed/internal/embeddings"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := GetDefaults()
	require.NoError(t, validateConfig(cfg))
	assert.Equal(t, "e5", cfg.Model.Name)
	assert.Equal(t, embeddings.DefaultBatchSize, cfg.Model.BatchSize)
	assert.Equal(t, "./training/model_checkpoints", cfg.Model.LoaderConfig().CheckpointDir)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
model:
  name: specterv2
  devices: "0,1"
  checkpoint: specter_arguana
  auto_batch: true
server:
  port: 9090
  rate_limit: 0
cache:
  enabled: true
  default_ttl: 1h
logging:
  level: debug
  format: console
`)

	cfg, err := LoadWith(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "specterv2", cfg.Model.Name)
	assert.Equal(t, "0,1", cfg.Model.Devices)
	assert.Equal(t, "specter_arguana", cfg.Model.Checkpoint)
	assert.True(t, cfg.Model.AutoBatch)
	assert.Equal(t, 30, cfg.Model.BatchSize, "unset keys keep defaults")
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, "arguana", cfg.Cache.KeyPrefix)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"*"}, cfg.WebSocket.AllowedOrigins)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ARGUANA_MODEL_NAME", "roberta")
	t.Setenv("ARGUANA_MODEL_BATCH_SIZE", "12")
	t.Setenv("ARGUANA_HUB_CACHE_DIR", "/models")
	t.Setenv("ARGUANA_SERVER_READ_TIMEOUT", "5s")

	cfg, err := LoadWith(viper.New(), writeConfig(t, "model:\n  name: e5\n"))
	require.NoError(t, err)

	assert.Equal(t, "roberta", cfg.Model.Name)
	assert.Equal(t, 12, cfg.Model.BatchSize)
	assert.Equal(t, "/models", cfg.Hub.CacheDir)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown model", "model:\n  name: bert-tiny\n"},
		{"bad devices", "model:\n  devices: \"0,x\"\n"},
		{"bad batch size", "model:\n  batch_size: 0\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"bad burst", "server:\n  rate_limit: 5\n  burst: 0\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"bad format", "logging:\n  format: xml\n"},
		{"cache without url", "cache:\n  enabled: true\n  redis_url: \"\"\n"},
		{"store without url", "store:\n  enabled: true\n  database_url: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWith(viper.New(), writeConfig(t, tt.content))
			assert.ErrorIs(t, err, embeddings.ErrConfigError)
		})
	}

	t.Run("unreadable file", func(t *testing.T) {
		_, err := LoadWith(viper.New(), writeConfig(t, "model: [unclosed\n"))
		assert.Error(t, err)
	})
}
