package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "https://neal.fun/api/infinite-craft", cfg.API.BaseURL)
	assert.Equal(t, "csv", cfg.Data.Backend)
	assert.Equal(t, 15, cfg.Crawler.Workers)
	assert.Equal(t, 14, cfg.API.RateBurst)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
api:
  transport: browser
  timeout: 20s
data:
  backend: sqlite
  dir: /tmp/craft
crawler:
  workers: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "browser", cfg.API.Transport)
	assert.Equal(t, "sqlite", cfg.Data.Backend)
	assert.Equal(t, "/tmp/craft", cfg.Data.Dir)
	assert.Equal(t, 4, cfg.Crawler.Workers)
	assert.Equal(t, 20*time.Second, cfg.RequestTimeout())
	// untouched sections keep their defaults
	assert.Equal(t, 14, cfg.API.RateBurst)
	assert.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CRAFTBOT_DATA_DIR", "/data/elsewhere")
	t.Setenv("CRAFTBOT_WORKERS", "3")
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/data/elsewhere", cfg.Data.Dir)
	assert.Equal(t, 3, cfg.Crawler.Workers)
	assert.Equal(t, "test-key", cfg.Embedding.GenAIAPIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Data.Backend = "postgres"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.API.Transport = "carrier-pigeon"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Crawler.Workers = 0
	assert.Error(t, cfg.Validate())
}

func TestParseFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.Timeout = "garbage"
	cfg.API.RatePeriod = ""

	assert.Equal(t, 10*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 3*time.Second, cfg.RatePeriod())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Data.Backend = "json"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "json", loaded.Data.Backend)
}
