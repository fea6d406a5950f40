package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	require.NoError(t, config.Validate())
	assert.Equal(t, "development", config.Environment)
	assert.Positive(t, config.Scheduler.MaxConcurrentScans)
	assert.Positive(t, config.Crawler.MaxPagesPerScan)
	assert.NotEmpty(t, config.Crawler.UserAgent)
	assert.NotEmpty(t, config.Crawler.SavingsRatios)
	assert.LessOrEqual(t, config.Crawler.MinScrollSteps, config.Crawler.MaxScrollSteps)
}

func TestLoadFromFile(t *testing.T) {
	t.Run("File values override defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "imgsentry.toml")
		content := `
environment = "production"

[scheduler]
max_concurrent_scans = 5
cooldown_window = "3m0s"

[crawler]
max_pages_per_scan = 10
user_agent = "custom-agent/2.0"
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		config, err := LoadFromFile(path)
		require.NoError(t, err)

		assert.Equal(t, "production", config.Environment)
		assert.Equal(t, 5, config.Scheduler.MaxConcurrentScans)
		assert.Equal(t, 3*time.Minute, config.Scheduler.CooldownWindow)
		assert.Equal(t, 10, config.Crawler.MaxPagesPerScan)
		assert.Equal(t, "custom-agent/2.0", config.Crawler.UserAgent)

		// Untouched settings keep their defaults
		assert.Equal(t, NewDefaultConfig().Crawler.NavigationTimeout, config.Crawler.NavigationTimeout)
	})

	t.Run("Missing path uses defaults", func(t *testing.T) {
		config, err := LoadFromFile("")
		require.NoError(t, err)
		assert.Equal(t, NewDefaultConfig().Crawler.MaxPagesPerScan, config.Crawler.MaxPagesPerScan)
	})

	t.Run("Nonexistent file is an error", func(t *testing.T) {
		_, err := LoadFromFile("/nonexistent/imgsentry.toml")
		assert.Error(t, err)
	})

	t.Run("Environment variables override the file", func(t *testing.T) {
		t.Setenv("IMGSENTRY_MAX_PAGES_PER_SCAN", "7")
		t.Setenv("IMGSENTRY_LOG_LEVEL", "debug")

		config, err := LoadFromFile("")
		require.NoError(t, err)
		assert.Equal(t, 7, config.Crawler.MaxPagesPerScan)
		assert.Equal(t, "debug", config.Logging.Level)
	})

	t.Run("Invalid values fail validation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "imgsentry.toml")
		content := `
[scheduler]
max_concurrent_scans = 0
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		_, err := LoadFromFile(path)
		assert.Error(t, err)
	})
}
