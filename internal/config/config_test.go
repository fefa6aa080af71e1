package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func missingDotenv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "none.env")
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load(missingDotenv(t))
	require.NoError(t, err)

	assert.Equal(t, "sharethrift.db", c.DBPath)
	assert.Equal(t, TransportMemory, c.Transport)
	assert.Equal(t, 5, c.MaxDeliveries)
	assert.Equal(t, 500*time.Millisecond, c.PollInterval)

	search := c.Search()
	assert.Equal(t, "listings", search.IndexName)
	assert.Equal(t, 3, search.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, search.Retry.BaseDelay)

	integration := c.Integration()
	assert.Equal(t, 4, integration.Workers)
	assert.Equal(t, time.Second, integration.Backoff.BaseDelay)

	level, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("SHARETHRIFT_TRANSPORT", "rabbitmq")
	t.Setenv("SHARETHRIFT_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("SHARETHRIFT_LOG_LEVEL", "debug")

	c, err := Load(missingDotenv(t))
	require.NoError(t, err)
	assert.Equal(t, TransportRabbitMQ, c.Transport)
	assert.Equal(t, 5, c.Search().Retry.MaxAttempts)
	assert.Equal(t, "sharethrift.events", c.RabbitMQ().Exchange)

	level, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_DotenvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SHARETHRIFT_INDEX_NAME=from_file\nSHARETHRIFT_WORKERS=9\n"), 0o600))
	t.Setenv("SHARETHRIFT_WORKERS", "2")
	// godotenv sets variables for the whole process
	t.Setenv("SHARETHRIFT_INDEX_NAME", "")
	require.NoError(t, os.Unsetenv("SHARETHRIFT_INDEX_NAME"))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from_file", c.IndexName)
	assert.Equal(t, 2, c.Workers)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"SHARETHRIFT_TRANSPORT":          "kafka",
		"SHARETHRIFT_WORKERS":            "0",
		"SHARETHRIFT_MAX_DELIVERIES":     "0",
		"SHARETHRIFT_RETRY_MAX_ATTEMPTS": "0",
		"SHARETHRIFT_LOG_LEVEL":          "loud",
		"SHARETHRIFT_POLL_INTERVAL":      "soon",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load(missingDotenv(t))
			assert.Error(t, err)
		})
	}
}
