package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "tally:updates", cfg.IngestChannel)
	assert.Equal(t, 100*time.Millisecond, cfg.ThrottleInterval)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 50, cfg.QueueCapacity)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.Equal(t, time.Second, cfg.ReconnectBaseDelay)
	assert.Equal(t, 50, cfg.MaxClientsPerTopic)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 5*time.Minute, cfg.MaxIdle)
}

func TestLoad_OptionalBackendsEmptyByDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.RedisURL)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "production")
	t.Setenv("THROTTLE_INTERVAL", "250ms")
	t.Setenv("BATCH_SIZE", "20")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("INGEST_CHANNEL", "votes:live")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "production", cfg.AppEnv)
	assert.Equal(t, 250*time.Millisecond, cfg.ThrottleInterval)
	assert.Equal(t, 20, cfg.BatchSize)
	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
	assert.Equal(t, "votes:live", cfg.IngestChannel)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		envKey  string
		value   string
		wantErr string
	}{
		{"empty port", "PORT", "", "PORT is required"},
		{"negative throttle", "THROTTLE_INTERVAL", "-1s", "THROTTLE_INTERVAL must be positive"},
		{"zero batch size", "BATCH_SIZE", "0", "BATCH_SIZE must be positive"},
		{"zero queue capacity", "QUEUE_CAPACITY", "0", "QUEUE_CAPACITY must be positive"},
		{"zero heartbeat", "HEARTBEAT_INTERVAL", "0s", "HEARTBEAT_INTERVAL must be positive"},
		{"zero reconnect attempts", "MAX_RECONNECT_ATTEMPTS", "0", "MAX_RECONNECT_ATTEMPTS must be positive"},
		{"zero max clients", "MAX_CLIENTS_PER_TOPIC", "0", "MAX_CLIENTS_PER_TOPIC must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.envKey, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}
