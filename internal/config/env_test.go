package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnv_Defaults(t *testing.T) {
	t.Setenv("AUDITFLOW_API_KEY", "secret")

	env, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, "local", env.Env)
	assert.Equal(t, "3100", env.HTTPPort)
	assert.Equal(t, StoreMemory, env.StoreEnv.Type)
	assert.Equal(t, "local", env.StorageEnv.Type)
	assert.Equal(t, 400, env.LookaheadDays)
	assert.Equal(t, 5, env.TicketMaxAttempts)
	assert.Equal(t, slog.LevelDebug, env.SlogLevel())
}

func TestLoadEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing api key", map[string]string{}},
		{"postgres without url", map[string]string{"AUDITFLOW_STORE_TYPE": "postgres"}},
		{"unknown store", map[string]string{"AUDITFLOW_STORE_TYPE": "sqlite"}},
		{"zero lookahead", map[string]string{"AUDITFLOW_CALENDAR_LOOKAHEAD_DAYS": "0"}},
		{"zero attempts", map[string]string{"AUDITFLOW_TICKET_MAX_ATTEMPTS": "0"}},
		{"bad timezone", map[string]string{"AUDITFLOW_CALENDAR_TIMEZONE": "Mars/Olympus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name != "missing api key" {
				t.Setenv("AUDITFLOW_API_KEY", "secret")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadEnv()
			require.Error(t, err)
		})
	}
}

func TestLoadEnv_Postgres(t *testing.T) {
	t.Setenv("AUDITFLOW_API_KEY", "secret")
	t.Setenv("AUDITFLOW_STORE_TYPE", "postgres")
	t.Setenv("AUDITFLOW_DATABASE_URL", "postgres://localhost/auditflow")
	t.Setenv("AUDITFLOW_CALENDAR_TIMEZONE", "Asia/Tokyo")

	env, err := LoadEnv()
	require.NoError(t, err)
	loc, err := env.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", loc.String())
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, (&BaseEnv{LogLevel: "warn"}).SlogLevel())
	assert.Equal(t, slog.LevelError, (&BaseEnv{LogLevel: "ERROR"}).SlogLevel())
	assert.Equal(t, slog.LevelDebug, (&BaseEnv{LogLevel: "loud"}).SlogLevel())
	var nilEnv *BaseEnv
	assert.Equal(t, slog.LevelDebug, nilEnv.SlogLevel())
}

func TestStorageEnv_Config(t *testing.T) {
	e := StorageEnv{Type: "s3", S3Bucket: "docs", S3Prefix: "p/", S3Region: "us-east-1", S3UsePathStyle: true}
	cfg := e.Config()
	assert.Equal(t, "s3", cfg.Type)
	assert.Equal(t, "docs", cfg.S3Bucket)
	assert.Equal(t, "p/", cfg.S3Prefix)
	assert.True(t, cfg.S3UsePathStyle)
}
