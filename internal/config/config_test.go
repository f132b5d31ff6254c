package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "")
	t.Setenv("SHIFT_LOCK_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, 90, cfg.Shift.LunchBreakMinutes)
	assert.Equal(t, 5*time.Second, cfg.Shift.LockTimeout)
	assert.Empty(t, cfg.Redis.Host)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("SHIFT_MAX_GPS_ACCURACY_METERS", "25.5")
	t.Setenv("CRON_STATE_RECOVERY_INTERVAL", "1m")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, 25.5, cfg.Shift.MaxGPSAccuracyMeters)
	assert.Equal(t, time.Minute, cfg.Cron.StateRecoveryInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.App.AllowedOrigins)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"bad port", "APP_PORT", "eighty"},
		{"bad duration", "SHIFT_LOCK_TIMEOUT", "soon"},
		{"unknown driver", "STORAGE_DRIVER", "mongo"},
		{"postgres without password", "STORAGE_DRIVER", "postgres"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DB_PASSWORD", "")
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
