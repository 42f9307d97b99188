package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("TALKBASE_JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("TALKBASE_JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.AppPort)
	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, "talkbase:events", cfg.EventsChannel)
	require.Equal(t, 5*time.Minute, cfg.PresenceWindow)
	require.Equal(t, 50, cfg.HistoryPageSize)
	require.Equal(t, 32, cfg.SendBufferSize)
	require.Equal(t, 30*time.Second, cfg.PingInterval)
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("TALKBASE_JWT_SECRET", "secret")
	t.Setenv("TALKBASE_APP_PORT", "9090")
	t.Setenv("TALKBASE_PRESENCE_WINDOW", "2m")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.AppPort)
	require.Equal(t, 2*time.Minute, cfg.PresenceWindow)
}
