package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Debug)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.RageQuitAllowance)
	assert.Equal(t, 120*time.Second, cfg.DisconnectAllowance)
	assert.Equal(t, 60*time.Second, cfg.WaitExtension)
	assert.Equal(t, 25*time.Second, cfg.HeartbeatInterval)
	assert.True(t, cfg.BanExhaustionEnds)

	// The heartbeat must beat faster than the transport gives up.
	assert.Less(t, cfg.HeartbeatInterval, cfg.TransportTimeout)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("API_KEYS", "alpha,beta")
	t.Setenv("DISCONNECT_ALLOWANCE", "90s")
	t.Setenv("BAN_EXHAUSTION_ENDS", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 90*time.Second, cfg.DisconnectAllowance)
	assert.False(t, cfg.GameConfig().BanExhaustionEnds)
	require.Len(t, cfg.APIKeys, 2)
	assert.Equal(t, "alpha", cfg.APIKeys[0])
}

func TestSubConfigMapping(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, cfg.RageQuitAllowance, cfg.StoreConfig().RageQuitAllowance)
	assert.Equal(t, cfg.SweepInterval, cfg.AbandonConfig().SweepInterval)
	assert.Equal(t, cfg.ClassificationWindow, cfg.PresenceConfig().ClassificationWindow)
}
