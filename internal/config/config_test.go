package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 4, cfg.MaxPlayersPerRoom)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 3*time.Minute, cfg.ReconnectWindow)
	assert.Greater(t, cfg.DisconnectTimeout, cfg.HeartbeatInterval,
		"a session must survive at least one missed sweep")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MAX_ROOMS", "7")
	t.Setenv("RECONNECT_WINDOW", "90s")

	cfg := Load()
	assert.Equal(t, 7, cfg.MaxRooms)
	assert.Equal(t, 90*time.Second, cfg.ReconnectWindow)
}

func TestMalformedEnvFallsBack(t *testing.T) {
	t.Setenv("MAX_ROOMS", "not-a-number")
	t.Setenv("HEARTBEAT_INTERVAL", "soon")

	cfg := Load()
	assert.Equal(t, 256, cfg.MaxRooms)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
}
