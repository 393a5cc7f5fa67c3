package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PUBLIC_WEBHOOK_URL", "https://bridge.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "ws://localhost:8765/asr", cfg.STTURL)
	assert.Equal(t, 1500*time.Millisecond, cfg.DebounceWindow)
	assert.Equal(t, 600*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 30, cfg.SeatCeiling)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PUBLIC_WEBHOOK_URL", "https://bridge.example.com")
	t.Setenv("PORT", "9000")
	t.Setenv("TURN_DEBOUNCE", "2s")
	t.Setenv("CALL_IDLE_TIMEOUT", "5m")
	t.Setenv("SEAT_CEILING", "12")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.DebounceWindow)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 12, cfg.SeatCeiling)
}

func TestLoadRequiresPublicURL(t *testing.T) {
	t.Setenv("PUBLIC_WEBHOOK_URL", "")

	_, err := Load()
	assert.ErrorContains(t, err, "PUBLIC_WEBHOOK_URL")
}

func TestLoadIgnoresMalformedOverrides(t *testing.T) {
	t.Setenv("PUBLIC_WEBHOOK_URL", "https://bridge.example.com")
	t.Setenv("TURN_DEBOUNCE", "soon")
	t.Setenv("SEAT_CEILING", "many")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.DebounceWindow)
	assert.Equal(t, 30, cfg.SeatCeiling)
}
