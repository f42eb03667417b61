package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"browserd/internal/config"
)

func TestDefaultConfigMatchesDocumentedBounds(t *testing.T) {
	cfg := config.DefaultConfig()
	require.Equal(t, 10, cfg.MaxSessions)
	require.Equal(t, 20, cfg.MaxPagesPerSession)
	require.Equal(t, time.Hour, cfg.SessionIdleTimeout)
	require.Equal(t, 5*time.Minute, cfg.IdleSweepInterval)
	require.Equal(t, 30*time.Second, cfg.DefaultCommandTimeout)
	require.Equal(t, 10*time.Second, cfg.ShutdownGrace)
	require.True(t, cfg.AllowJSFallback)
	require.Equal(t, "", cfg.VisionAPIKey)
	require.Equal(t, "gemini-2.5-flash", cfg.VisionModel)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("MAX_SESSIONS", "3")
	t.Setenv("SESSION_IDLE_TIMEOUT_SEC", "7")
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOW_JS_FALLBACK", "false")
	t.Setenv("API_KEY", "secret")
	t.Setenv("VISION_API_KEY", "vision-secret")
	t.Setenv("VISION_MODEL", "gemini-2.5-pro")

	cfg := config.Load()
	require.Equal(t, 3, cfg.MaxSessions)
	require.Equal(t, 7*time.Second, cfg.SessionIdleTimeout)
	require.Equal(t, 9090, cfg.Port)
	require.False(t, cfg.AllowJSFallback)
	require.Equal(t, "secret", cfg.APIKey)
	require.Equal(t, "vision-secret", cfg.VisionAPIKey)
	require.Equal(t, "gemini-2.5-pro", cfg.VisionModel)
}

func TestLoadIgnoresUnparsableInts(t *testing.T) {
	t.Setenv("MAX_SESSIONS", "not-a-number")
	cfg := config.Load()
	require.Equal(t, config.DefaultConfig().MaxSessions, cfg.MaxSessions)
}
