package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/order101-console/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("API_BASE_URL", "")
	t.Setenv("BACKOFF_FLOOR", "")
	t.Setenv("BACKOFF_CEILING", "")
	t.Setenv("PORT", "")

	c := config.New()
	require.Equal(t, ":8081", c.GetPort())
	require.Equal(t, "http://localhost:8080", c.GetAPIBaseURL())
	require.Equal(t, "http://localhost:8080/api/v1/sse/notifications", c.GetStreamURL())
	require.Equal(t, 3*time.Second, c.GetBackoffFloor())
	require.Equal(t, 30*time.Second, c.GetBackoffCeiling())
	require.Equal(t, 20, c.GetNotificationPageSize())
	require.Equal(t, "/login", c.GetLoginPath())
}

func TestFileOverlay(t *testing.T) {
	t.Setenv("API_BASE_URL", "")
	t.Setenv("BACKOFF_FLOOR", "")
	t.Setenv("SESSION_BACKEND", "")

	path := filepath.Join(t.TempDir(), "console.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"api_base_url: https://order101.link/\n"+
			"BACKOFF_FLOOR: 1s\n"+
			"session_backend: redis\n"+
			"notification_page_size: 50\n"), 0o600))

	c, err := config.NewFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "https://order101.link", c.GetAPIBaseURL())
	require.Equal(t, time.Second, c.GetBackoffFloor())
	require.Equal(t, config.SessionBackendRedis, c.GetSessionBackend())
	require.Equal(t, 50, c.GetNotificationPageSize())

	t.Run("environment wins over file", func(t *testing.T) {
		t.Setenv("API_BASE_URL", "http://env.example")
		require.Equal(t, "http://env.example", c.GetAPIBaseURL())
	})
}

func TestCeilingNeverBelowFloor(t *testing.T) {
	t.Setenv("BACKOFF_FLOOR", "10s")
	t.Setenv("BACKOFF_CEILING", "5s")

	c := config.New()
	require.Equal(t, 10*time.Second, c.GetBackoffCeiling())
}

func TestAllowedOrigins(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	origins := config.New().GetAllowedOrigins()
	require.True(t, origins.IsAllowedOrigin("https://a.example"))
	require.True(t, origins.IsAllowedOrigin("https://b.example"))
	require.False(t, origins.IsAllowedOrigin("https://c.example"))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.NewFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
