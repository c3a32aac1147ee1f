package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("API_KEY", "secret")
	t.Setenv("HASS_URL", "http://homeassistant.local:8123")
	t.Setenv("HASS_TOKEN", "token")
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		setRequired(t)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, 100, cfg.RateLimit)
		assert.Equal(t, "ws://homeassistant.local:8123/api/websocket", cfg.HassURL)
		assert.Equal(t, 5*time.Second, cfg.HassReconnectDelay)
		assert.Equal(t, 10*time.Second, cfg.HassRequestTimeout)
		assert.Equal(t, "notify", cfg.NotifyDomain)
		assert.Equal(t, "mobile_app", cfg.NotifyService)
		assert.True(t, cfg.PersistEntries())
		assert.False(t, cfg.AllowInsecureHTTP)
	})
	t.Run("overrides", func(t *testing.T) {
		setRequired(t)
		t.Setenv("PORT", "9000")
		t.Setenv("VERBOSE_LOGGING", "1")
		t.Setenv("NOTIFY_SERVICE", "mobile_app_pixel")
		t.Setenv("STORAGE_PATH", "")
		t.Setenv("ALLOW_INSECURE_HTTP", "true")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 9000, cfg.Port)
		assert.True(t, cfg.VerboseLogging)
		assert.Equal(t, "mobile_app_pixel", cfg.NotifyService)
		assert.False(t, cfg.PersistEntries())
		assert.True(t, cfg.AllowInsecureHTTP)
	})
	t.Run("missing api key", func(t *testing.T) {
		setRequired(t)
		t.Setenv("API_KEY", "")

		_, err := Load()
		require.Error(t, err)
	})
	t.Run("missing token", func(t *testing.T) {
		setRequired(t)
		t.Setenv("HASS_TOKEN", "")

		_, err := Load()
		require.Error(t, err)
	})
}

func TestWebsocketURL(t *testing.T) {
	assert.Equal(t, "ws://ha:8123/api/websocket", WebsocketURL("http://ha:8123"))
	assert.Equal(t, "wss://ha.example.com/api/websocket", WebsocketURL("https://ha.example.com/"))
	assert.Equal(t, "ws://ha:8123/api/websocket", WebsocketURL("ws://ha:8123/api/websocket"))
	assert.Equal(t, "not a url", WebsocketURL("not a url"))
}
