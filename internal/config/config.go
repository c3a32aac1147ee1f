package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           int
	APIKey         string
	VerboseLogging bool
	RateLimit      int
	// AllowInsecureHTTP accepts the API key over plain HTTP from non-local
	// clients. Off by default.
	AllowInsecureHTTP bool

	HassURL            string
	HassToken          string
	HassReconnectDelay time.Duration
	HassRequestTimeout time.Duration

	NotifyDomain  string
	NotifyService string

	StoragePath string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnvInt("PORT", 8080),
		APIKey:         os.Getenv("API_KEY"),
		VerboseLogging: getEnvBool("VERBOSE_LOGGING", false),
		RateLimit:      getEnvInt("RATE_LIMIT", 100),

		AllowInsecureHTTP: getEnvBool("ALLOW_INSECURE_HTTP", false),

		HassURL:            os.Getenv("HASS_URL"),
		HassToken:          os.Getenv("HASS_TOKEN"),
		HassReconnectDelay: time.Duration(getEnvInt("HASS_RECONNECT_DELAY_MS", 5000)) * time.Millisecond,
		HassRequestTimeout: time.Duration(getEnvInt("HASS_REQUEST_TIMEOUT_MS", 10000)) * time.Millisecond,

		NotifyDomain:  getEnvString("NOTIFY_DOMAIN", "notify"),
		NotifyService: getEnvString("NOTIFY_SERVICE", "mobile_app"),

		StoragePath: getEnvString("STORAGE_PATH", "./data/notitap.db"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.HassURL = WebsocketURL(cfg.HassURL)

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY environment variable is required")
	}
	if c.HassURL == "" {
		return fmt.Errorf("HASS_URL environment variable is required")
	}
	if _, err := url.Parse(c.HassURL); err != nil {
		return fmt.Errorf("invalid HASS_URL: %w", err)
	}
	if c.HassToken == "" {
		return fmt.Errorf("HASS_TOKEN environment variable is required")
	}
	if c.NotifyDomain == "" || c.NotifyService == "" {
		return fmt.Errorf("NOTIFY_DOMAIN and NOTIFY_SERVICE must not be empty")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT must be positive, got %d", c.RateLimit)
	}
	return nil
}

func (c *Config) PersistEntries() bool {
	return c.StoragePath != ""
}

// WebsocketURL turns a Home Assistant base URL (http://host:8123) into the
// websocket API endpoint. URLs that already point at a websocket are kept.
func WebsocketURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return raw
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	if !strings.HasSuffix(u.Path, "/api/websocket") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/api/websocket"
	}

	return u.String()
}

func getEnvString(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
