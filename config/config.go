// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For optional features (Twitch mirror, event archive), use the Validate helpers.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Relay listener
	RelayAddr        string
	RelayChannel     string
	HandshakeTimeout time.Duration
	ConnQueueSize    int

	// Ingest
	IngestQueueSize      int
	IngestPublishTimeout time.Duration
	IgnoreHeartbeat      bool
	HeartbeatPing        bool

	// bilibili
	BiliRoomIDs    []string
	BiliCookiePath string

	// Twitch mirror
	TwitchChannel     string
	TwitchBotUsername string
	TwitchOAuthToken  string

	// HTTP surface
	HTTPAddr string

	// Database (optional archive)
	DBDsn string
}

// Load reads environment variables and applies defaults. It doesn't fail when
// optional features are unconfigured; missing variables disable them (Twitch
// mirror, archive). It does fail on values that cannot parse.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.RelayAddr = getenvDefault("RELAY_ADDR", ":6667")
	cfg.RelayChannel = getenvDefault("RELAY_CHANNEL", "#relay")
	if !strings.HasPrefix(cfg.RelayChannel, "#") {
		cfg.RelayChannel = "#" + cfg.RelayChannel
	}
	cfg.RelayChannel = strings.ToLower(cfg.RelayChannel)

	var err error
	if cfg.HandshakeTimeout, err = getenvDuration("HANDSHAKE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ConnQueueSize, err = getenvInt("CONN_QUEUE_SIZE", 64); err != nil {
		return nil, err
	}
	if cfg.IngestQueueSize, err = getenvInt("INGEST_QUEUE_SIZE", 256); err != nil {
		return nil, err
	}
	if cfg.IngestPublishTimeout, err = getenvDuration("INGEST_PUBLISH_TIMEOUT", 250*time.Millisecond); err != nil {
		return nil, err
	}
	cfg.IgnoreHeartbeat = getenvBool("IGNORE_HEARTBEAT")
	cfg.HeartbeatPing = getenvBool("HEARTBEAT_PING")

	if v := os.Getenv("BILI_ROOM_IDS"); v != "" {
		for _, id := range strings.Split(v, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, err := strconv.Atoi(id); err != nil {
				return nil, fmt.Errorf("invalid BILI_ROOM_IDS entry %q: %w", id, err)
			}
			cfg.BiliRoomIDs = append(cfg.BiliRoomIDs, id)
		}
	}
	cfg.BiliCookiePath = os.Getenv("BILI_COOKIE_PATH")

	cfg.TwitchChannel = os.Getenv("TWITCH_CHANNEL")
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")
	cfg.DBDsn = os.Getenv("DB_DSN")

	return cfg, nil
}

// ValidateMirrorReady checks required fields when the authenticated Twitch
// mirror is wanted. The mirror also runs anonymously with just TWITCH_CHANNEL.
func (c *Config) ValidateMirrorReady() error {
	if c.TwitchChannel == "" || c.TwitchBotUsername == "" || c.TwitchOAuthToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNEL, TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN")
	}
	return nil
}

// ArchiveEnabled reports whether the optional event archive is configured.
func (c *Config) ArchiveEnabled() bool { return c.DBDsn != "" }

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want positive duration", key, v)
	}
	return d, nil
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want positive integer", key, v)
	}
	return n, nil
}

func getenvBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
