// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration.
type Config struct {
	Port           string           `koanf:"port"`
	FrontendURL    string           `koanf:"frontend_url"`
	DBPath         string           `koanf:"db_path"`
	LogLevel       string           `koanf:"log_level"`
	TracingEnabled bool             `koanf:"tracing_enabled"`
	Backend        BackendConfig    `koanf:"backend"`
	ElevenLabs     ElevenLabsConfig `koanf:"elevenlabs"`
	Voice          VoiceConfig      `koanf:"voice"`
	Journal        JournalConfig    `koanf:"journal"`
	RateLimit      RateLimitConfig  `koanf:"rate_limit"`
}

// BackendConfig points at the onboarding REST API.
type BackendConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

// ElevenLabsConfig holds the conversational agent credentials. The API key
// never leaves the server; browsers only ever see signed URLs.
type ElevenLabsConfig struct {
	APIKey  string `koanf:"api_key"`
	AgentID string `koanf:"agent_id"`
	APIBase string `koanf:"api_base"`
	WSBase  string `koanf:"ws_base"`
	// SignedURLEndpoint is an external signed URL proxy for the voice
	// controller. Empty means sign in-process with APIKey.
	SignedURLEndpoint string `koanf:"signed_url_endpoint"`
}

// VoiceConfig controls the voice session lifecycle.
type VoiceConfig struct {
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	PendingVisitTTL time.Duration `koanf:"pending_visit_ttl"`
}

// JournalConfig controls the local sqlite transcript journal.
type JournalConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Retention time.Duration `koanf:"retention"`
	QueueSize int           `koanf:"queue_size"`
}

// RateLimitConfig bounds signed URL requests per client IP.
type RateLimitConfig struct {
	RequestsPerWindow int           `koanf:"requests_per_window"`
	WindowDuration    time.Duration `koanf:"window_duration"`
}

// envKeys maps environment variables onto koanf paths.
var envKeys = map[string]string{
	"PORT":                    "port",
	"FRONTEND_URL":            "frontend_url",
	"DB_PATH":                 "db_path",
	"LOG_LEVEL":               "log_level",
	"TRACING_ENABLED":         "tracing_enabled",
	"BACKEND_URL":             "backend.url",
	"BACKEND_TIMEOUT":         "backend.timeout",
	"ELEVENLABS_API_KEY":      "elevenlabs.api_key",
	"ELEVENLABS_AGENT_ID":     "elevenlabs.agent_id",
	"ELEVENLABS_API_BASE":     "elevenlabs.api_base",
	"ELEVENLABS_WS_BASE":      "elevenlabs.ws_base",
	"SIGNED_URL_ENDPOINT":     "elevenlabs.signed_url_endpoint",
	"VOICE_CONNECT_TIMEOUT":   "voice.connect_timeout",
	"VOICE_PENDING_VISIT_TTL": "voice.pending_visit_ttl",
	"JOURNAL_ENABLED":         "journal.enabled",
	"JOURNAL_RETENTION":       "journal.retention",
	"JOURNAL_QUEUE_SIZE":      "journal.queue_size",
	"RATE_LIMIT_REQUESTS":     "rate_limit.requests_per_window",
	"RATE_LIMIT_WINDOW":       "rate_limit.window_duration",
}

var defaults = map[string]any{
	"port":                           "8080",
	"db_path":                        "./data/onboarding.db",
	"log_level":                      "info",
	"backend.url":                    "http://localhost:8000/api/v1",
	"backend.timeout":                15 * time.Second,
	"elevenlabs.api_base":            "https://api.elevenlabs.io",
	"elevenlabs.ws_base":             "wss://api.elevenlabs.io/v1/convai/conversation",
	"voice.connect_timeout":          30 * time.Second,
	"voice.pending_visit_ttl":        10 * time.Minute,
	"journal.enabled":                true,
	"journal.retention":              30 * 24 * time.Hour,
	"journal.queue_size":             256,
	"rate_limit.requests_per_window": 10,
	"rate_limit.window_duration":     time.Minute,
}

// Load reads configuration from an optional YAML file (CONFIG_FILE) and
// environment variables. Environment variables win.
func Load() (*Config, error) {
	k := koanf.New(".")

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			if err := k.Set(key, value); err != nil {
				return nil, fmt.Errorf("set default %s: %w", key, err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("BACKEND_URL cannot be empty")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be > 0")
	}
	if c.Voice.ConnectTimeout <= 0 {
		return fmt.Errorf("VOICE_CONNECT_TIMEOUT must be > 0")
	}
	if c.Journal.QueueSize <= 0 {
		return fmt.Errorf("JOURNAL_QUEUE_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// ElevenLabsConfigured reports whether the signed URL proxy can work.
func (c *Config) ElevenLabsConfigured() bool {
	return c.ElevenLabs.APIKey != "" && c.ElevenLabs.AgentID != ""
}
