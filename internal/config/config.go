// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Feed formats.
const (
	FormatJSON = "json"
	FormatRSS  = "rss"
)

// Seen-state backends.
const (
	BackendSQLite = "sqlite"
	BackendGCS    = "gcs"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	APIURL           string
	FeedFormat       string
	DatabasePath     string
	LogLevel         string
	AllowedUsers     []int64
	ChatIDs          []string

	SeenBackend   string
	StorageBucket string
	SeenObject    string

	Schedule     string
	HTTPAddr     string
	FetchTimeout time.Duration
	SendWorkers  int

	OTel OTel
}

// OTel configures trace export.
type OTel struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	apiURL := strings.TrimSpace(os.Getenv("API_URL"))
	if apiURL == "" {
		return nil, fmt.Errorf("API_URL is required")
	}

	format := strings.ToLower(envString("FEED_FORMAT", FormatJSON))
	if format != FormatJSON && format != FormatRSS {
		return nil, fmt.Errorf("invalid FEED_FORMAT %q (expected json or rss)", format)
	}

	var allowedUsers []int64
	for _, s := range splitList(os.Getenv("ALLOWED_USERS")) {
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		allowedUsers = append(allowedUsers, uid)
	}

	backend := strings.ToLower(envString("SEEN_BACKEND", BackendSQLite))
	bucket := strings.TrimSpace(os.Getenv("STORAGE_BUCKET"))
	switch backend {
	case BackendSQLite:
	case BackendGCS:
		if bucket == "" {
			return nil, fmt.Errorf("STORAGE_BUCKET is required when SEEN_BACKEND=gcs")
		}
	default:
		return nil, fmt.Errorf("invalid SEEN_BACKEND %q (expected sqlite or gcs)", backend)
	}

	fetchTimeout, err := envDuration("FETCH_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	workers, err := envInt("SEND_WORKERS", 0)
	if err != nil {
		return nil, err
	}
	if workers < 0 {
		return nil, fmt.Errorf("SEND_WORKERS must not be negative, got %d", workers)
	}

	otelCfg, err := loadOTel()
	if err != nil {
		return nil, err
	}

	return &Config{
		TelegramBotToken: token,
		APIURL:           apiURL,
		FeedFormat:       format,
		DatabasePath:     envString("DATABASE_PATH", "./data/bot.db"),
		LogLevel:         envString("LOG_LEVEL", "info"),
		AllowedUsers:     allowedUsers,
		ChatIDs:          splitList(os.Getenv("CHAT_IDS")),
		SeenBackend:      backend,
		StorageBucket:    bucket,
		SeenObject:       envString("SEEN_OBJECT", "settings/seen_events.json"),
		Schedule:         strings.TrimSpace(os.Getenv("SCHEDULE")),
		HTTPAddr:         envString("HTTP_ADDR", ":8080"),
		FetchTimeout:     fetchTimeout,
		SendWorkers:      workers,
		OTel:             otelCfg,
	}, nil
}

func loadOTel() (OTel, error) {
	enabled, err := envBool("OTEL_ENABLED", false)
	if err != nil {
		return OTel{}, err
	}
	insecure, err := envBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	if err != nil {
		return OTel{}, err
	}
	ratio := 1.0
	if raw := strings.TrimSpace(os.Getenv("OTEL_SAMPLE_RATIO")); raw != "" {
		ratio, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return OTel{}, fmt.Errorf("invalid OTEL_SAMPLE_RATIO %q: %w", raw, err)
		}
	}
	return OTel{
		Enabled:     enabled,
		ServiceName: envString("OTEL_SERVICE_NAME", "ticket-bot"),
		Endpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		Insecure:    insecure,
		SampleRatio: min(max(ratio, 0), 1),
	}, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envBool(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
