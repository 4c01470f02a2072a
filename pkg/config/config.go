package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/leadline/pkg/crm"
)

type LogFormat string

const (
	LogFormatAuto LogFormat = "auto"
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	Addr string

	// Speech service.
	GeminiAPIKey string

	// CRM backend.
	CRMBaseURL string
	CRMTimeout time.Duration

	// Agent profile (YAML or JSON); empty uses the built-in persona.
	ProfilePath string

	// Audio devices.
	InputWAV      string
	Headless      bool
	RecordDir     string
	DecodeWorkers int

	// Console websocket.
	WSPingInterval time.Duration
	WSWriteTimeout time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration

	LogFormat LogFormat
	LogLevel  slog.Level
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("LEADLINE_ADDR", "127.0.0.1:8080"),
		GeminiAPIKey:        firstEnv("LEADLINE_GEMINI_API_KEY", "GEMINI_API_KEY", "API_KEY"),
		CRMBaseURL:          envOr("LEADLINE_CRM_BASE_URL", crm.DefaultBaseURL),
		CRMTimeout:          envDurationOr("LEADLINE_CRM_TIMEOUT", 15*time.Second),
		ProfilePath:         envOr("LEADLINE_PROFILE", ""),
		InputWAV:            envOr("LEADLINE_INPUT_WAV", ""),
		Headless:            envBoolOr("LEADLINE_HEADLESS", false),
		RecordDir:           envOr("LEADLINE_RECORD_DIR", ""),
		DecodeWorkers:       envIntOr("LEADLINE_DECODE_WORKERS", 2),
		WSPingInterval:      envDurationOr("LEADLINE_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:      envDurationOr("LEADLINE_WS_WRITE_TIMEOUT", 5*time.Second),
		ReadHeaderTimeout:   envDurationOr("LEADLINE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("LEADLINE_SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		LogFormat:           LogFormat(strings.ToLower(envOr("LEADLINE_LOG_FORMAT", string(LogFormatAuto)))),
	}

	switch cfg.LogFormat {
	case LogFormatAuto, LogFormatText, LogFormatJSON:
	default:
		return Config{}, fmt.Errorf("LEADLINE_LOG_FORMAT must be one of auto|text|json")
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(envOr("LEADLINE_LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("LEADLINE_LOG_LEVEL must be one of debug|info|warn|error")
	}

	if strings.TrimSpace(cfg.Addr) == "" {
		return Config{}, fmt.Errorf("LEADLINE_ADDR must not be empty")
	}
	if !strings.HasPrefix(cfg.CRMBaseURL, "http://") && !strings.HasPrefix(cfg.CRMBaseURL, "https://") {
		return Config{}, fmt.Errorf("LEADLINE_CRM_BASE_URL must be an http(s) URL")
	}
	if cfg.CRMTimeout <= 0 {
		return Config{}, fmt.Errorf("LEADLINE_CRM_TIMEOUT must be > 0")
	}
	if cfg.DecodeWorkers <= 0 {
		return Config{}, fmt.Errorf("LEADLINE_DECODE_WORKERS must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("LEADLINE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("LEADLINE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("LEADLINE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("LEADLINE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.InputWAV != "" {
		if _, err := os.Stat(cfg.InputWAV); err != nil {
			return Config{}, fmt.Errorf("LEADLINE_INPUT_WAV: %w", err)
		}
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
