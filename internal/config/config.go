package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the call relay.
type Config struct {
	BindAddr         string
	PublicURL        string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	OpenAIAPIKey        string
	OpenAIRealtimeURL   string
	OpenAIRealtimeModel string

	DatabaseURL string

	SettleDelay         time.Duration
	ResponseWatchdog    time.Duration
	ResponseMaxRetries  int
	AudioPacing         time.Duration
	FailedResponseDelay time.Duration
	PersistTimeout      time.Duration
	FunctionTimeout     time.Duration

	WeatherAPIURL string
}

// Load reads environment variables, after an optional .env file, and applies
// safe defaults.
func Load() (Config, error) {
	if err := LoadEnvFile(envOrDefault("APP_ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8081"),
		PublicURL:           strings.TrimRight(stringsTrimSpace("PUBLIC_URL"), "/"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "callrelay"),
		LogLevel:            strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(envOrDefault("LOG_FORMAT", "json")),
		OpenAIAPIKey:        stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIRealtimeURL:   envOrDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		OpenAIRealtimeModel: envOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-12-17"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		WeatherAPIURL:       envOrDefault("WEATHER_API_URL", "https://api.open-meteo.com/v1/forecast"),
		ShutdownTimeout:     15 * time.Second,
		SettleDelay:         100 * time.Millisecond,
		ResponseWatchdog:    5 * time.Second,
		AudioPacing:         20 * time.Millisecond,
		FailedResponseDelay: 500 * time.Millisecond,
		PersistTimeout:      5 * time.Second,
		FunctionTimeout:     30 * time.Second,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"RELAY_SETTLE_DELAY", &cfg.SettleDelay},
		{"RELAY_RESPONSE_WATCHDOG", &cfg.ResponseWatchdog},
		{"RELAY_AUDIO_PACING", &cfg.AudioPacing},
		{"RELAY_FAILED_RESPONSE_DELAY", &cfg.FailedResponseDelay},
		{"RELAY_PERSIST_TIMEOUT", &cfg.PersistTimeout},
		{"RELAY_FUNCTION_TIMEOUT", &cfg.FunctionTimeout},
	}
	for _, d := range durations {
		*d.dst, err = durationFromEnv(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
	}
	cfg.ResponseMaxRetries, err = intFromEnv("RELAY_RESPONSE_MAX_RETRIES", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", false)
	if err != nil {
		return Config{}, err
	}

	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.ResponseMaxRetries < 0 {
		return Config{}, fmt.Errorf("RELAY_RESPONSE_MAX_RETRIES must be >= 0")
	}
	if cfg.AudioPacing <= 0 {
		return Config{}, fmt.Errorf("RELAY_AUDIO_PACING must be positive")
	}
	if cfg.ResponseWatchdog < 100*time.Millisecond {
		return Config{}, fmt.Errorf("RELAY_RESPONSE_WATCHDOG must be at least 100ms")
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return Config{}, fmt.Errorf("LOG_FORMAT must be json or text")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
