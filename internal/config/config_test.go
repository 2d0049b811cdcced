package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8081" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8081")
	}
	if cfg.SettleDelay != 100*time.Millisecond || cfg.ResponseWatchdog != 5*time.Second {
		t.Fatalf("relay timings = %v/%v, want 100ms/5s", cfg.SettleDelay, cfg.ResponseWatchdog)
	}
	if cfg.AudioPacing != 20*time.Millisecond || cfg.FailedResponseDelay != 500*time.Millisecond {
		t.Fatalf("pacing = %v, retry delay = %v", cfg.AudioPacing, cfg.FailedResponseDelay)
	}
	if cfg.ResponseMaxRetries != 0 {
		t.Fatalf("ResponseMaxRetries = %d, want 0", cfg.ResponseMaxRetries)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
	if cfg.LogFormat != "json" || cfg.LogLevel != "info" {
		t.Fatalf("log = %s/%s, want json/info", cfg.LogFormat, cfg.LogLevel)
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	setCoreEnvEmpty(t)
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want missing OPENAI_API_KEY")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"RELAY_RESPONSE_WATCHDOG":    "soon",
		"RELAY_RESPONSE_MAX_RETRIES": "-1",
		"APP_ALLOW_ANY_ORIGIN":       "maybe",
		"LOG_FORMAT":                 "xml",
		"RELAY_AUDIO_PACING":         "0s",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv("OPENAI_API_KEY", "sk-test")
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q error = nil, want error", key, value)
			}
		})
	}
}

func TestLoadEnvFileDoesNotOverride(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "relay.env")
	content := "# local dev\nOPENAI_API_KEY=\"sk-file\"\nexport PUBLIC_URL=https://relay.example.com/ # tunnel\nAPP_BIND_ADDR=:9000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("APP_ENV_FILE", path)
	t.Setenv("APP_BIND_ADDR", ":7000")
	// Keys the file sets must be restored after the test.
	t.Setenv("OPENAI_API_KEY", "")
	os.Unsetenv("OPENAI_API_KEY")
	t.Setenv("PUBLIC_URL", "")
	os.Unsetenv("PUBLIC_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenAIAPIKey != "sk-file" {
		t.Fatalf("OpenAIAPIKey = %q, want sk-file", cfg.OpenAIAPIKey)
	}
	if cfg.PublicURL != "https://relay.example.com" {
		t.Fatalf("PublicURL = %q, want trailing slash trimmed", cfg.PublicURL)
	}
	if cfg.BindAddr != ":7000" {
		t.Fatalf("BindAddr = %q, want real environment to win", cfg.BindAddr)
	}
}

func TestLoadEnvFileMissingIsIgnored(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("LoadEnvFile() error = %v", err)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_ENV_FILE",
		"APP_BIND_ADDR",
		"PUBLIC_URL",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"OPENAI_API_KEY",
		"OPENAI_REALTIME_URL",
		"OPENAI_REALTIME_MODEL",
		"DATABASE_URL",
		"RELAY_SETTLE_DELAY",
		"RELAY_RESPONSE_WATCHDOG",
		"RELAY_RESPONSE_MAX_RETRIES",
		"RELAY_AUDIO_PACING",
		"RELAY_FAILED_RESPONSE_DELAY",
		"RELAY_PERSIST_TIMEOUT",
		"RELAY_FUNCTION_TIMEOUT",
		"WEATHER_API_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
