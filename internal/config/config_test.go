package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"COINCAP_URL", "COINCAP_API_KEY", "COINCAP_RETRY_MAX", "COINCAP_RETRY_BASE_DELAY", "COINCAP_WS_URL",
	"STORE_DRIVER", "STORE_PATH", "DATABASE_URL", "STALE_AFTER", "REFRESH_INTERVAL", "REFRESH_CONCURRENCY",
	"STREAM_ENABLED", "STREAM_FLUSH_INTERVAL", "HTTP_PORT", "ADMIN_API_KEY", "EXPORT_XLSX_PATH",
	"SHEETS_SPREADSHEET_ID", "GOOGLE_CREDENTIALS_JSON", "LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	// Clear any env vars that might affect defaults
	for _, key := range allKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.CoinCapURL != "https://api.coincap.io/v2" {
		t.Errorf("CoinCapURL = %q, want default", cfg.CoinCapURL)
	}
	if cfg.CoinCapWSURL != "wss://ws.coincap.io/prices" {
		t.Errorf("CoinCapWSURL = %q, want default", cfg.CoinCapWSURL)
	}
	if cfg.CoinCapRetryMax != 3 {
		t.Errorf("CoinCapRetryMax = %d, want 3", cfg.CoinCapRetryMax)
	}
	if cfg.CoinCapRetryBaseDelay != 2*time.Second {
		t.Errorf("CoinCapRetryBaseDelay = %v, want 2s", cfg.CoinCapRetryBaseDelay)
	}
	if cfg.StoreDriver != DriverSQLite || cfg.StorePath != "tracker.db" {
		t.Errorf("store = %s %s, want sqlite tracker.db", cfg.StoreDriver, cfg.StorePath)
	}
	if cfg.StaleAfter != 5*time.Minute || cfg.RefreshInterval != 5*time.Minute {
		t.Errorf("StaleAfter = %v, RefreshInterval = %v, want 5m", cfg.StaleAfter, cfg.RefreshInterval)
	}
	if cfg.StreamEnabled {
		t.Error("StreamEnabled should default to false")
	}
	if cfg.StreamFlushInterval != 10*time.Second {
		t.Errorf("StreamFlushInterval = %v, want 10s", cfg.StreamFlushInterval)
	}
	if cfg.HTTPPort != "8080" {
		t.Errorf("HTTPPort = %q, want 8080", cfg.HTTPPort)
	}
	if cfg.LogLevel != slog.LevelInfo || cfg.LogFormat != "text" {
		t.Errorf("log = %v %s, want info text", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("COINCAP_URL", "https://rest.coincap.io/v3")
	t.Setenv("COINCAP_RETRY_MAX", "10")
	t.Setenv("COINCAP_RETRY_BASE_DELAY", "5s")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/testdb")
	t.Setenv("STALE_AFTER", "1m")
	t.Setenv("STREAM_ENABLED", "true")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg := Load()

	if cfg.CoinCapURL != "https://rest.coincap.io/v3" {
		t.Errorf("CoinCapURL = %q, want override", cfg.CoinCapURL)
	}
	if cfg.CoinCapRetryMax != 10 || cfg.CoinCapRetryBaseDelay != 5*time.Second {
		t.Errorf("retry = %d %v, want 10 5s", cfg.CoinCapRetryMax, cfg.CoinCapRetryBaseDelay)
	}
	if cfg.StoreDriver != DriverPostgres || cfg.DatabaseURL != "postgres://localhost/testdb" {
		t.Errorf("store = %s %q", cfg.StoreDriver, cfg.DatabaseURL)
	}
	if cfg.StaleAfter != time.Minute {
		t.Errorf("StaleAfter = %v, want 1m", cfg.StaleAfter)
	}
	if !cfg.StreamEnabled {
		t.Error("StreamEnabled should be true")
	}
	if cfg.HTTPPort != "9090" {
		t.Errorf("HTTPPort = %q, want 9090", cfg.HTTPPort)
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "json" {
		t.Errorf("log = %v %s, want debug json", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadInvalidEnvFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("COINCAP_RETRY_MAX", "not-a-number")
	t.Setenv("COINCAP_RETRY_BASE_DELAY", "invalid-duration")
	t.Setenv("STREAM_ENABLED", "sometimes")
	t.Setenv("STORE_DRIVER", "mongodb")
	t.Setenv("REFRESH_INTERVAL", "0s")
	t.Setenv("LOG_LEVEL", "loud")

	cfg := Load()

	if cfg.CoinCapRetryMax != 3 {
		t.Errorf("CoinCapRetryMax = %d, want default 3 on invalid input", cfg.CoinCapRetryMax)
	}
	if cfg.CoinCapRetryBaseDelay != 2*time.Second {
		t.Errorf("CoinCapRetryBaseDelay = %v, want default 2s on invalid input", cfg.CoinCapRetryBaseDelay)
	}
	if cfg.StreamEnabled {
		t.Error("StreamEnabled should fall back to false")
	}
	if cfg.StoreDriver != DriverSQLite {
		t.Errorf("StoreDriver = %q, want sqlite", cfg.StoreDriver)
	}
	if cfg.RefreshInterval != 5*time.Minute {
		t.Errorf("RefreshInterval = %v, want 5m", cfg.RefreshInterval)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("HTTP_PORT=7070\nSTORE_DRIVER=memory\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STORE_DRIVER", "sqlite")

	LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env"))
	t.Cleanup(func() { os.Unsetenv("HTTP_PORT") })

	cfg := Load()
	if cfg.HTTPPort != "7070" {
		t.Errorf("HTTPPort = %q, want 7070 from file", cfg.HTTPPort)
	}
	if cfg.StoreDriver != DriverSQLite {
		t.Errorf("StoreDriver = %q, env should win over file", cfg.StoreDriver)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{LogLevel: slog.LevelWarn, LogFormat: "json"}
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"key":"value"`) {
		t.Errorf("json output = %s", out)
	}
}
