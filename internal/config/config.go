package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	CoinCapURL            string
	CoinCapAPIKey         string
	CoinCapRetryMax       int
	CoinCapRetryBaseDelay time.Duration
	CoinCapWSURL          string

	StoreDriver string
	StorePath   string
	DatabaseURL string

	StaleAfter         time.Duration
	RefreshInterval    time.Duration
	RefreshConcurrency int

	StreamEnabled       bool
	StreamFlushInterval time.Duration

	HTTPPort    string
	AdminAPIKey string

	ExportXLSXPath        string
	SheetsSpreadsheetID   string
	GoogleCredentialsJSON string

	LogLevel  slog.Level
	LogFormat string
}

// LoadDotEnv reads variables from the given files (default ".env") without overriding
// ones already set. Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			slog.Warn("failed to load env file", "file", f, "error", err)
		}
	}
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		CoinCapURL:            envOrDefault("COINCAP_URL", "https://api.coincap.io/v2"),
		CoinCapAPIKey:         envOrDefault("COINCAP_API_KEY", ""),
		CoinCapRetryMax:       envOrDefaultInt("COINCAP_RETRY_MAX", 3),
		CoinCapRetryBaseDelay: envOrDefaultDuration("COINCAP_RETRY_BASE_DELAY", 2*time.Second),
		CoinCapWSURL:          envOrDefault("COINCAP_WS_URL", "wss://ws.coincap.io/prices"),
		StoreDriver:           envOrDefault("STORE_DRIVER", DriverSQLite),
		StorePath:             envOrDefault("STORE_PATH", "tracker.db"),
		DatabaseURL:           envOrDefault("DATABASE_URL", ""),
		StaleAfter:            envOrDefaultDuration("STALE_AFTER", 5*time.Minute),
		RefreshInterval:       envOrDefaultDuration("REFRESH_INTERVAL", 5*time.Minute),
		RefreshConcurrency:    envOrDefaultInt("REFRESH_CONCURRENCY", 0),
		StreamEnabled:         envOrDefaultBool("STREAM_ENABLED", false),
		StreamFlushInterval:   envOrDefaultDuration("STREAM_FLUSH_INTERVAL", 10*time.Second),
		HTTPPort:              envOrDefault("HTTP_PORT", "8080"),
		AdminAPIKey:           envOrDefault("ADMIN_API_KEY", ""),
		ExportXLSXPath:        envOrDefault("EXPORT_XLSX_PATH", ""),
		SheetsSpreadsheetID:   envOrDefault("SHEETS_SPREADSHEET_ID", ""),
		GoogleCredentialsJSON: envOrDefault("GOOGLE_CREDENTIALS_JSON", ""),
		LogLevel:              envOrDefaultLevel("LOG_LEVEL", slog.LevelInfo),
		LogFormat:             envOrDefault("LOG_FORMAT", "text"),
	}

	switch cfg.StoreDriver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			slog.Warn("required env var not set", "key", "DATABASE_URL", "driver", cfg.StoreDriver)
		}
	default:
		slog.Warn("unknown store driver, using default", "key", "STORE_DRIVER", "value", cfg.StoreDriver, "default", DriverSQLite)
		cfg.StoreDriver = DriverSQLite
	}

	if cfg.RefreshInterval <= 0 {
		slog.Warn("non-positive refresh interval, using default", "value", cfg.RefreshInterval)
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.StreamFlushInterval <= 0 {
		slog.Warn("non-positive stream flush interval, using default", "value", cfg.StreamFlushInterval)
		cfg.StreamFlushInterval = 10 * time.Second
	}

	return cfg
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return b
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return d
	}
	return defaultVal
}

func envOrDefaultLevel(key string, defaultVal slog.Level) slog.Level {
	if v := os.Getenv(key); v != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(v)); err != nil {
			slog.Warn("invalid log level env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return l
	}
	return defaultVal
}
