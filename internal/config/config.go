// Package config loads pmchat settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Ledger backends.
const (
	LedgerFile    = "file"
	LedgerSurreal = "surreal"
	LedgerMemory  = "memory"
)

// Config holds all configuration values.
type Config struct {
	// Platform API
	APIURL        string
	APIToken      string
	Model         string
	ClientTimeout time.Duration

	// Session timing
	PollInterval         time.Duration
	RevealInterval       time.Duration
	RecencyWindow        time.Duration
	UserDedupWindow      time.Duration
	AssistantDedupWindow time.Duration
	PushUpdates          bool

	// Idempotency ledger
	Ledger     string
	LedgerPath string

	// SurrealDB connection (ledger backend "surreal")
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		APIURL:        getEnv("PMCHAT_API_URL", "http://localhost:8080/graphql"),
		APIToken:      getEnv("PMCHAT_API_TOKEN", ""),
		Model:         getEnv("PMCHAT_MODEL", ""),
		ClientTimeout: getDuration("PMCHAT_CLIENT_TIMEOUT", 2*time.Minute),

		PollInterval:         getDuration("PMCHAT_POLL_INTERVAL", 2*time.Second),
		RevealInterval:       getDuration("PMCHAT_REVEAL_INTERVAL", 25*time.Millisecond),
		RecencyWindow:        getDuration("PMCHAT_RECENCY_WINDOW", 5*time.Second),
		UserDedupWindow:      getDuration("PMCHAT_USER_DEDUP_WINDOW", 10*time.Second),
		AssistantDedupWindow: getDuration("PMCHAT_ASSISTANT_DEDUP_WINDOW", 3*time.Second),
		PushUpdates:          getEnv("PMCHAT_PUSH_UPDATES", "false") == "true",

		Ledger:     strings.ToLower(getEnv("PMCHAT_LEDGER", LedgerFile)),
		LedgerPath: getEnv("PMCHAT_LEDGER_PATH", defaultLedgerPath()),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "pmchat"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "ledger"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		LogFile:  getEnv("PMCHAT_LOG_FILE", filepath.Join(os.TempDir(), "pmchat.log")),
		LogLevel: parseLogLevel(getEnv("PMCHAT_LOG_LEVEL", "INFO")),
	}
}

// Validate reports settings the session cannot run with.
func (c Config) Validate() error {
	switch c.Ledger {
	case LedgerFile, LedgerSurreal, LedgerMemory:
	default:
		return fmt.Errorf("PMCHAT_LEDGER: unknown backend %q (want file, surreal or memory)", c.Ledger)
	}
	if c.APIURL == "" {
		return fmt.Errorf("PMCHAT_API_URL is required")
	}
	for name, d := range map[string]time.Duration{
		"PMCHAT_POLL_INTERVAL":   c.PollInterval,
		"PMCHAT_REVEAL_INTERVAL": c.RevealInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

func defaultLedgerPath() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "pmchat", "ledger.cbor")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "pmchat", "ledger.cbor")
	}
	return filepath.Join(os.TempDir(), "pmchat-ledger.cbor")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getDuration parses a Go duration ("2s", "250ms"). Invalid values fall back to the default.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
