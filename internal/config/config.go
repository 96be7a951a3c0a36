// Package config loads runtime configuration from environment variables.
//
// Each binary has its own Load function. Unset variables fall back to a
// default; a set but unparsable value is an error, so a typo in PORT fails
// at startup instead of silently listening somewhere else.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// DirectoryConfig configures the reference directory service.
type DirectoryConfig struct {
	Port     int
	DBPath   string
	SeedFile string // optional JSON array of accounts for an empty store
	LogLevel slog.Level
}

// AdminConfig configures the admin web view.
type AdminConfig struct {
	Port         int
	DirectoryURL string
	CallTimeout  time.Duration // 0 = no bound beyond the transport
	LogLevel     slog.Level
}

// ConsoleConfig configures the terminal console.
type ConsoleConfig struct {
	DirectoryURL string
	CallTimeout  time.Duration
	LogLevel     slog.Level
}

// LoadDirectory reads DirectoryConfig from the environment.
func LoadDirectory() (DirectoryConfig, error) {
	port, err := GetInt("PORT", 8080)
	if err != nil {
		return DirectoryConfig{}, err
	}
	level, err := GetLevel("LOG_LEVEL", slog.LevelInfo)
	if err != nil {
		return DirectoryConfig{}, err
	}
	return DirectoryConfig{
		Port:     port,
		DBPath:   GetString("DB_PATH", "data/directory.db"),
		SeedFile: GetString("SEED_FILE", ""),
		LogLevel: level,
	}, nil
}

// LoadAdmin reads AdminConfig from the environment.
func LoadAdmin() (AdminConfig, error) {
	port, err := GetInt("PORT", 8081)
	if err != nil {
		return AdminConfig{}, err
	}
	timeout, err := GetInt("CALL_TIMEOUT_SECONDS", 0)
	if err != nil {
		return AdminConfig{}, err
	}
	level, err := GetLevel("LOG_LEVEL", slog.LevelInfo)
	if err != nil {
		return AdminConfig{}, err
	}
	return AdminConfig{
		Port:         port,
		DirectoryURL: GetString("DIRECTORY_URL", "http://localhost:8080"),
		CallTimeout:  time.Duration(timeout) * time.Second,
		LogLevel:     level,
	}, nil
}

// LoadConsole reads ConsoleConfig from the environment. The console logs at
// warn by default so log lines don't interleave with the prompt.
func LoadConsole() (ConsoleConfig, error) {
	timeout, err := GetInt("CALL_TIMEOUT_SECONDS", 0)
	if err != nil {
		return ConsoleConfig{}, err
	}
	level, err := GetLevel("LOG_LEVEL", slog.LevelWarn)
	if err != nil {
		return ConsoleConfig{}, err
	}
	return ConsoleConfig{
		DirectoryURL: GetString("DIRECTORY_URL", "http://localhost:8080"),
		CallTimeout:  time.Duration(timeout) * time.Second,
		LogLevel:     level,
	}, nil
}

// GetString returns the trimmed value of key, or def when unset or blank.
func GetString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// GetInt parses key as an integer, returning def when unset.
func GetInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, v)
	}
	return n, nil
}

// GetLevel parses key as a slog level name (debug, info, warn, error).
func GetLevel(key string, def slog.Level) (slog.Level, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return def, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return level, nil
}

// NewLogger builds the text logger every binary uses.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
