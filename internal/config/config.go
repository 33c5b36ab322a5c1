// Package config provides application configuration management with
// support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	App    AppConfig
	Logger LoggerConfig
	Player PlayerConfig
	Lyrics LyricsConfig
	HTTP   HTTPConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// PlayerConfig holds media player connection configuration.
type PlayerConfig struct {
	// Name is the MPRIS player identity to follow, e.g. "audacious".
	Name string
	// PollInterval is how often the player position is sampled while
	// playing (default: 100ms).
	PollInterval time.Duration
}

// LyricsConfig holds lyrics file configuration.
type LyricsConfig struct {
	// Path forces one lyrics file for all songs. When empty, the .lrc
	// file next to the playing track is used.
	Path string
	// SettleDelay is how long a changed lyrics file must stay quiet
	// before it is re-parsed (default: 100ms).
	SettleDelay time.Duration
}

// HTTPConfig holds the optional local HTTP read surface.
type HTTPConfig struct {
	// Addr enables the HTTP server when non-empty, e.g. "127.0.0.1:7217".
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Enabled reports whether the HTTP surface should be started.
func (c HTTPConfig) Enabled() bool {
	return c.Addr != ""
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	env := flag.String("env", "", "Environment (development, staging, production)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	playerName := flag.String("player", "", "MPRIS player to follow (e.g. audacious)")
	pollInterval := flag.String("poll-interval", "", "Player position poll interval (default: 100ms)")
	lyricsPath := flag.String("lyrics", "", "Lyrics file to use for all songs (default: the .lrc next to the playing track)")
	settleDelay := flag.String("settle-delay", "", "Quiet period before a changed lyrics file is re-parsed (default: 100ms)")
	httpAddr := flag.String("http-addr", "", "Expose the read-only HTTP API on this address (disabled when empty)")
	envFile := flag.String("env-file", ".env", "Path to .env file")

	flag.Parse()

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Player: PlayerConfig{
			Name: getConfigValue(*playerName, "PLAYER", ""),
		},
		Lyrics: LyricsConfig{
			Path: getConfigValue(*lyricsPath, "LYRICS_PATH", ""),
		},
		HTTP: HTTPConfig{
			Addr: getConfigValue(*httpAddr, "HTTP_ADDR", ""),
		},
	}

	var err error
	if cfg.Player.PollInterval, err = parseDurationValue(*pollInterval, "POLL_INTERVAL", "100ms"); err != nil {
		return nil, fmt.Errorf("invalid poll interval: %w", err)
	}
	if cfg.Lyrics.SettleDelay, err = parseDurationValue(*settleDelay, "SETTLE_DELAY", "100ms"); err != nil {
		return nil, fmt.Errorf("invalid settle delay: %w", err)
	}
	if cfg.HTTP.ReadTimeout, err = parseDurationValue("", "HTTP_READ_TIMEOUT", "5s"); err != nil {
		return nil, fmt.Errorf("invalid read timeout: %w", err)
	}
	if cfg.HTTP.WriteTimeout, err = parseDurationValue("", "HTTP_WRITE_TIMEOUT", "5s"); err != nil {
		return nil, fmt.Errorf("invalid write timeout: %w", err)
	}
	if cfg.HTTP.IdleTimeout, err = parseDurationValue("", "HTTP_IDLE_TIMEOUT", "60s"); err != nil {
		return nil, fmt.Errorf("invalid idle timeout: %w", err)
	}

	if err := cfg.expandLyricsPath(); err != nil {
		return nil, fmt.Errorf("invalid lyrics path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Player.Name == "" {
		return errors.New("PLAYER is required (the MPRIS identity of the media player to follow)")
	}

	if c.Player.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}

	if c.Lyrics.Path != "" {
		info, err := os.Stat(c.Lyrics.Path)
		if err != nil {
			return fmt.Errorf("lyrics path: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("lyrics path must be a file: %s", c.Lyrics.Path)
		}
	}

	return nil
}

// expandLyricsPath expands ~ and makes the forced lyrics path absolute.
// An empty path stays empty: lyrics follow the playing track.
func (c *Config) expandLyricsPath() error {
	if c.Lyrics.Path == "" {
		return nil
	}

	path := c.Lyrics.Path
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	c.Lyrics.Path = filepath.Clean(path)
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// parseDurationValue resolves a duration from flag, env var, or default.
func parseDurationValue(flagValue, envKey, defaultValue string) (time.Duration, error) {
	strValue := getConfigValue(flagValue, envKey, defaultValue)
	d, err := time.ParseDuration(strValue)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", strValue, err)
	}
	return d, nil
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		// Real environment variables take precedence over the .env file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
