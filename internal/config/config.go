// Package config reads agent settings from the environment, with an
// optional .env file in the working directory.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Feed transport modes.
const (
	FeedModePage   = "page"
	FeedModeDirect = "direct"
)

// Config holds the settings shared by tp_agent and tp_fetch.
type Config struct {
	// CDP connection settings
	CDPAddress   string
	CDPPort      int
	TabURLFilter string
	EvalTimeout  time.Duration

	// Control API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Logging
	LogLevel string
	LogFile  string

	// Injection retry loop and mutation repair
	InjectAttempts  int
	InjectInterval  time.Duration
	RepairPerSecond int

	// Caption feed
	FeedMode    string
	FeedTimeout time.Duration

	TabSyncInterval time.Duration

	// LookupFile optionally overrides the built-in selector tables.
	LookupFile string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		TabURLFilter:     getEnvOrDefault("TP_TAB_URL_FILTER", "youtube.com"),
		EvalTimeout:      getEnvMillisOrDefault("TP_EVAL_TIMEOUT_MS", 5000, 1000),
		BindAddr:         getEnvOrDefault("TP_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:   getEnvListOrDefault("TP_PORT_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192", "127.0.0.1:8193"}),
		PortAutoFallback: getEnvBoolOrDefault("TP_PORT_AUTO_FALLBACK", true),
		LogLevel:         strings.ToLower(getEnvOrDefault("TP_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("TP_LOG_FILE", "logs/tp_agent.log"),
		InjectAttempts:   getEnvIntOrDefault("TP_INJECT_ATTEMPTS", 20),
		InjectInterval:   getEnvMillisOrDefault("TP_INJECT_INTERVAL_MS", 500, 50),
		RepairPerSecond:  getEnvIntOrDefault("TP_REPAIR_PER_SECOND", 2),
		FeedMode:         strings.ToLower(getEnvOrDefault("TP_FEED_MODE", FeedModePage)),
		FeedTimeout:      getEnvMillisOrDefault("TP_FEED_TIMEOUT_MS", 10000, 1000),
		TabSyncInterval:  getEnvMillisOrDefault("TP_TAB_SYNC_INTERVAL_MS", 3000, 500),
		LookupFile:       getEnvOrDefault("TP_LOOKUP_FILE", ""),
	}
	if cfg.InjectAttempts < 1 {
		cfg.InjectAttempts = 1
	}
	if cfg.RepairPerSecond < 0 {
		cfg.RepairPerSecond = 0
	}
	switch cfg.FeedMode {
	case FeedModePage, FeedModeDirect:
	default:
		return nil, fmt.Errorf("TP_FEED_MODE must be %q or %q, got %q", FeedModePage, FeedModeDirect, cfg.FeedMode)
	}
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint of the browser.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvListOrDefault reads a comma-separated list, dropping empty items.
func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

// getEnvMillisOrDefault reads a millisecond count, clamped to minMS.
func getEnvMillisOrDefault(key string, defaultMS, minMS int) time.Duration {
	ms := getEnvIntOrDefault(key, defaultMS)
	if ms < minMS {
		ms = minMS
	}
	return time.Duration(ms) * time.Millisecond
}
