package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the haptic agent daemon.
type Config struct {
	// Control surface
	BindAddr string
	LogLevel string
	LogFile  string

	// CDP connection for tab lifecycle observation
	CDPAddress   string
	CDPPort      int
	TabURLFilter string
	WatchTabs    bool

	// Device endpoints
	StrokerAPIURL string
	HubWSURL      string
	Vendor2APIURL string

	// Script resolution
	CatalogTokenURL string
	DataDir         string
	MaxScriptBytes  int

	// Clock synchronization. The resync schedule numbers were tuned
	// empirically; treat them as tunable parameters, not free knobs.
	SyncProbeCount       int
	SyncTrimRatio        float64
	FirstResyncDelayMS   int
	SecondResyncDelayMS  int
	ResyncIntervalMS     int
	LooseSyncFilter      float64
	TightSyncFilter      float64
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		BindAddr: getEnvOrDefault("HAPTIC_BIND_ADDR", "127.0.0.1:8377"),
		LogLevel: strings.ToLower(getEnvOrDefault("HAPTIC_LOG_LEVEL", "info")),
		LogFile:  getEnvOrDefault("HAPTIC_LOG_FILE", "logs/hapticd.log"),

		CDPAddress:   getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:      getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		TabURLFilter: getEnvOrDefault("HAPTIC_TAB_URL_FILTER", ""),
		WatchTabs:    getEnvBoolOrDefault("HAPTIC_WATCH_TABS", true),

		StrokerAPIURL: getEnvOrDefault("STROKER_API_URL", "https://api.strokerlink.io/v2"),
		HubWSURL:      getEnvOrDefault("DEVICE_HUB_WS_URL", "ws://127.0.0.1:12345"),
		Vendor2APIURL: getEnvOrDefault("VENDOR2_API_URL", "https://api.vibelink.example/v1"),

		CatalogTokenURL: getEnvOrDefault("CATALOG_TOKEN_URL", "https://catalog.scriptindex.io/api/token"),
		DataDir:         getEnvOrDefault("HAPTIC_DATA_DIR", "./data"),
		MaxScriptBytes:  getEnvIntOrDefault("HAPTIC_MAX_SCRIPT_BYTES", 2*1024*1024),

		SyncProbeCount:      getEnvIntOrDefault("SYNC_PROBE_COUNT", 10),
		SyncTrimRatio:       getEnvFloatOrDefault("SYNC_TRIM_RATIO", 0.8),
		FirstResyncDelayMS:  getEnvIntOrDefault("SYNC_FIRST_RESYNC_DELAY_MS", 2000),
		SecondResyncDelayMS: getEnvIntOrDefault("SYNC_SECOND_RESYNC_DELAY_MS", 17000),
		ResyncIntervalMS:    getEnvIntOrDefault("SYNC_RESYNC_INTERVAL_MS", 15000),
		LooseSyncFilter:     getEnvFloatOrDefault("SYNC_LOOSE_FILTER", 3.0),
		TightSyncFilter:     getEnvFloatOrDefault("SYNC_TIGHT_FILTER", 1.5),
	}

	if cfg.SyncProbeCount < 1 {
		cfg.SyncProbeCount = 1
	}
	if cfg.SyncTrimRatio <= 0 || cfg.SyncTrimRatio > 1 {
		cfg.SyncTrimRatio = 0.8
	}

	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint used by the chromedp remote allocator.
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

func getEnvFloatOrDefault(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
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
