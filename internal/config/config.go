// Package config loads and validates daemon configuration from environment
// variables (TGFS_ prefix). No config file is read.
package config

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is set by the linker during build:
// -ldflags "-X tg-filestream/internal/config.Version=v1.2.3"
var Version = "dev"

// Config holds all daemon settings. Read-only after Load.
type Config struct {
	// Telegram credentials.
	AppID               int      `mapstructure:"app_id"`
	AppHash             string   `mapstructure:"app_hash"`
	BotToken            string   `mapstructure:"bot_token"`
	AdditionalBotTokens []string `mapstructure:"additional_bot_tokens"`
	LogChannelID        int64    `mapstructure:"log_channel_id"`
	SessionDir          string   `mapstructure:"session_dir"`

	// HTTP surface.
	Port               int      `mapstructure:"port"`
	BindAddress        string   `mapstructure:"bind_address"`
	BaseURL            string   `mapstructure:"base_url"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
	VideoFrontendURL   string   `mapstructure:"video_frontend_url"`

	// Streaming core.
	ChunkSize                      int64         `mapstructure:"chunk_size"`
	MaxConcurrentStreamsPerClient  int64         `mapstructure:"max_concurrent_streams_per_identity"`
	MaxSessionReadsInFlight        int64         `mapstructure:"max_session_reads_in_flight"`
	LocatorCacheMaxEntries         int           `mapstructure:"locator_cache_max_entries"`
	LocatorNegativeCacheTTL        time.Duration `mapstructure:"locator_negative_cache_ttl"`
	StaleStreamMaxAge              time.Duration `mapstructure:"stale_stream_max_age"`
	StreamCleanupInterval          time.Duration `mapstructure:"stream_cleanup_interval"`

	// Policy gates.
	LinkExpiry              time.Duration `mapstructure:"link_expiry"`
	MonthlyBandwidthCeiling int64         `mapstructure:"monthly_bandwidth_ceiling_bytes"`
	ShortenThresholdBytes   int64         `mapstructure:"shorten_threshold_bytes"`
	RateLimitRequests       int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow         time.Duration `mapstructure:"rate_limit_window"`

	// Persistence.
	DatabaseURL         string        `mapstructure:"database_url"`
	DatabaseName        string        `mapstructure:"database_name"`
	LedgerFlushInterval time.Duration `mapstructure:"ledger_flush_interval"`

	// Logging.
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Server lifecycle.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load reads configuration from the environment (TGFS_APP_ID, TGFS_BOT_TOKEN,
// ...) and validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TGFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Viper's AutomaticEnv does not surface env-only keys through Unmarshal
	// unless each key is registered.
	for _, key := range allKeys {
		v.SetDefault(key, v.Get(key))
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.AdditionalBotTokens = splitAndTrim(v.GetString("additional_bot_tokens"))
	cfg.CORSAllowedOrigins = splitAndTrim(v.GetString("cors_allowed_origins"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var allKeys = []string{
	"app_id", "app_hash", "bot_token", "additional_bot_tokens",
	"log_channel_id", "session_dir",
	"port", "bind_address", "base_url", "cors_allowed_origins", "video_frontend_url",
	"chunk_size", "max_concurrent_streams_per_identity", "max_session_reads_in_flight",
	"locator_cache_max_entries", "locator_negative_cache_ttl",
	"stale_stream_max_age", "stream_cleanup_interval",
	"link_expiry", "monthly_bandwidth_ceiling_bytes", "shorten_threshold_bytes",
	"rate_limit_requests", "rate_limit_window",
	"database_url", "database_name", "ledger_flush_interval",
	"log_level", "log_format", "shutdown_timeout",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("session_dir", ".tgfs-sessions")
	v.SetDefault("port", 8080)
	v.SetDefault("bind_address", "0.0.0.0")
	v.SetDefault("chunk_size", int64(1<<20))
	v.SetDefault("max_concurrent_streams_per_identity", int64(8))
	v.SetDefault("max_session_reads_in_flight", int64(8))
	v.SetDefault("locator_cache_max_entries", 1000)
	v.SetDefault("locator_negative_cache_ttl", time.Minute)
	v.SetDefault("stale_stream_max_age", 14400*time.Second)
	v.SetDefault("stream_cleanup_interval", 600*time.Second)
	v.SetDefault("link_expiry", 24*time.Hour)
	v.SetDefault("monthly_bandwidth_ceiling_bytes", int64(0))
	v.SetDefault("shorten_threshold_bytes", int64(2<<20))
	v.SetDefault("rate_limit_requests", 60)
	v.SetDefault("rate_limit_window", 10*time.Minute)
	v.SetDefault("database_name", "tgfilestream")
	v.SetDefault("ledger_flush_interval", 30*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("shutdown_timeout", 10*time.Second)
}

// Validate checks required fields and cross-field constraints.
func (c *Config) Validate() error {
	if c.AppID == 0 {
		return errors.New("TGFS_APP_ID is required")
	}
	if c.AppHash == "" {
		return errors.New("TGFS_APP_HASH is required")
	}
	if c.BotToken == "" {
		return errors.New("TGFS_BOT_TOKEN is required")
	}
	if c.LogChannelID == 0 {
		return errors.New("TGFS_LOG_CHANNEL_ID is required")
	}
	if c.BaseURL == "" {
		return errors.New("TGFS_BASE_URL is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return errors.Errorf("TGFS_BASE_URL %q must start with http:// or https://", c.BaseURL)
	}
	if c.ChunkSize <= 0 || c.ChunkSize&(c.ChunkSize-1) != 0 {
		return errors.Errorf("chunk_size %d must be a power of two", c.ChunkSize)
	}
	if c.ChunkSize < 4<<10 || c.ChunkSize > 1<<20 {
		return errors.Errorf("chunk_size %d must be between 4KiB and 1MiB", c.ChunkSize)
	}
	if c.MaxConcurrentStreamsPerClient <= 0 {
		return errors.New("max_concurrent_streams_per_identity must be positive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("port %d out of range", c.Port)
	}
	return nil
}

// BuildLogger constructs the process logger per LogLevel/LogFormat. The same
// logger is handed to the platform clients.
func (c *Config) BuildLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "log_level %q", c.LogLevel)
	}

	var zc zap.Config
	switch c.LogFormat {
	case "json":
		zc = zap.NewProductionConfig()
	case "console", "text":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, errors.Errorf("log_format %q, expected json or console", c.LogFormat)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
