// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g.
// OLXCRAWLER_BROWSER_PROXY for browser.proxy.
const EnvPrefix = "OLXCRAWLER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Enrich    EnrichConfig    `mapstructure:"enrich"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Debug     DebugConfig     `mapstructure:"debug"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// AllowedOrigins lists CORS origins; empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BrowserConfig configures the shared headless browser.
type BrowserConfig struct {
	ExecPath      string        `mapstructure:"exec_path"`
	Proxy         string        `mapstructure:"proxy"`
	Headless      bool          `mapstructure:"headless"`
	LaunchTimeout time.Duration `mapstructure:"launch_timeout"`
	MaxTabs       int           `mapstructure:"max_tabs"`
	NavTimeout    time.Duration `mapstructure:"nav_timeout"`
}

// CrawlerConfig governs pagination and retries.
type CrawlerConfig struct {
	MinListingsPerPage int `mapstructure:"min_listings_per_page"`
	PageRetries        int `mapstructure:"page_retries"`
	NavRetries         int `mapstructure:"nav_retries"`
	// APIFallback reads the offer API when the browser crawl is blocked.
	APIFallback bool `mapstructure:"api_fallback"`
}

// EnrichConfig bounds detail-page fetching.
type EnrichConfig struct {
	Cap            int           `mapstructure:"cap"`
	Concurrency    int           `mapstructure:"concurrency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	PauseMin       time.Duration `mapstructure:"pause_min"`
	PauseMax       time.Duration `mapstructure:"pause_max"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

// RateLimitConfig sets the per-client token bucket.
type RateLimitConfig struct {
	RequestsPerMinute float64       `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
	IdleTTL           time.Duration `mapstructure:"idle_ttl"`
}

// StorageConfig sets where debug snapshots are written.
type StorageConfig struct {
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for search event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DebugConfig toggles diagnostic output.
type DebugConfig struct {
	Snapshots bool `mapstructure:"snapshots"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 4000)
	v.SetDefault("server.request_timeout", 3*time.Minute)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.proxy", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.launch_timeout", 45*time.Second)
	v.SetDefault("browser.max_tabs", 4)
	v.SetDefault("browser.nav_timeout", 45*time.Second)
	v.SetDefault("crawler.min_listings_per_page", 5)
	v.SetDefault("crawler.page_retries", 2)
	v.SetDefault("crawler.nav_retries", 3)
	v.SetDefault("crawler.api_fallback", true)
	v.SetDefault("enrich.cap", 20)
	v.SetDefault("enrich.concurrency", 3)
	v.SetDefault("enrich.request_timeout", 15*time.Second)
	v.SetDefault("enrich.pause_min", 300*time.Millisecond)
	v.SetDefault("enrich.pause_max", 800*time.Millisecond)
	v.SetDefault("cache.ttl", 120*time.Second)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("ratelimit.requests_per_minute", 10)
	v.SetDefault("ratelimit.burst", 10)
	v.SetDefault("ratelimit.idle_ttl", 10*time.Minute)
	v.SetDefault("storage.local_dir", "snapshots")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("debug.snapshots", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0")
	}
	if c.Browser.MaxTabs <= 0 {
		return fmt.Errorf("browser.max_tabs must be > 0")
	}
	if c.Browser.LaunchTimeout <= 0 || c.Browser.NavTimeout <= 0 {
		return fmt.Errorf("browser timeouts must be > 0")
	}
	if c.Enrich.Cap < 0 {
		return fmt.Errorf("enrich.cap must be >= 0")
	}
	if c.Enrich.Concurrency < 1 || c.Enrich.Concurrency > 5 {
		return fmt.Errorf("enrich.concurrency must be between 1 and 5")
	}
	if c.Enrich.PauseMax < c.Enrich.PauseMin {
		return fmt.Errorf("enrich.pause_max must be >= enrich.pause_min")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("ratelimit.burst must be > 0 when limiting is enabled")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
