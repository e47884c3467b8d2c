// Package config loads and validates linkmeta configuration via Viper.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all tool configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	ProcLog   ProcLogConfig   `mapstructure:"proclog"`
	Output    OutputConfig    `mapstructure:"output"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ServerConfig controls the optional status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// PipelineConfig governs batch sizing and worker concurrency.
type PipelineConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	BatchSize   int `mapstructure:"batch_size"`
	MaxRequeues int `mapstructure:"max_requeues"`
}

// ResolverConfig bounds shortened-URL redirect following.
type ResolverConfig struct {
	MaxHops int           `mapstructure:"max_hops"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// FetchConfig configures the HTTP content fetcher.
type FetchConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxBodyBytes     int           `mapstructure:"max_body_bytes"`
	UserAgent        string        `mapstructure:"user_agent"`
	SkipContentTypes []string      `mapstructure:"skip_content_types"`
}

// RateLimitConfig controls per-domain cooldowns and the optional baseline
// request rate. Penalties maps HTTP status codes to cooldown durations.
type RateLimitConfig struct {
	Penalties   map[string]time.Duration `mapstructure:"penalties"`
	DomainRPS   float64                  `mapstructure:"domain_rps"`
	DomainBurst int                      `mapstructure:"domain_burst"`
}

// CacheConfig sets the durable content cache location and TTLs.
type CacheConfig struct {
	Path       string        `mapstructure:"path"`
	TTL        time.Duration `mapstructure:"ttl"`
	FailureTTL time.Duration `mapstructure:"failure_ttl"`
}

// ProcLogConfig locates the append-only processing log.
type ProcLogConfig struct {
	Path string `mapstructure:"path"`
}

// OutputConfig locates the JSONL result stream.
type OutputConfig struct {
	Path string `mapstructure:"path"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LINKMETA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	v.SetDefault("logging.development", true)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.concurrency", 12)
	v.SetDefault("pipeline.batch_size", 100)
	v.SetDefault("pipeline.max_requeues", 3)
	v.SetDefault("resolver.max_hops", 10)
	v.SetDefault("resolver.timeout", "10s")
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.max_body_bytes", 5*1024*1024)
	v.SetDefault("fetch.user_agent", "linkmeta/1.0")
	v.SetDefault("fetch.skip_content_types", []string{
		"application/pdf",
		"application/zip",
		"application/gzip",
		"application/x-tar",
		"application/octet-stream",
		"image/",
		"video/",
		"audio/",
	})
	v.SetDefault("ratelimit.penalties", map[string]string{
		"429": "30s",
		"403": "10s",
		"405": "10s",
	})
	v.SetDefault("ratelimit.domain_rps", 0.0)
	v.SetDefault("ratelimit.domain_burst", 1)
	v.SetDefault("cache.path", "data/content_cache.db")
	v.SetDefault("cache.ttl", "720h")
	v.SetDefault("cache.failure_ttl", "24h")
	v.SetDefault("proclog.path", "data/processed_urls.csv")
	v.SetDefault("output.path", "results.jsonl")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Resolver.MaxHops <= 0 {
		return fmt.Errorf("resolver.max_hops must be > 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0")
	}
	if c.Cache.Path == "" {
		return fmt.Errorf("cache.path must be set")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}
	if c.Cache.FailureTTL <= 0 {
		return fmt.Errorf("cache.failure_ttl must be > 0")
	}
	if c.ProcLog.Path == "" {
		return fmt.Errorf("proclog.path must be set")
	}
	if _, err := c.PenaltyTable(); err != nil {
		return err
	}
	return nil
}

// PenaltyTable converts the string-keyed penalty map into status-code form.
func (c Config) PenaltyTable() (map[int]time.Duration, error) {
	table := make(map[int]time.Duration, len(c.RateLimit.Penalties))
	for key, d := range c.RateLimit.Penalties {
		code, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("ratelimit.penalties: invalid status code %q", key)
		}
		if d <= 0 {
			return nil, fmt.Errorf("ratelimit.penalties[%s] must be > 0", key)
		}
		table[code] = d
	}
	return table, nil
}
