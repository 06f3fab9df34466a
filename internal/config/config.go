package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	DataDir         string
	SourceURL       string // empty selects the JMA default
	DownloadTimeout time.Duration
	ProxyHost       string
	ProxyPort       int
	Headers         map[string]string
	KeepArchives    bool

	RequestTimeout  time.Duration
	CacheTTL        time.Duration
	CacheBackend    string // "in_memory" or "memcached"
	CoalesceTimeout time.Duration
	GridCacheSize   int

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int

	WarmEnabled     bool
	WarmDays        int
	WarmInterval    time.Duration
	WarmResolutions []string

	KafkaBrokers []string
	KafkaTopic   string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Source struct {
		URL          string            `yaml:"url"`
		DataDir      string            `yaml:"data_dir"`
		Timeout      string            `yaml:"timeout"`
		ProxyHost    string            `yaml:"proxy_host"`
		ProxyPort    int               `yaml:"proxy_port"`
		Headers      map[string]string `yaml:"headers"`
		KeepArchives bool              `yaml:"keep_archives"`
	} `yaml:"source"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend         string `yaml:"backend"`
		TTL             string `yaml:"ttl"`
		CoalesceTimeout string `yaml:"coalesce_timeout"`
		GridCacheSize   int    `yaml:"grid_cache_size"`
		Memcached       struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Warm struct {
			Enabled     bool     `yaml:"enabled"`
			Days        int      `yaml:"days"`
			Interval    string   `yaml:"interval"`
			Resolutions []string `yaml:"resolutions"`
		} `yaml:"warm"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Events struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"events"`
}

// LoadDotEnv loads a .env file from the working directory when one exists. Variables
// already set in the environment win.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	if err := godotenv.Load(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and applies env
// overrides. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}
	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.DataDir = envOr("SST_DATA_DIR", fc.Source.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	cfg.SourceURL = envOr("SST_SOURCE_URL", fc.Source.URL)
	cfg.DownloadTimeout = parseDurationOrZero(fc.Source.Timeout, 60*time.Second)
	cfg.ProxyHost = envOr("SST_PROXY_HOST", fc.Source.ProxyHost)
	cfg.ProxyPort = fc.Source.ProxyPort
	if v := strings.TrimSpace(os.Getenv("SST_PROXY_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("SST_PROXY_PORT must be a number, got %q", v)
		}
		cfg.ProxyPort = port
	}
	cfg.Headers = fc.Source.Headers
	cfg.KeepArchives = fc.Source.KeepArchives

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 90*time.Second)
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 24*time.Hour)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.CoalesceTimeout = parseDurationOrZero(fc.Cache.CoalesceTimeout, 90*time.Second)
	cfg.GridCacheSize = fc.Cache.GridCacheSize
	cfg.MemcachedAddrs = envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.WarmEnabled = fc.Cache.Warm.Enabled
	cfg.WarmDays = fc.Cache.Warm.Days
	if cfg.WarmDays <= 0 {
		cfg.WarmDays = 3
	}
	cfg.WarmInterval = parseDuration(fc.Cache.Warm.Interval, 6*time.Hour)
	cfg.WarmResolutions = fc.Cache.Warm.Resolutions
	if len(cfg.WarmResolutions) == 0 {
		cfg.WarmResolutions = []string{"low", "high"}
	}

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 5*time.Minute)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 5*time.Minute)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.KafkaBrokers = fc.Events.Brokers
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	cfg.KafkaTopic = fc.Events.Topic
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = "sst-grid-events"
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// defaultGridCacheSize holds the default warm set (3 days x 2 resolutions) plus two request days.
const defaultGridCacheSize = 8

// validate performs post-load validation of configuration values.
// Ensures DownloadTimeout is positive, RequestTimeout > DownloadTimeout, the cache backend
// and warm resolutions are known, the grid cache holds a full warm cycle, and the proxy
// port is in range.
func validate(cfg *Config) error {
	if cfg.DownloadTimeout <= 0 {
		return fmt.Errorf("source.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.DownloadTimeout {
		cfg.RequestTimeout = cfg.DownloadTimeout + 5*time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	for _, r := range cfg.WarmResolutions {
		if r != "low" && r != "high" {
			return fmt.Errorf("cache.warm.resolutions: unknown resolution %q (valid values: low, high)", r)
		}
	}
	warmGrids := 0
	if cfg.WarmEnabled {
		warmGrids = cfg.WarmDays * len(cfg.WarmResolutions)
	}
	if cfg.GridCacheSize <= 0 {
		cfg.GridCacheSize = max(defaultGridCacheSize, warmGrids)
	} else if cfg.GridCacheSize < warmGrids {
		return fmt.Errorf("cache.grid_cache_size %d cannot hold the %d grids warmed each cycle (%d days x %d resolutions)",
			cfg.GridCacheSize, warmGrids, cfg.WarmDays, len(cfg.WarmResolutions))
	}
	if cfg.ProxyPort < 0 || cfg.ProxyPort > 65535 {
		return fmt.Errorf("proxy port must be between 0 and 65535, got %d", cfg.ProxyPort)
	}
	return nil
}
