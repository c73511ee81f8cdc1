package config

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Worker    WorkerConfig    `yaml:"worker"`
	Providers ProvidersConfig `yaml:"providers"`
	Download  DownloadConfig  `yaml:"download"`
	Cache     CacheConfig     `yaml:"cache"`
	Events    EventsConfig    `yaml:"events"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host" envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"2m"`
}

// StoreConfig selects and configures the download record store.
type StoreConfig struct {
	Driver      string `yaml:"driver" envconfig:"STORE_DRIVER" default:"sqlite"`
	SQLitePath  string `yaml:"sqlite_path" envconfig:"SQLITE_PATH" default:"/data/tokgrab.db"`
	PostgresDSN string `yaml:"postgres_dsn" envconfig:"POSTGRES_DSN"`
	RecentLimit int    `yaml:"recent_limit" envconfig:"RECENT_LIMIT" default:"10"`
}

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	Count           int           `yaml:"count" envconfig:"WORKER_COUNT" default:"2"`
	PollInterval    time.Duration `yaml:"poll_interval" envconfig:"WORKER_POLL_INTERVAL" default:"500ms"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"WORKER_SHUTDOWN_TIMEOUT" default:"25s"`
}

// ProvidersConfig configures the extraction provider chain.
type ProvidersConfig struct {
	TikWMBaseURL    string        `yaml:"tikwm_base_url" envconfig:"TIKWM_BASE_URL" default:"https://tikwm.com"`
	SSSTikBaseURL   string        `yaml:"ssstik_base_url" envconfig:"SSSTIK_BASE_URL" default:"https://ssstik.io"`
	SSSTikToken     string        `yaml:"ssstik_token" envconfig:"SSSTIK_TOKEN" default:"bWU5ZlE5"`
	OEmbedBaseURL   string        `yaml:"oembed_base_url" envconfig:"OEMBED_BASE_URL" default:"https://www.tiktok.com"`
	Timeout         time.Duration `yaml:"timeout" envconfig:"PROVIDER_TIMEOUT" default:"15s"`
	FallbackTimeout time.Duration `yaml:"fallback_timeout" envconfig:"PROVIDER_FALLBACK_TIMEOUT" default:"10s"`
	MaxRedirects    int           `yaml:"max_redirects" envconfig:"PROVIDER_MAX_REDIRECTS" default:"5"`
	Placeholder     bool          `yaml:"placeholder" envconfig:"PROVIDER_PLACEHOLDER" default:"true"`
	UserAgent       string        `yaml:"user_agent" envconfig:"PROVIDER_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"`
}

// DownloadConfig holds media fetch configuration.
type DownloadConfig struct {
	Timeout       time.Duration `yaml:"timeout" envconfig:"DOWNLOAD_TIMEOUT" default:"60s"`
	VideoMaxBytes int64         `yaml:"video_max_bytes" envconfig:"DOWNLOAD_VIDEO_MAX_BYTES" default:"104857600"` // 100MB
	AudioMaxBytes int64         `yaml:"audio_max_bytes" envconfig:"DOWNLOAD_AUDIO_MAX_BYTES" default:"52428800"`  // 50MB
	RetryMax      int           `yaml:"retry_max" envconfig:"DOWNLOAD_RETRY_MAX" default:"2"`
	RetryDelay    time.Duration `yaml:"retry_delay" envconfig:"DOWNLOAD_RETRY_DELAY" default:"1s"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" envconfig:"DOWNLOAD_MAX_RETRY_DELAY" default:"10s"`
	UserAgent     string        `yaml:"user_agent" envconfig:"DOWNLOAD_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"`
	Referer       string        `yaml:"referer" envconfig:"DOWNLOAD_REFERER" default:"https://www.tiktok.com/"`
}

// CacheConfig configures the optional MinIO media cache. Empty endpoint disables it.
type CacheConfig struct {
	Endpoint  string `yaml:"endpoint" envconfig:"CACHE_ENDPOINT"`
	AccessKey string `yaml:"access_key" envconfig:"CACHE_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"CACHE_SECRET_KEY"`
	Bucket    string `yaml:"bucket" envconfig:"CACHE_BUCKET" default:"tokgrab-media"`
	UseSSL    bool   `yaml:"use_ssl" envconfig:"CACHE_USE_SSL" default:"false"`
}

// Enabled reports whether a cache endpoint is configured.
func (c CacheConfig) Enabled() bool {
	return c.Endpoint != ""
}

// EventsConfig configures lifecycle event publishing. Empty NATS URL disables the broker;
// the in-process feed behind /events is always on.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url" envconfig:"NATS_URL"`
	SubjectPrefix string `yaml:"subject_prefix" envconfig:"NATS_SUBJECT_PREFIX" default:"tokgrab.downloads"`
	FeedSize      int    `yaml:"feed_size" envconfig:"EVENTS_FEED_SIZE" default:"256"`
}

// RateLimitConfig configures the inbound limiter on submit and info endpoints.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" envconfig:"RATE_LIMIT_RPS" default:"5"`
	Burst             int     `yaml:"burst" envconfig:"RATE_LIMIT_BURST" default:"10"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `yaml:"level" envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads configuration in three layers: default tags, then the YAML file,
// then environment variables. Each layer overrides the one before it.
func Load(configPath string) (*Config, error) {
	fromEnv := &Config{}
	if err := envconfig.Process("", fromEnv); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	cfg := *fromEnv
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		restoreEnvSet(reflect.ValueOf(&cfg).Elem(), reflect.ValueOf(fromEnv).Elem())
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// restoreEnvSet copies from src into dst every field whose envconfig variable is
// present in the environment.
func restoreEnvSet(dst, src reflect.Value) {
	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Type.Kind() == reflect.Struct {
			restoreEnvSet(dst.Field(i), src.Field(i))
			continue
		}
		key := f.Tag.Get("envconfig")
		if key == "" {
			continue
		}
		if _, ok := os.LookupEnv(key); ok {
			dst.Field(i).Set(src.Field(i))
		}
	}
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Store.RecentLimit <= 0 {
		return fmt.Errorf("RECENT_LIMIT must be positive")
	}
	if c.Download.VideoMaxBytes <= 0 || c.Download.AudioMaxBytes <= 0 {
		return fmt.Errorf("download size limits must be positive")
	}
	if c.Providers.Timeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	if c.Cache.Enabled() && (c.Cache.AccessKey == "" || c.Cache.SecretKey == "") {
		return fmt.Errorf("CACHE_ACCESS_KEY and CACHE_SECRET_KEY are required when CACHE_ENDPOINT is set")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
