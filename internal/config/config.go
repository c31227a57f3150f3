package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging"`
	Detector  DetectorConfig  `yaml:"detector"`
	Impact    ImpactConfig    `yaml:"impact"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Stores    StoresConfig    `yaml:"stores"`
	PubSub    PubSubConfig    `yaml:"pubsub"`
	API       APIConfig       `yaml:"api"`
	Security  SecurityConfig  `yaml:"security"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type AppConfig struct {
	InstanceID      string        `yaml:"instance_id"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type DetectorConfig struct {
	WhaleThresholdUSD float64       `yaml:"whale_threshold_usd"` // default 10_000
	RecentBuffer      int           `yaml:"recent_buffer"`       // default 100
	Retention         time.Duration `yaml:"retention"`           // default 24h
}

type ImpactConfig struct {
	Retention time.Duration `yaml:"retention"` // default 24h
}

type AlertsConfig struct {
	Retention time.Duration `yaml:"retention"` // default 168h
}

type DispatchConfig struct {
	BatchInterval     time.Duration `yaml:"batch_interval"`      // default 100ms
	ImmediateWhaleUSD float64       `yaml:"immediate_whale_usd"` // default 100_000
	SubscriberBuffer  int           `yaml:"subscriber_buffer"`   // default 64
}

type DedupeConfig struct {
	TTL    time.Duration `yaml:"ttl"`
	Prefix string        `yaml:"prefix"`
}

type IngestConfig struct {
	Subject string `yaml:"subject"` // NATS subject with raw events
	Queue   string `yaml:"queue"`   // queue group, empty = plain subscribe
}

type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Prefix       string        `yaml:"prefix"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type ClickHouseWriterConfig struct {
	BatchMaxRows     int           `yaml:"batch_max_rows"`
	BatchMaxInterval time.Duration `yaml:"batch_max_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
}

type ClickHouseConfig struct {
	DSN    string                 `yaml:"dsn"`
	Writer ClickHouseWriterConfig `yaml:"writer"`
}

type StoresConfig struct {
	Redis      RedisConfig      `yaml:"redis"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

type NATSConfig struct {
	URL             string `yaml:"url"`
	BroadcastPrefix string `yaml:"broadcast_prefix"`
}

type PubSubConfig struct {
	NATS NATSConfig `yaml:"nats"`
}

type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
	Headers []string `yaml:"headers"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	CORS         CORSConfig    `yaml:"cors"`
}

type APIConfig struct {
	HTTP HTTPConfig `yaml:"http"`
}

type JWTConfig struct {
	Enabled       bool          `yaml:"enabled"`
	PublicKeyPath string        `yaml:"public_key_path"`
	Audience      string        `yaml:"audience"`
	Issuer        string        `yaml:"issuer"`
	Leeway        time.Duration `yaml:"leeway"`
}

type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
	// Identity header honored only while JWT is off, set by the edge proxy.
	TrustedUserHeader string `yaml:"trusted_user_header"`
}

type RateBucket struct {
	RefillPerSec int           `yaml:"refill_per_sec"` // tokens added every second
	Burst        int           `yaml:"burst"`          // bucket capacity
	TTL          time.Duration `yaml:"ttl"`            // idle key lifetime
}

type RateLimitConfig struct {
	Enabled bool       `yaml:"enabled"`
	ByJWT   RateBucket `yaml:"by_jwt"`
	ByIP    RateBucket `yaml:"by_ip"`
}

type PyroscopeConfig struct {
	Enabled    bool              `yaml:"enabled"`
	AppName    string            `yaml:"app_name"`
	ServerAddr string            `yaml:"server_addr"`
	AuthToken  string            `yaml:"auth_token"`
	Tags       map[string]string `yaml:"tags"`
}

type MetricsConfig struct {
	Pyroscope PyroscopeConfig `yaml:"pyroscope"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err = yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Operational knobs only. Fixed constants (significance threshold,
// severity breakpoints) live in code, not here.
func (c *Config) applyDefaults() {
	if c.Detector.WhaleThresholdUSD <= 0 {
		c.Detector.WhaleThresholdUSD = 10_000
	}
	if c.Detector.RecentBuffer <= 0 {
		c.Detector.RecentBuffer = 100
	}
	if c.Detector.Retention <= 0 {
		c.Detector.Retention = 24 * time.Hour
	}
	if c.Impact.Retention <= 0 {
		c.Impact.Retention = 24 * time.Hour
	}
	if c.Alerts.Retention <= 0 {
		c.Alerts.Retention = 7 * 24 * time.Hour
	}
	if c.Dispatch.BatchInterval <= 0 {
		c.Dispatch.BatchInterval = 100 * time.Millisecond
	}
	if c.Dispatch.ImmediateWhaleUSD <= 0 {
		c.Dispatch.ImmediateWhaleUSD = 100_000
	}
	if c.Dispatch.SubscriberBuffer <= 0 {
		c.Dispatch.SubscriberBuffer = 64
	}
	if c.Dedupe.TTL <= 0 {
		c.Dedupe.TTL = 24 * time.Hour
	}
	if c.App.ShutdownTimeout <= 0 {
		c.App.ShutdownTimeout = 10 * time.Second
	}
	if c.Security.TrustedUserHeader == "" {
		c.Security.TrustedUserHeader = "X-User-ID"
	}
}
