package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/ari-calllog/internal/ari"
	"github.com/sweeney/ari-calllog/internal/backoff"
)

// Environment variables that override secrets in the config file.
const (
	EnvARIUsername   = "ARI_CALLLOG_ARI_USERNAME"
	EnvARIPassword   = "ARI_CALLLOG_ARI_PASSWORD"
	EnvCallLogDSN    = "ARI_CALLLOG_CALLLOG_DSN"
	EnvRedisPassword = "ARI_CALLLOG_REDIS_PASSWORD"
)

type Config struct {
	ARI       ARIConfig       `yaml:"ari"`
	Backoff   BackoffConfig   `yaml:"backoff"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Finalizer FinalizerConfig `yaml:"finalizer"`
	CallLog   CallLogConfig   `yaml:"calllog"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Directory DirectoryConfig `yaml:"directory"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ARIConfig struct {
	EventsURL string `yaml:"events_url"`
	RESTURL   string `yaml:"rest_url"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	App       string `yaml:"app"`
}

type BackoffConfig struct {
	Min        time.Duration `yaml:"min"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

type TrackerConfig struct {
	OrphanMaxAge       time.Duration `yaml:"orphan_max_age"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	FinalizedCacheSize int           `yaml:"finalized_cache_size"`
}

type FinalizerConfig struct {
	Workers       int           `yaml:"workers"`
	QueueDepth    int           `yaml:"queue_depth"`
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryMin      time.Duration `yaml:"retry_min"`
	RetryMax      time.Duration `yaml:"retry_max"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

type CallLogConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

type DirectoryConfig struct {
	Endpoints []string    `yaml:"endpoints"`
	Redis     RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`

	// CacheTTL bounds how long a membership answer is reused.
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	CacheSize int           `yaml:"cache_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Policy returns the reconnect schedule.
func (b BackoffConfig) Policy() backoff.Policy {
	return backoff.Policy{Min: b.Min, Max: b.Max, Multiplier: b.Multiplier, Jitter: b.Jitter}
}

// RetryPolicy returns the call log submission retry schedule.
func (f FinalizerConfig) RetryPolicy() backoff.Policy {
	return backoff.Policy{Min: f.RetryMin, Max: f.RetryMax, Multiplier: 2}
}

// Default returns the configuration used for every field the file omits.
func Default() *Config {
	return &Config{
		ARI: ARIConfig{
			EventsURL: "ws://127.0.0.1:8088/ari/events",
			App:       "calllog",
		},
		Backoff: BackoffConfig{
			Min:        5 * time.Second,
			Max:        60 * time.Second,
			Multiplier: 2,
		},
		Tracker: TrackerConfig{
			OrphanMaxAge:       30 * time.Minute,
			SweepInterval:      60 * time.Second,
			FinalizedCacheSize: 10000,
		},
		Finalizer: FinalizerConfig{
			Workers:       4,
			QueueDepth:    1024,
			MaxAttempts:   5,
			RetryMin:      500 * time.Millisecond,
			RetryMax:      10 * time.Second,
			ShutdownGrace: 15 * time.Second,
		},
		CallLog: CallLogConfig{
			Driver: "sqlite",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "ari-calllog",
			TopicPrefix: "calllog",
			QoS:         1,
		},
		Directory: DirectoryConfig{
			Redis: RedisConfig{
				Key:       "endpoints",
				CacheTTL:  30 * time.Second,
				CacheSize: 4096,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Listen: ":9102",
		},
	}
}

// LoadEnvFile loads variables from a dotenv file into the environment.
// Variables already set are kept. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file: %w", err)
	}
	return nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.ARI.RESTURL == "" && cfg.ARI.EventsURL != "" {
		if rest, err := ari.RESTURL(cfg.ARI.EventsURL); err == nil {
			cfg.ARI.RESTURL = rest
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	for env, field := range map[string]*string{
		EnvARIUsername:   &c.ARI.Username,
		EnvARIPassword:   &c.ARI.Password,
		EnvCallLogDSN:    &c.CallLog.DSN,
		EnvRedisPassword: &c.Directory.Redis.Password,
	} {
		if v, ok := os.LookupEnv(env); ok {
			*field = v
		}
	}
	if v, ok := os.LookupEnv("ARI_CALLLOG_MQTT_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ARI_CALLLOG_MQTT_ENABLED: %w", err)
		}
		c.MQTT.Enabled = enabled
	}
	return nil
}

// SinkConfigured reports whether at least one call log destination is set.
func (c *Config) SinkConfigured() bool {
	return c.CallLog.DSN != "" || c.MQTT.Enabled
}

func (c *Config) validate() error {
	if c.ARI.EventsURL == "" {
		return fmt.Errorf("ari.events_url is required")
	}
	if _, err := ari.SubscriptionURL(c.ARI.EventsURL, c.ARI.App); err != nil {
		return fmt.Errorf("ari.events_url: %w", err)
	}
	if c.ARI.Username == "" {
		return fmt.Errorf("ari.username is required")
	}
	if c.ARI.Password == "" {
		return fmt.Errorf("ari.password is required")
	}
	if c.ARI.App == "" {
		return fmt.Errorf("ari.app is required")
	}

	if c.Backoff.Min <= 0 {
		return fmt.Errorf("backoff.min must be positive, got %s", c.Backoff.Min)
	}
	if c.Backoff.Max < c.Backoff.Min {
		return fmt.Errorf("backoff.max must be at least backoff.min, got %s", c.Backoff.Max)
	}
	if c.Backoff.Multiplier < 1 {
		return fmt.Errorf("backoff.multiplier must be at least 1, got %g", c.Backoff.Multiplier)
	}
	if c.Backoff.Jitter < 0 || c.Backoff.Jitter > 1 {
		return fmt.Errorf("backoff.jitter must be between 0 and 1, got %g", c.Backoff.Jitter)
	}

	if c.Tracker.OrphanMaxAge <= 0 {
		return fmt.Errorf("tracker.orphan_max_age must be positive, got %s", c.Tracker.OrphanMaxAge)
	}
	if c.Tracker.SweepInterval <= 0 {
		return fmt.Errorf("tracker.sweep_interval must be positive, got %s", c.Tracker.SweepInterval)
	}
	if c.Tracker.FinalizedCacheSize < 1 {
		return fmt.Errorf("tracker.finalized_cache_size must be at least 1, got %d", c.Tracker.FinalizedCacheSize)
	}

	if c.Finalizer.Workers < 1 {
		return fmt.Errorf("finalizer.workers must be at least 1, got %d", c.Finalizer.Workers)
	}
	if c.Finalizer.QueueDepth < 1 {
		return fmt.Errorf("finalizer.queue_depth must be at least 1, got %d", c.Finalizer.QueueDepth)
	}
	if c.Finalizer.MaxAttempts < 1 {
		return fmt.Errorf("finalizer.max_attempts must be at least 1, got %d", c.Finalizer.MaxAttempts)
	}
	if c.Finalizer.RetryMin <= 0 || c.Finalizer.RetryMax < c.Finalizer.RetryMin {
		return fmt.Errorf("finalizer.retry_min must be positive and not above finalizer.retry_max")
	}

	if rc := c.Directory.Redis; rc.Addr != "" {
		if rc.CacheTTL <= 0 {
			return fmt.Errorf("directory.redis.cache_ttl must be positive, got %s", rc.CacheTTL)
		}
		if rc.CacheSize < 1 {
			return fmt.Errorf("directory.redis.cache_size must be at least 1, got %d", rc.CacheSize)
		}
	}

	if !c.SinkConfigured() {
		return fmt.Errorf("no call log sink configured: set calllog.dsn or mqtt.enabled")
	}
	if c.CallLog.DSN != "" {
		switch c.CallLog.Driver {
		case "sqlite", "mysql", "postgres":
		default:
			return fmt.Errorf("calllog.driver must be sqlite, mysql or postgres, got %q", c.CallLog.Driver)
		}
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required")
		}
		if c.MQTT.ClientID == "" {
			return fmt.Errorf("mqtt.client_id is required")
		}
		if c.MQTT.TopicPrefix == "" {
			return fmt.Errorf("mqtt.topic_prefix is required")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}
