package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLockTTL       = 10 * time.Second
	DefaultRetryInterval = 500 * time.Millisecond
	DefaultMaxRetry      = 10
	DefaultBatchSize     = 100
)

// backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBolt   = "bolt"
	BackendRaft   = "raft"

	SinkLog     = "log"
	SinkWebhook = "webhook"
)

type Config struct {
	Lock    LockConfig    `mapstructure:"lock"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Records RecordsConfig `mapstructure:"records"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
}

// tunables of the lock retry policy
// total wait before giving up is MaxRetry * RetryInterval
type LockConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	MaxRetry      int           `mapstructure:"max_retry"`
}

type SyncConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

type CacheConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	DB          int           `mapstructure:"db"`
	Password    string        `mapstructure:"password"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxActive   int           `mapstructure:"max_active"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

type RecordsConfig struct {
	Backend string     `mapstructure:"backend"`
	DataDir string     `mapstructure:"data_dir"`
	Raft    RaftConfig `mapstructure:"raft"`
}

type RaftConfig struct {
	NodeID    string `mapstructure:"node_id"`
	BindAddr  string `mapstructure:"bind_addr"`
	Bootstrap bool   `mapstructure:"bootstrap"`
}

type NotifyConfig struct {
	Sink       string        `mapstructure:"sink"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Workers    int           `mapstructure:"workers"`
	QueueSize  int           `mapstructure:"queue_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	GRPCAddr string `mapstructure:"grpc_addr"`
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

func Default() *Config {
	return &Config{
		Lock: LockConfig{
			TTL:           DefaultLockTTL,
			RetryInterval: DefaultRetryInterval,
			MaxRetry:      DefaultMaxRetry,
		},
		Sync: SyncConfig{BatchSize: DefaultBatchSize},
		Cache: CacheConfig{
			Backend: BackendMemory,
			Redis: RedisConfig{
				Addr:        "127.0.0.1:6379",
				MaxIdle:     8,
				MaxActive:   64,
				IdleTimeout: 5 * time.Minute,
			},
		},
		Records: RecordsConfig{
			Backend: BackendMemory,
			DataDir: "./data",
			Raft: RaftConfig{
				BindAddr: "127.0.0.1:7000",
			},
		},
		Notify: NotifyConfig{
			Sink:      SinkLog,
			Workers:   4,
			QueueSize: 1024,
			Timeout:   5 * time.Second,
		},
		Server: ServerConfig{
			GRPCAddr: ":9000",
			HTTPAddr: ":8080",
		},
		Log: LogConfig{Level: "info"},
	}
}

// registers defaults on v so that env vars and flags are visible to Unmarshal
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("lock.ttl", cfg.Lock.TTL)
	v.SetDefault("lock.retry_interval", cfg.Lock.RetryInterval)
	v.SetDefault("lock.max_retry", cfg.Lock.MaxRetry)
	v.SetDefault("sync.batch_size", cfg.Sync.BatchSize)
	v.SetDefault("cache.backend", cfg.Cache.Backend)
	v.SetDefault("cache.redis.addr", cfg.Cache.Redis.Addr)
	v.SetDefault("cache.redis.db", cfg.Cache.Redis.DB)
	v.SetDefault("cache.redis.password", cfg.Cache.Redis.Password)
	v.SetDefault("cache.redis.max_idle", cfg.Cache.Redis.MaxIdle)
	v.SetDefault("cache.redis.max_active", cfg.Cache.Redis.MaxActive)
	v.SetDefault("cache.redis.idle_timeout", cfg.Cache.Redis.IdleTimeout)
	v.SetDefault("records.backend", cfg.Records.Backend)
	v.SetDefault("records.data_dir", cfg.Records.DataDir)
	v.SetDefault("records.raft.node_id", cfg.Records.Raft.NodeID)
	v.SetDefault("records.raft.bind_addr", cfg.Records.Raft.BindAddr)
	v.SetDefault("records.raft.bootstrap", cfg.Records.Raft.Bootstrap)
	v.SetDefault("notify.sink", cfg.Notify.Sink)
	v.SetDefault("notify.webhook_url", cfg.Notify.WebhookURL)
	v.SetDefault("notify.workers", cfg.Notify.Workers)
	v.SetDefault("notify.queue_size", cfg.Notify.QueueSize)
	v.SetDefault("notify.timeout", cfg.Notify.Timeout)
	v.SetDefault("server.grpc_addr", cfg.Server.GRPCAddr)
	v.SetDefault("server.http_addr", cfg.Server.HTTPAddr)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.json", cfg.Log.JSON)
}

// Load reads configuration from (in increasing precedence) defaults, the
// optional file at path, ROOMKEY_* environment variables and flags.
// Flag names use the dotted config keys, e.g. --lock.ttl.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("roomkey")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Lock.TTL <= 0 {
		errs = append(errs, errors.New("lock.ttl must be positive"))
	}
	if c.Lock.RetryInterval <= 0 {
		errs = append(errs, errors.New("lock.retry_interval must be positive"))
	}
	if c.Lock.MaxRetry <= 0 {
		errs = append(errs, errors.New("lock.max_retry must be positive"))
	}
	if c.Sync.BatchSize <= 0 {
		errs = append(errs, errors.New("sync.batch_size must be positive"))
	}

	switch c.Cache.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr required for redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}

	switch c.Records.Backend {
	case BackendMemory:
	case BackendBolt, BackendRaft:
		if c.Records.DataDir == "" {
			errs = append(errs, fmt.Errorf("records.data_dir required for %s backend", c.Records.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown records backend %q", c.Records.Backend))
	}

	switch c.Notify.Sink {
	case SinkLog:
	case SinkWebhook:
		if c.Notify.WebhookURL == "" {
			errs = append(errs, errors.New("notify.webhook_url required for webhook sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notify sink %q", c.Notify.Sink))
	}
	if c.Notify.Workers <= 0 || c.Notify.QueueSize <= 0 {
		errs = append(errs, errors.New("notify.workers and notify.queue_size must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
