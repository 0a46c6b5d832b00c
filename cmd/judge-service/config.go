package main

import (
	"fmt"
	"os"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	"codejudge/internal/common/mq"
	"codejudge/internal/common/storage"
	"codejudge/internal/judge/controller"
	"codejudge/internal/judge/judgeclient"
	"codejudge/internal/judge/service"
	"codejudge/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultDrainTimeout    = 2 * time.Minute
	defaultStatusTTL       = 24 * time.Hour
	defaultCatalogCacheTTL = 30 * time.Second
	defaultCatalogCacheSz  = 10000
	defaultPersistTimeout  = 10 * time.Second
	defaultStatusTopic     = "judge.status.final"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	// DrainTimeout bounds the wait for in-flight submissions on shutdown.
	DrainTimeout time.Duration `yaml:"drainTimeout"`
}

// AuthConfig holds access token validation settings.
type AuthConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// Judge0Config holds remote judge client settings.
type Judge0Config struct {
	BaseURL          string        `yaml:"baseURL"`
	AuthHeader       string        `yaml:"authHeader"`
	AuthToken        string        `yaml:"authToken"`
	PollInterval     time.Duration `yaml:"pollInterval"`
	MaxWallTime      time.Duration `yaml:"maxWallTime"`
	RequestTimeout   time.Duration `yaml:"requestTimeout"`
	MaxMemoryKB      int64         `yaml:"maxMemoryKB"`
	MaxCPUTime       time.Duration `yaml:"maxCPUTime"`
	MaxWallTimeLimit time.Duration `yaml:"maxWallTimeLimit"`
	WallTimeFactor   float64       `yaml:"wallTimeFactor"`
}

// TimeoutConfig holds timeouts for external calls.
type TimeoutConfig struct {
	Catalog time.Duration `yaml:"catalog"`
	DB      time.Duration `yaml:"db"`
	Cache   time.Duration `yaml:"cache"`
	Storage time.Duration `yaml:"storage"`
	MQ      time.Duration `yaml:"mq"`
	Persist time.Duration `yaml:"persist"`
}

// JudgeConfig holds orchestration settings.
type JudgeConfig struct {
	MaxConcurrentSubmissions int           `yaml:"maxConcurrentSubmissions"`
	MaxParallelTests         int           `yaml:"maxParallelTests"`
	MaxCodeChars             int           `yaml:"maxCodeChars"`
	QueueTimeout             time.Duration `yaml:"queueTimeout"`
	LockTTL                  time.Duration `yaml:"lockTTL"`
	PersistRetries           int           `yaml:"persistRetries"`
	PersistBackoff           time.Duration `yaml:"persistBackoff"`
	PersistBackoffMax        time.Duration `yaml:"persistBackoffMax"`
	StatusTTL                time.Duration `yaml:"statusTTL"`
	CatalogCacheTTL          time.Duration `yaml:"catalogCacheTTL"`
	CatalogCacheSize         int64         `yaml:"catalogCacheSize"`
	StatusTopic              string        `yaml:"statusTopic"`
	SourcePrefix             string        `yaml:"sourcePrefix"`
	Timeouts                 TimeoutConfig `yaml:"timeouts"`
}

// MetricsConfig holds prometheus settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AppConfig holds judge-service config.
type AppConfig struct {
	Server   ServerConfig           `yaml:"server"`
	Logger   logger.Config          `yaml:"logger"`
	Database db.MySQLConfig         `yaml:"database"`
	Redis    cache.RedisConfig      `yaml:"redis"`
	Kafka    mq.KafkaConfig         `yaml:"kafka"`
	MinIO    storage.MinIOConfig    `yaml:"minio"`
	Auth     AuthConfig             `yaml:"auth"`
	Judge0   Judge0Config           `yaml:"judge0"`
	Judge    JudgeConfig            `yaml:"judge"`
	Watch    controller.WatchConfig `yaml:"watch"`
	Metrics  MetricsConfig          `yaml:"metrics"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Judge0.BaseURL == "" {
		return nil, fmt.Errorf("judge0 baseURL is required")
	}
	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("auth secret is required")
	}
	applyRedisDefaults(&cfg.Redis)
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.DrainTimeout == 0 {
		cfg.Server.DrainTimeout = defaultDrainTimeout
	}
	if cfg.Judge.StatusTTL == 0 {
		cfg.Judge.StatusTTL = defaultStatusTTL
	}
	if cfg.Judge.CatalogCacheTTL == 0 {
		cfg.Judge.CatalogCacheTTL = defaultCatalogCacheTTL
	}
	if cfg.Judge.CatalogCacheSize <= 0 {
		cfg.Judge.CatalogCacheSize = defaultCatalogCacheSz
	}
	if cfg.Judge.StatusTopic == "" {
		cfg.Judge.StatusTopic = defaultStatusTopic
	}
	if cfg.Judge.Timeouts.Persist == 0 {
		cfg.Judge.Timeouts.Persist = defaultPersistTimeout
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	return &cfg, nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
}

func (j Judge0Config) toClientConfig() judgeclient.Config {
	return judgeclient.Config{
		BaseURL:          j.BaseURL,
		AuthHeader:       j.AuthHeader,
		AuthToken:        j.AuthToken,
		PollInterval:     j.PollInterval,
		MaxWallTime:      j.MaxWallTime,
		RequestTimeout:   j.RequestTimeout,
		MaxMemoryKB:      j.MaxMemoryKB,
		MaxCPUTime:       j.MaxCPUTime,
		MaxWallTimeLimit: j.MaxWallTimeLimit,
		WallTimeFactor:   j.WallTimeFactor,
	}
}

func (t TimeoutConfig) toServiceTimeouts() service.TimeoutConfig {
	return service.TimeoutConfig{
		Catalog: t.Catalog,
		DB:      t.DB,
		Cache:   t.Cache,
		Storage: t.Storage,
		MQ:      t.MQ,
		Persist: t.Persist,
	}
}
