package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Config holds the runtime settings of the tendril host
	Config struct {
		LogLevel  string `yaml:"log_level"`
		LogFormat string `yaml:"log_format"`

		// Persistence
		Store         string      `yaml:"store"`
		FileDir       string      `yaml:"file_dir"`
		Redis         RedisConfig `yaml:"redis"`
		SQLiteDSN     string      `yaml:"sqlite_dsn"`
		CheckpointURL string      `yaml:"checkpoint_url"`
		EncryptionKey string      `yaml:"encryption_key"`
		MaskPII       bool        `yaml:"mask_pii"`

		// Flows and tasks
		FlowPaths []string `yaml:"flows"`
		ToolsPath string   `yaml:"tools"`

		// Server
		HTTPAddr      string        `yaml:"http_addr"`
		LockTTL       time.Duration `yaml:"lock_ttl"`
		TimerInterval time.Duration `yaml:"timer_interval"`
	}

	// RedisConfig configures the redis state store and locker
	RedisConfig struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix"`
		TTL      time.Duration `yaml:"ttl"`
	}
)

const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"

	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultFileDir       = ".tendril/processes"
	DefaultRedisAddr     = "localhost:6379"
	DefaultRedisPrefix   = "tendril"
	DefaultSQLiteDSN     = "file:tendril.db?_busy_timeout=5000"
	DefaultHTTPAddr      = ":8080"
	DefaultLockTTL       = 30 * time.Second
	DefaultTimerInterval = time.Second
	DefaultToolsPath     = "tools.yaml"

	MaxRedisDB = 15
)

var (
	ErrInvalidStore         = errors.New("invalid store kind")
	ErrInvalidLogFormat     = errors.New("invalid log format")
	ErrMissingFileDir       = errors.New("file store requires a directory")
	ErrMissingRedisAddr     = errors.New("redis store requires an address")
	ErrMissingSQLiteDSN     = errors.New("sqlite store requires a DSN")
	ErrInvalidEncryptionKey = errors.New(
		"encryption key must be 32 bytes, hex encoded",
	)
	ErrInvalidLockTTL = errors.New("lock TTL must be positive")
	ErrInvalidTimer   = errors.New("timer interval must be positive")
)

// NewDefault creates a configuration using the in-memory store
func NewDefault() *Config {
	return &Config{
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
		Store:     StoreMemory,
		FileDir:   DefaultFileDir,
		Redis: RedisConfig{
			Addr:   DefaultRedisAddr,
			Prefix: DefaultRedisPrefix,
		},
		SQLiteDSN:     DefaultSQLiteDSN,
		HTTPAddr:      DefaultHTTPAddr,
		LockTTL:       DefaultLockTTL,
		TimerInterval: DefaultTimerInterval,
		ToolsPath:     DefaultToolsPath,
	}
}

// Load reads the defaults, then overlays the YAML file at path (when not
// empty) and the TENDRIL_* environment variables
func Load(path string) (*Config, error) {
	c := NewDefault()
	if err := c.Overlay(path); err != nil {
		return nil, err
	}
	return c, nil
}

// Overlay applies the YAML file at path (when not empty) and then the
// environment on top of the current values
func (c *Config) Overlay(path string) error {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	return c.LoadFromEnv()
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed.
func (c *Config) LoadFromEnv() error {
	loadEnvString("TENDRIL_LOG_LEVEL", &c.LogLevel)
	loadEnvString("TENDRIL_LOG_FORMAT", &c.LogFormat)
	loadEnvString("TENDRIL_STORE", &c.Store)
	loadEnvString("TENDRIL_FILE_DIR", &c.FileDir)
	loadEnvString("TENDRIL_REDIS_ADDR", &c.Redis.Addr)
	loadEnvString("TENDRIL_REDIS_PASSWORD", &c.Redis.Password)
	loadEnvString("TENDRIL_REDIS_PREFIX", &c.Redis.Prefix)
	loadEnvString("TENDRIL_SQLITE_DSN", &c.SQLiteDSN)
	loadEnvString("TENDRIL_CHECKPOINT_URL", &c.CheckpointURL)
	loadEnvString("TENDRIL_ENCRYPTION_KEY", &c.EncryptionKey)
	loadEnvString("TENDRIL_HTTP_ADDR", &c.HTTPAddr)
	loadEnvString("TENDRIL_TOOLS", &c.ToolsPath)
	if v := os.Getenv("TENDRIL_FLOWS"); v != "" {
		c.FlowPaths = filepath.SplitList(v)
	}
	if v := os.Getenv("TENDRIL_MASK_PII"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid TENDRIL_MASK_PII: %q", v)
		}
		c.MaskPII = b
	}

	if err := loadEnvInt("TENDRIL_REDIS_DB", &c.Redis.DB, -1, MaxRedisDB); err != nil {
		return err
	}
	if err := loadEnvDuration("TENDRIL_REDIS_TTL", &c.Redis.TTL); err != nil {
		return err
	}
	if err := loadEnvDuration("TENDRIL_LOCK_TTL", &c.LockTTL); err != nil {
		return err
	}
	return loadEnvDuration("TENDRIL_TIMER_INTERVAL", &c.TimerInterval)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	switch c.LogFormat {
	case "text", "json", "console":
	default:
		return fmt.Errorf("%w: %s", ErrInvalidLogFormat, c.LogFormat)
	}

	switch c.Store {
	case StoreMemory:
	case StoreFile:
		if c.FileDir == "" {
			return ErrMissingFileDir
		}
	case StoreRedis:
		if c.Redis.Addr == "" {
			return ErrMissingRedisAddr
		}
	case StoreSQLite:
		if c.SQLiteDSN == "" {
			return ErrMissingSQLiteDSN
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStore, c.Store)
	}

	if c.EncryptionKey != "" {
		if _, err := c.Key(); err != nil {
			return err
		}
	}
	if c.LockTTL <= 0 {
		return ErrInvalidLockTTL
	}
	if c.TimerInterval <= 0 {
		return ErrInvalidTimer
	}
	return nil
}

// Key decodes the state encryption key. It returns nil when none is set.
func (c *Config) Key() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil || len(key) != 32 {
		return nil, ErrInvalidEncryptionKey
	}
	return key, nil
}

func loadEnvString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]
func loadEnvInt(key string, dst *int, min, max int) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	if v <= min || v > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, v, min+1, max)
	}
	*dst = v
	return nil
}

func loadEnvDuration(key string, dst *time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	*dst = d
	return nil
}
