package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "CVTRIAGE"

// Config represents runtime configuration for the service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Inference InferenceConfig `mapstructure:"inference"`
	Credits   CreditsConfig   `mapstructure:"credits"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	SoftUploadBytes int64         `mapstructure:"soft_upload_bytes"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	DSN             string `mapstructure:"dsn"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	PasswordFile    string `mapstructure:"password_file"`
	DBName          string `mapstructure:"dbname"`
	Params          string `mapstructure:"params"`
	AtomicIncrement bool   `mapstructure:"atomic_increment"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type InferenceConfig struct {
	Provider     string        `mapstructure:"provider"`
	Model        string        `mapstructure:"model"`
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	APIKeyFile   string        `mapstructure:"api_key_file"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Temperature  float32       `mapstructure:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	MaxLogLength int           `mapstructure:"max_log_length"`
}

// CreditsConfig controls quota defaults. BootstrapAdminEmail is empty by
// default, which disables silent admin elevation during lazy profile creation.
type CreditsConfig struct {
	DefaultLimit        int    `mapstructure:"default_limit"`
	BootstrapAdminEmail string `mapstructure:"bootstrap_admin_email"`
	BootstrapAdminLimit int    `mapstructure:"bootstrap_admin_limit"`
}

type AuthConfig struct {
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type WorkerConfig struct {
	MaxWorkers  int           `mapstructure:"max_workers"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

type LogConfig struct {
	JSON  bool `mapstructure:"json"`
	Debug bool `mapstructure:"debug"`
}

// Load reads configuration from the provided path. Without a path it looks
// for cvtriage.{yaml,json,toml} in the working directory and falls back to
// defaults plus CVTRIAGE_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		v.SetConfigFile(absPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", absPath, err)
		}
	} else {
		v.SetConfigName("cvtriage")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Database.Driver == "sqlite3" && cfg.Database.DSN != "" && cfg.Database.DSN != ":memory:" &&
		!filepath.IsAbs(cfg.Database.DSN) && !strings.HasPrefix(cfg.Database.DSN, "file:") {
		if used := v.ConfigFileUsed(); used != "" {
			cfg.Database.DSN = filepath.Join(filepath.Dir(used), cfg.Database.DSN)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8090")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_upload_bytes", 20<<20)
	v.SetDefault("server.soft_upload_bytes", 5<<20)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "cvtriage.db")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.password_file", "")
	v.SetDefault("database.dbname", "cvtriage")
	v.SetDefault("database.params", "")
	v.SetDefault("database.atomic_increment", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("inference.provider", "gemini")
	v.SetDefault("inference.model", "gemini-3-flash-preview")
	v.SetDefault("inference.base_url", "")
	v.SetDefault("inference.api_key", "")
	v.SetDefault("inference.api_key_file", "")
	v.SetDefault("inference.timeout", 60*time.Second)
	v.SetDefault("inference.temperature", 0.1)
	v.SetDefault("inference.max_tokens", 4096)
	v.SetDefault("inference.max_log_length", 200)

	v.SetDefault("credits.default_limit", 3)
	v.SetDefault("credits.bootstrap_admin_email", "")
	v.SetDefault("credits.bootstrap_admin_limit", 9999)

	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("worker.max_workers", 8)
	v.SetDefault("worker.task_timeout", 30*time.Second)

	v.SetDefault("log.json", false)
	v.SetDefault("log.debug", false)
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "sqlite3", "mysql", "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	switch strings.ToLower(c.Inference.Provider) {
	case "gemini", "openai", "claude":
	default:
		return fmt.Errorf("unsupported inference provider: %s", c.Inference.Provider)
	}
	if c.Inference.Timeout <= 0 {
		return errors.New("inference.timeout must be positive")
	}
	if c.Credits.DefaultLimit < 0 {
		return errors.New("credits.default_limit must not be negative")
	}
	if c.Worker.MaxWorkers <= 0 {
		return errors.New("worker.max_workers must be positive")
	}
	return nil
}
