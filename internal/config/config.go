// Package config loads application configuration from file, environment
// and .env, in that order of precedence (environment wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// CacheBackend identifies the persistent cache store.
type CacheBackend string

const (
	CacheBackendBolt  CacheBackend = "bolt"
	CacheBackendRedis CacheBackend = "redis"
)

// Config holds all application configuration
type Config struct {
	Project ProjectConfig `mapstructure:"project"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Player  PlayerConfig  `mapstructure:"player"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ProjectConfig identifies the hosted catalog project and its credentials
type ProjectConfig struct {
	ID           string `mapstructure:"id"`
	APIBaseURL   string `mapstructure:"api_base_url"`
	RefreshToken string `mapstructure:"refresh_token"`
}

// CacheConfig selects and parameterizes the persistent cache store
type CacheConfig struct {
	Backend CacheBackend `mapstructure:"backend"` // "bolt" or "redis"
	Dir     string       `mapstructure:"dir"`     // bolt only
	Redis   RedisConfig  `mapstructure:"redis"`
}

// RedisConfig holds the redis cache backend settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PlayerConfig holds playback defaults
type PlayerConfig struct {
	Volume int `mapstructure:"volume"` // 0-100
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Project: ProjectConfig{
			APIBaseURL: "https://api.streamlayer.example.com/v1",
		},
		Cache: CacheConfig{
			Backend: CacheBackendBolt,
			Dir:     defaultCachePath(),
			Redis: RedisConfig{
				Host: "localhost",
				Port: 6379,
			},
		},
		Player: PlayerConfig{
			Volume: 100,
		},
		Logging: LoggingConfig{
			File:  defaultLogPath(),
			Level: "INFO",
		},
	}
}

// LoadConfig loads configuration from file and environment. A .env file
// in the working directory is folded into the environment first, so
// STREAMLAYER_PROJECT_REFRESH_TOKEN can live there instead of the shell.
func LoadConfig() (*Config, error) {
	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(defaultConfigPath())
	v.AddConfigPath(".")

	v.SetEnvPrefix("STREAMLAYER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Register every key so AutomaticEnv can surface env-only values
	// through Unmarshal.
	v.SetDefault("project.id", cfg.Project.ID)
	v.SetDefault("project.api_base_url", cfg.Project.APIBaseURL)
	v.SetDefault("project.refresh_token", cfg.Project.RefreshToken)
	v.SetDefault("cache.backend", string(cfg.Cache.Backend))
	v.SetDefault("cache.dir", cfg.Cache.Dir)
	v.SetDefault("cache.redis.host", cfg.Cache.Redis.Host)
	v.SetDefault("cache.redis.port", cfg.Cache.Redis.Port)
	v.SetDefault("cache.redis.password", cfg.Cache.Redis.Password)
	v.SetDefault("cache.redis.db", cfg.Cache.Redis.DB)
	v.SetDefault("player.volume", cfg.Player.Volume)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.level", cfg.Logging.Level)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the application assumes.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case CacheBackendBolt, CacheBackendRedis:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Player.Volume < 0 || c.Player.Volume > 100 {
		return fmt.Errorf("player volume %d out of range 0-100", c.Player.Volume)
	}
	return nil
}

// IsConfigured returns true if the project credentials are set
func (c *Config) IsConfigured() bool {
	return c.Project.ID != "" && c.Project.RefreshToken != ""
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "streamlayer", "streamlayer.log")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "streamlayer", "streamlayer.log")
	}
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "streamlayer")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "streamlayer")
	}
}

// defaultCachePath returns the default cache directory for the current OS
func defaultCachePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "streamlayer", "cache")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "streamlayer", "cache")
	}
}
