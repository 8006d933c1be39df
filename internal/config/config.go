package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	Secret     string `mapstructure:"secret"`
	AdminToken string `mapstructure:"admin_token"`
	// CommandLimit mutating admin requests are allowed per client in CommandWindow.
	CommandLimit  int           `mapstructure:"command_limit"`
	CommandWindow time.Duration `mapstructure:"command_window"`

	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Store     StoreConfig     `mapstructure:"store"`
	Platform  PlatformConfig  `mapstructure:"platform"`
}

type LifecycleConfig struct {
	GracePeriod        time.Duration `mapstructure:"grace_period"`
	MaxRoomsPerMember  int           `mapstructure:"max_rooms_per_member"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	SweepOnStart       bool          `mapstructure:"sweep_on_start"`
	ConfirmTimeout     time.Duration `mapstructure:"confirm_timeout"`
	PersistRetryWindow time.Duration `mapstructure:"persist_retry_window"`
}

type StoreConfig struct {
	Driver        string `mapstructure:"driver"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

type PlatformConfig struct {
	APIURL         string        `mapstructure:"api_url"`
	GatewayURL     string        `mapstructure:"gateway_url"`
	Token          string        `mapstructure:"token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "")
	v.SetDefault("admin_token", "")
	v.SetDefault("command_limit", 10)
	v.SetDefault("command_window", "1m")

	v.SetDefault("lifecycle.grace_period", "5s")
	v.SetDefault("lifecycle.max_rooms_per_member", 2)
	v.SetDefault("lifecycle.sweep_interval", "8h")
	v.SetDefault("lifecycle.sweep_on_start", false)
	v.SetDefault("lifecycle.confirm_timeout", "20s")
	v.SetDefault("lifecycle.persist_retry_window", "2m")

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.key_prefix", "tempvoice:")

	v.SetDefault("platform.api_url", "")
	v.SetDefault("platform.gateway_url", "")
	v.SetDefault("platform.token", "")
	v.SetDefault("platform.request_timeout", "10s")
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default). Every key can
// be overridden from the environment with the TEMPVOICE_ prefix, e.g.
// TEMPVOICE_STORE_DRIVER.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("TEMPVOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("store", cfg.Store.Driver).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn is required for the postgres driver")
		}
	case DriverRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Lifecycle.MaxRoomsPerMember < 1 {
		return fmt.Errorf("lifecycle.max_rooms_per_member must be at least 1")
	}
	if c.Lifecycle.GracePeriod <= 0 || c.Lifecycle.SweepInterval <= 0 || c.Lifecycle.ConfirmTimeout <= 0 {
		return fmt.Errorf("lifecycle durations must be positive")
	}
	return nil
}
