// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Bot      BotConfig      `mapstructure:"bot"`
	Log      LogConfig      `mapstructure:"log"`
	Code     CodeConfig     `mapstructure:"code"`
	Reward   RewardConfig   `mapstructure:"reward"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Client   ClientConfig   `mapstructure:"client"`
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"` // requests per second per client
	RateBurst       int           `mapstructure:"rate_burst"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// RedisConfig holds the claim cache connection. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// BotConfig holds Telegram bot configuration. An empty token disables the bot.
type BotConfig struct {
	Token     string  `mapstructure:"token"`
	Whitelist []int64 `mapstructure:"whitelist"`
	Admins    []int64 `mapstructure:"admins"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // console or json
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// CodeConfig holds the daily code calendar.
type CodeConfig struct {
	Timezone     string        `mapstructure:"timezone"`
	RolloverHour int           `mapstructure:"rollover_hour"`
	ClaimWindow  time.Duration `mapstructure:"claim_window"`
	StreakWindow time.Duration `mapstructure:"streak_window"`
	Digits       int           `mapstructure:"digits"`
}

// RewardConfig holds the reward curve.
type RewardConfig struct {
	Base        int64             `mapstructure:"base"`
	Cap         int64             `mapstructure:"cap"`
	CycleLength int               `mapstructure:"cycle_length"`
	Promotions  []PromotionConfig `mapstructure:"promotions"`
}

// PromotionConfig is a multiplier window.
type PromotionConfig struct {
	Name       string    `mapstructure:"name"`
	Start      time.Time `mapstructure:"start"`
	End        time.Time `mapstructure:"end"`
	Multiplier float64   `mapstructure:"multiplier"`
}

// JobsConfig holds the scheduled job configuration.
type JobsConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	RolloverSpec  string `mapstructure:"rollover_spec"`
	PruneSpec     string `mapstructure:"prune_spec"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// ClientConfig holds the countdown client settings used by coinctl.
type ClientConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	Tick           time.Duration `mapstructure:"tick"`
	ResyncInterval time.Duration `mapstructure:"resync_interval"`
	ClaimTimeout   time.Duration `mapstructure:"claim_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. DATABASE_HOST, AUTH_JWT_SECRET, CODE_ROLLOVER_HOUR
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToTimeHookFunc(time.RFC3339),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hooks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 10)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "uticoins")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "uticoins")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("storage.driver", StoragePostgres)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "48h")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "uticoins")
	v.SetDefault("auth.token_ttl", "720h")

	v.SetDefault("bot.token", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)

	v.SetDefault("code.timezone", "America/Sao_Paulo")
	v.SetDefault("code.rollover_hour", 20)
	v.SetDefault("code.claim_window", "23h")
	v.SetDefault("code.streak_window", "24h")
	v.SetDefault("code.digits", 6)

	v.SetDefault("reward.base", 30)
	v.SetDefault("reward.cap", 70)
	v.SetDefault("reward.cycle_length", 7)

	v.SetDefault("jobs.enabled", true)
	v.SetDefault("jobs.rollover_spec", "0 20 * * *")
	v.SetDefault("jobs.prune_spec", "30 4 * * *")
	v.SetDefault("jobs.retention_days", 14)

	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.token", "")
	v.SetDefault("client.tick", "1s")
	v.SetDefault("client.resync_interval", "30s")
	v.SetDefault("client.claim_timeout", "10s")
	v.SetDefault("client.request_timeout", "5s")
}

// Validate checks the settings the ledger cannot run without.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case StoragePostgres, StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q must be %q or %q", c.Storage.Driver, StoragePostgres, StorageMemory))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Code.RolloverHour < 0 || c.Code.RolloverHour > 23 {
		errs = append(errs, fmt.Errorf("code.rollover_hour %d out of range", c.Code.RolloverHour))
	}
	if c.Code.ClaimWindow <= 0 || c.Code.StreakWindow < c.Code.ClaimWindow || c.Code.StreakWindow > 24*time.Hour {
		errs = append(errs, fmt.Errorf("code windows must satisfy 0 < claim_window (%s) <= streak_window (%s) <= 24h",
			c.Code.ClaimWindow, c.Code.StreakWindow))
	}
	if c.Reward.CycleLength < 2 {
		errs = append(errs, fmt.Errorf("reward.cycle_length %d must be at least 2", c.Reward.CycleLength))
	}
	if c.Reward.Base < 0 || c.Reward.Cap < c.Reward.Base {
		errs = append(errs, fmt.Errorf("reward requires 0 <= base (%d) <= cap (%d)", c.Reward.Base, c.Reward.Cap))
	}
	for _, p := range c.Reward.Promotions {
		if p.Multiplier <= 0 || !p.Start.Before(p.End) {
			errs = append(errs, fmt.Errorf("promotion %q needs a positive multiplier and start < end", p.Name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Bot.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

// IsChatAllowed checks if a chat ID is in the whitelist.
func (c *Config) IsChatAllowed(chatID int64) bool {
	// Empty whitelist means all chats are allowed
	if len(c.Bot.Whitelist) == 0 {
		return true
	}
	for _, id := range c.Bot.Whitelist {
		if id == chatID {
			return true
		}
	}
	return false
}
