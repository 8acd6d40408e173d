package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/calebrow/notifyd/internal/database"
)

// Config represents the runtime configuration for the notifyd backend.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Push       PushConfig       `mapstructure:"push"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Realtime   RealtimeConfig   `mapstructure:"realtime"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// PushConfig groups the delivery transports.
type PushConfig struct {
	WebPush       WebPushConfig `mapstructure:"webpush"`
	APNs          APNsConfig    `mapstructure:"apns"`
	DefaultIcon   string        `mapstructure:"default_icon"`
	FanOutTimeout time.Duration `mapstructure:"fan_out_timeout"`
}

// WebPushConfig holds the VAPID key pair for browser push.
type WebPushConfig struct {
	PublicKey  string `mapstructure:"public_key"`
	PrivateKey string `mapstructure:"private_key"`
	Subject    string `mapstructure:"subject"`
	TTL        int    `mapstructure:"ttl"`
}

// APNsConfig holds the token-based credentials for Apple push.
type APNsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	KeyID       string `mapstructure:"key_id"`
	TeamID      string `mapstructure:"team_id"`
	KeyPath     string `mapstructure:"key_path"`
	BundleID    string `mapstructure:"bundle_id"`
	Environment string `mapstructure:"environment"`
}

// RetentionConfig controls notification and subscription lifetimes.
type RetentionConfig struct {
	DefaultExpiryDays        int    `mapstructure:"default_expiry_days"`
	ArchivedDays             int    `mapstructure:"archived_days"`
	ReadDays                 int    `mapstructure:"read_days"`
	SubscriptionInactiveDays int    `mapstructure:"subscription_inactive_days"`
	SubscriptionUnusedDays   int    `mapstructure:"subscription_unused_days"`
	Schedule                 string `mapstructure:"schedule"`
	Enabled                  bool   `mapstructure:"enabled"`
}

// RealtimeConfig toggles the websocket surface.
type RealtimeConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DatabaseSettings converts the file/env representation into the connection
// parameters the database package expects.
func (c *Config) DatabaseSettings() database.Config {
	cfg := database.Config{
		Driver: c.Database.Driver,
		Path:   c.Database.Path,
		DSN:    c.Database.DSN,
	}

	switch strings.ToLower(c.Database.Driver) {
	case "postgres":
		cfg.Host = c.Database.Postgres.Host
		cfg.Port = c.Database.Postgres.Port
		cfg.Name = c.Database.Postgres.Database
		cfg.User = c.Database.Postgres.Username
		cfg.Password = c.Database.Postgres.Password
	case "mysql":
		cfg.Host = c.Database.MySQL.Host
		cfg.Port = c.Database.MySQL.Port
		cfg.Name = c.Database.MySQL.Database
		cfg.User = c.Database.MySQL.Username
		cfg.Password = c.Database.MySQL.Password
	}

	return cfg
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("NOTIFYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/notifyd.sqlite")

	v.SetDefault("push.webpush.subject", "")
	v.SetDefault("push.webpush.ttl", 86400)
	v.SetDefault("push.apns.enabled", false)
	v.SetDefault("push.apns.environment", "production")
	v.SetDefault("push.default_icon", "/icons/notification.png")
	v.SetDefault("push.fan_out_timeout", "2m")

	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.default_expiry_days", 30)
	v.SetDefault("retention.archived_days", 90)
	v.SetDefault("retention.read_days", 60)
	v.SetDefault("retention.subscription_inactive_days", 90)
	v.SetDefault("retention.subscription_unused_days", 180)
	v.SetDefault("retention.schedule", "0 3 * * *")

	v.SetDefault("realtime.enabled", true)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
