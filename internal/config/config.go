// Package config loads wg-limiterd's configuration from built-in defaults,
// an optional YAML file, and environment variables, in that order of
// increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting the daemon needs at startup. CLI flags (see
// cmd/wg-limiterd) override whatever Load produces for the fields they
// cover; everything else comes from here.
type Config struct {
	Environment string         `mapstructure:"environment"`
	Database    DatabaseConfig `mapstructure:"database"`
	Limiter     LimiterConfig  `mapstructure:"limiter"`
	Metrics     MetricsConfig  `mapstructure:"metrics"`
	Log         LogConfig      `mapstructure:"log"`
}

// DatabaseConfig describes the shared dashboard Postgres instance that
// holds per-peer limit settings and receives persisted session snapshots.
// Host/User/Password/Database/SSLMode below are a standalone fallback only
// (e.g. local development with no dashboard installed) — in normal
// operation the connection string comes from DashboardConfigPath via
// DashboardDSN, identical to the one the dashboard itself connects with.
// See Source for which one actually won.
type DatabaseConfig struct {
	DashboardConfigPath string `mapstructure:"dashboard_config_path"`

	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	Database     string        `mapstructure:"database"`
	SSLMode      string        `mapstructure:"ssl_mode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	ConnTimeout  time.Duration `mapstructure:"conn_timeout"`

	// Source records where DSN() got its connection string from: "dashboard"
	// when DashboardConfigPath was read successfully, "standalone" when it
	// fell back to the fields above. Set by Load, not by the caller.
	Source string `mapstructure:"-"`

	dsn string
}

// DSN renders the DatabaseConfig as a libpq connection string: the
// dashboard-sourced one if Load found it, otherwise the standalone fields.
func (d DatabaseConfig) DSN() string {
	if d.dsn != "" {
		return d.dsn
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// ApplyDSN overrides DSN()'s result with an already-resolved connection
// string, e.g. one freshly re-read after a --dashboard-config flag override.
func (d *DatabaseConfig) ApplyDSN(dsn string) {
	d.dsn = dsn
}

// LimiterConfig controls the daemon's polling loop.
type LimiterConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	WireguardBin string        `mapstructure:"wireguard_bin"`
}

// MetricsConfig controls the optional HTTP surface exposing /healthz and
// /metrics. Set Addr to "" to disable it entirely.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig controls zap's output and, when File is set, rotation via
// lumberjack.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads config.yaml from the working directory, /etc/wg-limiterd, or
// ./config, falling back to defaults for anything the file omits.
// WGLIMITERD_-prefixed environment variables override both the file and the
// defaults. A missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/wg-limiterd")

	v.SetEnvPrefix("WGLIMITERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if dsn, err := DashboardDSN(cfg.Database.DashboardConfigPath); err == nil {
		cfg.Database.ApplyDSN(dsn)
		cfg.Database.Source = "dashboard"
	} else {
		cfg.Database.Source = "standalone"
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")

	v.SetDefault("database.dashboard_config_path", "/etc/wireguard-dashboard/wg-dashboard.ini")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "wgdashboard")
	v.SetDefault("database.password", "wgdashboard")
	v.SetDefault("database.database", "wgdashboard")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_timeout", "10s")

	v.SetDefault("limiter.poll_interval", "1s")
	v.SetDefault("limiter.wireguard_bin", "wg")

	v.SetDefault("metrics.addr", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)
}
