// Package config loads and validates the gatewarden configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":9077"

	// DefaultTokenTTL is the default login token validity window.
	DefaultTokenTTL = "30m"

	// DefaultSessionTTL is the default session cookie validity window.
	DefaultSessionTTL = "24h"

	// DefaultUsersPerSite caps users per site unless a site overrides it.
	DefaultUsersPerSite = 100

	// DefaultLocationsPerSite caps locations per site.
	DefaultLocationsPerSite = 100

	// DefaultAliasesPerSite caps aliases per site.
	DefaultAliasesPerSite = 10

	minSecretLen = 32
)

// Config is the root configuration for gatewarden.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Mailer   MailerConfig   `yaml:"mailer" mapstructure:"mailer"`
	Limits   LimitsConfig   `yaml:"limits,omitempty" mapstructure:"limits"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen    string          `yaml:"listen" mapstructure:"listen"`
	RateLimit RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Auth    RateLimitTier `yaml:"auth,omitempty" mapstructure:"auth"`
	Token   RateLimitTier `yaml:"token,omitempty" mapstructure:"token"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// AuthConfig contains token and session settings.
type AuthConfig struct {
	// TokenSecret signs login tokens (per-site keys are derived from it).
	TokenSecret string `yaml:"token_secret" mapstructure:"token_secret"`
	// SessionSecret signs session cookies.
	SessionSecret string `yaml:"session_secret" mapstructure:"session_secret"`
	TokenTTL      string `yaml:"token_ttl,omitempty" mapstructure:"token_ttl"`
	SessionTTL    string `yaml:"session_ttl,omitempty" mapstructure:"session_ttl"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// MailerConfig configures login link delivery.
type MailerConfig struct {
	// Mode is "log" (write links to the log, for development) or "smtp".
	Mode string     `yaml:"mode" mapstructure:"mode"`
	SMTP SMTPConfig `yaml:"smtp,omitempty" mapstructure:"smtp"`
}

// SMTPConfig contains SMTP delivery settings.
type SMTPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	From     string `yaml:"from" mapstructure:"from"`
}

// LimitsConfig contains default per-site resource ceilings. A site
// row may override each of them individually.
type LimitsConfig struct {
	UsersPerSite     int `yaml:"users_per_site,omitempty" mapstructure:"users_per_site"`
	LocationsPerSite int `yaml:"locations_per_site,omitempty" mapstructure:"locations_per_site"`
	AliasesPerSite   int `yaml:"aliases_per_site,omitempty" mapstructure:"aliases_per_site"`
}

// Load reads a configuration file and applies GATEWARDEN_* environment
// overrides (for example GATEWARDEN_AUTH_TOKEN_SECRET).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("GATEWARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified options.
func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Auth.TokenTTL == "" {
		c.Auth.TokenTTL = DefaultTokenTTL
	}

	if c.Auth.SessionTTL == "" {
		c.Auth.SessionTTL = DefaultSessionTTL
	}

	if c.Mailer.Mode == "" {
		c.Mailer.Mode = "log"
	}

	if c.Limits.UsersPerSite == 0 {
		c.Limits.UsersPerSite = DefaultUsersPerSite
	}

	if c.Limits.LocationsPerSite == 0 {
		c.Limits.LocationsPerSite = DefaultLocationsPerSite
	}

	if c.Limits.AliasesPerSite == 0 {
		c.Limits.AliasesPerSite = DefaultAliasesPerSite
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Auth.TokenSecret) < minSecretLen {
		return fmt.Errorf(
			"auth.token_secret must be at least %d characters", minSecretLen)
	}

	if len(c.Auth.SessionSecret) < minSecretLen {
		return fmt.Errorf(
			"auth.session_secret must be at least %d characters", minSecretLen)
	}

	if _, err := time.ParseDuration(c.Auth.TokenTTL); err != nil {
		return fmt.Errorf("invalid auth.token_ttl: %w", err)
	}

	if _, err := time.ParseDuration(c.Auth.SessionTTL); err != nil {
		return fmt.Errorf("invalid auth.session_ttl: %w", err)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	switch c.Mailer.Mode {
	case "log":
	case "smtp":
		if c.Mailer.SMTP.Host == "" {
			return fmt.Errorf("mailer.smtp.host is required")
		}

		if c.Mailer.SMTP.From == "" {
			return fmt.Errorf("mailer.smtp.from is required")
		}
	default:
		return fmt.Errorf("unsupported mailer mode: %q", c.Mailer.Mode)
	}

	if c.Server.RateLimit.Enabled {
		if c.Server.RateLimit.Auth.RequestsPerMinute <= 0 {
			return fmt.Errorf(
				"server.rate_limit.auth.requests_per_minute must be positive")
		}

		if c.Server.RateLimit.Token.RequestsPerMinute <= 0 {
			return fmt.Errorf(
				"server.rate_limit.token.requests_per_minute must be positive")
		}
	}

	return nil
}

// TokenTTL returns the parsed login token validity window.
func (c *Config) TokenTTL() time.Duration {
	d, _ := time.ParseDuration(c.Auth.TokenTTL)

	return d
}

// SessionTTL returns the parsed session validity window.
func (c *Config) SessionTTL() time.Duration {
	d, _ := time.ParseDuration(c.Auth.SessionTTL)

	return d
}
