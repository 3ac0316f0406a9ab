package config

import (
	"errors"
	"fmt"
	"time"
)

// Roster backends.
const (
	RosterMemory = "memory"
	RosterRedis  = "redis"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	MaxMessageBytes    int64 `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	RateLimitPerMinute int   `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTRequired bool          `mapstructure:"jwt_required" yaml:"jwt_required"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	RosterBackend  string `mapstructure:"roster_backend" yaml:"roster_backend"`
	RedisAddr      string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword  string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB        int    `mapstructure:"redis_db" yaml:"redis_db"`
	RedisKeyPrefix string `mapstructure:"redis_key_prefix" yaml:"redis_key_prefix"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		LogFormat:          "console",
		MaxMessageBytes:    1 << 20,
		RateLimitPerMinute: 0,
		JWTIssuer:          "mindsync",
		JWTTTL:             24 * time.Hour,
		DatabasePath:       "mindsync.db",
		RosterBackend:      RosterMemory,
		RedisAddr:          "localhost:6379",
		RedisKeyPrefix:     "mindsync:",
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.RateLimitPerMinute != 0 {
		c.RateLimitPerMinute = other.RateLimitPerMinute
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.JWTIssuer != "" {
		c.JWTIssuer = other.JWTIssuer
	}
	if other.JWTAudience != "" {
		c.JWTAudience = other.JWTAudience
	}
	if other.JWTRequired {
		c.JWTRequired = true
	}
	if other.JWTTTL != 0 {
		c.JWTTTL = other.JWTTTL
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.RosterBackend != "" {
		c.RosterBackend = other.RosterBackend
	}
	if other.RedisAddr != "" {
		c.RedisAddr = other.RedisAddr
	}
	if other.RedisPassword != "" {
		c.RedisPassword = other.RedisPassword
	}
	if other.RedisDB != 0 {
		c.RedisDB = other.RedisDB
	}
	if other.RedisKeyPrefix != "" {
		c.RedisKeyPrefix = other.RedisKeyPrefix
	}
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.MaxMessageBytes < 0 {
		errs = append(errs, errors.New("max_message_bytes must not be negative"))
	}
	if c.RateLimitPerMinute < 0 {
		errs = append(errs, errors.New("rate_limit_per_minute must not be negative"))
	}
	if c.JWTRequired && c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required when jwt_required is set"))
	}
	switch c.RosterBackend {
	case RosterMemory:
	case RosterRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis_addr is required for the redis roster backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown roster_backend %q", c.RosterBackend))
	}
	return errors.Join(errs...)
}
