// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Redis       RedisConfig       `mapstructure:"redis"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Realtime    RealtimeConfig    `mapstructure:"realtime"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	DB          DBConfig          `mapstructure:"db"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int   `mapstructure:"port"`
	RequestTimeout  int   `mapstructure:"request_timeout_seconds"`
	MaxRequestBytes int64 `mapstructure:"max_request_bytes"`
	Production      bool  `mapstructure:"production"`
	// TrustProxy honors X-Forwarded-For for client addressing. Only enable
	// when the service sits behind a reverse proxy that strips inbound
	// forwarding headers.
	TrustProxy bool `mapstructure:"trust_proxy"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// AuthConfig defines how request identities are resolved.
type AuthConfig struct {
	// OpenMode synthesizes an elevated identity when no credentials are
	// presented. Development deployments only.
	OpenMode    bool `mapstructure:"open_mode"`
	AllowBearer bool `mapstructure:"allow_bearer"`
}

// RedisConfig points the admission counters at a shared Redis instance.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RateLimitConfig governs sliding-window admission control.
type RateLimitConfig struct {
	// FailOpen admits requests when the counting store is unreachable,
	// trading strict enforcement for availability.
	FailOpen       bool `mapstructure:"fail_open"`
	DefaultLimit   int  `mapstructure:"default_limit"`
	DefaultWindow  int  `mapstructure:"default_window_seconds"`
	LoginLimit     int  `mapstructure:"login_limit"`
	LoginWindow    int  `mapstructure:"login_window_seconds"`
	KeyCreateLimit int  `mapstructure:"key_create_limit"`
	KeyCreateWin   int  `mapstructure:"key_create_window_seconds"`
}

// CredentialsConfig bounds API credential issuance.
type CredentialsConfig struct {
	MaxActivePerOwner int `mapstructure:"max_active_per_owner"`
	DefaultExpiryDays int `mapstructure:"default_expiry_days"`
	MaxExpiryDays     int `mapstructure:"max_expiry_days"`
	DefaultQuota      int `mapstructure:"default_quota_per_minute"`
}

// RealtimeConfig tunes the notification bridge and websocket sessions.
type RealtimeConfig struct {
	BridgeBuffer     int `mapstructure:"bridge_buffer"`
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
	HeartbeatSeconds int `mapstructure:"heartbeat_seconds"`
	WriteTimeoutSecs int `mapstructure:"write_timeout_seconds"`
	ReadTimeoutSecs  int `mapstructure:"read_timeout_seconds"`
	MaxMessageBytes  int `mapstructure:"max_message_bytes"`
}

// SchedulerConfig controls the periodic task runner.
type SchedulerConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	AutoStart bool `mapstructure:"auto_start"`
}

// DBConfig controls access to the relational database backing credentials.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEADSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.max_request_bytes", 10*1024*1024)
	v.SetDefault("server.production", false)
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("auth.open_mode", false)
	v.SetDefault("auth.allow_bearer", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("ratelimit.fail_open", true)
	v.SetDefault("ratelimit.default_limit", 100)
	v.SetDefault("ratelimit.default_window_seconds", 60)
	v.SetDefault("ratelimit.login_limit", 5)
	v.SetDefault("ratelimit.login_window_seconds", 300)
	v.SetDefault("ratelimit.key_create_limit", 10)
	v.SetDefault("ratelimit.key_create_window_seconds", 3600)
	v.SetDefault("credentials.max_active_per_owner", 10)
	v.SetDefault("credentials.default_expiry_days", 30)
	v.SetDefault("credentials.max_expiry_days", 365)
	v.SetDefault("credentials.default_quota_per_minute", 100)
	v.SetDefault("realtime.bridge_buffer", 4096)
	v.SetDefault("realtime.subscriber_buffer", 64)
	v.SetDefault("realtime.heartbeat_seconds", 30)
	v.SetDefault("realtime.write_timeout_seconds", 10)
	v.SetDefault("realtime.read_timeout_seconds", 60)
	v.SetDefault("realtime.max_message_bytes", 64*1024)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.auto_start", true)
	v.SetDefault("db.max_open_conns", 8)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.RateLimit.DefaultLimit <= 0 || c.RateLimit.DefaultWindow <= 0 {
		return fmt.Errorf("ratelimit defaults must be > 0")
	}
	if c.Credentials.MaxActivePerOwner <= 0 {
		return fmt.Errorf("credentials.max_active_per_owner must be > 0")
	}
	if c.Credentials.MaxExpiryDays < c.Credentials.DefaultExpiryDays {
		return fmt.Errorf("credentials.max_expiry_days must be >= default_expiry_days")
	}
	if c.Realtime.BridgeBuffer <= 0 || c.Realtime.SubscriberBuffer <= 0 {
		return fmt.Errorf("realtime buffers must be > 0")
	}
	if c.Auth.OpenMode && c.Server.Production {
		return fmt.Errorf("auth.open_mode must not be set in production")
	}
	return nil
}

// RequestTimeoutDuration converts the server timeout into a duration.
func (c Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.Server.RequestTimeout) * time.Second
}

// DefaultWindowDuration converts the rate limit window into a duration.
func (c Config) DefaultWindowDuration() time.Duration {
	return time.Duration(c.RateLimit.DefaultWindow) * time.Second
}

// HeartbeatDuration converts the websocket heartbeat into a duration.
func (c Config) HeartbeatDuration() time.Duration {
	return time.Duration(c.Realtime.HeartbeatSeconds) * time.Second
}
