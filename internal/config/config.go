// Package config loads studiodesk configuration from defaults, an optional
// YAML file, an optional .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/studiodesk/studiodesk/pkg/logger"
)

// Config is the complete runtime configuration.
type Config struct {
	Env       string         `yaml:"env" env:"STUDIO_ENV"`
	Server    ServerConfig   `yaml:"server"`
	Database  DatabaseConfig `yaml:"database"`
	Redis     RedisConfig    `yaml:"redis"`
	Bolt      BoltConfig     `yaml:"bolt"`
	Tokens    TokenConfig    `yaml:"tokens"`
	Auth      AuthConfig     `yaml:"auth"`
	Referral  ReferralConfig `yaml:"referral"`
	Reminders ReminderConfig `yaml:"reminders"`
	Monitor   MonitorConfig  `yaml:"monitor"`
	Logging   LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"STUDIO_HTTP_ADDR"`
	PublicURL       string        `yaml:"public_url" env:"STUDIO_PUBLIC_URL"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"STUDIO_HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"STUDIO_HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"STUDIO_HTTP_SHUTDOWN_TIMEOUT"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"STUDIO_CORS_ORIGINS"`
	TrustedProxies  []string      `yaml:"trusted_proxies" env:"STUDIO_TRUSTED_PROXIES"`
	AuditFile       string        `yaml:"audit_file" env:"STUDIO_AUDIT_FILE"`
	AuthRatePerSec  int           `yaml:"auth_rate_per_sec" env:"STUDIO_AUTH_RATE"`
	AuthBurst       int           `yaml:"auth_burst" env:"STUDIO_AUTH_BURST"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"STUDIO_DB_DRIVER"`
	DSN             string        `yaml:"dsn" env:"STUDIO_DB_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"STUDIO_DB_MAX_OPEN"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"STUDIO_DB_MAX_IDLE"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"STUDIO_DB_CONN_LIFETIME"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"STUDIO_DB_AUTO_MIGRATE"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"STUDIO_REDIS_ADDR"`
	Password string `yaml:"password" env:"STUDIO_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"STUDIO_REDIS_DB"`
}

type BoltConfig struct {
	Path string `yaml:"path" env:"STUDIO_BOLT_PATH"`
}

// TokenConfig selects the activation-token backend and lifetimes.
type TokenConfig struct {
	Backend       string        `yaml:"backend" env:"STUDIO_TOKEN_BACKEND"`
	ActivationTTL time.Duration `yaml:"activation_ttl" env:"STUDIO_TOKEN_ACTIVATION_TTL"`
	LoginTTL      time.Duration `yaml:"login_ttl" env:"STUDIO_TOKEN_LOGIN_TTL"`
	PurgeSchedule string        `yaml:"purge_schedule" env:"STUDIO_TOKEN_PURGE_SCHEDULE"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"STUDIO_JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"STUDIO_JWT_TTL"`
	Issuer    string        `yaml:"issuer" env:"STUDIO_JWT_ISSUER"`
}

type ReferralConfig struct {
	Threshold      int    `yaml:"threshold" env:"STUDIO_REFERRAL_THRESHOLD"`
	MonthlyCents   int64  `yaml:"monthly_cents" env:"STUDIO_REFERRAL_MONTHLY_CENTS"`
	PayoutSchedule string `yaml:"payout_schedule" env:"STUDIO_REFERRAL_PAYOUT_SCHEDULE"`
}

type ReminderConfig struct {
	Enabled    bool          `yaml:"enabled" env:"STUDIO_REMINDERS_ENABLED"`
	Interval   time.Duration `yaml:"interval" env:"STUDIO_REMINDERS_INTERVAL"`
	LeadTime   time.Duration `yaml:"lead_time" env:"STUDIO_REMINDERS_LEAD_TIME"`
	WebhookURL string        `yaml:"webhook_url" env:"STUDIO_REMINDERS_WEBHOOK_URL"`
	WebhookKey string        `yaml:"webhook_key" env:"STUDIO_REMINDERS_WEBHOOK_KEY"`
	Location   string        `yaml:"location" env:"STUDIO_TIMEZONE"`
}

type MonitorConfig struct {
	Enabled          bool          `yaml:"enabled" env:"STUDIO_MONITOR_ENABLED"`
	SelfURL          string        `yaml:"self_url" env:"STUDIO_MONITOR_SELF_URL"`
	PingInterval     time.Duration `yaml:"ping_interval" env:"STUDIO_MONITOR_PING_INTERVAL"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval" env:"STUDIO_MONITOR_WATCHDOG_INTERVAL"`
	StaleAfter       time.Duration `yaml:"stale_after" env:"STUDIO_MONITOR_STALE_AFTER"`
	MaxFailures      int           `yaml:"max_failures" env:"STUDIO_MONITOR_MAX_FAILURES"`
	MemoryLimitMB    uint64        `yaml:"memory_limit_mb" env:"STUDIO_MONITOR_MEMORY_LIMIT_MB"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" env:"STUDIO_LOG_LEVEL"`
	Format     string `yaml:"format" env:"STUDIO_LOG_FORMAT"`
	Output     string `yaml:"output" env:"STUDIO_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"STUDIO_LOG_FILE_PREFIX"`
}

// Logger converts the logging section into the logger package's config.
func (c LoggingConfig) Logger() logger.LoggingConfig {
	return logger.LoggingConfig{Level: c.Level, Format: c.Format, Output: c.Output, FilePrefix: c.FilePrefix}
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			Addr:            ":8080",
			PublicURL:       "http://localhost:8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			AuthRatePerSec:  5,
			AuthBurst:       10,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Tokens: TokenConfig{
			Backend:       "memory",
			ActivationTTL: 7 * 24 * time.Hour,
			LoginTTL:      30 * 24 * time.Hour,
			PurgeSchedule: "@hourly",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
			Issuer:   "studiodesk",
		},
		Referral: ReferralConfig{
			Threshold:      3,
			MonthlyCents:   100,
			PayoutSchedule: "0 3 1 * *",
		},
		Reminders: ReminderConfig{
			Enabled:  true,
			Interval: 5 * time.Minute,
			LeadTime: 24 * time.Hour,
			Location: "Local",
		},
		Monitor: MonitorConfig{
			Enabled:          false,
			PingInterval:     30 * time.Second,
			WatchdogInterval: 2 * time.Minute,
			StaleAfter:       5 * time.Minute,
			MaxFailures:      3,
			MemoryLimitMB:    1024,
		},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
	}
}

// Load builds the configuration. path may be empty; STUDIO_CONFIG is used
// then. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("STUDIO_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	envFile := os.Getenv("STUDIO_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if cfg.Monitor.SelfURL == "" {
		cfg.Monitor.SelfURL = localURL(cfg.Server.Addr)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether relaxed defaults are acceptable.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(strings.TrimSpace(c.Env))
	return env == "" || env == "development" || env == "dev" || env == "test"
}

// Validate rejects configurations the application cannot run with.
func (c *Config) Validate() error {
	if !c.IsDevelopment() && strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth.jwt_secret is required outside development")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	if c.Tokens.ActivationTTL <= 0 || c.Tokens.LoginTTL <= 0 {
		return errors.New("tokens.activation_ttl and tokens.login_ttl must be positive")
	}
	switch strings.ToLower(c.Tokens.Backend) {
	case "memory", "redis", "bolt", "postgres":
	default:
		return fmt.Errorf("unsupported token backend %q", c.Tokens.Backend)
	}
	if c.Tokens.Backend == "redis" && c.Redis.Addr == "" {
		return errors.New("redis.addr is required for the redis token backend")
	}
	if c.Tokens.Backend == "bolt" && c.Bolt.Path == "" {
		return errors.New("bolt.path is required for the bolt token backend")
	}
	if c.Tokens.Backend == "postgres" && c.Database.DSN == "" {
		return errors.New("database.dsn is required for the postgres token backend")
	}
	for _, proxy := range c.Server.TrustedProxies {
		if !validProxy(strings.TrimSpace(proxy)) {
			return fmt.Errorf("server.trusted_proxies: invalid entry %q", proxy)
		}
	}
	if c.Referral.Threshold < 1 {
		return errors.New("referral.threshold must be at least 1")
	}
	if c.Referral.MonthlyCents < 0 {
		return errors.New("referral.monthly_cents must not be negative")
	}
	if c.Reminders.Enabled && (c.Reminders.Interval <= 0 || c.Reminders.LeadTime <= 0) {
		return errors.New("reminders.interval and reminders.lead_time must be positive")
	}
	if _, err := c.Reminders.TimeLocation(); err != nil {
		return err
	}
	if c.Monitor.Enabled {
		if c.Monitor.PingInterval <= 0 || c.Monitor.WatchdogInterval <= 0 || c.Monitor.StaleAfter <= 0 {
			return errors.New("monitor intervals must be positive")
		}
		if c.Monitor.MaxFailures < 1 {
			return errors.New("monitor.max_failures must be at least 1")
		}
	}
	return nil
}

func validProxy(entry string) bool {
	if strings.Contains(entry, "/") {
		_, _, err := net.ParseCIDR(entry)
		return err == nil
	}
	return net.ParseIP(entry) != nil
}

func localURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://127.0.0.1" + addr
	}
	return "http://" + addr
}

// TimeLocation resolves the configured business time zone. Empty or "Local"
// selects the process zone.
func (c ReminderConfig) TimeLocation() (*time.Location, error) {
	name := strings.TrimSpace(c.Location)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", name, err)
	}
	return loc, nil
}
