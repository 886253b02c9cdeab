package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Meta      MetaConfig
	Media     MediaConfig
	Push      PushConfig
	Archive   ArchiveConfig
	Log       LogConfig
	Telemetry TelemetryConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port        string `env:"PORT" envDefault:"8080"`
	PublicURL   string `env:"PUBLIC_URL"` // used to absolutize /uploads/ paths sent to Meta
	CORSOrigins string `env:"CORS_ORIGINS"`
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	IPv4URL         string        `env:"DATABASE_IPV4"`
	MaxConns        int           `env:"DATABASE_MAX_CONNS" envDefault:"25"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"5m"`
}

type RedisConfig struct {
	Host     string `env:"REDIS_HOST"`
	Port     string `env:"REDIS_PORT" envDefault:"6379"`
	Username string `env:"REDIS_USERNAME"`
	Password string `env:"REDIS_PASSWORD"`
}

type AuthConfig struct {
	Secret               string        `env:"JWT_SECRET"`
	TokenTTL             time.Duration `env:"JWT_TTL" envDefault:"24h"`
	CookieName           string        `env:"AUTH_COOKIE" envDefault:"auth_token"`
	SecureCookie         bool          `env:"AUTH_COOKIE_SECURE" envDefault:"true"`
	DefaultAdminUser     string        `env:"DEFAULT_ADMIN_USER" envDefault:"admin"`
	DefaultAdminPassword string        `env:"DEFAULT_ADMIN_PASSWORD" envDefault:"admin123"`
}

type MetaConfig struct {
	AppSecret   string `env:"FACEBOOK_APP_SECRET"`
	VerifyToken string `env:"VERIFY_TOKEN"`
	GraphURL    string `env:"GRAPH_API_URL" envDefault:"https://graph.facebook.com/v22.0"`
	UserToken   string `env:"FACEBOOK_USER_TOKEN"` // only used by sync-pages
}

type MediaConfig struct {
	BucketURL    string `env:"MEDIA_BUCKET_URL" envDefault:"file:///var/lib/messenger-console/uploads"`
	PublicPrefix string `env:"MEDIA_PUBLIC_PREFIX" envDefault:"/uploads/"`
}

type PushConfig struct {
	CredentialsFile string `env:"FIREBASE_CREDENTIALS_PATH"`
	ProjectID       string `env:"FIREBASE_PROJECT_ID"`
}

type ArchiveConfig struct {
	Enabled bool   `env:"ARCHIVE_ENABLED" envDefault:"true"`
	Cron    string `env:"ARCHIVE_CRON" envDefault:"0 3 * * *"`
	Days    int    `env:"ARCHIVE_DAYS" envDefault:"7"`
}

type LogConfig struct {
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"messenger-console"`
}

type RateLimitConfig struct {
	MessageRPS float64 `env:"RATE_LIMIT_MESSAGE_RPS" envDefault:"5"`
	ViewRPS    float64 `env:"RATE_LIMIT_VIEW_RPS" envDefault:"20"`
	Burst      int     `env:"RATE_LIMIT_BURST" envDefault:"40"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	// Platform environments (Render, Fly) don't ship a .env file.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings that serve cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" && c.Database.IPv4URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is not set"))
	}
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is not set"))
	}
	if c.Meta.VerifyToken == "" {
		errs = append(errs, errors.New("VERIFY_TOKEN is not set"))
	}
	if c.Archive.Days <= 0 {
		errs = append(errs, fmt.Errorf("ARCHIVE_DAYS must be positive, got %d", c.Archive.Days))
	}
	return errors.Join(errs...)
}

func (c *RedisConfig) Addr() string {
	if c.Host == "" {
		return ""
	}
	return c.Host + ":" + c.Port
}
