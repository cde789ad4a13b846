package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/rNLKJA/moodist-server/pkg/config"
)

// Config holds all configuration for the moodist server.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`

	// MongoDB
	MongoURI         string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase    string `env:"MONGO_DATABASE" envDefault:"moodist"`
	MongoMaxPoolSize uint64 `env:"MONGO_MAX_POOL_SIZE" envDefault:"25"`
	MongoMinPoolSize uint64 `env:"MONGO_MIN_POOL_SIZE" envDefault:"5"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Auth
	JWTSecret        string `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	LinkTokenSecret  string `env:"LINK_TOKEN_SECRET" envDefault:"change-this-to-a-secure-link-secret"`
	JWTAccessExpiry  string `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"15m"`
	JWTRefreshExpiry string `env:"JWT_REFRESH_TOKEN_EXPIRY" envDefault:"168h"`
	PasswordPepper   string `env:"PASSWORD_PEPPER" envDefault:""`

	// Login rate limiting
	LoginRateLimit  int    `env:"LOGIN_RATE_LIMIT" envDefault:"10"`
	LoginRateWindow string `env:"LOGIN_RATE_WINDOW" envDefault:"15m"`

	// Mail delivery
	MailMock    bool   `env:"MAIL_MOCK" envDefault:"true"`
	MailBaseURL string `env:"MAIL_BASE_URL" envDefault:""`
	MailAPIKey  string `env:"MAIL_API_KEY" envDefault:""`
	MailFrom    string `env:"MAIL_FROM" envDefault:"no-reply@moodist.example"`

	// Links in outgoing mail point at the web client.
	FrontendBaseURL string `env:"FRONTEND_BASE_URL" envDefault:"http://localhost:3000"`

	// Mood logs roll over at midnight in this timezone.
	ReportingTimezone string `env:"REPORTING_TIMEZONE" envDefault:"Australia/Melbourne"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load server config: %w", err)
	}
	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid HTTP port: %d", cfg.HTTPPort)
	}
	if _, err := time.ParseDuration(cfg.JWTAccessExpiry); err != nil {
		return nil, fmt.Errorf("parse JWT access expiry %q: %w", cfg.JWTAccessExpiry, err)
	}
	if _, err := time.ParseDuration(cfg.JWTRefreshExpiry); err != nil {
		return nil, fmt.Errorf("parse JWT refresh expiry %q: %w", cfg.JWTRefreshExpiry, err)
	}
	if _, err := time.ParseDuration(cfg.LoginRateWindow); err != nil {
		return nil, fmt.Errorf("parse login rate window %q: %w", cfg.LoginRateWindow, err)
	}
	if _, err := time.LoadLocation(cfg.ReportingTimezone); err != nil {
		return nil, fmt.Errorf("load reporting timezone %q: %w", cfg.ReportingTimezone, err)
	}
	if !cfg.MailMock && cfg.MailBaseURL == "" {
		return nil, fmt.Errorf("MAIL_BASE_URL must be set when MAIL_MOCK is disabled")
	}

	// In non-development environments, require explicitly set, strong secrets.
	if cfg.Environment != "development" {
		if cfg.JWTSecret == "change-this-to-a-secure-secret" {
			return nil, fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", cfg.Environment)
		}
		if len(cfg.JWTSecret) < 32 {
			return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(cfg.JWTSecret))
		}
		if cfg.LinkTokenSecret == "change-this-to-a-secure-link-secret" {
			return nil, fmt.Errorf("LINK_TOKEN_SECRET must be explicitly set via environment variable in %q mode", cfg.Environment)
		}
		if len(cfg.LinkTokenSecret) < 32 {
			return nil, fmt.Errorf("LINK_TOKEN_SECRET must be at least 32 characters long, got %d", len(cfg.LinkTokenSecret))
		}
	}

	return cfg, nil
}
