package config

import (
	"fmt"
	"slices"
	"time"

	pkgconfig "github.com/timelycabs/auth/pkg/config"
	"github.com/timelycabs/auth/pkg/database"
)

// SMS providers.
const (
	SMSProviderMock   = "mock"
	SMSProviderTwilio = "twilio"
)

// Rate limit backends.
const (
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

// Config holds all configuration for the auth service. It is loaded once at
// startup and passed by value or pointer to constructors; nothing mutates it.
type Config struct {
	Environment    string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	ServiceName    string `env:"SERVICE_NAME" envDefault:"auth-service"`
	ServiceVersion string `env:"SERVICE_VERSION" envDefault:"0.1.0"`

	// HTTP server
	HTTPPort        int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// PostgreSQL
	PostgresHost     string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int           `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string        `env:"POSTGRES_USER" envDefault:"postgres"`
	PostgresPass     string        `env:"POSTGRES_PASSWORD" envDefault:"postgres"`
	PostgresDB       string        `env:"POSTGRES_DB" envDefault:"auth"`
	PostgresSSL      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	PostgresMaxConns int32         `env:"POSTGRES_MAX_CONNS" envDefault:"20"`
	PostgresMinConns int32         `env:"POSTGRES_MIN_CONNS" envDefault:"2"`
	SlowQuery        time.Duration `env:"POSTGRES_SLOW_QUERY" envDefault:"200ms"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"true"`

	// OTP
	OTPLength     int           `env:"OTP_LENGTH" envDefault:"6"`
	OTPTTL        time.Duration `env:"OTP_TTL" envDefault:"5m"`
	OTPCooldown   time.Duration `env:"OTP_COOLDOWN" envDefault:"1m"`
	OTPMaxPerHour int           `env:"OTP_MAX_PER_HOUR" envDefault:"3"`
	OTPRetention  time.Duration `env:"OTP_RETENTION" envDefault:"24h"`

	// Sessions
	TempSessionTTL time.Duration `env:"TEMP_SESSION_TTL" envDefault:"10m"`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"168h"`

	// SMS
	SMSProvider        string        `env:"SMS_PROVIDER" envDefault:"mock"`
	SMSTemplate        string        `env:"SMS_TEMPLATE" envDefault:"Your TimelyCabs OTP is: %s. Valid for %d minutes."`
	SMSBreakerFailures uint32        `env:"SMS_BREAKER_FAILURES" envDefault:"5"`
	SMSBreakerTimeout  time.Duration `env:"SMS_BREAKER_TIMEOUT" envDefault:"30s"`
	TwilioAccountSID   string        `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken    string        `env:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber   string        `env:"TWILIO_FROM_NUMBER"`

	// HTTP throttling
	RateLimitBackend  string        `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"100"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`

	// Background jobs
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"15m"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Tracing
	OTelEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTelSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from the environment, overlaying the given .env
// files, and validates it.
func Load(envFiles ...string) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg, envFiles...); err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field requirements.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	// verify-otp accepts codes of 4 to 10 digits.
	if c.OTPLength < 4 || c.OTPLength > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10, got %d", c.OTPLength)
	}
	if c.OTPTTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}
	if c.OTPMaxPerHour < 1 {
		return fmt.Errorf("OTP_MAX_PER_HOUR must be at least 1, got %d", c.OTPMaxPerHour)
	}
	if c.TempSessionTTL < 0 || c.SessionTTL < 0 {
		return fmt.Errorf("session TTLs must not be negative")
	}
	if !slices.Contains([]string{SMSProviderMock, SMSProviderTwilio}, c.SMSProvider) {
		return fmt.Errorf("unknown SMS_PROVIDER %q", c.SMSProvider)
	}
	if !slices.Contains([]string{RateLimitMemory, RateLimitRedis}, c.RateLimitBackend) {
		return fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimitBackend)
	}
	if c.RateLimitRequests < 1 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit must allow at least one request per positive window")
	}

	if c.SMSProvider == SMSProviderTwilio {
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFromNumber == "" {
			return fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER are required with SMS_PROVIDER=twilio")
		}
	}
	if c.IsProduction() && c.SMSProvider == SMSProviderMock {
		return fmt.Errorf("SMS_PROVIDER=mock is not allowed in %q mode", c.Environment)
	}
	return nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Postgres returns the connection settings for database.NewPostgresPool.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.PostgresMaxConns,
		MinConns:        c.PostgresMinConns,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// Redis returns the connection settings for database.NewRedisClient.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:         c.RedisHost,
		Port:         c.RedisPort,
		Password:     c.RedisPassword,
		DB:           c.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}
