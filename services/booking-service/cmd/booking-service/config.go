package main

import (
	"errors"
	"strings"
	"time"

	"github.com/md-rashed-zaman/voicebook/libs/config"
)

type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"booking-service"`
	Port        string `envconfig:"PORT" default:"8083"`
	GRPCPort    string `envconfig:"GRPC_PORT"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	PublicURL   string `envconfig:"PUBLIC_URL" default:"http://localhost:8083"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`

	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	BookingLock   bool          `envconfig:"BOOKING_LOCK_ENABLED" default:"false"`
	LockTTL       time.Duration `envconfig:"BOOKING_LOCK_TTL" default:"30s"`
	LockWait      time.Duration `envconfig:"BOOKING_LOCK_WAIT" default:"5s"`

	KafkaBrokers string `envconfig:"KAFKA_BROKERS"`

	GoogleClientID     string `envconfig:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `envconfig:"GOOGLE_CLIENT_SECRET"`
	OAuthStateSecret   string `envconfig:"OAUTH_STATE_SECRET"`

	CallPlatformURL    string `envconfig:"CALL_PLATFORM_URL" default:"https://api.retellai.com"`
	CallPlatformAPIKey string `envconfig:"CALL_PLATFORM_API_KEY"`

	EmailProvider string `envconfig:"EMAIL_PROVIDER" default:"api"`
	EmailFrom     string `envconfig:"EMAIL_FROM" default:"Voicebook <calls@voicebook.local>"`
	EmailAPIURL   string `envconfig:"EMAIL_API_URL" default:"https://api.resend.com"`
	EmailAPIKey   string `envconfig:"EMAIL_API_KEY"`
	SMTPHost      string `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort      string `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUsername  string `envconfig:"SMTP_USERNAME"`
	SMTPPassword  string `envconfig:"SMTP_PASSWORD"`

	IngestWorkers   int           `envconfig:"INGEST_WORKERS" default:"4"`
	IngestQueueSize int           `envconfig:"INGEST_QUEUE_SIZE" default:"256"`
	IngestTimeout   time.Duration `envconfig:"INGEST_TIMEOUT" default:"2m"`

	RateLimitPerMinute int  `envconfig:"RATE_LIMIT_PER_MINUTE" default:"0"`
	RateLimitFailOpen  bool `envconfig:"RATE_LIMIT_FAIL_OPEN" default:"true"`

	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	BodyLimitBytes  int64         `envconfig:"BODY_LIMIT_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	if err := config.ValidatePort("PORT", c.Port); err != nil {
		errs = append(errs, err)
	}
	if c.GRPCPort != "" {
		if err := config.ValidatePort("GRPC_PORT", c.GRPCPort); err != nil {
			errs = append(errs, err)
		}
	}
	if c.GoogleEnabled() && strings.TrimSpace(c.OAuthStateSecret) == "" {
		errs = append(errs, errors.New("OAUTH_STATE_SECRET is required when Google OAuth is configured"))
	}
	switch c.EmailProvider {
	case "api", "smtp", "noop":
	default:
		errs = append(errs, errors.New("EMAIL_PROVIDER must be one of api, smtp, noop"))
	}
	if c.IngestWorkers <= 0 || c.IngestQueueSize <= 0 {
		errs = append(errs, errors.New("INGEST_WORKERS and INGEST_QUEUE_SIZE must be positive"))
	}
	if c.BookingLock && c.RedisAddr == "" {
		errs = append(errs, errors.New("BOOKING_LOCK_ENABLED requires REDIS_ADDR"))
	}
	return errors.Join(errs...)
}

func (c Config) GoogleEnabled() bool {
	return strings.TrimSpace(c.GoogleClientID) != "" && strings.TrimSpace(c.GoogleClientSecret) != ""
}

func (c Config) OAuthRedirectURL() string {
	return strings.TrimRight(c.PublicURL, "/") + "/oauth/google/callback"
}
