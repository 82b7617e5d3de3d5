package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	minProducerSecretLength = 16
	maxRateLimitWindow      = 365 * 24 * time.Hour
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	LogFile   string `env:"LOG_FILE"`

	DatabasePath string `env:"DATABASE_PATH" default:"data/stickerwall.db"`

	StorageBackend string `env:"STORAGE_BACKEND" default:"local"`
	StorageDir     string `env:"STORAGE_DIR" default:"data/static"`
	S3Endpoint     string `env:"S3_ENDPOINT"`
	S3Bucket       string `env:"S3_BUCKET"`
	S3AccessKey    string `env:"S3_ACCESS_KEY"`
	S3SecretKey    string `env:"S3_SECRET_KEY"`
	S3UseSSL       bool   `env:"S3_USE_SSL" default:"true"`

	ProducerSecret string `env:"PRODUCER_SECRET"`
	AdminUsername  string `env:"ADMIN_USERNAME" default:"admin"`
	AdminPassword  string `env:"ADMIN_PASSWORD"`

	SessionTTL time.Duration `env:"SESSION_TTL" default:"24h"`
	APIKeyTTL  time.Duration `env:"API_KEY_TTL" default:"720h"` // 30 days

	RateLimitMax           int           `env:"RATE_LIMIT_MAX" default:"3"`
	RateLimitWindow        time.Duration `env:"RATE_LIMIT_WINDOW" default:"1h"`
	RateLimitMode          string        `env:"RATE_LIMIT_MODE" default:"enforce"`
	RateLimitCountBlocked  bool          `env:"RATE_LIMIT_COUNT_BLOCKED" default:"false"`
	RateLimitRecordBlocked bool          `env:"RATE_LIMIT_RECORD_BLOCKED" default:"true"`
	AuditBannedAttempts    bool          `env:"AUDIT_BANNED_ATTEMPTS" default:"false"`

	ReplayLimit    int           `env:"REPLAY_LIMIT" default:"100"`
	PersistTimeout time.Duration `env:"PERSIST_TIMEOUT" default:"5s"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"1000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"20"`
	ConnectionRatePerIP     float64 `env:"CONNECTION_RATE_PER_IP" default:"5"`
	ConnectionBurstPerIP    int     `env:"CONNECTION_BURST_PER_IP" default:"10"`
	ClientQueueSize         int     `env:"CLIENT_QUEUE_SIZE" default:"64"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.ProducerSecret == "" {
		return errors.New("PRODUCER_SECRET is required")
	}
	if len(cfg.ProducerSecret) < minProducerSecretLength {
		return fmt.Errorf("PRODUCER_SECRET must be at least %d characters", minProducerSecretLength)
	}

	if cfg.AppEnv == "production" && cfg.AdminPassword == "" {
		return errors.New("ADMIN_PASSWORD is required in production")
	}

	switch cfg.RateLimitMode {
	case "enforce", "warn":
	default:
		return fmt.Errorf("RATE_LIMIT_MODE must be enforce or warn, got %q", cfg.RateLimitMode)
	}
	if cfg.RateLimitMax < 1 {
		return errors.New("RATE_LIMIT_MAX must be at least 1")
	}
	if cfg.RateLimitWindow < time.Second {
		return errors.New("RATE_LIMIT_WINDOW must be at least 1s")
	}
	if cfg.RateLimitWindow > maxRateLimitWindow {
		return errors.New("RATE_LIMIT_WINDOW must be at most 8760h")
	}

	switch cfg.StorageBackend {
	case "local":
		if cfg.StorageDir == "" {
			return errors.New("STORAGE_DIR is required for the local storage backend")
		}
	case "s3":
		required := map[string]string{
			"S3_ENDPOINT":   cfg.S3Endpoint,
			"S3_BUCKET":     cfg.S3Bucket,
			"S3_ACCESS_KEY": cfg.S3AccessKey,
			"S3_SECRET_KEY": cfg.S3SecretKey,
		}
		for name, value := range required {
			if value == "" {
				return fmt.Errorf("%s is required for the s3 storage backend", name)
			}
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be local or s3, got %q", cfg.StorageBackend)
	}

	if cfg.SessionTTL <= 0 || cfg.APIKeyTTL <= 0 {
		return errors.New("SESSION_TTL and API_KEY_TTL must be positive")
	}
	if cfg.ReplayLimit < 1 {
		return errors.New("REPLAY_LIMIT must be at least 1")
	}
	if cfg.ClientQueueSize < 1 {
		return errors.New("CLIENT_QUEUE_SIZE must be at least 1")
	}

	return nil
}

// WarnOnRateLimit reports whether rate-limited submissions are accepted with a notice.
func (c *Config) WarnOnRateLimit() bool {
	return c.RateLimitMode == "warn"
}
