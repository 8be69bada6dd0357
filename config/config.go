package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Config struct {
	Env            string        `env:"ENVIRONMENT" envDefault:"development"`
	ServerPort     int           `env:"SERVER_PORT" envDefault:"8080"`
	BasicAuthCreds string        `env:"BASIC_AUTH_CREDS"`
	CORSOrigins    []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	TrustProxy     bool          `env:"TRUST_PROXY" envDefault:"false"`
	HTTPTimeout    time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`

	Database struct {
		Path string `env:"DATABASE_PATH" envDefault:"registrywatch.sqlite"`
	}
	Registry struct {
		URL      string `env:"REGISTRY_URL" envDefault:"https://registry.modelcontextprotocol.io"`
		PageSize int    `env:"REGISTRY_PAGE_SIZE" envDefault:"100"`
		MaxPages int    `env:"REGISTRY_MAX_PAGES" envDefault:"500"`
	}
	Poll struct {
		Interval    time.Duration `env:"POLL_INTERVAL" envDefault:"15m"`
		SnapshotTTL time.Duration `env:"SNAPSHOT_TTL" envDefault:"720h"`
	}
	Delivery struct {
		MaxAttempts int           `env:"DELIVERY_MAX_ATTEMPTS" envDefault:"5"`
		BaseDelay   time.Duration `env:"DELIVERY_BASE_DELAY" envDefault:"2s"`
		MaxDelay    time.Duration `env:"DELIVERY_MAX_DELAY" envDefault:"5m"`
		Concurrency int           `env:"DELIVERY_CONCURRENCY" envDefault:"8"`
	}
	Webhook struct {
		Secret string `env:"WEBHOOK_SECRET"`
	}
	RateLimit struct {
		Requests       int           `env:"RATE_LIMIT_REQUESTS" envDefault:"60"`
		Window         time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
		TestSends      int           `env:"TEST_SEND_LIMIT" envDefault:"5"`
		TestSendWindow time.Duration `env:"TEST_SEND_WINDOW" envDefault:"1h"`
	}
	Cache struct {
		Backend string `env:"CACHE_BACKEND" envDefault:"memory"`
	}
	Redis struct {
		Address  string `env:"REDIS_ADDRESS"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
	}
	Mailgun struct {
		Domain      string `env:"MAILGUN_DOMAIN"`
		APIKey      string `env:"MAILGUN_API_KEY"`
		APIBase     string `env:"MAILGUN_API_BASE"`
		SenderFrom  string `env:"MAILGUN_SENDER" envDefault:"registrywatch <noreply@registrywatch.dev>"`
		TimeoutSecs int    `env:"MAILGUN_TIMEOUT_SECS" envDefault:"10"`
	}
	Telegram struct {
		APIBase string `env:"TELEGRAM_API_BASE" envDefault:"https://api.telegram.org"`
	}

	creds map[string]string
}

func NewConfig(lc fx.Lifecycle, log *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Sugar().Info("Loaded environment from .env")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.init(log)
}

// Load parses cfg from environ alone, ignoring the process environment.
func Load(log *zap.Logger, environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.init(log)
}

func (cfg *Config) init(log *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	creds, err := cfg.parseCreds()
	switch {
	case err == nil:
		cfg.creds = creds
	case cfg.BasicAuthCreds == "" && !cfg.IsProduction():
		log.Sugar().Infof("%s (admin routes use default credentials outside production)", err)
		cfg.creds = map[string]string{"admin": "password"}
	case cfg.BasicAuthCreds == "":
		log.Sugar().Info("Admin routes are disabled since no credentials are defined")
	default:
		return err
	}
	return nil
}

func (cfg *Config) IsProduction() bool {
	return cfg.Env == "production"
}

func (cfg *Config) GetCreds() map[string]string {
	return cfg.creds
}

// Validate reports every out-of-range setting at once.
func (cfg *Config) Validate() error {
	var errs error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf(format, args...))
		}
	}

	check(cfg.ServerPort > 0 && cfg.ServerPort < 65536, "SERVER_PORT out of range: %d", cfg.ServerPort)
	check(cfg.HTTPTimeout > 0, "HTTP_TIMEOUT must be positive")
	check(cfg.Registry.URL != "", "REGISTRY_URL is required")
	check(cfg.Registry.PageSize > 0, "REGISTRY_PAGE_SIZE must be positive")
	check(cfg.Registry.MaxPages > 0, "REGISTRY_MAX_PAGES must be positive")
	check(cfg.Poll.Interval >= time.Second, "POLL_INTERVAL must be at least 1s")
	check(cfg.Poll.SnapshotTTL > 0, "SNAPSHOT_TTL must be positive")
	check(cfg.Delivery.MaxAttempts >= 1, "DELIVERY_MAX_ATTEMPTS must be at least 1")
	check(cfg.Delivery.BaseDelay > 0, "DELIVERY_BASE_DELAY must be positive")
	check(cfg.Delivery.MaxDelay >= cfg.Delivery.BaseDelay, "DELIVERY_MAX_DELAY must not be below DELIVERY_BASE_DELAY")
	check(cfg.Delivery.Concurrency >= 1, "DELIVERY_CONCURRENCY must be at least 1")
	check(cfg.RateLimit.Requests >= 1, "RATE_LIMIT_REQUESTS must be at least 1")
	check(cfg.RateLimit.Window > 0, "RATE_LIMIT_WINDOW must be positive")
	check(cfg.RateLimit.TestSends >= 1, "TEST_SEND_LIMIT must be at least 1")
	check(cfg.RateLimit.TestSendWindow > 0, "TEST_SEND_WINDOW must be positive")

	switch cfg.Cache.Backend {
	case "memory":
	case "redis":
		check(cfg.Redis.Address != "", "REDIS_ADDRESS is required when CACHE_BACKEND=redis")
	default:
		check(false, "CACHE_BACKEND must be memory or redis, got %q", cfg.Cache.Backend)
	}
	return errs
}

func (cfg *Config) parseCreds() (map[string]string, error) {
	if cfg.BasicAuthCreds == "" {
		return nil, errors.New("BASIC_AUTH_CREDS envvar must be populated")
	}

	creds := strings.Split(cfg.BasicAuthCreds, ",")
	result := make(map[string]string)
	for _, cred := range creds {
		userPass := strings.Split(cred, ":")
		if len(userPass) != 2 {
			return nil, fmt.Errorf("failed to parse '%s', each credential should be delimited by a colon -- user1:pass1,user2:pass2", cred)
		}

		user, pass := userPass[0], userPass[1]
		result[strings.Trim(user, " ")] = strings.Trim(pass, " ")
	}

	return result, nil
}
