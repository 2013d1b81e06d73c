package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	EmailProviderPostmark = "postmark"
	EmailProviderSMTP     = "smtp"

	RateLimitBackendRedis = "redis"
	RateLimitBackendLocal = "local"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS,default=5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME,default=1h"`
	DBSlowQuery       time.Duration `env:"DB_SLOW_QUERY,default=200ms"`

	WebhookSMSURL  string `env:"WEBHOOK_SMS_URL,required=true"`
	WebhookPushURL string `env:"WEBHOOK_PUSH_URL,required=true"`

	EmailProvider        string `env:"EMAIL_PROVIDER,default=postmark"`
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	PostmarkSenderEmail  string `env:"POSTMARK_SENDER_EMAIL"`
	PostmarkMessageTag   string `env:"POSTMARK_MESSAGE_TAG,default=notification"`
	SMTPHost             string `env:"SMTP_HOST"`
	SMTPPort             int    `env:"SMTP_PORT,default=587"`
	SMTPUsername         string `env:"SMTP_USERNAME"`
	SMTPPassword         string `env:"SMTP_PASSWORD"`
	SMTPFrom             string `env:"SMTP_FROM"`

	InboxMaxSize int `env:"INBOX_MAX_SIZE,default=100"`

	SendTimeout       time.Duration `env:"SEND_TIMEOUT,default=10s"`
	ScanInterval      time.Duration `env:"SCAN_INTERVAL,default=5s"`
	ScanLimit         int           `env:"SCAN_LIMIT,default=100"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY,default=16"`
	WorkerPrefetch    int           `env:"WORKER_PREFETCH,default=16"`

	RateLimitPerSec  int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	RateLimitBackend string `env:"RATE_LIMIT_BACKEND,default=redis"`

	PreferenceOptOutDefault bool `env:"PREFERENCE_OPT_OUT_DEFAULT,default=false"`

	TemplatesFile    string        `env:"TEMPLATES_FILE"`
	TemplateCacheTTL time.Duration `env:"TEMPLATE_CACHE_TTL,default=1m"`

	RecoveryCron string        `env:"RECOVERY_CRON,default=@every 1m"`
	StaleAfter   time.Duration `env:"STALE_AFTER,default=10m"`
	LockTTL      time.Duration `env:"LOCK_TTL,default=2m"`

	APIPort    int    `env:"API_PORT,default=8080"`
	WorkerPort int    `env:"WORKER_PORT,default=8081"`
	LogLevel   string `env:"LOG_LEVEL,default=info"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.EmailProvider = strings.ToLower(strings.TrimSpace(cfg.EmailProvider))
	cfg.RateLimitBackend = strings.ToLower(strings.TrimSpace(cfg.RateLimitBackend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings whose requirements depend on other settings.
func (c *Config) Validate() error {
	switch c.EmailProvider {
	case EmailProviderPostmark:
		if c.PostmarkServerToken == "" || c.PostmarkSenderEmail == "" {
			return fmt.Errorf("config: POSTMARK_SERVER_TOKEN and POSTMARK_SENDER_EMAIL are required for the postmark email provider")
		}
	case EmailProviderSMTP:
		if c.SMTPHost == "" || c.SMTPFrom == "" {
			return fmt.Errorf("config: SMTP_HOST and SMTP_FROM are required for the smtp email provider")
		}
	default:
		return fmt.Errorf("config: unknown EMAIL_PROVIDER %q", c.EmailProvider)
	}

	switch c.RateLimitBackend {
	case RateLimitBackendRedis, RateLimitBackendLocal:
	default:
		return fmt.Errorf("config: unknown RATE_LIMIT_BACKEND %q", c.RateLimitBackend)
	}

	if c.RateLimitPerSec <= 0 {
		return fmt.Errorf("config: RATE_LIMIT_PER_SEC must be > 0")
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("config: SEND_TIMEOUT must be > 0")
	}
	return nil
}
