// Package bootstrap assembles the dispatcher and its collaborators from
// configuration. Both the api and worker binaries build the same graph.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/dispatch-core/internal/channel"
	"github.com/kursadbilgin/dispatch-core/internal/config"
	"github.com/kursadbilgin/dispatch-core/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/dispatch-core/internal/infra/redis"
	"github.com/kursadbilgin/dispatch-core/internal/observability"
	"github.com/kursadbilgin/dispatch-core/internal/preference"
	"github.com/kursadbilgin/dispatch-core/internal/provider"
	"github.com/kursadbilgin/dispatch-core/internal/ratelimit"
	"github.com/kursadbilgin/dispatch-core/internal/repository"
	"github.com/kursadbilgin/dispatch-core/internal/service"
	"github.com/kursadbilgin/dispatch-core/internal/template"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Components struct {
	Dispatcher    *service.Dispatcher
	Notifications *repository.GormNotificationRepo
	Inbox         *provider.InboxProvider
}

func Build(
	cfg *config.Config,
	db *gorm.DB,
	rdb *goredis.Client,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	notifications := repository.NewGormNotificationRepo(db)
	templates := repository.NewGormTemplateRepo(db)

	emailProvider, err := NewEmailProvider(cfg)
	if err != nil {
		return nil, err
	}
	smsProvider, err := provider.NewWebhookProvider(cfg.WebhookSMSURL, cfg.SendTimeout)
	if err != nil {
		return nil, fmt.Errorf("sms provider: %w", err)
	}
	pushProvider, err := provider.NewWebhookProvider(cfg.WebhookPushURL, cfg.SendTimeout)
	if err != nil {
		return nil, fmt.Errorf("push provider: %w", err)
	}
	inbox, err := provider.NewInboxProvider(rdb, cfg.InboxMaxSize)
	if err != nil {
		return nil, fmt.Errorf("inbox provider: %w", err)
	}

	registry, err := newRegistry(cfg, emailProvider, smsProvider, pushProvider, inbox)
	if err != nil {
		return nil, err
	}

	counter, err := infraredis.NewRateCounter(rdb)
	if err != nil {
		return nil, err
	}
	locker, err := infraredis.NewRedisLocker(rdb, cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	limiter, err := NewRateLimiter(cfg, rdb)
	if err != nil {
		return nil, err
	}
	evaluator, err := preference.NewEvaluator(counter, cfg.PreferenceOptOutDefault)
	if err != nil {
		return nil, err
	}
	resolver, err := template.NewResolver(templates, cfg.TemplateCacheTTL)
	if err != nil {
		return nil, err
	}

	dispatcher, err := service.NewDispatcher(service.Deps{
		Notifications: notifications,
		Attempts:      repository.NewGormAttemptRepo(db),
		Batches:       repository.NewGormBatchRepo(db),
		Users:         repository.NewGormUserRepo(db),
		Preferences:   repository.NewGormPreferenceRepo(db),
		Templates:     templates,
		Resolver:      resolver,
		Evaluator:     evaluator,
		Recorder:      counter,
		Senders:       registry,
		Locker:        locker,
		RateLimiter:   limiter,
	}, logger)
	if err != nil {
		return nil, err
	}
	dispatcher.SetMetrics(metrics)

	logger.Info("dispatcher assembled",
		zap.String("email_provider", cfg.EmailProvider),
		zap.String("rate_limit_backend", cfg.RateLimitBackend),
		zap.Strings("channels", registryChannels(registry)),
	)

	return &Components{
		Dispatcher:    dispatcher,
		Notifications: notifications,
		Inbox:         inbox,
	}, nil
}

// PostgresOptions maps the DB_* settings onto the pool.
func PostgresOptions(cfg *config.Config) postgresql.Options {
	return postgresql.Options{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		SlowThreshold:   cfg.DBSlowQuery,
	}
}

// NewEmailProvider returns the email transport selected by EMAIL_PROVIDER.
func NewEmailProvider(cfg *config.Config) (provider.Provider, error) {
	switch cfg.EmailProvider {
	case config.EmailProviderSMTP:
		p, err := provider.NewSMTPProvider(provider.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			return nil, fmt.Errorf("smtp provider: %w", err)
		}
		return p, nil
	case config.EmailProviderPostmark, "":
		p, err := provider.NewPostmarkProvider(provider.PostmarkConfig{
			ServerToken:  cfg.PostmarkServerToken,
			AccountToken: cfg.PostmarkAccountToken,
			SenderEmail:  cfg.PostmarkSenderEmail,
			MessageTag:   cfg.PostmarkMessageTag,
		})
		if err != nil {
			return nil, fmt.Errorf("postmark provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported email provider %q", cfg.EmailProvider)
	}
}

// NewRateLimiter returns the shared Redis limiter or a per-process one.
func NewRateLimiter(cfg *config.Config, rdb *goredis.Client) (ratelimit.RateLimiter, error) {
	switch cfg.RateLimitBackend {
	case config.RateLimitBackendLocal:
		return ratelimit.NewLocalRateLimiter(cfg.RateLimitPerSec), nil
	case config.RateLimitBackendRedis, "":
		limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
		if err != nil {
			return nil, err
		}
		return limiter, nil
	default:
		return nil, fmt.Errorf("unsupported rate limit backend %q", cfg.RateLimitBackend)
	}
}

// SeedTemplates upserts the templates listed in path. An empty path is a no-op.
func SeedTemplates(ctx context.Context, dispatcher *service.Dispatcher, path string, logger *zap.Logger) error {
	if path == "" {
		return nil
	}

	seeds, err := template.LoadFile(path)
	if err != nil {
		return err
	}
	for i := range seeds {
		if err := dispatcher.UpsertTemplate(ctx, &seeds[i]); err != nil {
			return fmt.Errorf("seed template %s/%s: %w", seeds[i].TemplateID, seeds[i].Channel, err)
		}
	}

	logger.Info("templates seeded", zap.String("path", path), zap.Int("count", len(seeds)))
	return nil
}

func newRegistry(cfg *config.Config, email, sms, push, inApp provider.Provider) (*channel.Registry, error) {
	timeout := channel.WithTimeout(cfg.SendTimeout)

	emailSender, err := channel.NewEmailSender(email, timeout)
	if err != nil {
		return nil, err
	}
	smsSender, err := channel.NewSMSSender(sms, timeout)
	if err != nil {
		return nil, err
	}
	pushSender, err := channel.NewPushSender(push, timeout)
	if err != nil {
		return nil, err
	}
	inAppSender, err := channel.NewInAppSender(inApp, timeout)
	if err != nil {
		return nil, err
	}

	return channel.NewRegistry(emailSender, smsSender, pushSender, inAppSender)
}

func registryChannels(registry *channel.Registry) []string {
	channels := registry.Channels()
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.String())
	}
	return names
}
