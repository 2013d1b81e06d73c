package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kursadbilgin/dispatch-core/internal/config"
	"github.com/kursadbilgin/dispatch-core/internal/domain"
	"github.com/kursadbilgin/dispatch-core/internal/infra/redis"
	"github.com/kursadbilgin/dispatch-core/internal/provider"
	"github.com/kursadbilgin/dispatch-core/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		WebhookSMSURL:       "http://sms.local/send",
		WebhookPushURL:      "http://push.local/send",
		EmailProvider:       config.EmailProviderPostmark,
		PostmarkServerToken: "server-token",
		PostmarkSenderEmail: "noreply@example.com",
		SMTPPort:            587,
		InboxMaxSize:        10,
		SendTimeout:         time.Second,
		RateLimitPerSec:     50,
		RateLimitBackend:    config.RateLimitBackendLocal,
		TemplateCacheTTL:    time.Minute,
		LockTTL:             time.Minute,
	}
}

func newTestRedis(t *testing.T) *goredis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestBuild(t *testing.T) {
	t.Parallel()

	components, err := Build(testConfig(), nil, newTestRedis(t), nil, zap.NewNop())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if components.Dispatcher == nil || components.Notifications == nil || components.Inbox == nil {
		t.Fatalf("Build() = %+v, want all components", components)
	}
}

func TestBuild_InvalidWebhook(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.WebhookSMSURL = "not a url"

	if _, err := Build(cfg, nil, newTestRedis(t), nil, zap.NewNop()); err == nil {
		t.Fatal("Build() error = nil, want invalid webhook error")
	}
}

func TestNewEmailProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr bool
		check   func(p provider.Provider) bool
	}{
		{
			name:  "postmark",
			check: func(p provider.Provider) bool { _, ok := p.(*provider.PostmarkProvider); return ok },
		},
		{
			name: "smtp",
			mutate: func(cfg *config.Config) {
				cfg.EmailProvider = config.EmailProviderSMTP
				cfg.SMTPHost = "smtp.local"
				cfg.SMTPFrom = "noreply@example.com"
			},
			check: func(p provider.Provider) bool { _, ok := p.(*provider.SMTPProvider); return ok },
		},
		{
			name:    "postmark without token",
			mutate:  func(cfg *config.Config) { cfg.PostmarkServerToken = "" },
			wantErr: true,
		},
		{
			name:    "unknown provider",
			mutate:  func(cfg *config.Config) { cfg.EmailProvider = "ses" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}

			p, err := NewEmailProvider(cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewEmailProvider() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEmailProvider() error = %v", err)
			}
			if !tt.check(p) {
				t.Fatalf("NewEmailProvider() = %T, unexpected type", p)
			}
		})
	}
}

func TestPostgresOptions(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.DBMaxOpenConns = 40
	cfg.DBMaxIdleConns = 10
	cfg.DBConnMaxLifetime = 30 * time.Minute
	cfg.DBSlowQuery = time.Second

	got := PostgresOptions(cfg)
	if got.MaxOpenConns != 40 || got.MaxIdleConns != 10 || got.ConnMaxLifetime != 30*time.Minute || got.SlowThreshold != time.Second {
		t.Fatalf("PostgresOptions() = %+v", got)
	}
}

func TestNewRateLimiter(t *testing.T) {
	t.Parallel()

	rdb := newTestRedis(t)

	cfg := testConfig()
	limiter, err := NewRateLimiter(cfg, rdb)
	if err != nil {
		t.Fatalf("NewRateLimiter(local) error = %v", err)
	}
	if _, ok := limiter.(*ratelimit.LocalRateLimiter); !ok {
		t.Fatalf("NewRateLimiter(local) = %T, want *ratelimit.LocalRateLimiter", limiter)
	}

	cfg.RateLimitBackend = config.RateLimitBackendRedis
	limiter, err = NewRateLimiter(cfg, rdb)
	if err != nil {
		t.Fatalf("NewRateLimiter(redis) error = %v", err)
	}
	if _, ok := limiter.(*redis.RedisRateLimiter); !ok {
		t.Fatalf("NewRateLimiter(redis) = %T, want *redis.RedisRateLimiter", limiter)
	}

	cfg.RateLimitBackend = "memcached"
	if _, err := NewRateLimiter(cfg, rdb); err == nil {
		t.Fatal("NewRateLimiter(memcached) error = nil, want error")
	}
}

func TestSeedTemplates(t *testing.T) {
	t.Parallel()

	if err := SeedTemplates(context.Background(), nil, "", zap.NewNop()); err != nil {
		t.Fatalf("SeedTemplates(empty path) error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "templates.yaml")
	if err := os.WriteFile(path, []byte("templates: ["), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := SeedTemplates(context.Background(), nil, path, zap.NewNop()); err == nil {
		t.Fatal("SeedTemplates(invalid yaml) error = nil, want error")
	}

	if err := SeedTemplates(context.Background(), nil, filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop()); err == nil {
		t.Fatal("SeedTemplates(missing file) error = nil, want error")
	}
}

func TestRegistryChannels(t *testing.T) {
	t.Parallel()

	email, err := NewEmailProvider(testConfig())
	if err != nil {
		t.Fatalf("NewEmailProvider() error = %v", err)
	}
	registry, err := newRegistry(testConfig(), email, email, email, email)
	if err != nil {
		t.Fatalf("newRegistry() error = %v", err)
	}

	got := registryChannels(registry)
	want := []string{
		domain.ChannelEmail.String(),
		domain.ChannelInApp.String(),
		domain.ChannelPush.String(),
		domain.ChannelSMS.String(),
	}
	if len(got) != len(want) {
		t.Fatalf("registryChannels() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("registryChannels() = %v, want %v", got, want)
		}
	}
}
