package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
	"github.com/kursadbilgin/dispatch-core/internal/observability"
	"github.com/kursadbilgin/dispatch-core/internal/queue"
	"github.com/kursadbilgin/dispatch-core/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSchedulerScanInterval = 5 * time.Second
	defaultSchedulerScanLimit    = 100
)

// Scheduler publishes PENDING notifications whose scheduled or deferred time
// has arrived.
type Scheduler struct {
	notifications repository.NotificationRepository
	publisher     queue.Publisher
	logger        *zap.Logger
	metrics       *observability.Metrics
	interval      time.Duration
	limit         int
	now           func() time.Time
}

func NewScheduler(
	notifications repository.NotificationRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*Scheduler, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultSchedulerScanInterval
	}
	if limit <= 0 {
		limit = defaultSchedulerScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		notifications: notifications,
		publisher:     publisher,
		logger:        logger,
		interval:      interval,
		limit:         limit,
		now:           time.Now,
	}, nil
}

func (s *Scheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("scheduler scan failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) scanDue(ctx context.Context) error {
	published, err := publishDue(ctx, s.notifications, s.publisher, domain.StatusPending, s.now().UTC(), s.limit, s.logger)
	s.metrics.AddScannerPublished(domain.StatusPending.String(), published)
	if err != nil {
		return fmt.Errorf("failed to fetch due scheduled notifications: %w", err)
	}
	return nil
}

// publishDue claims due rows in status and publishes one work message per row.
// A row whose message could not be published gets its due time back so the
// next scan picks it up again.
func publishDue(
	ctx context.Context,
	notifications repository.NotificationRepository,
	publisher queue.Publisher,
	status domain.Status,
	now time.Time,
	limit int,
	logger *zap.Logger,
) (int, error) {
	due, err := notifications.ClaimDue(ctx, status, now, limit)
	if err != nil {
		return 0, err
	}

	published := 0
	for i := range due {
		notification := due[i]
		queueName := queue.QueueName(notification.Channel)

		if err := publisher.Publish(ctx, queueName, queue.MessageFor(notification)); err != nil {
			logger.Error("failed to enqueue due notification",
				zap.String("notificationId", notification.ID),
				zap.String("status", status.String()),
				zap.String("queue", queueName),
				zap.Error(err),
			)
			if releaseErr := notifications.ReleaseClaim(ctx, notification.ID, status, now); releaseErr != nil {
				logger.Error("failed to release claim after publish error",
					zap.String("notificationId", notification.ID),
					zap.Error(releaseErr),
				)
			}
			continue
		}
		published++
	}

	return published, nil
}
