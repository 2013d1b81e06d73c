package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
	"github.com/kursadbilgin/dispatch-core/internal/observability"
	"github.com/kursadbilgin/dispatch-core/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// Processor runs the state machine for one stored notification.
type Processor interface {
	Process(ctx context.Context, id string) error
}

// WorkerService consumes the channel work queues and hands each due
// notification to the Processor.
type WorkerService struct {
	consumer    queue.Consumer
	processor   Processor
	logger      *zap.Logger
	concurrency int
}

func NewWorkerService(
	consumer queue.Consumer,
	processor Processor,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		consumer:    consumer,
		processor:   processor,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes channel queues and processes notification messages until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	workers := s.concurrency
	if workers < len(queueNames) {
		workers = len(queueNames)
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := s.consumer.Consume(groupCtx, queueName, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

// processMessage maps the processing outcome onto the broker: nil acks,
// queue.ErrReject dead-letters, any other error requeues.
func (s *WorkerService) processMessage(ctx context.Context, msg queue.NotificationMessage) error {
	ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	logger := observability.NotificationLogger(s.logger, ctx, msg.CorrelationID, msg.NotificationID, msg.Channel)

	err := s.processor.Process(ctx, msg.NotificationID)
	switch {
	case err == nil:
		return nil

	case errors.Is(err, domain.ErrConflict):
		logger.Debug("notification held by another worker, requeueing")
		return err

	case errors.Is(err, domain.ErrNotFound):
		logger.Warn("notification not found, skipping")
		return nil

	case errors.Is(err, domain.ErrUnsupportedChannel):
		return fmt.Errorf("%w: %v", queue.ErrReject, err)

	case errors.Is(err, domain.ErrPreferenceDenied),
		errors.Is(err, domain.ErrPermanentProviderFailure),
		errors.Is(err, domain.ErrRetryExhausted),
		errors.Is(err, domain.ErrValidation):
		// Terminal outcome already persisted and audited.
		return nil

	default:
		logger.Error("notification processing failed", zap.Error(err))
		return err
	}
}
