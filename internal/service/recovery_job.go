package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultRecoverySpec    = "@every 1m"
	defaultRecoveryTimeout = 30 * time.Second
)

// StaleRecoverer moves notifications abandoned in PROCESSING back to the retry path.
type StaleRecoverer interface {
	RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RecoveryJob runs stale PROCESSING recovery on a cron schedule.
type RecoveryJob struct {
	recoverer  StaleRecoverer
	spec       string
	staleAfter time.Duration
	logger     *zap.Logger
	cron       *cron.Cron
}

func NewRecoveryJob(recoverer StaleRecoverer, spec string, staleAfter time.Duration, logger *zap.Logger) (*RecoveryJob, error) {
	if recoverer == nil {
		return nil, fmt.Errorf("stale recoverer is required")
	}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = defaultRecoverySpec
	}
	if staleAfter <= 0 {
		staleAfter = defaultRecoverAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid recovery schedule %q: %w", spec, err)
	}

	return &RecoveryJob{
		recoverer:  recoverer,
		spec:       spec,
		staleAfter: staleAfter,
		logger:     logger,
		cron:       cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
	}, nil
}

// Start schedules the job and blocks until ctx is done, then waits for a
// running recovery to finish.
func (j *RecoveryJob) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := j.cron.AddFunc(j.spec, func() { j.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule recovery job: %w", err)
	}

	j.cron.Start()
	j.logger.Info("recovery job started", zap.String("schedule", j.spec), zap.Duration("staleAfter", j.staleAfter))

	<-ctx.Done()
	<-j.cron.Stop().Done()
	return nil
}

// RunOnce performs a single recovery pass.
func (j *RecoveryJob) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, defaultRecoveryTimeout)
	defer cancel()

	if _, err := j.recoverer.RecoverStale(runCtx, j.staleAfter); err != nil {
		j.logger.Error("stale notification recovery failed", zap.Error(err))
	}
}
