package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/dispatch-core/internal/domain"
	"github.com/kursadbilgin/dispatch-core/internal/observability"
	"github.com/kursadbilgin/dispatch-core/internal/repository"
	"github.com/kursadbilgin/dispatch-core/internal/template"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	maxBatchSize        = 1000
	batchDispatchLimit  = 16
	defaultRecoverAfter = 10 * time.Minute
)

type BatchSummary struct {
	BatchID     string
	Title       string
	Channel     domain.Channel
	TotalCount  int
	FailedCount int
	Status      domain.BatchStatus
	Counts      []StatusCount
}

type StatusCount struct {
	Status domain.Status
	Count  int
}

// Stats counts notifications created in a time range. Sent includes
// notifications that were later confirmed delivered; Pending covers
// PENDING, RETRY and PROCESSING.
type Stats struct {
	Total     int64
	Sent      int64
	Delivered int64
	Failed    int64
	Pending   int64
	Cancelled int64
}

// TemplateRequest creates a notification from a stored template.
type TemplateRequest struct {
	UserID         string
	TemplateID     string
	Variables      map[string]string
	Channel        domain.Channel
	Type           domain.Type
	Priority       domain.Priority
	ScheduledAt    *time.Time
	IdempotencyKey *string
	// MaxRetries defaults to domain.DefaultMaxRetries when nil.
	MaxRetries *int
}

// DispatchBatch fans one title/message out to every user. Each notification
// succeeds or fails on its own; the returned error only reports a batch that
// could not be recorded at all.
func (d *Dispatcher) DispatchBatch(
	ctx context.Context,
	userIDs []string,
	title string,
	message string,
	channel domain.Channel,
) (*domain.Batch, []DispatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(userIDs) == 0 {
		return nil, nil, fmt.Errorf("%w: batch must include at least one user", domain.ErrValidation)
	}
	if len(userIDs) > maxBatchSize {
		return nil, nil, fmt.Errorf("%w: batch size exceeds %d", domain.ErrValidation, maxBatchSize)
	}
	if !channel.IsValid() {
		return nil, nil, fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, channel)
	}

	batch := &domain.Batch{
		ID:         uuid.NewString(),
		Title:      strings.TrimSpace(title),
		Channel:    channel,
		TotalCount: len(userIDs),
		Status:     domain.BatchStatusProcessing,
	}
	if err := d.batches.Create(ctx, batch); err != nil {
		return nil, nil, fmt.Errorf("failed to record batch: %w", err)
	}

	results := make([]DispatchResult, len(userIDs))
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(batchDispatchLimit)
	for i, userID := range userIDs {
		g.Go(func() error {
			batchID := batch.ID
			results[i] = d.Dispatch(groupCtx, &domain.Notification{
				UserID:     strings.TrimSpace(userID),
				BatchID:    &batchID,
				Title:      title,
				Body:       message,
				Channel:    channel,
				MaxRetries: domain.DefaultMaxRetries,
			})
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, result := range results {
		if result.Status.Undelivered() {
			failed++
		}
	}

	completed, err := d.batches.Complete(ctx, batch.ID, failed)
	if err != nil {
		d.logger.Error("failed to complete batch", zap.String("batchId", batch.ID), zap.Error(err))
		return batch, results, nil
	}
	if failed > 0 {
		d.logger.Warn("batch completed with partial failure",
			zap.String("batchId", batch.ID),
			zap.Int("failed", failed),
			zap.Int("total", len(userIDs)),
		)
	}

	return completed, results, nil
}

// Schedule stores n for delivery at at and returns its id.
func (d *Dispatcher) Schedule(ctx context.Context, n *domain.Notification, at time.Time) (string, error) {
	if n == nil {
		return "", fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}
	if at.IsZero() {
		return "", fmt.Errorf("%w: scheduled time is required", domain.ErrValidation)
	}

	at = at.UTC()
	n.ScheduledAt = &at
	result := d.Dispatch(ctx, n)
	if result.Status == DispatchRejected {
		return "", result.Err
	}
	return result.NotificationID, result.Err
}

// CreateFromTemplate renders a stored template for the user's language and
// stores the result as a PENDING notification that the scheduler picks up.
func (d *Dispatcher) CreateFromTemplate(ctx context.Context, req TemplateRequest) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(req.UserID) == "" {
		return "", fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if !req.Channel.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, req.Channel)
	}
	if _, err := d.senders.Resolve(req.Channel); err != nil {
		return "", err
	}

	user, err := d.loadRecipient(ctx, strings.TrimSpace(req.UserID))
	if err != nil {
		return "", err
	}

	tpl, err := d.resolver.Resolve(ctx, req.TemplateID, req.Channel, user.Language())
	if err != nil {
		return "", err
	}
	rendered, err := template.Render(*tpl, req.Variables)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	templateID := tpl.TemplateID
	n := &domain.Notification{
		UserID:         user.ID,
		Title:          rendered.Subject,
		Body:           rendered.Body,
		TemplateID:     &templateID,
		Variables:      req.Variables,
		Channel:        req.Channel,
		Type:           req.Type,
		Priority:       req.Priority,
		ScheduledAt:    req.ScheduledAt,
		IdempotencyKey: req.IdempotencyKey,
		MaxRetries:     domain.MaxRetriesOrDefault(req.MaxRetries),
	}
	if err := prepareNotificationForCreate(n); err != nil {
		return "", err
	}

	due := d.now().UTC()
	if n.ScheduledAt != nil && n.ScheduledAt.After(due) {
		due = n.ScheduledAt.UTC()
	}
	n.NextAttemptAt = &due

	existing, err := d.create(ctx, n)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, nil
	}
	return n.ID, nil
}

func (d *Dispatcher) Get(ctx context.Context, id string) (*domain.Notification, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return d.notifications.GetByID(ctx, strings.TrimSpace(id))
}

func (d *Dispatcher) GetStatus(ctx context.Context, id string) (domain.Status, error) {
	n, err := d.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return n.Status, nil
}

func (d *Dispatcher) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	return d.notifications.List(ctx, params)
}

// Attempts returns the audit trail of one notification, oldest first.
func (d *Dispatcher) Attempts(ctx context.Context, id string) ([]domain.DeliveryAttemptLog, error) {
	if _, err := d.Get(ctx, id); err != nil {
		return nil, err
	}
	return d.attempts.ListByNotificationID(ctx, strings.TrimSpace(id))
}

// Cancel withdraws a PENDING or RETRY notification. A notification a worker
// already picked up reports domain.ErrAlreadyProcessing.
func (d *Dispatcher) Cancel(ctx context.Context, id string) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	err := d.notifications.Cancel(ctx, strings.TrimSpace(id))
	switch {
	case err == nil:
		d.logger.Info("notification cancelled", zap.String("notificationId", id))
		return true, nil
	case errors.Is(err, domain.ErrConflict):
		return false, domain.ErrAlreadyProcessing
	default:
		return false, err
	}
}

// Retry re-arms a FAILED notification with a fresh retry budget, due now.
// It returns false for notifications in any other state.
func (d *Dispatcher) Retry(ctx context.Context, id string) (bool, error) {
	n, err := d.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if n.Status != domain.StatusFailed {
		return false, nil
	}

	ok, err := d.notifications.Rearm(ctx, n.ID, d.now().UTC())
	if err != nil {
		return false, err
	}
	if ok {
		d.logger.Info("notification re-armed for retry", zap.String("notificationId", n.ID))
	}
	return ok, nil
}

// MarkDelivered records a provider delivery confirmation for a SENT notification.
func (d *Dispatcher) MarkDelivered(ctx context.Context, providerReference string) (bool, error) {
	providerReference = strings.TrimSpace(providerReference)
	if providerReference == "" {
		return false, fmt.Errorf("%w: provider reference is required", domain.ErrValidation)
	}

	n, err := d.notifications.GetByProviderReference(ctx, providerReference)
	if err != nil {
		return false, err
	}
	if n.Status == domain.StatusDelivered {
		return false, nil
	}

	ok, err := d.notifications.MarkDelivered(ctx, n.ID, d.now().UTC())
	if err != nil {
		return false, err
	}
	if ok {
		d.metrics.IncNotificationDelivered(n.Channel.String())
	}
	return ok, nil
}

func (d *Dispatcher) Stats(ctx context.Context, from, to *time.Time) (Stats, error) {
	if from != nil && to != nil && from.After(*to) {
		return Stats{}, fmt.Errorf("%w: from must not be after to", domain.ErrValidation)
	}

	counts, err := d.notifications.CountByStatus(ctx, repository.StatsParams{From: from, To: to})
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, c := range counts {
		stats.Total += c.Count
		switch c.Status {
		case domain.StatusSent:
			stats.Sent += c.Count
		case domain.StatusDelivered:
			stats.Sent += c.Count
			stats.Delivered += c.Count
		case domain.StatusFailed:
			stats.Failed += c.Count
		case domain.StatusPending, domain.StatusRetry, domain.StatusProcessing:
			stats.Pending += c.Count
		case domain.StatusCancelled:
			stats.Cancelled += c.Count
		}
	}
	return stats, nil
}

// RecoverStale returns notifications stuck in PROCESSING for longer than
// olderThan to the retry path. Each one gets an audit entry for the
// abandoned attempt.
func (d *Dispatcher) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = defaultRecoverAfter
	}

	now := d.now().UTC()
	recovered, err := d.notifications.RecoverStale(ctx, now.Add(-olderThan), now)
	if err != nil {
		return 0, err
	}

	for i := range recovered {
		n := &recovered[i]
		logger := observability.NotificationLogger(d.logger, ctx, n.CorrelationID, n.ID, n.Channel)

		// A retried row already counts the abandoned attempt in RetryCount.
		attempt := n.RetryCount
		if n.Status == domain.StatusFailed {
			attempt++
		}
		d.appendAttempt(ctx, n, n.Status, n.LastError, attempt, 0, nil, logger)
		if n.Status == domain.StatusFailed {
			d.metrics.IncNotificationFailed(n.Channel.String(), "processing_abandoned")
		}
	}

	count := int64(len(recovered))
	d.metrics.AddStaleRecovered(count)
	if count > 0 {
		d.logger.Warn("recovered stale notifications", zap.Int64("count", count))
	}
	return count, nil
}

func (d *Dispatcher) GetBatchSummary(ctx context.Context, batchID string) (*BatchSummary, error) {
	if strings.TrimSpace(batchID) == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	batch, err := d.batches.GetByID(ctx, strings.TrimSpace(batchID))
	if err != nil {
		return nil, err
	}

	statuses, err := d.notifications.GetBatchSummary(ctx, batch.ID)
	if err != nil {
		return nil, err
	}

	counts := make([]StatusCount, 0, len(statuses))
	for _, summary := range statuses {
		counts = append(counts, StatusCount{
			Status: summary.Status,
			Count:  summary.Count,
		})
	}

	return &BatchSummary{
		BatchID:     batch.ID,
		Title:       batch.Title,
		Channel:     batch.Channel,
		TotalCount:  batch.TotalCount,
		FailedCount: batch.FailedCount,
		Status:      batch.Status,
		Counts:      counts,
	}, nil
}

func (d *Dispatcher) UpsertPreference(ctx context.Context, p *domain.NotificationPreference) error {
	if p == nil {
		return fmt.Errorf("%w: preference is required", domain.ErrValidation)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdatedAt = d.now().UTC()
	return d.preferences.Upsert(ctx, p)
}

func (d *Dispatcher) Preferences(ctx context.Context, userID string) ([]domain.NotificationPreference, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	return d.preferences.ListByUser(ctx, strings.TrimSpace(userID))
}

// UpsertTemplate stores a template version and drops the cached versions.
func (d *Dispatcher) UpsertTemplate(ctx context.Context, t *domain.NotificationTemplate) error {
	if t == nil {
		return fmt.Errorf("%w: template is required", domain.ErrValidation)
	}
	if t.Language == "" {
		t.Language = domain.DefaultLanguage
	}
	if t.Version == 0 {
		t.Version = 1
	}
	if err := t.Validate(); err != nil {
		return err
	}

	if err := d.templates.Upsert(ctx, t); err != nil {
		return err
	}
	d.resolver.Invalidate(t.TemplateID, t.Channel)
	return nil
}

// create stores n. On an idempotency key collision it returns the row that
// already holds the key instead.
func (d *Dispatcher) create(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	err := d.notifications.Create(ctx, n)
	if err == nil {
		return nil, nil
	}

	existing, resolved, resolveErr := d.resolveIdempotencyConflict(ctx, err, n.IdempotencyKey)
	if resolveErr != nil {
		return nil, resolveErr
	}
	if resolved {
		return existing, nil
	}
	return nil, err
}

func prepareNotificationForCreate(n *domain.Notification) error {
	if n == nil {
		return fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	n.UserID = strings.TrimSpace(n.UserID)
	n.Title = strings.TrimSpace(n.Title)
	n.Body = strings.TrimSpace(n.Body)
	n.CorrelationID = strings.TrimSpace(n.CorrelationID)
	if n.CorrelationID == "" {
		n.CorrelationID = uuid.NewString()
	}

	n.ID = strings.TrimSpace(n.ID)
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	n.IdempotencyKey = normalizeOptionalString(n.IdempotencyKey)

	n.ApplyDefaults()
	n.Status = domain.StatusPending
	n.RetryCount = 0
	n.NextAttemptAt = nil
	n.ProcessingStartedAt = nil
	n.SentAt = nil
	n.DeliveredAt = nil
	n.LastError = nil
	n.ProviderReference = nil

	return n.Validate()
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (d *Dispatcher) resolveIdempotencyConflict(
	ctx context.Context,
	createErr error,
	idempotencyKey *string,
) (*domain.Notification, bool, error) {
	if idempotencyKey == nil || strings.TrimSpace(*idempotencyKey) == "" {
		return nil, false, nil
	}
	if !errors.Is(createErr, domain.ErrConflict) {
		return nil, false, nil
	}

	existing, err := d.notifications.GetByIdempotencyKey(ctx, strings.TrimSpace(*idempotencyKey))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing notification after idempotency conflict: %w", err)
	}
	d.logger.Info("idempotency conflict resolved",
		zap.String("existingId", existing.ID),
		zap.String("idempotencyKey", *idempotencyKey),
	)
	return existing, true, nil
}
