package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/kursadbilgin/dispatch-core/internal/channel"
	"github.com/kursadbilgin/dispatch-core/internal/domain"
	"github.com/kursadbilgin/dispatch-core/internal/lock"
	"github.com/kursadbilgin/dispatch-core/internal/observability"
	"github.com/kursadbilgin/dispatch-core/internal/preference"
	"github.com/kursadbilgin/dispatch-core/internal/provider"
	"github.com/kursadbilgin/dispatch-core/internal/ratelimit"
	"github.com/kursadbilgin/dispatch-core/internal/repository"
	"github.com/kursadbilgin/dispatch-core/internal/template"
	"go.uber.org/zap"
)

const (
	minRetryBase         = time.Second
	retryBaseDivisor     = 64
	maxRetryJitterMillis = 250
	lockKeyPrefix        = "notification:"
)

// DispatchStatus is the immediate outcome reported to a dispatch caller.
// Apart from Scheduled and Rejected it mirrors the notification status.
type DispatchStatus string

const (
	DispatchScheduled DispatchStatus = "SCHEDULED"
	DispatchRejected  DispatchStatus = "REJECTED"
)

func (s DispatchStatus) String() string { return string(s) }

// Undelivered reports whether the recipient will never receive the
// notification. Batches count these as failures.
func (s DispatchStatus) Undelivered() bool {
	switch s {
	case DispatchRejected, dispatchStatusOf(domain.StatusFailed), dispatchStatusOf(domain.StatusCancelled):
		return true
	}
	return false
}

func dispatchStatusOf(s domain.Status) DispatchStatus { return DispatchStatus(s) }

// DispatchResult is what a caller of Dispatch sees. Final delivery of retried
// notifications is observed through GetStatus or Attempts.
type DispatchResult struct {
	Status         DispatchStatus
	NotificationID string
	Err            error
}

// SendRecorder counts successful sends for the per-user rate caps.
type SendRecorder interface {
	Record(ctx context.Context, userID string, channel domain.Channel, notificationID string, at time.Time) error
}

// Deps are the collaborators of a Dispatcher. Every field is required.
type Deps struct {
	Notifications repository.NotificationRepository
	Attempts      repository.AttemptRepository
	Batches       repository.BatchRepository
	Users         repository.UserRepository
	Preferences   repository.PreferenceRepository
	Templates     repository.TemplateRepository
	Resolver      *template.Resolver
	Evaluator     *preference.Evaluator
	Recorder      SendRecorder
	Senders       *channel.Registry
	Locker        lock.Locker
	RateLimiter   ratelimit.RateLimiter
}

// Dispatcher runs the notification state machine:
// PENDING -> PROCESSING -> SENT/DELIVERED, RETRY or FAILED, with preference
// suppression to CANCELLED and deferral back onto the due-time queue.
type Dispatcher struct {
	notifications repository.NotificationRepository
	attempts      repository.AttemptRepository
	batches       repository.BatchRepository
	users         repository.UserRepository
	preferences   repository.PreferenceRepository
	templates     repository.TemplateRepository
	resolver      *template.Resolver
	evaluator     *preference.Evaluator
	recorder      SendRecorder
	senders       *channel.Registry
	locker        lock.Locker
	rateLimiter   ratelimit.RateLimiter
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
	randIntn      func(n int) int
}

func NewDispatcher(deps Deps, logger *zap.Logger) (*Dispatcher, error) {
	switch {
	case deps.Notifications == nil:
		return nil, fmt.Errorf("notification repository is required")
	case deps.Attempts == nil:
		return nil, fmt.Errorf("attempt repository is required")
	case deps.Batches == nil:
		return nil, fmt.Errorf("batch repository is required")
	case deps.Users == nil:
		return nil, fmt.Errorf("user repository is required")
	case deps.Preferences == nil:
		return nil, fmt.Errorf("preference repository is required")
	case deps.Templates == nil:
		return nil, fmt.Errorf("template repository is required")
	case deps.Resolver == nil:
		return nil, fmt.Errorf("template resolver is required")
	case deps.Evaluator == nil:
		return nil, fmt.Errorf("preference evaluator is required")
	case deps.Recorder == nil:
		return nil, fmt.Errorf("send recorder is required")
	case deps.Senders == nil:
		return nil, fmt.Errorf("sender registry is required")
	case deps.Locker == nil:
		return nil, fmt.Errorf("locker is required")
	case deps.RateLimiter == nil:
		return nil, fmt.Errorf("rate limiter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		notifications: deps.Notifications,
		attempts:      deps.Attempts,
		batches:       deps.Batches,
		users:         deps.Users,
		preferences:   deps.Preferences,
		templates:     deps.Templates,
		resolver:      deps.Resolver,
		evaluator:     deps.Evaluator,
		recorder:      deps.Recorder,
		senders:       deps.Senders,
		locker:        deps.Locker,
		rateLimiter:   deps.RateLimiter,
		logger:        logger,
		now:           time.Now,
		randIntn:      rand.Intn,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Dispatch persists n as PENDING and drives it through the state machine.
// Validation and configuration errors are returned before anything is stored.
func (d *Dispatcher) Dispatch(ctx context.Context, n *domain.Notification) DispatchResult {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := prepareNotificationForCreate(n); err != nil {
		return rejected(err)
	}
	if _, err := d.senders.Resolve(n.Channel); err != nil {
		return rejected(err)
	}
	if _, err := d.loadRecipient(ctx, n.UserID); err != nil {
		return rejected(err)
	}

	existing, err := d.create(ctx, n)
	if err != nil {
		return rejected(err)
	}
	if existing != nil {
		return DispatchResult{Status: dispatchStatusOf(existing.Status), NotificationID: existing.ID}
	}

	return d.run(ctx, n.ID)
}

// Process is the worker entry point for a stored notification that became due.
func (d *Dispatcher) Process(ctx context.Context, id string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return d.run(ctx, id).Err
}

func (d *Dispatcher) run(ctx context.Context, id string) DispatchResult {
	unlock, err := d.locker.TryLock(ctx, lockKeyPrefix+id)
	if err != nil {
		if !errors.Is(err, domain.ErrAlreadyProcessing) {
			if n, getErr := d.notifications.GetByID(ctx, id); getErr == nil {
				d.rearm(ctx, n, err, d.logger)
			}
		}
		return DispatchResult{Status: DispatchRejected, NotificationID: id, Err: err}
	}
	defer unlock()

	n, err := d.notifications.GetByID(ctx, id)
	if err != nil {
		return DispatchResult{Status: DispatchRejected, NotificationID: id, Err: err}
	}

	logger := observability.NotificationLogger(d.logger, ctx, n.CorrelationID, n.ID, n.Channel)

	return d.advance(ctx, n, logger)
}

// advance applies one step of the state machine. Callers hold the per-id lock.
func (d *Dispatcher) advance(ctx context.Context, n *domain.Notification, logger *zap.Logger) DispatchResult {
	now := d.now().UTC()

	switch n.Status {
	case domain.StatusPending, domain.StatusRetry:
	default:
		return DispatchResult{Status: dispatchStatusOf(n.Status), NotificationID: n.ID}
	}
	if n.NextAttemptAt != nil && n.NextAttemptAt.After(now) {
		return DispatchResult{Status: DispatchScheduled, NotificationID: n.ID}
	}

	user, err := d.loadRecipient(ctx, n.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return d.failWithoutSend(ctx, n, err, logger)
		}
		return d.rearm(ctx, n, err, logger)
	}

	if n.Status == domain.StatusPending {
		if result, done := d.admit(ctx, n, user, now, logger); done {
			return result
		}
	}

	sender, err := d.senders.Resolve(n.Channel)
	if err != nil {
		logger.Error("no sender registered for channel", zap.Error(err))
		return d.rearm(ctx, n, err, logger)
	}

	if err := sender.Validate(n, user); err != nil {
		return d.failWithoutSend(ctx, n, err, logger)
	}

	return d.deliver(ctx, n, user, sender, logger)
}

// admit runs the preference check and scheduled-time gate for a PENDING
// notification. done is false when the notification may be sent now.
func (d *Dispatcher) admit(
	ctx context.Context,
	n *domain.Notification,
	user *domain.User,
	now time.Time,
	logger *zap.Logger,
) (DispatchResult, bool) {
	pref, err := d.preferences.Find(ctx, n.UserID, n.Type, n.Channel)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return d.rearm(ctx, n, err, logger), true
	}

	decision, err := d.evaluator.Evaluate(ctx, n, user, pref)
	if err != nil {
		return d.rearm(ctx, n, err, logger), true
	}
	d.metrics.IncPreferenceDecision(n.Channel.String(), decision.Outcome.String())

	switch decision.Outcome {
	case preference.OutcomeDeny:
		reason := "suppressed by preference: " + decision.Reason
		n.Status = domain.StatusCancelled
		n.NextAttemptAt = nil
		n.LastError = &reason
		if err := d.notifications.SaveAdmission(ctx, n, []domain.Status{domain.StatusPending}); err != nil {
			return DispatchResult{Status: DispatchRejected, NotificationID: n.ID, Err: err}, true
		}
		d.appendAttempt(ctx, n, domain.StatusCancelled, &reason, n.RetryCount+1, 0, nil, logger)
		logger.Info("notification suppressed by preference", zap.String("reason", decision.Reason))
		return DispatchResult{
			Status:         dispatchStatusOf(domain.StatusCancelled),
			NotificationID: n.ID,
			Err:            fmt.Errorf("%w: %s", domain.ErrPreferenceDenied, decision.Reason),
		}, true

	case preference.OutcomeDefer:
		until := decision.Until.UTC()
		if n.ScheduledAt != nil && n.ScheduledAt.After(until) {
			until = n.ScheduledAt.UTC()
		}
		reason := "deferred until " + until.Format(time.RFC3339) + ": " + decision.Reason
		n.NextAttemptAt = &until
		if err := d.notifications.SaveAdmission(ctx, n, []domain.Status{domain.StatusPending}); err != nil {
			return DispatchResult{Status: DispatchRejected, NotificationID: n.ID, Err: err}, true
		}
		d.appendAttempt(ctx, n, domain.StatusPending, &reason, n.RetryCount+1, 0, nil, logger)
		logger.Info("notification deferred", zap.Time("until", until), zap.String("reason", decision.Reason))
		return DispatchResult{Status: DispatchScheduled, NotificationID: n.ID}, true
	}

	if n.ScheduledAt != nil && n.ScheduledAt.After(now) {
		at := n.ScheduledAt.UTC()
		n.NextAttemptAt = &at
		if err := d.notifications.SaveAdmission(ctx, n, []domain.Status{domain.StatusPending}); err != nil {
			return DispatchResult{Status: DispatchRejected, NotificationID: n.ID, Err: err}, true
		}
		logger.Debug("notification scheduled", zap.Time("scheduledAt", at))
		return DispatchResult{Status: DispatchScheduled, NotificationID: n.ID}, true
	}

	return DispatchResult{}, false
}

func (d *Dispatcher) deliver(
	ctx context.Context,
	n *domain.Notification,
	user *domain.User,
	sender channel.Sender,
	logger *zap.Logger,
) DispatchResult {
	startedAt := d.now().UTC()
	claimed, err := d.notifications.MarkProcessing(ctx, n.ID, []domain.Status{domain.StatusPending, domain.StatusRetry}, startedAt)
	if err != nil {
		return d.rearm(ctx, n, err, logger)
	}
	if !claimed {
		return DispatchResult{Status: DispatchRejected, NotificationID: n.ID, Err: domain.ErrAlreadyProcessing}
	}
	n.Status = domain.StatusProcessing
	n.ProcessingStartedAt = &startedAt
	n.NextAttemptAt = nil

	channelLabel := n.Channel.String()
	d.metrics.IncWorkerInFlight(channelLabel)
	defer d.metrics.DecWorkerInFlight(channelLabel)

	attempt := n.RetryCount + 1
	sendStart := d.now()
	result, sendErr := d.send(ctx, n, user, sender)
	duration := d.now().Sub(sendStart)
	d.metrics.ObserveNotificationSendDuration(channelLabel, duration)

	// The outcome is persisted even when ctx was cancelled mid-send.
	persistCtx := context.WithoutCancel(ctx)
	if sendErr == nil {
		return d.succeed(persistCtx, n, result, attempt, duration, logger)
	}
	if ctx.Err() != nil && errors.Is(sendErr, context.Canceled) {
		return d.interrupt(persistCtx, n, sendErr, attempt, duration, logger)
	}
	return d.fail(persistCtx, n, sendErr, attempt, duration, logger)
}

func (d *Dispatcher) send(ctx context.Context, n *domain.Notification, user *domain.User, sender channel.Sender) (*channel.Result, error) {
	if err := d.rateLimiter.Wait(ctx, n.Channel); err != nil {
		return nil, &provider.ProviderError{Message: "throughput limiter", Transient: true, Cause: err}
	}
	return sender.Send(ctx, n, user)
}

func (d *Dispatcher) succeed(
	ctx context.Context,
	n *domain.Notification,
	result *channel.Result,
	attempt int,
	duration time.Duration,
	logger *zap.Logger,
) DispatchResult {
	now := d.now().UTC()
	n.Status = domain.StatusSent
	n.SentAt = &now
	n.LastError = nil
	var statusCode *int
	if result != nil {
		if ref := strings.TrimSpace(result.ProviderReference); ref != "" {
			n.ProviderReference = &ref
		}
		if result.StatusCode > 0 {
			code := result.StatusCode
			statusCode = &code
		}
		if result.Delivered {
			n.Status = domain.StatusDelivered
			n.DeliveredAt = &now
		}
	}

	if err := d.notifications.SaveOutcome(ctx, n); err != nil {
		logger.Error("failed to persist send outcome", zap.Error(err))
		return DispatchResult{Status: dispatchStatusOf(n.Status), NotificationID: n.ID, Err: err}
	}
	d.appendAttempt(ctx, n, n.Status, nil, attempt, duration, statusCode, logger)

	if err := d.recorder.Record(ctx, n.UserID, n.Channel, n.ID, now); err != nil {
		logger.Warn("failed to record send for rate caps", zap.Error(err))
	}

	d.metrics.IncNotificationSent(n.Channel.String())
	if n.Status == domain.StatusDelivered {
		d.metrics.IncNotificationDelivered(n.Channel.String())
	}
	logger.Info("notification sent", zap.String("status", n.Status.String()), zap.Int("attempt", attempt))

	return DispatchResult{Status: dispatchStatusOf(n.Status), NotificationID: n.ID}
}

func (d *Dispatcher) fail(
	ctx context.Context,
	n *domain.Notification,
	sendErr error,
	attempt int,
	duration time.Duration,
	logger *zap.Logger,
) DispatchResult {
	message := sendErr.Error()
	n.LastError = &message
	transient := provider.IsTransient(sendErr)

	var statusCode *int
	var providerErr *provider.ProviderError
	if errors.As(sendErr, &providerErr) && providerErr.StatusCode > 0 {
		code := providerErr.StatusCode
		statusCode = &code
	}

	var resultErr error
	if transient && n.RetryBudgetLeft() {
		n.RetryCount++
		next := d.now().UTC().Add(d.computeRetryDelay(n.Priority, n.RetryCount))
		n.Status = domain.StatusRetry
		n.NextAttemptAt = &next
	} else {
		n.Status = domain.StatusFailed
		n.NextAttemptAt = nil
		if transient {
			resultErr = fmt.Errorf("%w: %v", domain.ErrRetryExhausted, sendErr)
		} else {
			resultErr = fmt.Errorf("%w: %v", domain.ErrPermanentProviderFailure, sendErr)
		}
	}

	if err := d.notifications.SaveOutcome(ctx, n); err != nil {
		logger.Error("failed to persist send failure", zap.Error(err))
		return DispatchResult{Status: dispatchStatusOf(n.Status), NotificationID: n.ID, Err: err}
	}
	d.appendAttempt(ctx, n, n.Status, &message, attempt, duration, statusCode, logger)

	if n.Status == domain.StatusRetry {
		d.metrics.IncRetryScheduled(n.Channel.String())
		logger.Warn("send failed, retry scheduled",
			zap.Int("retryCount", n.RetryCount),
			zap.Time("nextAttemptAt", *n.NextAttemptAt),
			zap.Error(sendErr),
		)
		return DispatchResult{Status: dispatchStatusOf(n.Status), NotificationID: n.ID}
	}

	reason := "permanent_error"
	if transient {
		reason = "retry_exhausted"
	}
	d.metrics.IncNotificationFailed(n.Channel.String(), reason)
	logger.Error("notification failed", zap.String("reason", reason), zap.Error(sendErr))

	return DispatchResult{Status: dispatchStatusOf(n.Status), NotificationID: n.ID, Err: resultErr}
}

// interrupt puts a send cut short by the caller's cancellation, typically a
// worker shutting down, back on the retry path at once. It does not spend
// retry budget.
func (d *Dispatcher) interrupt(
	ctx context.Context,
	n *domain.Notification,
	cause error,
	attempt int,
	duration time.Duration,
	logger *zap.Logger,
) DispatchResult {
	message := "send interrupted: " + cause.Error()
	next := d.now().UTC()
	n.Status = domain.StatusRetry
	n.NextAttemptAt = &next
	n.LastError = &message

	if err := d.notifications.SaveOutcome(ctx, n); err != nil {
		logger.Error("failed to persist interrupted send", zap.Error(err))
		return DispatchResult{Status: dispatchStatusOf(n.Status), NotificationID: n.ID, Err: err}
	}
	d.appendAttempt(ctx, n, n.Status, &message, attempt, duration, nil, logger)
	logger.Warn("send interrupted, returned to retry", zap.Int("retryCount", n.RetryCount), zap.Error(cause))

	return DispatchResult{Status: dispatchStatusOf(n.Status), NotificationID: n.ID, Err: cause}
}

// failWithoutSend marks a notification FAILED when it can never be sent as
// stored, e.g. the recipient has no valid address for the channel.
func (d *Dispatcher) failWithoutSend(ctx context.Context, n *domain.Notification, cause error, logger *zap.Logger) DispatchResult {
	message := cause.Error()
	previous := n.Status
	n.Status = domain.StatusFailed
	n.NextAttemptAt = nil
	n.LastError = &message

	if err := d.notifications.SaveAdmission(ctx, n, []domain.Status{previous}); err != nil {
		return DispatchResult{Status: dispatchStatusOf(previous), NotificationID: n.ID, Err: err}
	}
	d.appendAttempt(ctx, n, domain.StatusFailed, &message, n.RetryCount+1, 0, nil, logger)
	d.metrics.IncNotificationFailed(n.Channel.String(), "invalid")
	logger.Warn("notification failed validation", zap.Error(cause))

	return DispatchResult{Status: dispatchStatusOf(domain.StatusFailed), NotificationID: n.ID, Err: cause}
}

// rearm gives a PENDING or RETRY notification a near due time after a
// collaborator error stopped it before PROCESSING, so the scanners claim it
// again. Rows that already carry a due time are left alone.
func (d *Dispatcher) rearm(ctx context.Context, n *domain.Notification, cause error, logger *zap.Logger) DispatchResult {
	result := DispatchResult{Status: dispatchStatusOf(n.Status), NotificationID: n.ID, Err: cause}
	if n.Status != domain.StatusPending && n.Status != domain.StatusRetry {
		return result
	}

	next := d.now().UTC().Add(d.computeRetryDelay(n.Priority, 1))
	if err := d.notifications.ReleaseClaim(context.WithoutCancel(ctx), n.ID, n.Status, next); err != nil {
		logger.Error("failed to rearm notification", zap.Error(err), zap.NamedError("cause", cause))
		return result
	}
	logger.Warn("dispatch interrupted before send, rearmed",
		zap.Time("nextAttemptAt", next),
		zap.Error(cause),
	)
	return result
}

// appendAttempt writes one audit entry. Failures are logged, not returned:
// the state transition it describes is already persisted.
func (d *Dispatcher) appendAttempt(
	ctx context.Context,
	n *domain.Notification,
	status domain.Status,
	message *string,
	attempt int,
	duration time.Duration,
	statusCode *int,
	logger *zap.Logger,
) {
	entry := &domain.DeliveryAttemptLog{
		NotificationID:     n.ID,
		Channel:            n.Channel,
		Status:             status,
		Error:              message,
		Attempt:            attempt,
		DurationMillis:     duration.Milliseconds(),
		ProviderStatusCode: statusCode,
		CreatedAt:          d.now().UTC(),
	}
	if err := d.attempts.Append(ctx, entry); err != nil {
		logger.Error("failed to append delivery attempt", zap.Error(err))
	}
}

// loadRecipient returns the user or a validation error when it cannot receive
// notifications.
func (d *Dispatcher) loadRecipient(ctx context.Context, userID string) (*domain.User, error) {
	user, err := d.users.FindByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %s does not exist", domain.ErrValidation, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.CanReceiveNotifications() {
		return nil, fmt.Errorf("%w: user %s cannot receive notifications", domain.ErrValidation, userID)
	}
	return user, nil
}

// computeRetryDelay grows from MaxDelay/64 (at least one second) doubling per
// retry, capped at the priority's MaxDelay, plus up to 250ms of jitter.
func (d *Dispatcher) computeRetryDelay(priority domain.Priority, retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}

	ceiling := priority.MaxDelay()
	delay := ceiling / retryBaseDivisor
	if delay < minRetryBase {
		delay = minRetryBase
	}
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay >= ceiling {
			delay = ceiling
			break
		}
	}
	if delay > ceiling {
		delay = ceiling
	}

	jitterMillis := 0
	if d.randIntn != nil {
		jitterMillis = d.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

// rejected reports a request that left nothing persisted.
func rejected(err error) DispatchResult {
	return DispatchResult{Status: DispatchRejected, Err: err}
}
