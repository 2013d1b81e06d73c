package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ListParams struct {
	UserID   *string
	Status   *domain.Status
	Channel  *domain.Channel
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

type StatsParams struct {
	From *time.Time
	To   *time.Time
}

type BatchSummary struct {
	Status domain.Status `gorm:"column:status"`
	Count  int           `gorm:"column:count"`
}

type StatusCount struct {
	Status domain.Status `gorm:"column:status"`
	Count  int64         `gorm:"column:count"`
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	CreateBatch(ctx context.Context, notifications []*domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Notification, error)
	GetByProviderReference(ctx context.Context, reference string) (*domain.Notification, error)
	List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error)
	// MarkProcessing moves id to PROCESSING only while its status is one of from.
	MarkProcessing(ctx context.Context, id string, from []domain.Status, at time.Time) (bool, error)
	// SaveOutcome persists the result of a PROCESSING attempt.
	SaveOutcome(ctx context.Context, n *domain.Notification) error
	// SaveAdmission persists status and due time for a notification that is not being processed.
	SaveAdmission(ctx context.Context, n *domain.Notification, from []domain.Status) error
	Cancel(ctx context.Context, id string) error
	Rearm(ctx context.Context, id string, at time.Time) (bool, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error)
	ClaimDue(ctx context.Context, status domain.Status, now time.Time, limit int) ([]domain.Notification, error)
	ReleaseClaim(ctx context.Context, id string, status domain.Status, at time.Time) error
	// RecoverStale moves abandoned PROCESSING rows on and returns them in their new state.
	RecoverStale(ctx context.Context, startedBefore, now time.Time) ([]domain.Notification, error)
	CountByStatus(ctx context.Context, params StatsParams) ([]StatusCount, error)
	GetBatchSummary(ctx context.Context, batchID string) ([]BatchSummary, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return translateError(err)
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

func (r *GormNotificationRepo) CreateBatch(ctx context.Context, notifications []*domain.Notification) error {
	models := make([]NotificationModel, 0, len(notifications))
	modelIndexes := make([]int, 0, len(notifications))
	for i, n := range notifications {
		model := notificationModelFromDomain(n)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(&models, 100).Error; err != nil {
		return translateError(err)
	}

	for i := range models {
		idx := modelIndexes[i]
		if idx < len(notifications) && notifications[idx] != nil {
			*notifications[idx] = *notificationModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *GormNotificationRepo) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Notification, error) {
	return r.first(ctx, "idempotency_key = ?", idempotencyKey)
}

func (r *GormNotificationRepo) GetByProviderReference(ctx context.Context, reference string) (*domain.Notification, error) {
	return r.first(ctx, "provider_reference = ?", reference)
}

func (r *GormNotificationRepo) first(ctx context.Context, query string, arg any) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).Where(query, arg).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error) {
	query := r.db.WithContext(ctx).Model(&NotificationModel{})

	if params.UserID != nil {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Channel != nil {
		query = query.Where("channel = ?", *params.Channel)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []NotificationModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, total, nil
}

func (r *GormNotificationRepo) MarkProcessing(ctx context.Context, id string, from []domain.Status, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{
			"status":                domain.StatusProcessing,
			"processing_started_at": at,
			"next_attempt_at":       nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormNotificationRepo) SaveOutcome(ctx context.Context, n *domain.Notification) error {
	return r.saveGuarded(ctx, n, []domain.Status{domain.StatusProcessing})
}

func (r *GormNotificationRepo) SaveAdmission(ctx context.Context, n *domain.Notification, from []domain.Status) error {
	return r.saveGuarded(ctx, n, from)
}

func (r *GormNotificationRepo) saveGuarded(ctx context.Context, n *domain.Notification, from []domain.Status) error {
	if n == nil {
		return domain.ErrValidation
	}

	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status IN ?", n.ID, from).
		Updates(map[string]any{
			"status":                n.Status,
			"title":                 n.Title,
			"body":                  n.Body,
			"next_attempt_at":       n.NextAttemptAt,
			"processing_started_at": n.ProcessingStartedAt,
			"sent_at":               n.SentAt,
			"delivered_at":          n.DeliveredAt,
			"retry_count":           n.RetryCount,
			"last_error":            n.LastError,
			"provider_reference":    n.ProviderReference,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrConflict(ctx, n.ID)
	}
	return nil
}

func (r *GormNotificationRepo) Cancel(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status IN ?", id, []domain.Status{domain.StatusPending, domain.StatusRetry}).
		Updates(map[string]any{
			"status":          domain.StatusCancelled,
			"next_attempt_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

// Rearm gives a FAILED notification a fresh retry budget, due at at.
func (r *GormNotificationRepo) Rearm(ctx context.Context, id string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusFailed).
		Updates(map[string]any{
			"status":          domain.StatusRetry,
			"retry_count":     0,
			"next_attempt_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormNotificationRepo) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusSent).
		Updates(map[string]any{
			"status":       domain.StatusDelivered,
			"delivered_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ClaimDue takes up to limit rows in status whose next_attempt_at has passed.
// Claimed rows have next_attempt_at cleared so other scanners skip them.
func (r *GormNotificationRepo) ClaimDue(ctx context.Context, status domain.Status, now time.Time, limit int) ([]domain.Notification, error) {
	var models []NotificationModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?", status, now).
			Order("next_attempt_at ASC").
			Limit(limit).
			Find(&models).Error; err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}

		ids := make([]string, 0, len(models))
		for i := range models {
			ids = append(ids, models[i].ID)
		}

		return tx.Model(&NotificationModel{}).
			Where("id IN ?", ids).
			Update("next_attempt_at", nil).Error
	})
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		models[i].NextAttemptAt = nil
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications, nil
}

// ReleaseClaim sets the due time of a row that has none, e.g. a claimed row
// that could not be published or one whose admission was interrupted.
func (r *GormNotificationRepo) ReleaseClaim(ctx context.Context, id string, status domain.Status, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ? AND next_attempt_at IS NULL", id, status).
		Update("next_attempt_at", at).Error
}

// RecoverStale returns rows left in PROCESSING by a crashed worker to the
// retry path, or fails them when their budget is spent.
func (r *GormNotificationRepo) RecoverStale(ctx context.Context, startedBefore, now time.Time) ([]domain.Notification, error) {
	var models []NotificationModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND processing_started_at < ?", domain.StatusProcessing, startedBefore).
			Find(&models).Error; err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}

		ids := make([]string, 0, len(models))
		for i := range models {
			ids = append(ids, models[i].ID)
		}
		stale := tx.Model(&NotificationModel{}).
			Where("id IN ? AND status = ?", ids, domain.StatusProcessing)

		retried := stale.Session(&gorm.Session{}).
			Where("retry_count < max_retries").
			Updates(map[string]any{
				"status":          domain.StatusRetry,
				"retry_count":     gorm.Expr("retry_count + 1"),
				"next_attempt_at": now,
				"last_error":      "processing abandoned",
			})
		if retried.Error != nil {
			return retried.Error
		}

		failed := stale.Session(&gorm.Session{}).
			Where("retry_count >= max_retries").
			Updates(map[string]any{
				"status":          domain.StatusFailed,
				"next_attempt_at": nil,
				"last_error":      "processing abandoned",
			})
		if failed.Error != nil {
			return failed.Error
		}

		models = nil
		return tx.Where("id IN ?", ids).Find(&models).Error
	})
	if err != nil {
		return nil, err
	}

	recovered := make([]domain.Notification, 0, len(models))
	for i := range models {
		recovered = append(recovered, *notificationModelToDomain(&models[i]))
	}
	return recovered, nil
}

func (r *GormNotificationRepo) CountByStatus(ctx context.Context, params StatsParams) ([]StatusCount, error) {
	query := r.db.WithContext(ctx).Model(&NotificationModel{})
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var counts []StatusCount
	err := query.
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *GormNotificationRepo) GetBatchSummary(ctx context.Context, batchID string) ([]BatchSummary, error) {
	var summaries []BatchSummary
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Select("status, COUNT(*) as count").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&summaries).Error
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

func (r *GormNotificationRepo) missingOrConflict(ctx context.Context, id string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&NotificationModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func translateError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrConflict
	}
	return err
}
