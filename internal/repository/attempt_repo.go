package repository

import (
	"context"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
	"gorm.io/gorm"
)

// AttemptRepository is the append-only audit log of delivery attempts.
type AttemptRepository interface {
	Append(ctx context.Context, a *domain.DeliveryAttemptLog) error
	ListByNotificationID(ctx context.Context, notificationID string) ([]domain.DeliveryAttemptLog, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Append(ctx context.Context, a *domain.DeliveryAttemptLog) error {
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) ListByNotificationID(ctx context.Context, notificationID string) ([]domain.DeliveryAttemptLog, error) {
	var models []DeliveryAttemptModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("created_at ASC, attempt ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.DeliveryAttemptLog, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}
