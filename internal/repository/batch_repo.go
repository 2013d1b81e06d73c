package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
	"gorm.io/gorm"
)

type BatchRepository interface {
	Create(ctx context.Context, b *domain.Batch) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	// Complete closes a PROCESSING batch, recording how many of its
	// notifications were rejected at dispatch time.
	Complete(ctx context.Context, id string, failed int) (*domain.Batch, error)
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

func (r *GormBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	model := batchModelFromDomain(b)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return translateError(err)
	}
	if b != nil {
		*b = *batchModelToDomain(model)
	}
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func (r *GormBatchRepo) Complete(ctx context.Context, id string, failed int) (*domain.Batch, error) {
	if failed < 0 {
		failed = 0
	}

	var model BatchModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if model.Status != domain.BatchStatusProcessing {
			return domain.ErrConflict
		}

		model.FailedCount = failed
		model.Status = batchStatusFor(failed)

		return tx.Model(&BatchModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"failed_count": model.FailedCount,
				"status":       model.Status,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func batchStatusFor(failed int) domain.BatchStatus {
	if failed > 0 {
		return domain.BatchStatusPartialFailure
	}
	return domain.BatchStatusCompleted
}
