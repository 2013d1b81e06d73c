package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PreferenceRepository interface {
	// Find returns domain.ErrNotFound when the user has no record for (type, channel).
	Find(ctx context.Context, userID string, typ domain.Type, channel domain.Channel) (*domain.NotificationPreference, error)
	ListByUser(ctx context.Context, userID string) ([]domain.NotificationPreference, error)
	Upsert(ctx context.Context, p *domain.NotificationPreference) error
}

type GormPreferenceRepo struct {
	db *gorm.DB
}

func NewGormPreferenceRepo(db *gorm.DB) *GormPreferenceRepo {
	return &GormPreferenceRepo{db: db}
}

func (r *GormPreferenceRepo) Find(ctx context.Context, userID string, typ domain.Type, channel domain.Channel) (*domain.NotificationPreference, error) {
	var model PreferenceModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND channel = ?", userID, typ, channel).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return preferenceModelToDomain(&model), nil
}

func (r *GormPreferenceRepo) ListByUser(ctx context.Context, userID string) ([]domain.NotificationPreference, error) {
	var models []PreferenceModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&models).Error; err != nil {
		return nil, err
	}

	prefs := make([]domain.NotificationPreference, 0, len(models))
	for i := range models {
		prefs = append(prefs, *preferenceModelToDomain(&models[i]))
	}
	return prefs, nil
}

func (r *GormPreferenceRepo) Upsert(ctx context.Context, p *domain.NotificationPreference) error {
	if p == nil {
		return domain.ErrValidation
	}
	if err := p.Validate(); err != nil {
		return err
	}

	model := preferenceModelFromDomain(p)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "type"}, {Name: "channel"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"enabled", "quiet_hours_start", "quiet_hours_end", "max_per_hour", "max_per_day", "updated_at",
			}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}

	*p = *preferenceModelToDomain(model)
	return nil
}
