package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/kursadbilgin/dispatch-core/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TemplateRepository interface {
	FindActive(ctx context.Context, templateID string, channel domain.Channel) ([]domain.NotificationTemplate, error)
	Upsert(ctx context.Context, t *domain.NotificationTemplate) error
}

type GormTemplateRepo struct {
	db *gorm.DB
}

func NewGormTemplateRepo(db *gorm.DB) *GormTemplateRepo {
	return &GormTemplateRepo{db: db}
}

func (r *GormTemplateRepo) FindActive(ctx context.Context, templateID string, channel domain.Channel) ([]domain.NotificationTemplate, error) {
	var models []TemplateModel
	err := r.db.WithContext(ctx).
		Where("template_id = ? AND channel = ? AND active = ?", templateID, channel, true).
		Order("version DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	templates := make([]domain.NotificationTemplate, 0, len(models))
	for i := range models {
		templates = append(templates, templateModelToDomain(&models[i]))
	}
	return templates, nil
}

// Upsert inserts a template version or overwrites the content of an existing
// (templateId, channel, language, version).
func (r *GormTemplateRepo) Upsert(ctx context.Context, t *domain.NotificationTemplate) error {
	if t == nil {
		return domain.ErrValidation
	}
	if err := t.Validate(); err != nil {
		return err
	}

	model := templateModelFromDomain(t)
	if model.ID == "" {
		model.ID = uuid.NewString()
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "template_id"}, {Name: "channel"}, {Name: "language"}, {Name: "version"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"subject", "body", "active", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}

	*t = templateModelToDomain(model)
	return nil
}
