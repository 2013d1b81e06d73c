package repository

import (
	"time"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID                  string            `gorm:"type:uuid;primaryKey"`
	CorrelationID       string            `gorm:"type:varchar(36);not null"`
	IdempotencyKey      *string           `gorm:"type:varchar(255)"`
	BatchID             *string           `gorm:"type:uuid"`
	UserID              string            `gorm:"type:varchar(64);not null"`
	Title               string            `gorm:"type:varchar(255)"`
	Body                string            `gorm:"type:text;not null"`
	TemplateID          *string           `gorm:"type:varchar(128)"`
	Variables           map[string]string `gorm:"type:jsonb;serializer:json"`
	Channel             domain.Channel    `gorm:"type:varchar(10);not null"`
	Type                domain.Type       `gorm:"type:varchar(20);not null"`
	Priority            domain.Priority   `gorm:"type:varchar(10);not null"`
	Status              domain.Status     `gorm:"type:varchar(20);not null"`
	ScheduledAt         *time.Time        `gorm:"type:timestamptz"`
	NextAttemptAt       *time.Time        `gorm:"type:timestamptz"`
	ProcessingStartedAt *time.Time        `gorm:"type:timestamptz"`
	SentAt              *time.Time        `gorm:"type:timestamptz"`
	DeliveredAt         *time.Time        `gorm:"type:timestamptz"`
	RetryCount          int               `gorm:"not null;default:0"`
	MaxRetries          int               `gorm:"not null;default:3"`
	LastError           *string           `gorm:"type:text"`
	ProviderReference   *string           `gorm:"type:varchar(255)"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// DeliveryAttemptModel is the persistence model for delivery_attempts.
type DeliveryAttemptModel struct {
	ID                 string         `gorm:"type:uuid;primaryKey"`
	NotificationID     string         `gorm:"type:uuid;not null"`
	Channel            domain.Channel `gorm:"type:varchar(10);not null"`
	Status             domain.Status  `gorm:"type:varchar(20);not null"`
	Error              *string        `gorm:"type:text"`
	Attempt            int            `gorm:"not null"`
	DurationMillis     int64          `gorm:"not null;default:0"`
	ProviderStatusCode *int           `gorm:"type:int"`
	CreatedAt          time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

// BatchModel is the persistence model for batches.
type BatchModel struct {
	ID          string             `gorm:"type:uuid;primaryKey"`
	Title       string             `gorm:"type:varchar(255)"`
	Channel     domain.Channel     `gorm:"type:varchar(10);not null"`
	TotalCount  int                `gorm:"not null"`
	FailedCount int                `gorm:"not null;default:0"`
	Status      domain.BatchStatus `gorm:"type:varchar(20);not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (BatchModel) TableName() string {
	return "batches"
}

// TemplateModel is the persistence model for notification_templates.
type TemplateModel struct {
	ID         string         `gorm:"type:uuid;primaryKey"`
	TemplateID string         `gorm:"type:varchar(128);not null;uniqueIndex:idx_templates_version,priority:1"`
	Channel    domain.Channel `gorm:"type:varchar(10);not null;uniqueIndex:idx_templates_version,priority:2"`
	Language   string         `gorm:"type:varchar(10);not null;uniqueIndex:idx_templates_version,priority:3"`
	Version    int            `gorm:"not null;uniqueIndex:idx_templates_version,priority:4"`
	Subject    string         `gorm:"type:text"`
	Body       string         `gorm:"type:text;not null"`
	Active     bool           `gorm:"not null;default:true"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (TemplateModel) TableName() string {
	return "notification_templates"
}

// PreferenceModel is the persistence model for notification_preferences.
// Quiet hours are stored as minutes since midnight.
type PreferenceModel struct {
	UserID          string         `gorm:"type:varchar(64);primaryKey"`
	Type            domain.Type    `gorm:"type:varchar(20);primaryKey"`
	Channel         domain.Channel `gorm:"type:varchar(10);primaryKey"`
	Enabled         bool           `gorm:"not null"`
	QuietHoursStart *int
	QuietHoursEnd   *int
	MaxPerHour      int `gorm:"not null;default:0"`
	MaxPerDay       int `gorm:"not null;default:0"`
	UpdatedAt       time.Time
}

func (PreferenceModel) TableName() string {
	return "notification_preferences"
}

// UserModel mirrors the user directory table. The dispatcher only reads it.
type UserModel struct {
	ID        string `gorm:"type:varchar(64);primaryKey"`
	Email     string `gorm:"type:varchar(255)"`
	Phone     string `gorm:"type:varchar(32)"`
	PushToken string `gorm:"type:varchar(4096)"`
	Active    bool   `gorm:"not null;default:true"`
	Locale    string `gorm:"type:varchar(16)"`
	Timezone  string `gorm:"type:varchar(64)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UserModel) TableName() string {
	return "users"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:                  n.ID,
		CorrelationID:       n.CorrelationID,
		IdempotencyKey:      n.IdempotencyKey,
		BatchID:             n.BatchID,
		UserID:              n.UserID,
		Title:               n.Title,
		Body:                n.Body,
		TemplateID:          n.TemplateID,
		Variables:           n.Variables,
		Channel:             n.Channel,
		Type:                n.Type,
		Priority:            n.Priority,
		Status:              n.Status,
		ScheduledAt:         n.ScheduledAt,
		NextAttemptAt:       n.NextAttemptAt,
		ProcessingStartedAt: n.ProcessingStartedAt,
		SentAt:              n.SentAt,
		DeliveredAt:         n.DeliveredAt,
		RetryCount:          n.RetryCount,
		MaxRetries:          n.MaxRetries,
		LastError:           n.LastError,
		ProviderReference:   n.ProviderReference,
		CreatedAt:           n.CreatedAt,
		UpdatedAt:           n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:                  m.ID,
		CorrelationID:       m.CorrelationID,
		IdempotencyKey:      m.IdempotencyKey,
		BatchID:             m.BatchID,
		UserID:              m.UserID,
		Title:               m.Title,
		Body:                m.Body,
		TemplateID:          m.TemplateID,
		Variables:           m.Variables,
		Channel:             m.Channel,
		Type:                m.Type,
		Priority:            m.Priority,
		Status:              m.Status,
		ScheduledAt:         m.ScheduledAt,
		NextAttemptAt:       m.NextAttemptAt,
		ProcessingStartedAt: m.ProcessingStartedAt,
		SentAt:              m.SentAt,
		DeliveredAt:         m.DeliveredAt,
		RetryCount:          m.RetryCount,
		MaxRetries:          m.MaxRetries,
		LastError:           m.LastError,
		ProviderReference:   m.ProviderReference,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttemptLog) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:                 a.ID,
		NotificationID:     a.NotificationID,
		Channel:            a.Channel,
		Status:             a.Status,
		Error:              a.Error,
		Attempt:            a.Attempt,
		DurationMillis:     a.DurationMillis,
		ProviderStatusCode: a.ProviderStatusCode,
		CreatedAt:          a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttemptLog {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttemptLog{
		ID:                 m.ID,
		NotificationID:     m.NotificationID,
		Channel:            m.Channel,
		Status:             m.Status,
		Error:              m.Error,
		Attempt:            m.Attempt,
		DurationMillis:     m.DurationMillis,
		ProviderStatusCode: m.ProviderStatusCode,
		CreatedAt:          m.CreatedAt,
	}
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:          b.ID,
		Title:       b.Title,
		Channel:     b.Channel,
		TotalCount:  b.TotalCount,
		FailedCount: b.FailedCount,
		Status:      b.Status,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:          m.ID,
		Title:       m.Title,
		Channel:     m.Channel,
		TotalCount:  m.TotalCount,
		FailedCount: m.FailedCount,
		Status:      m.Status,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func templateModelFromDomain(t *domain.NotificationTemplate) *TemplateModel {
	if t == nil {
		return nil
	}

	return &TemplateModel{
		ID:         t.ID,
		TemplateID: t.TemplateID,
		Channel:    t.Channel,
		Language:   t.Language,
		Version:    t.Version,
		Subject:    t.Subject,
		Body:       t.Body,
		Active:     t.Active,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

func templateModelToDomain(m *TemplateModel) domain.NotificationTemplate {
	return domain.NotificationTemplate{
		ID:         m.ID,
		TemplateID: m.TemplateID,
		Channel:    m.Channel,
		Language:   m.Language,
		Version:    m.Version,
		Subject:    m.Subject,
		Body:       m.Body,
		Active:     m.Active,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func preferenceModelFromDomain(p *domain.NotificationPreference) *PreferenceModel {
	if p == nil {
		return nil
	}

	model := &PreferenceModel{
		UserID:     p.UserID,
		Type:       p.Type,
		Channel:    p.Channel,
		Enabled:    p.Enabled,
		MaxPerHour: p.MaxPerHour,
		MaxPerDay:  p.MaxPerDay,
		UpdatedAt:  p.UpdatedAt,
	}
	if p.QuietHours != nil {
		start, end := int(p.QuietHours.Start), int(p.QuietHours.End)
		model.QuietHoursStart = &start
		model.QuietHoursEnd = &end
	}
	return model
}

func preferenceModelToDomain(m *PreferenceModel) *domain.NotificationPreference {
	if m == nil {
		return nil
	}

	pref := &domain.NotificationPreference{
		UserID:     m.UserID,
		Type:       m.Type,
		Channel:    m.Channel,
		Enabled:    m.Enabled,
		MaxPerHour: m.MaxPerHour,
		MaxPerDay:  m.MaxPerDay,
		UpdatedAt:  m.UpdatedAt,
	}
	if m.QuietHoursStart != nil && m.QuietHoursEnd != nil {
		pref.QuietHours = &domain.QuietHours{
			Start: domain.ClockTime(*m.QuietHoursStart),
			End:   domain.ClockTime(*m.QuietHoursEnd),
		}
	}
	return pref
}

func userModelToDomain(m *UserModel) *domain.User {
	if m == nil {
		return nil
	}

	return &domain.User{
		ID:        m.ID,
		Email:     m.Email,
		Phone:     m.Phone,
		PushToken: m.PushToken,
		Active:    m.Active,
		Locale:    m.Locale,
		Timezone:  m.Timezone,
	}
}
