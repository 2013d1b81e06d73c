package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/dispatch-core/internal/domain"
	"github.com/kursadbilgin/dispatch-core/internal/provider"
)

const defaultInboxLimit = 20

// SettingsService manages the per-user preferences and the template catalog.
type SettingsService interface {
	UpsertPreference(ctx context.Context, p *domain.NotificationPreference) error
	Preferences(ctx context.Context, userID string) ([]domain.NotificationPreference, error)
	UpsertTemplate(ctx context.Context, t *domain.NotificationTemplate) error
}

// InboxReader lists stored in-app notifications.
type InboxReader interface {
	List(ctx context.Context, userID string, limit int) ([]provider.InboxEntry, error)
}

type SettingsHandler struct {
	service  SettingsService
	inbox    InboxReader
	validate *validator.Validate
}

// RegisterSettingsRoutes mounts preference, template and inbox routes. inbox
// may be nil when no in-app store is configured.
func RegisterSettingsRoutes(router fiber.Router, service SettingsService, inbox InboxReader) error {
	if service == nil {
		return fmt.Errorf("settings service is required")
	}
	h := &SettingsHandler{service: service, inbox: inbox, validate: validator.New()}

	v1 := router.Group("/v1")
	v1.Get("/users/:userId/preferences", h.ListPreferences)
	v1.Put("/users/:userId/preferences", h.UpsertPreference)
	v1.Put("/templates", h.UpsertTemplate)
	if inbox != nil {
		v1.Get("/users/:userId/inbox", h.ListInbox)
	}

	return nil
}

type preferenceRequest struct {
	Type            string `json:"type" validate:"required"`
	Channel         string `json:"channel" validate:"required"`
	Enabled         *bool  `json:"enabled" validate:"required"`
	QuietHoursStart string `json:"quietHoursStart" validate:"required_with=QuietHoursEnd"`
	QuietHoursEnd   string `json:"quietHoursEnd" validate:"required_with=QuietHoursStart"`
	MaxPerHour      int    `json:"maxPerHour" validate:"min=0"`
	MaxPerDay       int    `json:"maxPerDay" validate:"min=0"`
}

type preferenceResponse struct {
	UserID          string    `json:"userId"`
	Type            string    `json:"type"`
	Channel         string    `json:"channel"`
	Enabled         bool      `json:"enabled"`
	QuietHoursStart string    `json:"quietHoursStart,omitempty"`
	QuietHoursEnd   string    `json:"quietHoursEnd,omitempty"`
	MaxPerHour      int       `json:"maxPerHour"`
	MaxPerDay       int       `json:"maxPerDay"`
	UpdatedAt       time.Time `json:"updatedAt,omitempty"`
}

type templateRequest struct {
	TemplateID string `json:"templateId" validate:"required,max=128"`
	Channel    string `json:"channel" validate:"required"`
	Language   string `json:"language" validate:"omitempty,max=16"`
	Subject    string `json:"subject" validate:"max=255"`
	Body       string `json:"body" validate:"required"`
	Version    int    `json:"version" validate:"min=0"`
	Active     *bool  `json:"active"`
}

func (h *SettingsHandler) ListPreferences(c *fiber.Ctx) error {
	prefs, err := h.service.Preferences(c.Context(), c.Params("userId"))
	if err != nil {
		return err
	}

	items := make([]preferenceResponse, 0, len(prefs))
	for i := range prefs {
		items = append(items, toPreferenceResponse(&prefs[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": items})
}

func (h *SettingsHandler) UpsertPreference(c *fiber.Ctx) error {
	var req preferenceRequest
	if err := decodeAndValidate(c, h.validate, &req); err != nil {
		return err
	}

	pref, err := requestToPreference(strings.TrimSpace(c.Params("userId")), req)
	if err != nil {
		return err
	}
	if err := h.service.UpsertPreference(c.Context(), pref); err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toPreferenceResponse(pref))
}

func (h *SettingsHandler) UpsertTemplate(c *fiber.Ctx) error {
	var req templateRequest
	if err := decodeAndValidate(c, h.validate, &req); err != nil {
		return err
	}

	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return err
	}

	tpl := &domain.NotificationTemplate{
		TemplateID: strings.TrimSpace(req.TemplateID),
		Channel:    channel,
		Language:   strings.ToLower(strings.TrimSpace(req.Language)),
		Subject:    req.Subject,
		Body:       req.Body,
		Version:    req.Version,
		Active:     req.Active == nil || *req.Active,
	}
	if err := h.service.UpsertTemplate(c.Context(), tpl); err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"id":         tpl.ID,
		"templateId": tpl.TemplateID,
		"channel":    tpl.Channel.String(),
		"language":   tpl.Language,
		"version":    tpl.Version,
		"active":     tpl.Active,
	})
}

func (h *SettingsHandler) ListInbox(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))
	if userID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	entries, err := h.inbox.List(c.Context(), userID, c.QueryInt("limit", defaultInboxLimit))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": entries})
}

func requestToPreference(userID string, req preferenceRequest) (*domain.NotificationPreference, error) {
	typ, err := domain.ParseTypeFromString(req.Type)
	if err != nil {
		return nil, err
	}
	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return nil, err
	}

	pref := &domain.NotificationPreference{
		UserID:     userID,
		Type:       typ,
		Channel:    channel,
		Enabled:    *req.Enabled,
		MaxPerHour: req.MaxPerHour,
		MaxPerDay:  req.MaxPerDay,
	}

	if req.QuietHoursStart != "" {
		start, err := domain.ParseClockTime(req.QuietHoursStart)
		if err != nil {
			return nil, err
		}
		end, err := domain.ParseClockTime(req.QuietHoursEnd)
		if err != nil {
			return nil, err
		}
		pref.QuietHours = &domain.QuietHours{Start: start, End: end}
	}

	return pref, nil
}

func toPreferenceResponse(p *domain.NotificationPreference) preferenceResponse {
	resp := preferenceResponse{
		UserID:     p.UserID,
		Type:       p.Type.String(),
		Channel:    p.Channel.String(),
		Enabled:    p.Enabled,
		MaxPerHour: p.MaxPerHour,
		MaxPerDay:  p.MaxPerDay,
		UpdatedAt:  p.UpdatedAt,
	}
	if p.QuietHours != nil {
		resp.QuietHoursStart = p.QuietHours.Start.String()
		resp.QuietHoursEnd = p.QuietHours.End.String()
	}
	return resp
}
