package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/dispatch-core/internal/domain"
	"github.com/kursadbilgin/dispatch-core/internal/repository"
	"github.com/kursadbilgin/dispatch-core/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

// NotificationService is the dispatch call surface exposed over HTTP.
type NotificationService interface {
	Dispatch(ctx context.Context, n *domain.Notification) service.DispatchResult
	DispatchBatch(ctx context.Context, userIDs []string, title string, message string, channel domain.Channel) (*domain.Batch, []service.DispatchResult, error)
	Schedule(ctx context.Context, n *domain.Notification, at time.Time) (string, error)
	CreateFromTemplate(ctx context.Context, req service.TemplateRequest) (string, error)
	Get(ctx context.Context, id string) (*domain.Notification, error)
	GetStatus(ctx context.Context, id string) (domain.Status, error)
	Attempts(ctx context.Context, id string) ([]domain.DeliveryAttemptLog, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Retry(ctx context.Context, id string) (bool, error)
	MarkDelivered(ctx context.Context, providerReference string) (bool, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
	Stats(ctx context.Context, from, to *time.Time) (service.Stats, error)
	GetBatchSummary(ctx context.Context, batchID string) (*service.BatchSummary, error)
}

type NotificationHandler struct {
	service  NotificationService
	validate *validator.Validate
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service, validate: validator.New()}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.CreateNotification)
	v1.Post("/notifications/batch", h.CreateBatch)
	v1.Post("/notifications/schedule", h.ScheduleNotification)
	v1.Post("/notifications/template", h.CreateFromTemplate)
	v1.Post("/notifications/delivered", h.MarkDelivered)
	v1.Get("/notifications", h.ListNotifications)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Get("/notifications/:id/status", h.GetStatus)
	v1.Get("/notifications/:id/attempts", h.ListAttempts)
	v1.Post("/notifications/:id/cancel", h.CancelNotification)
	v1.Post("/notifications/:id/retry", h.RetryNotification)
	v1.Get("/stats", h.GetStats)
	v1.Get("/batches/:batchId", h.GetBatchSummary)

	return nil
}

type createNotificationRequest struct {
	UserID         string     `json:"userId" validate:"required,max=64"`
	Channel        string     `json:"channel" validate:"required"`
	Type           string     `json:"type"`
	Priority       string     `json:"priority"`
	Title          string     `json:"title" validate:"max=255"`
	Message        string     `json:"message" validate:"required"`
	CorrelationID  string     `json:"correlationId" validate:"max=64"`
	IdempotencyKey *string    `json:"idempotencyKey" validate:"omitempty,max=255"`
	MaxRetries     *int       `json:"maxRetries" validate:"omitempty,min=0,max=10"`
	ScheduledAt    *time.Time `json:"scheduledAt"`
}

type scheduleNotificationRequest struct {
	createNotificationRequest
	ScheduledAt time.Time `json:"scheduledAt" validate:"required"`
}

type createBatchRequest struct {
	UserIDs []string `json:"userIds" validate:"required,min=1,max=1000,dive,required"`
	Title   string   `json:"title" validate:"max=255"`
	Message string   `json:"message" validate:"required"`
	Channel string   `json:"channel" validate:"required"`
}

type createFromTemplateRequest struct {
	UserID         string            `json:"userId" validate:"required,max=64"`
	TemplateID     string            `json:"templateId" validate:"required,max=128"`
	Variables      map[string]string `json:"variables"`
	Channel        string            `json:"channel" validate:"required"`
	Type           string            `json:"type"`
	Priority       string            `json:"priority"`
	IdempotencyKey *string           `json:"idempotencyKey" validate:"omitempty,max=255"`
	MaxRetries     *int              `json:"maxRetries" validate:"omitempty,min=0,max=10"`
	ScheduledAt    *time.Time        `json:"scheduledAt"`
}

type deliveredRequest struct {
	ProviderReference string `json:"providerReference" validate:"required"`
}

type dispatchResponse struct {
	NotificationID string `json:"notificationId,omitempty"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

type batchResultItem struct {
	UserID         string `json:"userId"`
	NotificationID string `json:"notificationId,omitempty"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

type createBatchResponse struct {
	BatchID     string            `json:"batchId"`
	Status      string            `json:"status"`
	TotalCount  int               `json:"totalCount"`
	FailedCount int               `json:"failedCount"`
	Results     []batchResultItem `json:"results"`
}

type notificationResponse struct {
	ID                string            `json:"id"`
	CorrelationID     string            `json:"correlationId"`
	IdempotencyKey    *string           `json:"idempotencyKey,omitempty"`
	BatchID           *string           `json:"batchId,omitempty"`
	UserID            string            `json:"userId"`
	Channel           string            `json:"channel"`
	Type              string            `json:"type"`
	Priority          string            `json:"priority"`
	Title             string            `json:"title,omitempty"`
	Message           string            `json:"message"`
	TemplateID        *string           `json:"templateId,omitempty"`
	Variables         map[string]string `json:"variables,omitempty"`
	Status            string            `json:"status"`
	RetryCount        int               `json:"retryCount"`
	MaxRetries        int               `json:"maxRetries"`
	LastError         *string           `json:"lastError,omitempty"`
	ProviderReference *string           `json:"providerReference,omitempty"`
	ScheduledAt       *time.Time        `json:"scheduledAt,omitempty"`
	NextAttemptAt     *time.Time        `json:"nextAttemptAt,omitempty"`
	SentAt            *time.Time        `json:"sentAt,omitempty"`
	DeliveredAt       *time.Time        `json:"deliveredAt,omitempty"`
	CreatedAt         time.Time         `json:"createdAt,omitempty"`
	UpdatedAt         time.Time         `json:"updatedAt,omitempty"`
}

type attemptResponse struct {
	ID                 string    `json:"id"`
	Attempt            int       `json:"attempt"`
	Channel            string    `json:"channel"`
	Status             string    `json:"status"`
	Error              *string   `json:"error,omitempty"`
	DurationMillis     int64     `json:"durationMs"`
	ProviderStatusCode *int      `json:"providerStatusCode,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

type listNotificationsResponse struct {
	Data []notificationResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type statsResponse struct {
	Total     int64 `json:"total"`
	Sent      int64 `json:"sent"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Pending   int64 `json:"pending"`
	Cancelled int64 `json:"cancelled"`
}

type batchSummaryResponse struct {
	BatchID     string                 `json:"batchId"`
	Title       string                 `json:"title,omitempty"`
	Channel     string                 `json:"channel"`
	TotalCount  int                    `json:"totalCount"`
	FailedCount int                    `json:"failedCount"`
	Status      string                 `json:"status"`
	Counts      []batchStatusCountItem `json:"counts"`
}

type batchStatusCountItem struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	notification, err := requestToDomainNotification(req, requestCorrelationID(c))
	if err != nil {
		return err
	}

	result := h.service.Dispatch(c.Context(), &notification)
	if result.Status == service.DispatchRejected {
		return result.Err
	}

	code := fiber.StatusAccepted
	if errors.Is(result.Err, domain.ErrPreferenceDenied) {
		code = fiber.StatusUnprocessableEntity
	}
	return c.Status(code).JSON(toDispatchResponse(result))
}

func (h *NotificationHandler) ScheduleNotification(c *fiber.Ctx) error {
	var req scheduleNotificationRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	notification, err := requestToDomainNotification(req.createNotificationRequest, requestCorrelationID(c))
	if err != nil {
		return err
	}

	id, err := h.service.Schedule(c.Context(), &notification, req.ScheduledAt)
	if err != nil && id == "" {
		return err
	}

	resp := dispatchResponse{NotificationID: id, Status: service.DispatchScheduled.String()}
	if err != nil {
		resp.Error = err.Error()
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

func (h *NotificationHandler) CreateBatch(c *fiber.Ctx) error {
	var req createBatchRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return err
	}

	batch, results, err := h.service.DispatchBatch(c.Context(), req.UserIDs, req.Title, req.Message, channel)
	if err != nil {
		return err
	}

	items := make([]batchResultItem, 0, len(results))
	for i, result := range results {
		item := batchResultItem{
			NotificationID: result.NotificationID,
			Status:         result.Status.String(),
		}
		if i < len(req.UserIDs) {
			item.UserID = strings.TrimSpace(req.UserIDs[i])
		}
		if result.Err != nil {
			item.Error = result.Err.Error()
		}
		items = append(items, item)
	}

	return c.Status(fiber.StatusAccepted).JSON(createBatchResponse{
		BatchID:     batch.ID,
		Status:      batch.Status.String(),
		TotalCount:  batch.TotalCount,
		FailedCount: batch.FailedCount,
		Results:     items,
	})
}

func (h *NotificationHandler) CreateFromTemplate(c *fiber.Ctx) error {
	var req createFromTemplateRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return err
	}
	typ, priority, err := parseClassification(req.Type, req.Priority)
	if err != nil {
		return err
	}

	id, err := h.service.CreateFromTemplate(c.Context(), service.TemplateRequest{
		UserID:         req.UserID,
		TemplateID:     req.TemplateID,
		Variables:      req.Variables,
		Channel:        channel,
		Type:           typ,
		Priority:       priority,
		ScheduledAt:    req.ScheduledAt,
		IdempotencyKey: req.IdempotencyKey,
		MaxRetries:     req.MaxRetries,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(dispatchResponse{
		NotificationID: id,
		Status:         domain.StatusPending.String(),
	})
}

func (h *NotificationHandler) MarkDelivered(c *fiber.Ctx) error {
	var req deliveredRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	updated, err := h.service.MarkDelivered(c.Context(), req.ProviderReference)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"providerReference": req.ProviderReference,
		"updated":           updated,
	})
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	notification, err := h.service.Get(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) GetStatus(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	status, err := h.service.GetStatus(c.Context(), id)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"status":         status.String(),
	})
}

func (h *NotificationHandler) ListAttempts(c *fiber.Ctx) error {
	attempts, err := h.service.Attempts(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}

	items := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		items = append(items, attemptResponse{
			ID:                 a.ID,
			Attempt:            a.Attempt,
			Channel:            a.Channel.String(),
			Status:             a.Status.String(),
			Error:              a.Error,
			DurationMillis:     a.DurationMillis,
			ProviderStatusCode: a.ProviderStatusCode,
			CreatedAt:          a.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": items})
}

func (h *NotificationHandler) CancelNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if _, err := h.service.Cancel(c.Context(), id); err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"status":         domain.StatusCancelled.String(),
	})
}

func (h *NotificationHandler) RetryNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	rearmed, err := h.service.Retry(c.Context(), id)
	if err != nil {
		return err
	}
	if !rearmed {
		return fiber.NewError(fiber.StatusConflict, "only FAILED notifications can be retried")
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"notificationId": id,
		"status":         domain.StatusRetry.String(),
	})
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return err
	}

	notifications, total, err := h.service.List(c.Context(), params)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: toNotificationResponses(notifications),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *NotificationHandler) GetStats(c *fiber.Ctx) error {
	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return err
	}

	stats, err := h.service.Stats(c.Context(), from, to)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(statsResponse{
		Total:     stats.Total,
		Sent:      stats.Sent,
		Delivered: stats.Delivered,
		Failed:    stats.Failed,
		Pending:   stats.Pending,
		Cancelled: stats.Cancelled,
	})
}

func (h *NotificationHandler) GetBatchSummary(c *fiber.Ctx) error {
	summary, err := h.service.GetBatchSummary(c.Context(), c.Params("batchId"))
	if err != nil {
		return err
	}

	items := make([]batchStatusCountItem, 0, len(summary.Counts))
	for _, count := range summary.Counts {
		items = append(items, batchStatusCountItem{
			Status: count.Status.String(),
			Count:  count.Count,
		})
	}

	return c.Status(fiber.StatusOK).JSON(batchSummaryResponse{
		BatchID:     summary.BatchID,
		Title:       summary.Title,
		Channel:     summary.Channel.String(),
		TotalCount:  summary.TotalCount,
		FailedCount: summary.FailedCount,
		Status:      summary.Status.String(),
		Counts:      items,
	})
}

// parseBody decodes the JSON body into req and runs its validate tags.
func (h *NotificationHandler) parseBody(c *fiber.Ctx, req any) error {
	return decodeAndValidate(c, h.validate, req)
}

func decodeAndValidate(c *fiber.Ctx, validate *validator.Validate, req any) error {
	if err := c.BodyParser(req); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrValidation)
	}
	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s failed %q", domain.ErrValidation, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if userID := strings.TrimSpace(c.Query("userId")); userID != "" {
		params.UserID = &userID
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawChannel := strings.TrimSpace(c.Query("channel")); rawChannel != "" {
		channel, err := domain.ParseChannelFromString(rawChannel)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Channel = &channel
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	if from != nil && to != nil && from.After(*to) {
		return repository.ListParams{}, fmt.Errorf("%w: from must not be after to", domain.ErrValidation)
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

// parseClassification parses optional type and priority; empty values are
// left for the dispatcher defaults.
func parseClassification(rawType, rawPriority string) (domain.Type, domain.Priority, error) {
	var typ domain.Type
	if strings.TrimSpace(rawType) != "" {
		parsed, err := domain.ParseTypeFromString(rawType)
		if err != nil {
			return "", "", err
		}
		typ = parsed
	}

	var priority domain.Priority
	if strings.TrimSpace(rawPriority) != "" {
		parsed, err := domain.ParsePriorityFromString(rawPriority)
		if err != nil {
			return "", "", err
		}
		priority = parsed
	}

	return typ, priority, nil
}

func requestToDomainNotification(req createNotificationRequest, fallbackCorrelationID string) (domain.Notification, error) {
	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return domain.Notification{}, err
	}
	typ, priority, err := parseClassification(req.Type, req.Priority)
	if err != nil {
		return domain.Notification{}, err
	}

	n := domain.Notification{
		CorrelationID:  strings.TrimSpace(req.CorrelationID),
		IdempotencyKey: req.IdempotencyKey,
		UserID:         strings.TrimSpace(req.UserID),
		Title:          strings.TrimSpace(req.Title),
		Body:           strings.TrimSpace(req.Message),
		Channel:        channel,
		Type:           typ,
		Priority:       priority,
		ScheduledAt:    req.ScheduledAt,
		MaxRetries:     domain.MaxRetriesOrDefault(req.MaxRetries),
	}

	if n.CorrelationID == "" {
		n.CorrelationID = strings.TrimSpace(fallbackCorrelationID)
	}

	return n, nil
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toDispatchResponse(result service.DispatchResult) dispatchResponse {
	resp := dispatchResponse{
		NotificationID: result.NotificationID,
		Status:         result.Status.String(),
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	return resp
}

func toNotificationResponses(notifications []domain.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, notification := range notifications {
		n := notification
		responses = append(responses, toNotificationResponse(&n))
	}
	return responses
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:                n.ID,
		CorrelationID:     n.CorrelationID,
		IdempotencyKey:    n.IdempotencyKey,
		BatchID:           n.BatchID,
		UserID:            n.UserID,
		Channel:           n.Channel.String(),
		Type:              n.Type.String(),
		Priority:          n.Priority.String(),
		Title:             n.Title,
		Message:           n.Body,
		TemplateID:        n.TemplateID,
		Variables:         n.Variables,
		Status:            n.Status.String(),
		RetryCount:        n.RetryCount,
		MaxRetries:        n.MaxRetries,
		LastError:         n.LastError,
		ProviderReference: n.ProviderReference,
		ScheduledAt:       n.ScheduledAt,
		NextAttemptAt:     n.NextAttemptAt,
		SentAt:            n.SentAt,
		DeliveredAt:       n.DeliveredAt,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
	}
}
