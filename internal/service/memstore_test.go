package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/dispatch-core/internal/domain"
	"github.com/kursadbilgin/dispatch-core/internal/preference"
	"github.com/kursadbilgin/dispatch-core/internal/repository"
)

// memNotifications mirrors the guarded updates of the gorm repository.
type memNotifications struct {
	mu   sync.Mutex
	rows map[string]domain.Notification
}

func newMemNotifications() *memNotifications {
	return &memNotifications{rows: make(map[string]domain.Notification)}
}

func statusIn(s domain.Status, from []domain.Status) bool {
	for _, f := range from {
		if s == f {
			return true
		}
	}
	return false
}

func (m *memNotifications) put(n domain.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[n.ID] = n
}

func (m *memNotifications) get(id string) domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

func (m *memNotifications) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memNotifications) Create(_ context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[n.ID]; ok {
		return domain.ErrConflict
	}
	if n.IdempotencyKey != nil {
		for _, row := range m.rows {
			if row.IdempotencyKey != nil && *row.IdempotencyKey == *n.IdempotencyKey {
				return domain.ErrConflict
			}
		}
	}
	m.rows[n.ID] = *n
	return nil
}

func (m *memNotifications) CreateBatch(ctx context.Context, notifications []*domain.Notification) error {
	for _, n := range notifications {
		if err := m.Create(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (m *memNotifications) GetByID(_ context.Context, id string) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &row, nil
}

func (m *memNotifications) GetByIdempotencyKey(_ context.Context, key string) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.rows {
		if row.IdempotencyKey != nil && *row.IdempotencyKey == key {
			found := row
			return &found, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memNotifications) GetByProviderReference(_ context.Context, reference string) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.rows {
		if row.ProviderReference != nil && *row.ProviderReference == reference {
			found := row
			return &found, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memNotifications) List(_ context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Notification, 0, len(m.rows))
	for _, row := range m.rows {
		if params.UserID != nil && row.UserID != *params.UserID {
			continue
		}
		if params.Status != nil && row.Status != *params.Status {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (m *memNotifications) MarkProcessing(_ context.Context, id string, from []domain.Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok || !statusIn(row.Status, from) {
		return false, nil
	}
	row.Status = domain.StatusProcessing
	row.ProcessingStartedAt = &at
	row.NextAttemptAt = nil
	m.rows[id] = row
	return true, nil
}

func (m *memNotifications) SaveOutcome(ctx context.Context, n *domain.Notification) error {
	return m.SaveAdmission(ctx, n, []domain.Status{domain.StatusProcessing})
}

func (m *memNotifications) SaveAdmission(_ context.Context, n *domain.Notification, from []domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[n.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if !statusIn(row.Status, from) {
		return domain.ErrConflict
	}
	m.rows[n.ID] = *n
	return nil
}

func (m *memNotifications) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !row.Status.Cancelable() {
		return domain.ErrConflict
	}
	row.Status = domain.StatusCancelled
	row.NextAttemptAt = nil
	m.rows[id] = row
	return nil
}

func (m *memNotifications) Rearm(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok || row.Status != domain.StatusFailed {
		return false, nil
	}
	row.Status = domain.StatusRetry
	row.RetryCount = 0
	row.NextAttemptAt = &at
	m.rows[id] = row
	return true, nil
}

func (m *memNotifications) MarkDelivered(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok || row.Status != domain.StatusSent {
		return false, nil
	}
	row.Status = domain.StatusDelivered
	row.DeliveredAt = &at
	m.rows[id] = row
	return true, nil
}

func (m *memNotifications) ClaimDue(_ context.Context, status domain.Status, now time.Time, limit int) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := make([]domain.Notification, 0)
	for id, row := range m.rows {
		if len(due) >= limit {
			break
		}
		if row.Status != status || row.NextAttemptAt == nil || row.NextAttemptAt.After(now) {
			continue
		}
		row.NextAttemptAt = nil
		m.rows[id] = row
		due = append(due, row)
	}
	return due, nil
}

func (m *memNotifications) ReleaseClaim(_ context.Context, id string, status domain.Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if ok && row.Status == status && row.NextAttemptAt == nil {
		row.NextAttemptAt = &at
		m.rows[id] = row
	}
	return nil
}

func (m *memNotifications) RecoverStale(_ context.Context, startedBefore, now time.Time) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var recovered []domain.Notification
	reason := "processing abandoned"
	for id, row := range m.rows {
		if row.Status != domain.StatusProcessing || row.ProcessingStartedAt == nil || !row.ProcessingStartedAt.Before(startedBefore) {
			continue
		}
		if row.RetryCount < row.MaxRetries {
			row.Status = domain.StatusRetry
			row.RetryCount++
			row.NextAttemptAt = &now
		} else {
			row.Status = domain.StatusFailed
			row.NextAttemptAt = nil
		}
		row.LastError = &reason
		m.rows[id] = row
		recovered = append(recovered, row)
	}
	return recovered, nil
}

func (m *memNotifications) CountByStatus(_ context.Context, _ repository.StatsParams) ([]repository.StatusCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byStatus := make(map[domain.Status]int64)
	for _, row := range m.rows {
		byStatus[row.Status]++
	}
	counts := make([]repository.StatusCount, 0, len(byStatus))
	for status, count := range byStatus {
		counts = append(counts, repository.StatusCount{Status: status, Count: count})
	}
	return counts, nil
}

func (m *memNotifications) GetBatchSummary(_ context.Context, batchID string) ([]repository.BatchSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byStatus := make(map[domain.Status]int)
	for _, row := range m.rows {
		if row.BatchID != nil && *row.BatchID == batchID {
			byStatus[row.Status]++
		}
	}
	out := make([]repository.BatchSummary, 0, len(byStatus))
	for status, count := range byStatus {
		out = append(out, repository.BatchSummary{Status: status, Count: count})
	}
	return out, nil
}

type memAttempts struct {
	mu      sync.Mutex
	entries []domain.DeliveryAttemptLog
}

func (m *memAttempts) Append(_ context.Context, a *domain.DeliveryAttemptLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.NewString()
	m.entries = append(m.entries, *a)
	return nil
}

func (m *memAttempts) ListByNotificationID(_ context.Context, id string) ([]domain.DeliveryAttemptLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.DeliveryAttemptLog, 0)
	for _, entry := range m.entries {
		if entry.NotificationID == id {
			out = append(out, entry)
		}
	}
	return out, nil
}

type memBatches struct {
	mu   sync.Mutex
	rows map[string]domain.Batch
}

func (m *memBatches) Create(_ context.Context, b *domain.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = make(map[string]domain.Batch)
	}
	m.rows[b.ID] = *b
	return nil
}

func (m *memBatches) GetByID(_ context.Context, id string) (*domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &row, nil
}

func (m *memBatches) Complete(_ context.Context, id string, failed int) (*domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	row.FailedCount = failed
	row.Status = domain.BatchStatusCompleted
	if failed > 0 {
		row.Status = domain.BatchStatusPartialFailure
	}
	m.rows[id] = row
	return &row, nil
}

type memUsers map[string]domain.User

func (m memUsers) FindByID(_ context.Context, id string) (*domain.User, error) {
	user, ok := m[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &user, nil
}

type memPreferences struct {
	mu   sync.Mutex
	rows []domain.NotificationPreference
}

func (m *memPreferences) Find(_ context.Context, userID string, typ domain.Type, channel domain.Channel) (*domain.NotificationPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.UserID == userID && p.Type == typ && p.Channel == channel {
			found := p
			return &found, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memPreferences) ListByUser(_ context.Context, userID string) ([]domain.NotificationPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.NotificationPreference, 0)
	for _, p := range m.rows {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPreferences) Upsert(_ context.Context, p *domain.NotificationPreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].UserID == p.UserID && m.rows[i].Type == p.Type && m.rows[i].Channel == p.Channel {
			m.rows[i] = *p
			return nil
		}
	}
	m.rows = append(m.rows, *p)
	return nil
}

type memTemplates struct {
	mu   sync.Mutex
	rows []domain.NotificationTemplate
}

func (m *memTemplates) FindActive(_ context.Context, templateID string, channel domain.Channel) ([]domain.NotificationTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.NotificationTemplate, 0)
	for _, tpl := range m.rows {
		if tpl.TemplateID == templateID && tpl.Channel == channel && tpl.Active {
			out = append(out, tpl)
		}
	}
	return out, nil
}

func (m *memTemplates) Upsert(_ context.Context, t *domain.NotificationTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	for i := range m.rows {
		cur := m.rows[i]
		if cur.TemplateID == t.TemplateID && cur.Channel == t.Channel && cur.Language == t.Language && cur.Version == t.Version {
			m.rows[i] = *t
			return nil
		}
	}
	m.rows = append(m.rows, *t)
	return nil
}

// memCounter reports fixed usage and records sends.
type memCounter struct {
	mu       sync.Mutex
	usage    preference.WindowUsage
	usageErr error
	recorded []string
}

func (c *memCounter) Usage(_ context.Context, _ string, _ domain.Channel, _ time.Duration, _ time.Time) (preference.WindowUsage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.usageErr != nil {
		return preference.WindowUsage{}, c.usageErr
	}
	return c.usage, nil
}

func (c *memCounter) setUsageErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usageErr = err
}

func (c *memCounter) Record(_ context.Context, _ string, _ domain.Channel, notificationID string, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recorded = append(c.recorded, notificationID)
	return nil
}

func (c *memCounter) recordedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recorded)
}
