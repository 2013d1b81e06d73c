package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
)

// NotificationMessage is the broker payload for notification processing.
// The row in the database stays the source of truth; the message only
// names which notification is due.
type NotificationMessage struct {
	NotificationID string          `json:"notificationId"`
	CorrelationID  string          `json:"correlationId,omitempty"`
	Channel        domain.Channel  `json:"channel"`
	Priority       domain.Priority `json:"priority"`
	Status         domain.Status   `json:"status,omitempty"`
	RetryCount     int             `json:"retryCount,omitempty"`
}

// MessageFor builds the work message announcing that n is due.
func MessageFor(n domain.Notification) NotificationMessage {
	return NotificationMessage{
		NotificationID: n.ID,
		CorrelationID:  n.CorrelationID,
		Channel:        n.Channel,
		Priority:       n.Priority,
		Status:         n.Status,
		RetryCount:     n.RetryCount,
	}
}

func (m NotificationMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("%w: notificationId is required", domain.ErrValidation)
	}
	if !m.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, m.Channel)
	}
	if !m.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", domain.ErrValidation, m.Priority)
	}
	return nil
}
