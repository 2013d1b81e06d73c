package domain

import (
	"fmt"
	"strings"
	"time"
)

const DefaultLanguage = "en"

// NotificationTemplate is a versioned, per-channel message template.
type NotificationTemplate struct {
	ID         string
	TemplateID string
	Channel    Channel
	Language   string
	Subject    string
	Body       string
	Version    int
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (t *NotificationTemplate) Validate() error {
	if strings.TrimSpace(t.TemplateID) == "" {
		return fmt.Errorf("%w: template id is required", ErrValidation)
	}
	if !t.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, t.Channel)
	}
	if strings.TrimSpace(t.Body) == "" {
		return fmt.Errorf("%w: template body is required", ErrValidation)
	}
	if t.Version < 1 {
		return fmt.Errorf("%w: template version must be >= 1", ErrValidation)
	}
	return nil
}
