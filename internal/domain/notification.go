package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSent       Status = "SENT"
	StatusDelivered  Status = "DELIVERED"
	StatusRetry      Status = "RETRY"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSent, StatusDelivered, StatusRetry, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is expected without operator action.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Cancelable reports whether a notification in this state may still be withdrawn.
func (s Status) Cancelable() bool {
	return s == StatusPending || s == StatusRetry
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel represents the delivery channel.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelPush  Channel = "PUSH"
	ChannelInApp Channel = "IN_APP"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

// HasSubject reports whether content on this channel carries a subject line.
func (c Channel) HasSubject() bool {
	return c == ChannelEmail
}

func ParseChannelFromString(s string) (Channel, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	if normalized == "INAPP" {
		normalized = string(ChannelInApp)
	}
	ch := Channel(normalized)
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// SupportedChannels lists every channel in a stable order.
func SupportedChannels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp}
}

// Type classifies a notification for preference filtering.
type Type string

const (
	TypeTransactional Type = "TRANSACTIONAL"
	TypePromotional   Type = "PROMOTIONAL"
	TypeAlert         Type = "ALERT"
	TypeReminder      Type = "REMINDER"
	TypeSystem        Type = "SYSTEM"
)

func (t Type) String() string { return string(t) }

func (t Type) IsValid() bool {
	switch t {
	case TypeTransactional, TypePromotional, TypeAlert, TypeReminder, TypeSystem:
		return true
	}
	return false
}

// Mandatory types cannot be opted out of. They may still be deferred.
func (t Type) Mandatory() bool {
	switch t {
	case TypeTransactional, TypeAlert, TypeSystem:
		return true
	}
	return false
}

func ParseTypeFromString(s string) (Type, error) {
	tp := Type(strings.ToUpper(strings.TrimSpace(s)))
	if !tp.IsValid() {
		return "", fmt.Errorf("%w: invalid type %q", ErrValidation, s)
	}
	return tp, nil
}

// Priority represents the message priority level.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// MaxDelay is the longest acceptable wait before delivery at this priority.
func (p Priority) MaxDelay() time.Duration {
	switch p {
	case PriorityCritical:
		return time.Minute
	case PriorityHigh:
		return 5 * time.Minute
	case PriorityMedium:
		return 30 * time.Minute
	default:
		return 4 * time.Hour
	}
}

func ParsePriorityFromString(s string) (Priority, error) {
	pr := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if pr == "NORMAL" {
		pr = PriorityMedium
	}
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

// Content limits per channel (in characters).
const (
	MaxSMSContent   = 160
	MaxPushContent  = 240
	MaxInAppContent = 2000
	MaxEmailContent = 10000
)

const DefaultMaxRetries = 3

// MaxRetriesOrDefault returns the caller's retry bound, or DefaultMaxRetries
// when none was given. An explicit zero disables automatic retries.
func MaxRetriesOrDefault(requested *int) int {
	if requested == nil {
		return DefaultMaxRetries
	}
	return *requested
}

// Notification is the core domain entity representing a message to be delivered.
type Notification struct {
	ID                  string
	CorrelationID       string
	IdempotencyKey      *string
	BatchID             *string
	UserID              string
	Title               string
	Body                string
	TemplateID          *string
	Variables           map[string]string
	Channel             Channel
	Type                Type
	Priority            Priority
	Status              Status
	ScheduledAt         *time.Time
	NextAttemptAt       *time.Time
	ProcessingStartedAt *time.Time
	SentAt              *time.Time
	DeliveredAt         *time.Time
	RetryCount          int
	MaxRetries          int
	LastError           *string
	ProviderReference   *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Validate checks the core fields every dispatch requires.
func (n *Notification) Validate() error {
	if strings.TrimSpace(n.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if n.Channel == "" {
		return fmt.Errorf("%w: channel is required", ErrValidation)
	}
	if !n.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, n.Channel)
	}
	if strings.TrimSpace(n.Body) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if !n.Type.IsValid() {
		return fmt.Errorf("%w: invalid type %q", ErrValidation, n.Type)
	}
	if !n.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, n.Priority)
	}
	if n.MaxRetries < 0 {
		return fmt.Errorf("%w: maxRetries must be >= 0", ErrValidation)
	}
	if n.RetryCount > n.MaxRetries {
		return fmt.Errorf("%w: retry count %d exceeds max retries %d", ErrValidation, n.RetryCount, n.MaxRetries)
	}

	contentLen := len([]rune(n.Body))
	switch n.Channel {
	case ChannelSMS:
		if contentLen > MaxSMSContent {
			return fmt.Errorf("%w: SMS content exceeds %d characters (got %d)", ErrValidation, MaxSMSContent, contentLen)
		}
	case ChannelPush:
		if contentLen > MaxPushContent {
			return fmt.Errorf("%w: push content exceeds %d characters (got %d)", ErrValidation, MaxPushContent, contentLen)
		}
	case ChannelInApp:
		if contentLen > MaxInAppContent {
			return fmt.Errorf("%w: in-app content exceeds %d characters (got %d)", ErrValidation, MaxInAppContent, contentLen)
		}
	case ChannelEmail:
		if contentLen > MaxEmailContent {
			return fmt.Errorf("%w: email content exceeds %d characters (got %d)", ErrValidation, MaxEmailContent, contentLen)
		}
	}

	return nil
}

// RetryBudgetLeft reports whether another automatic retry may be scheduled.
func (n *Notification) RetryBudgetLeft() bool {
	return n.RetryCount < n.MaxRetries
}

// ApplyDefaults fills optional classification fields. MaxRetries is taken
// as given; request surfaces resolve it with MaxRetriesOrDefault.
func (n *Notification) ApplyDefaults() {
	if n.Type == "" {
		n.Type = TypeTransactional
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
}
