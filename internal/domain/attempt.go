package domain

import "time"

// DeliveryAttemptLog records one delivery attempt or suppression. Never mutated after write.
type DeliveryAttemptLog struct {
	ID                 string
	NotificationID     string
	Channel            Channel
	Status             Status
	Error              *string
	Attempt            int
	DurationMillis     int64
	ProviderStatusCode *int
	CreatedAt          time.Time
}
