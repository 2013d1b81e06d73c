package domain

import "time"

// BatchStatus represents the processing state of a batch. A batch ends in
// PARTIAL_FAILURE when any recipient was rejected, failed or cancelled by a
// preference. Deferred and retrying recipients count as in flight.
type BatchStatus string

const (
	BatchStatusProcessing     BatchStatus = "PROCESSING"
	BatchStatusCompleted      BatchStatus = "COMPLETED"
	BatchStatusPartialFailure BatchStatus = "PARTIAL_FAILURE"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusProcessing, BatchStatusCompleted, BatchStatusPartialFailure:
		return true
	}
	return false
}

// Batch groups the per-user notifications fanned out from one batch dispatch.
type Batch struct {
	ID          string
	Title       string
	Channel     Channel
	TotalCount  int
	FailedCount int
	Status      BatchStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
