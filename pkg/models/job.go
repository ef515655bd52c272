package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusRetrying  = "retrying"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

const (
	JobTypeFullSync          = "full_sync"
	JobTypePriceUpdate       = "price_update"
	JobTypeAvailabilityCheck = "availability_check"
	JobTypeProductDetails    = "product_details"
)

// SyncJob is one unit of synchronization work against a single provider.
// Jobs are created by the scheduler or a manual trigger and mutated only by
// the queue; workers see them as owned values between Dequeue and Complete.
type SyncJob struct {
	ID           uuid.UUID      `json:"id"`
	Provider     string         `json:"provider"`
	Type         string         `json:"type"`
	Status       string         `json:"status"`
	Priority     int            `json:"priority"` // lower runs sooner
	Payload      map[string]any `json:"payload,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// Terminal reports whether the job can no longer change state.
func (j *SyncJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// ValidJobType reports whether t is one of the dispatchable job types.
func ValidJobType(t string) bool {
	switch t {
	case JobTypeFullSync, JobTypePriceUpdate, JobTypeAvailabilityCheck, JobTypeProductDetails:
		return true
	}
	return false
}
