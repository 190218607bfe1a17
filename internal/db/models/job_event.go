package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobEventType identifies the kind of event appended to a job's log.
type JobEventType string

// Job event type constants
const (
	// EventStatusChanged is appended for every committed status transition
	EventStatusChanged JobEventType = "status_changed"
	// EventStageStarted marks the start of one pipeline stage
	EventStageStarted JobEventType = "stage_started"
	// EventStageCompleted marks the successful end of one pipeline stage
	EventStageCompleted JobEventType = "stage_completed"
	// EventStageRetried marks a retriable stage failure about to be retried
	EventStageRetried JobEventType = "stage_retried"
	// EventProviderFallback marks one LLM provider failing over to the next
	EventProviderFallback JobEventType = "provider_fallback"
	// EventJobResubmitted marks an explicit re-submission of a failed job
	EventJobResubmitted JobEventType = "job_resubmitted"
	// EventCancelRequested marks an external cancellation request
	EventCancelRequested JobEventType = "cancel_requested"
)

// JobEvent is an append-only log entry describing job progress. Events are
// never mutated or deleted; the notification hub turns them into outbound
// messages and the audit surface reads them back.
type JobEvent struct {
	ID        uint            `json:"id" gorm:"primaryKey"`
	JobID     uuid.UUID       `json:"job_id" gorm:"type:uuid;not null;index"`
	Type      JobEventType    `json:"type" gorm:"not null;index"`
	Payload   json.RawMessage `json:"payload,omitempty" gorm:"type:jsonb"`
	CreatedAt time.Time       `json:"created_at" gorm:"index"`
}

// NewJobEvent builds an event with a JSON-encoded payload. Marshal errors are
// swallowed into an empty payload; the event itself must never be lost to a
// payload encoding problem.
func NewJobEvent(jobID uuid.UUID, eventType JobEventType, payload interface{}) *JobEvent {
	evt := &JobEvent{JobID: jobID, Type: eventType}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			evt.Payload = raw
		}
	}
	return evt
}
