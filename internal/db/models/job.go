package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Field names used in raw queries and ordering clauses.
const (
	// JobStatusField is the database field name for the job status
	JobStatusField = "status"
	// JobCreatedAtField is the database field name for the job creation timestamp
	JobCreatedAtField = "created_at"
	// JobHeartbeatAtField is the database field name for the worker heartbeat timestamp
	JobHeartbeatAtField = "heartbeat_at"
)

// ErrInvalidTransition is returned when a requested status change is not
// permitted by the job lifecycle state machine.
var ErrInvalidTransition = errors.New("invalid job status transition")

// JobStatus represents the current state of a conversion job
type JobStatus string

// Job status constants
const (
	// JobStatusUnknown represents an unknown or invalid job status
	JobStatusUnknown JobStatus = "unknown"
	// JobStatusQueued indicates the job is waiting to be claimed by a worker
	JobStatusQueued JobStatus = "queued"
	// JobStatusProcessing indicates a pipeline runner is executing the job
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates every stage finished successfully
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job ended with an error
	JobStatusFailed JobStatus = "failed"
)

// legalTransitions encodes the lifecycle state machine. Sub-stage progress is
// recorded as JobEvents, not status changes, so processing has no self edge.
var legalTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:     {JobStatusProcessing},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusQueued},
	JobStatusFailed:     {JobStatusQueued},
}

// String returns the string representation of the job status
func (s JobStatus) String() string {
	return string(s)
}

// Terminal reports whether the status stops automatic dispatch.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseJobStatus converts a string to a JobStatus type
func ParseJobStatus(str string) (JobStatus, error) {
	switch str {
	case string(JobStatusQueued):
		return JobStatusQueued, nil
	case string(JobStatusProcessing):
		return JobStatusProcessing, nil
	case string(JobStatusCompleted):
		return JobStatusCompleted, nil
	case string(JobStatusFailed):
		return JobStatusFailed, nil
	default:
		return JobStatusUnknown, fmt.Errorf("invalid job status: %s", str)
	}
}

// UnmarshalJSON implements json.Unmarshaler for JobStatus
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	status, err := ParseJobStatus(str)
	if err != nil {
		return err
	}

	*s = status
	return nil
}

// LLMOptions carries the per-job LLM post-processing preferences supplied at
// submission time. Pointer fields distinguish "unset" from explicit false so
// global defaults apply only when the caller said nothing.
type LLMOptions struct {
	EnableLLM       *bool  `json:"enable_llm,omitempty"`
	Provider        string `json:"provider,omitempty"`
	Model           string `json:"model,omitempty"`
	FallbackEnabled *bool  `json:"fallback_enabled,omitempty"`
}

// Enabled reports whether LLM post-processing is requested. Unset means on.
func (o *LLMOptions) Enabled() bool {
	if o == nil || o.EnableLLM == nil {
		return true
	}
	return *o.EnableLLM
}

// Forced returns the forced provider name, or "" for automatic selection.
func (o *LLMOptions) Forced() string {
	if o == nil {
		return ""
	}
	return o.Provider
}

// Fallback reports whether fallback across ranked providers is allowed,
// defaulting to the global flag when the job did not say.
func (o *LLMOptions) Fallback(globalDefault bool) bool {
	if o == nil || o.FallbackEnabled == nil {
		return globalDefault
	}
	return *o.FallbackEnabled
}

// Job represents one document conversion request and its lifecycle record.
// Lifecycle fields (status, result, artifacts, error, attempts) may only be
// written through JobRepository.Transition.
type Job struct {
	ID              uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	OwnerID         uuid.UUID         `json:"owner_id" gorm:"type:uuid;not null;index"`
	Status          JobStatus         `json:"status" gorm:"not null;index"`
	Priority        int               `json:"priority" gorm:"not null;default:0;index"`
	Attempts        int               `json:"attempts" gorm:"not null;default:0"`
	InputFilename   string            `json:"input_filename" gorm:"not null"`
	InputPath       string            `json:"-" gorm:"not null"`
	LLMOptions      *LLMOptions       `json:"llm_options,omitempty" gorm:"serializer:json"`
	Result          json.RawMessage   `json:"result,omitempty" gorm:"type:jsonb"`
	ResultPath      string            `json:"-"`
	Artifacts       map[string]string `json:"artifacts,omitempty" gorm:"serializer:json"`
	Error           string            `json:"error,omitempty" gorm:"type:text"`
	CancelRequested bool              `json:"cancel_requested" gorm:"not null;default:false"`
	HeartbeatAt     time.Time         `json:"-" gorm:"index"`
	CreatedAt       time.Time         `json:"created_at" gorm:"index"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Validate ensures that the job data is valid
func (j *Job) Validate() error {
	if j.OwnerID == uuid.Nil {
		return fmt.Errorf("job owner is required")
	}
	if j.InputFilename == "" {
		return fmt.Errorf("job input filename is required")
	}
	return nil
}

// BeforeCreate is a GORM hook that runs before creating a new job
func (j *Job) BeforeCreate(_ *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = JobStatusQueued
	}
	if j.HeartbeatAt.IsZero() {
		j.HeartbeatAt = time.Now().UTC()
	}
	return j.Validate()
}
