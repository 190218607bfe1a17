// Package services implements the business logic between the API handlers
// and the repositories. Handlers stay thin; ownership scoping, input
// validation and dispatch side effects live here.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/pdfconvert/convertd/internal/db/models"
	"github.com/pdfconvert/convertd/internal/db/repos"
	"github.com/pdfconvert/convertd/internal/logger"
	"github.com/pdfconvert/convertd/internal/storage"
)

// Service-level sentinel errors, mapped to HTTP statuses by the handlers.
var (
	// ErrNotReady is returned when a result or artifact is requested before
	// the job completed.
	ErrNotReady = errors.New("job has not completed")
	// ErrNoArtifact is returned when the requested artifact kind does not
	// exist on a completed job.
	ErrNoArtifact = errors.New("artifact not found")
)

// ValidationError reports a rejected submission input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Enqueuer hands accepted jobs to the dispatcher.
type Enqueuer interface {
	Enqueue(jobID uuid.UUID, priority int)
}

// SubmitRequest carries the inputs of one conversion submission.
type SubmitRequest struct {
	Filename   string
	Data       io.Reader
	Priority   int
	LLMOptions *models.LLMOptions
}

// RequestMeta carries the caller metadata recorded in the audit trail.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// JobService exposes the job lifecycle operations of the public API.
type JobService struct {
	jobs       *repos.JobRepository
	audit      *repos.AuditRepository
	storage    *storage.Manager
	dispatcher Enqueuer
}

// NewJobService creates a new job service.
func NewJobService(jobs *repos.JobRepository, audit *repos.AuditRepository, mgr *storage.Manager, dispatcher Enqueuer) *JobService {
	return &JobService{jobs: jobs, audit: audit, storage: mgr, dispatcher: dispatcher}
}

// Submit validates and stores an uploaded document, creates the queued job
// and hands it to the dispatcher.
func (s *JobService) Submit(ctx context.Context, user *models.User, req *SubmitRequest, meta RequestMeta) (*models.Job, error) {
	if err := validateSubmission(req); err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:            uuid.New(),
		OwnerID:       user.ID,
		Status:        models.JobStatusQueued,
		Priority:      req.Priority,
		InputFilename: filepath.Base(req.Filename),
		LLMOptions:    req.LLMOptions,
	}

	inputPath, err := s.storage.SaveUpload(job.ID.String(), job.InputFilename, req.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	job.InputPath = inputPath

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	s.dispatcher.Enqueue(job.ID, job.Priority)

	s.audit.Record(ctx, user.ID, "job.submit", meta.IP, meta.UserAgent, map[string]interface{}{
		"job_id":   job.ID,
		"filename": job.InputFilename,
		"priority": job.Priority,
	})
	logger.InfoWithFields("job submitted", map[string]interface{}{
		"job_id":   job.ID,
		"owner_id": user.ID,
		"filename": job.InputFilename,
	})
	return job, nil
}

func validateSubmission(req *SubmitRequest) error {
	if req.Filename == "" {
		return &ValidationError{Field: "file", Message: "a file upload is required"}
	}
	if ext := strings.ToLower(filepath.Ext(req.Filename)); ext != ".pdf" {
		return &ValidationError{Field: "file", Message: "only .pdf documents are supported"}
	}
	if req.Data == nil {
		return &ValidationError{Field: "file", Message: "empty upload"}
	}
	if req.Priority < 0 {
		return &ValidationError{Field: "priority", Message: "priority must not be negative"}
	}
	return nil
}

// Get returns a job visible to the user. Admins see every job.
func (s *JobService) Get(ctx context.Context, user *models.User, id uuid.UUID) (*models.Job, error) {
	return s.jobs.GetByID(ctx, scope(user), id)
}

// List returns the user's jobs, newest first. Admins list every job.
func (s *JobService) List(ctx context.Context, user *models.User, opts *models.ListOptions) ([]models.Job, error) {
	return s.jobs.List(ctx, scope(user), opts)
}

// Events returns a job's progress log in commit order.
func (s *JobService) Events(ctx context.Context, user *models.User, id uuid.UUID, limit int) ([]models.JobEvent, error) {
	if _, err := s.Get(ctx, user, id); err != nil {
		return nil, err
	}
	return s.jobs.ListEvents(ctx, id, limit)
}

// Result returns the structured result payload of a completed job.
func (s *JobService) Result(ctx context.Context, user *models.User, id uuid.UUID) (json.RawMessage, error) {
	job, err := s.Get(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrNotReady, job.Status)
	}
	return job.Result, nil
}

// Artifact resolves a completed job's exported document on disk and returns
// its path plus a download filename.
func (s *JobService) Artifact(ctx context.Context, user *models.User, id uuid.UUID, kind string) (path, filename string, err error) {
	job, err := s.Get(ctx, user, id)
	if err != nil {
		return "", "", err
	}
	if job.Status != models.JobStatusCompleted {
		return "", "", fmt.Errorf("%w: status is %s", ErrNotReady, job.Status)
	}
	path, ok := job.Artifacts[strings.ToLower(kind)]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrNoArtifact, kind)
	}
	base := strings.TrimSuffix(job.InputFilename, filepath.Ext(job.InputFilename))
	return path, base + filepath.Ext(path), nil
}

// Resubmit puts a failed job back in the queue with a fresh attempt budget.
// The job keeps its id; the event log records the resubmission boundary.
func (s *JobService) Resubmit(ctx context.Context, user *models.User, id uuid.UUID, meta RequestMeta) (*models.Job, error) {
	job, err := s.Get(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusFailed {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, job.Status, models.JobStatusQueued)
	}

	previousError := job.Error
	job, err = s.jobs.Transition(ctx, id, models.JobStatusFailed, models.JobStatusQueued,
		&repos.TransitionPatch{ResetAttempts: true})
	if err != nil {
		return nil, err
	}
	if err := s.jobs.AppendEvent(ctx, job, models.NewJobEvent(id, models.EventJobResubmitted, map[string]interface{}{
		"previous_error": previousError,
	})); err != nil {
		logger.Errorf("failed to record resubmission for job %s: %v", id, err)
	}
	s.dispatcher.Enqueue(job.ID, job.Priority)

	s.audit.Record(ctx, user.ID, "job.resubmit", meta.IP, meta.UserAgent, map[string]interface{}{
		"job_id": id,
	})
	return job, nil
}

// Cancel requests cooperative cancellation of a processing job.
func (s *JobService) Cancel(ctx context.Context, user *models.User, id uuid.UUID, meta RequestMeta) error {
	if err := s.jobs.RequestCancel(ctx, scope(user), id); err != nil {
		return err
	}
	s.audit.Record(ctx, user.ID, "job.cancel", meta.IP, meta.UserAgent, map[string]interface{}{
		"job_id": id,
	})
	return nil
}

// scope maps a user to the repository's owner filter: admins bypass it.
func scope(user *models.User) uuid.UUID {
	if user.IsAdmin {
		return uuid.Nil
	}
	return user.ID
}
