// Package repos implements database access following the repository pattern.
package repos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pdfconvert/convertd/internal/db/models"
)

// Sentinel errors returned by the job store.
var (
	// ErrNotFound is returned when a job does not exist or is not visible
	// to the caller.
	ErrNotFound = errors.New("job not found")
	// ErrConflict is returned when a transition's expected status did not
	// match the stored status. The caller should re-read and decide.
	ErrConflict = errors.New("job status conflict")
)

// Publisher receives every committed job event, strictly after commit.
// Commits for one job are serialized by the compare-and-swap transition, so
// per-job publish order equals commit order.
type Publisher interface {
	Publish(job *models.Job, event *models.JobEvent)
}

// TransitionPatch carries the fields written atomically with a status change.
type TransitionPatch struct {
	Result     json.RawMessage
	ResultPath string
	Artifacts  map[string]string
	Error      string
	// ResetAttempts zeroes the attempt counter (explicit re-submission).
	ResetAttempts bool
	// IncrementAttempts bumps the attempt counter (claim or stall requeue).
	IncrementAttempts bool
}

// JobRepository is the single mutator of job lifecycle state. Every write to
// status, result, artifacts, error or attempts goes through Transition.
type JobRepository struct {
	db        *gorm.DB
	publisher Publisher
}

// NewJobRepository creates a new job repository instance
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// SetPublisher installs the post-commit event publisher. Must be called
// before workers start; it is not safe to swap while transitions run.
func (r *JobRepository) SetPublisher(p Publisher) {
	r.publisher = p
}

// Create persists a new job in its initial queued state.
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by its ID. A nil ownerID skips the ownership check
// (internal callers and admins). Jobs not owned by the caller are reported as
// not found rather than forbidden.
func (r *JobRepository) GetByID(ctx context.Context, ownerID, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if ownerID != uuid.Nil && job.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return &job, nil
}

// List returns jobs visible to the owner, newest first. A nil ownerID lists
// every job.
func (r *JobRepository) List(ctx context.Context, ownerID uuid.UUID, opts *models.ListOptions) ([]models.Job, error) {
	if opts == nil {
		opts = models.DefaultListOptions()
	}
	query := r.db.WithContext(ctx).Model(&models.Job{})
	if ownerID != uuid.Nil {
		query = query.Where("owner_id = ?", ownerID)
	}
	if opts.Status != nil {
		query = query.Where(models.JobStatusField+" = ?", *opts.Status)
	}
	var jobs []models.Job
	err := query.
		Order(models.JobCreatedAtField + " DESC").
		Limit(opts.Limit).Offset(opts.Offset).
		Find(&jobs).Error
	return jobs, err
}

// ListQueued returns queued jobs ordered for dispatch: priority descending,
// then earliest submission first.
func (r *JobRepository) ListQueued(ctx context.Context, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).
		Where(models.JobStatusField+" = ?", models.JobStatusQueued).
		Order("priority DESC").
		Order(models.JobCreatedAtField + " ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// ListStalled returns processing jobs whose heartbeat is older than cutoff.
func (r *JobRepository) ListStalled(ctx context.Context, cutoff time.Time) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).
		Where(models.JobStatusField+" = ?", models.JobStatusProcessing).
		Where(models.JobHeartbeatAtField+" < ?", cutoff).
		Find(&jobs).Error
	return jobs, err
}

// Transition performs the compare-and-swap status change: the stored status
// must equal expected or the call fails with ErrConflict and the row is left
// untouched. The patch is applied atomically with the status change, and a
// status_changed event is committed in the same transaction. The result and
// artifact fields are forced to hold exactly when the new status is
// completed, and the error detail exactly when it is failed.
func (r *JobRepository) Transition(ctx context.Context, id uuid.UUID, expected, next models.JobStatus, patch *TransitionPatch) (*models.Job, error) {
	if !expected.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, expected, next)
	}
	if patch == nil {
		patch = &TransitionPatch{}
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		models.JobStatusField:      next,
		models.JobHeartbeatAtField: now,
		"updated_at":               now,
	}

	switch next {
	case models.JobStatusCompleted:
		if len(patch.Result) == 0 {
			return nil, fmt.Errorf("completed transition requires a result payload")
		}
		updates["result"] = patch.Result
		updates["result_path"] = patch.ResultPath
		updates["artifacts"] = marshalArtifacts(patch.Artifacts)
		updates["error"] = ""
	case models.JobStatusFailed:
		if patch.Error == "" {
			return nil, fmt.Errorf("failed transition requires an error detail")
		}
		updates["error"] = patch.Error
		updates["result"] = nil
		updates["result_path"] = ""
		updates["artifacts"] = nil
	case models.JobStatusQueued:
		// Requeue and resubmission both clear any prior outputs.
		updates["result"] = nil
		updates["result_path"] = ""
		updates["artifacts"] = nil
		updates["error"] = ""
		updates["cancel_requested"] = false
	}

	if patch.ResetAttempts {
		updates["attempts"] = 0
	} else if patch.IncrementAttempts {
		updates["attempts"] = gorm.Expr("attempts + 1")
	}

	var job models.Job
	var event *models.JobEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Job{}).
			Where("id = ? AND "+models.JobStatusField+" = ?", id, expected).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Distinguish a race from a missing row.
			var count int64
			if err := tx.Model(&models.Job{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrConflict
		}
		if err := tx.Where("id = ?", id).First(&job).Error; err != nil {
			return err
		}
		event = models.NewJobEvent(id, models.EventStatusChanged, map[string]interface{}{
			"from":          expected,
			"to":            next,
			"error_message": job.Error,
		})
		return tx.Create(event).Error
	})
	if err != nil {
		return nil, err
	}

	r.publish(&job, event)
	return &job, nil
}

// AppendEvent appends a progress event to the job's log and publishes it.
func (r *JobRepository) AppendEvent(ctx context.Context, job *models.Job, event *models.JobEvent) error {
	if event.JobID == uuid.Nil {
		event.JobID = job.ID
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to append job event: %w", err)
	}
	r.publish(job, event)
	return nil
}

// ListEvents returns a job's events in commit order.
func (r *JobRepository) ListEvents(ctx context.Context, jobID uuid.UUID, limit int) ([]models.JobEvent, error) {
	if limit <= 0 {
		limit = models.DefaultPageSize
	}
	var events []models.JobEvent
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// Heartbeat refreshes the liveness timestamp of a processing job. Returns
// ErrConflict if the job is no longer processing (e.g. it was requeued by
// the stall monitor), which tells the runner its claim is gone.
func (r *JobRepository) Heartbeat(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND "+models.JobStatusField+" = ?", id, models.JobStatusProcessing).
		Update(models.JobHeartbeatAtField, time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// RequestCancel sets the cooperative cancellation flag on a processing job
// and records the request in the event log. The runner observes the flag at
// its next safe point.
func (r *JobRepository) RequestCancel(ctx context.Context, ownerID, id uuid.UUID) error {
	job, err := r.GetByID(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusProcessing {
		return fmt.Errorf("%w: job is %s, not processing", models.ErrInvalidTransition, job.Status)
	}
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND "+models.JobStatusField+" = ?", id, models.JobStatusProcessing).
		Update("cancel_requested", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return r.AppendEvent(ctx, job, models.NewJobEvent(id, models.EventCancelRequested, nil))
}

// IsCancelRequested reads the cooperative cancellation flag.
func (r *JobRepository) IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	job, err := r.GetByID(ctx, uuid.Nil, id)
	if err != nil {
		return false, err
	}
	return job.CancelRequested, nil
}

func (r *JobRepository) publish(job *models.Job, event *models.JobEvent) {
	if r.publisher != nil {
		r.publisher.Publish(job, event)
	}
}

func marshalArtifacts(artifacts map[string]string) interface{} {
	if len(artifacts) == 0 {
		return nil
	}
	raw, err := json.Marshal(artifacts)
	if err != nil {
		return nil
	}
	return raw
}
