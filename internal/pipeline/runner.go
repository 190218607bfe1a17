package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pdfconvert/convertd/internal/db/models"
	"github.com/pdfconvert/convertd/internal/db/repos"
	"github.com/pdfconvert/convertd/internal/logger"
)

// Options tunes the runner's retry and timeout behavior.
type Options struct {
	// StageRetries is the total attempt budget per stage.
	StageRetries int
	// StageTimeout bounds a single stage attempt.
	StageTimeout time.Duration
	// JobTimeout bounds the whole pipeline for one claim. It dominates the
	// per-stage timeout: once it expires the job fails regardless of any
	// remaining stage retry budget.
	JobTimeout time.Duration
	// RetryBackoff is the pause before a stage retry.
	RetryBackoff time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.StageRetries < 1 {
		out.StageRetries = 1
	}
	if out.StageTimeout <= 0 {
		out.StageTimeout = 2 * time.Minute
	}
	if out.JobTimeout <= 0 {
		out.JobTimeout = 30 * time.Minute
	}
	if out.RetryBackoff < 0 {
		out.RetryBackoff = 0
	}
	return out
}

// Runner executes the full stage sequence for one claimed job and drives the
// job's lifecycle transitions. A Runner is shared by all dispatcher workers;
// per-job state lives in State.
type Runner struct {
	jobs   *repos.JobRepository
	stages []Stage
	opts   Options
}

// NewRunner creates a runner over the ordered stages.
func NewRunner(jobs *repos.JobRepository, stages []Stage, opts Options) *Runner {
	return &Runner{jobs: jobs, stages: stages, opts: opts.withDefaults()}
}

// Run claims the job and executes the pipeline to a terminal transition.
// Losing the claim race (or losing it mid-flight to the stall monitor) is not
// an error; the job belongs to whoever holds the claim.
func (r *Runner) Run(ctx context.Context, jobID uuid.UUID) error {
	job, err := r.jobs.Transition(ctx, jobID, models.JobStatusQueued, models.JobStatusProcessing,
		&repos.TransitionPatch{IncrementAttempts: true})
	if errors.Is(err, repos.ErrConflict) || errors.Is(err, repos.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to claim job %s: %w", jobID, err)
	}

	logger.InfoWithFields("job claimed", map[string]interface{}{
		"job_id":  job.ID,
		"attempt": job.Attempts,
	})

	jobCtx, cancel := context.WithTimeout(ctx, r.opts.JobTimeout)
	defer cancel()

	state := r.newState(job)
	if err := r.runStages(jobCtx, job, state); err != nil {
		return r.finishFailed(ctx, job, err)
	}
	return r.finishCompleted(ctx, job, state)
}

func (r *Runner) newState(job *models.Job) *State {
	return &State{
		JobID:      job.ID.String(),
		InputPath:  job.InputPath,
		LLMOptions: job.LLMOptions,
		CheckCancelled: func(ctx context.Context) error {
			requested, err := r.jobs.IsCancelRequested(ctx, job.ID)
			if err != nil {
				// An unreadable flag must not kill the job.
				return nil
			}
			if requested {
				return ErrCancelled
			}
			return nil
		},
		RecordFallback: func(ctx context.Context, failed, next string, cause error) {
			event := models.NewJobEvent(job.ID, models.EventProviderFallback, map[string]interface{}{
				"failed_provider": failed,
				"next_provider":   next,
				"cause":           cause.Error(),
			})
			if err := r.jobs.AppendEvent(ctx, job, event); err != nil {
				logger.Errorf("failed to record provider fallback for job %s: %v", job.ID, err)
			}
		},
	}
}

// runStages walks the stage sequence, retrying each stage within its budget.
// It returns nil on success and the terminal cause otherwise. errClaimLost is
// returned when the heartbeat shows the claim was taken away.
func (r *Runner) runStages(jobCtx context.Context, job *models.Job, state *State) error {
	for _, stage := range r.stages {
		r.appendEvent(jobCtx, job, models.NewJobEvent(job.ID, models.EventStageStarted, map[string]interface{}{
			"stage": stage.Name(),
		}))

		if err := r.runStage(jobCtx, job, state, stage); err != nil {
			return err
		}

		r.appendEvent(jobCtx, job, models.NewJobEvent(job.ID, models.EventStageCompleted, map[string]interface{}{
			"stage": stage.Name(),
		}))

		if err := r.jobs.Heartbeat(jobCtx, job.ID); err != nil {
			if errors.Is(err, repos.ErrConflict) {
				return errClaimLost
			}
			logger.Warnf("heartbeat failed for job %s: %v", job.ID, err)
		}
	}
	return nil
}

func (r *Runner) runStage(jobCtx context.Context, job *models.Job, state *State, stage Stage) error {
	var lastErr error
	for attempt := 1; attempt <= r.opts.StageRetries; attempt++ {
		if err := jobCtx.Err(); err != nil {
			return errJobTimeout
		}

		stageCtx, cancel := context.WithTimeout(jobCtx, r.opts.StageTimeout)
		err := stage.Run(stageCtx, state)
		cancel()

		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCancelled) {
			return ErrCancelled
		}
		// The job deadline dominates stage-level classification.
		if jobCtx.Err() != nil {
			return errJobTimeout
		}
		lastErr = err
		if !IsRetriable(err) {
			return err
		}
		if attempt == r.opts.StageRetries {
			break
		}

		logger.WarnWithFields("stage attempt failed, retrying", map[string]interface{}{
			"job_id":  job.ID,
			"stage":   stage.Name(),
			"attempt": attempt,
			"error":   err.Error(),
		})
		r.appendEvent(jobCtx, job, models.NewJobEvent(job.ID, models.EventStageRetried, map[string]interface{}{
			"stage":   stage.Name(),
			"attempt": attempt,
			"error":   err.Error(),
		}))

		if !sleepWithin(jobCtx, r.opts.RetryBackoff) {
			return errJobTimeout
		}
	}
	return fmt.Errorf("stage %s exhausted %d attempts: %w", stage.Name(), r.opts.StageRetries, lastErr)
}

// Internal terminal causes the failure path translates into error details.
var (
	errClaimLost  = errors.New("claim lost")
	errJobTimeout = errors.New("job deadline exceeded")
)

// finishFailed records the terminal failure. The transition uses the parent
// context so the verdict is stored even when the job deadline has expired.
func (r *Runner) finishFailed(ctx context.Context, job *models.Job, cause error) error {
	if errors.Is(cause, errClaimLost) {
		logger.WarnWithFields("job claim lost, abandoning run", map[string]interface{}{
			"job_id": job.ID,
		})
		return nil
	}

	detail := cause.Error()
	switch {
	case errors.Is(cause, ErrCancelled):
		detail = "cancelled by user request"
	case errors.Is(cause, errJobTimeout):
		detail = fmt.Sprintf("job exceeded the %s processing deadline", r.opts.JobTimeout)
	}

	_, err := r.jobs.Transition(ctx, job.ID, models.JobStatusProcessing, models.JobStatusFailed,
		&repos.TransitionPatch{Error: detail})
	if errors.Is(err, repos.ErrConflict) {
		// The stall monitor got there first; its verdict stands.
		logger.Warnf("failure transition conflicted for job %s, leaving stored status", job.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record failure for job %s: %w", job.ID, err)
	}
	logger.InfoWithFields("job failed", map[string]interface{}{
		"job_id": job.ID,
		"error":  detail,
	})
	return nil
}

func (r *Runner) finishCompleted(ctx context.Context, job *models.Job, state *State) error {
	_, err := r.jobs.Transition(ctx, job.ID, models.JobStatusProcessing, models.JobStatusCompleted,
		&repos.TransitionPatch{
			Result:     state.ResultJSON,
			ResultPath: state.ResultPath,
			Artifacts:  state.Artifacts,
		})
	if errors.Is(err, repos.ErrConflict) {
		logger.Warnf("completion transition conflicted for job %s, leaving stored status", job.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record completion for job %s: %w", job.ID, err)
	}
	logger.InfoWithFields("job completed", map[string]interface{}{
		"job_id": job.ID,
		"pages":  len(state.Pages),
	})
	return nil
}

func (r *Runner) appendEvent(ctx context.Context, job *models.Job, event *models.JobEvent) {
	if err := r.jobs.AppendEvent(ctx, job, event); err != nil {
		logger.Errorf("failed to append %s event for job %s: %v", event.Type, job.ID, err)
	}
}

// sleepWithin pauses for d, returning false if ctx expires first.
func sleepWithin(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
