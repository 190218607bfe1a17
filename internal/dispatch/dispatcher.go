// Package dispatch feeds queued jobs to pipeline workers. It keeps a
// deduplicated in-memory queue ordered by priority, bounds concurrency with
// a fixed worker pool, periodically re-scans the database for queued jobs
// that never reached the queue (crash recovery, multi-writer setups) and
// recovers jobs whose worker stopped heartbeating.
package dispatch

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pdfconvert/convertd/internal/db/models"
	"github.com/pdfconvert/convertd/internal/db/repos"
	"github.com/pdfconvert/convertd/internal/logger"
)

// JobRunner executes one claimed job to a terminal state.
type JobRunner interface {
	Run(ctx context.Context, jobID uuid.UUID) error
}

// Options tunes the dispatcher.
type Options struct {
	// Workers is the concurrency ceiling for running pipelines.
	Workers int
	// PollInterval is how often the database is re-scanned for queued jobs.
	PollInterval time.Duration
	// StallTimeout is the heartbeat age after which a processing job is
	// considered abandoned.
	StallTimeout time.Duration
	// StallInterval is how often the stall monitor runs.
	StallInterval time.Duration
	// MaxAttempts caps total claims per job. A stalled job at the cap fails
	// instead of being requeued.
	MaxAttempts int
	// ScanBatch bounds how many queued jobs one database scan enqueues.
	ScanBatch int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Workers < 1 {
		out.Workers = 1
	}
	if out.PollInterval <= 0 {
		out.PollInterval = 5 * time.Second
	}
	if out.StallTimeout <= 0 {
		out.StallTimeout = 2 * time.Minute
	}
	if out.StallInterval <= 0 {
		out.StallInterval = out.StallTimeout / 2
	}
	if out.MaxAttempts < 1 {
		out.MaxAttempts = 3
	}
	if out.ScanBatch < 1 {
		out.ScanBatch = 100
	}
	return out
}

// Dispatcher owns the queue and the worker pool.
type Dispatcher struct {
	jobs   *repos.JobRepository
	runner JobRunner
	opts   Options

	mu      sync.Mutex
	seq     uint64
	queue   jobHeap
	pending map[uuid.UUID]struct{}
	wake    chan struct{}
}

// New creates a dispatcher. Run must be called before Enqueue has any effect
// beyond queueing.
func New(jobs *repos.JobRepository, runner JobRunner, opts Options) *Dispatcher {
	return &Dispatcher{
		jobs:    jobs,
		runner:  runner,
		opts:    opts.withDefaults(),
		pending: make(map[uuid.UUID]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue adds a queued job to the dispatch queue. Duplicate ids are ignored,
// so submission and the periodic scan can both enqueue the same job safely.
func (d *Dispatcher) Enqueue(jobID uuid.UUID, priority int) {
	d.mu.Lock()
	if _, ok := d.pending[jobID]; ok {
		d.mu.Unlock()
		return
	}
	d.pending[jobID] = struct{}{}
	d.seq++
	heap.Push(&d.queue, queueItem{jobID: jobID, priority: priority, seq: d.seq})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// QueueDepth returns the number of jobs waiting for a worker.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Run starts the worker pool, the database scanner and the stall monitor, and
// blocks until ctx is cancelled and every goroutine has drained.
func (d *Dispatcher) Run(ctx context.Context) error {
	logger.InfoWithFields("dispatcher starting", map[string]interface{}{
		"workers":       d.opts.Workers,
		"poll_interval": d.opts.PollInterval.String(),
		"stall_timeout": d.opts.StallTimeout.String(),
	})

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.opts.Workers; i++ {
		g.Go(func() error { return d.workerLoop(ctx) })
	}
	g.Go(func() error { return d.scanLoop(ctx) })
	g.Go(func() error { return d.stallLoop(ctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Dispatcher) workerLoop(ctx context.Context) error {
	for {
		jobID, ok := d.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.wake:
				continue
			}
		}
		if err := d.runner.Run(ctx, jobID); err != nil {
			logger.Errorf("pipeline run failed for job %s: %v", jobID, err)
		}
	}
}

func (d *Dispatcher) pop() (uuid.UUID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue.Len() == 0 {
		return uuid.Nil, false
	}
	item := heap.Pop(&d.queue).(queueItem)
	delete(d.pending, item.jobID)
	return item.jobID, true
}

// scanLoop keeps the in-memory queue in sync with the database. Jobs already
// pending are deduplicated by Enqueue.
func (d *Dispatcher) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()
	for {
		d.scanQueued(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) scanQueued(ctx context.Context) {
	jobs, err := d.jobs.ListQueued(ctx, d.opts.ScanBatch)
	if err != nil {
		logger.Errorf("failed to scan queued jobs: %v", err)
		return
	}
	for _, job := range jobs {
		d.Enqueue(job.ID, job.Priority)
	}
}

// stallLoop recovers processing jobs whose heartbeat went silent. A stalled
// job below the attempt cap goes back to the queue with its counter bumped;
// at the cap it fails for good.
func (d *Dispatcher) stallLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.StallInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.recoverStalled(ctx)
		}
	}
}

func (d *Dispatcher) recoverStalled(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-d.opts.StallTimeout)
	stalled, err := d.jobs.ListStalled(ctx, cutoff)
	if err != nil {
		logger.Errorf("failed to list stalled jobs: %v", err)
		return
	}
	for _, job := range stalled {
		d.recoverJob(ctx, &job)
	}
}

func (d *Dispatcher) recoverJob(ctx context.Context, job *models.Job) {
	if job.Attempts >= d.opts.MaxAttempts {
		_, err := d.jobs.Transition(ctx, job.ID, models.JobStatusProcessing, models.JobStatusFailed,
			&repos.TransitionPatch{Error: "stalled: worker heartbeat lost and attempt limit reached"})
		if err != nil && !errors.Is(err, repos.ErrConflict) {
			logger.Errorf("failed to fail stalled job %s: %v", job.ID, err)
		}
		if err == nil {
			logger.WarnWithFields("stalled job failed permanently", map[string]interface{}{
				"job_id":   job.ID,
				"attempts": job.Attempts,
			})
		}
		return
	}

	// The CAS loses harmlessly when the worker woke up and moved the job on.
	_, err := d.jobs.Transition(ctx, job.ID, models.JobStatusProcessing, models.JobStatusQueued, nil)
	if err != nil {
		if !errors.Is(err, repos.ErrConflict) {
			logger.Errorf("failed to requeue stalled job %s: %v", job.ID, err)
		}
		return
	}
	logger.WarnWithFields("stalled job requeued", map[string]interface{}{
		"job_id":   job.ID,
		"attempts": job.Attempts,
	})
	d.Enqueue(job.ID, job.Priority)
}

// queueItem orders dispatch by priority (higher first), then submission
// order within a priority.
type queueItem struct {
	jobID    uuid.UUID
	priority int
	seq      uint64
}

type jobHeap []queueItem

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(queueItem)) }

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
