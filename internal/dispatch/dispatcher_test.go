package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pdfconvert/convertd/internal/db"
	"github.com/pdfconvert/convertd/internal/db/models"
	"github.com/pdfconvert/convertd/internal/db/repos"
)

func newTestRepo(t *testing.T) *repos.JobRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))
	return repos.NewJobRepository(conn)
}

func createJob(t *testing.T, repo *repos.JobRepository, priority int) *models.Job {
	t.Helper()
	job := &models.Job{
		OwnerID:       uuid.New(),
		Priority:      priority,
		InputFilename: "scan.pdf",
		InputPath:     "/tmp/scan.pdf",
	}
	require.NoError(t, repo.Create(context.Background(), job))
	return job
}

// orderRecorder records the order jobs reach the runner.
type orderRecorder struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (r *orderRecorder) Run(_ context.Context, jobID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, jobID)
	return nil
}

func TestEnqueueDeduplicates(t *testing.T) {
	d := New(newTestRepo(t), &orderRecorder{}, Options{Workers: 1})

	id := uuid.New()
	d.Enqueue(id, 0)
	d.Enqueue(id, 0)
	d.Enqueue(id, 5)
	assert.Equal(t, 1, d.QueueDepth())

	d.Enqueue(uuid.New(), 0)
	assert.Equal(t, 2, d.QueueDepth())
}

func TestQueueOrdering(t *testing.T) {
	d := New(newTestRepo(t), &orderRecorder{}, Options{Workers: 1})

	low1 := uuid.New()
	high := uuid.New()
	low2 := uuid.New()
	d.Enqueue(low1, 0)
	d.Enqueue(high, 10)
	d.Enqueue(low2, 0)

	var popped []uuid.UUID
	for {
		id, ok := d.pop()
		if !ok {
			break
		}
		popped = append(popped, id)
	}
	assert.Equal(t, []uuid.UUID{high, low1, low2}, popped,
		"priority first, then submission order")
	assert.Zero(t, d.QueueDepth())
}

func TestWorkersDrainQueue(t *testing.T) {
	recorder := &orderRecorder{}
	d := New(newTestRepo(t), recorder, Options{
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
	})

	ids := make(map[uuid.UUID]bool)
	for i := 0; i < 6; i++ {
		id := uuid.New()
		ids[id] = true
		d.Enqueue(id, i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		recorder.mu.Lock()
		defer recorder.mu.Unlock()
		return len(recorder.ids) == len(ids)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	for _, id := range recorder.ids {
		assert.True(t, ids[id], "unexpected job %s", id)
	}
}

// gatedRunner blocks each run until released, counting concurrent runs.
type gatedRunner struct {
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
}

func (r *gatedRunner) Run(ctx context.Context, _ uuid.UUID) error {
	n := r.active.Add(1)
	for {
		old := r.peak.Load()
		if n <= old || r.peak.CompareAndSwap(old, n) {
			break
		}
	}
	defer r.active.Add(-1)
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	return nil
}

func TestConcurrencyCeiling(t *testing.T) {
	runner := &gatedRunner{release: make(chan struct{})}
	d := New(newTestRepo(t), runner, Options{
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
	})

	for i := 0; i < 8; i++ {
		d.Enqueue(uuid.New(), 0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return runner.active.Load() == 2
	}, 2*time.Second, 5*time.Millisecond)

	// Give the pool a chance to overshoot, then check it never did.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), runner.peak.Load(), "never more than Workers concurrent runs")

	close(runner.release)
	cancel()
	<-done
}

func TestScanPicksUpPersistedQueuedJobs(t *testing.T) {
	repo := newTestRepo(t)
	job := createJob(t, repo, 0)

	d := New(repo, &orderRecorder{}, Options{Workers: 1})
	d.scanQueued(context.Background())
	assert.Equal(t, 1, d.QueueDepth())

	// Scanning again must not duplicate the entry.
	d.scanQueued(context.Background())
	assert.Equal(t, 1, d.QueueDepth())

	id, ok := d.pop()
	require.True(t, ok)
	assert.Equal(t, job.ID, id)
}

func TestRecoverStalledRequeues(t *testing.T) {
	repo := newTestRepo(t)
	job := createJob(t, repo, 0)
	ctx := context.Background()

	_, err := repo.Transition(ctx, job.ID, models.JobStatusQueued, models.JobStatusProcessing,
		&repos.TransitionPatch{IncrementAttempts: true})
	require.NoError(t, err)

	d := New(repo, &orderRecorder{}, Options{
		Workers:      1,
		StallTimeout: time.Nanosecond,
		MaxAttempts:  3,
	})
	time.Sleep(5 * time.Millisecond)
	d.recoverStalled(ctx)

	got, err := repo.GetByID(ctx, uuid.Nil, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, 1, d.QueueDepth(), "requeued job goes straight back to the queue")
}

func TestRecoverStalledFailsAtAttemptCap(t *testing.T) {
	repo := newTestRepo(t)
	job := createJob(t, repo, 0)
	ctx := context.Background()

	// Burn through the attempt budget.
	for i := 0; i < 3; i++ {
		_, err := repo.Transition(ctx, job.ID, models.JobStatusQueued, models.JobStatusProcessing,
			&repos.TransitionPatch{IncrementAttempts: true})
		require.NoError(t, err)
		if i < 2 {
			_, err = repo.Transition(ctx, job.ID, models.JobStatusProcessing, models.JobStatusQueued, nil)
			require.NoError(t, err)
		}
	}

	d := New(repo, &orderRecorder{}, Options{
		Workers:      1,
		StallTimeout: time.Nanosecond,
		MaxAttempts:  3,
	})
	time.Sleep(5 * time.Millisecond)
	d.recoverStalled(ctx)

	got, err := repo.GetByID(ctx, uuid.Nil, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "stalled")
	assert.Zero(t, d.QueueDepth())
}
