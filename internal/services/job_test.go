package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pdfconvert/convertd/internal/db"
	"github.com/pdfconvert/convertd/internal/db/models"
	"github.com/pdfconvert/convertd/internal/db/repos"
	"github.com/pdfconvert/convertd/internal/storage"
)

// fakeEnqueuer records enqueued job ids.
type fakeEnqueuer struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (f *fakeEnqueuer) Enqueue(jobID uuid.UUID, _ int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, jobID)
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

type testEnv struct {
	jobs     *JobService
	jobRepo  *repos.JobRepository
	enqueuer *fakeEnqueuer
	owner    *models.User
	admin    *models.User
	stranger *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))

	store, err := storage.NewManager(t.TempDir(), t.TempDir())
	require.NoError(t, err)

	jobRepo := repos.NewJobRepository(conn)
	userRepo := repos.NewUserRepository(conn)
	enqueuer := &fakeEnqueuer{}

	env := &testEnv{
		jobs:     NewJobService(jobRepo, repos.NewAuditRepository(conn), store, enqueuer),
		jobRepo:  jobRepo,
		enqueuer: enqueuer,
		owner:    &models.User{Email: "owner@example.com", IsActive: true},
		admin:    &models.User{Email: "admin@example.com", IsActive: true, IsAdmin: true},
		stranger: &models.User{Email: "stranger@example.com", IsActive: true},
	}
	for _, u := range []*models.User{env.owner, env.admin, env.stranger} {
		require.NoError(t, userRepo.Create(context.Background(), u))
	}
	return env
}

func submitPDF(t *testing.T, env *testEnv) *models.Job {
	t.Helper()
	job, err := env.jobs.Submit(context.Background(), env.owner, &SubmitRequest{
		Filename: "contract.pdf",
		Data:     strings.NewReader("%PDF-1.4 fake"),
	}, RequestMeta{})
	require.NoError(t, err)
	return job
}

func TestSubmitCreatesQueuedJobAndEnqueues(t *testing.T) {
	env := newTestEnv(t)
	job := submitPDF(t, env)

	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, "contract.pdf", job.InputFilename)
	assert.NotEmpty(t, job.InputPath)
	assert.Equal(t, 1, env.enqueuer.count())

	stored, err := env.jobRepo.GetByID(context.Background(), env.owner.ID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.ID)
}

func TestSubmitRejectsNonPDF(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name     string
		filename string
	}{
		{"word document", "letter.docx"},
		{"no extension", "letter"},
		{"empty name", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.jobs.Submit(context.Background(), env.owner, &SubmitRequest{
				Filename: tc.filename,
				Data:     strings.NewReader("data"),
			}, RequestMeta{})
			var validation *ValidationError
			assert.ErrorAs(t, err, &validation)
		})
	}
	assert.Zero(t, env.enqueuer.count(), "rejected submissions never reach the dispatcher")
}

func TestSubmitRejectsNegativePriority(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.jobs.Submit(context.Background(), env.owner, &SubmitRequest{
		Filename: "contract.pdf",
		Data:     strings.NewReader("data"),
		Priority: -1,
	}, RequestMeta{})
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestOwnershipScoping(t *testing.T) {
	env := newTestEnv(t)
	job := submitPDF(t, env)
	ctx := context.Background()

	_, err := env.jobs.Get(ctx, env.owner, job.ID)
	assert.NoError(t, err)

	_, err = env.jobs.Get(ctx, env.stranger, job.ID)
	assert.ErrorIs(t, err, repos.ErrNotFound, "other users see not-found, never forbidden")

	_, err = env.jobs.Get(ctx, env.admin, job.ID)
	assert.NoError(t, err, "admins see every job")

	ownerJobs, err := env.jobs.List(ctx, env.owner, nil)
	require.NoError(t, err)
	assert.Len(t, ownerJobs, 1)

	strangerJobs, err := env.jobs.List(ctx, env.stranger, nil)
	require.NoError(t, err)
	assert.Empty(t, strangerJobs)
}

func TestResultOnlyWhenCompleted(t *testing.T) {
	env := newTestEnv(t)
	job := submitPDF(t, env)
	ctx := context.Background()

	_, err := env.jobs.Result(ctx, env.owner, job.ID)
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = env.jobRepo.Transition(ctx, job.ID, models.JobStatusQueued, models.JobStatusProcessing, nil)
	require.NoError(t, err)
	_, err = env.jobRepo.Transition(ctx, job.ID, models.JobStatusProcessing, models.JobStatusCompleted,
		&repos.TransitionPatch{
			Result:    []byte(`{"pages":["text"]}`),
			Artifacts: map[string]string{"docx": "/results/out.docx"},
		})
	require.NoError(t, err)

	result, err := env.jobs.Result(ctx, env.owner, job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pages":["text"]}`, string(result))

	path, filename, err := env.jobs.Artifact(ctx, env.owner, job.ID, "docx")
	require.NoError(t, err)
	assert.Equal(t, "/results/out.docx", path)
	assert.Equal(t, "contract.docx", filename)

	_, _, err = env.jobs.Artifact(ctx, env.owner, job.ID, "pptx")
	assert.ErrorIs(t, err, ErrNoArtifact)
}

func TestResubmitFailedJob(t *testing.T) {
	env := newTestEnv(t)
	job := submitPDF(t, env)
	ctx := context.Background()

	// Resubmitting a queued job is rejected.
	_, err := env.jobs.Resubmit(ctx, env.owner, job.ID, RequestMeta{})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = env.jobRepo.Transition(ctx, job.ID, models.JobStatusQueued, models.JobStatusProcessing,
		&repos.TransitionPatch{IncrementAttempts: true})
	require.NoError(t, err)
	_, err = env.jobRepo.Transition(ctx, job.ID, models.JobStatusProcessing, models.JobStatusFailed,
		&repos.TransitionPatch{Error: "ocr engine unavailable"})
	require.NoError(t, err)

	before := env.enqueuer.count()
	resubmitted, err := env.jobs.Resubmit(ctx, env.owner, job.ID, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, job.ID, resubmitted.ID, "resubmission keeps the job id")
	assert.Equal(t, models.JobStatusQueued, resubmitted.Status)
	assert.Zero(t, resubmitted.Attempts)
	assert.Empty(t, resubmitted.Error)
	assert.Equal(t, before+1, env.enqueuer.count())

	events, err := env.jobRepo.ListEvents(ctx, job.ID, 100)
	require.NoError(t, err)
	var sawResubmit bool
	for _, e := range events {
		if e.Type == models.EventJobResubmitted {
			sawResubmit = true
		}
	}
	assert.True(t, sawResubmit, "the event log records the resubmission boundary")
}

func TestCancelRequiresVisibility(t *testing.T) {
	env := newTestEnv(t)
	job := submitPDF(t, env)
	ctx := context.Background()

	_, err := env.jobRepo.Transition(ctx, job.ID, models.JobStatusQueued, models.JobStatusProcessing, nil)
	require.NoError(t, err)

	err = env.jobs.Cancel(ctx, env.stranger, job.ID, RequestMeta{})
	assert.ErrorIs(t, err, repos.ErrNotFound)

	require.NoError(t, env.jobs.Cancel(ctx, env.owner, job.ID, RequestMeta{}))
	requested, err := env.jobRepo.IsCancelRequested(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, requested)
}
