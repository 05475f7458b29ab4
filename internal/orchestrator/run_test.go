package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codealloy/alloy-api/internal/models"
	"github.com/codealloy/alloy-api/internal/repository"
)

// fakeJobRepo is an in-memory repository.JobRepository with the same update
// guards as the SQL implementation.
type fakeJobRepo struct {
	mu      sync.Mutex
	job     models.TransformationJob
	results []models.FileTransformationResult
}

func newFakeJobRepo(job models.TransformationJob) *fakeJobRepo {
	return &fakeJobRepo{job: job}
}

func (f *fakeJobRepo) CreateJob(job models.TransformationJob) (models.TransformationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.job = job
	return job, nil
}

func (f *fakeJobRepo) GetJob(jobID string) (models.TransformationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if jobID != f.job.ID {
		return models.TransformationJob{}, repository.ErrNotFound
	}
	return f.job, nil
}

func (f *fakeJobRepo) ListJobs(status string, limit, offset int) ([]models.TransformationJob, error) {
	return []models.TransformationJob{f.job}, nil
}

func (f *fakeJobRepo) ClaimNextPendingJob(ctx context.Context) (*models.TransformationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.job.Status != models.JobStatusPending {
		return nil, nil
	}
	f.job.Status = models.JobStatusRunning
	claimed := f.job
	return &claimed, nil
}

func (f *fakeJobRepo) ApplyFileResult(jobID string, res models.FileTransformationResult) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.job.Status != models.JobStatusRunning && f.job.Status != models.JobStatusCancelled {
		return false, nil
	}
	f.job.ProcessedFiles++
	if res.Status.Successful() {
		f.job.SuccessfulTransformations++
	} else {
		f.job.FailedTransformations++
	}
	f.results = append(f.results, res)
	return true, nil
}

func (f *fakeJobRepo) SetJobCompleted(jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.job.Status != models.JobStatusRunning {
		return false, nil
	}
	f.job.Status = models.JobStatusCompleted
	return true, nil
}

func (f *fakeJobRepo) SetJobFailed(jobID string, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if models.IsTerminal(f.job.Status) {
		return nil
	}
	f.job.Status = models.JobStatusFailed
	f.job.ErrorMessage = &errorMessage
	return nil
}

func (f *fakeJobRepo) RequestCancel(jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if jobID != f.job.ID || models.IsTerminal(f.job.Status) {
		return false, nil
	}
	f.job.Status = models.JobStatusCancelled
	f.job.CancelRequested = true
	return true, nil
}

func (f *fakeJobRepo) IsCancelRequested(jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.job.CancelRequested, nil
}

func (f *fakeJobRepo) ListResults(jobID string, limit, offset int) ([]models.FileTransformationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.FileTransformationResult(nil), f.results...), nil
}

func (f *fakeJobRepo) GetStats() (models.TransformationStat, error) {
	return models.TransformationStat{}, nil
}

func (f *fakeJobRepo) snapshot() models.TransformationJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.job
}

// fakeEventRepo collects recorded events.
type fakeEventRepo struct {
	mu     sync.Mutex
	events []models.JobEventType
}

func (f *fakeEventRepo) Create(ctx context.Context, params repository.CreateEventParams) (models.JobEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, params.Type)
	return models.JobEvent{JobID: params.JobID, Type: params.Type}, nil
}

func (f *fakeEventRepo) ListByJob(ctx context.Context, jobID string, limit int) ([]models.JobEvent, error) {
	return nil, nil
}

func (f *fakeEventRepo) types() []models.JobEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.JobEventType(nil), f.events...)
}

func runningJob(batchSize int, paths ...string) models.TransformationJob {
	job := *coordinatorJob(batchSize, paths...)
	job.Status = models.JobStatusRunning
	job.RepoID = "repo-1"
	job.RepoURL = "https://example.com/repo.git"
	job.Branch = "main"
	return job
}

func newTestOrchestrator(repo *fakeJobRepo, events *fakeEventRepo, ws *stubWorkspace, tr fileTransformer) *Orchestrator {
	coordinator := NewCoordinator(tr, &stubSizer{}, zerolog.Nop())
	recorder := NewEventRecorder(events, zerolog.Nop())
	return New(repo, recorder, ws, coordinator, nil, false, zerolog.Nop())
}

func TestOrchestrator_CompletesJobWhenAllFilesResolve(t *testing.T) {
	job := runningJob(2, "a.py", "b.py", "c.py")
	repo := newFakeJobRepo(job)
	events := &fakeEventRepo{}
	ws := newStubWorkspace(nil)
	orch := newTestOrchestrator(repo, events, ws, &stubTransformer{})

	orch.Execute(context.Background(), &job)

	final := repo.snapshot()
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 3, final.ProcessedFiles)
	assert.Equal(t, 3, final.SuccessfulTransformations)
	assert.Equal(t, 0, final.FailedTransformations)
	assert.Contains(t, events.types(), models.EventJobStarted)
	assert.Contains(t, events.types(), models.EventJobCompleted)
	assert.Contains(t, events.types(), models.EventBatchCompleted)
	assert.Equal(t, []string{"job-1"}, ws.cleanedUp)
}

func TestOrchestrator_FileFailuresDoNotFailTheJob(t *testing.T) {
	job := runningJob(10, "a.py", "b.py")
	repo := newFakeJobRepo(job)
	events := &fakeEventRepo{}
	tr := &stubTransformer{fixed: models.FileFailed}
	orch := newTestOrchestrator(repo, events, newStubWorkspace(nil), tr)

	orch.Execute(context.Background(), &job)

	final := repo.snapshot()
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 2, final.ProcessedFiles)
	assert.Equal(t, 0, final.SuccessfulTransformations)
	assert.Equal(t, 2, final.FailedTransformations)
}

func TestOrchestrator_WorkspaceSetupFailureFailsJob(t *testing.T) {
	job := runningJob(10, "a.py", "b.py")
	repo := newFakeJobRepo(job)
	events := &fakeEventRepo{}
	ws := newStubWorkspace(nil)
	ws.copyErr = fmt.Errorf("disk full")
	orch := newTestOrchestrator(repo, events, ws, &stubTransformer{})

	orch.Execute(context.Background(), &job)

	final := repo.snapshot()
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Equal(t, 0, final.ProcessedFiles)
	require.NotNil(t, final.ErrorMessage)
	assert.Contains(t, *final.ErrorMessage, "working copy")
	assert.Contains(t, events.types(), models.EventJobFailed)
	assert.NotContains(t, events.types(), models.EventJobCompleted)
}

func TestOrchestrator_CancelMidRunRecordsInFlightResults(t *testing.T) {
	job := runningJob(1, "a.py", "b.py", "c.py")
	repo := newFakeJobRepo(job)
	events := &fakeEventRepo{}
	ws := newStubWorkspace(nil)

	tr := &stubTransformer{}
	coordinator := NewCoordinator(tr, &stubSizer{}, zerolog.Nop())
	recorder := NewEventRecorder(events, zerolog.Nop())
	orch := New(repo, recorder, ws, coordinator, nil, false, zerolog.Nop())

	// Cancel while the first file is in flight: its result still lands, the
	// remaining batches never start.
	tr.hook = func(models.TargetFile) {
		_, err := orch.Cancel(context.Background(), job.ID)
		require.NoError(t, err)
	}

	orch.Execute(context.Background(), &job)

	final := repo.snapshot()
	assert.Equal(t, models.JobStatusCancelled, final.Status)
	assert.Equal(t, 1, final.ProcessedFiles)
	assert.Less(t, final.ProcessedFiles, final.TotalFiles)
	assert.Contains(t, events.types(), models.EventJobCancelled)
	assert.NotContains(t, events.types(), models.EventJobCompleted)
}

func TestOrchestrator_CancelIsIdempotentOnTerminalJobs(t *testing.T) {
	job := runningJob(1, "a.py")
	job.Status = models.JobStatusCompleted
	repo := newFakeJobRepo(job)
	orch := newTestOrchestrator(repo, &fakeEventRepo{}, newStubWorkspace(nil), &stubTransformer{})

	status, err := orch.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, status, "terminal jobs report their status unchanged")

	status, err = orch.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, status)
}

func TestOrchestrator_CancelUnknownJob(t *testing.T) {
	repo := newFakeJobRepo(runningJob(1, "a.py"))
	orch := newTestOrchestrator(repo, &fakeEventRepo{}, newStubWorkspace(nil), &stubTransformer{})

	_, err := orch.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestOrchestrator_CancelPendingJob(t *testing.T) {
	job := runningJob(1, "a.py")
	job.Status = models.JobStatusPending
	repo := newFakeJobRepo(job)
	orch := newTestOrchestrator(repo, &fakeEventRepo{}, newStubWorkspace(nil), &stubTransformer{})

	status, err := orch.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, status)

	// A cancelled pending job is never claimed.
	claimed, err := repo.ClaimNextPendingJob(context.Background())
	require.NoError(t, err)
	assert.Nil(t, claimed)
}
