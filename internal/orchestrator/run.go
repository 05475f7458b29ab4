package orchestrator

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/codealloy/alloy-api/internal/clients"
	"github.com/codealloy/alloy-api/internal/metrics"
	"github.com/codealloy/alloy-api/internal/models"
	"github.com/codealloy/alloy-api/internal/repository"
	"github.com/codealloy/alloy-api/internal/workspace"
)

// Orchestrator owns the job state machine. It executes claimed jobs through
// the Batch Coordinator, applies counter updates, drives terminal
// transitions, and serves cancellation. A registry of in-process runs gives
// cancellation a fast path to executing jobs; the persisted cancel flag
// covers jobs between batches.
type Orchestrator struct {
	jobs        repository.JobRepository
	events      *EventRecorder
	workspace   workspace.Manager
	coordinator *Coordinator
	analyzer    *clients.AnalyzerClient
	keepCopies  bool
	logger      zerolog.Logger

	mu     sync.Mutex
	active map[string]*run
}

// run tracks in-memory progress of one executing job.
type run struct {
	mu        sync.Mutex
	cancelled bool
	processed int
	succeeded int
	failed    int
}

func (r *run) markCancelled() {
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
}

func (r *run) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func New(
	jobs repository.JobRepository,
	events *EventRecorder,
	ws workspace.Manager,
	coordinator *Coordinator,
	analyzer *clients.AnalyzerClient,
	keepWorkingCopies bool,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		jobs:        jobs,
		events:      events,
		workspace:   ws,
		coordinator: coordinator,
		analyzer:    analyzer,
		keepCopies:  keepWorkingCopies,
		logger:      logger.With().Str("component", "orchestrator").Logger(),
		active:      make(map[string]*run),
	}
}

// Execute runs one claimed job to a terminal state. The job must already be
// in running status with its start timestamp set (the worker's claim does
// both). Workspace setup failure is the only job-fatal error; per-file
// failures are absorbed into results.
func (o *Orchestrator) Execute(ctx context.Context, job *models.TransformationJob) {
	logger := o.logger.With().Str("job_id", job.ID).Logger()
	logger.Info().
		Str("repo_id", job.RepoID).
		Str("type", string(job.Type)).
		Int("total_files", job.TotalFiles).
		Msg("Job execution started")

	r := o.register(job.ID)
	defer o.unregister(job.ID)

	o.events.Record(ctx, job.ID, models.EventJobStarted, map[string]interface{}{
		"total_files": job.TotalFiles,
		"batch_size":  job.BatchSize,
	})

	if _, err := o.workspace.CloneOrUpdate(ctx, job.RepoURL, job.RepoID, job.Branch); err != nil {
		o.fail(ctx, job, "prepare repository: "+err.Error())
		return
	}
	copyPath, err := o.workspace.CreateWorkingCopy(ctx, job.RepoID, job.ID)
	if err != nil {
		o.fail(ctx, job, "create working copy: "+err.Error())
		return
	}
	defer o.cleanup(job.ID, logger)

	o.coordinator.Process(ctx, job, copyPath,
		func() bool { return o.checkCancelled(job.ID, r) },
		func(res models.FileTransformationResult) { o.applyResult(ctx, job, r, res) },
		func(index, size int) {
			o.events.Record(ctx, job.ID, models.EventBatchCompleted, map[string]interface{}{
				"batch_index": index,
				"batch_size":  size,
			})
		},
	)

	r.mu.Lock()
	processed, succeeded, failed := r.processed, r.succeeded, r.failed
	r.mu.Unlock()
	logger.Info().
		Int("processed", processed).
		Int("succeeded", succeeded).
		Int("failed", failed).
		Bool("cancelled", r.isCancelled()).
		Msg("Job execution finished")

	if o.analyzer != nil {
		err := o.analyzer.UpdateMetrics(ctx, job.RepoID, map[string]interface{}{
			"job_id":          job.ID,
			"type":            job.Type,
			"processed_files": processed,
			"successful":      succeeded,
			"failed":          failed,
		})
		if err != nil {
			logger.Debug().Err(err).Msg("Failed to push run metrics to analyzer")
		}
	}
}

// applyResult feeds one resolved file into the job counters. The repository
// guards against late updates: a terminal completed/failed job discards the
// result. The completed transition fires exactly once, when the last file of
// a still-running job lands.
func (o *Orchestrator) applyResult(ctx context.Context, job *models.TransformationJob, r *run, res models.FileTransformationResult) {
	accepted, err := o.jobs.ApplyFileResult(job.ID, res)
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Str("file", res.FilePath).Msg("Failed to persist file result")
		return
	}
	if !accepted {
		o.logger.Warn().Str("job_id", job.ID).Str("file", res.FilePath).Msg("Discarded late file result for terminal job")
		return
	}

	r.mu.Lock()
	r.processed++
	if res.Status.Successful() {
		r.succeeded++
	} else {
		r.failed++
	}
	processed := r.processed
	r.mu.Unlock()

	if processed == job.TotalFiles {
		completed, err := o.jobs.SetJobCompleted(job.ID)
		if err != nil {
			o.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to complete job")
			return
		}
		if completed {
			o.events.Record(ctx, job.ID, models.EventJobCompleted, map[string]interface{}{
				"processed_files": processed,
				"successful":      r.succeeded,
				"failed":          r.failed,
			})
		}
	}
}

// Cancel transitions a non-terminal job to cancelled. In-flight attempts of
// an executing job finish and their results are still recorded; no further
// batch is dispatched. Cancelling an already-terminal job is a no-op that
// reports the terminal status.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (models.JobStatus, error) {
	flipped, err := o.jobs.RequestCancel(jobID)
	if err != nil {
		return "", err
	}
	if !flipped {
		job, err := o.jobs.GetJob(jobID)
		if err != nil {
			return "", err
		}
		return job.Status, nil
	}

	o.mu.Lock()
	if r, ok := o.active[jobID]; ok {
		r.markCancelled()
	}
	o.mu.Unlock()

	o.events.Record(ctx, jobID, models.EventJobCancelled, nil)
	o.logger.Info().Str("job_id", jobID).Msg("Job cancelled")
	return models.JobStatusCancelled, nil
}

// checkCancelled is polled at batch boundaries. The registry flag catches
// in-process cancellations immediately; the persisted flag covers requests
// that raced the registry.
func (o *Orchestrator) checkCancelled(jobID string, r *run) bool {
	if r.isCancelled() {
		return true
	}
	requested, err := o.jobs.IsCancelRequested(jobID)
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", jobID).Msg("Cancel flag lookup failed")
		return false
	}
	if requested {
		r.markCancelled()
	}
	return requested
}

func (o *Orchestrator) fail(ctx context.Context, job *models.TransformationJob, reason string) {
	metrics.RecordError(string(KindIO))
	if err := o.jobs.SetJobFailed(job.ID, reason); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job as failed")
	}
	o.events.Record(ctx, job.ID, models.EventJobFailed, map[string]interface{}{"error": reason})
	o.logger.Error().Str("job_id", job.ID).Str("reason", reason).Msg("Job failed during workspace setup")
}

func (o *Orchestrator) cleanup(jobID string, logger zerolog.Logger) {
	if o.keepCopies {
		return
	}
	if err := o.workspace.Cleanup(jobID); err != nil {
		logger.Warn().Err(err).Msg("Failed to remove working copy")
	}
}

func (o *Orchestrator) register(jobID string) *run {
	r := &run{}
	o.mu.Lock()
	o.active[jobID] = r
	o.mu.Unlock()
	return r
}

func (o *Orchestrator) unregister(jobID string) {
	o.mu.Lock()
	delete(o.active, jobID)
	o.mu.Unlock()
}
