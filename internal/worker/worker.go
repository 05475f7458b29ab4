package worker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/codealloy/alloy-api/internal/orchestrator"
	"github.com/codealloy/alloy-api/internal/repository"
)

type Config struct {
	PollInterval      time.Duration
	MaxConcurrentJobs int
	ShutdownGrace     time.Duration
}

// Worker claims pending transformation jobs from the database and hands them
// to the orchestrator. Claiming uses FOR UPDATE SKIP LOCKED, so multiple
// instances can poll the same table without double-claiming. Job executions
// run on goroutines bounded by MaxConcurrentJobs.
type Worker struct {
	cfg    Config
	jobs   repository.JobRepository
	orch   *orchestrator.Orchestrator
	sem    *semaphore.Weighted
	logger zerolog.Logger

	wg sync.WaitGroup
}

func New(cfg Config, jobs repository.JobRepository, orch *orchestrator.Orchestrator, logger zerolog.Logger) *Worker {
	return &Worker{
		cfg:    cfg,
		jobs:   jobs,
		orch:   orch,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		logger: logger.With().Str("component", "worker").Logger(),
	}
}

// Start polls for pending jobs until ctx is cancelled, then drains running
// executions for at most the configured grace period.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("max_concurrent_jobs", w.cfg.MaxConcurrentJobs).
		Msg("Worker started, polling for jobs")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case <-ticker.C:
			if err := w.claimAndRun(ctx); err != nil {
				w.logger.Error().Err(err).Msg("Job claim failed")
			}
		}
	}
}

// claimAndRun drains the pending queue up to the concurrency bound. A nil
// claim means no pending job exists; the loop then waits for the next tick.
func (w *Worker) claimAndRun(ctx context.Context) error {
	for {
		if !w.sem.TryAcquire(1) {
			return nil // all execution slots busy
		}

		job, err := w.jobs.ClaimNextPendingJob(ctx)
		if err != nil {
			w.sem.Release(1)
			return errors.Wrap(err, "claim next pending job")
		}
		if job == nil {
			w.sem.Release(1)
			return nil
		}

		// Shutdown stops claiming, not executions already in flight; those
		// get the drain grace period instead.
		runCtx := context.WithoutCancel(ctx)

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer w.sem.Release(1)
			w.orch.Execute(runCtx, job)
		}()
	}
}

// drain waits for running executions to finish, bounded by ShutdownGrace.
// Executions that outlive the grace period keep their running status and are
// left for operator reconciliation.
func (w *Worker) drain() {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info().Msg("Worker stopped; all executions drained")
	case <-time.After(w.cfg.ShutdownGrace):
		w.logger.Warn().Dur("grace", w.cfg.ShutdownGrace).Msg("Worker stopped with executions still running")
	}
}
