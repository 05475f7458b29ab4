package orchestrator

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/codealloy/alloy-api/internal/models"
	"github.com/codealloy/alloy-api/internal/repository"
)

// EventRecorder appends audit events to a job's trail. Recording is
// best-effort: a persistence failure is logged and never fails the job.
type EventRecorder struct {
	repo   repository.EventRepository
	logger zerolog.Logger
}

func NewEventRecorder(repo repository.EventRepository, logger zerolog.Logger) *EventRecorder {
	return &EventRecorder{
		repo:   repo,
		logger: logger.With().Str("component", "events").Logger(),
	}
}

func (r *EventRecorder) Record(ctx context.Context, jobID string, t models.JobEventType, detail map[string]interface{}) {
	if r == nil || r.repo == nil {
		return
	}
	if _, err := r.repo.Create(ctx, repository.CreateEventParams{
		JobID:  jobID,
		Type:   t,
		Detail: detail,
	}); err != nil {
		r.logger.Warn().Err(err).Str("job_id", jobID).Str("type", string(t)).Msg("Failed to record job event")
	}
}
