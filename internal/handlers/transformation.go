package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/codealloy/alloy-api/internal/models"
	"github.com/codealloy/alloy-api/internal/repository"
	"github.com/codealloy/alloy-api/internal/workspace"
)

// Canceller transitions a job to cancelled, or reports its terminal status
// when the transition is a no-op.
type Canceller interface {
	Cancel(ctx context.Context, jobID string) (models.JobStatus, error)
}

type TransformationHandler struct {
	jobs      repository.JobRepository
	events    repository.EventRepository
	canceller Canceller
	logger    zerolog.Logger
}

func NewTransformationHandler(jobs repository.JobRepository, events repository.EventRepository, canceller Canceller, logger zerolog.Logger) *TransformationHandler {
	return &TransformationHandler{
		jobs:      jobs,
		events:    events,
		canceller: canceller,
		logger:    logger.With().Str("component", "transformation_handler").Logger(),
	}
}

func (h *TransformationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.TransformationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job, err := h.createJob(r.Context(), req)
	if err != nil {
		h.logger.Error().Err(err).Str("repo_id", req.RepoID).Msg("Failed to create transformation job")
		http.Error(w, "Failed to create transformation job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(job)
}

// createJob materializes a validated request as a pending job. The webhook
// receiver shares this path.
func (h *TransformationHandler) createJob(ctx context.Context, req models.TransformationRequest) (models.TransformationJob, error) {
	targets := make([]models.TargetFile, 0, len(req.FilePaths))
	for _, p := range req.FilePaths {
		lang := workspace.DetectLanguage(p)
		if lang == "" {
			lang = "unknown"
		}
		targets = append(targets, models.TargetFile{Path: p, Language: lang})
	}

	job := models.TransformationJob{
		RepoID:            req.RepoID,
		RepoURL:           req.RepoURL,
		Branch:            req.Branch,
		Type:              models.TransformationType(req.Type),
		VerificationLevel: models.VerificationLevel(req.VerificationLevel),
		SafeMode:          *req.SafeMode,
		BatchSize:         *req.BatchSize,
		MaxFileSizeKB:     *req.MaxFileSizeKB,
		PreferredModel:    req.PreferredModel,
		FallbackModel:     req.FallbackModel,
		SpecializedModel:  req.SpecializedModel,
		TargetFiles:       targets,
		Status:            models.JobStatusPending,
		TotalFiles:        len(targets),
	}

	created, err := h.jobs.CreateJob(job)
	if err != nil {
		return models.TransformationJob{}, err
	}

	if _, err := h.events.Create(ctx, repository.CreateEventParams{
		JobID:  created.ID,
		Type:   models.EventJobCreated,
		Detail: map[string]interface{}{"total_files": created.TotalFiles},
	}); err != nil {
		h.logger.Warn().Err(err).Str("job_id", created.ID).Msg("Failed to record created event")
	}
	return created, nil
}

func (h *TransformationHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit, offset := pagination(r, 20, 0)

	jobs, err := h.jobs.ListJobs(status, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		http.Error(w, "Failed to list jobs", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"jobs": jobs, "count": len(jobs)})
}

func (h *TransformationHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	job, err := h.jobs.GetJob(jobID)
	if err != nil {
		if err == repository.ErrNotFound {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to fetch job")
		http.Error(w, "Failed to fetch job", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (h *TransformationHandler) Results(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	job, err := h.jobs.GetJob(jobID)
	if err != nil {
		if err == repository.ErrNotFound {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to fetch job")
		http.Error(w, "Failed to fetch job", http.StatusInternalServerError)
		return
	}
	if !models.IsTerminal(job.Status) {
		http.Error(w, "Results are available once the job is terminal; current status: "+string(job.Status), http.StatusConflict)
		return
	}

	limit, skip := pagination(r, 100, 0)
	if v := r.URL.Query().Get("skip"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			skip = n
		}
	}

	results, err := h.jobs.ListResults(jobID, limit, skip)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to list results")
		http.Error(w, "Failed to list results", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"job_id":  jobID,
		"status":  job.Status,
		"results": results,
		"count":   len(results),
	})
}

func (h *TransformationHandler) Events(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	limit, _ := pagination(r, 100, 0)

	events, err := h.events.ListByJob(r.Context(), jobID, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to list job events")
		http.Error(w, "Failed to list job events", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"job_id": jobID, "events": events})
}

func (h *TransformationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	status, err := h.canceller.Cancel(r.Context(), jobID)
	if err != nil {
		if err == repository.ErrNotFound {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to cancel job")
		http.Error(w, "Failed to cancel job", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"job_id": jobID, "status": status})
}

var typeDescriptions = map[models.TransformationType]string{
	models.TransformRefactor:    "Improve code readability and maintainability",
	models.TransformOptimize:    "Enhance performance of the code",
	models.TransformPrune:       "Remove unused code",
	models.TransformMerge:       "Consolidate related functionality",
	models.TransformModernize:   "Update to newer language patterns",
	models.TransformFixSecurity: "Address potential security vulnerabilities",
}

var levelDescriptions = map[models.VerificationLevel]string{
	models.VerificationNone:     "No verification performed",
	models.VerificationBasic:    "Basic syntax check only",
	models.VerificationStandard: "Syntax check and run tests if available",
	models.VerificationStrict:   "Comprehensive verification including tests",
}

func (h *TransformationHandler) Types(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"types":        models.TransformationTypes(),
		"descriptions": typeDescriptions,
	})
}

func (h *TransformationHandler) VerificationLevels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"levels":       models.VerificationLevels(),
		"descriptions": levelDescriptions,
	})
}

func (h *TransformationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.GetStats()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to aggregate stats")
		http.Error(w, "Failed to aggregate stats", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// pagination parses limit/offset query parameters with defaults.
func pagination(r *http.Request, defaultLimit, defaultOffset int) (int, int) {
	limit, offset := defaultLimit, defaultOffset
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
