package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codealloy/alloy-api/internal/models"
)

var ErrNotFound = errors.New("job not found")

type JobRepository interface {
	CreateJob(job models.TransformationJob) (models.TransformationJob, error)
	GetJob(jobID string) (models.TransformationJob, error)
	ListJobs(status string, limit, offset int) ([]models.TransformationJob, error)

	// ClaimNextPendingJob flips the oldest pending job to running and returns
	// it. Returns nil when no pending job exists.
	ClaimNextPendingJob(ctx context.Context) (*models.TransformationJob, error)

	// ApplyFileResult records one resolved file and bumps the job counters in
	// a single transaction. Returns false when the job no longer accepts
	// updates (completed or failed).
	ApplyFileResult(jobID string, res models.FileTransformationResult) (bool, error)

	// SetJobCompleted transitions running → completed. Returns false when the
	// job is not running anymore.
	SetJobCompleted(jobID string) (bool, error)
	SetJobFailed(jobID string, errorMessage string) error

	// RequestCancel flips a non-terminal job to cancelled and sets the cancel
	// flag. Returns false when the job was already terminal or missing.
	RequestCancel(jobID string) (bool, error)
	IsCancelRequested(jobID string) (bool, error)

	ListResults(jobID string, limit, offset int) ([]models.FileTransformationResult, error)
	GetStats() (models.TransformationStat, error)
}

type jobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) JobRepository {
	return &jobRepository{db: db}
}

const jobColumns = `
	id, repo_id, repo_url, branch, transformation_type, verification_level,
	safe_mode, batch_size, max_file_size_kb,
	preferred_model, fallback_model, specialized_model, target_files,
	status, total_files, processed_files, successful_transformations, failed_transformations,
	error_message, cancel_requested, created_at, updated_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (models.TransformationJob, error) {
	var (
		job         models.TransformationJob
		preferred   sql.NullString
		fallback    sql.NullString
		specialized sql.NullString
		targetFiles []byte
		errMsg      sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&job.ID,
		&job.RepoID,
		&job.RepoURL,
		&job.Branch,
		&job.Type,
		&job.VerificationLevel,
		&job.SafeMode,
		&job.BatchSize,
		&job.MaxFileSizeKB,
		&preferred,
		&fallback,
		&specialized,
		&targetFiles,
		&job.Status,
		&job.TotalFiles,
		&job.ProcessedFiles,
		&job.SuccessfulTransformations,
		&job.FailedTransformations,
		&errMsg,
		&job.CancelRequested,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return job, err
	}

	if preferred.Valid {
		job.PreferredModel = &preferred.String
	}
	if fallback.Valid {
		job.FallbackModel = &fallback.String
	}
	if specialized.Valid {
		job.SpecializedModel = &specialized.String
	}
	if errMsg.Valid {
		job.ErrorMessage = &errMsg.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if len(targetFiles) > 0 {
		if err := json.Unmarshal(targetFiles, &job.TargetFiles); err != nil {
			return job, fmt.Errorf("decode target files: %w", err)
		}
	}
	return job, nil
}

func (r *jobRepository) CreateJob(job models.TransformationJob) (models.TransformationJob, error) {
	targetFiles, err := json.Marshal(job.TargetFiles)
	if err != nil {
		return job, fmt.Errorf("encode target files: %w", err)
	}

	query := `
		INSERT INTO engine.transformation_jobs (
			repo_id, repo_url, branch, transformation_type, verification_level,
			safe_mode, batch_size, max_file_size_kb,
			preferred_model, fallback_model, specialized_model, target_files,
			status, total_files
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRow(query,
		job.RepoID,
		job.RepoURL,
		job.Branch,
		job.Type,
		job.VerificationLevel,
		job.SafeMode,
		job.BatchSize,
		job.MaxFileSizeKB,
		job.PreferredModel,
		job.FallbackModel,
		job.SpecializedModel,
		targetFiles,
		job.Status,
		job.TotalFiles,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)

	return job, err
}

func (r *jobRepository) GetJob(jobID string) (models.TransformationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM engine.transformation_jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRow(query, jobID))
	if err != nil {
		if err == sql.ErrNoRows {
			return job, ErrNotFound
		}
		return job, err
	}
	return job, nil
}

func (r *jobRepository) ListJobs(status string, limit, offset int) ([]models.TransformationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM engine.transformation_jobs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
		OFFSET $3
	`
	rows, err := r.db.Query(query, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]models.TransformationJob, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRepository) ClaimNextPendingJob(ctx context.Context) (*models.TransformationJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	var jobID string
	err = tx.QueryRowContext(ctx, `
		SELECT id
		FROM engine.transformation_jobs
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`).Scan(&jobID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select pending job: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE engine.transformation_jobs
		SET status = 'running', started_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING `+jobColumns,
		jobID,
	)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return &job, nil
}

func (r *jobRepository) ApplyFileResult(jobID string, res models.FileTransformationResult) (bool, error) {
	successDelta := 0
	failureDelta := 0
	if res.Status.Successful() {
		successDelta = 1
	} else {
		failureDelta = 1
	}

	tx, err := r.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin result tx: %w", err)
	}
	defer tx.Rollback()

	// Counters move only while the job still accepts updates: running, or
	// cancelled with the final batch draining.
	updated, err := tx.Exec(`
		UPDATE engine.transformation_jobs
		SET processed_files = processed_files + 1,
		    successful_transformations = successful_transformations + $2,
		    failed_transformations = failed_transformations + $3,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('running', 'cancelled')
	`, jobID, successDelta, failureDelta)
	if err != nil {
		return false, fmt.Errorf("update job counters: %w", err)
	}
	rows, err := updated.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("counter rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	var metricsJSON, diagnosticsJSON []byte
	if res.Metrics != nil {
		if metricsJSON, err = json.Marshal(res.Metrics); err != nil {
			return false, fmt.Errorf("encode result metrics: %w", err)
		}
	}
	if len(res.Diagnostics) > 0 {
		if diagnosticsJSON, err = json.Marshal(res.Diagnostics); err != nil {
			return false, fmt.Errorf("encode result diagnostics: %w", err)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO engine.file_results (job_id, file_path, language, status, changes_summary, error, metrics, diagnostics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, jobID, res.FilePath, res.Language, res.Status, res.ChangesSummary, res.Error, metricsJSON, diagnosticsJSON)
	if err != nil {
		return false, fmt.Errorf("insert file result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit result tx: %w", err)
	}
	return true, nil
}

func (r *jobRepository) SetJobCompleted(jobID string) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE engine.transformation_jobs
		SET status = 'completed', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`, jobID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *jobRepository) SetJobFailed(jobID string, errorMessage string) error {
	_, err := r.db.Exec(`
		UPDATE engine.transformation_jobs
		SET status = 'failed', error_message = NULLIF($2, ''), completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')
	`, jobID, errorMessage)
	return err
}

func (r *jobRepository) RequestCancel(jobID string) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE engine.transformation_jobs
		SET cancel_requested = TRUE, status = 'cancelled', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')
	`, jobID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *jobRepository) IsCancelRequested(jobID string) (bool, error) {
	var cancelRequested bool
	err := r.db.QueryRow(`SELECT cancel_requested FROM engine.transformation_jobs WHERE id = $1`, jobID).Scan(&cancelRequested)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, ErrNotFound
		}
		return false, err
	}
	return cancelRequested, nil
}

func (r *jobRepository) ListResults(jobID string, limit, offset int) ([]models.FileTransformationResult, error) {
	query := `
		SELECT id, job_id, file_path, language, status, changes_summary, error, metrics, diagnostics, created_at
		FROM engine.file_results
		WHERE job_id = $1
		ORDER BY created_at
		LIMIT $2
		OFFSET $3
	`
	rows, err := r.db.Query(query, jobID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]models.FileTransformationResult, 0, limit)
	for rows.Next() {
		var (
			res             models.FileTransformationResult
			changesSummary  sql.NullString
			errMsg          sql.NullString
			metricsJSON     []byte
			diagnosticsJSON []byte
		)
		if err := rows.Scan(
			&res.ID,
			&res.JobID,
			&res.FilePath,
			&res.Language,
			&res.Status,
			&changesSummary,
			&errMsg,
			&metricsJSON,
			&diagnosticsJSON,
			&res.CreatedAt,
		); err != nil {
			return nil, err
		}
		if changesSummary.Valid {
			res.ChangesSummary = &changesSummary.String
		}
		if errMsg.Valid {
			res.Error = &errMsg.String
		}
		if len(metricsJSON) > 0 {
			if err := json.Unmarshal(metricsJSON, &res.Metrics); err != nil {
				return nil, fmt.Errorf("decode result metrics: %w", err)
			}
		}
		if len(diagnosticsJSON) > 0 {
			if err := json.Unmarshal(diagnosticsJSON, &res.Diagnostics); err != nil {
				return nil, fmt.Errorf("decode result diagnostics: %w", err)
			}
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *jobRepository) GetStats() (models.TransformationStat, error) {
	const totalQuery = `
		SELECT
			COALESCE(COUNT(*), 0) AS total,
			COALESCE(SUM((status = 'pending')::int), 0)   AS pending,
			COALESCE(SUM((status = 'running')::int), 0)   AS running,
			COALESCE(SUM((status = 'completed')::int), 0) AS completed,
			COALESCE(SUM((status = 'failed')::int), 0)    AS failed,
			COALESCE(SUM((status = 'cancelled')::int), 0) AS cancelled,
			COALESCE(SUM(processed_files), 0)             AS files_processed,
			COALESCE(SUM(successful_transformations), 0)  AS files_succeeded
		FROM engine.transformation_jobs;
	`
	var stats models.TransformationStat
	row := r.db.QueryRow(totalQuery)
	if err := row.Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Completed,
		&stats.Failed,
		&stats.Cancelled,
		&stats.FilesProcessed,
		&stats.FilesSucceeded,
	); err != nil {
		return models.TransformationStat{}, fmt.Errorf("GetStats total scan error: %w", err)
	}

	terminal := stats.Completed + stats.Failed + stats.Cancelled
	if terminal > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(terminal) * 100.0
	}

	const typeQuery = `
		SELECT
			transformation_type,
			COALESCE(COUNT(*), 0) AS total,
			COALESCE(SUM((status = 'completed')::int), 0) AS completed,
			COALESCE(SUM((status = 'failed')::int), 0)    AS failed
		FROM engine.transformation_jobs
		GROUP BY transformation_type
		ORDER BY transformation_type;
	`
	rows, err := r.db.Query(typeQuery)
	if err != nil {
		return models.TransformationStat{}, fmt.Errorf("GetStats type query error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ts models.TransformationTypeStat
		if err := rows.Scan(&ts.Type, &ts.Total, &ts.Completed, &ts.Failed); err != nil {
			return models.TransformationStat{}, fmt.Errorf("GetStats type scan error: %w", err)
		}
		stats.ByType = append(stats.ByType, ts)
	}
	if err := rows.Err(); err != nil {
		return models.TransformationStat{}, err
	}

	return stats, nil
}
