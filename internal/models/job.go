package models

import (
	"encoding/json"
	"time"
)

// TargetFile is one entry of a job's immutable target set.
type TargetFile struct {
	Path     string `json:"path"`
	Language string `json:"language"`
}

type TransformationJob struct {
	ID                string             `json:"job_id" db:"id"`
	RepoID            string             `json:"repo_id" db:"repo_id"`
	RepoURL           string             `json:"repo_url" db:"repo_url"`
	Branch            string             `json:"branch" db:"branch"`
	Type              TransformationType `json:"transformation_type" db:"transformation_type"`
	VerificationLevel VerificationLevel  `json:"verification_level" db:"verification_level"`
	SafeMode          bool               `json:"safe_mode" db:"safe_mode"`
	BatchSize         int                `json:"batch_size" db:"batch_size"`
	MaxFileSizeKB     int                `json:"max_file_size_kb" db:"max_file_size_kb"`

	// Per-tier model overrides; nil means use the server default for the
	// tier, empty string means the tier is unconfigured for this job.
	PreferredModel   *string `json:"preferred_model" db:"preferred_model"`
	FallbackModel    *string `json:"fallback_model" db:"fallback_model"`
	SpecializedModel *string `json:"specialized_model" db:"specialized_model"`

	TargetFiles []TargetFile `json:"target_files" db:"target_files"`

	Status                    JobStatus `json:"status" db:"status"`
	TotalFiles                int       `json:"total_files" db:"total_files"`
	ProcessedFiles            int       `json:"processed_files" db:"processed_files"`
	SuccessfulTransformations int       `json:"successful_transformations" db:"successful_transformations"`
	FailedTransformations     int       `json:"failed_transformations" db:"failed_transformations"`

	ErrorMessage    *string `json:"error_message" db:"error_message"`
	CancelRequested bool    `json:"-" db:"cancel_requested"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
}

type FileTransformationResult struct {
	ID             string         `json:"id" db:"id"`
	JobID          string         `json:"job_id" db:"job_id"`
	FilePath       string         `json:"file_path" db:"file_path"`
	Language       string         `json:"language" db:"language"`
	Status         FileOutcome    `json:"status" db:"status"`
	ChangesSummary *string        `json:"changes_summary" db:"changes_summary"`
	Error          *string        `json:"error" db:"error"`
	Metrics        *ChangeMetrics `json:"metrics" db:"metrics"`
	Diagnostics    []string       `json:"diagnostics" db:"diagnostics"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// BasicMetrics describes one version of a file's content.
type BasicMetrics struct {
	TotalLines        int     `json:"total_lines"`
	NonEmptyLines     int     `json:"non_empty_lines"`
	Characters        int     `json:"characters"`
	AverageLineLength float64 `json:"average_line_length"`
}

// ChangeMetrics compares the accepted content against the original.
type ChangeMetrics struct {
	Before                         BasicMetrics `json:"before"`
	After                          BasicMetrics `json:"after"`
	LineCountChangePercentage      float64      `json:"line_count_change_percentage"`
	CharacterCountChangePercentage float64      `json:"character_count_change_percentage"`
	IsSmaller                      bool         `json:"is_smaller"`
}

type JobEventType string

const (
	EventJobCreated     JobEventType = "created"
	EventJobStarted     JobEventType = "started"
	EventBatchCompleted JobEventType = "batch_completed"
	EventJobCompleted   JobEventType = "completed"
	EventJobFailed      JobEventType = "failed"
	EventJobCancelled   JobEventType = "cancelled"
)

type JobEvent struct {
	ID        string          `json:"id" db:"id"`
	JobID     string          `json:"job_id" db:"job_id"`
	Type      JobEventType    `json:"type" db:"type"`
	Detail    json.RawMessage `json:"detail" db:"detail"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
