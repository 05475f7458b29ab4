package models

import (
	"fmt"
	"strings"
)

const (
	DefaultBranch            = "main"
	DefaultBatchSize         = 10
	DefaultMaxFileSizeKB     = 50
	MaxBatchSize             = 100
	MaxFileSizeKBLimit       = 500
	DefaultVerificationLevel = VerificationStandard
)

// TransformationRequest is the payload accepted by the API and the webhook
// receiver. Pointer fields distinguish "absent" from zero values so defaults
// can be applied in Normalize.
type TransformationRequest struct {
	RepoID            string   `json:"repo_id"`
	RepoURL           string   `json:"repo_url"`
	Branch            string   `json:"branch"`
	Type              string   `json:"transformation_type"`
	FilePaths         []string `json:"file_paths"`
	VerificationLevel string   `json:"verification_level"`
	SafeMode          *bool    `json:"safe_mode"`
	BatchSize         *int     `json:"batch_size"`
	MaxFileSizeKB     *int     `json:"max_file_size_kb"`
	PreferredModel    *string  `json:"preferred_model"`
	FallbackModel     *string  `json:"fallback_model"`
	SpecializedModel  *string  `json:"specialized_model"`
}

// Normalize fills defaults for absent fields and canonicalizes enum casing.
// Call before Validate.
func (r *TransformationRequest) Normalize() {
	r.Type = strings.ToUpper(strings.TrimSpace(r.Type))
	r.VerificationLevel = strings.ToLower(strings.TrimSpace(r.VerificationLevel))
	if strings.TrimSpace(r.Branch) == "" {
		r.Branch = DefaultBranch
	}
	if r.VerificationLevel == "" {
		r.VerificationLevel = string(DefaultVerificationLevel)
	}
	if r.SafeMode == nil {
		t := true
		r.SafeMode = &t
	}
	if r.BatchSize == nil {
		n := DefaultBatchSize
		r.BatchSize = &n
	}
	if r.MaxFileSizeKB == nil {
		n := DefaultMaxFileSizeKB
		r.MaxFileSizeKB = &n
	}
}

func (r *TransformationRequest) Validate() error {
	if strings.TrimSpace(r.RepoID) == "" {
		return fmt.Errorf("repo_id is required")
	}
	if strings.TrimSpace(r.RepoURL) == "" {
		return fmt.Errorf("repo_url is required")
	}
	if _, err := ParseTransformationType(r.Type); err != nil {
		return err
	}
	if _, err := ParseVerificationLevel(r.VerificationLevel); err != nil {
		return err
	}
	if len(r.FilePaths) == 0 {
		return fmt.Errorf("file_paths must list at least one file")
	}
	seen := make(map[string]bool, len(r.FilePaths))
	for _, p := range r.FilePaths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("file_paths must not contain empty paths")
		}
		if seen[p] {
			return fmt.Errorf("duplicate file path %q", p)
		}
		seen[p] = true
	}
	if *r.BatchSize < 1 || *r.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch_size must be between 1 and %d", MaxBatchSize)
	}
	if *r.MaxFileSizeKB < 1 || *r.MaxFileSizeKB > MaxFileSizeKBLimit {
		return fmt.Errorf("max_file_size_kb must be between 1 and %d", MaxFileSizeKBLimit)
	}
	return nil
}
