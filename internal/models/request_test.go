package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() TransformationRequest {
	return TransformationRequest{
		RepoID:    "acme-billing",
		RepoURL:   "https://github.com/acme/billing.git",
		Type:      "REFACTOR",
		FilePaths: []string{"src/app.py"},
	}
}

func TestNormalizeAppliesDefaults(t *testing.T) {
	req := validRequest()
	req.Normalize()

	assert.Equal(t, DefaultBranch, req.Branch)
	assert.Equal(t, string(VerificationStandard), req.VerificationLevel)
	require.NotNil(t, req.SafeMode)
	assert.True(t, *req.SafeMode)
	require.NotNil(t, req.BatchSize)
	assert.Equal(t, DefaultBatchSize, *req.BatchSize)
	require.NotNil(t, req.MaxFileSizeKB)
	assert.Equal(t, DefaultMaxFileSizeKB, *req.MaxFileSizeKB)
}

func TestNormalizePreservesExplicitValues(t *testing.T) {
	safe := false
	batch := 25
	maxKB := 120
	req := validRequest()
	req.Branch = "develop"
	req.VerificationLevel = "strict"
	req.SafeMode = &safe
	req.BatchSize = &batch
	req.MaxFileSizeKB = &maxKB
	req.Normalize()

	assert.Equal(t, "develop", req.Branch)
	assert.Equal(t, "strict", req.VerificationLevel)
	assert.False(t, *req.SafeMode)
	assert.Equal(t, 25, *req.BatchSize)
	assert.Equal(t, 120, *req.MaxFileSizeKB)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TransformationRequest)
		wantErr string
	}{
		{"valid", func(r *TransformationRequest) {}, ""},
		{"missing repo_id", func(r *TransformationRequest) { r.RepoID = " " }, "repo_id"},
		{"missing repo_url", func(r *TransformationRequest) { r.RepoURL = "" }, "repo_url"},
		{"bad type", func(r *TransformationRequest) { r.Type = "REWRITE" }, "transformation type"},
		{"bad level", func(r *TransformationRequest) { r.VerificationLevel = "paranoid" }, "verification level"},
		{"no files", func(r *TransformationRequest) { r.FilePaths = nil }, "file_paths"},
		{"empty path", func(r *TransformationRequest) { r.FilePaths = []string{"a.py", " "} }, "empty"},
		{"duplicate path", func(r *TransformationRequest) { r.FilePaths = []string{"a.py", "a.py"} }, "duplicate"},
		{"batch too small", func(r *TransformationRequest) { n := 0; r.BatchSize = &n }, "batch_size"},
		{"batch too large", func(r *TransformationRequest) { n := 101; r.BatchSize = &n }, "batch_size"},
		{"size limit too large", func(r *TransformationRequest) { n := 501; r.MaxFileSizeKB = &n }, "max_file_size_kb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			req.Normalize()
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestParseTransformationType(t *testing.T) {
	parsed, err := ParseTransformationType("fix_security")
	require.NoError(t, err)
	assert.Equal(t, TransformFixSecurity, parsed)

	_, err = ParseTransformationType("UNKNOWN")
	assert.Error(t, err)
}

func TestParseVerificationLevel(t *testing.T) {
	parsed, err := ParseVerificationLevel("STRICT")
	require.NoError(t, err)
	assert.Equal(t, VerificationStrict, parsed)

	_, err = ParseVerificationLevel("loose")
	assert.Error(t, err)
}

func TestVerificationLevelAtLeast(t *testing.T) {
	assert.True(t, VerificationStrict.AtLeast(VerificationBasic))
	assert.True(t, VerificationStandard.AtLeast(VerificationStandard))
	assert.False(t, VerificationBasic.AtLeast(VerificationStandard))
	assert.False(t, VerificationNone.AtLeast(VerificationBasic))
}
