package orchestrator

import (
	"strings"

	"github.com/codealloy/alloy-api/internal/config"
	"github.com/codealloy/alloy-api/internal/models"
)

// Attempt ceiling per file: one initial tier plus at most one fallback.
const maxAttemptsPerFile = 2

// Files above this line count are routed to the specialized tier directly.
const specializedLineThreshold = 1000

// ModelConfig is the per-job view of the three model tiers after merging job
// overrides onto the process-wide defaults. An empty string means the tier is
// unconfigured and must be skipped.
type ModelConfig struct {
	Preferred   string
	Fallback    string
	Specialized string
}

// ResolveModels merges a job's model overrides onto the server defaults. A
// nil override keeps the default; a present override replaces it, and an
// explicitly empty override clears the tier.
func ResolveModels(job *models.TransformationJob, defaults config.ModelsConfig) ModelConfig {
	mc := ModelConfig{
		Preferred:   defaults.Preferred,
		Fallback:    defaults.Fallback,
		Specialized: defaults.Specialized,
	}
	if job.PreferredModel != nil {
		mc.Preferred = strings.TrimSpace(*job.PreferredModel)
	}
	if job.FallbackModel != nil {
		mc.Fallback = strings.TrimSpace(*job.FallbackModel)
	}
	if job.SpecializedModel != nil {
		mc.Specialized = strings.TrimSpace(*job.SpecializedModel)
	}
	return mc
}

func (mc ModelConfig) modelFor(tier models.ModelTier) string {
	switch tier {
	case models.TierPreferred:
		return mc.Preferred
	case models.TierFallback:
		return mc.Fallback
	case models.TierSpecialized:
		return mc.Specialized
	}
	return ""
}

// PlannedTier is one entry of a file's attempt sequence.
type PlannedTier struct {
	Tier    models.ModelTier
	ModelID string
}

// PlanTiers computes the ordered tier sequence for one file. FIX_SECURITY
// jobs and files over the line threshold start at the specialized tier;
// everything else starts at preferred. The fallback tier follows the initial
// tier and is tried at most once. Unconfigured tiers are dropped from the
// sequence; an empty plan means no usable tier exists for this file.
func PlanTiers(t models.TransformationType, lineCount int, mc ModelConfig) []PlannedTier {
	initial := models.TierPreferred
	if t == models.TransformFixSecurity || lineCount > specializedLineThreshold {
		initial = models.TierSpecialized
	}

	plan := make([]PlannedTier, 0, maxAttemptsPerFile)
	for _, tier := range []models.ModelTier{initial, models.TierFallback} {
		if id := mc.modelFor(tier); id != "" {
			plan = append(plan, PlannedTier{Tier: tier, ModelID: id})
		}
	}
	return plan
}

func countLines(content []byte) int {
	n := 1
	for _, b := range content {
		if b == '\n' {
			n++
		}
	}
	return n
}
