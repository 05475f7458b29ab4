package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codealloy/alloy-api/internal/config"
	"github.com/codealloy/alloy-api/internal/models"
)

func allTiers() ModelConfig {
	return ModelConfig{
		Preferred:   "preferred-model",
		Fallback:    "fallback-model",
		Specialized: "specialized-model",
	}
}

func TestPlanTiers_DefaultOrder(t *testing.T) {
	for _, tt := range []models.TransformationType{
		models.TransformRefactor,
		models.TransformOptimize,
		models.TransformPrune,
		models.TransformMerge,
		models.TransformModernize,
	} {
		t.Run(string(tt), func(t *testing.T) {
			plan := PlanTiers(tt, 200, allTiers())
			require.Len(t, plan, 2)
			assert.Equal(t, models.TierPreferred, plan[0].Tier)
			assert.Equal(t, "preferred-model", plan[0].ModelID)
			assert.Equal(t, models.TierFallback, plan[1].Tier)
		})
	}
}

func TestPlanTiers_DirectEscalation(t *testing.T) {
	t.Run("fix security starts specialized", func(t *testing.T) {
		plan := PlanTiers(models.TransformFixSecurity, 10, allTiers())
		require.Len(t, plan, 2)
		assert.Equal(t, models.TierSpecialized, plan[0].Tier)
		assert.Equal(t, models.TierFallback, plan[1].Tier)
	})

	t.Run("large file starts specialized", func(t *testing.T) {
		plan := PlanTiers(models.TransformRefactor, 1001, allTiers())
		require.Len(t, plan, 2)
		assert.Equal(t, models.TierSpecialized, plan[0].Tier)
	})

	t.Run("threshold is exclusive", func(t *testing.T) {
		plan := PlanTiers(models.TransformRefactor, 1000, allTiers())
		require.Len(t, plan, 2)
		assert.Equal(t, models.TierPreferred, plan[0].Tier)
	})
}

func TestPlanTiers_AttemptCeiling(t *testing.T) {
	// The specialized tier never falls back to preferred; fallback is the
	// only second attempt and the plan never exceeds the ceiling.
	plan := PlanTiers(models.TransformFixSecurity, 5000, allTiers())
	assert.LessOrEqual(t, len(plan), maxAttemptsPerFile)
	for _, p := range plan {
		assert.NotEqual(t, models.TierPreferred, p.Tier)
	}
}

func TestPlanTiers_SkipsUnconfiguredTiers(t *testing.T) {
	t.Run("missing preferred proceeds to fallback", func(t *testing.T) {
		mc := allTiers()
		mc.Preferred = ""
		plan := PlanTiers(models.TransformRefactor, 10, mc)
		require.Len(t, plan, 1)
		assert.Equal(t, models.TierFallback, plan[0].Tier)
	})

	t.Run("missing fallback leaves single attempt", func(t *testing.T) {
		mc := allTiers()
		mc.Fallback = ""
		plan := PlanTiers(models.TransformRefactor, 10, mc)
		require.Len(t, plan, 1)
		assert.Equal(t, models.TierPreferred, plan[0].Tier)
	})

	t.Run("nothing configured yields empty plan", func(t *testing.T) {
		plan := PlanTiers(models.TransformRefactor, 10, ModelConfig{})
		assert.Empty(t, plan)
	})
}

func TestResolveModels(t *testing.T) {
	defaults := config.ModelsConfig{
		Preferred:   "default-preferred",
		Fallback:    "default-fallback",
		Specialized: "default-specialized",
	}

	t.Run("nil overrides keep defaults", func(t *testing.T) {
		mc := ResolveModels(&models.TransformationJob{}, defaults)
		assert.Equal(t, "default-preferred", mc.Preferred)
		assert.Equal(t, "default-fallback", mc.Fallback)
		assert.Equal(t, "default-specialized", mc.Specialized)
	})

	t.Run("override replaces default", func(t *testing.T) {
		custom := "job-model"
		mc := ResolveModels(&models.TransformationJob{PreferredModel: &custom}, defaults)
		assert.Equal(t, "job-model", mc.Preferred)
		assert.Equal(t, "default-fallback", mc.Fallback)
	})

	t.Run("empty override clears the tier", func(t *testing.T) {
		empty := "  "
		mc := ResolveModels(&models.TransformationJob{FallbackModel: &empty}, defaults)
		assert.Equal(t, "", mc.Fallback)
	})
}

func TestCountLines(t *testing.T) {
	assert.Equal(t, 1, countLines([]byte("no newline")))
	assert.Equal(t, 3, countLines([]byte("a\nb\nc")))
	assert.Equal(t, 1001, countLines([]byte(strings.Repeat("x\n", 1000))))
}
