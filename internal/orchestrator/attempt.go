package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/codealloy/alloy-api/internal/clients"
	"github.com/codealloy/alloy-api/internal/config"
	"github.com/codealloy/alloy-api/internal/inference"
	"github.com/codealloy/alloy-api/internal/metrics"
	"github.com/codealloy/alloy-api/internal/models"
	"github.com/codealloy/alloy-api/internal/prompt"
	"github.com/codealloy/alloy-api/internal/verify"
	"github.com/codealloy/alloy-api/internal/workspace"
)

// Attempter resolves single files to FileTransformationResults. It owns the
// per-file pipeline: read, plan tiers, invoke, compare, verify, accept or
// escalate. The working copy is written only when a candidate is accepted.
type Attempter struct {
	workspace workspace.Manager
	invoker   inference.Invoker
	verifier  verify.Verifier
	knowledge *clients.KnowledgeClient
	defaults  config.ModelsConfig
	logger    zerolog.Logger
}

func NewAttempter(
	ws workspace.Manager,
	invoker inference.Invoker,
	verifier verify.Verifier,
	knowledge *clients.KnowledgeClient,
	defaults config.ModelsConfig,
	logger zerolog.Logger,
) *Attempter {
	return &Attempter{
		workspace: ws,
		invoker:   invoker,
		verifier:  verifier,
		knowledge: knowledge,
		defaults:  defaults,
		logger:    logger.With().Str("component", "attempt").Logger(),
	}
}

// Transform drives one file to resolution. Every failure mode is captured in
// the returned result; errors never cross the file boundary.
func (a *Attempter) Transform(ctx context.Context, job *models.TransformationJob, copyPath string, file models.TargetFile) models.FileTransformationResult {
	start := time.Now()
	defer func() {
		metrics.RecordTransformation(job.Type, time.Since(start).Seconds())
	}()

	logger := a.logger.With().Str("job_id", job.ID).Str("file", file.Path).Logger()

	original, err := a.workspace.ReadFile(copyPath, file.Path)
	if err != nil {
		return a.failed(file, KindIO, fmt.Sprintf("read original content: %v", err), nil)
	}

	plan := PlanTiers(job.Type, countLines(original), ResolveModels(job, a.defaults))
	if len(plan) == 0 {
		return a.failed(file, KindConfiguration, "no model tier configured for this transformation", nil)
	}

	patterns := a.fetchPatterns(ctx, file.Language, job.Type)
	instruction := prompt.Build(file.Language, file.Path, job.Type, string(original), patterns)

	var lastDiagnostics []string
	var lastFailure string
	for _, tier := range plan {
		logger.Debug().Str("tier", string(tier.Tier)).Str("model", tier.ModelID).Msg("Invoking model")

		response, err := a.invoker.Invoke(ctx, tier.ModelID, instruction)
		if err != nil {
			lastFailure = fmt.Sprintf("model %s: %v", tier.ModelID, err)
			lastDiagnostics = nil
			logger.Warn().Err(err).Str("tier", string(tier.Tier)).Msg("Inference failed")
			continue
		}

		code, summary, ok := prompt.Parse(response)
		if !ok {
			lastFailure = fmt.Sprintf("model %s returned no usable code block", tier.ModelID)
			lastDiagnostics = nil
			logger.Warn().Str("tier", string(tier.Tier)).Msg("Unusable model output")
			continue
		}

		candidate := []byte(code)
		if bytes.Equal(candidate, original) {
			// A no-op is not a failure; verification is skipped entirely.
			return models.FileTransformationResult{
				FilePath: file.Path,
				Language: file.Language,
				Status:   models.FileUnchanged,
			}
		}

		verification, err := a.verifier.Verify(ctx, verify.Request{
			WorkingCopy: copyPath,
			FilePath:    file.Path,
			Language:    file.Language,
			Content:     candidate,
			Level:       job.VerificationLevel,
		})
		if err != nil {
			verification = &verify.Result{Passed: false}
			verification.Checks = append(verification.Checks, verify.CheckResult{
				Check:  "pipeline",
				Passed: false,
				Detail: err.Error(),
			})
		}

		if verification.Passed || !job.SafeMode {
			return a.accept(ctx, job, copyPath, file, original, candidate, summary, verification)
		}

		lastFailure = fmt.Sprintf("verification failed at level %s", job.VerificationLevel)
		lastDiagnostics = verification.Diagnostics()
		logger.Info().Str("tier", string(tier.Tier)).Strs("diagnostics", lastDiagnostics).Msg("Candidate rejected by verification")
	}

	kind := KindInference
	if lastDiagnostics != nil {
		kind = KindVerification
	}
	return a.failed(file, kind, lastFailure, lastDiagnostics)
}

// accept writes the candidate back and builds the success result. Diagnostics
// from a failed verification are retained as warnings when safe mode is off.
func (a *Attempter) accept(ctx context.Context, job *models.TransformationJob, copyPath string, file models.TargetFile, original, candidate []byte, summary string, verification *verify.Result) models.FileTransformationResult {
	if err := a.workspace.WriteFile(copyPath, file.Path, candidate); err != nil {
		return a.failed(file, KindIO, fmt.Sprintf("write accepted content: %v", err), nil)
	}

	res := models.FileTransformationResult{
		FilePath: file.Path,
		Language: file.Language,
		Status:   models.FileSuccess,
		Metrics:  metrics.CompareContent(string(original), string(candidate)),
	}
	if s := strings.TrimSpace(summary); s != "" {
		res.ChangesSummary = &s
	}
	if !verification.Passed {
		res.Diagnostics = verification.Diagnostics()
	}
	if res.Metrics.IsSmaller {
		metrics.RecordSizeReduction(-res.Metrics.CharacterCountChangePercentage)
	}

	if a.knowledge != nil {
		if err := a.knowledge.RecordSuccess(ctx, job.ID, job.Type, res); err != nil {
			a.logger.Debug().Err(err).Str("file", file.Path).Msg("Failed to report success to knowledge service")
		}
	}
	return res
}

func (a *Attempter) fetchPatterns(ctx context.Context, language string, t models.TransformationType) []string {
	if a.knowledge == nil {
		return nil
	}
	patterns, err := a.knowledge.TransformationPatterns(ctx, language, t)
	if err != nil {
		a.logger.Debug().Err(err).Str("language", language).Msg("Pattern lookup failed; building plain prompt")
		return nil
	}
	return patterns
}

func (a *Attempter) failed(file models.TargetFile, kind ErrorKind, reason string, diagnostics []string) models.FileTransformationResult {
	metrics.RecordError(string(kind))
	msg := string(kind) + ": " + reason
	return models.FileTransformationResult{
		FilePath:    file.Path,
		Language:    file.Language,
		Status:      models.FileFailed,
		Error:       &msg,
		Diagnostics: diagnostics,
	}
}
