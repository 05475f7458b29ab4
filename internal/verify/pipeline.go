package verify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/codealloy/alloy-api/internal/config"
	"github.com/codealloy/alloy-api/internal/metrics"
	"github.com/codealloy/alloy-api/internal/models"
)

// Request describes one candidate verification. FilePath is relative to
// WorkingCopy; Content is the candidate, which is staged to scratch space
// and never written into the working copy.
type Request struct {
	WorkingCopy string
	FilePath    string
	Language    string
	Content     []byte
	Level       models.VerificationLevel
}

type CheckResult struct {
	Check  string `json:"check"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

type Result struct {
	Passed bool          `json:"passed"`
	Checks []CheckResult `json:"checks"`
	Notes  []string      `json:"notes,omitempty"`
}

func (r *Result) fail(check, detail string) {
	r.Passed = false
	r.Checks = append(r.Checks, CheckResult{Check: check, Passed: false, Detail: detail})
}

// Diagnostics flattens failed checks and notes for result reporting.
func (r *Result) Diagnostics() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, fmt.Sprintf("%s: %s", c.Check, c.Detail))
		}
	}
	out = append(out, r.Notes...)
	return out
}

type Verifier interface {
	Verify(ctx context.Context, req Request) (*Result, error)
}

// Pipeline runs the ordered verification levels against candidate content.
type Pipeline struct {
	runner    Runner
	scratch   string
	toolsPath string
	logger    zerolog.Logger

	mu    sync.RWMutex
	tools *ToolsConfig
}

func NewPipeline(cfg config.VerificationConfig, runner Runner, logger zerolog.Logger) (*Pipeline, error) {
	tools, err := LoadTools(cfg.ToolsFile)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		runner:    runner,
		scratch:   cfg.ScratchDir,
		toolsPath: cfg.ToolsFile,
		logger:    logger.With().Str("component", "verify").Logger(),
		tools:     tools,
	}, nil
}

func (p *Pipeline) currentTools() *ToolsConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tools
}

// Reload re-reads the tool table from disk. The previous table stays active
// when the new one fails to parse.
func (p *Pipeline) Reload() error {
	tools, err := LoadTools(p.toolsPath)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.tools = tools
	p.mu.Unlock()
	p.logger.Info().Str("path", p.toolsPath).Msg("Reloaded verification tool table")
	return nil
}

func (p *Pipeline) Verify(ctx context.Context, req Request) (*Result, error) {
	res := &Result{Passed: true}
	if req.Level == models.VerificationNone {
		return res, nil
	}
	tools := p.currentTools()

	scratchDir := filepath.Join(p.scratch, uuid.NewString())
	candidate := filepath.Join(scratchDir, filepath.Base(req.FilePath))
	if err := p.runner.Put(ctx, candidate, req.Content); err != nil {
		return nil, errors.Wrap(err, "stage candidate")
	}
	defer func() {
		if err := p.runner.Remove(context.WithoutCancel(ctx), scratchDir); err != nil {
			p.logger.Warn().Err(err).Str("path", scratchDir).Msg("Failed to clean scratch space")
		}
	}()

	syntaxTimeout := time.Duration(tools.SyntaxTimeoutSeconds) * time.Second
	if cmd, ok := tools.Syntax[req.Language]; ok {
		if err := p.runCheck(ctx, res, "syntax", expandCommand(cmd, candidate), scratchDir, syntaxTimeout, false); err != nil {
			return nil, err
		}
	} else {
		res.Notes = append(res.Notes, fmt.Sprintf("no syntax tool for %s; check skipped", req.Language))
		p.logger.Debug().Str("language", req.Language).Msg("No syntax tool configured")
	}

	if req.Level.AtLeast(models.VerificationStandard) {
		testTimeout := time.Duration(tools.TestTimeoutSeconds) * time.Second
		testCmd, found := discoverTestCommand(tools, req.WorkingCopy, req.FilePath, req.Language)
		switch {
		case found:
			mandatory := req.Level.AtLeast(models.VerificationStrict)
			if err := p.runCheck(ctx, res, "tests", testCmd, req.WorkingCopy, testTimeout, mandatory); err != nil {
				return nil, err
			}
		case req.Level.AtLeast(models.VerificationStrict):
			res.fail("tests", "no test suite discovered; strict verification requires one")
		default:
			res.Notes = append(res.Notes, "no test suite discovered; degraded to basic checks")
		}
	}

	if req.Level.AtLeast(models.VerificationStrict) {
		lintTimeout := time.Duration(tools.LintTimeoutSeconds) * time.Second
		if cmd, ok := tools.Lint[req.Language]; ok {
			if err := p.runCheck(ctx, res, "lint", expandCommand(cmd, candidate), scratchDir, lintTimeout, false); err != nil {
				return nil, err
			}
		} else {
			res.Notes = append(res.Notes, fmt.Sprintf("no lint tool for %s; check skipped", req.Language))
		}
	}

	metrics.RecordVerification(res.Passed)
	return res, nil
}

// runCheck executes one tool. Exit code zero passes; non-zero fails with the
// tool's output as detail. A missing tool fails only mandatory checks; a
// timeout always fails the check. Hard runner errors abort verification.
func (p *Pipeline) runCheck(ctx context.Context, res *Result, name string, cmd []string, dir string, timeout time.Duration, mandatory bool) error {
	r, err := p.runner.Exec(ctx, cmd, WithWorkDir(dir), WithTimeout(timeout))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			res.fail(name, fmt.Sprintf("timed out after %s", timeout))
			return nil
		}
		if errors.Is(err, exec.ErrNotFound) {
			if mandatory {
				res.fail(name, fmt.Sprintf("tool unavailable: %s", cmd[0]))
			} else {
				res.Notes = append(res.Notes, fmt.Sprintf("%s tool unavailable: %s; check skipped", name, cmd[0]))
			}
			return nil
		}
		return errors.Wrapf(err, "run %s check", name)
	}
	if r.ExitCode != 0 {
		detail := strings.TrimSpace(r.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(r.Stdout)
		}
		res.fail(name, truncateDetail(detail))
		return nil
	}
	res.Checks = append(res.Checks, CheckResult{Check: name, Passed: true})
	return nil
}

// discoverTestCommand resolves the project's test command for a language, or
// reports that no suite is discoverable. Marker rules are tried in order; a
// python file with a sibling test_<base>.py falls back to unittest when no
// marker matches.
func discoverTestCommand(tools *ToolsConfig, workingCopy, filePath, language string) ([]string, bool) {
	for _, rule := range tools.TestRunners {
		if !rule.appliesTo(language) {
			continue
		}
		if _, err := os.Stat(filepath.Join(workingCopy, rule.Marker)); err != nil {
			continue
		}
		cmd := append([]string(nil), rule.Command...)
		if language == "python" && containsArg(cmd, "pytest") {
			base := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
			target := filepath.Join("tests", "test_"+base+".py")
			if _, err := os.Stat(filepath.Join(workingCopy, target)); err == nil {
				cmd = append(cmd, target)
			}
		}
		return cmd, true
	}

	if language == "python" {
		base := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
		sibling := filepath.Join(filepath.Dir(filePath), "test_"+base+".py")
		if _, err := os.Stat(filepath.Join(workingCopy, sibling)); err == nil {
			return []string{"python", "-m", "unittest", sibling}, true
		}
	}
	return nil, false
}

func containsArg(cmd []string, want string) bool {
	for _, arg := range cmd {
		if arg == want {
			return true
		}
	}
	return false
}

func truncateDetail(s string) string {
	const max = 2000
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
