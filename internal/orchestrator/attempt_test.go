package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codealloy/alloy-api/internal/config"
	"github.com/codealloy/alloy-api/internal/models"
	"github.com/codealloy/alloy-api/internal/verify"
	"github.com/codealloy/alloy-api/internal/workspace"
)

// stubWorkspace is an in-memory workspace.Manager.
type stubWorkspace struct {
	mu        sync.Mutex
	files     map[string][]byte
	readErr   error
	writeErr  error
	writes    map[string][]byte
	cloneErr  error
	copyErr   error
	cleanedUp []string
}

func newStubWorkspace(files map[string][]byte) *stubWorkspace {
	return &stubWorkspace{files: files, writes: make(map[string][]byte)}
}

func (s *stubWorkspace) CloneOrUpdate(ctx context.Context, repoURL, repoID, branch string) (string, error) {
	if s.cloneErr != nil {
		return "", s.cloneErr
	}
	return "/repos/" + repoID, nil
}

func (s *stubWorkspace) CreateWorkingCopy(ctx context.Context, repoID, jobID string) (string, error) {
	if s.copyErr != nil {
		return "", s.copyErr
	}
	return "/working/" + jobID, nil
}

func (s *stubWorkspace) ReadFile(copyPath, relPath string) ([]byte, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[relPath]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", relPath)
	}
	return content, nil
}

func (s *stubWorkspace) WriteFile(copyPath, relPath string, content []byte) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes[relPath] = content
	return nil
}

func (s *stubWorkspace) FileSize(copyPath, relPath string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[relPath]
	if !ok {
		return 0, fmt.Errorf("no such file: %s", relPath)
	}
	return int64(len(content)), nil
}

func (s *stubWorkspace) ListFiles(copyPath string, opts workspace.ListOptions) ([]workspace.FileInfo, error) {
	return nil, nil
}

func (s *stubWorkspace) Cleanup(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanedUp = append(s.cleanedUp, jobID)
	return nil
}

func (s *stubWorkspace) written(relPath string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.writes[relPath]
	return content, ok
}

// stubInvoker records invocations and delegates to a response function.
type stubInvoker struct {
	mu      sync.Mutex
	models  []string
	respond func(model, prompt string) (string, error)
}

func (s *stubInvoker) Invoke(ctx context.Context, model, prompt string) (string, error) {
	s.mu.Lock()
	s.models = append(s.models, model)
	s.mu.Unlock()
	return s.respond(model, prompt)
}

func (s *stubInvoker) invocations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.models...)
}

// stubVerifier delegates to a response function and counts calls.
type stubVerifier struct {
	mu      sync.Mutex
	calls   int
	respond func(req verify.Request) (*verify.Result, error)
}

func (s *stubVerifier) Verify(ctx context.Context, req verify.Request) (*verify.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.respond == nil {
		return &verify.Result{Passed: true}, nil
	}
	return s.respond(req)
}

func (s *stubVerifier) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testDefaults() config.ModelsConfig {
	return config.ModelsConfig{
		Preferred:   "preferred-model",
		Fallback:    "fallback-model",
		Specialized: "specialized-model",
	}
}

func testJob() *models.TransformationJob {
	return &models.TransformationJob{
		ID:                "job-1",
		Type:              models.TransformRefactor,
		VerificationLevel: models.VerificationStandard,
		SafeMode:          true,
		BatchSize:         10,
		MaxFileSizeKB:     50,
	}
}

func modelResponse(code string) string {
	return fmt.Sprintf("SUMMARY: tidied up the code\n\n```python\n%s\n```", code)
}

func newTestAttempter(ws *stubWorkspace, inv *stubInvoker, v *stubVerifier) *Attempter {
	return NewAttempter(ws, inv, v, nil, testDefaults(), zerolog.Nop())
}

func TestAttempter_ReadFailureSkipsModelAttempts(t *testing.T) {
	ws := newStubWorkspace(nil)
	ws.readErr = fmt.Errorf("disk on fire")
	inv := &stubInvoker{respond: func(_, _ string) (string, error) { return "", nil }}
	a := newTestAttempter(ws, inv, &stubVerifier{})

	res := a.Transform(context.Background(), testJob(), "/wc", models.TargetFile{Path: "a.py", Language: "python"})

	assert.Equal(t, models.FileFailed, res.Status)
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "io")
	assert.Empty(t, inv.invocations())
}

func TestAttempter_UnchangedOutputSkipsVerification(t *testing.T) {
	original := "print('hello')"
	ws := newStubWorkspace(map[string][]byte{"a.py": []byte(original)})
	inv := &stubInvoker{respond: func(_, _ string) (string, error) {
		return modelResponse(original), nil
	}}
	v := &stubVerifier{}
	a := newTestAttempter(ws, inv, v)

	res := a.Transform(context.Background(), testJob(), "/wc", models.TargetFile{Path: "a.py", Language: "python"})

	assert.Equal(t, models.FileUnchanged, res.Status)
	assert.Zero(t, v.callCount())
	_, wrote := ws.written("a.py")
	assert.False(t, wrote, "unchanged output must not touch the working copy")
	assert.Len(t, inv.invocations(), 1)
}

func TestAttempter_AcceptedChangeIsWrittenBack(t *testing.T) {
	ws := newStubWorkspace(map[string][]byte{"a.py": []byte("print('old')")})
	inv := &stubInvoker{respond: func(_, _ string) (string, error) {
		return modelResponse("print('new')"), nil
	}}
	a := newTestAttempter(ws, inv, &stubVerifier{})

	res := a.Transform(context.Background(), testJob(), "/wc", models.TargetFile{Path: "a.py", Language: "python"})

	assert.Equal(t, models.FileSuccess, res.Status)
	require.NotNil(t, res.ChangesSummary)
	assert.Equal(t, "tidied up the code", *res.ChangesSummary)
	require.NotNil(t, res.Metrics)
	content, wrote := ws.written("a.py")
	require.True(t, wrote)
	assert.Equal(t, "print('new')", string(content))
	assert.Equal(t, []string{"preferred-model"}, inv.invocations())
}

func TestAttempter_VerificationFailureEscalatesInSafeMode(t *testing.T) {
	ws := newStubWorkspace(map[string][]byte{"a.py": []byte("print('old')")})
	inv := &stubInvoker{respond: func(_, _ string) (string, error) {
		return modelResponse("print('new')"), nil
	}}
	v := &stubVerifier{respond: func(req verify.Request) (*verify.Result, error) {
		res := &verify.Result{Passed: true}
		if req.Content != nil && string(req.Content) == "print('new')" {
			res.Passed = false
			res.Checks = []verify.CheckResult{{Check: "syntax", Passed: false, Detail: "boom"}}
		}
		return res, nil
	}}
	a := newTestAttempter(ws, inv, v)

	res := a.Transform(context.Background(), testJob(), "/wc", models.TargetFile{Path: "a.py", Language: "python"})

	// Both tiers produce the same rejected candidate, so the file fails with
	// the last diagnostics after exhausting the plan.
	assert.Equal(t, models.FileFailed, res.Status)
	assert.Equal(t, []string{"preferred-model", "fallback-model"}, inv.invocations())
	assert.Contains(t, res.Diagnostics, "syntax: boom")
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "verification")
	_, wrote := ws.written("a.py")
	assert.False(t, wrote)
}

func TestAttempter_FallbackSucceedsAfterRejection(t *testing.T) {
	ws := newStubWorkspace(map[string][]byte{"a.py": []byte("print('old')")})
	inv := &stubInvoker{respond: func(model, _ string) (string, error) {
		if model == "preferred-model" {
			return modelResponse("bad candidate"), nil
		}
		return modelResponse("good candidate"), nil
	}}
	v := &stubVerifier{respond: func(req verify.Request) (*verify.Result, error) {
		passed := string(req.Content) == "good candidate"
		res := &verify.Result{Passed: passed}
		if !passed {
			res.Checks = []verify.CheckResult{{Check: "syntax", Passed: false, Detail: "parse error"}}
		}
		return res, nil
	}}
	a := newTestAttempter(ws, inv, v)

	res := a.Transform(context.Background(), testJob(), "/wc", models.TargetFile{Path: "a.py", Language: "python"})

	assert.Equal(t, models.FileSuccess, res.Status)
	assert.Equal(t, []string{"preferred-model", "fallback-model"}, inv.invocations())
	content, _ := ws.written("a.py")
	assert.Equal(t, "good candidate", string(content))
}

func TestAttempter_InferenceFailureEscalates(t *testing.T) {
	ws := newStubWorkspace(map[string][]byte{"a.py": []byte("print('old')")})
	inv := &stubInvoker{respond: func(_, _ string) (string, error) {
		return "", fmt.Errorf("backend unreachable")
	}}
	v := &stubVerifier{}
	a := newTestAttempter(ws, inv, v)

	res := a.Transform(context.Background(), testJob(), "/wc", models.TargetFile{Path: "a.py", Language: "python"})

	assert.Equal(t, models.FileFailed, res.Status)
	assert.Len(t, inv.invocations(), maxAttemptsPerFile)
	assert.Zero(t, v.callCount())
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "inference")
}

func TestAttempter_UnusableOutputEscalates(t *testing.T) {
	ws := newStubWorkspace(map[string][]byte{"a.py": []byte("print('old')")})
	inv := &stubInvoker{respond: func(model, _ string) (string, error) {
		if model == "preferred-model" {
			return "I cannot help with that.", nil // no code block
		}
		return modelResponse("print('new')"), nil
	}}
	a := newTestAttempter(ws, inv, &stubVerifier{})

	res := a.Transform(context.Background(), testJob(), "/wc", models.TargetFile{Path: "a.py", Language: "python"})

	assert.Equal(t, models.FileSuccess, res.Status)
	assert.Equal(t, []string{"preferred-model", "fallback-model"}, inv.invocations())
}

func TestAttempter_UnsafeModeWritesDespiteFailedVerification(t *testing.T) {
	ws := newStubWorkspace(map[string][]byte{"a.py": []byte("print('old')")})
	inv := &stubInvoker{respond: func(_, _ string) (string, error) {
		return modelResponse("print('new')"), nil
	}}
	v := &stubVerifier{respond: func(verify.Request) (*verify.Result, error) {
		return &verify.Result{
			Passed: false,
			Checks: []verify.CheckResult{{Check: "syntax", Passed: false, Detail: "boom"}},
		}, nil
	}}
	a := newTestAttempter(ws, inv, v)

	job := testJob()
	job.SafeMode = false
	res := a.Transform(context.Background(), job, "/wc", models.TargetFile{Path: "a.py", Language: "python"})

	assert.Equal(t, models.FileSuccess, res.Status)
	assert.Contains(t, res.Diagnostics, "syntax: boom")
	_, wrote := ws.written("a.py")
	assert.True(t, wrote)
	assert.Len(t, inv.invocations(), 1, "no escalation outside safe mode")
}

func TestAttempter_FixSecurityUsesSpecializedTier(t *testing.T) {
	ws := newStubWorkspace(map[string][]byte{"a.py": []byte("print('old')")})
	inv := &stubInvoker{respond: func(_, _ string) (string, error) {
		return modelResponse("print('new')"), nil
	}}
	a := newTestAttempter(ws, inv, &stubVerifier{})

	job := testJob()
	job.Type = models.TransformFixSecurity
	res := a.Transform(context.Background(), job, "/wc", models.TargetFile{Path: "a.py", Language: "python"})

	assert.Equal(t, models.FileSuccess, res.Status)
	assert.Equal(t, []string{"specialized-model"}, inv.invocations())
}

func TestAttempter_NoConfiguredTierFailsImmediately(t *testing.T) {
	ws := newStubWorkspace(map[string][]byte{"a.py": []byte("print('old')")})
	inv := &stubInvoker{respond: func(_, _ string) (string, error) { return "", nil }}
	a := NewAttempter(ws, inv, &stubVerifier{}, nil, config.ModelsConfig{}, zerolog.Nop())

	res := a.Transform(context.Background(), testJob(), "/wc", models.TargetFile{Path: "a.py", Language: "python"})

	assert.Equal(t, models.FileFailed, res.Status)
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "configuration")
	assert.Empty(t, inv.invocations())
}
