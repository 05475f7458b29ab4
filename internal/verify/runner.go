package verify

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

type execOptions struct {
	Env     []string
	WorkDir string
	Timeout time.Duration
}

type ExecOpt func(*execOptions)

func WithEnv(env ...string) ExecOpt {
	return func(o *execOptions) { o.Env = append(o.Env, env...) }
}

func WithWorkDir(dir string) ExecOpt {
	return func(o *execOptions) { o.WorkDir = dir }
}

func WithTimeout(d time.Duration) ExecOpt {
	return func(o *execOptions) { o.Timeout = d }
}

// Runner executes verification tools and stages candidate files. Tools only
// ever read the staged candidate and the job's working copy; nothing is
// written back through a Runner.
type Runner interface {
	Exec(ctx context.Context, cmd []string, opts ...ExecOpt) (*ExecResult, error)
	Put(ctx context.Context, path string, content []byte) error
	Remove(ctx context.Context, path string) error
}

type localRunner struct{}

// NewLocalRunner executes tools directly on the host.
func NewLocalRunner() Runner {
	return &localRunner{}
}

func (r *localRunner) Exec(ctx context.Context, cmd []string, opts ...ExecOpt) (*ExecResult, error) {
	o := &execOptions{}
	for _, opt := range opts {
		opt(o)
	}

	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
	if o.WorkDir != "" {
		c.Dir = o.WorkDir
	}
	c.Env = append(os.Environ(), o.Env...)

	var outBuf, errBuf bytes.Buffer
	c.Stdout = &outBuf
	c.Stderr = &errBuf

	err := c.Run()
	res := &ExecResult{Stdout: outBuf.String(), Stderr: errBuf.String()}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, err
	}
	return res, nil
}

func (r *localRunner) Put(ctx context.Context, path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create scratch directory")
	}
	return os.WriteFile(path, content, 0o644)
}

func (r *localRunner) Remove(ctx context.Context, path string) error {
	return os.RemoveAll(path)
}
