package workspace

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/codealloy/alloy-api/internal/config"
)

// FileInfo describes one candidate file found in a working copy.
type FileInfo struct {
	Path     string  `json:"path"`
	Language string  `json:"language"`
	SizeKB   float64 `json:"size_kb"`
}

// ListOptions filters ListFiles output.
type ListOptions struct {
	Languages []string
	MaxKB     int
}

// Manager owns the on-disk layout for repository clones and per-job working
// copies. Clones are cached under <root>/repos/<repoID>; working copies live
// under <root>/working/<jobID> and never contain .git.
type Manager interface {
	CloneOrUpdate(ctx context.Context, repoURL, repoID, branch string) (string, error)
	CreateWorkingCopy(ctx context.Context, repoID, jobID string) (string, error)
	ReadFile(copyPath, relPath string) ([]byte, error)
	WriteFile(copyPath, relPath string, content []byte) error
	FileSize(copyPath, relPath string) (int64, error)
	ListFiles(copyPath string, opts ListOptions) ([]FileInfo, error)
	Cleanup(jobID string) error
}

type manager struct {
	root        string
	accessToken string
	logger      zerolog.Logger
}

func NewManager(cfg config.WorkspaceConfig, logger zerolog.Logger) Manager {
	return &manager{
		root:        cfg.Root,
		accessToken: cfg.AccessToken,
		logger:      logger.With().Str("component", "workspace").Logger(),
	}
}

func (m *manager) repoPath(repoID string) string {
	return filepath.Join(m.root, "repos", repoID)
}

func (m *manager) workingPath(jobID string) string {
	return filepath.Join(m.root, "working", jobID)
}

func (m *manager) auth(repoURL string) *githttp.BasicAuth {
	if m.accessToken == "" || !strings.HasPrefix(repoURL, "https://") {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: m.accessToken}
}

func (m *manager) CloneOrUpdate(ctx context.Context, repoURL, repoID, branch string) (string, error) {
	path := m.repoPath(repoID)
	ref := plumbing.NewBranchReferenceName(branch)

	if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
		repo, err := git.PlainOpen(path)
		if err != nil {
			return "", errors.Wrapf(err, "open cached clone for repo %s", repoID)
		}
		if err := repo.FetchContext(ctx, &git.FetchOptions{Auth: m.auth(repoURL), Force: true}); err != nil && err != git.NoErrAlreadyUpToDate {
			return "", errors.Wrapf(err, "fetch repo %s", repoID)
		}
		wt, err := repo.Worktree()
		if err != nil {
			return "", errors.Wrapf(err, "worktree for repo %s", repoID)
		}
		if err := wt.Checkout(&git.CheckoutOptions{Branch: ref, Force: true}); err != nil {
			return "", errors.Wrapf(err, "checkout %s of repo %s", branch, repoID)
		}
		if err := wt.PullContext(ctx, &git.PullOptions{ReferenceName: ref, Auth: m.auth(repoURL), Force: true}); err != nil && err != git.NoErrAlreadyUpToDate {
			return "", errors.Wrapf(err, "pull %s of repo %s", branch, repoID)
		}
		m.logger.Debug().Str("repo_id", repoID).Str("branch", branch).Msg("Updated cached clone")
		return path, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(err, "create repos directory")
	}
	_, err := git.PlainCloneContext(ctx, path, false, &git.CloneOptions{
		URL:           repoURL,
		Auth:          m.auth(repoURL),
		ReferenceName: ref,
		SingleBranch:  true,
	})
	if err != nil {
		os.RemoveAll(path) // do not cache a partial clone
		return "", errors.Wrapf(err, "clone %s", repoURL)
	}
	m.logger.Info().Str("repo_id", repoID).Str("branch", branch).Msg("Cloned repository")
	return path, nil
}

func (m *manager) CreateWorkingCopy(ctx context.Context, repoID, jobID string) (string, error) {
	src := m.repoPath(repoID)
	dst := m.workingPath(jobID)

	if err := os.RemoveAll(dst); err != nil {
		return "", errors.Wrapf(err, "remove stale working copy for job %s", jobID)
	}
	if err := copyTree(ctx, src, dst); err != nil {
		os.RemoveAll(dst)
		return "", errors.Wrapf(err, "create working copy for job %s", jobID)
	}
	m.logger.Debug().Str("job_id", jobID).Str("path", dst).Msg("Created working copy")
	return dst, nil
}

// copyTree copies src into dst, excluding the .git directory.
func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, filepath.Join(dst, rel))
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// resolve joins relPath onto copyPath and rejects escapes from the copy root.
func resolve(copyPath, relPath string) (string, error) {
	full := filepath.Join(copyPath, relPath)
	rel, err := filepath.Rel(copyPath, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the working copy", relPath)
	}
	return full, nil
}

func (m *manager) ReadFile(copyPath, relPath string) ([]byte, error) {
	full, err := resolve(copyPath, relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", relPath)
	}
	return data, nil
}

func (m *manager) WriteFile(copyPath, relPath string, content []byte) error {
	full, err := resolve(copyPath, relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errors.Wrapf(err, "create parent directories for %s", relPath)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", relPath)
	}
	return nil
}

func (m *manager) FileSize(copyPath, relPath string) (int64, error) {
	full, err := resolve(copyPath, relPath)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return 0, errors.Wrapf(err, "stat %s", relPath)
	}
	return info.Size(), nil
}

func (m *manager) ListFiles(copyPath string, opts ListOptions) ([]FileInfo, error) {
	wanted := make(map[string]bool, len(opts.Languages))
	for _, l := range opts.Languages {
		wanted[l] = true
	}

	var files []FileInfo
	err := filepath.WalkDir(copyPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != copyPath {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || !d.Type().IsRegular() {
			return nil
		}
		lang := DetectLanguage(path)
		if lang == "" {
			return nil
		}
		if len(wanted) > 0 && !wanted[lang] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		sizeKB := float64(info.Size()) / 1024
		if opts.MaxKB > 0 && sizeKB > float64(opts.MaxKB) {
			return nil
		}
		rel, err := filepath.Rel(copyPath, path)
		if err != nil {
			return err
		}
		files = append(files, FileInfo{Path: rel, Language: lang, SizeKB: sizeKB})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list files")
	}
	return files, nil
}

func (m *manager) Cleanup(jobID string) error {
	return os.RemoveAll(m.workingPath(jobID))
}
