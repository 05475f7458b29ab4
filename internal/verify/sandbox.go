package verify

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/codealloy/alloy-api/internal/config"
)

// sandboxRunner executes tools inside a long-lived tools container. The
// container is expected to bind-mount the service data root so working-copy
// and scratch paths resolve identically on both sides.
type sandboxRunner struct {
	cli       *client.Client
	container string
}

func NewSandboxRunner(cli *client.Client, containerName string) Runner {
	return &sandboxRunner{cli: cli, container: containerName}
}

// EnsureContainer makes sure the named tools container exists and is running,
// creating it from cfg.SandboxImage when absent. The given host paths are
// bind-mounted at identical container paths so tool commands resolve
// working-copy and scratch files the same way on both sides.
func EnsureContainer(ctx context.Context, cli *client.Client, cfg config.VerificationConfig, hostPaths ...string) error {
	inspect, err := cli.ContainerInspect(ctx, cfg.SandboxContainer)
	if err == nil {
		if inspect.State != nil && inspect.State.Running {
			return nil
		}
		if err := cli.ContainerStart(ctx, cfg.SandboxContainer, container.StartOptions{}); err != nil {
			return fmt.Errorf("start tools container: %w", err)
		}
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspect tools container: %w", err)
	}
	if cfg.SandboxImage == "" {
		return fmt.Errorf("tools container %q not found and no sandbox image configured", cfg.SandboxContainer)
	}

	if _, err := cli.ImageInspect(ctx, cfg.SandboxImage); err != nil {
		reader, err := cli.ImagePull(ctx, cfg.SandboxImage, image.PullOptions{})
		if err != nil {
			return fmt.Errorf("pull sandbox image: %w", err)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	mounts := make([]mount.Mount, 0, len(hostPaths))
	for _, p := range hostPaths {
		if p == "" {
			continue
		}
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: p, Target: p})
	}

	hostConfig := &container.HostConfig{
		Mounts: mounts,
		Resources: container.Resources{
			CPUShares: cfg.ContainerCPULimit,
			Memory:    cfg.ContainerMemoryLimit,
		},
	}
	containerConfig := &container.Config{
		Image: cfg.SandboxImage,
		Cmd:   []string{"sleep", "infinity"},
	}

	created, err := cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, cfg.SandboxContainer)
	if err != nil {
		return fmt.Errorf("create tools container: %w", err)
	}
	if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start tools container: %w", err)
	}
	return nil
}

func (s *sandboxRunner) Exec(ctx context.Context, cmd []string, opts ...ExecOpt) (*ExecResult, error) {
	o := &execOptions{}
	for _, opt := range opts {
		opt(o)
	}

	execCfg := container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
		Env:          o.Env,
		WorkingDir:   o.WorkDir,
	}

	created, err := s.cli.ContainerExecCreate(ctx, s.container, execCfg)
	if err != nil {
		return nil, fmt.Errorf("exec create: %w", err)
	}

	attach, err := s.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{
		Detach: false,
		Tty:    false,
	})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	var outBuf, errBuf bytes.Buffer
	outputDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&outBuf, &errBuf, attach.Reader)
		outputDone <- copyErr
	}()

	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err = <-outputDone:
		if err != nil {
			return nil, fmt.Errorf("exec stream: %w", err)
		}
	}

	inspect, err := s.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("exec inspect: %w", err)
	}

	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
	}, nil
}

func (s *sandboxRunner) sh(ctx context.Context, script string, opts ...ExecOpt) (*ExecResult, error) {
	return s.Exec(ctx, []string{"sh", "-lc", script}, opts...)
}

func (s *sandboxRunner) Put(ctx context.Context, dstPath string, content []byte) error {
	dir := path.Dir(dstPath)
	if res, err := s.sh(ctx, "mkdir -p "+dir); err != nil {
		return fmt.Errorf("mkdir scratch: %w", err)
	} else if res.ExitCode != 0 {
		return fmt.Errorf("mkdir scratch failed (%d): %s", res.ExitCode, res.Stdout+res.Stderr)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: path.Base(dstPath),
		Mode: 0644,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("tar write header: %w", err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("tar write content: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("tar close: %w", err)
	}

	if err := s.cli.CopyToContainer(ctx, s.container, dir, &buf, container.CopyToContainerOptions{AllowOverwriteDirWithFile: false}); err != nil {
		return fmt.Errorf("copy to container: %w", err)
	}
	return nil
}

func (s *sandboxRunner) Remove(ctx context.Context, target string) error {
	res, err := s.sh(ctx, "rm -rf "+target)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("remove %s failed (%d): %s", target, res.ExitCode, res.Stdout+res.Stderr)
	}
	return nil
}
