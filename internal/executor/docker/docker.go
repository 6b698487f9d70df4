// Package docker runs replay rounds inside throwaway containers. Each round
// gets a fresh container whose cgroup memory limit bounds that round alone,
// and the container is removed when the round ends.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/replaybox/internal/executor/sandbox"
)

// exitKilled is the exit status of a worker the kernel killed, which inside
// a memory-limited container means the cgroup ran out of memory.
const exitKilled = 137

// Backend is a sandbox.Backend that execs a worker in a pooled container.
type Backend struct {
	cli    *client.Client
	pool   *Pool
	config Config
	logger *slog.Logger
}

var _ sandbox.Backend = (*Backend)(nil)

// New connects to the docker daemon, makes sure the worker image exists and
// starts filling the container pool.
func New(cfg Config, logger *slog.Logger) (*Backend, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 2 * time.Second
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := ensureImage(ctx, cli, cfg.Image, logger); err != nil {
		cli.Close()
		return nil, err
	}

	b := &Backend{
		cli:    cli,
		config: cfg,
		logger: logger,
		pool:   NewPool(cli, cfg, logger),
	}
	b.pool.Start()
	return b, nil
}

// ensureImage pulls the image unless the daemon already has it, so locally
// built worker images work without a registry.
func ensureImage(ctx context.Context, cli *client.Client, ref string, logger *slog.Logger) error {
	if _, err := cli.ImageInspect(ctx, ref); err == nil {
		logger.Info("docker image is present", slog.String("image", ref))
		return nil
	}

	logger.Info("pulling docker image", slog.String("image", ref))
	reader, err := cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	// the pull finishes when the progress stream ends
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	logger.Info("docker image is ready")
	return nil
}

func (b *Backend) Name() string { return "docker" }

// Close removes the idle containers and closes the docker client.
func (b *Backend) Close() error {
	b.pool.Stop()
	return b.cli.Close()
}

// Run execs a worker in a fresh container, writes the job to its stdin and
// decodes the report it prints.
func (b *Backend) Run(ctx context.Context, job sandbox.Job) (sandbox.Report, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return sandbox.Report{}, fmt.Errorf("docker: encoding job: %w", err)
	}

	containerID, err := b.pool.Get(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return sandbox.Stopped(ctx), nil
		}
		return sandbox.Report{}, fmt.Errorf("%w: %v", sandbox.ErrNoIsolate, err)
	}
	defer b.pool.Remove(containerID)

	runCtx, cancel := context.WithTimeout(ctx, job.Limits.Timeout+b.config.Grace)
	defer cancel()

	execResp, err := b.cli.ContainerExecCreate(runCtx, containerID, container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          b.config.Command,
	})
	if err != nil {
		return sandbox.Report{}, fmt.Errorf("%w: failed to create exec: %v", sandbox.ErrNoIsolate, err)
	}

	attach, err := b.cli.ContainerExecAttach(runCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return sandbox.Report{}, fmt.Errorf("%w: failed to attach to exec: %v", sandbox.ErrNoIsolate, err)
	}
	defer attach.Close()

	if _, err := attach.Conn.Write(payload); err != nil {
		return sandbox.Report{}, fmt.Errorf("docker: writing job: %w", err)
	}
	if err := attach.CloseWrite(); err != nil {
		return sandbox.Report{}, fmt.Errorf("docker: closing worker stdin: %w", err)
	}

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return sandbox.Report{}, fmt.Errorf("docker: reading worker output: %w", err)
		}
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return sandbox.Stopped(ctx), nil
		}
		b.logger.Warn("worker abandoned after its grace period", slog.String("container", containerID))
		return sandbox.TimedOut(job.Limits), nil
	}

	inspectCtx, inspectCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer inspectCancel()
	inspect, err := b.cli.ContainerExecInspect(inspectCtx, execResp.ID)
	if err != nil {
		return sandbox.Report{}, fmt.Errorf("docker: inspecting exec: %w", err)
	}
	return reportFromExit(inspect.ExitCode, stdout.Bytes(), stderr.String(), job.Limits)
}

// reportFromExit turns what a worker left behind into a report.
func reportFromExit(exitCode int, stdout []byte, stderr string, limits sandbox.RoundLimits) (sandbox.Report, error) {
	switch exitCode {
	case 0:
		return sandbox.DecodeReport(stdout)
	case exitKilled:
		return sandbox.OutOfMemory(limits), nil
	}
	line, _, _ := strings.Cut(strings.TrimSpace(stderr), "\n")
	return sandbox.Report{}, fmt.Errorf("docker: worker exited with code %d: %s", exitCode, line)
}
