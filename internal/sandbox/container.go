package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"

	"github.com/tabulon-ai/tabulon/internal/dataset"
	apperr "github.com/tabulon-ai/tabulon/internal/errors"
)

// runnerPath is where the sandbox image installs the execution runner.
const runnerPath = "/usr/local/bin/tabulon-runner"

// teardownGrace is added to the program budget for the host-side wait, so the
// in-container timeout fires first and the host kill is only a backstop.
const teardownGrace = 5 * time.Second

// ContainerConfig configures the Docker backend.
type ContainerConfig struct {
	Image       string
	Timeout     time.Duration
	MemoryLimit int64 // bytes
	CPULimit    int
	MaxSteps    uint64

	// PoolSize > 0 enables container reuse through a pool instead of a fresh
	// container per execution.
	PoolSize            int
	MaxUsesPerContainer int
}

// Validate rejects unusable configuration before any container is created.
func (c ContainerConfig) Validate() error {
	if c.Image == "" {
		return fmt.Errorf("container image cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("sandbox timeout must be positive, got %v", c.Timeout)
	}
	if c.MemoryLimit <= 0 {
		return fmt.Errorf("sandbox memory limit must be positive, got %d", c.MemoryLimit)
	}
	return nil
}

// ContainerSandbox executes programs in network-disabled, resource-capped
// Docker containers. The dataset snapshot travels in over stdin and the
// result comes back over stdout.
type ContainerSandbox struct {
	cli  *client.Client
	cfg  ContainerConfig
	pool *ContainerPool
	log  *slog.Logger
}

// NewContainerSandbox creates the Docker backend, verifying the daemon is
// reachable and the image present.
func NewContainerSandbox(ctx context.Context, cfg ContainerConfig, log *slog.Logger) (*ContainerSandbox, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("Docker daemon not available: %w", err)
	}
	if err := pullImage(ctx, cli, cfg.Image); err != nil {
		cli.Close()
		return nil, err
	}

	s := &ContainerSandbox{cli: cli, cfg: cfg, log: log}

	if cfg.PoolSize > 0 {
		maxUses := cfg.MaxUsesPerContainer
		if maxUses <= 0 {
			maxUses = 25
		}
		pool, err := NewContainerPool(ctx, cli, PoolConfig{
			Size:                cfg.PoolSize,
			MaxUsesPerContainer: maxUses,
			Image:               cfg.Image,
			MemoryLimit:         cfg.MemoryLimit,
			CPULimit:            cfg.CPULimit,
			IdleTimeout:         5 * time.Minute,
			HealthCheckInterval: 30 * time.Second,
		}, log)
		if err != nil {
			cli.Close()
			return nil, err
		}
		s.pool = pool
	}

	return s, nil
}

// Execute runs one artifact in a fresh or pooled container.
func (s *ContainerSandbox) Execute(ctx context.Context, artifact CodeArtifact, snapshot dataset.Snapshot) (Result, error) {
	payload, err := json.Marshal(ExecRequest{
		Code:           artifact.Code,
		Frame:          snapshot,
		TimeoutSeconds: int(s.cfg.Timeout / time.Second),
		MaxSteps:       s.cfg.MaxSteps,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode execution request: %w", err)
	}

	if s.pool != nil {
		return s.executePooled(ctx, payload)
	}
	return s.executeFresh(ctx, payload)
}

// executeFresh runs the request in a one-shot container that is removed
// afterwards regardless of outcome.
func (s *ContainerSandbox) executeFresh(ctx context.Context, payload []byte) (Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout+teardownGrace)
	defer cancel()

	containerConfig := &container.Config{
		Image:       s.cfg.Image,
		Cmd:         strslice.StrSlice{runnerPath},
		User:        "1000:1000",
		OpenStdin:   true,
		AttachStdin: true,
		StdinOnce:   true,
		WorkingDir:  "/tmp",
	}
	hostConfig := hardenedHostConfig(s.cfg.MemoryLimit, s.cfg.CPULimit)

	resp, err := s.cli.ContainerCreate(execCtx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create container: %w", err)
	}
	// Removal uses a background context so cleanup still happens after the
	// execution context expires.
	defer func() {
		rmCtx, rmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer rmCancel()
		s.cli.ContainerRemove(rmCtx, resp.ID, types.ContainerRemoveOptions{Force: true})
	}()

	attach, err := s.cli.ContainerAttach(execCtx, resp.ID, types.ContainerAttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to attach to container: %w", err)
	}
	defer attach.Close()

	if err := s.cli.ContainerStart(execCtx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return Result{}, fmt.Errorf("failed to start container: %w", err)
	}

	if _, err := attach.Conn.Write(payload); err != nil {
		return Result{}, fmt.Errorf("failed to write execution request: %w", err)
	}
	attach.CloseWrite()

	statusCh, errCh := s.cli.ContainerWait(execCtx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return Result{}, fmt.Errorf("error waiting for container: %w", err)
		}
	case <-statusCh:
	case <-execCtx.Done():
		if ctx.Err() != nil {
			// Caller cancellation: the deferred force-remove kills the
			// container rather than detaching from it.
			return Result{}, ctx.Err()
		}
		return Failure(apperr.KindResourceExceeded,
			fmt.Sprintf("execution timed out after %v", s.cfg.Timeout), ""), nil
	}

	logCtx, logCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer logCancel()
	logReader, err := s.cli.ContainerLogs(logCtx, resp.ID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to get container logs: %w", err)
	}
	defer logReader.Close()

	var stdout, stderr strings.Builder
	if err := demuxStreams(logReader, &stdout, &stderr); err != nil {
		return Result{}, fmt.Errorf("failed to read container output: %w", err)
	}

	return s.decodeRunnerOutput(stdout.String(), stderr.String())
}

// executePooled runs the request via docker exec inside a pooled container.
func (s *ContainerSandbox) executePooled(ctx context.Context, payload []byte) (Result, error) {
	pc, err := s.pool.Get(ctx)
	if err != nil {
		return Result{}, err
	}
	defer s.pool.Return(pc)

	execCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout+teardownGrace)
	defer cancel()

	execResp, err := s.cli.ContainerExecCreate(execCtx, pc.ID, types.ExecConfig{
		Cmd:          []string{runnerPath},
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		pc.MarkUnhealthy()
		return Result{}, fmt.Errorf("failed to create exec in pooled container: %w", err)
	}

	attach, err := s.cli.ContainerExecAttach(execCtx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		pc.MarkUnhealthy()
		return Result{}, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	if _, err := attach.Conn.Write(payload); err != nil {
		pc.MarkUnhealthy()
		return Result{}, fmt.Errorf("failed to write execution request: %w", err)
	}
	attach.CloseWrite()

	var stdout, stderr strings.Builder
	done := make(chan error, 1)
	go func() {
		done <- demuxStreams(attach.Reader, &stdout, &stderr)
	}()

	select {
	case err := <-done:
		if err != nil && err != io.EOF {
			pc.MarkUnhealthy()
			return Result{}, fmt.Errorf("failed to read exec output: %w", err)
		}
	case <-execCtx.Done():
		// The runner outlived its budget; the container cannot be trusted
		// for reuse.
		pc.MarkUnhealthy()
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Failure(apperr.KindResourceExceeded,
			fmt.Sprintf("execution timed out after %v", s.cfg.Timeout), ""), nil
	}

	return s.decodeRunnerOutput(stdout.String(), stderr.String())
}

func (s *ContainerSandbox) decodeRunnerOutput(stdout, stderr string) (Result, error) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return Result{}, fmt.Errorf("runner produced no output (stderr: %s)", strings.TrimSpace(stderr))
	}
	// The response is the last line; anything before it is stray print output.
	lines := strings.Split(trimmed, "\n")
	res, err := DecodeResponse([]byte(lines[len(lines)-1]))
	if err != nil {
		return Result{}, fmt.Errorf("%w (stderr: %s)", err, strings.TrimSpace(stderr))
	}
	return res, nil
}

// Close tears down the pool and the Docker client.
func (s *ContainerSandbox) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return s.cli.Close()
}

// demuxStreams separates stdout and stderr from Docker's multiplexed stream.
// Each frame carries an 8-byte header: [type, 0, 0, 0, size×4].
func demuxStreams(reader io.Reader, stdout, stderr io.Writer) error {
	buf := make([]byte, 8)
	for {
		if _, err := io.ReadFull(reader, buf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}

		size := int(buf[4])<<24 | int(buf[5])<<16 | int(buf[6])<<8 | int(buf[7])
		payload := make([]byte, size)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return err
		}

		switch buf[0] {
		case 1:
			stdout.Write(payload)
		case 2:
			stderr.Write(payload)
		}
	}
}

// hardenedHostConfig carries the isolation flags every sandbox container
// gets, one-shot and pooled alike: no network, all capabilities dropped, no
// privilege escalation, a read-only root with /tmp on tmpfs.
func hardenedHostConfig(memoryLimit int64, cpuLimit int) *container.HostConfig {
	return &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:   memoryLimit,
			NanoCPUs: int64(cpuLimit) * 1_000_000_000,
		},
		CapDrop:        strslice.StrSlice{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": ""},
	}
}

// pullImage ensures the sandbox image is available locally.
func pullImage(ctx context.Context, cli *client.Client, image string) error {
	if _, _, err := cli.ImageInspectWithRaw(ctx, image); err == nil {
		return nil
	}

	reader, err := cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull sandbox image %s: %w", image, err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull sandbox image %s: %w", image, err)
	}
	return nil
}
