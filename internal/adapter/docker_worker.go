package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"

	m "github.com/jugglinmike/test262-harness/internal/model"
)

const dockerProgramDir = "/harness"

// DockerWorker runs each execution in a throwaway container created from
// the configured image. The worker owns one API client for its lifetime.
type DockerWorker struct {
	id      string
	host    m.HostConfig
	cli     *client.Client
	workDir string

	mu        sync.Mutex
	seq       int
	container string
}

// NewDockerWorker connects to the docker daemon from the environment.
func NewDockerWorker(ctx context.Context, host m.HostConfig) (Worker, error) {
	if host.Image == "" {
		return nil, errors.New("docker host requires an image")
	}

	if host.Path == "" {
		host.Path = HostNode
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	if _, err := cli.Ping(ctx, client.PingOptions{}); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("pinging docker daemon: %w", err)
	}

	workDir, err := os.MkdirTemp("", "test262-harness-docker-*")
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("create worker dir: %w", err)
	}

	w := &DockerWorker{
		id:      "docker-" + uuid.NewString()[:8],
		host:    host,
		cli:     cli,
		workDir: workDir,
	}
	slog.Debug("Created docker worker", "worker", w.id, "image", host.Image)

	return w, nil
}

// ID implements Worker.
func (w *DockerWorker) ID() string {
	return w.id
}

// Execute implements Worker.
func (w *DockerWorker) Execute(ctx context.Context, job m.Execution) (m.RawResult, error) {
	program, err := WrapProgram(job, w.host)
	if err != nil {
		return m.RawResult{}, err
	}

	name, err := w.writeProgram(job.Scenario, program)
	if err != nil {
		return m.RawResult{}, err
	}

	defer func() { _ = os.Remove(filepath.Join(w.workDir, name)) }()

	cmd := append([]string{w.host.Path}, w.host.Args...)
	if job.Scenario.Metadata.Flags.Module {
		cmd = append(cmd, moduleFlags[filepath.Base(w.host.Path)]...)
	}

	cmd = append(cmd, path.Join(dockerProgramDir, name))

	created, err := w.cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config: &container.Config{
			Image:  w.host.Image,
			Cmd:    cmd,
			Labels: map[string]string{"test262-harness": w.id},
		},
		HostConfig: &container.HostConfig{
			Mounts: []mount.Mount{{
				Type:     mount.TypeBind,
				Source:   w.workDir,
				Target:   dockerProgramDir,
				ReadOnly: true,
			}},
			NetworkMode: "none",
		},
	})
	if err != nil {
		return m.RawResult{}, fmt.Errorf("creating container: %w", err)
	}

	w.setContainer(created.ID)
	defer w.removeContainer(created.ID)

	start := time.Now()
	if _, err := w.cli.ContainerStart(ctx, created.ID, client.ContainerStartOptions{}); err != nil {
		return m.RawResult{}, fmt.Errorf("starting container: %w", err)
	}

	exitCode, err := w.wait(ctx, created.ID)
	if err != nil {
		return m.RawResult{}, err
	}

	elapsed := time.Since(start)

	stdout, stderr, err := w.logs(ctx, created.ID)
	if err != nil {
		return m.RawResult{}, err
	}

	lines := splitLines(stdout)
	result := m.RawResult{
		Completion: m.Completed,
		Stdout:     lines,
		Stderr:     stderr,
		Error:      extractError(lines, stderr),
		Duration:   elapsed,
	}

	if result.Error == nil && exitCode != 0 {
		result.Error = &m.ErrorInfo{Name: "Error", Message: fmt.Sprintf("host exited with status %d", exitCode)}
	}

	return result, nil
}

func (w *DockerWorker) writeProgram(scenario *m.Scenario, program string) (string, error) {
	w.mu.Lock()
	w.seq++
	seq := w.seq
	w.mu.Unlock()

	name := fmt.Sprintf("t%d.js", seq)
	if scenario.Metadata.Flags.Module {
		name = fmt.Sprintf("t%d.mjs", seq)
	}

	if err := os.WriteFile(filepath.Join(w.workDir, name), []byte(program), 0o644); err != nil {
		return "", fmt.Errorf("write program: %w", err)
	}

	return name, nil
}

func (w *DockerWorker) wait(ctx context.Context, id string) (int64, error) {
	waitResult := w.cli.ContainerWait(ctx, id, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})

	for {
		select {
		case err := <-waitResult.Error:
			if err != nil {
				return 0, fmt.Errorf("waiting for container: %w", err)
			}
		case status := <-waitResult.Result:
			return status.StatusCode, nil
		case <-ctx.Done():
			return 0, fmt.Errorf("waiting for container: %w", ctx.Err())
		}
	}
}

func (w *DockerWorker) logs(ctx context.Context, id string) (string, string, error) {
	reader, err := w.cli.ContainerLogs(ctx, id, client.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("reading container logs: %w", err)
	}

	defer reader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return "", "", fmt.Errorf("demuxing container logs: %w", err)
	}

	return stdout.String(), stderr.String(), nil
}

func (w *DockerWorker) setContainer(id string) {
	w.mu.Lock()
	w.container = id
	w.mu.Unlock()
}

func (w *DockerWorker) removeContainer(id string) {
	w.mu.Lock()
	if w.container == id {
		w.container = ""
	}
	w.mu.Unlock()

	if _, err := w.cli.ContainerRemove(context.Background(), id, client.ContainerRemoveOptions{Force: true}); err != nil {
		slog.Warn("Failed to remove container", "worker", w.id, "container", id, "error", err)
	}
}

// Stop implements Worker by killing the running container.
func (w *DockerWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	id := w.container
	w.mu.Unlock()

	if id == "" {
		return nil
	}

	if _, err := w.cli.ContainerKill(ctx, id, client.ContainerKillOptions{Signal: "SIGKILL"}); err != nil {
		return fmt.Errorf("killing container %s: %w", id, err)
	}

	return nil
}

// Destroy implements Worker.
func (w *DockerWorker) Destroy(ctx context.Context) error {
	w.mu.Lock()
	id := w.container
	w.mu.Unlock()

	var errs []error

	if id != "" {
		if _, err := w.cli.ContainerRemove(ctx, id, client.ContainerRemoveOptions{Force: true}); err != nil {
			errs = append(errs, fmt.Errorf("removing container %s: %w", id, err))
		}
	}

	if err := w.cli.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing docker client: %w", err))
	}

	if err := os.RemoveAll(w.workDir); err != nil {
		errs = append(errs, fmt.Errorf("remove worker dir: %w", err))
	}

	return errors.Join(errs...)
}
