// Package dockersandbox implements sandbox.Runtime on top of the Docker
// Engine API. Adapted directly from Ruriko's docker runtime adapter
// (internal/ruriko/runtime/docker/adapter.go): same client construction,
// same create/start/inspect sequence, same label-based List/Remove. Unlike
// Ruriko's adapter, every container is created with NetworkMode
// "none" and bind-mounted per sandbox.Spec's four mount points plus any
// optional tiers.
package dockersandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockerclient "github.com/docker/docker/client"

	"github.com/axrun/ax/internal/ax/sandbox"
)

const (
	labelManagedBy = "ax.managed-by"
	labelAgentID   = "ax.agent-id"
	managedByValue = "ax"

	stopTimeout = 10 * time.Second
)

// Backend implements sandbox.Runtime using a Docker daemon.
type Backend struct {
	client *dockerclient.Client
}

// New constructs a Backend talking to the Docker daemon configured by the
// environment (DOCKER_HOST or the default socket path), exactly as the
// Ruriko's adapter.New does.
func New() (*Backend, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("dockersandbox: client: %w", err)
	}
	return &Backend{client: cli}, nil
}

// IsAvailable pings the Docker daemon with a short timeout. Side-effect
// free beyond the ping itself.
func (b *Backend) IsAvailable(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := b.client.Ping(pingCtx)
	return err == nil
}

// Spawn creates and starts a container with no network attachment and the
// four mandated bind mounts (workspace rw, skills ro, identity ro, ipc
// socket dir rw), plus any optional tiers.
func (b *Backend) Spawn(ctx context.Context, spec sandbox.Spec) (sandbox.Handle, error) {
	if len(spec.Command) == 0 {
		return sandbox.Handle{}, fmt.Errorf("dockersandbox: spec.Command is required")
	}

	containerName := containerNameFor(spec.AgentID, spec.SessionID)

	env := []string{
		"AX_WORKSPACE_DIR=/workspace",
		"AX_SKILLS_DIR=/skills",
		"AX_IDENTITY_DIR=/identity",
		"AX_IPC_SOCKET=/ipc/ax.sock",
		"HOME=/tmp",
		"XDG_CACHE_HOME=/tmp/cache",
		"TMPDIR=/tmp",
	}
	for _, t := range spec.Tiers {
		env = append(env, fmt.Sprintf("AX_TIER_%s=/tiers/%s", t.Name, t.Name))
	}
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	labels := map[string]string{
		labelManagedBy: managedByValue,
		labelAgentID:   spec.AgentID,
	}

	containerCfg := &container.Config{
		Image:      imageForSpec(spec),
		Cmd:        spec.Command,
		Env:        env,
		Labels:     labels,
		WorkingDir: "/workspace",
	}

	binds := []string{
		spec.WorkspaceDir + ":/workspace:rw",
		spec.SkillsDir + ":/skills:ro",
		spec.IdentityDir + ":/identity:ro",
		spec.SocketDir + ":/ipc:rw",
	}
	for _, t := range spec.Tiers {
		mode := "rw"
		if t.ReadOnly {
			mode = "ro"
		}
		binds = append(binds, fmt.Sprintf("%s:/tiers/%s:%s", t.HostPath, t.Name, mode))
	}

	memBytes := int64(spec.MemoryMB) * 1024 * 1024
	hostCfg := &container.HostConfig{
		// NetworkMode "none": the only reachable network surface is the
		// IPC socket the supervisor bind-mounts in, never the container's
		// own interface.
		NetworkMode: "none",
		Binds:       binds,
		Resources: container.Resources{
			Memory: memBytes,
		},
		RestartPolicy: container.RestartPolicy{Name: "no"},
	}

	resp, err := b.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, containerName)
	if err != nil {
		return sandbox.Handle{}, fmt.Errorf("dockersandbox: create container: %w", err)
	}

	if err := b.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = b.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return sandbox.Handle{}, fmt.Errorf("dockersandbox: start container: %w", err)
	}

	return sandbox.Handle{
		ID:        resp.ID,
		StartedAt: time.Now(),
	}, nil
}

// Stop gracefully stops the container, same stopTimeout as Ruriko's
// adapter.
func (b *Backend) Stop(ctx context.Context, handle sandbox.Handle) error {
	timeout := int(stopTimeout.Seconds())
	if err := b.client.ContainerStop(ctx, handle.ID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("dockersandbox: stop container %s: %w", handle.ID, err)
	}
	return nil
}

// Start restarts a previously stopped container without recreating it.
func (b *Backend) Start(ctx context.Context, handle sandbox.Handle) error {
	if err := b.client.ContainerStart(ctx, handle.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("dockersandbox: start container %s: %w", handle.ID, err)
	}
	return nil
}

// Restart stops then starts the container.
func (b *Backend) Restart(ctx context.Context, handle sandbox.Handle) error {
	timeout := int(stopTimeout.Seconds())
	if err := b.client.ContainerRestart(ctx, handle.ID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("dockersandbox: restart container %s: %w", handle.ID, err)
	}
	return nil
}

// Status inspects the container for its current lifecycle state.
func (b *Backend) Status(ctx context.Context, handle sandbox.Handle) (sandbox.Status, error) {
	inspect, err := b.client.ContainerInspect(ctx, handle.ID)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return sandbox.Status{State: sandbox.StateUnknown}, nil
		}
		return sandbox.Status{}, fmt.Errorf("dockersandbox: inspect container: %w", err)
	}

	state := parseContainerState(inspect.State.Status)
	startedAt, _ := time.Parse(time.RFC3339Nano, inspect.State.StartedAt)
	finishedAt, _ := time.Parse(time.RFC3339Nano, inspect.State.FinishedAt)

	return sandbox.Status{
		State:      state,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		ExitCode:   inspect.State.ExitCode,
		Error:      inspect.State.Error,
	}, nil
}

// List returns handles for all ax-managed containers.
func (b *Backend) List(ctx context.Context) ([]sandbox.Handle, error) {
	containers, err := b.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelManagedBy+"="+managedByValue)),
	})
	if err != nil {
		return nil, fmt.Errorf("dockersandbox: list containers: %w", err)
	}

	handles := make([]sandbox.Handle, 0, len(containers))
	for _, c := range containers {
		handles = append(handles, sandbox.Handle{ID: c.ID})
	}
	return handles, nil
}

// Remove stops then force-removes the container.
func (b *Backend) Remove(ctx context.Context, handle sandbox.Handle) error {
	_ = b.Stop(ctx, handle)
	if err := b.client.ContainerRemove(ctx, handle.ID, container.RemoveOptions{Force: true}); err != nil {
		if !dockerclient.IsErrNotFound(err) {
			return fmt.Errorf("dockersandbox: remove container: %w", err)
		}
	}
	return nil
}

// Kill issues an immediate SIGKILL, used by the host-side kill timer.
func (b *Backend) Kill(ctx context.Context, handle sandbox.Handle) error {
	if err := b.client.ContainerKill(ctx, handle.ID, "SIGKILL"); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("dockersandbox: kill container %s: %w", handle.ID, err)
	}
	return nil
}

func containerNameFor(agentID, sessionID string) string {
	return fmt.Sprintf("ax-%s-%s", agentID, sessionID)
}

func imageForSpec(spec sandbox.Spec) string {
	if img, ok := spec.Env["AX_SANDBOX_IMAGE"]; ok && img != "" {
		return img
	}
	return "ax/agent-runtime:latest"
}

func parseContainerState(s string) sandbox.State {
	switch strings.ToLower(s) {
	case "running":
		return sandbox.StateRunning
	case "stopped":
		return sandbox.StateStopped
	case "exited":
		return sandbox.StateExited
	case "created":
		return sandbox.StateCreated
	case "paused":
		return sandbox.StatePaused
	case "removing":
		return sandbox.StateRemoving
	default:
		return sandbox.StateUnknown
	}
}

