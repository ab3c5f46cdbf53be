// Package unsandboxed implements the weakest sandbox.Runtime backend: a
// bare os/exec.Cmd with no isolation beyond a minimized environment. It is
// always available and must only be selected after an explicit warning.
package unsandboxed

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/axrun/ax/internal/ax/sandbox"
)

// Backend implements sandbox.Runtime with no real isolation.
type Backend struct {
	mu    sync.Mutex
	procs map[string]*trackedProc
}

type trackedProc struct {
	cmd       *exec.Cmd
	startedAt time.Time
	done      chan struct{}
	exitCode  int
	exitErr   string
}

// New constructs an unsandboxed backend.
func New() *Backend {
	return &Backend{procs: make(map[string]*trackedProc)}
}

// IsAvailable is always true: os/exec has no environmental precondition.
func (b *Backend) IsAvailable(ctx context.Context) bool { return true }

// Spawn starts the given command directly on the host, with only the
// minimized environment variables set — no network, filesystem, or
// resource isolation is provided by this backend.
func (b *Backend) Spawn(ctx context.Context, spec sandbox.Spec) (sandbox.Handle, error) {
	if len(spec.Command) == 0 {
		return sandbox.Handle{}, fmt.Errorf("unsandboxed: spec.Command is required")
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.WorkspaceDir
	cmd.Env = nil
	for k, v := range minimalEnv(spec) {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	if err := cmd.Start(); err != nil {
		return sandbox.Handle{}, fmt.Errorf("unsandboxed: start: %w", err)
	}

	id := fmt.Sprintf("unsandboxed-%s-%d", spec.AgentID, cmd.Process.Pid)
	tp := &trackedProc{cmd: cmd, startedAt: time.Now(), done: make(chan struct{})}

	b.mu.Lock()
	b.procs[id] = tp
	b.mu.Unlock()

	go func() {
		err := cmd.Wait()
		b.mu.Lock()
		defer b.mu.Unlock()
		if err != nil {
			tp.exitErr = err.Error()
			if ee, ok := err.(*exec.ExitError); ok {
				tp.exitCode = ee.ExitCode()
			} else {
				tp.exitCode = -1
			}
		}
		close(tp.done)
	}()

	return sandbox.Handle{ID: id, PID: cmd.Process.Pid, StartedAt: tp.startedAt}, nil
}

// Stop sends SIGTERM and waits briefly before the caller's kill timer would
// escalate to SIGKILL.
func (b *Backend) Stop(ctx context.Context, handle sandbox.Handle) error {
	tp, ok := b.lookup(handle.ID)
	if !ok {
		return fmt.Errorf("unsandboxed: unknown handle %q", handle.ID)
	}
	return tp.cmd.Process.Signal(syscall.SIGTERM)
}

// Start is not supported: an unsandboxed process cannot be resumed once
// stopped, only re-spawned.
func (b *Backend) Start(ctx context.Context, handle sandbox.Handle) error {
	return fmt.Errorf("unsandboxed: Start is not supported, re-Spawn instead")
}

// Restart is not supported for the same reason as Start.
func (b *Backend) Restart(ctx context.Context, handle sandbox.Handle) error {
	return fmt.Errorf("unsandboxed: Restart is not supported, re-Spawn instead")
}

// Status reports the tracked process's current state.
func (b *Backend) Status(ctx context.Context, handle sandbox.Handle) (sandbox.Status, error) {
	tp, ok := b.lookup(handle.ID)
	if !ok {
		return sandbox.Status{State: sandbox.StateUnknown}, nil
	}
	select {
	case <-tp.done:
		b.mu.Lock()
		defer b.mu.Unlock()
		return sandbox.Status{State: sandbox.StateExited, StartedAt: tp.startedAt, ExitCode: tp.exitCode, Error: tp.exitErr}, nil
	default:
		return sandbox.Status{State: sandbox.StateRunning, StartedAt: tp.startedAt}, nil
	}
}

// List returns all processes this backend instance has spawned and still
// tracks.
func (b *Backend) List(ctx context.Context) ([]sandbox.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	handles := make([]sandbox.Handle, 0, len(b.procs))
	for id, tp := range b.procs {
		handles = append(handles, sandbox.Handle{ID: id, PID: tp.cmd.Process.Pid, StartedAt: tp.startedAt})
	}
	return handles, nil
}

// Remove kills the process if still running and drops it from tracking.
func (b *Backend) Remove(ctx context.Context, handle sandbox.Handle) error {
	_ = b.Kill(ctx, handle)
	b.mu.Lock()
	delete(b.procs, handle.ID)
	b.mu.Unlock()
	return nil
}

// Kill sends SIGKILL unconditionally.
func (b *Backend) Kill(ctx context.Context, handle sandbox.Handle) error {
	tp, ok := b.lookup(handle.ID)
	if !ok {
		return nil
	}
	if tp.cmd.Process == nil {
		return nil
	}
	return tp.cmd.Process.Kill()
}

func (b *Backend) lookup(id string) (*trackedProc, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tp, ok := b.procs[id]
	return tp, ok
}

func minimalEnv(spec sandbox.Spec) map[string]string {
	env := map[string]string{
		"AX_WORKSPACE_DIR": spec.WorkspaceDir,
		"AX_SKILLS_DIR":    spec.SkillsDir,
		"AX_IDENTITY_DIR":  spec.IdentityDir,
		"AX_IPC_SOCKET":    filepath.Join(spec.SocketDir, "ax.sock"),
		"HOME":             "/tmp",
		"TMPDIR":           "/tmp",
	}
	for k, v := range spec.Env {
		env[k] = v
	}
	return env
}
