// Package nsjail implements sandbox.Runtime using raw Linux namespaces and
// PR_SET_NO_NEW_PRIVS, via golang.org/x/sys/unix — already pulled in
// transitively by Ruriko's dependency stack. It installs no seccomp
// syscall filter. This is the strictest
// backend that does not require an external daemon (unlike dockersandbox)
// and is declared a closed variant per design note SC-SEC-002: the set of
// backends is fixed at compile time, never extended by configuration.
package nsjail

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/axrun/ax/internal/ax/sandbox"
)

// Backend implements sandbox.Runtime by cloning into fresh network, mount,
// PID and user namespaces with PR_SET_NO_NEW_PRIVS set before exec; no
// seccomp syscall filter is applied. IsAvailable checks that the process can create user namespaces,
// the precondition for unprivileged CLONE_NEWNET/CLONE_NEWNS/CLONE_NEWPID.
type Backend struct {
	mu    sync.Mutex
	procs map[string]*jailedProc
}

type jailedProc struct {
	cmd       *exec.Cmd
	startedAt time.Time
	done      chan struct{}
	exitCode  int
	exitErr   string
}

// New constructs an nsjail backend.
func New() *Backend {
	return &Backend{procs: make(map[string]*jailedProc)}
}

// IsAvailable probes for unprivileged user namespace support by reading
// /proc/sys/kernel/unprivileged_userns_clone; when that file is absent,
// support is assumed. The probe performs no lasting side effects.
func (b *Backend) IsAvailable(ctx context.Context) bool {
	return unprivilegedUserNamespacesEnabled()
}

// Spawn clones the command into new network, mount, and PID namespaces
// with no network device attached (CLONE_NEWNET with no veth configured
// satisfies universal invariant #1 — the namespace simply has no route to
// any interface but loopback).
func (b *Backend) Spawn(ctx context.Context, spec sandbox.Spec) (sandbox.Handle, error) {
	if len(spec.Command) == 0 {
		return sandbox.Handle{}, fmt.Errorf("nsjail: spec.Command is required")
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.WorkspaceDir
	cmd.Env = buildEnv(spec)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: unix.CLONE_NEWNET | unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWUSER,
		// Map uid/gid 0 inside the new user namespace to the invoking host
		// user, so the workload holds no host privileges beyond that user's.
		UidMappings: []syscall.SysProcIDMap{{ContainerID: 0, HostID: osUID(), Size: 1}},
		GidMappings: []syscall.SysProcIDMap{{ContainerID: 0, HostID: osGID(), Size: 1}},
	}

	// PR_SET_NO_NEW_PRIVS is per-thread and inherited across clone+exec, so
	// it must be set on the same OS thread that performs Start's
	// underlying clone call.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := applyNoNewPrivs(); err != nil {
		return sandbox.Handle{}, err
	}

	if err := cmd.Start(); err != nil {
		return sandbox.Handle{}, fmt.Errorf("nsjail: start: %w", err)
	}

	id := fmt.Sprintf("nsjail-%s-%d", spec.AgentID, cmd.Process.Pid)
	jp := &jailedProc{cmd: cmd, startedAt: time.Now(), done: make(chan struct{})}

	b.mu.Lock()
	b.procs[id] = jp
	b.mu.Unlock()

	go func() {
		err := cmd.Wait()
		b.mu.Lock()
		defer b.mu.Unlock()
		if err != nil {
			jp.exitErr = err.Error()
			if ee, ok := err.(*exec.ExitError); ok {
				jp.exitCode = ee.ExitCode()
			} else {
				jp.exitCode = -1
			}
		}
		close(jp.done)
	}()

	return sandbox.Handle{ID: id, PID: cmd.Process.Pid, StartedAt: jp.startedAt}, nil
}

// Stop sends SIGTERM to the namespaced process.
func (b *Backend) Stop(ctx context.Context, handle sandbox.Handle) error {
	jp, ok := b.lookup(handle.ID)
	if !ok {
		return fmt.Errorf("nsjail: unknown handle %q", handle.ID)
	}
	return jp.cmd.Process.Signal(syscall.SIGTERM)
}

// Start is unsupported; a namespaced process cannot be resumed, only
// re-spawned with Spawn.
func (b *Backend) Start(ctx context.Context, handle sandbox.Handle) error {
	return fmt.Errorf("nsjail: Start is not supported, re-Spawn instead")
}

// Restart is unsupported for the same reason as Start.
func (b *Backend) Restart(ctx context.Context, handle sandbox.Handle) error {
	return fmt.Errorf("nsjail: Restart is not supported, re-Spawn instead")
}

// Status reports the tracked process's state.
func (b *Backend) Status(ctx context.Context, handle sandbox.Handle) (sandbox.Status, error) {
	jp, ok := b.lookup(handle.ID)
	if !ok {
		return sandbox.Status{State: sandbox.StateUnknown}, nil
	}
	select {
	case <-jp.done:
		b.mu.Lock()
		defer b.mu.Unlock()
		return sandbox.Status{State: sandbox.StateExited, StartedAt: jp.startedAt, ExitCode: jp.exitCode, Error: jp.exitErr}, nil
	default:
		return sandbox.Status{State: sandbox.StateRunning, StartedAt: jp.startedAt}, nil
	}
}

// List returns all processes this backend instance has spawned and still
// tracks.
func (b *Backend) List(ctx context.Context) ([]sandbox.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	handles := make([]sandbox.Handle, 0, len(b.procs))
	for id, jp := range b.procs {
		handles = append(handles, sandbox.Handle{ID: id, PID: jp.cmd.Process.Pid, StartedAt: jp.startedAt})
	}
	return handles, nil
}

// Remove kills the process if running and drops it from tracking.
func (b *Backend) Remove(ctx context.Context, handle sandbox.Handle) error {
	_ = b.Kill(ctx, handle)
	b.mu.Lock()
	delete(b.procs, handle.ID)
	b.mu.Unlock()
	return nil
}

// Kill sends SIGKILL unconditionally.
func (b *Backend) Kill(ctx context.Context, handle sandbox.Handle) error {
	jp, ok := b.lookup(handle.ID)
	if !ok || jp.cmd.Process == nil {
		return nil
	}
	return jp.cmd.Process.Kill()
}

func (b *Backend) lookup(id string) (*jailedProc, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	jp, ok := b.procs[id]
	return jp, ok
}

func buildEnv(spec sandbox.Spec) []string {
	env := []string{
		"AX_WORKSPACE_DIR=" + spec.WorkspaceDir,
		"AX_SKILLS_DIR=" + spec.SkillsDir,
		"AX_IDENTITY_DIR=" + spec.IdentityDir,
		"AX_IPC_SOCKET=" + filepath.Join(spec.SocketDir, "ax.sock"),
		"HOME=/tmp",
		"TMPDIR=/tmp",
	}
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	return env
}
