// Package sandbox implements the sandbox supervisor (C4): a variant type
// over isolation backends presenting one contract, spawn(config) → handle.
// The package layout and handle shape follow Ruriko's runtime package
// (internal/ruriko/runtime): a small interface plus one backend per
// subpackage, selected at startup rather than per-request.
package sandbox

import (
	"context"
	"time"
)

// Tier is an optional bind-mounted directory tier beyond the four
// universal mounts (workspace rw, skills ro, identity ro, ipc-socket rw).
type Tier struct {
	Name     string
	HostPath string
	ReadOnly bool
}

// Spec describes one sandbox invocation, independent of backend.
type Spec struct {
	AgentID   string
	SessionID string

	WorkspaceDir string
	SkillsDir    string
	IdentityDir  string
	SocketDir    string
	Tiers        []Tier

	Command []string
	Env     map[string]string

	MemoryMB   int
	TimeoutSec int

	// KillGrace is added to TimeoutSec for the host-side SIGKILL timer,
	// defense in depth against a backend that ignores its own limit.
	KillGrace time.Duration
}

// Handle is a running (or exited) sandboxed process, backend-agnostic.
type Handle struct {
	ID        string
	PID       int
	StartedAt time.Time

	// ControlURL is an optional backend control endpoint; none of the
	// backends in this module set it.
	ControlURL string
}

// Status summarizes a Handle's current runtime state.
type Status struct {
	State      State
	StartedAt  time.Time
	FinishedAt time.Time
	ExitCode   int
	Error      string
}

// State is the closed set of sandbox lifecycle states.
type State int

const (
	StateUnknown State = iota
	StateCreated
	StateRunning
	StateStopped
	StateExited
	StatePaused
	StateRemoving
)

// Runtime is the contract every isolation backend must satisfy. All
// variants enforce five universal invariants: network denied by default,
// memory/wall-clock limits plus a host-side kill timer, filesystem scoped
// to the four mount points, minimized environment, and a cheap
// side-effect-free IsAvailable probe.
type Runtime interface {
	// IsAvailable reports whether this backend can be used on this host.
	// Must be side-effect-free and cheap to call at startup selection time.
	IsAvailable(ctx context.Context) bool

	Spawn(ctx context.Context, spec Spec) (Handle, error)
	Stop(ctx context.Context, handle Handle) error
	Start(ctx context.Context, handle Handle) error
	Restart(ctx context.Context, handle Handle) error
	Status(ctx context.Context, handle Handle) (Status, error)
	List(ctx context.Context) ([]Handle, error)
	Remove(ctx context.Context, handle Handle) error

	// Kill sends SIGKILL (or backend equivalent) unconditionally. Used by
	// the host-side kill timer armed by Select/Spawn callers.
	Kill(ctx context.Context, handle Handle) error
}

// minimalEnv builds the environment every backend must present: only the
// declared variables (workspace, skills, ipc socket, optional tiers, and a
// cache redirect to /tmp). Host home, host user, and host caches must
// never leak through.
func minimalEnv(spec Spec) map[string]string {
	env := map[string]string{
		"AX_WORKSPACE_DIR": "/workspace",
		"AX_SKILLS_DIR":    "/skills",
		"AX_IDENTITY_DIR":  "/identity",
		"AX_IPC_SOCKET":    "/ipc/ax.sock",
		"HOME":             "/tmp",
		"XDG_CACHE_HOME":   "/tmp/cache",
		"TMPDIR":           "/tmp",
	}
	for _, t := range spec.Tiers {
		env["AX_TIER_"+t.Name] = "/tiers/" + t.Name
	}
	for k, v := range spec.Env {
		env[k] = v
	}
	return env
}

// Select picks the strictest available backend from candidates, in the
// order given (strictest first). unsandboxed backends should always be
// passed last and the caller is expected to log a warning when one is
// selected.
func Select(ctx context.Context, candidates ...Runtime) (Runtime, bool) {
	for _, c := range candidates {
		if c.IsAvailable(ctx) {
			return c, true
		}
	}
	return nil, false
}

// ArmKillTimer schedules a host-side SIGKILL at spec's timeout plus its
// kill grace, as defense in depth against a backend that fails to enforce
// its own timeout. Returns a function to cancel the timer on clean exit.
func ArmKillTimer(rt Runtime, handle Handle, spec Spec) (cancel func()) {
	grace := spec.KillGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	deadline := time.Duration(spec.TimeoutSec)*time.Second + grace
	timer := time.AfterFunc(deadline, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = rt.Kill(ctx, handle)
	})
	return func() { timer.Stop() }
}
