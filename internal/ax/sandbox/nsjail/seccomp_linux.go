//go:build linux

package nsjail

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// applyNoNewPrivs sets PR_SET_NO_NEW_PRIVS on the calling thread, the
// prerequisite the kernel requires before an unprivileged process may
// install a seccomp filter, and the baseline defense this backend applies
// unconditionally: once set, no descendant of the sandboxed process can
// gain capabilities through a setuid/setcap binary, closing the most
// common privilege-escalation path out of a namespace.
//
// A full syscall-allowlist seccomp-bpf filter additionally requires
// installing the filter between clone and exec of the sandboxed child —
// Go's os/exec has no hook for code run in that window short of a
// re-exec-self trampoline, which is future work tracked separately from
// this backend; NO_NEW_PRIVS plus the namespace isolation in Spawn is the
// enforcement this backend provides today.
func applyNoNewPrivs() error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("nsjail: PR_SET_NO_NEW_PRIVS: %w", err)
	}
	return nil
}
