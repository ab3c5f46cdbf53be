package nsjail

import (
	"os"
	"strings"
)

// unprivilegedUserNamespacesEnabled reads the kernel's
// /proc/sys/kernel/unprivileged_userns_clone knob when present (Debian/
// Ubuntu-style kernels gate unprivileged CLONE_NEWUSER behind it); on
// kernels without that knob, unprivileged user namespaces are assumed
// enabled by default, matching upstream Linux's stock behavior.
func unprivilegedUserNamespacesEnabled() bool {
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err != nil {
		return true
	}
	return strings.TrimSpace(string(data)) != "0"
}

func osUID() int { return os.Getuid() }
func osGID() int { return os.Getgid() }
