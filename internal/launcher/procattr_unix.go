//go:build unix && !linux

package launcher

import (
	"os/exec"
	"syscall"
)

// ConfigureProcessGroup places the command in its own process group.
// Pdeathsig does not exist outside Linux; orphans rely on explicit teardown.
func ConfigureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// KillProcessGroup sends SIGKILL to the process group led by pid.
func KillProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

// TerminateProcessGroup sends SIGTERM to the process group led by pid.
func TerminateProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}
