//go:build linux

package launcher

import (
	"os/exec"
	"syscall"
)

// ConfigureProcessGroup places the command in its own process group so the
// whole tree can be signalled together. Pdeathsig takes the child down if the
// adapter dies without running teardown.
func ConfigureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}

// KillProcessGroup sends SIGKILL to the process group led by pid.
func KillProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

// TerminateProcessGroup sends SIGTERM to the process group led by pid.
func TerminateProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}
