//go:build windows

package launcher

import (
	"os/exec"
	"strconv"
	"syscall"
)

// ConfigureProcessGroup starts the command in a new process group.
func ConfigureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// KillProcessGroup force-kills the process tree rooted at pid.
func KillProcessGroup(pid int) error {
	return exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).Run()
}

// TerminateProcessGroup asks the process tree to close. Without /F taskkill
// sends WM_CLOSE, the nearest thing Windows has to SIGTERM.
func TerminateProcessGroup(pid int) error {
	return exec.Command("taskkill", "/T", "/PID", strconv.Itoa(pid)).Run()
}
