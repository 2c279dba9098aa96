//go:build !windows

package launcher

import (
	"os"
	"syscall"
)

// ExitStatus extracts the exit code and terminating signal from a finished
// process. Exactly one of the two is set.
func ExitStatus(state *os.ProcessState) (code *int, signal *string) {
	if state == nil {
		return nil, nil
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		name := ws.Signal().String()
		return nil, &name
	}
	c := state.ExitCode()
	return &c, nil
}
