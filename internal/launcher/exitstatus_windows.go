//go:build windows

package launcher

import "os"

// ExitStatus extracts the exit code from a finished process. Windows has no
// terminating signals, so signal is always nil.
func ExitStatus(state *os.ProcessState) (code *int, signal *string) {
	if state == nil {
		return nil, nil
	}
	c := state.ExitCode()
	return &c, nil
}
