//go:build !windows

package terminal

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

type unixPTY struct {
	f *os.File
}

func (p *unixPTY) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *unixPTY) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *unixPTY) Close() error                { return p.f.Close() }

func (p *unixPTY) Resize(cols, rows uint16) error {
	return pty.Setsize(p.f, &pty.Winsize{Cols: cols, Rows: rows})
}

// startPTY starts cmd on a new pseudo-terminal. pty.StartWithSize calls
// cmd.Start itself.
func startPTY(cmd *exec.Cmd, cols, rows int) (ptyHandle, error) {
	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, err
	}
	return &unixPTY{f: f}, nil
}

func waitPTY(cmd *exec.Cmd) (*os.ProcessState, error) {
	err := cmd.Wait()
	return cmd.ProcessState, err
}
