package terminal

import "io"

// ptyHandle is a pseudo-terminal attached to a terminal process. Unix uses
// creack/pty, Windows uses ConPTY.
type ptyHandle interface {
	io.ReadWriteCloser
	Resize(cols, rows uint16) error
}

const (
	defaultPTYCols = 120
	defaultPTYRows = 40
)
