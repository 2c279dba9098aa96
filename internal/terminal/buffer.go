package terminal

import (
	"sync"
	"unicode/utf8"
)

// outputBuffer accumulates combined terminal output, keeping at most limit
// bytes. Older bytes are dropped first and the kept tail always starts on a
// rune boundary.
type outputBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func newOutputBuffer(limit int) *outputBuffer {
	return &outputBuffer{limit: max(0, limit)}
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}
	if b.limit == 0 {
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	b.trimLocked()
	return len(p), nil
}

func (b *outputBuffer) trimLocked() {
	if len(b.buf) <= b.limit {
		return
	}
	b.truncated = true
	start := len(b.buf) - b.limit
	for start < len(b.buf) && !utf8.RuneStart(b.buf[start]) {
		start++
	}
	b.buf = append(b.buf[:0:0], b.buf[start:]...)
}

// Snapshot returns the buffered output and whether anything was dropped.
func (b *outputBuffer) Snapshot() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf), b.truncated
}

func (b *outputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}
