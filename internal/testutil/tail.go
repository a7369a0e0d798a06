package testutil

import (
	"io"
	"sync"
)

// TailBuffer is a growing in-memory stream, like a log file still being
// written. Read returns io.EOF whenever the reader has caught up.
type TailBuffer struct {
	mu   sync.Mutex
	data []byte
	pos  int
}

// NewTailBuffer creates a TailBuffer holding initial.
func NewTailBuffer(initial []byte) *TailBuffer {
	return &TailBuffer{data: append([]byte(nil), initial...)}
}

// Write appends p.
func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = append(t.data, p...)
	return len(p), nil
}

// Read implements io.Reader.
func (t *TailBuffer) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pos >= len(t.data) {
		return 0, io.EOF
	}
	n := copy(p, t.data[t.pos:])
	t.pos += n
	return n, nil
}
