package runner

import (
	"bytes"
	"fmt"
	"sync"
)

// outputTail keeps the most recent child output, at most limit bytes. Once
// output was dropped the kept text starts at a line boundary.
type outputTail struct {
	limit int

	mu      sync.Mutex
	written int64
	buf     []byte
}

func newOutputTail(limit int) *outputTail {
	if limit <= 0 {
		limit = defaultOutputTailBytes
	}
	return &outputTail{limit: limit}
}

func (t *outputTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.written += int64(len(p))
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		n := copy(t.buf, t.buf[over:])
		t.buf = t.buf[:n]
	}
	return len(p), nil
}

// String returns the kept output. Truncated output is prefixed with the
// number of bytes omitted.
func (t *outputTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int64(len(t.buf)) == t.written {
		return string(t.buf)
	}
	kept := t.buf
	if i := bytes.IndexByte(kept, '\n'); i >= 0 {
		kept = kept[i+1:]
	}
	return fmt.Sprintf("[%d bytes omitted]\n%s", t.written-int64(len(kept)), kept)
}

func (t *outputTail) Truncated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(len(t.buf)) < t.written
}
