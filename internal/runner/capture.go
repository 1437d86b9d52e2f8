package runner

import (
	"bytes"
	"io"
	"sync"
)

type stream int

const (
	streamStdout stream = iota
	streamStderr
)

// capture collects stdout and stderr separately and interleaved. Each
// buffer is capped; writes past the cap are dropped but still reported as
// written so the child never sees EPIPE.
type capture struct {
	mu        sync.Mutex
	limit     int64
	stdout    bytes.Buffer
	stderr    bytes.Buffer
	merged    bytes.Buffer
	truncated bool
}

func newCapture(limit int64) *capture {
	return &capture{limit: limit}
}

func (c *capture) writer(s stream) io.Writer {
	return &streamWriter{c: c, s: s}
}

func (c *capture) snapshot() (stdout, stderr, merged string, truncated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdout.String(), c.stderr.String(), c.merged.String(), c.truncated
}

func (c *capture) write(s stream, p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf := &c.stdout
	if s == streamStderr {
		buf = &c.stderr
	}
	c.append(buf, p, c.limit)
	c.append(&c.merged, p, 2*c.limit)
}

func (c *capture) append(buf *bytes.Buffer, p []byte, limit int64) {
	room := limit - int64(buf.Len())
	if room <= 0 {
		if len(p) > 0 {
			c.truncated = true
		}
		return
	}
	if int64(len(p)) > room {
		p = p[:room]
		c.truncated = true
	}
	buf.Write(p)
}

type streamWriter struct {
	c *capture
	s stream
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.c.write(w.s, p)
	return len(p), nil
}
