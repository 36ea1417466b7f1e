package exec

import (
	"bytes"
	"io"
)

// limitedBuffer accumulates process output as it is produced. With a
// positive limit, bytes beyond it are discarded and truncated is set; the
// writer keeps accepting so the child never blocks on a full pipe.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if l.limit <= 0 {
		return l.buf.Write(p)
	}
	remaining := l.limit - l.buf.Len()
	if remaining <= 0 {
		l.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		l.truncated = true
		_, _ = l.buf.Write(p[:remaining])
		return len(p), nil
	}
	return l.buf.Write(p)
}

func (l *limitedBuffer) String() string {
	return l.buf.String()
}

var _ io.Writer = (*limitedBuffer)(nil)
