package supervisor

import (
	"io"
	"strings"
	"sync"
)

// StreamLog accumulates everything a child process writes to one stream.
// It only grows; readers see the text accumulated so far.
type StreamLog struct {
	mu     sync.Mutex
	buf    strings.Builder
	mirror io.Writer
}

func newStreamLog(mirror io.Writer) *StreamLog {
	return &StreamLog{mirror: mirror}
}

// Write appends p and forwards it to the mirror, if any. Mirror failures are
// ignored so a full disk never stalls the child's pipe.
func (l *StreamLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.Write(p)
	if l.mirror != nil {
		_, _ = l.mirror.Write(p)
	}
	return len(p), nil
}

// String returns the accumulated text. Invalid UTF-8 is replaced.
func (l *StreamLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.ToValidUTF8(l.buf.String(), "�")
}

// Len returns the number of bytes accumulated so far
func (l *StreamLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Len()
}
