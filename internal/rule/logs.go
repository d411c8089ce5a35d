package rule

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"halia/internal/graph"
)

// logRing keeps the most recent execution entries of one rule. It records
// only while enabled.
type logRing struct {
	clock clockwork.Clock

	mu      sync.Mutex
	enabled bool
	buf     []LogEntry
	next    int
	full    bool
}

func newLogRing(size int, clock clockwork.Clock) *logRing {
	if size < 1 {
		size = 1
	}
	return &logRing{clock: clock, buf: make([]LogEntry, size)}
}

func (l *logRing) Record(node graph.Node, in, out int, elapsed time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return
	}
	l.buf[l.next] = LogEntry{
		Time:      l.clock.Now().UTC(),
		NodeIndex: node.Index,
		NodeType:  string(node.Type),
		In:        in,
		Out:       out,
		ElapsedMs: float64(elapsed.Microseconds()) / 1000,
	}
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
}

func (l *logRing) setEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
}

func (l *logRing) isEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// tail returns up to limit of the newest entries, oldest first. A limit
// below one returns everything held.
func (l *logRing) tail(limit int) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.next
	if l.full {
		n = len(l.buf)
	}
	if limit < 1 || limit > n {
		limit = n
	}
	out := make([]LogEntry, 0, limit)
	start := l.next - limit
	if start < 0 {
		start += len(l.buf)
	}
	for i := 0; i < limit; i++ {
		out = append(out, l.buf[(start+i)%len(l.buf)])
	}
	return out
}
