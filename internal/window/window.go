// Package window implements the count and time windows a rule can place
// between its stages.
//
// Windows are synchronous state machines. The caller feeds arrivals with Add,
// arms one timer at Deadline and calls Fire when it expires; every call takes
// the current time so the windows never read a clock themselves.
package window

import (
	"encoding/json"
	"time"

	"halia/internal/operator"
	"halia/pkg/errors"
	"halia/pkg/message"
)

const (
	TypeCount    = "count"
	TypeTumbling = "tumbling"
	TypeSliding  = "sliding"
	TypeHopping  = "hopping"
	TypeSession  = "session"
)

// Conf carries every window parameter; durations are milliseconds.
type Conf struct {
	Type     string `json:"type"`
	Count    int    `json:"count,omitempty"`
	Interval int64  `json:"interval,omitempty"`
	Hop      int64  `json:"hop,omitempty"`
	Timeout  int64  `json:"timeout,omitempty"`
	Max      int64  `json:"max,omitempty"`
}

type Window interface {
	// Start anchors time-based windows at now.
	Start(now time.Time)
	// Add buffers b and returns the batches that became complete.
	Add(now time.Time, b *message.Batch) []*message.Batch
	// Deadline reports when Fire should next be called.
	Deadline() (time.Time, bool)
	// Fire emits what is due at now. Periodic windows may emit empty batches.
	Fire(now time.Time) []*message.Batch
	// Flush returns whatever is still buffered, nil when nothing is.
	Flush() *message.Batch
}

func New(raw json.RawMessage) (Window, error) {
	var conf Conf
	if err := operator.DecodeConf(raw, &conf, "window"); err != nil {
		return nil, err
	}
	return NewFromConf(conf)
}

func NewFromConf(conf Conf) (Window, error) {
	switch conf.Type {
	case TypeCount:
		if conf.Count <= 0 {
			return nil, errors.ErrConfig.WithMessage("window: count must be positive")
		}
		return NewCount(conf.Count), nil
	case TypeTumbling, TypeSliding:
		if conf.Interval <= 0 {
			return nil, errors.ErrConfig.WithMessage("window: interval must be positive")
		}
		return NewTumbling(millis(conf.Interval)), nil
	case TypeHopping:
		if conf.Interval <= 0 || conf.Hop <= 0 {
			return nil, errors.ErrConfig.WithMessage("window: interval and hop must be positive")
		}
		return NewHopping(millis(conf.Interval), millis(conf.Hop)), nil
	case TypeSession:
		if conf.Timeout <= 0 || conf.Max <= 0 {
			return nil, errors.ErrConfig.WithMessage("window: timeout and max must be positive")
		}
		return NewSession(millis(conf.Timeout), millis(conf.Max)), nil
	}
	return nil, errors.ErrConfig.WithMessage("window: unknown type %q", conf.Type)
}

func millis(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

// Count emits batches of exactly n messages.
type Count struct {
	n   int
	buf *message.Batch
}

func NewCount(n int) *Count {
	return &Count{n: n, buf: message.NewBatch()}
}

func (w *Count) Start(time.Time) {}

// Add splits arrivals across window boundaries; the remainder opens the next
// window.
func (w *Count) Add(_ time.Time, b *message.Batch) []*message.Batch {
	if w.buf.IsEmpty() {
		w.buf.SetName(b.Name())
	}
	w.buf.Merge(b)

	var out []*message.Batch
	for w.buf.Len() >= w.n {
		out = append(out, w.buf.SplitAt(w.n))
	}
	return out
}

func (w *Count) Deadline() (time.Time, bool) { return time.Time{}, false }

func (w *Count) Fire(time.Time) []*message.Batch { return nil }

func (w *Count) Flush() *message.Batch { return take(&w.buf) }

// Tumbling emits everything gathered during each interval, one batch per
// elapsed boundary even when nothing arrived. Boundaries are anchored at
// Start, so a late Fire does not shift later ones.
type Tumbling struct {
	interval time.Duration
	next     time.Time
	buf      *message.Batch
}

func NewTumbling(interval time.Duration) *Tumbling {
	return &Tumbling{interval: interval, buf: message.NewBatch()}
}

func (w *Tumbling) Start(now time.Time) { w.next = now.Add(w.interval) }

func (w *Tumbling) Add(_ time.Time, b *message.Batch) []*message.Batch {
	if w.buf.IsEmpty() {
		w.buf.SetName(b.Name())
	}
	w.buf.Merge(b)
	return nil
}

func (w *Tumbling) Deadline() (time.Time, bool) { return w.next, true }

func (w *Tumbling) Fire(now time.Time) []*message.Batch {
	var out []*message.Batch
	for !w.next.After(now) {
		w.next = w.next.Add(w.interval)
		out = append(out, w.buf)
		w.buf = message.NewBatch()
	}
	return out
}

func (w *Tumbling) Flush() *message.Batch { return take(&w.buf) }

type arrival struct {
	at    time.Time
	batch *message.Batch
}

// Hopping emits, every interval, the arrivals of the last hop.
type Hopping struct {
	interval time.Duration
	hop      time.Duration
	next     time.Time
	queue    []arrival
}

func NewHopping(interval, hop time.Duration) *Hopping {
	return &Hopping{interval: interval, hop: hop}
}

func (w *Hopping) Start(now time.Time) { w.next = now.Add(w.interval) }

func (w *Hopping) Add(now time.Time, b *message.Batch) []*message.Batch {
	w.queue = append(w.queue, arrival{at: now, batch: b})
	return nil
}

func (w *Hopping) Deadline() (time.Time, bool) { return w.next, true }

func (w *Hopping) Fire(now time.Time) []*message.Batch {
	if now.Before(w.next) {
		return nil
	}
	for !w.next.After(now) {
		w.next = w.next.Add(w.interval)
	}

	cutoff := now.Add(-w.hop)
	i := 0
	for i < len(w.queue) && w.queue[i].at.Before(cutoff) {
		i++
	}
	w.queue = w.queue[i:]
	if len(w.queue) == 0 {
		return nil
	}

	out := message.NewBatch()
	out.SetName(w.queue[0].batch.Name())
	for _, a := range w.queue {
		out.Merge(a.batch.Clone())
	}
	if out.IsEmpty() {
		return nil
	}
	return []*message.Batch{out}
}

func (w *Hopping) Flush() *message.Batch {
	if len(w.queue) == 0 {
		return nil
	}
	out := message.NewBatch()
	out.SetName(w.queue[0].batch.Name())
	for _, a := range w.queue {
		out.Merge(a.batch)
	}
	w.queue = nil
	if out.IsEmpty() {
		return nil
	}
	return out
}

// Session groups arrivals separated by less than timeout, closing a session
// after max at the latest. A session opens on its first arrival, so it never
// emits empty.
type Session struct {
	timeout time.Duration
	max     time.Duration
	opened  time.Time
	last    time.Time
	buf     *message.Batch
}

func NewSession(timeout, max time.Duration) *Session {
	return &Session{timeout: timeout, max: max, buf: message.NewBatch()}
}

func (w *Session) Start(time.Time) {}

func (w *Session) Add(now time.Time, b *message.Batch) []*message.Batch {
	var out []*message.Batch
	if !w.buf.IsEmpty() && !now.Before(w.due()) {
		out = append(out, take(&w.buf))
	}
	if w.buf.IsEmpty() {
		w.opened = now
		w.buf.SetName(b.Name())
	}
	w.last = now
	w.buf.Merge(b)
	return out
}

func (w *Session) due() time.Time {
	idle := w.last.Add(w.timeout)
	limit := w.opened.Add(w.max)
	if limit.Before(idle) {
		return limit
	}
	return idle
}

func (w *Session) Deadline() (time.Time, bool) {
	if w.buf.IsEmpty() {
		return time.Time{}, false
	}
	return w.due(), true
}

func (w *Session) Fire(now time.Time) []*message.Batch {
	if w.buf.IsEmpty() || now.Before(w.due()) {
		return nil
	}
	return []*message.Batch{take(&w.buf)}
}

func (w *Session) Flush() *message.Batch { return take(&w.buf) }

// take hands out the buffer and replaces it with an empty one. It returns nil
// for an empty buffer.
func take(buf **message.Batch) *message.Batch {
	if (*buf).IsEmpty() {
		return nil
	}
	out := *buf
	*buf = message.NewBatch()
	return out
}
