package connector

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"halia/internal/config"
	"halia/internal/constants"
	"halia/pkg/message"
)

type retained struct {
	at    time.Time
	batch *message.Batch
}

// Retention holds the batches a sink could not deliver, bounded by policy.
type Retention struct {
	policy string
	count  int
	maxAge time.Duration
	clock  clockwork.Clock

	mu    sync.Mutex
	items []retained
}

func NewRetention(cfg config.RetentionConfig, clock clockwork.Clock) *Retention {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	policy := cfg.Policy
	if policy == "" {
		policy = constants.RetentionLatestCount
	}
	count := cfg.Count
	if policy == constants.RetentionLatestCount && count < 1 {
		count = constants.DefaultRetentionCount
	}
	return &Retention{policy: policy, count: count, maxAge: cfg.Duration, clock: clock}
}

// Keep stores b and reports how many batches the policy discarded.
func (r *Retention) Keep(b *message.Batch) int {
	if r.policy == constants.RetentionNone {
		return 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, retained{at: r.clock.Now(), batch: b})
	return r.trim()
}

// requeue puts batches back at the front in their original order after a
// failed flush, keeping their original arrival times.
func (r *Retention) requeue(items []retained) {
	if len(items) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(append([]retained(nil), items...), r.items...)
	r.trim()
}

// drain removes and returns everything still within policy, oldest first.
func (r *Retention) drain() []retained {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trim()
	out := r.items
	r.items = nil
	return out
}

func (r *Retention) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *Retention) trim() int {
	dropped := 0
	switch r.policy {
	case constants.RetentionLatestCount:
		if over := len(r.items) - r.count; over > 0 {
			clear(r.items[:over])
			r.items = r.items[over:]
			dropped = over
		}
	case constants.RetentionLatestTime:
		cutoff := r.clock.Now().Add(-r.maxAge)
		i := 0
		for i < len(r.items) && r.items[i].at.Before(cutoff) {
			i++
		}
		clear(r.items[:i])
		r.items = r.items[i:]
		dropped = i
	}
	return dropped
}
