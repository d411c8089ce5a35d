package message

import "sync/atomic"

const DefaultBatchName = "_none"

type Batch struct {
	name     string
	messages []*Message
}

func NewBatch(msgs ...*Message) *Batch {
	return &Batch{name: DefaultBatchName, messages: msgs}
}

func (b *Batch) Name() string { return b.name }

func (b *Batch) SetName(name string) { b.name = name }

func (b *Batch) Append(m *Message) { b.messages = append(b.messages, m) }

// Merge appends other's messages after the receiver's. other must not be used
// by the caller afterwards unless it was only read.
func (b *Batch) Merge(other *Batch) {
	if other == nil {
		return
	}
	b.messages = append(b.messages, other.messages...)
}

func (b *Batch) Len() int { return len(b.messages) }

func (b *Batch) IsEmpty() bool { return len(b.messages) == 0 }

func (b *Batch) Clear() { b.messages = b.messages[:0] }

func (b *Batch) Messages() []*Message { return b.messages }

// Retain keeps the messages for which keep returns true, preserving order.
func (b *Batch) Retain(keep func(*Message) bool) {
	kept := b.messages[:0]
	for _, m := range b.messages {
		if keep(m) {
			kept = append(kept, m)
		}
	}
	for i := len(kept); i < len(b.messages); i++ {
		b.messages[i] = nil
	}
	b.messages = kept
}

// SplitAt moves the first n messages into a new batch with the same name.
func (b *Batch) SplitAt(n int) *Batch {
	if n > len(b.messages) {
		n = len(b.messages)
	}
	head := make([]*Message, n)
	copy(head, b.messages[:n])
	rest := make([]*Message, len(b.messages)-n)
	copy(rest, b.messages[n:])
	b.messages = rest
	return &Batch{name: b.name, messages: head}
}

// Clone deep-copies every message.
func (b *Batch) Clone() *Batch {
	out := &Batch{name: b.name, messages: make([]*Message, len(b.messages))}
	for i, m := range b.messages {
		out.messages[i] = m.Clone()
	}
	return out
}

func (b *Batch) Equal(o *Batch) bool {
	if b.Len() != o.Len() {
		return false
	}
	for i := range b.messages {
		if !b.messages[i].Equal(o.messages[i]) {
			return false
		}
	}
	return true
}

// Shared is a batch handed to several consumers without copying. It is
// immutable once created.
type Shared struct {
	batch *Batch
	refs  atomic.Int64
}

func NewShared(b *Batch) *Shared {
	return &Shared{batch: b}
}

// Retain adds one reference and returns a handle for a single consumer.
func (s *Shared) Retain() RuleBatch {
	s.refs.Add(1)
	return RuleBatch{shared: s}
}

func (s *Shared) Refs() int64 { return s.refs.Load() }

// RuleBatch is the unit moved between stages. An owned batch belongs to the
// receiver; a shared one must be copied before mutation.
type RuleBatch struct {
	owned  *Batch
	shared *Shared
}

func Owned(b *Batch) RuleBatch { return RuleBatch{owned: b} }

// Fanout wraps b for n consumers. One consumer gets the batch itself; several
// consumers get handles to a single Shared with n references.
func Fanout(b *Batch, n int) []RuleBatch {
	if n <= 1 {
		return []RuleBatch{Owned(b)}
	}
	s := NewShared(b)
	out := make([]RuleBatch, n)
	for i := range out {
		out[i] = s.Retain()
	}
	return out
}

func (r RuleBatch) IsShared() bool { return r.shared != nil }

// Batch returns a read-only view. Callers must not mutate a shared batch.
func (r RuleBatch) Batch() *Batch {
	if r.shared != nil {
		return r.shared.batch
	}
	return r.owned
}

func (r RuleBatch) Len() int {
	if b := r.Batch(); b != nil {
		return b.Len()
	}
	return 0
}

// Take returns a batch the caller may mutate and releases the handle. The
// last holder of a shared batch reclaims it without copying.
func (r RuleBatch) Take() *Batch {
	if r.shared == nil {
		return r.owned
	}
	if r.shared.refs.Load() == 1 {
		r.shared.refs.Store(0)
		return r.shared.batch
	}
	b := r.shared.batch.Clone()
	r.shared.refs.Add(-1)
	return b
}

// Release drops the handle without reading the batch.
func (r RuleBatch) Release() {
	if r.shared != nil {
		r.shared.refs.Add(-1)
	}
}
