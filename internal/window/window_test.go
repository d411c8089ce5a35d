package window

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halia/pkg/errors"
	"halia/pkg/message"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// seqBatch returns a batch of n messages numbered from first.
func seqBatch(first, n int) *message.Batch {
	b := message.NewBatch()
	b.SetName("plc-1")
	for i := 0; i < n; i++ {
		msg := message.NewMessage()
		msg.Set("seq", message.Int(int64(first+i)))
		b.Append(msg)
	}
	return b
}

func seqs(batches ...*message.Batch) []int64 {
	var out []int64
	for _, b := range batches {
		for _, m := range b.Messages() {
			v, _ := m.Get("seq")
			i, _ := v.AsInt()
			out = append(out, i)
		}
	}
	return out
}

func TestCount_PartitionsInput(t *testing.T) {
	sizes := []int{1, 4, 2, 7, 3, 1}
	w := NewCount(3)

	var emitted []*message.Batch
	next := 0
	for _, n := range sizes {
		emitted = append(emitted, w.Add(t0, seqBatch(next, n))...)
		next += n
	}

	require.Equal(t, next/3, len(emitted))
	for _, b := range emitted {
		assert.Equal(t, 3, b.Len())
		assert.Equal(t, "plc-1", b.Name())
	}
	want := make([]int64, next)
	for i := range want {
		want[i] = int64(i)
	}
	assert.Equal(t, want, seqs(emitted...))
	assert.Nil(t, w.Flush())
}

func TestCount_NeverFlushesEarly(t *testing.T) {
	w := NewCount(5)
	assert.Empty(t, w.Add(t0, seqBatch(0, 2)))
	assert.Empty(t, w.Add(t0, seqBatch(2, 2)))

	rest := w.Flush()
	require.NotNil(t, rest)
	assert.Equal(t, []int64{0, 1, 2, 3}, seqs(rest))
}

func TestTumbling_EmitsPerInterval(t *testing.T) {
	w := NewTumbling(time.Second)
	w.Start(t0)

	deadline, ok := w.Deadline()
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Second), deadline)

	w.Add(t0.Add(100*time.Millisecond), seqBatch(0, 2))
	w.Add(t0.Add(900*time.Millisecond), seqBatch(2, 1))
	assert.Empty(t, w.Fire(t0.Add(999*time.Millisecond)))

	out := w.Fire(t0.Add(time.Second))
	require.Len(t, out, 1)
	assert.Equal(t, []int64{0, 1, 2}, seqs(out...))

	out = w.Fire(t0.Add(2 * time.Second))
	require.Len(t, out, 1, "an empty interval still ticks")
	assert.True(t, out[0].IsEmpty())
}

func TestTumbling_FireBeforeDeadline(t *testing.T) {
	w := NewTumbling(time.Second)
	w.Start(t0)
	w.Add(t0, seqBatch(0, 1))

	assert.Empty(t, w.Fire(t0))
	assert.Empty(t, w.Fire(t0.Add(999*time.Millisecond)))
	assert.Equal(t, []int64{0}, seqs(w.Fire(t0.Add(time.Second))...))
}

func TestTumbling_LateFireKeepsAnchor(t *testing.T) {
	w := NewTumbling(time.Second)
	w.Start(t0)
	w.Add(t0, seqBatch(0, 1))

	out := w.Fire(t0.Add(2500 * time.Millisecond))
	require.Len(t, out, 2, "one batch per elapsed boundary")
	assert.Equal(t, []int64{0}, seqs(out[0]))
	assert.True(t, out[1].IsEmpty())
	deadline, _ := w.Deadline()
	assert.Equal(t, t0.Add(3*time.Second), deadline)
}

func TestSliding_IsTumbling(t *testing.T) {
	w, err := New(json.RawMessage(`{"type":"sliding","interval":1000}`))
	require.NoError(t, err)
	assert.IsType(t, &Tumbling{}, w)
}

func TestHopping_EvictsOlderThanHop(t *testing.T) {
	w := NewHopping(time.Second, 2*time.Second)
	w.Start(t0)

	w.Add(t0.Add(500*time.Millisecond), seqBatch(0, 1))
	out := w.Fire(t0.Add(time.Second))
	assert.Equal(t, []int64{0}, seqs(out...))

	w.Add(t0.Add(1500*time.Millisecond), seqBatch(1, 1))
	out = w.Fire(t0.Add(2 * time.Second))
	assert.Equal(t, []int64{0, 1}, seqs(out...), "overlapping windows re-emit")

	out = w.Fire(t0.Add(3 * time.Second))
	assert.Equal(t, []int64{1}, seqs(out...), "arrival at 0.5s is older than the hop")

	out = w.Fire(t0.Add(4 * time.Second))
	assert.Empty(t, out)
}

func TestHopping_EmittedBatchesAreIndependent(t *testing.T) {
	w := NewHopping(time.Second, 5*time.Second)
	w.Start(t0)
	w.Add(t0, seqBatch(0, 1))

	first := w.Fire(t0.Add(time.Second))
	require.Len(t, first, 1)
	first[0].Messages()[0].Set("seq", message.Int(99))

	second := w.Fire(t0.Add(2 * time.Second))
	assert.Equal(t, []int64{0}, seqs(second...))
}

func TestSession_MaxBoundsBurst(t *testing.T) {
	timeout, max := 100*time.Millisecond, 500*time.Millisecond
	w := NewSession(timeout, max)

	var emitted []*message.Batch
	at := t0
	for i := 0; i < 10; i++ {
		if deadline, ok := w.Deadline(); ok && !at.Before(deadline) {
			assert.Equal(t, t0.Add(max), deadline)
			emitted = append(emitted, w.Fire(deadline)...)
		}
		emitted = append(emitted, w.Add(at, seqBatch(i, 1))...)
		at = at.Add(80 * time.Millisecond)
	}

	require.NotEmpty(t, emitted)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6}, seqs(emitted[0]))
}

func TestSession_GapClosesImmediately(t *testing.T) {
	w := NewSession(100*time.Millisecond, time.Second)

	w.Add(t0, seqBatch(0, 1))
	w.Add(t0.Add(50*time.Millisecond), seqBatch(1, 1))

	deadline, ok := w.Deadline()
	require.True(t, ok)
	assert.Equal(t, t0.Add(150*time.Millisecond), deadline)

	assert.Empty(t, w.Fire(t0.Add(149*time.Millisecond)))
	out := w.Fire(deadline)
	assert.Equal(t, []int64{0, 1}, seqs(out...))

	_, ok = w.Deadline()
	assert.False(t, ok, "no session is open after emission")
	assert.Nil(t, w.Flush())
}

func TestSession_LateArrivalStartsNewSession(t *testing.T) {
	w := NewSession(100*time.Millisecond, time.Second)
	w.Add(t0, seqBatch(0, 1))

	out := w.Add(t0.Add(300*time.Millisecond), seqBatch(1, 1))
	assert.Equal(t, []int64{0}, seqs(out...))
	assert.Equal(t, []int64{1}, seqs(w.Flush()))
}

func TestNew_ConfigErrors(t *testing.T) {
	for _, conf := range []string{
		`{"type":"count","count":0}`,
		`{"type":"tumbling"}`,
		`{"type":"hopping","interval":1000}`,
		`{"type":"session","timeout":100}`,
		`{"type":"landmark"}`,
		`{"type":`,
	} {
		_, err := New(json.RawMessage(conf))
		require.Error(t, err, conf)
		assert.True(t, errors.IsConfig(err), conf)
	}
}
