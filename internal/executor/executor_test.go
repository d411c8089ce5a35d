package executor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halia/internal/graph"
	"halia/internal/window"
	"halia/pkg/errors"
	"halia/pkg/message"
)

func build(t *testing.T, doc string) *graph.Graph {
	t.Helper()
	var conf graph.Conf
	require.NoError(t, json.Unmarshal([]byte(doc), &conf))
	g, err := graph.Build(conf)
	require.NoError(t, err)
	return g
}

func batchOf(name string, temps ...int64) *message.Batch {
	b := message.NewBatch()
	b.SetName(name)
	for _, v := range temps {
		msg := message.NewMessage()
		msg.Set("temp", message.Int(v))
		b.Append(msg)
	}
	return b
}

func temps(t *testing.T, b *message.Batch) []int64 {
	t.Helper()
	out := make([]int64, 0, b.Len())
	for _, m := range b.Messages() {
		v, ok := m.Get("temp")
		require.True(t, ok)
		n, ok := v.AsInt()
		require.True(t, ok)
		out = append(out, n)
	}
	return out
}

// harness wires one channel per source and sink node.
type harness struct {
	sources map[int]chan *message.Batch
	sinks   map[int]chan *message.Batch
	env     *Env
}

func newHarness(g *graph.Graph) *harness {
	h := &harness{
		sources: make(map[int]chan *message.Batch),
		sinks:   make(map[int]chan *message.Batch),
		env: &Env{
			RuleID:  "rule-test",
			Sources: make(map[int]<-chan *message.Batch),
			Sinks:   make(map[int]chan<- *message.Batch),
		},
	}
	for _, s := range g.Sources {
		ch := make(chan *message.Batch, 16)
		h.sources[s.Node.Index] = ch
		h.env.Sources[s.Node.Index] = ch
	}
	for _, s := range g.Sinks {
		ch := make(chan *message.Batch, 16)
		h.sinks[s.Node.Index] = ch
		h.env.Sinks[s.Node.Index] = ch
	}
	return h
}

func run(ctx context.Context, g *graph.Graph, env *Env) <-chan error {
	done := make(chan error, 1)
	go func() { done <- RunGraph(ctx, g, env) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("rule did not stop")
		return nil
	}
}

func receive(t *testing.T, ch <-chan *message.Batch) *message.Batch {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("no batch reached the sink")
		return nil
	}
}

const identity = `{
	"nodes": [
		{"index": 1, "node_type": "source", "source_id": "in"},
		{"index": 2, "node_type": "sink", "sink_id": "out"}
	],
	"edges": [{"source": 1, "target": 2}]
}`

func TestRunGraph_Identity(t *testing.T) {
	g := build(t, identity)
	h := newHarness(g)

	sent := []*message.Batch{batchOf("a", 1, 2), batchOf("b", 3)}
	for _, b := range sent {
		h.sources[1] <- b
	}
	close(h.sources[1])

	require.NoError(t, waitDone(t, run(context.Background(), g, h.env)))

	close(h.sinks[2])
	var got []*message.Batch
	for b := range h.sinks[2] {
		got = append(got, b)
	}
	require.Len(t, got, 2)
	for i := range sent {
		assert.True(t, sent[i].Equal(got[i]))
		assert.Equal(t, sent[i].Name(), got[i].Name())
	}
}

func TestRun_SharesBatchAcrossOutputs(t *testing.T) {
	g := build(t, `{
		"nodes": [
			{"index": 1, "node_type": "source", "source_id": "in"},
			{"index": 2, "node_type": "sink", "sink_id": "a"},
			{"index": 3, "node_type": "sink", "sink_id": "b"},
			{"index": 4, "node_type": "sink", "sink_id": "c"}
		],
		"edges": [{"source": 1, "target": 2}, {"source": 1, "target": 3}, {"source": 1, "target": 4}]
	}`)
	h := newHarness(g)
	h.sources[1] <- batchOf("x", 7)
	close(h.sources[1])

	source := g.Stages[0]
	require.NoError(t, Run(context.Background(), source, h.env))

	require.Len(t, source.Outbound, 3)
	var handles []message.RuleBatch
	for _, q := range source.Outbound {
		rb, ok := q.Recv(context.Background())
		require.True(t, ok)
		assert.True(t, rb.IsShared())
		handles = append(handles, rb)
	}
	assert.Same(t, handles[0].Batch(), handles[1].Batch())
	assert.Same(t, handles[1].Batch(), handles[2].Batch())

	for _, q := range source.Outbound {
		_, ok := q.Recv(context.Background())
		assert.False(t, ok, "outbound queue should be closed")
	}
}

func TestRunGraph_FilterDropsEmptyBatches(t *testing.T) {
	g := build(t, `{
		"nodes": [
			{"index": 1, "node_type": "source", "source_id": "in"},
			{"index": 2, "node_type": "filter", "filters": [{"type": "gt", "field": "temp", "value": 20}]},
			{"index": 3, "node_type": "sink", "sink_id": "out"}
		],
		"edges": [{"source": 1, "target": 2}, {"source": 2, "target": 3}]
	}`)
	h := newHarness(g)
	h.sources[1] <- batchOf("cold", 10, 15)
	h.sources[1] <- batchOf("mixed", 10, 30, 40)
	close(h.sources[1])

	require.NoError(t, waitDone(t, run(context.Background(), g, h.env)))

	close(h.sinks[3])
	var got []*message.Batch
	for b := range h.sinks[3] {
		got = append(got, b)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "mixed", got[0].Name())
	assert.Equal(t, []int64{30, 40}, temps(t, got[0]))
}

func TestRunGraph_MergeEmitsInUpstreamOrder(t *testing.T) {
	g := build(t, `{
		"nodes": [
			{"index": 1, "node_type": "source", "source_id": "left"},
			{"index": 2, "node_type": "source", "source_id": "right"},
			{"index": 3, "node_type": "merge"},
			{"index": 4, "node_type": "sink", "sink_id": "out"}
		],
		"edges": [{"source": 1, "target": 3}, {"source": 2, "target": 3}, {"source": 3, "target": 4}]
	}`)
	h := newHarness(g)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := run(ctx, g, h.env)

	h.sources[2] <- batchOf("right", 3, 4)
	h.sources[1] <- batchOf("left", 1, 2)

	out := receive(t, h.sinks[4])
	assert.Equal(t, "left", out.Name())
	assert.Equal(t, []int64{1, 2, 3, 4}, temps(t, out))

	cancel()
	require.NoError(t, waitDone(t, done))
}

func TestRunGraph_MergePairsBatchesByIndex(t *testing.T) {
	g := build(t, `{
		"nodes": [
			{"index": 1, "node_type": "source", "source_id": "left"},
			{"index": 2, "node_type": "source", "source_id": "right"},
			{"index": 3, "node_type": "merge"},
			{"index": 4, "node_type": "sink", "sink_id": "out"}
		],
		"edges": [{"source": 1, "target": 3}, {"source": 2, "target": 3}, {"source": 3, "target": 4}]
	}`)
	h := newHarness(g)
	h.sources[1] <- batchOf("left", 1)
	h.sources[1] <- batchOf("left", 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := run(ctx, g, h.env)

	select {
	case <-h.sinks[4]:
		t.Fatal("merge emitted before every upstream delivered")
	case <-time.After(50 * time.Millisecond):
	}

	h.sources[2] <- batchOf("right", 10)
	h.sources[2] <- batchOf("right", 20)

	assert.Equal(t, []int64{1, 10}, temps(t, receive(t, h.sinks[4])))
	assert.Equal(t, []int64{2, 20}, temps(t, receive(t, h.sinks[4])))

	cancel()
	require.NoError(t, waitDone(t, done))
}

func TestRunGraph_CountWindowFlushesOnClose(t *testing.T) {
	g := build(t, `{
		"nodes": [
			{"index": 1, "node_type": "source", "source_id": "in"},
			{"index": 2, "node_type": "window", "type": "count", "count": 2},
			{"index": 3, "node_type": "sink", "sink_id": "out"}
		],
		"edges": [{"source": 1, "target": 2}, {"source": 2, "target": 3}]
	}`)
	h := newHarness(g)
	for i := int64(1); i <= 3; i++ {
		h.sources[1] <- batchOf("w", i)
	}
	close(h.sources[1])

	require.NoError(t, waitDone(t, run(context.Background(), g, h.env)))

	close(h.sinks[3])
	var sizes []int
	for b := range h.sinks[3] {
		sizes = append(sizes, b.Len())
	}
	assert.Equal(t, []int{2, 1}, sizes)
}

func TestRunGraph_SessionWindowFiresOnTimer(t *testing.T) {
	g := build(t, `{
		"nodes": [
			{"index": 1, "node_type": "source", "source_id": "in"},
			{"index": 2, "node_type": "window", "type": "session", "timeout": 1000, "max": 5000},
			{"index": 3, "node_type": "sink", "sink_id": "out"}
		],
		"edges": [{"source": 1, "target": 2}, {"source": 2, "target": 3}]
	}`)
	h := newHarness(g)
	clock := clockwork.NewFakeClock()
	h.env.Clock = clock

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := run(ctx, g, h.env)

	h.sources[1] <- batchOf("s", 1, 2)

	// The session timer is armed only once the window holds data.
	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	select {
	case <-h.sinks[3]:
		t.Fatal("session closed before its timeout")
	default:
	}

	clock.Advance(time.Second)
	out := receive(t, h.sinks[3])
	assert.Equal(t, []int64{1, 2}, temps(t, out))

	cancel()
	require.NoError(t, waitDone(t, done))
}

// observedWindow signals every Add so a test knows an arrival was buffered.
type observedWindow struct {
	window.Window
	added chan struct{}
}

func (w observedWindow) Add(now time.Time, b *message.Batch) []*message.Batch {
	out := w.Window.Add(now, b)
	w.added <- struct{}{}
	return out
}

// windowSizes reports the size of every batch a window stage emits.
type windowSizes struct {
	sizes chan int
}

func (r *windowSizes) Record(node graph.Node, _, out int, _ time.Duration) {
	if node.Type == graph.NodeWindow {
		r.sizes <- out
	}
}

func TestRunGraph_PeriodicWindowTicks(t *testing.T) {
	const none = -1
	tests := []struct {
		name   string
		window string
		want   []int
	}{
		{
			name:   "tumbling emits empty ticks",
			window: `"type": "tumbling", "interval": 1000`,
			want:   []int{2, 0, 0, 0},
		},
		{
			name:   "sliding emits empty ticks",
			window: `"type": "sliding", "interval": 1000`,
			want:   []int{2, 0, 0, 0},
		},
		{
			name:   "hopping re-emits until the hop passes",
			window: `"type": "hopping", "interval": 1000, "hop": 2000`,
			want:   []int{2, 2, none, none},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := build(t, `{
				"nodes": [
					{"index": 1, "node_type": "source", "source_id": "in"},
					{"index": 2, "node_type": "window", `+tt.window+`},
					{"index": 3, "node_type": "sink", "sink_id": "out"}
				],
				"edges": [{"source": 1, "target": 2}, {"source": 2, "target": 3}]
			}`)
			added := make(chan struct{}, 1)
			g.Stages[1].Window = observedWindow{Window: g.Stages[1].Window, added: added}
			h := newHarness(g)
			clock := clockwork.NewFakeClock()
			h.env.Clock = clock
			rec := &windowSizes{sizes: make(chan int, 16)}
			h.env.Recorder = rec

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := run(ctx, g, h.env)

			h.sources[1] <- batchOf("w", 1, 2)
			select {
			case <-added:
			case <-time.After(2 * time.Second):
				t.Fatal("window never received the batch")
			}

			waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
			defer waitCancel()
			for i, want := range tt.want {
				require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
				clock.Advance(999 * time.Millisecond)
				clock.Advance(time.Millisecond)
				// The timer is re-armed only after the tick was emitted.
				require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

				select {
				case got := <-rec.sizes:
					assert.NotEqual(t, none, want, "tick %d emitted unexpectedly", i)
					assert.Equal(t, want, got, "tick %d", i)
				default:
					assert.Equal(t, none, want, "tick %d emitted nothing", i)
				}
				assert.Empty(t, rec.sizes, "tick %d emitted more than once", i)
			}

			out := receive(t, h.sinks[3])
			assert.Equal(t, []int64{1, 2}, temps(t, out))

			cancel()
			require.NoError(t, waitDone(t, done))
		})
	}
}

type panicking struct{}

func (panicking) Process(*message.Batch) { panic("boom") }

func TestRunGraph_RecoversStagePanic(t *testing.T) {
	g := build(t, `{
		"nodes": [
			{"index": 1, "node_type": "source", "source_id": "in"},
			{"index": 2, "node_type": "compute", "computes": [{"type": "number_abs", "field": "temp"}]},
			{"index": 3, "node_type": "sink", "sink_id": "out"}
		],
		"edges": [{"source": 1, "target": 2}, {"source": 2, "target": 3}]
	}`)
	g.Stages[1].Operator = panicking{}
	h := newHarness(g)
	h.sources[1] <- batchOf("p", 1)

	err := waitDone(t, run(context.Background(), g, h.env))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInternal)
	assert.Contains(t, err.Error(), "boom")

	assert.ErrorIs(t, g.Stages[1].Outbound[0].Push(message.Owned(batchOf("late", 1))), errors.ErrChannelClosed)
}

func TestRunGraph_StopsOnCancel(t *testing.T) {
	g := build(t, identity)
	h := newHarness(g)

	ctx, cancel := context.WithCancel(context.Background())
	done := run(ctx, g, h.env)

	h.sources[1] <- batchOf("a", 1)
	receive(t, h.sinks[2])

	cancel()
	require.NoError(t, waitDone(t, done))
	assert.ErrorIs(t, g.Stages[0].Outbound[0].Push(message.Owned(batchOf("late", 1))), errors.ErrChannelClosed)
}

func TestRun_MissingCollaborator(t *testing.T) {
	g := build(t, identity)
	err := Run(context.Background(), g.Stages[0], &Env{})
	assert.ErrorIs(t, err, errors.ErrInternal)
}

type recorder struct {
	events chan graph.NodeType
}

func (r *recorder) Record(node graph.Node, in, out int, _ time.Duration) {
	r.events <- node.Type
}

func TestRunGraph_RecordsEveryStage(t *testing.T) {
	g := build(t, identity)
	h := newHarness(g)
	rec := &recorder{events: make(chan graph.NodeType, 8)}
	h.env.Recorder = rec

	h.sources[1] <- batchOf("a", 1)
	close(h.sources[1])
	require.NoError(t, waitDone(t, run(context.Background(), g, h.env)))

	close(rec.events)
	var kinds []graph.NodeType
	for k := range rec.events {
		kinds = append(kinds, k)
	}
	assert.ElementsMatch(t, []graph.NodeType{graph.NodeSource, graph.NodeSink}, kinds)
}
