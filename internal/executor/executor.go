// Package executor runs the stages of a built rule graph, one goroutine per
// stage.
package executor

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"halia/internal/graph"
	"halia/internal/logger"
	"halia/pkg/errors"
	"halia/pkg/logging"
	"halia/pkg/message"
	"halia/pkg/metrics"
)

// Recorder receives one event per batch a stage handles. Rule execution logs
// implement it.
type Recorder interface {
	Record(node graph.Node, in, out int, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) Record(graph.Node, int, int, time.Duration) {}

// Env carries what stages need beyond the graph: collaborator channels keyed
// by node index, a clock for window timers and the observers.
type Env struct {
	RuleID   string
	Sources  map[int]<-chan *message.Batch
	Sinks    map[int]chan<- *message.Batch
	Clock    clockwork.Clock
	Logger   logger.Logger
	Recorder Recorder
}

func (e *Env) withDefaults() *Env {
	out := *e
	if out.Clock == nil {
		out.Clock = clockwork.NewRealClock()
	}
	if out.Logger == nil {
		out.Logger = logger.NopLogger()
	}
	if out.Recorder == nil {
		out.Recorder = nopRecorder{}
	}
	return &out
}

// RunGraph runs every stage of g until all of them return. The first stage
// failure cancels the others.
func RunGraph(ctx context.Context, g *graph.Graph, env *Env) error {
	env = env.withDefaults()
	eg, ctx := errgroup.WithContext(ctx)
	for _, s := range g.Stages {
		eg.Go(func() error {
			return Run(ctx, s, env)
		})
	}
	return eg.Wait()
}

// Run executes one stage until its input closes or ctx is cancelled. Either
// way the stage closes its outbound queues before returning so downstream
// stages observe the end of the stream.
func Run(ctx context.Context, s *graph.Stage, env *Env) (err error) {
	env = env.withDefaults()
	nodeType := string(s.Node.Type)
	ctx = logging.WithRuleID(ctx, env.RuleID)
	ctx = logging.WithNodeIndex(ctx, s.Node.Index)
	r := &runner{stage: s, env: env, nodeType: nodeType}

	defer func() {
		if p := recover(); p != nil {
			err = errors.RecoverPanic(p)
			metrics.IncStagePanic(env.RuleID, nodeType)
			env.Logger.ErrorwCtx(ctx, "stage panicked", "node_type", nodeType, "error", err)
		}
		r.closeOutputs()
	}()

	switch s.Node.Type {
	case graph.NodeSource:
		return r.runSource(ctx)
	case graph.NodeSink:
		return r.runSink(ctx)
	case graph.NodeMerge:
		return r.runMerge(ctx)
	case graph.NodeWindow:
		return r.runWindow(ctx)
	case graph.NodeFilter, graph.NodeCompute, graph.NodeAggregate:
		return r.runOperator(ctx)
	}
	return errors.ErrConfig.WithMessage("node %d: unsupported node_type %q", s.Node.Index, s.Node.Type)
}

type runner struct {
	stage    *graph.Stage
	env      *Env
	nodeType string
}

func stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (r *runner) runSource(ctx context.Context) error {
	rx, ok := r.env.Sources[r.stage.Node.Index]
	if !ok {
		return errors.ErrInternal.WithMessage("source node %d has no receiver", r.stage.Node.Index)
	}
	for {
		if stopped(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-rx:
			if !ok {
				r.env.Logger.InfowCtx(ctx, "source closed", "source_id", r.stage.SourceID)
				return nil
			}
			r.env.Recorder.Record(r.stage.Node, b.Len(), b.Len(), 0)
			metrics.AddStageMessages(r.env.RuleID, r.nodeType, "in", b.Len())
			r.forward(b)
		}
	}
}

func (r *runner) runSink(ctx context.Context) error {
	tx, ok := r.env.Sinks[r.stage.Node.Index]
	if !ok {
		return errors.ErrInternal.WithMessage("sink node %d has no sender", r.stage.Node.Index)
	}
	in := graph.FanIn(ctx, r.stage.Inbound)
	for {
		if stopped(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case input, ok := <-in:
			if !ok {
				return nil
			}
			b := input.Batch.Take()
			if b.IsEmpty() {
				continue
			}
			select {
			case tx <- b:
				r.env.Recorder.Record(r.stage.Node, b.Len(), b.Len(), 0)
				metrics.AddStageMessages(r.env.RuleID, r.nodeType, "out", b.Len())
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (r *runner) runOperator(ctx context.Context) error {
	in := graph.FanIn(ctx, r.stage.Inbound)
	for {
		if stopped(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case input, ok := <-in:
			if !ok {
				return nil
			}
			b := input.Batch.Take()
			n := b.Len()
			start := time.Now()
			if !b.IsEmpty() {
				r.stage.Operator.Process(b)
			}
			elapsed := time.Since(start)
			metrics.ObserveStageDuration(r.nodeType, elapsed)
			r.env.Recorder.Record(r.stage.Node, n, b.Len(), elapsed)
			r.forward(b)
		}
	}
}

// runMerge pairs the k-th batch of every upstream and emits them in upstream
// order. Batches from an upstream that is ahead wait in its pending list.
func (r *runner) runMerge(ctx context.Context) error {
	in := graph.FanIn(ctx, r.stage.Inbound)
	pending := make([][]*message.Batch, len(r.stage.Inbound))
	ready := func() bool {
		for _, list := range pending {
			if len(list) == 0 {
				return false
			}
		}
		return true
	}
	for {
		if stopped(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case input, ok := <-in:
			if !ok {
				return nil
			}
			pending[input.Index] = append(pending[input.Index], input.Batch.Take())
			if !ready() {
				continue
			}

			out := message.NewBatch()
			out.SetName(pending[0][0].Name())
			total := 0
			for i, list := range pending {
				total += list[0].Len()
				out.Merge(list[0])
				list[0] = nil
				pending[i] = list[1:]
			}
			r.env.Recorder.Record(r.stage.Node, total, out.Len(), 0)
			r.forward(out)
		}
	}
}

func (r *runner) runWindow(ctx context.Context) error {
	w := r.stage.Window
	clock := r.env.Clock
	w.Start(clock.Now())

	timer := clock.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	var armed time.Time
	arm := func() {
		deadline, ok := w.Deadline()
		if !ok {
			if !armed.IsZero() {
				timer.Stop()
				armed = time.Time{}
			}
			return
		}
		if deadline.Equal(armed) {
			return
		}
		timer.Stop()
		timer.Reset(deadline.Sub(clock.Now()))
		armed = deadline
	}

	in := graph.FanIn(ctx, r.stage.Inbound)
	arm()
	for {
		if stopped(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-timer.Chan():
			armed = time.Time{}
			for _, b := range w.Fire(clock.Now()) {
				r.emitWindow(b)
			}
			arm()
		case input, ok := <-in:
			if !ok {
				if b := w.Flush(); b != nil {
					r.emitWindow(b)
				}
				return nil
			}
			b := input.Batch.Take()
			metrics.AddStageMessages(r.env.RuleID, r.nodeType, "in", b.Len())
			for _, out := range w.Add(clock.Now(), b) {
				r.emitWindow(out)
			}
			arm()
		}
	}
}

// emitWindow passes empty batches on as well; a periodic window ticks even
// when nothing arrived.
func (r *runner) emitWindow(b *message.Batch) {
	r.env.Recorder.Record(r.stage.Node, b.Len(), b.Len(), 0)
	r.push(b)
}

// forward drops an empty batch and otherwise pushes it downstream.
func (r *runner) forward(b *message.Batch) {
	if b.IsEmpty() {
		metrics.IncStageBatch(r.env.RuleID, r.nodeType, "dropped")
		return
	}
	r.push(b)
}

// push hands b to every outbound queue: owned for a single consumer, one
// shared copy otherwise.
func (r *runner) push(b *message.Batch) {
	metrics.IncStageBatch(r.env.RuleID, r.nodeType, "forwarded")
	if r.stage.Node.Type != graph.NodeSource {
		metrics.AddStageMessages(r.env.RuleID, r.nodeType, "out", b.Len())
	}
	outs := r.stage.Outbound
	handles := message.Fanout(b, len(outs))
	for i, q := range outs {
		if err := q.Push(handles[i]); err != nil {
			handles[i].Release()
			r.env.Logger.Debugw("downstream queue closed", "node_index", r.stage.Node.Index, "error", err)
		}
	}
}

func (r *runner) closeOutputs() {
	for _, q := range r.stage.Outbound {
		q.Close()
	}
	for _, q := range r.stage.Inbound {
		q.Discard()
	}
}
