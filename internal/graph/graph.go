// Package graph validates a rule definition and wires it into stages joined by
// queues.
package graph

import (
	"halia/internal/operator"
	"halia/internal/operator/aggregate"
	"halia/internal/operator/compute"
	"halia/internal/operator/filter"
	"halia/internal/window"
	"halia/pkg/errors"
)

// Stage is the runtime form of one node. Exactly one behavior field is set,
// selected by Node.Type: Operator for filter, compute and aggregate, Window,
// SourceID, SinkID, or none for merge, whose slot count is len(Inbound).
type Stage struct {
	Node     Node
	Inbound  []*Queue
	Outbound []*Queue

	Operator operator.Operator
	Window   window.Window
	SourceID string
	SinkID   string
}

type Graph struct {
	Stages  []*Stage
	Sources []*Stage
	Sinks   []*Stage
}

// Validate checks a definition without keeping the result.
func Validate(conf Conf) error {
	_, err := Build(conf)
	return err
}

// Build checks the definition, allocates one queue per edge and instantiates
// every node's behavior. Structural problems with edges are reference errors;
// everything else is a config error.
func Build(conf Conf) (*Graph, error) {
	if len(conf.Nodes) == 0 {
		return nil, errors.ErrConfig.WithMessage("rule has no nodes")
	}

	byIndex := make(map[int]*Stage, len(conf.Nodes))
	g := &Graph{Stages: make([]*Stage, 0, len(conf.Nodes))}
	for _, n := range conf.Nodes {
		if !n.Type.Valid() {
			return nil, errors.ErrConfig.WithMessage("node %d: unknown node_type %q", n.Index, n.Type)
		}
		if _, dup := byIndex[n.Index]; dup {
			return nil, errors.ErrConfig.WithMessage("duplicate node index %d", n.Index)
		}
		s := &Stage{Node: n}
		byIndex[n.Index] = s
		g.Stages = append(g.Stages, s)
	}

	incoming := make(map[int][]int, len(conf.Nodes))
	outgoing := make(map[int][]int, len(conf.Nodes))
	for _, e := range conf.Edges {
		if _, ok := byIndex[e.Source]; !ok {
			return nil, errors.ErrReference.WithMessage("edge %d -> %d: source node %d does not exist", e.Source, e.Target, e.Source)
		}
		if _, ok := byIndex[e.Target]; !ok {
			return nil, errors.ErrReference.WithMessage("edge %d -> %d: target node %d does not exist", e.Source, e.Target, e.Target)
		}
		outgoing[e.Source] = append(outgoing[e.Source], e.Target)
		incoming[e.Target] = append(incoming[e.Target], e.Source)
	}

	if err := checkEndpoints(g.Stages, incoming, outgoing); err != nil {
		return nil, err
	}
	if err := checkAcyclic(g.Stages, incoming, outgoing); err != nil {
		return nil, err
	}

	for _, e := range conf.Edges {
		q := NewQueue()
		byIndex[e.Source].Outbound = append(byIndex[e.Source].Outbound, q)
		byIndex[e.Target].Inbound = append(byIndex[e.Target].Inbound, q)
	}

	for _, s := range g.Stages {
		if err := instantiate(s); err != nil {
			return nil, errors.Wrap(err, errors.ErrConfig).WithDetail("node_index", s.Node.Index)
		}
		switch s.Node.Type {
		case NodeSource:
			g.Sources = append(g.Sources, s)
		case NodeSink:
			g.Sinks = append(g.Sinks, s)
		}
	}
	return g, nil
}

func checkEndpoints(stages []*Stage, incoming, outgoing map[int][]int) error {
	var hasSource, hasSink bool
	for _, s := range stages {
		idx := s.Node.Index
		in, out := len(incoming[idx]), len(outgoing[idx])
		switch s.Node.Type {
		case NodeSource:
			if in > 0 {
				return errors.ErrConfig.WithMessage("source node %d cannot have incoming edges", idx)
			}
			if out == 0 {
				return errors.ErrReference.WithMessage("source node %d has no outgoing edge", idx)
			}
			hasSource = true
		case NodeSink:
			if out > 0 {
				return errors.ErrConfig.WithMessage("sink node %d cannot have outgoing edges", idx)
			}
			if in == 0 {
				return errors.ErrReference.WithMessage("sink node %d has no incoming edge", idx)
			}
			hasSink = true
		default:
			if in == 0 || out == 0 {
				return errors.ErrReference.WithMessage("node %d must have incoming and outgoing edges", idx)
			}
		}
	}
	if !hasSource {
		return errors.ErrReference.WithMessage("rule has no source node")
	}
	if !hasSink {
		return errors.ErrReference.WithMessage("rule has no sink node")
	}
	return nil
}

// checkAcyclic runs Kahn's algorithm; nodes left unvisited sit on a cycle.
func checkAcyclic(stages []*Stage, incoming, outgoing map[int][]int) error {
	indegree := make(map[int]int, len(stages))
	var ready []int
	for _, s := range stages {
		idx := s.Node.Index
		indegree[idx] = len(incoming[idx])
		if indegree[idx] == 0 {
			ready = append(ready, idx)
		}
	}

	visited := 0
	for len(ready) > 0 {
		idx := ready[0]
		ready = ready[1:]
		visited++
		for _, next := range outgoing[idx] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if visited != len(stages) {
		return errors.ErrConfig.WithMessage("rule graph contains a cycle")
	}
	return nil
}

func instantiate(s *Stage) error {
	raw := s.Node.Conf
	var err error
	switch s.Node.Type {
	case NodeFilter:
		var f *filter.Filter
		if f, err = filter.New(raw); err == nil {
			s.Operator = f
		}
	case NodeCompute:
		var c *compute.Compute
		if c, err = compute.New(raw); err == nil {
			s.Operator = c
		}
	case NodeAggregate:
		var a *aggregate.Aggregate
		if a, err = aggregate.New(raw); err == nil {
			s.Operator = a
		}
	case NodeWindow:
		s.Window, err = window.New(raw)
	case NodeSource:
		var c SourceConf
		if err = operator.DecodeConf(raw, &c, "source"); err == nil && c.SourceID == "" {
			err = errors.ErrConfig.WithMessage("source: source_id is required")
		}
		s.SourceID = c.SourceID
	case NodeSink:
		var c SinkConf
		if err = operator.DecodeConf(raw, &c, "sink"); err == nil && c.SinkID == "" {
			err = errors.ErrConfig.WithMessage("sink: sink_id is required")
		}
		s.SinkID = c.SinkID
	case NodeMerge:
		if len(s.Inbound) < 2 {
			err = errors.ErrConfig.WithMessage("merge: needs at least two incoming edges")
		}
	}
	return err
}
