package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type NodeType string

const (
	NodeSource    NodeType = "source"
	NodeMerge     NodeType = "merge"
	NodeWindow    NodeType = "window"
	NodeFilter    NodeType = "filter"
	NodeCompute   NodeType = "compute"
	NodeAggregate NodeType = "aggregate"
	NodeSink      NodeType = "sink"
)

func (t NodeType) Valid() bool {
	switch t {
	case NodeSource, NodeMerge, NodeWindow, NodeFilter, NodeCompute, NodeAggregate, NodeSink:
		return true
	}
	return false
}

// Conf is a rule definition: nodes plus source -> target edges.
type Conf struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

type Edge struct {
	Source int `json:"source"`
	Target int `json:"target"`
}

// Node is one vertex of the rule graph. In JSON its kind-specific settings
// sit either under "conf" or directly next to "index" and "node_type".
type Node struct {
	Index int             `json:"index"`
	Type  NodeType        `json:"node_type"`
	Conf  json.RawMessage `json:"conf,omitempty"`
}

type SourceConf struct {
	SourceID string `json:"source_id"`
}

type SinkConf struct {
	SinkID string `json:"sink_id"`
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	raw, ok := fields["index"]
	if !ok {
		return fmt.Errorf("node: index is required")
	}
	if err := json.Unmarshal(raw, &n.Index); err != nil {
		return fmt.Errorf("node: index: %w", err)
	}
	delete(fields, "index")

	raw, ok = fields["node_type"]
	if !ok {
		return fmt.Errorf("node %d: node_type is required", n.Index)
	}
	if err := json.Unmarshal(raw, &n.Type); err != nil {
		return fmt.Errorf("node %d: node_type: %w", n.Index, err)
	}
	delete(fields, "node_type")

	if nested, ok := fields["conf"]; ok {
		n.Conf = nested
		return nil
	}
	if len(fields) == 0 {
		n.Conf = nil
		return nil
	}
	flat, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	n.Conf = flat
	return nil
}

// Equal reports whether two definitions describe the same graph.
func (c Conf) Equal(o Conf) bool {
	if len(c.Nodes) != len(o.Nodes) || len(c.Edges) != len(o.Edges) {
		return false
	}
	for i := range c.Edges {
		if c.Edges[i] != o.Edges[i] {
			return false
		}
	}
	for i := range c.Nodes {
		a, b := c.Nodes[i], o.Nodes[i]
		if a.Index != b.Index || a.Type != b.Type || !sameJSON(a.Conf, b.Conf) {
			return false
		}
	}
	return true
}

func sameJSON(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var x, y interface{}
	if json.Unmarshal(a, &x) != nil || json.Unmarshal(b, &y) != nil {
		return false
	}
	xs, _ := json.Marshal(x)
	ys, _ := json.Marshal(y)
	return bytes.Equal(xs, ys)
}
