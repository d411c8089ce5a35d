package graph

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halia/pkg/errors"
	"halia/pkg/message"
)

func parse(t *testing.T, doc string) Conf {
	t.Helper()
	var conf Conf
	require.NoError(t, json.Unmarshal([]byte(doc), &conf))
	return conf
}

const pipeline = `{
	"nodes": [
		{"index": 1, "node_type": "source", "source_id": "plc"},
		{"index": 2, "node_type": "filter", "filters": [{"type": "gt", "field": "temp", "value": 20}]},
		{"index": 3, "node_type": "compute", "conf": {"computes": [{"type": "number_abs", "field": "temp"}]}},
		{"index": 4, "node_type": "sink", "sink_id": "out"}
	],
	"edges": [{"source": 1, "target": 2}, {"source": 2, "target": 3}, {"source": 3, "target": 4}]
}`

func TestNode_UnmarshalFlatAndNested(t *testing.T) {
	conf := parse(t, pipeline)
	require.Len(t, conf.Nodes, 4)

	assert.Equal(t, NodeSource, conf.Nodes[0].Type)
	assert.JSONEq(t, `{"source_id":"plc"}`, string(conf.Nodes[0].Conf))
	assert.JSONEq(t, `{"filters":[{"type":"gt","field":"temp","value":20}]}`, string(conf.Nodes[1].Conf))
	assert.JSONEq(t, `{"computes":[{"type":"number_abs","field":"temp"}]}`, string(conf.Nodes[2].Conf))
}

func TestBuild_WiresQueues(t *testing.T) {
	g, err := Build(parse(t, pipeline))
	require.NoError(t, err)

	require.Len(t, g.Stages, 4)
	require.Len(t, g.Sources, 1)
	require.Len(t, g.Sinks, 1)
	assert.Equal(t, "plc", g.Sources[0].SourceID)
	assert.Equal(t, "out", g.Sinks[0].SinkID)

	filterStage := g.Stages[1]
	require.NotNil(t, filterStage.Operator)
	assert.Same(t, g.Stages[0].Outbound[0], filterStage.Inbound[0])
	assert.Same(t, filterStage.Outbound[0], g.Stages[2].Inbound[0])
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		reference bool
	}{
		{
			name: "dangling edge",
			doc: `{"nodes":[{"index":1,"node_type":"source","source_id":"a"},{"index":2,"node_type":"sink","sink_id":"b"}],
				"edges":[{"source":1,"target":2},{"source":1,"target":7}]}`,
			reference: true,
		},
		{
			name:      "no sink",
			doc:       `{"nodes":[{"index":1,"node_type":"source","source_id":"a"}],"edges":[]}`,
			reference: true,
		},
		{
			name: "duplicate index",
			doc: `{"nodes":[{"index":1,"node_type":"source","source_id":"a"},{"index":1,"node_type":"sink","sink_id":"b"}],
				"edges":[{"source":1,"target":1}]}`,
		},
		{
			name: "unknown kind",
			doc: `{"nodes":[{"index":1,"node_type":"source","source_id":"a"},{"index":2,"node_type":"join"},{"index":3,"node_type":"sink","sink_id":"b"}],
				"edges":[{"source":1,"target":2},{"source":2,"target":3}]}`,
		},
		{
			name: "cycle",
			doc: `{"nodes":[
					{"index":1,"node_type":"source","source_id":"a"},
					{"index":2,"node_type":"compute","computes":[{"type":"number_abs","field":"x"}]},
					{"index":3,"node_type":"compute","computes":[{"type":"number_abs","field":"x"}]},
					{"index":4,"node_type":"sink","sink_id":"b"}],
				"edges":[{"source":1,"target":2},{"source":2,"target":3},{"source":3,"target":2},{"source":3,"target":4}]}`,
		},
		{
			name: "bad operator conf",
			doc: `{"nodes":[{"index":1,"node_type":"source","source_id":"a"},{"index":2,"node_type":"window","type":"count","count":0},{"index":3,"node_type":"sink","sink_id":"b"}],
				"edges":[{"source":1,"target":2},{"source":2,"target":3}]}`,
		},
		{
			name: "missing source id",
			doc: `{"nodes":[{"index":1,"node_type":"source"},{"index":2,"node_type":"sink","sink_id":"b"}],
				"edges":[{"source":1,"target":2}]}`,
		},
		{
			name: "merge with one input",
			doc: `{"nodes":[{"index":1,"node_type":"source","source_id":"a"},{"index":2,"node_type":"merge"},{"index":3,"node_type":"sink","sink_id":"b"}],
				"edges":[{"source":1,"target":2},{"source":2,"target":3}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(parse(t, tt.doc))
			require.Error(t, err)
			if tt.reference {
				assert.True(t, errors.IsReference(err), err.Error())
			} else {
				assert.True(t, errors.IsConfig(err), err.Error())
			}
		})
	}
}

func TestConf_Equal(t *testing.T) {
	a := parse(t, pipeline)
	b := parse(t, pipeline)
	assert.True(t, a.Equal(b))

	b.Edges = b.Edges[:2]
	assert.False(t, a.Equal(b))
}

func TestQueue_OrderAndClose(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 3; i++ {
		b := message.NewBatch()
		b.SetName(string(rune('a' + i)))
		require.NoError(t, q.Push(message.Owned(b)))
	}
	q.Close()
	assert.ErrorIs(t, q.Push(message.Owned(message.NewBatch())), errors.ErrChannelClosed)

	ctx := context.Background()
	var names []string
	for {
		rb, ok := q.Recv(ctx)
		if !ok {
			break
		}
		names = append(names, rb.Batch().Name())
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestQueue_RecvHonoursContext(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.Recv(ctx)
	assert.False(t, ok)
}

func TestFanIn_KeepsPerQueueOrder(t *testing.T) {
	queues := []*Queue{NewQueue(), NewQueue()}
	for i := 0; i < 50; i++ {
		for qi, q := range queues {
			msg := message.NewMessage()
			msg.Set("seq", message.Int(int64(i)))
			b := message.NewBatch(msg)
			b.SetName(string(rune('a' + qi)))
			require.NoError(t, q.Push(message.Owned(b)))
		}
	}
	for _, q := range queues {
		q.Close()
	}

	last := map[int]int64{0: -1, 1: -1}
	count := 0
	for in := range FanIn(context.Background(), queues) {
		v, _ := in.Batch.Batch().Messages()[0].Get("seq")
		seq, _ := v.AsInt()
		assert.Greater(t, seq, last[in.Index])
		last[in.Index] = seq
		count++
	}
	assert.Equal(t, 100, count)
}
