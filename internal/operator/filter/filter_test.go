package filter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halia/pkg/errors"
	"halia/pkg/message"
)

func batchOf(t *testing.T, docs ...string) *message.Batch {
	t.Helper()
	b := message.NewBatch()
	for _, d := range docs {
		msg, err := message.ParseMessage([]byte(d))
		require.NoError(t, err)
		b.Append(msg)
	}
	return b
}

func ids(b *message.Batch) []int64 {
	out := make([]int64, 0, b.Len())
	for _, m := range b.Messages() {
		v, _ := m.Get("id")
		i, _ := v.AsInt()
		out = append(out, i)
	}
	return out
}

func sample(t *testing.T) *message.Batch {
	return batchOf(t,
		`{"id":1,"temp":10,"name":"pump-a","limit":5,"tags":["x","y"]}`,
		`{"id":2,"temp":20.5,"name":"valve-b","limit":30}`,
		`{"id":3,"temp":30,"name":"pump-c","limit":30}`,
		`{"id":4,"name":"fan-d"}`,
	)
}

func TestFilter_Process(t *testing.T) {
	tests := []struct {
		name string
		conf string
		want []int64
	}{
		{name: "eq int", conf: `{"filters":[{"type":"eq","field":"temp","value":30}]}`, want: []int64{3}},
		{name: "eq float epsilon", conf: `{"filters":[{"type":"eq","field":"temp","value":20.50000000000001}]}`, want: []int64{2}},
		{name: "eq int against float", conf: `{"filters":[{"type":"eq","field":"temp","value":10.0}]}`, want: []int64{1}},
		{name: "neq skips missing field", conf: `{"filters":[{"type":"neq","field":"temp","value":10}]}`, want: []int64{2, 3}},
		{name: "gt", conf: `{"filters":[{"type":"gt","field":"temp","value":15}]}`, want: []int64{2, 3}},
		{name: "gte", conf: `{"filters":[{"type":"gte","field":"temp","value":20.5}]}`, want: []int64{2, 3}},
		{name: "lt", conf: `{"filters":[{"type":"lt","field":"temp","value":20.5}]}`, want: []int64{1}},
		{name: "lte", conf: `{"filters":[{"type":"lte","field":"temp","value":20.5}]}`, want: []int64{1, 2}},
		{name: "string order", conf: `{"filters":[{"type":"lt","field":"name","value":"pump"}]}`, want: []int64{4}},
		{name: "regex", conf: `{"filters":[{"type":"reg","field":"name","value":"^pump-"}]}`, want: []int64{1, 3}},
		{name: "contains string", conf: `{"filters":[{"type":"ct","field":"name","value":"valve"}]}`, want: []int64{2}},
		{name: "contains array", conf: `{"filters":[{"type":"ct","field":"tags","value":"y"}]}`, want: []int64{1}},
		{name: "dynamic field", conf: `{"filters":[{"type":"gte","field":"temp","value":"${limit}"}]}`, want: []int64{1, 3}},
		{name: "or across rules", conf: `{"filters":[{"type":"eq","field":"id","value":1},{"type":"eq","field":"id","value":4}]}`, want: []int64{1, 4}},
		{name: "cel expression", conf: `{"filters":[{"type":"expr","value":"has(msg.temp) && msg.name.startsWith(\"pump\")"}]}`, want: []int64{1, 3}},
		{name: "nothing matches", conf: `{"filters":[{"type":"eq","field":"id","value":99}]}`, want: []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(json.RawMessage(tt.conf))
			require.NoError(t, err)

			b := sample(t)
			f.Process(b)
			assert.Equal(t, tt.want, ids(b))
			for _, m := range b.Messages() {
				_, ok := m.Metadata(keepMarker)
				assert.False(t, ok, "keep marker must not leak downstream")
			}
		})
	}
}

func TestFilter_AddingRuleOnlyGrows(t *testing.T) {
	rules := []ItemConf{
		{Type: Gt, Field: "temp", Value: message.Int(25)},
		{Type: Regex, Field: "name", Value: message.String("valve")},
		{Type: Eq, Field: "id", Value: message.Int(4)},
	}

	prev := []int64{}
	for n := 1; n <= len(rules); n++ {
		f, err := NewFromConf(Conf{Filters: rules[:n]})
		require.NoError(t, err)
		b := sample(t)
		f.Process(b)
		got := ids(b)
		assert.Subset(t, got, prev)
		assert.GreaterOrEqual(t, len(got), len(prev))
		prev = got
	}
	assert.ElementsMatch(t, []int64{2, 3, 4}, prev)
}

func TestFilter_EmptyBatch(t *testing.T) {
	f, err := New(json.RawMessage(`{"filters":[{"type":"eq","field":"id","value":1}]}`))
	require.NoError(t, err)
	b := message.NewBatch()
	f.Process(b)
	assert.True(t, b.IsEmpty())
}

func TestNew_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		conf string
	}{
		{name: "no rules", conf: `{"filters":[]}`},
		{name: "unknown type", conf: `{"filters":[{"type":"between","field":"a","value":1}]}`},
		{name: "missing field", conf: `{"filters":[{"type":"eq","value":1}]}`},
		{name: "bad regex", conf: `{"filters":[{"type":"reg","field":"a","value":"("}]}`},
		{name: "regex not string", conf: `{"filters":[{"type":"reg","field":"a","value":3}]}`},
		{name: "bad expression", conf: `{"filters":[{"type":"expr","value":"msg.a +"}]}`},
		{name: "malformed json", conf: `{"filters":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(json.RawMessage(tt.conf))
			require.Error(t, err)
			assert.True(t, errors.IsConfig(err))
		})
	}
}

func TestCompare(t *testing.T) {
	c, ok := Compare(message.Int(2), message.Float(2.0))
	assert.True(t, ok)
	assert.Equal(t, 0, c)

	_, ok = Compare(message.Int(1), message.String("1"))
	assert.False(t, ok)

	assert.False(t, Equal(message.Int(1), message.String("1")))
	assert.True(t, Equal(message.Float(0.1+0.2), message.Float(0.3)))
}
