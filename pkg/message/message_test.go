package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_Get(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"a":{"b":[10,{"c":"x"}]},"n":null,"flat.key":1}`))
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		want   Value
		exists bool
	}{
		{name: "nested array index", path: "a.b.0", want: Int(10), exists: true},
		{name: "object in array", path: "a.b.1.c", want: String("x"), exists: true},
		{name: "present null", path: "n", want: Null(), exists: true},
		{name: "flat key with dot", path: "flat.key", want: Int(1), exists: true},
		{name: "missing field", path: "missing", exists: false},
		{name: "index out of range", path: "a.b.5", exists: false},
		{name: "path through scalar", path: "n.x", exists: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := msg.Get(tt.path)
			assert.Equal(t, tt.exists, ok)
			if tt.exists {
				assert.True(t, tt.want.Equal(got), "got %s", got)
			}
		})
	}
}

func TestMessage_SetAdd(t *testing.T) {
	msg := NewMessage()
	msg.Set("a", Int(1))
	assert.True(t, msg.Add("b", Int(2)))
	assert.False(t, msg.Add("a", Int(3)))

	v, _ := msg.Get("a")
	assert.Equal(t, int64(1), v.i)

	msg.Set("a", String("x"))
	assert.Equal(t, []string{"a", "b"}, msg.Keys())

	assert.True(t, msg.Delete("a"))
	assert.False(t, msg.Has("a"))
	assert.Equal(t, []string{"b"}, msg.Keys())
}

func TestMessage_MetadataNotSerialized(t *testing.T) {
	msg := NewMessage()
	msg.Set("x", Int(1))
	msg.SetMetadata("keep", Bool(true))

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(data))

	_, ok := msg.Get("keep")
	assert.False(t, ok)
}

func TestMessage_JSONKeepsOrder(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"z":1,"a":2.5,"m":"s"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "m"}, msg.Keys())

	a, _ := msg.Get("a")
	assert.Equal(t, KindFloat, a.Kind())
	z, _ := msg.Get("z")
	assert.Equal(t, KindInt, z.Kind())

	data, err := msg.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":2.5,"m":"s"}`, string(data))
}

func TestBatch_MergePreservesOrder(t *testing.T) {
	mk := func(i int64) *Message {
		m := NewMessage()
		m.Set("i", Int(i))
		return m
	}
	left := NewBatch(mk(1), mk(2))
	right := NewBatch(mk(3), mk(4))

	left.Merge(right)
	require.Equal(t, 4, left.Len())
	for i, m := range left.Messages() {
		v, _ := m.Get("i")
		assert.Equal(t, int64(i+1), v.i)
	}

	left.Clear()
	assert.True(t, left.IsEmpty())
}

func TestBatch_SplitAt(t *testing.T) {
	b := NewBatch(NewMessage(), NewMessage(), NewMessage())
	head := b.SplitAt(2)
	assert.Equal(t, 2, head.Len())
	assert.Equal(t, 1, b.Len())
}

func TestFanout_SharesOneBatch(t *testing.T) {
	b := NewBatch(NewMessage())
	handles := Fanout(b, 3)
	require.Len(t, handles, 3)

	for _, h := range handles {
		assert.True(t, h.IsShared())
		assert.Same(t, b, h.Batch())
	}
	assert.Equal(t, int64(3), handles[0].shared.Refs())
	assert.Same(t, handles[0].shared, handles[2].shared)
}

func TestFanout_SingleConsumerIsOwned(t *testing.T) {
	b := NewBatch(NewMessage())
	handles := Fanout(b, 1)
	require.Len(t, handles, 1)
	assert.False(t, handles[0].IsShared())
	assert.Same(t, b, handles[0].Take())
}

func TestRuleBatch_TakeCopiesWhileShared(t *testing.T) {
	orig := NewMessage()
	orig.Set("v", Int(1))
	b := NewBatch(orig)
	handles := Fanout(b, 2)

	taken := handles[0].Take()
	assert.NotSame(t, b, taken)
	taken.Messages()[0].Set("v", Int(2))

	v, _ := b.Messages()[0].Get("v")
	assert.Equal(t, int64(1), v.i)

	last := handles[1].Take()
	assert.Same(t, b, last)
}

func TestValue_FromInterface(t *testing.T) {
	v := FromInterface(map[string]interface{}{
		"a": []interface{}{1, 2.5, "x", nil, true},
	})
	arr, ok := v.AsObject()
	require.True(t, ok)
	items, ok := arr["a"].AsArray()
	require.True(t, ok)
	assert.Equal(t, KindInt, items[0].Kind())
	assert.Equal(t, KindFloat, items[1].Kind())
	assert.Equal(t, KindString, items[2].Kind())
	assert.Equal(t, KindNull, items[3].Kind())
	assert.Equal(t, KindBool, items[4].Kind())
}

func TestParseBatch(t *testing.T) {
	b, err := ParseBatch([]byte(`[{"a":1},{"a":2}]`))
	require.NoError(t, err)
	assert.Equal(t, 2, b.Len())

	single, err := ParseBatch([]byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, 1, single.Len())

	_, err = ParseBatch([]byte(`[1]`))
	assert.Error(t, err)
}
