package message

import (
	"sort"
	"strings"
)

// Message is an ordered field map plus a metadata map for per-message markers
// that operators set and clear. Metadata is never serialized.
type Message struct {
	keys     []string
	fields   map[string]Value
	metadata map[string]Value
}

func NewMessage() *Message {
	return &Message{fields: make(map[string]Value)}
}

// FromMap builds a message with keys in sorted order.
func FromMap(m map[string]Value) *Message {
	msg := NewMessage()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		msg.Set(k, m[k])
	}
	return msg
}

// Get resolves a flat key first, then a dotted path through nested objects
// and arrays ("a.b.0"). The second result is false when the field is absent.
func (m *Message) Get(path string) (Value, bool) {
	if v, ok := m.fields[path]; ok {
		return v, true
	}
	if !strings.Contains(path, ".") {
		return Value{}, false
	}
	tokens := strings.Split(path, ".")
	root, ok := m.fields[tokens[0]]
	if !ok {
		return Value{}, false
	}
	return root.Lookup(tokens[1:])
}

// Set overwrites the field or appends it at the end of the key order.
func (m *Message) Set(field string, v Value) {
	if _, ok := m.fields[field]; !ok {
		m.keys = append(m.keys, field)
	}
	m.fields[field] = v
}

// Add inserts the field only when it is absent.
func (m *Message) Add(field string, v Value) bool {
	if _, ok := m.fields[field]; ok {
		return false
	}
	m.keys = append(m.keys, field)
	m.fields[field] = v
	return true
}

func (m *Message) Delete(field string) bool {
	if _, ok := m.fields[field]; !ok {
		return false
	}
	delete(m.fields, field)
	for i, k := range m.keys {
		if k == field {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
	return true
}

func (m *Message) Has(field string) bool {
	_, ok := m.Get(field)
	return ok
}

func (m *Message) Len() int { return len(m.keys) }

func (m *Message) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Range visits fields in order until fn returns false.
func (m *Message) Range(fn func(key string, v Value) bool) {
	for _, k := range m.keys {
		if !fn(k, m.fields[k]) {
			return
		}
	}
}

func (m *Message) Metadata(key string) (Value, bool) {
	if m.metadata == nil {
		return Value{}, false
	}
	v, ok := m.metadata[key]
	return v, ok
}

func (m *Message) SetMetadata(key string, v Value) {
	if m.metadata == nil {
		m.metadata = make(map[string]Value)
	}
	m.metadata[key] = v
}

func (m *Message) DeleteMetadata(key string) {
	if m.metadata != nil {
		delete(m.metadata, key)
	}
}

func (m *Message) Clone() *Message {
	out := &Message{
		keys:   make([]string, len(m.keys)),
		fields: make(map[string]Value, len(m.fields)),
	}
	copy(out.keys, m.keys)
	for k, v := range m.fields {
		out.fields[k] = v.Clone()
	}
	if len(m.metadata) > 0 {
		out.metadata = make(map[string]Value, len(m.metadata))
		for k, v := range m.metadata {
			out.metadata[k] = v.Clone()
		}
	}
	return out
}

// Equal compares fields and their order. Metadata is ignored.
func (m *Message) Equal(o *Message) bool {
	if len(m.keys) != len(o.keys) {
		return false
	}
	for i, k := range m.keys {
		if o.keys[i] != k || !m.fields[k].Equal(o.fields[k]) {
			return false
		}
	}
	return true
}

// AsObject returns the fields as an Object value sharing the underlying values.
func (m *Message) AsObject() Value {
	obj := make(map[string]Value, len(m.fields))
	for k, v := range m.fields {
		obj[k] = v
	}
	return Object(obj)
}

func (m *Message) ToMap() map[string]interface{} {
	out := make(map[string]interface{}, len(m.fields))
	for k, v := range m.fields {
		out[k] = v.Interface()
	}
	return out
}
