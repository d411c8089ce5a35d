package message

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
)

func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	val, err := decodeValue(dec, nil)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

func (m *Message) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(k)
		buf.Write(key)
		buf.WriteByte(':')
		if err := writeValue(&buf, m.fields[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping the key order of the document.
func (m *Message) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("message must be a JSON object")
	}
	msg := NewMessage()
	if err := decodeObject(dec, func(k string, v Value) { msg.Set(k, v) }); err != nil {
		return err
	}
	*m = *msg
	return nil
}

// ParseMessage decodes one JSON object.
func ParseMessage(data []byte) (*Message, error) {
	msg := NewMessage()
	if err := msg.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return msg, nil
}

// ParseBatch accepts either a single JSON object or an array of objects.
func ParseBatch(data []byte) (*Batch, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, err
		}
		batch := NewBatch()
		for _, raw := range raws {
			msg, err := ParseMessage(raw)
			if err != nil {
				return nil, err
			}
			batch.Append(msg)
		}
		return batch, nil
	}
	msg, err := ParseMessage(trimmed)
	if err != nil {
		return nil, err
	}
	return NewBatch(msg), nil
}

func (b *Batch) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, m := range b.messages {
		if i > 0 {
			buf.WriteByte(',')
		}
		data, err := m.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v Value) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			buf.WriteString("null")
			return nil
		}
		buf.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindString:
		data, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(data)
	case KindBytes:
		buf.WriteByte('"')
		buf.WriteString(base64.StdEncoding.EncodeToString(v.raw))
		buf.WriteByte('"')
	case KindArray:
		buf.WriteByte('[')
		for i := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, v.arr[i]); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(k)
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeValue(buf, v.obj[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

func decodeValue(dec *json.Decoder, tok json.Token) (Value, error) {
	if tok == nil {
		var err error
		tok, err = dec.Token()
		if err != nil {
			if err == io.EOF {
				return Value{}, io.ErrUnexpectedEOF
			}
			return Value{}, err
		}
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Float(f), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			arr := []Value{}
			for dec.More() {
				elem, err := decodeValue(dec, nil)
				if err != nil {
					return Value{}, err
				}
				arr = append(arr, elem)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Array(arr), nil
		case '{':
			obj := map[string]Value{}
			if err := decodeObject(dec, func(k string, v Value) { obj[k] = v }); err != nil {
				return Value{}, err
			}
			return Object(obj), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected JSON token %v", tok)
}

// decodeObject reads key/value pairs after an opening brace up to and
// including the closing brace.
func decodeObject(dec *json.Decoder, set func(string, Value)) error {
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("object key must be a string, got %v", keyTok)
		}
		val, err := decodeValue(dec, nil)
		if err != nil {
			return err
		}
		set(key, val)
	}
	_, err := dec.Token()
	return err
}
