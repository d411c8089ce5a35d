package compute

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"halia/pkg/message"
)

const (
	ToBool   = "to_bool"
	ToInt    = "to_int"
	ToFloat  = "to_float"
	ToString = "to_string"
)

func init() {
	for name, f := range map[string]fn{
		ToBool:   toBool,
		ToInt:    toInt,
		ToFloat:  toFloat,
		ToString: toString,
	} {
		defs[name] = def{fn: f, nullOnFailure: true}
	}
}

func toBool(v message.Value, _ []message.Value) (message.Value, bool) {
	switch v.Kind() {
	case message.KindBool:
		return v, true
	case message.KindInt:
		i, _ := v.AsInt()
		return message.Bool(i != 0), true
	case message.KindFloat:
		f, _ := v.AsFloat()
		return message.Bool(f != 0), true
	case message.KindString:
		s, _ := v.AsString()
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return message.Value{}, false
		}
		return message.Bool(b), true
	}
	return message.Value{}, false
}

// toInt truncates floats toward zero.
func toInt(v message.Value, _ []message.Value) (message.Value, bool) {
	switch v.Kind() {
	case message.KindBool:
		if b, _ := v.AsBool(); b {
			return message.Int(1), true
		}
		return message.Int(0), true
	case message.KindInt:
		return v, true
	case message.KindFloat:
		f, _ := v.AsFloat()
		return truncate(f)
	case message.KindString:
		s, _ := v.AsString()
		s = strings.TrimSpace(s)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return message.Int(i), true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return message.Value{}, false
		}
		return truncate(f)
	}
	return message.Value{}, false
}

func truncate(f float64) (message.Value, bool) {
	if math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return message.Value{}, false
	}
	return message.Int(int64(f)), true
}

func toFloat(v message.Value, _ []message.Value) (message.Value, bool) {
	switch v.Kind() {
	case message.KindBool:
		if b, _ := v.AsBool(); b {
			return message.Float(1), true
		}
		return message.Float(0), true
	case message.KindInt, message.KindFloat:
		f, _ := v.AsFloat()
		return message.Float(f), true
	case message.KindString:
		s, _ := v.AsString()
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return message.Value{}, false
		}
		return message.Float(f), true
	}
	return message.Value{}, false
}

// toString renders scalars as text, valid UTF-8 bytes as their string and
// arrays and objects as JSON.
func toString(v message.Value, _ []message.Value) (message.Value, bool) {
	switch v.Kind() {
	case message.KindNull:
		return message.Value{}, false
	case message.KindString:
		return v, true
	case message.KindBytes:
		raw, _ := v.AsBytes()
		if !utf8.Valid(raw) {
			return message.Value{}, false
		}
		return message.String(string(raw)), true
	case message.KindArray, message.KindObject:
		out, err := json.Marshal(v)
		if err != nil {
			return message.Value{}, false
		}
		return message.String(string(out)), true
	}
	return message.String(v.String()), true
}
