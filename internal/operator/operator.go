// Package operator holds what the filter, compute and aggregate stages share:
// the Operator contract and argument resolution.
package operator

import (
	"encoding/json"
	"strings"

	"halia/pkg/errors"
	"halia/pkg/message"
)

// Operator rewrites an owned batch in place. An operator that removes every
// message leaves the batch empty; the executor stops the chain there.
type Operator interface {
	Process(b *message.Batch)
}

// Arg is either a constant bound at construction or a field reference written
// as "${field}" and resolved per message.
type Arg struct {
	field    string
	constant message.Value
}

func Const(v message.Value) Arg { return Arg{constant: v} }

func Field(name string) Arg { return Arg{field: name} }

// ParseArg turns a configured value into an Arg, recognising "${field}".
func ParseArg(v message.Value) Arg {
	if s, ok := v.AsString(); ok {
		if name, ok := fieldRef(s); ok {
			return Field(name)
		}
	}
	return Const(v)
}

func ParseArgs(vs []message.Value) []Arg {
	out := make([]Arg, len(vs))
	for i, v := range vs {
		out[i] = ParseArg(v)
	}
	return out
}

func fieldRef(s string) (string, bool) {
	if len(s) > 3 && strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return s[2 : len(s)-1], true
	}
	return "", false
}

func (a Arg) IsField() bool { return a.field != "" }

func (a Arg) FieldName() string { return a.field }

// Resolve returns the constant, or the referenced field of msg.
func (a Arg) Resolve(msg *message.Message) (message.Value, bool) {
	if a.field == "" {
		return a.constant, true
	}
	return msg.Get(a.field)
}

// Constant returns the bound value when the arg is not a field reference.
func (a Arg) Constant() (message.Value, bool) {
	if a.field != "" {
		return message.Value{}, false
	}
	return a.constant, true
}

// DecodeConf unmarshals a node configuration and reports failures as config errors.
func DecodeConf(raw json.RawMessage, out interface{}, node string) error {
	if len(raw) == 0 {
		return errors.ErrConfig.WithMessage("%s: configuration is required", node)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.ErrConfig.WithCause(err).WithMessage("%s: malformed configuration", node)
	}
	return nil
}
