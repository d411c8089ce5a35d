// Package compute implements field transforms: arithmetic, string, hash,
// compression, type conversion and array functions.
//
// A transform reads one field, resolves its arguments and writes the result to
// its target field, which defaults to the source field. A missing field, a
// wrong-typed value or an unusable argument leaves the message untouched; the
// conversion functions write Null instead.
package compute

import (
	"encoding/json"
	"fmt"

	"halia/internal/operator"
	"halia/pkg/errors"
	"halia/pkg/message"
)

type Conf struct {
	Computes []ItemConf `json:"computes"`
}

type ItemConf struct {
	Type        string          `json:"type"`
	Field       string          `json:"field"`
	TargetField string          `json:"target_field,omitempty"`
	Args        []message.Value `json:"args,omitempty"`
}

// fn computes the new value. A false result leaves the message unchanged.
type fn func(v message.Value, args []message.Value) (message.Value, bool)

type def struct {
	minArgs int
	maxArgs int // -1 for no upper bound
	fn      fn
	// nullOnFailure writes Null to the target when fn cannot produce a value.
	nullOnFailure bool
	// check validates constant arguments at construction.
	check func(args []message.Value) error
}

var defs = map[string]def{}

func register(name string, minArgs, maxArgs int, f fn) {
	defs[name] = def{minArgs: minArgs, maxArgs: maxArgs, fn: f}
}

func registerChecked(name string, minArgs, maxArgs int, f fn, check func([]message.Value) error) {
	defs[name] = def{minArgs: minArgs, maxArgs: maxArgs, fn: f, check: check}
}

// Types lists every registered transform name.
func Types() []string {
	out := make([]string, 0, len(defs))
	for name := range defs {
		out = append(out, name)
	}
	return out
}

type item struct {
	typ    string
	field  string
	target string
	args   []operator.Arg
	def    def
}

// Compute applies its transforms in order to every message of a batch.
type Compute struct {
	items []item
}

func New(raw json.RawMessage) (*Compute, error) {
	var conf Conf
	if err := operator.DecodeConf(raw, &conf, "compute"); err != nil {
		return nil, err
	}
	return NewFromConf(conf)
}

func NewFromConf(conf Conf) (*Compute, error) {
	if len(conf.Computes) == 0 {
		return nil, errors.ErrConfig.WithMessage("compute: at least one transform is required")
	}

	c := &Compute{items: make([]item, 0, len(conf.Computes))}
	for i, ic := range conf.Computes {
		it, err := newItem(ic)
		if err != nil {
			return nil, err.WithDetail("compute_index", i)
		}
		c.items = append(c.items, it)
	}
	return c, nil
}

func newItem(ic ItemConf) (item, *errors.Error) {
	d, ok := defs[ic.Type]
	if !ok {
		return item{}, errors.ErrConfig.WithMessage("compute: unknown type %q", ic.Type)
	}
	if ic.Field == "" {
		return item{}, errors.ErrConfig.WithMessage("compute: field is required for %q", ic.Type)
	}
	n := len(ic.Args)
	if n < d.minArgs || (d.maxArgs >= 0 && n > d.maxArgs) {
		return item{}, errors.ErrConfig.WithMessage("compute: %q takes %s, got %d", ic.Type, arity(d), n)
	}

	args := operator.ParseArgs(ic.Args)
	if d.check != nil {
		constants := make([]message.Value, len(args))
		for i, a := range args {
			if v, ok := a.Constant(); ok {
				constants[i] = v
			}
		}
		if err := d.check(constants); err != nil {
			return item{}, errors.ErrConfig.WithCause(err).WithMessage("compute: invalid arguments for %q: %v", ic.Type, err)
		}
	}

	target := ic.TargetField
	if target == "" {
		target = ic.Field
	}
	return item{typ: ic.Type, field: ic.Field, target: target, args: args, def: d}, nil
}

func arity(d def) string {
	switch {
	case d.maxArgs < 0:
		return fmt.Sprintf("at least %d argument(s)", d.minArgs)
	case d.minArgs == d.maxArgs:
		return fmt.Sprintf("%d argument(s)", d.minArgs)
	}
	return fmt.Sprintf("%d to %d arguments", d.minArgs, d.maxArgs)
}

func (c *Compute) Process(b *message.Batch) {
	for _, msg := range b.Messages() {
		for i := range c.items {
			c.items[i].apply(msg)
		}
	}
}

func (it *item) apply(msg *message.Message) {
	v, ok := msg.Get(it.field)
	if !ok {
		it.fail(msg)
		return
	}

	var resolved []message.Value
	if len(it.args) > 0 {
		resolved = make([]message.Value, len(it.args))
		for i, a := range it.args {
			r, ok := a.Resolve(msg)
			if !ok {
				it.fail(msg)
				return
			}
			resolved[i] = r
		}
	}

	out, ok := it.def.fn(v, resolved)
	if !ok {
		it.fail(msg)
		return
	}
	msg.Set(it.target, out)
}

func (it *item) fail(msg *message.Message) {
	if it.def.nullOnFailure {
		msg.Set(it.target, message.Null())
	}
}

// text accepts String and Bytes input.
func text(v message.Value) ([]byte, bool) {
	if s, ok := v.AsString(); ok {
		return []byte(s), true
	}
	return v.AsBytes()
}

func argString(args []message.Value, i int, fallback string) (string, bool) {
	if i >= len(args) {
		return fallback, true
	}
	return args[i].AsString()
}

func argInt(args []message.Value, i int, fallback int64) (int64, bool) {
	if i >= len(args) {
		return fallback, true
	}
	return args[i].AsInt()
}
