// Package aggregate reduces a whole batch to a single message.
package aggregate

import (
	"encoding/json"

	"halia/internal/operator"
	"halia/pkg/errors"
	"halia/pkg/message"
)

const (
	Sum         = "sum"
	Avg         = "avg"
	Max         = "max"
	Min         = "min"
	Count       = "count"
	Merge       = "merge"
	Collect     = "collect"
	Deduplicate = "deduplicate"
)

type Conf struct {
	Aggregations []ItemConf `json:"aggregations"`
}

type ItemConf struct {
	Type        string `json:"type"`
	Field       string `json:"field"`
	TargetField string `json:"target_field,omitempty"`
}

type reducer func(values []message.Value) message.Value

var reducers = map[string]reducer{
	Sum:         sum,
	Avg:         avg,
	Max:         extreme(1),
	Min:         extreme(-1),
	Count:       count,
	Merge:       merge,
	Collect:     collect,
	Deduplicate: deduplicate,
}

type item struct {
	field  string
	target string
	reduce reducer
}

// Aggregate replaces the batch content with one message holding one field
// per configured reduction.
type Aggregate struct {
	items []item
}

func New(raw json.RawMessage) (*Aggregate, error) {
	var conf Conf
	if err := operator.DecodeConf(raw, &conf, "aggregate"); err != nil {
		return nil, err
	}
	return NewFromConf(conf)
}

func NewFromConf(conf Conf) (*Aggregate, error) {
	if len(conf.Aggregations) == 0 {
		return nil, errors.ErrConfig.WithMessage("aggregate: at least one aggregation is required")
	}

	a := &Aggregate{items: make([]item, 0, len(conf.Aggregations))}
	for i, ic := range conf.Aggregations {
		r, ok := reducers[ic.Type]
		if !ok {
			return nil, errors.ErrConfig.WithMessage("aggregate: unknown type %q", ic.Type).WithDetail("aggregate_index", i)
		}
		if ic.Field == "" {
			return nil, errors.ErrConfig.WithMessage("aggregate: field is required for %q", ic.Type).WithDetail("aggregate_index", i)
		}
		target := ic.TargetField
		if target == "" {
			target = ic.Field
		}
		a.items = append(a.items, item{field: ic.Field, target: target, reduce: r})
	}
	return a, nil
}

func (a *Aggregate) Process(b *message.Batch) {
	out := message.NewMessage()
	msgs := b.Messages()
	values := make([]message.Value, 0, len(msgs))
	for _, it := range a.items {
		values = values[:0]
		for _, msg := range msgs {
			if v, ok := msg.Get(it.field); ok {
				values = append(values, v)
			}
		}
		out.Set(it.target, it.reduce(values))
	}

	b.Clear()
	b.Append(out)
}

// accumulator sums in int64 until the first Float arrives, then continues in
// float64 from the value reached so far.
type accumulator struct {
	isFloat bool
	i       int64
	f       float64
	n       int
}

func (acc *accumulator) add(v message.Value) {
	switch v.Kind() {
	case message.KindInt:
		i, _ := v.AsInt()
		if acc.isFloat {
			acc.f += float64(i)
		} else {
			acc.i += i
		}
	case message.KindFloat:
		f, _ := v.AsFloat()
		if !acc.isFloat {
			acc.isFloat = true
			acc.f = float64(acc.i)
		}
		acc.f += f
	default:
		return
	}
	acc.n++
}

func (acc *accumulator) value() message.Value {
	if acc.isFloat {
		return message.Float(acc.f)
	}
	return message.Int(acc.i)
}

func (acc *accumulator) float() float64 {
	if acc.isFloat {
		return acc.f
	}
	return float64(acc.i)
}

func sum(values []message.Value) message.Value {
	var acc accumulator
	for _, v := range values {
		acc.add(v)
	}
	return acc.value()
}

// avg divides by the number of numeric values.
func avg(values []message.Value) message.Value {
	var acc accumulator
	for _, v := range values {
		acc.add(v)
	}
	if acc.n == 0 {
		return message.Float(0)
	}
	return message.Float(acc.float() / float64(acc.n))
}

// extreme keeps the largest value for sign 1 and the smallest for sign -1.
// Ints compare exactly until a Float is seen, after which the running best is
// carried as a Float.
func extreme(sign int) reducer {
	return func(values []message.Value) message.Value {
		var (
			best    message.Value
			found   bool
			isFloat bool
		)
		for _, v := range values {
			if !v.IsNumber() {
				continue
			}
			if v.Kind() == message.KindFloat && !isFloat {
				isFloat = true
				if found {
					f, _ := best.AsFloat()
					best = message.Float(f)
				}
			}
			if isFloat {
				f, _ := v.AsFloat()
				v = message.Float(f)
			}
			if !found || better(v, best, sign) {
				best = v
				found = true
			}
		}
		if !found {
			return message.Null()
		}
		return best
	}
}

func better(v, best message.Value, sign int) bool {
	if vi, ok := v.AsInt(); ok {
		bi, _ := best.AsInt()
		if sign > 0 {
			return vi > bi
		}
		return vi < bi
	}
	vf, _ := v.AsFloat()
	bf, _ := best.AsFloat()
	if sign > 0 {
		return vf > bf
	}
	return vf < bf
}

func count(values []message.Value) message.Value {
	return message.Int(int64(len(values)))
}

func collect(values []message.Value) message.Value {
	out := make([]message.Value, len(values))
	for i, v := range values {
		out[i] = v.Clone()
	}
	return message.Array(out)
}

func deduplicate(values []message.Value) message.Value {
	out := make([]message.Value, 0, len(values))
	for _, v := range values {
		dup := false
		for _, seen := range out {
			if seen.Equal(v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v.Clone())
		}
	}
	return message.Array(out)
}

// merge folds Object values into one Object, later keys winning, and
// concatenates Array values. The kind of the first structured value decides
// the result; values of the other kinds are skipped.
func merge(values []message.Value) message.Value {
	var (
		obj map[string]message.Value
		arr []message.Value
	)
	for _, v := range values {
		switch v.Kind() {
		case message.KindObject:
			if arr != nil {
				continue
			}
			if obj == nil {
				obj = make(map[string]message.Value)
			}
			m, _ := v.AsObject()
			for k, e := range m {
				obj[k] = e.Clone()
			}
		case message.KindArray:
			if obj != nil {
				continue
			}
			if arr == nil {
				arr = []message.Value{}
			}
			items, _ := v.AsArray()
			for _, e := range items {
				arr = append(arr, e.Clone())
			}
		}
	}
	switch {
	case obj != nil:
		return message.Object(obj)
	case arr != nil:
		return message.Array(arr)
	}
	return message.Null()
}
