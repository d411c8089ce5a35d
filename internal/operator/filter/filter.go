package filter

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"halia/internal/operator"
	"halia/pkg/cel"
	"halia/pkg/errors"
	"halia/pkg/message"
)

const (
	Eq       = "eq"
	Neq      = "neq"
	Gt       = "gt"
	Gte      = "gte"
	Lt       = "lt"
	Lte      = "lte"
	Regex    = "reg"
	Contains = "ct"
	Expr     = "expr"
)

// Epsilon is the tolerance for comparisons involving a float operand.
const Epsilon = 1e-10

const keepMarker = "keep"

type Conf struct {
	Filters []ItemConf `json:"filters"`
}

type ItemConf struct {
	Type  string        `json:"type"`
	Field string        `json:"field"`
	Value message.Value `json:"value"`
}

type rule interface {
	match(batchName string, msg *message.Message) bool
}

// Filter keeps a message when any of its rules matches.
type Filter struct {
	rules []rule
}

func New(raw json.RawMessage) (*Filter, error) {
	var conf Conf
	if err := operator.DecodeConf(raw, &conf, "filter"); err != nil {
		return nil, err
	}
	return NewFromConf(conf)
}

func NewFromConf(conf Conf) (*Filter, error) {
	if len(conf.Filters) == 0 {
		return nil, errors.ErrConfig.WithMessage("filter: at least one rule is required")
	}

	f := &Filter{rules: make([]rule, 0, len(conf.Filters))}
	for i, item := range conf.Filters {
		r, err := newRule(item)
		if err != nil {
			return nil, err.WithDetail("filter_index", i)
		}
		f.rules = append(f.rules, r)
	}
	return f, nil
}

func newRule(item ItemConf) (rule, *errors.Error) {
	if item.Type == Expr {
		expression, ok := item.Value.AsString()
		if !ok || expression == "" {
			return nil, errors.ErrConfig.WithMessage("filter: expr rule needs a string expression")
		}
		return newExprRule(expression)
	}

	if item.Field == "" {
		return nil, errors.ErrConfig.WithMessage("filter: field is required for %q", item.Type)
	}
	arg := operator.ParseArg(item.Value)

	switch item.Type {
	case Eq, Neq, Gt, Gte, Lt, Lte, Contains:
		return &compareRule{op: item.Type, field: item.Field, arg: arg}, nil
	case Regex:
		r := &regexRule{field: item.Field, arg: arg}
		if pattern, ok := arg.Constant(); ok {
			s, ok := pattern.AsString()
			if !ok {
				return nil, errors.ErrConfig.WithMessage("filter: reg value must be a string")
			}
			re, err := regexp.Compile(s)
			if err != nil {
				return nil, errors.ErrConfig.WithCause(err).WithMessage("filter: invalid regular expression %q", s)
			}
			r.re = re
		}
		return r, nil
	default:
		return nil, errors.ErrConfig.WithMessage("filter: unknown rule type %q", item.Type)
	}
}

// Process removes every message no rule matches.
func (f *Filter) Process(b *message.Batch) {
	if b.IsEmpty() {
		return
	}
	msgs := b.Messages()
	for _, r := range f.rules {
		for _, msg := range msgs {
			if kept(msg) {
				continue
			}
			if r.match(b.Name(), msg) {
				msg.SetMetadata(keepMarker, message.Bool(true))
			}
		}
	}
	b.Retain(func(msg *message.Message) bool {
		keep := kept(msg)
		msg.DeleteMetadata(keepMarker)
		return keep
	})
}

func kept(msg *message.Message) bool {
	v, ok := msg.Metadata(keepMarker)
	if !ok {
		return false
	}
	b, _ := v.AsBool()
	return b
}

type compareRule struct {
	op    string
	field string
	arg   operator.Arg
}

func (r *compareRule) match(_ string, msg *message.Message) bool {
	left, ok := msg.Get(r.field)
	if !ok {
		return false
	}
	right, ok := r.arg.Resolve(msg)
	if !ok {
		return false
	}

	switch r.op {
	case Eq:
		return Equal(left, right)
	case Neq:
		return !Equal(left, right)
	case Contains:
		return contains(left, right)
	}

	c, ok := Compare(left, right)
	if !ok {
		return false
	}
	switch r.op {
	case Gt:
		return c > 0
	case Gte:
		return c >= 0
	case Lt:
		return c < 0
	case Lte:
		return c <= 0
	}
	return false
}

// Equal compares numbers numerically (with Epsilon when a float is involved)
// and everything else structurally.
func Equal(a, b message.Value) bool {
	if a.IsNumber() && b.IsNumber() {
		ai, aInt := a.AsInt()
		bi, bInt := b.AsInt()
		if aInt && bInt {
			return ai == bi
		}
		af, _ := a.AsFloat()
		bf, _ := b.AsFloat()
		return math.Abs(af-bf) < Epsilon
	}
	return a.Equal(b)
}

// Compare orders two numbers or two strings. The second result is false for
// any other combination.
func Compare(a, b message.Value) (int, bool) {
	if a.IsNumber() && b.IsNumber() {
		ai, aInt := a.AsInt()
		bi, bInt := b.AsInt()
		if aInt && bInt {
			switch {
			case ai < bi:
				return -1, true
			case ai > bi:
				return 1, true
			}
			return 0, true
		}
		af, _ := a.AsFloat()
		bf, _ := b.AsFloat()
		switch {
		case math.Abs(af-bf) < Epsilon:
			return 0, true
		case af < bf:
			return -1, true
		}
		return 1, true
	}
	as, aok := a.AsString()
	bs, bok := b.AsString()
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func contains(haystack, needle message.Value) bool {
	if s, ok := haystack.AsString(); ok {
		sub, ok := needle.AsString()
		return ok && strings.Contains(s, sub)
	}
	if arr, ok := haystack.AsArray(); ok {
		for _, item := range arr {
			if Equal(item, needle) {
				return true
			}
		}
	}
	return false
}

type regexRule struct {
	field string
	arg   operator.Arg
	re    *regexp.Regexp
}

func (r *regexRule) match(_ string, msg *message.Message) bool {
	v, ok := msg.Get(r.field)
	if !ok {
		return false
	}
	s, ok := v.AsString()
	if !ok {
		return false
	}
	re := r.re
	if re == nil {
		pattern, ok := r.arg.Resolve(msg)
		if !ok {
			return false
		}
		p, ok := pattern.AsString()
		if !ok {
			return false
		}
		compiled, err := regexp.Compile(p)
		if err != nil {
			return false
		}
		re = compiled
	}
	return re.MatchString(s)
}

type exprRule struct {
	predicate *cel.Predicate
}

func newExprRule(expression string) (rule, *errors.Error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, errors.ErrInternal.WithCause(err)
	}
	predicate, err := evaluator.CompilePredicate(expression)
	if err != nil {
		return nil, errors.ErrConfig.WithCause(err).WithMessage("filter: invalid expression %q", expression)
	}
	return &exprRule{predicate: predicate}, nil
}

func (r *exprRule) match(batchName string, msg *message.Message) bool {
	ok, err := r.predicate.Eval(context.Background(), batchName, msg)
	return err == nil && ok
}
