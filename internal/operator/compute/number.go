package compute

import (
	"math"

	"halia/pkg/message"
)

const (
	NumberAbs      = "number_abs"
	NumberAdd      = "number_add"
	NumberSub      = "number_sub"
	NumberMulti    = "number_multi"
	NumberDivision = "number_division"
	NumberModulo   = "number_modulo"
	NumberPower    = "number_power"
	NumberLog      = "number_log"
	NumberAtan2    = "number_atan2"
)

var unaryFloat = map[string]func(float64) float64{
	"number_ln":      math.Log,
	"number_exp":     math.Exp,
	"number_sqrt":    math.Sqrt,
	"number_cbrt":    math.Cbrt,
	"number_degrees": func(x float64) float64 { return x * 180 / math.Pi },
	"number_radians": func(x float64) float64 { return x * math.Pi / 180 },
	"number_sin":     math.Sin,
	"number_cos":     math.Cos,
	"number_tan":     math.Tan,
	"number_asin":    math.Asin,
	"number_acos":    math.Acos,
	"number_atan":    math.Atan,
	"number_sinh":    math.Sinh,
	"number_cosh":    math.Cosh,
	"number_tanh":    math.Tanh,
	"number_asinh":   math.Asinh,
	"number_acosh":   math.Acosh,
	"number_atanh":   math.Atanh,
}

// Rounding keeps Int input as is.
var rounding = map[string]func(float64) float64{
	"number_ceil":  math.Ceil,
	"number_floor": math.Floor,
	"number_round": math.Round,
}

func init() {
	for name, f := range unaryFloat {
		register(name, 0, 0, floatFn(f))
	}
	for name, f := range rounding {
		register(name, 0, 0, func(v message.Value, _ []message.Value) (message.Value, bool) {
			if i, ok := v.AsInt(); ok {
				return message.Int(i), true
			}
			x, ok := v.AsFloat()
			if !ok {
				return message.Value{}, false
			}
			return finite(f(x))
		})
	}

	register(NumberAbs, 0, 0, abs)
	register(NumberAdd, 1, -1, fold(
		func(a, b int64) (int64, bool) { return a + b, true },
		func(a, b float64) float64 { return a + b },
	))
	register(NumberSub, 1, -1, fold(
		func(a, b int64) (int64, bool) { return a - b, true },
		func(a, b float64) float64 { return a - b },
	))
	register(NumberMulti, 1, -1, fold(
		func(a, b int64) (int64, bool) { return a * b, true },
		func(a, b float64) float64 { return a * b },
	))
	register(NumberModulo, 1, 1, fold(
		func(a, b int64) (int64, bool) {
			if b == 0 {
				return 0, false
			}
			return a % b, true
		},
		math.Mod,
	))
	register(NumberDivision, 1, -1, division)
	register(NumberPower, 1, 1, binaryFloat(math.Pow))
	register(NumberLog, 1, 1, binaryFloat(func(x, base float64) float64 {
		return math.Log(x) / math.Log(base)
	}))
	register(NumberAtan2, 1, 1, binaryFloat(math.Atan2))
}

// finite rejects NaN and infinities, which are outside the function's domain.
func finite(x float64) (message.Value, bool) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return message.Value{}, false
	}
	return message.Float(x), true
}

func floatFn(f func(float64) float64) fn {
	return func(v message.Value, _ []message.Value) (message.Value, bool) {
		x, ok := v.AsFloat()
		if !ok {
			return message.Value{}, false
		}
		return finite(f(x))
	}
}

func binaryFloat(f func(x, y float64) float64) fn {
	return func(v message.Value, args []message.Value) (message.Value, bool) {
		x, ok := v.AsFloat()
		if !ok {
			return message.Value{}, false
		}
		y, ok := args[0].AsFloat()
		if !ok {
			return message.Value{}, false
		}
		return finite(f(x, y))
	}
}

func abs(v message.Value, _ []message.Value) (message.Value, bool) {
	if i, ok := v.AsInt(); ok {
		if i < 0 {
			if i == math.MinInt64 {
				return message.Value{}, false
			}
			i = -i
		}
		return message.Int(i), true
	}
	x, ok := v.AsFloat()
	if !ok {
		return message.Value{}, false
	}
	return message.Float(math.Abs(x)), true
}

// fold applies op left to right over the value and its arguments. The result
// stays Int while every operand is Int and switches to Float at the first
// Float operand.
func fold(intOp func(a, b int64) (int64, bool), floatOp func(a, b float64) float64) fn {
	return func(v message.Value, args []message.Value) (message.Value, bool) {
		if !v.IsNumber() {
			return message.Value{}, false
		}
		acc := v
		for _, arg := range args {
			if !arg.IsNumber() {
				return message.Value{}, false
			}
			ai, accInt := acc.AsInt()
			bi, argInt := arg.AsInt()
			if accInt && argInt {
				r, ok := intOp(ai, bi)
				if !ok {
					return message.Value{}, false
				}
				acc = message.Int(r)
				continue
			}
			af, _ := acc.AsFloat()
			bf, _ := arg.AsFloat()
			acc = message.Float(floatOp(af, bf))
		}
		if f, ok := acc.AsFloat(); ok && acc.Kind() == message.KindFloat {
			return finite(f)
		}
		return acc, true
	}
}

// division always yields Float; a zero divisor leaves the message unchanged.
func division(v message.Value, args []message.Value) (message.Value, bool) {
	x, ok := v.AsFloat()
	if !ok {
		return message.Value{}, false
	}
	for _, arg := range args {
		d, ok := arg.AsFloat()
		if !ok || d == 0 {
			return message.Value{}, false
		}
		x /= d
	}
	return finite(x)
}
