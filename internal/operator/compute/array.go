package compute

import (
	"strings"

	"halia/pkg/message"
)

func init() {
	register("array_push", 1, -1, arrayPush)
	register("array_pop", 0, 0, arrayPop)
	register("array_join", 0, 1, arrayJoin)
	register("array_index_of", 1, 1, arrayIndex(false))
	register("array_last_index_of", 1, 1, arrayIndex(true))
	register("array_concat", 1, -1, arrayConcat)
	register("array_len", 0, 0, func(v message.Value, _ []message.Value) (message.Value, bool) {
		arr, ok := v.AsArray()
		if !ok {
			return message.Value{}, false
		}
		return message.Int(int64(len(arr))), true
	})
	register("array_distinct", 0, 0, arrayDistinct)
}

func arrayPush(v message.Value, args []message.Value) (message.Value, bool) {
	arr, ok := v.AsArray()
	if !ok {
		return message.Value{}, false
	}
	out := make([]message.Value, 0, len(arr)+len(args))
	out = append(out, arr...)
	for _, a := range args {
		out = append(out, a.Clone())
	}
	return message.Array(out), true
}

// arrayPop drops the last element; an empty array is left as is.
func arrayPop(v message.Value, _ []message.Value) (message.Value, bool) {
	arr, ok := v.AsArray()
	if !ok || len(arr) == 0 {
		return message.Value{}, false
	}
	out := make([]message.Value, len(arr)-1)
	copy(out, arr)
	return message.Array(out), true
}

// arrayJoin joins scalar elements with the separator, "," by default.
func arrayJoin(v message.Value, args []message.Value) (message.Value, bool) {
	arr, ok := v.AsArray()
	if !ok {
		return message.Value{}, false
	}
	sep, ok := argString(args, 0, ",")
	if !ok {
		return message.Value{}, false
	}
	parts := make([]string, len(arr))
	for i, e := range arr {
		switch e.Kind() {
		case message.KindArray, message.KindObject, message.KindBytes:
			return message.Value{}, false
		}
		parts[i] = e.String()
	}
	return message.String(strings.Join(parts, sep)), true
}

func arrayIndex(last bool) fn {
	return func(v message.Value, args []message.Value) (message.Value, bool) {
		arr, ok := v.AsArray()
		if !ok {
			return message.Value{}, false
		}
		idx := -1
		for i, e := range arr {
			if e.Equal(args[0]) {
				idx = i
				if !last {
					break
				}
			}
		}
		return message.Int(int64(idx)), true
	}
}

func arrayConcat(v message.Value, args []message.Value) (message.Value, bool) {
	arr, ok := v.AsArray()
	if !ok {
		return message.Value{}, false
	}
	out := append([]message.Value(nil), arr...)
	for _, a := range args {
		more, ok := a.AsArray()
		if !ok {
			return message.Value{}, false
		}
		for _, e := range more {
			out = append(out, e.Clone())
		}
	}
	return message.Array(out), true
}

// arrayDistinct keeps the first occurrence of each element.
func arrayDistinct(v message.Value, _ []message.Value) (message.Value, bool) {
	arr, ok := v.AsArray()
	if !ok {
		return message.Value{}, false
	}
	out := make([]message.Value, 0, len(arr))
	for _, e := range arr {
		dup := false
		for _, seen := range out {
			if seen.Equal(e) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, e)
		}
	}
	return message.Array(out), true
}
