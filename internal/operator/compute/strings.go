package compute

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"halia/pkg/message"
)

func init() {
	register("string_concat", 1, -1, stringConcat)
	registerChecked("string_slice", 1, 2, stringSlice, nonNegativeInts)
	registerChecked("string_pad_start", 1, 2, pad(true), nonNegativeInts)
	registerChecked("string_pad_end", 1, 2, pad(false), nonNegativeInts)
	registerChecked("string_repeat", 1, 1, stringRepeat, nonNegativeInts)

	register("string_lower", 0, 0, stringMap(strings.ToLower))
	register("string_upper", 0, 0, stringMap(strings.ToUpper))
	register("string_reverse", 0, 0, stringMap(reverse))
	register("string_trim", 0, 1, trim(strings.Trim, strings.TrimSpace))
	register("string_trim_start", 0, 1, trim(strings.TrimLeft, func(s string) string {
		return strings.TrimLeft(s, " \t\r\n")
	}))
	register("string_trim_end", 0, 1, trim(strings.TrimRight, func(s string) string {
		return strings.TrimRight(s, " \t\r\n")
	}))
	register("string_length", 0, 0, func(v message.Value, _ []message.Value) (message.Value, bool) {
		s, ok := v.AsString()
		if !ok {
			return message.Value{}, false
		}
		return message.Int(int64(utf8.RuneCountInString(s))), true
	})

	register("string_includes", 1, 1, stringPredicate(strings.Contains))
	register("string_starts_with", 1, 1, stringPredicate(strings.HasPrefix))
	register("string_ends_with", 1, 1, stringPredicate(strings.HasSuffix))
	register("string_index_of", 1, 1, stringIndex(strings.Index))
	register("string_last_index_of", 1, 1, stringIndex(strings.LastIndex))
	register("string_split", 1, 1, stringSplit)
	registerChecked("string_regex_match", 1, 1, regexMatch, validPatterns)

	register("string_base64", 0, 0, func(v message.Value, _ []message.Value) (message.Value, bool) {
		raw, ok := text(v)
		if !ok {
			return message.Value{}, false
		}
		return message.String(base64.StdEncoding.EncodeToString(raw)), true
	})
	register("string_hex", 0, 0, func(v message.Value, _ []message.Value) (message.Value, bool) {
		raw, ok := text(v)
		if !ok {
			return message.Value{}, false
		}
		return message.String(hex.EncodeToString(raw)), true
	})
}

// nonNegativeInts rejects constant numeric arguments below zero. A string
// after the first position is a pad string and is left alone.
func nonNegativeInts(args []message.Value) error {
	for i, a := range args {
		if a.IsNull() {
			continue
		}
		if _, isStr := a.AsString(); isStr && i > 0 {
			continue
		}
		n, ok := a.AsInt()
		if !ok || n < 0 {
			return fmt.Errorf("argument %d must be a non-negative integer", i)
		}
	}
	return nil
}

func validPatterns(args []message.Value) error {
	for _, a := range args {
		if s, ok := a.AsString(); ok {
			if _, err := regexp.Compile(s); err != nil {
				return err
			}
		}
	}
	return nil
}

func stringMap(f func(string) string) fn {
	return func(v message.Value, _ []message.Value) (message.Value, bool) {
		s, ok := v.AsString()
		if !ok {
			return message.Value{}, false
		}
		return message.String(f(s)), true
	}
}

func trim(withCutset func(s, cutset string) string, fallback func(string) string) fn {
	return func(v message.Value, args []message.Value) (message.Value, bool) {
		s, ok := v.AsString()
		if !ok {
			return message.Value{}, false
		}
		if len(args) == 0 {
			return message.String(fallback(s)), true
		}
		cutset, ok := args[0].AsString()
		if !ok {
			return message.Value{}, false
		}
		return message.String(withCutset(s, cutset)), true
	}
}

func stringPredicate(f func(s, sub string) bool) fn {
	return func(v message.Value, args []message.Value) (message.Value, bool) {
		s, ok := v.AsString()
		if !ok {
			return message.Value{}, false
		}
		sub, ok := args[0].AsString()
		if !ok {
			return message.Value{}, false
		}
		return message.Bool(f(s, sub)), true
	}
}

// stringIndex reports character positions; -1 when the substring is absent.
func stringIndex(f func(s, sub string) int) fn {
	return func(v message.Value, args []message.Value) (message.Value, bool) {
		s, ok := v.AsString()
		if !ok {
			return message.Value{}, false
		}
		sub, ok := args[0].AsString()
		if !ok {
			return message.Value{}, false
		}
		i := f(s, sub)
		if i < 0 {
			return message.Int(-1), true
		}
		return message.Int(int64(utf8.RuneCountInString(s[:i]))), true
	}
}

func stringConcat(v message.Value, args []message.Value) (message.Value, bool) {
	s, ok := v.AsString()
	if !ok {
		return message.Value{}, false
	}
	var sb strings.Builder
	sb.WriteString(s)
	for _, a := range args {
		part, ok := a.AsString()
		if !ok {
			return message.Value{}, false
		}
		sb.WriteString(part)
	}
	return message.String(sb.String()), true
}

// stringSlice takes [start, end) in characters; end defaults to the length
// and is clamped to it.
func stringSlice(v message.Value, args []message.Value) (message.Value, bool) {
	s, ok := v.AsString()
	if !ok {
		return message.Value{}, false
	}
	runes := []rune(s)
	start, ok := argInt(args, 0, 0)
	if !ok || start < 0 || start > int64(len(runes)) {
		return message.Value{}, false
	}
	end, ok := argInt(args, 1, int64(len(runes)))
	if !ok || end < start {
		return message.Value{}, false
	}
	if end > int64(len(runes)) {
		end = int64(len(runes))
	}
	return message.String(string(runes[start:end])), true
}

func pad(start bool) fn {
	return func(v message.Value, args []message.Value) (message.Value, bool) {
		s, ok := v.AsString()
		if !ok {
			return message.Value{}, false
		}
		target, ok := argInt(args, 0, 0)
		if !ok || target < 0 {
			return message.Value{}, false
		}
		padding, ok := argString(args, 1, " ")
		if !ok || padding == "" {
			return message.Value{}, false
		}

		n := int(target) - utf8.RuneCountInString(s)
		if n <= 0 {
			return message.String(s), true
		}
		padRunes := []rune(padding)
		fill := make([]rune, n)
		for i := range fill {
			fill[i] = padRunes[i%len(padRunes)]
		}
		if start {
			return message.String(string(fill) + s), true
		}
		return message.String(s + string(fill)), true
	}
}

func stringRepeat(v message.Value, args []message.Value) (message.Value, bool) {
	s, ok := v.AsString()
	if !ok {
		return message.Value{}, false
	}
	n, ok := args[0].AsInt()
	if !ok || n < 0 {
		return message.Value{}, false
	}
	return message.String(strings.Repeat(s, int(n))), true
}

func stringSplit(v message.Value, args []message.Value) (message.Value, bool) {
	s, ok := v.AsString()
	if !ok {
		return message.Value{}, false
	}
	sep, ok := args[0].AsString()
	if !ok {
		return message.Value{}, false
	}
	parts := strings.Split(s, sep)
	out := make([]message.Value, len(parts))
	for i, p := range parts {
		out[i] = message.String(p)
	}
	return message.Array(out), true
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

const maxCachedPatterns = 256

var patterns = struct {
	sync.Mutex
	m map[string]*regexp.Regexp
}{m: make(map[string]*regexp.Regexp)}

func compilePattern(p string) (*regexp.Regexp, error) {
	patterns.Lock()
	defer patterns.Unlock()
	if re, ok := patterns.m[p]; ok {
		return re, nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	if len(patterns.m) >= maxCachedPatterns {
		patterns.m = make(map[string]*regexp.Regexp)
	}
	patterns.m[p] = re
	return re, nil
}

func regexMatch(v message.Value, args []message.Value) (message.Value, bool) {
	s, ok := v.AsString()
	if !ok {
		return message.Value{}, false
	}
	p, ok := args[0].AsString()
	if !ok {
		return message.Value{}, false
	}
	re, err := compilePattern(p)
	if err != nil {
		return message.Value{}, false
	}
	return message.Bool(re.MatchString(s)), true
}
