package response

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type Range struct {
	Min float64
	Max float64
}

// Check inspects a whole object for cross-field consistency and returns one
// message per problem found.
type Check func(obj map[string]any) []string

// Schema declares the expected shape of a response object. Paths are dotted;
// a "*" segment applies the rule to every element of an array.
type Schema struct {
	Required []string
	Enums    map[string][]string
	Ranges   map[string]Range
	Checks   []Check
}

func (s *Schema) Validate(obj map[string]any) []string {
	var violations []string

	for _, path := range s.Required {
		for _, v := range resolve(obj, path) {
			if !v.found || v.value == nil {
				violations = append(violations, fmt.Sprintf("%s: required field missing", v.path))
				continue
			}
			if str, ok := v.value.(string); ok && strings.TrimSpace(str) == "" {
				violations = append(violations, fmt.Sprintf("%s: required field empty", v.path))
			}
		}
	}

	for _, path := range sortedKeys(s.Enums) {
		allowed := s.Enums[path]
		for _, v := range resolve(obj, path) {
			if !v.found || v.value == nil {
				continue
			}
			str, ok := v.value.(string)
			if !ok || !containsFold(allowed, str) {
				violations = append(violations, fmt.Sprintf("%s: %v not in %v", v.path, v.value, allowed))
			}
		}
	}

	for _, path := range sortedKeys(s.Ranges) {
		r := s.Ranges[path]
		for _, v := range resolve(obj, path) {
			if !v.found || v.value == nil {
				continue
			}
			n, ok := Number(v.value)
			if !ok {
				violations = append(violations, fmt.Sprintf("%s: %v is not a number", v.path, v.value))
				continue
			}
			if n < r.Min || n > r.Max {
				violations = append(violations, fmt.Sprintf("%s: %v outside [%g, %g]", v.path, n, r.Min, r.Max))
			}
		}
	}

	for _, check := range s.Checks {
		violations = append(violations, check(obj)...)
	}

	return violations
}

// Lookup returns the value at a dotted path without wildcards.
func Lookup(obj map[string]any, path string) (any, bool) {
	var cur any = obj
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Number converts a decoded JSON value to float64. Numeric strings count.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

type resolved struct {
	path  string
	value any
	found bool
}

func resolve(obj map[string]any, path string) []resolved {
	return walk(obj, strings.Split(path, "."), "")
}

func walk(cur any, segs []string, prefix string) []resolved {
	if len(segs) == 0 {
		return []resolved{{path: prefix, value: cur, found: true}}
	}

	seg := segs[0]
	next := seg
	if prefix != "" {
		next = prefix + "." + seg
	}

	if seg == "*" {
		arr, ok := cur.([]any)
		if !ok {
			return []resolved{{path: prefix}}
		}
		var out []resolved
		for i, el := range arr {
			out = append(out, walk(el, segs[1:], fmt.Sprintf("%s[%d]", prefix, i))...)
		}
		return out
	}

	m, ok := cur.(map[string]any)
	if !ok {
		return []resolved{{path: next}}
	}
	val, ok := m[seg]
	if !ok {
		return []resolved{{path: joinRest(next, segs[1:])}}
	}
	return walk(val, segs[1:], next)
}

func joinRest(prefix string, rest []string) string {
	if len(rest) == 0 {
		return prefix
	}
	return prefix + "." + strings.Join(rest, ".")
}

func containsFold(set []string, s string) bool {
	s = strings.TrimSpace(s)
	for _, v := range set {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
