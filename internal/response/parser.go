// Package response extracts a JSON object from free-form LLM output and
// validates it against a declared schema.
package response

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type Method string

const (
	MethodDirect   Method = "direct"
	MethodFenced   Method = "fenced"
	MethodEmbedded Method = "embedded"
)

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// UnparsableError carries the raw text of a response no tier could decode.
type UnparsableError struct {
	Raw string
}

func (e *UnparsableError) Error() string {
	preview := e.Raw
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	return fmt.Sprintf("unparsable llm response: %q", preview)
}

// ValidationError lists every schema violation of a parsed response.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "response failed validation: " + strings.Join(e.Violations, "; ")
}

type Parsed struct {
	Method     Method
	Object     map[string]any
	Violations []string
}

// Err returns a *ValidationError when the response violated its schema.
func (p *Parsed) Err() error {
	if p == nil || len(p.Violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: append([]string(nil), p.Violations...)}
}

// Extract finds the first JSON object in raw, trying the whole text, then the
// first fenced block, then the span from the first '{' to the last '}'.
func Extract(raw string) (map[string]any, Method, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, "", &UnparsableError{Raw: raw}
	}

	if obj, ok := decodeObject(text); ok {
		return obj, MethodDirect, nil
	}

	if m := fencePattern.FindStringSubmatch(text); m != nil {
		if obj, ok := decodeObject(strings.TrimSpace(m[1])); ok {
			return obj, MethodFenced, nil
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if obj, ok := decodeObject(text[start : end+1]); ok {
			return obj, MethodEmbedded, nil
		}
	}

	return nil, "", &UnparsableError{Raw: raw}
}

// Parse extracts the response object, decodes it into out when out is not nil
// and validates it against schema. Violations are returned on Parsed; callers
// decide whether they are fatal through Parsed.Err.
func Parse(raw string, schema *Schema, out any) (*Parsed, error) {
	obj, method, err := Extract(raw)
	if err != nil {
		return nil, err
	}

	parsed := &Parsed{Method: method, Object: obj}

	if out != nil {
		data, err := json.Marshal(obj)
		if err != nil {
			return nil, &UnparsableError{Raw: raw}
		}
		if err := json.Unmarshal(data, out); err != nil {
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &typeErr) {
				return nil, &UnparsableError{Raw: raw}
			}
			// encoding/json keeps decoding past a type mismatch, so out
			// still carries every well-typed field.
			parsed.Violations = append(parsed.Violations,
				fmt.Sprintf("%s: expected %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value))
		}
	}

	if schema != nil {
		parsed.Violations = append(parsed.Violations, schema.Validate(obj)...)
	}

	return parsed, nil
}

func decodeObject(text string) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return obj, true
}
