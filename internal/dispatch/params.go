package dispatch

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/rcliao/memoryd/internal/apperr"
)

// Type is the declared type of a tool parameter.
type Type string

const (
	String     Type = "string"
	Integer    Type = "integer"
	Number     Type = "number"
	Boolean    Type = "boolean"
	StringList Type = "string_list"
)

// Param declares one named parameter of a tool.
type Param struct {
	Name        string
	Type        Type
	Required    bool
	Description string
	Enum        []string // enforced for String parameters
}

// Spec declares a tool: its name and the parameters it accepts.
type Spec struct {
	Name        string
	Description string
	Params      []Param
}

// aliases maps every accepted alternative parameter name to its canonical
// name. An alias only resolves for tools that declare the canonical name.
var aliases = map[string]string{
	"text": "content",

	"filename": "file_name",
	"file":     "file_name",

	"type":          "resource_type",
	"document_type": "resource_type",

	"query_text":   "query",
	"search_query": "query",

	"k":           "limit",
	"top_k":       "limit",
	"max_results": "limit",

	"max_chars": "budget",

	"document_id": "resource_id",
	"doc_id":      "resource_id",
	"memory_id":   "resource_id",

	"input_prompt":   "prompt",
	"generated_code": "code",
	"output":         "code",

	"result":         "verdict",
	"status":         "verdict",
	"verdict_filter": "verdict",

	"execution_time_ms": "execution_time",
	"error":             "error_message",

	"time_window": "window",
	"since":       "window",

	"source_document_id": "source_id",
	"from_id":            "source_id",
	"target_document_id": "target_id",
	"to_id":              "target_id",

	"relationship_type": "kind",
	"relation":          "kind",
	"rel":               "kind",

	"similarity":       "score",
	"similarity_score": "score",

	"candidates":     "candidate_ids",
	"candidate_pool": "candidate_ids",
}

// AliasesOf returns the accepted aliases of a canonical parameter name,
// sorted.
func AliasesOf(canonical string) []string {
	var out []string
	for alias, c := range aliases {
		if c == canonical {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}

// Canonical resolves name to its canonical parameter name.
func Canonical(name string) string {
	if c, ok := aliases[name]; ok {
		return c
	}
	return name
}

func (s Spec) check() error {
	if s.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	seen := map[string]bool{}
	for _, p := range s.Params {
		if seen[p.Name] {
			return fmt.Errorf("tool %s: parameter %q declared twice", s.Name, p.Name)
		}
		seen[p.Name] = true
		if _, ok := aliases[p.Name]; ok {
			return fmt.Errorf("tool %s: parameter %q is an alias of %q", s.Name, p.Name, aliases[p.Name])
		}
		switch p.Type {
		case String, Integer, Number, Boolean, StringList:
		default:
			return fmt.Errorf("tool %s: parameter %q has unknown type %q", s.Name, p.Name, p.Type)
		}
	}
	return nil
}

// normalize resolves aliases, rejects unknown names, checks types and
// required parameters, and returns the arguments under canonical names with
// values converted to string, int64, float64, bool or []string. Null values
// count as absent.
func (s Spec) normalize(args map[string]any) (map[string]any, error) {
	declared := make(map[string]Param, len(s.Params))
	for _, p := range s.Params {
		declared[p.Name] = p
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(args))
	given := make(map[string]string, len(args))
	for _, k := range keys {
		v := args[k]
		if v == nil {
			continue
		}
		name := k
		if _, ok := declared[name]; !ok {
			c, isAlias := aliases[k]
			if _, ok := declared[c]; !isAlias || !ok {
				return nil, mismatch("%s: unknown parameter %q", s.Name, k)
			}
			name = c
		}
		cv, err := coerce(declared[name], v)
		if err != nil {
			return nil, mismatch("%s: %v", s.Name, err)
		}
		if prev, ok := out[name]; ok {
			if !reflect.DeepEqual(prev, cv) {
				return nil, mismatch("%s: %q and %q both set %s to different values", s.Name, given[name], k, name)
			}
			continue
		}
		out[name] = cv
		given[name] = k
	}

	for _, p := range s.Params {
		if _, ok := out[p.Name]; p.Required && !ok {
			if al := AliasesOf(p.Name); len(al) > 0 {
				return nil, mismatch("%s: missing required parameter %q (or one of %s)", s.Name, p.Name, strings.Join(al, ", "))
			}
			return nil, mismatch("%s: missing required parameter %q", s.Name, p.Name)
		}
	}
	return out, nil
}

func coerce(p Param, v any) (any, error) {
	switch p.Type {
	case String:
		s, ok := v.(string)
		if !ok {
			return nil, typeError(p, v)
		}
		if len(p.Enum) > 0 && !slices.Contains(p.Enum, s) {
			return nil, fmt.Errorf("parameter %q must be one of %s, got %q", p.Name, strings.Join(p.Enum, ", "), s)
		}
		return s, nil
	case Integer:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
		}
		f, ok := number(v)
		if !ok || math.IsInf(f, 0) || f != math.Trunc(f) {
			return nil, typeError(p, v)
		}
		if f < -(1<<63) || f >= 1<<63 {
			return nil, fmt.Errorf("parameter %q is out of range for an integer, got %v", p.Name, f)
		}
		return int64(f), nil
	case Number:
		f, ok := number(v)
		if !ok || math.IsInf(f, 0) {
			return nil, typeError(p, v)
		}
		return f, nil
	case Boolean:
		b, ok := v.(bool)
		if !ok {
			return nil, typeError(p, v)
		}
		return b, nil
	case StringList:
		switch list := v.(type) {
		case []string:
			return slices.Clone(list), nil
		case []any:
			out := make([]string, len(list))
			for i, item := range list {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("parameter %q must be a list of strings, item %d is %T", p.Name, i, item)
				}
				out[i] = s
			}
			return out, nil
		}
		return nil, typeError(p, v)
	}
	return nil, fmt.Errorf("parameter %q has unknown type %q", p.Name, p.Type)
}

// number accepts the numeric shapes JSON decoders and Go callers produce.
// NaN never passes.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	return f, !math.IsNaN(f)
}

func typeError(p Param, v any) error {
	want := string(p.Type)
	if p.Type == StringList {
		want = "list of strings"
	}
	return fmt.Errorf("parameter %q must be %s, got %T", p.Name, want, v)
}

func mismatch(format string, args ...any) error {
	return apperr.New(apperr.ParameterMismatch, format, args...)
}
