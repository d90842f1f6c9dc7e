package mapping

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/aretw0/reindex/pkg/core"
)

// Record is a generic entity: a tree of maps, lists and scalars.
type Record map[string]any

// Lookup resolves a dotted path inside r.
func (r Record) Lookup(path string) (any, bool) {
	var cur any = map[string]any(r)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Clone copies r deeply enough that callers cannot mutate stored maps.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Record(t).Clone())
	case Record:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Record:
		return t, true
	}
	return nil, false
}

// ChangedPaths returns the paths whose value differs between before and after.
func ChangedPaths(paths []string, before, after Record) []string {
	var out []string
	for _, p := range paths {
		a, aok := before.Lookup(p)
		b, bok := after.Lookup(p)
		if aok != bok || !reflect.DeepEqual(a, b) {
			out = append(out, p)
		}
	}
	return out
}

// NormalizeID converts identifiers decoded from YAML or JSON to strings so
// that 7, 7.0 and "7" name the same record.
func NormalizeID(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", fmt.Errorf("%w: missing", core.ErrInvalidIdentifier)
	case string:
		if t == "" {
			return "", fmt.Errorf("%w: empty", core.ErrInvalidIdentifier)
		}
		return t, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t), nil
	case float32, float64:
		return fmt.Sprint(t), nil
	case fmt.Stringer:
		return t.String(), nil
	}
	return "", fmt.Errorf("%w: unsupported type %T", core.ErrInvalidIdentifier, v)
}

// ids flattens a scalar or a list of identifiers.
func ids(v any) []string {
	var out []string
	switch t := v.(type) {
	case []any:
		for _, e := range t {
			if id, err := NormalizeID(e); err == nil {
				out = append(out, id)
			}
		}
	case []string:
		out = append(out, t...)
	default:
		if id, err := NormalizeID(t); err == nil {
			out = append(out, id)
		}
	}
	return out
}
