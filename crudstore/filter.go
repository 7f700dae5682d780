package crudstore

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/ministore/crudstore/crudstore/storage"
)

type Predicate = storage.Predicate

type FilterOptions struct {
	// SkipUnknownFields ignores query keys that are not schema fields.
	SkipUnknownFields bool
}

func DefaultFilterOptions() FilterOptions {
	return FilterOptions{}
}

// comparisonSigns is checked in order so that two-character signs win over
// their one-character prefixes.
var comparisonSigns = []struct {
	sign string
	op   storage.Op
}{
	{">=", storage.OpGte},
	{"<=", storage.OpLte},
	{">", storage.OpGt},
	{"<", storage.OpLt},
}

// CompileFilter turns a raw query mapping into a predicate set ordered by
// field declaration. A raw value is either one value or a slice of values.
//
// Per value, a comparison sign is checked before the wildcard marker: a value
// carrying a sign is never treated as a pattern, even if it contains '*'.
// Equality values of one field collapse into a single eq or in predicate;
// comparisons and patterns are kept as separate predicates and combine with
// AND.
func (s *Schema) CompileFilter(raw map[string]any, opts FilterOptions) ([]Predicate, error) {
	rep := report{}
	var unknown []string
	for name := range raw {
		if !s.HasField(name) && !opts.SkipUnknownFields {
			rep.add(name, msgUnknown)
			unknown = append(unknown, name)
		}
	}

	var out []Predicate
	for _, f := range s.fields {
		v, ok := raw[f.Name]
		if !ok {
			continue
		}
		preds, msgs := compileField(f, v)
		for _, m := range msgs {
			rep.add(f.Name, m)
		}
		out = append(out, preds...)
	}

	if err := rep.err(unknown); err != nil {
		return nil, err
	}
	return out, nil
}

func compileField(f Field, raw any) ([]Predicate, []string) {
	var (
		eqs   []any
		rest  []Predicate
		msgs  []string
		valid = true
	)
	for _, v := range filterValues(raw) {
		if v == nil {
			if f.AllowNoneAsFilter {
				eqs = appendDistinct(eqs, nil)
			}
			continue
		}
		if f.Type == TypeDict || f.Type == TypeList {
			msgs = append(msgs, fmt.Sprintf("Filtering on %s values is not supported.", f.Type))
			valid = false
			continue
		}
		str, isString := v.(string)
		if isString && f.AllowComparisonSigns {
			if op, operand, ok := splitComparison(str); ok {
				cv, msg := coerce(f, operand)
				if msg != "" {
					msgs = append(msgs, msg)
					valid = false
					continue
				}
				rest = append(rest, Predicate{Field: f.Name, Op: op, Value: cv})
				continue
			}
		}
		if isString && f.InterpretStarAsWildcard && storage.HasWildcard(str) {
			rest = append(rest, Predicate{Field: f.Name, Op: storage.OpRegex, Value: storage.Pattern(str)})
			continue
		}
		cv, msg := coerce(f, v)
		if msg != "" {
			msgs = append(msgs, msg)
			valid = false
			continue
		}
		eqs = appendDistinct(eqs, cv)
	}
	if !valid {
		return nil, msgs
	}

	var out []Predicate
	switch len(eqs) {
	case 0:
	case 1:
		out = append(out, Predicate{Field: f.Name, Op: storage.OpEq, Value: eqs[0]})
	default:
		out = append(out, Predicate{Field: f.Name, Op: storage.OpIn, Value: eqs})
	}
	return append(out, rest...), nil
}

func splitComparison(s string) (storage.Op, string, bool) {
	for _, c := range comparisonSigns {
		if strings.HasPrefix(s, c.sign) {
			return c.op, s[len(c.sign):], true
		}
	}
	return "", "", false
}

func filterValues(raw any) []any {
	switch x := raw.(type) {
	case nil:
		return []any{nil}
	case []any:
		return x
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case []byte:
		return []any{x}
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []any{raw}
}

func appendDistinct(vs []any, v any) []any {
	for _, existing := range vs {
		if existing == nil && v == nil {
			return vs
		}
		if existing != nil && v != nil && sameValue(existing, v) {
			return vs
		}
	}
	return append(vs, v)
}
