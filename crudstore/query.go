package crudstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ministore/crudstore/crudstore/storage"
)

type Query = storage.Query

// ParseQuery splits the reserved order_by, limit and offset keys off raw and
// compiles the remaining keys with CompileFilter.
//
// order_by takes one or more "field" or "field desc" entries, either as a
// slice or as a comma separated string.
func (s *Schema) ParseQuery(raw map[string]any, opts FilterOptions) (Query, error) {
	var q Query
	rep := report{}
	filters := make(map[string]any, len(raw))
	for k, v := range raw {
		switch k {
		case KeyOrderBy:
			order, msgs := s.parseOrder(v)
			for _, m := range msgs {
				rep.add(KeyOrderBy, m)
			}
			q.Order = order
		case KeyLimit:
			n, msg := parseCount(v)
			if msg != "" {
				rep.add(KeyLimit, msg)
			}
			q.Limit = n
		case KeyOffset:
			n, msg := parseCount(v)
			if msg != "" {
				rep.add(KeyOffset, msg)
			}
			q.Offset = n
		default:
			filters[k] = v
		}
	}

	where, err := s.CompileFilter(filters, opts)
	if err != nil {
		if fields := FieldErrors(err); fields != nil && len(rep) > 0 {
			for k, msgs := range fields {
				rep[k] = append(rep[k], msgs...)
			}
			return Query{}, rep.err(nil)
		}
		return Query{}, err
	}
	if err := rep.err(nil); err != nil {
		return Query{}, err
	}
	q.Where = where
	return q, nil
}

func (s *Schema) parseOrder(v any) ([]storage.Order, []string) {
	var entries []string
	for _, item := range filterValues(v) {
		str, ok := item.(string)
		if !ok {
			if item != nil {
				return nil, []string{fmt.Sprintf("Invalid order %v.", item)}
			}
			continue
		}
		for _, part := range strings.Split(str, ",") {
			if part = strings.TrimSpace(part); part != "" {
				entries = append(entries, part)
			}
		}
	}

	var (
		out  []storage.Order
		msgs []string
	)
	for _, e := range entries {
		fields := strings.Fields(e)
		o := storage.Order{Field: fields[0]}
		switch {
		case len(fields) == 1:
		case len(fields) == 2 && strings.EqualFold(fields[1], "desc"):
			o.Desc = true
		case len(fields) == 2 && strings.EqualFold(fields[1], "asc"):
		default:
			msgs = append(msgs, fmt.Sprintf("Invalid order %q.", e))
			continue
		}
		if !s.HasField(o.Field) {
			msgs = append(msgs, fmt.Sprintf("Unknown field %q.", o.Field))
			continue
		}
		out = append(out, o)
	}
	return out, msgs
}

func parseCount(v any) (int, string) {
	const msg = "Not a valid positive int."
	if vs := filterValues(v); len(vs) == 1 {
		v = vs[0]
	}
	var n int64
	switch x := v.(type) {
	case nil:
		return 0, ""
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, msg
		}
		n = parsed
	default:
		cv, m := coerceInt(x)
		if m != "" {
			return 0, msg
		}
		n = cv.(int64)
	}
	if n < 0 {
		return 0, msg
	}
	return int(n), ""
}
