// Package document translates predicate sets into query documents and runs
// them against an in-memory collection set.
package document

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ministore/crudstore/crudstore/storage"
)

var operators = map[storage.Op]string{
	storage.OpEq:    "$eq",
	storage.OpIn:    "$in",
	storage.OpGt:    "$gt",
	storage.OpGte:   "$gte",
	storage.OpLt:    "$lt",
	storage.OpLte:   "$lte",
	storage.OpRegex: "$regex",
}

// Filter translates preds into a query document. Predicates on one field
// share an operator document; repeated operators and default-value
// alternatives go under $and. An empty set yields an empty document, which
// matches everything.
func Filter(s storage.Schema, preds []storage.Predicate) (bson.D, error) {
	var (
		fields bson.D
		and    bson.A
	)
	at := make(map[string]int)

	for _, p := range preds {
		col, ok := storage.Lookup(s, p.Field)
		if !ok {
			return nil, errors.Newf("unknown field %q", p.Field)
		}
		op, ok := operators[p.Op]
		if !ok {
			return nil, errors.Newf("unknown operator %q", p.Op)
		}
		value, err := operand(p)
		if err != nil {
			return nil, err
		}

		if alt := defaultAlternative(col, p, op, value); alt != nil {
			and = append(and, alt)
			continue
		}

		i, seen := at[p.Field]
		if !seen {
			at[p.Field] = len(fields)
			fields = append(fields, bson.E{Key: p.Field, Value: bson.D{{Key: op, Value: value}}})
			continue
		}
		ops := fields[i].Value.(bson.D)
		if hasKey(ops, op) {
			and = append(and, bson.D{{Key: p.Field, Value: bson.D{{Key: op, Value: value}}}})
			continue
		}
		fields[i].Value = append(ops, bson.E{Key: op, Value: value})
	}

	out := fields
	if out == nil {
		out = bson.D{}
	}
	if len(and) > 0 {
		out = append(out, bson.E{Key: "$and", Value: and})
	}
	return out, nil
}

func operand(p storage.Predicate) (any, error) {
	switch p.Op {
	case storage.OpIn:
		values, ok := p.Value.([]any)
		if !ok {
			return nil, errors.Newf("in predicate on %s needs a list, got %T", p.Field, p.Value)
		}
		return bson.A(values), nil
	case storage.OpRegex:
		pattern, ok := p.Value.(storage.Pattern)
		if !ok {
			return nil, errors.Newf("regex predicate on %s needs a pattern, got %T", p.Field, p.Value)
		}
		return primitive.Regex{Pattern: pattern.Compact()}, nil
	}
	return p.Value, nil
}

// defaultAlternative builds {$or: [{f: {$exists: false}}, {f: {op: v}}]} when
// an equality predicate asks for the column's literal default, so documents
// stored before the field existed still match.
func defaultAlternative(col storage.Column, p storage.Predicate, op string, value any) bson.D {
	if col.Default == nil {
		return nil
	}
	matches := false
	switch p.Op {
	case storage.OpEq:
		matches = equal(col.Default, p.Value)
	case storage.OpIn:
		for _, v := range p.Value.([]any) {
			if equal(col.Default, v) {
				matches = true
				break
			}
		}
	}
	if !matches {
		return nil
	}
	return bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: p.Field, Value: bson.D{{Key: "$exists", Value: false}}}},
		bson.D{{Key: p.Field, Value: bson.D{{Key: op, Value: value}}}},
	}}}
}

// Sort translates an order list into a sort document.
func Sort(order []storage.Order) bson.D {
	if len(order) == 0 {
		return nil
	}
	out := make(bson.D, 0, len(order))
	for _, o := range order {
		dir := 1
		if o.Desc {
			dir = -1
		}
		out = append(out, bson.E{Key: o.Field, Value: dir})
	}
	return out
}

func hasKey(d bson.D, key string) bool {
	for _, e := range d {
		if e.Key == key {
			return true
		}
	}
	return false
}

// Encode converts a record to a document in column order. Fields absent
// from rec are not stored; nil values are stored as null.
func Encode(s storage.Schema, rec storage.Record) bson.D {
	cols := s.Columns()
	out := make(bson.D, 0, len(cols))
	for _, c := range cols {
		if v, ok := rec[c.Name]; ok {
			out = append(out, bson.E{Key: c.Name, Value: v})
		}
	}
	return out
}

func describe(d bson.D) string {
	b, err := bson.MarshalExtJSON(d, false, false)
	if err != nil {
		return fmt.Sprint(d)
	}
	return string(b)
}
