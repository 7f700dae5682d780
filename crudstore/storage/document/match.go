package document

import (
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ministore/crudstore/crudstore/storage"
)

// Match evaluates a query document produced by Filter against doc. It
// understands $and, $or, $eq, $ne, $in, $nin, $gt, $gte, $lt, $lte, $regex and
// $exists; anything else is an error.
func Match(doc storage.Record, filter bson.D) (bool, error) {
	for _, e := range filter {
		ok, err := matchElement(doc, e)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchElement(doc storage.Record, e bson.E) (bool, error) {
	switch e.Key {
	case "$and", "$or":
		clauses, ok := e.Value.(bson.A)
		if !ok {
			return false, errors.Newf("%s needs an array", e.Key)
		}
		for _, c := range clauses {
			d, ok := c.(bson.D)
			if !ok {
				return false, errors.Newf("%s clause must be a document", e.Key)
			}
			matched, err := Match(doc, d)
			if err != nil {
				return false, err
			}
			if e.Key == "$or" && matched {
				return true, nil
			}
			if e.Key == "$and" && !matched {
				return false, nil
			}
		}
		return e.Key == "$and", nil
	}

	value, exists := doc[e.Key]
	ops, isOps := e.Value.(bson.D)
	if !isOps || len(ops) == 0 || !strings.HasPrefix(ops[0].Key, "$") {
		return equal(value, e.Value), nil
	}
	for _, op := range ops {
		ok, err := matchOperator(value, exists, op)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchOperator(value any, exists bool, op bson.E) (bool, error) {
	switch op.Key {
	case "$eq":
		return equal(value, op.Value), nil
	case "$ne":
		return !equal(value, op.Value), nil
	case "$in", "$nin":
		candidates, ok := asArray(op.Value)
		if !ok {
			return false, errors.Newf("%s needs an array", op.Key)
		}
		found := false
		for _, c := range candidates {
			if equal(value, c) {
				found = true
				break
			}
		}
		return found == (op.Key == "$in"), nil
	case "$gt", "$gte", "$lt", "$lte":
		if value == nil {
			return false, nil
		}
		cmp, ok := compare(value, op.Value)
		if !ok {
			return false, nil
		}
		switch op.Key {
		case "$gt":
			return cmp > 0, nil
		case "$gte":
			return cmp >= 0, nil
		case "$lt":
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case "$regex":
		re, ok := op.Value.(primitive.Regex)
		if !ok {
			return false, errors.Newf("$regex needs a regular expression, got %T", op.Value)
		}
		s, ok := value.(string)
		if !ok {
			return false, nil
		}
		compiled, err := regexp.Compile(re.Pattern)
		if err != nil {
			return false, errors.Wrap(err, "compile $regex")
		}
		return compiled.MatchString(s), nil
	case "$exists":
		want, _ := op.Value.(bool)
		return exists == want, nil
	}
	return false, errors.Wrapf(storage.ErrUnsupported, "operator %s", op.Key)
}

func asArray(v any) ([]any, bool) {
	switch x := v.(type) {
	case bson.A:
		return x, true
	case []any:
		return x, true
	}
	return nil, false
}

// equal compares values the way the query engine does: nil matches missing
// and null, numbers compare across widths, times by instant.
func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if cmp, ok := compare(a, b); ok {
		return cmp == 0
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two scalar values of the same kind.
func compare(a, b any) (int, bool) {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
