package crudstore

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Layouts accepted for date and datetime values, tried in order.
var (
	dateLayouts     = []string{"2006-01-02", time.RFC3339Nano}
	datetimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}
)

// coerce converts v to the canonical Go type of f. On failure it returns a
// human readable message instead.
//
// Canonical types: string, int64, float64, bool, time.Time (UTC, midnight for
// dates), map[string]any and []any.
func coerce(f Field, v any) (any, string) {
	switch f.Type {
	case TypeString:
		return coerceString(v)
	case TypeInt:
		return coerceInt(v)
	case TypeFloat:
		return coerceFloat(v)
	case TypeBool:
		return coerceBool(v)
	case TypeDate:
		t, msg := coerceTime(v, dateLayouts, "date")
		if msg != "" {
			return nil, msg
		}
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), ""
	case TypeDateTime:
		return coerceTime(v, datetimeLayouts, "datetime")
	case TypeDict:
		return coerceDict(v)
	case TypeList:
		return coerceList(v)
	}
	return nil, fmt.Sprintf("Unsupported type %s.", f.Type)
}

func coerceString(v any) (any, string) {
	switch x := v.(type) {
	case string:
		return x, ""
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x), ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), ""
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), ""
	case json.Number:
		return x.String(), ""
	}
	return nil, "Not a valid string."
}

func coerceInt(v any) (any, string) {
	const msg = "Not a valid int."
	switch x := v.(type) {
	case int:
		return int64(x), ""
	case int8:
		return int64(x), ""
	case int16:
		return int64(x), ""
	case int32:
		return int64(x), ""
	case int64:
		return x, ""
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, msg
		}
		return int64(x), ""
	case uint8:
		return int64(x), ""
	case uint16:
		return int64(x), ""
	case uint32:
		return int64(x), ""
	case uint64:
		if x > math.MaxInt64 {
			return nil, msg
		}
		return int64(x), ""
	case float32:
		return floatToInt(float64(x))
	case float64:
		return floatToInt(x)
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return nil, msg
		}
		return n, ""
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, msg
		}
		return n, ""
	}
	return nil, msg
}

func floatToInt(f float64) (any, string) {
	// 2^63 itself does not fit: float64(math.MaxInt64) rounds up to it.
	if f != math.Trunc(f) || f >= 9223372036854775808.0 || f < math.MinInt64 {
		return nil, "Not a valid int."
	}
	return int64(f), ""
}

func coerceFloat(v any) (any, string) {
	const msg = "Not a valid float."
	switch x := v.(type) {
	case float64:
		return x, ""
	case float32:
		return float64(x), ""
	case int:
		return float64(x), ""
	case int32:
		return float64(x), ""
	case int64:
		return float64(x), ""
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, msg
		}
		return f, ""
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, msg
		}
		return f, ""
	}
	return nil, msg
}

func coerceBool(v any) (any, string) {
	switch x := v.(type) {
	case bool:
		return x, ""
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true":
			return true, ""
		case "false":
			return false, ""
		}
	}
	return nil, "Not a valid bool."
}

func coerceTime(v any, layouts []string, name string) (time.Time, string) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), ""
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), ""
			}
		}
	}
	return time.Time{}, fmt.Sprintf("Not a valid %s.", name)
}

func coerceDict(v any) (any, string) {
	switch x := v.(type) {
	case map[string]any:
		return x, ""
	case Record:
		return map[string]any(x), ""
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(x), &m); err == nil && m != nil {
			return m, ""
		}
	}
	return nil, "Not a valid dict."
}

func coerceList(v any) (any, string) {
	switch x := v.(type) {
	case []any:
		return append([]any(nil), x...), ""
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, ""
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, ""
	}
	return nil, "Not a valid list."
}

// size returns the length used by MinLength/MaxLength, or -1 when the value
// has no length.
func size(v any) int {
	switch x := v.(type) {
	case string:
		return len([]rune(x))
	case []any:
		return len(x)
	case map[string]any:
		return len(x)
	}
	return -1
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// sameValue compares two canonical values.
func sameValue(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if fa, ok := numeric(a); ok {
		fb, ok := numeric(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}
