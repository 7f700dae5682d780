package sqlstore

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

// Text layouts for engines without native date types. Both are fixed width
// so that lexical order matches chronological order.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02T15:04:05.000000Z07:00"
)

func EncodeJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func text(raw any) (string, bool) {
	switch x := raw.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	}
	return "", false
}

func DecodeString(raw any) (any, error) {
	if s, ok := text(raw); ok {
		return s, nil
	}
	switch x := raw.(type) {
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	}
	return nil, errors.Newf("cannot decode %T as string", raw)
}

func DecodeInt(raw any) (any, error) {
	switch x := raw.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	}
	if s, ok := text(raw); ok {
		return strconv.ParseInt(s, 10, 64)
	}
	return nil, errors.Newf("cannot decode %T as int", raw)
}

func DecodeFloat(raw any) (any, error) {
	switch x := raw.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	}
	if s, ok := text(raw); ok {
		return strconv.ParseFloat(s, 64)
	}
	return nil, errors.Newf("cannot decode %T as float", raw)
}

func DecodeBool(raw any) (any, error) {
	switch x := raw.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	}
	if s, ok := text(raw); ok {
		return strconv.ParseBool(s)
	}
	return nil, errors.Newf("cannot decode %T as bool", raw)
}

func DecodeTime(raw any, layout string) (time.Time, error) {
	switch x := raw.(type) {
	case time.Time:
		return x.UTC(), nil
	}
	if s, ok := text(raw); ok {
		t, err := time.Parse(layout, s)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	}
	return time.Time{}, errors.Newf("cannot decode %T as time", raw)
}

// DecodeDate returns midnight UTC of the stored date.
func DecodeDate(raw any) (any, error) {
	t, err := DecodeTime(raw, DateLayout)
	if err != nil {
		return nil, err
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

func DecodeJSON(raw any) (any, error) {
	switch x := raw.(type) {
	case map[string]any, []any:
		return x, nil
	}
	s, ok := text(raw)
	if !ok {
		return nil, errors.Newf("cannot decode %T as json", raw)
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}
