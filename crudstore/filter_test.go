package crudstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ministore/crudstore/crudstore/storage"
)

func filterSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema("items",
		Field{Name: "key", Type: TypeString, PrimaryKey: true},
		Field{Name: "value", Type: TypeString, AllowComparisonSigns: true, InterpretStarAsWildcard: true},
		Field{Name: "age", Type: TypeInt, AllowComparisonSigns: true},
		Field{Name: "note", Type: TypeString, AllowNoneAsFilter: true},
		Field{Name: "tags", Type: TypeList},
	)
	require.NoError(t, err)
	return s
}

func TestCompileFilter(t *testing.T) {
	s := filterSchema(t)

	tests := []struct {
		name string
		raw  map[string]any
		want []Predicate
	}{
		{
			name: "empty matches all",
			raw:  map[string]any{},
			want: nil,
		},
		{
			name: "single value",
			raw:  map[string]any{"key": "a"},
			want: []Predicate{{Field: "key", Op: storage.OpEq, Value: "a"}},
		},
		{
			name: "several values collapse and dedupe",
			raw:  map[string]any{"key": []any{"a", "b", "a"}},
			want: []Predicate{{Field: "key", Op: storage.OpIn, Value: []any{"a", "b"}}},
		},
		{
			name: "typed slices hold several values",
			raw:  map[string]any{"age": []int{1, 2}},
			want: []Predicate{{Field: "age", Op: storage.OpIn, Value: []any{int64(1), int64(2)}}},
		},
		{
			name: "string slices hold several values",
			raw:  map[string]any{"key": []string{"a", "b"}},
			want: []Predicate{{Field: "key", Op: storage.OpIn, Value: []any{"a", "b"}}},
		},
		{
			name: "values are coerced",
			raw:  map[string]any{"age": "18"},
			want: []Predicate{{Field: "age", Op: storage.OpEq, Value: int64(18)}},
		},
		{
			name: "comparison range",
			raw:  map[string]any{"age": []any{">=18", "<30"}},
			want: []Predicate{
				{Field: "age", Op: storage.OpGte, Value: int64(18)},
				{Field: "age", Op: storage.OpLt, Value: int64(30)},
			},
		},
		{
			name: "two character sign wins",
			raw:  map[string]any{"age": "<=5"},
			want: []Predicate{{Field: "age", Op: storage.OpLte, Value: int64(5)}},
		},
		{
			name: "sign is literal when not allowed",
			raw:  map[string]any{"key": ">a"},
			want: []Predicate{{Field: "key", Op: storage.OpEq, Value: ">a"}},
		},
		{
			name: "comparison is checked before wildcard",
			raw:  map[string]any{"value": ">=a*"},
			want: []Predicate{{Field: "value", Op: storage.OpGte, Value: "a*"}},
		},
		{
			name: "wildcard",
			raw:  map[string]any{"value": "a*c"},
			want: []Predicate{{Field: "value", Op: storage.OpRegex, Value: storage.Pattern("a*c")}},
		},
		{
			name: "star is literal when not interpreted",
			raw:  map[string]any{"key": "a*"},
			want: []Predicate{{Field: "key", Op: storage.OpEq, Value: "a*"}},
		},
		{
			name: "equalities come before comparisons of the same field",
			raw:  map[string]any{"value": []any{"x*", "b", ">a"}},
			want: []Predicate{
				{Field: "value", Op: storage.OpEq, Value: "b"},
				{Field: "value", Op: storage.OpRegex, Value: storage.Pattern("x*")},
				{Field: "value", Op: storage.OpGt, Value: "a"},
			},
		},
		{
			name: "none as filter",
			raw:  map[string]any{"note": nil},
			want: []Predicate{{Field: "note", Op: storage.OpEq, Value: nil}},
		},
		{
			name: "none mixed with values",
			raw:  map[string]any{"note": []any{nil, "x"}},
			want: []Predicate{{Field: "note", Op: storage.OpIn, Value: []any{nil, "x"}}},
		},
		{
			name: "none is ignored when not allowed",
			raw:  map[string]any{"key": nil},
			want: nil,
		},
		{
			name: "declaration order",
			raw:  map[string]any{"age": 3, "key": "a"},
			want: []Predicate{
				{Field: "key", Op: storage.OpEq, Value: "a"},
				{Field: "age", Op: storage.OpEq, Value: int64(3)},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.CompileFilter(tc.raw, DefaultFilterOptions())
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCompileFilter_Errors(t *testing.T) {
	s := filterSchema(t)

	t.Run("unknown field", func(t *testing.T) {
		_, err := s.CompileFilter(map[string]any{"nope": 1}, DefaultFilterOptions())
		require.Error(t, err)
		assert.True(t, IsKind(err, ErrUnknownField))
		assert.Equal(t, map[string][]string{"nope": {msgUnknown}}, FieldErrors(err))
	})

	t.Run("unknown field skipped", func(t *testing.T) {
		got, err := s.CompileFilter(map[string]any{"nope": 1, "key": "a"}, FilterOptions{SkipUnknownFields: true})
		require.NoError(t, err)
		assert.Equal(t, []Predicate{{Field: "key", Op: storage.OpEq, Value: "a"}}, got)
	})

	t.Run("bad value", func(t *testing.T) {
		_, err := s.CompileFilter(map[string]any{"age": "abc"}, DefaultFilterOptions())
		require.Error(t, err)
		assert.True(t, IsKind(err, ErrValidation))
		assert.Equal(t, []string{"Not a valid int."}, FieldErrors(err)["age"])
	})

	t.Run("bad comparison operand", func(t *testing.T) {
		_, err := s.CompileFilter(map[string]any{"age": ">x"}, DefaultFilterOptions())
		require.Error(t, err)
		assert.Equal(t, []string{"Not a valid int."}, FieldErrors(err)["age"])
	})

	t.Run("list values cannot be filtered", func(t *testing.T) {
		_, err := s.CompileFilter(map[string]any{"tags": "a"}, DefaultFilterOptions())
		require.Error(t, err)
		assert.True(t, IsKind(err, ErrValidation))
		assert.Contains(t, FieldErrors(err), "tags")
	})

	t.Run("unknown and invalid together", func(t *testing.T) {
		_, err := s.CompileFilter(map[string]any{"nope": 1, "age": "x"}, DefaultFilterOptions())
		require.Error(t, err)
		assert.True(t, IsKind(err, ErrValidation))
		assert.Len(t, FieldErrors(err), 2)
	})
}

func TestParseQuery(t *testing.T) {
	s := filterSchema(t)

	q, err := s.ParseQuery(map[string]any{
		"key":      "a",
		"order_by": "age desc, key",
		"limit":    "2",
		"offset":   1,
	}, DefaultFilterOptions())
	require.NoError(t, err)
	assert.Equal(t, []Predicate{{Field: "key", Op: storage.OpEq, Value: "a"}}, q.Where)
	assert.Equal(t, []storage.Order{{Field: "age", Desc: true}, {Field: "key"}}, q.Order)
	assert.Equal(t, 2, q.Limit)
	assert.Equal(t, 1, q.Offset)

	q, err = s.ParseQuery(map[string]any{"order_by": []any{"key asc", "age"}}, DefaultFilterOptions())
	require.NoError(t, err)
	assert.Equal(t, []storage.Order{{Field: "key"}, {Field: "age"}}, q.Order)
}

func TestParseQuery_Errors(t *testing.T) {
	s := filterSchema(t)

	tests := []struct {
		name  string
		raw   map[string]any
		field string
		msg   string
	}{
		{"negative limit", map[string]any{"limit": "-1"}, KeyLimit, "Not a valid positive int."},
		{"text offset", map[string]any{"offset": "x"}, KeyOffset, "Not a valid positive int."},
		{"order by unknown field", map[string]any{"order_by": "nope"}, KeyOrderBy, `Unknown field "nope".`},
		{"bad direction", map[string]any{"order_by": "age sideways"}, KeyOrderBy, `Invalid order "age sideways".`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.ParseQuery(tc.raw, DefaultFilterOptions())
			require.Error(t, err)
			assert.True(t, IsKind(err, ErrValidation))
			assert.Equal(t, []string{tc.msg}, FieldErrors(err)[tc.field])
		})
	}

	t.Run("reserved and filter errors are merged", func(t *testing.T) {
		_, err := s.ParseQuery(map[string]any{"limit": "x", "age": "y"}, DefaultFilterOptions())
		require.Error(t, err)
		fields := FieldErrors(err)
		assert.Contains(t, fields, KeyLimit)
		assert.Contains(t, fields, "age")
	})
}
