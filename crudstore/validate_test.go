package crudstore

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func personSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema("people",
		Field{Name: "id", Type: TypeString, PrimaryKey: true},
		Field{Name: "name", Type: TypeString, Required: true, MinLength: 2, MaxLength: 10},
		Field{Name: "age", Type: TypeInt, MinValue: Bound(0), MaxValue: Bound(150)},
		Field{Name: "kind", Type: TypeString, Choices: Literal([]string{"a", "b"}), Default: Literal("a")},
		Field{Name: "label", Type: TypeString, Default: Computed(func(r Record) any {
			name, _ := r["name"].(string)
			return name + "!"
		})},
		Field{Name: "born", Type: TypeDate},
		Field{Name: "scores", Type: TypeList, Elem: &Field{Name: "score", Type: TypeInt}},
		Field{Name: "meta", Type: TypeDict},
		Field{Name: "active", Type: TypeBool, NotNull: true},
	)
	require.NoError(t, err)
	return s
}

func TestValidate_Insert(t *testing.T) {
	s := personSchema(t)

	rec, err := s.Validate(map[string]any{
		"id":     "p1",
		"name":   "Ann",
		"age":    "42",
		"born":   "2000-02-03",
		"scores": []any{1, "2", 3.0},
		"meta":   `{"x":1}`,
		"active": "true",
	}, ModeInsert, DefaultValidateOptions())
	require.NoError(t, err)

	assert.Equal(t, "p1", rec["id"])
	assert.Equal(t, int64(42), rec["age"])
	assert.Equal(t, "a", rec["kind"])
	assert.Equal(t, "Ann!", rec["label"])
	assert.Equal(t, time.Date(2000, 2, 3, 0, 0, 0, 0, time.UTC), rec["born"])
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, rec["scores"])
	assert.Equal(t, map[string]any{"x": float64(1)}, rec["meta"])
	assert.Equal(t, true, rec["active"])
	assert.Len(t, rec, len(s.Fields()))
}

func TestValidate_InsertNullableFieldsAreNil(t *testing.T) {
	s := personSchema(t)

	rec, err := s.Validate(map[string]any{"id": "p1", "name": "Ann", "active": false}, ModeInsert, DefaultValidateOptions())
	require.NoError(t, err)
	assert.Contains(t, rec, "age")
	assert.Nil(t, rec["age"])
	assert.Nil(t, rec["meta"])
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	s := personSchema(t)

	_, err := s.Validate(map[string]any{
		"name":   "A",
		"age":    200,
		"kind":   "c",
		"scores": []any{1, "x"},
	}, ModeInsert, DefaultValidateOptions())
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrValidation))

	assert.Equal(t, map[string][]string{
		"id":     {msgMissing},
		"name":   {`Value "A" is too small. Minimum length is 2.`},
		"age":    {`Value "200" is too big. Maximum value is 150.`},
		"kind":   {`Value "c" is not within ["a", "b"].`},
		"scores": {"Item 1: Not a valid int."},
		"active": {msgMissing},
	}, FieldErrors(err))
}

func TestValidate_Coercion(t *testing.T) {
	s := personSchema(t)

	tests := []struct {
		field string
		value any
		msg   string
	}{
		{"age", "4.5", "Not a valid int."},
		{"age", 4.5, "Not a valid int."},
		{"born", "yesterday", "Not a valid date."},
		{"active", "yes", "Not a valid bool."},
		{"meta", "[1]", "Not a valid dict."},
		{"scores", 3, "Not a valid list."},
		{"name", true, "Not a valid string."},
	}
	for _, tc := range tests {
		t.Run(tc.field+"/"+tc.msg, func(t *testing.T) {
			raw := map[string]any{"id": "p", "name": "Ann", "active": true, tc.field: tc.value}
			_, err := s.Validate(raw, ModeInsert, DefaultValidateOptions())
			require.Error(t, err)
			assert.Equal(t, []string{tc.msg}, FieldErrors(err)[tc.field])
		})
	}
}

func TestCoerceInt_Range(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"largest exact float", float64(1 << 62), int64(1 << 62)},
		{"smallest int64", float64(math.MinInt64), int64(math.MinInt64)},
		{"max int64 as float rounds to 2^63", float64(math.MaxInt64), nil},
		{"beyond int64", 1e19, nil},
		{"uint64 overflow", uint64(math.MaxUint64), nil},
		{"uint overflow", uint(math.MaxUint64), nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, msg := coerce(Field{Name: "n", Type: TypeInt}, tc.in)
			if tc.want == nil {
				assert.Equal(t, "Not a valid int.", msg)
				assert.Nil(t, got)
				return
			}
			assert.Empty(t, msg)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestValidate_UnknownFields(t *testing.T) {
	s := personSchema(t)
	raw := map[string]any{"id": "p", "name": "Ann", "active": true, "extra": 1}

	_, err := s.Validate(raw, ModeInsert, DefaultValidateOptions())
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrUnknownField))
	assert.Equal(t, []string{msgUnknown}, FieldErrors(err)["extra"])

	rec, err := s.Validate(raw, ModeInsert, ValidateOptions{SkipUnknownFields: true})
	require.NoError(t, err)
	assert.NotContains(t, rec, "extra")
}

func TestValidate_Update(t *testing.T) {
	s := personSchema(t)

	t.Run("absent fields are skipped", func(t *testing.T) {
		rec, err := s.Validate(map[string]any{"id": "p", "age": 3}, ModeUpdate, DefaultValidateOptions())
		require.NoError(t, err)
		assert.Equal(t, Record{"id": "p", "age": int64(3)}, rec)
	})

	t.Run("explicit null clears a nullable field", func(t *testing.T) {
		rec, err := s.Validate(map[string]any{"id": "p", "age": nil}, ModeUpdate, DefaultValidateOptions())
		require.NoError(t, err)
		assert.Equal(t, Record{"id": "p", "age": nil}, rec)
	})

	t.Run("key is needed", func(t *testing.T) {
		_, err := s.Validate(map[string]any{"age": 3}, ModeUpdate, DefaultValidateOptions())
		require.Error(t, err)
		assert.Equal(t, []string{msgMissing}, FieldErrors(err)["id"])
	})

	t.Run("not null cannot be cleared", func(t *testing.T) {
		_, err := s.Validate(map[string]any{"id": "p", "active": nil}, ModeUpdate, DefaultValidateOptions())
		require.Error(t, err)
		assert.Equal(t, []string{msgMissing}, FieldErrors(err)["active"])
	})

	t.Run("required only applies to inserts", func(t *testing.T) {
		_, err := s.Validate(map[string]any{"id": "p"}, ModeUpdate, DefaultValidateOptions())
		require.NoError(t, err)
	})
}

func TestValidate_ComputedChoices(t *testing.T) {
	s, err := NewSchema("pairs",
		Field{Name: "key", Type: TypeString, PrimaryKey: true, Choices: Literal([]string{"letters", "digits"})},
		Field{Name: "value", Type: TypeString, Choices: Computed(func(r Record) any {
			if r["key"] == "digits" {
				return []string{"1", "2"}
			}
			return []string{"a", "b"}
		})},
	)
	require.NoError(t, err)

	_, err = s.Validate(map[string]any{"key": "digits", "value": "2"}, ModeInsert, DefaultValidateOptions())
	require.NoError(t, err)

	_, err = s.Validate(map[string]any{"key": "digits", "value": "a"}, ModeInsert, DefaultValidateOptions())
	require.Error(t, err)
	assert.Equal(t, []string{`Value "a" is not within ["1", "2"].`}, FieldErrors(err)["value"])
}

func TestValidate_KeyWithDefault(t *testing.T) {
	s, err := NewSchema("tokens",
		Field{Name: "id", Type: TypeString, PrimaryKey: true, Default: NewUUID()},
		Field{Name: "n", Type: TypeInt, Default: Literal(7)},
	)
	require.NoError(t, err)

	rec, err := s.Validate(map[string]any{"n": nil}, ModeInsert, DefaultValidateOptions())
	require.NoError(t, err)
	assert.Len(t, rec["id"], 36)
	assert.Equal(t, int64(7), rec["n"])
}

func TestNewSchema_Errors(t *testing.T) {
	tests := []struct {
		name   string
		coll   string
		fields []Field
	}{
		{"bad collection name", "1abc", []Field{{Name: "a", Type: TypeString}}},
		{"no fields", "t", nil},
		{"bad field name", "t", []Field{{Name: "a-b", Type: TypeString}}},
		{"reserved field name", "t", []Field{{Name: "limit", Type: TypeInt}}},
		{"duplicate field", "t", []Field{{Name: "a", Type: TypeString}, {Name: "a", Type: TypeInt}}},
		{"unknown type", "t", []Field{{Name: "a", Type: "money"}}},
		{"not null with default", "t", []Field{{Name: "a", Type: TypeInt, NotNull: true, Default: Literal(1)}}},
		{"auto increment on string", "t", []Field{{Name: "a", Type: TypeString, AutoIncrement: true}}},
		{"wildcard on int", "t", []Field{{Name: "a", Type: TypeInt, InterpretStarAsWildcard: true}}},
		{"item on scalar", "t", []Field{{Name: "a", Type: TypeString, Elem: &Field{Type: TypeInt}}}},
		{"inverted bounds", "t", []Field{{Name: "a", Type: TypeInt, MinValue: Bound(5), MaxValue: Bound(1)}}},
		{"invalid default", "t", []Field{{Name: "a", Type: TypeInt, Default: Literal("x")}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSchema(tc.coll, tc.fields...)
			require.Error(t, err)
			assert.True(t, IsKind(err, ErrSchema), "got %v", err)
		})
	}
}

func TestSchema_Describe(t *testing.T) {
	s := personSchema(t)

	assert.Equal(t, []string{"id"}, s.PrimaryKeys())
	assert.Equal(t, []string{"id", "name", "age", "kind", "label", "born", "scores", "meta", "active"}, s.FieldNames())

	d := s.Describe()
	assert.Equal(t, "people", d.Collection)
	assert.Equal(t, "age", d.Fields["age"])
	assert.Len(t, d.Fields, 9)
}

func TestStorageSchema_Columns(t *testing.T) {
	s := personSchema(t)
	cols := s.AsStorageSchema().Columns()
	require.Len(t, cols, 9)

	assert.True(t, cols[0].PrimaryKey)
	assert.False(t, cols[0].Nullable)
	assert.Equal(t, IndexUnique, cols[0].Index)
	assert.Equal(t, "a", cols[3].Default)
	assert.Nil(t, cols[4].Default, "computed defaults are not stored")
	assert.False(t, cols[8].Nullable)
}
