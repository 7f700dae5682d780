package crudstore

import (
	"time"

	"github.com/google/uuid"

	"github.com/ministore/crudstore/crudstore/storage"
)

type (
	Record    = storage.Record
	FieldType = storage.FieldType
	IndexType = storage.IndexType
)

const (
	TypeString   = storage.TypeString
	TypeInt      = storage.TypeInt
	TypeFloat    = storage.TypeFloat
	TypeBool     = storage.TypeBool
	TypeDate     = storage.TypeDate
	TypeDateTime = storage.TypeDateTime
	TypeDict     = storage.TypeDict
	TypeList     = storage.TypeList
)

const (
	IndexNone   = storage.IndexNone
	IndexUnique = storage.IndexUnique
	IndexOther  = storage.IndexOther
)

// Value is either a literal or a value computed from the record being
// validated. The zero Value is unset.
type Value struct {
	literal any
	compute func(Record) any
	set     bool
}

func Literal(v any) Value { return Value{literal: v, set: true} }

func Computed(fn func(Record) any) Value { return Value{compute: fn, set: fn != nil} }

func (v Value) IsSet() bool      { return v.set }
func (v Value) IsComputed() bool { return v.compute != nil }

// Resolve evaluates the value against rec. Unset values resolve to nil.
func (v Value) Resolve(rec Record) any {
	if v.compute != nil {
		return v.compute(rec)
	}
	return v.literal
}

// NewUUID is a computed default producing a random UUID string.
func NewUUID() Value {
	return Computed(func(Record) any { return uuid.NewString() })
}

// Now is a computed default producing the current UTC time.
func Now() Value {
	return Computed(func(Record) any { return time.Now().UTC() })
}

// Field describes one attribute of an entity.
type Field struct {
	Name string
	Type FieldType
	// Elem describes list items. Nil means items are not checked.
	Elem *Field

	PrimaryKey    bool
	NotNull       bool
	Required      bool
	AutoIncrement bool

	Default Value
	// Choices resolves to a []any of allowed values.
	Choices Value

	MinLength int
	MaxLength int
	MinValue  *float64
	MaxValue  *float64

	AllowNoneAsFilter       bool
	AllowComparisonSigns    bool
	InterpretStarAsWildcard bool

	Index       IndexType
	Description string
	Example     any
}

// Bound returns a pointer usable as MinValue or MaxValue.
func Bound(f float64) *float64 { return &f }

// nullableOnInsert reports whether an insert may leave the field empty.
func (f Field) nullableOnInsert() bool {
	if f.NotNull {
		return false
	}
	if f.PrimaryKey {
		return f.Default.IsSet() || f.AutoIncrement
	}
	return true
}

func (f Field) nullableOnUpdate() bool {
	if f.NotNull {
		return false
	}
	return !f.PrimaryKey
}

func (f Field) choices(rec Record) []any {
	if !f.Choices.IsSet() {
		return nil
	}
	switch v := f.Choices.Resolve(rec).(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case []int:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out
	default:
		return nil
	}
}

func (f Field) indexType() IndexType {
	if f.PrimaryKey {
		return IndexUnique
	}
	return f.Index
}

func (f Field) column() storage.Column {
	c := storage.Column{
		Name:       f.Name,
		Type:       f.Type,
		PrimaryKey: f.PrimaryKey,
		Nullable:   !f.PrimaryKey && !f.NotNull,
		Index:      f.indexType(),
	}
	if f.Default.IsSet() && !f.Default.IsComputed() {
		c.Default = f.Default.literal
	}
	return c
}
