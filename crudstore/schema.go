package crudstore

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ministore/crudstore/crudstore/storage"
)

// Reserved query keys. They are never interpreted as fields.
const (
	KeyOrderBy  = "order_by"
	KeyLimit    = "limit"
	KeyOffset   = "offset"
	KeyRevision = "revision"
)

// Schema is an immutable, ordered set of fields describing one entity.
type Schema struct {
	name   string
	fields []Field
	index  map[string]int
}

var validNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var reservedFieldNames = map[string]bool{
	KeyOrderBy: true,
	KeyLimit:   true,
	KeyOffset:  true,
}

// NewSchema builds a schema from fields in declaration order.
func NewSchema(name string, fields ...Field) (*Schema, error) {
	if !validNameRe.MatchString(name) {
		return nil, SchemaError(fmt.Sprintf("invalid collection name: %s (must match %s)", name, validNameRe.String()))
	}
	if len(fields) == 0 {
		return nil, SchemaError("schema must have at least one field")
	}
	s := &Schema{name: name, fields: make([]Field, 0, len(fields)), index: make(map[string]int, len(fields))}
	for _, f := range fields {
		if err := checkField(f); err != nil {
			return nil, err
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, SchemaError(fmt.Sprintf("duplicate field name: %s", f.Name))
		}
		if f.Default.IsSet() && !f.Default.IsComputed() && f.Default.literal != nil {
			v, msg := coerce(f, f.Default.literal)
			if msg != "" {
				return nil, SchemaError(fmt.Sprintf("field '%s': invalid default: %s", f.Name, msg))
			}
			f.Default = Literal(v)
		}
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// MustSchema is NewSchema that panics on error.
func MustSchema(name string, fields ...Field) *Schema {
	s, err := NewSchema(name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func checkField(f Field) error {
	if !validNameRe.MatchString(f.Name) {
		return SchemaError(fmt.Sprintf("invalid field name: %s (must match %s)", f.Name, validNameRe.String()))
	}
	if reservedFieldNames[f.Name] {
		return SchemaError(fmt.Sprintf("field name '%s' is reserved", f.Name))
	}
	switch f.Type {
	case TypeString, TypeInt, TypeFloat, TypeBool, TypeDate, TypeDateTime, TypeDict, TypeList:
	default:
		return SchemaError(fmt.Sprintf("unknown field type '%s' for field '%s'", f.Type, f.Name))
	}
	if f.Elem != nil {
		if f.Type != TypeList {
			return SchemaError(fmt.Sprintf("field '%s': item descriptor only allowed on list fields", f.Name))
		}
		if f.Elem.Type == TypeList || f.Elem.Type == "" {
			return SchemaError(fmt.Sprintf("field '%s': invalid list item type '%s'", f.Name, f.Elem.Type))
		}
	}
	if f.NotNull && f.Default.IsSet() {
		return SchemaError(fmt.Sprintf("field '%s': a field cannot be mandatory and have a default value", f.Name))
	}
	if f.NotNull && f.AutoIncrement {
		return SchemaError(fmt.Sprintf("field '%s': a field cannot be mandatory and auto incremented", f.Name))
	}
	if f.AutoIncrement && f.Type != TypeInt {
		return SchemaError(fmt.Sprintf("field '%s': only int fields can be auto incremented", f.Name))
	}
	if f.InterpretStarAsWildcard && f.Type != TypeString {
		return SchemaError(fmt.Sprintf("field '%s': wildcards are only interpreted on string fields", f.Name))
	}
	if f.PrimaryKey && f.Index == IndexOther {
		return SchemaError(fmt.Sprintf("field '%s': primary keys are indexed as unique", f.Name))
	}
	if f.MinLength < 0 || f.MaxLength < 0 {
		return SchemaError(fmt.Sprintf("field '%s': lengths must be positive", f.Name))
	}
	if f.MaxLength > 0 && f.MaxLength < f.MinLength {
		return SchemaError(fmt.Sprintf("field '%s': maximum length is below minimum length", f.Name))
	}
	if f.MinValue != nil && f.MaxValue != nil && *f.MaxValue < *f.MinValue {
		return SchemaError(fmt.Sprintf("field '%s': maximum value is below minimum value", f.Name))
	}
	return nil
}

func (s *Schema) Name() string { return s.name }

// Fields returns a copy of the fields in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

func (s *Schema) HasField(name string) bool {
	_, ok := s.index[name]
	return ok
}

func (s *Schema) FieldNames() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// PrimaryKeys returns the natural key field names in declaration order.
func (s *Schema) PrimaryKeys() []string {
	var out []string
	for _, f := range s.fields {
		if f.PrimaryKey {
			out = append(out, f.Name)
		}
	}
	return out
}

func (s *Schema) hasWildcards() bool {
	for _, f := range s.fields {
		if f.InterpretStarAsWildcard {
			return true
		}
	}
	return false
}

// derive returns a new schema under name with extra fields appended. mutate
// may rewrite each original field.
func (s *Schema) derive(name string, mutate func(Field) Field, extra ...Field) (*Schema, error) {
	fields := make([]Field, 0, len(s.fields)+len(extra))
	for _, f := range s.fields {
		if mutate != nil {
			f = mutate(f)
		}
		fields = append(fields, f)
	}
	return NewSchema(name, append(fields, extra...)...)
}

// AsStorageSchema returns the view handed to storage.Store implementations.
func (s *Schema) AsStorageSchema() storage.Schema { return storageSchema{s} }

type storageSchema struct{ s *Schema }

func (v storageSchema) Collection() string { return v.s.name }

func (v storageSchema) Columns() []storage.Column {
	out := make([]storage.Column, len(v.s.fields))
	for i, f := range v.s.fields {
		out[i] = f.column()
	}
	return out
}

// Description is the documentation view of a schema.
type Description struct {
	Collection      string            `json:"collection" yaml:"collection"`
	PrimaryKeys     []string          `json:"primary_keys" yaml:"primary_keys"`
	Fields          map[string]string `json:"fields" yaml:"fields"`
	AuditCollection string            `json:"audit_collection,omitempty" yaml:"audit_collection,omitempty"`
}

func (s *Schema) Describe() Description {
	fields := make(map[string]string, len(s.fields))
	for _, f := range s.fields {
		fields[f.Name] = f.Name
	}
	return Description{Collection: s.name, PrimaryKeys: s.PrimaryKeys(), Fields: fields}
}

func isReservedCollection(name string) bool {
	return name == storage.CountersCollection || strings.HasPrefix(name, "audit")
}
