package crudstore

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Model is a schema plus the controller settings declared with it.
type Model struct {
	Schema            *Schema
	Audit             bool
	History           bool
	SkipUnknownFields bool
	SkipUpdateIndexes bool
}

// Options applies the model settings on top of base.
func (m Model) Options(base Options) Options {
	base.Audit = m.Audit
	base.History = m.History
	base.SkipUnknownFields = m.SkipUnknownFields
	base.SkipUpdateIndexes = m.SkipUpdateIndexes
	return base
}

type modelsFile struct {
	Models []modelDef `yaml:"models"`
}

type modelDef struct {
	Name              string     `yaml:"name"`
	Audit             bool       `yaml:"audit"`
	History           bool       `yaml:"history"`
	SkipUnknownFields bool       `yaml:"skip_unknown_fields"`
	SkipUpdateIndexes bool       `yaml:"skip_update_indexes"`
	Fields            []fieldDef `yaml:"fields"`
}

type fieldDef struct {
	Name          string    `yaml:"name"`
	Type          FieldType `yaml:"type"`
	Item          *fieldDef `yaml:"item"`
	PrimaryKey    bool      `yaml:"primary_key"`
	NotNull       bool      `yaml:"not_null"`
	Required      bool      `yaml:"required"`
	AutoIncrement bool      `yaml:"auto_increment"`
	Default       any       `yaml:"default"`
	DefaultFunc   string    `yaml:"default_func"`
	Choices       []any     `yaml:"choices"`
	MinLength     int       `yaml:"min_length"`
	MaxLength     int       `yaml:"max_length"`
	MinValue      *float64  `yaml:"min_value"`
	MaxValue      *float64  `yaml:"max_value"`
	AllowNone     bool      `yaml:"allow_none_as_filter"`
	Comparison    bool      `yaml:"allow_comparison_signs"`
	Wildcard      bool      `yaml:"interpret_star_as_wildcard"`
	Index         IndexType `yaml:"index"`
	Description   string    `yaml:"description"`
	Example       any       `yaml:"example"`
}

// Computed defaults available to model files.
var defaultFuncs = map[string]func() Value{
	"uuid": NewUUID,
	"now":  Now,
}

// LoadModels reads model definitions from a YAML file.
func LoadModels(path string) ([]Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read models %s", path)
	}
	return ModelsFromYAML(data)
}

// ModelsFromYAML parses model definitions. Unknown keys are rejected.
func ModelsFromYAML(data []byte) ([]Model, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var file modelsFile
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, SchemaError(fmt.Sprintf("invalid model definitions: %v", err))
	}

	out := make([]Model, 0, len(file.Models))
	for _, md := range file.Models {
		fields := make([]Field, 0, len(md.Fields))
		for _, fd := range md.Fields {
			f, err := fd.field()
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
		}
		s, err := NewSchema(md.Name, fields...)
		if err != nil {
			return nil, err
		}
		out = append(out, Model{
			Schema:            s,
			Audit:             md.Audit,
			History:           md.History,
			SkipUnknownFields: md.SkipUnknownFields,
			SkipUpdateIndexes: md.SkipUpdateIndexes,
		})
	}
	return out, nil
}

func (fd fieldDef) field() (Field, error) {
	f := Field{
		Name:                    fd.Name,
		Type:                    fd.Type,
		PrimaryKey:              fd.PrimaryKey,
		NotNull:                 fd.NotNull,
		Required:                fd.Required,
		AutoIncrement:           fd.AutoIncrement,
		MinLength:               fd.MinLength,
		MaxLength:               fd.MaxLength,
		MinValue:                fd.MinValue,
		MaxValue:                fd.MaxValue,
		AllowNoneAsFilter:       fd.AllowNone,
		AllowComparisonSigns:    fd.Comparison,
		InterpretStarAsWildcard: fd.Wildcard,
		Index:                   fd.Index,
		Description:             fd.Description,
		Example:                 fd.Example,
	}
	if f.Type == "" {
		f.Type = TypeString
	}
	switch {
	case fd.DefaultFunc != "" && fd.Default != nil:
		return Field{}, SchemaError(fmt.Sprintf("field '%s': default and default_func are exclusive", fd.Name))
	case fd.DefaultFunc != "":
		fn, ok := defaultFuncs[fd.DefaultFunc]
		if !ok {
			return Field{}, SchemaError(fmt.Sprintf("field '%s': unknown default_func '%s'", fd.Name, fd.DefaultFunc))
		}
		f.Default = fn()
	case fd.Default != nil:
		f.Default = Literal(fd.Default)
	}
	if fd.Choices != nil {
		f.Choices = Literal(fd.Choices)
	}
	if fd.Item != nil {
		item, err := fd.Item.field()
		if err != nil {
			return Field{}, err
		}
		f.Elem = &item
	}
	return f, nil
}
