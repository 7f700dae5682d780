package crudstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode selects insert or update validation rules.
type Mode int

const (
	ModeInsert Mode = iota
	ModeUpdate
)

func (m Mode) String() string {
	if m == ModeUpdate {
		return "update"
	}
	return "insert"
}

type ValidateOptions struct {
	// SkipUnknownFields drops payload keys that are not schema fields
	// instead of reporting them.
	SkipUnknownFields bool
}

func DefaultValidateOptions() ValidateOptions {
	return ValidateOptions{}
}

// Validate checks raw against the schema and returns the canonical record.
//
// On insert the result holds one entry per field. On update it holds the
// primary key plus the fields present in raw. Every violation is reported in
// a single *Error of kind ErrValidation (or ErrUnknownField when unknown keys
// are the only problem).
func (s *Schema) Validate(raw map[string]any, mode Mode, opts ValidateOptions) (Record, error) {
	rep := report{}
	var unknown []string
	if !opts.SkipUnknownFields {
		for name := range raw {
			if !s.HasField(name) {
				rep.add(name, msgUnknown)
				unknown = append(unknown, name)
			}
		}
	}

	out := make(Record, len(s.fields))
	var absent []Field
	for _, f := range s.fields {
		v, present := raw[f.Name]
		if !present || v == nil {
			absent = append(absent, f)
			continue
		}
		cv, msgs := s.checkValue(f, v, out)
		for _, m := range msgs {
			rep.add(f.Name, m)
		}
		if len(msgs) == 0 {
			out[f.Name] = cv
		}
	}

	// Defaults run once every supplied value is in place.
	for _, f := range absent {
		_, present := raw[f.Name]
		switch mode {
		case ModeInsert:
			if f.Required {
				rep.add(f.Name, msgMissing)
				continue
			}
			if f.Default.IsSet() {
				if dv := f.Default.Resolve(out); dv != nil {
					cv, msgs := s.checkValue(f, dv, out)
					for _, m := range msgs {
						rep.add(f.Name, m)
					}
					out[f.Name] = cv
					continue
				}
			}
			if !f.nullableOnInsert() {
				rep.add(f.Name, msgMissing)
				continue
			}
			out[f.Name] = nil
		case ModeUpdate:
			if !present && !f.PrimaryKey {
				continue
			}
			if !f.nullableOnUpdate() {
				rep.add(f.Name, msgMissing)
				continue
			}
			out[f.Name] = nil
		}
	}

	if err := rep.err(unknown); err != nil {
		return nil, err
	}
	return out, nil
}

// checkValue coerces v and applies choices and bounds. rec is the partially
// built record handed to computed choices.
func (s *Schema) checkValue(f Field, v any, rec Record) (any, []string) {
	cv, msg := coerce(f, v)
	if msg != "" {
		return nil, []string{msg}
	}
	var msgs []string

	if f.Type == TypeList && f.Elem != nil {
		items := cv.([]any)
		for i, item := range items {
			if item == nil {
				if f.Elem.NotNull {
					msgs = append(msgs, fmt.Sprintf("Item %d: %s", i, msgMissing))
				}
				continue
			}
			ci, imsgs := s.checkValue(*f.Elem, item, rec)
			for _, m := range imsgs {
				msgs = append(msgs, fmt.Sprintf("Item %d: %s", i, m))
			}
			if len(imsgs) == 0 {
				items[i] = ci
			}
		}
	}

	if allowed := f.choices(rec); allowed != nil {
		ok := false
		for _, c := range allowed {
			if cc, cmsg := coerce(f, c); cmsg == "" && sameValue(cc, cv) {
				ok = true
				break
			}
		}
		if !ok {
			msgs = append(msgs, fmt.Sprintf("Value %q is not within %s.", display(cv), displayList(allowed)))
		}
	}

	if n := size(cv); n >= 0 {
		if f.MinLength > 0 && n < f.MinLength {
			msgs = append(msgs, fmt.Sprintf("Value %q is too small. Minimum length is %d.", display(cv), f.MinLength))
		}
		if f.MaxLength > 0 && n > f.MaxLength {
			msgs = append(msgs, fmt.Sprintf("Value %q is too big. Maximum length is %d.", display(cv), f.MaxLength))
		}
	}
	if x, ok := numeric(cv); ok {
		if f.MinValue != nil && x < *f.MinValue {
			msgs = append(msgs, fmt.Sprintf("Value %q is too small. Minimum value is %s.", display(cv), formatBound(*f.MinValue)))
		}
		if f.MaxValue != nil && x > *f.MaxValue {
			msgs = append(msgs, fmt.Sprintf("Value %q is too big. Maximum value is %s.", display(cv), formatBound(*f.MaxValue)))
		}
	}
	return cv, msgs
}

func display(v any) string {
	return fmt.Sprint(v)
}

func displayList(vs []any) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Quote(fmt.Sprint(v))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatBound(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
