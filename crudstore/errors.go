package crudstore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/ministore/crudstore/crudstore/storage"
)

type ErrorKind string

const (
	ErrValidation     ErrorKind = "validation_failed"
	ErrAmbiguous      ErrorKind = "ambiguous_result"
	ErrModelNotLoaded ErrorKind = "model_not_loaded"
	ErrUnreachable    ErrorKind = "storage_unreachable"
	ErrUnknownField   ErrorKind = "unknown_field"
	ErrSchema         ErrorKind = "schema"
	ErrSQL            ErrorKind = "sql"
	ErrFeature        ErrorKind = "feature_missing"
)

// Error is the structured failure returned by every public operation.
// Fields maps a field name to its violation messages.
type Error struct {
	Kind    ErrorKind
	Message string
	Field   string
	Fields  map[string][]string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	base := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Field != "" {
		base = fmt.Sprintf("%s (field=%s)", base, e.Field)
	}
	if len(e.Fields) > 0 {
		names := make([]string, 0, len(e.Fields))
		for name := range e.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s: %s", name, strings.Join(e.Fields[name], " ")))
		}
		base = fmt.Sprintf("%s [%s]", base, strings.Join(parts, "; "))
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", base, e.Cause)
	}
	return base
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func Wrap(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: errors.WithStack(cause)}
}

func New(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func SchemaError(msg string) *Error {
	return &Error{Kind: ErrSchema, Message: msg}
}

func UnknownFieldError(field string) *Error {
	return &Error{Kind: ErrUnknownField, Message: "unknown field", Field: field}
}

func ModelNotLoadedError(name string) *Error {
	return &Error{Kind: ErrModelNotLoaded, Message: fmt.Sprintf("model %q is not loaded", name)}
}

// AmbiguousError reports that a singular lookup matched more than one record.
func AmbiguousError(n int64) error {
	return errors.WithHint(
		&Error{Kind: ErrAmbiguous, Message: fmt.Sprintf("more than one result (%d)", n)},
		"consider another filtering",
	)
}

// storageError classifies an error coming out of a storage.Store.
func storageError(msg string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if storage.IsUnreachable(err) {
		return Wrap(ErrUnreachable, msg, err)
	}
	if errors.Is(err, storage.ErrUnsupported) {
		return Wrap(ErrFeature, msg, err)
	}
	return Wrap(ErrSQL, msg, err)
}

func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// FieldErrors returns the per-field messages carried by err, if any.
func FieldErrors(err error) map[string][]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// report accumulates per-field violations.
type report map[string][]string

func (r report) add(field, msg string) {
	r[field] = append(r[field], msg)
}

func (r report) merge(prefix string, other report) {
	for field, msgs := range other {
		for _, m := range msgs {
			r.add(field, prefix+m)
		}
	}
}

// err turns the report into an *Error, nil when empty. Reports holding only
// unknown-field violations are classified as ErrUnknownField.
func (r report) err(unknown []string) error {
	if len(r) == 0 {
		return nil
	}
	fields := make(map[string][]string, len(r))
	for k, v := range r {
		fields[k] = v
	}
	if len(unknown) == len(r) {
		sort.Strings(unknown)
		return &Error{Kind: ErrUnknownField, Message: "unknown field", Field: unknown[0], Fields: fields}
	}
	return &Error{Kind: ErrValidation, Message: "validation failed", Fields: fields}
}

const (
	msgMissing = "Missing data for required field."
	msgUnknown = "Unknown field."
)
