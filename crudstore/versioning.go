package crudstore

import (
	"fmt"

	"github.com/ministore/crudstore/crudstore/storage"
)

// Version columns of history enabled models. A record is valid from
// valid_since_revision (included) to valid_until_revision (excluded); the
// current version has valid_until_revision = -1.
const (
	ValidSinceRevision = "valid_since_revision"
	ValidUntilRevision = "valid_until_revision"

	stillValid int64 = -1
)

// versionedSchema stores every version of a record. The natural key plus
// valid_since_revision identifies a version, so other unique indexes are
// relaxed to plain ones.
func versionedSchema(s *Schema) (*Schema, error) {
	if len(s.PrimaryKeys()) == 0 {
		return nil, SchemaError(fmt.Sprintf("model %s needs a primary key to keep history", s.name))
	}
	return s.derive(s.name,
		func(f Field) Field {
			if !f.PrimaryKey && f.Index == IndexUnique {
				f.Index = IndexOther
			}
			return f
		},
		Field{Name: ValidSinceRevision, Type: TypeInt, PrimaryKey: true, Description: "Record is valid since this revision (included)."},
		Field{Name: ValidUntilRevision, Type: TypeInt, Index: IndexOther, Description: "Record is valid until this revision (excluded)."},
	)
}

func current() Predicate {
	return storage.Eq(ValidUntilRevision, stillValid)
}

// withCurrent returns where restricted to currently valid versions.
func withCurrent(where []Predicate) []Predicate {
	out := make([]Predicate, 0, len(where)+1)
	out = append(out, where...)
	return append(out, current())
}

func withVersion(rec Record, since, until int64) Record {
	out := make(Record, len(rec)+2)
	for k, v := range rec {
		out[k] = v
	}
	out[ValidSinceRevision] = since
	out[ValidUntilRevision] = until
	return out
}

func stripVersion(rec Record) Record {
	if rec == nil {
		return nil
	}
	out := make(Record, len(rec))
	for k, v := range rec {
		if k == ValidSinceRevision || k == ValidUntilRevision {
			continue
		}
		out[k] = v
	}
	return out
}
