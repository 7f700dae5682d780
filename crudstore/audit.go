package crudstore

import (
	"context"
	"time"

	"github.com/ministore/crudstore/crudstore/storage"
)

// Action tags an audit row.
type Action string

const (
	ActionInsert   Action = "I"
	ActionUpdate   Action = "U"
	ActionDelete   Action = "D"
	ActionRollback Action = "R"
)

// Audit columns.
const (
	AuditRevision = "revision"
	AuditUser     = "audit_user"
	AuditDate     = "audit_date_utc"
	AuditAction   = "audit_action"
	AuditTable    = "table_name"

	// versionedAuditCollection is shared by every history enabled model.
	versionedAuditCollection = "audit"
)

type actorKey struct{}

// WithActor attaches the identity recorded in audit rows written under ctx.
func WithActor(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, actorKey{}, name)
}

// ActorFrom returns the identity set by WithActor, or "".
func ActorFrom(ctx context.Context) string {
	name, _ := ctx.Value(actorKey{}).(string)
	return name
}

type auditor struct {
	schema  *Schema
	storage storage.Schema
	owner   string
	fields  []string
	// versioned rows carry the owning collection and revision only
	versioned bool
	actor     string
	now       func() time.Time
}

func auditFields() []Field {
	return []Field{
		{Name: AuditUser, Type: TypeString},
		{Name: AuditDate, Type: TypeDateTime},
		{Name: AuditAction, Type: TypeString, Choices: Literal([]string{
			string(ActionInsert), string(ActionUpdate), string(ActionDelete), string(ActionRollback),
		})},
	}
}

func newAuditor(s *Schema, versioned bool, actor string, now func() time.Time) (*auditor, error) {
	a := &auditor{owner: s.name, versioned: versioned, actor: actor, now: now}
	var err error
	if versioned {
		a.schema, err = NewSchema(versionedAuditCollection, append([]Field{
			{Name: AuditTable, Type: TypeString, PrimaryKey: true},
			{Name: AuditRevision, Type: TypeInt, PrimaryKey: true},
		}, auditFields()...)...)
	} else {
		a.fields = s.FieldNames()
		a.schema, err = s.derive("audit_"+s.name,
			func(f Field) Field {
				return Field{
					Name:                    f.Name,
					Type:                    f.Type,
					Elem:                    f.Elem,
					AllowNoneAsFilter:       f.AllowNoneAsFilter,
					AllowComparisonSigns:    f.AllowComparisonSigns,
					InterpretStarAsWildcard: f.InterpretStarAsWildcard,
					Description:             f.Description,
				}
			},
			append([]Field{{Name: AuditRevision, Type: TypeInt, PrimaryKey: true}}, auditFields()...)...,
		)
	}
	if err != nil {
		return nil, err
	}
	a.storage = a.schema.AsStorageSchema()
	return a, nil
}

func (a *auditor) stamp(ctx context.Context, row Record, action Action) {
	actor := ActorFrom(ctx)
	if actor == "" {
		actor = a.actor
	}
	row[AuditUser] = actor
	row[AuditDate] = a.now().UTC()
	row[AuditAction] = string(action)
}

// record writes audit rows inside tx. History enabled models write a single
// row for revision; other models write one row per record, each under its
// own revision.
func (a *auditor) record(ctx context.Context, tx storage.Tx, action Action, revision int64, recs ...Record) error {
	if a == nil {
		return nil
	}
	if a.versioned {
		row := Record{AuditTable: a.owner, AuditRevision: revision}
		a.stamp(ctx, row, action)
		return tx.Insert(ctx, a.storage, row)
	}

	rows := make([]Record, 0, len(recs))
	for _, rec := range recs {
		rev, err := tx.NextRevision(ctx)
		if err != nil {
			return err
		}
		row := make(Record, len(a.fields)+4)
		for _, name := range a.fields {
			row[name] = rec[name]
		}
		row[AuditRevision] = rev
		a.stamp(ctx, row, action)
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.Insert(ctx, a.storage, rows...)
}
