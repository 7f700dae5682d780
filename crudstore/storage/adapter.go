package storage

import (
	"context"
	"time"
)

type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendMongo    Backend = "mongo"
	BackendMemory   Backend = "memory"
)

// Counter names shared by every backend.
const (
	CountersCollection = "counters"
	RevisionCategory   = "shared"
	RevisionCounter    = "revision"
)

// Record is one row or document keyed by field name.
type Record map[string]any

// Store abstracts backend-specific execution. Everything above it is shared.
type Store interface {
	Backend() Backend
	Capabilities() Capabilities

	// Register creates the table or collection for schema and reconciles
	// its indexes unless opts.SkipIndexes is set.
	Register(ctx context.Context, schema Schema, opts RegisterOptions) error

	// Atomic runs fn in a single backend commit. fn's error aborts the commit.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Health(ctx context.Context) Health
	Close() error
}

// Tx executes statements inside one Store.Atomic call.
type Tx interface {
	Insert(ctx context.Context, schema Schema, records ...Record) error
	Update(ctx context.Context, schema Schema, where []Predicate, set Record) (int64, error)
	Delete(ctx context.Context, schema Schema, where []Predicate) (int64, error)
	Find(ctx context.Context, schema Schema, q Query) ([]Record, error)
	Count(ctx context.Context, schema Schema, where []Predicate) (int64, error)

	// Increment atomically bumps a named counter and returns its new value.
	Increment(ctx context.Context, category, name string) (int64, error)
	ResetCounters(ctx context.Context, category string) error
	// RaiseCounter sets a counter to value unless it is already higher.
	RaiseCounter(ctx context.Context, category, name string, value int64) error
	NextRevision(ctx context.Context) (int64, error)
}

type RegisterOptions struct {
	// SkipIndexes leaves indexes untouched: none are created, rebuilt or
	// dropped. Indexes may then disagree with the schema.
	SkipIndexes bool
}

// Schema is a minimal interface to avoid circular dependency
type Schema interface {
	Collection() string
	Columns() []Column
}

type FieldType string

const (
	TypeString   FieldType = "string"
	TypeInt      FieldType = "int"
	TypeFloat    FieldType = "float"
	TypeBool     FieldType = "bool"
	TypeDate     FieldType = "date"
	TypeDateTime FieldType = "datetime"
	TypeDict     FieldType = "dict"
	TypeList     FieldType = "list"
)

type IndexType string

const (
	IndexNone   IndexType = ""
	IndexUnique IndexType = "unique"
	IndexOther  IndexType = "other"
)

// Column is the storage view of a field.
type Column struct {
	Name       string
	Type       FieldType
	PrimaryKey bool
	Nullable   bool
	Index      IndexType
	// Default is the literal default value, nil when absent or computed.
	Default any
}

// Lookup finds a column by name.
func Lookup(s Schema, name string) (Column, bool) {
	for _, c := range s.Columns() {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// PrimaryKey returns the key columns in declaration order.
func PrimaryKey(s Schema) []Column {
	var out []Column
	for _, c := range s.Columns() {
		if c.PrimaryKey {
			out = append(out, c)
		}
	}
	return out
}

type Order struct {
	Field string
	Desc  bool
}

// Query is a predicate set plus orchestration parameters.
type Query struct {
	Where  []Predicate
	Order  []Order
	Limit  int
	Offset int
}

// Health is the result of a backend health check.
type Health struct {
	Status  string    `json:"status"`
	Backend Backend   `json:"backend"`
	Version string    `json:"version,omitempty"`
	Time    time.Time `json:"time"`
	Output  string    `json:"output,omitempty"`
}

const (
	HealthPass = "pass"
	HealthFail = "fail"
)

func (h Health) OK() bool { return h.Status == HealthPass }
