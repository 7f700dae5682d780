package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ministore/crudstore/crudstore/planner"
	"github.com/ministore/crudstore/crudstore/storage"
)

// Templates holds backend specific SQL for counters and index lookup.
type Templates struct {
	CreateCounters   string
	IncrementCounter string // args: category, name, updated_at; returns the new value
	ResetCounters    string // args: category
	// RaiseCounter sets a counter to a value unless it is already higher.
	// args: category, name, value, updated_at
	RaiseCounter string
	ListIndexes  string // args: table; returns index names
	Version      string
}

// Dialect is the part of a relational backend that varies between engines.
type Dialect interface {
	planner.Dialect
	Backend() storage.Backend
	Templates() Templates
	ColumnType(c storage.Column) string
	Decode(c storage.Column, raw any) (any, error)
	IsUnreachable(err error) bool
	// DuplicateColumns reports whether err is a key or unique index
	// violation, with the violated columns when the engine names them.
	DuplicateColumns(err error) ([]string, bool)
}

// Adapter is a Dialect that knows how to open its database.
type Adapter interface {
	Dialect
	Connect(ctx context.Context) (*sql.DB, error)
	Close() error
}

type Options struct {
	Logger *zap.Logger
	Now    func() time.Time
}

func DefaultOptions() Options {
	return Options{Logger: zap.NewNop(), Now: time.Now}
}

// Store runs storage operations over database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	closer  func() error
	logger  *zap.Logger
	now     func() time.Time
}

// Open connects through adapter and prepares the counters table.
func Open(ctx context.Context, adapter Adapter, opts Options) (*Store, error) {
	db, err := adapter.Connect(ctx)
	if err != nil {
		return nil, errors.Wrap(markUnreachable(adapter, err), "connect to database")
	}
	s := New(db, adapter, opts)
	s.closer = adapter.Close
	if _, err := db.ExecContext(ctx, adapter.Templates().CreateCounters); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(s.classify(err), "create counters table")
	}
	s.logger.Debug("store opened", zap.String("backend", string(adapter.Backend())))
	return s, nil
}

// New wraps an already opened database. The counters table must exist.
func New(db *sql.DB, d Dialect, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{db: db, dialect: d, logger: opts.Logger, now: opts.Now}
}

func (s *Store) Backend() storage.Backend { return s.dialect.Backend() }

func (s *Store) Capabilities() storage.Capabilities {
	return storage.Capabilities{Transactions: true}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "close database")
	}
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

// Register creates the table when missing and brings its indexes in line
// with schema: missing ones are created, stale ones dropped.
func (s *Store) Register(ctx context.Context, schema storage.Schema, opts storage.RegisterOptions) error {
	name := schema.Collection()
	return s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		t := tx.(*sqlTx)
		if err := t.exec(ctx, s.createTable(schema)); err != nil {
			return err
		}
		if opts.SkipIndexes {
			return nil
		}
		existing, err := t.indexes(ctx, name)
		if err != nil {
			return err
		}
		wanted := s.indexes(schema)
		for _, idx := range existing {
			if _, ok := wanted[idx]; ok || !ownIndex(name, idx) {
				continue
			}
			s.logger.Info("dropping stale index", zap.String("table", name), zap.String("index", idx))
			if err := t.exec(ctx, "DROP INDEX IF EXISTS "+planner.QuoteIdent(idx)); err != nil {
				return err
			}
		}
		for _, c := range schema.Columns() {
			if stmt, ok := wanted[indexName(name, c)]; ok {
				if err := t.exec(ctx, stmt); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Store) createTable(schema storage.Schema) string {
	var (
		defs []string
		keys []string
	)
	for _, c := range schema.Columns() {
		def := planner.QuoteIdent(c.Name) + " " + s.dialect.ColumnType(c)
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
		if c.PrimaryKey {
			keys = append(keys, planner.QuoteIdent(c.Name))
		}
	}
	if len(keys) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", planner.QuoteIdent(schema.Collection()), strings.Join(defs, ",\n  "))
}

// indexes returns the CREATE INDEX statement of every indexed column keyed
// by index name.
func (s *Store) indexes(schema storage.Schema) map[string]string {
	name := schema.Collection()
	out := make(map[string]string)
	for _, c := range schema.Columns() {
		if c.PrimaryKey || c.Index == storage.IndexNone {
			continue
		}
		kind := "INDEX"
		if c.Index == storage.IndexUnique {
			kind = "UNIQUE INDEX"
		}
		idx := indexName(name, c)
		out[idx] = fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s(%s)", kind, planner.QuoteIdent(idx), planner.QuoteIdent(name), planner.QuoteIdent(c.Name))
	}
	return out
}

// indexName encodes the index kind so that a kind change renames the index.
func indexName(table string, c storage.Column) string {
	if c.Index == storage.IndexUnique {
		return "uidx_" + table + "_" + c.Name
	}
	return "idx_" + table + "_" + c.Name
}

func ownIndex(table, idx string) bool {
	return strings.HasPrefix(idx, "idx_"+table+"_") || strings.HasPrefix(idx, "uidx_"+table+"_")
}

// Atomic runs fn inside one database transaction.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(s.classify(err), "begin transaction")
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqlTx{store: s, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(s.classify(err), "commit")
	}
	return nil
}

// Health pings the database and reports its version.
func (s *Store) Health(ctx context.Context) storage.Health {
	h := storage.Health{Backend: s.dialect.Backend(), Time: s.now().UTC(), Status: storage.HealthFail}
	if err := s.db.PingContext(ctx); err != nil {
		h.Output = err.Error()
		return h
	}
	if err := s.db.QueryRowContext(ctx, s.dialect.Templates().Version).Scan(&h.Version); err != nil {
		h.Output = err.Error()
		return h
	}
	h.Status = storage.HealthPass
	return h
}

func (s *Store) classify(err error) error {
	return markUnreachable(s.dialect, err)
}

// duplicate marks key and unique index violations on schema.
func (s *Store) duplicate(schema storage.Schema, err error) error {
	if err == nil {
		return nil
	}
	if cols, ok := s.dialect.DuplicateColumns(err); ok {
		return storage.Duplicate(err, schema.Collection(), cols...)
	}
	return err
}

func markUnreachable(d Dialect, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || d.IsUnreachable(err) {
		return storage.Unreachable(err)
	}
	return err
}
