package sqlite

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ministore/crudstore/crudstore/storage"
	"github.com/ministore/crudstore/crudstore/storage/sqlbuilder"
	"github.com/ministore/crudstore/crudstore/storage/sqlstore"
)

// Adapter opens SQLite databases. The driver must be registered by the
// caller: "sqlite" for modernc.org/sqlite, "sqlite3" for mattn/go-sqlite3.
type Adapter struct {
	Path       string
	DriverName string
}

func New(path string) *Adapter {
	return &Adapter{Path: path, DriverName: "sqlite"}
}

func NewWithDriver(path, driver string) *Adapter {
	return &Adapter{Path: path, DriverName: driver}
}

// Open connects and returns a ready store.
func Open(ctx context.Context, path string, opts sqlstore.Options) (*sqlstore.Store, error) {
	return sqlstore.Open(ctx, New(path), opts)
}

func (a *Adapter) Backend() storage.Backend {
	return storage.BackendSQLite
}

func (a *Adapter) PlaceholderStyle() sqlbuilder.PlaceholderStyle {
	return sqlbuilder.PlaceholderQuestion
}

func (a *Adapter) Templates() sqlstore.Templates {
	return SQLTemplates
}

func (a *Adapter) Connect(ctx context.Context) (*sql.DB, error) {
	dsn := a.Path
	params := "_busy_timeout=5000&_foreign_keys=on"
	if a.DriverName == "sqlite" {
		params = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	if !strings.Contains(dsn, "?") {
		dsn = dsn + "?" + params
	} else {
		dsn = dsn + "&" + params
	}
	db, err := sql.Open(a.DriverName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous=NORMAL;")
	return db, nil
}

func (a *Adapter) Close() error {
	return nil
}

func (a *Adapter) UnboundedLimit() string { return " LIMIT -1" }

func (a *Adapter) ColumnType(c storage.Column) string {
	switch c.Type {
	case storage.TypeInt, storage.TypeBool:
		return "INTEGER"
	case storage.TypeFloat:
		return "REAL"
	default:
		// Dates are stored as TEXT so drivers do not rewrite them on scan.
		return "TEXT"
	}
}

func (a *Adapter) Encode(c storage.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.Type {
	case storage.TypeDate:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(sqlstore.DateLayout), nil
		}
	case storage.TypeDateTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(sqlstore.DateTimeLayout), nil
		}
	case storage.TypeBool:
		if b, ok := v.(bool); ok {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case storage.TypeDict, storage.TypeList:
		return sqlstore.EncodeJSON(v)
	}
	return v, nil
}

func (a *Adapter) Decode(c storage.Column, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch c.Type {
	case storage.TypeString:
		return sqlstore.DecodeString(raw)
	case storage.TypeInt:
		return sqlstore.DecodeInt(raw)
	case storage.TypeFloat:
		return sqlstore.DecodeFloat(raw)
	case storage.TypeBool:
		return sqlstore.DecodeBool(raw)
	case storage.TypeDate:
		return sqlstore.DecodeDate(raw)
	case storage.TypeDateTime:
		return sqlstore.DecodeTime(raw, sqlstore.DateTimeLayout)
	case storage.TypeDict, storage.TypeList:
		return sqlstore.DecodeJSON(raw)
	}
	return raw, nil
}

// IsUnreachable recognizes failures to open the database file.
func (a *Adapter) IsUnreachable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to open database file") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sql: database is closed")
}

var uniqueFailedRe = regexp.MustCompile(`UNIQUE constraint failed: ([\w"]+\.[\w"]+(?:, [\w"]+\.[\w"]+)*)`)

// DuplicateColumns recognizes primary key and unique index violations and
// returns the offending columns without their table prefix.
func (a *Adapter) DuplicateColumns(err error) ([]string, bool) {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		default:
			return nil, false
		}
	}
	m := uniqueFailedRe.FindStringSubmatch(err.Error())
	if m == nil {
		return nil, false
	}
	var cols []string
	for _, qualified := range strings.Split(m[1], ", ") {
		col := qualified[strings.LastIndex(qualified, ".")+1:]
		cols = append(cols, strings.Trim(col, `"`))
	}
	return cols, true
}
