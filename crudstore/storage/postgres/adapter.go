package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ministore/crudstore/crudstore/storage"
	"github.com/ministore/crudstore/crudstore/storage/sqlbuilder"
	"github.com/ministore/crudstore/crudstore/storage/sqlstore"
)

type Adapter struct {
	DSN    string
	Schema string // used as dedicated schema via search_path
}

func New(dsn, schema string) *Adapter {
	return &Adapter{DSN: dsn, Schema: schema}
}

// Open connects and returns a ready store.
func Open(ctx context.Context, dsn, schema string, opts sqlstore.Options) (*sqlstore.Store, error) {
	return sqlstore.Open(ctx, New(dsn, schema), opts)
}

func (a *Adapter) Backend() storage.Backend { return storage.BackendPostgres }

func (a *Adapter) PlaceholderStyle() sqlbuilder.PlaceholderStyle { return sqlbuilder.PlaceholderDollar }

func (a *Adapter) Templates() sqlstore.Templates { return SQLTemplates }

func (a *Adapter) Close() error { return nil }

var schemaNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quoteIdent(ident string) string {
	// ident is validated to contain no quotes; safe to wrap
	return `"` + ident + `"`
}

func (a *Adapter) ensureSchema(ctx context.Context, db *sql.DB) error {
	if a.Schema == "" || !schemaNameRe.MatchString(a.Schema) {
		return errors.Newf("invalid postgres schema name %q (must match %s)", a.Schema, schemaNameRe.String())
	}
	_, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(a.Schema))
	return err
}

func (a *Adapter) Connect(ctx context.Context) (*sql.DB, error) {
	// 1) Connect without search_path to ensure schema exists
	cfg0, err := pgx.ParseConfig(a.DSN)
	if err != nil {
		return nil, err
	}
	db0 := stdlib.OpenDB(*cfg0)
	if err := db0.PingContext(ctx); err != nil {
		_ = db0.Close()
		return nil, err
	}
	if err := a.ensureSchema(ctx, db0); err != nil {
		_ = db0.Close()
		return nil, err
	}
	_ = db0.Close()

	// 2) Connect with search_path pinned to the schema
	cfg, err := pgx.ParseConfig(a.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = make(map[string]string)
	}
	cfg.RuntimeParams["search_path"] = fmt.Sprintf("%s,public", quoteIdent(a.Schema))

	db := stdlib.OpenDB(*cfg)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (a *Adapter) UnboundedLimit() string { return "" }

func (a *Adapter) ColumnType(c storage.Column) string {
	switch c.Type {
	case storage.TypeInt:
		return "BIGINT"
	case storage.TypeFloat:
		return "DOUBLE PRECISION"
	case storage.TypeBool:
		return "BOOLEAN"
	case storage.TypeDate:
		return "DATE"
	case storage.TypeDateTime:
		return "TIMESTAMPTZ"
	case storage.TypeDict, storage.TypeList:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (a *Adapter) Encode(c storage.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.Type {
	case storage.TypeDate, storage.TypeDateTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC(), nil
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
		return sqlstore.DecodeTime(raw, time.RFC3339Nano)
	case storage.TypeDict, storage.TypeList:
		return sqlstore.DecodeJSON(raw)
	}
	return raw, nil
}

// IsUnreachable recognizes connection establishment and network failures.
func (a *Adapter) IsUnreachable(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.Timeout(err)
}

var duplicateKeyRe = regexp.MustCompile(`^Key \(([^)]*)\)=`)

// DuplicateColumns recognizes unique_violation (23505) and reads the
// offending columns from the error detail.
func (a *Adapter) DuplicateColumns(err error) ([]string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil, false
	}
	m := duplicateKeyRe.FindStringSubmatch(pgErr.Detail)
	if m == nil {
		return nil, true
	}
	var cols []string
	for _, col := range strings.Split(m[1], ", ") {
		cols = append(cols, strings.Trim(col, `"`))
	}
	return cols, true
}
