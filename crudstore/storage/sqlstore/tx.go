package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ministore/crudstore/crudstore/planner"
	"github.com/ministore/crudstore/crudstore/storage"
)

type sqlTx struct {
	store *Store
	tx    *sql.Tx
}

func (t *sqlTx) exec(ctx context.Context, query string, args ...any) error {
	_, err := t.execResult(ctx, query, args...)
	return err
}

func (t *sqlTx) execResult(ctx context.Context, query string, args ...any) (sql.Result, error) {
	t.store.logger.Debug("exec", zap.String("sql", query), zap.Int("args", len(args)))
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(t.store.classify(err), "exec %s", firstWord(query))
	}
	return res, nil
}

func (t *sqlTx) compiler(schema storage.Schema) *planner.Compiler {
	return planner.New(t.store.dialect, schema)
}

func (t *sqlTx) Insert(ctx context.Context, schema storage.Schema, records ...storage.Record) error {
	c := t.compiler(schema)
	for _, rec := range records {
		stmt, err := c.Insert(rec)
		if err != nil {
			return err
		}
		if err := t.exec(ctx, stmt.SQL, stmt.Args...); err != nil {
			return t.store.duplicate(schema, err)
		}
	}
	return nil
}

func (t *sqlTx) Update(ctx context.Context, schema storage.Schema, where []storage.Predicate, set storage.Record) (int64, error) {
	stmt, err := t.compiler(schema).Update(where, set)
	if err != nil {
		return 0, err
	}
	res, err := t.execResult(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, t.store.duplicate(schema, err)
	}
	return res.RowsAffected()
}

func (t *sqlTx) Delete(ctx context.Context, schema storage.Schema, where []storage.Predicate) (int64, error) {
	stmt, err := t.compiler(schema).Delete(where)
	if err != nil {
		return 0, err
	}
	res, err := t.execResult(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *sqlTx) Count(ctx context.Context, schema storage.Schema, where []storage.Predicate) (int64, error) {
	stmt, err := t.compiler(schema).Count(where)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := t.tx.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&n); err != nil {
		return 0, errors.Wrap(t.store.classify(err), "count")
	}
	return n, nil
}

func (t *sqlTx) Find(ctx context.Context, schema storage.Schema, q storage.Query) ([]storage.Record, error) {
	stmt, err := t.compiler(schema).Select(q)
	if err != nil {
		return nil, err
	}
	t.store.logger.Debug("query", zap.String("sql", stmt.SQL), zap.Strings("explain", stmt.ExplainSteps))

	rows, err := t.tx.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, errors.Wrap(t.store.classify(err), "query")
	}
	defer rows.Close()

	cols := schema.Columns()
	var out []storage.Record
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "scan row")
		}
		rec := make(storage.Record, len(cols))
		for i, c := range cols {
			v, err := t.store.dialect.Decode(c, raw[i])
			if err != nil {
				return nil, errors.Wrapf(err, "decode %s", c.Name)
			}
			rec[c.Name] = v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(t.store.classify(err), "iterate rows")
	}
	return out, nil
}

func (t *sqlTx) Increment(ctx context.Context, category, name string) (int64, error) {
	now := t.store.now().UTC().Format(time.RFC3339Nano)
	var v int64
	err := t.tx.QueryRowContext(ctx, t.store.dialect.Templates().IncrementCounter, category, name, now).Scan(&v)
	if err != nil {
		return 0, errors.Wrapf(t.store.classify(err), "increment counter %s/%s", category, name)
	}
	return v, nil
}

func (t *sqlTx) ResetCounters(ctx context.Context, category string) error {
	return t.exec(ctx, t.store.dialect.Templates().ResetCounters, category)
}

func (t *sqlTx) RaiseCounter(ctx context.Context, category, name string, value int64) error {
	now := t.store.now().UTC().Format(time.RFC3339Nano)
	return t.exec(ctx, t.store.dialect.Templates().RaiseCounter, category, name, value, now)
}

func (t *sqlTx) indexes(ctx context.Context, table string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, t.store.dialect.Templates().ListIndexes, table)
	if err != nil {
		return nil, errors.Wrapf(t.store.classify(err), "list indexes of %s", table)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan index name")
		}
		out = append(out, name)
	}
	return out, errors.Wrap(rows.Err(), "iterate indexes")
}

func (t *sqlTx) NextRevision(ctx context.Context) (int64, error) {
	return t.Increment(ctx, storage.RevisionCategory, storage.RevisionCounter)
}

func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' {
			return s[:i]
		}
	}
	return s
}
