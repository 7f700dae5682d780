package sqlstore_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ministore/crudstore/crudstore/storage"
	"github.com/ministore/crudstore/crudstore/storage/sqlite"
	"github.com/ministore/crudstore/crudstore/storage/sqlstore"
)

type testSchema struct {
	name string
	cols []storage.Column
}

func (s testSchema) Collection() string        { return s.name }
func (s testSchema) Columns() []storage.Column { return s.cols }

var things = testSchema{name: "things", cols: []storage.Column{
	{Name: "id", Type: storage.TypeString, PrimaryKey: true, Index: storage.IndexUnique},
	{Name: "n", Type: storage.TypeInt, Nullable: true},
	{Name: "code", Type: storage.TypeString, Nullable: true, Index: storage.IndexUnique},
	{Name: "on", Type: storage.TypeBool, Nullable: true, Index: storage.IndexOther},
}}

func newMockStore(t *testing.T) (*sqlstore.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	opts := sqlstore.DefaultOptions()
	opts.Logger = zaptest.NewLogger(t)
	return sqlstore.New(db, sqlite.New(":memory:"), opts), mock
}

func q(sql string) string { return regexp.QuoteMeta(sql) }

const createThings = `CREATE TABLE IF NOT EXISTS "things" (
  "id" TEXT NOT NULL,
  "n" INTEGER,
  "code" TEXT,
  "on" INTEGER,
  PRIMARY KEY ("id")
)`

func TestStore_Register(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q(createThings)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(sqlite.SQLTemplates.ListIndexes)).WithArgs("things").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).
			AddRow("idx_things_code").
			AddRow("idx_things_n").
			AddRow("idx_things_on").
			AddRow("sqlite_autoindex_things_1"))
	mock.ExpectExec(q(`DROP INDEX IF EXISTS "idx_things_code"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q(`DROP INDEX IF EXISTS "idx_things_n"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q(`CREATE UNIQUE INDEX IF NOT EXISTS "uidx_things_code" ON "things"("code")`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q(`CREATE INDEX IF NOT EXISTS "idx_things_on" ON "things"("on")`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, s.Register(context.Background(), things, storage.RegisterOptions{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RegisterSkipIndexes(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q(createThings)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, s.Register(context.Background(), things, storage.RegisterOptions{SkipIndexes: true}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Duplicates(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(q(`INSERT INTO "things" ("id", "n", "code", "on") VALUES (?, ?, ?, ?)`)).
		WillReturnError(errors.New("constraint failed: UNIQUE constraint failed: things.id (1555)"))
	mock.ExpectRollback()
	err := s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.Insert(ctx, things, storage.Record{"id": "a"})
	})
	require.Error(t, err)
	assert.True(t, storage.IsDuplicate(err))
	var dup *storage.DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "things", dup.Collection)
	assert.Equal(t, []string{"id"}, dup.Columns)

	mock.ExpectBegin()
	mock.ExpectExec(q(`UPDATE "things" SET "code" = ? WHERE "id" = ?`)).
		WillReturnError(errors.New("UNIQUE constraint failed: things.code"))
	mock.ExpectRollback()
	err = s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.Update(ctx, things, []storage.Predicate{storage.Eq("id", "b")}, storage.Record{"code": "x"})
		return err
	})
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, []string{"code"}, dup.Columns)

	mock.ExpectBegin()
	mock.ExpectExec(q(`INSERT INTO "things" ("id", "n", "code", "on") VALUES (?, ?, ?, ?)`)).
		WillReturnError(errors.New("NOT NULL constraint failed: things.id"))
	mock.ExpectRollback()
	err = s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.Insert(ctx, things, storage.Record{"id": "c"})
	})
	require.Error(t, err)
	assert.False(t, storage.IsDuplicate(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AtomicCommits(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(q(`INSERT INTO "things" ("id", "n", "code", "on") VALUES (?, ?, ?, ?)`)).
		WithArgs("a", int64(2), nil, int64(1)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(q(`SELECT "id", "n", "code", "on" FROM "things" WHERE "n" >= ?`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "n", "code", "on"}).AddRow("a", int64(2), nil, int64(1)))
	mock.ExpectExec(q(`UPDATE "things" SET "n" = ? WHERE "id" = ?`)).
		WithArgs(int64(3), "a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q(`SELECT COUNT(*) FROM "things" WHERE "id" IN (?, ?)`)).
		WithArgs("a", "b").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(q(`DELETE FROM "things"`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		require.NoError(t, tx.Insert(ctx, things, storage.Record{"id": "a", "n": int64(2), "on": true}))

		recs, err := tx.Find(ctx, things, storage.Query{Where: []storage.Predicate{{Field: "n", Op: storage.OpGte, Value: int64(1)}}})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, storage.Record{"id": "a", "n": int64(2), "code": nil, "on": true}, recs[0])

		n, err := tx.Update(ctx, things, []storage.Predicate{storage.Eq("id", "a")}, storage.Record{"n": int64(3)})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = tx.Count(ctx, things, []storage.Predicate{{Field: "id", Op: storage.OpIn, Value: []any{"a", "b"}}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = tx.Delete(ctx, things, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AtomicRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(q(`DELETE FROM "things" WHERE "id" = ?`)).WithArgs("a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := s.Atomic(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.Delete(ctx, things, []storage.Predicate{storage.Eq("id", "a")}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RejectsPatterns(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.Atomic(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.Find(ctx, things, storage.Query{Where: []storage.Predicate{{Field: "id", Op: storage.OpRegex, Value: storage.Pattern("a*")}}})
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrUnsupported)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Unreachable(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("unable to open database file"))

	err := s.Atomic(context.Background(), func(ctx context.Context, tx storage.Tx) error { return nil })
	require.Error(t, err)
	assert.True(t, storage.IsUnreachable(err))

	mock.ExpectBegin()
	mock.ExpectExec(q(`DELETE FROM "things"`)).WillReturnError(errors.New("near \"DELETE\": syntax error"))
	mock.ExpectRollback()
	err = s.Atomic(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.Delete(ctx, things, nil)
		return err
	})
	require.Error(t, err)
	assert.False(t, storage.IsUnreachable(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Counters(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(sqlite.SQLTemplates.IncrementCounter)).
		WithArgs(storage.RevisionCategory, storage.RevisionCounter, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(int64(7)))
	mock.ExpectExec(q(sqlite.SQLTemplates.ResetCounters)).WithArgs("things").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(q(sqlite.SQLTemplates.RaiseCounter)).
		WithArgs(storage.RevisionCategory, storage.RevisionCounter, int64(42), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Atomic(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		rev, err := tx.NextRevision(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(7), rev)
		require.NoError(t, tx.ResetCounters(ctx, "things"))
		return tx.RaiseCounter(ctx, storage.RevisionCategory, storage.RevisionCounter, 42)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Health(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectPing()
	mock.ExpectQuery(q(`SELECT sqlite_version()`)).WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow("3.45.1"))
	h := s.Health(context.Background())
	assert.True(t, h.OK())
	assert.Equal(t, "3.45.1", h.Version)
	assert.Equal(t, storage.BackendSQLite, h.Backend)

	mock.ExpectPing().WillReturnError(errors.New("unable to open database file"))
	h = s.Health(context.Background())
	assert.False(t, h.OK())
	assert.NotEmpty(t, h.Output)
	require.NoError(t, mock.ExpectationsWereMet())
}
