package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap/zaptest"

	"github.com/ministore/crudstore/crudstore/storage"
)

func TestBSONType(t *testing.T) {
	assert.Equal(t, "string", bsonType(storage.TypeString))
	assert.Equal(t, "long", bsonType(storage.TypeInt))
	assert.Equal(t, "date", bsonType(storage.TypeDate))
	assert.Equal(t, "array", bsonType(storage.TypeList))
}

func TestIndexModels(t *testing.T) {
	schema := testSchema{name: "users", cols: []storage.Column{
		{Name: "org", Type: storage.TypeString, PrimaryKey: true, Index: storage.IndexUnique},
		{Name: "id", Type: storage.TypeInt, PrimaryKey: true, Index: storage.IndexUnique},
		{Name: "email", Type: storage.TypeString, Nullable: true, Index: storage.IndexUnique},
		{Name: "team", Type: storage.TypeString, Nullable: true, Index: storage.IndexOther},
		{Name: "note", Type: storage.TypeString, Nullable: true},
	}}
	var names []string
	for _, m := range indexModels(schema) {
		names = append(names, *m.Options.Name)
	}
	assert.Equal(t, []string{"pk_org_id", "uidx_email", "idx_team"}, names)
}

func TestDuplicate(t *testing.T) {
	schema := testSchema{name: "users", cols: []storage.Column{
		{Name: "org", Type: storage.TypeString, PrimaryKey: true, Index: storage.IndexUnique},
		{Name: "id", Type: storage.TypeInt, PrimaryKey: true, Index: storage.IndexUnique},
		{Name: "email", Type: storage.TypeString, Nullable: true, Index: storage.IndexUnique},
	}}
	violation := func(index string) error {
		return mongo.WriteException{WriteErrors: []mongo.WriteError{{
			Code:    11000,
			Message: "E11000 duplicate key error collection: db.users index: " + index + ` dup key: { email: "a@x" }`,
		}}}
	}

	var dup *storage.DuplicateError
	require.True(t, errors.As(duplicate(schema, violation("uidx_email")), &dup))
	assert.Equal(t, "users", dup.Collection)
	assert.Equal(t, []string{"email"}, dup.Columns)

	require.True(t, errors.As(duplicate(schema, violation("pk_org_id")), &dup))
	assert.Equal(t, []string{"org", "id"}, dup.Columns)

	other := errors.New("boom")
	assert.Same(t, other, duplicate(schema, other))
}

func TestOpen_Unreachable(t *testing.T) {
	opts := DefaultOptions()
	opts.Logger = zaptest.NewLogger(t)
	opts.Timeout = 200 * time.Millisecond

	_, err := Open(context.Background(), "mongodb://127.0.0.1:1/?connectTimeoutMS=100", "crudstore_test", opts)
	require.Error(t, err)
	assert.True(t, storage.IsUnreachable(err))
}

type testSchema struct {
	name string
	cols []storage.Column
}

func (s testSchema) Collection() string        { return s.name }
func (s testSchema) Columns() []storage.Column { return s.cols }

// TestStore_Mongo runs against a live server when CRUDSTORE_TEST_MONGO_URI
// is set.
func TestStore_Mongo(t *testing.T) {
	uri := os.Getenv("CRUDSTORE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CRUDSTORE_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	opts := DefaultOptions()
	opts.Logger = zaptest.NewLogger(t)

	db := "crudstore_test_" + primitive.NewObjectID().Hex()
	s, err := Open(ctx, uri, db, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.db.Drop(context.Background())
		_ = s.Close()
	})
	require.True(t, s.Health(ctx).OK())

	schema := testSchema{name: "items", cols: []storage.Column{
		{Name: "key", Type: storage.TypeString, PrimaryKey: true, Index: storage.IndexUnique},
		{Name: "n", Type: storage.TypeInt, Nullable: true},
		{Name: "status", Type: storage.TypeString, Nullable: true, Default: "new"},
	}}
	require.NoError(t, s.Register(ctx, schema, storage.RegisterOptions{}))

	err = s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.Insert(ctx, schema,
			storage.Record{"key": "a", "n": int64(1)},
			storage.Record{"key": "b", "n": int64(5), "status": "done"},
		); err != nil {
			return err
		}
		n, err := tx.Count(ctx, schema, []storage.Predicate{{Field: "n", Op: storage.OpGte, Value: int64(1)}})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		recs, err := tx.Find(ctx, schema, storage.Query{
			Where: []storage.Predicate{storage.Eq("status", "new")},
		})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "a", recs[0]["key"])
		assert.Equal(t, int64(1), recs[0]["n"])

		updated, err := tx.Update(ctx, schema, []storage.Predicate{storage.Eq("key", "a")}, storage.Record{"n": int64(2)})
		require.NoError(t, err)
		assert.Equal(t, int64(1), updated)

		recs, err = tx.Find(ctx, schema, storage.Query{
			Where: []storage.Predicate{{Field: "key", Op: storage.OpRegex, Value: storage.Pattern("*")}},
			Order: []storage.Order{{Field: "n", Desc: true}},
		})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "b", recs[0]["key"])

		v, err := tx.Increment(ctx, "items", "n")
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
		v, err = tx.Increment(ctx, "items", "n")
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)
		require.NoError(t, tx.ResetCounters(ctx, "items"))
		v, err = tx.Increment(ctx, "items", "n")
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)

		deleted, err := tx.Delete(ctx, schema, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)
		return nil
	})
	require.NoError(t, err)
}

func openLive(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("CRUDSTORE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CRUDSTORE_TEST_MONGO_URI not set")
	}
	opts := DefaultOptions()
	opts.Logger = zaptest.NewLogger(t)
	s, err := Open(context.Background(), uri, "crudstore_test_"+primitive.NewObjectID().Hex(), opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.db.Drop(context.Background())
		_ = s.Close()
	})
	return s
}

func TestStore_MongoDuplicatesAndIndexes(t *testing.T) {
	s := openLive(t)
	ctx := context.Background()
	users := testSchema{name: "users", cols: []storage.Column{
		{Name: "id", Type: storage.TypeInt, PrimaryKey: true, Index: storage.IndexUnique},
		{Name: "email", Type: storage.TypeString, Nullable: true, Index: storage.IndexUnique},
	}}
	require.NoError(t, s.Register(ctx, users, storage.RegisterOptions{}))
	insert := func(recs ...storage.Record) error {
		return s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			return tx.Insert(ctx, users, recs...)
		})
	}
	require.NoError(t, insert(storage.Record{"id": int64(1), "email": "a@x"}))

	var dup *storage.DuplicateError
	require.True(t, errors.As(insert(storage.Record{"id": int64(2), "email": "a@x"}), &dup))
	assert.Equal(t, []string{"email"}, dup.Columns)
	require.True(t, errors.As(insert(storage.Record{"id": int64(1)}), &dup))
	assert.Equal(t, []string{"id"}, dup.Columns)

	users.cols[1].Index = storage.IndexOther
	require.NoError(t, s.Register(ctx, users, storage.RegisterOptions{}))
	specs, err := s.db.Collection("users").Indexes().ListSpecifications(ctx)
	require.NoError(t, err)
	var names []string
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	assert.ElementsMatch(t, []string{"_id_", "pk_id", "idx_email"}, names)
	require.NoError(t, insert(storage.Record{"id": int64(2), "email": "a@x"}))
}

func TestStore_MongoCompensates(t *testing.T) {
	s := openLive(t)
	ctx := context.Background()
	schema := testSchema{name: "items", cols: []storage.Column{
		{Name: "key", Type: storage.TypeString, PrimaryKey: true, Index: storage.IndexUnique},
		{Name: "n", Type: storage.TypeInt, Nullable: true},
	}}
	require.NoError(t, s.Register(ctx, schema, storage.RegisterOptions{}))
	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.Insert(ctx, schema, storage.Record{"key": "a", "n": int64(1)}, storage.Record{"key": "b", "n": int64(2)})
	}))

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.Insert(ctx, schema, storage.Record{"key": "c"}); err != nil {
			return err
		}
		if _, err := tx.Update(ctx, schema, []storage.Predicate{storage.Eq("key", "a")}, storage.Record{"n": int64(9)}); err != nil {
			return err
		}
		if _, err := tx.Delete(ctx, schema, []storage.Predicate{storage.Eq("key", "b")}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		recs, err := tx.Find(ctx, schema, storage.Query{Order: []storage.Order{{Field: "key"}}})
		require.NoError(t, err)
		assert.Equal(t, []storage.Record{{"key": "a", "n": int64(1)}, {"key": "b", "n": int64(2)}}, recs)
		return nil
	}))
}
