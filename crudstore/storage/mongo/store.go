// Package mongo stores collections in MongoDB through the official driver.
package mongo

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/ministore/crudstore/crudstore/storage"
	"github.com/ministore/crudstore/crudstore/storage/document"
)

type Options struct {
	Logger *zap.Logger
	Now    func() time.Time
	// Transactions runs Atomic inside a session transaction. Requires a
	// replica set or sharded cluster. Without it a failed Atomic call is
	// undone by compensating writes and concurrent readers may observe the
	// intermediate state.
	Transactions bool
	Timeout      time.Duration
}

func DefaultOptions() Options {
	return Options{Logger: zap.NewNop(), Now: time.Now, Timeout: 10 * time.Second}
}

type Store struct {
	client *mongo.Client
	db     *mongo.Database
	opts   Options
}

// Open connects to uri and pings the primary.
func Open(ctx context.Context, uri, database string, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	co := options.Client().ApplyURI(uri)
	if opts.Timeout > 0 {
		co.SetServerSelectionTimeout(opts.Timeout)
	}
	client, err := mongo.Connect(ctx, co)
	if err != nil {
		return nil, errors.Wrap(classify(err), "connect to mongo")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(storage.Unreachable(err), "ping mongo")
	}

	s := &Store{client: client, db: client.Database(database), opts: opts}
	_, err = s.db.Collection(storage.CountersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "category", Value: 1}, {Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("category_name"),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(classify(err), "create counters index")
	}
	opts.Logger.Debug("store opened", zap.String("backend", string(storage.BackendMongo)), zap.String("database", database))
	return s, nil
}

func (s *Store) Backend() storage.Backend { return storage.BackendMongo }

func (s *Store) Capabilities() storage.Capabilities {
	return storage.Capabilities{Regex: true, Transactions: s.opts.Transactions}
}

// Register drops the indexes of schema's collection that no longer match a
// key or indexed column and creates the missing ones.
func (s *Store) Register(ctx context.Context, schema storage.Schema, opts storage.RegisterOptions) error {
	if opts.SkipIndexes {
		return nil
	}
	name := schema.Collection()
	view := s.db.Collection(name).Indexes()
	models := indexModels(schema)
	wanted := make(map[string]bool, len(models))
	for _, m := range models {
		wanted[*m.Options.Name] = true
	}

	specs, err := view.ListSpecifications(ctx)
	if err != nil {
		return errors.Wrapf(classify(err), "list indexes of %s", name)
	}
	for _, spec := range specs {
		if spec.Name == "_id_" || wanted[spec.Name] {
			continue
		}
		s.opts.Logger.Info("dropping stale index", zap.String("collection", name), zap.String("index", spec.Name))
		if _, err := view.DropOne(ctx, spec.Name); err != nil {
			return errors.Wrapf(classify(err), "drop index %s on %s", spec.Name, name)
		}
	}
	if len(models) == 0 {
		return nil
	}
	if _, err := view.CreateMany(ctx, models); err != nil {
		return errors.Wrapf(classify(err), "create indexes on %s", name)
	}
	return nil
}

// indexModels names indexes after their kind and columns, so a changed
// definition never reuses the name of the index it replaces.
func indexModels(schema storage.Schema) []mongo.IndexModel {
	var models []mongo.IndexModel
	var (
		keys  bson.D
		names []string
	)
	for _, c := range storage.PrimaryKey(schema) {
		keys = append(keys, bson.E{Key: c.Name, Value: 1})
		names = append(names, c.Name)
	}
	if len(keys) > 0 {
		models = append(models, mongo.IndexModel{Keys: keys, Options: options.Index().SetUnique(true).SetName(pkPrefix + strings.Join(names, "_"))})
	}
	for _, c := range schema.Columns() {
		if c.PrimaryKey || c.Index == storage.IndexNone {
			continue
		}
		io := options.Index().SetName(idxPrefix + c.Name)
		if c.Index == storage.IndexUnique {
			// Nulls are left out of the index, as relational engines do.
			io = options.Index().SetName(uidxPrefix + c.Name).SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: c.Name, Value: bson.D{{Key: "$type", Value: bsonType(c.Type)}}}})
		}
		models = append(models, mongo.IndexModel{Keys: bson.D{{Key: c.Name, Value: 1}}, Options: io})
	}
	return models
}

const (
	pkPrefix   = "pk_"
	uidxPrefix = "uidx_"
	idxPrefix  = "idx_"
)

var dupIndexRe = regexp.MustCompile(`index: (\S+) dup key`)

// duplicate marks key violations with the columns of the violated index.
func duplicate(schema storage.Schema, err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}
	var cols []string
	if m := dupIndexRe.FindStringSubmatch(err.Error()); m != nil {
		switch index := m[1]; {
		case strings.HasPrefix(index, pkPrefix):
			for _, c := range storage.PrimaryKey(schema) {
				cols = append(cols, c.Name)
			}
		case strings.HasPrefix(index, uidxPrefix):
			cols = []string{strings.TrimPrefix(index, uidxPrefix)}
		}
	}
	return storage.Duplicate(err, schema.Collection(), cols...)
}

func bsonType(t storage.FieldType) string {
	switch t {
	case storage.TypeInt:
		return "long"
	case storage.TypeFloat:
		return "double"
	case storage.TypeBool:
		return "bool"
	case storage.TypeDate, storage.TypeDateTime:
		return "date"
	case storage.TypeDict:
		return "object"
	case storage.TypeList:
		return "array"
	}
	return "string"
}

// Atomic runs fn in a session transaction when enabled. Otherwise fn runs
// directly and its writes are compensated in reverse order when it fails.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if !s.opts.Transactions {
		tx := &mongoTx{store: s, journal: true}
		if err := fn(ctx, tx); err != nil {
			return tx.compensate(context.WithoutCancel(ctx), err)
		}
		return nil
	}
	session, err := s.client.StartSession()
	if err != nil {
		return errors.Wrap(classify(err), "start session")
	}
	defer session.EndSession(ctx)

	tx := &mongoTx{store: s}
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc, tx)
	})
	return err
}

func (s *Store) Health(ctx context.Context) storage.Health {
	h := storage.Health{Backend: storage.BackendMongo, Time: s.opts.Now().UTC(), Status: storage.HealthFail}
	var info struct {
		Version string `bson:"version"`
	}
	if err := s.db.RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&info); err != nil {
		h.Output = err.Error()
		return h
	}
	h.Version = info.Version
	h.Status = storage.HealthPass
	return h
}

func (s *Store) Close() error {
	if err := s.client.Disconnect(context.Background()); err != nil {
		return errors.Wrap(err, "disconnect mongo")
	}
	return nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return storage.Unreachable(err)
	}
	return err
}

type mongoTx struct {
	store *Store
	// journal records an undo step before every write.
	journal bool
	undo    []func(ctx context.Context) error
}

func (t *mongoTx) record(undo func(ctx context.Context) error) {
	if t.journal {
		t.undo = append(t.undo, undo)
	}
}

// compensate runs the recorded undo steps newest first. Counter increments
// are not undone, so a compensated call can leave gaps in revisions.
func (t *mongoTx) compensate(ctx context.Context, cause error) error {
	logger := t.store.opts.Logger
	for i := len(t.undo) - 1; i >= 0; i-- {
		if err := t.undo[i](ctx); err != nil {
			logger.Error("compensation failed, writes are partially applied", zap.Error(err), zap.NamedError("cause", cause))
			return errors.WithSecondaryError(cause, errors.Wrap(classify(err), "compensate"))
		}
	}
	if len(t.undo) > 0 {
		logger.Warn("writes compensated", zap.Int("steps", len(t.undo)), zap.Error(cause))
	}
	return cause
}

// snapshot reads the raw documents matching f, _id included.
func snapshot(ctx context.Context, coll *mongo.Collection, f bson.D) ([]any, error) {
	cur, err := coll.Find(ctx, f)
	if err != nil {
		return nil, errors.Wrapf(classify(err), "snapshot %s", coll.Name())
	}
	var docs []bson.D
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrapf(classify(err), "snapshot %s", coll.Name())
	}
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d
	}
	return out, nil
}

func idOf(doc any) any {
	for _, e := range doc.(bson.D) {
		if e.Key == "_id" {
			return e.Value
		}
	}
	return nil
}

func (t *mongoTx) collection(schema storage.Schema) *mongo.Collection {
	return t.store.db.Collection(schema.Collection())
}

func (t *mongoTx) filter(schema storage.Schema, where []storage.Predicate) (bson.D, error) {
	f, err := document.Filter(schema, where)
	if err != nil {
		return nil, err
	}
	if ce := t.store.opts.Logger.Check(zap.DebugLevel, "filter"); ce != nil {
		b, _ := bson.MarshalExtJSON(f, false, false)
		ce.Write(zap.String("collection", schema.Collection()), zap.ByteString("filter", b))
	}
	return f, nil
}

func (t *mongoTx) Insert(ctx context.Context, schema storage.Schema, records ...storage.Record) error {
	if len(records) == 0 {
		return nil
	}
	coll := t.collection(schema)
	docs := make([]any, 0, len(records))
	ids := make(bson.A, 0, len(records))
	for _, rec := range records {
		doc := document.Encode(schema, rec)
		if t.journal {
			id := primitive.NewObjectID()
			ids = append(ids, id)
			doc = append(bson.D{{Key: "_id", Value: id}}, doc...)
		}
		docs = append(docs, doc)
	}
	t.record(func(ctx context.Context) error {
		_, err := coll.DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
		return err
	})
	if _, err := coll.InsertMany(ctx, docs); err != nil {
		return errors.Wrapf(duplicate(schema, classify(err)), "insert into %s", schema.Collection())
	}
	return nil
}

func (t *mongoTx) Update(ctx context.Context, schema storage.Schema, where []storage.Predicate, set storage.Record) (int64, error) {
	f, err := t.filter(schema, where)
	if err != nil {
		return 0, err
	}
	coll := t.collection(schema)
	if t.journal {
		before, err := snapshot(ctx, coll, f)
		if err != nil {
			return 0, err
		}
		t.record(func(ctx context.Context) error {
			for _, doc := range before {
				if _, err := coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: idOf(doc)}}, doc); err != nil {
					return err
				}
			}
			return nil
		})
	}
	res, err := coll.UpdateMany(ctx, f, bson.D{{Key: "$set", Value: document.Encode(schema, set)}})
	if err != nil {
		return 0, errors.Wrapf(duplicate(schema, classify(err)), "update %s", schema.Collection())
	}
	return res.MatchedCount, nil
}

func (t *mongoTx) Delete(ctx context.Context, schema storage.Schema, where []storage.Predicate) (int64, error) {
	f, err := t.filter(schema, where)
	if err != nil {
		return 0, err
	}
	coll := t.collection(schema)
	if t.journal {
		before, err := snapshot(ctx, coll, f)
		if err != nil {
			return 0, err
		}
		if len(before) > 0 {
			t.record(func(ctx context.Context) error {
				_, err := coll.InsertMany(ctx, before)
				return err
			})
		}
	}
	res, err := coll.DeleteMany(ctx, f)
	if err != nil {
		return 0, errors.Wrapf(classify(err), "delete from %s", schema.Collection())
	}
	return res.DeletedCount, nil
}

func (t *mongoTx) Count(ctx context.Context, schema storage.Schema, where []storage.Predicate) (int64, error) {
	f, err := t.filter(schema, where)
	if err != nil {
		return 0, err
	}
	n, err := t.collection(schema).CountDocuments(ctx, f)
	if err != nil {
		return 0, errors.Wrapf(classify(err), "count %s", schema.Collection())
	}
	return n, nil
}

func (t *mongoTx) Find(ctx context.Context, schema storage.Schema, q storage.Query) ([]storage.Record, error) {
	f, err := t.filter(schema, q.Where)
	if err != nil {
		return nil, err
	}
	fo := options.Find().SetProjection(bson.D{{Key: "_id", Value: 0}})
	if sort := document.Sort(q.Order); sort != nil {
		fo.SetSort(sort)
	}
	if q.Offset > 0 {
		fo.SetSkip(int64(q.Offset))
	}
	if q.Limit > 0 {
		fo.SetLimit(int64(q.Limit))
	}

	cur, err := t.collection(schema).Find(ctx, f, fo)
	if err != nil {
		return nil, errors.Wrapf(classify(err), "find in %s", schema.Collection())
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrapf(classify(err), "read %s", schema.Collection())
	}

	cols := schema.Columns()
	out := make([]storage.Record, 0, len(docs))
	for _, doc := range docs {
		rec := make(storage.Record, len(cols))
		for _, c := range cols {
			v, ok := doc[c.Name]
			if !ok {
				rec[c.Name] = c.Default
				continue
			}
			rec[c.Name] = document.Decode(c, v)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (t *mongoTx) Increment(ctx context.Context, category, name string) (int64, error) {
	coll := t.store.db.Collection(storage.CountersCollection)
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc struct {
		Value int64 `bson:"value"`
	}
	err := coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "category", Value: category}, {Key: "name", Value: name}},
		bson.D{
			{Key: "$inc", Value: bson.D{{Key: "value", Value: int64(1)}}},
			{Key: "$set", Value: bson.D{{Key: "updated_at", Value: t.store.opts.Now().UTC()}}},
		},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, errors.Wrapf(classify(err), "increment counter %s/%s", category, name)
	}
	return doc.Value, nil
}

func (t *mongoTx) ResetCounters(ctx context.Context, category string) error {
	coll := t.store.db.Collection(storage.CountersCollection)
	f := bson.D{{Key: "category", Value: category}}
	if t.journal {
		before, err := snapshot(ctx, coll, f)
		if err != nil {
			return err
		}
		if len(before) > 0 {
			t.record(func(ctx context.Context) error {
				if _, err := coll.DeleteMany(ctx, f); err != nil {
					return err
				}
				_, err := coll.InsertMany(ctx, before)
				return err
			})
		}
	}
	if _, err := coll.DeleteMany(ctx, f); err != nil {
		return errors.Wrapf(classify(err), "reset counters %s", category)
	}
	return nil
}

func (t *mongoTx) RaiseCounter(ctx context.Context, category, name string, value int64) error {
	_, err := t.store.db.Collection(storage.CountersCollection).UpdateOne(ctx,
		bson.D{{Key: "category", Value: category}, {Key: "name", Value: name}},
		bson.D{
			{Key: "$max", Value: bson.D{{Key: "value", Value: value}}},
			{Key: "$set", Value: bson.D{{Key: "updated_at", Value: t.store.opts.Now().UTC()}}},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errors.Wrapf(classify(err), "raise counter %s/%s", category, name)
	}
	return nil
}

func (t *mongoTx) NextRevision(ctx context.Context) (int64, error) {
	return t.Increment(ctx, storage.RevisionCategory, storage.RevisionCounter)
}
