package crudstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ministore/crudstore/crudstore/storage"
)

// Operation names used in logs and metrics.
const (
	OpGet      = "get"
	OpGetOne   = "get_one"
	OpGetLast  = "get_last"
	OpPost     = "post"
	OpPostMany = "post_many"
	OpPut      = "put"
	OpPutMany  = "put_many"
	OpDelete   = "delete"
	OpAudit    = "audit"
	OpHistory  = "history"
	OpRollback = "rollback"
)

const (
	msgNoData   = "No data provided."
	msgExists   = "This document already exists."
	msgNotFound = "Corresponding record could not be found."
	msgNotAnInt = "Not a valid int."
)

type Options struct {
	Logger  *zap.Logger
	Metrics *Metrics

	// Audit records every write in an audit collection.
	Audit bool
	// History keeps every version of a record and enables GetHistory and
	// RollbackTo.
	History bool

	SkipUnknownFields bool
	// SkipUpdateIndexes registers the model without creating, rebuilding or
	// dropping indexes.
	SkipUpdateIndexes bool

	// Actor is recorded in audit rows when the context carries none.
	Actor string
	Now   func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Logger: zap.NewNop(),
		Now:    time.Now,
	}
}

// Controller runs CRUD operations for one schema against one store. Every
// operation is a single Store.Atomic call.
type Controller struct {
	schema  *Schema
	table   *Schema
	stored  storage.Schema
	store   storage.Store
	audit   *auditor
	opts    Options
	logger  *zap.Logger
	autoInc []string
}

// NewController binds schema to store, creating the collections it needs.
func NewController(ctx context.Context, store storage.Store, schema *Schema, opts Options) (*Controller, error) {
	if schema == nil {
		return nil, ModelNotLoadedError("")
	}
	if store == nil {
		return nil, ModelNotLoadedError(schema.Name())
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if isReservedCollection(schema.Name()) {
		return nil, SchemaError(fmt.Sprintf("collection name %s is reserved", schema.Name()))
	}
	if schema.hasWildcards() && !store.Capabilities().Regex {
		return nil, New(ErrFeature, fmt.Sprintf("%s backend cannot evaluate wildcard filters of %s", store.Backend(), schema.Name()))
	}

	c := &Controller{
		schema: schema,
		table:  schema,
		store:  store,
		opts:   opts,
		logger: opts.Logger.With(zap.String("collection", schema.Name())),
	}
	for _, f := range schema.fields {
		if f.AutoIncrement {
			c.autoInc = append(c.autoInc, f.Name)
		}
	}

	var err error
	if opts.History {
		if c.table, err = versionedSchema(schema); err != nil {
			return nil, err
		}
	}
	c.stored = c.table.AsStorageSchema()
	ro := storage.RegisterOptions{SkipIndexes: opts.SkipUpdateIndexes}
	if err := store.Register(ctx, c.stored, ro); err != nil {
		return nil, storageError("register "+schema.Name(), err)
	}
	if opts.Audit {
		if c.audit, err = newAuditor(schema, opts.History, opts.Actor, opts.Now); err != nil {
			return nil, err
		}
		if err := store.Register(ctx, c.audit.storage, ro); err != nil {
			return nil, storageError("register "+c.audit.schema.Name(), err)
		}
	}
	if !store.Capabilities().Transactions {
		c.logger.Warn("backend writes are not isolated: failed operations are compensated and readers may observe them in flight",
			zap.String("backend", string(store.Backend())))
	}
	c.logger.Info("model registered",
		zap.String("backend", string(store.Backend())),
		zap.Bool("audit", opts.Audit),
		zap.Bool("history", opts.History))
	return c, nil
}

func (c *Controller) Schema() *Schema { return c.schema }

func (c *Controller) Store() storage.Store { return c.store }

func (c *Controller) versioned() bool { return c.opts.History }

func (c *Controller) filterOptions() FilterOptions {
	return FilterOptions{SkipUnknownFields: c.opts.SkipUnknownFields}
}

func (c *Controller) validateOptions() ValidateOptions {
	return ValidateOptions{SkipUnknownFields: c.opts.SkipUnknownFields}
}

// track logs and measures an operation. err points at the named result.
func (c *Controller) track(op string, start time.Time, err *error) {
	c.opts.Metrics.observe(c.schema.name, op, start, *err)
	if *err != nil {
		c.logger.Warn("operation failed", zap.String("operation", op), zap.Error(*err))
		return
	}
	c.logger.Debug("operation done", zap.String("operation", op), zap.Duration("took", time.Since(start)))
}

func (c *Controller) atomic(ctx context.Context, op string, fn func(ctx context.Context, tx storage.Tx) error) error {
	err := c.store.Atomic(ctx, fn)
	if dup := c.duplicateError(err); dup != nil {
		return dup
	}
	return storageError(op+" "+c.schema.name, err)
}

// duplicateError reports a key or unique index violation on the model's
// collection as a validation failure on the violated fields, or on the
// primary key when the backend did not name them.
func (c *Controller) duplicateError(err error) error {
	var dup *storage.DuplicateError
	if !errors.As(err, &dup) || dup.Collection != c.stored.Collection() {
		return nil
	}
	var fields []string
	for _, col := range dup.Columns {
		if _, ok := c.schema.Field(col); ok {
			fields = append(fields, col)
		}
	}
	if len(fields) == 0 {
		fields = c.schema.PrimaryKeys()
	}
	e := &Error{Kind: ErrValidation, Message: msgExists, Fields: make(map[string][]string, len(fields)), Cause: err}
	for _, f := range fields {
		e.Fields[f] = []string{msgExists}
	}
	if len(fields) > 0 {
		e.Field = fields[0]
	}
	return e
}

func (c *Controller) find(ctx context.Context, tx storage.Tx, q Query) ([]Record, error) {
	if !c.versioned() {
		return tx.Find(ctx, c.stored, q)
	}
	q.Where = withCurrent(q.Where)
	recs, err := tx.Find(ctx, c.stored, q)
	if err != nil {
		return nil, err
	}
	for i, rec := range recs {
		recs[i] = stripVersion(rec)
	}
	return recs, nil
}

// Get returns every record matching filter. Reserved keys order_by, limit
// and offset shape the result.
func (c *Controller) Get(ctx context.Context, filter map[string]any) (out []Record, err error) {
	defer c.track(OpGet, time.Now(), &err)
	q, err := c.schema.ParseQuery(filter, c.filterOptions())
	if err != nil {
		return nil, err
	}
	err = c.atomic(ctx, OpGet, func(ctx context.Context, tx storage.Tx) (err error) {
		out, err = c.find(ctx, tx, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

// GetOne returns the single record matching filter, nil when none matches
// and an ambiguous_result error when several do.
func (c *Controller) GetOne(ctx context.Context, filter map[string]any) (out Record, err error) {
	defer c.track(OpGetOne, time.Now(), &err)
	q, err := c.schema.ParseQuery(filter, c.filterOptions())
	if err != nil {
		return nil, err
	}
	err = c.atomic(ctx, OpGetOne, func(ctx context.Context, tx storage.Tx) error {
		recs, err := c.find(ctx, tx, q)
		if err != nil {
			return err
		}
		out, err = single(recs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func single(recs []Record) (Record, error) {
	switch len(recs) {
	case 0:
		return nil, nil
	case 1:
		return recs[0], nil
	}
	return nil, AmbiguousError(int64(len(recs)))
}

// GetLast returns the current version matching filter or, when there is
// none, the most recently created expired one. Without history it is GetOne.
func (c *Controller) GetLast(ctx context.Context, filter map[string]any) (out Record, err error) {
	if !c.versioned() {
		return c.GetOne(ctx, filter)
	}
	defer c.track(OpGetLast, time.Now(), &err)
	q, err := c.schema.ParseQuery(filter, c.filterOptions())
	if err != nil {
		return nil, err
	}
	err = c.atomic(ctx, OpGetLast, func(ctx context.Context, tx storage.Tx) error {
		recs, err := c.find(ctx, tx, q)
		if err != nil {
			return err
		}
		if len(recs) > 0 {
			out, err = single(recs)
			return err
		}
		expired, err := tx.Find(ctx, c.stored, Query{
			Where: q.Where,
			Order: []storage.Order{{Field: ValidSinceRevision, Desc: true}},
			Limit: 1,
		})
		if err != nil || len(expired) == 0 {
			return err
		}
		out = stripVersion(expired[0])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Post validates and inserts one record and returns it as stored.
func (c *Controller) Post(ctx context.Context, raw map[string]any) (out Record, err error) {
	defer c.track(OpPost, time.Now(), &err)
	if len(raw) == 0 {
		return nil, New(ErrValidation, msgNoData)
	}
	recs, err := c.insert(ctx, OpPost, []map[string]any{raw}, false)
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

// PostMany validates every record before inserting any of them. The batch
// is written in a single commit.
func (c *Controller) PostMany(ctx context.Context, raws []map[string]any) (out []Record, err error) {
	defer c.track(OpPostMany, time.Now(), &err)
	return c.insert(ctx, OpPostMany, raws, true)
}

func (c *Controller) insert(ctx context.Context, op string, raws []map[string]any, batch bool) ([]Record, error) {
	recs, err := c.validateAll(raws, ModeInsert, batch)
	if err != nil {
		return nil, err
	}
	err = c.atomic(ctx, op, func(ctx context.Context, tx storage.Tx) error {
		if err := c.fillAutoIncrement(ctx, tx, recs); err != nil {
			return err
		}
		if err := c.checkDuplicates(ctx, tx, recs, batch); err != nil {
			return err
		}
		rows := recs
		var rev int64
		if c.versioned() {
			if rev, err = tx.NextRevision(ctx); err != nil {
				return err
			}
			rows = make([]Record, len(recs))
			for i, rec := range recs {
				rows[i] = withVersion(rec, rev, stillValid)
			}
		}
		if err := tx.Insert(ctx, c.stored, rows...); err != nil {
			return err
		}
		return c.audit.record(ctx, tx, ActionInsert, rev, recs...)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("inserted", zap.Int("count", len(recs)))
	return recs, nil
}

// validateAll validates raws and merges every violation into one error.
// Batch errors are keyed "<index>.<field>".
func (c *Controller) validateAll(raws []map[string]any, mode Mode, batch bool) ([]Record, error) {
	if len(raws) == 0 {
		return nil, New(ErrValidation, msgNoData)
	}
	out := make([]Record, len(raws))
	rep := report{}
	var unknown []string
	for i, raw := range raws {
		rec, err := c.schema.Validate(raw, mode, c.validateOptions())
		if err == nil {
			out[i] = rec
			continue
		}
		fields := FieldErrors(err)
		if fields == nil {
			return nil, err
		}
		for name, msgs := range fields {
			key := fieldKey(i, name, batch)
			rep[key] = append(rep[key], msgs...)
			if IsKind(err, ErrUnknownField) {
				unknown = append(unknown, key)
			}
		}
	}
	if err := rep.err(unknown); err != nil {
		return nil, err
	}
	return out, nil
}

func fieldKey(i int, field string, batch bool) string {
	if !batch {
		return field
	}
	return fmt.Sprintf("%d.%s", i, field)
}

func (c *Controller) fillAutoIncrement(ctx context.Context, tx storage.Tx, recs []Record) error {
	for _, name := range c.autoInc {
		for _, rec := range recs {
			if rec[name] != nil {
				continue
			}
			v, err := tx.Increment(ctx, c.schema.name, name)
			if err != nil {
				return err
			}
			rec[name] = v
		}
	}
	return nil
}

func (c *Controller) keyWhere(rec Record) []Predicate {
	keys := c.schema.PrimaryKeys()
	where := make([]Predicate, 0, len(keys)+1)
	for _, k := range keys {
		where = append(where, storage.Eq(k, rec[k]))
	}
	if c.versioned() {
		where = append(where, current())
	}
	return where
}

func (c *Controller) keyError(i int, msg string, batch bool) error {
	rep := report{}
	for _, k := range c.schema.PrimaryKeys() {
		rep.add(fieldKey(i, k, batch), msg)
	}
	e := rep.err(nil).(*Error)
	e.Message = msg
	return e
}

// checkDuplicates rejects records whose primary key is already stored or
// repeated within the batch.
func (c *Controller) checkDuplicates(ctx context.Context, tx storage.Tx, recs []Record, batch bool) error {
	keys := c.schema.PrimaryKeys()
	if len(keys) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(recs))
	for i, rec := range recs {
		parts := make([]string, len(keys))
		for j, k := range keys {
			parts[j] = fmt.Sprintf("%T:%v", rec[k], rec[k])
		}
		id := strings.Join(parts, "\x00")
		if seen[id] {
			return c.keyError(i, msgExists, batch)
		}
		seen[id] = true

		n, err := tx.Count(ctx, c.stored, c.keyWhere(rec))
		if err != nil {
			return err
		}
		if n > 0 {
			return c.keyError(i, msgExists, batch)
		}
	}
	return nil
}

// Put updates the record identified by the primary key in raw and returns
// its previous and new state.
func (c *Controller) Put(ctx context.Context, raw map[string]any) (old, updated Record, err error) {
	defer c.track(OpPut, time.Now(), &err)
	if len(raw) == 0 {
		return nil, nil, New(ErrValidation, msgNoData)
	}
	olds, news, err := c.update(ctx, OpPut, []map[string]any{raw}, false)
	if err != nil {
		return nil, nil, err
	}
	return olds[0], news[0], nil
}

// PutMany updates several records in one commit. Every target must exist.
func (c *Controller) PutMany(ctx context.Context, raws []map[string]any) (olds, news []Record, err error) {
	defer c.track(OpPutMany, time.Now(), &err)
	return c.update(ctx, OpPutMany, raws, true)
}

func (c *Controller) update(ctx context.Context, op string, raws []map[string]any, batch bool) (olds, news []Record, err error) {
	if len(c.schema.PrimaryKeys()) == 0 {
		return nil, nil, SchemaError(fmt.Sprintf("model %s has no primary key to update by", c.schema.name))
	}
	recs, err := c.validateAll(raws, ModeUpdate, batch)
	if err != nil {
		return nil, nil, err
	}
	err = c.atomic(ctx, op, func(ctx context.Context, tx storage.Tx) error {
		var rev int64
		if c.versioned() {
			if rev, err = tx.NextRevision(ctx); err != nil {
				return err
			}
		}
		olds, news = make([]Record, 0, len(recs)), make([]Record, 0, len(recs))
		for i, rec := range recs {
			where := c.keyWhere(rec)
			found, err := tx.Find(ctx, c.stored, Query{Where: where})
			if err != nil {
				return err
			}
			if len(found) == 0 {
				return c.keyError(i, msgNotFound, batch)
			}
			old := stripVersion(found[0])
			set := make(Record, len(rec))
			for k, v := range rec {
				if f, _ := c.schema.Field(k); !f.PrimaryKey {
					set[k] = v
				}
			}
			updated := make(Record, len(old))
			for k, v := range old {
				updated[k] = v
			}
			for k, v := range set {
				updated[k] = v
			}

			switch {
			case c.versioned():
				if _, err := tx.Update(ctx, c.stored, where, Record{ValidUntilRevision: rev}); err != nil {
					return err
				}
				if err := tx.Insert(ctx, c.stored, withVersion(updated, rev, stillValid)); err != nil {
					return err
				}
			case len(set) > 0:
				if _, err := tx.Update(ctx, c.stored, where, set); err != nil {
					return err
				}
			}
			olds = append(olds, old)
			news = append(news, updated)
		}
		return c.audit.record(ctx, tx, ActionUpdate, rev, news...)
	})
	if err != nil {
		return nil, nil, err
	}
	return olds, news, nil
}

// Delete removes every record matching filter and returns how many were
// removed. An empty filter removes everything and resets auto increment
// counters. With history, records are expired instead of removed.
func (c *Controller) Delete(ctx context.Context, filter map[string]any) (n int64, err error) {
	defer c.track(OpDelete, time.Now(), &err)
	where, err := c.schema.CompileFilter(filter, c.filterOptions())
	if err != nil {
		return 0, err
	}
	err = c.atomic(ctx, OpDelete, func(ctx context.Context, tx storage.Tx) (err error) {
		if c.versioned() {
			current, err := tx.Count(ctx, c.stored, withCurrent(where))
			if err != nil {
				return err
			}
			if current > 0 {
				rev, err := tx.NextRevision(ctx)
				if err != nil {
					return err
				}
				if n, err = tx.Update(ctx, c.stored, withCurrent(where), Record{ValidUntilRevision: rev}); err != nil {
					return err
				}
				if err := c.audit.record(ctx, tx, ActionDelete, rev); err != nil {
					return err
				}
			}
		} else {
			if c.audit != nil {
				removed, err := tx.Find(ctx, c.stored, Query{Where: where})
				if err != nil {
					return err
				}
				if err := c.audit.record(ctx, tx, ActionDelete, 0, removed...); err != nil {
					return err
				}
			}
			if n, err = tx.Delete(ctx, c.stored, where); err != nil {
				return err
			}
		}
		if len(where) == 0 && len(c.autoInc) > 0 {
			return tx.ResetCounters(ctx, c.schema.name)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.logger.Info("deleted", zap.Int64("count", n), zap.Int("predicates", len(where)))
	return n, nil
}

// GetAudit queries the audit collection of the model.
func (c *Controller) GetAudit(ctx context.Context, filter map[string]any) (out []Record, err error) {
	defer c.track(OpAudit, time.Now(), &err)
	if c.audit == nil {
		return nil, c.featureMissing("audit")
	}
	q, err := c.audit.schema.ParseQuery(filter, c.filterOptions())
	if err != nil {
		return nil, err
	}
	if c.audit.versioned {
		q.Where = append(q.Where, storage.Eq(AuditTable, c.schema.name))
	}
	err = c.atomic(ctx, OpAudit, func(ctx context.Context, tx storage.Tx) (err error) {
		out, err = tx.Find(ctx, c.audit.storage, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

// GetHistory returns every version matching filter, version columns
// included.
func (c *Controller) GetHistory(ctx context.Context, filter map[string]any) (out []Record, err error) {
	defer c.track(OpHistory, time.Now(), &err)
	if !c.versioned() {
		return nil, c.featureMissing("history")
	}
	q, err := c.table.ParseQuery(filter, c.filterOptions())
	if err != nil {
		return nil, err
	}
	err = c.atomic(ctx, OpHistory, func(ctx context.Context, tx storage.Tx) (err error) {
		out, err = tx.Find(ctx, c.stored, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

// RollbackTo restores the records matching filter to the state they had at
// filter["revision"]. Records created since are expired. It returns the
// number of records affected.
func (c *Controller) RollbackTo(ctx context.Context, filter map[string]any) (n int64, err error) {
	defer c.track(OpRollback, time.Now(), &err)
	if !c.versioned() {
		return 0, c.featureMissing("history")
	}
	raw, ok := filter[KeyRevision]
	if !ok || raw == nil {
		return 0, &Error{Kind: ErrValidation, Message: "validation failed", Fields: map[string][]string{KeyRevision: {msgMissing}}}
	}
	revision, msg := parseCount(raw)
	if msg != "" {
		return 0, &Error{Kind: ErrValidation, Message: "validation failed", Fields: map[string][]string{KeyRevision: {msgNotAnInt}}}
	}
	rest := make(map[string]any, len(filter))
	for k, v := range filter {
		if k != KeyRevision {
			rest[k] = v
		}
	}
	where, err := c.schema.CompileFilter(rest, c.filterOptions())
	if err != nil {
		return 0, err
	}
	rev := int64(revision)

	err = c.atomic(ctx, OpRollback, func(ctx context.Context, tx storage.Tx) error {
		validThen := append(append([]Predicate(nil), where...),
			Predicate{Field: ValidSinceRevision, Op: storage.OpLte, Value: rev},
			Predicate{Field: ValidUntilRevision, Op: storage.OpGt, Value: rev},
		)
		expired, err := tx.Find(ctx, c.stored, Query{Where: validThen})
		if err != nil {
			return err
		}
		next, err := tx.NextRevision(ctx)
		if err != nil {
			return err
		}
		expire := Record{ValidUntilRevision: next}

		for _, rec := range expired {
			if _, err := tx.Update(ctx, c.stored, c.keyWhere(rec), expire); err != nil {
				return err
			}
		}
		createdSince := append(append([]Predicate(nil), where...),
			Predicate{Field: ValidSinceRevision, Op: storage.OpGt, Value: rev},
			current(),
		)
		removed, err := tx.Update(ctx, c.stored, createdSince, expire)
		if err != nil {
			return err
		}

		if len(expired) > 0 {
			restored := make([]Record, len(expired))
			for i, rec := range expired {
				restored[i] = withVersion(stripVersion(rec), next, stillValid)
			}
			if err := tx.Insert(ctx, c.stored, restored...); err != nil {
				return err
			}
		}
		n = int64(len(expired)) + removed
		return c.audit.record(ctx, tx, ActionRollback, next)
	})
	if err != nil {
		return 0, err
	}
	c.logger.Info("rolled back", zap.Int64("revision", rev), zap.Int64("count", n))
	return n, nil
}

func (c *Controller) featureMissing(what string) error {
	return New(ErrFeature, fmt.Sprintf("%s is not enabled for %s", what, c.schema.name))
}

// FieldNames returns the field names in declaration order.
func (c *Controller) FieldNames() []string { return c.schema.FieldNames() }

func (c *Controller) Describe() Description {
	d := c.schema.Describe()
	if c.audit != nil {
		d.AuditCollection = c.audit.schema.Name()
	}
	return d
}

// GetURL returns endpoint with one pk=value query pair per primary key of
// every record.
func (c *Controller) GetURL(endpoint string, recs ...Record) string {
	var pairs []string
	for _, rec := range recs {
		for _, k := range c.schema.PrimaryKeys() {
			pairs = append(pairs, fmt.Sprintf("%s=%v", k, rec[k]))
		}
	}
	if len(pairs) == 0 {
		return endpoint
	}
	return endpoint + "?" + strings.Join(pairs, "&")
}

func (c *Controller) Health(ctx context.Context) storage.Health {
	return c.store.Health(ctx)
}
