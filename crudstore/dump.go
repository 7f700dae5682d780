package crudstore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ministore/crudstore/crudstore/storage"
	"github.com/ministore/crudstore/crudstore/storage/document"
)

const (
	OpDump    = "dump"
	OpRestore = "restore"
)

// dumpExt is the extension of dump files. Each line is one document in
// canonical extended JSON.
const dumpExt = ".json"

// collection is one stored collection of a controller.
type collection struct {
	owner  *Controller
	schema storage.Schema
}

// collections lists the stored and audit collections of every registered
// model, each once, in model name order.
func (r *Registry) collections() []collection {
	seen := make(map[string]bool)
	var out []collection
	for _, name := range r.Names() {
		c, err := r.Controller(name)
		if err != nil {
			continue
		}
		schemas := []storage.Schema{c.stored}
		if c.audit != nil {
			schemas = append(schemas, c.audit.storage)
		}
		for _, s := range schemas {
			if seen[s.Collection()] {
				continue
			}
			seen[s.Collection()] = true
			out = append(out, collection{owner: c, schema: s})
		}
	}
	return out
}

// Dump writes every collection of the registered models to dir as
// <collection>.json. Empty collections produce no file.
func (r *Registry) Dump(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create dump directory %s", dir)
	}
	for _, col := range r.collections() {
		var recs []storage.Record
		err := col.owner.atomic(ctx, OpDump, func(ctx context.Context, tx storage.Tx) (err error) {
			recs, err = tx.Find(ctx, col.schema, storage.Query{Order: keyOrder(col.schema)})
			return err
		})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			continue
		}
		if err := writeDump(filepath.Join(dir, col.schema.Collection()+dumpExt), col.schema, recs); err != nil {
			return err
		}
		col.owner.logger.Info("collection dumped", zap.String("target", col.schema.Collection()), zap.Int("count", len(recs)))
	}
	return nil
}

func writeDump(path string, s storage.Schema, recs []storage.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := document.WriteLines(f, s, recs); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

// Restore replaces the content of every registered collection with its
// dump file in dir. Collections without a file, or with an empty one, are
// left as they are. Counters are raised past the restored revisions and auto
// increment values so later writes do not reuse them.
func (r *Registry) Restore(ctx context.Context, dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return errors.Wrapf(err, "open dump directory %s", dir)
	}
	for _, col := range r.collections() {
		recs, err := readDump(filepath.Join(dir, col.schema.Collection()+dumpExt), col.schema)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			continue
		}
		c := col.owner
		err = c.atomic(ctx, OpRestore, func(ctx context.Context, tx storage.Tx) error {
			if _, err := tx.Delete(ctx, col.schema, nil); err != nil {
				return err
			}
			if err := tx.Insert(ctx, col.schema, recs...); err != nil {
				return err
			}
			return c.raiseCounters(ctx, tx, col.schema, recs)
		})
		if err != nil {
			return err
		}
		c.logger.Info("collection restored", zap.String("target", col.schema.Collection()), zap.Int("count", len(recs)))
	}
	return nil
}

func readDump(path string, s storage.Schema) ([]storage.Record, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return document.ReadLines(f, s)
}

func (c *Controller) raiseCounters(ctx context.Context, tx storage.Tx, s storage.Schema, recs []storage.Record) error {
	for _, col := range s.Columns() {
		category, name := "", ""
		stored := s.Collection() == c.stored.Collection()
		switch {
		case stored && c.versioned() && (col.Name == ValidSinceRevision || col.Name == ValidUntilRevision),
			!stored && col.Name == AuditRevision:
			category, name = storage.RevisionCategory, storage.RevisionCounter
		case stored && c.autoIncrement(col.Name):
			category, name = c.schema.name, col.Name
		default:
			continue
		}
		if top, ok := maxInt(recs, col.Name); ok {
			if err := tx.RaiseCounter(ctx, category, name, top); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Controller) autoIncrement(field string) bool {
	for _, name := range c.autoInc {
		if name == field {
			return true
		}
	}
	return false
}

func maxInt(recs []storage.Record, field string) (int64, bool) {
	var (
		top   int64
		found bool
	)
	for _, rec := range recs {
		v, ok := rec[field].(int64)
		if ok && (!found || v > top) {
			top, found = v, true
		}
	}
	return top, found
}

func keyOrder(s storage.Schema) []storage.Order {
	var out []storage.Order
	for _, c := range storage.PrimaryKey(s) {
		out = append(out, storage.Order{Field: c.Name})
	}
	return out
}
