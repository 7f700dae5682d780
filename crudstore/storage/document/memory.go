package document

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ministore/crudstore/crudstore/storage"
)

// Memory is an embedded document store. Queries go through Filter and
// Match, so it behaves like the Mongo store without a server.
type Memory struct {
	mu          sync.Mutex
	collections map[string][]storage.Record
	counters    map[string]map[string]int64
	logger      *zap.Logger
	now         func() time.Time
	closed      bool
}

func NewMemory(logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		collections: make(map[string][]storage.Record),
		counters:    make(map[string]map[string]int64),
		logger:      logger,
		now:         time.Now,
	}
}

func (m *Memory) Backend() storage.Backend { return storage.BackendMemory }

func (m *Memory) Capabilities() storage.Capabilities {
	return storage.Capabilities{Regex: true, Transactions: true}
}

// Register creates the collection. Uniqueness is checked on every write, so
// there are no indexes to maintain.
func (m *Memory) Register(ctx context.Context, schema storage.Schema, opts storage.RegisterOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return storage.Unreachable(errors.New("memory store closed"))
	}
	name := schema.Collection()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = nil
	}
	return nil
}

// Atomic serializes fn against every other call and restores the previous
// state when fn fails.
func (m *Memory) Atomic(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return storage.Unreachable(errors.New("memory store closed"))
	}

	collections, counters := m.snapshot()
	if err := fn(ctx, &memoryTx{m: m}); err != nil {
		m.collections, m.counters = collections, counters
		return err
	}
	return nil
}

func (m *Memory) snapshot() (map[string][]storage.Record, map[string]map[string]int64) {
	collections := make(map[string][]storage.Record, len(m.collections))
	for name, docs := range m.collections {
		collections[name] = append([]storage.Record(nil), docs...)
	}
	counters := make(map[string]map[string]int64, len(m.counters))
	for cat, values := range m.counters {
		cp := make(map[string]int64, len(values))
		for k, v := range values {
			cp[k] = v
		}
		counters[cat] = cp
	}
	return collections, counters
}

func (m *Memory) Health(ctx context.Context) storage.Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := storage.Health{Backend: storage.BackendMemory, Version: "1", Time: m.now().UTC(), Status: storage.HealthPass}
	if m.closed {
		h.Status = storage.HealthFail
		h.Output = "memory store closed"
	}
	return h
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type memoryTx struct {
	m *Memory
}

func clone(rec storage.Record) storage.Record {
	out := make(storage.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func (t *memoryTx) Insert(ctx context.Context, schema storage.Schema, records ...storage.Record) error {
	name := schema.Collection()
	docs := t.m.collections[name]
	for _, rec := range records {
		doc := make(storage.Record, len(rec))
		for _, kv := range Encode(schema, rec) {
			doc[kv.Key] = kv.Value
		}
		if err := checkUnique(schema, docs, doc, -1); err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	t.m.collections[name] = docs
	t.m.logger.Debug("insert", zap.String("collection", name), zap.Int("count", len(records)))
	return nil
}

// checkUnique enforces the primary key and unique indexes. skip is the
// position of the document being replaced, or -1. Unique indexes admit any
// number of nulls.
func checkUnique(schema storage.Schema, docs []storage.Record, doc storage.Record, skip int) error {
	var (
		keys   []string
		unique []string
	)
	for _, c := range schema.Columns() {
		switch {
		case c.PrimaryKey:
			keys = append(keys, c.Name)
		case c.Index == storage.IndexUnique && doc[c.Name] != nil:
			unique = append(unique, c.Name)
		}
	}
	var groups [][]string
	if len(keys) > 0 {
		groups = append(groups, keys)
	}
	for _, name := range unique {
		groups = append(groups, []string{name})
	}
	for _, group := range groups {
		for i, other := range docs {
			if i == skip {
				continue
			}
			same := true
			for _, k := range group {
				if !equal(doc[k], other[k]) {
					same = false
					break
				}
			}
			if same {
				err := errors.Newf("duplicate key on %s(%s)", schema.Collection(), strings.Join(group, ", "))
				return storage.Duplicate(err, schema.Collection(), group...)
			}
		}
	}
	return nil
}

func (t *memoryTx) matching(schema storage.Schema, where []storage.Predicate) ([]int, error) {
	filter, err := Filter(schema, where)
	if err != nil {
		return nil, err
	}
	t.m.logger.Debug("filter", zap.String("collection", schema.Collection()), zap.String("filter", describe(filter)))
	var out []int
	for i, doc := range t.m.collections[schema.Collection()] {
		ok, err := Match(doc, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, i)
		}
	}
	return out, nil
}

func (t *memoryTx) Update(ctx context.Context, schema storage.Schema, where []storage.Predicate, set storage.Record) (int64, error) {
	idx, err := t.matching(schema, where)
	if err != nil {
		return 0, err
	}
	docs := t.m.collections[schema.Collection()]
	for _, i := range idx {
		doc := clone(docs[i])
		for k, v := range set {
			doc[k] = v
		}
		if err := checkUnique(schema, docs, doc, i); err != nil {
			return 0, err
		}
		docs[i] = doc
	}
	return int64(len(idx)), nil
}

func (t *memoryTx) Delete(ctx context.Context, schema storage.Schema, where []storage.Predicate) (int64, error) {
	idx, err := t.matching(schema, where)
	if err != nil {
		return 0, err
	}
	if len(idx) == 0 {
		return 0, nil
	}
	name := schema.Collection()
	remove := make(map[int]bool, len(idx))
	for _, i := range idx {
		remove[i] = true
	}
	kept := make([]storage.Record, 0, len(t.m.collections[name])-len(idx))
	for i, doc := range t.m.collections[name] {
		if !remove[i] {
			kept = append(kept, doc)
		}
	}
	t.m.collections[name] = kept
	return int64(len(idx)), nil
}

func (t *memoryTx) Count(ctx context.Context, schema storage.Schema, where []storage.Predicate) (int64, error) {
	idx, err := t.matching(schema, where)
	return int64(len(idx)), err
}

func (t *memoryTx) Find(ctx context.Context, schema storage.Schema, q storage.Query) ([]storage.Record, error) {
	idx, err := t.matching(schema, q.Where)
	if err != nil {
		return nil, err
	}
	docs := t.m.collections[schema.Collection()]
	cols := schema.Columns()
	out := make([]storage.Record, 0, len(idx))
	for _, i := range idx {
		rec := make(storage.Record, len(cols))
		for _, c := range cols {
			v, ok := docs[i][c.Name]
			if !ok {
				v = c.Default
			}
			rec[c.Name] = v
		}
		out = append(out, rec)
	}

	if len(q.Order) > 0 {
		sort.SliceStable(out, func(a, b int) bool {
			for _, o := range q.Order {
				cmp := orderCompare(out[a][o.Field], out[b][o.Field])
				if cmp == 0 {
					continue
				}
				if o.Desc {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

// orderCompare sorts nil first, then values of the same kind.
func orderCompare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if cmp, ok := compare(a, b); ok {
		return cmp
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func (t *memoryTx) Increment(ctx context.Context, category, name string) (int64, error) {
	values, ok := t.m.counters[category]
	if !ok {
		values = make(map[string]int64)
		t.m.counters[category] = values
	}
	values[name]++
	return values[name], nil
}

func (t *memoryTx) ResetCounters(ctx context.Context, category string) error {
	delete(t.m.counters, category)
	return nil
}

func (t *memoryTx) RaiseCounter(ctx context.Context, category, name string, value int64) error {
	values, ok := t.m.counters[category]
	if !ok {
		values = make(map[string]int64)
		t.m.counters[category] = values
	}
	if value > values[name] {
		values[name] = value
	}
	return nil
}

func (t *memoryTx) NextRevision(ctx context.Context) (int64, error) {
	return t.Increment(ctx, storage.RevisionCategory, storage.RevisionCounter)
}
