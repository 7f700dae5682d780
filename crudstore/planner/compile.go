package planner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/ministore/crudstore/crudstore/storage"
	"github.com/ministore/crudstore/crudstore/storage/sqlbuilder"
)

// Dialect is what the compiler needs from a relational backend.
type Dialect interface {
	PlaceholderStyle() sqlbuilder.PlaceholderStyle
	// Encode converts a canonical value to a driver argument for column c.
	Encode(c storage.Column, v any) (any, error)
	// UnboundedLimit is emitted before OFFSET when no limit was requested.
	UnboundedLimit() string
}

// Statement is a compiled SQL statement with its arguments.
type Statement struct {
	SQL          string
	Args         []any
	ExplainSteps []string
}

// Compiler translates predicate sets for one table.
type Compiler struct {
	dialect      Dialect
	schema       storage.Schema
	builder      *sqlbuilder.Builder
	explainSteps []string
}

func New(d Dialect, s storage.Schema) *Compiler {
	return &Compiler{dialect: d, schema: s}
}

func (c *Compiler) reset() {
	c.builder = sqlbuilder.New(c.dialect.PlaceholderStyle())
	c.explainSteps = nil
}

func (c *Compiler) statement(sql string) Statement {
	return Statement{SQL: sql, Args: c.builder.Args(), ExplainSteps: c.explainSteps}
}

func (c *Compiler) table() string { return quoteIdent(c.schema.Collection()) }

// Select compiles a find query.
func (c *Compiler) Select(q storage.Query) (Statement, error) {
	c.reset()
	where, err := c.where(q.Where)
	if err != nil {
		return Statement{}, err
	}
	cols := c.schema.Columns()
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = quoteIdent(col.Name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s%s", strings.Join(names, ", "), c.table(), where)
	if len(q.Order) > 0 {
		parts := make([]string, 0, len(q.Order))
		for _, o := range q.Order {
			if _, ok := storage.Lookup(c.schema, o.Field); !ok {
				return Statement{}, errors.Newf("order by unknown column %q", o.Field)
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts = append(parts, quoteIdent(o.Field)+" "+dir)
		}
		sb.WriteString(" ORDER BY " + strings.Join(parts, ", "))
		c.explainSteps = append(c.explainSteps, "order: "+strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		if q.Limit <= 0 {
			sb.WriteString(c.dialect.UnboundedLimit())
		}
		sb.WriteString(" OFFSET " + strconv.Itoa(q.Offset))
	}
	return c.statement(sb.String()), nil
}

// Count compiles a count of the rows matching where.
func (c *Compiler) Count(where []storage.Predicate) (Statement, error) {
	c.reset()
	w, err := c.where(where)
	if err != nil {
		return Statement{}, err
	}
	return c.statement("SELECT COUNT(*) FROM " + c.table() + w), nil
}

// Delete compiles a delete of the rows matching where.
func (c *Compiler) Delete(where []storage.Predicate) (Statement, error) {
	c.reset()
	w, err := c.where(where)
	if err != nil {
		return Statement{}, err
	}
	return c.statement("DELETE FROM " + c.table() + w), nil
}

// Insert compiles a single row insert. Every column is written.
func (c *Compiler) Insert(rec storage.Record) (Statement, error) {
	c.reset()
	cols := c.schema.Columns()
	names := make([]string, len(cols))
	values := make([]string, len(cols))
	for i, col := range cols {
		v, err := c.dialect.Encode(col, rec[col.Name])
		if err != nil {
			return Statement{}, errors.Wrapf(err, "encode %s", col.Name)
		}
		names[i] = quoteIdent(col.Name)
		values[i] = c.builder.Arg(v)
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", c.table(), strings.Join(names, ", "), strings.Join(values, ", "))
	return c.statement(sql), nil
}

// Update compiles an update of the columns present in set on the rows
// matching where.
func (c *Compiler) Update(where []storage.Predicate, set storage.Record) (Statement, error) {
	c.reset()
	var assigns []string
	for _, col := range c.schema.Columns() {
		v, ok := set[col.Name]
		if !ok {
			continue
		}
		enc, err := c.dialect.Encode(col, v)
		if err != nil {
			return Statement{}, errors.Wrapf(err, "encode %s", col.Name)
		}
		assigns = append(assigns, quoteIdent(col.Name)+" = "+c.builder.Arg(enc))
	}
	if len(assigns) == 0 {
		return Statement{}, errors.New("update without columns")
	}
	w, err := c.where(where)
	if err != nil {
		return Statement{}, err
	}
	return c.statement("UPDATE " + c.table() + " SET " + strings.Join(assigns, ", ") + w), nil
}

// where renders the predicates joined with AND. An empty set matches every
// row and renders as an empty string.
func (c *Compiler) where(preds []storage.Predicate) (string, error) {
	if len(preds) == 0 {
		c.explainSteps = append(c.explainSteps, "match all")
		return "", nil
	}
	parts := make([]string, 0, len(preds))
	for _, p := range preds {
		sql, err := c.predicate(p)
		if err != nil {
			return "", err
		}
		c.explainSteps = append(c.explainSteps, p.String())
		parts = append(parts, sql)
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

func (c *Compiler) predicate(p storage.Predicate) (string, error) {
	col, ok := storage.Lookup(c.schema, p.Field)
	if !ok {
		return "", errors.Newf("unknown column %q", p.Field)
	}
	name := quoteIdent(col.Name)

	switch p.Op {
	case storage.OpEq:
		if p.Value == nil {
			return name + " IS NULL", nil
		}
		arg, err := c.arg(col, p.Value)
		if err != nil {
			return "", err
		}
		return name + " = " + arg, nil

	case storage.OpIn:
		values, ok := p.Value.([]any)
		if !ok {
			return "", errors.Newf("in predicate on %s needs a list, got %T", p.Field, p.Value)
		}
		var (
			encoded []any
			hasNull bool
		)
		for _, v := range values {
			if v == nil {
				hasNull = true
				continue
			}
			enc, err := c.dialect.Encode(col, v)
			if err != nil {
				return "", errors.Wrapf(err, "encode %s", col.Name)
			}
			encoded = append(encoded, enc)
		}
		switch {
		case len(encoded) == 0 && hasNull:
			return name + " IS NULL", nil
		case len(encoded) == 0:
			return "1 = 0", nil
		}
		in := name + " IN (" + c.builder.ArgList(encoded) + ")"
		if hasNull {
			return "(" + in + " OR " + name + " IS NULL)", nil
		}
		return in, nil

	case storage.OpGt, storage.OpGte, storage.OpLt, storage.OpLte:
		arg, err := c.arg(col, p.Value)
		if err != nil {
			return "", err
		}
		return name + " " + comparisonOperators[p.Op] + " " + arg, nil

	case storage.OpRegex:
		return "", errors.Wrapf(storage.ErrUnsupported, "pattern match on %s", p.Field)
	}
	return "", errors.Newf("unknown operator %q", p.Op)
}

var comparisonOperators = map[storage.Op]string{
	storage.OpGt:  ">",
	storage.OpGte: ">=",
	storage.OpLt:  "<",
	storage.OpLte: "<=",
}

func (c *Compiler) arg(col storage.Column, v any) (string, error) {
	enc, err := c.dialect.Encode(col, v)
	if err != nil {
		return "", errors.Wrapf(err, "encode %s", col.Name)
	}
	return c.builder.Arg(enc), nil
}
