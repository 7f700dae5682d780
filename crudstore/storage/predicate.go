package storage

import (
	"fmt"
	"regexp"
	"strings"
)

type Op string

const (
	OpEq    Op = "eq"
	OpIn    Op = "in"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
	OpRegex Op = "regex"
)

// Predicate is one (field, op, value) triple. Value is a []any for OpIn and
// a Pattern for OpRegex.
type Predicate struct {
	Field string
	Op    Op
	Value any
}

func (p Predicate) String() string {
	return fmt.Sprintf("(%s %s %v)", p.Field, p.Op, p.Value)
}

// Eq builds an equality predicate.
func Eq(field string, v any) Predicate { return Predicate{Field: field, Op: OpEq, Value: v} }

// Pattern is a filter value where '*' stands for any sequence of characters.
type Pattern string

const wildcard = "*"

// HasWildcard reports whether s would be interpreted as a pattern.
func HasWildcard(s string) bool { return strings.Contains(s, wildcard) }

// Parts returns the literal segments between wildcards.
func (p Pattern) Parts() []string { return strings.Split(string(p), wildcard) }

// EdgesOnly reports whether every wildcard sits at the start or the end.
func (p Pattern) EdgesOnly() bool {
	return !strings.Contains(strings.Trim(string(p), wildcard), wildcard)
}

// Regexp returns an expression matching the full value.
func (p Pattern) Regexp() string {
	parts := p.Parts()
	quoted := make([]string, len(parts))
	for i, s := range parts {
		quoted[i] = regexp.QuoteMeta(s)
	}
	return "^" + strings.Join(quoted, ".*") + "$"
}

// Compact returns an equivalent expression that drops edge wildcards instead
// of anchoring, falling back to Regexp when a wildcard sits inside the value.
func (p Pattern) Compact() string {
	if !p.EdgesOnly() {
		return p.Regexp()
	}
	s := string(p)
	core := regexp.QuoteMeta(strings.Trim(s, wildcard))
	if !strings.HasPrefix(s, wildcard) {
		core = "^" + core
	}
	if !strings.HasSuffix(s, wildcard) {
		core += "$"
	}
	return core
}
