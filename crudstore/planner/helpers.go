package planner

// quoteIdent wraps an identifier in double quotes, which both SQLite and
// Postgres accept. Identifiers are validated by the schema and contain no quotes.
func quoteIdent(ident string) string {
	return `"` + ident + `"`
}

// QuoteIdent is quoteIdent for DDL built outside the compiler.
func QuoteIdent(ident string) string { return quoteIdent(ident) }
